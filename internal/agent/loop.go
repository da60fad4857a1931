package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ctagard/debug-bridge/internal/config"
	"github.com/ctagard/debug-bridge/internal/launcher"
	"github.com/ctagard/debug-bridge/internal/logging"
)

// Options contains dependencies for creating a loop
type Options struct {
	Config    config.AgentConfig
	Completer Completer
	Client    *Client
	Launcher  *launcher.Launcher

	In     io.Reader
	Out    io.Writer
	Styles *Styles
	Logger zerolog.Logger
}

// Loop is the interactive conversation. It is not safe for concurrent use.
type Loop struct {
	cfg       config.AgentConfig
	completer Completer
	client    *Client
	launcher  *launcher.Launcher

	in     *bufio.Scanner
	out    io.Writer
	styles Styles
	logger zerolog.Logger

	messages []Message
}

// NewLoop creates a loop seeded with the configured system prompt
func NewLoop(opts Options) *Loop {
	styles := DefaultStyles()
	if opts.Styles != nil {
		styles = *opts.Styles
	}

	l := &Loop{
		cfg:       opts.Config,
		completer: opts.Completer,
		client:    opts.Client,
		launcher:  opts.Launcher,
		in:        bufio.NewScanner(opts.In),
		out:       opts.Out,
		styles:    styles,
		logger:    logging.Component(opts.Logger, "agent"),
	}
	if opts.Config.SystemPrompt != "" {
		l.messages = append(l.messages, Message{Role: RoleSystem, Content: opts.Config.SystemPrompt})
	}
	return l
}

// Messages returns a copy of the conversation so far
func (l *Loop) Messages() []Message {
	return append([]Message(nil), l.messages...)
}

// Run reads user turns until "exit", end of input, or ctx is done
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		input, ok := l.readLine(l.styles.Prompt.Render("You:") + " ")
		if !ok {
			return l.in.Err()
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if strings.EqualFold(input, "exit") {
			fmt.Fprintln(l.out, l.styles.Notice.Render("Goodbye!"))
			return nil
		}

		if err := l.Turn(ctx, input); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Warn().Err(err).Msg("turn failed")
			fmt.Fprintln(l.out, l.styles.Error.Render("Error: "+err.Error()))
		}
	}
}

// Turn handles one user message: completion, directives, then code
func (l *Loop) Turn(ctx context.Context, input string) error {
	l.messages = append(l.messages, Message{Role: RoleUser, Content: input})

	reply, err := l.completer.Complete(ctx, l.messages, func(delta string) {
		fmt.Fprint(l.out, delta)
	})
	fmt.Fprintln(l.out)
	if err != nil {
		return err
	}
	l.messages = append(l.messages, Message{Role: RoleAssistant, Content: reply})

	for _, d := range ParseDirectives(reply) {
		l.runDirective(ctx, d)
	}

	code, ok := ExtractCode(reply)
	if !ok {
		fmt.Fprintln(l.out, l.styles.Muted.Render("No Python code block found in the response."))
		return nil
	}

	if l.cfg.ConfirmRun {
		answer, ok := l.readLine(l.styles.Confirm.Render("Run the code? (y/n):") + " ")
		if !ok || !strings.EqualFold(strings.TrimSpace(answer), "y") {
			return nil
		}
	}

	l.runCode(ctx, code)
	return nil
}

func (l *Loop) runDirective(ctx context.Context, d Directive) {
	l.logger.Debug().Str("directive", d.Line).Msg("executing directive")

	result, err := l.client.Execute(ctx, d)
	if err != nil {
		l.feedback(fmt.Sprintf("Debug %s error", d.Command), errorText(err), true)
		return
	}
	l.feedback(fmt.Sprintf("Debug %s result", d.Command), result, false)
}

// runCode launches code under debugpy, attaches through the gateway, resumes
// it and reports its output once it exits.
func (l *Loop) runCode(ctx context.Context, code string) {
	if l.launcher == nil {
		l.feedback("Launch error", "no launcher configured", true)
		return
	}

	h, err := l.launcher.Start(ctx, code)
	if err != nil {
		l.feedback("Launch error", err.Error(), true)
		return
	}
	fmt.Fprintln(l.out, l.styles.Notice.Render("Temp file: "+h.Script))

	runCtx, cancel := context.WithTimeout(ctx, l.cfg.RunTimeout)
	defer cancel()

	info, err := l.client.Connect(runCtx, h.Host, h.Port, h.PID)
	if err != nil {
		l.feedback("Connect error", errorText(err), true)
		_ = h.Kill()
	} else {
		l.feedback("Connected to debug session", info, false)

		if threads, err := l.client.Threads(runCtx); err != nil {
			l.feedback("Threads error", errorText(err), true)
		} else {
			l.feedback("Threads", threads, false)
		}

		if result, err := l.client.Continue(runCtx); err != nil {
			fmt.Fprintln(l.out, l.styles.Error.Render("Continue error: "+errorText(err)))
		} else {
			fmt.Fprintln(l.out, l.styles.Result.Render("Continued execution: "+result))
		}
	}

	select {
	case <-h.Done():
	case <-runCtx.Done():
		_ = h.Kill()
		<-h.Done()
		l.feedback("Run error", fmt.Sprintf("program did not finish within %s and was killed", l.cfg.RunTimeout), true)
	}

	if out := strings.TrimSpace(h.Stdout()); out != "" {
		l.feedback("Code output", "\n"+out, false)
	}
	if errOut := strings.TrimSpace(h.Stderr()); errOut != "" {
		l.feedback("Code error", "\n"+errOut, true)
	}
}

// feedback prints a result and appends it to the conversation
func (l *Loop) feedback(label, text string, isErr bool) {
	style := l.styles.Result
	if isErr {
		style = l.styles.Error
	}

	sep := ": "
	if strings.HasPrefix(text, "\n") {
		sep = ":"
	}
	fmt.Fprintln(l.out, style.Render(label+sep)+text)
	l.messages = append(l.messages, Message{Role: RoleUser, Content: label + sep + text})
}

func (l *Loop) readLine(prompt string) (string, bool) {
	fmt.Fprint(l.out, prompt)
	if !l.in.Scan() {
		return "", false
	}
	return l.in.Text(), true
}

// errorText prefers the gateway's error body over the transport message
func errorText(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Body != "" {
		return apiErr.Body
	}
	return err.Error()
}
