// Package launcher starts Python programs under debugpy so the bridge can
// attach to them.
//
// The program source is written to a temporary script behind a preamble that
// makes debugpy listen on the configured endpoint, block until a client
// attaches, and break on entry. Readiness is detected by polling the endpoint
// rather than sleeping.
package launcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/ctagard/debug-bridge/internal/config"
	bridgeerrors "github.com/ctagard/debug-bridge/internal/errors"
	"github.com/ctagard/debug-bridge/internal/logging"
)

// stderrTail bounds how much captured stderr goes into launch errors
const stderrTail = 2048

var errExited = errors.New("debuggee exited before listening")

// Launcher spawns instrumented debuggees
type Launcher struct {
	cfg    config.LauncherConfig
	logger zerolog.Logger
}

// New creates a launcher
func New(cfg config.LauncherConfig, logger zerolog.Logger) *Launcher {
	defaults := config.DefaultConfig().Launcher
	if cfg.Python == "" {
		cfg.Python = defaults.Python
	}
	if cfg.Host == "" {
		cfg.Host = defaults.Host
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaults.ReadyTimeout
	}
	return &Launcher{
		cfg:    cfg,
		logger: logging.Component(logger, "launcher"),
	}
}

// Preamble returns the instrumentation placed before the program source
func Preamble(host string, port int) string {
	return fmt.Sprintf("import debugpy\ndebugpy.listen((%q, %d))\ndebugpy.wait_for_client()\ndebugpy.breakpoint()\n", host, port)
}

// Handle is a running (or finished) debuggee
type Handle struct {
	PID    int
	Host   string
	Port   int
	Script string

	cmd    *exec.Cmd
	stdout *syncBuffer
	stderr *syncBuffer

	done    chan struct{}
	exitErr error
}

// Address returns the debugpy endpoint
func (h *Handle) Address() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

// Stdout returns the output captured so far
func (h *Handle) Stdout() string { return h.stdout.String() }

// Stderr returns the error output captured so far
func (h *Handle) Stderr() string { return h.stderr.String() }

// Done is closed after the process exits and its script is removed
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the process has exited
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the process exits and returns its exit error
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.exitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExitCode returns the exit code, or -1 while the process is running
func (h *Handle) ExitCode() int {
	if !h.Exited() || h.cmd.ProcessState == nil {
		return -1
	}
	return h.cmd.ProcessState.ExitCode()
}

// Kill terminates the process and its process group
func (h *Handle) Kill() error {
	if h.Exited() {
		return nil
	}
	return killProcessGroup(h.PID, h.cmd)
}

// Launch writes source behind the debugpy preamble and starts it. It does not
// wait for the endpoint to open; use WaitReady.
func (l *Launcher) Launch(ctx context.Context, source string) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	port := l.cfg.Port
	if port == 0 {
		p, err := findAvailablePort(l.cfg.Host)
		if err != nil {
			return nil, bridgeerrors.LaunchFailed("no free port", err)
		}
		port = p
	}

	script, err := writeScript(l.cfg.WorkDir, Preamble(l.cfg.Host, port)+source)
	if err != nil {
		return nil, bridgeerrors.LaunchFailed("cannot write script", err)
	}

	args := append(append([]string(nil), l.cfg.PythonArgs...), script)
	cmd := exec.Command(l.cfg.Python, args...)
	cmd.Env = os.Environ()
	cmd.Stdin = nil
	setProcAttr(cmd)

	h := &Handle{
		Host:   l.cfg.Host,
		Port:   port,
		Script: script,
		cmd:    cmd,
		stdout: &syncBuffer{},
		stderr: &syncBuffer{},
		done:   make(chan struct{}),
	}
	cmd.Stdout = h.stdout
	cmd.Stderr = h.stderr

	if err := cmd.Start(); err != nil {
		_ = os.Remove(script)
		return nil, bridgeerrors.LaunchFailed(fmt.Sprintf("cannot start %s", l.cfg.Python), err)
	}
	h.PID = cmd.Process.Pid

	logger := l.logger.With().Int("pid", h.PID).Str("address", h.Address()).Logger()
	logger.Info().Str("script", script).Msg("debuggee started")

	go func() {
		h.exitErr = cmd.Wait()
		if err := os.Remove(script); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn().Err(err).Msg("failed to remove script")
		}
		logger.Info().Int("exit_code", cmd.ProcessState.ExitCode()).Msg("debuggee exited")
		close(h.done)
	}()

	return h, nil
}

// WaitReady polls the debuggee endpoint with exponential backoff until it
// accepts a connection. It fails with LAUNCH_FAILED if the process exits
// first and LAUNCH_TIMEOUT if the ready timeout passes.
func (l *Launcher) WaitReady(ctx context.Context, h *Handle) error {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.ReadyTimeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 0

	var lastErr error
	probe := func() error {
		if h.Exited() {
			return backoff.Permanent(errExited)
		}
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", h.Address())
		if err != nil {
			lastErr = err
			return err
		}
		_ = conn.Close()
		// another process may own the port while ours failed to bind it
		if h.Exited() {
			return backoff.Permanent(errExited)
		}
		return nil
	}

	err := backoff.Retry(probe, backoff.WithContext(b, ctx))
	switch {
	case err == nil:
		l.logger.Debug().Int("pid", h.PID).Msg("debuggee is listening")
		return nil
	case errors.Is(err, errExited) || h.Exited():
		return bridgeerrors.LaunchFailed(exitReason(h), errExited).
			WithDetails("pid", h.PID).
			WithDetails("exitCode", h.ExitCode())
	default:
		if lastErr == nil {
			lastErr = err
		}
		return bridgeerrors.LaunchTimeout(h.Address(), l.cfg.ReadyTimeout, lastErr)
	}
}

// Start launches source and waits until it is ready. The process is killed
// if it never becomes ready.
func (l *Launcher) Start(ctx context.Context, source string) (*Handle, error) {
	h, err := l.Launch(ctx, source)
	if err != nil {
		return nil, err
	}
	if err := l.WaitReady(ctx, h); err != nil {
		_ = h.Kill()
		return h, err
	}
	return h, nil
}

func exitReason(h *Handle) string {
	<-h.done
	reason := fmt.Sprintf("process exited with code %d before listening", h.ExitCode())
	if tail := lastBytes(h.Stderr(), stderrTail); tail != "" {
		reason += ": " + tail
	}
	return reason
}

func lastBytes(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

func writeScript(dir, content string) (string, error) {
	f, err := os.CreateTemp(dir, "debuggee-*.py")
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func findAvailablePort(host string) (int, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port, nil
}

// syncBuffer is a bytes.Buffer safe for one writer and concurrent readers
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
