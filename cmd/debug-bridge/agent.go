package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ctagard/debug-bridge/internal/agent"
	"github.com/ctagard/debug-bridge/internal/dap"
	"github.com/ctagard/debug-bridge/internal/gateway"
	"github.com/ctagard/debug-bridge/internal/launcher"
)

func newAgentCmd(a *app) *cobra.Command {
	var embedded bool

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Chat with a model that writes, runs and debugs Python",
		Long: `Starts an interactive loop. Each reply is streamed; /debug/... lines in it are
executed against the gateway and fed back, and a python code block can be run
under debugpy after confirmation. Type "exit" to quit.

With --embedded (the default) a gateway is started in-process on server.host
and server.port; otherwise agent.gateway_url must point at a running one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			logger := a.logger(cfg)

			completer, err := agent.NewOpenAICompleter(cfg.Agent.APIKey, cfg.Agent.Model, cfg.Agent.BaseURL)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			gatewayURL := cfg.Agent.GatewayURL
			if embedded {
				sm := dap.NewSessionManager(cfg.Bridge, logger)
				defer sm.Close()

				gw := gateway.New(gateway.Config{Address: cfg.Address(), Bridge: sm, Logger: logger})
				if err := gw.Start(); err != nil {
					return fmt.Errorf("failed to start gateway: %w", err)
				}
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
					defer cancel()
					_ = gw.Stop(shutdownCtx)
				}()
				gatewayURL = gw.URL()
			}

			loop := agent.NewLoop(agent.Options{
				Config:    cfg.Agent,
				Completer: completer,
				Client:    agent.NewClient(gatewayURL, nil),
				Launcher:  launcher.New(cfg.Launcher, logger),
				In:        cmd.InOrStdin(),
				Out:       cmd.OutOrStdout(),
				Logger:    logger,
			})
			return loop.Run(ctx)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&embedded, "embedded", true, "run the gateway in-process")
	flags.String("gateway-url", "", "gateway base URL when not embedded")
	flags.String("model", "", "chat model name")
	flags.String("base-url", "", "OpenAI-compatible API base URL")
	flags.Bool("confirm", true, "ask before running generated code")
	_ = a.v.BindPFlag("agent.gateway_url", flags.Lookup("gateway-url"))
	_ = a.v.BindPFlag("agent.model", flags.Lookup("model"))
	_ = a.v.BindPFlag("agent.base_url", flags.Lookup("base-url"))
	_ = a.v.BindPFlag("agent.confirm_run", flags.Lookup("confirm"))
	return cmd
}

func newLaunchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launch <script.py>",
		Short: "Run a script under debugpy and wait for a client to attach",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			logger := a.logger(cfg)

			source, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read script: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			h, err := launcher.New(cfg.Launcher, logger).Start(ctx, string(source))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "debugpy listening on %s (pid %d)\n", h.Address(), h.PID)

			select {
			case <-h.Done():
			case <-ctx.Done():
				_ = h.Kill()
				<-h.Done()
			}

			_, _ = fmt.Fprint(out, h.Stdout())
			_, _ = fmt.Fprint(cmd.ErrOrStderr(), h.Stderr())
			if code := h.ExitCode(); code != 0 {
				return fmt.Errorf("script exited with code %d", code)
			}
			return nil
		},
	}

	cmd.Flags().String("python", "", "python interpreter")
	cmd.Flags().Int("debug-port", 0, "debugpy listen port, 0 picks a free one")
	_ = a.v.BindPFlag("launcher.python", cmd.Flags().Lookup("python"))
	_ = a.v.BindPFlag("launcher.port", cmd.Flags().Lookup("debug-port"))
	return cmd
}
