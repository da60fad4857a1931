package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ctagard/debug-bridge/internal/dap"
	"github.com/ctagard/debug-bridge/internal/gateway"
	"github.com/ctagard/debug-bridge/internal/launcher"
	"github.com/ctagard/debug-bridge/internal/mcp"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			logger := a.logger(cfg)

			sm := dap.NewSessionManager(cfg.Bridge, logger)
			defer sm.Close()

			gw := gateway.New(gateway.Config{
				Address: cfg.Address(),
				Bridge:  sm,
				Logger:  logger,
			})
			if err := gw.Start(); err != nil {
				return fmt.Errorf("failed to start gateway: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return gw.Stop(shutdownCtx)
		},
	}

	cmd.Flags().String("host", "", "gateway listen host")
	cmd.Flags().Int("port", 0, "gateway listen port")
	_ = a.v.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	_ = a.v.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	return cmd
}

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the debug operations as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			// stdout carries the protocol
			cfg.Log.Pretty = false
			logger := a.logger(cfg)

			sm := dap.NewSessionManager(cfg.Bridge, logger)
			srv := mcp.NewServer(sm, launcher.New(cfg.Launcher, logger), logger)
			defer srv.Close()

			logger.Info().Msg("starting MCP server on stdio")
			return srv.ServeStdio()
		},
	}
}
