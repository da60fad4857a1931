// Command debug-bridge drives a debugpy debuggee over DAP on behalf of a
// stateless controller: an HTTP gateway, an MCP server, or the built-in
// conversational agent.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ctagard/debug-bridge/internal/config"
	"github.com/ctagard/debug-bridge/internal/logging"
	"github.com/ctagard/debug-bridge/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries what every subcommand needs
type app struct {
	v          *viper.Viper
	configPath string
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "debug-bridge",
		Short: "Drive a live Python debug session through a stateless interface",
		Long: `debug-bridge owns one DAP connection to a program running under debugpy and
exposes attach, breakpoints, stepping and inspection as plain request/response
calls.

  serve    HTTP gateway
  mcp      the same operations as MCP tools over stdio
  agent    conversational loop that writes, runs and debugs Python
  launch   start a script under debugpy and wait for a client`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to a config file (yaml, json or toml)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.Bool("log-pretty", true, "human-readable console logs")
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("log.pretty", flags.Lookup("log-pretty"))

	root.AddCommand(
		newServeCmd(a),
		newMCPCmd(a),
		newAgentCmd(a),
		newLaunchCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

// load resolves the effective configuration
func (a *app) load() (*config.Config, error) {
	return config.Load(a.v, a.configPath)
}

// logger builds the root logger. Logs always go to stderr.
func (a *app) logger(cfg *config.Config) zerolog.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		Output: os.Stderr,
	})
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
		},
	}
}
