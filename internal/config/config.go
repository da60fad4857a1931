// Package config provides configuration management for the debug bridge.
//
// Configuration controls:
//   - Gateway listen address
//   - Bridge timeouts: per-request deadline, handshake deadline, attach grace
//   - Launcher settings: python interpreter, debuggee listen address, readiness timeout
//   - Agent settings: gateway URL and the OpenAI-compatible completion endpoint
//   - Logging level and format
//
// Values come from defaults, an optional config file (YAML, JSON or TOML) and
// DEBUG_BRIDGE_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override config keys.
// For example DEBUG_BRIDGE_BRIDGE_REQUEST_TIMEOUT overrides bridge.request_timeout.
const EnvPrefix = "DEBUG_BRIDGE"

// Config holds the bridge configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Bridge   BridgeConfig   `mapstructure:"bridge" yaml:"bridge"`
	Launcher LauncherConfig `mapstructure:"launcher" yaml:"launcher"`
	Agent    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// ServerConfig is the HTTP gateway listen address
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// BridgeConfig holds session manager settings
type BridgeConfig struct {
	RequestTimeout   time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	// AttachGrace is how long the attach response may trail the initialized
	// event before the adapter is assumed to defer it until configurationDone.
	AttachGrace  time.Duration `mapstructure:"attach_grace" yaml:"attach_grace"`
	EventBacklog int           `mapstructure:"event_backlog" yaml:"event_backlog"`
	PathMappings []PathMapping `mapstructure:"path_mappings" yaml:"path_mappings"`
}

// PathMapping maps a local source root to the debuggee's root
type PathMapping struct {
	LocalRoot  string `mapstructure:"localRoot" yaml:"localRoot" json:"localRoot"`
	RemoteRoot string `mapstructure:"remoteRoot" yaml:"remoteRoot" json:"remoteRoot"`
}

// LauncherConfig holds debuggee launcher settings
type LauncherConfig struct {
	Python string `mapstructure:"python" yaml:"python"`
	// PythonArgs are interpreter flags placed before the script path
	PythonArgs   []string      `mapstructure:"python_args" yaml:"python_args"`
	Host         string        `mapstructure:"host" yaml:"host"`
	Port         int           `mapstructure:"port" yaml:"port"`
	ReadyTimeout time.Duration `mapstructure:"ready_timeout" yaml:"ready_timeout"`
	WorkDir      string        `mapstructure:"work_dir" yaml:"work_dir"`
}

// AgentConfig holds orchestration loop settings
type AgentConfig struct {
	GatewayURL   string `mapstructure:"gateway_url" yaml:"gateway_url"`
	BaseURL      string `mapstructure:"base_url" yaml:"base_url"`
	Model        string `mapstructure:"model" yaml:"model"`
	APIKey       string `mapstructure:"api_key" yaml:"-"`
	SystemPrompt string `mapstructure:"system_prompt" yaml:"system_prompt"`
	ConfirmRun   bool   `mapstructure:"confirm_run" yaml:"confirm_run"`

	// RunTimeout bounds how long a launched program may run
	RunTimeout time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
}

// DefaultSystemPrompt instructs the model how to drive the bridge.
const DefaultSystemPrompt = `You are a helpful assistant who writes concise Python code to answer questions.
After running code, review the output and add assertions to verify the correctness based on the user's intent.
Use debug commands on their own line, like /debug/connect, /debug/status, /debug/threads,
/debug/stacktrace <threadId>, /debug/scopes <frameId>, /debug/variables <ref>,
/debug/breakpoint <file> <line>, /debug/evaluate <expression>, /debug/step <in|over|out>,
/debug/continue and /debug/pause to inspect the program state if needed.`

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8000,
		},
		Bridge: BridgeConfig{
			RequestTimeout:   10 * time.Second,
			HandshakeTimeout: 30 * time.Second,
			AttachGrace:      200 * time.Millisecond,
			EventBacklog:     64,
			PathMappings:     []PathMapping{{LocalRoot: ".", RemoteRoot: "."}},
		},
		Launcher: LauncherConfig{
			Python:       "python3",
			Host:         "127.0.0.1",
			Port:         5678,
			ReadyTimeout: 10 * time.Second,
			WorkDir:      os.TempDir(),
		},
		Agent: AgentConfig{
			GatewayURL:   "http://127.0.0.1:8000",
			BaseURL:      "https://api.x.ai/v1",
			Model:        "grok-4-latest",
			SystemPrompt: DefaultSystemPrompt,
			ConfirmRun:   true,
			RunTimeout:   60 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// SetDefaults registers every default with v so that env overrides and
// config files are resolved against known keys.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)

	v.SetDefault("bridge.request_timeout", d.Bridge.RequestTimeout)
	v.SetDefault("bridge.handshake_timeout", d.Bridge.HandshakeTimeout)
	v.SetDefault("bridge.attach_grace", d.Bridge.AttachGrace)
	v.SetDefault("bridge.event_backlog", d.Bridge.EventBacklog)
	mappings := make([]map[string]interface{}, 0, len(d.Bridge.PathMappings))
	for _, m := range d.Bridge.PathMappings {
		mappings = append(mappings, map[string]interface{}{"localRoot": m.LocalRoot, "remoteRoot": m.RemoteRoot})
	}
	v.SetDefault("bridge.path_mappings", mappings)

	v.SetDefault("launcher.python", d.Launcher.Python)
	v.SetDefault("launcher.python_args", []string{})
	v.SetDefault("launcher.host", d.Launcher.Host)
	v.SetDefault("launcher.port", d.Launcher.Port)
	v.SetDefault("launcher.ready_timeout", d.Launcher.ReadyTimeout)
	v.SetDefault("launcher.work_dir", d.Launcher.WorkDir)

	v.SetDefault("agent.gateway_url", d.Agent.GatewayURL)
	v.SetDefault("agent.base_url", d.Agent.BaseURL)
	v.SetDefault("agent.model", d.Agent.Model)
	v.SetDefault("agent.api_key", "")
	v.SetDefault("agent.system_prompt", d.Agent.SystemPrompt)
	v.SetDefault("agent.confirm_run", d.Agent.ConfirmRun)
	v.SetDefault("agent.run_timeout", d.Agent.RunTimeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", d.Log.Pretty)
}

// Load resolves the configuration from v. If path is non-empty the file must
// exist; otherwise a debug-bridge.{yaml,json,toml} in the working directory or
// $HOME/.config/debug-bridge is read when present.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("debug-bridge")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/debug-bridge")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.Agent.APIKey == "" {
		cfg.Agent.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail much later at runtime
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Launcher.Port < 0 || c.Launcher.Port > 65535 {
		return fmt.Errorf("launcher.port out of range: %d", c.Launcher.Port)
	}
	if c.Bridge.RequestTimeout <= 0 {
		return fmt.Errorf("bridge.request_timeout must be positive, got %s", c.Bridge.RequestTimeout)
	}
	if c.Bridge.HandshakeTimeout <= 0 {
		return fmt.Errorf("bridge.handshake_timeout must be positive, got %s", c.Bridge.HandshakeTimeout)
	}
	if c.Bridge.AttachGrace < 0 {
		return fmt.Errorf("bridge.attach_grace must not be negative, got %s", c.Bridge.AttachGrace)
	}
	if c.Launcher.ReadyTimeout <= 0 {
		return fmt.Errorf("launcher.ready_timeout must be positive, got %s", c.Launcher.ReadyTimeout)
	}
	if c.Agent.RunTimeout <= 0 {
		return fmt.Errorf("agent.run_timeout must be positive, got %s", c.Agent.RunTimeout)
	}
	return nil
}

// Address returns the gateway listen address
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}
