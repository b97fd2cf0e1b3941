// Package config loads the orchestrator's layered configuration: built-in
// defaults, an optional config file, environment variables, and finally
// CLI flags, in that precedence order (lowest to highest). Grounded on
// the teacher's own cmd/cobra_cli.go viper wiring (SetConfigName/
// SetConfigType/AddConfigPath, cobra.Command.PersistentFlags), combined
// with the pack's richer mapstructure-tagged nested Config struct and
// explicit viper.AutomaticEnv/BindEnv idiom for env vars that don't
// follow viper's default key-to-env mapping.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"orchestrator/internal/logging"
	"orchestrator/internal/mcp"
	"orchestrator/internal/observability"
	"orchestrator/internal/storage"
	"orchestrator/internal/workspace"
)

// DBConfig mirrors storage.DBConfig's field shape so both the primary
// repository pool and the optional checkpoint database can be configured
// the same way (spec §6, "Checkpoint DB (optional, independent)").
type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

func (c DBConfig) toStorage() storage.DBConfig {
	return storage.DBConfig{Host: c.Host, Port: c.Port, Name: c.Name, User: c.User, Password: c.Password}
}

// ServerConfig is the file/env-facing shape of one MCP server entry;
// Build resolves it into mcp.ServerConfig.
type ServerConfig struct {
	Name      string            `mapstructure:"name"`
	Enabled   bool              `mapstructure:"enabled"`
	Transport string            `mapstructure:"transport"`
	Command   string            `mapstructure:"command"`
	Args      []string          `mapstructure:"args"`
	Env       map[string]string `mapstructure:"env"`
	URL       string            `mapstructure:"url"`
}

// WorkspaceConfig tunes the Workspace Manager's eviction worker.
type WorkspaceConfig struct {
	CleanupInterval time.Duration `mapstructure:"cleanupInterval"`
	IdleTimeout     time.Duration `mapstructure:"idleTimeout"`
}

// ServerHTTPConfig controls the process's own listener.
type ServerHTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// TracingConfig mirrors observability.TracingConfig for file/env binding.
type TracingConfig struct {
	ServiceName string `mapstructure:"serviceName"`
	Exporter    string `mapstructure:"exporter"`
	Endpoint    string `mapstructure:"endpoint"`
}

// MetricsConfig mirrors observability.MetricsConfig for file/env binding.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Config is the fully-loaded process configuration.
type Config struct {
	Server        ServerHTTPConfig `mapstructure:"server"`
	DB            DBConfig         `mapstructure:"db"`
	MemoryDB      DBConfig         `mapstructure:"memoryDb"`
	SandboxAPIKey string           `mapstructure:"sandboxApiKey"`
	SandboxURL    string           `mapstructure:"sandboxUrl"`
	MCPServers    []ServerConfig   `mapstructure:"mcpServers"`
	Workspace     WorkspaceConfig  `mapstructure:"workspace"`
	LogLevel      string           `mapstructure:"logLevel"`
	Tracing       TracingConfig    `mapstructure:"tracing"`
	Metrics       MetricsConfig    `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("db.port", "5432")
	v.SetDefault("workspace.cleanupInterval", 300*time.Second)
	v.SetDefault("workspace.idleTimeout", 1800*time.Second)
	v.SetDefault("logLevel", "info")
	v.SetDefault("tracing.serviceName", "orchestrator")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.path", "/metrics")
}

// Load reads configuration from defaults, ./config.yaml (or
// /etc/orchestrator/config.yaml), environment variables, and any flags
// already parsed onto cmd. Pass nil for cmd to skip flag binding (tests,
// one-off tooling).
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/orchestrator/")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings: the core's enumerated env vars (spec §6) don't
	// follow viper's camelCase-key -> SCREAMING_SNAKE auto mapping.
	_ = v.BindEnv("db.host", "DB_HOST")
	_ = v.BindEnv("db.port", "DB_PORT")
	_ = v.BindEnv("db.name", "DB_NAME")
	_ = v.BindEnv("db.user", "DB_USER")
	_ = v.BindEnv("db.password", "DB_PASSWORD")
	_ = v.BindEnv("memoryDb.host", "MEMORY_DB_HOST")
	_ = v.BindEnv("memoryDb.port", "MEMORY_DB_PORT")
	_ = v.BindEnv("memoryDb.name", "MEMORY_DB_NAME")
	_ = v.BindEnv("memoryDb.user", "MEMORY_DB_USER")
	_ = v.BindEnv("memoryDb.password", "MEMORY_DB_PASSWORD")
	_ = v.BindEnv("sandboxApiKey", "SANDBOX_API_KEY")
	_ = v.BindEnv("sandboxUrl", "SANDBOX_BASE_URL")
	_ = v.BindEnv("logLevel", "LOG_LEVEL")

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
		if f := cmd.Flags().Lookup("log-level"); f != nil {
			if err := v.BindPFlag("logLevel", f); err != nil {
				return nil, fmt.Errorf("config: bind flags: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	// Per-server env.* values are resolved lazily at connect time
	// (spec §4.1 invariant); nothing to resolve here.
	return &cfg, nil
}

// BindServeFlags registers the flags the "serve" subcommand accepts on
// top of file/env configuration, in the teacher's PersistentFlags style.
func BindServeFlags(cmd *cobra.Command) {
	cmd.Flags().String("server-addr", "", "HTTP listen address (overrides server.addr)")
	cmd.Flags().String("log-level", "", "log level: debug, info, warn, error")
}

// StorageDB returns the primary repository pool's connection settings.
func (c *Config) StorageDB() storage.DBConfig {
	return c.DB.toStorage()
}

// CheckpointDB returns the optional, independent checkpoint database's
// connection settings. Zero value means no checkpoint DB is configured;
// the in-memory Checkpoints map and the persisted state_snapshot column
// remain the first two links of the resume fallback chain regardless.
func (c *Config) CheckpointDB() storage.DBConfig {
	return c.MemoryDB.toStorage()
}

// HasCheckpointDB reports whether an independent checkpoint database was
// configured.
func (c *Config) HasCheckpointDB() bool {
	return c.MemoryDB.Host != ""
}

// MCPServerConfigs resolves the file/env-facing server list into
// mcp.ServerConfig values, validating each.
func (c *Config) MCPServerConfigs() ([]mcp.ServerConfig, error) {
	out := make([]mcp.ServerConfig, 0, len(c.MCPServers))
	for _, s := range c.MCPServers {
		sc := mcp.ServerConfig{
			Name:      s.Name,
			Enabled:   s.Enabled,
			Transport: mcp.Transport(s.Transport),
			Command:   s.Command,
			Args:      s.Args,
			Env:       s.Env,
			URL:       s.URL,
		}
		if err := sc.Validate(); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}

// WorkspaceManagerConfig adapts Workspace into workspace.Config.
func (c *Config) WorkspaceManagerConfig() workspace.Config {
	return workspace.Config{CleanupInterval: c.Workspace.CleanupInterval, IdleTimeout: c.Workspace.IdleTimeout}
}

// TracingSettings adapts Tracing into observability.TracingConfig.
func (c *Config) TracingSettings() observability.TracingConfig {
	return observability.TracingConfig{ServiceName: c.Tracing.ServiceName, Exporter: c.Tracing.Exporter, Endpoint: c.Tracing.Endpoint}
}

// MetricsSettings adapts Metrics into observability.MetricsConfig.
func (c *Config) MetricsSettings() observability.MetricsConfig {
	return observability.MetricsConfig{Enabled: c.Metrics.Enabled, Path: c.Metrics.Path}
}

// LogLevelParsed converts LogLevel into a logging.Level.
func (c *Config) LogLevelParsed() logging.Level {
	return logging.ParseLevel(c.LogLevel)
}

// SandboxProviderConfig returns the base URL and API key NewSDKProvider
// needs, reading SANDBOX_API_KEY via SandboxAPIKey (spec §6).
func (c *Config) SandboxProviderConfig() (baseURL, apiKey string) {
	return c.SandboxURL, c.SandboxAPIKey
}
