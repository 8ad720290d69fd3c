package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/garyjia/letter-approval/internal/application/artifact"
	"github.com/garyjia/letter-approval/internal/application/assignment"
)

// EnvPrefix namespaces environment overrides, e.g. LETTER_SERVER_PORT
const EnvPrefix = "LETTER"

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Artifact ArtifactConfig `mapstructure:"artifact"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Lark     LarkConfig     `mapstructure:"lark"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// WorkflowConfig holds approval chain and reminder settings
type WorkflowConfig struct {
	Rules                  []assignment.Rule `mapstructure:"rules"`
	MinReasonLength        int               `mapstructure:"min_reason_length"`
	ReminderInterval       time.Duration     `mapstructure:"reminder_interval"`
	LegacyApproverFallback bool              `mapstructure:"legacy_approver_fallback"`
}

// ArtifactConfig holds document rendering settings
type ArtifactConfig struct {
	OutputDir    string `mapstructure:"output_dir"`
	MarkerScheme string `mapstructure:"marker_scheme"`
	MarkerKey    string `mapstructure:"marker_key"`
	Institution  string `mapstructure:"institution"`
	Department   string `mapstructure:"department"`
	City         string `mapstructure:"city"`
}

// RealtimeConfig holds websocket hub settings
type RealtimeConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// NotifyConfig holds broadcaster settings
type NotifyConfig struct {
	QueueSize      int           `mapstructure:"queue_size"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
}

// LarkConfig holds Lark API configuration. Leaving app_id empty disables
// direct-message reminders.
type LarkConfig struct {
	AppID     string        `mapstructure:"app_id"`
	AppSecret string        `mapstructure:"app_secret"`
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Load loads configuration from file and environment variables. An empty
// configPath uses defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.Workflow.Rules) == 0 {
		cfg.Workflow.Rules = assignment.DefaultRules()
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_body_bytes", 2<<20)

	// Database defaults
	v.SetDefault("database.path", "data/letters.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// Workflow defaults
	v.SetDefault("workflow.min_reason_length", 10)
	v.SetDefault("workflow.reminder_interval", 24*time.Hour)
	v.SetDefault("workflow.legacy_approver_fallback", false)

	// Artifact defaults
	opts := artifact.DefaultOptions()
	v.SetDefault("artifact.output_dir", "data/artifacts")
	v.SetDefault("artifact.marker_scheme", string(artifact.MarkerLegacy))
	v.SetDefault("artifact.institution", opts.Institution)
	v.SetDefault("artifact.department", opts.Department)
	v.SetDefault("artifact.city", opts.City)

	// Realtime defaults
	v.SetDefault("realtime.enabled", true)
	v.SetDefault("realtime.send_buffer", 64)
	v.SetDefault("realtime.ping_interval", 30*time.Second)
	v.SetDefault("realtime.write_timeout", 10*time.Second)

	// Notify defaults
	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("notify.handler_timeout", 15*time.Second)

	// Lark defaults
	v.SetDefault("lark.timeout", 10*time.Second)
}

// bindEnvVars binds secrets that are conventionally named without the prefix
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string][]string{
		"lark.app_id":         {"LETTER_LARK_APP_ID", "LARK_APP_ID"},
		"lark.app_secret":     {"LETTER_LARK_APP_SECRET", "LARK_APP_SECRET"},
		"artifact.marker_key": {"LETTER_ARTIFACT_MARKER_KEY", "ARTIFACT_MARKER_KEY"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if err := assignment.ValidateRules(c.Workflow.Rules); err != nil {
		return fmt.Errorf("workflow.rules: %w", err)
	}
	if c.Workflow.MinReasonLength < 0 {
		return fmt.Errorf("workflow.min_reason_length cannot be negative")
	}
	if c.Workflow.ReminderInterval <= 0 {
		return fmt.Errorf("workflow.reminder_interval must be positive")
	}

	if c.Artifact.OutputDir == "" {
		return fmt.Errorf("artifact.output_dir is required")
	}
	if _, err := artifact.NewMarker(artifact.MarkerScheme(c.Artifact.MarkerScheme), []byte(c.Artifact.MarkerKey)); err != nil {
		return fmt.Errorf("artifact.marker_scheme: %w", err)
	}

	if c.Notify.QueueSize <= 0 {
		return fmt.Errorf("notify.queue_size must be positive")
	}

	// Lark credentials come as a pair
	if (c.Lark.AppID == "") != (c.Lark.AppSecret == "") {
		return fmt.Errorf("lark.app_id and lark.app_secret must be set together")
	}

	return nil
}
