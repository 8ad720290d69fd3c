// Package container provides dependency injection and lifecycle management
// for the letter approval service.
package container

import (
	"fmt"
	"time"

	"github.com/garyjia/letter-approval/internal/application/artifact"
	"github.com/garyjia/letter-approval/internal/application/assignment"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	Database DatabaseConfig
	Workflow WorkflowConfig
	Artifact ArtifactConfig
	Realtime RealtimeConfig
	Notify   NotifyConfig
	Lark     LarkConfig
	Server   ServerConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration
}

// WorkflowConfig holds approval chain settings.
type WorkflowConfig struct {
	Rules                  []assignment.Rule
	MinReasonLength        int
	ReminderInterval       time.Duration
	LegacyApproverFallback bool
}

// ArtifactConfig holds document rendering settings.
type ArtifactConfig struct {
	OutputDir    string
	MarkerScheme artifact.MarkerScheme
	MarkerKey    []byte
	Letterhead   artifact.Options
}

// RealtimeConfig holds websocket hub settings.
type RealtimeConfig struct {
	Enabled        bool
	SendBuffer     int
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

// NotifyConfig holds broadcaster settings.
type NotifyConfig struct {
	// QueueSize bounds pending events; overflow is dropped and logged
	QueueSize int
	// HandlerTimeout bounds each fan-out handler call; zero disables it
	HandlerTimeout time.Duration
}

// LarkConfig holds Lark API settings. An empty AppID disables the messenger.
type LarkConfig struct {
	AppID     string
	AppSecret string
	BaseURL   string
	Timeout   time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/letters.db",
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Hour,
		},
		Workflow: WorkflowConfig{
			Rules:            assignment.DefaultRules(),
			MinReasonLength:  10,
			ReminderInterval: 24 * time.Hour,
		},
		Artifact: ArtifactConfig{
			OutputDir:    "data/artifacts",
			MarkerScheme: artifact.MarkerLegacy,
			Letterhead:   artifact.DefaultOptions(),
		},
		Realtime: RealtimeConfig{
			Enabled:      true,
			SendBuffer:   64,
			PingInterval: 30 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Notify: NotifyConfig{
			QueueSize:      256,
			HandlerTimeout: 15 * time.Second,
		},
		Lark: LarkConfig{
			Timeout: 10 * time.Second,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    2 << 20,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if err := assignment.ValidateRules(c.Workflow.Rules); err != nil {
		return fmt.Errorf("workflow.rules: %w", err)
	}
	if c.Artifact.OutputDir == "" {
		return fmt.Errorf("artifact.output_dir is required")
	}
	if c.Notify.QueueSize <= 0 {
		return fmt.Errorf("notify.queue_size must be positive")
	}
	return nil
}
