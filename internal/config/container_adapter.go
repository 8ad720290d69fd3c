package config

import (
	"github.com/garyjia/letter-approval/internal/application/artifact"
	"github.com/garyjia/letter-approval/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
		},
		Workflow: container.WorkflowConfig{
			Rules:                  c.Workflow.Rules,
			MinReasonLength:        c.Workflow.MinReasonLength,
			ReminderInterval:       c.Workflow.ReminderInterval,
			LegacyApproverFallback: c.Workflow.LegacyApproverFallback,
		},
		Artifact: container.ArtifactConfig{
			OutputDir:    c.Artifact.OutputDir,
			MarkerScheme: artifact.MarkerScheme(c.Artifact.MarkerScheme),
			MarkerKey:    []byte(c.Artifact.MarkerKey),
			Letterhead: artifact.Options{
				Institution: c.Artifact.Institution,
				Department:  c.Artifact.Department,
				City:        c.Artifact.City,
			},
		},
		Realtime: container.RealtimeConfig{
			Enabled:        c.Realtime.Enabled,
			SendBuffer:     c.Realtime.SendBuffer,
			PingInterval:   c.Realtime.PingInterval,
			WriteTimeout:   c.Realtime.WriteTimeout,
			AllowedOrigins: c.Realtime.AllowedOrigins,
		},
		Notify: container.NotifyConfig{
			QueueSize:      c.Notify.QueueSize,
			HandlerTimeout: c.Notify.HandlerTimeout,
		},
		Lark: container.LarkConfig{
			AppID:     c.Lark.AppID,
			AppSecret: c.Lark.AppSecret,
			BaseURL:   c.Lark.BaseURL,
			Timeout:   c.Lark.Timeout,
		},
		Server: container.ServerConfig{
			Host:            c.Server.Host,
			Port:            c.Server.Port,
			ReadTimeout:     c.Server.ReadTimeout,
			WriteTimeout:    c.Server.WriteTimeout,
			ShutdownTimeout: c.Server.ShutdownTimeout,
			MaxBodyBytes:    c.Server.MaxBodyBytes,
		},
	}
}
