package lark

import (
	"context"
	"fmt"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"go.uber.org/zap"
)

// Config selects the app credentials and platform
type Config struct {
	AppID     string
	AppSecret string
	// BaseURL selects the Lark or Feishu open platform; empty means Feishu
	BaseURL string
	Timeout time.Duration
}

// Enabled reports whether credentials are configured
func (c Config) Enabled() bool {
	return c.AppID != "" && c.AppSecret != ""
}

func (c Config) baseURL() string {
	if c.BaseURL == "" {
		return lark.FeishuBaseUrl
	}
	return c.BaseURL
}

// newClient builds an SDK client whose tenant token is cached by the SDK and
// whose internal logs go through zap
func newClient(cfg Config, logger *zap.Logger) (*lark.Client, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("lark app id and secret are required")
	}
	opts := []lark.ClientOptionFunc{
		lark.WithOpenBaseUrl(cfg.baseURL()),
		lark.WithEnableTokenCache(true),
		lark.WithLogger(sdkLogger{logger.Named("lark-sdk").Sugar()}),
		lark.WithLogLevel(larkcore.LogLevelInfo),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, lark.WithReqTimeout(cfg.Timeout))
	}
	return lark.NewClient(cfg.AppID, cfg.AppSecret, opts...), nil
}

// sdkLogger adapts zap to larkcore.Logger
type sdkLogger struct {
	s *zap.SugaredLogger
}

var _ larkcore.Logger = sdkLogger{}

func (l sdkLogger) Debug(_ context.Context, args ...interface{}) { l.s.Debug(args...) }
func (l sdkLogger) Info(_ context.Context, args ...interface{})  { l.s.Info(args...) }
func (l sdkLogger) Warn(_ context.Context, args ...interface{})  { l.s.Warn(args...) }
func (l sdkLogger) Error(_ context.Context, args ...interface{}) { l.s.Error(args...) }
