package errtrack

import (
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/d60-Lab/socialfeed/config"
)

var enabled atomic.Bool

// Init 初始化 sentry；DSN 为空时保持关闭
func Init(cfg config.SentryConfig) error {
	if cfg.DSN == "" {
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
	}); err != nil {
		return err
	}
	enabled.Store(true)
	return nil
}

// Capture 上报后台任务中的意外错误
func Capture(err error, tags map[string]string) {
	if err == nil || !enabled.Load() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

func Flush(timeout time.Duration) {
	if enabled.Load() {
		sentry.Flush(timeout)
	}
}
