package notification

import (
	"github.com/wispbill/wispbill/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newNotifier(cfg config.Config, log *zap.Logger) Notifier {
	if cfg.NotificationURL == "" {
		return NewNoop()
	}
	return NewHTTP(cfg.NotificationURL, cfg.NotificationTimeout, log)
}

var Module = fx.Module("notification",
	fx.Provide(newNotifier),
)
