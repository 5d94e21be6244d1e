package device

import (
	"github.com/wispbill/wispbill/internal/config"
	"github.com/wispbill/wispbill/internal/device/domain"
	"go.uber.org/fx"
)

func newCipher(cfg config.Config) *domain.Cipher {
	return domain.NewCipher(cfg.DeviceSecret)
}

var Module = fx.Module("device",
	fx.Provide(newCipher),
)
