package provisioning

import (
	"github.com/wispbill/wispbill/internal/provisioning/service"
	"go.uber.org/fx"
)

func newDialer() service.Dialer {
	return service.RouterOSDialer
}

var Module = fx.Module("provisioning",
	fx.Provide(newDialer),
	fx.Provide(service.NewService),
)
