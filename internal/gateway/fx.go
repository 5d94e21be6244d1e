package gateway

import (
	"context"

	"github.com/wispbill/wispbill/internal/config"
	"github.com/wispbill/wispbill/internal/metrics"
	"github.com/wispbill/wispbill/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newQueue(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, limiter *ratelimit.TokenBucket) *Queue {
	q := NewQueue(log, limiter, cfg.GatewayRate, cfg.GatewayBurst, cfg.GatewayQueueDepth)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			_ = ctx
			q.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			_ = ctx
			q.Stop()
			return nil
		},
	})
	return q
}

func registerQueueMetrics(q *Queue) {
	metrics.RegisterQueueStats(nil, func() (int, int, int, int) {
		s := q.Stats()
		return s.Pending, s.Processing, s.Completed, s.Failed
	})
}

var Module = fx.Module("gateway",
	fx.Provide(NewClient),
	fx.Provide(newQueue),
	fx.Invoke(registerQueueMetrics),
)
