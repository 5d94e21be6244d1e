// Package server exposes the billing core over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	billingdomain "github.com/wispbill/wispbill/internal/billing/domain"
	"github.com/wispbill/wispbill/internal/config"
	"github.com/wispbill/wispbill/internal/gateway"
	paymentdomain "github.com/wispbill/wispbill/internal/payment/domain"
	"github.com/wispbill/wispbill/internal/scheduler"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	log    *zap.Logger

	billingSvc billingdomain.Service
	paymentSvc paymentdomain.Service
	queue      *gateway.Queue
	sched      *scheduler.Scheduler
}

type ServerParam struct {
	fx.In

	Engine     *gin.Engine
	Log        *zap.Logger
	BillingSvc billingdomain.Service
	PaymentSvc paymentdomain.Service
	Queue      *gateway.Queue
	Scheduler  *scheduler.Scheduler
}

func NewServer(p ServerParam) *Server {
	s := &Server{
		engine:     p.Engine,
		log:        p.Log.Named("server"),
		billingSvc: p.BillingSvc,
		paymentSvc: p.PaymentSvc,
		queue:      p.Queue,
		sched:      p.Scheduler,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api/v1")
	{
		api.POST("/subscriptions/:id/invoices", s.GenerateInvoice)
		api.POST("/invoices/:id/pay", s.PayInvoice)
	}

	s.engine.POST("/webhooks/payment", s.PaymentWebhook)

	// Operational surface, reachable only from the host or the pod network.
	internal := s.engine.Group("/internal", LoopbackOnly())
	{
		internal.GET("/gateway/queue", s.QueueStats)
		internal.POST("/gateway/queue/:id/retry", s.RetryQueueItem)
		internal.POST("/scheduler/sweep", s.RunOverdueSweep)
	}
}
