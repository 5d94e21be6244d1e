// Package scheduler drives the periodic billing jobs: the overdue sweep and
// the provisioning sync retry.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wispbill/wispbill/internal/clock"
	invoicedomain "github.com/wispbill/wispbill/internal/invoice/domain"
	"github.com/wispbill/wispbill/internal/metrics"
	paymentdomain "github.com/wispbill/wispbill/internal/payment/domain"
	provisioningdomain "github.com/wispbill/wispbill/internal/provisioning/domain"
	"github.com/wispbill/wispbill/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	Clock           clock.Clock
	PaymentSvc      paymentdomain.Service
	ProvisioningSvc provisioningdomain.Service
	Config          Config `optional:"true"`
}

type Scheduler struct {
	db    *gorm.DB
	log   *zap.Logger
	cfg   Config
	clock clock.Clock

	paymentSvc      paymentdomain.Service
	provisioningSvc provisioningdomain.Service
	invoiceRepo     repository.Repository[invoicedomain.Invoice]
}

// SweepReport summarizes one overdue sweep run.
type SweepReport struct {
	Scanned   int `json:"scanned"`
	Expired   int `json:"expired"`
	Suspended int `json:"suspended"`
	Failed    int `json:"failed"`
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.PaymentSvc == nil || p.ProvisioningSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:    p.DB,
		log:   p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:   p.Config.withDefaults(),
		clock: p.Clock,

		paymentSvc:      p.PaymentSvc,
		provisioningSvc: p.ProvisioningSvc,
		invoiceRepo:     repository.ProvideStore[invoicedomain.Invoice](p.DB),
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	m := metrics.Default()
	m.IncJobRun(name)

	err := fn(ctx)
	m.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	// Deadline is a soft timeout: the partial run already committed its
	// per-item work and the next tick resumes where it left off.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		m.IncJobTimeout(name)
		m.IncJobError(name, err)
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	m.IncJobError(name, err)
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	err = errors.Join(err, s.runJob(parent, "overdue_sweep", s.cfg.JobTimeout, func(ctx context.Context) error {
		_, jobErr := s.OverdueSweepJob(ctx)
		return jobErr
	}))
	err = errors.Join(err, s.runJob(parent, "sync_retry", s.cfg.JobTimeout, s.SyncRetryJob))
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// OverdueSweepJob expires unpaid invoices past the grace window and suspends
// their subscriptions. Each invoice is its own failure domain; one bad row
// never aborts the batch.
func (s *Scheduler) OverdueSweepJob(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	threshold := s.threshold()
	overdue, err := s.invoiceRepo.Find(ctx,
		&invoicedomain.Invoice{Status: invoicedomain.InvoiceStatusUnpaid},
		repository.WithCondition("due_date < ?", threshold),
		repository.WithOrder("due_date asc"),
		repository.WithLimit(s.cfg.SweepBatchSize),
	)
	if err != nil {
		return report, err
	}
	report.Scanned = len(overdue)

	for _, inv := range overdue {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		res, err := s.paymentSvc.Expire(ctx, inv.ID)
		if err != nil {
			report.Failed++
			s.log.Error("sweep item failed",
				zap.Int64("invoice_id", inv.ID.Int64()),
				zap.Error(err),
			)
			continue
		}
		if res.Expired {
			report.Expired++
		}
		if res.Suspended {
			report.Suspended++
		}
	}

	m := metrics.Default()
	m.AddInvoicesExpired(report.Expired)
	m.AddSubscriptionsSuspended(report.Suspended)

	s.log.Info("overdue sweep finished",
		zap.Time("threshold", threshold),
		zap.Int("scanned", report.Scanned),
		zap.Int("expired", report.Expired),
		zap.Int("suspended", report.Suspended),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// SyncRetryJob re-runs deferred provisioning reconciliations.
func (s *Scheduler) SyncRetryJob(ctx context.Context) error {
	recovered, err := s.provisioningSvc.RetryPending(ctx, s.cfg.SyncRetryLimit)
	if err != nil {
		return err
	}
	if recovered > 0 {
		s.log.Info("sync retry recovered tasks", zap.Int("recovered", recovered))
	}
	return nil
}

// threshold is midnight UTC of today minus the grace period.
func (s *Scheduler) threshold() time.Time {
	now := s.clock.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return today.AddDate(0, 0, -s.cfg.GracePeriodDays)
}
