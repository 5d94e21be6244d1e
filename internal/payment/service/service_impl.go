// Package service implements the payment event processor.
package service

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/bwmarrin/snowflake"
	branddomain "github.com/wispbill/wispbill/internal/brand/domain"
	"github.com/wispbill/wispbill/internal/clock"
	customerdomain "github.com/wispbill/wispbill/internal/customer/domain"
	"github.com/wispbill/wispbill/internal/gateway"
	invoicedomain "github.com/wispbill/wispbill/internal/invoice/domain"
	"github.com/wispbill/wispbill/internal/metrics"
	"github.com/wispbill/wispbill/internal/notification"
	"github.com/wispbill/wispbill/internal/payment/domain"
	"github.com/wispbill/wispbill/internal/prorate"
	provisioningdomain "github.com/wispbill/wispbill/internal/provisioning/domain"
	subscriptiondomain "github.com/wispbill/wispbill/internal/subscription/domain"
	"github.com/wispbill/wispbill/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	clock        clock.Clock
	provisioning provisioningdomain.Service
	notifier     notification.Notifier

	invoiceRepo      repository.Repository[invoicedomain.Invoice]
	subscriptionRepo repository.Repository[subscriptiondomain.Subscription]
	customerRepo     repository.Repository[customerdomain.Customer]
	packageRepo      repository.Repository[branddomain.Package]
	brandRepo        repository.Repository[branddomain.Brand]
	taxRepo          repository.Repository[branddomain.BrandTax]
}

type ServiceParam struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	Provisioning provisioningdomain.Service
	Notifier     notification.Notifier
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("payment.service"),

		clock:        p.Clock,
		provisioning: p.Provisioning,
		notifier:     p.Notifier,

		invoiceRepo:      repository.ProvideStore[invoicedomain.Invoice](p.DB),
		subscriptionRepo: repository.ProvideStore[subscriptiondomain.Subscription](p.DB),
		customerRepo:     repository.ProvideStore[customerdomain.Customer](p.DB),
		packageRepo:      repository.ProvideStore[branddomain.Package](p.DB),
		brandRepo:        repository.ProvideStore[branddomain.Brand](p.DB),
		taxRepo:          repository.ProvideStore[branddomain.BrandTax](p.DB),
	}
}

// MarkPaid implements domain.Service.
func (s *Service) MarkPaid(ctx context.Context, req domain.MarkPaidRequest) (*invoicedomain.Invoice, error) {
	inv, err := s.invoiceRepo.FindOne(ctx, &invoicedomain.Invoice{ID: req.InvoiceID})
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	if inv.Status == invoicedomain.InvoiceStatusPaid {
		return inv, nil
	}
	if inv.Status == invoicedomain.InvoiceStatusExpired {
		return nil, invoicedomain.ErrInvoiceTerminal
	}

	now := s.clock.Now()
	paidAmount := inv.Amount
	if req.PaidAmount != nil {
		paidAmount = *req.PaidAmount
	}
	paidAt := now
	if req.PaidAt != nil {
		paidAt = req.PaidAt.UTC()
	}

	var (
		sub         *subscriptiondomain.Subscription
		priorStatus subscriptiondomain.SubscriptionStatus
		applied     bool
	)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Conditional update is the single-writer guarantee: when a webhook
		// and a manual mark race, exactly one update lands and the loser
		// takes the idempotent no-op path.
		res := tx.Model(&invoicedomain.Invoice{}).
			Where("id = ? AND status = ?", inv.ID, invoicedomain.InvoiceStatusUnpaid).
			Updates(map[string]any{
				"status":      invoicedomain.InvoiceStatusPaid,
				"paid_amount": paidAmount,
				"paid_at":     paidAt,
				"updated_at":  now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true

		var err error
		sub, err = s.subscriptionRepo.WithTrx(tx).FindOne(ctx, &subscriptiondomain.Subscription{ID: inv.SubscriptionID})
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		priorStatus = sub.Status

		updates := map[string]any{
			"status":             subscriptiondomain.SubscriptionStatusActive,
			"last_invoiced_date": now,
			"updated_at":         now,
		}

		nextDue := nextDueDate(inv.DueDate, inv.PeriodCount)
		if nextDue.After(sub.NextDueDate) {
			updates["next_due_date"] = nextDue
		}

		if inv.BillingMode == subscriptiondomain.BillingModeProrate {
			fullPrice, err := s.fullPrice(ctx, tx, sub.PackageID)
			if err != nil {
				return err
			}
			updates["billing_mode"] = subscriptiondomain.BillingModeAutomatic
			updates["base_price"] = fullPrice
		}

		return s.subscriptionRepo.WithTrx(tx).Update(ctx, sub.ID.Int64(), updates)
	})
	if err != nil {
		return nil, err
	}

	if !applied {
		// Lost the race; report whatever terminal state won.
		current, err := s.invoiceRepo.FindOne(ctx, &invoicedomain.Invoice{ID: inv.ID})
		if err != nil {
			return nil, err
		}
		if current != nil && current.Status == invoicedomain.InvoiceStatusPaid {
			return current, nil
		}
		return nil, invoicedomain.ErrInvoiceTerminal
	}

	metrics.Default().IncPaymentProcessed(req.Source)

	// Reactivation is the only payment that must touch the device. Paying an
	// on-time invoice of an already active subscription is remote-neutral.
	if priorStatus != subscriptiondomain.SubscriptionStatusActive {
		s.provisioning.Dispatch(sub.ID, "")
	}

	s.notifyPaid(ctx, inv, paidAmount, paidAt)

	inv.Status = invoicedomain.InvoiceStatusPaid
	inv.PaidAmount = &paidAmount
	inv.PaidAt = &paidAt
	return inv, nil
}

// Expire implements domain.Service.
func (s *Service) Expire(ctx context.Context, invoiceID snowflake.ID) (domain.ExpireResult, error) {
	var result domain.ExpireResult

	inv, err := s.invoiceRepo.FindOne(ctx, &invoicedomain.Invoice{ID: invoiceID})
	if err != nil {
		return result, err
	}
	if inv == nil {
		return result, invoicedomain.ErrInvoiceNotFound
	}

	var sub *subscriptiondomain.Subscription
	now := s.clock.Now()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&invoicedomain.Invoice{}).
			Where("id = ? AND status = ?", inv.ID, invoicedomain.InvoiceStatusUnpaid).
			Updates(map[string]any{
				"status":     invoicedomain.InvoiceStatusExpired,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		result.Expired = true

		var err error
		sub, err = s.subscriptionRepo.WithTrx(tx).FindOne(ctx, &subscriptiondomain.Subscription{ID: inv.SubscriptionID})
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if sub.Status == subscriptiondomain.SubscriptionStatusSuspended ||
			sub.Status == subscriptiondomain.SubscriptionStatusStopped {
			return nil
		}

		result.Suspended = true
		return s.subscriptionRepo.WithTrx(tx).Update(ctx, sub.ID.Int64(), map[string]any{
			"status":     subscriptiondomain.SubscriptionStatusSuspended,
			"updated_at": now,
		})
	})
	if err != nil {
		return domain.ExpireResult{}, err
	}

	if result.Suspended {
		s.provisioning.Dispatch(sub.ID, "")
	}
	return result, nil
}

// ProcessWebhook implements domain.Service.
func (s *Service) ProcessWebhook(ctx context.Context, token string, event domain.WebhookEvent) error {
	brandSlug, invoiceID, err := gateway.ParseExternalID(event.ExternalID)
	if err != nil {
		metrics.Default().IncWebhookRejected()
		return domain.ErrMalformedWebhook
	}

	brand, err := s.brandRepo.FindOne(ctx, &branddomain.Brand{Slug: brandSlug})
	if err != nil {
		return err
	}
	if brand == nil {
		metrics.Default().IncWebhookRejected()
		return domain.ErrWebhookUnauthorized
	}
	tax, err := s.taxRepo.FindOne(ctx, &branddomain.BrandTax{BrandID: brand.ID})
	if err != nil {
		return err
	}
	if tax == nil || subtle.ConstantTimeCompare([]byte(token), []byte(tax.WebhookToken)) != 1 {
		metrics.Default().IncWebhookRejected()
		return domain.ErrWebhookUnauthorized
	}

	switch event.Status {
	case "PAID":
		_, err := s.MarkPaid(ctx, domain.MarkPaidRequest{
			InvoiceID:  snowflake.ParseInt64(invoiceID),
			PaidAmount: event.PaidAmount,
			PaidAt:     event.PaidAt,
			Source:     domain.SourceWebhook,
		})
		return err
	case "EXPIRED":
		_, err := s.Expire(ctx, snowflake.ParseInt64(invoiceID))
		return err
	default:
		// Other gateway statuses carry no lifecycle meaning here.
		s.log.Debug("ignoring webhook status",
			zap.String("status", event.Status),
			zap.String("external_id", event.ExternalID),
		)
		return nil
	}
}

func (s *Service) fullPrice(ctx context.Context, tx *gorm.DB, packageID snowflake.ID) (int64, error) {
	pkg, err := s.packageRepo.WithTrx(tx).FindOne(ctx, &branddomain.Package{ID: packageID})
	if err != nil {
		return 0, err
	}
	if pkg == nil {
		return 0, branddomain.ErrPackageNotFound
	}
	tax, err := s.taxRepo.WithTrx(tx).FindOne(ctx, &branddomain.BrandTax{BrandID: pkg.BrandID})
	if err != nil {
		return 0, err
	}
	if tax == nil {
		return 0, branddomain.ErrTaxNotFound
	}
	return prorate.FullPrice(pkg.BasePrice, tax.TaxPercent), nil
}

func (s *Service) notifyPaid(ctx context.Context, inv *invoicedomain.Invoice, paidAmount int64, paidAt time.Time) {
	customer, err := s.customerRepo.FindOne(ctx, &customerdomain.Customer{ID: inv.CustomerID})
	if err != nil || customer == nil {
		s.log.Warn("skipping receipt, customer lookup failed",
			zap.Int64("invoice_id", inv.ID.Int64()),
			zap.Error(err),
		)
		return
	}

	receipt := notification.PaymentReceipt{
		InvoiceNumber: inv.Number,
		CustomerName:  customer.Name,
		Phone:         customer.Phone,
		Email:         customer.Email,
		Amount:        paidAmount,
		PaidAt:        paidAt,
		NextDueDate:   nextDueDate(inv.DueDate, inv.PeriodCount),
	}
	if err := s.notifier.SendPaymentReceipt(ctx, receipt); err != nil {
		s.log.Warn("payment receipt delivery failed",
			zap.String("invoice_number", inv.Number),
			zap.Error(err),
		)
	}
}

// nextDueDate advances by the invoice's covered months, normalized to the
// first of the month for every cycle after the prorated one.
func nextDueDate(dueDate time.Time, periodCount int) time.Time {
	if periodCount < 1 {
		periodCount = 1
	}
	d := dueDate.UTC()
	return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, periodCount, 0)
}
