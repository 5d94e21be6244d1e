// Package service implements invoice generation.
package service

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	branddomain "github.com/wispbill/wispbill/internal/brand/domain"
	"github.com/wispbill/wispbill/internal/billing/domain"
	"github.com/wispbill/wispbill/internal/clock"
	"github.com/wispbill/wispbill/internal/config"
	customerdomain "github.com/wispbill/wispbill/internal/customer/domain"
	"github.com/wispbill/wispbill/internal/gateway"
	invoicedomain "github.com/wispbill/wispbill/internal/invoice/domain"
	"github.com/wispbill/wispbill/internal/prorate"
	subscriptiondomain "github.com/wispbill/wispbill/internal/subscription/domain"
	"github.com/wispbill/wispbill/pkg/db"
	"github.com/wispbill/wispbill/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// combinedTolerance absorbs per-day rounding when comparing a cached prorate
// total against the package's full price.
const combinedTolerance = 1

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	cfg     config.Config
	client  gateway.Client
	queue   *gateway.Queue
	entropy *ulid.MonotonicEntropy

	subscriptionRepo repository.Repository[subscriptiondomain.Subscription]
	customerRepo     repository.Repository[customerdomain.Customer]
	packageRepo      repository.Repository[branddomain.Package]
	brandRepo        repository.Repository[branddomain.Brand]
	taxRepo          repository.Repository[branddomain.BrandTax]
	invoiceRepo      repository.Repository[invoicedomain.Invoice]
}

type ServiceParam struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Config config.Config
	Client gateway.Client
	Queue  *gateway.Queue
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("billing.service"),

		genID:   p.GenID,
		clock:   p.Clock,
		cfg:     p.Config,
		client:  p.Client,
		queue:   p.Queue,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(p.Clock.Now().UnixNano())), 0),

		subscriptionRepo: repository.ProvideStore[subscriptiondomain.Subscription](p.DB),
		customerRepo:     repository.ProvideStore[customerdomain.Customer](p.DB),
		packageRepo:      repository.ProvideStore[branddomain.Package](p.DB),
		brandRepo:        repository.ProvideStore[branddomain.Brand](p.DB),
		taxRepo:          repository.ProvideStore[branddomain.BrandTax](p.DB),
		invoiceRepo:      repository.ProvideStore[invoicedomain.Invoice](p.DB),
	}
}

// GenerateInvoice implements domain.Service.
func (s *Service) GenerateInvoice(ctx context.Context, subscriptionID snowflake.ID) (*invoicedomain.Invoice, error) {
	sub, err := s.subscriptionRepo.FindOne(ctx, &subscriptiondomain.Subscription{ID: subscriptionID})
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	if sub.Status == subscriptiondomain.SubscriptionStatusStopped {
		return nil, subscriptiondomain.ErrSubscriptionStopped
	}

	customer, err := s.customerRepo.FindOne(ctx, &customerdomain.Customer{ID: sub.CustomerID})
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, customerdomain.ErrCustomerNotFound
	}

	pkg, err := s.packageRepo.FindOne(ctx, &branddomain.Package{ID: sub.PackageID})
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, branddomain.ErrPackageNotFound
	}

	brand, err := s.brandRepo.FindOne(ctx, &branddomain.Brand{ID: pkg.BrandID})
	if err != nil {
		return nil, err
	}
	if brand == nil {
		return nil, branddomain.ErrBrandNotFound
	}

	tax, err := s.taxRepo.FindOne(ctx, &branddomain.BrandTax{BrandID: pkg.BrandID})
	if err != nil {
		return nil, err
	}
	if tax == nil {
		return nil, branddomain.ErrTaxNotFound
	}

	dueDate := dateOnly(sub.NextDueDate)
	existing, err := s.invoiceRepo.FindOne(ctx, &invoicedomain.Invoice{
		SubscriptionID: sub.ID,
		DueDate:        dueDate,
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, invoicedomain.ErrDuplicateInvoicePeriod
	}

	fullPrice := prorate.FullPrice(pkg.BasePrice, tax.TaxPercent)

	var amount int64
	periodCount := 1
	switch sub.BillingMode {
	case subscriptiondomain.BillingModeProrate:
		amount = sub.BasePrice
		// A cached catch-up charge covering two periods is larger than any
		// single full month.
		if amount > fullPrice+combinedTolerance {
			periodCount = 2
		}
	default:
		amount = fullPrice
	}

	baseAmount, taxAmount := splitTax(amount, tax.TaxPercent)

	now := s.clock.Now()
	inv := &invoicedomain.Invoice{
		ID:             s.genID.Generate(),
		Number:         ulid.MustNew(ulid.Timestamp(now), s.entropy).String(),
		SubscriptionID: sub.ID,
		CustomerID:     customer.ID,
		Status:         invoicedomain.InvoiceStatusUnpaid,
		BillingMode:    sub.BillingMode,
		PeriodCount:    periodCount,
		Amount:         amount,
		DueDate:        dueDate,
		Metadata: datatypes.JSONMap{
			"brand":        brand.Slug,
			"package":      pkg.Name,
			"period_count": periodCount,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	externalID := gateway.BuildExternalID(brand.Slug, customer.Name, dueDate, customer.Location, inv.ID.Int64())

	// The invoice row and its payment link commit together. The closure runs
	// on the gateway queue and is retained there on failure; an operator
	// retry re-executes it whole, with the duplicate-period guard rejecting
	// a rerun that already committed.
	err = s.queue.Do(ctx, "invoice:"+externalID, func(qctx context.Context) error {
		return s.db.WithContext(qctx).Transaction(func(tx *gorm.DB) error {
			if err := s.invoiceRepo.WithTrx(tx).Create(qctx, inv); err != nil {
				if db.IsDuplicateKeyErr(err) {
					return invoicedomain.ErrDuplicateInvoicePeriod
				}
				return err
			}

			link, err := s.client.CreateInvoice(qctx, gateway.InvoiceRequest{
				GatewayKey:    tax.GatewayKey,
				ExternalID:    externalID,
				Amount:        baseAmount,
				TaxAmount:     taxAmount,
				Description:   fmt.Sprintf("%s %s", s.cfg.GatewayDescription, dueDate.Format("January 2006")),
				CustomerName:  customer.Name,
				CustomerEmail: customer.Email,
				CustomerPhone: customer.Phone,
			})
			if err != nil {
				return err
			}

			inv.GatewayRef = link.GatewayRef
			inv.PaymentURL = link.PaymentURL
			return s.invoiceRepo.WithTrx(tx).Update(qctx, inv.ID.Int64(), map[string]any{
				"gateway_ref": link.GatewayRef,
				"payment_url": link.PaymentURL,
			})
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("invoice generated",
		zap.String("number", inv.Number),
		zap.Int64("subscription_id", sub.ID.Int64()),
		zap.Int64("amount", inv.Amount),
		zap.Int("period_count", inv.PeriodCount),
	)
	return inv, nil
}

// splitTax decomposes a tax-inclusive total back into base and tax lines for
// the gateway call.
func splitTax(total int64, taxPercent float64) (base, tax int64) {
	if taxPercent <= 0 {
		return total, 0
	}
	base = int64(math.Floor(float64(total)*100/(100+taxPercent) + 0.5))
	return base, total - base
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
