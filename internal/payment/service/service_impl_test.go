package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	branddomain "github.com/wispbill/wispbill/internal/brand/domain"
	"github.com/wispbill/wispbill/internal/clock"
	customerdomain "github.com/wispbill/wispbill/internal/customer/domain"
	invoicedomain "github.com/wispbill/wispbill/internal/invoice/domain"
	"github.com/wispbill/wispbill/internal/metrics"
	"github.com/wispbill/wispbill/internal/notification"
	"github.com/wispbill/wispbill/internal/payment/domain"
	"github.com/wispbill/wispbill/internal/prorate"
	provisioningdomain "github.com/wispbill/wispbill/internal/provisioning/domain"
	subscriptiondomain "github.com/wispbill/wispbill/internal/subscription/domain"
	"github.com/wispbill/wispbill/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeProvisioner struct {
	mu         sync.Mutex
	dispatches []snowflake.ID
	err        error
}

func (f *fakeProvisioner) Sync(ctx context.Context, subscriptionID snowflake.ID, previousLogin string) error {
	_ = ctx
	_ = previousLogin
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatches = append(f.dispatches, subscriptionID)
	return f.err
}

func (f *fakeProvisioner) Dispatch(subscriptionID snowflake.ID, previousLogin string) {
	_ = f.Sync(context.Background(), subscriptionID, previousLogin)
}

func (f *fakeProvisioner) RetryPending(ctx context.Context, limit int) (int, error) {
	_ = ctx
	_ = limit
	return 0, nil
}

func (f *fakeProvisioner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dispatches)
}

type fakeNotifier struct {
	mu       sync.Mutex
	receipts []notification.PaymentReceipt
	err      error
}

func (f *fakeNotifier) SendPaymentReceipt(ctx context.Context, receipt notification.PaymentReceipt) error {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts = append(f.receipts, receipt)
	return f.err
}

type paymentFixture struct {
	svc      *Service
	db       *gorm.DB
	clock    *clock.FakeClock
	prov     *fakeProvisioner
	notifier *fakeNotifier
	node     *snowflake.Node

	brand    *branddomain.Brand
	tax      *branddomain.BrandTax
	pkg      *branddomain.Package
	customer *customerdomain.Customer
	sub      *subscriptiondomain.Subscription
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	metrics.ResetForTest()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&branddomain.Brand{},
		&branddomain.BrandTax{},
		&branddomain.Package{},
		&customerdomain.Customer{},
		&subscriptiondomain.Subscription{},
		&invoicedomain.Invoice{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	brand := &branddomain.Brand{ID: node.Generate(), Name: "Nusantara Net", Slug: "nusantara-net"}
	require.NoError(t, conn.Create(brand).Error)
	tax := &branddomain.BrandTax{
		ID:           node.Generate(),
		BrandID:      brand.ID,
		TaxPercent:   11,
		GatewayKey:   "xnd_test_key",
		WebhookToken: "hook-token",
	}
	require.NoError(t, conn.Create(tax).Error)

	pkg := &branddomain.Package{
		ID:        node.Generate(),
		BrandID:   brand.ID,
		Name:      "FTTH 50M",
		SpeedMbps: 50,
		Profile:   "ftth-50m",
		BasePrice: 200_000,
	}
	require.NoError(t, conn.Create(pkg).Error)

	customer := &customerdomain.Customer{
		ID:      node.Generate(),
		BrandID: brand.ID,
		Name:    "Budi Santoso",
		Phone:   "+628123456789",
	}
	require.NoError(t, conn.Create(customer).Error)

	sub := &subscriptiondomain.Subscription{
		ID:          node.Generate(),
		CustomerID:  customer.ID,
		PackageID:   pkg.ID,
		Status:      subscriptiondomain.SubscriptionStatusActive,
		BillingMode: subscriptiondomain.BillingModeAutomatic,
		BasePrice:   prorate.FullPrice(pkg.BasePrice, 11),
		NextDueDate: time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, conn.Create(sub).Error)

	prov := &fakeProvisioner{}
	notifier := &fakeNotifier{}
	fc := clock.NewFakeClock(time.Date(2024, time.May, 2, 10, 0, 0, 0, time.UTC))

	svc := NewService(ServiceParam{
		DB:           conn,
		Log:          zap.NewNop(),
		Clock:        fc,
		Provisioning: prov,
		Notifier:     notifier,
	}).(*Service)

	return &paymentFixture{
		svc: svc, db: conn, clock: fc, prov: prov, notifier: notifier, node: node,
		brand: brand, tax: tax, pkg: pkg, customer: customer, sub: sub,
	}
}

func (f *paymentFixture) createInvoice(t *testing.T, mode subscriptiondomain.BillingMode, periodCount int, amount int64, dueDate time.Time) *invoicedomain.Invoice {
	t.Helper()
	inv := &invoicedomain.Invoice{
		ID:             f.node.Generate(),
		Number:         "01HV" + f.node.Generate().String(),
		SubscriptionID: f.sub.ID,
		CustomerID:     f.customer.ID,
		Status:         invoicedomain.InvoiceStatusUnpaid,
		BillingMode:    mode,
		PeriodCount:    periodCount,
		Amount:         amount,
		DueDate:        dueDate,
	}
	require.NoError(t, f.db.Create(inv).Error)
	return inv
}

func (f *paymentFixture) reloadSubscription(t *testing.T) *subscriptiondomain.Subscription {
	t.Helper()
	var sub subscriptiondomain.Subscription
	require.NoError(t, f.db.First(&sub, "id = ?", f.sub.ID).Error)
	return &sub
}

func (f *paymentFixture) reloadInvoice(t *testing.T, id snowflake.ID) *invoicedomain.Invoice {
	t.Helper()
	var inv invoicedomain.Invoice
	require.NoError(t, f.db.First(&inv, "id = ?", id).Error)
	return &inv
}

func TestMarkPaidManualDefaults(t *testing.T) {
	f := newPaymentFixture(t)
	due := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	inv := f.createInvoice(t, subscriptiondomain.BillingModeAutomatic, 1, 222_000, due)

	paid, err := f.svc.MarkPaid(context.Background(), domain.MarkPaidRequest{
		InvoiceID: inv.ID,
		Source:    domain.SourceManual,
	})
	require.NoError(t, err)

	assert.Equal(t, invoicedomain.InvoiceStatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAmount)
	assert.Equal(t, int64(222_000), *paid.PaidAmount)
	require.NotNil(t, paid.PaidAt)
	assert.Equal(t, f.clock.Now(), paid.PaidAt.UTC())

	sub := f.reloadSubscription(t)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC), sub.NextDueDate.UTC())
	require.NotNil(t, sub.LastInvoicedDate)

	require.Len(t, f.notifier.receipts, 1)
	assert.Equal(t, "Budi Santoso", f.notifier.receipts[0].CustomerName)
}

func TestMarkPaidIdempotent(t *testing.T) {
	f := newPaymentFixture(t)
	require.NoError(t, f.db.Model(f.sub).Update("status", subscriptiondomain.SubscriptionStatusSuspended).Error)
	inv := f.createInvoice(t, subscriptiondomain.BillingModeAutomatic, 1, 222_000,
		time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC))

	first, err := f.svc.MarkPaid(context.Background(), domain.MarkPaidRequest{InvoiceID: inv.ID, Source: domain.SourceManual})
	require.NoError(t, err)
	second, err := f.svc.MarkPaid(context.Background(), domain.MarkPaidRequest{InvoiceID: inv.ID, Source: domain.SourceWebhook})
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, *first.PaidAmount, *second.PaidAmount)

	assert.Equal(t, 1, f.prov.count(), "at most one provisioning sync per settled invoice")
	assert.Len(t, f.notifier.receipts, 1)
}

func TestMarkPaidProrateFlipsToAutomatic(t *testing.T) {
	f := newPaymentFixture(t)
	require.NoError(t, f.db.Model(f.sub).Updates(map[string]any{
		"billing_mode":  subscriptiondomain.BillingModeProrate,
		"base_price":    81_400,
		"next_due_date": time.Date(2024, time.April, 20, 0, 0, 0, 0, time.UTC),
	}).Error)
	inv := f.createInvoice(t, subscriptiondomain.BillingModeProrate, 1, 81_400,
		time.Date(2024, time.April, 20, 0, 0, 0, 0, time.UTC))

	_, err := f.svc.MarkPaid(context.Background(), domain.MarkPaidRequest{InvoiceID: inv.ID, Source: domain.SourceManual})
	require.NoError(t, err)

	sub := f.reloadSubscription(t)
	assert.Equal(t, subscriptiondomain.BillingModeAutomatic, sub.BillingMode)
	assert.Equal(t, prorate.FullPrice(200_000, 11), sub.BasePrice)
	assert.Equal(t, time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC), sub.NextDueDate.UTC())
}

func TestMarkPaidCombinedPeriodAdvancesTwoMonths(t *testing.T) {
	f := newPaymentFixture(t)
	inv := f.createInvoice(t, subscriptiondomain.BillingModeProrate, 2, 303_400,
		time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC))

	_, err := f.svc.MarkPaid(context.Background(), domain.MarkPaidRequest{InvoiceID: inv.ID, Source: domain.SourceManual})
	require.NoError(t, err)

	sub := f.reloadSubscription(t)
	assert.Equal(t, time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC), sub.NextDueDate.UTC())
}

func TestMarkPaidNextDueDateNeverRegresses(t *testing.T) {
	f := newPaymentFixture(t)
	ahead := time.Date(2024, time.August, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.db.Model(f.sub).Update("next_due_date", ahead).Error)
	inv := f.createInvoice(t, subscriptiondomain.BillingModeAutomatic, 1, 222_000,
		time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC))

	_, err := f.svc.MarkPaid(context.Background(), domain.MarkPaidRequest{InvoiceID: inv.ID, Source: domain.SourceManual})
	require.NoError(t, err)

	assert.Equal(t, ahead, f.reloadSubscription(t).NextDueDate.UTC())
}

func TestMarkPaidReactivationSyncsOnce(t *testing.T) {
	f := newPaymentFixture(t)
	require.NoError(t, f.db.Model(f.sub).Update("status", subscriptiondomain.SubscriptionStatusSuspended).Error)
	inv := f.createInvoice(t, subscriptiondomain.BillingModeAutomatic, 1, 222_000,
		time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC))

	_, err := f.svc.MarkPaid(context.Background(), domain.MarkPaidRequest{InvoiceID: inv.ID, Source: domain.SourceWebhook})
	require.NoError(t, err)

	assert.Equal(t, 1, f.prov.count())
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, f.reloadSubscription(t).Status)
}

func TestMarkPaidSurvivesSyncFailure(t *testing.T) {
	f := newPaymentFixture(t)
	require.NoError(t, f.db.Model(f.sub).Update("status", subscriptiondomain.SubscriptionStatusSuspended).Error)
	f.prov.err = provisioningdomain.ErrDeviceUnreachable
	inv := f.createInvoice(t, subscriptiondomain.BillingModeAutomatic, 1, 222_000,
		time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC))

	paid, err := f.svc.MarkPaid(context.Background(), domain.MarkPaidRequest{InvoiceID: inv.ID, Source: domain.SourceWebhook})
	require.NoError(t, err, "provisioning is a side effect, never part of the payment transaction")

	assert.Equal(t, 1, f.prov.count())
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, paid.Status)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, f.reloadInvoice(t, inv.ID).Status)

	sub := f.reloadSubscription(t)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC), sub.NextDueDate.UTC())
}

func TestExpireSurvivesSyncFailure(t *testing.T) {
	f := newPaymentFixture(t)
	f.prov.err = provisioningdomain.ErrDeviceUnreachable
	inv := f.createInvoice(t, subscriptiondomain.BillingModeAutomatic, 1, 222_000,
		time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC))

	res, err := f.svc.Expire(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.True(t, res.Expired)
	assert.True(t, res.Suspended)
	assert.Equal(t, 1, f.prov.count())

	assert.Equal(t, invoicedomain.InvoiceStatusExpired, f.reloadInvoice(t, inv.ID).Status)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusSuspended, f.reloadSubscription(t).Status)
}

func TestMarkPaidActiveSubscriptionSkipsSync(t *testing.T) {
	f := newPaymentFixture(t)
	inv := f.createInvoice(t, subscriptiondomain.BillingModeAutomatic, 1, 222_000,
		time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC))

	_, err := f.svc.MarkPaid(context.Background(), domain.MarkPaidRequest{InvoiceID: inv.ID, Source: domain.SourceManual})
	require.NoError(t, err)

	assert.Zero(t, f.prov.count())
}

func TestMarkPaidExpiredInvoiceIsTerminal(t *testing.T) {
	f := newPaymentFixture(t)
	inv := f.createInvoice(t, subscriptiondomain.BillingModeAutomatic, 1, 222_000,
		time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, f.db.Model(inv).Update("status", invoicedomain.InvoiceStatusExpired).Error)

	_, err := f.svc.MarkPaid(context.Background(), domain.MarkPaidRequest{InvoiceID: inv.ID, Source: domain.SourceManual})
	require.ErrorIs(t, err, invoicedomain.ErrInvoiceTerminal)
}

func TestExpireSuspendsAndSyncs(t *testing.T) {
	f := newPaymentFixture(t)
	inv := f.createInvoice(t, subscriptiondomain.BillingModeAutomatic, 1, 222_000,
		time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC))

	res, err := f.svc.Expire(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.True(t, res.Expired)
	assert.True(t, res.Suspended)
	assert.Equal(t, 1, f.prov.count())

	assert.Equal(t, invoicedomain.InvoiceStatusExpired, f.reloadInvoice(t, inv.ID).Status)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusSuspended, f.reloadSubscription(t).Status)
}

func TestExpireAlreadySuspendedSkipsSync(t *testing.T) {
	f := newPaymentFixture(t)
	require.NoError(t, f.db.Model(f.sub).Update("status", subscriptiondomain.SubscriptionStatusSuspended).Error)
	inv := f.createInvoice(t, subscriptiondomain.BillingModeAutomatic, 1, 222_000,
		time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC))

	res, err := f.svc.Expire(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.True(t, res.Expired)
	assert.False(t, res.Suspended)
	assert.Zero(t, f.prov.count())
}

func TestExpirePaidInvoiceNoOp(t *testing.T) {
	f := newPaymentFixture(t)
	inv := f.createInvoice(t, subscriptiondomain.BillingModeAutomatic, 1, 222_000,
		time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, f.db.Model(inv).Update("status", invoicedomain.InvoiceStatusPaid).Error)

	res, err := f.svc.Expire(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.False(t, res.Expired)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, f.reloadInvoice(t, inv.ID).Status)
}

func TestProcessWebhookPaid(t *testing.T) {
	f := newPaymentFixture(t)
	inv := f.createInvoice(t, subscriptiondomain.BillingModeAutomatic, 1, 222_000,
		time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC))

	paidAt := time.Date(2024, time.May, 2, 8, 30, 0, 0, time.UTC)
	amount := int64(222_000)
	err := f.svc.ProcessWebhook(context.Background(), "hook-token", domain.WebhookEvent{
		ExternalID: "nusantara-net/ftth/budi-santoso/may-2024/bandung/" + inv.ID.String(),
		Status:     "PAID",
		PaidAmount: &amount,
		PaidAt:     &paidAt,
	})
	require.NoError(t, err)

	got := f.reloadInvoice(t, inv.ID)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, got.Status)
	require.NotNil(t, got.PaidAt)
	assert.Equal(t, paidAt, got.PaidAt.UTC())
}

func TestProcessWebhookBadToken(t *testing.T) {
	f := newPaymentFixture(t)
	inv := f.createInvoice(t, subscriptiondomain.BillingModeAutomatic, 1, 222_000,
		time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC))

	err := f.svc.ProcessWebhook(context.Background(), "wrong-token", domain.WebhookEvent{
		ExternalID: "nusantara-net/ftth/budi-santoso/may-2024/bandung/" + inv.ID.String(),
		Status:     "PAID",
	})
	require.ErrorIs(t, err, domain.ErrWebhookUnauthorized)

	assert.Equal(t, invoicedomain.InvoiceStatusUnpaid, f.reloadInvoice(t, inv.ID).Status)
}

func TestProcessWebhookMalformedExternalID(t *testing.T) {
	f := newPaymentFixture(t)

	err := f.svc.ProcessWebhook(context.Background(), "hook-token", domain.WebhookEvent{
		ExternalID: "not-a-correlation-id",
		Status:     "PAID",
	})
	require.ErrorIs(t, err, domain.ErrMalformedWebhook)
}

func TestProcessWebhookIgnoresOtherStatuses(t *testing.T) {
	f := newPaymentFixture(t)
	inv := f.createInvoice(t, subscriptiondomain.BillingModeAutomatic, 1, 222_000,
		time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC))

	err := f.svc.ProcessWebhook(context.Background(), "hook-token", domain.WebhookEvent{
		ExternalID: "nusantara-net/ftth/budi-santoso/may-2024/bandung/" + inv.ID.String(),
		Status:     "PENDING",
	})
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusUnpaid, f.reloadInvoice(t, inv.ID).Status)
}
