package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wispbill/wispbill/internal/clock"
	"github.com/wispbill/wispbill/internal/config"
	customerdomain "github.com/wispbill/wispbill/internal/customer/domain"
	devicedomain "github.com/wispbill/wispbill/internal/device/domain"
	"github.com/wispbill/wispbill/internal/metrics"
	"github.com/wispbill/wispbill/internal/provisioning/domain"
	subscriptiondomain "github.com/wispbill/wispbill/internal/subscription/domain"
	"github.com/wispbill/wispbill/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeConn struct {
	secrets  map[string]string
	attrs    map[string]map[string]string
	sessions []string
	closed   bool
}

func (c *fakeConn) FindPPPSecret(name string) (string, bool, error) {
	id, ok := c.secrets[name]
	return id, ok, nil
}

func (c *fakeConn) SetPPPSecret(id string, attrs map[string]string) error {
	if c.attrs == nil {
		c.attrs = map[string]map[string]string{}
	}
	c.attrs[id] = attrs
	return nil
}

func (c *fakeConn) RemoveActiveSession(name string) error {
	c.sessions = append(c.sessions, name)
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type fakeDialer struct {
	conn    *fakeConn
	dialErr error
	dials   int
}

func (d *fakeDialer) dial(ctx context.Context, addr, username, password string) (Conn, error) {
	_ = ctx
	_ = addr
	_ = username
	_ = password
	d.dials++
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.conn, nil
}

type syncFixture struct {
	svc   *Service
	db    *gorm.DB
	clock *clock.FakeClock
	dial  *fakeDialer

	sub *subscriptiondomain.Subscription
	td  *customerdomain.TechnicalData
	dev *devicedomain.NetworkDevice
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	metrics.ResetForTest()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&customerdomain.Customer{},
		&customerdomain.TechnicalData{},
		&devicedomain.NetworkDevice{},
		&subscriptiondomain.Subscription{},
		&domain.SyncTask{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cipher := devicedomain.NewCipher("test-secret")
	encrypted, err := cipher.Encrypt("router-pass")
	require.NoError(t, err)

	dev := &devicedomain.NetworkDevice{
		ID:                node.Generate(),
		Name:              "bras-01",
		Host:              "10.0.0.1",
		Port:              8728,
		Username:          "api",
		EncryptedPassword: encrypted,
	}
	require.NoError(t, conn.Create(dev).Error)

	customer := &customerdomain.Customer{
		ID:      node.Generate(),
		BrandID: node.Generate(),
		Name:    "Budi Santoso",
	}
	require.NoError(t, conn.Create(customer).Error)

	td := &customerdomain.TechnicalData{
		ID:             node.Generate(),
		CustomerID:     customer.ID,
		DeviceID:       dev.ID,
		Login:          "budi@wisp",
		Password:       "ppp-secret",
		AssignedIP:     "100.64.0.10",
		ServiceProfile: "ftth-50m",
	}
	require.NoError(t, conn.Create(td).Error)

	sub := &subscriptiondomain.Subscription{
		ID:          node.Generate(),
		CustomerID:  customer.ID,
		PackageID:   node.Generate(),
		Status:      subscriptiondomain.SubscriptionStatusActive,
		BillingMode: subscriptiondomain.BillingModeAutomatic,
		BasePrice:   200_000,
		NextDueDate: time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, conn.Create(sub).Error)

	dialer := &fakeDialer{conn: &fakeConn{secrets: map[string]string{"budi@wisp": "*7"}}}
	fc := clock.NewFakeClock(time.Date(2024, time.April, 20, 9, 0, 0, 0, time.UTC))

	cfg := config.Config{
		SyncPoolSize:         2,
		SyncTimeout:          time.Second,
		SyncRetryLimit:       10,
		SyncSuspendedProfile: "suspended",
	}

	svc := NewService(ServiceParam{
		DB:     conn,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  fc,
		Config: cfg,
		Cipher: cipher,
		Dial:   dialer.dial,
	}).(*Service)

	return &syncFixture{svc: svc, db: conn, clock: fc, dial: dialer, sub: sub, td: td, dev: dev}
}

func (f *syncFixture) reloadTechnicalData(t *testing.T) *customerdomain.TechnicalData {
	t.Helper()
	var td customerdomain.TechnicalData
	require.NoError(t, f.db.First(&td, "id = ?", f.td.ID).Error)
	return &td
}

func (f *syncFixture) openTasks(t *testing.T) []domain.SyncTask {
	t.Helper()
	var tasks []domain.SyncTask
	require.NoError(t, f.db.Where("resolved_at IS NULL").Find(&tasks).Error)
	return tasks
}

func TestSyncActivePushesSecret(t *testing.T) {
	f := newSyncFixture(t)

	err := f.svc.Sync(context.Background(), f.sub.ID, "")
	require.NoError(t, err)

	attrs := f.dial.conn.attrs["*7"]
	require.NotNil(t, attrs)
	assert.Equal(t, "budi@wisp", attrs["name"])
	assert.Equal(t, "ppp-secret", attrs["password"])
	assert.Equal(t, "ftth-50m", attrs["profile"])
	assert.Equal(t, "100.64.0.10", attrs["remote-address"])
	assert.Equal(t, "no", attrs["disabled"])
	assert.Empty(t, f.dial.conn.sessions)
	assert.True(t, f.dial.conn.closed)

	assert.False(t, f.reloadTechnicalData(t).SyncPending)
}

func TestSyncSuspendedSwapsProfileAndKillsSession(t *testing.T) {
	f := newSyncFixture(t)
	require.NoError(t, f.db.Model(f.sub).Update("status", subscriptiondomain.SubscriptionStatusSuspended).Error)

	err := f.svc.Sync(context.Background(), f.sub.ID, "")
	require.NoError(t, err)

	attrs := f.dial.conn.attrs["*7"]
	require.NotNil(t, attrs)
	assert.Equal(t, "suspended", attrs["profile"])
	assert.Equal(t, "yes", attrs["disabled"])
	assert.Equal(t, []string{"budi@wisp"}, f.dial.conn.sessions)
}

func TestSyncStoppedDisablesSecret(t *testing.T) {
	f := newSyncFixture(t)
	require.NoError(t, f.db.Model(f.sub).Update("status", subscriptiondomain.SubscriptionStatusStopped).Error)

	err := f.svc.Sync(context.Background(), f.sub.ID, "")
	require.NoError(t, err)

	attrs := f.dial.conn.attrs["*7"]
	require.NotNil(t, attrs)
	assert.Equal(t, "yes", attrs["disabled"])
	assert.Equal(t, []string{"budi@wisp"}, f.dial.conn.sessions)
}

func TestSyncRenameFindsPreviousLogin(t *testing.T) {
	f := newSyncFixture(t)
	// The device still knows the old login only.
	f.dial.conn.secrets = map[string]string{"budi-old@wisp": "*9"}

	err := f.svc.Sync(context.Background(), f.sub.ID, "budi-old@wisp")
	require.NoError(t, err)

	attrs := f.dial.conn.attrs["*9"]
	require.NotNil(t, attrs)
	assert.Equal(t, "budi@wisp", attrs["name"])
}

func TestSyncSecretMissingMarksPending(t *testing.T) {
	f := newSyncFixture(t)
	f.dial.conn.secrets = map[string]string{}

	err := f.svc.Sync(context.Background(), f.sub.ID, "")
	require.ErrorIs(t, err, domain.ErrSecretNotFound)

	assert.True(t, f.reloadTechnicalData(t).SyncPending)
	tasks := f.openTasks(t)
	require.Len(t, tasks, 1)
	assert.Equal(t, f.sub.ID, tasks[0].SubscriptionID)
	assert.Equal(t, 1, tasks[0].Attempts)
	assert.Equal(t, "secret_not_found", tasks[0].Reason)
}

func TestSyncDialFailureAccumulatesAttempts(t *testing.T) {
	f := newSyncFixture(t)
	f.dial.dialErr = errors.New("connection refused")

	err := f.svc.Sync(context.Background(), f.sub.ID, "budi-old@wisp")
	require.ErrorIs(t, err, domain.ErrDeviceUnreachable)
	err = f.svc.Sync(context.Background(), f.sub.ID, "budi-old@wisp")
	require.ErrorIs(t, err, domain.ErrDeviceUnreachable)

	tasks := f.openTasks(t)
	require.Len(t, tasks, 1)
	assert.Equal(t, 2, tasks[0].Attempts)
	assert.Equal(t, "budi-old@wisp", tasks[0].PreviousLogin)
	assert.Contains(t, tasks[0].LastError, "connection refused")
	assert.True(t, f.reloadTechnicalData(t).SyncPending)
}

func TestSyncDecryptFailureIsFatalNotPending(t *testing.T) {
	f := newSyncFixture(t)
	require.NoError(t, f.db.Model(f.dev).Update("encrypted_password", "v1:bogus:payload").Error)

	err := f.svc.Sync(context.Background(), f.sub.ID, "")
	require.ErrorIs(t, err, devicedomain.ErrCredentialDecrypt)

	assert.Zero(t, f.dial.dials)
	assert.False(t, f.reloadTechnicalData(t).SyncPending)
	assert.Empty(t, f.openTasks(t))
}

func TestRetryPendingResolvesAfterRecovery(t *testing.T) {
	f := newSyncFixture(t)
	f.dial.dialErr = errors.New("connection refused")

	err := f.svc.Sync(context.Background(), f.sub.ID, "")
	require.ErrorIs(t, err, domain.ErrDeviceUnreachable)
	require.Len(t, f.openTasks(t), 1)

	// Device comes back.
	f.dial.dialErr = nil
	f.clock.Advance(time.Hour)

	recovered, err := f.svc.RetryPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	assert.False(t, f.reloadTechnicalData(t).SyncPending)
	assert.Empty(t, f.openTasks(t))
}

func TestRetryPendingSkipsExhaustedTasks(t *testing.T) {
	f := newSyncFixture(t)
	f.dial.dialErr = errors.New("connection refused")

	for i := 0; i < 10; i++ {
		_ = f.svc.Sync(context.Background(), f.sub.ID, "")
	}
	tasks := f.openTasks(t)
	require.Len(t, tasks, 1)
	require.Equal(t, 10, tasks[0].Attempts)

	f.dial.dialErr = nil
	recovered, err := f.svc.RetryPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, recovered)
	assert.True(t, f.reloadTechnicalData(t).SyncPending)
}
