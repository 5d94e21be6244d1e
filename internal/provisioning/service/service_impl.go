// Package service reconciles subscription state with the remote access
// server over the RouterOS API.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/wispbill/wispbill/internal/clock"
	"github.com/wispbill/wispbill/internal/config"
	customerdomain "github.com/wispbill/wispbill/internal/customer/domain"
	devicedomain "github.com/wispbill/wispbill/internal/device/domain"
	"github.com/wispbill/wispbill/internal/metrics"
	"github.com/wispbill/wispbill/internal/provisioning/domain"
	"github.com/wispbill/wispbill/internal/provisioning/routeros"
	subscriptiondomain "github.com/wispbill/wispbill/internal/subscription/domain"
	"github.com/wispbill/wispbill/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	failureReasonDecrypt     = "credential_decrypt"
	failureReasonUnreachable = "device_unreachable"
	failureReasonNoSecret    = "secret_not_found"
	failureReasonCommand     = "command_failed"
	failureReasonData        = "data_missing"
)

// Conn is the subset of the device session the synchronizer drives.
type Conn interface {
	FindPPPSecret(name string) (string, bool, error)
	SetPPPSecret(id string, attrs map[string]string) error
	RemoveActiveSession(name string) error
	Close() error
}

// Dialer opens an authenticated session to an access server.
type Dialer func(ctx context.Context, addr, username, password string) (Conn, error)

// RouterOSDialer connects over the RouterOS binary API.
func RouterOSDialer(ctx context.Context, addr, username, password string) (Conn, error) {
	return routeros.Dial(ctx, addr, username, password)
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID  *snowflake.Node
	clock  clock.Clock
	cfg    config.Config
	cipher *devicedomain.Cipher
	dial   Dialer

	subscriptionRepo repository.Repository[subscriptiondomain.Subscription]
	technicalRepo    repository.Repository[customerdomain.TechnicalData]
	deviceRepo       repository.Repository[devicedomain.NetworkDevice]
	taskRepo         repository.Repository[domain.SyncTask]

	pool chan struct{}
}

type ServiceParam struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Config config.Config
	Cipher *devicedomain.Cipher
	Dial   Dialer
}

func NewService(p ServiceParam) domain.Service {
	poolSize := p.Config.SyncPoolSize
	if poolSize < 1 {
		poolSize = 1
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("provisioning.service"),

		genID:  p.GenID,
		clock:  p.Clock,
		cfg:    p.Config,
		cipher: p.Cipher,
		dial:   p.Dial,

		subscriptionRepo: repository.ProvideStore[subscriptiondomain.Subscription](p.DB),
		technicalRepo:    repository.ProvideStore[customerdomain.TechnicalData](p.DB),
		deviceRepo:       repository.ProvideStore[devicedomain.NetworkDevice](p.DB),
		taskRepo:         repository.ProvideStore[domain.SyncTask](p.DB),

		pool: make(chan struct{}, poolSize),
	}
}

// Dispatch implements domain.Service.
func (s *Service) Dispatch(subscriptionID snowflake.ID, previousLogin string) {
	go func() {
		s.pool <- struct{}{}
		defer func() { <-s.pool }()

		ctx, cancel := context.WithTimeout(context.Background(), 2*s.cfg.SyncTimeout)
		defer cancel()

		if err := s.Sync(ctx, subscriptionID, previousLogin); err != nil {
			s.log.Warn("background sync failed",
				zap.Int64("subscription_id", subscriptionID.Int64()),
				zap.Error(err),
			)
		}
	}()
}

// Sync implements domain.Service.
func (s *Service) Sync(ctx context.Context, subscriptionID snowflake.ID, previousLogin string) error {
	sub, err := s.subscriptionRepo.FindOne(ctx, &subscriptiondomain.Subscription{ID: subscriptionID})
	if err != nil {
		return err
	}
	if sub == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}

	td, err := s.technicalRepo.FindOne(ctx, &customerdomain.TechnicalData{CustomerID: sub.CustomerID})
	if err != nil {
		return err
	}
	if td == nil {
		metrics.Default().IncSyncRun("failure")
		metrics.Default().IncSyncFailure(failureReasonData)
		return customerdomain.ErrTechnicalDataNotFound
	}

	dev, err := s.deviceRepo.FindOne(ctx, &devicedomain.NetworkDevice{ID: td.DeviceID})
	if err != nil {
		return err
	}
	if dev == nil {
		metrics.Default().IncSyncRun("failure")
		metrics.Default().IncSyncFailure(failureReasonData)
		return devicedomain.ErrDeviceNotFound
	}

	// A credential that cannot be decrypted is a deployment fault. Retrying
	// cannot fix it, so it does not mark the row pending.
	password, err := s.cipher.Decrypt(dev.EncryptedPassword)
	if err != nil {
		metrics.Default().IncSyncRun("failure")
		metrics.Default().IncSyncFailure(failureReasonDecrypt)
		return fmt.Errorf("decrypt credential for device %s: %w", dev.Name, err)
	}

	if err := s.push(ctx, sub, td, dev, password, previousLogin); err != nil {
		return err
	}

	return s.resolve(ctx, sub.ID, td)
}

func (s *Service) push(ctx context.Context, sub *subscriptiondomain.Subscription, td *customerdomain.TechnicalData, dev *devicedomain.NetworkDevice, password, previousLogin string) error {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.SyncTimeout)
	defer cancel()

	addr := net.JoinHostPort(dev.Host, strconv.Itoa(dev.Port))
	conn, err := s.dial(dialCtx, addr, dev.Username, password)
	if err != nil {
		wrapped := fmt.Errorf("%w: %s: %v", domain.ErrDeviceUnreachable, addr, err)
		s.recordFailure(ctx, sub.ID, td, previousLogin, failureReasonUnreachable, wrapped)
		return wrapped
	}
	defer conn.Close()

	secretID, err := s.locateSecret(conn, td.Login, previousLogin)
	if err != nil {
		reason := failureReasonCommand
		if errors.Is(err, domain.ErrSecretNotFound) {
			reason = failureReasonNoSecret
		}
		s.recordFailure(ctx, sub.ID, td, previousLogin, reason, err)
		return err
	}

	if err := conn.SetPPPSecret(secretID, s.secretAttrs(sub, td)); err != nil {
		s.recordFailure(ctx, sub.ID, td, previousLogin, failureReasonCommand, err)
		return err
	}

	if sub.Status != subscriptiondomain.SubscriptionStatusActive {
		// Profile changes only apply to new sessions; kick the live one so the
		// suspension takes effect now. Losing the kick is tolerable.
		if err := conn.RemoveActiveSession(td.Login); err != nil {
			s.log.Warn("session removal failed",
				zap.String("login", td.Login),
				zap.String("device", dev.Name),
				zap.Error(err),
			)
		}
	}

	return nil
}

// locateSecret looks up the secret under the previous login first so renames
// converge, then under the current login.
func (s *Service) locateSecret(conn Conn, login, previousLogin string) (string, error) {
	if previousLogin != "" && previousLogin != login {
		id, found, err := conn.FindPPPSecret(previousLogin)
		if err != nil {
			return "", err
		}
		if found {
			return id, nil
		}
	}
	id, found, err := conn.FindPPPSecret(login)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("%w: %s", domain.ErrSecretNotFound, login)
	}
	return id, nil
}

func (s *Service) secretAttrs(sub *subscriptiondomain.Subscription, td *customerdomain.TechnicalData) map[string]string {
	attrs := map[string]string{
		"name":     td.Login,
		"password": td.Password,
	}

	switch sub.Status {
	case subscriptiondomain.SubscriptionStatusActive:
		attrs["profile"] = td.ServiceProfile
		attrs["disabled"] = "no"
		if td.AssignedIP != "" {
			attrs["remote-address"] = td.AssignedIP
		}
	case subscriptiondomain.SubscriptionStatusSuspended:
		attrs["profile"] = s.cfg.SyncSuspendedProfile
		attrs["disabled"] = "yes"
	default:
		attrs["disabled"] = "yes"
	}

	return attrs
}

// recordFailure records a failed push: the credential row is flagged pending and an
// open task row keeps the rename context for the retry job.
func (s *Service) recordFailure(ctx context.Context, subscriptionID snowflake.ID, td *customerdomain.TechnicalData, previousLogin, reason string, cause error) {
	metrics.Default().IncSyncRun("failure")
	metrics.Default().IncSyncFailure(reason)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.technicalRepo.WithTrx(tx).Update(ctx, td.ID.Int64(), map[string]any{
			"sync_pending": true,
			"updated_at":   s.clock.Now(),
		}); err != nil {
			return err
		}

		taskRepo := s.taskRepo.WithTrx(tx)
		open, err := taskRepo.FindOne(ctx,
			&domain.SyncTask{SubscriptionID: subscriptionID},
			repository.WithCondition("resolved_at IS NULL"),
		)
		if err != nil {
			return err
		}
		if open != nil {
			updates := map[string]any{
				"attempts":   open.Attempts + 1,
				"last_error": cause.Error(),
				"reason":     reason,
				"updated_at": s.clock.Now(),
			}
			if previousLogin != "" {
				updates["previous_login"] = previousLogin
			}
			return taskRepo.Update(ctx, open.ID.Int64(), updates)
		}
		now := s.clock.Now()
		return taskRepo.Create(ctx, &domain.SyncTask{
			ID:             s.genID.Generate(),
			SubscriptionID: subscriptionID,
			PreviousLogin:  previousLogin,
			Reason:         reason,
			Attempts:       1,
			LastError:      cause.Error(),
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	})
	if err != nil {
		s.log.Error("record sync failure",
			zap.Int64("subscription_id", subscriptionID.Int64()),
			zap.Error(err),
		)
	}
}

func (s *Service) resolve(ctx context.Context, subscriptionID snowflake.ID, td *customerdomain.TechnicalData) error {
	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.technicalRepo.WithTrx(tx).Update(ctx, td.ID.Int64(), map[string]any{
			"sync_pending": false,
			"updated_at":   now,
		}); err != nil {
			return err
		}
		if err := tx.Model(&domain.SyncTask{}).
			Where("subscription_id = ? AND resolved_at IS NULL", subscriptionID).
			Updates(map[string]any{"resolved_at": now, "updated_at": now}).Error; err != nil {
			return err
		}
		metrics.Default().IncSyncRun("success")
		return nil
	})
}

// RetryPending implements domain.Service.
func (s *Service) RetryPending(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = s.cfg.SyncRetryLimit
	}

	tasks, err := s.taskRepo.Find(ctx, &domain.SyncTask{},
		repository.WithCondition("resolved_at IS NULL AND attempts < ?", s.cfg.SyncRetryLimit),
		repository.WithOrder("created_at asc"),
		repository.WithLimit(limit),
	)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, task := range tasks {
		if err := s.Sync(ctx, task.SubscriptionID, task.PreviousLogin); err != nil {
			s.log.Warn("sync retry failed",
				zap.Int64("subscription_id", task.SubscriptionID.Int64()),
				zap.Int("attempts", task.Attempts+1),
				zap.Error(err),
			)
			continue
		}
		recovered++
	}
	return recovered, nil
}
