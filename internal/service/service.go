// Package service реализует бизнес-логику накопительных целей: создание и отмену целей,
// проведение платежей по журналу депозитов и выдачу товара.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/dreamsaver/internal/delivery"
	"github.com/mmeshcher/dreamsaver/internal/lock"
	"github.com/mmeshcher/dreamsaver/internal/metrics"
	"github.com/mmeshcher/dreamsaver/internal/model"
	"github.com/mmeshcher/dreamsaver/internal/payment"
	"github.com/mmeshcher/dreamsaver/internal/repository"
)

// Store описывает контракт хранилища, используемый сервисом.
type Store interface {
	Close() error
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	CreateGoal(ctx context.Context, g *model.Goal, lock *model.PriceLock) error
	FindDraft(ctx context.Context, userID, productID string) (*model.Goal, error)
	UpdateDraft(ctx context.Context, id uuid.UUID, target decimal.Decimal, endDate *time.Time) (*model.Goal, error)
	GetGoal(ctx context.Context, id uuid.UUID) (*model.Goal, error)
	ListGoalsByUser(ctx context.Context, userID string) ([]model.Goal, error)
	ListDeposits(ctx context.Context, goalID uuid.UUID) ([]model.Deposit, error)
	ListDepositsByUser(ctx context.Context, userID string) ([]model.Deposit, error)
	DeleteExpiredDrafts(ctx context.Context, now time.Time) (int64, error)
	WithGoalLock(ctx context.Context, goalID uuid.UUID, fn func(ctx context.Context, tx repository.GoalTx) error) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error)
}

// Gateway описывает платёжную систему.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error)
	RetrieveSession(ctx context.Context, sessionID string) (*payment.PaymentEvent, error)
	ParseWebhook(payload []byte, signature string) (*payment.PaymentEvent, error)
}

// DeliveryClient описывает службу доставки выкупленных товаров.
type DeliveryClient interface {
	CreateDelivery(ctx context.Context, r delivery.Request) (*delivery.Delivery, int, time.Duration, error)
}

// Options — настраиваемые параметры сервиса.
type Options struct {
	// PublicURL — адрес клиентского приложения для возврата из платёжной формы.
	PublicURL string
	// RefundFeePercent — штраф за досрочную отмену цели, в процентах.
	RefundFeePercent decimal.Decimal
	// DraftSweepInterval — период очистки просроченных черновиков.
	DraftSweepInterval time.Duration
}

// Service содержит бизнес-логику сервиса накоплений.
type Service struct {
	store    Store
	gateway  Gateway
	delivery DeliveryClient
	locker   *lock.Locker
	metrics  *metrics.Metrics
	logger   *zap.Logger
	opts     Options
	now      func() time.Time
}

// NewService создаёт сервис. locker может быть nil: тогда очистка черновиков
// выполняется без межэкземплярной блокировки.
func NewService(store Store, gateway Gateway, deliveryClient DeliveryClient, locker *lock.Locker,
	m *metrics.Metrics, logger *zap.Logger, opts Options) *Service {
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DraftSweepInterval <= 0 {
		opts.DraftSweepInterval = time.Hour
	}
	return &Service{
		store:    store,
		gateway:  gateway,
		delivery: deliveryClient,
		locker:   locker,
		metrics:  m,
		logger:   logger,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}
