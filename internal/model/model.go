// Package model содержит доменные сущности сервиса накоплений.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GoalMode задаёт режим создания цели.
type GoalMode string

const (
	GoalModeDraft  GoalMode = "DRAFT"
	GoalModeActive GoalMode = "ACTIVE"
)

// Product описывает товар из внешнего каталога в объёме, нужном для фиксации цены.
type Product struct {
	ID      string
	Name    string
	Price   decimal.Decimal
	StoreID string
}

// Goal описывает цель накопления на товар.
type Goal struct {
	ID           uuid.UUID
	UserID       string
	ProductID    string
	TargetAmount decimal.Decimal
	Saved        decimal.Decimal
	Status       GoalStatus
	LockedPrice  decimal.Decimal
	EndDate      *time.Time
	CompletedAt  *time.Time
	DeliveryID   *string
	RedeemedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OwnedBy сообщает, принадлежит ли цель пользователю.
func (g *Goal) OwnedBy(userID string) bool {
	return g.UserID == userID
}

// ApplySettlement обновляет накопленную сумму пересчитанным итогом по журналу
// и завершает цель при достижении целевой суммы. Возвращает true, если цель
// завершилась именно этим вызовом.
func (g *Goal) ApplySettlement(total decimal.Decimal, now time.Time) (bool, error) {
	g.Saved = total
	g.UpdatedAt = now

	if total.LessThan(g.TargetAmount) {
		return false, nil
	}

	next, err := g.Status.Complete()
	if err != nil {
		return false, err
	}
	g.Status = next
	completedAt := now
	g.CompletedAt = &completedAt
	return true, nil
}

// Deletable сообщает, можно ли удалить цель целиком вместо возврата средств.
func (g *Goal) Deletable() bool {
	return g.Status == GoalStatusDraft || g.Saved.IsZero()
}

// DepositStatus описывает статус депозита. Депозит записывается только после подтверждения оплаты.
type DepositStatus string

const DepositStatusCompleted DepositStatus = "COMPLETED"

// Deposit описывает подтверждённое зачисление средств на цель.
type Deposit struct {
	ID            uuid.UUID
	GoalID        uuid.UUID
	UserID        string
	Amount        decimal.Decimal
	PaymentMethod string
	Status        DepositStatus
	ProviderRef   string
	CreatedAt     time.Time
}

// PriceLockStatus описывает статус фиксации цены.
type PriceLockStatus string

const (
	PriceLockActive   PriceLockStatus = "ACTIVE"
	PriceLockReleased PriceLockStatus = "RELEASED"
)

// PriceLock фиксирует цену товара на время накопления.
type PriceLock struct {
	ID            uuid.UUID
	ProductID     string
	GoalID        uuid.UUID
	LockedPrice   decimal.Decimal
	OriginalPrice decimal.Decimal
	LockedBy      string
	StoreID       string
	Status        PriceLockStatus
	ExpiresAt     *time.Time
	CreatedAt     time.Time
}

// Expired сообщает, истёк ли срок фиксации на момент now.
func (l *PriceLock) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}

// NotificationType описывает тип уведомления.
type NotificationType string

const NotificationGoalComplete NotificationType = "GOAL_COMPLETE"

// Notification — уведомление пользователя, публикуемое диспетчером после фиксации транзакции.
type Notification struct {
	ID          uuid.UUID
	UserID      string
	GoalID      uuid.UUID
	Type        NotificationType
	Title       string
	Message     string
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// CancelAction описывает результат отмены цели.
type CancelAction string

const (
	CancelDeleted  CancelAction = "deleted"
	CancelRefunded CancelAction = "refunded"
)

// GoalView — проекция цели для отображения.
type GoalView struct {
	Goal            Goal
	ProgressPercent decimal.Decimal
	Remaining       decimal.Decimal
	Deposits        []Deposit
}

// Settlement — результат проведения платежа.
type Settlement struct {
	View      GoalView
	Completed bool
	Replayed  bool
}

// GoalList — цели пользователя, разбитые по группам статусов.
type GoalList struct {
	Drafts   []GoalView
	Active   []GoalView
	Terminal []GoalView
}

// RefundQuote описывает сумму к возврату с учётом штрафа.
type RefundQuote struct {
	Saved      decimal.Decimal
	FeePercent decimal.Decimal
	Fee        decimal.Decimal
	Payout     decimal.Decimal
}
