package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/dreamsaver/internal/model"
)

// GoalTx — транзакция, удерживающая блокировку строки одной цели.
// Все операции над накоплениями и статусом цели выполняются через неё.
type GoalTx interface {
	// Goal возвращает состояние цели, прочитанное под блокировкой.
	Goal() model.Goal
	// LookupDeposit ищет депозит по ссылке платёжной системы.
	LookupDeposit(ctx context.Context, providerRef string) (*model.Deposit, error)
	// InsertDeposit добавляет депозит; false означает, что депозит с такой ссылкой уже есть.
	InsertDeposit(ctx context.Context, d *model.Deposit) (bool, error)
	// Deposits возвращает все депозиты цели.
	Deposits(ctx context.Context) ([]model.Deposit, error)
	// SaveGoal сохраняет накопления, статус и поля выдачи цели.
	SaveGoal(ctx context.Context, g *model.Goal) error
	// DeleteGoal удаляет цель вместе с фиксацией цены и депозитами.
	DeleteGoal(ctx context.Context) error
	// PriceLock возвращает фиксацию цены цели.
	PriceLock(ctx context.Context) (*model.PriceLock, error)
	// SavePriceLock создаёт или обновляет фиксацию цены.
	SavePriceLock(ctx context.Context, l *model.PriceLock) error
	// EnqueueNotification сохраняет уведомление в точке сохранения; его ошибка не откатывает транзакцию.
	EnqueueNotification(ctx context.Context, n *model.Notification) error
}

// WithGoalLock выполняет fn в транзакции, заблокировав строку цели через SELECT ... FOR UPDATE.
// Параллельные вызовы для одной цели выполняются строго последовательно.
// При ошибке fn транзакция откатывается целиком.
func (r *PostgresRepository) WithGoalLock(ctx context.Context, goalID uuid.UUID, fn func(ctx context.Context, tx GoalTx) error) error {
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		row := tx.QueryRow(ctx, `SELECT `+goalColumns+` FROM goals WHERE id = $1 FOR UPDATE`, goalID)
		g, err := scanGoal(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: goal %s", model.ErrNotFound, goalID)
			}
			return fmt.Errorf("lock goal for update: %w", err)
		}

		if err := fn(ctx, &pgGoalTx{tx: tx, goal: *g}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	return classify(err)
}

type pgGoalTx struct {
	tx   pgx.Tx
	goal model.Goal
}

func (t *pgGoalTx) Goal() model.Goal {
	return t.goal
}

func (t *pgGoalTx) LookupDeposit(ctx context.Context, providerRef string) (*model.Deposit, error) {
	deposits, err := queryDeposits(ctx, t.tx,
		`SELECT `+depositColumns+` FROM deposits WHERE provider_ref = $1`, providerRef)
	if err != nil {
		return nil, err
	}
	if len(deposits) == 0 {
		return nil, fmt.Errorf("%w: deposit %s", model.ErrNotFound, providerRef)
	}
	return &deposits[0], nil
}

func (t *pgGoalTx) InsertDeposit(ctx context.Context, d *model.Deposit) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO deposits (id, goal_id, user_id, amount, payment_method, status, provider_ref, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (provider_ref) DO NOTHING`,
		d.ID, d.GoalID, d.UserID, d.Amount, d.PaymentMethod, string(d.Status), d.ProviderRef, d.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert deposit: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgGoalTx) Deposits(ctx context.Context) ([]model.Deposit, error) {
	return queryDeposits(ctx, t.tx,
		`SELECT `+depositColumns+` FROM deposits WHERE goal_id = $1 ORDER BY created_at DESC`, t.goal.ID)
}

func (t *pgGoalTx) SaveGoal(ctx context.Context, g *model.Goal) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE goals
		 SET saved = $2, status = $3, locked_price = $4, completed_at = $5,
		     delivery_id = $6, redeemed_at = $7, updated_at = $8
		 WHERE id = $1`,
		g.ID, g.Saved, g.Status.String(), g.LockedPrice, g.CompletedAt, g.DeliveryID, g.RedeemedAt, g.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update goal: %w", err)
	}
	t.goal = *g
	return nil
}

func (t *pgGoalTx) DeleteGoal(ctx context.Context) error {
	for _, q := range []string{
		`DELETE FROM price_locks WHERE goal_id = $1`,
		`DELETE FROM deposits WHERE goal_id = $1`,
		`DELETE FROM goals WHERE id = $1`,
	} {
		if _, err := t.tx.Exec(ctx, q, t.goal.ID); err != nil {
			return fmt.Errorf("delete goal: %w", err)
		}
	}
	return nil
}

func (t *pgGoalTx) PriceLock(ctx context.Context) (*model.PriceLock, error) {
	var (
		l      model.PriceLock
		status string
	)
	err := t.tx.QueryRow(ctx,
		`SELECT id, product_id, goal_id, locked_price, original_price, locked_by, store_id, status, expires_at, created_at
		 FROM price_locks WHERE goal_id = $1 AND product_id = $2`,
		t.goal.ID, t.goal.ProductID,
	).Scan(&l.ID, &l.ProductID, &l.GoalID, &l.LockedPrice, &l.OriginalPrice, &l.LockedBy, &l.StoreID, &status, &l.ExpiresAt, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: price lock for goal %s", model.ErrNotFound, t.goal.ID)
		}
		return nil, fmt.Errorf("select price lock: %w", err)
	}
	l.Status = model.PriceLockStatus(status)
	return &l, nil
}

func (t *pgGoalTx) SavePriceLock(ctx context.Context, l *model.PriceLock) error {
	return savePriceLock(ctx, t.tx, l)
}

func (t *pgGoalTx) EnqueueNotification(ctx context.Context, n *model.Notification) error {
	// Вложенная транзакция pgx — это SAVEPOINT: сбой вставки откатывает только её.
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin savepoint: %w", err)
	}
	defer sp.Rollback(ctx)

	_, err = sp.Exec(ctx,
		`INSERT INTO notifications (id, user_id, goal_id, type, title, message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.UserID, n.GoalID, string(n.Type), n.Title, n.Message, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}
