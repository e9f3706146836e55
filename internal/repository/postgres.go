// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/dreamsaver/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const goalColumns = `id, user_id, product_id, target_amount, saved, status, locked_price,
	end_date, completed_at, delivery_id, redeemed_at, created_at, updated_at`

const depositColumns = `id, goal_id, user_id, amount, payment_method, status, provider_ref, created_at`

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	delays []time.Duration
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	cfg.AfterConnect = func(_ context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		delays: []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second},
	}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при конфликтах сериализации, взаимных блокировках и обрывах соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(r.delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(r.delays) {
			break
		}

		timer := time.NewTimer(r.delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

// isConnectionError сообщает об обрыве связи с БД, после которого запрос безопасно повторить.
func isConnectionError(err error) bool {
	if pgconn.SafeToRetry(err) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// classify оставляет доменные ошибки как есть. Отказ ограничений на значения
// означает некорректные данные и повтором не исправляется, остальные сбои хранилища временные.
func classify(err error) error {
	if err == nil || model.IsDomainError(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.CheckViolation, pgerrcode.NumericValueOutOfRange:
			return fmt.Errorf("%w: %w", model.ErrValidation, err)
		}
	}
	return fmt.Errorf("%w: %w", model.ErrTransient, err)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetProduct возвращает товар каталога по идентификатору.
func (r *PostgresRepository) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	var p model.Product
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, price, store_id FROM products WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Name, &p.Price, &p.StoreID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s", model.ErrNotFound, id)
		}
		return nil, classify(fmt.Errorf("get product: %w", err))
	}
	return &p, nil
}

// CreateGoal сохраняет новую цель вместе с фиксацией цены в одной транзакции.
func (r *PostgresRepository) CreateGoal(ctx context.Context, g *model.Goal, lock *model.PriceLock) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return classify(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO goals (id, user_id, product_id, target_amount, saved, status, locked_price, end_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		g.ID, g.UserID, g.ProductID, g.TargetAmount, g.Saved, g.Status.String(), g.LockedPrice, g.EndDate, g.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "goals_one_draft_per_product") {
			return fmt.Errorf("%w: draft for product %s already exists", model.ErrConflict, g.ProductID)
		}
		return classify(fmt.Errorf("insert goal: %w", err))
	}

	if lock != nil {
		if err := savePriceLock(ctx, tx, lock); err != nil {
			return classify(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// FindDraft возвращает черновик пользователя для товара.
func (r *PostgresRepository) FindDraft(ctx context.Context, userID, productID string) (*model.Goal, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+goalColumns+` FROM goals WHERE user_id = $1 AND product_id = $2 AND status = $3`,
		userID, productID, model.GoalStatusDraft.String(),
	)
	g, err := scanGoal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: draft for product %s", model.ErrNotFound, productID)
		}
		return nil, classify(fmt.Errorf("find draft: %w", err))
	}
	return g, nil
}

// UpdateDraft обновляет целевую сумму и дату черновика и срок фиксации его цены.
func (r *PostgresRepository) UpdateDraft(ctx context.Context, id uuid.UUID, target decimal.Decimal, endDate *time.Time) (*model.Goal, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, classify(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`UPDATE goals
		 SET target_amount = $2, end_date = COALESCE($3, end_date), updated_at = now()
		 WHERE id = $1 AND status = $4
		 RETURNING `+goalColumns,
		id, target, endDate, model.GoalStatusDraft.String(),
	)
	g, err := scanGoal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: draft %s", model.ErrNotFound, id)
		}
		return nil, classify(fmt.Errorf("update draft: %w", err))
	}

	if endDate != nil {
		_, err = tx.Exec(ctx, `UPDATE price_locks SET expires_at = $2 WHERE goal_id = $1`, id, endDate)
		if err != nil {
			return nil, classify(fmt.Errorf("update price lock expiry: %w", err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classify(fmt.Errorf("commit tx: %w", err))
	}
	return g, nil
}

// GetGoal возвращает цель по идентификатору.
func (r *PostgresRepository) GetGoal(ctx context.Context, id uuid.UUID) (*model.Goal, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+goalColumns+` FROM goals WHERE id = $1`, id)
	g, err := scanGoal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: goal %s", model.ErrNotFound, id)
		}
		return nil, classify(fmt.Errorf("get goal: %w", err))
	}
	return g, nil
}

// ListGoalsByUser возвращает цели пользователя, новые первыми.
func (r *PostgresRepository) ListGoalsByUser(ctx context.Context, userID string) ([]model.Goal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+goalColumns+` FROM goals WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, classify(fmt.Errorf("select goals: %w", err))
	}
	defer rows.Close()

	var res []model.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, classify(fmt.Errorf("scan goal: %w", err))
		}
		res = append(res, *g)
	}

	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("rows error: %w", err))
	}
	return res, nil
}

// ListDeposits возвращает депозиты цели, новые первыми.
func (r *PostgresRepository) ListDeposits(ctx context.Context, goalID uuid.UUID) ([]model.Deposit, error) {
	return queryDeposits(ctx, r.pool,
		`SELECT `+depositColumns+` FROM deposits WHERE goal_id = $1 ORDER BY created_at DESC`, goalID)
}

// ListDepositsByUser возвращает все депозиты пользователя, новые первыми.
func (r *PostgresRepository) ListDepositsByUser(ctx context.Context, userID string) ([]model.Deposit, error) {
	return queryDeposits(ctx, r.pool,
		`SELECT `+depositColumns+` FROM deposits WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

// DeleteExpiredDrafts удаляет черновики с истёкшей датой цели вместе с фиксациями цен.
func (r *PostgresRepository) DeleteExpiredDrafts(ctx context.Context, now time.Time) (int64, error) {
	var deleted int64
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		rows, err := tx.Query(ctx,
			`SELECT id FROM goals
			 WHERE status = $1 AND end_date IS NOT NULL AND end_date < $2
			 FOR UPDATE SKIP LOCKED`,
			model.GoalStatusDraft.String(), now,
		)
		if err != nil {
			return fmt.Errorf("select expired drafts: %w", err)
		}
		ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
			var id uuid.UUID
			err := row.Scan(&id)
			return id.String(), err
		})
		if err != nil {
			return fmt.Errorf("collect expired drafts: %w", err)
		}
		if len(ids) == 0 {
			deleted = 0
			return nil
		}

		for _, q := range []string{
			`DELETE FROM price_locks WHERE goal_id = ANY($1::uuid[])`,
			`DELETE FROM deposits WHERE goal_id = ANY($1::uuid[])`,
		} {
			if _, err := tx.Exec(ctx, q, ids); err != nil {
				return fmt.Errorf("delete draft dependents: %w", err)
			}
		}

		tag, err := tx.Exec(ctx, `DELETE FROM goals WHERE id = ANY($1::uuid[])`, ids)
		if err != nil {
			return fmt.Errorf("delete drafts: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		deleted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, classify(err)
	}
	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanGoal(row rowScanner) (*model.Goal, error) {
	var (
		g      model.Goal
		status string
	)
	err := row.Scan(
		&g.ID, &g.UserID, &g.ProductID, &g.TargetAmount, &g.Saved, &status, &g.LockedPrice,
		&g.EndDate, &g.CompletedAt, &g.DeliveryID, &g.RedeemedAt, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	g.Status, err = model.ParseGoalStatus(status)
	if err != nil {
		return nil, fmt.Errorf("goal %s: %w", g.ID, err)
	}
	return &g, nil
}

func queryDeposits(ctx context.Context, q querier, sql string, args ...any) ([]model.Deposit, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("select deposits: %w", err))
	}
	defer rows.Close()

	var res []model.Deposit
	for rows.Next() {
		var (
			d      model.Deposit
			status string
		)
		if err := rows.Scan(&d.ID, &d.GoalID, &d.UserID, &d.Amount, &d.PaymentMethod, &status, &d.ProviderRef, &d.CreatedAt); err != nil {
			return nil, classify(fmt.Errorf("scan deposit: %w", err))
		}
		d.Status = model.DepositStatus(status)
		res = append(res, d)
	}

	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("rows error: %w", err))
	}
	return res, nil
}

func savePriceLock(ctx context.Context, tx pgx.Tx, l *model.PriceLock) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO price_locks (id, product_id, goal_id, locked_price, original_price, locked_by, store_id, status, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (product_id, goal_id) DO UPDATE
		 SET locked_price = EXCLUDED.locked_price,
		     original_price = EXCLUDED.original_price,
		     status = EXCLUDED.status,
		     expires_at = EXCLUDED.expires_at`,
		l.ID, l.ProductID, l.GoalID, l.LockedPrice, l.OriginalPrice, l.LockedBy, l.StoreID, string(l.Status), l.ExpiresAt, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert price lock: %w", err)
	}
	return nil
}
