package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/dreamsaver/internal/ledger"
	"github.com/mmeshcher/dreamsaver/internal/model"
	"github.com/mmeshcher/dreamsaver/internal/repository"
	"github.com/mmeshcher/dreamsaver/internal/validation"
)

// CreateGoalRequest — параметры создания цели.
type CreateGoalRequest struct {
	ProductID    string
	TargetAmount decimal.Decimal
	EndDate      *time.Time
	Mode         model.GoalMode
}

// CreateGoal создаёт цель на товар. В режиме DRAFT существующий черновик пользователя
// для этого товара обновляется на месте; в режиме ACTIVE всегда создаётся новая цель.
// В обоих случаях цена товара фиксируется до даты окончания цели.
func (s *Service) CreateGoal(ctx context.Context, userID string, req CreateGoalRequest) (*model.GoalView, error) {
	mode := req.Mode
	if mode == "" {
		mode = model.GoalModeActive
	}
	if mode != model.GoalModeDraft && mode != model.GoalModeActive {
		return nil, fmt.Errorf("%w: unknown goal mode %q", model.ErrValidation, req.Mode)
	}
	if strings.TrimSpace(req.ProductID) == "" {
		return nil, fmt.Errorf("%w: product id is required", model.ErrValidation)
	}
	if !validation.IsValidAmount(req.TargetAmount) {
		return nil, fmt.Errorf("%w: target amount must be positive whole cents within range", model.ErrValidation)
	}

	now := s.now()
	if req.EndDate != nil && !req.EndDate.After(now) {
		return nil, fmt.Errorf("%w: end date must be in the future", model.ErrValidation)
	}

	product, err := s.store.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}

	if mode == model.GoalModeDraft {
		draft, err := s.store.FindDraft(ctx, userID, product.ID)
		switch {
		case err == nil:
			g, err := s.store.UpdateDraft(ctx, draft.ID, req.TargetAmount, req.EndDate)
			if err != nil {
				return nil, err
			}
			view := ledger.View(*g, nil)
			return &view, nil
		case !errors.Is(err, model.ErrNotFound):
			return nil, err
		}
	}

	status := model.GoalStatusActive
	if mode == model.GoalModeDraft {
		status = model.GoalStatusDraft
	}

	g := model.Goal{
		ID:           uuid.New(),
		UserID:       userID,
		ProductID:    product.ID,
		TargetAmount: req.TargetAmount,
		Saved:        decimal.Zero,
		Status:       status,
		LockedPrice:  product.Price,
		EndDate:      req.EndDate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateGoal(ctx, &g, newPriceLock(g, product, now)); err != nil {
		return nil, err
	}

	s.logger.Info("goal created",
		zap.String("goal_id", g.ID.String()),
		zap.String("user_id", userID),
		zap.String("status", g.Status.String()),
	)

	view := ledger.View(g, nil)
	return &view, nil
}

func newPriceLock(g model.Goal, p *model.Product, now time.Time) *model.PriceLock {
	return &model.PriceLock{
		ID:            uuid.New(),
		ProductID:     p.ID,
		GoalID:        g.ID,
		LockedPrice:   p.Price,
		OriginalPrice: p.Price,
		LockedBy:      g.UserID,
		StoreID:       p.StoreID,
		Status:        model.PriceLockActive,
		ExpiresAt:     g.EndDate,
		CreatedAt:     now,
	}
}

// ActivateGoal переводит черновик в активную цель. Действующая фиксация цены сохраняется,
// истёкшая или отсутствующая фиксация создаётся заново по текущей цене товара.
// Черновик с прошедшей датой окончания активировать нельзя.
func (s *Service) ActivateGoal(ctx context.Context, goalID uuid.UUID, userID string) (*model.GoalView, error) {
	var view model.GoalView

	err := s.store.WithGoalLock(ctx, goalID, func(ctx context.Context, tx repository.GoalTx) error {
		g := tx.Goal()
		if !g.OwnedBy(userID) {
			return fmt.Errorf("%w: goal %s", model.ErrForbidden, goalID)
		}

		next, err := g.Status.Activate()
		if err != nil {
			return err
		}

		now := s.now()
		if g.EndDate != nil && !g.EndDate.After(now) {
			return fmt.Errorf("%w: draft %s expired at %s", model.ErrConflict, goalID, g.EndDate.Format(time.RFC3339))
		}

		pl, err := tx.PriceLock(ctx)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}
		if pl == nil || pl.Status != model.PriceLockActive || pl.Expired(now) {
			product, err := s.store.GetProduct(ctx, g.ProductID)
			if err != nil {
				return err
			}
			fresh := newPriceLock(g, product, now)
			if pl != nil {
				fresh.ID = pl.ID
			}
			if err := tx.SavePriceLock(ctx, fresh); err != nil {
				return err
			}
			pl = fresh
		}

		g.Status = next
		g.LockedPrice = pl.LockedPrice
		g.UpdatedAt = now
		if err := tx.SaveGoal(ctx, &g); err != nil {
			return err
		}

		deposits, err := tx.Deposits(ctx)
		if err != nil {
			return err
		}
		view = ledger.View(g, deposits)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// CancelGoal отменяет цель. Черновик или цель без накоплений удаляется вместе
// с депозитами и фиксацией цены. Активная цель с накоплениями помечается REFUNDED:
// фиксация цены освобождается, депозиты остаются в журнале.
func (s *Service) CancelGoal(ctx context.Context, goalID uuid.UUID, userID string) (model.CancelAction, error) {
	var action model.CancelAction

	err := s.store.WithGoalLock(ctx, goalID, func(ctx context.Context, tx repository.GoalTx) error {
		g := tx.Goal()
		if !g.OwnedBy(userID) {
			return fmt.Errorf("%w: goal %s", model.ErrForbidden, goalID)
		}
		if g.Status.IsTerminal() {
			return fmt.Errorf("%w: goal in status %s cannot be cancelled", model.ErrConflict, g.Status)
		}

		if g.Deletable() {
			action = model.CancelDeleted
			return tx.DeleteGoal(ctx)
		}

		next, err := g.Status.Refund()
		if err != nil {
			return err
		}

		pl, err := tx.PriceLock(ctx)
		switch {
		case err == nil:
			pl.Status = model.PriceLockReleased
			if err := tx.SavePriceLock(ctx, pl); err != nil {
				return err
			}
		case !errors.Is(err, model.ErrNotFound):
			return err
		}

		g.Status = next
		g.UpdatedAt = s.now()
		if err := tx.SaveGoal(ctx, &g); err != nil {
			return err
		}
		action = model.CancelRefunded
		return nil
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("goal cancelled",
		zap.String("goal_id", goalID.String()),
		zap.String("action", string(action)),
	)
	return action, nil
}

// ExpireStaleDrafts удаляет черновики, дата окончания которых уже прошла.
func (s *Service) ExpireStaleDrafts(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredDrafts(ctx, s.now())
	if err != nil {
		return 0, err
	}
	s.metrics.DraftsExpired.Add(float64(n))
	return n, nil
}

// GetGoal возвращает цель пользователя с депозитами и прогрессом.
func (s *Service) GetGoal(ctx context.Context, goalID uuid.UUID, userID string) (*model.GoalView, error) {
	g, err := s.ownedGoal(ctx, goalID, userID)
	if err != nil {
		return nil, err
	}

	deposits, err := s.store.ListDeposits(ctx, goalID)
	if err != nil {
		return nil, err
	}

	view := ledger.View(*g, deposits)
	return &view, nil
}

// ListGoals возвращает цели пользователя, разбитые на черновики, активные и завершённые.
func (s *Service) ListGoals(ctx context.Context, userID string) (*model.GoalList, error) {
	goals, err := s.store.ListGoalsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	deposits, err := s.store.ListDepositsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	byGoal := make(map[uuid.UUID][]model.Deposit, len(goals))
	for _, d := range deposits {
		byGoal[d.GoalID] = append(byGoal[d.GoalID], d)
	}

	list := &model.GoalList{}
	for _, g := range goals {
		view := ledger.View(g, byGoal[g.ID])
		switch {
		case g.Status == model.GoalStatusDraft:
			list.Drafts = append(list.Drafts, view)
		case g.Status == model.GoalStatusActive:
			list.Active = append(list.Active, view)
		default:
			list.Terminal = append(list.Terminal, view)
		}
	}
	return list, nil
}

// RefundQuote рассчитывает выплату при отмене цели. Журнал не меняется.
func (s *Service) RefundQuote(ctx context.Context, goalID uuid.UUID, userID string) (*model.RefundQuote, error) {
	g, err := s.ownedGoal(ctx, goalID, userID)
	if err != nil {
		return nil, err
	}
	if g.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: goal in status %s cannot be cancelled", model.ErrConflict, g.Status)
	}

	q := ledger.QuoteRefund(g.Saved, s.opts.RefundFeePercent)
	return &q, nil
}

func (s *Service) ownedGoal(ctx context.Context, goalID uuid.UUID, userID string) (*model.Goal, error) {
	g, err := s.store.GetGoal(ctx, goalID)
	if err != nil {
		return nil, err
	}
	if !g.OwnedBy(userID) {
		return nil, fmt.Errorf("%w: goal %s", model.ErrForbidden, goalID)
	}
	return g, nil
}
