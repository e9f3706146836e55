package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/dreamsaver/internal/model"
	"github.com/mmeshcher/dreamsaver/internal/payment"
	"github.com/mmeshcher/dreamsaver/internal/validation"
)

var minShare = decimal.New(1, -2)

// Deposit создаёт сессию оплаты для пополнения одной цели.
// Депозит появится только после подтверждения оплаты.
func (s *Service) Deposit(ctx context.Context, goalID uuid.UUID, userID string, amount decimal.Decimal) (*payment.CheckoutSession, error) {
	return s.DepositMany(ctx, userID, []uuid.UUID{goalID}, amount)
}

// DepositMany создаёт одну сессию оплаты для нескольких целей.
// После оплаты сумма делится между целями поровну, остаток достаётся первой цели.
func (s *Service) DepositMany(ctx context.Context, userID string, goalIDs []uuid.UUID, amount decimal.Decimal) (*payment.CheckoutSession, error) {
	if len(goalIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one goal is required", model.ErrValidation)
	}
	if !validation.IsValidAmount(amount) {
		return nil, fmt.Errorf("%w: amount must be positive with at most two decimals", model.ErrValidation)
	}
	if amount.LessThan(minShare.Mul(decimal.NewFromInt(int64(len(goalIDs))))) {
		return nil, fmt.Errorf("%w: amount is too small to split between %d goals", model.ErrValidation, len(goalIDs))
	}

	seen := make(map[uuid.UUID]struct{}, len(goalIDs))
	for _, id := range goalIDs {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: goal %s listed twice", model.ErrValidation, id)
		}
		seen[id] = struct{}{}

		g, err := s.ownedGoal(ctx, id, userID)
		if err != nil {
			return nil, err
		}
		if !g.Status.AcceptsDeposits() {
			return nil, fmt.Errorf("%w: deposits are locked for goal in status %s", model.ErrConflict, g.Status)
		}
	}

	successURL, cancelURL := s.returnURLs(goalIDs)
	session, err := s.gateway.CreateCheckoutSession(ctx, payment.CheckoutRequest{
		Amount:      amount,
		Description: "Savings Goal Deposit",
		SuccessURL:  successURL,
		CancelURL:   cancelURL,
		GoalIDs:     goalIDs,
		UserID:      userID,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("checkout session created",
		zap.String("session_id", session.ID),
		zap.String("user_id", userID),
		zap.Int("goals", len(goalIDs)),
		zap.String("amount", amount.StringFixed(2)),
	)
	return session, nil
}

// returnURLs строит адреса возврата из платёжной формы.
// {CHECKOUT_SESSION_ID} подставляет платёжная система.
func (s *Service) returnURLs(goalIDs []uuid.UUID) (string, string) {
	base := strings.TrimRight(s.opts.PublicURL, "/")
	page := base + "/goals"
	if len(goalIDs) == 1 {
		page += "/" + goalIDs[0].String()
	}
	return page + "?payment=success&session_id={CHECKOUT_SESSION_ID}", page + "?payment=cancelled"
}
