package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/dreamsaver/internal/ledger"
	"github.com/mmeshcher/dreamsaver/internal/metrics"
	"github.com/mmeshcher/dreamsaver/internal/model"
	"github.com/mmeshcher/dreamsaver/internal/payment"
	"github.com/mmeshcher/dreamsaver/internal/repository"
	"github.com/mmeshcher/dreamsaver/internal/validation"
)

const paymentMethodStripe = "stripe"

// Результаты обработки уведомления платёжной системы для метрик.
const (
	webhookSettled  = "settled"
	webhookIgnored  = "ignored"
	webhookUnpaid   = "unpaid"
	webhookRejected = "rejected"
	webhookFailed   = "failed"
)

// ProviderRef строит ссылку депозита для одной цели в сессии оплаты.
// Уведомление и подтверждение после редиректа получают одну и ту же ссылку.
func ProviderRef(sessionID string, goalID uuid.UUID) string {
	return sessionID + ":" + goalID.String()
}

// SettlePayment проводит подтверждённую оплату по цели: записывает депозит,
// пересчитывает накопления по журналу и завершает цель при достижении суммы.
// Повтор с той же ссылкой ничего не меняет и возвращает текущее состояние с Replayed.
func (s *Service) SettlePayment(ctx context.Context, goalID uuid.UUID, userID string, amount decimal.Decimal, providerRef string) (*model.Settlement, error) {
	if !validation.IsValidAmount(amount) {
		return nil, fmt.Errorf("%w: deposit amount must be positive whole cents within range, got %s", model.ErrValidation, amount)
	}
	if strings.TrimSpace(providerRef) == "" {
		return nil, fmt.Errorf("%w: provider reference is required", model.ErrValidation)
	}

	start := time.Now()
	var (
		res          model.Settlement
		justComplete bool
	)

	err := s.store.WithGoalLock(ctx, goalID, func(ctx context.Context, tx repository.GoalTx) error {
		res = model.Settlement{}
		justComplete = false

		g := tx.Goal()
		if !g.OwnedBy(userID) {
			return fmt.Errorf("%w: goal %s", model.ErrForbidden, goalID)
		}

		if existing, err := tx.LookupDeposit(ctx, providerRef); err == nil {
			return s.replay(ctx, tx, existing, amount, &res)
		} else if !errors.Is(err, model.ErrNotFound) {
			return err
		}

		if !g.Status.AcceptsDeposits() {
			return fmt.Errorf("%w: deposits are locked for goal in status %s", model.ErrConflict, g.Status)
		}

		now := s.now()
		inserted, err := tx.InsertDeposit(ctx, &model.Deposit{
			ID:            uuid.New(),
			GoalID:        g.ID,
			UserID:        userID,
			Amount:        amount,
			PaymentMethod: paymentMethodStripe,
			Status:        model.DepositStatusCompleted,
			ProviderRef:   providerRef,
			CreatedAt:     now,
		})
		if err != nil {
			return err
		}
		if !inserted {
			existing, err := tx.LookupDeposit(ctx, providerRef)
			if err != nil {
				return err
			}
			return s.replay(ctx, tx, existing, amount, &res)
		}

		deposits, err := tx.Deposits(ctx)
		if err != nil {
			return err
		}

		justComplete, err = g.ApplySettlement(ledger.RecomputeSaved(deposits), now)
		if err != nil {
			return err
		}
		if err := tx.SaveGoal(ctx, &g); err != nil {
			return err
		}

		if justComplete {
			s.enqueueCompletion(ctx, tx, g, now)
		}

		res.View = ledger.View(g, deposits)
		res.Completed = g.Status == model.GoalStatusCompleted
		return nil
	})

	s.metrics.SettlementDuration.Observe(time.Since(start).Seconds())
	s.metrics.Settlements.WithLabelValues(settlementOutcome(err, res.Replayed, justComplete)).Inc()

	if err != nil {
		return nil, err
	}

	s.logger.Info("payment settled",
		zap.String("goal_id", goalID.String()),
		zap.String("provider_ref", providerRef),
		zap.String("saved", res.View.Goal.Saved.String()),
		zap.Bool("replayed", res.Replayed),
		zap.Bool("completed", justComplete),
	)
	return &res, nil
}

// replay возвращает текущее состояние цели для уже проведённой оплаты.
// Ссылка, уже занятая депозитом другой цели или другой суммы, означает конфликт, а не повтор.
func (s *Service) replay(ctx context.Context, tx repository.GoalTx, existing *model.Deposit, amount decimal.Decimal, res *model.Settlement) error {
	g := tx.Goal()
	if existing.GoalID != g.ID {
		return fmt.Errorf("%w: provider reference %s already settled for another goal", model.ErrConflict, existing.ProviderRef)
	}
	if !existing.Amount.Equal(amount) {
		return fmt.Errorf("%w: provider reference %s already settled with amount %s, got %s",
			model.ErrConflict, existing.ProviderRef, existing.Amount, amount)
	}

	deposits, err := tx.Deposits(ctx)
	if err != nil {
		return err
	}
	res.View = ledger.View(g, deposits)
	res.Completed = g.Status == model.GoalStatusCompleted
	res.Replayed = true
	return nil
}

// enqueueCompletion сохраняет уведомление о завершении. Сбой не отменяет проведение платежа.
func (s *Service) enqueueCompletion(ctx context.Context, tx repository.GoalTx, g model.Goal, now time.Time) {
	n := &model.Notification{
		ID:        uuid.New(),
		UserID:    g.UserID,
		GoalID:    g.ID,
		Type:      model.NotificationGoalComplete,
		Title:     "Goal Completed!",
		Message:   fmt.Sprintf("You have saved %s and reached your goal. Your item is ready to redeem.", g.Saved.StringFixed(2)),
		CreatedAt: now,
	}
	if err := tx.EnqueueNotification(ctx, n); err != nil {
		s.logger.Warn("enqueue completion notification",
			zap.String("goal_id", g.ID.String()),
			zap.Error(err),
		)
	}
}

func settlementOutcome(err error, replayed, completed bool) string {
	switch {
	case err == nil && replayed:
		return metrics.OutcomeReplay
	case err == nil && completed:
		return metrics.OutcomeCompleted
	case err == nil:
		return metrics.OutcomeSettled
	case errors.Is(err, model.ErrTransient), !model.IsDomainError(err):
		return metrics.OutcomeFailed
	default:
		return metrics.OutcomeRejected
	}
}

// ConfirmDeposit проводит оплату после возврата пользователя из платёжной формы.
// Сессия запрашивается у платёжной системы: проверяются статус оплаты, владелец,
// принадлежность цели сессии и сумма. Нулевой amount означает долю цели из сессии.
func (s *Service) ConfirmDeposit(ctx context.Context, goalID uuid.UUID, userID, sessionID string, amount decimal.Decimal) (*model.Settlement, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id is required", model.ErrValidation)
	}

	ev, err := s.gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ev.Paid {
		return nil, fmt.Errorf("%w: payment for session %s is not completed", model.ErrConflict, sessionID)
	}
	if ev.UserID != userID {
		return nil, fmt.Errorf("%w: session %s", model.ErrForbidden, sessionID)
	}

	idx := slices.Index(ev.GoalIDs, goalID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: session %s does not pay for goal %s", model.ErrValidation, sessionID, goalID)
	}
	share := ledger.SplitAmount(ev.AmountPaid, len(ev.GoalIDs))[idx]
	if !amount.IsZero() && !amount.Equal(share) {
		return nil, fmt.Errorf("%w: amount %s does not match paid %s", model.ErrValidation, amount, share)
	}

	return s.SettlePayment(ctx, goalID, userID, share, ProviderRef(sessionID, goalID))
}

// HandleWebhook проверяет и обрабатывает уведомление платёжной системы.
// Ошибка возвращается только для неверной подписи или формата (ErrValidation)
// и для временных сбоев, после которых уведомление нужно доставить повторно.
// Доменные отказы по отдельным целям журналируются и подтверждаются.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ev, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, payment.ErrIgnoredEvent) || errors.Is(err, payment.ErrForeignEvent) {
			s.metrics.WebhookEvents.WithLabelValues(webhookIgnored).Inc()
			s.logger.Debug("webhook event skipped", zap.Error(err))
			return nil
		}
		s.metrics.WebhookEvents.WithLabelValues(webhookRejected).Inc()
		return err
	}

	if !ev.Paid {
		s.metrics.WebhookEvents.WithLabelValues(webhookUnpaid).Inc()
		s.logger.Info("webhook session is not paid", zap.String("session_id", ev.SessionID))
		return nil
	}

	if err := s.settleEvent(ctx, ev); err != nil {
		s.metrics.WebhookEvents.WithLabelValues(webhookFailed).Inc()
		return err
	}
	s.metrics.WebhookEvents.WithLabelValues(webhookSettled).Inc()
	return nil
}

// settleEvent делит оплату между целями сессии и проводит каждую долю отдельно.
func (s *Service) settleEvent(ctx context.Context, ev *payment.PaymentEvent) error {
	parts := ledger.SplitAmount(ev.AmountPaid, len(ev.GoalIDs))

	var errs []error
	for i, goalID := range ev.GoalIDs {
		_, err := s.SettlePayment(ctx, goalID, ev.UserID, parts[i], ProviderRef(ev.SessionID, goalID))
		if err == nil {
			continue
		}
		if model.IsDomainError(err) && !errors.Is(err, model.ErrTransient) {
			s.logger.Warn("webhook settlement rejected",
				zap.String("session_id", ev.SessionID),
				zap.String("goal_id", goalID.String()),
				zap.Error(err),
			)
			continue
		}
		errs = append(errs, fmt.Errorf("goal %s: %w", goalID, err))
	}
	return errors.Join(errs...)
}
