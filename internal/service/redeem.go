package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/dreamsaver/internal/delivery"
	"github.com/mmeshcher/dreamsaver/internal/model"
	"github.com/mmeshcher/dreamsaver/internal/repository"
)

const notificationsLimit = 50

// RedeemGoal передаёт товар завершённой цели в доставку и запоминает номер доставки.
// Повторный вызов возвращает уже созданную доставку.
func (s *Service) RedeemGoal(ctx context.Context, goalID uuid.UUID, userID, addressID string) (*model.Goal, error) {
	if strings.TrimSpace(addressID) == "" {
		return nil, fmt.Errorf("%w: address id is required", model.ErrValidation)
	}

	var redeemed model.Goal
	err := s.store.WithGoalLock(ctx, goalID, func(ctx context.Context, tx repository.GoalTx) error {
		g := tx.Goal()
		if !g.OwnedBy(userID) {
			return fmt.Errorf("%w: goal %s", model.ErrForbidden, goalID)
		}
		if g.DeliveryID != nil {
			redeemed = g
			return nil
		}
		if g.Status != model.GoalStatusCompleted {
			return fmt.Errorf("%w: goal in status %s cannot be redeemed", model.ErrConflict, g.Status)
		}

		req := delivery.Request{
			GoalID:    g.ID.String(),
			UserID:    g.UserID,
			ProductID: g.ProductID,
			AddressID: addressID,
			Amount:    g.Saved,
		}
		if pl, err := tx.PriceLock(ctx); err == nil {
			req.StoreID = pl.StoreID
		} else if !errors.Is(err, model.ErrNotFound) {
			return err
		}

		// Вызов идёт под блокировкой строки и может повториться при конфликте сериализации.
		// Повтор безопасен: служба доставки дедуплицирует запросы по Idempotency-Key = id цели.
		d, code, retryAfter, err := s.delivery.CreateDelivery(ctx, req)
		if err != nil {
			if code >= http.StatusInternalServerError || code == 0 {
				return fmt.Errorf("%w: create delivery: %v", model.ErrTransient, err)
			}
			return fmt.Errorf("%w: create delivery: %v", model.ErrGateway, err)
		}
		if code == http.StatusTooManyRequests {
			return fmt.Errorf("%w: delivery service is busy, retry after %s", model.ErrTransient, retryAfter)
		}

		now := s.now()
		g.DeliveryID = &d.ID
		g.RedeemedAt = &now
		g.UpdatedAt = now
		if err := tx.SaveGoal(ctx, &g); err != nil {
			return err
		}
		redeemed = g
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("goal redeemed",
		zap.String("goal_id", goalID.String()),
		zap.String("delivery_id", *redeemed.DeliveryID),
	)
	return &redeemed, nil
}

// ListNotifications возвращает последние уведомления пользователя.
func (s *Service) ListNotifications(ctx context.Context, userID string) ([]model.Notification, error) {
	return s.store.ListNotifications(ctx, userID, notificationsLimit)
}
