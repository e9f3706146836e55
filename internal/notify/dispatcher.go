package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/dreamsaver/internal/metrics"
	"github.com/mmeshcher/dreamsaver/internal/model"
)

const subjectPrefix = "dreamsaver.notifications."

// Store описывает доступ к outbox уведомлений.
type Store interface {
	PendingNotifications(ctx context.Context, limit int) ([]model.Notification, error)
	MarkNotificationPublished(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Event — сообщение об уведомлении в шине событий.
type Event struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	GoalID    string    `json:"goalId"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Dispatcher периодически публикует неопубликованные уведомления.
type Dispatcher struct {
	store     Store
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	interval  time.Duration
	batch     int
	now       func() time.Time
}

// NewDispatcher создаёт диспетчер уведомлений.
func NewDispatcher(store Store, publisher Publisher, m *metrics.Metrics, logger *zap.Logger, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		interval:  interval,
		batch:     100,
		now:       time.Now,
	}
}

// Subject возвращает тему шины для типа уведомления.
func Subject(t model.NotificationType) string {
	return subjectPrefix + strings.ToLower(string(t))
}

// Run публикует уведомления до отмены ctx.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
				d.logger.Warn("dispatch notifications", zap.Error(err))
			}
		}
	}
}

// DispatchOnce публикует одну пачку уведомлений и возвращает число опубликованных.
// Уведомление, которое не удалось опубликовать, останется в outbox до следующего прохода.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	pending, err := d.store.PendingNotifications(ctx, d.batch)
	if err != nil {
		return 0, fmt.Errorf("load pending notifications: %w", err)
	}

	published := 0
	for _, n := range pending {
		data, err := json.Marshal(Event{
			ID:        n.ID.String(),
			UserID:    n.UserID,
			GoalID:    n.GoalID.String(),
			Type:      string(n.Type),
			Title:     n.Title,
			Message:   n.Message,
			CreatedAt: n.CreatedAt,
		})
		if err != nil {
			return published, fmt.Errorf("encode notification %s: %w", n.ID, err)
		}

		if err := d.publisher.Publish(ctx, Subject(n.Type), data); err != nil {
			return published, err
		}

		if err := d.store.MarkNotificationPublished(ctx, n.ID, d.now()); err != nil {
			return published, fmt.Errorf("mark notification %s: %w", n.ID, err)
		}
		published++
		d.metrics.NotificationsPublished.Inc()
	}

	return published, nil
}
