package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/dreamsaver/internal/metrics"
	"github.com/mmeshcher/dreamsaver/internal/model"
)

type stubStore struct {
	mu        sync.Mutex
	pending   []model.Notification
	published map[uuid.UUID]time.Time
	loadErr   error
}

func (s *stubStore) PendingNotifications(_ context.Context, limit int) ([]model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loadErr != nil {
		return nil, s.loadErr
	}
	var res []model.Notification
	for _, n := range s.pending {
		if _, ok := s.published[n.ID]; ok {
			continue
		}
		res = append(res, n)
		if len(res) == limit {
			break
		}
	}
	return res, nil
}

func (s *stubStore) MarkNotificationPublished(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.published == nil {
		s.published = make(map[uuid.UUID]time.Time)
	}
	s.published[id] = at
	return nil
}

type message struct {
	subject string
	data    []byte
}

type stubPublisher struct {
	mu       sync.Mutex
	messages []message
	failOn   int
}

func (p *stubPublisher) Publish(_ context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failOn > 0 && len(p.messages)+1 == p.failOn {
		return errors.New("bus unavailable")
	}
	p.messages = append(p.messages, message{subject: subject, data: data})
	return nil
}

func (p *stubPublisher) Close() {}

func newNotification(user string) model.Notification {
	return model.Notification{
		ID:        uuid.New(),
		UserID:    user,
		GoalID:    uuid.New(),
		Type:      model.NotificationGoalComplete,
		Title:     "Goal Completed!",
		Message:   "You have reached your savings goal",
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestDispatchOnce_PublishesAndMarks(t *testing.T) {
	store := &stubStore{pending: []model.Notification{newNotification("u1"), newNotification("u2")}}
	pub := &stubPublisher{}
	m := metrics.NewNop()

	d := NewDispatcher(store, pub, m, zap.NewNop(), time.Second)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	n, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, pub.messages, 2)
	assert.Equal(t, "dreamsaver.notifications.goal_complete", pub.messages[0].subject)

	var ev Event
	require.NoError(t, json.Unmarshal(pub.messages[0].data, &ev))
	assert.Equal(t, "u1", ev.UserID)
	assert.Equal(t, "GOAL_COMPLETE", ev.Type)
	assert.Equal(t, store.pending[0].GoalID.String(), ev.GoalID)

	assert.Equal(t, now, store.published[store.pending[0].ID])
	assert.Equal(t, 2.0, testutil.ToFloat64(m.NotificationsPublished))

	n, err = d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDispatchOnce_PublishFailureKeepsRest(t *testing.T) {
	store := &stubStore{pending: []model.Notification{newNotification("u1"), newNotification("u2")}}
	pub := &stubPublisher{failOn: 2}

	d := NewDispatcher(store, pub, metrics.NewNop(), zap.NewNop(), time.Second)

	n, err := d.DispatchOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, store.published, store.pending[0].ID)
	assert.NotContains(t, store.published, store.pending[1].ID)
}

func TestDispatchOnce_LoadError(t *testing.T) {
	store := &stubStore{loadErr: model.ErrTransient}

	d := NewDispatcher(store, &stubPublisher{}, metrics.NewNop(), zap.NewNop(), time.Second)

	_, err := d.DispatchOnce(context.Background())
	assert.ErrorIs(t, err, model.ErrTransient)
}

func TestRun_StopsOnCancel(t *testing.T) {
	store := &stubStore{pending: []model.Notification{newNotification("u1")}}
	pub := &stubPublisher{}

	d := NewDispatcher(store, pub, metrics.NewNop(), zap.NewNop(), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.messages) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestConnectNATS_Unreachable(t *testing.T) {
	_, err := ConnectNATS("nats://127.0.0.1:1", zap.NewNop())
	assert.Error(t, err)
}

func TestLogPublisher(t *testing.T) {
	p := NewLogPublisher(zap.NewNop())
	assert.NoError(t, p.Publish(context.Background(), Subject(model.NotificationGoalComplete), []byte(`{}`)))
	p.Close()
}
