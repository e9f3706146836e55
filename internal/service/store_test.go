package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/dreamsaver/internal/model"
	"github.com/mmeshcher/dreamsaver/internal/repository"
)

// memStore — хранилище в памяти с построчной блокировкой целей и откатом при ошибке fn.
type memStore struct {
	mu            sync.Mutex
	rowLocks      map[uuid.UUID]*sync.Mutex
	products      map[string]model.Product
	goals         map[uuid.UUID]model.Goal
	deposits      []model.Deposit
	priceLocks    map[uuid.UUID]model.PriceLock
	notifications []model.Notification

	notifyErr   error
	lockErr     error
	expiredErr  error
	expireCalls int

	// concurrentInsert фиксируется другой транзакцией прямо перед вставкой депозита,
	// как при гонке двух уведомлений с одной ссылкой.
	concurrentInsert *model.Deposit
}

func newMemStore() *memStore {
	return &memStore{
		rowLocks:   make(map[uuid.UUID]*sync.Mutex),
		products:   make(map[string]model.Product),
		goals:      make(map[uuid.UUID]model.Goal),
		priceLocks: make(map[uuid.UUID]model.PriceLock),
	}
}

func (s *memStore) Close() error { return nil }

func (s *memStore) addProduct(id string, price string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[id] = model.Product{ID: id, Name: "Product " + id, Price: decimal.RequireFromString(price), StoreID: "store-1"}
}

func (s *memStore) putGoal(g model.Goal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goals[g.ID] = g
}

func (s *memStore) goal(id uuid.UUID) (model.Goal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[id]
	return g, ok
}

func (s *memStore) depositsOf(goalID uuid.UUID) []model.Deposit {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.Deposit
	for _, d := range s.deposits {
		if d.GoalID == goalID {
			res = append(res, d)
		}
	}
	return res
}

func (s *memStore) priceLock(goalID uuid.UUID) (model.PriceLock, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.priceLocks[goalID]
	return l, ok
}

func (s *memStore) GetProduct(_ context.Context, id string) (*model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", model.ErrNotFound, id)
	}
	return &p, nil
}

func (s *memStore) CreateGoal(_ context.Context, g *model.Goal, l *model.PriceLock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.Status == model.GoalStatusDraft {
		for _, other := range s.goals {
			if other.Status == model.GoalStatusDraft && other.UserID == g.UserID && other.ProductID == g.ProductID {
				return fmt.Errorf("%w: draft for product %s already exists", model.ErrConflict, g.ProductID)
			}
		}
	}
	s.goals[g.ID] = *g
	if l != nil {
		s.priceLocks[g.ID] = *l
	}
	return nil
}

func (s *memStore) FindDraft(_ context.Context, userID, productID string) (*model.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.goals {
		if g.Status == model.GoalStatusDraft && g.UserID == userID && g.ProductID == productID {
			return &g, nil
		}
	}
	return nil, fmt.Errorf("%w: draft for product %s", model.ErrNotFound, productID)
}

func (s *memStore) UpdateDraft(_ context.Context, id uuid.UUID, target decimal.Decimal, endDate *time.Time) (*model.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[id]
	if !ok || g.Status != model.GoalStatusDraft {
		return nil, fmt.Errorf("%w: draft %s", model.ErrNotFound, id)
	}
	g.TargetAmount = target
	if endDate != nil {
		g.EndDate = endDate
		if l, ok := s.priceLocks[id]; ok {
			l.ExpiresAt = endDate
			s.priceLocks[id] = l
		}
	}
	s.goals[id] = g
	return &g, nil
}

func (s *memStore) GetGoal(_ context.Context, id uuid.UUID) (*model.Goal, error) {
	g, ok := s.goal(id)
	if !ok {
		return nil, fmt.Errorf("%w: goal %s", model.ErrNotFound, id)
	}
	return &g, nil
}

func (s *memStore) ListGoalsByUser(_ context.Context, userID string) ([]model.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.Goal
	for _, g := range s.goals {
		if g.UserID == userID {
			res = append(res, g)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (s *memStore) ListDeposits(_ context.Context, goalID uuid.UUID) ([]model.Deposit, error) {
	return s.depositsOf(goalID), nil
}

func (s *memStore) ListDepositsByUser(_ context.Context, userID string) ([]model.Deposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.Deposit
	for _, d := range s.deposits {
		if d.UserID == userID {
			res = append(res, d)
		}
	}
	return res, nil
}

func (s *memStore) DeleteExpiredDrafts(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireCalls++
	if s.expiredErr != nil {
		return 0, s.expiredErr
	}
	var n int64
	for id, g := range s.goals {
		if g.Status == model.GoalStatusDraft && g.EndDate != nil && g.EndDate.Before(now) {
			delete(s.goals, id)
			delete(s.priceLocks, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) ListNotifications(_ context.Context, userID string, limit int) ([]model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.Notification
	for _, n := range s.notifications {
		if n.UserID == userID && len(res) < limit {
			res = append(res, n)
		}
	}
	return res, nil
}

func (s *memStore) rowLock(id uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.rowLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.rowLocks[id] = l
	}
	return l
}

func (s *memStore) WithGoalLock(ctx context.Context, goalID uuid.UUID, fn func(ctx context.Context, tx repository.GoalTx) error) error {
	if s.lockErr != nil {
		return s.lockErr
	}

	row := s.rowLock(goalID)
	row.Lock()
	defer row.Unlock()

	g, ok := s.goal(goalID)
	if !ok {
		return fmt.Errorf("%w: goal %s", model.ErrNotFound, goalID)
	}

	tx := &memTx{store: s, goal: g}
	if pl, ok := s.priceLock(goalID); ok {
		tx.lock = &pl
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// memTx копит изменения до фиксации.
type memTx struct {
	store         *memStore
	goal          model.Goal
	lock          *model.PriceLock
	newDeposits   []model.Deposit
	notifications []model.Notification
	deleted       bool
}

func (t *memTx) Goal() model.Goal { return t.goal }

func (t *memTx) LookupDeposit(_ context.Context, ref string) (*model.Deposit, error) {
	for _, d := range t.allDeposits() {
		if d.ProviderRef == ref {
			return &d, nil
		}
	}
	return nil, fmt.Errorf("%w: deposit %s", model.ErrNotFound, ref)
}

func (t *memTx) allDeposits() []model.Deposit {
	t.store.mu.Lock()
	res := append([]model.Deposit(nil), t.store.deposits...)
	t.store.mu.Unlock()
	return append(res, t.newDeposits...)
}

func (t *memTx) InsertDeposit(ctx context.Context, d *model.Deposit) (bool, error) {
	t.store.mu.Lock()
	if c := t.store.concurrentInsert; c != nil {
		t.store.deposits = append(t.store.deposits, *c)
		t.store.concurrentInsert = nil
	}
	t.store.mu.Unlock()

	if _, err := t.LookupDeposit(ctx, d.ProviderRef); err == nil {
		return false, nil
	}
	t.newDeposits = append(t.newDeposits, *d)
	return true, nil
}

func (t *memTx) Deposits(_ context.Context) ([]model.Deposit, error) {
	var res []model.Deposit
	for _, d := range t.allDeposits() {
		if d.GoalID == t.goal.ID {
			res = append(res, d)
		}
	}
	return res, nil
}

func (t *memTx) SaveGoal(_ context.Context, g *model.Goal) error {
	t.goal = *g
	return nil
}

func (t *memTx) DeleteGoal(_ context.Context) error {
	t.deleted = true
	return nil
}

func (t *memTx) PriceLock(_ context.Context) (*model.PriceLock, error) {
	if t.lock == nil {
		return nil, fmt.Errorf("%w: price lock for goal %s", model.ErrNotFound, t.goal.ID)
	}
	l := *t.lock
	return &l, nil
}

func (t *memTx) SavePriceLock(_ context.Context, l *model.PriceLock) error {
	cp := *l
	t.lock = &cp
	return nil
}

func (t *memTx) EnqueueNotification(_ context.Context, n *model.Notification) error {
	if t.store.notifyErr != nil {
		return t.store.notifyErr
	}
	t.notifications = append(t.notifications, *n)
	return nil
}

func (t *memTx) commit() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	id := t.goal.ID
	if t.deleted {
		delete(s.goals, id)
		delete(s.priceLocks, id)
		kept := s.deposits[:0]
		for _, d := range s.deposits {
			if d.GoalID != id {
				kept = append(kept, d)
			}
		}
		s.deposits = kept
		return
	}

	s.goals[id] = t.goal
	if t.lock != nil {
		s.priceLocks[id] = *t.lock
	}
	s.deposits = append(s.deposits, t.newDeposits...)
	s.notifications = append(s.notifications, t.notifications...)
}

var errBoom = errors.New("boom")
