package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/psds-microservice/queue-service/internal/clock"
	"github.com/psds-microservice/queue-service/internal/errs"
	"github.com/psds-microservice/queue-service/internal/model"
)

// Memory хранит записи в памяти процесса (STORE_DRIVER=memory и тесты).
// Все операции под одним мьютексом, поэтому IssueTicket и CompareAndUpdate атомарны.
type Memory struct {
	mu      sync.RWMutex
	entries []*model.QueueEntry
	byID    map[string]*model.QueueEntry
}

func NewMemory() *Memory {
	return &Memory{byID: make(map[string]*model.QueueEntry)}
}

// Seed вставляет записи как есть, без выдачи номера. Для фикстур и импорта.
func (m *Memory) Seed(entries ...model.QueueEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range entries {
		e := clone(&entries[i])
		m.entries = append(m.entries, e)
		m.byID[e.ID] = e
	}
}

func (m *Memory) IssueTicket(ctx context.Context, department string, w clock.Window, build func(issued int64) *model.QueueEntry) (*model.QueueEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	f := Filter{Department: department, Created: w}
	var issued int64
	for _, e := range m.entries {
		if f.match(e) {
			issued++
		}
	}
	e := clone(build(issued))
	if _, dup := m.byID[e.ID]; dup {
		return nil, errs.ErrDuplicateTicket
	}
	for _, other := range m.entries {
		if other.Department == e.Department && other.TicketDay == e.TicketDay && other.TicketNumber == e.TicketNumber {
			return nil, errs.ErrDuplicateTicket
		}
	}
	m.entries = append(m.entries, e)
	m.byID[e.ID] = e
	return clone(e), nil
}

func (m *Memory) FindByID(ctx context.Context, id string) (*model.QueueEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return clone(e), nil
}

func (m *Memory) FindByTicketNumber(ctx context.Context, number string) (*model.QueueEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *model.QueueEntry
	for _, e := range m.entries {
		if e.TicketNumber != number {
			continue
		}
		if found == nil || !e.CreatedAt.Before(found.CreatedAt) {
			found = e
		}
	}
	if found == nil {
		return nil, errs.ErrNotFound
	}
	return clone(found), nil
}

func (m *Memory) FindMany(ctx context.Context, f Filter, order Order, limit int) ([]model.QueueEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	matched := make([]*model.QueueEntry, 0)
	for _, e := range m.entries {
		if f.match(e) {
			matched = append(matched, clone(e))
		}
	}
	m.mu.RUnlock()

	// Стабильная сортировка: при полном равенстве ключей сохраняется порядок вставки.
	sort.SliceStable(matched, func(i, j int) bool { return order.less(matched[i], matched[j]) })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]model.QueueEntry, len(matched))
	for i, e := range matched {
		out[i] = *e
	}
	return out, nil
}

func (m *Memory) ClaimNext(ctx context.Context, department string, at time.Time) (*model.QueueEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f := Filter{Department: department, Statuses: []model.QueueStatus{model.QueueStatusWaiting}}
	var best *model.QueueEntry
	for _, e := range m.entries {
		if f.match(e) && (best == nil || ClaimOrder.less(e, best)) {
			best = e
		}
	}
	if best == nil {
		return nil, nil
	}
	st := model.QueueStatusProcessing
	p := Patch{Status: &st, UpdatedAt: at}
	if best.CalledAt == nil {
		p.CalledAt = &at
	}
	p.apply(best)
	return clone(best), nil
}

func (m *Memory) CompareAndUpdate(ctx context.Context, id string, expected model.QueueStatus, patch Patch) (*model.QueueEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	if e.Status != expected {
		return nil, errs.ErrClaimLost
	}
	patch.apply(e)
	return clone(e), nil
}
