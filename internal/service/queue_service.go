package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/psds-microservice/queue-service/internal/clock"
	"github.com/psds-microservice/queue-service/internal/department"
	"github.com/psds-microservice/queue-service/internal/errs"
	"github.com/psds-microservice/queue-service/internal/lock"
	"github.com/psds-microservice/queue-service/internal/model"
	"github.com/psds-microservice/queue-service/internal/store"
	"github.com/psds-microservice/queue-service/internal/ticket"
)

// QueueServicer — интерфейс для handler Deps (Dependency Inversion).
type QueueServicer interface {
	CheckIn(ctx context.Context, patientRef, department string, priority int) (*model.QueueEntry, error)
	CallNext(ctx context.Context, department string) (*model.QueueEntry, error)
	UpdateStatus(ctx context.Context, id string, status model.QueueStatus) (*model.QueueEntry, error)
	UpdatePriority(ctx context.Context, id string, priority int) (*model.QueueEntry, error)
	GetActiveQueue(ctx context.Context, department string) ([]model.QueueEntry, error)
	GetAllActiveQueues(ctx context.Context) (map[string][]model.QueueEntry, error)
	GetTodayQueue(ctx context.Context, department string) ([]model.QueueEntry, error)
	GetEntryByID(ctx context.Context, id string) (*model.QueueEntry, error)
	GetEntryByTicketNumber(ctx context.Context, number string) (*model.QueueEntry, error)
	GetDailySummary(ctx context.Context, department string) (*DailySummary, error)
}

const (
	DefaultStoreTimeout  = 3 * time.Second
	DefaultClaimAttempts = 5
	DefaultIssueAttempts = 3
)

type Options struct {
	// StoreTimeout ограничивает каждый вызов хранилища и ожидание блокировки.
	StoreTimeout time.Duration
	// ClaimAttempts: сколько раз UpdateStatus/UpdatePriority перечитывают запись после проигранного CAS.
	ClaimAttempts int
	// IssueAttempts: повторы CheckIn при конфликте уникального номера.
	IssueAttempts int
}

func (o Options) withDefaults() Options {
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = DefaultStoreTimeout
	}
	if o.ClaimAttempts <= 0 {
		o.ClaimAttempts = DefaultClaimAttempts
	}
	if o.IssueAttempts <= 0 {
		o.IssueAttempts = DefaultIssueAttempts
	}
	return o
}

// QueueService: движок очереди, выдача талонов, вызов следующего пациента, переходы статусов.
// Состояние записей не кэширует: каждое чтение идёт в хранилище.
type QueueService struct {
	store    store.Store
	registry *department.Registry
	clock    clock.Clock
	locker   lock.Locker
	opts     Options
	newID    func() string
}

func NewQueueService(st store.Store, reg *department.Registry, clk clock.Clock, locker lock.Locker, opts Options) *QueueService {
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &QueueService{
		store:    st,
		registry: reg,
		clock:    clk,
		locker:   locker,
		opts:     opts.withDefaults(),
		newID:    uuid.NewString,
	}
}

// Registry возвращает реестр отделений, с которым работает сервис.
func (s *QueueService) Registry() *department.Registry {
	return s.registry
}

func (s *QueueService) CheckIn(ctx context.Context, patientRef, dept string, priority int) (*model.QueueEntry, error) {
	d, err := s.department(dept)
	if err != nil {
		return nil, err
	}
	if err := validatePriority(priority); err != nil {
		return nil, err
	}
	// Время прихода берётся под блокировкой: порядок created_at совпадает с порядком номеров.
	// Если ожидание блокировки пересекло полночь, берётся блокировка нового дня.
	day := clock.Today(s.clock)
	unlock, err := s.lockDay(ctx, d.ID, day)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	for !day.Contains(now) {
		unlock()
		day = clock.DayOf(s.clock, now)
		if unlock, err = s.lockDay(ctx, d.ID, day); err != nil {
			return nil, err
		}
		now = s.clock.Now()
	}
	defer unlock()

	build := func(issued int64) *model.QueueEntry {
		return &model.QueueEntry{
			ID:           s.newID(),
			TicketNumber: ticket.Number(d.Code, issued),
			Department:   d.ID,
			TicketDay:    day.Key(),
			PatientRef:   patientRef,
			Status:       model.QueueStatusWaiting,
			Priority:     priority,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}
	for attempt := 1; ; attempt++ {
		e, err := s.issue(ctx, d.ID, day, build)
		if err == nil {
			return e, nil
		}
		if errors.Is(err, errs.ErrDuplicateTicket) {
			if attempt < s.opts.IssueAttempts {
				continue
			}
			return nil, fmt.Errorf("%w: %s after %d attempts", errs.ErrContention, d.ID, attempt)
		}
		return nil, unavailable(err)
	}
}

func (s *QueueService) lockDay(ctx context.Context, dept string, day clock.Window) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	unlock, err := s.locker.Lock(lockCtx, dept+"/"+day.Key())
	if err != nil {
		return nil, unavailable(fmt.Errorf("lock %s/%s: %w", dept, day.Key(), err))
	}
	return unlock, nil
}

func (s *QueueService) issue(ctx context.Context, dept string, day clock.Window, build func(int64) *model.QueueEntry) (*model.QueueEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	return s.store.IssueTicket(ctx, dept, day, build)
}

// CallNext забирает лучшего ожидающего пациента отделения и переводит его в PROCESSING.
// Пустая очередь даёт (nil, nil). Выбор и захват делает хранилище одной атомарной операцией,
// поэтому один талон не достанется двум вызовам.
func (s *QueueService) CallNext(ctx context.Context, dept string) (*model.QueueEntry, error) {
	d, err := s.department(dept)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	e, err := s.store.ClaimNext(ctx, d.ID, s.clock.Now())
	if err != nil {
		return nil, unavailable(err)
	}
	return e, nil
}

func (s *QueueService) UpdateStatus(ctx context.Context, id string, status model.QueueStatus) (*model.QueueEntry, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", errs.ErrInvalidTransition, status)
	}
	for attempt := 0; attempt < s.opts.ClaimAttempts; attempt++ {
		cur, err := s.GetEntryByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if !model.CanTransition(cur.Status, status) {
			return nil, fmt.Errorf("%w: %s -> %s", errs.ErrInvalidTransition, cur.Status, status)
		}
		updated, err := s.compareAndUpdate(ctx, id, cur.Status, transitionPatch(cur, status, s.clock.Now()))
		if errors.Is(err, errs.ErrClaimLost) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("%w: update status %s after %d attempts", errs.ErrContention, id, s.opts.ClaimAttempts)
}

// UpdatePriority меняет приоритет. Для COMPLETED запрещено; статус и отметки времени не меняются.
func (s *QueueService) UpdatePriority(ctx context.Context, id string, priority int) (*model.QueueEntry, error) {
	if err := validatePriority(priority); err != nil {
		return nil, err
	}
	for attempt := 0; attempt < s.opts.ClaimAttempts; attempt++ {
		cur, err := s.GetEntryByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if cur.Status == model.QueueStatusCompleted {
			return nil, fmt.Errorf("%w: priority of a completed entry is locked", errs.ErrInvalidTransition)
		}
		p := priority
		updated, err := s.compareAndUpdate(ctx, id, cur.Status, store.Patch{Priority: &p, UpdatedAt: s.clock.Now()})
		if errors.Is(err, errs.ErrClaimLost) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("%w: update priority %s after %d attempts", errs.ErrContention, id, s.opts.ClaimAttempts)
}

// GetActiveQueue возвращает WAITING и PROCESSING за сегодня, порядок: статус, приоритет по убыванию, время прихода.
func (s *QueueService) GetActiveQueue(ctx context.Context, dept string) ([]model.QueueEntry, error) {
	d, err := s.department(dept)
	if err != nil {
		return nil, err
	}
	return s.findMany(ctx, store.Filter{
		Department: d.ID,
		Statuses:   activeStatuses(),
		Created:    clock.Today(s.clock),
	}, store.ActiveOrder, 0)
}

// GetAllActiveQueues возвращает ключ для каждого отделения реестра, пустые отдаются пустым списком.
func (s *QueueService) GetAllActiveQueues(ctx context.Context) (map[string][]model.QueueEntry, error) {
	items, err := s.findMany(ctx, store.Filter{
		Statuses: activeStatuses(),
		Created:  clock.Today(s.clock),
	}, store.ActiveOrder, 0)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]model.QueueEntry, s.registry.Len())
	for _, id := range s.registry.IDs() {
		out[id] = []model.QueueEntry{}
	}
	for _, e := range items {
		if list, ok := out[e.Department]; ok {
			out[e.Department] = append(list, e)
		}
	}
	return out, nil
}

// GetTodayQueue возвращает все записи отделения за сегодня в любом статусе, по времени прихода.
func (s *QueueService) GetTodayQueue(ctx context.Context, dept string) ([]model.QueueEntry, error) {
	d, err := s.department(dept)
	if err != nil {
		return nil, err
	}
	return s.findMany(ctx, store.Filter{Department: d.ID, Created: clock.Today(s.clock)}, store.ArrivalOrder, 0)
}

func (s *QueueService) GetEntryByID(ctx context.Context, id string) (*model.QueueEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	e, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, unavailable(err)
	}
	return e, nil
}

// GetEntryByTicketNumber ищет самую свежую запись с таким номером (номера повторяются по дням).
func (s *QueueService) GetEntryByTicketNumber(ctx context.Context, number string) (*model.QueueEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	e, err := s.store.FindByTicketNumber(ctx, ticket.Normalize(number))
	if err != nil {
		return nil, unavailable(err)
	}
	return e, nil
}

func (s *QueueService) findMany(ctx context.Context, f store.Filter, order store.Order, limit int) ([]model.QueueEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	items, err := s.store.FindMany(ctx, f, order, limit)
	if err != nil {
		return nil, unavailable(err)
	}
	return items, nil
}

func (s *QueueService) compareAndUpdate(ctx context.Context, id string, expected model.QueueStatus, patch store.Patch) (*model.QueueEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	e, err := s.store.CompareAndUpdate(ctx, id, expected, patch)
	if err != nil {
		return nil, unavailable(err)
	}
	return e, nil
}

func (s *QueueService) department(id string) (department.Department, error) {
	d, ok := s.registry.Lookup(id)
	if !ok {
		return department.Department{}, fmt.Errorf("%w: %q", errs.ErrInvalidDepartment, id)
	}
	return d, nil
}

// transitionPatch проставляет отметки времени перехода: called_at один раз, completed_at при завершении.
func transitionPatch(cur *model.QueueEntry, to model.QueueStatus, now time.Time) store.Patch {
	st := to
	p := store.Patch{Status: &st, UpdatedAt: now}
	switch to {
	case model.QueueStatusProcessing:
		if cur.CalledAt == nil {
			p.CalledAt = &now
		}
	case model.QueueStatusCompleted:
		p.CompletedAt = &now
	}
	return p
}

// validatePriority: от 0 до model.MaxPriority (диапазон колонки priority).
func validatePriority(priority int) error {
	if priority < 0 || priority > model.MaxPriority {
		return fmt.Errorf("%w: %d", errs.ErrInvalidPriority, priority)
	}
	return nil
}

func activeStatuses() []model.QueueStatus {
	return []model.QueueStatus{model.QueueStatusWaiting, model.QueueStatusProcessing}
}

// unavailable оборачивает сбой инфраструктуры в ErrStoreUnavailable; ошибки домена проходят как есть.
func unavailable(err error) error {
	if err == nil || errs.IsDomain(err) {
		return err
	}
	return fmt.Errorf("%w: %w", errs.ErrStoreUnavailable, err)
}
