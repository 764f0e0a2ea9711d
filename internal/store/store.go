package store

import (
	"context"
	"time"

	"github.com/psds-microservice/queue-service/internal/clock"
	"github.com/psds-microservice/queue-service/internal/model"
)

// Store хранит записи очереди. Атомарность выдачи талона и захвата
// записи обеспечивает хранилище: IssueTicket и CompareAndUpdate.
type Store interface {
	// IssueTicket атомарно считает записи отделения в окне w и вставляет запись,
	// построенную build по этому количеству.
	IssueTicket(ctx context.Context, department string, w clock.Window, build func(issued int64) *model.QueueEntry) (*model.QueueEntry, error)
	FindByID(ctx context.Context, id string) (*model.QueueEntry, error)
	// FindByTicketNumber возвращает самую свежую запись с этим номером.
	FindByTicketNumber(ctx context.Context, number string) (*model.QueueEntry, error)
	FindMany(ctx context.Context, f Filter, order Order, limit int) ([]model.QueueEntry, error)
	// ClaimNext атомарно выбирает лучшую WAITING-запись отделения (ClaimOrder) и переводит её
	// в PROCESSING: called_at ставится в at, если ещё не задан. Пустая очередь даёт (nil, nil).
	// Два вызова никогда не получат одну запись.
	ClaimNext(ctx context.Context, department string, at time.Time) (*model.QueueEntry, error)
	// CompareAndUpdate применяет patch, только если статус записи равен expected.
	// Иначе errs.ErrClaimLost (errs.ErrNotFound, если записи нет).
	CompareAndUpdate(ctx context.Context, id string, expected model.QueueStatus, patch Patch) (*model.QueueEntry, error)
}

// Filter: условия выборки. Нулевые поля не ограничивают.
type Filter struct {
	Department string
	Statuses   []model.QueueStatus
	// Окно created_at, нулевое окно не ограничивает.
	Created clock.Window
}

func (f Filter) match(e *model.QueueEntry) bool {
	if f.Department != "" && e.Department != f.Department {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if e.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !f.Created.Start.IsZero() && e.CreatedAt.Before(f.Created.Start) {
		return false
	}
	if !f.Created.End.IsZero() && !e.CreatedAt.Before(f.Created.End) {
		return false
	}
	return true
}

type SortKey int

const (
	SortStatus SortKey = iota
	SortPriority
	SortCreatedAt
)

type Sort struct {
	Key  SortKey
	Desc bool
}

type Order []Sort

var (
	// ClaimOrder выбирает следующего пациента: приоритет по убыванию, затем время прихода.
	ClaimOrder = Order{{Key: SortPriority, Desc: true}, {Key: SortCreatedAt}}
	// ActiveOrder: каноническая выдача активной очереди, WAITING раньше PROCESSING.
	ActiveOrder = Order{{Key: SortStatus}, {Key: SortPriority, Desc: true}, {Key: SortCreatedAt}}
	// ArrivalOrder сортирует по времени прихода.
	ArrivalOrder = Order{{Key: SortCreatedAt}}
)

// less сравнивает записи по order; равные по всем ключам считаются равными.
func (o Order) less(a, b *model.QueueEntry) bool {
	for _, s := range o {
		var c int
		switch s.Key {
		case SortStatus:
			c = a.Status.Rank() - b.Status.Rank()
		case SortPriority:
			c = a.Priority - b.Priority
		case SortCreatedAt:
			c = a.CreatedAt.Compare(b.CreatedAt)
		}
		if c == 0 {
			continue
		}
		if s.Desc {
			return c > 0
		}
		return c < 0
	}
	return false
}

// Patch: изменения записи, nil-поля не трогаются.
type Patch struct {
	Status      *model.QueueStatus
	Priority    *int
	CalledAt    *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

func (p Patch) apply(e *model.QueueEntry) {
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.Priority != nil {
		e.Priority = *p.Priority
	}
	if p.CalledAt != nil {
		t := *p.CalledAt
		e.CalledAt = &t
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		e.CompletedAt = &t
	}
	if !p.UpdatedAt.IsZero() {
		e.UpdatedAt = p.UpdatedAt
	}
}

func (p Patch) columns() map[string]interface{} {
	changes := make(map[string]interface{})
	if p.Status != nil {
		changes["status"] = string(*p.Status)
	}
	if p.Priority != nil {
		changes["priority"] = *p.Priority
	}
	if p.CalledAt != nil {
		changes["called_at"] = *p.CalledAt
	}
	if p.CompletedAt != nil {
		changes["completed_at"] = *p.CompletedAt
	}
	if !p.UpdatedAt.IsZero() {
		changes["updated_at"] = p.UpdatedAt
	}
	return changes
}

func clone(e *model.QueueEntry) *model.QueueEntry {
	c := *e
	if e.CalledAt != nil {
		t := *e.CalledAt
		c.CalledAt = &t
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
