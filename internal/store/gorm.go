package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/psds-microservice/queue-service/internal/clock"
	"github.com/psds-microservice/queue-service/internal/errs"
	"github.com/psds-microservice/queue-service/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Gorm хранит записи в Postgres через GORM.
// Ожидает *gorm.DB, открытый с TranslateError: true (см. database.Open).
type Gorm struct {
	db *gorm.DB
}

func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

// IssueTicket выполняется одной транзакцией: advisory-lock на (отделение, день),
// подсчёт, вставка. Уникальный индекс idx_queue_entries_ticket_day страхует от гонки
// с процессами, которые обходят блокировку.
func (s *Gorm) IssueTicket(ctx context.Context, department string, w clock.Window, build func(issued int64) *model.QueueEntry) (*model.QueueEntry, error) {
	var created *model.QueueEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", department+"/"+w.Key()).Error; err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}
		var issued int64
		if err := tx.Model(&model.QueueEntry{}).
			Where("department = ? AND created_at >= ? AND created_at < ?", department, w.Start, w.End).
			Count(&issued).Error; err != nil {
			return fmt.Errorf("count issued: %w", err)
		}
		e := build(issued)
		if err := tx.Create(e).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errs.ErrDuplicateTicket
			}
			return fmt.Errorf("insert entry: %w", err)
		}
		created = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Gorm) FindByID(ctx context.Context, id string) (*model.QueueEntry, error) {
	var e model.QueueEntry
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&e).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (s *Gorm) FindByTicketNumber(ctx context.Context, number string) (*model.QueueEntry, error) {
	var e model.QueueEntry
	err := s.db.WithContext(ctx).
		Where("ticket_number = ?", number).
		Order("created_at DESC").
		Limit(1).
		Find(&e).Error
	if err != nil {
		return nil, err
	}
	if e.ID == "" {
		return nil, errs.ErrNotFound
	}
	return &e, nil
}

func (s *Gorm) FindMany(ctx context.Context, f Filter, order Order, limit int) ([]model.QueueEntry, error) {
	tx := s.db.WithContext(ctx).Model(&model.QueueEntry{})
	if f.Department != "" {
		tx = tx.Where("department = ?", f.Department)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		tx = tx.Where("status IN ?", statuses)
	}
	if !f.Created.Start.IsZero() {
		tx = tx.Where("created_at >= ?", f.Created.Start)
	}
	if !f.Created.End.IsZero() {
		tx = tx.Where("created_at < ?", f.Created.End)
	}
	for _, o := range order {
		tx = tx.Order(orderClause(o))
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	items := make([]model.QueueEntry, 0)
	if err := tx.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// claimNextSQL: выбор и захват одним UPDATE. SKIP LOCKED пропускает строку, которую
// прямо сейчас забирает другая транзакция, и берёт следующую.
const claimNextSQL = `UPDATE queue_entries
SET status = ?, called_at = COALESCE(called_at, ?), updated_at = ?
WHERE id = (
	SELECT id FROM queue_entries
	WHERE department = ? AND status = ?
	ORDER BY %s
	LIMIT 1
	FOR UPDATE SKIP LOCKED
) AND status = ?
RETURNING *`

func (s *Gorm) ClaimNext(ctx context.Context, department string, at time.Time) (*model.QueueEntry, error) {
	order := make([]string, len(ClaimOrder))
	for i, o := range ClaimOrder {
		order[i] = orderClause(o)
	}
	waiting := string(model.QueueStatusWaiting)
	var e model.QueueEntry
	res := s.db.WithContext(ctx).
		Raw(fmt.Sprintf(claimNextSQL, strings.Join(order, ", ")),
			string(model.QueueStatusProcessing), at, at, department, waiting, waiting).
		Scan(&e)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 || e.ID == "" {
		return nil, nil
	}
	return &e, nil
}

// CompareAndUpdate возвращает строку из RETURNING того же UPDATE, а не повторное чтение.
func (s *Gorm) CompareAndUpdate(ctx context.Context, id string, expected model.QueueStatus, patch Patch) (*model.QueueEntry, error) {
	var e model.QueueEntry
	res := s.db.WithContext(ctx).
		Model(&e).
		Clauses(clause.Returning{}).
		Where("id = ? AND status = ?", id, string(expected)).
		Updates(patch.columns())
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := s.db.WithContext(ctx).Model(&model.QueueEntry{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, errs.ErrNotFound
		}
		return nil, errs.ErrClaimLost
	}
	return &e, nil
}

func orderClause(o Sort) string {
	var col string
	switch o.Key {
	case SortStatus:
		col = statusRankExpr()
	case SortPriority:
		col = "priority"
	default:
		col = "created_at"
	}
	if o.Desc {
		return col + " DESC"
	}
	return col + " ASC"
}

// statusRankExpr строит CASE по model.QueueStatus.Rank, чтобы порядок совпадал с Memory.
func statusRankExpr() string {
	var b strings.Builder
	b.WriteString("CASE status")
	for _, st := range model.RankedStatuses() {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", st, st.Rank())
	}
	fmt.Fprintf(&b, " ELSE %d END", len(model.RankedStatuses()))
	return b.String()
}
