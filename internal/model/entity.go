package model

import (
	"math"
	"strings"
	"time"
)

// MaxPriority: верхняя граница приоритета, колонка priority типа INTEGER.
const MaxPriority = math.MaxInt32

type QueueStatus string

const (
	QueueStatusWaiting    QueueStatus = "WAITING"
	QueueStatusProcessing QueueStatus = "PROCESSING"
	QueueStatusCompleted  QueueStatus = "COMPLETED"
	QueueStatusHidden     QueueStatus = "HIDDEN"
)

// statusRank задаёт порядок статусов в канонической выдаче активной очереди.
var statusRank = map[QueueStatus]int{
	QueueStatusWaiting:    0,
	QueueStatusProcessing: 1,
	QueueStatusCompleted:  2,
	QueueStatusHidden:     3,
}

// Разрешённые переходы. Из COMPLETED и HIDDEN выхода нет.
var transitions = map[QueueStatus][]QueueStatus{
	QueueStatusWaiting:    {QueueStatusProcessing, QueueStatusHidden},
	QueueStatusProcessing: {QueueStatusCompleted, QueueStatusHidden},
}

// ParseQueueStatus принимает статус в любом регистре.
func ParseQueueStatus(s string) (QueueStatus, bool) {
	st := QueueStatus(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := statusRank[st]
	return st, ok
}

func (s QueueStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

func (s QueueStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return len(statusRank)
}

// Active: запись ещё видна в очереди (ожидает или обслуживается).
func (s QueueStatus) Active() bool {
	return s == QueueStatusWaiting || s == QueueStatusProcessing
}

// CanTransition проверяет переход from -> to по таблице переходов.
func CanTransition(from, to QueueStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RankedStatuses возвращает все статусы в порядке Rank.
func RankedStatuses() []QueueStatus {
	return []QueueStatus{QueueStatusWaiting, QueueStatusProcessing, QueueStatusCompleted, QueueStatusHidden}
}

// QueueEntry: один талон в очереди отделения.
// TicketDay хранит календарный день created_at (YYYY-MM-DD в часовом поясе сервиса) и входит в ключ уникальности номера.
type QueueEntry struct {
	ID           string      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TicketNumber string      `gorm:"type:varchar(32);not null;index;uniqueIndex:idx_queue_entries_ticket_day,priority:3" json:"ticket_number"`
	Department   string      `gorm:"type:varchar(64);not null;index;uniqueIndex:idx_queue_entries_ticket_day,priority:1" json:"department"`
	TicketDay    string      `gorm:"type:varchar(10);not null;uniqueIndex:idx_queue_entries_ticket_day,priority:2" json:"ticket_day"`
	PatientRef   string      `gorm:"type:varchar(64);index;not null" json:"patient_ref"`
	Status       QueueStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	Priority     int         `gorm:"not null" json:"priority"`

	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CalledAt    *time.Time `json:"called_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (QueueEntry) TableName() string {
	return "queue_entries"
}
