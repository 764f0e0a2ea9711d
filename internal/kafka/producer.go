package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/psds-microservice/queue-service/internal/model"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// События очереди.
const (
	EventCheckedIn       = "queue.checked_in"
	EventCalled          = "queue.called"
	EventStatusChanged   = "queue.status_changed"
	EventPriorityChanged = "queue.priority_changed"
	EventSnapshot        = "queue.snapshot"
)

// QueueEventProducer — интерфейс для отправки событий очереди в Kafka (для подмены моком в тестах).
type QueueEventProducer interface {
	ProduceQueueEvent(ctx context.Context, event string, e *model.QueueEntry)
}

// QueueEvent — тело сообщения. Ключ сообщения — отделение, поэтому события одного отделения идут по порядку.
type QueueEvent struct {
	Event        string     `json:"event"`
	EntryID      string     `json:"entry_id"`
	TicketNumber string     `json:"ticket_number"`
	Department   string     `json:"department"`
	PatientRef   string     `json:"patient_ref"`
	Status       string     `json:"status"`
	Priority     int        `json:"priority"`
	CreatedAt    time.Time  `json:"created_at"`
	CalledAt     *time.Time `json:"called_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	OccurredAt   time.Time  `json:"occurred_at"`
}

func NewQueueEvent(event string, e *model.QueueEntry, at time.Time) QueueEvent {
	return QueueEvent{
		Event:        event,
		EntryID:      e.ID,
		TicketNumber: e.TicketNumber,
		Department:   e.Department,
		PatientRef:   e.PatientRef,
		Status:       string(e.Status),
		Priority:     e.Priority,
		CreatedAt:    e.CreatedAt,
		CalledAt:     e.CalledAt,
		CompletedAt:  e.CompletedAt,
		OccurredAt:   at,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer пишет события очереди в топик Kafka (best-effort, не блокирует API).
type Producer struct {
	writer messageWriter
	topic  string
	log    zerolog.Logger
	now    func() time.Time
}

// NewProducer создаёт продюсер. Если brokers пустой или topic пустой — методы no-op.
func NewProducer(brokers []string, topic string, log zerolog.Logger) *Producer {
	p := &Producer{log: log, now: time.Now}
	if len(brokers) == 0 || topic == "" {
		return p
	}
	p.topic = topic
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}
	return p
}

// Enabled сообщает, настроен ли Kafka.
func (p *Producer) Enabled() bool {
	return p.writer != nil
}

// ProduceQueueEvent отправляет событие записи очереди в топик. Ошибки только логируются.
func (p *Producer) ProduceQueueEvent(ctx context.Context, event string, e *model.QueueEntry) {
	if p.writer == nil || e == nil {
		return
	}
	body, err := json.Marshal(NewQueueEvent(event, e, p.now()))
	if err != nil {
		p.log.Error().Err(err).Str("event", event).Msg("kafka: marshal queue event")
		return
	}
	msg := kafka.Message{Key: []byte(e.Department), Value: body}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error().Err(err).Str("event", event).Str("entry_id", e.ID).Msg("kafka: write queue event")
	}
}

// Close закрывает writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
