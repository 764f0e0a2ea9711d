package service

import (
	"context"
	"time"

	"github.com/psds-microservice/queue-service/internal/clock"
	"github.com/psds-microservice/queue-service/internal/model"
)

// DailySummary: дневные показатели отделения для табло и отчёта администратора.
type DailySummary struct {
	Department string `json:"department"`
	Date       string `json:"date"`
	Issued     int    `json:"issued"`
	Waiting    int    `json:"waiting"`
	Processing int    `json:"processing"`
	Completed  int    `json:"completed"`
	Hidden     int    `json:"hidden"`
	// NowServing: номер последнего вызванного талона, который ещё обслуживается.
	NowServing string `json:"now_serving,omitempty"`
	// AvgWaitSeconds: среднее от created_at до called_at по вызванным сегодня.
	AvgWaitSeconds float64 `json:"avg_wait_seconds"`
}

func (s *QueueService) GetDailySummary(ctx context.Context, dept string) (*DailySummary, error) {
	items, err := s.GetTodayQueue(ctx, dept)
	if err != nil {
		return nil, err
	}
	d, _ := s.registry.Lookup(dept)
	return summarize(d.ID, clock.Today(s.clock).Key(), items), nil
}

func summarize(dept, date string, items []model.QueueEntry) *DailySummary {
	sum := &DailySummary{Department: dept, Date: date, Issued: len(items)}
	var (
		waited     time.Duration
		called     int
		lastCalled time.Time
	)
	for _, e := range items {
		switch e.Status {
		case model.QueueStatusWaiting:
			sum.Waiting++
		case model.QueueStatusProcessing:
			sum.Processing++
			if e.CalledAt != nil && !e.CalledAt.Before(lastCalled) {
				lastCalled = *e.CalledAt
				sum.NowServing = e.TicketNumber
			}
		case model.QueueStatusCompleted:
			sum.Completed++
		case model.QueueStatusHidden:
			sum.Hidden++
		}
		if e.CalledAt != nil {
			waited += e.CalledAt.Sub(e.CreatedAt)
			called++
		}
	}
	if called > 0 {
		sum.AvgWaitSeconds = waited.Seconds() / float64(called)
	}
	return sum
}
