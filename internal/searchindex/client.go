package searchindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/psds-microservice/queue-service/internal/model"
	"github.com/rs/zerolog"
)

// Client отправляет записи очереди в search-service для индексации (best-effort, не блокирует API).
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient возвращает клиент. Если baseURL пустой, вызовы IndexEntry — no-op.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		log: log,
	}
}

// IndexEntryPayload — тело POST /search/index/queue-entry.
type IndexEntryPayload struct {
	EntryID      string `json:"entry_id"`
	TicketNumber string `json:"ticket_number"`
	TicketDay    string `json:"ticket_day"`
	Department   string `json:"department"`
	PatientRef   string `json:"patient_ref"`
	Status       string `json:"status"`
	Priority     int    `json:"priority"`
}

func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

// IndexEntry отправляет запись в search-service. Вызывать в goroutine после изменения записи.
func (c *Client) IndexEntry(ctx context.Context, e *model.QueueEntry) error {
	if c.baseURL == "" || e == nil {
		return nil
	}
	payload := IndexEntryPayload{
		EntryID:      e.ID,
		TicketNumber: e.TicketNumber,
		TicketDay:    e.TicketDay,
		Department:   e.Department,
		PatientRef:   e.PatientRef,
		Status:       string(e.Status),
		Priority:     e.Priority,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("searchindex: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search/index/queue-entry", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("searchindex: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("searchindex: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("searchindex: status %d for entry %s", resp.StatusCode, e.ID)
	}
	return nil
}

// IndexEntryAsync вызывает IndexEntry в отдельной горутине (не блокирует ответ API).
func (c *Client) IndexEntryAsync(e *model.QueueEntry) {
	if c.baseURL == "" || e == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.IndexEntry(ctx, e); err != nil {
			c.log.Warn().Err(err).Msg("searchindex: index entry")
		}
	}()
}
