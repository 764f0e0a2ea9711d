package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/queue-service/internal/clock"
	"github.com/psds-microservice/queue-service/internal/department"
	"github.com/psds-microservice/queue-service/internal/errs"
	"github.com/psds-microservice/queue-service/internal/kafka"
	"github.com/psds-microservice/queue-service/internal/model"
	"github.com/psds-microservice/queue-service/internal/service"
	"github.com/psds-microservice/queue-service/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	event string
	entry *model.QueueEntry
}

type fakeEvents struct {
	ch chan recordedEvent
}

func (f *fakeEvents) ProduceQueueEvent(_ context.Context, event string, e *model.QueueEntry) {
	f.ch <- recordedEvent{event: event, entry: e}
}

func (f *fakeEvents) next(t *testing.T) recordedEvent {
	t.Helper()
	select {
	case ev := <-f.ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no queue event published")
		return recordedEvent{}
	}
}

func newTestEngine(t *testing.T) (*gin.Engine, *fakeEvents) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := department.Default()
	svc := service.NewQueueService(store.NewMemory(), reg,
		clock.NewFake(time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)), nil, service.Options{})
	events := &fakeEvents{ch: make(chan recordedEvent, 16)}
	h := NewQueueHandler(Deps{Queue: svc, Registry: reg, Events: events, Log: zerolog.Nop()})

	r := gin.New()
	r.POST("/entries", h.CheckIn)
	r.GET("/entries/:id", h.Get)
	r.PATCH("/entries/:id/status", h.UpdateStatus)
	r.PATCH("/entries/:id/priority", h.UpdatePriority)
	r.GET("/tickets/:ticket", h.GetByTicket)
	r.GET("/active", h.AllActiveQueues)
	r.GET("/departments", h.Departments)
	r.GET("/departments/:department/active", h.ActiveQueue)
	r.GET("/departments/:department/today", h.TodayQueue)
	r.GET("/departments/:department/summary", h.Summary)
	r.POST("/departments/:department/call-next", h.CallNext)
	return r, events
}

func do(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestCheckInAndCallNext(t *testing.T) {
	r, events := newTestEngine(t)

	w := do(r, http.MethodPost, "/entries", gin.H{"patient_ref": "rm-001", "department": "laboratory", "priority": 1})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[model.QueueEntry](t, w)
	assert.Equal(t, "LAB-001", created.TicketNumber)
	assert.Equal(t, model.QueueStatusWaiting, created.Status)
	assert.Equal(t, kafka.EventCheckedIn, events.next(t).event)

	w = do(r, http.MethodPost, "/departments/laboratory/call-next", nil)
	require.Equal(t, http.StatusOK, w.Code)
	called := decode[model.QueueEntry](t, w)
	assert.Equal(t, created.ID, called.ID)
	assert.Equal(t, model.QueueStatusProcessing, called.Status)
	ev := events.next(t)
	assert.Equal(t, kafka.EventCalled, ev.event)
	assert.Equal(t, created.ID, ev.entry.ID)

	w = do(r, http.MethodPost, "/departments/laboratory/call-next", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestCheckInRejectsBadInput(t *testing.T) {
	r, _ := newTestEngine(t)

	w := do(r, http.MethodPost, "/entries", gin.H{"department": "laboratory"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/entries", gin.H{"patient_ref": "p", "department": "cardiology"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid department")

	w = do(r, http.MethodPost, "/entries", gin.H{"patient_ref": "p", "department": "laboratory", "priority": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateStatusAndPriority(t *testing.T) {
	r, events := newTestEngine(t)
	created := decode[model.QueueEntry](t, do(r, http.MethodPost, "/entries", gin.H{"patient_ref": "p", "department": "radiology"}))
	events.next(t)
	base := "/entries/" + created.ID

	w := do(r, http.MethodPatch, base+"/status", gin.H{"status": "completed"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodPatch, base+"/status", gin.H{"status": "later"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPatch, base+"/priority", gin.H{"priority": 4})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 4, decode[model.QueueEntry](t, w).Priority)
	assert.Equal(t, kafka.EventPriorityChanged, events.next(t).event)

	w = do(r, http.MethodPatch, base+"/priority", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPatch, base+"/priority", gin.H{"priority": int64(3000000000)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, w.Header().Get("Retry-After"))

	w = do(r, http.MethodPatch, base+"/status", gin.H{"status": "processing"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, kafka.EventStatusChanged, events.next(t).event)

	w = do(r, http.MethodPatch, base+"/status", gin.H{"status": "COMPLETED"})
	require.Equal(t, http.StatusOK, w.Code)
	events.next(t)

	w = do(r, http.MethodPatch, base+"/priority", gin.H{"priority": 1})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodPatch, "/entries/missing/status", gin.H{"status": "HIDDEN"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLookups(t *testing.T) {
	r, _ := newTestEngine(t)
	created := decode[model.QueueEntry](t, do(r, http.MethodPost, "/entries", gin.H{"patient_ref": "p", "department": "outpatient"}))

	w := do(r, http.MethodGet, "/entries/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/tickets/out-001", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.ID, decode[model.QueueEntry](t, w).ID)

	w = do(r, http.MethodGet, "/entries/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQueueViews(t *testing.T) {
	r, _ := newTestEngine(t)
	for i := 0; i < 3; i++ {
		w := do(r, http.MethodPost, "/entries", gin.H{"patient_ref": fmt.Sprint(i), "department": "emergency", "priority": i})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := do(r, http.MethodGet, "/departments/emergency/active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	active := decode[struct {
		Entries []model.QueueEntry `json:"entries"`
	}](t, w)
	require.Len(t, active.Entries, 3)
	assert.Equal(t, "EME-003", active.Entries[0].TicketNumber)

	w = do(r, http.MethodGet, "/departments/emergency/today", nil)
	require.Equal(t, http.StatusOK, w.Code)
	today := decode[struct {
		Entries []model.QueueEntry `json:"entries"`
		Total   int                `json:"total"`
	}](t, w)
	assert.Equal(t, 3, today.Total)
	assert.Equal(t, "EME-001", today.Entries[0].TicketNumber)

	w = do(r, http.MethodGet, "/active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	all := decode[struct {
		Departments []department.Department        `json:"departments"`
		Queues      map[string][]model.QueueEntry `json:"queues"`
	}](t, w)
	assert.Len(t, all.Departments, 4)
	assert.Len(t, all.Queues["emergency"], 3)
	assert.Contains(t, w.Body.String(), `"radiology":[]`)

	w = do(r, http.MethodGet, "/departments/emergency/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, decode[service.DailySummary](t, w).Waiting)

	w = do(r, http.MethodGet, "/departments/EMERGENCY/active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "emergency", decode[struct {
		Department string `json:"department"`
	}](t, w).Department)

	w = do(r, http.MethodGet, "/departments/Emergency/today", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "emergency", decode[struct {
		Department string `json:"department"`
	}](t, w).Department)

	w = do(r, http.MethodGet, "/departments/unknown/active", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/departments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"LAB"`)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", errs.ErrInvalidDepartment), http.StatusBadRequest},
		{errs.ErrInvalidPriority, http.StatusBadRequest},
		{errs.ErrNotFound, http.StatusNotFound},
		{errs.ErrInvalidTransition, http.StatusConflict},
		{errs.ErrContention, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: dial tcp", errs.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}

func TestReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var mu sync.Mutex
	var failing bool
	r.GET("/ready", Ready(func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if failing {
			return fmt.Errorf("db down")
		}
		return nil
	}))
	r.GET("/health", Health)

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/ready", nil).Code)
	mu.Lock()
	failing = true
	mu.Unlock()
	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/ready", nil).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/health", nil).Code)
}
