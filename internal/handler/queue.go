package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/queue-service/internal/department"
	"github.com/psds-microservice/queue-service/internal/errs"
	"github.com/psds-microservice/queue-service/internal/kafka"
	"github.com/psds-microservice/queue-service/internal/model"
	"github.com/psds-microservice/queue-service/internal/searchindex"
	"github.com/psds-microservice/queue-service/internal/service"
	"github.com/rs/zerolog"
)

// Deps: зависимости обработчиков очереди. Events и Search необязательны.
type Deps struct {
	Queue    service.QueueServicer
	Registry *department.Registry
	Events   kafka.QueueEventProducer
	Search   *searchindex.Client
	Log      zerolog.Logger
}

type QueueHandler struct {
	Deps
}

func NewQueueHandler(deps Deps) *QueueHandler {
	return &QueueHandler{Deps: deps}
}

type checkInRequest struct {
	PatientRef string `json:"patient_ref" binding:"required"`
	Department string `json:"department" binding:"required"`
	Priority   *int   `json:"priority"`
}

func (h *QueueHandler) CheckIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	priority := 0
	if req.Priority != nil {
		priority = *req.Priority
	}
	e, err := h.Queue.CheckIn(c.Request.Context(), req.PatientRef, req.Department, priority)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.publish(kafka.EventCheckedIn, e)
	c.JSON(http.StatusCreated, e)
}

// CallNext отвечает 204, если в отделении никто не ждёт.
func (h *QueueHandler) CallNext(c *gin.Context) {
	e, err := h.Queue.CallNext(c.Request.Context(), c.Param("department"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if e == nil {
		c.Status(http.StatusNoContent)
		return
	}
	h.publish(kafka.EventCalled, e)
	c.JSON(http.StatusOK, e)
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *QueueHandler) UpdateStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	status, ok := model.ParseQueueStatus(req.Status)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status: must be WAITING, PROCESSING, COMPLETED or HIDDEN"})
		return
	}
	e, err := h.Queue.UpdateStatus(c.Request.Context(), c.Param("id"), status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.publish(kafka.EventStatusChanged, e)
	c.JSON(http.StatusOK, e)
}

type updatePriorityRequest struct {
	Priority *int `json:"priority" binding:"required"`
}

func (h *QueueHandler) UpdatePriority(c *gin.Context) {
	var req updatePriorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	e, err := h.Queue.UpdatePriority(c.Request.Context(), c.Param("id"), *req.Priority)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.publish(kafka.EventPriorityChanged, e)
	c.JSON(http.StatusOK, e)
}

func (h *QueueHandler) Get(c *gin.Context) {
	e, err := h.Queue.GetEntryByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *QueueHandler) GetByTicket(c *gin.Context) {
	e, err := h.Queue.GetEntryByTicketNumber(c.Request.Context(), c.Param("ticket"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *QueueHandler) ActiveQueue(c *gin.Context) {
	items, err := h.Queue.GetActiveQueue(c.Request.Context(), c.Param("department"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"department": h.departmentID(c.Param("department")), "entries": items})
}

// AllActiveQueues отдаёт очереди всех отделений и порядок отделений для табло.
func (h *QueueHandler) AllActiveQueues(c *gin.Context) {
	queues, err := h.Queue.GetAllActiveQueues(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"departments": h.Registry.All(),
		"queues":      queues,
	})
}

func (h *QueueHandler) TodayQueue(c *gin.Context) {
	items, err := h.Queue.GetTodayQueue(c.Request.Context(), c.Param("department"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"department": h.departmentID(c.Param("department")), "entries": items, "total": len(items)})
}

func (h *QueueHandler) Summary(c *gin.Context) {
	sum, err := h.Queue.GetDailySummary(c.Request.Context(), c.Param("department"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *QueueHandler) Departments(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"departments": h.Registry.All()})
}

// departmentID возвращает канонический ID отделения из реестра.
func (h *QueueHandler) departmentID(raw string) string {
	if d, ok := h.Registry.Lookup(raw); ok {
		return d.ID
	}
	return raw
}

// publish отправляет событие и индексирует запись после успешного изменения (fire-and-forget, с таймаутом).
func (h *QueueHandler) publish(event string, e *model.QueueEntry) {
	if h.Search != nil {
		h.Search.IndexEntryAsync(e)
	}
	if h.Events == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.Events.ProduceQueueEvent(ctx, event, e)
	}()
}

func (h *QueueHandler) writeError(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.Log.Error().Err(err).Str("path", c.FullPath()).Msg("queue: request failed")
	}
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", "1")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// StatusFor сопоставляет ошибки домена HTTP-кодам.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrInvalidDepartment), errors.Is(err, errs.ErrInvalidPriority):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, errs.ErrContention), errors.Is(err, errs.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
