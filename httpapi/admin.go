package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"

	mailevents "github.com/goliatone/go-mailevents"
	eventcommand "github.com/goliatone/go-mailevents/command"
	"github.com/goliatone/go-mailevents/core"
	eventquery "github.com/goliatone/go-mailevents/query"
)

// bulk actions offered by the admin list
const (
	ActionMarkPending   = "mark_pending"
	ActionMarkProcessed = "mark_processed"
	ActionMarkFailed    = "mark_failed"
)

type adminHandler struct {
	facade   *mailevents.Facade
	mapError core.ErrorMapper
}

func (h *adminHandler) RegisterRoutes(g *gin.RouterGroup) {
	g.GET("", h.list)
	g.POST("/actions", h.bulkAction)
	g.POST("/process", h.processPending)
	g.POST("/retry", h.retryFailed)
	g.POST("/reclaim", h.reclaimStale)
	g.GET("/:id", h.get)
	g.PATCH("/:id", h.update)
}

func (h *adminHandler) list(c *gin.Context) {
	filter := core.EventFilter{
		Status:    core.EventStatus(strings.TrimSpace(c.Query("status"))),
		EventType: c.Query("event_type"),
		Search:    c.Query("q"),
		Page:      queryInt(c, "page"),
		PerPage:   queryInt(c, "per_page"),
	}
	var err error
	if filter.CreatedFrom, err = queryTime(c, "created_from", false); err != nil {
		h.fail(c, err)
		return
	}
	if filter.CreatedTo, err = queryTime(c, "created_to", true); err != nil {
		h.fail(c, err)
		return
	}
	page, err := h.facade.Queries().ListEvents.Query(c.Request.Context(), eventquery.ListEventsMessage{Filter: filter})
	if err != nil {
		h.fail(c, err)
		return
	}
	items := make([]gin.H, 0, len(page.Items))
	for _, event := range page.Items {
		items = append(items, eventResponse(event))
	}
	body := gin.H{
		"items":    items,
		"total":    page.Total,
		"has_more": page.HasMore,
	}
	if page.NextOffset != nil {
		body["next_offset"] = *page.NextOffset
	}
	c.JSON(http.StatusOK, body)
}

func (h *adminHandler) get(c *gin.Context) {
	event, err := h.facade.Queries().GetEvent.Query(c.Request.Context(), eventquery.GetEventMessage{ID: c.Param("id")})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, eventResponse(event))
}

type updateEventRequest struct {
	Status       *string `json:"status"`
	ErrorMessage *string `json:"error_message"`
}

func (h *adminHandler) update(c *gin.Context) {
	var req updateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, core.WrapError(err, goerrors.CategoryBadInput, "invalid request body", core.ErrorCodeBadInput))
		return
	}
	msg := eventcommand.UpdateEventMessage{ID: c.Param("id"), ErrorMessage: req.ErrorMessage}
	if req.Status != nil {
		status := core.EventStatus(strings.TrimSpace(*req.Status))
		msg.Status = &status
	}

	result := gocmd.NewResult[core.WebhookEvent]()
	if err := h.facade.Commands().UpdateEvent.Execute(gocmd.ContextWithResult(c.Request.Context(), result), msg); err != nil {
		h.fail(c, err)
		return
	}
	event, _ := result.Load()
	c.JSON(http.StatusOK, eventResponse(event))
}

type bulkActionRequest struct {
	Action string   `json:"action"`
	IDs    []string `json:"ids"`
}

func (h *adminHandler) bulkAction(c *gin.Context) {
	var req bulkActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, core.WrapError(err, goerrors.CategoryBadInput, "invalid request body", core.ErrorCodeBadInput))
		return
	}
	var status core.EventStatus
	switch strings.TrimSpace(req.Action) {
	case ActionMarkPending:
		status = core.EventStatusPending
	case ActionMarkProcessed:
		status = core.EventStatusProcessed
	case ActionMarkFailed:
		status = core.EventStatusFailed
	default:
		h.fail(c, core.NewError("unknown action "+strconv.Quote(req.Action), goerrors.CategoryBadInput, core.ErrorCodeBadInput))
		return
	}

	result := gocmd.NewResult[int]()
	if err := h.facade.Commands().OverrideStatus.Execute(gocmd.ContextWithResult(c.Request.Context(), result), eventcommand.OverrideStatusMessage{
		IDs:    req.IDs,
		Status: status,
	}); err != nil {
		h.fail(c, err)
		return
	}
	count, _ := result.Load()
	c.JSON(http.StatusOK, gin.H{"updated": count, "status": string(status)})
}

type processRequest struct {
	Limit     int    `json:"limit"`
	EventType string `json:"event_type"`
}

func (h *adminHandler) processPending(c *gin.Context) {
	var req processRequest
	if !h.bindOptionalJSON(c, &req) {
		return
	}
	result := gocmd.NewResult[core.ProcessingStats]()
	if err := h.facade.Commands().ProcessPending.Execute(gocmd.ContextWithResult(c.Request.Context(), result), eventcommand.ProcessPendingMessage{
		Limit:     req.Limit,
		EventType: req.EventType,
	}); err != nil {
		h.fail(c, err)
		return
	}
	stats, _ := result.Load()
	c.JSON(http.StatusOK, stats)
}

type retryRequest struct {
	Limit      int `json:"limit"`
	MaxRetries int `json:"max_retries"`
}

func (h *adminHandler) retryFailed(c *gin.Context) {
	var req retryRequest
	if !h.bindOptionalJSON(c, &req) {
		return
	}
	result := gocmd.NewResult[core.ProcessingStats]()
	if err := h.facade.Commands().RetryFailed.Execute(gocmd.ContextWithResult(c.Request.Context(), result), eventcommand.RetryFailedMessage{
		Limit:      req.Limit,
		MaxRetries: req.MaxRetries,
	}); err != nil {
		h.fail(c, err)
		return
	}
	stats, _ := result.Load()
	c.JSON(http.StatusOK, stats)
}

type reclaimRequest struct {
	OlderThanSeconds int `json:"older_than_seconds"`
}

func (h *adminHandler) reclaimStale(c *gin.Context) {
	var req reclaimRequest
	if !h.bindOptionalJSON(c, &req) {
		return
	}
	result := gocmd.NewResult[int]()
	if err := h.facade.Commands().ReclaimStale.Execute(gocmd.ContextWithResult(c.Request.Context(), result), eventcommand.ReclaimStaleMessage{
		OlderThan: time.Duration(req.OlderThanSeconds) * time.Second,
	}); err != nil {
		h.fail(c, err)
		return
	}
	count, _ := result.Load()
	c.JSON(http.StatusOK, gin.H{"reclaimed": count})
}

func (h *adminHandler) fail(c *gin.Context, err error) {
	rich := h.mapError(err)
	if rich == nil {
		rich = core.NewError("unexpected error", goerrors.CategoryInternal, core.ErrorCodeInternal)
	}
	status := rich.Code
	if status == 0 {
		status = core.HTTPStatus(rich.Category)
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": rich.Message, "code": rich.TextCode})
}

// bindOptionalJSON accepts an empty body as the zero request.
func (h *adminHandler) bindOptionalJSON(c *gin.Context, target any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(target); err != nil {
		h.fail(c, core.WrapError(err, goerrors.CategoryBadInput, "invalid request body", core.ErrorCodeBadInput))
		return false
	}
	return true
}

func queryInt(c *gin.Context, key string) int {
	value, err := strconv.Atoi(strings.TrimSpace(c.Query(key)))
	if err != nil {
		return 0
	}
	return value
}

// queryTime accepts RFC 3339 or a bare date. A bare date used as an upper
// bound covers that whole day.
func queryTime(c *gin.Context, key string, upper bool) (time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return time.Time{}, nil
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.UTC(), nil
	}
	day, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, core.WrapError(err, goerrors.CategoryBadInput, key+" must be a date or RFC 3339 time", core.ErrorCodeBadInput)
	}
	if upper {
		day = day.AddDate(0, 0, 1)
	}
	return day, nil
}

func eventResponse(event core.WebhookEvent) gin.H {
	body := gin.H{
		"id":            event.ID,
		"event_id":      event.EventID,
		"event_type":    event.EventType,
		"timestamp":     event.Timestamp,
		"email":         event.Email,
		"message_id":    event.MessageID,
		"payload":       event.Payload,
		"status":        string(event.Status),
		"created_at":    event.CreatedAt,
		"updated_at":    event.UpdatedAt,
		"processed_at":  event.ProcessedAt,
		"error_message": event.ErrorMessage,
		"retry_count":   event.RetryCount,
	}
	return body
}
