package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"llm-dealer/internal/logger"
	"llm-dealer/internal/plan"
	"llm-dealer/internal/query"
	"llm-dealer/internal/sandbox"
)

// QueryHandler exposes one orchestrator. The orchestrator's store is shared
// by every run, so requests are served one at a time.
type QueryHandler struct {
	Orchestrator *query.Orchestrator

	slot chan struct{}
}

func NewQueryHandler(o *query.Orchestrator) *QueryHandler {
	return &QueryHandler{Orchestrator: o, slot: make(chan struct{}, 1)}
}

func (h *QueryHandler) Register(r *gin.Engine) {
	group := r.Group("/v1/query")
	group.POST("", h.query)
	group.GET("/stream", h.stream)
	group.POST("/stream", h.stream)
}

type queryRequest struct {
	Query string `json:"query" form:"q"`
}

func (h *QueryHandler) acquire(ctx context.Context) bool {
	select {
	case h.slot <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (h *QueryHandler) release() { <-h.slot }

func bindQuery(c *gin.Context) (string, bool) {
	var req queryRequest
	var err error
	if c.Request.Method == http.MethodGet {
		err = c.ShouldBindQuery(&req)
	} else {
		err = c.ShouldBindJSON(&req)
	}
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", nil)
		return "", false
	}
	text := strings.TrimSpace(req.Query)
	if text == "" {
		Error(c, http.StatusBadRequest, "query is required", nil)
		return "", false
	}
	return text, true
}

func (h *QueryHandler) query(c *gin.Context) {
	if h.Orchestrator == nil {
		Error(c, http.StatusInternalServerError, "orchestrator unavailable", nil)
		return
	}
	text, ok := bindQuery(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if !h.acquire(ctx) {
		Error(c, http.StatusServiceUnavailable, "request cancelled while queued", nil)
		return
	}
	defer h.release()

	ans, err := h.Orchestrator.Query(ctx, text)
	if err != nil {
		Error(c, statusFor(err), err.Error(), map[string]any{"id": ans.ID})
		return
	}
	Ok(c, ans, nil)
}

// stream answers with server-sent events, one per orchestrator event. The
// SSE event name is the event type.
func (h *QueryHandler) stream(c *gin.Context) {
	if h.Orchestrator == nil {
		Error(c, http.StatusInternalServerError, "orchestrator unavailable", nil)
		return
	}
	text, ok := bindQuery(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if !h.acquire(ctx) {
		Error(c, http.StatusServiceUnavailable, "request cancelled while queued", nil)
		return
	}
	defer h.release()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	n := 0
	for ev := range h.Orchestrator.Stream(ctx, text) {
		c.SSEvent(string(ev.Type), ev)
		c.Writer.Flush()
		n++
	}
	logger.Debug(ctx, "Query stream closed", "events", n, "client_gone", ctx.Err() != nil)
}

func statusFor(err error) int {
	var (
		pe *plan.ParseError
		ce *plan.ContractError
		sv *sandbox.SecurityViolation
	)
	switch {
	case errors.As(err, &sv):
		return http.StatusUnprocessableEntity
	case errors.As(err, &pe), errors.As(err, &ce):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
