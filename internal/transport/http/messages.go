package http

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

type submitMessageRequest struct {
	Content string `json:"content"`
}

// SubmitMessage stores a user message and launches one agent turn. The
// response carries the stored message; the turn streams over the session's
// event stream.
// POST /v1/sessions/:session_id/messages
func (h *Handler) SubmitMessage(c echo.Context) error {
	var req submitMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Content == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "content is required"})
	}

	message, err := h.service.SubmitUserMessage(c.Request().Context(), c.Param("session_id"), req.Content)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusCreated, message)
}

// GetMessages retrieves a session's message history.
// GET /v1/sessions/:session_id/messages
func (h *Handler) GetMessages(c echo.Context) error {
	messages, err := h.service.GetMessages(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"messages": messages,
	})
}

// GetEvents retrieves a session's archived live events. Empty when no
// archive is configured.
// GET /v1/sessions/:session_id/events
func (h *Handler) GetEvents(c echo.Context) error {
	limit := int64(500)
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.ParseInt(l, 10, 64); err == nil {
			limit = val
		}
	}

	events, err := h.service.GetEvents(c.Request().Context(), c.Param("session_id"), limit)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"events": events,
	})
}
