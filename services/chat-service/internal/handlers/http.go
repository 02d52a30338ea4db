package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/groupchat/libs/httpx"
	"github.com/md-rashed-zaman/groupchat/libs/outbox"
	"github.com/md-rashed-zaman/groupchat/services/chat-service/internal/message"
	"github.com/md-rashed-zaman/groupchat/services/chat-service/internal/service"
)

type Chat interface {
	Send(ctx context.Context, groupID, userID uuid.UUID, content string) (*message.Message, error)
	History(ctx context.Context, groupID, userID uuid.UUID, limit int) ([]message.Message, error)
}

type Handler struct {
	chat   Chat
	logger *slog.Logger
}

func New(chat Chat, logger *slog.Logger) *Handler {
	return &Handler{chat: chat, logger: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/groups/{groupID}/messages", h.send)
	mux.HandleFunc("GET /v1/groups/{groupID}/messages", h.history)
}

type sendRequest struct {
	Content string `json:"content"`
}

type messageResponse struct {
	ID      string    `json:"id"`
	GroupID string    `json:"groupId"`
	UserID  string    `json:"userId"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sentAt"`
}

func toResponse(m *message.Message) messageResponse {
	return messageResponse{
		ID:      m.ID.String(),
		GroupID: m.GroupID.String(),
		UserID:  m.UserID.String(),
		Content: m.Content,
		SentAt:  m.SentAt,
	}
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	groupID, userID, ok := ids(w, r)
	if !ok {
		return
	}
	var req sendRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := h.chat.Send(r.Context(), groupID, userID, req.Content)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toResponse(m))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	groupID, userID, ok := ids(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httpx.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	msgs, err := h.chat.History(r.Context(), groupID, userID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]messageResponse, 0, len(msgs))
	for i := range msgs {
		out = append(out, toResponse(&msgs[i]))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func ids(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, err := httpx.UserID(r)
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, err.Error())
		return uuid.Nil, uuid.Nil, false
	}
	groupID, err := uuid.Parse(r.PathValue("groupID"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid group id")
		return uuid.Nil, uuid.Nil, false
	}
	return groupID, userID, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, message.ErrInvalid):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotMember):
		httpx.WriteError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, outbox.ErrDurability):
		h.logger.Error("outbox append failed", "path", r.URL.Path, "err", err)
		httpx.WriteError(w, http.StatusServiceUnavailable, "event could not be recorded")
	default:
		h.logger.Error("chat command failed", "path", r.URL.Path, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
