// Package handlers is the JSON command adapter for audio channels.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/groupchat/libs/httpx"
	"github.com/md-rashed-zaman/groupchat/libs/outbox"
	"github.com/md-rashed-zaman/groupchat/services/audio-service/internal/channel"
	"github.com/md-rashed-zaman/groupchat/services/audio-service/internal/service"
)

type Channels interface {
	CreateChannel(ctx context.Context, groupID, userID uuid.UUID, name string) (*channel.Channel, error)
	JoinChannel(ctx context.Context, channelID, userID uuid.UUID) error
	LeaveChannel(ctx context.Context, channelID, userID uuid.UUID) error
	DeleteChannel(ctx context.Context, channelID, actorID uuid.UUID) error
}

type Handler struct {
	channels Channels
	logger   *slog.Logger
}

func New(channels Channels, logger *slog.Logger) *Handler {
	return &Handler{channels: channels, logger: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/groups/{groupID}/audio-channels", h.create)
	mux.HandleFunc("POST /v1/audio-channels/{channelID}/participants", h.command(Channels.JoinChannel))
	mux.HandleFunc("DELETE /v1/audio-channels/{channelID}/participants/me", h.command(Channels.LeaveChannel))
	mux.HandleFunc("DELETE /v1/audio-channels/{channelID}", h.command(Channels.DeleteChannel))
}

type createRequest struct {
	Name string `json:"name"`
}

type channelResponse struct {
	ID      string `json:"id"`
	GroupID string `json:"groupId"`
	Name    string `json:"name"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	groupID, userID, ok := pathIDs(w, r, "groupID")
	if !ok {
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := h.channels.CreateChannel(r.Context(), groupID, userID, req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, channelResponse{ID: c.ID.String(), GroupID: c.GroupID.String(), Name: c.Name})
}

// command adapts a (channel, caller) operation with no body to a handler.
func (h *Handler) command(op func(Channels, context.Context, uuid.UUID, uuid.UUID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channelID, userID, ok := pathIDs(w, r, "channelID")
		if !ok {
			return
		}
		if err := op(h.channels, r.Context(), channelID, userID); err != nil {
			h.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func pathIDs(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, uuid.UUID, bool) {
	userID, err := httpx.UserID(r)
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, err.Error())
		return uuid.Nil, uuid.Nil, false
	}
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, uuid.Nil, false
	}
	return id, userID, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, channel.ErrInvalid):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, channel.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrNotMember), errors.Is(err, channel.ErrNotCreator):
		httpx.WriteError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, channel.ErrAlreadyJoined), errors.Is(err, channel.ErrNotParticipant),
		errors.Is(err, channel.ErrDeleted):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, outbox.ErrDurability):
		h.logger.Error("outbox append failed", "path", r.URL.Path, "err", err)
		httpx.WriteError(w, http.StatusServiceUnavailable, "event could not be recorded")
	default:
		h.logger.Error("audio command failed", "path", r.URL.Path, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
