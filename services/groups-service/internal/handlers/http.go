// Package handlers is the thin JSON command adapter in front of the group
// service. The caller's identity comes from the X-User-Id header.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/groupchat/libs/httpx"
	"github.com/md-rashed-zaman/groupchat/libs/outbox"
	"github.com/md-rashed-zaman/groupchat/services/groups-service/internal/group"
	"github.com/md-rashed-zaman/groupchat/services/groups-service/internal/service"
)

type Groups interface {
	CreateGroup(ctx context.Context, in service.CreateGroup) (*group.Group, error)
	JoinGroup(ctx context.Context, groupID, userID uuid.UUID, password string) error
	LeaveGroup(ctx context.Context, groupID, userID uuid.UUID) error
	DeleteGroup(ctx context.Context, groupID, actorID uuid.UUID) error
}

type Handler struct {
	groups Groups
	logger *slog.Logger
}

func New(groups Groups, logger *slog.Logger) *Handler {
	return &Handler{groups: groups, logger: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/groups", h.create)
	mux.HandleFunc("POST /v1/groups/{groupID}/members", h.join)
	mux.HandleFunc("DELETE /v1/groups/{groupID}/members/me", h.leave)
	mux.HandleFunc("DELETE /v1/groups/{groupID}", h.delete)
}

type createRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Password    string `json:"password"`
}

type groupResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnerID string `json:"ownerId"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.UserID(r)
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	g, err := h.groups.CreateGroup(r.Context(), service.CreateGroup{
		Name:        req.Name,
		Description: req.Description,
		Password:    req.Password,
		OwnerID:     userID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, groupResponse{ID: g.ID.String(), Name: g.Name, OwnerID: g.OwnerID.String()})
}

type joinRequest struct {
	Password string `json:"password"`
}

func (h *Handler) join(w http.ResponseWriter, r *http.Request) {
	groupID, userID, ok := h.ids(w, r)
	if !ok {
		return
	}
	var req joinRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := h.groups.JoinGroup(r.Context(), groupID, userID, req.Password); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) leave(w http.ResponseWriter, r *http.Request) {
	groupID, userID, ok := h.ids(w, r)
	if !ok {
		return
	}
	if err := h.groups.LeaveGroup(r.Context(), groupID, userID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	groupID, userID, ok := h.ids(w, r)
	if !ok {
		return
	}
	if err := h.groups.DeleteGroup(r.Context(), groupID, userID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ids(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
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
	case errors.Is(err, group.ErrInvalid):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, group.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, group.ErrNotOwner), errors.Is(err, group.ErrWrongPassword):
		httpx.WriteError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, group.ErrAlreadyMember), errors.Is(err, group.ErrNotMember),
		errors.Is(err, group.ErrOwnerCannotLeave), errors.Is(err, group.ErrDeleted):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, outbox.ErrDurability):
		h.logger.Error("outbox append failed", "path", r.URL.Path, "err", err)
		httpx.WriteError(w, http.StatusServiceUnavailable, "event could not be recorded")
	default:
		h.logger.Error("group command failed", "path", r.URL.Path, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
