package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/groupchat/libs/httpx"
	"github.com/md-rashed-zaman/groupchat/libs/outbox"
	"github.com/md-rashed-zaman/groupchat/services/auth-service/internal/user"
)

type Users interface {
	Register(ctx context.Context, email, nickName, password string) (*user.User, error)
	Authenticate(ctx context.Context, email, password string) (*user.User, error)
	Get(ctx context.Context, id uuid.UUID) (*user.User, error)
}

type AuthHandler struct {
	users  Users
	logger *slog.Logger
}

func NewAuthHandler(users Users, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{users: users, logger: logger}
}

func (h *AuthHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/auth/register", h.Register)
	mux.HandleFunc("POST /v1/auth/login", h.Login)
	mux.HandleFunc("GET /v1/auth/me", h.Me)
}

type registerRequest struct {
	Email           string `json:"email"`
	NickName        string `json:"nickName"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	NickName  string    `json:"nickName"`
	CreatedAt time.Time `json:"createdAt"`
}

func toResponse(u *user.User) userResponse {
	return userResponse{UserID: u.ID.String(), Email: u.Email, NickName: u.NickName, CreatedAt: u.CreatedAt}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Password != req.ConfirmPassword {
		httpx.WriteError(w, http.StatusBadRequest, "passwords do not match")
		return
	}
	u, err := h.users.Register(r.Context(), req.Email, req.NickName, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toResponse(u))
}

// Login checks credentials and returns the account. Token issuance is left to
// the edge; downstream services trust the X-User-Id header it sets.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(u))
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UserID(r)
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, err.Error())
		return
	}
	u, err := h.users.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(u))
}

func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, user.ErrInvalid):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, user.ErrInvalidCredentials):
		httpx.WriteError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, user.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, user.ErrEmailTaken), errors.Is(err, user.ErrNickNameTaken):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, outbox.ErrDurability):
		h.logger.Error("outbox append failed", "path", r.URL.Path, "err", err)
		httpx.WriteError(w, http.StatusServiceUnavailable, "event could not be recorded")
	default:
		h.logger.Error("auth request failed", "path", r.URL.Path, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
