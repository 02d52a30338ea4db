package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// UserIDHeader carries the caller's user id, set by the edge after it has
// authenticated the request.
const UserIDHeader = "X-User-Id"

var ErrNoUser = errors.New("missing or invalid " + UserIDHeader + " header")

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

func DecodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func UserID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.Header.Get(UserIDHeader))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, ErrNoUser
	}
	return id, nil
}
