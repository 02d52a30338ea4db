package outbox

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/groupchat/libs/httpx"
	"github.com/md-rashed-zaman/groupchat/libs/logattr"
)

// AdminStore backs the operator endpoints for quarantined records.
type AdminStore interface {
	ListFailed(ctx context.Context, limit int) ([]Record, error)
	Requeue(ctx context.Context, eventID uuid.UUID) error
}

type failedRecordResponse struct {
	EventID    string    `json:"eventId"`
	EventType  string    `json:"eventType"`
	RetryCount int       `json:"retryCount"`
	LastError  string    `json:"lastError,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NewAdminServer serves the admin endpoints on their own listener, apart from
// the caller-facing routes.
func NewAdminServer(addr, serviceName string, store AdminStore, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(httpx.Ops(NewAdminHandler(store, logger), logger), serviceName+"-admin"),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// NewAdminHandler serves
//
//	GET  /outbox/failed?limit=N
//	POST /outbox/failed/{eventID}/requeue
func NewAdminHandler(store AdminStore, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /outbox/failed", func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > 500 {
				httpx.WriteError(w, http.StatusBadRequest, "limit must be between 1 and 500")
				return
			}
			limit = n
		}

		records, err := store.ListFailed(r.Context(), limit)
		if err != nil {
			logger.Error("list failed outbox records", "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "internal error")
			return
		}
		out := make([]failedRecordResponse, 0, len(records))
		for _, rec := range records {
			out = append(out, failedRecordResponse{
				EventID:    rec.EventID.String(),
				EventType:  rec.EventType,
				RetryCount: rec.RetryCount,
				LastError:  rec.LastError,
				CreatedAt:  rec.CreatedAt,
			})
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"records": out})
	})

	mux.HandleFunc("POST /outbox/failed/{eventID}/requeue", func(w http.ResponseWriter, r *http.Request) {
		eventID, err := uuid.Parse(r.PathValue("eventID"))
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid event id")
			return
		}

		switch err := store.Requeue(r.Context(), eventID); {
		case err == nil:
			logger.Warn("outbox record requeued by operator", logattr.EventID(eventID))
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, ErrRecordNotFound):
			httpx.WriteError(w, http.StatusNotFound, "record not found")
		case errors.Is(err, ErrNotFailed):
			httpx.WriteError(w, http.StatusConflict, "record is not failed")
		default:
			logger.Error("requeue outbox record", logattr.EventID(eventID), "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "internal error")
		}
	})

	return mux
}
