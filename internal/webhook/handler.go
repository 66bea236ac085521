package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pillowpotion/backend/internal/models"
)

// InsertProcessEventTxFunc enqueues a ProcessEvent job within the given
// transaction. Provided by main using river.Client.InsertTx.
type InsertProcessEventTxFunc func(ctx context.Context, tx pgx.Tx, args ProcessEventArgs) error

// EventLog is the raw-event persistence the handler needs.
type EventLog interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.WebhookEvent) error
}

// envelope is the minimal shape peeked out of the body for indexing the raw
// log. Full interpretation happens in the worker.
type envelope struct {
	RequestUUID string `json:"uuid"`
	EventName   string `json:"event"`
}

// Handler ingests provider callbacks. The contract is: store the raw event
// verbatim first, then hand interpretation to the worker; the caller gets 202
// as soon as the event is durably logged. Malformed bodies are logged like
// any other so they can be audited and replayed; the worker marks them
// processed with an error note.
type Handler struct {
	repo         EventLog
	insertEvent  InsertProcessEventTxFunc
	sharedSecret string
	log          *slog.Logger
}

func NewHandler(repo EventLog, insertEvent InsertProcessEventTxFunc, sharedSecret string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{repo: repo, insertEvent: insertEvent, sharedSecret: sharedSecret, log: log}
}

// Receive handles POST /api/v1/webhooks/generation.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get("X-Webhook-Secret")
	if subtle.ConstantTimeCompare([]byte(secret), []byte(h.sharedSecret)) != 1 {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.log.Error("webhook body read failed", "error", err)
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return
	}

	// Best-effort peek for indexing; a body that doesn't parse is still
	// stored verbatim.
	var env envelope
	_ = json.Unmarshal(body, &env)
	event := &models.WebhookEvent{
		ID:        uuid.New(),
		EventName: env.EventName,
		Payload:   body,
	}
	if parsed, err := uuid.Parse(env.RequestUUID); err == nil {
		event.RequestUUID = &parsed
	}

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		h.log.Error("webhook tx begin failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	defer tx.Rollback(r.Context())

	if err := h.repo.CreateTx(r.Context(), tx, event); err != nil {
		h.log.Error("webhook raw log failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if err := h.insertEvent(r.Context(), tx, ProcessEventArgs{EventID: event.ID}); err != nil {
		h.log.Error("webhook enqueue failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		h.log.Error("webhook commit failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"event_id": event.ID.String()})
}
