package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/pillowpotion/backend/internal/generation"
	"github.com/pillowpotion/backend/internal/models"
)

// ProcessEventArgs references one raw webhook_events row to interpret.
type ProcessEventArgs struct {
	EventID uuid.UUID `json:"event_id"`
}

func (ProcessEventArgs) Kind() string { return "process_generation_webhook" }

// EventStore is the raw-event access the worker needs.
type EventStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, processErr *string) error
}

// Resolver applies the interpreted transition (and any refund it earns).
type Resolver interface {
	Resolve(ctx context.Context, requestUUID uuid.UUID, newStatus string, upd generation.StatusUpdate) (*models.Generation, bool, error)
}

// eventPayload is the provider's callback body. Only the enumerated fields
// are interpreted; everything else stays in the verbatim raw log.
type eventPayload struct {
	RequestUUID       string  `json:"uuid"`
	Status            string  `json:"status"`
	ResultURL         *string `json:"result_url,omitempty"`
	ErrorMessage      *string `json:"error_message,omitempty"`
	ActualCreditsUsed *int    `json:"actual_credits_used,omitempty"`
}

// ProcessEventWorker interprets logged provider callbacks. Interpretation
// failures (malformed payload, unknown generation, bad transition) are
// terminal for the event: the row is marked processed with an error note and
// the job completes, so the same handler never retries a hopeless payload.
// Only infrastructure errors are returned to River for retry.
type ProcessEventWorker struct {
	river.WorkerDefaults[ProcessEventArgs]
	events   EventStore
	resolver Resolver
	log      *slog.Logger
}

func NewProcessEventWorker(events EventStore, resolver Resolver, log *slog.Logger) *ProcessEventWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ProcessEventWorker{events: events, resolver: resolver, log: log}
}

func (w *ProcessEventWorker) Work(ctx context.Context, job *river.Job[ProcessEventArgs]) error {
	event, err := w.events.GetByID(ctx, job.Args.EventID)
	if err != nil {
		return fmt.Errorf("load webhook event: %w", err)
	}
	if event.Processed {
		return nil
	}

	note, err := w.interpret(ctx, event)
	if err != nil {
		// Infrastructure failure: do not consume the event, let River retry.
		return fmt.Errorf("resolve webhook event: %w", err)
	}
	if err := w.events.MarkProcessed(ctx, event.ID, note); err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}
	return nil
}

// interpret attempts to apply the event. It returns the error note to store
// (nil when the event was applied or was a recognized duplicate), or a
// non-nil error for infrastructure failures that should be retried.
func (w *ProcessEventWorker) interpret(ctx context.Context, event *models.WebhookEvent) (*string, error) {
	var p eventPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return notef("malformed payload: %v", err), nil
	}
	requestUUID, err := uuid.Parse(p.RequestUUID)
	if err != nil {
		return notef("invalid uuid %q", p.RequestUUID), nil
	}
	status, ok := statusForEvent(event.EventName, p.Status)
	if !ok {
		return notef("unrecognized event %q with status %q", event.EventName, p.Status), nil
	}

	_, applied, err := w.resolver.Resolve(ctx, requestUUID, status, generation.StatusUpdate{
		ResultURL:         p.ResultURL,
		ErrorMessage:      p.ErrorMessage,
		ActualCreditsUsed: p.ActualCreditsUsed,
	})
	switch {
	case errors.Is(err, generation.ErrNotFound):
		return notef("no generation for uuid %s", requestUUID), nil
	case errors.Is(err, generation.ErrInvalidTransition):
		return notef("rejected transition to %q", status), nil
	case err != nil:
		return nil, err
	}
	if !applied {
		w.log.Info("duplicate terminal webhook ignored", "uuid", requestUUID, "status", status)
	}
	return nil, nil
}

// statusForEvent maps provider event names to lifecycle statuses. Providers
// send either a discriminating event name or a generic event with a status
// field.
func statusForEvent(eventName, status string) (string, bool) {
	switch eventName {
	case "generation.started":
		return models.GenerationProcessing, true
	case "generation.completed":
		return models.GenerationCompleted, true
	case "generation.failed":
		return models.GenerationFailed, true
	}
	switch status {
	case models.GenerationProcessing, models.GenerationCompleted, models.GenerationFailed:
		return status, true
	}
	return "", false
}

func notef(format string, args ...any) *string {
	s := fmt.Sprintf(format, args...)
	return &s
}
