package webhook

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/pillowpotion/backend/internal/generation"
	"github.com/pillowpotion/backend/internal/models"
)

type mockEvents struct {
	events map[uuid.UUID]*models.WebhookEvent
	getErr error
}

func newMockEvents() *mockEvents {
	return &mockEvents{events: make(map[uuid.UUID]*models.WebhookEvent)}
}

func (m *mockEvents) GetByID(_ context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	e, ok := m.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	return e, nil
}

func (m *mockEvents) MarkProcessed(_ context.Context, id uuid.UUID, processErr *string) error {
	e, ok := m.events[id]
	if !ok {
		return ErrEventNotFound
	}
	e.Processed = true
	e.ProcessError = processErr
	return nil
}

type resolveCall struct {
	requestUUID uuid.UUID
	status      string
	upd         generation.StatusUpdate
}

type mockResolver struct {
	calls   []resolveCall
	applied bool
	err     error
}

func (m *mockResolver) Resolve(_ context.Context, requestUUID uuid.UUID, newStatus string, upd generation.StatusUpdate) (*models.Generation, bool, error) {
	m.calls = append(m.calls, resolveCall{requestUUID: requestUUID, status: newStatus, upd: upd})
	if m.err != nil {
		return nil, false, m.err
	}
	return &models.Generation{RequestUUID: requestUUID, Status: newStatus}, m.applied, nil
}

func seedEvent(m *mockEvents, eventName, payload string) *models.WebhookEvent {
	e := &models.WebhookEvent{
		ID:        uuid.New(),
		EventName: eventName,
		Payload:   []byte(payload),
	}
	m.events[e.ID] = e
	return e
}

func jobFor(e *models.WebhookEvent) *river.Job[ProcessEventArgs] {
	return &river.Job[ProcessEventArgs]{Args: ProcessEventArgs{EventID: e.ID}}
}

func TestWork_FailedEventResolves(t *testing.T) {
	events := newMockEvents()
	resolver := &mockResolver{applied: true}
	w := NewProcessEventWorker(events, resolver, nil)

	requestUUID := uuid.New()
	e := seedEvent(events, "generation.failed",
		`{"uuid":"`+requestUUID.String()+`","error_message":"provider timeout"}`)

	if err := w.Work(context.Background(), jobFor(e)); err != nil {
		t.Fatalf("Work: %v", err)
	}
	if len(resolver.calls) != 1 {
		t.Fatalf("expected 1 resolve call, got %d", len(resolver.calls))
	}
	call := resolver.calls[0]
	if call.requestUUID != requestUUID {
		t.Errorf("resolved uuid = %s, want %s", call.requestUUID, requestUUID)
	}
	if call.status != models.GenerationFailed {
		t.Errorf("resolved status = %q, want %q", call.status, models.GenerationFailed)
	}
	if call.upd.ErrorMessage == nil || *call.upd.ErrorMessage != "provider timeout" {
		t.Errorf("error message not forwarded: %v", call.upd.ErrorMessage)
	}
	if !e.Processed {
		t.Error("event not marked processed")
	}
	if e.ProcessError != nil {
		t.Errorf("unexpected process error note: %q", *e.ProcessError)
	}
}

func TestWork_StatusFieldFallback(t *testing.T) {
	events := newMockEvents()
	resolver := &mockResolver{applied: true}
	w := NewProcessEventWorker(events, resolver, nil)

	requestUUID := uuid.New()
	e := seedEvent(events, "generation.update",
		`{"uuid":"`+requestUUID.String()+`","status":"completed","result_url":"https://cdn.example/out.png","actual_credits_used":12}`)

	if err := w.Work(context.Background(), jobFor(e)); err != nil {
		t.Fatalf("Work: %v", err)
	}
	call := resolver.calls[0]
	if call.status != models.GenerationCompleted {
		t.Errorf("resolved status = %q, want completed", call.status)
	}
	if call.upd.ResultURL == nil || *call.upd.ResultURL != "https://cdn.example/out.png" {
		t.Errorf("result url not forwarded: %v", call.upd.ResultURL)
	}
	if call.upd.ActualCreditsUsed == nil || *call.upd.ActualCreditsUsed != 12 {
		t.Errorf("actual credits not forwarded: %v", call.upd.ActualCreditsUsed)
	}
}

func TestWork_MalformedPayloadConsumedWithNote(t *testing.T) {
	events := newMockEvents()
	resolver := &mockResolver{}
	w := NewProcessEventWorker(events, resolver, nil)

	e := seedEvent(events, "generation.failed", `{"uuid": not json`)

	if err := w.Work(context.Background(), jobFor(e)); err != nil {
		t.Fatalf("malformed payload must not be retried, got %v", err)
	}
	if len(resolver.calls) != 0 {
		t.Error("resolver called for malformed payload")
	}
	if !e.Processed {
		t.Error("event not marked processed")
	}
	if e.ProcessError == nil || !strings.Contains(*e.ProcessError, "malformed payload") {
		t.Errorf("process error note = %v", e.ProcessError)
	}
}

func TestWork_UnknownGenerationConsumedWithNote(t *testing.T) {
	events := newMockEvents()
	resolver := &mockResolver{err: generation.ErrNotFound}
	w := NewProcessEventWorker(events, resolver, nil)

	e := seedEvent(events, "generation.completed", `{"uuid":"`+uuid.NewString()+`"}`)

	if err := w.Work(context.Background(), jobFor(e)); err != nil {
		t.Fatalf("unknown generation must not be retried, got %v", err)
	}
	if !e.Processed {
		t.Error("event not marked processed")
	}
	if e.ProcessError == nil || !strings.Contains(*e.ProcessError, "no generation") {
		t.Errorf("process error note = %v", e.ProcessError)
	}
}

func TestWork_UnrecognizedEventConsumedWithNote(t *testing.T) {
	events := newMockEvents()
	resolver := &mockResolver{}
	w := NewProcessEventWorker(events, resolver, nil)

	e := seedEvent(events, "billing.invoice_paid", `{"uuid":"`+uuid.NewString()+`"}`)

	if err := w.Work(context.Background(), jobFor(e)); err != nil {
		t.Fatalf("unrecognized event must not be retried, got %v", err)
	}
	if len(resolver.calls) != 0 {
		t.Error("resolver called for unrecognized event")
	}
	if e.ProcessError == nil || !strings.Contains(*e.ProcessError, "unrecognized event") {
		t.Errorf("process error note = %v", e.ProcessError)
	}
}

func TestWork_InfrastructureErrorRetries(t *testing.T) {
	events := newMockEvents()
	resolver := &mockResolver{err: errors.New("connection refused")}
	w := NewProcessEventWorker(events, resolver, nil)

	e := seedEvent(events, "generation.failed", `{"uuid":"`+uuid.NewString()+`"}`)

	if err := w.Work(context.Background(), jobFor(e)); err == nil {
		t.Fatal("expected error for infrastructure failure")
	}
	if e.Processed {
		t.Error("event consumed despite infrastructure failure")
	}
}

func TestWork_AlreadyProcessedSkipped(t *testing.T) {
	events := newMockEvents()
	resolver := &mockResolver{}
	w := NewProcessEventWorker(events, resolver, nil)

	e := seedEvent(events, "generation.failed", `{"uuid":"`+uuid.NewString()+`"}`)
	e.Processed = true

	if err := w.Work(context.Background(), jobFor(e)); err != nil {
		t.Fatalf("Work: %v", err)
	}
	if len(resolver.calls) != 0 {
		t.Error("resolver called for already-processed event")
	}
}
