package billing

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/pillowpotion/backend/internal/middleware"
	"github.com/pillowpotion/backend/internal/models"
)

type SubmitRequest struct {
	PlanID       string  `json:"plan_id" validate:"required,uuid"`
	PaymentProof string  `json:"payment_proof" validate:"required"`
	Notes        *string `json:"notes,omitempty"`
}

type Handler struct {
	svc      *Service
	repo     *Repository
	validate *validator.Validate
	log      *slog.Logger
}

func NewHandler(svc *Service, repo *Repository, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, repo: repo, validate: validator.New(), log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListPlans handles GET /api/v1/plans.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.repo.ListActivePlans(r.Context())
	if err != nil {
		h.log.Error("list plans failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if plans == nil {
		plans = []*models.Plan{}
	}
	writeJSON(w, http.StatusOK, plans)
}

// Submit handles POST /api/v1/credit-requests.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())
	if accountID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, `{"error":"missing or invalid required fields"}`, http.StatusBadRequest)
		return
	}
	planID, err := uuid.Parse(req.PlanID)
	if err != nil {
		http.Error(w, `{"error":"invalid plan_id"}`, http.StatusBadRequest)
		return
	}

	cr, err := h.svc.Submit(r.Context(), accountID, planID, req.PaymentProof, req.Notes)
	if err != nil {
		switch {
		case errors.Is(err, ErrPlanNotFound):
			http.Error(w, `{"error":"plan not found"}`, http.StatusNotFound)
		case errors.Is(err, ErrAccountNotFound):
			http.Error(w, `{"error":"account not found"}`, http.StatusNotFound)
		case errors.Is(err, ErrTooManyPendingRequests):
			http.Error(w, `{"error":"too many pending requests, wait for review"}`, http.StatusTooManyRequests)
		default:
			h.log.Error("submit credit request failed", "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusCreated, cr)
}

// ListMine handles GET /api/v1/credit-requests (the caller's own requests,
// with plan names included from the submission snapshot).
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())
	if accountID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	list, err := h.repo.ListByAccount(r.Context(), accountID)
	if err != nil {
		h.log.Error("list credit requests failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*models.CreditRequest{}
	}
	writeJSON(w, http.StatusOK, list)
}
