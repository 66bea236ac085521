package generation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/pillowpotion/backend/internal/ledger"
	"github.com/pillowpotion/backend/internal/middleware"
	"github.com/pillowpotion/backend/internal/models"
)

type CreateRequest struct {
	RequestUUID string  `json:"request_uuid" validate:"required,uuid"`
	Tool        string  `json:"tool" validate:"required,oneof=text-to-image text-to-video"`
	GenType     string  `json:"gen_type" validate:"required"`
	Model       string  `json:"model" validate:"required"`
	Prompt      *string `json:"prompt,omitempty"`
	Credits     int     `json:"credits" validate:"required,gt=0"`
}

// BalanceReader resolves the current balance for insufficient-credit replies.
type BalanceReader interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (int, error)
}

type Handler struct {
	svc      *Service
	repo     *Repository
	balances BalanceReader
	validate *validator.Validate
	log      *slog.Logger
}

func NewHandler(svc *Service, repo *Repository, balances BalanceReader, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, repo: repo, balances: balances, validate: validator.New(), log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Create handles POST /api/v1/generations: debit credits and record the
// pending generation in one transaction.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())
	if accountID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, `{"error":"missing or invalid required fields"}`, http.StatusBadRequest)
		return
	}
	requestUUID, err := uuid.Parse(req.RequestUUID)
	if err != nil {
		http.Error(w, `{"error":"invalid request_uuid"}`, http.StatusBadRequest)
		return
	}

	g, err := h.svc.Start(r.Context(), StartParams{
		AccountID:   accountID,
		Tool:        req.Tool,
		GenType:     req.GenType,
		Model:       req.Model,
		Prompt:      req.Prompt,
		Credits:     req.Credits,
		RequestUUID: requestUUID,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientCredits):
			balance, _ := h.balances.GetBalance(r.Context(), accountID)
			writeJSON(w, http.StatusPaymentRequired, map[string]any{
				"error":   "insufficient credits",
				"balance": balance,
			})
		case errors.Is(err, ErrDuplicateRequestUUID):
			http.Error(w, `{"error":"request_uuid already used"}`, http.StatusConflict)
		default:
			h.log.Error("start generation failed", "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// List handles GET /api/v1/generations with optional tool filter and paging.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())
	if accountID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	tool := r.URL.Query().Get("tool")
	page, perPage := pagination(r)

	list, err := h.repo.ListByAccount(r.Context(), accountID, tool, perPage, (page-1)*perPage)
	if err != nil {
		h.log.Error("list generations failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	total, err := h.repo.CountByAccount(r.Context(), accountID, tool)
	if err != nil {
		h.log.Error("count generations failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*models.Generation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"generations": list,
		"page":        page,
		"per_page":    perPage,
		"total":       total,
	})
}

// Stats handles GET /api/v1/generations/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())
	if accountID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	stats, err := h.repo.StatsByAccount(r.Context(), accountID)
	if err != nil {
		h.log.Error("generation stats failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Get handles GET /api/v1/generations/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())
	if accountID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid id"}`, http.StatusBadRequest)
		return
	}
	g, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, `{"error":"generation not found"}`, http.StatusNotFound)
			return
		}
		h.log.Error("get generation failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if g.AccountID != accountID {
		http.Error(w, `{"error":"generation not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func pagination(r *http.Request) (page, perPage int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return page, perPage
}
