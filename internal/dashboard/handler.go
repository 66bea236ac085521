package dashboard

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pillowpotion/backend/internal/ledger"
	"github.com/pillowpotion/backend/internal/middleware"
)

// Handler serves the signed-in account's credits overview.
type Handler struct {
	ledgerR *ledger.Repository
	log     *slog.Logger
}

func NewHandler(ledgerR *ledger.Repository, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{ledgerR: ledgerR, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Credits handles GET /api/v1/credits: current balance plus a paginated
// transaction history.
func (h *Handler) Credits(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())

	balance, err := h.ledgerR.GetBalance(r.Context(), accountID)
	if err != nil {
		h.log.Error("get balance failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	page, perPage := pagination(r)
	entries, err := h.ledgerR.ListByAccount(r.Context(), accountID, perPage, (page-1)*perPage)
	if err != nil {
		h.log.Error("list ledger entries failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	total, err := h.ledgerR.CountByAccount(r.Context(), accountID)
	if err != nil {
		h.log.Error("count ledger entries failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"balance":  balance,
		"entries":  entries,
		"page":     page,
		"per_page": perPage,
		"total":    total,
	})
}

// CreditStats handles GET /api/v1/credits/stats: per-category earned and
// spent totals.
func (h *Handler) CreditStats(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())

	stats, err := h.ledgerR.StatsByAccount(r.Context(), accountID)
	if err != nil {
		h.log.Error("credit stats failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": stats})
}

func pagination(r *http.Request) (page, perPage int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}
