package admin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/pillowpotion/backend/internal/audit"
	"github.com/pillowpotion/backend/internal/billing"
	"github.com/pillowpotion/backend/internal/ledger"
	"github.com/pillowpotion/backend/internal/middleware"
	"github.com/pillowpotion/backend/internal/models"
)

// Handler serves the admin review surface. Every mutation here lands in the
// audit log with the acting admin and source IP.
type Handler struct {
	billingSvc *billing.Service
	billingR   *billing.Repository
	ledgerSvc  *ledger.Service
	ledgerR    *ledger.Repository
	auditSvc   *audit.Service
	validate   *validator.Validate
	log        *slog.Logger
}

func NewHandler(
	billingSvc *billing.Service,
	billingR *billing.Repository,
	ledgerSvc *ledger.Service,
	ledgerR *ledger.Repository,
	auditSvc *audit.Service,
	log *slog.Logger,
) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		billingSvc: billingSvc,
		billingR:   billingR,
		ledgerSvc:  ledgerSvc,
		ledgerR:    ledgerR,
		auditSvc:   auditSvc,
		validate:   validator.New(),
		log:        log,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListCreditRequests handles GET /api/v1/admin/credit-requests. Defaults to
// the pending queue; ?status= selects another state.
func (h *Handler) ListCreditRequests(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = models.RequestPending
	}
	switch status {
	case models.RequestPending, models.RequestApproved, models.RequestRejected:
	default:
		http.Error(w, `{"error":"unknown status"}`, http.StatusBadRequest)
		return
	}

	page, perPage := pagination(r)
	requests, err := h.billingR.ListByStatus(r.Context(), status, perPage, (page-1)*perPage)
	if err != nil {
		h.log.Error("list credit requests failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": requests,
		"page":     page,
		"per_page": perPage,
	})
}

// ApproveCreditRequest handles POST /api/v1/admin/credit-requests/{id}/approve.
// Re-approving an already reviewed request changes nothing and reports
// applied=false.
func (h *Handler) ApproveCreditRequest(w http.ResponseWriter, r *http.Request) {
	requestID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid request id"}`, http.StatusBadRequest)
		return
	}
	adminID := middleware.AccountIDFromCtx(r.Context())

	cr, applied, err := h.billingSvc.Approve(r.Context(), requestID, adminID)
	if err != nil {
		if errors.Is(err, billing.ErrRequestNotFound) {
			http.Error(w, `{"error":"credit request not found"}`, http.StatusNotFound)
			return
		}
		h.log.Error("approve credit request failed", "request_id", requestID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if applied {
		h.auditSvc.Record(r.Context(), adminID, models.AuditApproveCreditRequest, &cr.AccountID, map[string]any{
			"request_id": cr.ID,
			"plan_name":  cr.PlanName,
			"credits":    cr.Credits,
		}, clientIP(r))
	}
	writeJSON(w, http.StatusOK, map[string]any{"request": cr, "applied": applied})
}

type rejectRequest struct {
	Notes *string `json:"notes" validate:"omitempty,max=500"`
}

// RejectCreditRequest handles POST /api/v1/admin/credit-requests/{id}/reject.
func (h *Handler) RejectCreditRequest(w http.ResponseWriter, r *http.Request) {
	requestID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid request id"}`, http.StatusBadRequest)
		return
	}
	adminID := middleware.AccountIDFromCtx(r.Context())

	var req rejectRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
			return
		}
		if err := h.validate.Struct(req); err != nil {
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
			return
		}
	}

	cr, applied, err := h.billingSvc.Reject(r.Context(), requestID, adminID, req.Notes)
	if err != nil {
		if errors.Is(err, billing.ErrRequestNotFound) {
			http.Error(w, `{"error":"credit request not found"}`, http.StatusNotFound)
			return
		}
		h.log.Error("reject credit request failed", "request_id", requestID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if applied {
		h.auditSvc.Record(r.Context(), adminID, models.AuditRejectCreditRequest, &cr.AccountID, map[string]any{
			"request_id": cr.ID,
			"notes":      req.Notes,
		}, clientIP(r))
	}
	writeJSON(w, http.StatusOK, map[string]any{"request": cr, "applied": applied})
}

type adjustRequest struct {
	AccountID string `json:"account_id" validate:"required,uuid"`
	Amount    int    `json:"amount" validate:"required"`
	Reason    string `json:"reason" validate:"required,max=500"`
}

// AdjustCredits handles POST /api/v1/admin/credits/adjust: a signed manual
// correction, recorded in the ledger like every other balance change.
func (h *Handler) AdjustCredits(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		http.Error(w, `{"error":"invalid account id"}`, http.StatusBadRequest)
		return
	}
	adminID := middleware.AccountIDFromCtx(r.Context())

	tx, err := h.ledgerR.Begin(r.Context())
	if err != nil {
		h.log.Error("adjust credits tx begin failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	defer tx.Rollback(r.Context())

	newBalance, err := h.ledgerSvc.Adjust(r.Context(), tx, ledger.Adjustment{
		AccountID:   accountID,
		Amount:      req.Amount,
		EntryType:   models.EntryAdminAdjustment,
		Description: &req.Reason,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrAccountNotFound):
			http.Error(w, `{"error":"account not found"}`, http.StatusNotFound)
		case errors.Is(err, ledger.ErrInsufficientCredits):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":   "adjustment would make balance negative",
				"balance": newBalance,
			})
		default:
			h.log.Error("adjust credits failed", "account_id", accountID, "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		h.log.Error("adjust credits commit failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	h.auditSvc.Record(r.Context(), adminID, models.AuditAdjustCredits, &accountID, map[string]any{
		"amount": req.Amount,
		"reason": req.Reason,
	}, clientIP(r))

	writeJSON(w, http.StatusOK, map[string]any{"account_id": accountID, "balance": newBalance})
}

// AuditLog handles GET /api/v1/admin/audit-log.
func (h *Handler) AuditLog(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)
	entries, err := h.auditSvc.List(r.Context(), perPage, (page-1)*perPage)
	if err != nil {
		h.log.Error("list audit log failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":  entries,
		"page":     page,
		"per_page": perPage,
	})
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

// clientIP prefers X-Forwarded-For so the audit log survives a reverse proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}
