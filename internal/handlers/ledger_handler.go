package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fleetlease/backend/internal/ledger"
	mW "github.com/fleetlease/backend/internal/middleware"
	"github.com/fleetlease/backend/internal/models"
)

// LedgerService is the part of ledger.Service the HTTP layer needs.
type LedgerService interface {
	CreateObligation(ctx context.Context, req ledger.ObligationRequest) (*models.Balance, error)
	ApplyEarnings(ctx context.Context, driverID string, amount decimal.Decimal, leaseID *string) (*ledger.EarningsResult, error)
	ApplyTargetedPayment(ctx context.Context, p ledger.TargetedPayment) ([]*models.Posting, error)
	VoidPosting(ctx context.Context, postingID, reason string) (*models.Posting, error)
	GetPosting(ctx context.Context, postingID string) (*models.Posting, error)
	GetBalance(ctx context.Context, referenceID string) (*models.Balance, error)
	ListPostings(ctx context.Context, f models.PostingFilter) ([]*models.Posting, error)
	ListBalances(ctx context.Context, f models.BalanceFilter) ([]*models.Balance, error)
	DriverSummary(ctx context.Context, driverID string) (*ledger.DriverSummary, error)
}

type LedgerHandler struct {
	service   LedgerService
	validator *ValidationHelper
	log       *zap.Logger
	pageSize  int
}

func NewLedgerHandler(service LedgerService, log *zap.Logger, defaultPageSize int) *LedgerHandler {
	return &LedgerHandler{
		service:   service,
		validator: NewValidationHelper(),
		log:       log,
		pageSize:  defaultPageSize,
	}
}

// WriteRoutes registers the mutating endpoints.
func (h *LedgerHandler) WriteRoutes(r chi.Router) {
	r.Post("/obligations", h.CreateObligation)
	r.Post("/earnings", h.ApplyEarnings)
	r.Post("/payments", h.ApplyTargetedPayment)
	r.Post("/postings/{postingId}/void", h.VoidPosting)
}

func (h *LedgerHandler) ReadRoutes(r chi.Router) {
	r.Get("/postings", h.ListPostings)
	r.Get("/postings/{postingId}", h.GetPosting)
	r.Get("/balances", h.ListBalances)
	r.Get("/balances/{referenceId}", h.GetBalance)
	r.Get("/drivers/{driverId}/summary", h.DriverSummary)
}

type createObligationRequest struct {
	Category    string          `json:"category" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	ReferenceID string          `json:"reference_id" validate:"required,max=128"`
	DriverID    string          `json:"driver_id" validate:"required,max=64"`
	LeaseID     *string         `json:"lease_id,omitempty" validate:"omitempty,max=64"`
	VehicleID   *string         `json:"vehicle_id,omitempty" validate:"omitempty,max=64"`
	MedallionID *string         `json:"medallion_id,omitempty" validate:"omitempty,max=64"`
	Description string          `json:"description,omitempty" validate:"max=512"`
}

// CreateObligation records a new debt and opens its balance.
// @Summary Create an obligation
// @Description Post a DEBIT for a driver and open its balance
// @Tags obligations
// @Accept json
// @Produce json
// @Param obligation body createObligationRequest true "Obligation data"
// @Success 201 {object} models.Balance
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /obligations [post]
func (h *LedgerHandler) CreateObligation(w http.ResponseWriter, r *http.Request) {
	var req createObligationRequest
	if !h.validator.decodeBody(w, r, &req) {
		return
	}

	category, err := models.ParseCategory(req.Category)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	balance, err := h.service.CreateObligation(r.Context(), ledger.ObligationRequest{
		Category:    category,
		Amount:      req.Amount,
		ReferenceID: req.ReferenceID,
		DriverID:    req.DriverID,
		LeaseID:     req.LeaseID,
		VehicleID:   req.VehicleID,
		MedallionID: req.MedallionID,
		Description: req.Description,
	})
	if err != nil {
		h.sendLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, balance)
}

type applyEarningsRequest struct {
	DriverID string          `json:"driver_id" validate:"required,max=64"`
	Amount   decimal.Decimal `json:"amount"`
	LeaseID  *string         `json:"lease_id,omitempty" validate:"omitempty,max=64"`
}

type earningsResponse struct {
	Postings     []*models.Posting            `json:"postings"`
	Applications []*models.BalanceApplication `json:"applications"`
	Unapplied    decimal.Decimal              `json:"unapplied"`
}

// ApplyEarnings spends a driver's earnings over open balances in priority order.
// @Summary Apply weekly earnings
// @Tags earnings
// @Accept json
// @Produce json
// @Param earnings body applyEarningsRequest true "Earnings data"
// @Success 200 {object} earningsResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /earnings [post]
func (h *LedgerHandler) ApplyEarnings(w http.ResponseWriter, r *http.Request) {
	var req applyEarningsRequest
	if !h.validator.decodeBody(w, r, &req) {
		return
	}

	result, err := h.service.ApplyEarnings(r.Context(), req.DriverID, req.Amount, req.LeaseID)
	if err != nil {
		h.sendLedgerError(w, r, err)
		return
	}

	resp := earningsResponse{
		Postings:     []*models.Posting{},
		Applications: []*models.BalanceApplication{},
		Unapplied:    decimal.Zero,
	}
	if result != nil {
		resp.Postings = result.Postings
		resp.Unapplied = result.Unapplied
		if result.Applications != nil {
			resp.Applications = result.Applications
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type allocationRequest struct {
	ReferenceID string          `json:"reference_id" validate:"required,max=128"`
	Amount      decimal.Decimal `json:"amount"`
}

type targetedPaymentRequest struct {
	Amount        decimal.Decimal     `json:"amount"`
	Allocations   []allocationRequest `json:"allocations" validate:"required,min=1,dive"`
	DriverID      string              `json:"driver_id" validate:"required,max=64"`
	LeaseID       *string             `json:"lease_id,omitempty" validate:"omitempty,max=64"`
	PaymentMethod string              `json:"payment_method" validate:"required"`
}

// ApplyTargetedPayment allocates a payment to hand-picked balances.
// @Summary Apply a targeted payment
// @Description Credit the named balances in the order given, bypassing the priority hierarchy
// @Tags payments
// @Accept json
// @Produce json
// @Param payment body targetedPaymentRequest true "Payment and allocations"
// @Success 201 {object} map[string][]models.Posting
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /payments [post]
func (h *LedgerHandler) ApplyTargetedPayment(w http.ResponseWriter, r *http.Request) {
	var req targetedPaymentRequest
	if !h.validator.decodeBody(w, r, &req) {
		return
	}

	method, err := ledger.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		h.sendLedgerError(w, r, err)
		return
	}

	allocations := make([]ledger.Allocation, len(req.Allocations))
	for i, a := range req.Allocations {
		allocations[i] = ledger.Allocation{ReferenceID: a.ReferenceID, Amount: a.Amount}
	}

	postings, err := h.service.ApplyTargetedPayment(r.Context(), ledger.TargetedPayment{
		Amount:      req.Amount,
		Allocations: allocations,
		DriverID:    req.DriverID,
		LeaseID:     req.LeaseID,
		Method:      method,
	})
	if err != nil {
		h.sendLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"postings": postings})
}

type voidRequest struct {
	Reason string `json:"reason" validate:"required,max=512"`
}

// @Summary Void a posting
// @Tags postings
// @Accept json
// @Produce json
// @Param postingId path string true "Posting ID"
// @Param void body voidRequest true "Void reason"
// @Success 201 {object} models.Posting
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /postings/{postingId}/void [post]
func (h *LedgerHandler) VoidPosting(w http.ResponseWriter, r *http.Request) {
	var req voidRequest
	if !h.validator.decodeBody(w, r, &req) {
		return
	}

	postingID := chi.URLParam(r, "postingId")
	reversal, err := h.service.VoidPosting(r.Context(), postingID, req.Reason)
	if err != nil {
		h.sendLedgerError(w, r, err)
		return
	}

	actor, _ := mW.UserIDFromContext(r.Context())
	h.log.Info("posting voided over http",
		zap.String("posting_id", postingID),
		zap.String("reversal_id", reversal.ID),
		zap.String("actor", actor))

	writeJSON(w, http.StatusCreated, reversal)
}

// @Summary Get a posting
// @Tags postings
// @Produce json
// @Param postingId path string true "Posting ID"
// @Success 200 {object} models.Posting
// @Failure 404 {object} ErrorResponse
// @Router /postings/{postingId} [get]
func (h *LedgerHandler) GetPosting(w http.ResponseWriter, r *http.Request) {
	posting, err := h.service.GetPosting(r.Context(), chi.URLParam(r, "postingId"))
	if err != nil {
		h.sendLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, posting)
}

// @Summary Get a balance by obligation reference
// @Tags balances
// @Produce json
// @Param referenceId path string true "Obligation reference"
// @Success 200 {object} models.Balance
// @Failure 404 {object} ErrorResponse
// @Router /balances/{referenceId} [get]
func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.service.GetBalance(r.Context(), chi.URLParam(r, "referenceId"))
	if err != nil {
		h.sendLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// ListPostings filters by driver_id, lease_id, reference_id, category and status.
// @Summary List postings
// @Tags postings
// @Produce json
// @Param driver_id query string false "Driver ID"
// @Param category query string false "Comma separated categories"
// @Param status query string false "POSTED or VOIDED"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Router /postings [get]
func (h *LedgerHandler) ListPostings(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	categories, err := parseCategories(query["category"])
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	status := models.PostingStatus(strings.ToUpper(query.Get("status")))
	if status != "" && status != models.PostingPosted && status != models.PostingVoided {
		SendErrorResponse(w, "status must be POSTED or VOIDED", http.StatusBadRequest, nil)
		return
	}
	limit, offset, ok := h.page(w, r)
	if !ok {
		return
	}

	postings, err := h.service.ListPostings(r.Context(), models.PostingFilter{
		DriverID:    query.Get("driver_id"),
		LeaseID:     query.Get("lease_id"),
		ReferenceID: query.Get("reference_id"),
		Categories:  categories,
		Status:      status,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		h.sendLedgerError(w, r, err)
		return
	}
	if postings == nil {
		postings = []*models.Posting{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"postings": postings, "limit": limit, "offset": offset})
}

// @Summary List balances
// @Tags balances
// @Produce json
// @Param driver_id query string false "Driver ID"
// @Param category query string false "Comma separated categories"
// @Param status query string false "OPEN or CLOSED"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Router /balances [get]
func (h *LedgerHandler) ListBalances(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	categories, err := parseCategories(query["category"])
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	status := models.BalanceStatus(strings.ToUpper(query.Get("status")))
	if status != "" && status != models.BalanceOpen && status != models.BalanceClosed {
		SendErrorResponse(w, "status must be OPEN or CLOSED", http.StatusBadRequest, nil)
		return
	}
	limit, offset, ok := h.page(w, r)
	if !ok {
		return
	}

	balances, err := h.service.ListBalances(r.Context(), models.BalanceFilter{
		DriverID:   query.Get("driver_id"),
		LeaseID:    query.Get("lease_id"),
		Categories: categories,
		Status:     status,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		h.sendLedgerError(w, r, err)
		return
	}
	if balances == nil {
		balances = []*models.Balance{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"balances": balances, "limit": limit, "offset": offset})
}

// @Summary Outstanding totals for a driver
// @Tags drivers
// @Produce json
// @Param driverId path string true "Driver ID"
// @Success 200 {object} ledger.DriverSummary
// @Router /drivers/{driverId}/summary [get]
func (h *LedgerHandler) DriverSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.DriverSummary(r.Context(), chi.URLParam(r, "driverId"))
	if err != nil {
		h.sendLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// sendLedgerError maps ledger errors onto status codes. Anything that is not a
// rule violation or a missing record is reported as an opaque 500.
func (h *LedgerHandler) sendLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidOperation):
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, ledger.ErrBalanceNotFound), errors.Is(err, ledger.ErrPostingNotFound):
		SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	default:
		h.log.Error("ledger request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		SendErrorResponse(w, "internal server error", http.StatusInternalServerError, nil)
	}
}

func (h *LedgerHandler) page(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	limit, offset = h.pageSize, 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > ledger.MaxPageSize {
			SendErrorResponse(w, "limit must be between 1 and "+strconv.Itoa(ledger.MaxPageSize), http.StatusBadRequest, nil)
			return 0, 0, false
		}
		limit = n
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			SendErrorResponse(w, "offset must be a non-negative integer", http.StatusBadRequest, nil)
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

// parseCategories accepts repeated and comma separated category parameters.
func parseCategories(values []string) ([]models.Category, error) {
	var categories []models.Category
	for _, v := range values {
		for _, name := range strings.Split(v, ",") {
			if strings.TrimSpace(name) == "" {
				continue
			}
			c, err := models.ParseCategory(name)
			if err != nil {
				return nil, err
			}
			categories = append(categories, c)
		}
	}
	return categories, nil
}
