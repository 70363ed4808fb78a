package httpserver

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/acoruss/gateway/internal/apikey"
	apierrors "github.com/acoruss/gateway/internal/errors"
	"github.com/acoruss/gateway/internal/logger"
	"github.com/acoruss/gateway/internal/payments"
	"github.com/acoruss/gateway/internal/storage"
	"github.com/acoruss/gateway/pkg/responders"
)

type initiateRequest struct {
	Email            string          `json:"email"`
	Name             string          `json:"name"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Description      string          `json:"description"`
	ServiceReference string          `json:"service_reference"`
	CallbackURL      string          `json:"callback_url"`
	IdempotencyKey   string          `json:"idempotency_key"`
	Metadata         map[string]any  `json:"metadata"`
}

type initiateResponse struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	CallbackURL      string `json:"callback_url"`
}

func (h *handlers) initiatePayment(w http.ResponseWriter, r *http.Request) {
	tenant, ok := apikey.TenantFromContext(r.Context())
	if !ok {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "tenant missing from request context")
		return
	}

	var req initiateRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeValidation, err.Error())
		return
	}

	payment, err := h.service.Initiate(r.Context(), payments.InitiateInput{
		Tenant:           tenant,
		Email:            req.Email,
		Name:             req.Name,
		Amount:           req.Amount,
		Currency:         req.Currency,
		Description:      req.Description,
		ServiceReference: req.ServiceReference,
		CallbackURL:      req.CallbackURL,
		IdempotencyKey:   req.IdempotencyKey,
		Metadata:         req.Metadata,
		ClientIP:         logger.ClientIP(r),
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, initiateResponse{
		Reference:        payment.Reference,
		AuthorizationURL: payment.AuthorizationURL,
		CallbackURL:      payment.CallbackURL,
	})
}

func (h *handlers) getPayment(w http.ResponseWriter, r *http.Request) {
	tenant, ok := apikey.TenantFromContext(r.Context())
	if !ok {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "tenant missing from request context")
		return
	}

	payment, err := h.service.Get(r.Context(), tenant, chi.URLParam(r, "reference"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	responders.JSON(w, http.StatusOK, newPaymentResponse(payment))
}

func (h *handlers) listPayments(w http.ResponseWriter, r *http.Request) {
	tenant, ok := apikey.TenantFromContext(r.Context())
	if !ok {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "tenant missing from request context")
		return
	}

	q := r.URL.Query()
	page := parsePositiveInt(q.Get("page"), 1)
	perPage := parsePositiveInt(q.Get("per_page"), 20)
	if perPage > 100 {
		perPage = 100
	}

	filter := storage.PaymentFilter{
		Status:  storage.PaymentStatus(q.Get("status")),
		Email:   q.Get("email"),
		Page:    page,
		PerPage: perPage,
	}
	items, total, err := h.service.List(r.Context(), tenant, filter)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	responders.JSON(w, http.StatusOK, newListResponse(items, total, page, perPage))
}

type refundRequest struct {
	Amount *decimal.Decimal `json:"amount"`
	Reason string           `json:"reason"`
}

func (h *handlers) refundPayment(w http.ResponseWriter, r *http.Request) {
	tenant, ok := apikey.TenantFromContext(r.Context())
	if !ok {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "tenant missing from request context")
		return
	}

	// An empty body requests a full refund.
	var req refundRequest
	if err := decodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeValidation, err.Error())
		return
	}

	payment, err := h.service.Refund(r.Context(), payments.RefundInput{
		Tenant:    tenant,
		Reference: chi.URLParam(r, "reference"),
		Amount:    req.Amount,
		Reason:    req.Reason,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	responders.JSON(w, http.StatusOK, newPaymentResponse(payment))
}

// listDeliveries exposes the outbound delivery audit trail for one
// payment, so tenants can debug their own webhook endpoints.
func (h *handlers) listDeliveries(w http.ResponseWriter, r *http.Request) {
	tenant, ok := apikey.TenantFromContext(r.Context())
	if !ok {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "tenant missing from request context")
		return
	}

	// Ownership check first: cross-tenant references read as absent.
	payment, err := h.service.Get(r.Context(), tenant, chi.URLParam(r, "reference"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	logs, err := h.store.ListDeliveryLogs(r.Context(), payment.Reference)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	responders.JSON(w, http.StatusOK, newDeliveriesResponse(logs))
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "acoruss-gateway",
	})
}

// writeServiceError translates engine errors into the wire format.
func (h *handlers) writeServiceError(w http.ResponseWriter, err error) {
	var validationErr *payments.ValidationError
	switch {
	case errors.As(err, &validationErr):
		apierrors.WriteFieldErrors(w, validationErr.Fields)
	case errors.Is(err, payments.ErrPaymentNotFound):
		apierrors.WriteSimpleError(w, apierrors.ErrCodePaymentNotFound, "payment not found")
	case errors.Is(err, payments.ErrNotRefundable):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeNotRefundable, "not refundable")
	case errors.Is(err, payments.ErrUpstreamFailure):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeUpstreamError, "payment processor unavailable")
	default:
		h.logger.Error().Err(err).Msg("unhandled service error")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "internal error")
	}
}

func parsePositiveInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
