package httpserver

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	apierrors "github.com/acoruss/gateway/internal/errors"
	"github.com/acoruss/gateway/internal/payments"
	"github.com/acoruss/gateway/internal/paystack"
	"github.com/acoruss/gateway/pkg/responders"
)

// verifyCallback is the processor's redirect-back target. It settles the
// payment against upstream, then sends the user's browser on to the
// tenant's callback URL or the public payment page.
func (h *handlers) verifyCallback(w http.ResponseWriter, r *http.Request) {
	reference := r.URL.Query().Get("reference")
	if reference == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "reference is required")
		return
	}

	payment, err := h.service.Verify(r.Context(), reference)
	if err != nil {
		if errors.Is(err, payments.ErrPaymentNotFound) {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "unknown reference")
			return
		}
		// Upstream failures still redirect; the payment stays pending and
		// the inbound webhook settles it later.
		h.logger.Warn().Err(err).Str("reference", reference).Msg("verification incomplete")
	}

	responders.Redirect(w, r, h.redirectTarget(payment.CallbackURL, reference, string(payment.Status)))
}

func (h *handlers) redirectTarget(callbackURL, reference, status string) string {
	if callbackURL == "" {
		return strings.TrimRight(h.cfg.Server.SiteURL, "/") + "/payments/pay/" + url.PathEscape(reference)
	}
	sep := "?"
	if strings.Contains(callbackURL, "?") {
		sep = "&"
	}
	return callbackURL + sep + "reference=" + url.QueryEscape(reference) + "&status=" + url.QueryEscape(status)
}

// inboundWebhook receives the processor's server-to-server events. The
// signature covers the exact raw body, so it is verified before parsing.
func (h *handlers) inboundWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeValidation, "unable to read request body")
		return
	}

	signature := r.Header.Get(paystack.SignatureHeader)
	if !paystack.VerifySignature(body, signature, h.cfg.Processor.SecretKey) {
		if h.metrics != nil {
			h.metrics.ObserveInboundWebhook("unknown", "invalid_signature")
		}
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidSignature, "invalid signature")
		return
	}

	// After the signature checks out, the processor always gets a 200 so
	// it does not re-deliver events we have chosen to skip.
	event, err := paystack.ParseEvent(body)
	if err != nil {
		h.logger.Warn().Err(err).Msg("unparseable webhook body")
		if h.metrics != nil {
			h.metrics.ObserveInboundWebhook("unknown", "unparseable")
		}
		responders.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	outcome := "processed"
	if err := h.service.ProcessInboundEvent(r.Context(), event); err != nil {
		h.logger.Error().Err(err).Str("event", event.Event).Msg("process inbound event")
		outcome = "error"
	}
	if h.metrics != nil {
		h.metrics.ObserveInboundWebhook(event.Event, outcome)
	}
	responders.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
