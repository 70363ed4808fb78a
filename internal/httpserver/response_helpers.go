package httpserver

import (
	"time"

	"github.com/acoruss/gateway/internal/storage"
)

// paymentResponse is the full data block returned by the status, list,
// and refund endpoints. Monetary values are fixed-point decimal strings.
type paymentResponse struct {
	Reference              string         `json:"reference"`
	ServiceReference       string         `json:"service_reference"`
	Email                  string         `json:"email"`
	Name                   string         `json:"name"`
	Amount                 string         `json:"amount"`
	Currency               string         `json:"currency"`
	Fees                   string         `json:"fees"`
	NetAmount              string         `json:"net_amount"`
	Status                 string         `json:"status"`
	Channel                string         `json:"channel"`
	Description            string         `json:"description"`
	RefundStatus           string         `json:"refund_status"`
	RefundedAmount         string         `json:"refunded_amount"`
	ProcessorTransactionID string         `json:"processor_transaction_id"`
	AuthorizationURL       string         `json:"authorization_url"`
	CallbackURL            string         `json:"callback_url"`
	Metadata               map[string]any `json:"metadata"`
	WebhookDelivered       bool           `json:"webhook_delivered"`
	CreatedAt              string         `json:"created_at"`
	UpdatedAt              string         `json:"updated_at"`
}

func newPaymentResponse(p storage.Payment) paymentResponse {
	return paymentResponse{
		Reference:              p.Reference,
		ServiceReference:       p.ServiceReference,
		Email:                  p.Email,
		Name:                   p.Name,
		Amount:                 p.Amount.StringFixed(2),
		Currency:               p.Currency,
		Fees:                   p.Fees.StringFixed(2),
		NetAmount:              p.NetAmount().StringFixed(2),
		Status:                 string(p.Status),
		Channel:                p.Channel,
		Description:            p.Description,
		RefundStatus:           string(p.RefundStatus),
		RefundedAmount:         p.RefundedAmount.StringFixed(2),
		ProcessorTransactionID: p.ProcessorTransactionID,
		AuthorizationURL:       p.AuthorizationURL,
		CallbackURL:            p.CallbackURL,
		Metadata:               p.Metadata,
		WebhookDelivered:       p.WebhookDelivered,
		CreatedAt:              p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:              p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// deliveryResponse is one row of the outbound webhook audit trail.
type deliveryResponse struct {
	ID             string `json:"id"`
	Event          string `json:"event"`
	URL            string `json:"url"`
	Attempt        int    `json:"attempt"`
	Success        bool   `json:"success"`
	ResponseStatus int    `json:"response_status"`
	ResponseBody   string `json:"response_body"`
	Error          string `json:"error"`
	DurationMS     int64  `json:"duration_ms"`
	CreatedAt      string `json:"created_at"`
}

type deliveriesResponse struct {
	Data []deliveryResponse `json:"data"`
}

func newDeliveriesResponse(logs []storage.WebhookDeliveryLog) deliveriesResponse {
	data := make([]deliveryResponse, 0, len(logs))
	for _, l := range logs {
		data = append(data, deliveryResponse{
			ID:             l.ID,
			Event:          l.Event,
			URL:            l.URL,
			Attempt:        l.Attempt,
			Success:        l.Success,
			ResponseStatus: l.ResponseStatus,
			ResponseBody:   l.ResponseBody,
			Error:          l.Error,
			DurationMS:     l.DurationMS,
			CreatedAt:      l.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return deliveriesResponse{Data: data}
}

// listMeta is the pagination envelope for collection responses.
type listMeta struct {
	Total   int64 `json:"total"`
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
	Pages   int   `json:"pages"`
}

type listResponse struct {
	Data []paymentResponse `json:"data"`
	Meta listMeta          `json:"meta"`
}

func newListResponse(items []storage.Payment, total int64, page, perPage int) listResponse {
	data := make([]paymentResponse, 0, len(items))
	for _, p := range items {
		data = append(data, newPaymentResponse(p))
	}
	pages := int((total + int64(perPage) - 1) / int64(perPage))
	if pages < 1 {
		pages = 1
	}
	return listResponse{
		Data: data,
		Meta: listMeta{Total: total, Page: page, PerPage: perPage, Pages: pages},
	}
}
