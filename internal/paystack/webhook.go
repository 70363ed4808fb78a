package paystack

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
)

// SignatureHeader carries the processor's HMAC over the raw request body.
const SignatureHeader = "X-Paystack-Signature"

// Event names the gateway acts on. All others are acknowledged and ignored.
const (
	EventChargeSuccess   = "charge.success"
	EventRefundProcessed = "refund.processed"
)

// Event is an inbound processor notification.
type Event struct {
	Event string    `json:"event"`
	Data  EventData `json:"data"`
}

// EventData is the union of fields used across event types.
// charge.success carries Reference directly; refund.processed points at
// the original charge through Transaction.Reference and identifies the
// refund by ID with Amount in minor units.
type EventData struct {
	ID        int64          `json:"id"`
	Reference string         `json:"reference"`
	Amount    int64          `json:"amount"`
	Fees      int64          `json:"fees"`
	Status    string         `json:"status"`
	Channel   string         `json:"channel"`
	Currency  string         `json:"currency"`
	Metadata  map[string]any `json:"metadata"`

	Transaction struct {
		ID        int64  `json:"id"`
		Reference string `json:"reference"`
	} `json:"transaction"`
}

// VerifySignature checks the processor's HMAC-SHA512 over the exact raw
// body against the header value, in constant time.
func VerifySignature(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign computes the hex HMAC-SHA512 of body. Used by tests and tooling
// to produce valid inbound payloads.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseEvent decodes a verified webhook body.
func ParseEvent(body []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}
