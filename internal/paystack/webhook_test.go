package paystack

import "testing"

func TestVerifySignatureRoundTrip(t *testing.T) {
	body := []byte(`{"event":"charge.success","data":{"reference":"acoruss-0123456789ab"}}`)
	secret := "sk_test_secret"

	sig := Sign(body, secret)
	if !VerifySignature(body, sig, secret) {
		t.Fatal("valid signature rejected")
	}
}

func TestVerifySignatureRejectsTampering(t *testing.T) {
	body := []byte(`{"event":"charge.success","data":{"reference":"acoruss-0123456789ab"}}`)
	secret := "sk_test_secret"
	sig := Sign(body, secret)

	if VerifySignature([]byte(`{"event":"charge.success"}`), sig, secret) {
		t.Error("modified body accepted")
	}
	if VerifySignature(body, sig, "sk_other_secret") {
		t.Error("wrong secret accepted")
	}
	if VerifySignature(body, "deadbeef", secret) {
		t.Error("bogus signature accepted")
	}
	if VerifySignature(body, "", secret) {
		t.Error("empty signature accepted")
	}
}

func TestParseEventChargeSuccess(t *testing.T) {
	body := []byte(`{
		"event": "charge.success",
		"data": {
			"id": 4099260516,
			"reference": "acoruss-0123456789ab",
			"amount": 100000,
			"fees": 3500,
			"channel": "mobile_money",
			"status": "success"
		}
	}`)

	event, err := ParseEvent(body)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if event.Event != EventChargeSuccess {
		t.Errorf("event = %q", event.Event)
	}
	if event.Data.Reference != "acoruss-0123456789ab" || event.Data.Fees != 3500 {
		t.Errorf("data = %+v", event.Data)
	}
}

func TestParseEventRefundProcessed(t *testing.T) {
	body := []byte(`{
		"event": "refund.processed",
		"data": {
			"id": 302455,
			"amount": 50000,
			"status": "processed",
			"transaction": {"id": 4099260516, "reference": "acoruss-0123456789ab"}
		}
	}`)

	event, err := ParseEvent(body)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if event.Event != EventRefundProcessed {
		t.Errorf("event = %q", event.Event)
	}
	if event.Data.Transaction.Reference != "acoruss-0123456789ab" {
		t.Errorf("transaction reference = %q", event.Data.Transaction.Reference)
	}
	if event.Data.ID != 302455 || event.Data.Amount != 50000 {
		t.Errorf("refund fields = %+v", event.Data)
	}
}
