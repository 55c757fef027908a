package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	stripewebhook "github.com/stripe/stripe-go/v81/webhook"
)

const testSecret = "whsec_test_secret"

func eventPayload(t *testing.T, eventType string, session map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":          "evt_test_1",
		"object":      "event",
		"type":        eventType,
		"api_version": "2020-08-27",
		"data":        map[string]any{"object": session},
	})
	require.NoError(t, err)
	return body
}

func paidSession() map[string]any {
	return map[string]any{
		"id":             "cs_test_a1",
		"object":         "checkout.session",
		"payment_status": "paid",
		"amount_total":   3500,
		"currency":       "eur",
		"metadata": map[string]string{
			"product_ids":   "P1",
			"quantities":    "2",
			"shipping_zone": "FR",
			"v":             "1",
		},
		"customer_details": map[string]any{"email": "buyer@example.com"},
	}
}

func sign(payload []byte, secret string, ts time.Time) string {
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: ts,
	})
	return signed.Header
}

func TestVerifyValidSignature(t *testing.T) {
	v := NewVerifier(testSecret)
	payload := eventPayload(t, "checkout.session.completed", paidSession())

	event, err := v.Verify(payload, sign(payload, testSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "evt_test_1", event.ID)
	assert.Equal(t, stripe.EventTypeCheckoutSessionCompleted, event.Type)
}

func TestVerifyHandComputedSignature(t *testing.T) {
	v := NewVerifier(testSecret)
	payload := eventPayload(t, "checkout.session.completed", paidSession())

	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testSecret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	header := fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))

	_, err := v.Verify(payload, header)
	assert.NoError(t, err)
}

func TestVerifyRejects(t *testing.T) {
	payload := eventPayload(t, "checkout.session.completed", paidSession())

	tests := []struct {
		name   string
		secret string
		header string
	}{
		{"missing header", testSecret, ""},
		{"garbage header", testSecret, "not-a-signature"},
		{"wrong secret", testSecret, sign(payload, "whsec_other", time.Now())},
		{"expired timestamp", testSecret, sign(payload, testSecret, time.Now().Add(-10*time.Minute))},
		{"unsigned scheme only", testSecret, fmt.Sprintf("t=%d", time.Now().Unix())},
		{"no secret configured", "", sign(payload, "", time.Now())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewVerifier(tt.secret).Verify(payload, tt.header)
			assert.ErrorIs(t, err, ErrInvalidSignature)
		})
	}
}

func TestVerifyDetectsTamperingOnEveryByte(t *testing.T) {
	v := NewVerifier(testSecret)
	payload := eventPayload(t, "checkout.session.completed", paidSession())
	header := sign(payload, testSecret, time.Now())

	for i := range payload {
		tampered := append([]byte(nil), payload...)
		tampered[i] ^= 0x01

		if _, err := v.Verify(tampered, header); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("byte %d: expected ErrInvalidSignature, got %v", i, err)
		}
	}

	for i := range header {
		tampered := []byte(header)
		tampered[i] ^= 0x01

		if _, err := v.Verify(payload, string(tampered)); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("header byte %d: expected ErrInvalidSignature, got %v", i, err)
		}
	}
}

func TestVerifySignedGarbage(t *testing.T) {
	v := NewVerifier(testSecret)
	payload := []byte("{not json")

	_, err := v.Verify(payload, sign(payload, testSecret, time.Now()))
	assert.ErrorIs(t, err, ErrMalformedEvent)
	assert.NotErrorIs(t, err, ErrInvalidSignature)
}

func verifiedEvent(t *testing.T, eventType string, session map[string]any) stripe.Event {
	t.Helper()
	payload := eventPayload(t, eventType, session)
	event, err := NewVerifier(testSecret).Verify(payload, sign(payload, testSecret, time.Now()))
	require.NoError(t, err)
	return event
}

func TestParseCompleted(t *testing.T) {
	for _, eventType := range []string{"checkout.session.completed", "checkout.session.async_payment_succeeded"} {
		t.Run(eventType, func(t *testing.T) {
			paid, err := ParseCompleted(verifiedEvent(t, eventType, paidSession()))
			require.NoError(t, err)

			assert.Equal(t, "evt_test_1", paid.EventID)
			assert.Equal(t, "cs_test_a1", paid.SessionID)
			assert.Equal(t, int64(3500), paid.AmountTotal)
			assert.Equal(t, "eur", paid.Currency)
			assert.Equal(t, "buyer@example.com", paid.CustomerEmail)
			assert.Equal(t, "P1", paid.Metadata["product_ids"])
		})
	}
}

func TestParseCompletedIgnored(t *testing.T) {
	unpaid := paidSession()
	unpaid["payment_status"] = "unpaid"

	tests := []struct {
		name      string
		eventType string
		session   map[string]any
	}{
		{"other event type", "payment_intent.created", map[string]any{"id": "pi_1", "object": "payment_intent"}},
		{"expired session", "checkout.session.expired", paidSession()},
		{"payment pending", "checkout.session.completed", unpaid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCompleted(verifiedEvent(t, tt.eventType, tt.session))
			assert.ErrorIs(t, err, ErrIgnored)
		})
	}
}

func TestParseCompletedMalformed(t *testing.T) {
	mutate := func(apply func(m map[string]any)) map[string]any {
		s := paidSession()
		apply(s)
		return s
	}

	tests := []struct {
		name    string
		session map[string]any
	}{
		{"missing id", mutate(func(m map[string]any) { delete(m, "id") })},
		{"foreign id", mutate(func(m map[string]any) { m["id"] = "pi_123" })},
		{"missing amount", mutate(func(m map[string]any) { delete(m, "amount_total") })},
		{"bad currency", mutate(func(m map[string]any) { m["currency"] = "euro" })},
		{"wrong object", mutate(func(m map[string]any) { m["object"] = "invoice" })},
		{"amount as string", mutate(func(m map[string]any) { m["amount_total"] = "3500" })},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCompleted(verifiedEvent(t, "checkout.session.completed", tt.session))
			assert.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}
