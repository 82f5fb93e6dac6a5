package chapa

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"ersha-payment-service/internal/domain"
	"ersha-payment-service/internal/provider"
	"ersha-payment-service/pkg/security"

	"github.com/shopspring/decimal"
)

type webhookPayload struct {
	Event     string          `json:"event"`
	Type      string          `json:"type"`
	Status    string          `json:"status"`
	TxRef     string          `json:"tx_ref"`
	Reference string          `json:"reference"`
	ChapaRef  string          `json:"chapa_reference"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

// VerifyWebhook checks the HMAC-SHA256 of the raw body against the
// signature chapa sends in either of its signature headers.
func (c *ChapaProvider) VerifyWebhook(r *http.Request, body []byte) error {
	if c.config.WebhookSecret == "" {
		return fmt.Errorf("%w: chapa webhook secret not configured", domain.ErrInvalidSignature)
	}

	for _, header := range []string{"x-chapa-signature", "Chapa-Signature"} {
		if security.VerifyHMAC(c.config.WebhookSecret, body, r.Header.Get(header)) {
			return nil
		}
	}
	return domain.ErrInvalidSignature
}

func (c *ChapaProvider) ParseWebhook(_ *http.Request, body []byte) (*provider.WebhookEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	event := &provider.WebhookEvent{
		Provider:    domain.ProviderChapa,
		Kind:        provider.EventPayment,
		Status:      mapStatus(payload.Status),
		ResultCode:  payload.Status,
		Description: payload.Event,
		Amount:      payload.Amount,
		Raw:         body,
	}

	if strings.HasPrefix(strings.ToLower(payload.Event), "payout") || strings.EqualFold(payload.Type, "payout") {
		event.Kind = provider.EventPayout
		event.Reference = payload.Reference
		event.ExternalID = payload.ChapaRef
	} else {
		event.Reference = payload.TxRef
		event.ExternalID = payload.Reference
	}

	if event.Reference == "" {
		return nil, fmt.Errorf("%w: missing reference", domain.ErrMalformedPayload)
	}
	return event, nil
}
