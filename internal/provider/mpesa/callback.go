package mpesa

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"

	"ersha-payment-service/internal/domain"
	"ersha-payment-service/internal/provider"
	"ersha-payment-service/pkg/security"

	"github.com/shopspring/decimal"
)

// ResultCode accepts Daraja's result codes as either numbers or strings.
type ResultCode string

func (c *ResultCode) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	*c = ResultCode(bytes.Trim(b, `"`))
	return nil
}

type STKCallbackRequest struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string     `json:"MerchantRequestID"`
			CheckoutRequestID string     `json:"CheckoutRequestID"`
			ResultCode        ResultCode `json:"ResultCode"`
			ResultDesc        string     `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string      `json:"Name"`
					Value interface{} `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ResultCallbackRequest is the B2C and B2B result body.
type ResultCallbackRequest struct {
	Result struct {
		ResultType               int        `json:"ResultType"`
		ResultCode               ResultCode `json:"ResultCode"`
		ResultDesc               string     `json:"ResultDesc"`
		OriginatorConversationID string     `json:"OriginatorConversationID"`
		ConversationID           string     `json:"ConversationID"`
		TransactionID            string     `json:"TransactionID"`
		ResultParameters         struct {
			ResultParameter []struct {
				Key   string      `json:"Key"`
				Value interface{} `json:"Value"`
			} `json:"ResultParameter"`
		} `json:"ResultParameters"`
	} `json:"Result"`
}

// VerifyWebhook checks the token query parameter against the reference
// in the callback path.
func (m *MpesaProvider) VerifyWebhook(r *http.Request, _ []byte) error {
	if m.config.CallbackSecret == "" {
		return fmt.Errorf("%w: M-Pesa callback secret not configured", domain.ErrInvalidSignature)
	}
	ref := path.Base(r.URL.Path)
	if ref == "" || ref == "/" || ref == "." {
		return domain.ErrInvalidSignature
	}
	if !security.VerifyHMAC(m.config.CallbackSecret, []byte(ref), r.URL.Query().Get("token")) {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (m *MpesaProvider) ParseWebhook(r *http.Request, body []byte) (*provider.WebhookEvent, error) {
	p := r.URL.Path
	ref := path.Base(p)

	switch {
	case strings.Contains(p, "/stk/"):
		event, err := parseSTKCallback(body)
		if err != nil {
			return nil, err
		}
		event.SignedReference = ref
		return event, nil
	case strings.Contains(p, "/timeout/"):
		return &provider.WebhookEvent{
			Provider:    domain.ProviderMpesa,
			Kind:        provider.EventPayout,
			Reference:   ref,
			Status:      provider.StateFailed,
			ResultCode:  "timeout",
			Description: "request timed out in the M-Pesa queue",
			Raw:         body,
		}, nil
	case strings.Contains(p, "/b2c/"), strings.Contains(p, "/b2b/"):
		return parseResultCallback(ref, body)
	}
	return nil, fmt.Errorf("%w: unknown M-Pesa callback path %s", domain.ErrMalformedPayload, p)
}

func parseSTKCallback(body []byte) (*provider.WebhookEvent, error) {
	var callback STKCallbackRequest
	if err := json.Unmarshal(body, &callback); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	stk := callback.Body.StkCallback
	if stk.CheckoutRequestID == "" || stk.ResultCode == "" {
		return nil, fmt.Errorf("%w: missing CheckoutRequestID or ResultCode", domain.ErrMalformedPayload)
	}

	event := &provider.WebhookEvent{
		Provider:    domain.ProviderMpesa,
		Kind:        provider.EventPayment,
		Reference:   stk.CheckoutRequestID,
		Status:      stkState(string(stk.ResultCode)),
		ResultCode:  string(stk.ResultCode),
		Description: stk.ResultDesc,
		Raw:         body,
	}

	for _, item := range stk.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			event.Amount = toDecimal(item.Value)
		case "MpesaReceiptNumber":
			event.ExternalID = fmt.Sprint(item.Value)
		}
	}
	return event, nil
}

func parseResultCallback(ref string, body []byte) (*provider.WebhookEvent, error) {
	var callback ResultCallbackRequest
	if err := json.Unmarshal(body, &callback); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	res := callback.Result
	if res.ResultCode == "" {
		return nil, fmt.Errorf("%w: missing ResultCode", domain.ErrMalformedPayload)
	}

	event := &provider.WebhookEvent{
		Provider:    domain.ProviderMpesa,
		Kind:        provider.EventPayout,
		Reference:   ref,
		ExternalID:  res.TransactionID,
		Status:      provider.StateFailed,
		ResultCode:  string(res.ResultCode),
		Description: res.ResultDesc,
		Raw:         body,
	}
	if res.ResultCode == "0" {
		event.Status = provider.StateCompleted
	}

	for _, param := range res.ResultParameters.ResultParameter {
		switch param.Key {
		case "TransactionAmount", "Amount":
			event.Amount = toDecimal(param.Value)
		case "TransactionReceipt":
			event.ExternalID = fmt.Sprint(param.Value)
		}
	}
	return event, nil
}

func toDecimal(v interface{}) decimal.Decimal {
	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val)
	case string:
		d, err := decimal.NewFromString(val)
		if err == nil {
			return d
		}
	}
	return decimal.Zero
}
