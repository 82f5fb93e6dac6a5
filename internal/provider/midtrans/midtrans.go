// internal/provider/midtrans/midtrans.go
package midtrans

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"ersha-payment-service/config"
	"ersha-payment-service/internal/domain"
	"ersha-payment-service/internal/provider"
	"ersha-payment-service/pkg/security"

	mt "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type snapClient interface {
	CreateTransaction(req *snap.Request) (*snap.Response, *mt.Error)
}

type coreClient interface {
	CheckTransaction(orderID string) (*coreapi.TransactionStatusResponse, *mt.Error)
	RefundTransaction(orderID string, req *coreapi.RefundReq) (*coreapi.RefundResponse, *mt.Error)
}

// MidtransProvider drives Snap checkout and the core API for status and refunds.
// The SDK calls take no context; the processor bounds them with a timeout.
type MidtransProvider struct {
	serverKey string
	snap      snapClient
	core      coreClient
	logger    *zap.Logger
}

func NewMidtransProvider(cfg config.MidtransConfig, logger *zap.Logger) *MidtransProvider {
	env := mt.Sandbox
	if cfg.Environment == "production" {
		env = mt.Production
	}

	var s snap.Client
	s.New(cfg.ServerKey, env)

	var c coreapi.Client
	c.New(cfg.ServerKey, env)

	return &MidtransProvider{
		serverKey: cfg.ServerKey,
		snap:      &s,
		core:      &c,
		logger:    logger,
	}
}

func (p *MidtransProvider) Name() domain.Provider {
	return domain.ProviderMidtrans
}

func (p *MidtransProvider) InitiatePayment(_ context.Context, req *provider.InitiateRequest) *provider.InitiateResult {
	result := &provider.InitiateResult{Provider: domain.ProviderMidtrans}

	gross, err := grossAmount(req.Amount)
	if err != nil {
		result.Outcome = provider.Failure(provider.KindValidation, err.Error())
		return result
	}
	if req.Reference == "" {
		result.Outcome = provider.Failure(provider.KindValidation, "reference is required")
		return result
	}

	resp, snapErr := p.snap.CreateTransaction(&snap.Request{
		TransactionDetails: mt.TransactionDetails{
			OrderID:  req.Reference,
			GrossAmt: gross,
		},
	})
	if snapErr != nil {
		p.logger.Warn("midtrans snap transaction failed",
			zap.String("order_id", req.Reference),
			zap.String("error", snapErr.Message))
		result.Outcome = provider.Failure(provider.KindProvider, snapErr.Message)
		return result
	}
	if resp == nil || resp.RedirectURL == "" {
		result.Outcome = provider.Failure(provider.KindProvider, "midtrans returned no redirect url")
		return result
	}

	result.Outcome = provider.OK()
	result.ProviderReference = req.Reference
	result.CheckoutURL = resp.RedirectURL
	result.Raw = map[string]interface{}{"token": resp.Token}
	return result
}

func (p *MidtransProvider) VerifyPayment(_ context.Context, providerRef string) *provider.VerifyResult {
	result := &provider.VerifyResult{Provider: domain.ProviderMidtrans, ProviderReference: providerRef}

	if providerRef == "" {
		result.Outcome = provider.Failure(provider.KindValidation, "provider reference is required")
		return result
	}

	status, mtErr := p.core.CheckTransaction(providerRef)
	if mtErr != nil {
		result.Outcome = provider.Failure(provider.KindProvider, mtErr.Message)
		return result
	}

	result.Outcome = provider.OK()
	result.Status = mapStatus(status.TransactionStatus, status.FraudStatus)
	result.Currency = status.Currency
	result.ExternalID = status.TransactionID
	if amt, err := decimal.NewFromString(status.GrossAmount); err == nil {
		result.Amount = amt
	}
	return result
}

func (p *MidtransProvider) RefundPayment(_ context.Context, providerRef string, amount decimal.Decimal, reason string) *provider.RefundResult {
	result := &provider.RefundResult{Provider: domain.ProviderMidtrans}

	gross, err := grossAmount(amount)
	if err != nil {
		result.Outcome = provider.Failure(provider.KindValidation, err.Error())
		return result
	}

	refundKey := fmt.Sprintf("%s-refund-%s", providerRef, amount.String())
	resp, mtErr := p.core.RefundTransaction(providerRef, &coreapi.RefundReq{
		RefundKey: refundKey,
		Amount:    gross,
		Reason:    reason,
	})
	if mtErr != nil {
		result.Outcome = provider.Failure(provider.KindProvider, mtErr.Message)
		return result
	}
	if resp != nil && resp.StatusCode != "" && !strings.HasPrefix(resp.StatusCode, "2") {
		result.Outcome = provider.Failure(provider.KindProvider, resp.StatusMessage)
		return result
	}

	result.Outcome = provider.OK()
	result.RefundReference = refundKey
	return result
}

// ============================================
// NOTIFICATIONS
// ============================================

type notification struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionStatus string `json:"transaction_status"`
	TransactionID     string `json:"transaction_id"`
	FraudStatus       string `json:"fraud_status"`
}

// VerifyWebhook recomputes SHA512(order_id+status_code+gross_amount+server_key).
func (p *MidtransProvider) VerifyWebhook(_ *http.Request, body []byte) error {
	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if p.serverKey == "" {
		return fmt.Errorf("%w: midtrans server key not configured", domain.ErrInvalidSignature)
	}
	expected := security.SHA512Hex(n.OrderID, n.StatusCode, n.GrossAmount, p.serverKey)
	if !security.EqualHex(expected, n.SignatureKey) {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (p *MidtransProvider) ParseWebhook(_ *http.Request, body []byte) (*provider.WebhookEvent, error) {
	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if n.OrderID == "" || n.TransactionStatus == "" {
		return nil, fmt.Errorf("%w: missing order_id or transaction_status", domain.ErrMalformedPayload)
	}

	amount, _ := decimal.NewFromString(n.GrossAmount)
	return &provider.WebhookEvent{
		Provider:    domain.ProviderMidtrans,
		Kind:        provider.EventPayment,
		Reference:   n.OrderID,
		ExternalID:  n.TransactionID,
		Status:      mapStatus(n.TransactionStatus, n.FraudStatus),
		ResultCode:  n.StatusCode,
		Description: n.TransactionStatus,
		Amount:      amount,
		Raw:         body,
	}, nil
}

func mapStatus(status, fraud string) provider.PaymentState {
	switch status {
	case "settlement":
		return provider.StateCompleted
	case "capture":
		// card captures flagged for review settle later
		if fraud == "challenge" {
			return provider.StatePending
		}
		return provider.StateCompleted
	case "deny", "failure":
		return provider.StateFailed
	case "cancel":
		return provider.StateCancelled
	case "expire":
		return provider.StateExpired
	}
	return provider.StatePending
}

// grossAmount converts to the whole-unit integer midtrans expects.
func grossAmount(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("amount must be greater than 0")
	}
	if !amount.Equal(amount.Truncate(0)) {
		return 0, fmt.Errorf("midtrans amounts must be whole numbers, got %s", amount.String())
	}
	return amount.IntPart(), nil
}
