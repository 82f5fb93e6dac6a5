// internal/provider/chapa/chapa.go
package chapa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ersha-payment-service/config"
	"ersha-payment-service/internal/domain"
	"ersha-payment-service/internal/provider"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ChapaProvider struct {
	config     config.ChapaConfig
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewChapaProvider(cfg config.ChapaConfig, logger *zap.Logger) *ChapaProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.chapa.co"
	}

	return &ChapaProvider{
		config:     cfg,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

func (c *ChapaProvider) Name() domain.Provider {
	return domain.ProviderChapa
}

// ============================================
// CHECKOUT
// ============================================

type initializeRequest struct {
	Amount        string        `json:"amount"`
	Currency      string        `json:"currency"`
	Email         string        `json:"email,omitempty"`
	FirstName     string        `json:"first_name,omitempty"`
	LastName      string        `json:"last_name,omitempty"`
	PhoneNumber   string        `json:"phone_number"`
	TxRef         string        `json:"tx_ref"`
	CallbackURL   string        `json:"callback_url,omitempty"`
	ReturnURL     string        `json:"return_url,omitempty"`
	Customization customization `json:"customization"`
}

type customization struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type apiResponse struct {
	Message json.RawMessage `json:"message"`
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
}

// text flattens chapa's message, which is a string or a field->errors map.
func (r *apiResponse) text() string {
	var s string
	if err := json.Unmarshal(r.Message, &s); err == nil {
		return s
	}
	return string(r.Message)
}

func (c *ChapaProvider) InitiatePayment(ctx context.Context, req *provider.InitiateRequest) *provider.InitiateResult {
	result := &provider.InitiateResult{Provider: domain.ProviderChapa}

	if !req.Amount.IsPositive() {
		result.Outcome = provider.Failure(provider.KindValidation, "amount must be greater than 0")
		return result
	}
	phone, ok := provider.EthiopianPhone.Normalize(req.Account)
	if !ok {
		result.Outcome = provider.Failure(provider.KindValidation, fmt.Sprintf("invalid Ethiopian phone number: %s", req.Account))
		return result
	}
	if req.Reference == "" {
		result.Outcome = provider.Failure(provider.KindValidation, "reference is required")
		return result
	}

	title := "Ersha Payment"
	body := initializeRequest{
		Amount:      req.Amount.StringFixed(2),
		Currency:    req.Currency,
		Email:       req.Email,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		PhoneNumber: phone,
		TxRef:       req.Reference,
		CallbackURL: c.config.CallbackURL,
		ReturnURL:   c.config.ReturnURL,
		Customization: customization{
			Title:       title,
			Description: sanitizeDescription(req.Description),
		},
	}

	resp, err := c.do(ctx, http.MethodPost, "/v1/transaction/initialize", body)
	if err != nil {
		c.logger.Warn("chapa initialize failed",
			zap.String("tx_ref", req.Reference),
			zap.Error(err))
		result.Outcome = outcomeFromError(err)
		return result
	}

	var data struct {
		CheckoutURL string `json:"checkout_url"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil || data.CheckoutURL == "" {
		result.Outcome = provider.Failure(provider.KindProvider, "chapa response missing checkout_url")
		return result
	}

	result.Outcome = provider.OK()
	result.ProviderReference = req.Reference
	result.CheckoutURL = data.CheckoutURL
	result.Message = resp.text()
	return result
}

type verifyData struct {
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Reference string          `json:"reference"`
	TxRef     string          `json:"tx_ref"`
}

func (c *ChapaProvider) VerifyPayment(ctx context.Context, providerRef string) *provider.VerifyResult {
	result := &provider.VerifyResult{Provider: domain.ProviderChapa, ProviderReference: providerRef}

	if providerRef == "" {
		result.Outcome = provider.Failure(provider.KindValidation, "provider reference is required")
		return result
	}

	resp, err := c.do(ctx, http.MethodGet, "/v1/transaction/verify/"+url.PathEscape(providerRef), nil)
	if err != nil {
		result.Outcome = outcomeFromError(err)
		return result
	}

	var data verifyData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		result.Outcome = provider.Failure(provider.KindProvider, "failed to parse chapa verify response")
		return result
	}

	result.Outcome = provider.OK()
	result.Status = mapStatus(data.Status)
	result.Amount = data.Amount
	result.Currency = data.Currency
	result.ExternalID = data.Reference
	return result
}

// RefundPayment is not offered through the chapa API we integrate with.
func (c *ChapaProvider) RefundPayment(_ context.Context, providerRef string, _ decimal.Decimal, _ string) *provider.RefundResult {
	c.logger.Info("chapa refund requested, manual processing required",
		zap.String("tx_ref", providerRef))
	return &provider.RefundResult{
		Provider: domain.ProviderChapa,
		Outcome:  provider.Failure(provider.KindNotImplemented, "chapa refunds are not implemented"),
	}
}

// ============================================
// TRANSFERS (payouts)
// ============================================

type transferRequest struct {
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Reference     string `json:"reference"`
	BankCode      string `json:"bank_code"`
}

func (c *ChapaProvider) MobilePayout(ctx context.Context, req *provider.PayoutInstruction) *provider.PayoutResult {
	phone, ok := provider.EthiopianPhone.Normalize(req.Phone)
	if !ok {
		return &provider.PayoutResult{
			Provider: domain.ProviderChapa,
			Outcome:  provider.Failure(provider.KindValidation, fmt.Sprintf("invalid Ethiopian phone number: %s", req.Phone)),
		}
	}
	code, _ := domain.MobileWalletCode(domain.ProviderChapa)
	if req.BankCode != "" {
		code = req.BankCode
	}
	return c.transfer(ctx, req, phone, code)
}

func (c *ChapaProvider) BankPayout(ctx context.Context, req *provider.PayoutInstruction) *provider.PayoutResult {
	if req.BankCode == "" || req.AccountNumber == "" {
		return &provider.PayoutResult{
			Provider: domain.ProviderChapa,
			Outcome:  provider.Failure(provider.KindValidation, "bank code and account number are required"),
		}
	}
	return c.transfer(ctx, req, req.AccountNumber, req.BankCode)
}

func (c *ChapaProvider) transfer(ctx context.Context, req *provider.PayoutInstruction, account, bankCode string) *provider.PayoutResult {
	result := &provider.PayoutResult{Provider: domain.ProviderChapa}

	if !req.Amount.IsPositive() {
		result.Outcome = provider.Failure(provider.KindValidation, "amount must be greater than 0")
		return result
	}

	body := transferRequest{
		AccountName:   req.AccountName,
		AccountNumber: account,
		Amount:        req.Amount.StringFixed(2),
		Currency:      req.Currency,
		Reference:     req.Reference,
		BankCode:      bankCode,
	}

	resp, err := c.do(ctx, http.MethodPost, "/v1/transfers", body)
	if err != nil {
		c.logger.Warn("chapa transfer failed",
			zap.String("reference", req.Reference),
			zap.Error(err))
		result.Outcome = outcomeFromError(err)
		return result
	}

	result.Outcome = provider.OK()
	result.ExternalReference = req.Reference
	result.Message = resp.text()

	// data is either a bare string or an object carrying the chapa reference
	var data struct {
		Reference string `json:"chapa_reference"`
	}
	if err := json.Unmarshal(resp.Data, &data); err == nil && data.Reference != "" {
		result.ExternalReference = data.Reference
	}
	return result
}

// ============================================
// HELPERS
// ============================================

// apiError is a non-success answer from chapa.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("chapa API error (%d): %s", e.StatusCode, e.Message)
}

func outcomeFromError(err error) provider.Outcome {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return provider.Failure(provider.KindProvider, apiErr.Message)
	}
	return provider.Failure(provider.KindNetwork, err.Error())
}

func (c *ChapaProvider) do(ctx context.Context, method, path string, payload interface{}) (*apiResponse, error) {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.SecretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &apiError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("unreadable response: %s", truncate(raw))}
	}

	if resp.StatusCode >= 300 || !strings.EqualFold(out.Status, "success") {
		return nil, &apiError{StatusCode: resp.StatusCode, Message: out.text()}
	}
	return &out, nil
}

// mapStatus normalises chapa's transaction statuses.
func mapStatus(status string) provider.PaymentState {
	switch strings.ToLower(status) {
	case "success", "successful", "completed":
		return provider.StateCompleted
	case "failed", "failure":
		return provider.StateFailed
	case "cancelled", "canceled":
		return provider.StateCancelled
	case "expired":
		return provider.StateExpired
	}
	return provider.StatePending
}

// chapa rejects customization descriptions with punctuation beyond these.
func sanitizeDescription(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == ' ', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > 50 {
		out = out[:50]
	}
	return out
}

func truncate(raw []byte) string {
	if len(raw) > 200 {
		return string(raw[:200])
	}
	return string(raw)
}
