// internal/provider/mpesa/mpesa.go
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
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
	"ersha-payment-service/pkg/security"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type MpesaProvider struct {
	config       config.MpesaConfig
	baseURL      string
	callbackBase string
	httpClient   *http.Client
	logger       *zap.Logger
	now          func() time.Time
}

// NewMpesaProvider builds the Daraja client. callbackBase is the public
// base URL result callbacks are sent to.
func NewMpesaProvider(cfg config.MpesaConfig, callbackBase string, logger *zap.Logger) *MpesaProvider {
	baseURL := "https://sandbox.safaricom.co.ke"
	if cfg.Environment == "production" {
		baseURL = "https://api.safaricom.co.ke"
	}
	if cfg.BaseURL != "" {
		baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &MpesaProvider{
		config:       cfg,
		baseURL:      baseURL,
		callbackBase: strings.TrimRight(callbackBase, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		logger:       logger,
		now:          time.Now,
	}
}

func (m *MpesaProvider) Name() domain.Provider {
	return domain.ProviderMpesa
}

// callbackURL renders the signed callback address for ref. kind is one of
// stk, b2c, b2c/timeout, b2b, b2b/timeout.
func (m *MpesaProvider) callbackURL(kind, ref string) string {
	return fmt.Sprintf("%s/api/v1/callbacks/mpesa/%s/%s?token=%s",
		m.callbackBase, kind, url.PathEscape(ref), m.callbackToken(ref))
}

func (m *MpesaProvider) callbackToken(ref string) string {
	return security.SignHMAC(m.config.CallbackSecret, []byte(ref))
}

// wholeAmount converts to the integer shillings Daraja accepts.
func wholeAmount(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, errors.New("amount must be greater than 0")
	}
	if !amount.Equal(amount.Truncate(0)) {
		return 0, fmt.Errorf("M-Pesa amounts must be whole numbers, got %s", amount.String())
	}
	return amount.IntPart(), nil
}

// ============================================
// HTTP HELPERS
// ============================================

// apiError is a Daraja error body or a non-200 answer.
type apiError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("M-Pesa API error (%d %s): %s", e.StatusCode, e.Code, e.Message)
}

func outcomeFromError(err error) provider.Outcome {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return provider.Failure(provider.KindProvider, apiErr.Message)
	}
	return provider.Failure(provider.KindNetwork, err.Error())
}

// getAccessToken gets M-Pesa OAuth token
// apiType can be "stk", "b2c", or "b2b"
func (m *MpesaProvider) getAccessToken(ctx context.Context, apiType string) (string, error) {
	endpoint := fmt.Sprintf("%s/oauth/v1/generate?grant_type=client_credentials", m.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	var consumerKey, consumerSecret string
	switch apiType {
	case "b2c":
		consumerKey = m.config.B2CConsumerKey
		consumerSecret = m.config.B2CConsumerSecret
	case "b2b":
		consumerKey = m.config.B2BConsumerKey
		consumerSecret = m.config.B2BConsumerSecret
	}
	// payout apps may share the STK credentials
	if consumerKey == "" {
		consumerKey = m.config.ConsumerKey
		consumerSecret = m.config.ConsumerSecret
	}

	auth := base64.StdEncoding.EncodeToString([]byte(consumerKey + ":" + consumerSecret))
	req.Header.Set("Authorization", "Basic "+auth)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", &apiError{StatusCode: resp.StatusCode, Code: "oauth", Message: fmt.Sprintf("failed to get token: %s", string(body))}
	}

	var result struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if result.AccessToken == "" {
		return "", &apiError{StatusCode: resp.StatusCode, Code: "oauth", Message: "empty access token"}
	}

	return result.AccessToken, nil
}

// makeRequest posts payload and decodes the answer into out.
func (m *MpesaProvider) makeRequest(ctx context.Context, apiType, path string, payload, out interface{}) error {
	token, err := m.getAccessToken(ctx, apiType)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		var darajaErr struct {
			ErrorCode    string `json:"errorCode"`
			ErrorMessage string `json:"errorMessage"`
		}
		_ = json.Unmarshal(responseBody, &darajaErr)
		if darajaErr.ErrorMessage == "" {
			darajaErr.ErrorMessage = string(responseBody)
		}
		return &apiError{StatusCode: resp.StatusCode, Code: darajaErr.ErrorCode, Message: darajaErr.ErrorMessage}
	}

	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
