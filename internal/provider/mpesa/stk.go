package mpesa

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"ersha-payment-service/internal/domain"
	"ersha-payment-service/internal/provider"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ============================================
// STK PUSH (Lipa Na M-Pesa Online)
// ============================================

type STKPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type STKQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type STKQueryResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

// stillProcessing is returned by the query API while the customer has
// not answered the prompt.
const stillProcessing = "500.001.1001"

func (m *MpesaProvider) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(m.config.ShortCode + m.config.Passkey + timestamp))
}

// InitiatePayment sends an STK push to the customer's phone. The
// CheckoutRequestID is the reference the callback is matched on.
func (m *MpesaProvider) InitiatePayment(ctx context.Context, req *provider.InitiateRequest) *provider.InitiateResult {
	result := &provider.InitiateResult{Provider: domain.ProviderMpesa}

	phone, ok := provider.KenyanPhone.Normalize(req.Account)
	if !ok {
		result.Outcome = provider.Failure(provider.KindValidation, fmt.Sprintf("invalid Kenyan phone number: %s", req.Account))
		return result
	}
	amount, err := wholeAmount(req.Amount)
	if err != nil {
		result.Outcome = provider.Failure(provider.KindValidation, err.Error())
		return result
	}

	timestamp := m.now().Format("20060102150405")
	request := STKPushRequest{
		BusinessShortCode: m.config.ShortCode,
		Password:          m.password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount,
		PartyA:            phone,
		PartyB:            m.config.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       m.callbackURL("stk", req.Reference),
		AccountReference:  truncateRef(req.Reference, 12),
		TransactionDesc:   fmt.Sprintf("Payment for %s", truncateRef(req.Reference, 12)),
	}

	var response STKPushResponse
	if err := m.makeRequest(ctx, "stk", "/mpesa/stkpush/v1/processrequest", request, &response); err != nil {
		m.logger.Warn("stk push failed",
			zap.String("reference", req.Reference),
			zap.Error(err))
		result.Outcome = outcomeFromError(err)
		return result
	}

	if response.ResponseCode != "0" {
		result.Outcome = provider.Failure(provider.KindProvider, response.ResponseDescription)
		return result
	}

	result.Outcome = provider.OK()
	result.ProviderReference = response.CheckoutRequestID
	result.Message = response.CustomerMessage
	result.Raw = map[string]interface{}{
		"merchant_request_id": response.MerchantRequestID,
		"checkout_request_id": response.CheckoutRequestID,
	}
	return result
}

// VerifyPayment queries the STK push status for a CheckoutRequestID.
func (m *MpesaProvider) VerifyPayment(ctx context.Context, providerRef string) *provider.VerifyResult {
	result := &provider.VerifyResult{Provider: domain.ProviderMpesa, ProviderReference: providerRef}

	if providerRef == "" {
		result.Outcome = provider.Failure(provider.KindValidation, "provider reference is required")
		return result
	}

	timestamp := m.now().Format("20060102150405")
	request := STKQueryRequest{
		BusinessShortCode: m.config.ShortCode,
		Password:          m.password(timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: providerRef,
	}

	var response STKQueryResponse
	if err := m.makeRequest(ctx, "stk", "/mpesa/stkpushquery/v1/query", request, &response); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Code == stillProcessing {
			result.Outcome = provider.OK()
			result.Status = provider.StatePending
			return result
		}
		result.Outcome = outcomeFromError(err)
		return result
	}

	result.Outcome = provider.OK()
	result.Status = stkState(response.ResultCode)
	return result
}

// RefundPayment would need the reversal API, which this integration does not use.
func (m *MpesaProvider) RefundPayment(_ context.Context, providerRef string, _ decimal.Decimal, _ string) *provider.RefundResult {
	m.logger.Info("mpesa refund requested, manual reversal required",
		zap.String("checkout_request_id", providerRef))
	return &provider.RefundResult{
		Provider: domain.ProviderMpesa,
		Outcome:  provider.Failure(provider.KindNotImplemented, "M-Pesa refunds are not implemented"),
	}
}

// stkState maps STK result codes.
// 0 paid, 1032 cancelled by user, 1037 no answer from the handset.
func stkState(code string) provider.PaymentState {
	switch code {
	case "0":
		return provider.StateCompleted
	case "1032":
		return provider.StateCancelled
	case "1037":
		return provider.StateExpired
	case "":
		return provider.StatePending
	}
	return provider.StateFailed
}

func truncateRef(ref string, n int) string {
	if len(ref) > n {
		return ref[len(ref)-n:]
	}
	return ref
}
