package mpesa

import (
	"context"
	"fmt"

	"ersha-payment-service/internal/domain"
	"ersha-payment-service/internal/provider"

	"go.uber.org/zap"
)

// ============================================
// B2C (Business to Customer)
// ============================================

type B2CRequest struct {
	InitiatorName      string `json:"InitiatorName"`
	SecurityCredential string `json:"SecurityCredential"`
	CommandID          string `json:"CommandID"`
	Amount             int64  `json:"Amount"`
	PartyA             string `json:"PartyA"`
	PartyB             string `json:"PartyB"`
	Remarks            string `json:"Remarks"`
	QueueTimeOutURL    string `json:"QueueTimeOutURL"`
	ResultURL          string `json:"ResultURL"`
	Occasion           string `json:"Occasion"`
}

// B2B (Business to Business)
type B2BRequest struct {
	Initiator              string `json:"Initiator"`
	SecurityCredential     string `json:"SecurityCredential"`
	CommandID              string `json:"CommandID"`
	Amount                 int64  `json:"Amount"`
	PartyA                 string `json:"PartyA"`
	SenderIdentifierType   int    `json:"SenderIdentifierType"`
	PartyB                 string `json:"PartyB"`
	RecieverIdentifierType int    `json:"RecieverIdentifierType"` // Safaricom spells it this way
	AccountReference       string `json:"AccountReference"`
	Remarks                string `json:"Remarks"`
	QueueTimeOutURL        string `json:"QueueTimeOutURL"`
	ResultURL              string `json:"ResultURL"`
}

// AsyncResponse is the acknowledgement for both B2C and B2B requests.
type AsyncResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

// MobilePayout sends money to a phone over B2C. The final result arrives
// on the b2c callback.
func (m *MpesaProvider) MobilePayout(ctx context.Context, req *provider.PayoutInstruction) *provider.PayoutResult {
	result := &provider.PayoutResult{Provider: domain.ProviderMpesa}

	phone, ok := provider.KenyanPhone.Normalize(req.Phone)
	if !ok {
		result.Outcome = provider.Failure(provider.KindValidation, fmt.Sprintf("invalid Kenyan phone number: %s", req.Phone))
		return result
	}
	amount, err := wholeAmount(req.Amount)
	if err != nil {
		result.Outcome = provider.Failure(provider.KindValidation, err.Error())
		return result
	}
	if m.config.B2CInitiatorName == "" || m.config.B2CSecurityCredential == "" {
		result.Outcome = provider.Failure(provider.KindProvider, "B2C initiator is not configured")
		return result
	}

	remarks := req.Remarks
	if remarks == "" {
		remarks = fmt.Sprintf("Withdrawal for %s", req.Reference)
	}

	request := B2CRequest{
		InitiatorName:      m.config.B2CInitiatorName,
		SecurityCredential: m.config.B2CSecurityCredential,
		CommandID:          "BusinessPayment",
		Amount:             amount,
		PartyA:             m.config.B2CShortCode,
		PartyB:             phone,
		Remarks:            remarks,
		QueueTimeOutURL:    m.callbackURL("b2c/timeout", req.Reference),
		ResultURL:          m.callbackURL("b2c", req.Reference),
		Occasion:           req.Reference,
	}

	return m.dispatch(ctx, "b2c", "/mpesa/b2c/v1/paymentrequest", req.Reference, request)
}

// BankPayout pays the bank's paybill with the account number as reference.
func (m *MpesaProvider) BankPayout(ctx context.Context, req *provider.PayoutInstruction) *provider.PayoutResult {
	result := &provider.PayoutResult{Provider: domain.ProviderMpesa}

	if req.BankCode == "" || req.AccountNumber == "" {
		result.Outcome = provider.Failure(provider.KindValidation, "bank paybill and account number are required")
		return result
	}
	amount, err := wholeAmount(req.Amount)
	if err != nil {
		result.Outcome = provider.Failure(provider.KindValidation, err.Error())
		return result
	}
	if m.config.B2BInitiatorName == "" || m.config.B2BSecurityCredential == "" {
		result.Outcome = provider.Failure(provider.KindProvider, "B2B initiator is not configured")
		return result
	}

	remarks := req.Remarks
	if remarks == "" {
		remarks = "B2B Payment"
	}

	request := B2BRequest{
		Initiator:              m.config.B2BInitiatorName,
		SecurityCredential:     m.config.B2BSecurityCredential,
		CommandID:              "BusinessPayBill",
		Amount:                 amount,
		PartyA:                 m.config.B2BShortCode,
		SenderIdentifierType:   4, // shortcode
		PartyB:                 req.BankCode,
		RecieverIdentifierType: 4,
		AccountReference:       req.AccountNumber,
		Remarks:                remarks,
		QueueTimeOutURL:        m.callbackURL("b2b/timeout", req.Reference),
		ResultURL:              m.callbackURL("b2b", req.Reference),
	}

	return m.dispatch(ctx, "b2b", "/mpesa/b2b/v1/paymentrequest", req.Reference, request)
}

func (m *MpesaProvider) dispatch(ctx context.Context, apiType, path, reference string, request interface{}) *provider.PayoutResult {
	result := &provider.PayoutResult{Provider: domain.ProviderMpesa}

	var response AsyncResponse
	if err := m.makeRequest(ctx, apiType, path, request, &response); err != nil {
		m.logger.Warn("mpesa payout request failed",
			zap.String("api", apiType),
			zap.String("reference", reference),
			zap.Error(err))
		result.Outcome = outcomeFromError(err)
		return result
	}

	if response.ResponseCode != "0" {
		result.Outcome = provider.Failure(provider.KindProvider, response.ResponseDescription)
		return result
	}

	m.logger.Info("mpesa payout accepted",
		zap.String("api", apiType),
		zap.String("reference", reference),
		zap.String("conversation_id", response.ConversationID))

	result.Outcome = provider.OK()
	result.Pending = true
	result.ExternalReference = response.ConversationID
	result.Message = response.ResponseDescription
	return result
}
