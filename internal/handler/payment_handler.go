package handler

import (
	"net/http"

	"ersha-payment-service/internal/domain"
	"ersha-payment-service/internal/usecase"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	paymentUC *usecase.PaymentUsecase
	txnUC     *usecase.TransactionUsecase
	escrowUC  *usecase.EscrowUsecase
	logger    *zap.Logger
}

func NewPaymentHandler(
	paymentUC *usecase.PaymentUsecase,
	txnUC *usecase.TransactionUsecase,
	escrowUC *usecase.EscrowUsecase,
	logger *zap.Logger,
) *PaymentHandler {
	return &PaymentHandler{
		paymentUC: paymentUC,
		txnUC:     txnUC,
		escrowUC:  escrowUC,
		logger:    logger,
	}
}

// HandleInitiatePayment starts a buyer payment
func (h *PaymentHandler) HandleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req domain.InitiatePaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err, nil)
		return
	}

	h.logger.Info("payment request received",
		zap.String("user_id", req.UserID),
		zap.String("provider", req.Provider),
		zap.String("reference", req.Reference),
		zap.String("amount", req.Amount.String()))

	result, err := h.paymentUC.InitiatePayment(r.Context(), &req)
	if err != nil {
		sendError(w, statusFor(err), "failed to initiate payment", err, result)
		return
	}

	sendSuccess(w, http.StatusCreated, result.Message, result)
}

func (h *PaymentHandler) HandleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err, nil)
		return
	}

	result, err := h.paymentUC.VerifyPayment(r.Context(), &req)
	if err != nil {
		sendError(w, statusFor(err), "failed to verify payment", err, result)
		return
	}

	sendSuccess(w, http.StatusOK, "payment status retrieved", result)
}

// ============================================
// TRANSACTIONS
// ============================================

func (h *PaymentHandler) HandleGetTransaction(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transaction_id")

	detail, err := h.txnUC.GetTransaction(r.Context(), transactionID)
	if err != nil {
		sendError(w, statusFor(err), "transaction not available", err, nil)
		return
	}

	sendSuccess(w, http.StatusOK, "transaction retrieved", detail)
}

func (h *PaymentHandler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.TransactionFilter{
		UserID: q.Get("user_id"),
		Status: domain.TransactionStatus(q.Get("status")),
		Type:   domain.TransactionType(q.Get("type")),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}

	txns, err := h.txnUC.ListTransactions(r.Context(), filter)
	if err != nil {
		sendError(w, statusFor(err), "failed to list transactions", err, nil)
		return
	}
	if txns == nil {
		txns = []*domain.Transaction{}
	}

	sendSuccess(w, http.StatusOK, "transactions retrieved", txns)
}

type lifecycleRequest struct {
	Reason     string `json:"reason"`
	Resolution string `json:"resolution"`
}

func (h *PaymentHandler) HandleDispute(w http.ResponseWriter, r *http.Request) {
	var req lifecycleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err, nil)
		return
	}

	txn, err := h.txnUC.Dispute(r.Context(), chi.URLParam(r, "transaction_id"), req.Reason)
	if err != nil {
		sendError(w, statusFor(err), "failed to open dispute", err, nil)
		return
	}

	sendSuccess(w, http.StatusOK, "transaction disputed", txn)
}

func (h *PaymentHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	var req lifecycleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err, nil)
		return
	}

	txn, err := h.txnUC.Resolve(r.Context(), chi.URLParam(r, "transaction_id"), usecase.Resolution(req.Resolution), req.Reason)
	if err != nil {
		sendError(w, statusFor(err), "failed to resolve dispute", err, nil)
		return
	}

	sendSuccess(w, http.StatusOK, "dispute resolved", txn)
}

func (h *PaymentHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	var req lifecycleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err, nil)
		return
	}

	txn, err := h.txnUC.Cancel(r.Context(), chi.URLParam(r, "transaction_id"), req.Reason)
	if err != nil {
		sendError(w, statusFor(err), "failed to cancel transaction", err, nil)
		return
	}

	sendSuccess(w, http.StatusOK, "transaction cancelled", txn)
}

// ============================================
// ESCROW
// ============================================

func (h *PaymentHandler) HandleGetEscrow(w http.ResponseWriter, r *http.Request) {
	view, err := h.escrowUC.GetAccount(r.Context(), chi.URLParam(r, "user_id"))
	if err != nil {
		sendError(w, statusFor(err), "escrow account not available", err, nil)
		return
	}

	sendSuccess(w, http.StatusOK, "escrow account retrieved", view)
}
