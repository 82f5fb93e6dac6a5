package handler

import (
	"net/http"

	"ersha-payment-service/internal/domain"
	"ersha-payment-service/internal/usecase"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type PayoutHandler struct {
	payoutUC *usecase.PayoutUsecase
	logger   *zap.Logger
}

func NewPayoutHandler(payoutUC *usecase.PayoutUsecase, logger *zap.Logger) *PayoutHandler {
	return &PayoutHandler{payoutUC: payoutUC, logger: logger}
}

type payoutActionRequest struct {
	ApproverID string `json:"approver_id"`
	Reason     string `json:"reason"`
}

func (h *PayoutHandler) HandleCreatePayout(w http.ResponseWriter, r *http.Request) {
	var req domain.CreatePayoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err, nil)
		return
	}

	payout, err := h.payoutUC.CreatePayout(r.Context(), &req)
	if err != nil {
		sendError(w, statusFor(err), "failed to create payout request", err, nil)
		return
	}

	sendSuccess(w, http.StatusCreated, "payout request created", payout)
}

func (h *PayoutHandler) HandleListPayouts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.PayoutFilter{
		UserID: q.Get("user_id"),
		Status: domain.PayoutStatus(q.Get("status")),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}

	payouts, err := h.payoutUC.ListPayouts(r.Context(), filter)
	if err != nil {
		sendError(w, statusFor(err), "failed to list payouts", err, nil)
		return
	}
	if payouts == nil {
		payouts = []*domain.PayoutRequest{}
	}

	sendSuccess(w, http.StatusOK, "payouts retrieved", payouts)
}

func (h *PayoutHandler) HandleGetPayout(w http.ResponseWriter, r *http.Request) {
	payout, err := h.payoutUC.GetPayout(r.Context(), chi.URLParam(r, "payout_id"))
	if err != nil {
		sendError(w, statusFor(err), "payout not available", err, nil)
		return
	}

	sendSuccess(w, http.StatusOK, "payout retrieved", payout)
}

// HandleProcessPayout runs validation, reservation and the provider call
func (h *PayoutHandler) HandleProcessPayout(w http.ResponseWriter, r *http.Request) {
	payoutID := chi.URLParam(r, "payout_id")

	var req payoutActionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			sendError(w, http.StatusBadRequest, "invalid request body", err, nil)
			return
		}
	}

	h.logger.Info("processing payout",
		zap.String("payout_id", payoutID),
		zap.String("approver_id", req.ApproverID))

	result, err := h.payoutUC.ProcessPayout(r.Context(), payoutID, req.ApproverID)
	if err != nil {
		sendError(w, statusFor(err), "payout failed", err, result)
		return
	}

	status := http.StatusOK
	message := "payout completed"
	if result.Status == domain.PayoutStatusProcessing {
		status = http.StatusAccepted
		message = "payout submitted, awaiting provider confirmation"
	}
	sendSuccess(w, status, message, result)
}

func (h *PayoutHandler) HandleRejectPayout(w http.ResponseWriter, r *http.Request) {
	var req payoutActionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err, nil)
		return
	}

	payout, err := h.payoutUC.RejectPayout(r.Context(), chi.URLParam(r, "payout_id"), req.ApproverID, req.Reason)
	if err != nil {
		sendError(w, statusFor(err), "failed to reject payout", err, nil)
		return
	}

	sendSuccess(w, http.StatusOK, "payout rejected", payout)
}
