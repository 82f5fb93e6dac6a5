package handler

import (
	"net/http"

	"ersha-payment-service/internal/domain"
	"ersha-payment-service/internal/usecase"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type PaymentMethodHandler struct {
	methodUC *usecase.PaymentMethodUsecase
	logger   *zap.Logger
}

func NewPaymentMethodHandler(methodUC *usecase.PaymentMethodUsecase, logger *zap.Logger) *PaymentMethodHandler {
	return &PaymentMethodHandler{methodUC: methodUC, logger: logger}
}

type methodActionRequest struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

func (h *PaymentMethodHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterPaymentMethodRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err, nil)
		return
	}

	reg, err := h.methodUC.Register(r.Context(), &req)
	if err != nil {
		sendError(w, statusFor(err), "failed to register payment method", err, nil)
		return
	}

	sendSuccess(w, http.StatusCreated, "payment method registered", reg)
}

func (h *PaymentMethodHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("include_inactive") != "true"

	methods, err := h.methodUC.List(r.Context(), r.URL.Query().Get("user_id"), activeOnly)
	if err != nil {
		sendError(w, statusFor(err), "failed to list payment methods", err, nil)
		return
	}
	if methods == nil {
		methods = []*domain.PaymentMethod{}
	}

	sendSuccess(w, http.StatusOK, "payment methods retrieved", methods)
}

func (h *PaymentMethodHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req methodActionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err, nil)
		return
	}

	method, err := h.methodUC.Verify(r.Context(), chi.URLParam(r, "id"), req.UserID, req.Token)
	if err != nil {
		sendError(w, statusFor(err), "failed to verify payment method", err, nil)
		return
	}

	sendSuccess(w, http.StatusOK, "payment method verified", method)
}

func (h *PaymentMethodHandler) HandleSetDefault(w http.ResponseWriter, r *http.Request) {
	var req methodActionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err, nil)
		return
	}

	method, err := h.methodUC.SetDefault(r.Context(), chi.URLParam(r, "id"), req.UserID)
	if err != nil {
		sendError(w, statusFor(err), "failed to set default payment method", err, nil)
		return
	}

	sendSuccess(w, http.StatusOK, "default payment method updated", method)
}

func (h *PaymentMethodHandler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")

	if err := h.methodUC.Deactivate(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		sendError(w, statusFor(err), "failed to deactivate payment method", err, nil)
		return
	}

	sendSuccess(w, http.StatusOK, "payment method deactivated", nil)
}
