package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"ersha-payment-service/internal/usecase"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type CallbackHandler struct {
	reconciler *usecase.Reconciler
	logger     *zap.Logger
}

func NewCallbackHandler(reconciler *usecase.Reconciler, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{
		reconciler: reconciler,
		logger:     logger,
	}
}

// HandleProviderCallback handles gateway webhooks for chapa and midtrans.
func (h *CallbackHandler) HandleProviderCallback(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	h.logger.Info("received provider callback",
		zap.String("provider", providerName),
		zap.String("remote_addr", r.RemoteAddr))

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Error("failed to read callback payload",
			zap.String("provider", providerName),
			zap.Error(err))
		sendError(w, http.StatusBadRequest, "failed to read payload", err, nil)
		return
	}

	result, err := h.reconciler.HandleWebhook(r.Context(), providerName, r, payload)
	if err != nil {
		h.logger.Warn("provider callback not applied",
			zap.String("provider", providerName),
			zap.Error(err))
		sendError(w, statusFor(err), "callback not applied", err, nil)
		return
	}

	sendSuccess(w, http.StatusOK, "callback "+string(result.Outcome), result)
}

// ============================================
// M-PESA CALLBACKS
// ============================================

// HandleMpesaCallback serves the stk, b2c, b2b and timeout callback routes.
// The provider reads the callback kind from the request path.
func (h *CallbackHandler) HandleMpesaCallback(w http.ResponseWriter, r *http.Request) {
	paymentRef := chi.URLParam(r, "payment_ref")

	h.logger.Info("received M-Pesa callback",
		zap.String("payment_ref", paymentRef),
		zap.String("path", r.URL.Path),
		zap.String("remote_addr", r.RemoteAddr))

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Error("failed to read M-Pesa callback payload",
			zap.String("payment_ref", paymentRef),
			zap.Error(err))
		h.sendCallbackResponse(w, http.StatusBadRequest, "1", "Failed to read payload")
		return
	}

	h.logger.Debug("M-Pesa callback payload received",
		zap.String("payment_ref", paymentRef),
		zap.Int("payload_size", len(payload)))

	result, err := h.reconciler.HandleWebhook(r.Context(), "mpesa", r, payload)
	if err != nil {
		h.logger.Warn("M-Pesa callback not applied",
			zap.String("payment_ref", paymentRef),
			zap.Error(err))
		h.sendCallbackResponse(w, statusFor(err), "1", err.Error())
		return
	}

	h.logger.Info("M-Pesa callback acknowledged",
		zap.String("payment_ref", paymentRef),
		zap.String("outcome", string(result.Outcome)))
	h.sendCallbackResponse(w, http.StatusOK, "0", "Success")
}

func (h *CallbackHandler) sendCallbackResponse(w http.ResponseWriter, status int, resultCode, resultDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"ResultCode": resultCode,
		"ResultDesc": resultDesc,
	})
}
