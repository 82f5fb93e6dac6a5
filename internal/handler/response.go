package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"ersha-payment-service/internal/domain"
	"ersha-payment-service/internal/provider"
)

const maxBodyBytes = 1 << 20

type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func sendSuccess(w http.ResponseWriter, statusCode int, message string, data interface{}) {
	writeJSON(w, statusCode, envelope{Success: true, Message: message, Data: data})
}

func sendError(w http.ResponseWriter, statusCode int, message string, err error, data interface{}) {
	resp := envelope{Success: false, Message: message, Data: data}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, statusCode, resp)
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var perr *domain.ProviderError
	if errors.As(err, &perr) {
		switch provider.ErrorKind(perr.Kind) {
		case provider.KindValidation:
			return http.StatusBadRequest
		case provider.KindNotImplemented:
			return http.StatusNotImplemented
		case provider.KindUnsupported:
			return http.StatusBadRequest
		}
		return http.StatusBadGateway
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrPaymentMethodNotOwned):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrProviderNotSupported),
		errors.Is(err, domain.ErrMalformedPayload),
		errors.Is(err, domain.ErrUnsupportedMethodKind),
		errors.Is(err, domain.ErrBankNotMapped),
		errors.Is(err, domain.ErrPayoutBelowFee),
		errors.Is(err, domain.ErrInvalidVerificationToken),
		errors.Is(err, domain.ErrVerificationExpired):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrDuplicate),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrInvalidEscrowTransition),
		errors.Is(err, domain.ErrPayoutNotPending),
		errors.Is(err, domain.ErrPayoutInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrEscrowInactive),
		errors.Is(err, domain.ErrPaymentMethodNotVerified),
		errors.Is(err, domain.ErrPaymentMethodInactive):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", domain.ErrInvalidRequest)
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
