package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ersha-payment-service/pkg/cache"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayedHeader    = "Idempotent-Replayed"
)

// inFlightTTL bounds how long a claimed key blocks retries if the process dies
// before storing a response. It outlasts the router's request timeout.
const inFlightTTL = 2 * time.Minute

var errRequestInFlight = errors.New("request with this Idempotency-Key is still in progress")

type cachedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// Idempotency replays the stored response for a repeated Idempotency-Key.
// The key is claimed before the handler runs, so a concurrent duplicate gets
// 409 instead of running twice. Responses with a 5xx status are not stored
// and the claim is released so the client may retry.
func Idempotency(store cache.IdempotencyStore, ttl time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if key == "" || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			idemKey := r.URL.Path + ":" + key

			raw, err := store.GetIdempotent(r.Context(), idemKey)
			if err != nil {
				logger.Warn("idempotency lookup failed",
					zap.String("key", key),
					zap.Error(err))
			}
			if raw != nil {
				if bytes.Equal(raw, cache.InFlightMarker) {
					rejectInFlight(w, r, key, logger)
					return
				}
				var cached cachedResponse
				if err := json.Unmarshal(raw, &cached); err == nil {
					logger.Info("replaying idempotent response",
						zap.String("key", key),
						zap.String("path", r.URL.Path))
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set(ReplayedHeader, "true")
					w.WriteHeader(cached.Status)
					_, _ = w.Write(cached.Body)
					return
				}
			}

			claimed, err := store.ClaimIdempotent(r.Context(), idemKey, inFlightTTL)
			switch {
			case err != nil:
				logger.Warn("idempotency claim failed",
					zap.String("key", key),
					zap.Error(err))
			case !claimed:
				rejectInFlight(w, r, key, logger)
				return
			}

			var buf bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&buf)
			next.ServeHTTP(ww, r)

			// the client may be gone; the claim still has to settle
			ctx := context.WithoutCancel(r.Context())

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			var data []byte
			if status < http.StatusInternalServerError && json.Valid(buf.Bytes()) {
				data, _ = json.Marshal(cachedResponse{Status: status, Body: buf.Bytes()})
			}
			if data == nil {
				if claimed {
					if err := store.ReleaseIdempotent(ctx, idemKey); err != nil {
						logger.Error("failed to release idempotency key",
							zap.String("key", key),
							zap.Error(err))
					}
				}
				return
			}
			if err := store.SetIdempotent(ctx, idemKey, data, ttl); err != nil {
				logger.Error("failed to save idempotent response",
					zap.String("key", key),
					zap.Error(err))
			}
		})
	}
}

func rejectInFlight(w http.ResponseWriter, r *http.Request, key string, logger *zap.Logger) {
	logger.Info("idempotency key in flight",
		zap.String("key", key),
		zap.String("path", r.URL.Path))
	sendError(w, http.StatusConflict, "Duplicate request", errRequestInFlight, nil)
}
