package router

import (
	"net/http"
	"strconv"
	"time"

	"ersha-payment-service/internal/handler"
	"ersha-payment-service/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

func SetupRoutes(
	paymentHandler *handler.PaymentHandler,
	payoutHandler *handler.PayoutHandler,
	methodHandler *handler.PaymentMethodHandler,
	callbackHandler *handler.CallbackHandler,
	idempotency func(http.Handler) http.Handler,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-API-Key", "X-Signature", "X-Timestamp"},
		ExposedHeaders:   []string{"Link", handler.ReplayedHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if idempotency == nil {
		idempotency = func(next http.Handler) http.Handler { return next }
	}

	// Health check
	r.Get("/api/v1/payments/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// ============================================
		// PAYMENTS
		// ============================================
		r.Route("/payments", func(r chi.Router) {
			r.With(idempotency).Post("/", paymentHandler.HandleInitiatePayment)
			r.Post("/verify", paymentHandler.HandleVerifyPayment)
		})

		// ============================================
		// TRANSACTIONS
		// ============================================
		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", paymentHandler.HandleListTransactions)
			r.Get("/{transaction_id}", paymentHandler.HandleGetTransaction)
			r.Post("/{transaction_id}/dispute", paymentHandler.HandleDispute)
			r.Post("/{transaction_id}/resolve", paymentHandler.HandleResolve)
			r.Post("/{transaction_id}/cancel", paymentHandler.HandleCancel)
		})

		r.Get("/escrow/{user_id}", paymentHandler.HandleGetEscrow)

		// ============================================
		// PAYOUTS
		// ============================================
		r.Route("/payouts", func(r chi.Router) {
			r.With(idempotency).Post("/", payoutHandler.HandleCreatePayout)
			r.Get("/", payoutHandler.HandleListPayouts)
			r.Get("/{payout_id}", payoutHandler.HandleGetPayout)
			r.Post("/{payout_id}/process", payoutHandler.HandleProcessPayout)
			r.Post("/{payout_id}/reject", payoutHandler.HandleRejectPayout)
		})

		// ============================================
		// PAYMENT METHODS
		// ============================================
		r.Route("/payment-methods", func(r chi.Router) {
			r.Post("/", methodHandler.HandleRegister)
			r.Get("/", methodHandler.HandleList)
			r.Post("/{id}/verify", methodHandler.HandleVerify)
			r.Post("/{id}/default", methodHandler.HandleSetDefault)
			r.Delete("/{id}", methodHandler.HandleDeactivate)
		})

		// ============================================
		// CALLBACKS (Receive from Payment Providers)
		// ============================================
		r.Route("/callbacks", func(r chi.Router) {
			// M-Pesa callbacks
			r.Route("/mpesa", func(r chi.Router) {
				// STK Push callbacks (deposits)
				r.Post("/stk/{payment_ref}", callbackHandler.HandleMpesaCallback)

				// B2C callbacks (mobile money payouts)
				r.Post("/b2c/{payment_ref}", callbackHandler.HandleMpesaCallback)
				r.Post("/b2c/timeout/{payment_ref}", callbackHandler.HandleMpesaCallback)

				// B2B callbacks (bank payouts)
				r.Post("/b2b/{payment_ref}", callbackHandler.HandleMpesaCallback)
				r.Post("/b2b/timeout/{payment_ref}", callbackHandler.HandleMpesaCallback)
			})

			r.Post("/{provider}", callbackHandler.HandleProviderCallback)
		})
	})

	return r
}

// LoggerMiddleware logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, strconv.Itoa(status)).Observe(elapsed.Seconds())

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("duration", elapsed),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("user_agent", r.UserAgent()))
		})
	}
}
