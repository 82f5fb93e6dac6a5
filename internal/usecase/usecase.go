// Package usecase holds the payment core: initiation, reconciliation,
// transaction lifecycle, payouts and payment methods.
package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"ersha-payment-service/internal/domain"
	"ersha-payment-service/internal/events"

	"go.uber.org/zap"
)

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// publish sends events once the unit of work has committed. Failures are
// logged only; the state change already happened.
func publish(ctx context.Context, publisher events.Publisher, logger *zap.Logger, evts ...events.Event) {
	if publisher == nil || len(evts) == 0 {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := publisher.Publish(pubCtx, evts...); err != nil {
		logger.Error("failed to publish events",
			zap.Int("count", len(evts)),
			zap.String("first_type", string(evts[0].Type)),
			zap.Error(err))
	}
}
