package usecase

import (
	"context"
	"strings"
	"time"

	"ersha-payment-service/internal/domain"
	"ersha-payment-service/internal/metrics"
	"ersha-payment-service/internal/provider"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type payoutRoute string

const (
	routeMobile payoutRoute = "mobile"
	routeBank   payoutRoute = "bank"
)

// PaymentProcessor resolves provider names and runs every adapter call as a
// bounded future. It never retries.
type PaymentProcessor struct {
	registry        *provider.Registry
	defaultProvider domain.Provider
	timeout         time.Duration
	logger          *zap.Logger
}

func NewPaymentProcessor(registry *provider.Registry, defaultProvider domain.Provider, timeout time.Duration, logger *zap.Logger) *PaymentProcessor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PaymentProcessor{
		registry:        registry,
		defaultProvider: defaultProvider,
		timeout:         timeout,
		logger:          logger,
	}
}

// Resolve returns the adapter for name, falling back to the default provider.
func (p *PaymentProcessor) Resolve(name string) (provider.Adapter, error) {
	if strings.TrimSpace(name) == "" {
		name = string(p.defaultProvider)
	}
	return p.registry.Get(name)
}

func (p *PaymentProcessor) Initiate(ctx context.Context, providerName string, req *provider.InitiateRequest) *provider.InitiateResult {
	adapter, err := p.Resolve(providerName)
	if err != nil {
		return &provider.InitiateResult{
			Outcome:  provider.Failure(provider.KindUnsupported, err.Error()),
			Provider: domain.Provider(strings.ToLower(providerName)),
		}
	}

	name := adapter.Name()
	fail := func(kind provider.ErrorKind, msg string) *provider.InitiateResult {
		return &provider.InitiateResult{Outcome: provider.Failure(kind, msg)}
	}

	start := time.Now()
	res := provider.Await(ctx, p.timeout, func(callCtx context.Context) *provider.InitiateResult {
		return adapter.InitiatePayment(callCtx, req)
	}, fail)
	metrics.ProviderCallDuration.WithLabelValues(string(name), "initiate").Observe(time.Since(start).Seconds())

	if res == nil {
		res = fail(provider.KindProvider, "provider returned no result")
	}
	res.Provider = name

	if !res.Success {
		p.logger.Warn("provider initiate failed",
			zap.String("provider", string(name)),
			zap.String("reference", req.Reference),
			zap.String("kind", string(res.Kind)),
			zap.String("error", res.Error))
	}
	return res
}

func (p *PaymentProcessor) Verify(ctx context.Context, providerName, providerRef string) *provider.VerifyResult {
	adapter, err := p.Resolve(providerName)
	if err != nil {
		return &provider.VerifyResult{
			Outcome:           provider.Failure(provider.KindUnsupported, err.Error()),
			Provider:          domain.Provider(strings.ToLower(providerName)),
			ProviderReference: providerRef,
		}
	}

	name := adapter.Name()
	fail := func(kind provider.ErrorKind, msg string) *provider.VerifyResult {
		return &provider.VerifyResult{Outcome: provider.Failure(kind, msg)}
	}

	start := time.Now()
	res := provider.Await(ctx, p.timeout, func(callCtx context.Context) *provider.VerifyResult {
		return adapter.VerifyPayment(callCtx, providerRef)
	}, fail)
	metrics.ProviderCallDuration.WithLabelValues(string(name), "verify").Observe(time.Since(start).Seconds())

	if res == nil {
		res = fail(provider.KindProvider, "provider returned no result")
	}
	res.Provider = name
	if res.ProviderReference == "" {
		res.ProviderReference = providerRef
	}
	return res
}

func (p *PaymentProcessor) Refund(ctx context.Context, providerName, providerRef string, amount decimal.Decimal, reason string) *provider.RefundResult {
	adapter, err := p.Resolve(providerName)
	if err != nil {
		return &provider.RefundResult{
			Outcome:  provider.Failure(provider.KindUnsupported, err.Error()),
			Provider: domain.Provider(strings.ToLower(providerName)),
		}
	}

	name := adapter.Name()
	fail := func(kind provider.ErrorKind, msg string) *provider.RefundResult {
		return &provider.RefundResult{Outcome: provider.Failure(kind, msg)}
	}

	start := time.Now()
	res := provider.Await(ctx, p.timeout, func(callCtx context.Context) *provider.RefundResult {
		return adapter.RefundPayment(callCtx, providerRef, amount, reason)
	}, fail)
	metrics.ProviderCallDuration.WithLabelValues(string(name), "refund").Observe(time.Since(start).Seconds())

	if res == nil {
		res = fail(provider.KindProvider, "provider returned no result")
	}
	res.Provider = name
	return res
}

// CanPayout reports whether the named provider can push money out.
func (p *PaymentProcessor) CanPayout(providerName string) error {
	_, err := p.registry.Payouts(providerName)
	return err
}

func (p *PaymentProcessor) Payout(ctx context.Context, providerName string, route payoutRoute, instr *provider.PayoutInstruction) *provider.PayoutResult {
	payouts, err := p.registry.Payouts(providerName)
	if err != nil {
		return &provider.PayoutResult{
			Outcome:  provider.Failure(provider.KindUnsupported, err.Error()),
			Provider: domain.Provider(strings.ToLower(providerName)),
		}
	}

	fail := func(kind provider.ErrorKind, msg string) *provider.PayoutResult {
		return &provider.PayoutResult{Outcome: provider.Failure(kind, msg)}
	}

	start := time.Now()
	res := provider.Await(ctx, p.timeout, func(callCtx context.Context) *provider.PayoutResult {
		if route == routeBank {
			return payouts.BankPayout(callCtx, instr)
		}
		return payouts.MobilePayout(callCtx, instr)
	}, fail)
	metrics.ProviderCallDuration.WithLabelValues(strings.ToLower(providerName), "payout_"+string(route)).Observe(time.Since(start).Seconds())

	if res == nil {
		res = fail(provider.KindProvider, "provider returned no result")
	}
	res.Provider = domain.Provider(strings.ToLower(providerName))
	return res
}

func providerError(name domain.Provider, o provider.Outcome) error {
	return &domain.ProviderError{Provider: name, Kind: string(o.Kind), Msg: o.Error}
}
