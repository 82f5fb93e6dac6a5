package provider

import (
	"strings"

	"ersha-payment-service/internal/domain"
)

// Registry resolves provider names to adapters. The set is fixed at startup.
type Registry struct {
	adapters map[domain.Provider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Get returns the adapter for name or an UnsupportedProviderError.
func (r *Registry) Get(name string) (Adapter, error) {
	p, known := domain.ParseProvider(name)
	if !known {
		return nil, &domain.UnsupportedProviderError{Name: strings.TrimSpace(name)}
	}
	a, ok := r.adapters[p]
	if !ok {
		return nil, &domain.UnsupportedProviderError{Name: string(p)}
	}
	return a, nil
}

// Payouts returns the payout capability of the named provider.
func (r *Registry) Payouts(name string) (PayoutAdapter, error) {
	a, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	pa, ok := a.(PayoutAdapter)
	if !ok {
		return nil, &domain.UnsupportedProviderError{Name: string(a.Name()) + " payouts"}
	}
	return pa, nil
}

// Webhooks returns the callback verifier of the named provider.
func (r *Registry) Webhooks(name string) (WebhookVerifier, error) {
	a, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	wv, ok := a.(WebhookVerifier)
	if !ok {
		return nil, &domain.UnsupportedProviderError{Name: string(a.Name()) + " webhooks"}
	}
	return wv, nil
}

func (r *Registry) Names() []domain.Provider {
	names := make([]domain.Provider, 0, len(r.adapters))
	for _, p := range domain.Providers {
		if _, ok := r.adapters[p]; ok {
			names = append(names, p)
		}
	}
	return names
}
