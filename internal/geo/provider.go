package geo

import (
	"context"

	"ipreputation/internal/models"
)

// Provider resolves geolocation and connection facts for an IP.
// Implementations fail with models.ErrLookupFailed when the backing
// source is unreachable or returns a malformed payload. Retries, if
// any, are the provider's own business; callers never retry.
type Provider interface {
	Lookup(ctx context.Context, ip string) (*models.GeoResult, error)
}

// Chain tries each provider in order and returns the first success.
// The last failure is surfaced when every provider fails.
type Chain struct {
	providers []Provider
}

func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

func (c *Chain) Lookup(ctx context.Context, ip string) (*models.GeoResult, error) {
	var lastErr error
	for _, p := range c.providers {
		res, err := p.Lookup(ctx, ip)
		if err == nil {
			return res, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
