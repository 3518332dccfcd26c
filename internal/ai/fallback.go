package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/suPer8Hu/ugc-platform/internal/logger"
)

const DefaultProviderTimeout = 180 * time.Second

// FallbackClient tries an ordered list of generators until one succeeds.
// Providers whose quota is exhausted are skipped; a rate limited provider is
// marked exhausted for the tracker's cooldown. A provider is tried at most
// once per call.
type FallbackClient struct {
	providers []Generator
	quota     QuotaTracker
	timeout   time.Duration
	log       *logger.Logger
}

type FallbackOption func(*FallbackClient)

func WithProviderTimeout(d time.Duration) FallbackOption {
	return func(c *FallbackClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(l *logger.Logger) FallbackOption {
	return func(c *FallbackClient) {
		if l != nil {
			c.log = l
		}
	}
}

func NewFallbackClient(quota QuotaTracker, providers []Generator, opts ...FallbackOption) *FallbackClient {
	if quota == nil {
		quota = NewMemoryQuotaStore(DefaultQuotaCooldown)
	}
	c := &FallbackClient{
		providers: providers,
		quota:     quota,
		timeout:   DefaultProviderTimeout,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *FallbackClient) Providers() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

func (c *FallbackClient) QuotaStatus(ctx context.Context) ([]QuotaStatus, error) {
	return c.quota.Status(ctx, c.Providers())
}

func (c *FallbackClient) Generate(ctx context.Context, req Request) (*Artifact, error) {
	var failures []ProviderFailure

	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := p.Name()

		exhausted, err := c.quota.Exhausted(ctx, name)
		if err != nil {
			// quota backend down: try the provider anyway
			c.log.Warn("quota lookup failed", "provider", name, "error", err)
		}
		if exhausted {
			c.log.Debug("provider skipped, quota exhausted", "provider", name)
			failures = append(failures, ProviderFailure{Provider: name, Skipped: true})
			continue
		}

		start := time.Now()
		art, err := c.call(ctx, p, req)
		if err == nil {
			if art.Provider == "" {
				art.Provider = name
			}
			c.log.Info("provider succeeded", "provider", name, "cost", time.Since(start))
			return art, nil
		}

		if IsRateLimited(err) {
			reset, qerr := c.quota.MarkExhausted(ctx, name, RetryAfterOf(err))
			if qerr != nil {
				c.log.Warn("quota mark failed", "provider", name, "error", qerr)
			}
			c.log.Warn("provider rate limited", "provider", name, "reset_at", reset)
		} else {
			c.log.Warn("provider failed", "provider", name, "cost", time.Since(start), "error", err)
		}
		failures = append(failures, ProviderFailure{Provider: name, Err: err})

		// caller gave up; don't burn the remaining providers
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil, err
		}
	}

	return nil, &AllProvidersFailedError{Failures: failures}
}

func (c *FallbackClient) call(ctx context.Context, p Generator, req Request) (*Artifact, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	art, err := p.Generate(cctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("timed out after %s: %w", c.timeout, err)
		}
		return nil, err
	}
	if art == nil || len(art.Data) == 0 {
		return nil, errors.New("empty artifact")
	}
	return art, nil
}
