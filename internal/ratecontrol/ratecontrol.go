// Package ratecontrol paces outbound LLM requests per provider.
package ratecontrol

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

type RateLimit struct {
	RPM int
	TPM int
}

var builtInProviderLimits = map[string]RateLimit{
	"openai":    {RPM: 30, TPM: 60000},
	"anthropic": {RPM: 20, TPM: 40000},
	"bedrock":   {RPM: 20, TPM: 40000},
	"google":    {RPM: 40, TPM: 80000},
	"mistral":   {RPM: 50, TPM: 100000},
	"unknown":   {RPM: 45, TPM: 90000},
}

// LimitForProvider returns the built-in limit for provider. Unrecognized
// providers get the "unknown" tier.
func LimitForProvider(provider string) RateLimit {
	if limit, ok := builtInProviderLimits[strings.ToLower(strings.TrimSpace(provider))]; ok {
		return limit
	}
	return builtInProviderLimits["unknown"]
}

// CombineLimits takes the stricter positive value of each dimension.
func CombineLimits(a, b RateLimit) RateLimit {
	return RateLimit{
		RPM: minPositive(a.RPM, b.RPM),
		TPM: minPositive(a.TPM, b.TPM),
	}
}

// Limiter paces requests and estimated tokens. A zero Limiter never waits.
type Limiter struct {
	limit    RateLimit
	requests *rate.Limiter
	tokens   *rate.Limiter
}

// New returns a limiter enforcing limit. Non-positive dimensions are unlimited.
func New(limit RateLimit) *Limiter {
	l := &Limiter{limit: limit}
	if limit.RPM > 0 {
		l.requests = rate.NewLimiter(rate.Every(time.Minute/time.Duration(limit.RPM)), 1)
	}
	if limit.TPM > 0 {
		l.tokens = rate.NewLimiter(rate.Limit(float64(limit.TPM)/60.0), limit.TPM)
	}
	return l
}

// ForProvider builds a limiter from the provider's built-in limit. A positive
// rpmOverride replaces the request rate; a negative one disables pacing.
func ForProvider(provider string, rpmOverride int) *Limiter {
	if rpmOverride < 0 {
		return New(RateLimit{})
	}
	limit := LimitForProvider(provider)
	if rpmOverride > 0 {
		limit.RPM = rpmOverride
	}
	return New(limit)
}

// Limit returns the effective limit.
func (l *Limiter) Limit() RateLimit { return l.limit }

// Wait blocks until one request carrying estimatedTokens may proceed.
func (l *Limiter) Wait(ctx context.Context, estimatedTokens int) error {
	if l == nil {
		return nil
	}
	if l.requests != nil {
		if err := l.requests.Wait(ctx); err != nil {
			return err
		}
	}
	if l.tokens != nil && estimatedTokens > 0 {
		n := estimatedTokens
		if burst := l.tokens.Burst(); n > burst {
			n = burst
		}
		if err := l.tokens.WaitN(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// EstimateTokens approximates the token count of text at four bytes per token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(text)/4 + 1
}

func minPositive(a, b int) int {
	switch {
	case a <= 0 && b <= 0:
		return 0
	case a <= 0:
		return b
	case b <= 0:
		return a
	case a < b:
		return a
	default:
		return b
	}
}
