package shopassist

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedLLMProvider throttles calls to the wrapped provider with a token bucket.
// Waiting respects context cancellation.
type RateLimitedLLMProvider struct {
	provider LLMProvider
	limiter  *rate.Limiter
}

// NewRateLimitedLLMProvider allows rps requests per second with the given burst.
func NewRateLimitedLLMProvider(provider LLMProvider, rps float64, burst int) *RateLimitedLLMProvider {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedLLMProvider{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (r *RateLimitedLLMProvider) GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return LLMResponse{}, fmt.Errorf("rate limiter: %w", err)
	}
	return r.provider.GetResponse(ctx, messages, config)
}
