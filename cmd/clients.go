package main

import (
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/prompt-optimizer/internal/config"
	"github.com/sells-group/prompt-optimizer/internal/llm"
	"github.com/sells-group/prompt-optimizer/internal/resilience"
	"github.com/sells-group/prompt-optimizer/pkg/anthropic"
	"github.com/sells-group/prompt-optimizer/pkg/openrouter"
)

// newChatClient builds the provider client for modelID and wraps it with
// usage tracking, a circuit breaker, retries and rate limiting, outermost
// first.
func newChatClient(c *config.Config, provider, modelID string, tracker *llm.UsageTracker) (llm.ChatClient, error) {
	var base llm.ChatClient
	switch provider {
	case config.ProviderOpenRouter:
		base = llm.NewOpenRouter(openrouter.NewClient(c.OpenRouter.Key,
			openrouter.WithBaseURL(c.OpenRouter.BaseURL),
			openrouter.WithModel(modelID),
			openrouter.WithAttribution(c.OpenRouter.Referer, c.OpenRouter.Title),
			openrouter.WithReasoningEffort(c.OpenRouter.ReasoningEffort),
		))
	case config.ProviderAnthropic:
		opts := []anthropic.Option{anthropic.WithMaxRetries(0)}
		if c.Anthropic.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(c.Anthropic.BaseURL))
		}
		base = llm.NewAnthropic(anthropic.NewClient(c.Anthropic.Key, opts...),
			llm.WithCacheTTL(c.Anthropic.CacheTTL))
	default:
		return nil, eris.Errorf("unsupported provider: %s", provider)
	}

	retryCfg := resilience.FromRetryConfig(c.Retry.MaxAttempts, c.Retry.InitialBackoffMs, c.Retry.MaxBackoffMs)
	retryCfg.OnRetry = resilience.RetryLogger(provider, modelID)

	cb := resilience.NewCircuitBreaker(resilience.FromCircuitConfig(c.Circuit.FailureThreshold, c.Circuit.ResetTimeoutSecs))

	return llm.Chain(base,
		llm.WithUsage(tracker),
		llm.WithCircuitBreaker(cb),
		llm.WithRetry(retryCfg),
		llm.WithRateLimit(newLimiter(c.RateLimit)),
	), nil
}

func newLimiter(c config.RateLimitConfig) *rate.Limiter {
	if c.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := c.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(c.RequestsPerSecond), burst)
}
