package llm

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/prompt-optimizer/internal/resilience"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = resilience.ErrCircuitOpen

// Middleware decorates a ChatClient.
type Middleware func(ChatClient) ChatClient

// Chain applies middlewares so the first one listed is the outermost.
func Chain(base ChatClient, mws ...Middleware) ChatClient {
	c := base
	for i := len(mws) - 1; i >= 0; i-- {
		c = mws[i](c)
	}
	return c
}

// WithRetry retries transient failures with backoff.
func WithRetry(cfg resilience.RetryConfig) Middleware {
	return func(next ChatClient) ChatClient {
		return ChatFunc(func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
			return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*ChatResponse, error) {
				return next.Chat(ctx, req)
			})
		})
	}
}

// WithRateLimit waits on limiter before every call.
func WithRateLimit(limiter *rate.Limiter) Middleware {
	return func(next ChatClient) ChatClient {
		return ChatFunc(func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "llm: rate limit wait")
			}
			return next.Chat(ctx, req)
		})
	}
}

// WithCircuitBreaker rejects calls with ErrCircuitOpen after repeated
// failures.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Middleware {
	return func(next ChatClient) ChatClient {
		return ChatFunc(func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
			return resilience.ExecuteVal(ctx, cb, func(ctx context.Context) (*ChatResponse, error) {
				return next.Chat(ctx, req)
			})
		})
	}
}

// WithUsage records the usage of every successful call on tracker.
func WithUsage(tracker *UsageTracker) Middleware {
	return func(next ChatClient) ChatClient {
		return ChatFunc(func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
			resp, err := next.Chat(ctx, req)
			if err != nil {
				return nil, err
			}
			model := resp.Model
			if model == "" {
				model = req.Model
			}
			tracker.Record(model, resp.Usage)
			return resp, nil
		})
	}
}
