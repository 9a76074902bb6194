package embedders

import (
	"context"
	"time"

	"github.com/ragworks/ragline/pkg/util"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	defaultRequestsPerMinute = 300

	breakerMaxRequests = 5
	breakerInterval    = 10 * time.Second
	breakerTimeout     = 60 * time.Second
	breakerMinRequests = 3
	breakerFailureRate = 0.6
)

// providerGuard wraps an embedding provider call with a circuit breaker and
// a request rate limiter so the job respects the provider's backpressure.
type providerGuard struct {
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func newProviderGuard(name string, requestsPerMinute int) *providerGuard {
	logger := util.NewLogger(zerolog.ErrorLevel)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: breakerMaxRequests,
		Interval:    breakerInterval,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= breakerMinRequests && failureRatio >= breakerFailureRate
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})

	// Leave headroom below the provider's documented limit.
	limiter := rate.NewLimiter(rate.Limit(float64(requestsPerMinute)*0.9/60.0), requestsPerMinute/10)

	return &providerGuard{
		breaker: breaker,
		limiter: limiter,
		logger:  logger,
	}
}

// call waits for rate-limit headroom and runs fn through the breaker.
func (g *providerGuard) call(ctx context.Context, fn func() (any, error)) (any, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return g.breaker.Execute(fn)
}
