package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/imq-dev/imq/internal/port/forgeclient"
)

// BreakerClient wraps a forgeclient.Client with a circuit breaker so a
// misbehaving Forge doesn't get hammered by every queue driver at once.
// Only network- and server-side failures trip the breaker; well-formed
// 4xx responses (not-found, validation) are the Forge working correctly
// and must not count against it.
type BreakerClient struct {
	inner   forgeclient.Client
	breaker *Breaker
}

// NewBreakerClient wraps inner behind a breaker that opens after maxFailures
// consecutive transient failures and stays open for timeout.
func NewBreakerClient(inner forgeclient.Client, maxFailures int, timeout time.Duration) *BreakerClient {
	return &BreakerClient{inner: inner, breaker: NewBreaker(maxFailures, timeout)}
}

var _ forgeclient.Client = (*BreakerClient)(nil)

func (c *BreakerClient) Do(ctx context.Context, ep forgeclient.Endpoint) (*forgeclient.Response, error) {
	var resp *forgeclient.Response
	var callErr error
	breakerErr := c.breaker.Execute(func() error {
		resp, callErr = c.inner.Do(ctx, ep)
		if callErr != nil && tripsBreaker(callErr) {
			return callErr
		}
		return nil
	})
	if errors.Is(breakerErr, ErrCircuitOpen) {
		return nil, &forgeclient.Error{Kind: forgeclient.KindAllAttemptsFailed, Err: breakerErr}
	}
	return resp, callErr
}

// tripsBreaker reports whether err reflects the Forge itself being
// unreachable or failing, as opposed to a well-formed rejection.
func tripsBreaker(err error) bool {
	var fe *forgeclient.Error
	if !errors.As(err, &fe) {
		return true
	}
	switch fe.Kind {
	case forgeclient.KindNetwork, forgeclient.KindAllAttemptsFailed:
		return true
	case forgeclient.KindHTTP:
		return fe.Code >= 500
	default:
		return false
	}
}
