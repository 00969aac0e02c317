package gateway

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wuchris-ch/notification-app/internal/domain"
)

// Breaker is the per-key circuit breaker used by Protected.
type Breaker interface {
	Allow(key string) error
	RecordSuccess(key string)
	RecordFailure(key string)
}

// Protected wraps a Sender with a circuit breaker keyed by destination.
// An open circuit fails fast as unreachable; the attempt is still reported
// so the caller logs it like any other failure.
type Protected struct {
	next    Sender
	breaker Breaker
	logger  *zap.Logger
}

func NewProtected(next Sender, breaker Breaker, logger *zap.Logger) *Protected {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Protected{next: next, breaker: breaker, logger: logger.Named("gateway")}
}

func (p *Protected) Send(ctx context.Context, dest domain.Destination, n domain.Notification) domain.SendResult {
	if !dest.IsValid() {
		return p.next.Send(ctx, dest, n)
	}

	key := dest.String()
	if err := p.breaker.Allow(key); err != nil {
		p.logger.Warn("circuit breaker rejected send",
			zap.String("destination", key),
			zap.Error(err))
		return unreachable(err, time.Now())
	}

	res := p.next.Send(ctx, dest, n)
	switch {
	case res.IsSuccess():
		p.breaker.RecordSuccess(key)
	case res.Reason == domain.FailureMalformedDestination:
	case countsAsFailure(res):
		p.breaker.RecordFailure(key)
	default:
		// Reachable but rejected (4xx): the endpoint is up.
		p.breaker.RecordSuccess(key)
	}
	return res
}

func countsAsFailure(res domain.SendResult) bool {
	switch res.Reason {
	case domain.FailureUnreachable:
		return true
	case domain.FailureNon2xx:
		return res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}
