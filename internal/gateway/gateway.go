// Package gateway delivers notifications to channel destinations.
//
// Every implementation reports its outcome as a domain.SendResult rather
// than an error: a failed send is data to be logged, not a reason to abort
// the other channels of a firing.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/wuchris-ch/notification-app/internal/domain"
)

// Sender delivers one notification to one destination.
type Sender interface {
	Send(ctx context.Context, dest domain.Destination, n domain.Notification) domain.SendResult
}

// DefaultTimeout bounds a single send when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// previewLimit caps the response body kept in a failure detail.
const previewLimit = 256

func malformed(dest domain.Destination, start time.Time, format string, args ...any) domain.SendResult {
	return domain.SendResult{
		Reason:   domain.FailureMalformedDestination,
		Err:      fmt.Errorf("%q: "+format, append([]any{dest.String()}, args...)...),
		Duration: time.Since(start),
	}
}

func unreachable(err error, start time.Time) domain.SendResult {
	return domain.SendResult{
		Reason:   domain.FailureUnreachable,
		Err:      err,
		Duration: time.Since(start),
	}
}
