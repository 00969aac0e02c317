package metrics

import (
	"errors"
	"testing"
	"time"
)

func TestNoopSink_AllMethods(t *testing.T) {
	// Verify that calling all methods on NoopSink does not panic.
	s := NewNoopSink()

	s.ReconcileCompleted(20*time.Millisecond, nil)
	s.ReconcileCompleted(20*time.Millisecond, errors.New("db down"))
	s.ConfigErrorsUpdate(2)

	s.RegistrySizeUpdate(12)
	s.FiringOutcome(FiringDispatched)
	s.FiringOutcome(FiringSkipped)
	s.FiringOutcome(FiringDropped)

	s.DeliveryCompleted("sent", ReasonNone, StatusClass2xx, 200*time.Millisecond)
	s.DeliveryCompleted("error", "unreachable", StatusClassTimeout, 10*time.Second)
	s.EventsInFlightIncr()
	s.EventsInFlightDecr()

	s.BufferSizeUpdate(10)
	s.BufferCapacitySet(100)
	s.BufferSaturationUpdate(0.1)
	s.EmitError()

	s.LeaderStatusChanged(true)
	s.LeaderAcquired()
	s.LeaderLost("shutdown")
}

// Verify NoopSink implements Sink interface.
var _ Sink = (*NoopSink)(nil)
