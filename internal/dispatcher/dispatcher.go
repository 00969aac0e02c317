// Package dispatcher delivers one firing of a reminder to every enabled
// channel and records one delivery log row per channel.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wuchris-ch/notification-app/internal/domain"
	"github.com/wuchris-ch/notification-app/internal/metrics"
)

var (
	// ErrReminderNotFound is returned by Store.GetReminderWithChannels for an unknown id.
	ErrReminderNotFound = errors.New("reminder not found")

	// ErrDuplicateDelivery is returned by Store.AppendDeliveryLog when the
	// (firing, channel) pair was already recorded.
	ErrDuplicateDelivery = errors.New("delivery already recorded for firing and channel")
)

const (
	DefaultStoreTimeout = 5 * time.Second
	DefaultSendTimeout  = 10 * time.Second
	DefaultConcurrency  = 8

	// DefaultDrainTimeout is the maximum time to wait for buffered firings during shutdown.
	DefaultDrainTimeout = 30 * time.Second

	maxDetailLen = 1024
)

// Skip reasons logged with "skipped: no destinations".
const (
	SkipMissing           = "missing"
	SkipDisabled          = "disabled"
	SkipNoChannels        = "no_channels"
	SkipNoEnabledChannels = "no_enabled_channels"
)

type Store interface {
	// GetReminderWithChannels returns the reminder regardless of its enabled
	// flag, or ErrReminderNotFound.
	GetReminderWithChannels(ctx context.Context, id int64) (domain.ReminderWithChannels, error)
	// AppendDeliveryLog must tolerate concurrent callers.
	AppendDeliveryLog(ctx context.Context, log domain.DeliveryLog) error
}

type Gateway interface {
	Send(ctx context.Context, dest domain.Destination, n domain.Notification) domain.SendResult
}

// ActiveChecker reports whether a reminder still has a registered trigger.
type ActiveChecker interface {
	Active(reminderID int64) bool
}

// AnalyticsSink records best-effort counters. Implementations handle their
// own errors; analytics never affects delivery.
type AnalyticsSink interface {
	RecordFiring(ctx context.Context, firing domain.Firing)
	RecordDelivery(ctx context.Context, firing domain.Firing, status domain.DeliveryStatus)
}

// MetricsSink defines the interface for recording dispatcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	DeliveryCompleted(status, reason, statusClass string, duration time.Duration)
	FiringOutcome(outcome string)
	EventsInFlightIncr()
	EventsInFlightDecr()
}

// Summary describes what one Dispatch call did.
type Summary struct {
	ReminderID int64
	SkipReason string // non-empty if nothing was sent
	Dropped    bool   // reminder no longer registered
	Enabled    int    // enabled channels attempted
	Sent       int
	Failed     int
}

type Dispatcher struct {
	store     Store
	gateway   Gateway
	active    ActiveChecker // optional, nil = every firing is current
	analytics AnalyticsSink // optional, nil = disabled
	metrics   MetricsSink   // optional, nil = disabled
	logger    *zap.Logger

	storeTimeout time.Duration
	sendTimeout  time.Duration
	concurrency  int
	drainTimeout time.Duration

	// draining disables the active check; see BeginDrain.
	draining atomic.Bool
}

func New(store Store, gateway Gateway) *Dispatcher {
	return &Dispatcher{
		store:        store,
		gateway:      gateway,
		logger:       zap.NewNop(),
		storeTimeout: DefaultStoreTimeout,
		sendTimeout:  DefaultSendTimeout,
		concurrency:  DefaultConcurrency,
		drainTimeout: DefaultDrainTimeout,
	}
}

// WithActiveChecker drops firings whose reminder is no longer registered.
func (d *Dispatcher) WithActiveChecker(c ActiveChecker) *Dispatcher {
	d.active = c
	return d
}

func (d *Dispatcher) WithAnalytics(sink AnalyticsSink) *Dispatcher {
	d.analytics = sink
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

func (d *Dispatcher) WithLogger(logger *zap.Logger) *Dispatcher {
	d.logger = logger.Named("dispatcher")
	return d
}

func (d *Dispatcher) WithStoreTimeout(t time.Duration) *Dispatcher {
	if t > 0 {
		d.storeTimeout = t
	}
	return d
}

func (d *Dispatcher) WithSendTimeout(t time.Duration) *Dispatcher {
	if t > 0 {
		d.sendTimeout = t
	}
	return d
}

// WithConcurrency bounds concurrent channel sends within one firing.
func (d *Dispatcher) WithConcurrency(n int) *Dispatcher {
	if n > 0 {
		d.concurrency = n
	}
	return d
}

func (d *Dispatcher) WithDrainTimeout(t time.Duration) *Dispatcher {
	if t > 0 {
		d.drainTimeout = t
	}
	return d
}

// Run processes firings from the channel until context is cancelled.
// After cancellation, it drains remaining buffered firings with a timeout.
func (d *Dispatcher) Run(ctx context.Context, ch <-chan domain.Firing) {
	for {
		select {
		case <-ctx.Done():
			d.drain(ch)
			return
		case firing, ok := <-ch:
			if !ok {
				return
			}
			if _, err := d.Dispatch(ctx, firing); err != nil {
				d.logger.Error("dispatch failed",
					zap.Int64("reminder_id", firing.ReminderID),
					zap.String("firing_id", firing.ID.String()),
					zap.Error(err))
			}
		}
	}
}

// BeginDrain marks the start of shutdown. Stopping the registry retires every
// trigger, so from here on firings are delivered without the active check.
// Run calls it itself once ctx is cancelled.
func (d *Dispatcher) BeginDrain() {
	d.draining.Store(true)
}

// drain processes remaining firings in the channel buffer after shutdown signal.
// Uses a background context since the main context is already cancelled.
func (d *Dispatcher) drain(ch <-chan domain.Firing) {
	d.BeginDrain()
	drainCtx, cancel := context.WithTimeout(context.Background(), d.drainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			if count > 0 {
				d.logger.Warn("drain timeout", zap.Int("processed", count))
			}
			return
		case firing, ok := <-ch:
			if !ok {
				d.logger.Info("drain complete", zap.Int("processed", count))
				return
			}
			if _, err := d.Dispatch(drainCtx, firing); err != nil {
				d.logger.Error("drain dispatch failed",
					zap.Int64("reminder_id", firing.ReminderID),
					zap.Error(err))
			}
			count++
		default:
			if count > 0 {
				d.logger.Info("drain complete", zap.Int("processed", count))
			}
			return
		}
	}
}

// Dispatch re-reads the reminder and sends to each enabled channel
// independently. A failed channel never prevents the others; nothing is
// retried within a firing. The returned error is set only when the reminder
// could not be read.
func (d *Dispatcher) Dispatch(ctx context.Context, firing domain.Firing) (Summary, error) {
	if d.metrics != nil {
		d.metrics.EventsInFlightIncr()
		defer d.metrics.EventsInFlightDecr()
	}

	summary := Summary{ReminderID: firing.ReminderID}
	logger := d.logger.With(
		zap.Int64("reminder_id", firing.ReminderID),
		zap.String("firing_id", firing.ID.String()))

	if d.active != nil && !d.draining.Load() && !d.active.Active(firing.ReminderID) {
		logger.Warn("dropping firing for retired job", zap.Time("scheduled_at", firing.ScheduledAt))
		d.firingOutcome(metrics.FiringDropped)
		summary.Dropped = true
		return summary, nil
	}

	rwc, err := d.loadReminder(ctx, firing.ReminderID)
	if errors.Is(err, ErrReminderNotFound) {
		return d.skip(logger, summary, SkipMissing), nil
	}
	if err != nil {
		d.firingOutcome(metrics.FiringDropped)
		return summary, fmt.Errorf("get reminder %d: %w", firing.ReminderID, err)
	}

	switch {
	case !rwc.Reminder.Enabled:
		return d.skip(logger, summary, SkipDisabled), nil
	case len(rwc.Channels) == 0:
		return d.skip(logger, summary, SkipNoChannels), nil
	}
	channels := rwc.EnabledChannels()
	if len(channels) == 0 {
		return d.skip(logger, summary, SkipNoEnabledChannels), nil
	}

	if d.analytics != nil {
		d.analytics.RecordFiring(ctx, firing)
	}

	n := domain.Notification{Title: rwc.Reminder.Title, Body: rwc.Reminder.Body}
	results := make([]domain.SendResult, len(channels))

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, ch := range channels {
		i, ch := i, ch
		g.Go(func() error {
			results[i] = d.deliver(ctx, logger, firing, ch, n)
			return nil
		})
	}
	_ = g.Wait()

	summary.Enabled = len(channels)
	for _, res := range results {
		if res.IsSuccess() {
			summary.Sent++
		} else {
			summary.Failed++
		}
	}

	logger.Info(fmt.Sprintf("sent %d/%d enabled channels", summary.Sent, summary.Enabled),
		zap.String("title", rwc.Reminder.Title),
		zap.Int("failed", summary.Failed),
		zap.Time("scheduled_at", firing.ScheduledAt))
	d.firingOutcome(metrics.FiringDispatched)
	return summary, nil
}

func (d *Dispatcher) loadReminder(ctx context.Context, id int64) (domain.ReminderWithChannels, error) {
	ctx, cancel := context.WithTimeout(ctx, d.storeTimeout)
	defer cancel()
	return d.store.GetReminderWithChannels(ctx, id)
}

func (d *Dispatcher) skip(logger *zap.Logger, summary Summary, reason string) Summary {
	logger.Info("skipped: no destinations", zap.String("reason", reason))
	d.firingOutcome(metrics.FiringSkipped)
	summary.SkipReason = reason
	return summary
}

// deliver sends to one channel and appends its delivery log row. A panic in
// the gateway is reported as an unreachable failure for this channel only.
func (d *Dispatcher) deliver(ctx context.Context, logger *zap.Logger, firing domain.Firing, ch domain.Channel, n domain.Notification) domain.SendResult {
	res := d.send(ctx, logger, ch, n)

	logger = logger.With(
		zap.Int64("channel_id", ch.ID),
		zap.String("channel", ch.Name))
	if res.IsSuccess() {
		logger.Info("delivered", zap.Duration("duration", res.Duration))
	} else {
		logger.Warn("delivery failed",
			zap.String("reason", string(res.Reason)),
			zap.Int("status_code", res.StatusCode),
			zap.String("destination", ch.Destination.String()),
			zap.Error(res.Err))
	}

	if d.metrics != nil {
		reason := metrics.ReasonNone
		if !res.IsSuccess() {
			reason = string(res.Reason)
		}
		d.metrics.DeliveryCompleted(string(res.Status()), reason, metrics.ClassifyStatus(res.StatusCode, res.Err), res.Duration)
	}

	entry := domain.DeliveryLog{
		ReminderID: firing.ReminderID,
		ChannelID:  ch.ID,
		FiringID:   firing.ID,
		FiredAt:    firing.FiredAt,
		Status:     res.Status(),
		Detail:     truncate(res.Detail(), maxDetailLen),
	}
	storeCtx, cancel := context.WithTimeout(ctx, d.storeTimeout)
	defer cancel()
	if err := d.store.AppendDeliveryLog(storeCtx, entry); err != nil {
		if errors.Is(err, ErrDuplicateDelivery) {
			logger.Debug("delivery already recorded")
		} else {
			logger.Error("failed to record delivery", zap.Error(err))
		}
	}

	if d.analytics != nil {
		d.analytics.RecordDelivery(ctx, firing, res.Status())
	}
	return res
}

func (d *Dispatcher) send(ctx context.Context, logger *zap.Logger, ch domain.Channel, n domain.Notification) (res domain.SendResult) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("panic in gateway send",
				zap.Int64("channel_id", ch.ID),
				zap.Any("panic", rec),
				zap.Stack("stack"))
			res = domain.SendResult{
				Reason:   domain.FailureUnreachable,
				Err:      fmt.Errorf("gateway panic: %v", rec),
				Duration: time.Since(start),
			}
		}
	}()

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	return d.gateway.Send(sendCtx, ch.Destination, n)
}

func (d *Dispatcher) firingOutcome(outcome string) {
	if d.metrics != nil {
		d.metrics.FiringOutcome(outcome)
	}
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
