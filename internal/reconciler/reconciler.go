// Package reconciler keeps the trigger registry in step with the store.
//
// Every cycle loads all enabled reminders with their channels, upserts one
// scheduled job per reminder whose cron and timezone are valid, and removes
// triggers whose reminder was deleted, disabled or became invalid. A cycle
// is idempotent: running it twice against the same data changes nothing the
// second time.
//
// Store errors abort the cycle and leave the registry as it was; the next
// interval retries. Invalid reminders are reported per id and never stop
// the others from being scheduled.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wuchris-ch/notification-app/internal/domain"
	"github.com/wuchris-ch/notification-app/internal/metrics"
	"github.com/wuchris-ch/notification-app/internal/registry"
)

// Store defines the read side the reconciler needs.
type Store interface {
	ListEnabledRemindersWithChannels(ctx context.Context) ([]domain.ReminderWithChannels, error)
}

// Registry is the subset of the trigger registry the reconciler drives.
type Registry interface {
	Upsert(job domain.ScheduledJob, onFire registry.FireFunc) (registry.Outcome, error)
	Remove(id int64) bool
	ListActive() []int64
}

// EventEmitter hands firings to the dispatcher.
type EventEmitter interface {
	Emit(ctx context.Context, firing domain.Firing) error
}

// MetricsSink defines the interface for recording reconciler metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	ReconcileCompleted(duration time.Duration, err error)
	ConfigErrorsUpdate(count int)
	FiringOutcome(outcome string)
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the reconciler runs.
	// Default: 60 seconds.
	Interval time.Duration

	// StoreTimeout bounds the reminder fetch of one cycle.
	// Default: 5 seconds.
	StoreTimeout time.Duration

	// DefaultTimezone replaces an empty reminder timezone.
	DefaultTimezone string
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:        60 * time.Second,
		StoreTimeout:    5 * time.Second,
		DefaultTimezone: domain.DefaultTimezone,
	}
}

// Result summarizes one reconciliation cycle.
type Result struct {
	Scheduled int // registered triggers after the cycle
	Added     int
	Replaced  int
	Updated   int
	Removed   int

	// Invalid maps reminder ids to their configuration error.
	Invalid map[int64]error
}

type Reconciler struct {
	config   Config
	store    Store
	registry Registry
	emitter  EventEmitter
	metrics  MetricsSink // optional, nil = disabled
	logger   *zap.Logger

	trigger chan struct{}

	cycleMu  sync.Mutex
	reported map[int64]string // last logged configuration error per reminder
}

func New(config Config, store Store, reg Registry, emitter EventEmitter) *Reconciler {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = DefaultConfig().StoreTimeout
	}
	if config.DefaultTimezone == "" {
		config.DefaultTimezone = domain.DefaultTimezone
	}
	return &Reconciler{
		config:   config,
		store:    store,
		registry: reg,
		emitter:  emitter,
		logger:   zap.NewNop(),
		trigger:  make(chan struct{}, 1),
		reported: make(map[int64]string),
	}
}

func (r *Reconciler) WithLogger(logger *zap.Logger) *Reconciler {
	r.logger = logger.Named("reconciler")
	return r
}

// WithMetrics attaches a metrics sink to the reconciler.
func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

// Trigger asks Run for an immediate cycle. Calls made while one is already
// pending collapse into it. Never blocks.
func (r *Reconciler) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.logger.Info("started",
		zap.Duration("interval", r.config.Interval),
		zap.String("default_timezone", r.config.DefaultTimezone))

	// Run immediately on startup, then on ticker
	r.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stopped")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		case <-r.trigger:
			r.logger.Debug("change notification, reconciling early")
			r.runCycle(ctx)
		}
	}
}

func (r *Reconciler) runCycle(ctx context.Context) {
	res, err := r.Reconcile(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("cycle aborted, registry unchanged", zap.Error(err))
		}
		return
	}
	if res.Added+res.Replaced+res.Updated+res.Removed > 0 || len(res.Invalid) > 0 {
		r.logger.Info("cycle complete",
			zap.Int("scheduled", res.Scheduled),
			zap.Int("added", res.Added),
			zap.Int("replaced", res.Replaced),
			zap.Int("updated", res.Updated),
			zap.Int("removed", res.Removed),
			zap.Int("invalid", len(res.Invalid)))
	}
}

// Reconcile runs one cycle. The returned error is set only when the store
// could not be read or the registry is closed; configuration errors are
// reported in Result.Invalid.
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	start := time.Now()
	res, err := r.reconcile(ctx)
	if r.metrics != nil {
		r.metrics.ReconcileCompleted(time.Since(start), err)
		if err == nil {
			r.metrics.ConfigErrorsUpdate(len(res.Invalid))
		}
	}
	return res, err
}

func (r *Reconciler) reconcile(ctx context.Context) (Result, error) {
	res := Result{Invalid: make(map[int64]error)}

	fetchCtx, cancel := context.WithTimeout(ctx, r.config.StoreTimeout)
	reminders, err := r.store.ListEnabledRemindersWithChannels(fetchCtx)
	cancel()
	if err != nil {
		return res, fmt.Errorf("list enabled reminders: %w", err)
	}

	valid := make(map[int64]bool, len(reminders))
	for _, rwc := range reminders {
		id := rwc.Reminder.ID
		job := domain.JobFor(rwc, r.config.DefaultTimezone)

		outcome, err := r.registry.Upsert(job, r.onFire)
		if errors.Is(err, registry.ErrClosed) {
			return res, err
		}
		if err != nil {
			res.Invalid[id] = err
			continue
		}
		valid[id] = true

		switch outcome {
		case registry.Added:
			res.Added++
		case registry.Replaced:
			res.Replaced++
		case registry.Updated:
			res.Updated++
		}
	}

	for _, id := range r.registry.ListActive() {
		if valid[id] {
			continue
		}
		if r.registry.Remove(id) {
			res.Removed++
		}
	}

	r.reportInvalid(reminders, res.Invalid)
	res.Scheduled = len(valid)
	return res, nil
}

// reportInvalid logs a configuration error the first time it is seen and
// whenever it changes. Fixed reminders are forgotten.
func (r *Reconciler) reportInvalid(reminders []domain.ReminderWithChannels, invalid map[int64]error) {
	for _, rwc := range reminders {
		id := rwc.Reminder.ID
		err, bad := invalid[id]
		if !bad {
			delete(r.reported, id)
			continue
		}
		msg := err.Error()
		if r.reported[id] == msg {
			continue
		}
		r.reported[id] = msg
		r.logger.Warn("configuration error",
			zap.Int64("reminder_id", id),
			zap.String("title", rwc.Reminder.Title),
			zap.String("cron", rwc.Reminder.Cron),
			zap.String("timezone", rwc.Reminder.Timezone),
			zap.Error(err))
	}
	for id := range r.reported {
		if _, bad := invalid[id]; !bad {
			delete(r.reported, id)
		}
	}
}

// onFire is registered with every trigger. It only hands the firing off;
// the dispatcher does the slow work.
func (r *Reconciler) onFire(ctx context.Context, firing domain.Firing) {
	if err := r.emitter.Emit(ctx, firing); err != nil {
		r.logger.Error("failed to emit firing",
			zap.Int64("reminder_id", firing.ReminderID),
			zap.String("firing_id", firing.ID.String()),
			zap.Time("scheduled_at", firing.ScheduledAt),
			zap.Error(err))
		if r.metrics != nil {
			r.metrics.FiringOutcome(metrics.FiringDropped)
		}
	}
}
