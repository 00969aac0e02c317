// Package registry holds the live set of cron triggers, one per reminder.
//
// Each registered reminder owns a goroutine waiting on a single timer for its
// next fire instant. When the timer fires the entry computes the following
// instant from max(now, scheduled), so a late wake-up never replays missed
// occurrences. Replacing or removing an entry retires its goroutine under the
// registry lock: a timer that fires for a retired entry is dropped.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmhodges/clock"
	"go.uber.org/zap"

	"github.com/wuchris-ch/notification-app/internal/cron"
	"github.com/wuchris-ch/notification-app/internal/domain"
)

// ErrClosed is returned by Upsert after Stop.
var ErrClosed = errors.New("registry: closed")

// FireFunc is invoked once per fire instant. Calls for one reminder are
// sequential; ctx is cancelled when the registry stops.
type FireFunc func(ctx context.Context, firing domain.Firing)

// ScheduleParser turns a cron expression and timezone into a Schedule.
type ScheduleParser interface {
	Parse(expression string, timezone string) (cron.Schedule, error)
}

// MetricsSink defines the interface for recording registry metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	RegistrySizeUpdate(size int)
	FiringOutcome(outcome string)
}

// Outcome describes what Upsert did.
type Outcome int

const (
	Unchanged Outcome = iota
	Added
	Replaced // cron or timezone changed; old trigger retired
	Updated  // destinations changed; trigger kept
)

func (o Outcome) String() string {
	switch o {
	case Added:
		return "added"
	case Replaced:
		return "replaced"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// EntryInfo is a read-only view of a registered trigger.
type EntryInfo struct {
	Job       domain.ScheduledJob
	NextFire  time.Time // zero if the expression has no future instant
	LastFired time.Time // zero until the first firing
}

type entry struct {
	job    domain.ScheduledJob
	sched  cron.Schedule
	onFire FireFunc

	next  time.Time
	last  time.Time
	timer *clock.Timer

	stop chan struct{}
}

type Registry struct {
	parser  ScheduleParser
	clock   clock.Clock
	logger  *zap.Logger
	metrics MetricsSink // optional, nil = disabled

	mu      sync.Mutex
	entries map[int64]*entry
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(parser ScheduleParser) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		parser:  parser,
		clock:   clock.New(),
		logger:  zap.NewNop(),
		entries: make(map[int64]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// WithClock replaces the wall clock. Must be called before the first Upsert.
func (r *Registry) WithClock(clk clock.Clock) *Registry {
	r.clock = clk
	return r
}

func (r *Registry) WithLogger(logger *zap.Logger) *Registry {
	r.logger = logger.Named("registry")
	return r
}

// WithMetrics attaches a metrics sink to the registry.
func (r *Registry) WithMetrics(sink MetricsSink) *Registry {
	r.metrics = sink
	return r
}

// Upsert registers job, replacing any trigger for the same reminder.
//
// A job whose cron and timezone are unchanged keeps its armed timer; only
// its destinations and callback are refreshed. A changed trigger is swapped
// atomically: the old one can no longer fire once Upsert returns.
// Parse errors leave the registry untouched.
func (r *Registry) Upsert(job domain.ScheduledJob, onFire FireFunc) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Unchanged, ErrClosed
	}

	cur, exists := r.entries[job.ReminderID]
	if exists && cur.job.SameTrigger(job) {
		cur.onFire = onFire
		if cur.job.SameDestinations(job) {
			return Unchanged, nil
		}
		cur.job = job
		return Updated, nil
	}

	sched, err := r.parser.Parse(job.Cron, job.Timezone)
	if err != nil {
		return Unchanged, fmt.Errorf("reminder %d: %w", job.ReminderID, err)
	}

	if exists {
		r.retireLocked(cur)
	}

	e := &entry{
		job:    job,
		sched:  sched,
		onFire: onFire,
		stop:   make(chan struct{}),
	}
	r.armLocked(e, r.clock.Now())
	r.entries[job.ReminderID] = e

	r.wg.Add(1)
	go r.run(e)

	r.updateSizeLocked()

	if exists {
		r.logger.Info("trigger replaced",
			zap.Int64("reminder_id", job.ReminderID),
			zap.String("cron", job.Cron),
			zap.String("timezone", job.Timezone),
			zap.Time("next_fire_at", e.next))
		return Replaced, nil
	}
	r.logger.Debug("trigger added",
		zap.Int64("reminder_id", job.ReminderID),
		zap.String("cron", job.Cron),
		zap.String("timezone", job.Timezone),
		zap.Time("next_fire_at", e.next))
	return Added, nil
}

// Remove retires the trigger for id. It reports whether one was registered.
func (r *Registry) Remove(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return false
	}
	r.retireLocked(e)
	delete(r.entries, id)
	r.updateSizeLocked()

	r.logger.Info("trigger removed", zap.Int64("reminder_id", id))
	return true
}

// RemoveAll retires every trigger. The registry stays usable.
func (r *Registry) RemoveAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.entries)
	for id, e := range r.entries {
		r.retireLocked(e)
		delete(r.entries, id)
	}
	r.updateSizeLocked()
	return n
}

// ListActive returns the registered reminder ids in ascending order.
func (r *Registry) ListActive() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]int64, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Active reports whether id currently has a registered trigger.
func (r *Registry) Active(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// Len returns the number of registered triggers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Entries returns a snapshot of all triggers ordered by reminder id.
func (r *Registry) Entries() []EntryInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]EntryInfo, 0, len(r.entries))
	for _, e := range r.entries {
		job := e.job
		job.Destinations = append([]domain.Destination(nil), e.job.Destinations...)
		out = append(out, EntryInfo{Job: job, NextFire: e.next, LastFired: e.last})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job.ReminderID < out[j].Job.ReminderID })
	return out
}

// Stop retires every trigger and waits for in-flight callbacks to return or
// for ctx to expire.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for id, e := range r.entries {
		r.retireLocked(e)
		delete(r.entries, id)
	}
	r.updateSizeLocked()
	r.mu.Unlock()

	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) run(e *entry) {
	defer r.wg.Done()

	for {
		r.mu.Lock()
		var c <-chan time.Time
		if e.timer != nil {
			c = e.timer.C
		}
		r.mu.Unlock()

		select {
		case <-e.stop:
			return
		case <-c:
			firing, fn, ok := r.advance(e)
			if !ok {
				return
			}
			r.invoke(fn, firing)
		}
	}
}

// advance claims the due instant and arms the timer for the next one.
// It returns false if e was retired while its timer was pending.
func (r *Registry) advance(e *entry) (domain.Firing, FireFunc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.entries[e.job.ReminderID]; !ok || cur != e {
		r.logger.Warn("dropping firing for retired job",
			zap.Int64("reminder_id", e.job.ReminderID),
			zap.Time("scheduled_at", e.next))
		if r.metrics != nil {
			r.metrics.FiringOutcome("dropped")
		}
		return domain.Firing{}, nil, false
	}

	now := r.clock.Now()
	scheduled := e.next

	firing := domain.Firing{
		ID:          uuid.New(),
		ReminderID:  e.job.ReminderID,
		ScheduledAt: scheduled,
		FiredAt:     now,
	}
	e.last = scheduled

	from := now
	if scheduled.After(from) {
		from = scheduled
	}
	r.armLocked(e, from)

	return firing, e.onFire, true
}

// armLocked computes the first instant after from and starts its timer.
func (r *Registry) armLocked(e *entry, from time.Time) {
	e.next = e.sched.Next(from)
	if e.next.IsZero() {
		e.timer = nil
		r.logger.Warn("trigger has no future fire time",
			zap.Int64("reminder_id", e.job.ReminderID),
			zap.String("cron", e.job.Cron))
		return
	}
	e.timer = r.clock.NewTimer(e.next.Sub(r.clock.Now()))
}

func (r *Registry) retireLocked(e *entry) {
	close(e.stop)
	if e.timer != nil {
		e.timer.Stop()
	}
}

// invoke runs the callback, containing any panic to this reminder.
func (r *Registry) invoke(fn FireFunc, firing domain.Firing) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in firing callback",
				zap.Int64("reminder_id", firing.ReminderID),
				zap.String("firing_id", firing.ID.String()),
				zap.Any("panic", rec),
				zap.Stack("stack"))
		}
	}()
	fn(r.ctx, firing)
}

func (r *Registry) updateSizeLocked() {
	if r.metrics != nil {
		r.metrics.RegistrySizeUpdate(len(r.entries))
	}
}
