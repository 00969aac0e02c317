package leaderelection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSession struct {
	mu       sync.Mutex
	pingErr  error
	released bool
}

func (s *fakeSession) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

func (s *fakeSession) Release(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	return nil
}

func (s *fakeSession) breakConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = errors.New("connection reset by peer")
}

func (s *fakeSession) isReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// fakeLocker hands out sessions in order; an empty queue means the lock is
// held elsewhere.
type fakeLocker struct {
	mu       sync.Mutex
	sessions []*fakeSession
	err      error
	attempts int
}

func (l *fakeLocker) TryAcquire(ctx context.Context) (Session, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	if l.err != nil {
		return nil, false, l.err
	}
	if len(l.sessions) == 0 {
		return nil, false, nil
	}
	s := l.sessions[0]
	l.sessions = l.sessions[1:]
	return s, true, nil
}

func (l *fakeLocker) attemptCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts
}

type fakeDuties struct {
	mu       sync.Mutex
	leading  int
	resigned int
	started  chan struct{}
}

func newFakeDuties() *fakeDuties {
	return &fakeDuties{started: make(chan struct{}, 4)}
}

func (d *fakeDuties) Lead(ctx context.Context) {
	d.mu.Lock()
	d.leading++
	d.mu.Unlock()
	d.started <- struct{}{}
	<-ctx.Done()
}

func (d *fakeDuties) Resign() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resigned++
}

func (d *fakeDuties) counts() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.leading, d.resigned
}

type fakeMetrics struct {
	mu       sync.Mutex
	status   []bool
	acquired int
	lost     []string
}

func (m *fakeMetrics) LeaderStatusChanged(isLeader bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = append(m.status, isLeader)
}

func (m *fakeMetrics) LeaderAcquired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquired++
}

func (m *fakeMetrics) LeaderLost(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lost = append(m.lost, reason)
}

func runElector(t *testing.T, e *Elector) (context.CancelFunc, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()
	return cancel, done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func waitStarted(t *testing.T, d *fakeDuties) {
	t.Helper()
	select {
	case <-d.started:
	case <-time.After(2 * time.Second):
		t.Fatal("duties not started")
	}
}

func TestElector_LeadsAndResignsOnShutdown(t *testing.T) {
	session := &fakeSession{}
	locker := &fakeLocker{sessions: []*fakeSession{session}}
	duties := newFakeDuties()
	m := &fakeMetrics{}

	e := New(locker, duties, 10*time.Millisecond, 10*time.Millisecond).WithMetrics(m)
	cancel, done := runElector(t, e)

	waitStarted(t, duties)
	cancel()
	waitDone(t, done)

	leading, resigned := duties.counts()
	if leading != 1 || resigned != 1 {
		t.Errorf("lead = %d, resign = %d; want 1, 1", leading, resigned)
	}
	if !session.isReleased() {
		t.Error("session not released")
	}
	if m.acquired != 1 || len(m.lost) != 1 || m.lost[0] != ReasonShutdown {
		t.Errorf("metrics acquired = %d lost = %v", m.acquired, m.lost)
	}
	if len(m.status) != 2 || !m.status[0] || m.status[1] {
		t.Errorf("status changes = %v, want [true false]", m.status)
	}
}

func TestElector_ConnLostResignsThenReacquires(t *testing.T) {
	first := &fakeSession{}
	second := &fakeSession{}
	locker := &fakeLocker{sessions: []*fakeSession{first, second}}
	duties := newFakeDuties()
	m := &fakeMetrics{}

	e := New(locker, duties, 10*time.Millisecond, 5*time.Millisecond).WithMetrics(m)
	cancel, done := runElector(t, e)
	defer func() {
		cancel()
		waitDone(t, done)
	}()

	waitStarted(t, duties)
	first.breakConn()
	waitStarted(t, duties)

	leading, resigned := duties.counts()
	if leading != 2 || resigned != 1 {
		t.Errorf("lead = %d, resign = %d; want 2, 1", leading, resigned)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.lost) != 1 || m.lost[0] != ReasonConnLost {
		t.Errorf("lost = %v, want [conn_lost]", m.lost)
	}
}

func TestElector_FollowerKeepsRetrying(t *testing.T) {
	locker := &fakeLocker{}
	duties := newFakeDuties()

	e := New(locker, duties, 5*time.Millisecond, time.Second)
	cancel, done := runElector(t, e)

	deadline := time.Now().Add(2 * time.Second)
	for locker.attemptCount() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("elector did not retry")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	waitDone(t, done)

	if leading, _ := duties.counts(); leading != 0 {
		t.Errorf("follower led %d times", leading)
	}
}

func TestElector_LockErrorIsNotLeadership(t *testing.T) {
	locker := &fakeLocker{err: errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")}
	duties := newFakeDuties()

	e := New(locker, duties, 5*time.Millisecond, time.Second)
	cancel, done := runElector(t, e)
	time.Sleep(30 * time.Millisecond)
	cancel()
	waitDone(t, done)

	if leading, resigned := duties.counts(); leading != 0 || resigned != 0 {
		t.Errorf("lead = %d, resign = %d; want 0, 0", leading, resigned)
	}
}
