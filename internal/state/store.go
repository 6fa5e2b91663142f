// Package state holds the current calendar snapshot and refreshes it on a
// cron schedule.
package state

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"calclock/internal/ics"
	"calclock/internal/loader"
	appLog "calclock/internal/log"
	"calclock/internal/model"
)

// Loader is the part of loader.Loader the store needs.
type Loader interface {
	Load(ctx context.Context, url string) ([]model.RawEvent, error)
}

// Store publishes immutable model.State snapshots. Readers never see a
// half-updated state; every change swaps in a new value.
//
// Refreshes are not coordinated: if two overlap, both fetch and the one
// that finishes last wins.
type Store struct {
	cur    atomic.Pointer[model.State]
	loader Loader
	now    func() time.Time

	onRefresh func(n int, err error)

	cronMu sync.Mutex
	cron   *cron.Cron
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRefreshHook is called after every refresh with the event count.
func WithRefreshHook(fn func(n int, err error)) Option {
	return func(s *Store) {
		s.onRefresh = fn
	}
}

// NewStore creates a store seeded with initial.
func NewStore(initial model.State, l Loader, opts ...Option) *Store {
	s := &Store{loader: l, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if initial.Events == nil {
		initial.Events = []model.RawEvent{}
	}
	s.cur.Store(&initial)
	return s
}

// Snapshot returns the current state. The returned Events slice must not
// be modified.
func (s *Store) Snapshot() model.State {
	return *s.cur.Load()
}

func (s *Store) update(fn func(model.State) model.State) model.State {
	for {
		old := s.cur.Load()
		next := fn(*old)
		if s.cur.CompareAndSwap(old, &next) {
			return next
		}
	}
}

// SetTwelveHour switches the cycle mode.
func (s *Store) SetTwelveHour(twelve bool) {
	s.update(func(st model.State) model.State { return st.WithTwelveHour(twelve) })
}

// SetSource points the store at a new calendar URL. Events are kept until
// the next refresh.
func (s *Store) SetSource(url string) {
	s.update(func(st model.State) model.State { return st.WithSource(url) })
}

// Refresh loads the current source and replaces the event list wholesale,
// even when the load failed and the list is empty. A result for a source
// that was replaced while loading is dropped.
func (s *Store) Refresh(ctx context.Context) error {
	src := s.Snapshot().SourceURL

	events, err := s.loader.Load(ctx, src)
	switch {
	case errors.Is(err, loader.ErrNoSource):
		appLog.Debug("refresh skipped: no calendar URL")
	case errors.Is(err, ics.ErrStale):
		appLog.Warn("calendar refreshed from stale cache", "events", len(events), "error", err.Error())
	case err != nil:
		appLog.Error("calendar refresh failed", err)
	default:
		appLog.Info("calendar refreshed", "events", len(events))
	}

	loadedAt := s.now()
	s.update(func(st model.State) model.State {
		if st.SourceURL != src {
			return st
		}
		return st.WithEvents(events, loadedAt)
	})

	if s.onRefresh != nil {
		s.onRefresh(len(events), err)
	}
	return err
}

// Start schedules Refresh on spec (standard 5-field cron) in loc and runs
// the scheduler until Stop. Scheduled refreshes use ctx.
func (s *Store) Start(ctx context.Context, spec string, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}

	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, func() {
		_ = s.Refresh(ctx)
	}); err != nil {
		return err
	}

	s.cronMu.Lock()
	if s.cron != nil {
		s.cron.Stop()
	}
	s.cron = c
	s.cronMu.Unlock()

	c.Start()
	appLog.Info("refresh scheduler started", "spec", spec, "timezone", loc.String())
	return nil
}

// Stop halts the scheduler and waits for a running refresh to return.
func (s *Store) Stop() {
	s.cronMu.Lock()
	c := s.cron
	s.cron = nil
	s.cronMu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	appLog.Info("refresh scheduler stopped")
}
