package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"calclock/internal/ics"
	"calclock/internal/loader"
	"calclock/internal/model"
)

// fakeLoader returns the queued results in order, then repeats the last.
type fakeLoader struct {
	mu      sync.Mutex
	results []fakeResult
	urls    []string
}

type fakeResult struct {
	events []model.RawEvent
	err    error
}

func (f *fakeLoader) Load(_ context.Context, url string) ([]model.RawEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	if url == "" {
		return []model.RawEvent{}, loader.ErrNoSource
	}
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	if r.events == nil {
		r.events = []model.RawEvent{}
	}
	return r.events, r.err
}

// switchingLoader repoints the store at next while a load is in flight.
type switchingLoader struct {
	store *Store
	next  string
}

func (l *switchingLoader) Load(_ context.Context, url string) ([]model.RawEvent, error) {
	if url != l.next {
		l.store.SetSource(l.next)
	}
	return []model.RawEvent{event("from " + url)}, nil
}

func event(summary string) model.RawEvent {
	start := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	return model.RawEvent{
		Summary: summary,
		Start:   model.Instant{Time: start},
		End:     model.Instant{Time: start.Add(30 * time.Minute)},
	}
}

func TestStore(t *testing.T) {
	fixed := time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC)

	Convey("Given a store pointed at a calendar", t, func() {
		fl := &fakeLoader{results: []fakeResult{
			{events: []model.RawEvent{event("A"), event("B")}},
			{err: errors.New("upstream down")},
		}}
		var hookN []int
		s := NewStore(model.State{SourceURL: "https://example.com/cal.ics"}, fl,
			WithClock(func() time.Time { return fixed }),
			WithRefreshHook(func(n int, err error) { hookN = append(hookN, n) }),
		)

		Convey("The initial snapshot has an empty, non-nil event list", func() {
			st := s.Snapshot()
			So(st.Events, ShouldNotBeNil)
			So(st.Events, ShouldHaveLength, 0)
		})

		Convey("A successful refresh replaces the events", func() {
			So(s.Refresh(context.Background()), ShouldBeNil)
			st := s.Snapshot()
			So(st.Events, ShouldHaveLength, 2)
			So(st.LoadedAt, ShouldEqual, fixed)
			So(fl.urls, ShouldResemble, []string{"https://example.com/cal.ics"})
			So(hookN, ShouldResemble, []int{2})

			Convey("A failed refresh replaces them with an empty list", func() {
				err := s.Refresh(context.Background())
				So(err, ShouldNotBeNil)
				So(s.Snapshot().Events, ShouldHaveLength, 0)
				So(hookN, ShouldResemble, []int{2, 0})
			})
		})

		Convey("Snapshots taken earlier are not changed by later updates", func() {
			_ = s.Refresh(context.Background())
			before := s.Snapshot()
			s.SetTwelveHour(true)
			_ = s.Refresh(context.Background())
			So(before.TwelveHour, ShouldBeFalse)
			So(before.Events, ShouldHaveLength, 2)
			So(s.Snapshot().TwelveHour, ShouldBeTrue)
		})
	})

	Convey("Given a store without a calendar URL", t, func() {
		fl := &fakeLoader{results: []fakeResult{{}}}
		s := NewStore(model.State{}, fl)

		Convey("Refresh reports ErrNoSource and leaves an empty list", func() {
			err := s.Refresh(context.Background())
			So(errors.Is(err, loader.ErrNoSource), ShouldBeTrue)
			So(s.Snapshot().Events, ShouldHaveLength, 0)
		})

		Convey("SetSource is used by the next refresh", func() {
			s.SetSource("https://example.com/new.ics")
			_ = s.Refresh(context.Background())
			So(fl.urls, ShouldResemble, []string{"https://example.com/new.ics"})
		})
	})

	Convey("Given a source change while a refresh is loading", t, func() {
		sl := &switchingLoader{next: "https://example.com/new.ics"}
		s := NewStore(model.State{SourceURL: "https://example.com/old.ics"}, sl)
		sl.store = s

		Convey("The old source's events are not published under the new source", func() {
			So(s.Refresh(context.Background()), ShouldBeNil)
			st := s.Snapshot()
			So(st.SourceURL, ShouldEqual, "https://example.com/new.ics")
			So(st.Events, ShouldHaveLength, 0)

			Convey("The next refresh loads the new source", func() {
				So(s.Refresh(context.Background()), ShouldBeNil)
				st := s.Snapshot()
				So(st.Events, ShouldHaveLength, 1)
				So(st.Events[0].Summary, ShouldEqual, "from https://example.com/new.ics")
			})
		})
	})

	Convey("Given a load served from a stale cache", t, func() {
		stale := fmt.Errorf("%w: upstream status 503", ics.ErrStale)
		fl := &fakeLoader{results: []fakeResult{{events: []model.RawEvent{event("A")}, err: stale}}}
		var hookErr error
		s := NewStore(model.State{SourceURL: "https://example.com/cal.ics"}, fl,
			WithRefreshHook(func(_ int, err error) { hookErr = err }))

		Convey("The cached events are published and the hook sees the stale error", func() {
			err := s.Refresh(context.Background())
			So(errors.Is(err, ics.ErrStale), ShouldBeTrue)
			So(s.Snapshot().Events, ShouldHaveLength, 1)
			So(errors.Is(hookErr, ics.ErrStale), ShouldBeTrue)
		})
	})

	Convey("Concurrent mode changes and refreshes are all applied", t, func() {
		fl := &fakeLoader{results: []fakeResult{{events: []model.RawEvent{event("A")}}}}
		s := NewStore(model.State{SourceURL: "https://example.com/cal.ics"}, fl)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(2)
			go func() { defer wg.Done(); _ = s.Refresh(context.Background()) }()
			go func() { defer wg.Done(); s.SetTwelveHour(true) }()
		}
		wg.Wait()

		st := s.Snapshot()
		So(st.TwelveHour, ShouldBeTrue)
		So(st.Events, ShouldHaveLength, 1)
	})
}

func TestStoreScheduler(t *testing.T) {
	Convey("Given a store scheduler", t, func() {
		s := NewStore(model.State{}, &fakeLoader{results: []fakeResult{{}}})

		Convey("An invalid cron spec is rejected", func() {
			So(s.Start(context.Background(), "not a cron", time.UTC), ShouldNotBeNil)
		})

		Convey("A valid spec starts and stops cleanly", func() {
			So(s.Start(context.Background(), "*/15 * * * *", nil), ShouldBeNil)
			s.Stop()
			s.Stop()
		})
	})
}
