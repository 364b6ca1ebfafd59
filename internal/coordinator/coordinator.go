// Package coordinator owns the cached schedule for one household: it runs
// refreshes one at a time, keeps the last good aggregate through failures and
// tells subscribers when a new aggregate lands.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	appLog "bincal/internal/log"
	"bincal/internal/metrics"
	"bincal/internal/model"
	"bincal/internal/schedule"
)

const (
	MinInterval = time.Minute
	MaxInterval = 1440 * time.Minute
)

// ErrInvalidInterval is returned by New when the polling interval is outside
// [MinInterval, MaxInterval].
var ErrInvalidInterval = errors.New("polling interval out of range")

// Fetcher retrieves the raw schedule for a household. *schedule.Fetcher
// satisfies it; tests inject fakes.
type Fetcher interface {
	Fetch(ctx context.Context, household model.HouseholdID) (*model.RawPayload, error)
}

// State is the coordinator's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRefreshing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRefreshing:
		return "refreshing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is an immutable snapshot of the coordinator. Aggregate is the last
// successfully produced aggregate and survives failed refreshes.
type Status struct {
	State     State
	Aggregate *model.Aggregate
	LastError error

	LastAttempt         time.Time
	LastSuccess         time.Time
	ConsecutiveFailures int
}

// Options configures a Coordinator.
type Options struct {
	Household model.HouseholdID
	// Address is a human label used for subscription names.
	Address  string
	Interval time.Duration
	Location *time.Location

	Fetcher  Fetcher
	Recorder metrics.Recorder
	// Now overrides the clock; nil uses time.Now.
	Now func() time.Time
}

// Coordinator is safe for concurrent use. Reads never block on a refresh.
type Coordinator struct {
	household model.HouseholdID
	address   string
	interval  time.Duration
	loc       *time.Location
	fetcher   Fetcher
	recorder  metrics.Recorder
	now       func() time.Time

	status atomic.Pointer[Status]
	group  singleflight.Group

	subMu  sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
}

// New validates opts and returns an Idle coordinator.
func New(opts Options) (*Coordinator, error) {
	if opts.Household == "" {
		return nil, errors.New("coordinator: household id is empty")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("coordinator: fetcher is nil")
	}
	if opts.Interval < MinInterval || opts.Interval > MaxInterval {
		return nil, fmt.Errorf("coordinator: %w: %s not within [%s, %s]", ErrInvalidInterval, opts.Interval, MinInterval, MaxInterval)
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Coordinator{
		household: opts.Household,
		address:   opts.Address,
		interval:  opts.Interval,
		loc:       opts.Location,
		fetcher:   opts.Fetcher,
		recorder:  opts.Recorder,
		now:       opts.Now,
		subs:      make(map[uint64]*Subscription),
	}
	c.status.Store(&Status{State: StateIdle})
	return c, nil
}

func (c *Coordinator) Household() model.HouseholdID { return c.household }

func (c *Coordinator) Address() string { return c.address }

// Interval is the polling cadence the external driver should use.
func (c *Coordinator) Interval() time.Duration { return c.interval }

func (c *Coordinator) Location() *time.Location { return c.loc }

// Status returns the current snapshot without blocking.
func (c *Coordinator) Status() Status {
	return *c.status.Load()
}

// Current returns the last successfully produced aggregate. ok is false
// until the first refresh succeeds.
func (c *Coordinator) Current() (*model.Aggregate, bool) {
	agg := c.status.Load().Aggregate
	return agg, agg != nil
}

// RequestRefresh fetches, normalizes and aggregates a fresh schedule. If a
// refresh is already running the call joins it and gets the same outcome.
// The refresh itself is not tied to ctx: a caller whose ctx ends stops
// waiting, but the shared refresh runs on until the fetch timeout.
func (c *Coordinator) RequestRefresh(ctx context.Context) (*model.Aggregate, error) {
	detached := context.WithoutCancel(ctx)
	// led is only written when this caller's function is the one that runs;
	// the result send on ch orders that write before the read below.
	led := false
	ch := c.group.DoChan(string(c.household), func() (any, error) {
		led = true
		agg, err := c.refresh(detached)
		if err != nil {
			return nil, err
		}
		return agg, nil
	})

	select {
	case res := <-ch:
		if res.Shared && !led {
			c.recorder.IncSharedRefresh(string(c.household))
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Aggregate), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// refresh runs inside the singleflight group, so at most one instance is
// active per coordinator and it is the only writer of status.
func (c *Coordinator) refresh(ctx context.Context) (*model.Aggregate, error) {
	started := c.now()
	prev := c.status.Load()

	refreshing := *prev
	refreshing.State = StateRefreshing
	refreshing.LastAttempt = started
	c.status.Store(&refreshing)

	appLog.Debug("refresh start", "household", c.household)

	payload, err := c.fetcher.Fetch(ctx, c.household)
	if err == nil && payload == nil {
		err = &schedule.FetchError{Kind: schedule.KindMalformed, Household: c.household, Err: errors.New("fetcher returned no payload")}
	}
	if err != nil {
		c.fail(prev, started, err)
		return nil, err
	}

	today := model.Today(c.now(), c.loc)
	pairs, dropped := schedule.Normalize(payload.Entries, today, c.loc)
	agg := schedule.Aggregate(c.household, payload.Body, pairs, today, c.now())

	c.status.Store(&Status{
		State:       StateReady,
		Aggregate:   agg,
		LastAttempt: started,
		LastSuccess: agg.FetchedAt,
	})

	c.recorder.ObserveRefreshDuration(string(c.household), c.now().Sub(started))
	c.recorder.IncRefreshResult(string(c.household), metrics.ResultSuccess)
	c.recorder.AddDroppedEntries(string(c.household), dropped)
	c.recordUpcoming(prev.Aggregate, agg)

	appLog.Info("refresh complete",
		"household", c.household,
		"categories", len(agg.ByCategory),
		"dates", agg.Len(),
		"dropped", dropped,
	)

	c.notify(agg)
	return agg, nil
}

func (c *Coordinator) fail(prev *Status, started time.Time, err error) {
	c.status.Store(&Status{
		State:               StateFailed,
		Aggregate:           prev.Aggregate,
		LastError:           err,
		LastAttempt:         started,
		LastSuccess:         prev.LastSuccess,
		ConsecutiveFailures: prev.ConsecutiveFailures + 1,
	})

	c.recorder.ObserveRefreshDuration(string(c.household), c.now().Sub(started))
	c.recorder.IncRefreshResult(string(c.household), metrics.ResultFailed)

	kind := "unknown"
	var fe *schedule.FetchError
	if errors.As(err, &fe) {
		kind = string(fe.Kind)
	}
	appLog.Warn("refresh failed",
		"household", c.household,
		"kind", kind,
		"err", err,
		"serving_stale", prev.Aggregate != nil,
		"consecutive_failures", prev.ConsecutiveFailures+1,
	)
}

// recordUpcoming updates the per-category gauge, zeroing categories that
// disappeared since the previous aggregate.
func (c *Coordinator) recordUpcoming(prev, next *model.Aggregate) {
	for _, cat := range prev.Categories() {
		if _, ok := next.ByCategory[cat]; !ok {
			c.recorder.SetUpcoming(string(c.household), string(cat), 0)
		}
	}
	for cat, dates := range next.ByCategory {
		c.recorder.SetUpcoming(string(c.household), string(cat), len(dates))
	}
}
