package coordinator

import (
	"sync"
	"time"

	"bincal/internal/events"
	appLog "bincal/internal/log"
	"bincal/internal/model"
)

// Listener is called once per successful refresh, after the new aggregate is
// committed. It runs on the refreshing goroutine and should return quickly.
type Listener func(agg *model.Aggregate)

// Subscription is a read-only view of one category of the coordinator's
// current aggregate. It is what a host calendar entity holds.
type Subscription struct {
	c        *Coordinator
	id       uint64
	category model.CategoryID
	listener Listener

	closeOnce sync.Once
}

// Subscribe attaches a view for category. listener may be nil when the
// caller only wants the query methods.
func (c *Coordinator) Subscribe(category model.CategoryID, listener Listener) *Subscription {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.nextID++
	s := &Subscription{
		c:        c,
		id:       c.nextID,
		category: category,
		listener: listener,
	}
	c.subs[s.id] = s
	return s
}

// Subscribers returns the number of attached subscriptions.
func (c *Coordinator) Subscribers() int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return len(c.subs)
}

func (c *Coordinator) notify(agg *model.Aggregate) {
	c.subMu.Lock()
	listeners := make([]Listener, 0, len(c.subs))
	for _, s := range c.subs {
		if s.listener != nil {
			listeners = append(listeners, s.listener)
		}
	}
	c.subMu.Unlock()

	for _, l := range listeners {
		callListener(c.household, l, agg)
	}
}

func callListener(household model.HouseholdID, l Listener, agg *model.Aggregate) {
	defer func() {
		if r := recover(); r != nil {
			appLog.Warn("subscriber panicked", "household", household, "panic", r)
		}
	}()
	l(agg)
}

// ID is "<household>.<category>", unique per configured feed.
func (s *Subscription) ID() string {
	return string(s.c.household) + "." + string(s.category)
}

// Name is "<address> - <category>", or just the category without an address.
func (s *Subscription) Name() string {
	if s.c.address == "" {
		return string(s.category)
	}
	return s.c.address + " - " + string(s.category)
}

func (s *Subscription) Household() model.HouseholdID { return s.c.household }

func (s *Subscription) Category() model.CategoryID { return s.category }

// Coordinator returns the coordinator this subscription reads from.
func (s *Subscription) Coordinator() *Coordinator { return s.c }

// NextEvent returns the earliest upcoming collection, if any.
func (s *Subscription) NextEvent() (model.CollectionEvent, bool) {
	agg, _ := s.c.Current()
	return events.NextEvent(agg, s.category)
}

// EventsInRange returns collections within [start, end] at date granularity.
func (s *Subscription) EventsInRange(start, end time.Time) []model.CollectionEvent {
	agg, _ := s.c.Current()
	return events.EventsInRange(agg, s.category, start, end)
}

// Events returns every upcoming collection for the category.
func (s *Subscription) Events() []model.CollectionEvent {
	agg, _ := s.c.Current()
	return events.AllEvents(agg, s.category)
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.c.subMu.Lock()
		delete(s.c.subs, s.id)
		s.c.subMu.Unlock()
	})
}
