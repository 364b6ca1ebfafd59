package web

import (
	"bytes"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"bincal/internal/coordinator"
	"bincal/internal/events"
	appLog "bincal/internal/log"
	"bincal/internal/model"
)

// household pairs a coordinator with one feed per configured bin.
type household struct {
	c     *coordinator.Coordinator
	bins  []model.CategoryID
	feeds map[model.CategoryID]*feed
}

// feed is one calendar: a subscription plus the time its data last changed.
type feed struct {
	sub     *coordinator.Subscription
	updated atomic.Pointer[time.Time]
}

func newHousehold(c *coordinator.Coordinator, bins []model.CategoryID) *household {
	h := &household{
		c:     c,
		bins:  bins,
		feeds: make(map[model.CategoryID]*feed, len(bins)),
	}
	for _, cat := range bins {
		f := &feed{}
		f.sub = c.Subscribe(cat, func(agg *model.Aggregate) {
			fetched := agg.FetchedAt
			f.updated.Store(&fetched)
		})
		if agg, ok := c.Current(); ok {
			fetched := agg.FetchedAt
			f.updated.Store(&fetched)
		}
		h.feeds[cat] = f
	}
	return h
}

func (h *household) close() {
	for _, f := range h.feeds {
		f.sub.Close()
	}
}

// lastModified returns when the feed last received data, or zero.
func (f *feed) lastModified() time.Time {
	if t := f.updated.Load(); t != nil {
		return *t
	}
	return time.Time{}
}

type categoryDTO struct {
	Category string `json:"category"`
	Name     string `json:"name"`
	Next     string `json:"next,omitempty"`
	Upcoming int    `json:"upcoming"`
}

type householdDTO struct {
	ID                  string        `json:"id"`
	Name                string        `json:"name"`
	State               string        `json:"state"`
	FetchedAt           *time.Time    `json:"fetched_at,omitempty"`
	LastAttempt         *time.Time    `json:"last_attempt,omitempty"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Categories          []categoryDTO `json:"categories"`
}

type eventDTO struct {
	UID         string    `json:"uid"`
	Category    string    `json:"category"`
	Date        string    `json:"date"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

func toEventDTO(ev model.CollectionEvent) eventDTO {
	return eventDTO{
		UID:         ev.UID,
		Category:    string(ev.Category),
		Date:        ev.Start.Format(time.DateOnly),
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       ev.Start,
		End:         ev.End,
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (h *household) summary() householdDTO {
	st := h.c.Status()
	dto := householdDTO{
		ID:                  string(h.c.Household()),
		Name:                h.c.Address(),
		State:               st.State.String(),
		FetchedAt:           timePtr(st.LastSuccess),
		LastAttempt:         timePtr(st.LastAttempt),
		ConsecutiveFailures: st.ConsecutiveFailures,
		Categories:          make([]categoryDTO, 0, len(h.bins)),
	}
	if st.LastError != nil {
		dto.LastError = st.LastError.Error()
	}
	for _, cat := range h.bins {
		f := h.feeds[cat]
		c := categoryDTO{
			Category: string(cat),
			Name:     f.sub.Name(),
			Upcoming: len(st.Aggregate.Dates(cat)),
		}
		if ev, ok := events.NextEvent(st.Aggregate, cat); ok {
			c.Next = ev.Start.Format(time.DateOnly)
		}
		dto.Categories = append(dto.Categories, c)
	}
	return dto
}

// GET /api/households
func (s *Server) handleHouseholds(w http.ResponseWriter, _ *http.Request) {
	out := make([]householdDTO, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.households[id].summary())
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/households/{household}/raw returns the last upstream body as-is.
func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	agg, ok := h.c.Current()
	if !ok || len(agg.Raw) == 0 {
		writeError(w, http.StatusNotFound, "no data yet")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Last-Modified", agg.FetchedAt.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(agg.Raw)
}

// POST /api/households/{household}/refresh
//
// A failed refresh answers 502 but still reports the (possibly stale)
// household summary.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}

	type refreshResp struct {
		Error     string       `json:"error,omitempty"`
		Household householdDTO `json:"household"`
	}

	if _, err := h.c.RequestRefresh(r.Context()); err != nil {
		appLog.Error("api refresh failed", err, "household", h.c.Household())
		writeJSON(w, http.StatusBadGateway, refreshResp{Error: err.Error(), Household: h.summary()})
		return
	}
	writeJSON(w, http.StatusOK, refreshResp{Household: h.summary()})
}

// GET /api/households/{household}/categories/{category}/next
func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	f, ok := lookupFeed(w, h, model.CategoryID(chi.URLParam(r, "category")))
	if !ok {
		return
	}

	type nextResp struct {
		Event *eventDTO `json:"event"`
	}
	var resp nextResp
	if ev, ok := f.sub.NextEvent(); ok {
		dto := toEventDTO(ev)
		resp.Event = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/households/{household}/categories/{category}/events?start=&end=
//   - start: first date, YYYY-MM-DD (default today)
//   - end:   last date, inclusive (default start + 30 days)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	f, ok := lookupFeed(w, h, model.CategoryID(chi.URLParam(r, "category")))
	if !ok {
		return
	}

	loc := h.c.Location()
	q := r.URL.Query()
	start, err := parseDateDefault(q.Get("start"), model.Today(s.now(), loc), loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start date")
		return
	}
	end, err := parseDateDefault(q.Get("end"), start.AddDate(0, 0, defaultRangeDays), loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end date")
		return
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "end is before start")
		return
	}

	evs := f.sub.EventsInRange(start, end)
	dtos := make([]eventDTO, 0, len(evs))
	for _, ev := range evs {
		dtos = append(dtos, toEventDTO(ev))
	}

	type eventsResp struct {
		Events []eventDTO `json:"events"`
		Start  string     `json:"start"`
		End    string     `json:"end"`
	}
	writeJSON(w, http.StatusOK, eventsResp{
		Events: dtos,
		Start:  start.Format(time.DateOnly),
		End:    end.Format(time.DateOnly),
	})
}

// GET /calendar/{household}/{category}.ics
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "feed")
	category, found := strings.CutSuffix(name, ".ics")
	if !found {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	f, ok := lookupFeed(w, h, model.CategoryID(category))
	if !ok {
		return
	}

	modified := f.lastModified()
	var buf bytes.Buffer
	err := events.WriteICS(&buf, events.Feed{
		Name:            f.sub.Name(),
		Timezone:        h.c.Location().String(),
		Events:          f.sub.Events(),
		Stamp:           modified,
		RefreshInterval: h.c.Interval(),
	})
	if err != nil {
		appLog.Error("calendar render failed", err, "feed", f.sub.ID())
		writeError(w, http.StatusInternalServerError, "failed to render calendar")
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	http.ServeContent(w, r, name, modified, bytes.NewReader(buf.Bytes()))
}
