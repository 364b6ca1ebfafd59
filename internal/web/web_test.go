package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"bincal/internal/config"
	"bincal/internal/coordinator"
	"bincal/internal/metrics"
	"bincal/internal/schedule"
)

var fixedNow = time.Date(2025, 5, 10, 8, 0, 0, 0, time.UTC)

const upstreamBody = `{"CollectionCallenader":[
	{"Date":"2025-05-12T00:00:00","CollectionType":"General"},
	{"Date":"2025-05-26T00:00:00","CollectionType":"General"},
	{"Date":"2025-07-01T00:00:00","CollectionType":"General"},
	{"Date":"2025-05-01T00:00:00","CollectionType":"Recycling"},
	{"Date":"2025-05-19T00:00:00","CollectionType":"GardenWaste"}
]}`

type harness struct {
	srv      *Server
	coord    *coordinator.Coordinator
	upstream *httptest.Server
	fail     *atomic.Bool
}

func newHarness(t *testing.T, auth *config.BasicAuthConfig) *harness {
	t.Helper()

	fail := &atomic.Bool{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(upstreamBody))
	}))
	t.Cleanup(upstream.Close)

	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.BasicAuth = auth
	cfg.Households = []config.HouseholdConfig{{
		ID:              "100050",
		Name:            "1 High Street",
		Bins:            []string{"General", "Recycling"},
		PollingInterval: 60,
	}}

	c, err := coordinator.New(coordinator.Options{
		Household: "100050",
		Address:   "1 High Street",
		Interval:  time.Hour,
		Location:  time.UTC,
		Fetcher:   schedule.NewFetcher(upstream.URL, time.Second),
		Now:       func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	reg := prom.NewRegistry()
	s := NewServer(cfg, []*coordinator.Coordinator{c}, metrics.HTTPHandler(reg))
	s.now = func() time.Time { return fixedNow }
	t.Cleanup(s.Close)

	return &harness{srv: s, coord: c, upstream: upstream, fail: fail}
}

func (h *harness) do(t *testing.T, method, path string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (h *harness) refresh(t *testing.T) {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/api/households/100050/refresh")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())
}

func TestBasicAuth(t *testing.T) {
	h := newHarness(t, &config.BasicAuthConfig{Username: "admin", Password: "secret"})

	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/health").Code)

	rec := h.do(t, http.MethodGet, "/api/households")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Header().Get("WWW-Authenticate"), `realm="bincal"`)

	rec = h.do(t, http.MethodGet, "/api/households", func(r *http.Request) { r.SetBasicAuth("admin", "wrong") })
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/households", func(r *http.Request) { r.SetBasicAuth("admin", "secret") })
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHouseholdsBeforeFirstRefresh(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodGet, "/api/households")
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[[]householdDTO](t, rec)
	require.Len(t, got, 1)
	require.Equal(t, "100050", got[0].ID)
	require.Equal(t, "idle", got[0].State)
	require.Nil(t, got[0].FetchedAt)
	require.Len(t, got[0].Categories, 2)
	require.Equal(t, "1 High Street - General", got[0].Categories[0].Name)
	require.Empty(t, got[0].Categories[0].Next)

	require.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/households/100050/raw").Code)

	next := decode[map[string]any](t, h.do(t, http.MethodGet, "/api/households/100050/categories/General/next"))
	require.Contains(t, next, "event")
	require.Nil(t, next["event"])
}

func TestRefreshThenQuery(t *testing.T) {
	h := newHarness(t, nil)
	h.refresh(t)

	got := decode[[]householdDTO](t, h.do(t, http.MethodGet, "/api/households"))
	require.Equal(t, "ready", got[0].State)
	require.NotNil(t, got[0].FetchedAt)
	require.Equal(t, "2025-05-12", got[0].Categories[0].Next)
	require.Equal(t, 3, got[0].Categories[0].Upcoming)
	// Recycling only had a past date upstream.
	require.Empty(t, got[0].Categories[1].Next)
	require.Zero(t, got[0].Categories[1].Upcoming)

	type nextResp struct {
		Event *eventDTO `json:"event"`
	}
	next := decode[nextResp](t, h.do(t, http.MethodGet, "/api/households/100050/categories/General/next"))
	require.NotNil(t, next.Event)
	require.Equal(t, "2025-05-12", next.Event.Date)
	require.Equal(t, "General", next.Event.Summary)
	require.Equal(t, "Bin collection", next.Event.Description)

	rec := h.do(t, http.MethodGet, "/api/households/100050/raw")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, upstreamBody, rec.Body.String())
}

func TestEventsRange(t *testing.T) {
	h := newHarness(t, nil)
	h.refresh(t)

	type eventsResp struct {
		Events []eventDTO `json:"events"`
		Start  string     `json:"start"`
		End    string     `json:"end"`
	}

	// Default window is today..today+30d.
	got := decode[eventsResp](t, h.do(t, http.MethodGet, "/api/households/100050/categories/General/events"))
	require.Equal(t, "2025-05-10", got.Start)
	require.Equal(t, "2025-06-09", got.End)
	require.Len(t, got.Events, 2)
	require.Equal(t, "2025-05-12", got.Events[0].Date)
	require.Equal(t, "2025-05-26", got.Events[1].Date)

	// Bounds are inclusive.
	got = decode[eventsResp](t, h.do(t, http.MethodGet, "/api/households/100050/categories/General/events?start=2025-05-26&end=2025-07-01"))
	require.Len(t, got.Events, 2)

	got = decode[eventsResp](t, h.do(t, http.MethodGet, "/api/households/100050/categories/Recycling/events?start=2025-01-01&end=2025-12-31"))
	require.NotNil(t, got.Events)
	require.Empty(t, got.Events)

	for _, q := range []string{"start=tomorrow", "end=2025-13-01", "start=2025-06-01&end=2025-05-01"} {
		rec := h.do(t, http.MethodGet, "/api/households/100050/categories/General/events?"+q)
		require.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestUnknownHouseholdAndCategory(t *testing.T) {
	h := newHarness(t, nil)

	for _, path := range []string{
		"/api/households/999/raw",
		"/api/households/999/categories/General/next",
		"/api/households/100050/categories/GardenWaste/next",
		"/calendar/999/General.ics",
		"/calendar/100050/General.txt",
	} {
		require.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, path).Code, path)
	}
	require.Equal(t, http.StatusNotFound, h.do(t, http.MethodPost, "/api/households/999/refresh").Code)
}

func TestRefreshFailureServesStale(t *testing.T) {
	h := newHarness(t, nil)
	h.refresh(t)

	h.fail.Store(true)
	rec := h.do(t, http.MethodPost, "/api/households/100050/refresh")
	require.Equal(t, http.StatusBadGateway, rec.Code)

	type refreshResp struct {
		Error     string       `json:"error"`
		Household householdDTO `json:"household"`
	}
	got := decode[refreshResp](t, rec)
	require.Contains(t, got.Error, "503")
	require.Equal(t, "failed", got.Household.State)
	require.Equal(t, 1, got.Household.ConsecutiveFailures)
	require.Equal(t, "2025-05-12", got.Household.Categories[0].Next)
}

func TestCalendarFeed(t *testing.T) {
	h := newHarness(t, nil)
	h.refresh(t)

	rec := h.do(t, http.MethodGet, "/calendar/100050/General.ics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Equal(t, fixedNow.Format(http.TimeFormat), rec.Header().Get("Last-Modified"))

	body := rec.Body.String()
	require.Contains(t, body, "X-WR-CALNAME:1 High Street - General")
	require.Contains(t, body, "DTSTART;VALUE=DATE:20250512")
	require.Equal(t, 3, strings.Count(body, "BEGIN:VEVENT"))

	rec = h.do(t, http.MethodGet, "/calendar/100050/General.ics", func(r *http.Request) {
		r.Header.Set("If-Modified-Since", fixedNow.Format(http.TimeFormat))
	})
	require.Equal(t, http.StatusNotModified, rec.Code)

	rec = h.do(t, http.MethodGet, "/calendar/100050/Recycling.ics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "BEGIN:VEVENT")
}

func TestMetricsRoute(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
}
