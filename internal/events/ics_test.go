package events

import (
	"bytes"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/require"
)

func TestWriteICSAllDayEvents(t *testing.T) {
	agg := sampleAggregate()
	feed := Feed{
		Name:            "1 High Street - General",
		Timezone:        "Europe/London",
		Events:          AllEvents(agg, "General"),
		Stamp:           time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		RefreshInterval: time.Hour,
	}

	var buf bytes.Buffer
	require.NoError(t, WriteICS(&buf, feed))
	body := buf.String()

	for _, want := range []string{
		"BEGIN:VCALENDAR",
		"METHOD:PUBLISH",
		"X-WR-CALNAME:1 High Street - General",
		"X-WR-TIMEZONE:Europe/London",
		"REFRESH-INTERVAL;VALUE=DURATION:PT60M",
		"X-PUBLISHED-TTL:PT60M",
		"DTSTART;VALUE=DATE:20250303",
		"DTEND;VALUE=DATE:20250304",
		"SUMMARY:General",
		"DESCRIPTION:Bin collection",
		"END:VCALENDAR",
	} {
		require.Contains(t, body, want)
	}

	require.NotContains(t, body, "VALUE=DURATION;VALUE=DURATION")
	require.True(t, strings.HasSuffix(body, "END:VCALENDAR\r\n"))
	require.NotContains(t, strings.ReplaceAll(body, "\r\n", ""), "\n", "every line ends in CRLF")

	// Two upstream entries on the 10th share a UID and collapse into one event.
	require.Equal(t, 3, strings.Count(body, "BEGIN:VEVENT"))
}

func TestWriteICSRoundTripsThroughParser(t *testing.T) {
	agg := sampleAggregate()
	var buf bytes.Buffer
	require.NoError(t, WriteICS(&buf, Feed{Events: AllEvents(agg, "Recycling")}))

	cal, err := ical.ParseCalendar(&buf)
	require.NoError(t, err)

	evs := cal.Events()
	require.Len(t, evs, 1)
	require.Equal(t, EventUID("42", "Recycling", day(12)), evs[0].Id())
	require.Equal(t, "20250312", evs[0].GetProperty(ical.ComponentPropertyDtStart).Value)
	require.Equal(t, "Recycling", evs[0].GetProperty(ical.ComponentPropertySummary).Value)
}

func TestWriteICSEmptyFeed(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteICS(&buf, Feed{Name: "nothing"}))
	require.NotContains(t, buf.String(), "BEGIN:VEVENT")
	require.Contains(t, buf.String(), "END:VCALENDAR")
}
