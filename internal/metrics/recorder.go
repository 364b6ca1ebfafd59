// Package metrics exposes refresh observability hooks. Components take a
// Recorder and default to NoopRecorder, so metrics stay optional.
package metrics

import "time"

// ResultLabel enumerates refresh outcomes for counters.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultFailed  ResultLabel = "failed"
)

// Recorder defines the hooks the coordinator calls around each refresh.
type Recorder interface {
	ObserveRefreshDuration(household string, d time.Duration)
	IncRefreshResult(household string, result ResultLabel)
	IncSharedRefresh(household string)
	AddDroppedEntries(household string, n int)
	SetUpcoming(household, category string, n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not wired).
type NoopRecorder struct{}

func (NoopRecorder) ObserveRefreshDuration(string, time.Duration) {}
func (NoopRecorder) IncRefreshResult(string, ResultLabel)         {}
func (NoopRecorder) IncSharedRefresh(string)                      {}
func (NoopRecorder) AddDroppedEntries(string, int)                {}
func (NoopRecorder) SetUpcoming(string, string, int)              {}
