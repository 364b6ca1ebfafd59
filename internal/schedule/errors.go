package schedule

import (
	"fmt"

	"bincal/internal/model"
)

// FetchKind classifies why a retrieval failed.
type FetchKind string

const (
	KindRequest   FetchKind = "request"
	KindNetwork   FetchKind = "network"
	KindTimeout   FetchKind = "timeout"
	KindStatus    FetchKind = "status"
	KindMalformed FetchKind = "malformed"
)

// FetchError is returned by Fetcher.Fetch. It is fatal to one refresh
// attempt only.
type FetchError struct {
	Kind       FetchKind
	Household  model.HouseholdID
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("fetch %s: %s: upstream returned %d", e.Household, e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.Household, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError describes a single schedule entry whose date could not be read.
// It never leaves this package; Normalize logs it and drops the entry.
type ParseError struct {
	Category model.CategoryID
	Text     string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q date %q: %v", e.Category, e.Text, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
