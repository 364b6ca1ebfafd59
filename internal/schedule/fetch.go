package schedule

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	appLog "bincal/internal/log"
	"bincal/internal/model"
)

const (
	// DefaultEndpoint is the council's collection-dates API; the household
	// UPRN is appended as the last path segment.
	DefaultEndpoint = "https://www.cravendc.gov.uk/Umbraco/Api/NLPGAddressLookup/GetWasteCollectionDates2/"

	DefaultTimeout = 15 * time.Second

	maxBodyBytes = 1 << 20
)

// UserAgent is sent with every upstream request.
var UserAgent = "bincal/0.1.0"

// collectionResponse mirrors the upstream JSON. The key is spelled the way
// the council spells it.
type collectionResponse struct {
	Collections *[]collectionEntry `json:"CollectionCallenader"`
}

type collectionEntry struct {
	Date           string `json:"Date"`
	CollectionType string `json:"CollectionType"`
}

// Fetcher retrieves the raw schedule for a household. It performs exactly one
// request per call: no retries and no caching.
type Fetcher struct {
	client  *http.Client
	baseURL string
}

// NewFetcher creates a Fetcher against baseURL. A non-positive timeout uses
// DefaultTimeout.
func NewFetcher(baseURL string, timeout time.Duration) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultEndpoint
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
	}
}

// URLFor returns the request URL for household.
func (f *Fetcher) URLFor(household model.HouseholdID) string {
	return f.baseURL + url.PathEscape(string(household))
}

// Fetch issues a single GET for household and decodes the payload.
// Every failure is a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, household model.HouseholdID) (*model.RawPayload, error) {
	if household == "" {
		return nil, &FetchError{Kind: KindRequest, Household: household, Err: errors.New("household id is empty")}
	}

	target := f.URLFor(household)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindRequest, Household: household, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	appLog.Debug("schedule fetch start", "household", household, "url", redactURL(target))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: classify(err), Household: household, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{
			Kind:       KindStatus,
			Household:  household,
			StatusCode: resp.StatusCode,
			Err:        errors.New(resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, &FetchError{Kind: classify(err), Household: household, Err: err}
	}
	if len(body) > maxBodyBytes {
		return nil, &FetchError{Kind: KindMalformed, Household: household, Err: fmt.Errorf("body exceeds %d bytes", maxBodyBytes)}
	}

	payload, err := decodePayload(body)
	if err != nil {
		return nil, &FetchError{Kind: KindMalformed, Household: household, Err: err}
	}

	appLog.Info("schedule fetch success", "household", household, "status", resp.StatusCode, "entries", len(payload.Entries))
	return payload, nil
}

func decodePayload(body []byte) (*model.RawPayload, error) {
	var parsed collectionResponse
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	if parsed.Collections == nil {
		return nil, errors.New(`missing "CollectionCallenader" list`)
	}

	entries := make([]model.RawEntry, 0, len(*parsed.Collections))
	for _, e := range *parsed.Collections {
		entries = append(entries, model.RawEntry{
			Category: model.CategoryID(e.CollectionType),
			DateText: e.Date,
		})
	}

	return &model.RawPayload{
		Entries: entries,
		Body:    json.RawMessage(bytes.Clone(body)),
	}, nil
}

func classify(err error) FetchKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}

// redactURL keeps only scheme and host. Callers that need the household log
// it as its own field.
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "schedule://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
