package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	appLog "bincal/internal/log"
	"bincal/internal/model"
	"bincal/internal/schedule"
)

// NOTE: The household entries are what the council's address wizard used to
// produce (UPRN, address text, bins, polling interval). They are edited by
// hand here; postcode lookup is not part of this program.

const (
	DefaultListen          = "127.0.0.1:8080"
	DefaultTimezone        = "Europe/London"
	DefaultLogLevel        = "info"
	DefaultPollingInterval = 60
	DefaultFetchTimeout    = 15

	MinPollingInterval = 1
	MaxPollingInterval = 1440
)

// DefaultBins are the collection streams the council offers.
var DefaultBins = []string{
	string(model.CategoryGeneral),
	string(model.CategoryRecycling),
	string(model.CategoryGardenWaste),
}

// HouseholdConfig describes one polled address.
type HouseholdConfig struct {
	// ID is the upstream property reference (UPRN) appended to the endpoint.
	ID string `yaml:"id" json:"id"`
	// Name is the address text shown in feed names.
	Name string `yaml:"name" json:"name"`
	// Bins lists the enabled collection categories.
	Bins []string `yaml:"bins" json:"bins"`
	// PollingInterval is the refresh cadence in minutes (1–1440).
	PollingInterval int `yaml:"polling_interval" json:"polling_interval"`
	// Refresh optionally replaces the fixed cadence with a standard cron
	// expression (e.g. "0 6 * * *"). Its longest gap between runs must stay
	// within the polling interval bounds.
	Refresh string `yaml:"refresh,omitempty" json:"refresh,omitempty"`
}

// Interval returns the refresh cadence: the longest gap between runs of
// Refresh when set, PollingInterval otherwise.
func (h HouseholdConfig) Interval() time.Duration {
	if h.Refresh != "" {
		if gap, err := refreshGap(h.Refresh); err == nil {
			return gap
		}
	}
	return time.Duration(h.PollingInterval) * time.Minute
}

// refreshSampleStart anchors the year of firings refreshGap inspects. UTC
// keeps DST shifts from stretching a daily expression past 24h.
var refreshSampleStart = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

// refreshGap returns the longest wait between consecutive runs of expr over
// one year, stopping early once it exceeds MaxPollingInterval.
func refreshGap(expr string) (time.Duration, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return 0, err
	}
	limit := MaxPollingInterval * time.Minute
	end := refreshSampleStart.AddDate(1, 0, 0)

	var longest time.Duration
	for prev := refreshSampleStart; prev.Before(end); {
		next := sched.Next(prev)
		if next.IsZero() {
			return 0, errors.New("expression never fires")
		}
		if gap := next.Sub(prev); gap > longest {
			longest = gap
			if longest > limit {
				break
			}
		}
		prev = next
	}
	return longest, nil
}

// Categories returns Bins as category IDs.
func (h HouseholdConfig) Categories() []model.CategoryID {
	out := make([]model.CategoryID, 0, len(h.Bins))
	for _, b := range h.Bins {
		out = append(out, model.CategoryID(b))
	}
	return out
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API and calendar feeds.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone collection dates are anchored in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Endpoint is the upstream collection-dates base URL.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// FetchTimeoutSeconds bounds each upstream request.
	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds" json:"fetch_timeout_seconds"`

	Households []HouseholdConfig `yaml:"households" json:"households"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:              DefaultListen,
		Timezone:            DefaultTimezone,
		LogLevel:            DefaultLogLevel,
		Endpoint:            schedule.DefaultEndpoint,
		FetchTimeoutSeconds: DefaultFetchTimeout,
		Households:          []HouseholdConfig{},
		BasicAuth:           nil,
	}
}

// Normalize fills in missing/zero values with defaults so partially-filled
// configs still behave. Out-of-range intervals are left for Validate.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Endpoint == "" {
		c.Endpoint = schedule.DefaultEndpoint
	}
	if c.FetchTimeoutSeconds <= 0 {
		c.FetchTimeoutSeconds = DefaultFetchTimeout
	}
	if c.Households == nil {
		c.Households = []HouseholdConfig{}
	}
	for i := range c.Households {
		h := &c.Households[i]
		if h.PollingInterval == 0 {
			h.PollingInterval = DefaultPollingInterval
		}
		if h.Bins == nil {
			h.Bins = append([]string(nil), DefaultBins...)
		}
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	seen := make(map[string]struct{}, len(c.Households))
	for i, h := range c.Households {
		if h.ID == "" {
			return fmt.Errorf("households[%d]: id is empty", i)
		}
		if _, dup := seen[h.ID]; dup {
			return fmt.Errorf("households[%d]: duplicate id %q", i, h.ID)
		}
		seen[h.ID] = struct{}{}
		if h.PollingInterval < MinPollingInterval || h.PollingInterval > MaxPollingInterval {
			return fmt.Errorf("households[%d]: polling_interval %d not within %d..%d minutes",
				i, h.PollingInterval, MinPollingInterval, MaxPollingInterval)
		}
		if h.Refresh != "" {
			gap, err := refreshGap(h.Refresh)
			if err != nil {
				return fmt.Errorf("households[%d]: refresh %q: %w", i, h.Refresh, err)
			}
			if gap > MaxPollingInterval*time.Minute {
				return fmt.Errorf("households[%d]: refresh %q: runs up to %s apart, more than %d minutes",
					i, h.Refresh, gap, MaxPollingInterval)
			}
		}
		for _, b := range h.Bins {
			if b == "" {
				return fmt.Errorf("households[%d]: empty bin name", i)
			}
		}
	}
	return nil
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", c.Timezone)
		return time.Local
	}
	return loc
}

// FetchTimeout returns FetchTimeoutSeconds as a duration.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// Household looks up a household by id.
func (c *Config) Household(id string) (HouseholdConfig, bool) {
	for _, h := range c.Households {
		if h.ID == id {
			return h, true
		}
	}
	return HouseholdConfig{}, false
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults and validate
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".bincal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
