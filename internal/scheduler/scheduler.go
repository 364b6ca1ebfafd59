package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	appLog "bincal/internal/log"
	"bincal/internal/model"
)

// maxParallelRefreshes bounds RefreshAll's concurrent upstream calls.
const maxParallelRefreshes = 4

// Refresher is the part of a coordinator the driver needs.
type Refresher interface {
	Household() model.HouseholdID
	Interval() time.Duration
	RequestRefresh(ctx context.Context) (*model.Aggregate, error)
}

// Driver fires RequestRefresh on each registered refresher's cadence. Ticks
// that land while a refresh is still running collapse into it inside the
// coordinator; the driver does not queue them.
type Driver struct {
	ctx  context.Context
	cron *cron.Cron

	mu         sync.Mutex
	refreshers []Refresher
}

// New creates a stopped driver. ctx is passed to every scheduled refresh.
func New(ctx context.Context) *Driver {
	logger := appLog.CronLogger{}
	return &Driver{
		ctx: ctx,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger)),
		),
	}
}

// Add registers r. An empty spec schedules every r.Interval(); otherwise spec
// is a standard cron expression or descriptor such as "@daily".
func (d *Driver) Add(r Refresher, spec string) (cron.EntryID, error) {
	job := cron.FuncJob(func() { d.run(r) })

	var (
		id  cron.EntryID
		err error
	)
	if spec == "" {
		if r.Interval() <= 0 {
			return 0, fmt.Errorf("scheduler: household %s has no interval", r.Household())
		}
		id = d.cron.Schedule(cron.Every(r.Interval()), job)
		spec = "@every " + r.Interval().String()
	} else {
		id, err = d.cron.AddJob(spec, job)
		if err != nil {
			return 0, fmt.Errorf("scheduler: household %s: %w", r.Household(), err)
		}
	}

	d.mu.Lock()
	d.refreshers = append(d.refreshers, r)
	d.mu.Unlock()

	appLog.Info("refresh scheduled", "household", r.Household(), "schedule", spec)
	return id, nil
}

func (d *Driver) run(r Refresher) {
	if d.ctx.Err() != nil {
		return
	}
	if _, err := r.RequestRefresh(d.ctx); err != nil {
		// The coordinator already logged the failure details.
		appLog.Debug("scheduled refresh failed", "household", r.Household(), "err", err)
	}
}

// Start begins firing scheduled refreshes in the background.
func (d *Driver) Start() {
	d.cron.Start()
}

// Stop halts the schedule and waits for running refreshes to return.
func (d *Driver) Stop() {
	<-d.cron.Stop().Done()
}

// RefreshAll refreshes every registered household once, a few at a time,
// and returns the joined errors.
func (d *Driver) RefreshAll(ctx context.Context) error {
	d.mu.Lock()
	refreshers := append([]Refresher(nil), d.refreshers...)
	d.mu.Unlock()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(maxParallelRefreshes)
	for _, r := range refreshers {
		r := r
		g.Go(func() error {
			if _, err := r.RequestRefresh(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("household %s: %w", r.Household(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
