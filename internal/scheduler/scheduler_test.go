package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bincal/internal/model"
)

type fakeRefresher struct {
	id       model.HouseholdID
	interval time.Duration
	err      error
	calls    atomic.Int32
}

func (f *fakeRefresher) Household() model.HouseholdID { return f.id }
func (f *fakeRefresher) Interval() time.Duration      { return f.interval }

func (f *fakeRefresher) RequestRefresh(ctx context.Context) (*model.Aggregate, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &model.Aggregate{Household: f.id}, nil
}

func TestRefreshAllJoinsErrors(t *testing.T) {
	boom := errors.New("upstream down")
	ok := &fakeRefresher{id: "1", interval: time.Hour}
	bad := &fakeRefresher{id: "2", interval: time.Hour, err: boom}
	d := New(context.Background())

	_, err := d.Add(ok, "")
	require.NoError(t, err)
	_, err = d.Add(bad, "0 6 * * *")
	require.NoError(t, err)

	err = d.RefreshAll(context.Background())

	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "household 2")
	require.NotContains(t, err.Error(), "household 1")
	require.Equal(t, int32(1), ok.calls.Load())
	require.Equal(t, int32(1), bad.calls.Load())
}

func TestRefreshAllEmpty(t *testing.T) {
	require.NoError(t, New(context.Background()).RefreshAll(context.Background()))
}

func TestAddRejectsBadSchedules(t *testing.T) {
	d := New(context.Background())

	_, err := d.Add(&fakeRefresher{id: "1"}, "")
	require.ErrorContains(t, err, "no interval")

	_, err = d.Add(&fakeRefresher{id: "1", interval: time.Hour}, "every morning")
	require.Error(t, err)
	require.ErrorContains(t, err, "household 1")
}

func TestScheduledRefreshFires(t *testing.T) {
	r := &fakeRefresher{id: "1", interval: time.Hour, err: errors.New("ignored")}
	d := New(context.Background())
	_, err := d.Add(r, "@every 1s")
	require.NoError(t, err)

	d.Start()
	defer d.Stop()

	require.Eventually(t, func() bool { return r.calls.Load() > 0 }, 3*time.Second, 20*time.Millisecond)
}

func TestCancelledContextSkipsRefresh(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &fakeRefresher{id: "1", interval: time.Hour}
	d := New(ctx)

	d.run(r)

	require.Zero(t, r.calls.Load())
}
