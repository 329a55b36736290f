package fleet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rileyhilliard/vmctl/internal/controlplane"
	"github.com/rileyhilliard/vmctl/internal/errors"
	"github.com/rileyhilliard/vmctl/internal/logger"
	"github.com/rileyhilliard/vmctl/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLister returns scripted rosters in order, repeating the last one.
type fakeLister struct {
	mu        sync.Mutex
	responses []listResponse
	calls     int
}

type listResponse struct {
	vms []controlplane.VMEntry
	err error
}

func (f *fakeLister) ListVMs(ctx context.Context) ([]controlplane.VMEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i].vms, f.responses[i].err
}

func (f *fakeLister) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingSink struct {
	mu      sync.Mutex
	rosters [][]VMSummary
}

func (r *recordingSink) OnRosterUpdated(vms []VMSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rosters = append(r.rosters, vms)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rosters)
}

func entries(pairs ...string) []controlplane.VMEntry {
	var out []controlplane.VMEntry
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, controlplane.VMEntry{Name: pairs[i], Status: pairs[i+1]})
	}
	return out
}

func TestFromEntries(t *testing.T) {
	got := FromEntries(entries("db1", "on", "web1", "off", "web2", "paused"))
	assert.Equal(t, []VMSummary{
		{Name: "db1", PoweredOn: true},
		{Name: "web1", PoweredOn: false},
		{Name: "web2", PoweredOn: false},
	}, got)

	assert.Empty(t, FromEntries(nil))
}

func TestSortForDisplay(t *testing.T) {
	in := []VMSummary{
		{Name: "web2"},
		{Name: "db1", PoweredOn: true},
		{Name: "app1"},
		{Name: "cache", PoweredOn: true},
	}
	got := SortForDisplay(in)

	assert.Equal(t, []VMSummary{
		{Name: "cache", PoweredOn: true},
		{Name: "db1", PoweredOn: true},
		{Name: "app1"},
		{Name: "web2"},
	}, got)
	assert.Equal(t, "web2", in[0].Name, "input is not reordered")
}

func TestPoller_FirstFetchImmediate(t *testing.T) {
	l := &fakeLister{responses: []listResponse{{vms: entries("db1", "on")}}}
	sink := &recordingSink{}
	p := NewPoller(l, sink, Options{Interval: time.Hour})

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []VMSummary{{Name: "db1", PoweredOn: true}}, p.Roster())
	assert.True(t, p.Fetched())
}

func TestPoller_FailureKeepsPreviousRoster(t *testing.T) {
	l := &fakeLister{responses: []listResponse{
		{vms: entries("db1", "on", "web1", "off")},
		{err: errors.New(errors.ErrTransport, "GET /list_vms failed", "")},
	}}
	sink := &recordingSink{}
	log := logger.NewBufferLogger()
	rec := metrics.New()
	p := NewPoller(l, sink, Options{Interval: 5 * time.Millisecond, Logger: log, Metrics: rec})

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return l.callCount() >= 3 }, time.Second, time.Millisecond)
	p.Stop()

	assert.Equal(t, 1, sink.count(), "failed fetches are not published")
	assert.Equal(t, []VMSummary{{Name: "db1", PoweredOn: true}, {Name: "web1"}}, p.Roster())
	assert.Error(t, p.LastError())
	assert.True(t, log.HasLevel("warn"))
}

func TestPoller_EachSuccessReplacesRoster(t *testing.T) {
	l := &fakeLister{responses: []listResponse{
		{vms: entries("a", "on", "b", "on")},
		{vms: entries("c", "off")},
	}}
	sink := &recordingSink{}
	p := NewPoller(l, sink, Options{Interval: 5 * time.Millisecond})

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return sink.count() >= 2 }, time.Second, time.Millisecond)
	p.Stop()

	assert.Equal(t, []VMSummary{{Name: "c"}}, p.Roster(), "no partial merge with the previous roster")
}

func TestPoller_RefreshBeforeNextTick(t *testing.T) {
	l := &fakeLister{responses: []listResponse{
		{vms: entries("web1", "off")},
		{vms: entries("web1", "on")},
	}}
	sink := &recordingSink{}
	p := NewPoller(l, sink, Options{Interval: time.Hour})

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond)

	p.Refresh()
	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []VMSummary{{Name: "web1", PoweredOn: true}}, p.Roster())
}

func TestPoller_RefreshCollapses(t *testing.T) {
	p := NewPoller(&fakeLister{responses: []listResponse{{}}}, nil, Options{})
	p.Refresh()
	p.Refresh()
	p.Refresh()
	assert.Len(t, p.refresh, 1)
}

func TestPoller_StartTwiceAndStop(t *testing.T) {
	l := &fakeLister{responses: []listResponse{{vms: entries("a", "on")}}}
	p := NewPoller(l, nil, Options{Interval: time.Hour})

	require.NoError(t, p.Start(context.Background()))
	assert.Error(t, p.Start(context.Background()))

	p.Stop()
	p.Stop()

	calls := l.callCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, l.callCount(), "no fetches after Stop")
}

func TestPoller_Run(t *testing.T) {
	l := &fakeLister{responses: []listResponse{{vms: entries("a", "on")}}}
	p := NewPoller(l, nil, Options{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()

	require.Eventually(t, p.Fetched, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPoller_PollOnce(t *testing.T) {
	l := &fakeLister{responses: []listResponse{{vms: entries("db1", "on")}}}
	p := NewPoller(l, nil, Options{})

	require.NoError(t, p.Poll(context.Background()))
	assert.Equal(t, []VMSummary{{Name: "db1", PoweredOn: true}}, p.Roster())
}
