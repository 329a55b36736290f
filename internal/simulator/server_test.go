package simulator

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rileyhilliard/vmctl/internal/controlplane"
	"github.com/rileyhilliard/vmctl/internal/dispatch"
	"github.com/rileyhilliard/vmctl/internal/errors"
	"github.com/rileyhilliard/vmctl/internal/fleet"
	"github.com/rileyhilliard/vmctl/internal/lifecycle"
	"github.com/rileyhilliard/vmctl/internal/logger"
	"github.com/rileyhilliard/vmctl/internal/metrics"
	"github.com/rileyhilliard/vmctl/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startSim(t *testing.T, opts Options) (*Server, *controlplane.Client, string) {
	t.Helper()
	sim := New(opts)
	srv := httptest.NewServer(sim.Handler())
	t.Cleanup(srv.Close)
	return sim, controlplane.NewClient(srv.URL, controlplane.Options{Timeout: 2 * time.Second}), srv.URL
}

func TestRosterEndToEnd(t *testing.T) {
	sim, client, _ := startSim(t, Options{Seed: 1})
	require.NoError(t, sim.Add("db1", true))
	require.NoError(t, sim.Add("web1", false))

	p := fleet.NewPoller(client, nil, fleet.Options{})
	require.NoError(t, p.Poll(context.Background()))

	assert.Equal(t, []fleet.VMSummary{
		{Name: "db1", PoweredOn: true},
		{Name: "web1", PoweredOn: false},
	}, p.Roster())
}

func TestStatsEndToEnd(t *testing.T) {
	for _, strs := range []bool{false, true} {
		sim, client, _ := startSim(t, Options{Seed: 7, NumericStrings: strs})
		require.NoError(t, sim.Add("web1", true))

		raw, err := client.VMStats(context.Background(), "web1")
		require.NoError(t, err)
		if strs {
			assert.True(t, strings.HasPrefix(string(raw.CPULoad), `"`))
		}

		s, err := telemetry.ParseSample("web1", raw, time.Now())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, s.CPULoadPercent, 0.0)
		assert.LessOrEqual(t, s.CPULoadPercent, 100.0)
		assert.Equal(t, s.CPULoadPercent, float64(int(s.CPULoadPercent*100+0.5))/100, "cpu is rounded to 2 decimals")
		assert.True(t, s.HasMemoryMax)
		assert.Equal(t, 1024.0, s.MemoryMaxMB)
		assert.True(t, s.HasNetwork)
	}
}

func TestStats_NotRunningAndUnknown(t *testing.T) {
	sim, client, _ := startSim(t, Options{Seed: 1})
	require.NoError(t, sim.Add("web1", false))

	_, err := client.VMStats(context.Background(), "web1")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrRemote))
	assert.Contains(t, err.Error(), "VM web1 is not running")

	_, err = client.VMStats(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLifecycleEndToEnd(t *testing.T) {
	_, client, _ := startSim(t, Options{Seed: 3})
	d := dispatch.New(client, nil, logger.NewBufferLogger(), nil)
	ctx := context.Background()

	create, err := lifecycle.Create(lifecycle.BulkCreateSpec{BaseName: "web", Count: 3, MemoryMB: 512, CPUs: 1})
	require.NoError(t, err)
	res := d.Dispatch(ctx, create)
	require.Equal(t, dispatch.KindBulkOK, res.Kind, res.Summary())
	assert.Equal(t, []string{"web1", "web2", "web3"}, res.Affected)

	again := d.Dispatch(ctx, create)
	assert.Equal(t, dispatch.KindFailed, again.Kind)
	assert.Contains(t, again.Message, "already exists")

	startOne, _ := lifecycle.Start(lifecycle.Single("web2"))
	res = d.Dispatch(ctx, startOne)
	assert.Equal(t, dispatch.KindOK, res.Kind)
	assert.Equal(t, "VM web2 started successfully.", res.Message)

	res = d.Dispatch(ctx, startOne)
	assert.Equal(t, dispatch.KindFailed, res.Kind)
	assert.Equal(t, controlplane.StatusInfo, res.Status)

	startAll, _ := lifecycle.Start(lifecycle.Bulk("web"))
	res = d.Dispatch(ctx, startAll)
	assert.Equal(t, dispatch.KindBulkOK, res.Kind)
	assert.Equal(t, []string{"web1", "web3"}, res.Affected, "only VMs that changed state are reported")

	stopAll, _ := lifecycle.Stop(lifecycle.Bulk("web"))
	res = d.Dispatch(ctx, stopAll)
	assert.Equal(t, []string{"web1", "web2", "web3"}, res.Affected)

	stopOne, _ := lifecycle.Stop(lifecycle.Single("web1"))
	res = d.Dispatch(ctx, stopOne)
	assert.Equal(t, controlplane.StatusInfo, res.Status)

	delOne, _ := lifecycle.Delete(lifecycle.Single("web1"))
	res = d.Dispatch(ctx, delOne)
	assert.Equal(t, dispatch.KindOK, res.Kind)

	delAll, _ := lifecycle.Delete(lifecycle.Bulk("web"))
	res = d.Dispatch(ctx, delAll)
	assert.Equal(t, []string{"web2", "web3"}, res.Affected)

	res = d.Dispatch(ctx, delAll)
	assert.Equal(t, dispatch.KindBulkOK, res.Kind)
	assert.Empty(t, res.Affected)
	assert.Contains(t, res.Summary(), "no matching VMs")

	vms, err := client.ListVMs(ctx)
	require.NoError(t, err)
	assert.Empty(t, vms)
}

func TestCreate_SingleObjectAndDefaults(t *testing.T) {
	sim, client, _ := startSim(t, Options{Seed: 1})

	resp, err := client.Send(context.Background(), controlplane.PathCreateVM, map[string]any{"vm_name": "db1"})
	require.NoError(t, err)
	assert.Equal(t, controlplane.StatusSuccess, resp.Status)
	assert.Equal(t, "VM db1 created successfully.", resp.Message)

	vms := sim.VMs()
	require.Len(t, vms, 1)
	assert.Equal(t, 1024, vms[0].MemoryMB)
	assert.Equal(t, 2, vms[0].CPUs)
	assert.NotEmpty(t, vms[0].UUID)
	assert.False(t, vms[0].Running)
}

func TestCreate_ArrayIsAllOrNothing(t *testing.T) {
	sim, client, _ := startSim(t, Options{Seed: 1})
	require.NoError(t, sim.Add("web2", false))

	resp, err := client.Send(context.Background(), controlplane.PathCreateVM, []map[string]any{
		{"vm_name": "web1"}, {"vm_name": "web2"},
	})
	require.NoError(t, err)
	assert.Equal(t, controlplane.StatusError, resp.Status)
	assert.Equal(t, http.StatusBadRequest, resp.HTTPStatus)
	assert.Len(t, sim.VMs(), 1)
}

func TestBadJSON(t *testing.T) {
	_, _, url := startSim(t, Options{Seed: 1})

	resp, err := http.Post(url+controlplane.PathStartVM, "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBulk_RequiresBaseName(t *testing.T) {
	sim, client, _ := startSim(t, Options{Seed: 1})
	require.NoError(t, sim.Add("web1", true))
	require.NoError(t, sim.Add("db1", false))

	for _, path := range []string{controlplane.PathStartVM, controlplane.PathStopVM, controlplane.PathDeleteVM} {
		for _, body := range []map[string]any{
			{"bulk": true},
			{"bulk": true, "base_name": "  "},
		} {
			resp, err := client.Send(context.Background(), path, body)
			require.NoError(t, err, path)
			assert.Equal(t, http.StatusBadRequest, resp.HTTPStatus, path)
			assert.Equal(t, controlplane.StatusError, resp.Status, path)
			assert.Contains(t, resp.Message, "base_name", path)
		}
	}

	vms := sim.VMs()
	require.Len(t, vms, 2)
	assert.True(t, vms[0].Running)
	assert.False(t, vms[1].Running)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := metrics.New()
	sim, client, url := startSim(t, Options{Seed: 1, Metrics: rec})
	require.NoError(t, sim.Add("db1", true))

	_, err := client.ListVMs(context.Background())
	require.NoError(t, err)

	resp, err := http.Get(url + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `vmctl_simulator_requests_total{method="GET",path="/list_vms",status="200"} 1`)
}

func TestListenAndServe_StopsWithContext(t *testing.T) {
	sim := New(Options{Seed: 1})
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- sim.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}
