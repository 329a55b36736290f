package dispatch

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rileyhilliard/vmctl/internal/controlplane"
	"github.com/rileyhilliard/vmctl/internal/errors"
	"github.com/rileyhilliard/vmctl/internal/fleet"
	"github.com/rileyhilliard/vmctl/internal/lifecycle"
	"github.com/rileyhilliard/vmctl/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSender records what was sent and answers with a fixed response.
type fakeSender struct {
	mu       sync.Mutex
	resp     *controlplane.ActionResponse
	err      error
	paths    []string
	payloads []any
}

func (f *fakeSender) Send(ctx context.Context, path string, payload any) (*controlplane.ActionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	f.payloads = append(f.payloads, payload)
	return f.resp, f.err
}

type countingRefresher struct{ n atomic.Int32 }

func (c *countingRefresher) Refresh() { c.n.Add(1) }

func mustCmd(t *testing.T) func(lifecycle.Command, error) lifecycle.Command {
	return func(cmd lifecycle.Command, err error) lifecycle.Command {
		t.Helper()
		require.NoError(t, err)
		return cmd
	}
}

func TestDispatch_Outcomes(t *testing.T) {
	createThree := func(t *testing.T) lifecycle.Command {
		return mustCmd(t)(lifecycle.Create(lifecycle.BulkCreateSpec{BaseName: "web", Count: 3, MemoryMB: 512, CPUs: 1}))
	}
	createOne := func(t *testing.T) lifecycle.Command {
		return mustCmd(t)(lifecycle.Create(lifecycle.BulkCreateSpec{BaseName: "db", Count: 1, MemoryMB: 512, CPUs: 1}))
	}
	startOne := func(t *testing.T) lifecycle.Command { return mustCmd(t)(lifecycle.Start(lifecycle.Single("web1"))) }
	stopBulk := func(t *testing.T) lifecycle.Command { return mustCmd(t)(lifecycle.Stop(lifecycle.Bulk("web"))) }

	tests := []struct {
		name        string
		cmd         func(t *testing.T) lifecycle.Command
		resp        *controlplane.ActionResponse
		err         error
		kind        Kind
		message     string
		affected    []string
		errCode     string
		refreshes   int32
		summaryPart string
	}{
		{
			name:        "single success",
			cmd:         startOne,
			resp:        &controlplane.ActionResponse{Status: "success", Message: "VM web1 started", HTTPStatus: 200},
			kind:        KindOK,
			message:     "VM web1 started",
			refreshes:   1,
			summaryPart: "VM web1 started",
		},
		{
			name:        "bulk success uses the control plane list",
			cmd:         stopBulk,
			resp:        &controlplane.ActionResponse{Status: "success", StoppedVMs: []string{"web1", "web2"}, HTTPStatus: 200},
			kind:        KindBulkOK,
			affected:    []string{"web1", "web2"},
			refreshes:   1,
			summaryPart: "stop web*: web1, web2",
		},
		{
			name:        "bulk success with no matches",
			cmd:         stopBulk,
			resp:        &controlplane.ActionResponse{Status: "success", StoppedVMs: []string{}, HTTPStatus: 200},
			kind:        KindBulkOK,
			affected:    []string{},
			refreshes:   1,
			summaryPart: "no matching VMs",
		},
		{
			name:        "create without status on 2xx",
			cmd:         createThree,
			resp:        &controlplane.ActionResponse{Message: "VMs created", HTTPStatus: 201},
			kind:        KindBulkOK,
			message:     "VMs created",
			affected:    []string{"web1", "web2", "web3"},
			refreshes:   1,
			summaryPart: "web1, web2, web3",
		},
		{
			name:        "single create",
			cmd:         createOne,
			resp:        &controlplane.ActionResponse{Status: "success", Message: "VM db1 created", HTTPStatus: 200},
			kind:        KindOK,
			message:     "VM db1 created",
			refreshes:   1,
			summaryPart: "VM db1 created",
		},
		{
			name:        "error status",
			cmd:         createOne,
			resp:        &controlplane.ActionResponse{Status: "error", Message: "VM db1 already exists", HTTPStatus: 400},
			kind:        KindFailed,
			message:     "VM db1 already exists",
			errCode:     errors.ErrRemote,
			summaryPart: "create db1 failed: VM db1 already exists",
		},
		{
			name:        "info status is not success",
			cmd:         startOne,
			resp:        &controlplane.ActionResponse{Status: "info", Message: "VM web1 is already running", HTTPStatus: 200},
			kind:        KindFailed,
			message:     "VM web1 is already running",
			errCode:     errors.ErrRemote,
			summaryPart: "already running",
		},
		{
			name:        "no status on error response",
			cmd:         startOne,
			resp:        &controlplane.ActionResponse{HTTPStatus: http.StatusInternalServerError},
			kind:        KindFailed,
			errCode:     errors.ErrRemote,
			summaryPart: "HTTP 500",
		},
		{
			name:        "transport error",
			cmd:         stopBulk,
			err:         errors.Wrap(context.DeadlineExceeded, "POST /stop_vm failed"),
			kind:        KindTransportError,
			errCode:     errors.ErrTransport,
			summaryPart: "POST /stop_vm failed",
		},
		{
			name:        "untyped transport error",
			cmd:         startOne,
			err:         context.Canceled,
			kind:        KindTransportError,
			errCode:     errors.ErrTransport,
			summaryPart: "request failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{resp: tt.resp, err: tt.err}
			refresher := &countingRefresher{}
			d := New(sender, refresher, logger.NewBufferLogger(), nil)

			cmd := tt.cmd(t)
			res := d.Dispatch(context.Background(), cmd)

			assert.Equal(t, tt.kind, res.Kind)
			assert.Equal(t, tt.message, res.Message)
			assert.Equal(t, tt.affected, res.Affected)
			assert.Equal(t, tt.refreshes, refresher.n.Load())
			assert.Contains(t, res.Summary(), tt.summaryPart)
			if tt.errCode != "" {
				assert.True(t, errors.IsCode(res.Err, tt.errCode), "got %v", res.Err)
				assert.False(t, res.OK())
			} else {
				assert.NoError(t, res.Err)
				assert.True(t, res.OK())
			}

			require.Len(t, sender.paths, 1, "never retried")
			assert.Equal(t, cmd.Path(), sender.paths[0])
		})
	}
}

func TestDispatch_SendsPayload(t *testing.T) {
	sender := &fakeSender{resp: &controlplane.ActionResponse{Status: "success", HTTPStatus: 200}}
	d := New(sender, nil, nil, nil)

	cmd := mustCmd(t)(lifecycle.Delete(lifecycle.Bulk("web")))
	res := d.Dispatch(context.Background(), cmd)

	assert.Equal(t, KindBulkOK, res.Kind)
	assert.Equal(t, &lifecycle.PowerRequest{BaseName: "web", Bulk: true}, sender.payloads[0])
}

// A successful command refreshes a real poller well before its next tick.
func TestDispatch_RefreshesRoster(t *testing.T) {
	var lists atomic.Int32
	lister := listerFunc(func(ctx context.Context) ([]controlplane.VMEntry, error) {
		if lists.Add(1) == 1 {
			return []controlplane.VMEntry{{Name: "web1", Status: "off"}}, nil
		}
		return []controlplane.VMEntry{{Name: "web1", Status: "on"}}, nil
	})
	poller := fleet.NewPoller(lister, nil, fleet.Options{Interval: time.Hour})
	require.NoError(t, poller.Start(context.Background()))
	defer poller.Stop()
	require.Eventually(t, poller.Fetched, time.Second, time.Millisecond)

	sender := &fakeSender{resp: &controlplane.ActionResponse{Status: "success", Message: "VM web1 started", HTTPStatus: 200}}
	d := New(sender, poller, nil, nil)
	res := d.Dispatch(context.Background(), mustCmd(t)(lifecycle.Start(lifecycle.Single("web1"))))
	require.True(t, res.OK())

	require.Eventually(t, func() bool {
		r := poller.Roster()
		return len(r) == 1 && r[0].PoweredOn
	}, time.Second, time.Millisecond)
}

func TestDispatch_FailureDoesNotRefresh(t *testing.T) {
	refresher := &countingRefresher{}
	sender := &fakeSender{resp: &controlplane.ActionResponse{Status: "error", Message: "nope", HTTPStatus: 400}}
	d := New(sender, refresher, nil, nil)

	d.Dispatch(context.Background(), mustCmd(t)(lifecycle.Stop(lifecycle.Single("web1"))))
	assert.Equal(t, int32(0), refresher.n.Load())
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "ok", KindOK.String())
	assert.Equal(t, "bulk_ok", KindBulkOK.String())
	assert.Equal(t, "failed", KindFailed.String())
	assert.Equal(t, "transport_error", KindTransportError.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}

type listerFunc func(ctx context.Context) ([]controlplane.VMEntry, error)

func (f listerFunc) ListVMs(ctx context.Context) ([]controlplane.VMEntry, error) { return f(ctx) }
