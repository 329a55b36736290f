package cli

import (
	"bytes"
	"context"
	stderrors "errors"
	"testing"

	"github.com/rileyhilliard/vmctl/internal/dispatch"
	"github.com/rileyhilliard/vmctl/internal/errors"
	"github.com/rileyhilliard/vmctl/internal/lifecycle"
	"github.com/rileyhilliard/vmctl/internal/logger"
	"github.com/rileyhilliard/vmctl/internal/simulator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDispatcher returns a canned result and records what it was sent.
type fakeDispatcher struct {
	result dispatch.Result
	sent   []lifecycle.Command
}

func (f *fakeDispatcher) Dispatch(_ context.Context, cmd lifecycle.Command) dispatch.Result {
	f.sent = append(f.sent, cmd)
	res := f.result
	res.Command = cmd
	return res
}

func TestRunDispatch_StartAgainstSimulator(t *testing.T) {
	setMachineMode(t, false)
	sim, client := startSim(t, "web1:off")

	lc, err := lifecycle.Start(lifecycle.Single("web1"))
	require.NoError(t, err)

	var buf bytes.Buffer
	d := dispatch.New(client, nil, logger.Noop(), nil)
	require.NoError(t, runDispatch(context.Background(), d, lc, &buf))

	assert.Contains(t, buf.String(), "VM web1 started successfully.")
	assert.Equal(t, []bool{true}, runningStates(sim.VMs()))
}

func TestRunDispatch_BulkStopJSON(t *testing.T) {
	setMachineMode(t, true)
	_, client := startSim(t, "web1:on", "web2:on", "db1:on")

	lc, err := lifecycle.Stop(lifecycle.Bulk("web"))
	require.NoError(t, err)

	var buf bytes.Buffer
	d := dispatch.New(client, nil, logger.Noop(), nil)
	require.NoError(t, runDispatch(context.Background(), d, lc, &buf))

	var got actionJSON
	decodeData(t, buf.Bytes(), &got)
	assert.Equal(t, "stop web*", got.Command)
	assert.Equal(t, "stop", got.Verb)
	assert.True(t, got.Bulk)
	assert.Equal(t, "bulk_ok", got.Result)
	assert.ElementsMatch(t, []string{"web1", "web2"}, got.Affected)
}

func TestRunDispatch_UnknownVM(t *testing.T) {
	setMachineMode(t, false)
	_, client := startSim(t, "web1:on")

	lc, err := lifecycle.Delete(lifecycle.Single("web9"))
	require.NoError(t, err)

	var buf bytes.Buffer
	d := dispatch.New(client, nil, logger.Noop(), nil)
	err = runDispatch(context.Background(), d, lc, &buf)

	require.Error(t, err)
	var reported reportedError
	assert.True(t, stderrors.As(err, &reported), "the spinner already printed the failure")
	assert.True(t, errors.IsCode(err, errors.ErrRemote))
	assert.Contains(t, buf.String(), "delete web9 failed")
}

func TestRunDispatch_FailureJSONIsNotReported(t *testing.T) {
	setMachineMode(t, true)
	d := &fakeDispatcher{result: dispatch.Result{
		Kind: dispatch.KindTransportError,
		Err:  errors.New(errors.ErrTransport, "POST /start_vm failed", ""),
	}}

	lc, err := lifecycle.Start(lifecycle.Single("web1"))
	require.NoError(t, err)

	var buf bytes.Buffer
	err = runDispatch(context.Background(), d, lc, &buf)

	require.Error(t, err)
	var reported reportedError
	assert.False(t, stderrors.As(err, &reported), "JSON errors are written by reportError")
	assert.True(t, errors.IsCode(err, errors.ErrTransport))
	assert.Empty(t, buf.String())
	assert.Len(t, d.sent, 1)
}

func TestRunDispatch_InfoStatusFails(t *testing.T) {
	setMachineMode(t, false)
	_, client := startSim(t, "web1:on")

	lc, err := lifecycle.Start(lifecycle.Single("web1"))
	require.NoError(t, err)

	var buf bytes.Buffer
	d := dispatch.New(client, nil, logger.Noop(), nil)
	err = runDispatch(context.Background(), d, lc, &buf)

	require.Error(t, err)
	assert.Contains(t, buf.String(), "already running")
}

func TestResultError(t *testing.T) {
	cause := errors.New(errors.ErrRemote, "VM web1 not found", "")
	assert.Equal(t, cause, resultError(dispatch.Result{Kind: dispatch.KindFailed, Err: cause}))

	lc, err := lifecycle.Stop(lifecycle.Single("web1"))
	require.NoError(t, err)
	got := resultError(dispatch.Result{Kind: dispatch.KindFailed, Command: lc})
	assert.True(t, errors.IsCode(got, errors.ErrRemote))
}

func TestConfirmDelete_NonInteractive(t *testing.T) {
	lc, err := lifecycle.Delete(lifecycle.Bulk("web"))
	require.NoError(t, err)

	ok, err := confirmDelete(lc, false)
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrValidation))
	assert.Contains(t, err.Error(), "Refusing to delete web* without confirmation")
	assert.Contains(t, err.Error(), "--yes")
}

func runningStates(vms []simulator.VM) []bool {
	out := make([]bool, len(vms))
	for i, vm := range vms {
		out[i] = vm.Running
	}
	return out
}
