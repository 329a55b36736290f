// Package dispatch sends lifecycle commands to the control plane and turns
// the response into a Result. A successful command triggers an immediate
// roster refresh.
package dispatch

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rileyhilliard/vmctl/internal/controlplane"
	"github.com/rileyhilliard/vmctl/internal/errors"
	"github.com/rileyhilliard/vmctl/internal/lifecycle"
	"github.com/rileyhilliard/vmctl/internal/logger"
	"github.com/rileyhilliard/vmctl/internal/metrics"
	"github.com/rileyhilliard/vmctl/internal/util"
)

// Kind classifies a dispatch outcome.
type Kind int

const (
	// KindOK is a successful single-VM command.
	KindOK Kind = iota
	// KindBulkOK is a successful command that may have touched several VMs.
	KindBulkOK
	// KindFailed means the control plane answered with a non-success status.
	KindFailed
	// KindTransportError means no usable answer came back.
	KindTransportError
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindBulkOK:
		return "bulk_ok"
	case KindFailed:
		return "failed"
	case KindTransportError:
		return "transport_error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is the outcome of one dispatch.
type Result struct {
	Kind    Kind
	Command lifecycle.Command
	// Status is the control plane's status string, e.g. "info" for a VM
	// that was already running. Empty for transport errors.
	Status string
	// Message is the control plane's message, or a summary for bulk results.
	Message string
	// Affected lists the VMs a bulk command touched.
	Affected []string
	// Err is set for KindFailed (REMOTE) and KindTransportError (TRANSPORT).
	Err error
}

// OK reports whether the command succeeded.
func (r Result) OK() bool {
	return r.Kind == KindOK || r.Kind == KindBulkOK
}

// Summary is a one-line description for status bars and CLI output.
func (r Result) Summary() string {
	switch r.Kind {
	case KindOK:
		if r.Message != "" {
			return r.Message
		}
		return fmt.Sprintf("%s: done", r.Command)
	case KindBulkOK:
		return fmt.Sprintf("%s: %s", r.Command, util.JoinOrDefault(r.Affected, "no matching VMs"))
	default:
		return fmt.Sprintf("%s failed: %s", r.Command, errors.Short(r.Err))
	}
}

// Sender posts a payload. *controlplane.Client implements it.
type Sender interface {
	Send(ctx context.Context, path string, payload any) (*controlplane.ActionResponse, error)
}

// Refresher is poked after every successful command. *fleet.Poller
// implements it.
type Refresher interface {
	Refresh()
}

// Dispatcher sends commands. It holds no per-command state, so concurrent
// Dispatch calls are fine.
type Dispatcher struct {
	sender    Sender
	refresher Refresher
	log       logger.Logger
	metrics   *metrics.Recorder
}

// New creates a Dispatcher. refresher may be nil.
func New(sender Sender, refresher Refresher, log logger.Logger, rec *metrics.Recorder) *Dispatcher {
	if log == nil {
		log = logger.Noop()
	}
	return &Dispatcher{sender: sender, refresher: refresher, log: log, metrics: rec}
}

// Dispatch sends cmd once. Lifecycle commands are never retried.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd lifecycle.Command) Result {
	res := d.dispatch(ctx, cmd)
	d.metrics.Dispatch(string(cmd.Verb), res.Kind.String())

	if res.OK() {
		d.log.Info("%s", res.Summary())
		if d.refresher != nil {
			d.refresher.Refresh()
		}
	} else {
		d.log.Warn("%s", res.Summary())
	}
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, cmd lifecycle.Command) Result {
	resp, err := d.sender.Send(ctx, cmd.Path(), cmd.Payload())
	if err != nil {
		if !errors.IsCode(err, errors.ErrTransport) {
			err = errors.WrapWithCode(err, errors.ErrTransport, fmt.Sprintf("%s: request failed", cmd), "")
		}
		return Result{Kind: KindTransportError, Command: cmd, Err: err}
	}

	res := Result{Command: cmd, Status: resp.Status, Message: resp.Message}

	if !succeeded(resp) {
		msg := resp.Message
		if msg == "" {
			msg = fmt.Sprintf("status %q (HTTP %d)", resp.Status, resp.HTTPStatus)
		}
		res.Kind = KindFailed
		res.Err = errors.New(errors.ErrRemote, msg, "")
		return res
	}

	if !cmd.IsBulk() {
		res.Kind = KindOK
		return res
	}

	res.Kind = KindBulkOK
	res.Affected = resp.Affected()
	if res.Affected == nil && cmd.Verb == lifecycle.VerbCreate {
		// /create_vm only answers with a message
		res.Affected = cmd.Names()
	}
	return res
}

// succeeded treats a 2xx response without a status field as success; the
// create endpoint answers that way.
func succeeded(resp *controlplane.ActionResponse) bool {
	if resp.Status == "" {
		return resp.HTTPStatus >= http.StatusOK && resp.HTTPStatus < http.StatusMultipleChoices
	}
	return resp.Status == controlplane.StatusSuccess
}
