package telemetry

import (
	"context"
	"strings"
	"sync"

	"github.com/rileyhilliard/vmctl/internal/errors"
)

// Inspector owns the single live Session. Selecting a VM cancels whatever
// session was running before starting a new one, so at most one session is
// ever active through a given Inspector.
type Inspector struct {
	fetcher Fetcher
	sink    Sink
	opts    Options

	// selectMu serializes Select and Clear; mu guards current.
	selectMu sync.Mutex
	mu       sync.Mutex
	current  *Session
}

// NewInspector creates an Inspector whose sessions share fetcher, sink and opts.
func NewInspector(fetcher Fetcher, sink Sink, opts Options) *Inspector {
	return &Inspector{
		fetcher: fetcher,
		sink:    sink,
		opts:    opts,
	}
}

// Select cancels the current session, if any, and starts one for vm.
// Selecting the same VM again restarts it with empty windows.
func (i *Inspector) Select(ctx context.Context, vm string) (*Session, error) {
	vm = strings.TrimSpace(vm)
	if vm == "" {
		return nil, errors.New(errors.ErrValidation,
			"No VM selected",
			"Pick a VM from the roster")
	}

	i.selectMu.Lock()
	defer i.selectMu.Unlock()

	i.cancelCurrent()

	s := NewSession(vm, i.fetcher, i.sink, i.opts)
	if err := s.Start(ctx); err != nil {
		return nil, err
	}

	i.mu.Lock()
	i.current = s
	i.mu.Unlock()
	return s, nil
}

// Current returns the VM being inspected.
func (i *Inspector) Current() (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.current == nil {
		return "", false
	}
	return i.current.VM(), true
}

// Session returns the live session, or nil.
func (i *Inspector) Session() *Session {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.current
}

// Clear cancels the current session without starting another.
func (i *Inspector) Clear() {
	i.selectMu.Lock()
	defer i.selectMu.Unlock()
	i.cancelCurrent()
}

// Close tears down the inspector. It is the same as Clear.
func (i *Inspector) Close() {
	i.Clear()
}

// cancelCurrent must be called with selectMu held. The session is cancelled
// outside mu so a sink calling Current doesn't deadlock.
func (i *Inspector) cancelCurrent() {
	i.mu.Lock()
	prev := i.current
	i.current = nil
	i.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}
}
