// Package fleet keeps a local copy of the VM roster in sync with the
// control plane by polling it.
package fleet

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rileyhilliard/vmctl/internal/controlplane"
	"github.com/rileyhilliard/vmctl/internal/errors"
	"github.com/rileyhilliard/vmctl/internal/logger"
	"github.com/rileyhilliard/vmctl/internal/metrics"
)

// DefaultInterval is the roster polling period.
const DefaultInterval = 5 * time.Second

// VMSummary is one roster entry.
type VMSummary struct {
	Name      string `json:"name"`
	PoweredOn bool   `json:"powered_on"`
}

// FromEntries converts the control plane's list into summaries, keeping
// its order. Only the "on" status counts as powered on.
func FromEntries(entries []controlplane.VMEntry) []VMSummary {
	out := make([]VMSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, VMSummary{Name: e.Name, PoweredOn: e.Status == controlplane.PowerOn})
	}
	return out
}

// SortForDisplay returns a copy with powered-on VMs first, then by name.
func SortForDisplay(vms []VMSummary) []VMSummary {
	out := make([]VMSummary, len(vms))
	copy(out, vms)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PoweredOn != out[j].PoweredOn {
			return out[i].PoweredOn
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Lister fetches the raw roster. *controlplane.Client implements it.
type Lister interface {
	ListVMs(ctx context.Context) ([]controlplane.VMEntry, error)
}

// Sink receives every successfully fetched roster. It is called from the
// poller goroutine.
type Sink interface {
	OnRosterUpdated(vms []VMSummary)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(vms []VMSummary)

func (f SinkFunc) OnRosterUpdated(vms []VMSummary) { f(vms) }

// Options configures a Poller.
type Options struct {
	Interval time.Duration
	Logger   logger.Logger
	Metrics  *metrics.Recorder
}

// Poller polls the roster on a fixed period and publishes it atomically.
// A failed fetch keeps the previous roster.
type Poller struct {
	lister Lister
	sink   Sink
	opts   Options

	refresh chan struct{}

	mu      sync.RWMutex
	roster  []VMSummary
	fetched bool
	lastErr error
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPoller creates a stopped poller.
func NewPoller(lister Lister, sink Sink, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = logger.Noop()
	}
	return &Poller{
		lister:  lister,
		sink:    sink,
		opts:    opts,
		refresh: make(chan struct{}, 1),
	}
}

// Start runs the poller in the background until Stop or ctx ends.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New(errors.ErrValidation, "Roster poller is already running", "")
	}
	ctx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		p.loop(ctx)
	}()
	return nil
}

// Run polls in the calling goroutine until ctx ends. It always returns nil
// so it can sit in an errgroup next to other loops.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	p.Stop()
	return nil
}

// Stop halts polling and waits for an in-flight fetch to finish. It is safe
// to call more than once.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
}

// Refresh asks for a fetch ahead of the next tick. Requests made while one
// is already pending collapse into it.
func (p *Poller) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Roster returns a copy of the last published roster.
func (p *Poller) Roster() []VMSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]VMSummary, len(p.roster))
	copy(out, p.roster)
	return out
}

// Fetched reports whether at least one fetch has succeeded.
func (p *Poller) Fetched() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fetched
}

// LastError returns the error from the most recent fetch, nil if it succeeded.
func (p *Poller) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// Poll performs one fetch and publishes the result.
func (p *Poller) Poll(ctx context.Context) error {
	entries, err := p.lister.ListVMs(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.opts.Metrics.RosterPoll(false, 0)
		p.opts.Logger.Warn("roster fetch failed, keeping the previous roster: %s", errors.Short(err))
		p.mu.Lock()
		p.lastErr = err
		p.mu.Unlock()
		return err
	}

	roster := FromEntries(entries)
	p.mu.Lock()
	p.roster = roster
	p.fetched = true
	p.lastErr = nil
	p.mu.Unlock()

	p.opts.Metrics.RosterPoll(true, len(roster))
	p.opts.Logger.Debug("roster: %d VMs", len(roster))

	if p.sink != nil {
		out := make([]VMSummary, len(roster))
		copy(out, roster)
		p.sink.OnRosterUpdated(out)
	}
	return nil
}

func (p *Poller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	_ = p.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = p.Poll(ctx)
		case <-p.refresh:
			_ = p.Poll(ctx)
			ticker.Reset(p.opts.Interval)
		}
	}
}
