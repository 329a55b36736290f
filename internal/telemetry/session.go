package telemetry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rileyhilliard/vmctl/internal/config"
	"github.com/rileyhilliard/vmctl/internal/controlplane"
	"github.com/rileyhilliard/vmctl/internal/errors"
	"github.com/rileyhilliard/vmctl/internal/logger"
	"github.com/rileyhilliard/vmctl/internal/metrics"
)

// DefaultInterval is the time between the end of one fetch and the start of
// the next.
const DefaultInterval = 5 * time.Second

// Series labels inside the network channel.
const (
	LabelIn  = "in"
	LabelOut = "out"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateActive
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Fetcher retrieves one raw stats reading. *controlplane.Client implements it.
type Fetcher interface {
	VMStats(ctx context.Context, name string) (controlplane.VMStats, error)
}

// Sink receives the full window after every successful tick. It is called
// from the session goroutine and must not call Cancel on the same session.
type Sink interface {
	OnTelemetryTick(vm string, snap Snapshot)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(vm string, snap Snapshot)

func (f SinkFunc) OnTelemetryTick(vm string, snap Snapshot) { f(vm, snap) }

// SeriesSnapshot is a copy of one series inside a channel.
type SeriesSnapshot struct {
	Label  string
	Points []Point
}

// ChannelSnapshot is a copy of one metric channel.
type ChannelSnapshot struct {
	Name string
	// Ceiling is the known maximum for the channel (memory_max for memory),
	// zero when unknown.
	Ceiling float64
	Series  []SeriesSnapshot
}

// Snapshot is what a Sink renders: every enabled channel plus the sample
// that produced this tick.
type Snapshot struct {
	VM string
	// Session is the ID of the session that produced the snapshot.
	Session  uint64
	At       time.Time
	Sample   Sample
	Channels []ChannelSnapshot
}

// Channel looks up a channel by name.
func (s Snapshot) Channel(name string) (ChannelSnapshot, bool) {
	for _, ch := range s.Channels {
		if ch.Name == name {
			return ch, true
		}
	}
	return ChannelSnapshot{}, false
}

// Options configures a Session. Zero values fall back to defaults.
type Options struct {
	Interval    time.Duration
	HistorySize int
	// Channels lists the enabled channels in display order.
	Channels []string
	Logger   logger.Logger
	Metrics  *metrics.Recorder
	// Now stamps samples; tests replace it.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.HistorySize <= 0 {
		o.HistorySize = DefaultHistorySize
	}
	if len(o.Channels) == 0 {
		o.Channels = []string{config.ChannelCPU, config.ChannelMemory, config.ChannelNetwork}
	}
	if o.Logger == nil {
		o.Logger = logger.Noop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type channel struct {
	name    string
	ceiling float64
	labels  []string
	series  []*Series
}

func newChannel(name string, size int) *channel {
	labels := []string{name}
	if name == config.ChannelNetwork {
		labels = []string{LabelIn, LabelOut}
	}
	ch := &channel{name: name, labels: labels}
	for range labels {
		ch.series = append(ch.series, NewSeries(size))
	}
	return ch
}

// Session polls stats for one VM and keeps a sliding window per channel.
// A Session runs once: Idle, then Active after Start, then Cancelled.
type Session struct {
	id      uint64
	vm      string
	fetcher Fetcher
	sink    Sink
	opts    Options

	mu       sync.Mutex
	state    State
	channels []*channel
	last     Snapshot
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSession creates an idle session for vm.
func NewSession(vm string, fetcher Fetcher, sink Sink, opts Options) *Session {
	opts = opts.withDefaults()
	s := &Session{
		id:      sessionIDs.Add(1),
		vm:      vm,
		fetcher: fetcher,
		sink:    sink,
		opts:    opts,
	}
	for _, name := range opts.Channels {
		s.channels = append(s.channels, newChannel(name, opts.HistorySize))
	}
	return s
}

// sessionIDs numbers sessions process-wide; a later session has a larger ID.
var sessionIDs atomic.Uint64

// ID identifies the session in the snapshots it produces.
func (s *Session) ID() uint64 {
	return s.id
}

// VM returns the subject of the session.
func (s *Session) VM() string {
	return s.vm
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins polling. The first fetch happens immediately; each later
// fetch starts one interval after the previous one settled, so fetches
// never overlap.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return errors.New(errors.ErrValidation,
			fmt.Sprintf("Telemetry session for %s is %s and can't be started", s.vm, s.state),
			"Create a new session instead")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = StateActive
	go s.run(ctx)

	s.opts.Logger.Debug("telemetry session for %s started (every %s)", s.vm, s.opts.Interval)
	return nil
}

// Cancel stops the session and waits for its goroutine to exit. After
// Cancel returns the sink receives nothing more. Calling it again, or on a
// session that never started, is a no-op; an idle session can still be
// started afterwards.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.state == StateActive {
		s.state = StateCancelled
	}
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Done is closed when the polling goroutine exits. It is nil before Start.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Snapshot returns the window as of the last successful tick.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last.VM == "" {
		return s.snapshotLocked(time.Time{}, Sample{VMName: s.vm})
	}
	return s.last
}

func (s *Session) run(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.state = StateCancelled
		s.mu.Unlock()
		close(s.done)
	}()

	for {
		s.tick(ctx)

		timer := time.NewTimer(s.opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// tick fetches one sample and, if the session is still active, pushes it
// into the channels and renders. Failures are logged and skipped.
func (s *Session) tick(ctx context.Context) {
	raw, err := s.fetcher.VMStats(ctx, s.vm)
	if ctx.Err() != nil {
		s.opts.Metrics.TelemetryTick(metrics.OutcomeDiscard)
		return
	}
	if err != nil {
		s.opts.Metrics.TelemetryTick(metrics.OutcomeError)
		s.opts.Logger.Warn("stats for %s: %s", s.vm, errors.Short(err))
		return
	}

	sample, err := ParseSample(s.vm, raw, s.opts.Now())
	if err != nil {
		s.opts.Metrics.TelemetryTick(metrics.OutcomeRejected)
		s.opts.Logger.Warn("stats for %s rejected: %s", s.vm, errors.Short(err))
		return
	}

	s.mu.Lock()
	if s.state != StateActive || ctx.Err() != nil {
		s.mu.Unlock()
		s.opts.Metrics.TelemetryTick(metrics.OutcomeDiscard)
		return
	}
	s.apply(sample)
	snap := s.snapshotLocked(sample.CapturedAt, sample)
	s.last = snap
	s.mu.Unlock()

	s.opts.Metrics.TelemetryTick(metrics.OutcomeOK)
	if s.sink != nil {
		s.sink.OnTelemetryTick(s.vm, snap)
	}
}

// apply pushes one sample into the enabled channels. Must be called with s.mu held.
func (s *Session) apply(sample Sample) {
	at := sample.CapturedAt
	for _, ch := range s.channels {
		switch ch.name {
		case config.ChannelCPU:
			ch.series[0].Push(at, sample.CPULoadPercent)
		case config.ChannelMemory:
			ch.series[0].Push(at, sample.MemoryUsedMB)
			if sample.HasMemoryMax {
				ch.ceiling = sample.MemoryMaxMB
			}
		case config.ChannelNetwork:
			if sample.HasNetwork {
				ch.series[0].Push(at, sample.NetIn)
				ch.series[1].Push(at, sample.NetOut)
			}
		}
	}
}

// snapshotLocked copies every channel. Must be called with s.mu held.
func (s *Session) snapshotLocked(at time.Time, sample Sample) Snapshot {
	snap := Snapshot{VM: s.vm, Session: s.id, At: at, Sample: sample}
	for _, ch := range s.channels {
		cs := ChannelSnapshot{Name: ch.name, Ceiling: ch.ceiling}
		for i, series := range ch.series {
			cs.Series = append(cs.Series, SeriesSnapshot{Label: ch.labels[i], Points: series.Values()})
		}
		snap.Channels = append(snap.Channels, cs)
	}
	return snap
}
