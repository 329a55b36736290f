package monitor

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rileyhilliard/vmctl/internal/dispatch"
	"github.com/rileyhilliard/vmctl/internal/errors"
	"github.com/rileyhilliard/vmctl/internal/fleet"
	"github.com/rileyhilliard/vmctl/internal/lifecycle"
	"github.com/rileyhilliard/vmctl/internal/telemetry"
)

// DefaultCommandTimeout bounds a lifecycle command started from the dashboard.
const DefaultCommandTimeout = 30 * time.Second

// clockInterval re-renders the header so "last update" keeps counting.
const clockInterval = time.Second

// Roster is the slice of the poller the dashboard drives. *fleet.Poller implements it.
type Roster interface {
	Refresh()
	LastError() error
}

// Selector owns the telemetry session. *telemetry.Inspector implements it.
type Selector interface {
	Select(ctx context.Context, vm string) (*telemetry.Session, error)
	Session() *telemetry.Session
	Clear()
}

// Dispatcher sends lifecycle commands. *dispatch.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd lifecycle.Command) dispatch.Result
}

// Options wires the dashboard to the rest of vmctl.
type Options struct {
	Roster     Roster
	Inspector  Selector
	Dispatcher Dispatcher
	Bridge     *Bridge

	// Server is shown in the header.
	Server         string
	CommandTimeout time.Duration
	// Now is replaced in tests.
	Now func() time.Time
}

// Model is the Bubble Tea model for the fleet dashboard.
type Model struct {
	opts Options

	vms        []fleet.VMSummary
	fetched    bool
	lastUpdate time.Time
	selected   int
	sortOrder  SortOrder

	// inspected is the VM whose session feeds snapshot.
	inspected string
	snapshot  *telemetry.Snapshot
	// session is the ID of the live session, 0 while a selection is in
	// flight. pending holds the newest tick that arrived before the ID.
	session   uint64
	pending   *telemetry.Snapshot
	selectSeq int

	status    string
	statusErr bool
	// confirmDelete holds the VM awaiting a y/n answer.
	confirmDelete string

	width    int
	height   int
	quitting bool
	viewMode ViewMode
	showHelp bool

	detailViewport viewport.Model
	viewportReady  bool
}

// tickMsg drives the header clock.
type tickMsg time.Time

// selectedMsg reports the outcome of starting a session. seq matches the
// model's selectSeq for the most recent selection only.
type selectedMsg struct {
	seq     int
	vm      string
	session uint64
	err     error
}

// clearedMsg follows a session teardown.
type clearedMsg struct{}

// dispatchMsg carries a finished lifecycle command.
type dispatchMsg struct {
	res dispatch.Result
}

// NewModel creates a dashboard. The roster starts empty until the first
// poll arrives through the bridge.
func NewModel(opts Options) Model {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Bridge == nil {
		opts.Bridge = NewBridge()
	}
	return Model{opts: opts, sortOrder: SortByState}
}

// Init starts listening for roster and telemetry updates.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.opts.Bridge.Listen(), m.tickCmd())
}

// Update handles messages and updates the model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		handled, cmd := m.HandleKeyMsg(msg)
		if handled {
			return m, cmd
		}
		if m.viewMode == ViewDetail && m.viewportReady {
			var vpCmd tea.Cmd
			m.detailViewport, vpCmd = m.detailViewport.Update(msg)
			return m, vpCmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 3
		footerHeight := 2
		viewportHeight := m.height - headerHeight - footerHeight
		if viewportHeight < 1 {
			viewportHeight = 1
		}

		if !m.viewportReady {
			m.detailViewport = viewport.New(m.width, viewportHeight)
			m.detailViewport.YPosition = headerHeight
			m.viewportReady = true
		} else {
			m.detailViewport.Width = m.width
			m.detailViewport.Height = viewportHeight
		}
		m.updateDetailViewportContent()

	case tickMsg:
		return m, m.tickCmd()

	case rosterMsg:
		m.applyRoster(msg.vms)
		cmds := []tea.Cmd{m.opts.Bridge.Listen()}
		if m.inspected != "" && !m.hasVM(m.inspected) {
			// the inspected VM is gone
			cmds = append(cmds, m.stopInspecting())
		}
		return m, tea.Batch(cmds...)

	case telemetryMsg:
		m.applyTelemetry(msg.snap)
		return m, m.opts.Bridge.Listen()

	case selectedMsg:
		if msg.seq != m.selectSeq || msg.vm != m.inspected {
			// a superseded selection; make the inspector agree with the UI
			cmd := m.reconcileSession()
			return m, cmd
		}
		if msg.err != nil {
			m.inspected = ""
			m.snapshot = nil
			m.pending = nil
			m.viewMode = ViewList
			m.setStatus(errors.Short(msg.err), true)
			return m, nil
		}
		m.session = msg.session
		if m.pending != nil && m.pending.Session == m.session {
			m.showSnapshot(*m.pending)
		}
		m.pending = nil
		cmd := m.reconcileSession()
		return m, cmd

	case clearedMsg:
		cmd := m.reconcileSession()
		return m, cmd

	case dispatchMsg:
		m.setStatus(msg.res.Summary(), !msg.res.OK())
		lc := msg.res.Command
		if msg.res.OK() && lc.Verb == lifecycle.VerbDelete && !lc.IsBulk() && lc.Target.Name == m.inspected {
			cmd := m.stopInspecting()
			return m, cmd
		}
	}

	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.showHelp {
		return m.renderHelpOverlay()
	}
	if m.viewMode == ViewDetail {
		return m.renderDetailView()
	}
	return m.renderDashboard()
}

// SelectedVM returns the VM under the cursor, or "" when the roster is empty.
func (m Model) SelectedVM() string {
	if m.selected < 0 || m.selected >= len(m.vms) {
		return ""
	}
	return m.vms[m.selected].Name
}

// Inspected returns the VM whose telemetry is shown.
func (m Model) Inspected() string {
	return m.inspected
}

// RunningCount returns how many VMs in the roster are powered on.
func (m Model) RunningCount() int {
	n := 0
	for _, vm := range m.vms {
		if vm.PoweredOn {
			n++
		}
	}
	return n
}

// SecondsSinceUpdate returns seconds since the last roster, or -1 before the first.
func (m Model) SecondsSinceUpdate() int {
	if !m.fetched {
		return -1
	}
	return int(m.opts.Now().Sub(m.lastUpdate).Seconds())
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(clockInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// applyRoster replaces the roster and keeps the cursor on the same VM when
// it is still present.
func (m *Model) applyRoster(vms []fleet.VMSummary) {
	current := m.SelectedVM()
	m.vms = m.sortOrder.Apply(vms)
	m.fetched = true
	m.lastUpdate = m.opts.Now()

	m.selected = 0
	for i, vm := range m.vms {
		if vm.Name == current {
			m.selected = i
			break
		}
	}
	if len(m.vms) == 0 {
		m.selected = -1
	}
}

func (m Model) hasVM(name string) bool {
	for _, vm := range m.vms {
		if vm.Name == name {
			return true
		}
	}
	return false
}

func (m Model) poweredOn(name string) bool {
	for _, vm := range m.vms {
		if vm.Name == name {
			return vm.PoweredOn
		}
	}
	return false
}

func (m *Model) setStatus(text string, isErr bool) {
	m.status = text
	m.statusErr = isErr
}

// applyTelemetry shows snap when it comes from the live session. Ticks from a
// superseded session of the same VM are dropped.
func (m *Model) applyTelemetry(snap telemetry.Snapshot) {
	if snap.VM != m.inspected {
		return
	}
	if m.session == 0 {
		if m.pending == nil || snap.Session >= m.pending.Session {
			m.pending = &snap
		}
		return
	}
	if snap.Session != m.session {
		return
	}
	m.showSnapshot(snap)
}

func (m *Model) showSnapshot(snap telemetry.Snapshot) {
	m.snapshot = &snap
	m.updateDetailViewportContent()
}

// inspect switches the session to vm. The previous session is cancelled
// inside the command so Update never waits on a session goroutine.
func (m *Model) inspect(vm string) tea.Cmd {
	m.inspected = vm
	m.snapshot = nil
	m.viewMode = ViewDetail
	m.updateDetailViewportContent()
	if m.viewportReady {
		m.detailViewport.GotoTop()
	}
	return m.selectCmd(vm)
}

func (m *Model) reconcileSession() tea.Cmd {
	sel := m.opts.Inspector
	if sel == nil {
		return nil
	}
	live := sel.Session()
	switch {
	case m.inspected == "":
		if live != nil {
			return func() tea.Msg {
				sel.Clear()
				return clearedMsg{}
			}
		}
	case m.session == 0:
		// the selection in flight reconciles when it lands
	case live == nil || live.VM() != m.inspected:
		return m.selectCmd(m.inspected)
	case live.ID() != m.session:
		// an older selection of the same VM finished last and owns the
		// inspector now
		m.session = live.ID()
		m.snapshot = nil
		m.updateDetailViewportContent()
	}
	return nil
}

// selectCmd starts a session for vm. Earlier selections still in flight
// become stale.
func (m *Model) selectCmd(vm string) tea.Cmd {
	sel := m.opts.Inspector
	if sel == nil {
		return nil
	}
	m.selectSeq++
	m.session = 0
	m.pending = nil
	seq := m.selectSeq
	return func() tea.Msg {
		msg := selectedMsg{seq: seq, vm: vm}
		s, err := sel.Select(context.Background(), vm)
		if err != nil {
			msg.err = err
		} else if s != nil {
			msg.session = s.ID()
		}
		return msg
	}
}

func (m *Model) stopInspecting() tea.Cmd {
	m.inspected = ""
	m.snapshot = nil
	m.session = 0
	m.pending = nil
	m.viewMode = ViewList

	sel := m.opts.Inspector
	if sel == nil {
		return nil
	}
	return func() tea.Msg {
		sel.Clear()
		return clearedMsg{}
	}
}

// dispatchCmd runs cmd off the UI loop.
func (m *Model) dispatchCmd(cmd lifecycle.Command) tea.Cmd {
	m.setStatus(cmd.String()+"...", false)

	d := m.opts.Dispatcher
	timeout := m.opts.CommandTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return dispatchMsg{res: d.Dispatch(ctx, cmd)}
	}
}

func (m *Model) updateDetailViewportContent() {
	if !m.viewportReady || m.viewMode != ViewDetail {
		return
	}
	m.detailViewport.SetContent(m.renderDetailContent())
}
