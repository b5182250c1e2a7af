package ui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/loykin/affinityd/internal/cpuset"
	"github.com/loykin/affinityd/internal/heartbeat"
	"github.com/loykin/affinityd/internal/store"
)

// refreshEvery re-renders so staleness shows up without a new heartbeat.
const refreshEvery = time.Second

// columns of the CPU grid
const columns = 4

type (
	loadedMsg struct {
		cfg store.Configuration
		err error
	}
	savedMsg struct {
		cfg store.Configuration
		err error
	}
	heartbeatMsg struct{ hb heartbeat.Heartbeat }
	refreshMsg   time.Time
)

// Model is the editor for the saved configuration plus a live view of the
// worker's heartbeats.
type Model struct {
	ctx      context.Context
	store    store.Store
	sub      *heartbeat.Subscription
	cpuCount int
	now      func() time.Time

	keys  keyMap
	help  help.Model
	input textinput.Model

	loaded  bool
	saved   store.Configuration
	draft   store.Configuration
	cursor  int
	editing bool
	latest  *heartbeat.Heartbeat
	notice  string
	err     error
	width   int
}

// Option configures a Model.
type Option func(*Model)

// WithClock overrides the time source used for staleness.
func WithClock(now func() time.Time) Option { return func(m *Model) { m.now = now } }

// NewModel builds the UI for st with cpuCount selectable CPUs. sub feeds
// heartbeats; the caller owns it and closes it after the program exits.
func NewModel(ctx context.Context, st store.Store, sub *heartbeat.Subscription, cpuCount int, opts ...Option) Model {
	ti := textinput.New()
	ti.Placeholder = store.DefaultProcessName
	ti.CharLimit = 260
	ti.Width = 40
	ti.TextStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#c0caf5"))
	ti.PromptStyle = lipgloss.NewStyle().Foreground(secondaryColor)
	ti.Cursor.Style = lipgloss.NewStyle().Foreground(primaryColor)

	m := Model{
		ctx:      ctx,
		store:    st,
		sub:      sub,
		cpuCount: cpuCount,
		now:      time.Now,
		keys:     defaultKeys(),
		help:     help.New(),
		input:    ti,
		width:    80,
	}
	for _, o := range opts {
		o(&m)
	}
	if hb, ok := sub.Latest(); ok {
		m.latest = &hb
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.load(), m.waitHeartbeat(), refresh())
}

func (m Model) load() tea.Cmd {
	return func() tea.Msg {
		cfg, err := m.store.Load(m.ctx, m.cpuCount)
		return loadedMsg{cfg: cfg, err: err}
	}
}

func (m Model) save(cfg store.Configuration) tea.Cmd {
	return func() tea.Msg {
		return savedMsg{cfg: cfg, err: m.store.Save(m.ctx, cfg)}
	}
}

func (m Model) waitHeartbeat() tea.Cmd {
	return func() tea.Msg {
		hb, err := m.sub.Wait(m.ctx)
		if err != nil {
			return nil
		}
		return heartbeatMsg{hb: hb}
	}
}

func refresh() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

// Dirty reports whether the draft differs from the saved configuration.
func (m Model) Dirty() bool {
	return m.loaded && (m.draft.ProcessName != m.saved.ProcessName || !m.draft.Selections.Equal(m.saved.Selections))
}

// Draft returns the configuration being edited.
func (m Model) Draft() store.Configuration { return m.draft }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.loaded = true
		m.saved = msg.cfg
		m.draft = store.Configuration{ProcessName: msg.cfg.ProcessName, Selections: msg.cfg.Selections.Clone()}
		return m, nil

	case savedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.notice = ""
			return m, nil
		}
		m.err = nil
		m.saved = store.Configuration{ProcessName: msg.cfg.ProcessName, Selections: msg.cfg.Selections.Clone()}
		m.notice = "Saved"
		return m, nil

	case heartbeatMsg:
		hb := msg.hb
		m.latest = &hb
		return m, m.waitHeartbeat()

	case refreshMsg:
		return m, refresh()

	case tea.KeyMsg:
		if m.editing {
			return m.updateEditing(msg)
		}
		return m.updateBrowsing(msg)
	}
	return m, nil
}

func (m Model) updateEditing(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Confirm):
		m.draft.ProcessName = m.input.Value()
		m.editing = false
		m.input.Blur()
		return m, nil
	case key.Matches(msg, m.keys.Cancel):
		m.editing = false
		m.input.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateBrowsing(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		return m, tea.Quit
	}
	if !m.loaded {
		return m, nil
	}
	n := m.draft.Selections.CPUCount()
	switch {
	case key.Matches(msg, m.keys.Up):
		m.cursor = wrap(m.cursor-columns, n)
	case key.Matches(msg, m.keys.Down):
		m.cursor = wrap(m.cursor+columns, n)
	case key.Matches(msg, m.keys.Left):
		m.cursor = wrap(m.cursor-1, n)
	case key.Matches(msg, m.keys.Right):
		m.cursor = wrap(m.cursor+1, n)
	case key.Matches(msg, m.keys.Toggle):
		m.setCPU(m.cursor, !m.draft.Selections.IsSelected(m.cursor))
	case key.Matches(msg, m.keys.All):
		for i := 0; i < n; i++ {
			m.setCPU(i, true)
		}
	case key.Matches(msg, m.keys.None):
		for i := 0; i < n; i++ {
			m.setCPU(i, false)
		}
	case key.Matches(msg, m.keys.Rename):
		m.editing = true
		m.input.SetValue(m.draft.ProcessName)
		m.input.CursorEnd()
		return m, m.input.Focus()
	case key.Matches(msg, m.keys.Revert):
		m.draft = store.Configuration{ProcessName: m.saved.ProcessName, Selections: m.saved.Selections.Clone()}
		m.notice = ""
	case key.Matches(msg, m.keys.Save):
		cfg := store.Configuration{ProcessName: m.draft.ProcessName, Selections: m.draft.Selections.Clone()}
		return m, m.save(cfg)
	}
	return m, nil
}

func (m *Model) setCPU(i int, on bool) {
	if err := m.draft.Selections.Toggle(i, on); err != nil {
		m.err = err
		return
	}
	m.notice = ""
}

func wrap(i, n int) int {
	if n <= 0 {
		return 0
	}
	return ((i % n) + n) % n
}

// Selection returns the CPUs currently ticked in the editor.
func (m Model) Selection() cpuset.Selection { return m.draft.Selections }
