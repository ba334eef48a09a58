package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ambilight/internal/display"
	"ambilight/internal/hue"
	"ambilight/internal/pipeline"
)

const (
	scanTimeout  = 5 * time.Second
	hueTimeout   = 10 * time.Second
	statsRefresh = 250 * time.Millisecond
)

// controller is the part of the coordinator the panel drives.
type controller interface {
	Start(cfg pipeline.Config) pipeline.Result
	Stop() pipeline.Result
	Toggle() pipeline.Result
	State() pipeline.State
	Config() pipeline.Config
	Stats() pipeline.Stats
	Monitors() []display.Region
}

// hueLink performs the Hue setup steps.
type hueLink interface {
	Scan(ctx context.Context) ([]hue.Bridge, error)
	Credentials(bridgeID string) (hue.Credentials, bool)
	Pair(ctx context.Context, b hue.Bridge) (hue.Credentials, error)
	Forget(bridgeID string)
	Areas(ctx context.Context, b hue.Bridge, creds hue.Credentials) ([]hue.Area, error)
	Connect(ctx context.Context, b hue.Bridge, creds hue.Credentials, area hue.Area) error
	Disconnect()
}

type view int

const (
	viewPanel view = iota
	viewHue
)

type hueStep int

const (
	hueScanning hueStep = iota
	hueSelecting
	huePairing
	huePairingWait
	hueFetchingAreas
	hueSelectingArea
	hueConnecting
)

type field int

const (
	fieldSource field = iota
	fieldTarget
	fieldRate
	fieldBlur
	fieldOpacity
	fieldBlend
	fieldStrategy
	fieldCount
)

var fieldNames = [fieldCount]string{"Source", "Target", "Rate", "Blur", "Opacity", "Blend", "Strategy"}

type (
	stateMsg  pipeline.State
	tickMsg   time.Time
	resultMsg struct {
		op  string
		res pipeline.Result
	}
	hueStatusMsg struct {
		label string
		err   error
	}
	scanDoneMsg struct {
		bridges []hue.Bridge
		err     error
	}
	pairResultMsg struct {
		creds hue.Credentials
		err   error
	}
	areasFetchedMsg struct {
		areas []hue.Area
		err   error
	}
)

type panel struct {
	ctl      controller
	link     hueLink
	monitors []display.Region
	draft    pipeline.Config
	cursor   field
	state    pipeline.State
	stats    pipeline.Stats
	status   string
	err      error
	hueLabel string
	view     view

	step         hueStep
	spinner      spinner.Model
	bridges      []hue.Bridge
	bridgeCursor int
	selected     *hue.Bridge
	creds        hue.Credentials
	pairErr      string
	areas        []hue.Area
	areaCursor   int
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	itemStyle     = lipgloss.NewStyle().PaddingLeft(2)
	selectedStyle = lipgloss.NewStyle().PaddingLeft(0).Foreground(lipgloss.Color("170"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

func newPanel(ctl controller, link hueLink) panel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))
	return panel{
		ctl:      ctl,
		link:     link,
		monitors: ctl.Monitors(),
		draft:    ctl.Config(),
		state:    ctl.State(),
		spinner:  s,
	}
}

func (m panel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(statsRefresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func controlCmd(op string, fn func() pipeline.Result) tea.Cmd {
	return func() tea.Msg {
		return resultMsg{op: op, res: fn()}
	}
}

func (m panel) scanCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
		defer cancel()
		bridges, err := m.link.Scan(ctx)
		return scanDoneMsg{bridges: bridges, err: err}
	}
}

func (m panel) pairCmd(b hue.Bridge) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), hueTimeout)
		defer cancel()
		creds, err := m.link.Pair(ctx, b)
		return pairResultMsg{creds: creds, err: err}
	}
}

func (m panel) fetchAreasCmd(b hue.Bridge, creds hue.Credentials) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), hueTimeout)
		defer cancel()
		areas, err := m.link.Areas(ctx, b, creds)
		return areasFetchedMsg{areas: areas, err: err}
	}
}

func (m panel) connectCmd(b hue.Bridge, creds hue.Credentials, area hue.Area) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), hueTimeout)
		defer cancel()
		if err := m.link.Connect(ctx, b, creds, area); err != nil {
			return hueStatusMsg{err: err}
		}
		return hueStatusMsg{label: area.String()}
	}
}

// useBridge continues setup with stored credentials or asks to pair.
func (m panel) useBridge(b hue.Bridge) (panel, tea.Cmd) {
	m.selected = &b
	if creds, found := m.link.Credentials(b.ID); found {
		m.creds = creds
		m.step = hueFetchingAreas
		return m, m.fetchAreasCmd(b, creds)
	}
	m.step = huePairing
	return m, nil
}

func (m panel) leaveHue(err error) panel {
	m.view = viewPanel
	if err != nil {
		m.err = err
	}
	return m
}

func (m panel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		m.state = m.ctl.State()
		m.stats = m.ctl.Stats()
		return m, tick()

	case stateMsg:
		m.state = pipeline.State(msg)
		return m, nil

	case resultMsg:
		m.state = m.ctl.State()
		if !msg.res.Success {
			m.err = fmt.Errorf("%s: %s", msg.op, msg.res.Error)
			return m, nil
		}
		m.err = nil
		m.status = msg.op + " ok"
		if m.state == pipeline.Running {
			m.draft = m.ctl.Config()
		}
		return m, nil

	case hueStatusMsg:
		if msg.err != nil {
			m.hueLabel = ""
			return m.leaveHue(fmt.Errorf("hue: %w", msg.err)), nil
		}
		m.hueLabel = msg.label
		m.status = "hue mirror on " + msg.label
		return m.leaveHue(nil), nil

	case scanDoneMsg:
		if msg.err != nil {
			return m.leaveHue(fmt.Errorf("hue discovery: %w", msg.err)), nil
		}
		if len(msg.bridges) == 0 {
			return m.leaveHue(errors.New("no Hue bridges found on the network")), nil
		}
		if len(msg.bridges) == 1 {
			return m.useBridge(msg.bridges[0])
		}
		m.bridges = msg.bridges
		m.bridgeCursor = 0
		m.step = hueSelecting
		return m, nil

	case pairResultMsg:
		if msg.err != nil {
			if errors.Is(msg.err, hue.ErrLinkButtonNotPressed) {
				m.pairErr = "Link button not pressed."
				m.step = huePairing
				return m, nil
			}
			return m.leaveHue(fmt.Errorf("pairing failed: %w", msg.err)), nil
		}
		m.creds = msg.creds
		m.pairErr = ""
		m.step = hueFetchingAreas
		return m, m.fetchAreasCmd(*m.selected, m.creds)

	case areasFetchedMsg:
		if msg.err != nil {
			if errors.Is(msg.err, hue.ErrUnauthorized) {
				m.link.Forget(m.selected.ID)
				m.creds = hue.Credentials{}
				m.pairErr = "Stored credentials were rejected by the bridge."
				m.step = huePairing
				return m, nil
			}
			return m.leaveHue(fmt.Errorf("fetching entertainment areas: %w", msg.err)), nil
		}
		if len(msg.areas) == 0 {
			return m.leaveHue(errors.New("no entertainment areas configured on this bridge")), nil
		}
		if len(msg.areas) == 1 {
			m.step = hueConnecting
			return m, m.connectCmd(*m.selected, m.creds, msg.areas[0])
		}
		m.areas = msg.areas
		m.areaCursor = 0
		m.step = hueSelectingArea
		return m, nil
	}

	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	if m.view == viewHue {
		return m.updateHue(key)
	}
	return m.updatePanel(key)
}

func (m panel) updatePanel(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < fieldCount-1 {
			m.cursor++
		}
	case "left", "-":
		m.draft = adjust(m.draft, m.cursor, -1, len(m.monitors))
	case "right", "+", "=":
		m.draft = adjust(m.draft, m.cursor, 1, len(m.monitors))
	case "m":
		m.draft = adjust(m.draft, fieldStrategy, 1, len(m.monitors))
		if m.state == pipeline.Running {
			cfg := m.draft
			return m, controlCmd("strategy", func() pipeline.Result { return m.ctl.Start(cfg) })
		}
	case "s", "enter":
		cfg := m.draft
		return m, controlCmd("start", func() pipeline.Result { return m.ctl.Start(cfg) })
	case "x":
		return m, controlCmd("stop", m.ctl.Stop)
	case "t", "ctrl+a":
		return m, controlCmd("toggle", m.ctl.Toggle)
	case "h":
		m.view = viewHue
		m.step = hueScanning
		m.err = nil
		m.pairErr = ""
		return m, m.scanCmd()
	case "H":
		m.link.Disconnect()
		m.hueLabel = ""
		m.status = "hue mirror off"
	}
	return m, nil
}

func (m panel) updateHue(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.String() == "esc" {
		return m.leaveHue(nil), nil
	}
	switch m.step {
	case hueSelecting:
		switch key.String() {
		case "up", "k":
			if m.bridgeCursor > 0 {
				m.bridgeCursor--
			}
		case "down", "j":
			if m.bridgeCursor < len(m.bridges)-1 {
				m.bridgeCursor++
			}
		case "enter":
			return m.useBridge(m.bridges[m.bridgeCursor])
		}

	case huePairing:
		if key.String() == "enter" {
			m.step = huePairingWait
			return m, m.pairCmd(*m.selected)
		}

	case hueSelectingArea:
		switch key.String() {
		case "up", "k":
			if m.areaCursor > 0 {
				m.areaCursor--
			}
		case "down", "j":
			if m.areaCursor < len(m.areas)-1 {
				m.areaCursor++
			}
		case "enter":
			m.step = hueConnecting
			return m, m.connectCmd(*m.selected, m.creds, m.areas[m.areaCursor])
		}
	}
	return m, nil
}

// adjust steps one field of cfg by dir (-1 or +1).
func adjust(cfg pipeline.Config, f field, dir, monitors int) pipeline.Config {
	switch f {
	case fieldSource:
		cfg.SourceMonitor = wrap(cfg.SourceMonitor+dir, monitors)
	case fieldTarget:
		cfg.TargetMonitor = wrap(cfg.TargetMonitor+dir, monitors)
	case fieldRate:
		cfg.UpdateRate = min(max(cfg.UpdateRate+5*dir, 1), 240)
	case fieldBlur:
		cfg.BlurRadius = min(max(cfg.BlurRadius+10*dir, 0), 500)
	case fieldOpacity:
		cfg.Opacity = math.Round(min(max(cfg.Opacity+0.05*float64(dir), 0), 1)*100) / 100
	case fieldBlend:
		cfg.BlendMode = !cfg.BlendMode
	case fieldStrategy:
		if cfg.Strategy == pipeline.StrategyRadial {
			cfg.Strategy = pipeline.StrategyResample
		} else {
			cfg.Strategy = pipeline.StrategyRadial
		}
	}
	return cfg
}

func wrap(v, n int) int {
	if n <= 0 {
		return v
	}
	return ((v % n) + n) % n
}

func (m panel) fieldValue(f field) string {
	c := m.draft
	switch f {
	case fieldSource:
		return m.monitorLabel(c.SourceMonitor)
	case fieldTarget:
		return m.monitorLabel(c.TargetMonitor)
	case fieldRate:
		return fmt.Sprintf("%d fps", c.UpdateRate)
	case fieldBlur:
		return fmt.Sprintf("%d px", c.BlurRadius)
	case fieldOpacity:
		return fmt.Sprintf("%.0f%%", c.Opacity*100)
	case fieldBlend:
		if c.BlendMode {
			return "on"
		}
		return "off"
	case fieldStrategy:
		return string(c.Strategy)
	}
	return ""
}

func (m panel) monitorLabel(idx int) string {
	r, ok := display.Lookup(m.monitors, idx)
	if !ok {
		return fmt.Sprintf("%d (missing)", idx)
	}
	if idx == 0 {
		return fmt.Sprintf("0 all displays %dx%d", r.Width, r.Height)
	}
	return fmt.Sprintf("%d %dx%d @ %d,%d", idx, r.Width, r.Height, r.X, r.Y)
}

func (m panel) View() string {
	if m.view == viewHue {
		return m.hueView()
	}

	var b strings.Builder
	b.WriteString("\n" + titleStyle.Render("  ambilight") + "  " + m.stateLabel() + "\n\n")
	for f := field(0); f < fieldCount; f++ {
		line := fmt.Sprintf("%-9s %s", fieldNames[f], m.fieldValue(f))
		if f == m.cursor {
			b.WriteString(selectedStyle.Render("▸ "+line) + "\n")
		} else {
			b.WriteString(itemStyle.Render(line) + "\n")
		}
	}

	b.WriteString("\n")
	if m.state == pipeline.Running {
		st := m.stats
		swatch := lipgloss.NewStyle().Background(lipgloss.Color(st.Average.String())).Render("    ")
		b.WriteString(fmt.Sprintf("  %s %s · %d frames · %d dropped · %s compose\n",
			swatch, st.Backend, st.Frames, st.Dropped, st.Compose.Round(time.Millisecond)))
	}
	if m.hueLabel != "" {
		b.WriteString(okStyle.Render("  Hue: "+m.hueLabel) + "\n")
	}
	if m.err != nil {
		b.WriteString(errStyle.Render("  Error: "+m.err.Error()) + "\n")
	} else if m.status != "" {
		b.WriteString(helpStyle.Render("  "+m.status) + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("  ↑/↓ select · ←/→ adjust · s apply · x stop · t toggle · m strategy · h hue · q quit") + "\n")
	return b.String()
}

func (m panel) stateLabel() string {
	switch m.state {
	case pipeline.Running:
		return okStyle.Render("● running")
	case pipeline.Stopping:
		return helpStyle.Render("◌ stopping")
	default:
		return helpStyle.Render("○ idle")
	}
}

func (m panel) hueView() string {
	switch m.step {
	case hueScanning:
		return fmt.Sprintf("\n %s %s\n\n", m.spinner.View(), titleStyle.Render("Scanning for Hue bridges..."))

	case hueSelecting:
		s := "\n" + titleStyle.Render("  Select a Hue Bridge:") + "\n\n"
		for i, b := range m.bridges {
			label := fmt.Sprintf("%s (%s) at %s", b.Name, b.ID, b.IP)
			if i == m.bridgeCursor {
				s += selectedStyle.Render("▸ "+label) + "\n"
			} else {
				s += itemStyle.Render(label) + "\n"
			}
		}
		return s + "\n" + helpStyle.Render("  ↑/k up · ↓/j down · enter select · esc back") + "\n"

	case huePairing:
		s := "\n"
		if m.pairErr != "" {
			s += errStyle.Render("  "+m.pairErr) + "\n\n"
		}
		s += titleStyle.Render("  Press the link button on your Hue bridge, then press Enter.") + "\n\n"
		return s + helpStyle.Render("  enter pair · esc back") + "\n"

	case huePairingWait:
		return fmt.Sprintf("\n %s %s\n\n", m.spinner.View(), titleStyle.Render("Pairing with bridge..."))

	case hueFetchingAreas:
		return fmt.Sprintf("\n %s %s\n\n", m.spinner.View(), titleStyle.Render("Fetching entertainment areas..."))

	case hueSelectingArea:
		s := "\n" + titleStyle.Render("  Select an Entertainment Area:") + "\n\n"
		for i, a := range m.areas {
			if i == m.areaCursor {
				s += selectedStyle.Render("▸ "+a.String()) + "\n"
			} else {
				s += itemStyle.Render(a.String()) + "\n"
			}
		}
		return s + "\n" + helpStyle.Render("  ↑/k up · ↓/j down · enter select · esc back") + "\n"

	case hueConnecting:
		return fmt.Sprintf("\n %s %s\n\n", m.spinner.View(), titleStyle.Render("Starting entertainment stream..."))
	}
	return ""
}

// appHueLink runs the setup steps against the network and the app's
// credential store.
type appHueLink struct {
	app *app
}

func newHueLink(a *app) appHueLink { return appHueLink{app: a} }

func (l appHueLink) Scan(ctx context.Context) ([]hue.Bridge, error) {
	return hue.Scan(ctx)
}

func (l appHueLink) Credentials(bridgeID string) (hue.Credentials, bool) {
	creds, found, _ := l.app.store.Load(bridgeID)
	return creds, found
}

func (l appHueLink) Pair(ctx context.Context, b hue.Bridge) (hue.Credentials, error) {
	creds, err := hue.NewClient(b.IP, "").Pair(ctx)
	if err != nil {
		return creds, err
	}
	if err := l.app.store.Save(b.ID, creds); err != nil {
		l.app.log.Warn("saving hue credentials failed", "err", err)
	}
	return creds, nil
}

func (l appHueLink) Forget(bridgeID string) {
	if err := l.app.store.Delete(bridgeID); err != nil {
		l.app.log.Warn("deleting hue credentials failed", "err", err)
	}
}

func (l appHueLink) Areas(ctx context.Context, b hue.Bridge, creds hue.Credentials) ([]hue.Area, error) {
	return hue.NewClient(b.IP, creds.Username).Areas(ctx)
}

func (l appHueLink) Connect(ctx context.Context, b hue.Bridge, creds hue.Credentials, area hue.Area) error {
	if err := l.app.connectHue(ctx, b, creds, area); err != nil {
		return err
	}
	l.app.remember()
	return nil
}

func (l appHueLink) Disconnect() {
	l.app.disconnectHue()
	l.app.mu.Lock()
	l.app.settings.Hue.Enabled = false
	l.app.mu.Unlock()
	l.app.remember()
}
