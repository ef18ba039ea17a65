// internal/tui/app.go
//
// Terminal page runner. It lists the panels of one page, evaluates them on
// demand through the RPC dispatcher and shows the last result of each.

package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/datastation/internal/eval"
	"github.com/kingrea/datastation/internal/logging"
	"github.com/kingrea/datastation/internal/rpc"
	"github.com/kingrea/datastation/internal/state"
	"github.com/kingrea/datastation/internal/store"
)

const (
	previewLines = 12
	logLines     = 6
)

// AppOption customizes App construction.
type AppOption func(*App)

// WithContext sets the context evaluations run under.
func WithContext(ctx context.Context) AppOption {
	return func(a *App) {
		if ctx != nil {
			a.ctx = ctx
		}
	}
}

// WithLogger shows the tail of l under the panel list.
func WithLogger(l *logging.Logger) AppOption {
	return func(a *App) {
		a.logger = l
	}
}

type projectLoadedMsg struct {
	project *state.Project
	err     error
}

type resultsMsg struct {
	results []eval.PanelResult
	evalErr error
	index   int
	err     error
}

// panelItem implements list.Item for one panel.
type panelItem struct {
	index  int
	panel  state.Panel
	result eval.PanelResult
}

func (i panelItem) Title() string {
	name := strings.TrimSpace(i.panel.Name)
	if name == "" {
		name = "Untitled"
	}
	return fmt.Sprintf("#%d %s", i.index, name)
}

func (i panelItem) Description() string {
	status := "not run"
	switch {
	case i.result.Exception != nil:
		status = "✗ " + i.result.Exception.Name
	case i.result.Ran():
		status = fmt.Sprintf("ok · %s", i.result.Elapsed.Round(time.Millisecond))
	}
	return fmt.Sprintf("%s · %s", i.panel.Type, status)
}

func (i panelItem) FilterValue() string { return i.panel.Name }

// App is the bubbletea model of the page runner.
type App struct {
	ctx        context.Context
	dispatcher *rpc.Dispatcher
	projectID  string
	logger     *logging.Logger

	project   *state.Project
	pageIndex int
	results   []eval.PanelResult
	panels    list.Model

	statusMsg  string
	err        error
	evaluating bool

	width  int
	height int
}

// NewApp returns a runner for projectID backed by d.
func NewApp(d *rpc.Dispatcher, projectID string, opts ...AppOption) *App {
	panels := list.New(nil, list.NewDefaultDelegate(), 46, 20)
	panels.SetShowStatusBar(false)
	panels.SetFilteringEnabled(false)
	panels.SetShowHelp(false)

	app := &App{
		ctx:        context.Background(),
		dispatcher: d,
		projectID:  projectID,
		panels:     panels,
		statusMsg:  "Loading project...",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	return app
}

// Init loads the project.
func (a *App) Init() tea.Cmd {
	return a.loadProject()
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.panels.SetSize(max(0, msg.Width/2-4), max(0, msg.Height-12))
		return a, nil

	case projectLoadedMsg:
		if msg.err != nil {
			a.err = msg.err
			a.statusMsg = "Could not load project"
			return a, nil
		}
		a.err = nil
		a.project = msg.project
		if a.pageIndex >= len(a.project.Pages) {
			a.pageIndex = 0
		}
		a.statusMsg = fmt.Sprintf("Loaded %s", a.projectID)
		return a, a.fetchResults(-1, nil)

	case resultsMsg:
		a.evaluating = false
		if msg.err != nil {
			a.err = msg.err
			return a, nil
		}
		a.results = msg.results
		a.refreshPanels()
		switch {
		case msg.index < 0:
		case msg.evalErr != nil:
			a.statusMsg = fmt.Sprintf("Panel #%d failed: %s", msg.index, panelErrorName(msg.evalErr))
			a.logWarn("panel #%d failed: %v", msg.index, msg.evalErr)
		default:
			a.statusMsg = fmt.Sprintf("Panel #%d evaluated", msg.index)
		}
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return a, tea.Quit
		case "r":
			a.statusMsg = "Reloading project..."
			return a, a.loadProject()
		case "tab":
			return a, a.switchPage(1)
		case "shift+tab":
			return a, a.switchPage(-1)
		case "enter":
			if a.project == nil || a.evaluating {
				return a, nil
			}
			item, ok := a.panels.SelectedItem().(panelItem)
			if !ok {
				return a, nil
			}
			a.evaluating = true
			a.statusMsg = fmt.Sprintf("Evaluating #%d %s...", item.index, item.panel.Name)
			return a, a.evalPanel(item.index)
		}
	}

	var cmd tea.Cmd
	a.panels, cmd = a.panels.Update(msg)
	return a, cmd
}

func (a *App) switchPage(delta int) tea.Cmd {
	if a.project == nil || len(a.project.Pages) < 2 {
		return nil
	}
	n := len(a.project.Pages)
	a.pageIndex = (a.pageIndex + delta + n) % n
	a.results = nil
	a.panels.Select(0)
	a.statusMsg = fmt.Sprintf("Page %s", a.project.Pages[a.pageIndex].Name)
	return a.fetchResults(-1, nil)
}

func (a *App) refreshPanels() {
	page, err := a.project.Page(a.pageIndex)
	if err != nil {
		a.panels.SetItems(nil)
		return
	}
	items := make([]list.Item, len(page.Panels))
	for i, panel := range page.Panels {
		item := panelItem{index: i, panel: panel}
		if i < len(a.results) {
			item.result = a.results[i]
		}
		items[i] = item
	}
	a.panels.SetItems(items)
}

func (a *App) loadProject() tea.Cmd {
	return func() tea.Msg {
		got, err := a.dispatch(store.ResourceGetProject, nil)
		if err != nil {
			return projectLoadedMsg{err: err}
		}
		project, ok := got.(*state.Project)
		if !ok {
			return projectLoadedMsg{err: fmt.Errorf("tui: unexpected project type %T", got)}
		}
		return projectLoadedMsg{project: project}
	}
}

func (a *App) evalPanel(index int) tea.Cmd {
	pageIndex := a.pageIndex
	return func() tea.Msg {
		_, evalErr := a.dispatch(eval.ResourceEvalPanel, eval.PanelRef{PageIndex: pageIndex, PanelIndex: index})
		return a.fetchResults(index, evalErr)()
	}
}

func (a *App) fetchResults(index int, evalErr error) tea.Cmd {
	pageIndex := a.pageIndex
	return func() tea.Msg {
		got, err := a.dispatch(eval.ResourceGetResults, eval.PanelRef{PageIndex: pageIndex})
		if err != nil {
			return resultsMsg{err: err, index: index}
		}
		results, _ := got.([]eval.PanelResult)
		return resultsMsg{results: results, evalErr: evalErr, index: index}
	}
}

func (a *App) dispatch(resource string, body any) (any, error) {
	var raw json.RawMessage
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return a.dispatcher.Dispatch(a.ctx, rpc.Request{Resource: resource, ProjectID: a.projectID, Body: raw}, true)
}

func (a *App) logWarn(format string, args ...any) {
	if a.logger == nil {
		return
	}
	a.logger.Warn(format, args...)
}

func panelErrorName(err error) string {
	body := rpc.ErrorBody(err)
	name, _ := body["name"].(string)
	return name
}

// View renders the page tabs, the panel list and the selected result.
func (a *App) View() string {
	width := a.width
	if width <= 0 {
		width = 100
	}
	leftWidth := max(30, width/2-2)
	rightWidth := max(30, width-leftWidth-6)

	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		Render(fmt.Sprintf("DATASTATION · %s", a.projectID))
	sections := []string{header, a.renderTabs()}

	if a.err != nil {
		sections = append(sections, lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B")).
			Render(fmt.Sprintf("⚠ %v", a.err)))
	}

	leftBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Width(leftWidth).
		Render(a.panels.View())
	rightBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Width(rightWidth).
		Render(a.renderPreview())
	sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top, leftBox, rightBox))

	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		Render(a.statusMsg + "  ·  enter run · tab page · r reload · q quit")
	sections = append(sections, footer)
	return strings.Join(sections, "\n")
}

func (a *App) renderTabs() string {
	if a.project == nil {
		return ""
	}
	active := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	idle := lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	tabs := make([]string, len(a.project.Pages))
	for i, page := range a.project.Pages {
		if i == a.pageIndex {
			tabs[i] = active.Render("[" + page.Name + "]")
		} else {
			tabs[i] = idle.Render(" " + page.Name + " ")
		}
	}
	return strings.Join(tabs, " ")
}

func (a *App) renderPreview() string {
	item, ok := a.panels.SelectedItem().(panelItem)
	if !ok {
		return "No panel selected."
	}
	result := item.result
	if !result.Ran() {
		return "Not evaluated yet. Press enter."
	}
	if result.Exception != nil {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).
			Render(fmt.Sprintf("%s\n%s", result.Exception.Name, result.Exception.Message))
	}
	data, err := json.MarshalIndent(result.Value, "", "  ")
	if err != nil {
		return err.Error()
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) > previewLines {
		lines = append(lines[:previewLines], "…")
	}
	if stdout := strings.TrimSpace(result.Stdout); stdout != "" {
		lines = append(lines, "", "stdout:", stdout)
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderLogPanel() string {
	if a.logger == nil {
		return ""
	}
	lines := a.logger.Tail(logLines)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logger.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s", fileName))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}

// Run starts the program full screen and blocks until it exits.
func Run(ctx context.Context, app *App) error {
	_, err := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
