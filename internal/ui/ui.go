package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"twodo/internal/alarm"
	"twodo/internal/app"
	"twodo/internal/config"
	"twodo/internal/datemath"
	"twodo/internal/query"
	"twodo/internal/store"
	"twodo/internal/task"
)

type mode int

const (
	modeList mode = iota
	modeAdd
	modeSearch
	modeEdit
)

type filter int

const (
	filterIncomplete filter = iota
	filterComplete
	filterFloating
	filterSearch
)

func (f filter) String() string {
	switch f {
	case filterComplete:
		return "complete"
	case filterFloating:
		return "floating"
	case filterSearch:
		return "search"
	default:
		return "incomplete"
	}
}

func parseFilter(s string) filter {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "complete", "completed", "done":
		return filterComplete
	case "floating":
		return filterFloating
	default:
		return filterIncomplete
	}
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	bannerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("214")).Padding(0, 1)
	doneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// changedMsg reports a store mutation made anywhere in the process.
type changedMsg struct{ at time.Time }

type reminderMsg struct{ r alarm.Reminder }

type editState struct {
	target      task.Task
	name        string
	description string
	tags        string
	start       string
	end         string
	alarm       string
	index       int
}

type Model struct {
	store   *store.Store
	engine  *query.Engine
	dates   *datemath.Parser
	cfg     config.Config
	now     func() time.Time
	tasks   []task.Task
	cursor  int
	mode    mode
	filter  filter
	search  []string
	input   textinput.Model
	status  string
	banner  string
	updated time.Time

	confirmDel bool
	pendingDel *task.Task
	edit       *editState
}

func NewModel(st *store.Store, engine *query.Engine, dates *datemath.Parser, cfg config.Config) Model {
	ti := textinput.New()
	ti.Placeholder = "Task name"
	ti.CharLimit = 256
	ti.Width = 40

	m := Model{
		store:  st,
		engine: engine,
		dates:  dates,
		cfg:    cfg,
		now:    time.Now,
		input:  ti,
		mode:   modeList,
		filter: parseFilter(cfg.DefaultFilter),
		status: fmt.Sprintf("Press '%s' to add, space to toggle, '%s' to delete.", cfg.Keys.Add, cfg.Keys.Delete),
	}
	m.reload()
	return m
}

// Run starts the TUI and forwards change and reminder events into it.
func Run(a *app.App) error {
	m := NewModel(a.Store, a.Query, a.Dates, a.Config)
	if ts, err := a.DB.LastSaved(); err == nil && !ts.IsZero() {
		m.updated = ts.Local()
	}

	program := tea.NewProgram(m)
	// Send blocks while Update runs, and store mutations publish from
	// inside Update.
	changes := a.Changes.Subscribe("ui", func(store.Changed) {
		go program.Send(changedMsg{at: time.Now()})
	})
	defer changes.Unsubscribe()
	reminders := a.Scheduler.Reminders().Subscribe("ui", func(r alarm.Reminder) {
		go program.Send(reminderMsg{r: r})
	})
	defer reminders.Unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	followed := make(chan struct{})
	go func() {
		defer close(followed)
		a.Follow(ctx)
	}()
	defer func() {
		cancel()
		<-followed
	}()

	_, err := program.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case changedMsg:
		m.updated = msg.at
		m.reload()
		return m, nil
	case reminderMsg:
		m.banner = formatReminder(msg.r)
		return m, nil
	case tea.KeyMsg:
		m.banner = ""
		if m.edit != nil {
			return m.updateEditMode(msg.String(), msg)
		}
		if m.confirmDel {
			return m.updateDeleteConfirm(msg.String())
		}
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.input.Width = msg.Width - 10
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch m.mode {
	case modeAdd:
		return m.updateAddMode(key, msg)
	case modeSearch:
		return m.updateSearchMode(key, msg)
	}
	return m.updateListMode(key)
}

func (m Model) updateAddMode(key string, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key {
	case m.cfg.Keys.Cancel:
		m.mode = modeList
		m.input.SetValue("")
		m.input.Blur()
		m.status = "Cancelled"
		return m, nil
	case m.cfg.Keys.Confirm:
		name := strings.TrimSpace(m.input.Value())
		if name == "" {
			m.status = "Name cannot be empty"
			return m, nil
		}
		t := task.Task{Name: name}
		if err := m.store.Add(t); err != nil {
			m.status = fmt.Sprintf("add failed: %v", err)
			return m, nil
		}
		m.reload()
		m.selectTask(t)
		m.status = "Added task"
		m.input.SetValue("")
		m.input.Blur()
		m.mode = modeList
		return m, nil
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
}

func (m Model) updateSearchMode(key string, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key {
	case m.cfg.Keys.Cancel:
		m.mode = modeList
		m.input.SetValue("")
		m.input.Blur()
		m.status = "Search cancelled"
		return m, nil
	case m.cfg.Keys.Confirm:
		words := strings.Fields(m.input.Value())
		m.input.SetValue("")
		m.input.Blur()
		m.mode = modeList
		if len(words) == 0 {
			m.filter = filterIncomplete
			m.search = nil
		} else {
			m.filter = filterSearch
			m.search = words
		}
		m.reload()
		m.status = fmt.Sprintf("%d match(es)", len(m.tasks))
		return m, nil
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
}

func (m Model) updateListMode(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "ctrl+c", m.cfg.Keys.Quit:
		return m, tea.Quit
	case m.cfg.Keys.Down, "down":
		if len(m.tasks) == 0 {
			return m, nil
		}
		m.cursor = clampCursor(m.cursor+1, len(m.tasks))
	case m.cfg.Keys.Up, "up":
		if m.cursor > 0 {
			m.cursor = clampCursor(m.cursor-1, len(m.tasks))
		}
	case m.cfg.Keys.Add:
		m.mode = modeAdd
		m.input.Placeholder = "Task name"
		m.input.Focus()
		m.status = "Add mode: type a name and press Enter"
	case m.cfg.Keys.Search:
		m.mode = modeSearch
		m.input.Placeholder = "keywords"
		m.input.Focus()
		m.status = "Search: whole words in name, tags or description"
	case m.cfg.Keys.NextFilter:
		m.filter = wrapFilter(m.filter + 1)
		m.search = nil
		m.reload()
		m.status = "Showing " + m.filter.String() + " tasks"
	case m.cfg.Keys.Toggle:
		if len(m.tasks) == 0 {
			return m, nil
		}
		t := m.tasks[m.cursor]
		var err error
		if t.Completed {
			err = m.store.Unmark(t)
		} else {
			err = m.store.Mark(t)
		}
		if err != nil {
			m.status = fmt.Sprintf("toggle failed: %v", err)
			return m, nil
		}
		m.reload()
		m.status = "Toggled task"
	case m.cfg.Keys.Delete:
		if len(m.tasks) == 0 {
			return m, nil
		}
		t := m.tasks[m.cursor]
		m.confirmDel = true
		m.pendingDel = &t
		m.status = fmt.Sprintf("Delete \"%s\"? y/n", t.Name)
	case m.cfg.Keys.Detail:
		if len(m.tasks) == 0 {
			m.status = "No tasks"
			return m, nil
		}
		m.status = describe(m.tasks[m.cursor])
	case m.cfg.Keys.Edit:
		if len(m.tasks) == 0 {
			m.status = "No tasks to edit"
			return m, nil
		}
		return m.startEdit(m.tasks[m.cursor])
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("2Do"))
	b.WriteString("  [" + m.filter.String())
	if m.filter == filterSearch {
		b.WriteString(": " + strings.Join(m.search, " "))
	}
	b.WriteString("]\n")
	if m.banner != "" {
		b.WriteString(bannerStyle.Render(m.banner))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if len(m.tasks) == 0 {
		b.WriteString(fmt.Sprintf("No tasks here. Press '%s' to add one.", m.cfg.Keys.Add))
	} else {
		b.WriteString(m.renderTaskList())
	}

	b.WriteString("\n---\n")

	switch {
	case m.edit != nil:
		b.WriteString("Edit task (tab/shift+tab to move, enter to save/next, esc to cancel)")
		b.WriteString("\n\n")
		b.WriteString(m.renderEditBox())
		b.WriteString("\n")
		b.WriteString("Field: " + m.edit.currentLabel())
		b.WriteString("\n")
		b.WriteString(m.input.View())
	case m.mode == modeAdd || m.mode == modeSearch:
		b.WriteString(m.input.View())
	default:
		b.WriteString(m.renderDetailPanel())
	}

	b.WriteString("\n\n")
	b.WriteString(m.status)
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(renderHelp(m.cfg.Keys)))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("Last updated: " + formatUpdated(m.updated)))

	return b.String()
}

func (m Model) updateDeleteConfirm(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "n", "N", m.cfg.Keys.Cancel:
		m.status = "Delete cancelled"
		m.confirmDel = false
		m.pendingDel = nil
		return m, nil
	case "y", "Y":
		if m.pendingDel == nil {
			m.status = "Nothing to delete"
			m.confirmDel = false
			return m, nil
		}
		if err := m.store.Delete(*m.pendingDel); err != nil {
			m.status = fmt.Sprintf("delete failed: %v", err)
		} else {
			m.status = "Deleted task"
		}
		m.reload()
		m.confirmDel = false
		m.pendingDel = nil
		return m, nil
	default:
		return m, nil
	}
}

// reload re-runs the current filter against the live store.
func (m *Model) reload() {
	var spec query.Spec
	switch m.filter {
	case filterComplete:
		spec = query.ShowAll{WantIncomplete: false}
	case filterFloating:
		spec = query.ShowAll{WantIncomplete: true, OnlyFloating: true}
	case filterSearch:
		spec = query.Keyword{Keywords: m.search, WantIncomplete: true}
	default:
		spec = query.ShowAll{WantIncomplete: true}
	}
	tasks, err := m.engine.Query(spec)
	if err != nil {
		m.status = fmt.Sprintf("query failed: %v", err)
		return
	}
	m.tasks = tasks
	m.cursor = clampCursor(m.cursor, len(m.tasks))
}

func (m *Model) selectTask(t task.Task) {
	for i, c := range m.tasks {
		if c.Equal(t) {
			m.cursor = i
			return
		}
	}
}

func renderHelp(k config.Keymap) string {
	return fmt.Sprintf("%s/%s move • %s add • %s search • %s filter • %s detail • space toggle • %s delete • %s edit • %s quit",
		k.Up, k.Down, k.Add, k.Search, k.NextFilter, k.Detail, k.Delete, k.Edit, k.Quit)
}

func (m Model) renderTaskList() string {
	var b strings.Builder
	for i, t := range m.tasks {
		cursor := " "
		if m.cursor == i && m.mode == modeList {
			cursor = ">"
		}

		checkbox := "[ ]"
		if t.Completed {
			checkbox = "[x]"
		}

		body := fmt.Sprintf("%s %s %s", cursor, checkbox, t.Name)
		if t.Deadline != nil {
			body += "  (due " + t.Deadline.End.Format("Mon 02 Jan 15:04") + ")"
		}
		if len(t.Tags) > 0 {
			body += "  #" + strings.Join(t.Tags, " #")
		}
		if t.Completed {
			body = doneStyle.Render(body)
		}
		b.WriteString(body)
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) startEdit(t task.Task) (tea.Model, tea.Cmd) {
	m.edit = &editState{
		target:      t,
		name:        t.Name,
		description: t.Description,
		tags:        strings.Join(t.Tags, " "),
	}
	if t.Deadline != nil {
		m.edit.start = formatDate(t.Deadline.Start)
		m.edit.end = formatDate(t.Deadline.End)
		if t.Deadline.Alarm > 0 {
			m.edit.alarm = config.FormatAlarm(t.Deadline.Alarm)
		}
	}
	m.input.SetValue(m.edit.currentValue())
	m.input.Placeholder = m.edit.currentLabel()
	m.input.Focus()
	m.mode = modeEdit
	m.status = m.editPrompt()
	return m, nil
}

func (m Model) updateEditMode(key string, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key {
	case m.cfg.Keys.Cancel, "esc":
		m.edit = nil
		m.mode = modeList
		m.input.Blur()
		m.status = "Edit cancelled"
		return m, nil
	case "tab", "down":
		m.edit.setCurrentValue(m.input.Value())
		m.edit.index = wrapIndex(m.edit.index+1, len(editFields()))
		m.input.SetValue(m.edit.currentValue())
		m.input.Placeholder = m.edit.currentLabel()
		m.status = m.editPrompt()
		return m, nil
	case "shift+tab", "up":
		m.edit.setCurrentValue(m.input.Value())
		m.edit.index = wrapIndex(m.edit.index-1, len(editFields()))
		m.input.SetValue(m.edit.currentValue())
		m.input.Placeholder = m.edit.currentLabel()
		m.status = m.editPrompt()
		return m, nil
	case m.cfg.Keys.Confirm, "enter":
		m.edit.setCurrentValue(m.input.Value())
		if m.edit.index >= len(editFields())-1 {
			return m.saveEdit()
		}
		m.edit.index++
		m.input.SetValue(m.edit.currentValue())
		m.input.Placeholder = m.edit.currentLabel()
		m.status = m.editPrompt()
		return m, nil
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
}

var errEndRequired = errors.New("an end date is required when a start date is set")

// buildEdited turns the edit form into a task. Empty start and end make the
// task floating; an end alone is a point deadline.
func (m Model) buildEdited() (task.Task, error) {
	e := m.edit
	t := task.Task{
		Name:        strings.TrimSpace(e.name),
		Description: strings.TrimSpace(e.description),
		Tags:        task.NewTags(strings.Fields(e.tags)...),
		Completed:   e.target.Completed,
	}
	startText, endText := strings.TrimSpace(e.start), strings.TrimSpace(e.end)
	if startText == "" && endText == "" {
		return t, t.Validate()
	}
	if endText == "" {
		return task.Task{}, errEndRequired
	}
	now := m.now()
	end, err := m.dates.Deadline(endText, now)
	if err != nil {
		return task.Task{}, fmt.Errorf("end date: %w", err)
	}
	start := end
	if startText != "" {
		r, err := m.dates.Parse(startText, now)
		if err != nil {
			return task.Task{}, fmt.Errorf("start date: %w", err)
		}
		start = r.Time
	}
	var lead time.Duration
	if a := strings.TrimSpace(e.alarm); a != "" {
		lead, err = config.ParseAlarm(a)
		if err != nil {
			return task.Task{}, err
		}
	}
	d, err := task.NewDeadline(start, end, lead)
	if err != nil {
		return task.Task{}, err
	}
	t.Deadline = d
	return t, t.Validate()
}

func (m Model) saveEdit() (tea.Model, tea.Cmd) {
	edited, err := m.buildEdited()
	if err != nil {
		m.status = fmt.Sprintf("invalid: %v", err)
		return m, nil
	}
	if err := m.store.Update(m.edit.target, edited); err != nil {
		m.status = fmt.Sprintf("save failed: %v", err)
		return m, nil
	}
	m.edit = nil
	m.mode = modeList
	m.input.Blur()
	m.reload()
	m.selectTask(edited)
	m.status = "Task saved"
	return m, nil
}

func editFields() []string {
	return []string{"name", "description", "tags (space separated)", "start", "end", "alarm (e.g. 30 minutes)"}
}

func (es editState) currentLabel() string {
	return editFields()[es.index]
}

func (es editState) currentValue() string {
	switch es.index {
	case 0:
		return es.name
	case 1:
		return es.description
	case 2:
		return es.tags
	case 3:
		return es.start
	case 4:
		return es.end
	case 5:
		return es.alarm
	default:
		return ""
	}
}

func (es *editState) setCurrentValue(v string) {
	switch es.index {
	case 0:
		es.name = v
	case 1:
		es.description = v
	case 2:
		es.tags = v
	case 3:
		es.start = v
	case 4:
		es.end = v
	case 5:
		es.alarm = v
	}
}

func (m Model) editPrompt() string {
	if m.edit == nil {
		return ""
	}
	return fmt.Sprintf("Editing %s (field %d of %d). Enter to advance, Esc to cancel.",
		m.edit.currentLabel(), m.edit.index+1, len(editFields()))
}

func (m Model) renderEditBox() string {
	if m.edit == nil {
		return ""
	}
	values := []string{m.edit.name, m.edit.description, m.edit.tags, m.edit.start, m.edit.end, m.edit.alarm}
	var b strings.Builder
	for i, name := range editFields() {
		prefix := " "
		if i == m.edit.index {
			prefix = ">"
		}
		b.WriteString(fmt.Sprintf("%s %-24s : %s\n", prefix, name, emptyPlaceholder(values[i])))
	}
	return b.String()
}

func (m Model) renderDetailPanel() string {
	if len(m.tasks) == 0 {
		return "No task selected"
	}
	t := m.tasks[clampCursor(m.cursor, len(m.tasks))]
	var b strings.Builder
	b.WriteString("Details\n")
	b.WriteString(fmt.Sprintf("Name        : %s\n", t.Name))
	b.WriteString(fmt.Sprintf("Status      : %s\n", humanDone(t.Completed)))
	b.WriteString(fmt.Sprintf("Description : %s\n", emptyPlaceholder(t.Description)))
	b.WriteString(fmt.Sprintf("Tags        : %s\n", emptyPlaceholder(t.Tags.String())))
	if t.Deadline != nil {
		b.WriteString(fmt.Sprintf("Start       : %s\n", formatDate(t.Deadline.Start)))
		b.WriteString(fmt.Sprintf("End         : %s\n", formatDate(t.Deadline.End)))
	} else {
		b.WriteString("Deadline    : (floating)\n")
	}
	return b.String()
}

func describe(t task.Task) string {
	info := t.Name + " • " + humanDone(t.Completed)
	if t.Deadline != nil {
		info += " • start:" + formatDate(t.Deadline.Start) + " • end:" + formatDate(t.Deadline.End)
	}
	if len(t.Tags) > 0 {
		info += " • tags:" + t.Tags.String()
	}
	if t.Description != "" {
		info += " • " + t.Description
	}
	return info
}

func formatReminder(r alarm.Reminder) string {
	names := make([]string, len(r.Tasks))
	for i, t := range r.Tasks {
		names[i] = t.Name
	}
	return "Reminder: " + strings.Join(names, ", ")
}

func formatDate(t time.Time) string {
	return t.Format("2006-01-02 15:04")
}

func formatUpdated(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format("Mon 02 Jan 15:04:05")
}

// wrapFilter cycles the list filters; search is only entered through the
// search key.
func wrapFilter(f filter) filter {
	if f > filterSearch {
		return filterIncomplete
	}
	return filter(wrapIndex(int(f), int(filterSearch)))
}

func wrapIndex(idx, n int) int {
	if n <= 0 {
		return 0
	}
	idx %= n
	if idx < 0 {
		idx += n
	}
	return idx
}

func emptyPlaceholder(v string) string {
	if strings.TrimSpace(v) == "" {
		return "(empty)"
	}
	return v
}

func clampCursor(cur, n int) int {
	if n <= 0 {
		return 0
	}
	if cur < 0 {
		return 0
	}
	if cur >= n {
		return n - 1
	}
	return cur
}

func humanDone(done bool) string {
	if done {
		return "done"
	}
	return "pending"
}
