// Package tui renders a live terminal view of one board: columns with card
// counts on top, the event queue tail below. It polls the store directly;
// there is no push channel, so the view is eventually consistent with
// whatever process is mutating the board.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/kanbus/kanbus/internal/board"
	"github.com/kanbus/kanbus/internal/events"
)

const (
	refreshInterval = 2 * time.Second
	eventTailLimit  = 20
)

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)

	columnStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD")).
			Padding(0, 1)

	blockedStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#FF0000")).
			Padding(0, 1)

	statusDone   = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusFailed = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	statusQueued = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

	errStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
)

type columnSummary struct {
	Name     string
	WipLimit *int
	Count    int
}

type snapshot struct {
	Columns []columnSummary
	Events  []events.Event
}

type tickMsg time.Time

type snapshotMsg struct {
	snap snapshot
	err  error
}

// Model is the bubbletea model for `kanbus watch`.
type Model struct {
	store   *board.Store
	queue   *events.Queue
	boardID string

	width     int
	height    int
	snap      snapshot
	loadErr   error
	eventsTbl table.Model
}

func NewModel(store *board.Store, queue *events.Queue, boardID string) Model {
	cols := []table.Column{
		{Title: "Time", Width: 20},
		{Title: "Event", Width: 16},
		{Title: "Status", Width: 8},
		{Title: "Retries", Width: 7},
		{Title: "Last error", Width: 40},
	}
	tbl := table.New(
		table.WithColumns(cols),
		table.WithHeight(eventTailLimit),
		table.WithFocused(true),
	)
	return Model{store: store, queue: queue, boardID: boardID, eventsTbl: tbl}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.load(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// load reads a fresh snapshot off the main goroutine.
func (m Model) load() tea.Cmd {
	store, queue, boardID := m.store, m.queue, m.boardID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), refreshInterval)
		defer cancel()

		cols, err := store.Columns(ctx, boardID)
		if err != nil {
			return snapshotMsg{err: err}
		}
		var snap snapshot
		for _, c := range cols {
			cards, err := store.ListCards(ctx, boardID, c.Name)
			if err != nil {
				return snapshotMsg{err: err}
			}
			snap.Columns = append(snap.Columns, columnSummary{Name: c.Name, WipLimit: c.WipLimit, Count: len(cards)})
		}

		evs, err := queue.List(ctx, boardID, "", 1000)
		if err != nil {
			return snapshotMsg{err: err}
		}
		if len(evs) > eventTailLimit {
			evs = evs[len(evs)-eventTailLimit:]
		}
		snap.Events = evs
		return snapshotMsg{snap: snap}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.load()
		}

	case tickMsg:
		return m, tea.Batch(m.load(), tick())

	case snapshotMsg:
		if msg.err != nil {
			m.loadErr = msg.err
			return m, nil
		}
		m.loadErr = nil
		m.snap = msg.snap
		m.eventsTbl.SetRows(eventRows(msg.snap.Events))
		return m, nil
	}

	var cmd tea.Cmd
	m.eventsTbl, cmd = m.eventsTbl.Update(msg)
	return m, cmd
}

func eventRows(evs []events.Event) []table.Row {
	rows := make([]table.Row, 0, len(evs))
	// Newest on top.
	for i := len(evs) - 1; i >= 0; i-- {
		e := evs[i]
		lastErr := ""
		if e.LastError != nil {
			lastErr = *e.LastError
		}
		rows = append(rows, table.Row{
			e.UpdatedAt,
			e.Name,
			string(e.Status),
			fmt.Sprintf("%d", e.RetryCount),
			lastErr,
		})
	}
	return rows
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("kanbus watch: board %s", m.boardID)))
	b.WriteString("\n\n")

	if m.loadErr != nil {
		b.WriteString(errStyle.Render(fmt.Sprintf("load error: %v", m.loadErr)))
		b.WriteString("\n\n")
	}

	var boxes []string
	for _, c := range m.snap.Columns {
		label := fmt.Sprintf("%s\n%d", c.Name, c.Count)
		if c.WipLimit != nil {
			label = fmt.Sprintf("%s\n%d / %d", c.Name, c.Count, *c.WipLimit)
		}
		style := columnStyle
		if c.Name == board.BlockedColumn && c.Count > 0 {
			style = blockedStyle
		}
		boxes = append(boxes, style.Render(label))
	}
	if len(boxes) > 0 {
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
		b.WriteString("\n\n")
	}

	var done, failed, queued int
	for _, e := range m.snap.Events {
		switch e.Status {
		case events.StatusDone:
			done++
		case events.StatusFailed:
			failed++
		case events.StatusQueued:
			queued++
		}
	}

	b.WriteString(titleStyle.Render("Events"))
	b.WriteString("  ")
	b.WriteString(statusDone.Render(fmt.Sprintf("%d done", done)))
	b.WriteString("  ")
	b.WriteString(statusFailed.Render(fmt.Sprintf("%d failed", failed)))
	b.WriteString("  ")
	b.WriteString(statusQueued.Render(fmt.Sprintf("%d queued", queued)))
	b.WriteString("\n")
	b.WriteString(m.eventsTbl.View())
	b.WriteString("\n")
	b.WriteString(statusQueued.Render("q quit · r refresh"))

	return docStyle.Render(b.String())
}
