// Package tui renders a live dashboard of service states while the stack
// runs in the foreground.
package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/stackctl/pkg/state"
)

// EventMsg carries one state transition from the bus into the model.
type EventMsg struct {
	Event state.ChangeEvent
}

// DoneMsg signals that the event feed closed.
type DoneMsg struct{}

// WaitForEvent adapts a channel of change events to a bubbletea command.
func WaitForEvent(ch <-chan state.ChangeEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return DoneMsg{}
		}
		return EventMsg{Event: ev}
	}
}

const maxLogEntries = 12

type WatchModel struct {
	stackName string
	events    <-chan state.ChangeEvent
	states    map[string]state.Status
	log       []state.ChangeEvent
	spinner   spinner.Model
	styles    Styles
	done      bool
}

func NewWatchModel(stackName string, initial map[string]state.Status, events <-chan state.ChangeEvent) WatchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	states := make(map[string]state.Status, len(initial))
	for k, v := range initial {
		states[k] = v
	}
	return WatchModel{
		stackName: stackName,
		events:    events,
		states:    states,
		spinner:   sp,
		styles:    DefaultStyles(),
	}
}

func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, WaitForEvent(m.events))
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch v := msg.(type) {
	case tea.KeyMsg:
		switch v.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(v)
		return m, cmd
	case EventMsg:
		m.states[v.Event.Service] = v.Event.To
		m.log = append(m.log, v.Event)
		if len(m.log) > maxLogEntries {
			m.log = m.log[len(m.log)-maxLogEntries:]
		}
		return m, WaitForEvent(m.events)
	case DoneMsg:
		m.done = true
		return m, nil
	}
	return m, nil
}

func (m WatchModel) View() string {
	var b strings.Builder

	title := "stackctl watch"
	if m.stackName != "" {
		title += ": " + m.stackName
	}
	b.WriteString(m.styles.Title.Render(title))
	b.WriteString("  (q quit)\n\n")

	names := make([]string, 0, len(m.states))
	for n := range m.states {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		st := m.states[n]
		marker := m.styles.Marker(st)
		if st == state.StatusStarted {
			marker = m.spinner.View()
		}
		b.WriteString(fmt.Sprintf("  %s %-24s %s\n", marker, n, m.styles.Status(st)))
	}

	if len(m.log) > 0 {
		b.WriteString("\n")
		b.WriteString(m.styles.TitleMuted.Render("Recent transitions"))
		b.WriteString("\n")
		for _, ev := range m.log {
			b.WriteString(fmt.Sprintf("  %s  %s: %s → %s",
				ev.At.Format("15:04:05"), ev.Service, ev.From, ev.To))
			if ev.Reason != "" {
				b.WriteString("  (" + ev.Reason + ")")
			}
			b.WriteString("\n")
		}
	}

	if m.done {
		b.WriteString("\n" + m.styles.TitleMuted.Render("event feed closed") + "\n")
	}
	return b.String()
}
