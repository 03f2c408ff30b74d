package tui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/stackctl/pkg/state"
)

type Styles struct {
	Title      lipgloss.Style
	TitleMuted lipgloss.Style

	healthy   lipgloss.Style
	unhealthy lipgloss.Style
	started   lipgloss.Style
	exited    lipgloss.Style
	pending   lipgloss.Style
}

func DefaultStyles() Styles {
	return Styles{
		Title:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED")),
		TitleMuted: lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")),

		healthy:   lipgloss.NewStyle().Foreground(lipgloss.Color("#22C55E")),
		unhealthy: lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")),
		started:   lipgloss.NewStyle().Foreground(lipgloss.Color("#EAB308")),
		exited:    lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")),
		pending:   lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF")),
	}
}

func (s Styles) styleFor(st state.Status) lipgloss.Style {
	switch st {
	case state.StatusHealthy:
		return s.healthy
	case state.StatusUnhealthy:
		return s.unhealthy
	case state.StatusStarted:
		return s.started
	case state.StatusExited:
		return s.exited
	default:
		return s.pending
	}
}

func (s Styles) Status(st state.Status) string {
	return s.styleFor(st).Render(string(st))
}

func (s Styles) Marker(st state.Status) string {
	switch st {
	case state.StatusHealthy:
		return s.healthy.Render("●")
	case state.StatusUnhealthy, state.StatusExited:
		return s.unhealthy.Render("●")
	case state.StatusStarted:
		return s.started.Render("●")
	default:
		return s.pending.Render("○")
	}
}
