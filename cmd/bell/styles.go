package main

import (
	"github.com/charmbracelet/lipgloss"

	"bizdash/internal/platform/models"
)

var (
	colorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	colorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	colorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	colorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	colorOrange  = lipgloss.AdaptiveColor{Dark: "#FFA94D", Light: "#C05621"}
	colorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	colorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	colorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	colorSubtle  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#CBD5E0"}
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorWhite).
			Background(colorBlue).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(colorWhite).
			Background(colorSubtle).
			Padding(0, 1)

	errorStyle  = lipgloss.NewStyle().Foreground(colorRed)
	unreadStyle = lipgloss.NewStyle().Bold(true).Foreground(colorWhite)
	readStyle   = lipgloss.NewStyle().Foreground(colorGray)
	cursorStyle = lipgloss.NewStyle().Foreground(colorBlue).Bold(true)
	helpStyle   = lipgloss.NewStyle().Foreground(colorGray)
)

// kind is how one notification type is drawn.
type kind struct {
	icon  string
	color lipgloss.AdaptiveColor
}

var kinds = map[models.NotificationType]kind{
	models.TypeInfo:    {"i", colorBlue},
	models.TypeSuccess: {"✔", colorGreen},
	models.TypeWarning: {"!", colorYellow},
	models.TypeError:   {"✖", colorRed},
	models.TypeOrder:   {"$", colorMagenta},
	models.TypePayment: {"¤", colorGreen},
	models.TypeSystem:  {"⚙", colorGray},
}

var priorities = map[models.Priority]lipgloss.Style{
	models.PriorityLow:    lipgloss.NewStyle().Foreground(colorGray),
	models.PriorityMedium: lipgloss.NewStyle().Foreground(colorBlue),
	models.PriorityHigh:   lipgloss.NewStyle().Foreground(colorOrange).Bold(true),
	models.PriorityUrgent: lipgloss.NewStyle().Foreground(colorRed).Bold(true),
}

// kindOf falls back to the info style for types this build does not know.
func kindOf(t models.NotificationType) kind {
	if k, ok := kinds[t]; ok {
		return k
	}
	return kinds[models.TypeInfo]
}

func priorityStyle(p models.Priority) lipgloss.Style {
	if s, ok := priorities[p]; ok {
		return s
	}
	return priorities[models.PriorityMedium]
}
