package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"bizdash/internal/client"
	"bizdash/internal/platform/models"
)

// actions are the hook mutations the keys trigger.
type actions interface {
	MarkAsRead(ctx context.Context, id string) error
	Dismiss(ctx context.Context, id string) error
	MarkAllAsRead(ctx context.Context) error
}

type stateMsg client.State

type actionDoneMsg struct {
	verb string
	err  error
}

type model struct {
	ctx     context.Context
	actions actions
	states  <-chan client.State

	state  client.State
	cursor int
	status string
	width  int
}

func newModel(ctx context.Context, a actions, states <-chan client.State) model {
	return model{
		ctx:     ctx,
		actions: a,
		states:  states,
		state:   client.State{Loading: true},
		width:   80,
	}
}

func (m model) Init() tea.Cmd {
	return waitForState(m.states)
}

// waitForState blocks for the next hook state. Update re-issues it after
// every stateMsg.
func waitForState(states <-chan client.State) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-states
		if !ok {
			return nil
		}
		return stateMsg(s)
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stateMsg:
		m.state = client.State(msg)
		if n := len(m.visible()); m.cursor >= n {
			m.cursor = max(n-1, 0)
		}
		return m, waitForState(m.states)

	case actionDoneMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("%s failed: %v", msg.verb, msg.err)
		} else {
			m.status = msg.verb + " done"
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	list := m.visible()
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(list)-1 {
			m.cursor++
		}
	case "r":
		for _, n := range list {
			if !n.IsRead {
				return m, m.run("mark read", func(ctx context.Context) error { return m.actions.MarkAsRead(ctx, n.ID) })
			}
		}
		m.status = "nothing unread"
	case "d":
		if len(list) == 0 {
			return m, nil
		}
		id := list[m.cursor].ID
		return m, m.run("dismiss", func(ctx context.Context) error { return m.actions.Dismiss(ctx, id) })
	case "a":
		return m, m.run("mark all read", m.actions.MarkAllAsRead)
	}
	return m, nil
}

func (m model) run(verb string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return actionDoneMsg{verb: verb, err: fn(ctx)}
	}
}

// visible hides dismissed entries, which the hook keeps until the next poll.
func (m model) visible() []models.Notification {
	out := make([]models.Notification, 0, len(m.state.Notifications))
	for _, n := range m.state.Notifications {
		if !n.IsDismissed {
			out = append(out, n)
		}
	}
	return out
}

func (m model) View() string {
	var b strings.Builder

	link := "○ offline"
	if m.state.Connected {
		link = "● live"
	}
	header := fmt.Sprintf("bizdash  %d unread  %s", m.state.UnreadCount, link)
	if m.state.Loading {
		header += "  loading…"
	}
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n\n")

	list := m.visible()
	if len(list) == 0 && !m.state.Loading {
		b.WriteString(readStyle.Render("  No notifications"))
		b.WriteString("\n")
	}
	for i, n := range list {
		b.WriteString(m.row(n, i == m.cursor))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.state.Err != nil {
		b.WriteString(errorStyle.Render("  " + m.state.Err.Error()))
		b.WriteString("\n")
	}
	if m.status != "" {
		b.WriteString(statusBarStyle.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("↑/↓ move • r read first unread • d dismiss • a mark all read • q quit"))
	return b.String()
}

func (m model) row(n models.Notification, selected bool) string {
	pointer := "  "
	if selected {
		pointer = cursorStyle.Render("> ")
	}
	k := kindOf(n.Type)
	icon := lipgloss.NewStyle().Foreground(k.color).Render(k.icon)

	title := readStyle.Render(n.Title)
	if !n.IsRead {
		title = unreadStyle.Render(n.Title)
	}
	prio := priorityStyle(n.Priority).Render(string(n.Priority))
	when := readStyle.Render(time.UnixMilli(n.CreatedAt).Format("Jan 2 15:04"))

	line := lipgloss.JoinHorizontal(lipgloss.Top, pointer, icon, " ", title, "  ", prio, "  ", when)
	if n.Message != "" && selected {
		line += "\n      " + readStyle.Render(n.Message)
	}
	return line
}
