package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/loykin/affinityd/internal/heartbeat"
)

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("affinityd"))
	b.WriteString("\n\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n")

	switch {
	case !m.loaded && m.err != nil:
		b.WriteString(errStyle.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	case !m.loaded:
		b.WriteString(dimStyle.Render("Loading configuration..."))
		b.WriteString("\n")
	default:
		b.WriteString(m.renderConfig())
	}

	b.WriteString("\n")
	if m.editing {
		b.WriteString(m.help.View(editKeys{m.keys}))
	} else {
		b.WriteString(m.help.View(m.keys))
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderStatus() string {
	now := m.now()
	worker := heartbeat.WorkerLabel(m.latest, now)
	sync := heartbeat.SyncLabel(m.latest, now)

	lines := []string{
		fmt.Sprintf("%s %s", subtitleStyle.Render("Worker:"), labelStyle(worker).Render(worker)),
		fmt.Sprintf("%s %s", subtitleStyle.Render("Sync:  "), labelStyle(sync).Render(sync)),
	}
	if m.latest != nil && m.latest.HasError() {
		lines = append(lines, errStyle.Render("Last error: "+m.latest.Error))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func labelStyle(label string) lipgloss.Style {
	switch label {
	case heartbeat.LabelRunning, heartbeat.LabelSynced:
		return okStyle
	case heartbeat.LabelLostConnection, heartbeat.LabelUnsynced:
		return errStyle
	case heartbeat.LabelLikelySynced, heartbeat.LabelLikelyUnsynced, heartbeat.LabelStarting:
		return warnStyle
	default:
		return dimStyle
	}
}

func (m Model) renderConfig() string {
	var b strings.Builder

	b.WriteString(subtitleStyle.Render("Process: "))
	if m.editing {
		b.WriteString(m.input.View())
	} else if m.draft.ProcessName == "" {
		b.WriteString(dimStyle.Render("(none)"))
	} else {
		b.WriteString(m.draft.ProcessName)
	}
	b.WriteString("\n")

	b.WriteString(subtitleStyle.Render(m.draft.Selections.Title()))
	if m.Dirty() {
		b.WriteString(warnStyle.Render("  (unsaved)"))
	} else if m.notice != "" {
		b.WriteString(okStyle.Render("  " + m.notice))
	}
	b.WriteString("\n\n")

	n := m.draft.Selections.CPUCount()
	for i := 0; i < n; i++ {
		box := "[ ]"
		style := dimStyle
		if m.draft.Selections.IsSelected(i) {
			box = "[x]"
			style = checkedStyle
		}
		cell := fmt.Sprintf("%s CPU %-3d", box, i)
		if i == m.cursor && !m.editing {
			cell = cursorStyle.Render("> " + cell)
		} else {
			cell = "  " + style.Render(cell)
		}
		b.WriteString(cell)
		if (i+1)%columns == 0 || i == n-1 {
			b.WriteString("\n")
		}
	}

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errStyle.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	}
	return b.String()
}
