package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"agentforge/internal/types"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	userStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#04B575"))
	agentStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5F87"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// markdownRenderer returns a glamour renderer, or nil when styling is off.
func markdownRenderer(plain bool) *glamour.TermRenderer {
	if plain {
		return nil
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStylePath("dark"),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return nil
	}
	return r
}

// renderMessages prints messages in the order given. A message without a
// fragment renders "no files".
func renderMessages(w io.Writer, msgs []types.Message, showCode, plain bool) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no messages"))
		return
	}
	md := markdownRenderer(plain)

	for _, m := range msgs {
		header := string(m.Role)
		switch {
		case m.Type == types.MessageError:
			header = errorStyle.Render("ASSISTANT · ERROR")
		case m.Role == types.RoleUser:
			header = userStyle.Render(header)
		default:
			header = agentStyle.Render(header)
		}
		fmt.Fprintf(w, "%s  %s  %s\n", header, dimStyle.Render(m.CreatedAt.Format("2006-01-02 15:04:05")), dimStyle.Render(m.ID))

		body := m.Content
		if md != nil && m.Role == types.RoleAssistant && m.Type == types.MessageResult {
			if rendered, err := md.Render(body); err == nil {
				body = strings.TrimRight(rendered, "\n")
			}
		}
		fmt.Fprintln(w, body)

		if m.Role == types.RoleAssistant && m.Type == types.MessageResult {
			renderFragment(w, m.Fragment, showCode)
		}
		fmt.Fprintln(w)
	}
}

func renderFragment(w io.Writer, f *types.Fragment, showCode bool) {
	if f == nil || len(f.Files) == 0 {
		fmt.Fprintln(w, dimStyle.Render("  no files"))
		return
	}
	fmt.Fprintf(w, "  %s  %s\n", titleStyle.Render(f.Title), f.SandboxURL)
	for _, p := range sortedKeys(f.Files) {
		fmt.Fprintf(w, "  - %s\n", p)
		if showCode {
			for _, line := range strings.Split(f.Files[p], "\n") {
				fmt.Fprintf(w, "      %s\n", line)
			}
		}
	}
}
