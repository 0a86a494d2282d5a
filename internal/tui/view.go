package tui

import (
	"fmt"
	"strings"

	"ai-chat-go/internal/client"
	"ai-chat-go/internal/model"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

type palette struct {
	accent  lipgloss.Color
	muted   lipgloss.Color
	text    lipgloss.Color
	user    lipgloss.Color
	active  lipgloss.Color
	errorFg lipgloss.Color
}

var palettes = map[model.Theme]palette{
	model.ThemeDark: {
		accent:  lipgloss.Color("#7C9CFF"),
		muted:   lipgloss.Color("#6B7280"),
		text:    lipgloss.Color("#E5E7EB"),
		user:    lipgloss.Color("#34D399"),
		active:  lipgloss.Color("#374151"),
		errorFg: lipgloss.Color("#F87171"),
	},
	model.ThemeLight: {
		accent:  lipgloss.Color("#2563EB"),
		muted:   lipgloss.Color("#9CA3AF"),
		text:    lipgloss.Color("#111827"),
		user:    lipgloss.Color("#047857"),
		active:  lipgloss.Color("#E5E7EB"),
		errorFg: lipgloss.Color("#B91C1C"),
	},
}

type styles struct {
	header    lipgloss.Style
	sidebar   lipgloss.Style
	item      lipgloss.Style
	activeRow lipgloss.Style
	userLabel lipgloss.Style
	botLabel  lipgloss.Style
	body      lipgloss.Style
	errorText lipgloss.Style
	status    lipgloss.Style
	pending   lipgloss.Style
}

func stylesFor(theme model.Theme) styles {
	p, ok := palettes[theme]
	if !ok {
		p = palettes[model.ThemeDark]
	}
	return styles{
		header:    lipgloss.NewStyle().Bold(true).Foreground(p.accent).Padding(0, 1),
		sidebar:   lipgloss.NewStyle().Width(sidebarWidth).BorderStyle(lipgloss.NormalBorder()).BorderRight(true).BorderForeground(p.muted),
		item:      lipgloss.NewStyle().Foreground(p.text).Padding(0, 1),
		activeRow: lipgloss.NewStyle().Foreground(p.accent).Background(p.active).Bold(true).Padding(0, 1),
		userLabel: lipgloss.NewStyle().Foreground(p.user).Bold(true),
		botLabel:  lipgloss.NewStyle().Foreground(p.accent).Bold(true),
		body:      lipgloss.NewStyle().Foreground(p.text).PaddingLeft(2),
		errorText: lipgloss.NewStyle().Foreground(p.errorFg).PaddingLeft(2),
		status:    lipgloss.NewStyle().Foreground(p.muted).Padding(0, 1),
		pending:   lipgloss.NewStyle().Foreground(p.user).Padding(0, 1),
	}
}

// View 实现 tea.Model。
func (m Model) View() string {
	if !m.ready {
		return "正在加载..."
	}
	snap := m.ctrl.Snapshot()
	st := stylesFor(snap.Theme)

	header := st.header.Render(fmt.Sprintf("AI Chat · %s · %s", m.modelLabel(snap.Model), snap.Theme))
	sidebar := st.sidebar.Height(m.viewport.Height).Render(m.renderSidebar(snap, st))
	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, m.viewport.View())

	parts := []string{header, body}
	if snap.PendingImages > 0 {
		parts = append(parts, st.pending.Render(fmt.Sprintf("📎 %d 张图片待发送 (ctrl+x 清除)", snap.PendingImages)))
	}
	parts = append(parts, m.input.View())

	status := m.status
	if status == "" {
		status = helpText
	}
	parts = append(parts, st.status.Render(status))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) renderSidebar(snap client.Snapshot, st styles) string {
	var b strings.Builder
	newRow := "+ 新对话"
	if snap.ActiveID == "" {
		b.WriteString(st.activeRow.Render(newRow))
	} else {
		b.WriteString(st.item.Render(newRow))
	}
	for _, conv := range snap.Conversations {
		b.WriteString("\n")
		title := truncate(conv.Title, sidebarWidth-4)
		if conv.ID == snap.ActiveID {
			b.WriteString(st.activeRow.Render(title))
		} else {
			b.WriteString(st.item.Render(title))
		}
	}
	return b.String()
}

// renderTranscript 渲染整段对话。助手消息带模型名标题并按 markdown 渲染。
func (m *Model) renderTranscript(snap client.Snapshot) string {
	st := stylesFor(snap.Theme)
	if len(snap.Transcript) == 0 {
		var b strings.Builder
		b.WriteString(st.body.Render("\n有什么可以帮你的？\n"))
		b.WriteString("\n")
		for i, prompt := range quickPrompts {
			b.WriteString(st.item.Render(fmt.Sprintf("alt+%d  %s", i+1, prompt)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(st.status.Render(helpText))
		return b.String()
	}

	renderer := m.markdown(snap.Theme)
	var b strings.Builder
	for i, msg := range snap.Transcript {
		if i > 0 {
			b.WriteString("\n")
		}
		switch msg.Role {
		case model.RoleUser:
			b.WriteString(st.userLabel.Render("你"))
			b.WriteString("\n")
			if msg.Content != "" {
				b.WriteString(st.body.Render(msg.Content))
				b.WriteString("\n")
			}
			if n := len(msg.Images); n > 0 {
				b.WriteString(st.body.Render(fmt.Sprintf("[图片 ×%d]", n)))
				b.WriteString("\n")
			}
		default:
			b.WriteString(st.botLabel.Render(m.modelLabel(msg.Model)))
			b.WriteString("\n")
			last := i == len(snap.Transcript)-1
			switch {
			case last && snap.InProgress:
				b.WriteString(st.body.Render(m.spinner.View() + " 思考中..."))
				b.WriteString("\n")
			case strings.HasPrefix(msg.Content, client.ErrorPrefix):
				b.WriteString(st.errorText.Render(msg.Content))
				b.WriteString("\n")
			default:
				b.WriteString(renderMarkdown(renderer, msg.Content, st))
			}
		}
	}
	if snap.State == client.StateSending {
		b.WriteString("\n")
		b.WriteString(st.status.Render(m.spinner.View() + " 发送中..."))
	}
	return b.String()
}

func renderMarkdown(r *glamour.TermRenderer, content string, st styles) string {
	if r != nil {
		if out, err := r.Render(content); err == nil {
			return out
		}
	}
	return st.body.Render(content) + "\n"
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
