// Package tui 是聊天客户端的终端界面，基于 bubbletea。
// 所有状态都在 client.Controller 中，界面只负责展示与转发按键。
package tui

import (
	"context"
	"errors"
	"os"

	"ai-chat-go/internal/client"
	"ai-chat-go/internal/model"
	"ai-chat-go/pkg/log"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
)

const (
	sidebarWidth = 28
	inputHeight  = 3
)

// changedMsg 表示控制器状态发生了变化。
type changedMsg struct{}

// sendDoneMsg 在一轮对话结束后送达。
type sendDoneMsg struct{ err error }

// Model 是 bubbletea 的根模型。
type Model struct {
	ctx     context.Context
	ctrl    *client.Controller
	changes chan struct{}
	home    string

	input    textarea.Model
	viewport viewport.Model
	spinner  spinner.Model

	renderer      *glamour.TermRenderer
	rendererTheme model.Theme
	rendererWidth int

	width  int
	height int
	ready  bool
	status string
}

// New 创建界面模型，并订阅控制器的状态变化。
func New(ctx context.Context, ctrl *client.Controller) Model {
	changes := make(chan struct{}, 1)
	ctrl.OnChange(func() {
		// 合并通知，界面每次刷新都会读取完整快照
		select {
		case changes <- struct{}{}:
		default:
		}
	})

	ta := textarea.New()
	ta.Placeholder = "输入消息，enter 发送，alt+enter 换行"
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(inputHeight)
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter"))
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	home, _ := os.UserHomeDir()
	return Model{
		ctx:      ctx,
		ctrl:     ctrl,
		changes:  changes,
		home:     home,
		input:    ta,
		viewport: viewport.New(0, 0),
		spinner:  sp,
	}
}

func waitForChange(changes <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-changes
		return changedMsg{}
	}
}

func (m Model) sendCmd() tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		return sendDoneMsg{err: ctrl.Send(ctx)}
	}
}

// Init 实现 tea.Model。
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick, waitForChange(m.changes))
}

// Update 实现 tea.Model。
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		m.ready = true
		m.refresh(true)
		return m, nil

	case changedMsg:
		m.refresh(false)
		return m, waitForChange(m.changes)

	case sendDoneMsg:
		m.handleSendResult(msg.err)
		m.refresh(true)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.ctrl.Snapshot().Loading {
			m.refresh(false)
		}
		return m, cmd

	case tea.KeyMsg:
		if next, cmd, handled := m.handleKey(msg); handled {
			return next, cmd
		}
	}

	var cmd tea.Cmd
	if _, ok := msg.(tea.MouseMsg); ok {
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	// 其余按键只交给输入框，viewport 的默认按键会与输入冲突
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit, true
	case "enter":
		next, cmd := m.submit()
		return next, cmd, true
	case "ctrl+n":
		m.ctrl.NewConversation()
		m.status = "已开始新对话"
		return m, nil, true
	case "ctrl+o":
		id := m.ctrl.NextModel()
		m.status = "当前模型: " + m.ctrl.Catalog().DisplayName(id)
		return m, nil, true
	case "ctrl+t":
		m.toggleTheme("")
		return m, nil, true
	case "tab":
		m.cycleConversation(1)
		return m, nil, true
	case "shift+tab":
		m.cycleConversation(-1)
		return m, nil, true
	case "ctrl+d":
		m.deleteActive()
		return m, nil, true
	case "ctrl+x":
		m.ctrl.ClearImages()
		m.status = "已清除待发送图片"
		return m, nil, true
	case "alt+1", "alt+2", "alt+3":
		m.useQuickPrompt(int(msg.Runes[0] - '1'))
		return m, nil, true
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd, true
	}
	return m, nil, false
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	value := m.input.Value()
	if cmd, draft, ok := parseCommand(value); ok {
		m.input.SetValue(draft)
		return m.runCommand(cmd)
	}
	if m.ctrl.Snapshot().Loading {
		m.status = "正在等待回复，请稍候"
		return m, nil
	}
	m.ctrl.SetInput(value)
	m.input.Reset()
	m.status = ""
	return m, m.sendCmd()
}

func (m Model) runCommand(cmd command) (tea.Model, tea.Cmd) {
	switch cmd.name {
	case cmdAttach:
		m.attach(cmd.arg)
	case cmdModel:
		if cmd.arg == "" {
			id := m.ctrl.NextModel()
			m.status = "当前模型: " + m.ctrl.Catalog().DisplayName(id)
			break
		}
		if err := m.ctrl.SetModel(cmd.arg); err != nil {
			m.status = "未知模型: " + cmd.arg
			break
		}
		m.status = "当前模型: " + m.ctrl.Catalog().DisplayName(cmd.arg)
	case cmdNew:
		m.ctrl.NewConversation()
		m.status = "已开始新对话"
	case cmdDelete:
		m.deleteActive()
	case cmdClear:
		if err := m.ctrl.ClearConversations(m.ctx); err != nil {
			m.status = "清空失败: " + err.Error()
			break
		}
		m.status = "已清空全部对话"
	case cmdTheme:
		m.toggleTheme(cmd.arg)
	case cmdQuit:
		return m, tea.Quit
	default:
		m.status = "未知命令: /" + cmd.name
	}
	return m, nil
}

func (m *Model) attach(path string) {
	if path == "" {
		m.status = "用法: /attach <文件路径>"
		return
	}
	// 以输入框中的草稿为准，文本附件追加在其后
	m.ctrl.SetInput(m.input.Value())
	att, err := m.ctrl.AttachFile(expandHome(path, m.home))
	if err != nil {
		if errors.Is(err, client.ErrAttachmentTooLarge) {
			m.status = "附件过大"
		} else {
			m.status = "附件读取失败: " + err.Error()
		}
		return
	}
	switch att.Kind {
	case client.AttachmentImage:
		m.status = "已添加图片: " + att.Name
		if snap := m.ctrl.Snapshot(); !m.ctrl.Catalog().SupportsVision(snap.Model) {
			m.status += "（当前模型不支持识图，请先切换模型）"
		}
	default:
		m.input.SetValue(m.ctrl.Snapshot().Input)
		m.status = "已添加附件: " + att.Name
	}
}

// useQuickPrompt 在空对话中把第 i 个示例问题填入输入框。
func (m *Model) useQuickPrompt(i int) {
	if i < 0 || i >= len(quickPrompts) || len(m.ctrl.Snapshot().Transcript) > 0 {
		return
	}
	m.input.SetValue(quickPrompts[i])
	m.ctrl.SetInput(quickPrompts[i])
}

func (m *Model) toggleTheme(arg string) {
	var err error
	if arg == "" {
		err = m.ctrl.ToggleTheme(m.ctx)
	} else {
		err = m.ctrl.SetTheme(m.ctx, model.ParseTheme(arg))
	}
	if err != nil {
		log.Error("保存主题失败", err)
		m.status = "保存主题失败"
	}
}

func (m *Model) cycleConversation(step int) {
	snap := m.ctrl.Snapshot()
	n := len(snap.Conversations)
	if n == 0 {
		return
	}
	next := 0
	for i, conv := range snap.Conversations {
		if conv.ID == snap.ActiveID {
			next = ((i+step)%n + n) % n
			break
		}
	}
	if err := m.ctrl.Select(snap.Conversations[next].ID); err != nil {
		m.status = err.Error()
	}
}

func (m *Model) deleteActive() {
	id := m.ctrl.Snapshot().ActiveID
	if id == "" {
		m.status = "当前对话尚未保存"
		return
	}
	if err := m.ctrl.Delete(m.ctx, id); err != nil {
		m.status = "删除失败: " + err.Error()
		return
	}
	m.status = "已删除对话"
}

func (m *Model) handleSendResult(err error) {
	switch {
	case err == nil, errors.Is(err, client.ErrTurnDropped):
	case errors.Is(err, client.ErrEmptyMessage):
		m.status = "请输入内容或添加附件"
	case errors.Is(err, client.ErrModelNoVision):
		m.status = "当前模型不支持图片，请用 ctrl+o 切换到识图模型"
		m.input.SetValue(m.ctrl.Snapshot().Input)
	case errors.Is(err, client.ErrTurnInFlight):
		m.status = "正在等待回复，请稍候"
	default:
		// 失败已经作为 ❌ 消息写入对话
		m.status = ""
	}
}

func (m *Model) layout() {
	m.input.SetWidth(m.width - 2)
	m.viewport.Width = m.width - sidebarWidth - 1
	m.viewport.Height = m.height - inputHeight - 5
	if m.viewport.Height < 1 {
		m.viewport.Height = 1
	}
}

// refresh 重新渲染对话内容；原本停在底部时继续跟随最新内容。
func (m *Model) refresh(forceBottom bool) {
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderTranscript(m.ctrl.Snapshot()))
	if forceBottom || atBottom {
		m.viewport.GotoBottom()
	}
}

// markdown 返回与当前主题和宽度匹配的渲染器。
func (m *Model) markdown(theme model.Theme) *glamour.TermRenderer {
	width := m.viewport.Width - 4
	if width < 20 {
		width = 20
	}
	if m.renderer != nil && m.rendererTheme == theme && m.rendererWidth == width {
		return m.renderer
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(string(theme)),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		log.Warnf("创建 markdown 渲染器失败: %v", err)
		return nil
	}
	m.renderer, m.rendererTheme, m.rendererWidth = r, theme, width
	return r
}

func (m Model) modelLabel(id string) string {
	if id == "" {
		return "AI"
	}
	return m.ctrl.Catalog().DisplayName(id)
}

var _ tea.Model = Model{}
