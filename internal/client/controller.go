package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"ai-chat-go/internal/model"
	"ai-chat-go/internal/repository"
	"ai-chat-go/pkg/log"

	"github.com/google/uuid"
)

// TurnState 是一轮对话所处的阶段。
type TurnState int

const (
	StateIdle TurnState = iota
	StateSending
	StateStreaming
	StateSettled
	StateErrored
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateSettled:
		return "settled"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("TurnState(%d)", int(s))
	}
}

// InFlight 报告该阶段是否有请求在途。
func (s TurnState) InFlight() bool {
	return s == StateSending || s == StateStreaming
}

// ErrorPrefix 是替换助手回复的失败标记。
const ErrorPrefix = "❌ "

var (
	ErrTurnInFlight         = errors.New("a turn is already in flight")
	ErrEmptyMessage         = errors.New("nothing to send")
	ErrModelNoVision        = errors.New("selected model does not accept images")
	ErrUnknownModel         = errors.New("unknown model")
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrTurnDropped 表示用户在回复完成前切走了会话，本轮结果被丢弃。
	ErrTurnDropped = errors.New("turn dropped after navigation")
)

// Options 配置 Controller。
type Options struct {
	Catalog            model.Catalog
	DefaultModel       string
	DefaultTheme       model.Theme
	MaxAttachmentBytes int64
	Now                func() time.Time
	NewID              func() string
}

// ConversationSummary 是会话列表中的一项。
type ConversationSummary struct {
	ID        string
	Title     string
	Model     string
	UpdatedAt time.Time
	Messages  int
}

// Snapshot 是某一时刻界面所需的全部状态，可以在锁外自由读取。
type Snapshot struct {
	Transcript    []model.Message
	Conversations []ConversationSummary
	ActiveID      string
	Input         string
	PendingImages int
	Model         string
	Theme         model.Theme
	State         TurnState
	// Loading 表示有请求在途，发送入口应禁用。
	Loading bool
	// InProgress 表示最后一条助手消息在流式阶段仍为空，用于显示加载指示。
	InProgress bool
}

type turn struct {
	cancel context.CancelFunc
	model  string
}

// Controller 持有会话状态并驱动每一轮的 Idle → Sending → Streaming → Settled/Errored。
// 所有方法都可以从界面事件循环与流式 goroutine 并发调用。
type Controller struct {
	relay   Relay
	repo    repository.ConversationRepository
	catalog model.Catalog

	maxAttachmentBytes int64
	now                func() time.Time
	newID              func() string

	mu            sync.Mutex
	conversations map[string]model.Conversation
	activeID      string
	transcript    []model.Message
	input         string
	images        []string
	model         string
	theme         model.Theme
	state         TurnState
	turn          *turn

	listenersMu sync.Mutex
	listeners   []func()
}

// NewController 创建一个 Controller，初始为无活动会话的新对话。
func NewController(relay Relay, repo repository.ConversationRepository, opts Options) *Controller {
	c := &Controller{
		relay:              relay,
		repo:               repo,
		catalog:            opts.Catalog,
		maxAttachmentBytes: opts.MaxAttachmentBytes,
		now:                opts.Now,
		newID:              opts.NewID,
		conversations:      map[string]model.Conversation{},
		model:              opts.DefaultModel,
		theme:              opts.DefaultTheme,
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	if c.model == "" {
		c.model = opts.Catalog.Default()
	}
	if c.theme == "" {
		c.theme = model.ThemeDark
	}
	return c
}

// Load 从本地存储恢复会话列表与主题偏好。
func (c *Controller) Load(ctx context.Context) error {
	conversations, err := c.repo.LoadConversations(ctx)
	if err != nil {
		return err
	}
	theme, saved, err := c.repo.LoadTheme(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conversations = conversations
	if saved {
		c.theme = theme
	}
	c.mu.Unlock()

	log.Infof("已加载 %d 个本地会话", len(conversations))
	c.notify()
	return nil
}

// OnChange 注册状态变化回调。回调在锁外执行，不应阻塞。
func (c *Controller) OnChange(fn func()) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Controller) notify() {
	c.listenersMu.Lock()
	listeners := append([]func(){}, c.listeners...)
	c.listenersMu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// Send 发送输入框内容与待发送图片，阻塞直到本轮结束。
// 返回 nil 表示本轮正常结束；返回的错误已作为失败消息写入会话。
func (c *Controller) Send(ctx context.Context) error {
	c.mu.Lock()
	if c.state.InFlight() {
		c.mu.Unlock()
		return ErrTurnInFlight
	}
	text := strings.TrimSpace(c.input)
	if text == "" && len(c.images) == 0 {
		c.mu.Unlock()
		return ErrEmptyMessage
	}
	if len(c.images) > 0 && !c.catalog.SupportsVision(c.model) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrModelNoVision, c.model)
	}

	c.transcript = append(c.transcript, model.Message{Role: model.RoleUser, Content: text, Images: c.images})
	req := model.ChatRequest{Messages: model.CloneMessages(c.transcript), Model: c.model}

	turnCtx, cancel := context.WithCancel(ctx)
	t := &turn{cancel: cancel, model: c.model}
	c.turn = t
	c.input = ""
	c.images = nil
	c.state = StateSending
	c.mu.Unlock()
	c.notify()

	err := c.relay.Stream(turnCtx, req,
		func() { c.openAssistant(t) },
		func(text string) { c.appendFragment(t, text) },
	)
	cancel()
	return c.finish(ctx, t, err)
}

func (c *Controller) openAssistant(t *turn) {
	c.mu.Lock()
	if c.turn != t {
		c.mu.Unlock()
		return
	}
	c.transcript = append(c.transcript, model.Message{Role: model.RoleAssistant, Model: t.model})
	c.state = StateStreaming
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) appendFragment(t *turn, text string) {
	c.mu.Lock()
	if c.turn != t {
		c.mu.Unlock()
		return
	}
	if c.state != StateStreaming {
		c.transcript = append(c.transcript, model.Message{Role: model.RoleAssistant, Model: t.model})
		c.state = StateStreaming
	}
	last := &c.transcript[len(c.transcript)-1]
	last.Content += text
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) finish(ctx context.Context, t *turn, streamErr error) error {
	c.mu.Lock()
	if c.turn != t {
		c.mu.Unlock()
		log.Infof("会话已切换，丢弃在途回复")
		return ErrTurnDropped
	}
	c.turn = nil

	if streamErr != nil {
		failure := model.Message{Role: model.RoleAssistant, Content: ErrorPrefix + ErrorMessage(streamErr)}
		if c.state == StateStreaming {
			c.transcript[len(c.transcript)-1] = failure
		} else {
			c.transcript = append(c.transcript, failure)
		}
		c.state = StateErrored
		log.Warnw("本轮对话失败", "model", t.model, "error", streamErr)
	} else {
		c.state = StateSettled
	}

	// 使用不可取消的上下文保存，即使调用方已取消也要把完整的一轮落盘
	persistErr := c.recordTurnLocked(context.WithoutCancel(ctx), t)
	c.mu.Unlock()
	c.notify()

	if persistErr != nil {
		return persistErr
	}
	return streamErr
}

// recordTurnLocked 把当前对话写回会话列表并整体持久化；新对话在此时才创建。
func (c *Controller) recordTurnLocked(ctx context.Context, t *turn) error {
	conv, ok := c.conversations[c.activeID]
	if !ok {
		conv = model.Conversation{ID: c.newID()}
		c.activeID = conv.ID
	}
	conv.Messages = model.CloneMessages(c.transcript)
	conv.Title = model.DeriveTitle(conv.Messages)
	conv.Model = t.model
	conv.UpdatedAt = c.now()
	c.conversations[conv.ID] = conv
	return c.persistLocked(ctx)
}

func (c *Controller) persistLocked(ctx context.Context) error {
	snapshot := make(map[string]model.Conversation, len(c.conversations))
	for id, conv := range c.conversations {
		snapshot[id] = conv.Clone()
	}
	if err := c.repo.SaveConversations(ctx, snapshot); err != nil {
		log.Error("保存会话失败", err)
		return err
	}
	return nil
}

// abandonTurnLocked 取消在途请求，其后续回调与结果都会被丢弃。
func (c *Controller) abandonTurnLocked() {
	if c.turn == nil {
		return
	}
	c.turn.cancel()
	c.turn = nil
}

// NewConversation 开始一个未保存的新对话。
func (c *Controller) NewConversation() {
	c.mu.Lock()
	c.abandonTurnLocked()
	c.activeID = ""
	c.transcript = nil
	c.state = StateIdle
	c.mu.Unlock()
	c.notify()
}

// Select 切换到已保存的会话，并恢复该会话上次使用的模型。
func (c *Controller) Select(id string) error {
	c.mu.Lock()
	conv, ok := c.conversations[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	// 重选当前会话不算离开，在途回复保持不变
	if id == c.activeID {
		c.mu.Unlock()
		return nil
	}
	c.abandonTurnLocked()
	c.activeID = id
	c.transcript = model.CloneMessages(conv.Messages)
	if conv.Model != "" {
		c.model = conv.Model
	}
	c.state = StateIdle
	c.mu.Unlock()
	c.notify()
	return nil
}

// Delete 删除会话并整体持久化。删除活动会话会清空当前对话；删除其他会话不影响当前对话。
func (c *Controller) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	if _, ok := c.conversations[id]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	delete(c.conversations, id)
	if id == c.activeID {
		c.abandonTurnLocked()
		c.activeID = ""
		c.transcript = nil
		c.state = StateIdle
	}
	err := c.persistLocked(ctx)
	c.mu.Unlock()
	c.notify()
	return err
}

// ClearConversations 删除全部已保存会话并回到新对话，主题偏好保留。
func (c *Controller) ClearConversations(ctx context.Context) error {
	c.mu.Lock()
	c.abandonTurnLocked()
	c.conversations = map[string]model.Conversation{}
	c.activeID = ""
	c.transcript = nil
	c.state = StateIdle
	err := c.repo.ClearConversations(ctx)
	c.mu.Unlock()
	c.notify()
	if err != nil {
		log.Error("清空会话失败", err)
	}
	return err
}

// SetModel 切换后续请求使用的模型。已记录消息上的模型不受影响。
func (c *Controller) SetModel(id string) error {
	if len(c.catalog) > 0 {
		if _, ok := c.catalog.Find(id); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownModel, id)
		}
	}
	c.mu.Lock()
	c.model = id
	c.mu.Unlock()
	c.notify()
	return nil
}

// NextModel 循环切换到目录中的下一个模型。
func (c *Controller) NextModel() string {
	c.mu.Lock()
	c.model = c.catalog.Next(c.model)
	id := c.model
	c.mu.Unlock()
	c.notify()
	return id
}

// SetTheme 设置并保存主题偏好。
func (c *Controller) SetTheme(ctx context.Context, theme model.Theme) error {
	c.mu.Lock()
	c.theme = theme
	c.mu.Unlock()
	c.notify()
	return c.repo.SaveTheme(ctx, theme)
}

// ToggleTheme 在深色与浅色之间切换并保存。
func (c *Controller) ToggleTheme(ctx context.Context) error {
	c.mu.Lock()
	theme := c.theme.Toggle()
	c.mu.Unlock()
	return c.SetTheme(ctx, theme)
}

// SetInput 更新输入框内容。
func (c *Controller) SetInput(input string) {
	c.mu.Lock()
	c.input = input
	c.mu.Unlock()
	c.notify()
}

// Attach 处理一个附件：图片进入待发送队列，文本内联到输入框，其余格式追加占位说明。
func (c *Controller) Attach(att Attachment) {
	c.mu.Lock()
	switch att.Kind {
	case AttachmentImage:
		c.images = append(c.images, att.Payload)
	default:
		c.input = appendInline(c.input, att.Payload)
	}
	c.mu.Unlock()
	c.notify()
}

// AttachFile 读取本地文件并作为附件加入。
func (c *Controller) AttachFile(path string) (Attachment, error) {
	att, err := ReadAttachment(path, c.maxAttachmentBytes)
	if err != nil {
		return Attachment{}, err
	}
	c.Attach(att)
	return att, nil
}

// RemoveImage 移除第 i 张待发送图片。
func (c *Controller) RemoveImage(i int) {
	c.mu.Lock()
	if i >= 0 && i < len(c.images) {
		c.images = append(c.images[:i:i], c.images[i+1:]...)
	}
	c.mu.Unlock()
	c.notify()
}

// ClearImages 清空待发送图片。
func (c *Controller) ClearImages() {
	c.mu.Lock()
	c.images = nil
	c.mu.Unlock()
	c.notify()
}

// Snapshot 返回当前状态的拷贝。
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Transcript:    model.CloneMessages(c.transcript),
		Conversations: c.summariesLocked(),
		ActiveID:      c.activeID,
		Input:         c.input,
		PendingImages: len(c.images),
		Model:         c.model,
		Theme:         c.theme,
		State:         c.state,
		Loading:       c.state.InFlight(),
	}
	if n := len(c.transcript); c.state == StateStreaming && n > 0 {
		last := c.transcript[n-1]
		s.InProgress = last.Role == model.RoleAssistant && last.Content == ""
	}
	return s
}

// summariesLocked 按最近更新时间倒序列出会话。
func (c *Controller) summariesLocked() []ConversationSummary {
	out := make([]ConversationSummary, 0, len(c.conversations))
	for _, conv := range c.conversations {
		out = append(out, ConversationSummary{
			ID:        conv.ID,
			Title:     conv.Title,
			Model:     conv.Model,
			UpdatedAt: conv.UpdatedAt,
			Messages:  len(conv.Messages),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Catalog 返回模型目录。
func (c *Controller) Catalog() model.Catalog {
	return c.catalog
}
