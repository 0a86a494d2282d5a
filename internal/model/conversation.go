package model

import (
	"strings"
	"time"
)

const (
	titleMaxRunes = 30
	// DefaultTitle 用于新建且尚无用户文字的会话。
	DefaultTitle = "新对话"
	imageTitle   = "[图片]"
)

// Conversation 是一段已持久化的会话。
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	Model     string    `json:"model"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone 深拷贝会话。
func (c Conversation) Clone() Conversation {
	c.Messages = CloneMessages(c.Messages)
	return c
}

// DeriveTitle 取第一条用户消息作为标题：折叠空白，超长按 rune 截断并加省略号。
// 只有图片的首条消息以 [图片] 作为标题。
func DeriveTitle(msgs []Message) string {
	for _, m := range msgs {
		if m.Role != RoleUser {
			continue
		}
		text := strings.Join(strings.Fields(m.Content), " ")
		if text == "" {
			if m.HasImages() {
				return imageTitle
			}
			continue
		}
		runes := []rune(text)
		if len(runes) > titleMaxRunes {
			return string(runes[:titleMaxRunes]) + "..."
		}
		return text
	}
	return DefaultTitle
}
