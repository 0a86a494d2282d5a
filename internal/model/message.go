// Package model 包含了应用的数据模型定义。
package model

// 消息角色。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message 代表对话中的一条消息。
// Images 中每一项都是自包含的 data URL（data:image/png;base64,...）。
// Model 只在助手消息上记录，表示产生这条回复的模型。
type Message struct {
	Role    string   `json:"role" binding:"required,oneof=user assistant system"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
	Model   string   `json:"model,omitempty"`
}

// HasImages 报告消息是否携带图片附件。
func (m Message) HasImages() bool {
	return len(m.Images) > 0
}

// Clone 返回消息的深拷贝，避免共享 Images 底层数组。
func (m Message) Clone() Message {
	if m.Images != nil {
		m.Images = append([]string(nil), m.Images...)
	}
	return m
}

// CloneMessages 深拷贝消息列表。
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// ChatRequest 是 relay 接口的请求体。
type ChatRequest struct {
	Messages []Message `json:"messages" binding:"required,dive"`
	Model    string    `json:"model"`
}

// Fragment 是流中单个增量文本片段的载荷：{"text": "..."}。
type Fragment struct {
	Text string `json:"text"`
}

// ErrorResponse 是非流式错误响应体：{"error": "..."}。
type ErrorResponse struct {
	Error string `json:"error"`
}
