// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"

	"ai-chat-go/internal/model"
	"ai-chat-go/pkg/llm"
	"ai-chat-go/pkg/log"
)

// DefaultImagePrompt 在图片消息没有文字时作为文本段。
const DefaultImagePrompt = "请分析这张图片"

// ErrInvalidRequest 表示请求体结构不合法，调用方应以 400 拒绝。
var ErrInvalidRequest = errors.New("invalid chat request")

// RelayService 定义了转发聊天请求的接口。
type RelayService interface {
	// Relay 把会话整理成上游格式并以流式方式转发，每个片段写入 writer。
	Relay(ctx context.Context, req model.ChatRequest, writer llm.StreamWriter) error
}

type relayService struct {
	llmClient    llm.Client
	defaultModel string
	gen          *llm.GenerationParams
}

// NewRelayService 创建一个新的 RelayService 实例。
func NewRelayService(llmClient llm.Client, defaultModel string, gen *llm.GenerationParams) RelayService {
	return &relayService{
		llmClient:    llmClient,
		defaultModel: defaultModel,
		gen:          gen,
	}
}

func (s *relayService) Relay(ctx context.Context, req model.ChatRequest, writer llm.StreamWriter) error {
	if err := ValidateRequest(req); err != nil {
		return err
	}

	modelID := req.Model
	if modelID == "" {
		modelID = s.defaultModel
	}

	log.Infow("开始转发聊天请求", "model", modelID, "messages", len(req.Messages), "images", countImages(req.Messages))
	if err := s.llmClient.StreamChatMessages(ctx, modelID, BuildProviderMessages(req.Messages), s.gen, writer); err != nil {
		return fmt.Errorf("relay to %s: %w", modelID, err)
	}
	return nil
}

// ValidateRequest 做 binding 之外的结构校验。
func ValidateRequest(req model.ChatRequest) error {
	if len(req.Messages) == 0 {
		return fmt.Errorf("%w: messages must not be empty", ErrInvalidRequest)
	}
	for i, m := range req.Messages {
		switch m.Role {
		case model.RoleUser, model.RoleAssistant, model.RoleSystem:
		default:
			return fmt.Errorf("%w: message %d has unknown role %q", ErrInvalidRequest, i, m.Role)
		}
	}
	return nil
}

// BuildProviderMessages 把客户端消息转换为上游格式。
// 带图片的消息改为多段内容（文本段在前，每张图片一段）；其余消息保持纯文本。
func BuildProviderMessages(msgs []model.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.HasImages() {
			text := m.Content
			if text == "" {
				text = DefaultImagePrompt
			}
			out = append(out, llm.MultiPartMessage(m.Role, text, m.Images))
			continue
		}
		out = append(out, llm.TextMessage(m.Role, m.Content))
	}
	return out
}

func countImages(msgs []model.Message) int {
	n := 0
	for _, m := range msgs {
		n += len(m.Images)
	}
	return n
}
