package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ai-chat-go/internal/model"
)

const (
	conversationsKey = "chat:conversations"
	themeKey         = "chat:theme"
)

// ConversationRepository 定义了会话列表与主题偏好的持久化接口。
// 会话列表总是整体读写，不做增量更新。
type ConversationRepository interface {
	LoadConversations(ctx context.Context) (map[string]model.Conversation, error)
	SaveConversations(ctx context.Context, conversations map[string]model.Conversation) error
	ClearConversations(ctx context.Context) error
	LoadTheme(ctx context.Context) (model.Theme, bool, error)
	SaveTheme(ctx context.Context, theme model.Theme) error
}

type kvConversationRepository struct {
	kv KV
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(kv KV) ConversationRepository {
	return &kvConversationRepository{kv: kv}
}

// LoadConversations 读取全部会话，尚未保存过时返回空 map。
func (r *kvConversationRepository) LoadConversations(ctx context.Context) (map[string]model.Conversation, error) {
	data, err := r.kv.Get(ctx, conversationsKey)
	if errors.Is(err, ErrNotFound) {
		return map[string]model.Conversation{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversations: %w", err)
	}
	conversations := map[string]model.Conversation{}
	if err := json.Unmarshal(data, &conversations); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversations: %w", err)
	}
	return conversations, nil
}

// SaveConversations 整体覆盖写入会话列表。
func (r *kvConversationRepository) SaveConversations(ctx context.Context, conversations map[string]model.Conversation) error {
	if conversations == nil {
		conversations = map[string]model.Conversation{}
	}
	data, err := json.Marshal(conversations)
	if err != nil {
		return fmt.Errorf("failed to marshal conversations: %w", err)
	}
	if err := r.kv.Set(ctx, conversationsKey, data); err != nil {
		return fmt.Errorf("failed to save conversations: %w", err)
	}
	return nil
}

// ClearConversations 删除整个会话列表，主题偏好不受影响。
func (r *kvConversationRepository) ClearConversations(ctx context.Context) error {
	if err := r.kv.Delete(ctx, conversationsKey); err != nil {
		return fmt.Errorf("failed to clear conversations: %w", err)
	}
	return nil
}

// LoadTheme 读取主题偏好；第二个返回值表示是否保存过。
func (r *kvConversationRepository) LoadTheme(ctx context.Context) (model.Theme, bool, error) {
	data, err := r.kv.Get(ctx, themeKey)
	if errors.Is(err, ErrNotFound) {
		return model.ThemeDark, false, nil
	}
	if err != nil {
		return model.ThemeDark, false, fmt.Errorf("failed to get theme: %w", err)
	}
	var theme string
	if err := json.Unmarshal(data, &theme); err != nil {
		return model.ThemeDark, false, fmt.Errorf("failed to unmarshal theme: %w", err)
	}
	return model.ParseTheme(theme), true, nil
}

// SaveTheme 保存主题偏好。
func (r *kvConversationRepository) SaveTheme(ctx context.Context, theme model.Theme) error {
	data, err := json.Marshal(string(theme))
	if err != nil {
		return fmt.Errorf("failed to marshal theme: %w", err)
	}
	if err := r.kv.Set(ctx, themeKey, data); err != nil {
		return fmt.Errorf("failed to save theme: %w", err)
	}
	return nil
}
