// Package llm provides a streaming client for OpenAI-compatible chat completion gateways.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"ai-chat-go/internal/config"
	"ai-chat-go/pkg/sse"
)

// StreamWriter 接收上游流。Begin 在上游接受请求（HTTP 200）后、第一个片段之前调用一次，
// 之后每个非空片段调用一次 WriteFragment。
type StreamWriter interface {
	Begin() error
	WriteFragment(text string) error
}

// Client defines the interface for an LLM client.
type Client interface {
	// StreamChatMessages 以 role-based 消息调用聊天接口，并将流式分块写入 writer。
	// model 为空时使用配置中的默认模型。
	StreamChatMessages(ctx context.Context, model string, messages []Message, gen *GenerationParams, writer StreamWriter) error
}

// APIError 表示上游在建立流之前返回了非 200 状态。
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat api returned non-200 status: %d, body: %s", e.StatusCode, e.Body)
}

// ErrUpstream 表示上游在流中途通过 data 帧报告了错误。
var ErrUpstream = errors.New("upstream stream error")

type openRouterClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates a new LLM client for the gateway described in the config.
// httpClient 为 nil 时使用不带超时的默认客户端，流的生命周期由 ctx 控制。
func NewClient(cfg config.LLMConfig, httpClient *http.Client) Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &openRouterClient{cfg: cfg, client: httpClient}
}

// Message 表示一条发往上游的角色消息。
// Content 为 string（纯文本）或 []ContentPart（含图片时的多段格式）。
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

// ContentPart 是多段消息中的一段。
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL 包装图片地址，这里总是 data URL。
type ImageURL struct {
	URL string `json:"url"`
}

const (
	PartTypeText  = "text"
	PartTypeImage = "image_url"
)

// TextMessage 构造纯文本消息。
func TextMessage(role, text string) Message {
	return Message{Role: role, Content: text}
}

// MultiPartMessage 构造多段消息：一段文本在前，每张图片一段，顺序不变。
func MultiPartMessage(role, text string, images []string) Message {
	parts := make([]ContentPart, 0, len(images)+1)
	parts = append(parts, ContentPart{Type: PartTypeText, Text: text})
	for _, img := range images {
		parts = append(parts, ContentPart{Type: PartTypeImage, ImageURL: &ImageURL{URL: img}})
	}
	return Message{Role: role, Content: parts}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string      `json:"message"`
		Code    interface{} `json:"code"`
	} `json:"error,omitempty"`
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// GenerationFromConfig 从配置构造生成参数，全部为零值时返回 nil。
func GenerationFromConfig(cfg config.LLMGenerationConfig) *GenerationParams {
	var gp GenerationParams
	if cfg.Temperature != 0 {
		t := cfg.Temperature
		gp.Temperature = &t
	}
	if cfg.TopP != 0 {
		p := cfg.TopP
		gp.TopP = &p
	}
	if cfg.MaxTokens != 0 {
		m := cfg.MaxTokens
		gp.MaxTokens = &m
	}
	if gp.Temperature == nil && gp.TopP == nil && gp.MaxTokens == nil {
		return nil
	}
	return &gp
}

func (c *openRouterClient) StreamChatMessages(ctx context.Context, model string, messages []Message, gen *GenerationParams, writer StreamWriter) error {
	if model == "" {
		model = c.cfg.Model
	}
	reqBody := chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}
	// 传参优先，否则从配置注入
	if gen == nil {
		gen = GenerationFromConfig(c.cfg.Generation)
	}
	if gen != nil {
		reqBody.Temperature = gen.Temperature
		reqBody.TopP = gen.TopP
		reqBody.MaxTokens = gen.MaxTokens
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to create chat request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", sse.ContentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call chat api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	}

	if err := writer.Begin(); err != nil {
		return fmt.Errorf("failed to begin stream: %w", err)
	}

	reader := sse.NewReader(resp.Body)
	for {
		data, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if sse.IsDone(data) {
			return nil
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			return fmt.Errorf("%w: %s", ErrUpstream, chunk.Error.Message)
		}

		if len(chunk.Choices) > 0 {
			content := chunk.Choices[0].Delta.Content
			if content == "" {
				continue
			}
			if err := writer.WriteFragment(content); err != nil {
				return fmt.Errorf("failed to write fragment: %w", err)
			}
		}
	}
}
