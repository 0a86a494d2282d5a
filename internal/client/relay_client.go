// Package client 实现聊天客户端：relay 流的消费、会话状态机与附件处理。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ai-chat-go/internal/model"
	"ai-chat-go/pkg/log"
	"ai-chat-go/pkg/sse"
)

// 与浏览器版本一致的兜底错误文案。
const fallbackErrorMessage = "请求失败"

// ErrStreamTruncated 表示事件流在 [DONE] 之前结束，relay 在上游中途失败时就是这样收尾的。
var ErrStreamTruncated = errors.New("响应中断，请重试")

// Relay 是控制器依赖的 relay 能力：发出一次请求并按到达顺序回调片段。
// onOpen 在响应被接受后、第一个片段之前调用一次。
type Relay interface {
	Stream(ctx context.Context, req model.ChatRequest, onOpen func(), onFragment func(text string)) error
}

// RelayError 表示 relay 以非成功状态拒绝了请求。
type RelayError struct {
	StatusCode int
	Message    string
}

func (e *RelayError) Error() string {
	return e.Message
}

// RelayClient 通过 HTTP 调用 relay 的 /api/chat 接口。
type RelayClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRelayClient 创建一个 RelayClient。timeout 为 0 表示不设超时，只依赖 ctx。
func NewRelayClient(baseURL string, timeout time.Duration) *RelayClient {
	return &RelayClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Stream 发送完整会话并消费事件流。
// 无法解析的 data 行被静默跳过；只有读到 [DONE] 才算正常结束，否则返回 ErrStreamTruncated。
func (c *RelayClient) Stream(ctx context.Context, req model.ChatRequest, onOpen func(), onFragment func(text string)) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", sse.ContentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to call relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeRelayError(resp)
	}

	if onOpen != nil {
		onOpen()
	}

	reader := sse.NewReader(resp.Body)
	for {
		payload, err := reader.Next()
		if err == io.EOF {
			return ErrStreamTruncated
		}
		if err != nil {
			return err
		}
		if sse.IsDone(payload) {
			return nil
		}
		text, err := sse.ParseFragment(payload)
		if err != nil {
			log.Debugf("跳过解析失败的行: %q", payload)
			continue
		}
		onFragment(text)
	}
}

func decodeRelayError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload model.ErrorResponse
	msg := fallbackErrorMessage
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &RelayError{StatusCode: resp.StatusCode, Message: msg}
}

// ErrorMessage 返回适合展示给用户的错误文案。
func ErrorMessage(err error) string {
	var relayErr *RelayError
	if errors.As(err, &relayErr) {
		return relayErr.Message
	}
	if err == nil {
		return "未知错误"
	}
	return err.Error()
}

var _ Relay = (*RelayClient)(nil)
