// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ai-chat-go/internal/model"
	"ai-chat-go/internal/service"
	"ai-chat-go/pkg/log"
	"ai-chat-go/pkg/sse"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// ErrMessageRelayFailed 是返回给客户端的统一上游错误提示。
const ErrMessageRelayFailed = "AI 请求失败，请稍后重试"

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatHandler 负责处理聊天转发请求（SSE 与 WebSocket 两种传输）。
type ChatHandler struct {
	relayService service.RelayService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(relayService service.RelayService) *ChatHandler {
	return &ChatHandler{relayService: relayService}
}

// Stream 处理 POST /api/chat，以 text/event-stream 返回增量片段。
// 建流之前的任何失败都以非流式 JSON 错误返回；建流之后的失败只结束流，不补发 [DONE]。
func (h *ChatHandler) Stream(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "无效的请求负载"})
		return
	}

	w := &sseWriter{c: c}
	err := h.relayService.Relay(c.Request.Context(), req, w)
	if err != nil {
		if !w.started {
			if errors.Is(err, service.ErrInvalidRequest) {
				c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "无效的请求负载"})
				return
			}
			log.Error("API 路由出错", err)
			c.JSON(http.StatusBadGateway, model.ErrorResponse{Error: ErrMessageRelayFailed})
			return
		}
		log.Warnw("流式响应中途失败，已发送的片段不回收", "error", err, "fragments", w.fragments)
		return
	}

	if err := sse.WriteDone(c.Writer); err != nil {
		log.Warnf("写入结束标记失败: %v", err)
		return
	}
	c.Writer.Flush()
}

// sseWriter 把上游片段写成事件流帧。
type sseWriter struct {
	c         *gin.Context
	started   bool
	fragments int
}

func (w *sseWriter) Begin() error {
	header := w.c.Writer.Header()
	header.Set("Content-Type", sse.ContentType)
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.c.Status(http.StatusOK)
	w.c.Writer.WriteHeaderNow()
	w.c.Writer.Flush()
	w.started = true
	return nil
}

func (w *sseWriter) WriteFragment(text string) error {
	if err := sse.WriteFragment(w.c.Writer, text); err != nil {
		return err
	}
	w.c.Writer.Flush()
	w.fragments++
	return nil
}

// Websocket 处理 GET /api/chat/ws：每条文本消息是一次完整的 ChatRequest，
// 片段以 {"text": ...} 下发，每一轮以 completion 通知结束。
func (h *ChatHandler) Websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立: %s", c.ClientIP())

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			return
		}

		var req model.ChatRequest
		if err := json.Unmarshal(message, &req); err != nil {
			writeJSON(conn, model.ErrorResponse{Error: "无效的请求负载"})
			continue
		}

		err = h.relayService.Relay(c.Request.Context(), req, &wsWriter{conn: conn})
		if err != nil {
			log.Errorf("处理流式响应失败: %v", err)
			msg := ErrMessageRelayFailed
			if errors.Is(err, service.ErrInvalidRequest) {
				msg = "无效的请求负载"
			}
			writeJSON(conn, model.ErrorResponse{Error: msg})
		}
		sendCompletion(conn)
	}
}

// wsWriter 满足 llm.StreamWriter 接口，把片段包装为 {"text":"..."} 下发。
type wsWriter struct {
	conn *websocket.Conn
}

func (w *wsWriter) Begin() error { return nil }

func (w *wsWriter) WriteFragment(text string) error {
	b, err := json.Marshal(model.Fragment{Text: text})
	if err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, b)
}

func writeJSON(conn *websocket.Conn, v interface{}) {
	b, _ := json.Marshal(v)
	_ = conn.WriteMessage(websocket.TextMessage, b)
}

// sendCompletion 发送完成通知 JSON
func sendCompletion(conn *websocket.Conn) {
	writeJSON(conn, map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"timestamp": time.Now().UnixMilli(),
	})
}
