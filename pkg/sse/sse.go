// Package sse 实现 relay 使用的 text/event-stream 帧格式。
//
// 每个片段是一行 `data: {"text":"..."}`，后跟空行；流以 `data: [DONE]` 结束。
// 上游模型网关使用同样的 data 行格式，因此读端也用于解析上游流。
package sse

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const (
	// ContentType 是事件流响应的 Content-Type。
	ContentType = "text/event-stream"
	// DoneMarker 是终止哨兵。
	DoneMarker = "[DONE]"

	dataPrefix = "data:"
)

type fragment struct {
	Text string `json:"text"`
}

// WriteFragment 写出一个文本片段帧。
func WriteFragment(w io.Writer, text string) error {
	b, err := json.Marshal(fragment{Text: text})
	if err != nil {
		return fmt.Errorf("failed to marshal fragment: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}

// WriteDone 写出终止哨兵帧。
func WriteDone(w io.Writer) error {
	_, err := io.WriteString(w, "data: "+DoneMarker+"\n\n")
	return err
}

// ParseFragment 解析一个 data 载荷中的文本片段。
func ParseFragment(payload string) (string, error) {
	var f fragment
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		return "", err
	}
	return f.Text, nil
}

// Reader 从字节流中逐个读取 data 载荷。
// 注释行、event/id 行以及空行都会被跳过。
type Reader struct {
	reader *bufio.Reader
}

// NewReader 创建一个新的 Reader。
func NewReader(r io.Reader) *Reader {
	return &Reader{reader: bufio.NewReader(r)}
}

// Next 返回下一个 data 载荷（已去掉前缀和首个空格）。
// 底层流结束时返回 io.EOF；遇到 DoneMarker 时原样返回，由调用方决定如何处理。
func (r *Reader) Next() (string, error) {
	for {
		line, err := r.reader.ReadString('\n')
		if err != nil && !(err == io.EOF && line != "") {
			if err == io.EOF {
				return "", io.EOF
			}
			return "", fmt.Errorf("failed to read from stream: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(line, dataPrefix) {
			payload := strings.TrimPrefix(line, dataPrefix)
			payload = strings.TrimPrefix(payload, " ")
			return payload, nil
		}
		if err == io.EOF {
			return "", io.EOF
		}
	}
}

// IsDone 报告载荷是否是终止哨兵。
func IsDone(payload string) bool {
	return strings.TrimSpace(payload) == DoneMarker
}
