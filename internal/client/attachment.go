package client

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxAttachmentBytes 是单个附件的默认大小上限 (10MB)。
const DefaultMaxAttachmentBytes = 10 * 1024 * 1024

var (
	// ErrAttachmentTooLarge 表示附件超过大小上限。
	ErrAttachmentTooLarge = errors.New("attachment too large")
	// ErrEmptyAttachment 表示附件没有内容。
	ErrEmptyAttachment = errors.New("attachment is empty")
)

// AttachmentKind 是附件的处理方式。
type AttachmentKind int

const (
	// AttachmentImage 编码为 data URL，随下一条消息发送。
	AttachmentImage AttachmentKind = iota
	// AttachmentText 内容以内联方式追加到输入框。
	AttachmentText
	// AttachmentUnsupported 只追加一条占位说明。
	AttachmentUnsupported
)

// Attachment 是一次附件读取的结果。
// Image 时 Payload 是 data URL，其余情况下是要追加到输入框的文本。
type Attachment struct {
	Name    string
	Kind    AttachmentKind
	Payload string
}

// 可以按纯文本读取并内联的源码/文档扩展名。
var textExtensions = map[string]struct{}{
	".txt": {}, ".md": {}, ".markdown": {}, ".json": {}, ".csv": {}, ".xml": {},
	".yaml": {}, ".yml": {}, ".toml": {}, ".ini": {}, ".log": {},
	".go": {}, ".py": {}, ".js": {}, ".ts": {}, ".tsx": {}, ".jsx": {},
	".java": {}, ".c": {}, ".cpp": {}, ".h": {}, ".hpp": {}, ".rs": {},
	".rb": {}, ".php": {}, ".sh": {}, ".sql": {}, ".html": {}, ".css": {},
	".vue": {}, ".swift": {}, ".kt": {},
}

// IsTextExtension 报告文件名是否属于可内联的文本类型。
func IsTextExtension(name string) bool {
	_, ok := textExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// ClassifyAttachment 根据内容与文件名决定附件的处理方式。
// 图片按内容嗅探（不信任扩展名），文本按扩展名识别，其余一律占位。
func ClassifyAttachment(name string, data []byte) (Attachment, error) {
	if len(data) == 0 {
		return Attachment{}, fmt.Errorf("%w: %s", ErrEmptyAttachment, name)
	}
	base := filepath.Base(name)

	mtype := mimetype.Detect(data)
	if strings.HasPrefix(mtype.String(), "image/") {
		mime := strings.SplitN(mtype.String(), ";", 2)[0]
		return Attachment{
			Name:    base,
			Kind:    AttachmentImage,
			Payload: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data),
		}, nil
	}

	if IsTextExtension(base) {
		return Attachment{
			Name:    base,
			Kind:    AttachmentText,
			Payload: fmt.Sprintf("📄 %s:\n```\n%s\n```", base, strings.TrimRight(string(data), "\n")),
		}, nil
	}

	return Attachment{
		Name:    base,
		Kind:    AttachmentUnsupported,
		Payload: fmt.Sprintf("[附件: %s（暂不支持该格式）]", base),
	}, nil
}

// ReadAttachment 读取本地文件并分类，超过 maxBytes 的文件被拒绝。
func ReadAttachment(path string, maxBytes int64) (Attachment, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxAttachmentBytes
	}
	f, err := os.Open(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return Attachment{}, fmt.Errorf("read attachment: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return Attachment{}, fmt.Errorf("%w: %s exceeds %d bytes", ErrAttachmentTooLarge, filepath.Base(path), maxBytes)
	}
	return ClassifyAttachment(path, data)
}

// appendInline 把一段文本追加到输入框内容后，与已有内容之间空一行。
func appendInline(input, text string) string {
	if strings.TrimSpace(input) == "" {
		return text
	}
	return strings.TrimRight(input, "\n") + "\n\n" + text
}
