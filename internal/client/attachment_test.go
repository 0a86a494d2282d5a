package client

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func TestClassifyAttachmentImageByContent(t *testing.T) {
	att, err := ClassifyAttachment("/tmp/screenshot.dat", pngHeader)
	require.NoError(t, err)

	assert.Equal(t, AttachmentImage, att.Kind)
	assert.Equal(t, "screenshot.dat", att.Name)
	assert.True(t, strings.HasPrefix(att.Payload, "data:image/png;base64,"), att.Payload)
}

func TestClassifyAttachmentText(t *testing.T) {
	att, err := ClassifyAttachment("notes/main.go", []byte("package main\n\nfunc main() {}\n"))
	require.NoError(t, err)

	assert.Equal(t, AttachmentText, att.Kind)
	assert.Equal(t, "📄 main.go:\n```\npackage main\n\nfunc main() {}\n```", att.Payload)
}

func TestClassifyAttachmentUnsupported(t *testing.T) {
	att, err := ClassifyAttachment("report.docx", []byte("PK\x03\x04 not really a docx"))
	require.NoError(t, err)

	assert.Equal(t, AttachmentUnsupported, att.Kind)
	assert.Equal(t, "[附件: report.docx（暂不支持该格式）]", att.Payload)
}

func TestClassifyAttachmentEmpty(t *testing.T) {
	_, err := ClassifyAttachment("empty.txt", nil)
	assert.ErrorIs(t, err, ErrEmptyAttachment)
}

func TestReadAttachmentSizeLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("a", 64)), 0o644))

	_, err := ReadAttachment(path, 32)
	assert.ErrorIs(t, err, ErrAttachmentTooLarge)

	att, err := ReadAttachment(path, 64)
	require.NoError(t, err)
	assert.Equal(t, AttachmentText, att.Kind)
}

func TestReadAttachmentMissingFile(t *testing.T) {
	_, err := ReadAttachment(filepath.Join(t.TempDir(), "nope.png"), 0)
	assert.Error(t, err)
}

func TestAppendInline(t *testing.T) {
	assert.Equal(t, "x", appendInline("", "x"))
	assert.Equal(t, "x", appendInline("  \n", "x"))
	assert.Equal(t, "look:\n\nx", appendInline("look:\n", "x"))
}
