package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ai-chat-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayClientConcatenatesFragmentsInOrder(t *testing.T) {
	var got model.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"text\":\"Hi\"}\n\n")
		io.WriteString(w, "data: {\"text\": broken\n\n")
		io.WriteString(w, "data: {\"text\":\" there\"}\n\ndata: {\"text\":\"!\"}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
		io.WriteString(w, "data: {\"text\":\"after done\"}\n\n")
	}))
	defer srv.Close()

	opened := 0
	var text strings.Builder
	err := NewRelayClient(srv.URL+"/", 0).Stream(context.Background(),
		model.ChatRequest{Model: "m1", Messages: []model.Message{{Role: "user", Content: "hello"}}},
		func() { opened++ },
		func(f string) { text.WriteString(f) })

	require.NoError(t, err)
	assert.Equal(t, 1, opened)
	assert.Equal(t, "Hi there!", text.String())
	assert.Equal(t, "m1", got.Model)
	assert.Equal(t, "hello", got.Messages[0].Content)
}

func TestRelayClientStreamWithoutDoneIsTruncated(t *testing.T) {
	for _, body := range []string{"", "data: {\"text\":\"partial\"}\n\n"} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			io.WriteString(w, body)
		}))

		opened := false
		err := NewRelayClient(srv.URL, 0).Stream(context.Background(), model.ChatRequest{}, func() { opened = true }, func(string) {})
		srv.Close()

		assert.ErrorIs(t, err, ErrStreamTruncated, body)
		assert.True(t, opened, body)
		assert.Equal(t, "响应中断，请重试", ErrorMessage(err))
	}
}

func TestRelayClientErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, `{"error":"AI 请求失败，请稍后重试"}`)
	}))
	defer srv.Close()

	opened := false
	err := NewRelayClient(srv.URL, 0).Stream(context.Background(), model.ChatRequest{}, func() { opened = true }, func(string) {})

	var relayErr *RelayError
	require.True(t, errors.As(err, &relayErr))
	assert.Equal(t, http.StatusBadGateway, relayErr.StatusCode)
	assert.Equal(t, "AI 请求失败，请稍后重试", ErrorMessage(err))
	assert.False(t, opened)
}

func TestRelayClientErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewRelayClient(srv.URL, 0).Stream(context.Background(), model.ChatRequest{}, nil, func(string) {})
	assert.Equal(t, fallbackErrorMessage, ErrorMessage(err))
}
