package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"ai-chat-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRelay struct {
	fragments []string
	setupErr  error
	err       error
	// beforeFragment 在推送第 i 个片段之前调用。
	beforeFragment func(i int)

	calls  int
	got    model.ChatRequest
	ctxErr error
}

func (f *fakeRelay) Stream(ctx context.Context, req model.ChatRequest, onOpen func(), onFragment func(string)) error {
	f.calls++
	f.got = req
	if f.setupErr != nil {
		return f.setupErr
	}
	onOpen()
	for i, frag := range f.fragments {
		if f.beforeFragment != nil {
			f.beforeFragment(i)
		}
		onFragment(frag)
	}
	f.ctxErr = ctx.Err()
	return f.err
}

type memRepo struct {
	mu            sync.Mutex
	conversations map[string]model.Conversation
	theme         model.Theme
	themeSaved    bool
	saves         int
}

func (r *memRepo) LoadConversations(context.Context) (map[string]model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]model.Conversation{}
	for id, c := range r.conversations {
		out[id] = c.Clone()
	}
	return out, nil
}

func (r *memRepo) SaveConversations(_ context.Context, conversations map[string]model.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	r.conversations = conversations
	return nil
}

func (r *memRepo) ClearConversations(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations = nil
	return nil
}

func (r *memRepo) LoadTheme(context.Context) (model.Theme, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.themeSaved {
		return model.ThemeDark, false, nil
	}
	return r.theme, true, nil
}

func (r *memRepo) SaveTheme(_ context.Context, theme model.Theme) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.theme = theme
	r.themeSaved = true
	return nil
}

func (r *memRepo) saveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

var testCatalog = model.Catalog{
	{ID: "m1", Name: "Model One"},
	{ID: "m2", Name: "Model Two"},
	{ID: "v1", Name: "Vision", Vision: true},
}

func newTestController(relay Relay, repo *memRepo) *Controller {
	ids := 0
	return NewController(relay, repo, Options{
		Catalog: testCatalog,
		Now:     func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
		NewID: func() string {
			ids++
			return []string{"c1", "c2", "c3", "c4"}[ids-1]
		},
	})
}

func TestSendStreamsAndPersistsOnSettle(t *testing.T) {
	repo := &memRepo{}
	relay := &fakeRelay{fragments: []string{"Hi", " there", "!"}}
	c := newTestController(relay, repo)

	var streaming []Snapshot
	relay.beforeFragment = func(int) {
		assert.Equal(t, 0, repo.saveCount(), "nothing is persisted mid-turn")
		streaming = append(streaming, c.Snapshot())
	}

	c.SetInput("hello")
	require.NoError(t, c.Send(context.Background()))

	require.NotEmpty(t, streaming)
	assert.Equal(t, StateStreaming, streaming[0].State)
	assert.True(t, streaming[0].InProgress)
	assert.True(t, streaming[0].Loading)
	assert.False(t, streaming[1].InProgress)

	snap := c.Snapshot()
	assert.Equal(t, StateSettled, snap.State)
	assert.Empty(t, snap.Input)
	require.Len(t, snap.Transcript, 2)
	assert.Equal(t, model.Message{Role: model.RoleUser, Content: "hello"}, snap.Transcript[0])
	assert.Equal(t, model.Message{Role: model.RoleAssistant, Content: "Hi there!", Model: "m1"}, snap.Transcript[1])

	assert.Equal(t, "m1", relay.got.Model)
	require.Len(t, relay.got.Messages, 1)

	assert.Equal(t, 1, repo.saveCount())
	saved := repo.conversations["c1"]
	assert.Equal(t, "hello", saved.Title)
	assert.Equal(t, "m1", saved.Model)
	assert.Len(t, saved.Messages, 2)
	assert.Equal(t, "c1", snap.ActiveID)
}

func TestSendSecondTurnCarriesHistory(t *testing.T) {
	repo := &memRepo{}
	relay := &fakeRelay{fragments: []string{"ok"}}
	c := newTestController(relay, repo)

	c.SetInput("first")
	require.NoError(t, c.Send(context.Background()))
	c.SetInput("second")
	require.NoError(t, c.Send(context.Background()))

	require.Len(t, relay.got.Messages, 3)
	assert.Equal(t, "second", relay.got.Messages[2].Content)
	assert.Len(t, repo.conversations, 1)
	assert.Len(t, repo.conversations["c1"].Messages, 4)
	assert.Equal(t, "first", repo.conversations["c1"].Title)
}

func TestSendRejectsEmptyInput(t *testing.T) {
	relay := &fakeRelay{}
	c := newTestController(relay, &memRepo{})

	c.SetInput("   \n")
	assert.ErrorIs(t, c.Send(context.Background()), ErrEmptyMessage)
	assert.Equal(t, 0, relay.calls)
}

func TestSendRejectsSecondTurnInFlight(t *testing.T) {
	relay := &fakeRelay{fragments: []string{"a"}}
	c := newTestController(relay, &memRepo{})

	var nested error
	relay.beforeFragment = func(int) {
		c.SetInput("again")
		nested = c.Send(context.Background())
	}
	c.SetInput("hello")
	require.NoError(t, c.Send(context.Background()))

	assert.ErrorIs(t, nested, ErrTurnInFlight)
	assert.Equal(t, 1, relay.calls)
}

func TestSendErrorReplacesAssistantTurn(t *testing.T) {
	repo := &memRepo{}
	relay := &fakeRelay{fragments: []string{"par"}, err: errors.New("connection reset")}
	c := newTestController(relay, repo)

	c.SetInput("hello")
	err := c.Send(context.Background())
	require.Error(t, err)

	snap := c.Snapshot()
	assert.Equal(t, StateErrored, snap.State)
	require.Len(t, snap.Transcript, 2)
	assert.Equal(t, model.RoleAssistant, snap.Transcript[1].Role)
	assert.Equal(t, "❌ connection reset", snap.Transcript[1].Content)
	assert.Equal(t, 1, repo.saveCount())
}

func TestSendSetupErrorAppendsFailure(t *testing.T) {
	relay := &fakeRelay{setupErr: &RelayError{StatusCode: 502, Message: "AI 请求失败，请稍后重试"}}
	c := newTestController(relay, &memRepo{})

	c.SetInput("hello")
	require.Error(t, c.Send(context.Background()))

	snap := c.Snapshot()
	require.Len(t, snap.Transcript, 2)
	assert.Equal(t, "❌ AI 请求失败，请稍后重试", snap.Transcript[1].Content)
	assert.False(t, snap.Loading)
}

func TestSendImagesRequireVisionModel(t *testing.T) {
	relay := &fakeRelay{fragments: []string{"a cat"}}
	c := newTestController(relay, &memRepo{})

	c.Attach(Attachment{Name: "cat.png", Kind: AttachmentImage, Payload: "data:image/png;base64,AAAA"})
	assert.ErrorIs(t, c.Send(context.Background()), ErrModelNoVision)
	assert.Equal(t, 0, relay.calls)
	assert.Equal(t, 1, c.Snapshot().PendingImages)

	require.NoError(t, c.SetModel("v1"))
	require.NoError(t, c.Send(context.Background()))

	require.Len(t, relay.got.Messages, 1)
	assert.Equal(t, []string{"data:image/png;base64,AAAA"}, relay.got.Messages[0].Images)
	assert.Equal(t, "", relay.got.Messages[0].Content)

	snap := c.Snapshot()
	assert.Equal(t, 0, snap.PendingImages)
	assert.Equal(t, "[图片]", snap.Conversations[0].Title)
}

func TestAttachTextInlinesIntoInput(t *testing.T) {
	c := newTestController(&fakeRelay{}, &memRepo{})
	c.SetInput("review this")
	c.Attach(Attachment{Name: "a.go", Kind: AttachmentText, Payload: "📄 a.go:\n```\nx\n```"})

	assert.Equal(t, "review this\n\n📄 a.go:\n```\nx\n```", c.Snapshot().Input)
}

func TestSetModelKeepsRecordedMessages(t *testing.T) {
	relay := &fakeRelay{fragments: []string{"ok"}}
	c := newTestController(relay, &memRepo{})

	c.SetInput("hello")
	require.NoError(t, c.Send(context.Background()))
	before := c.Snapshot().Transcript

	require.NoError(t, c.SetModel("m2"))
	assert.ErrorIs(t, c.SetModel("nope"), ErrUnknownModel)

	snap := c.Snapshot()
	assert.Equal(t, "m2", snap.Model)
	assert.Equal(t, before, snap.Transcript)
	assert.Equal(t, "m1", snap.Transcript[1].Model)
}

func TestDeleteConversation(t *testing.T) {
	repo := &memRepo{}
	relay := &fakeRelay{fragments: []string{"ok"}}
	c := newTestController(relay, repo)

	c.SetInput("one")
	require.NoError(t, c.Send(context.Background()))
	c.NewConversation()
	c.SetInput("two")
	require.NoError(t, c.Send(context.Background()))
	require.Equal(t, "c2", c.Snapshot().ActiveID)

	// 删除非活动会话不影响当前对话
	require.NoError(t, c.Delete(context.Background(), "c1"))
	snap := c.Snapshot()
	assert.Equal(t, "c2", snap.ActiveID)
	assert.Len(t, snap.Transcript, 2)
	assert.NotContains(t, repo.conversations, "c1")

	// 删除活动会话会清空当前对话
	require.NoError(t, c.Delete(context.Background(), "c2"))
	snap = c.Snapshot()
	assert.Empty(t, snap.ActiveID)
	assert.Empty(t, snap.Transcript)
	assert.Empty(t, repo.conversations)

	assert.ErrorIs(t, c.Delete(context.Background(), "c2"), ErrConversationNotFound)
}

func TestSelectRestoresTranscriptAndModel(t *testing.T) {
	relay := &fakeRelay{fragments: []string{"ok"}}
	c := newTestController(relay, &memRepo{})

	require.NoError(t, c.SetModel("m2"))
	c.SetInput("one")
	require.NoError(t, c.Send(context.Background()))
	c.NewConversation()
	require.NoError(t, c.SetModel("m1"))
	assert.Empty(t, c.Snapshot().Transcript)

	require.NoError(t, c.Select("c1"))
	snap := c.Snapshot()
	assert.Equal(t, "m2", snap.Model)
	require.Len(t, snap.Transcript, 2)
	assert.Equal(t, "one", snap.Transcript[0].Content)

	assert.ErrorIs(t, c.Select("missing"), ErrConversationNotFound)
}

func TestNavigatingAwayDropsTurn(t *testing.T) {
	repo := &memRepo{}
	relay := &fakeRelay{fragments: []string{"Hi", " there"}}
	c := newTestController(relay, repo)

	relay.beforeFragment = func(i int) {
		if i == 1 {
			c.NewConversation()
		}
	}
	c.SetInput("hello")
	err := c.Send(context.Background())

	assert.ErrorIs(t, err, ErrTurnDropped)
	assert.ErrorIs(t, relay.ctxErr, context.Canceled)
	snap := c.Snapshot()
	assert.Empty(t, snap.Transcript)
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, 0, repo.saveCount())

	// 丢弃之后可以立即开始新的一轮
	relay.beforeFragment = nil
	c.SetInput("again")
	require.NoError(t, c.Send(context.Background()))
	assert.Len(t, c.Snapshot().Transcript, 2)
}

func TestLoadRestoresConversationsAndTheme(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	repo := &memRepo{
		conversations: map[string]model.Conversation{
			"a": {ID: "a", Title: "old", UpdatedAt: older},
			"b": {ID: "b", Title: "new", UpdatedAt: newer, Messages: []model.Message{{Role: model.RoleUser, Content: "x"}}},
		},
		theme:      model.ThemeLight,
		themeSaved: true,
	}
	c := newTestController(&fakeRelay{}, repo)

	changed := 0
	c.OnChange(func() { changed++ })
	require.NoError(t, c.Load(context.Background()))

	snap := c.Snapshot()
	assert.Equal(t, model.ThemeLight, snap.Theme)
	require.Len(t, snap.Conversations, 2)
	assert.Equal(t, "b", snap.Conversations[0].ID)
	assert.Equal(t, 1, snap.Conversations[0].Messages)
	assert.Equal(t, "a", snap.Conversations[1].ID)
	assert.Empty(t, snap.ActiveID)
	assert.Equal(t, 1, changed)
}

func TestToggleThemePersists(t *testing.T) {
	repo := &memRepo{}
	c := newTestController(&fakeRelay{}, repo)

	require.NoError(t, c.ToggleTheme(context.Background()))
	assert.Equal(t, model.ThemeLight, c.Snapshot().Theme)
	assert.Equal(t, model.ThemeLight, repo.theme)

	require.NoError(t, c.ToggleTheme(context.Background()))
	assert.Equal(t, model.ThemeDark, repo.theme)
}

func TestNextModelCycles(t *testing.T) {
	c := newTestController(&fakeRelay{}, &memRepo{})
	assert.Equal(t, "m1", c.Snapshot().Model)
	assert.Equal(t, "m2", c.NextModel())
	assert.Equal(t, "v1", c.NextModel())
	assert.Equal(t, "m1", c.NextModel())
}

func TestRemoveImage(t *testing.T) {
	c := newTestController(&fakeRelay{}, &memRepo{})
	for _, p := range []string{"a", "b", "c"} {
		c.Attach(Attachment{Kind: AttachmentImage, Payload: p})
	}
	c.RemoveImage(1)
	c.RemoveImage(9)
	assert.Equal(t, []string{"a", "c"}, c.images)

	c.ClearImages()
	assert.Equal(t, 0, c.Snapshot().PendingImages)
}

func TestSendTruncatedStreamBecomesFailure(t *testing.T) {
	for _, frames := range []string{"", "data: {\"text\":\"par\"}\n\n"} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			io.WriteString(w, frames)
		}))
		repo := &memRepo{}
		c := newTestController(NewRelayClient(srv.URL, 0), repo)

		c.SetInput("hello")
		err := c.Send(context.Background())
		srv.Close()

		assert.ErrorIs(t, err, ErrStreamTruncated, frames)
		snap := c.Snapshot()
		assert.Equal(t, StateErrored, snap.State, frames)
		require.Len(t, snap.Transcript, 2, frames)
		assert.Equal(t, "❌ 响应中断，请重试", snap.Transcript[1].Content, frames)

		saved := repo.conversations["c1"].Messages
		require.Len(t, saved, 2, frames)
		assert.Equal(t, "❌ 响应中断，请重试", saved[1].Content, frames)
	}
}

func TestReselectingActiveConversationKeepsTurn(t *testing.T) {
	repo := &memRepo{}
	relay := &fakeRelay{fragments: []string{"ok"}}
	c := newTestController(relay, repo)

	c.SetInput("one")
	require.NoError(t, c.Send(context.Background()))

	relay.fragments = []string{"Hi", " there"}
	var selectErr error
	relay.beforeFragment = func(i int) {
		if i == 1 {
			selectErr = c.Select("c1")
		}
	}
	c.SetInput("two")
	require.NoError(t, c.Send(context.Background()))

	assert.NoError(t, selectErr)
	assert.NoError(t, relay.ctxErr)
	snap := c.Snapshot()
	require.Len(t, snap.Transcript, 4)
	assert.Equal(t, "two", snap.Transcript[2].Content)
	assert.Equal(t, "Hi there", snap.Transcript[3].Content)
	assert.Equal(t, 2, repo.saveCount())
	assert.Len(t, repo.conversations["c1"].Messages, 4)
}

func TestClearConversations(t *testing.T) {
	repo := &memRepo{}
	c := newTestController(&fakeRelay{fragments: []string{"ok"}}, repo)

	c.SetInput("one")
	require.NoError(t, c.Send(context.Background()))
	require.NoError(t, c.ToggleTheme(context.Background()))

	require.NoError(t, c.ClearConversations(context.Background()))

	snap := c.Snapshot()
	assert.Empty(t, snap.Conversations)
	assert.Empty(t, snap.Transcript)
	assert.Empty(t, snap.ActiveID)
	assert.Nil(t, repo.conversations)
	assert.Equal(t, model.ThemeLight, repo.theme)
}
