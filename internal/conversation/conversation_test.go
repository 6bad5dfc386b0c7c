package conversation_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuwenbin0122/wwb.chat/internal/conversation"
	"github.com/wuwenbin0122/wwb.chat/internal/db"
	"github.com/wuwenbin0122/wwb.chat/internal/models"
)

type fakeCompletions struct {
	mu       sync.Mutex
	requests []models.CompletionRequest
	reply    string
	err      error
	block    chan struct{}
}

func (f *fakeCompletions) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	return f.reply, f.err
}

func (f *fakeCompletions) last(t *testing.T) models.CompletionRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

type fakeSpeech struct {
	text  string
	voice string
}

func (f *fakeSpeech) Speak(_ context.Context, text, voice string) ([]byte, error) {
	f.text, f.voice = text, voice
	return []byte("ID3"), nil
}

// failingStore accepts loads but refuses every save.
type failingStore struct {
	*db.MemoryStore
}

func (failingStore) Save(context.Context, string, []byte) error {
	return errors.New("quota exceeded")
}

func fixedClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

type harness struct {
	store      db.Store
	repo       *conversation.Repository
	settings   *conversation.SettingsStore
	gateway    *fakeCompletions
	speech     *fakeSpeech
	controller *conversation.Controller
}

func newHarness(t *testing.T, store db.Store) *harness {
	t.Helper()
	h := &harness{
		store:   store,
		repo:    conversation.NewRepository(store, conversation.WithClock(fixedClock())),
		gateway: &fakeCompletions{reply: "Hi there!"},
		speech:  &fakeSpeech{},
	}
	h.settings = conversation.NewSettingsStore(store, nil)
	h.controller = conversation.NewController(h.repo, h.settings, h.gateway, h.speech, 0, nil)
	return h
}

func TestGetUnknownIsAbsent(t *testing.T) {
	repo := conversation.NewRepository(db.NewMemoryStore())
	for _, id := range []string{"c1", "", "chat_123"} {
		_, ok := repo.Get(id)
		assert.False(t, ok, id)
	}
}

func TestCreateIfAbsentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := conversation.NewRepository(db.NewMemoryStore())

	created, err := repo.CreateIfAbsent(ctx, "c1", "Hello")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultTitle, created.Title)
	assert.Equal(t, "Hello", created.Preview)

	require.NoError(t, repo.AppendTurn(ctx, "c1", models.Turn{Role: models.RoleUser, Content: "Hello"}))

	again, err := repo.CreateIfAbsent(ctx, "c1", "something else")
	require.NoError(t, err)
	assert.Len(t, again.Turns, 1)
	assert.Equal(t, "Hello", again.Preview)

	_, err = repo.CreateIfAbsent(ctx, "  ", "x")
	var verr *models.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestAppendTurnUnknownConversation(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	repo := conversation.NewRepository(store)
	_, err := repo.CreateIfAbsent(ctx, "c1", "Hello")
	require.NoError(t, err)
	before := repo.List()

	err = repo.AppendTurn(ctx, "missing", models.Turn{Role: models.RoleUser, Content: "hi"})
	assert.True(t, errors.Is(err, models.ErrNotFound))
	assert.Equal(t, before, repo.List())

	_, ok := repo.Get("missing")
	assert.False(t, ok)
}

func TestAppendTurnKeepsOrder(t *testing.T) {
	ctx := context.Background()
	repo := conversation.NewRepository(db.NewMemoryStore())
	_, err := repo.CreateIfAbsent(ctx, "c1", "0")
	require.NoError(t, err)

	for i := 0; i < 7; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		require.NoError(t, repo.AppendTurn(ctx, "c1", models.Turn{Role: role, Content: fmt.Sprint(i)}))
	}

	conv, ok := repo.Get("c1")
	require.True(t, ok)
	require.Len(t, conv.Turns, 7)
	for i, turn := range conv.Turns {
		assert.Equal(t, fmt.Sprint(i), turn.Content)
	}

	err = repo.AppendTurn(ctx, "c1", models.Turn{Content: "no role"})
	var verr *models.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	repo := conversation.NewRepository(db.NewMemoryStore())
	_, err := repo.CreateIfAbsent(ctx, "c1", "Hello")
	require.NoError(t, err)
	require.NoError(t, repo.AppendTurn(ctx, "c1", models.Turn{Role: models.RoleUser, Content: "Hello"}))

	conv, _ := repo.Get("c1")
	conv.Turns[0].Content = "mutated"

	fresh, _ := repo.Get("c1")
	assert.Equal(t, "Hello", fresh.Turns[0].Content)
}

func TestListMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	repo := conversation.NewRepository(db.NewMemoryStore(), conversation.WithClock(fixedClock()))

	for _, id := range []string{"a", "b", "c"} {
		_, err := repo.CreateIfAbsent(ctx, id, id)
		require.NoError(t, err)
	}
	require.NoError(t, repo.AppendTurn(ctx, "a", models.Turn{Role: models.RoleUser, Content: "bump"}))

	entries := repo.List()
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"a", "c", "b"}, []string{entries[0].ID, entries[1].ID, entries[2].ID})
	assert.Equal(t, 1, entries[0].TurnCount)
}

func TestSetTitleOnce(t *testing.T) {
	ctx := context.Background()
	repo := conversation.NewRepository(db.NewMemoryStore())
	_, err := repo.CreateIfAbsent(ctx, "c1", "Hello")
	require.NoError(t, err)

	changed, err := repo.SetTitleOnce(ctx, "c1", "First")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.SetTitleOnce(ctx, "c1", "Second")
	require.NoError(t, err)
	assert.False(t, changed)

	conv, _ := repo.Get("c1")
	assert.Equal(t, "First", conv.Title)

	_, err = repo.SetTitleOnce(ctx, "nope", "x")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestRepositoryReloadsFromStore(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	h := newHarness(t, store)

	out := h.controller.SendUserMessage(ctx, "c1", "Hello")
	require.True(t, out.OK(), out.Err)

	reloaded := conversation.NewRepository(store)
	require.NoError(t, reloaded.Load(ctx))

	want, _ := h.repo.Get("c1")
	got, ok := reloaded.Get("c1")
	require.True(t, ok)
	assert.Equal(t, want.Turns, got.Turns)
	assert.Equal(t, want.Title, got.Title)
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))
}

func TestLoadSkipsUnreadableConversation(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	seeded := `{
		"old1": {"title": "Kept", "turns": [{"role": "user", "content": "hi"}, {"role": "assistant", "content": "hello"}]},
		"old2": {"title": "Odd", "turns": [{"role": "tool", "content": "{}"}]}
	}`
	require.NoError(t, store.Save(ctx, conversation.HistoryKey, []byte(seeded)))

	h := newHarness(t, store)
	require.NoError(t, h.repo.Load(ctx))

	old, ok := h.repo.Get("old1")
	require.True(t, ok)
	assert.Equal(t, "Kept", old.Title)
	_, ok = h.repo.Get("old2")
	assert.False(t, ok)

	out := h.controller.SendUserMessage(ctx, "c1", "Hello")
	require.True(t, out.OK(), out.Err)
	assert.Empty(t, out.Warnings)

	var stored map[string]json.RawMessage
	_, err := db.LoadJSON(ctx, store, conversation.HistoryKey, &stored)
	require.NoError(t, err)
	require.Contains(t, stored, "old1")
	require.Contains(t, stored, "old2")
	require.Contains(t, stored, "c1")
	assert.Contains(t, string(stored["old2"]), `"tool"`)

	reloaded := conversation.NewRepository(store)
	require.NoError(t, reloaded.Load(ctx))
	old, ok = reloaded.Get("old1")
	require.True(t, ok)
	assert.Len(t, old.Turns, 2)
	_, ok = reloaded.Get("c1")
	assert.True(t, ok)

	_, err = h.repo.CreateIfAbsent(ctx, "old2", "again")
	var verr *models.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestFailedLoadNeverOverwritesHistory(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	corrupt := []byte(`{"old1": {"title": "Kept", "turns": [`)
	require.NoError(t, store.Save(ctx, conversation.HistoryKey, corrupt))

	h := newHarness(t, store)
	err := h.repo.Load(ctx)
	assert.True(t, conversation.IsPersistence(err))
	assert.Empty(t, h.repo.List())

	out := h.controller.SendUserMessage(ctx, "c1", "Hello")
	assert.Equal(t, conversation.StateCommitted, out.State)
	require.NotEmpty(t, out.Warnings)
	assert.True(t, conversation.IsPersistence(out.Warnings[0]))

	conv, ok := h.repo.Get("c1")
	require.True(t, ok)
	assert.Len(t, conv.Turns, 2)

	raw, ok, err := store.Load(ctx, conversation.HistoryKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, corrupt, raw)
}

func TestSendHelloScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, db.NewMemoryStore())

	out := h.controller.SendUserMessage(ctx, "c1", "Hello")
	require.NoError(t, out.Err)
	assert.Equal(t, conversation.StateCommitted, out.State)
	assert.Equal(t, "Hi there!", out.Reply)
	assert.Empty(t, out.Warnings)

	req := h.gateway.last(t)
	assert.Equal(t, []models.Turn{{Role: models.RoleUser, Content: "Hello"}}, req.Messages)
	assert.Equal(t, models.DefaultModel, req.Model)
	assert.Equal(t, models.DefaultTemperature, req.Temperature)
	assert.Equal(t, models.DefaultMaxTokens, req.MaxTokens)

	conv, ok := h.repo.Get("c1")
	require.True(t, ok)
	assert.Equal(t, []models.Turn{
		{Role: models.RoleUser, Content: "Hello"},
		{Role: models.RoleAssistant, Content: "Hi there!"},
	}, conv.Turns)
	assert.Equal(t, "Hello", conv.Title)
}

func TestSendGatewayFailureKeepsUserTurn(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, db.NewMemoryStore())
	h.gateway.err = &models.GatewayError{Status: 429, Message: "rate limited", Type: "rate_limit_error"}

	out := h.controller.SendUserMessage(ctx, "c1", "Hello")
	assert.Equal(t, conversation.StateFailed, out.State)
	require.Error(t, out.Err)
	assert.Equal(t, "rate limited", out.Err.Error())

	conv, ok := h.repo.Get("c1")
	require.True(t, ok)
	assert.Equal(t, []models.Turn{{Role: models.RoleUser, Content: "Hello"}}, conv.Turns)
	assert.Equal(t, models.DefaultTitle, conv.Title)
}

func TestSendWrapsPlainGatewayErrors(t *testing.T) {
	h := newHarness(t, db.NewMemoryStore())
	h.gateway.err = errors.New("connection refused")

	out := h.controller.SendUserMessage(context.Background(), "c1", "Hello")
	var gwErr *models.GatewayError
	require.True(t, errors.As(out.Err, &gwErr))
	assert.Equal(t, "connection refused", gwErr.Message)
}

func TestTitleSetAfterFirstSuccessfulReply(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, db.NewMemoryStore())
	h.gateway.err = errors.New("boom")

	out := h.controller.SendUserMessage(ctx, "c1", "First question")
	require.Equal(t, conversation.StateFailed, out.State)

	h.gateway.err = nil
	out = h.controller.SendUserMessage(ctx, "c1", "Second question")
	require.True(t, out.OK())

	conv, _ := h.repo.Get("c1")
	assert.Equal(t, "First question", conv.Title)

	out = h.controller.SendUserMessage(ctx, "c1", "Third question")
	require.True(t, out.OK())
	conv, _ = h.repo.Get("c1")
	assert.Equal(t, "First question", conv.Title)
	assert.Len(t, conv.Turns, 5)
}

func TestLongTitleTruncated(t *testing.T) {
	h := newHarness(t, db.NewMemoryStore())
	text := strings.Repeat("x", 45)

	out := h.controller.SendUserMessage(context.Background(), "c1", text)
	require.True(t, out.OK())

	conv, _ := h.repo.Get("c1")
	assert.Equal(t, strings.Repeat("x", 30)+"...", conv.Title)
}

func TestSendRejectsBlankText(t *testing.T) {
	h := newHarness(t, db.NewMemoryStore())

	out := h.controller.SendUserMessage(context.Background(), "c1", "   \n")
	assert.Equal(t, conversation.StateRejected, out.State)
	var verr *models.ValidationError
	assert.True(t, errors.As(out.Err, &verr))

	_, ok := h.repo.Get("c1")
	assert.False(t, ok)
	assert.Empty(t, h.gateway.requests)
}

func TestSendMintsConversationID(t *testing.T) {
	h := newHarness(t, db.NewMemoryStore())

	out := h.controller.SendUserMessage(context.Background(), "", "Hello")
	require.True(t, out.OK())
	assert.True(t, strings.HasPrefix(out.ConversationID, "chat_"))

	_, ok := h.repo.Get(out.ConversationID)
	assert.True(t, ok)
}

func TestHistoryWindow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, db.NewMemoryStore())
	require.NoError(t, h.settings.Update(ctx, func(s *models.Settings) {
		s.SystemInstructions = "Be brief."
	}))

	_, err := h.repo.CreateIfAbsent(ctx, "c1", "turn 0")
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		require.NoError(t, h.repo.AppendTurn(ctx, "c1", models.Turn{Role: role, Content: fmt.Sprintf("turn %d", i)}))
	}

	out := h.controller.SendUserMessage(ctx, "c1", "latest")
	require.True(t, out.OK())

	req := h.gateway.last(t)
	require.Len(t, req.Messages, conversation.DefaultHistoryWindow+1)
	assert.Equal(t, models.Turn{Role: models.RoleSystem, Content: "Be brief."}, req.Messages[0])
	assert.Equal(t, "turn 31", req.Messages[1].Content)
	assert.Equal(t, "latest", req.Messages[len(req.Messages)-1].Content)
}

func TestBuildContext(t *testing.T) {
	turns := []models.Turn{
		{Role: models.RoleUser, Content: "a"},
		{Role: models.RoleAssistant, Content: "b"},
		{Role: models.RoleUser, Content: "c"},
	}

	assert.Equal(t, turns, conversation.BuildContext(turns, "  ", 20))
	assert.Equal(t, turns[1:], conversation.BuildContext(turns, "", 2))

	withSystem := conversation.BuildContext(turns, "sys", 1)
	assert.Equal(t, []models.Turn{{Role: models.RoleSystem, Content: "sys"}, turns[2]}, withSystem)
}

func TestConcurrentSendRejected(t *testing.T) {
	h := newHarness(t, db.NewMemoryStore())
	h.gateway.block = make(chan struct{})

	done := make(chan conversation.Outcome)
	go func() {
		done <- h.controller.SendUserMessage(context.Background(), "c1", "first")
	}()

	require.Eventually(t, h.controller.Busy, time.Second, time.Millisecond)

	out := h.controller.SendUserMessage(context.Background(), "c2", "second")
	assert.Equal(t, conversation.StateRejected, out.State)
	assert.ErrorIs(t, out.Err, models.ErrSendInProgress)

	close(h.gateway.block)
	first := <-done
	assert.True(t, first.OK())
	assert.False(t, h.controller.Busy())

	_, ok := h.repo.Get("c2")
	assert.False(t, ok)
}

func TestPersistenceFailureIsWarning(t *testing.T) {
	h := newHarness(t, failingStore{db.NewMemoryStore()})

	out := h.controller.SendUserMessage(context.Background(), "c1", "Hello")
	assert.Equal(t, conversation.StateCommitted, out.State)
	assert.Equal(t, "Hi there!", out.Reply)
	require.NotEmpty(t, out.Warnings)

	var perr *models.PersistenceError
	assert.True(t, errors.As(out.Warnings[0], &perr))
	assert.Equal(t, conversation.HistoryKey, perr.Key)

	conv, ok := h.repo.Get("c1")
	require.True(t, ok)
	assert.Len(t, conv.Turns, 2)
}

func TestSpeakLast(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, db.NewMemoryStore())

	_, err := h.controller.SpeakLast(ctx, "c1", "nova")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	_, err = h.repo.CreateIfAbsent(ctx, "c1", "Hello")
	require.NoError(t, err)
	_, err = h.controller.SpeakLast(ctx, "c1", "nova")
	var verr *models.ValidationError
	assert.True(t, errors.As(err, &verr))

	require.True(t, h.controller.SendUserMessage(ctx, "c1", "Hello").OK())
	audio, err := h.controller.SpeakLast(ctx, "c1", "nova")
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3"), audio)
	assert.Equal(t, "Hi there!", h.speech.text)
	assert.Equal(t, "nova", h.speech.voice)
}

func TestSettingsPersistAndReload(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	settings := conversation.NewSettingsStore(store, nil)

	require.NoError(t, settings.Load(ctx))
	assert.Equal(t, models.DefaultSettings(), settings.Get())

	require.NoError(t, settings.Update(ctx, func(s *models.Settings) {
		s.Model = "gpt-4"
		s.Temperature = 1.2
		s.Theme = models.ThemeDark
	}))

	err := settings.Update(ctx, func(s *models.Settings) { s.MaxTokens = -1 })
	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, 1000, settings.Get().MaxTokens)

	require.NoError(t, db.SaveJSON(ctx, store, conversation.CustomInstructionsKey, "Answer in French."))

	reloaded := conversation.NewSettingsStore(store, nil)
	require.NoError(t, reloaded.Load(ctx))
	got := reloaded.Get()
	assert.Equal(t, "gpt-4", got.Model)
	assert.Equal(t, 1.2, got.Temperature)
	assert.Equal(t, models.ThemeDark, got.Theme)
	assert.Equal(t, "Answer in French.", got.SystemInstructions)
}

func TestSettingsInvalidBlobFallsBack(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	require.NoError(t, store.Save(ctx, conversation.SettingsKey, []byte(`{"model":"gpt-4","temperature":9}`)))

	settings := conversation.NewSettingsStore(store, nil)
	require.NoError(t, settings.Load(ctx))
	assert.Equal(t, models.DefaultSettings(), settings.Get())
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, db.NewMemoryStore())
	require.True(t, h.controller.SendUserMessage(ctx, "c1", "Hello").OK())

	data, err := h.repo.Export("c1", "gpt-4")
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"metadata\"")
	assert.Contains(t, string(data), `"model": "gpt-4"`)

	imported, err := h.repo.Import(ctx, data)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(imported.ID, "imported_"))
	assert.Equal(t, "Hello", imported.Title)

	original, _ := h.repo.Get("c1")
	stored, ok := h.repo.Get(imported.ID)
	require.True(t, ok)
	assert.Equal(t, original.Turns, stored.Turns)
	assert.Len(t, h.repo.List(), 2)
}

func TestExportErrors(t *testing.T) {
	ctx := context.Background()
	repo := conversation.NewRepository(db.NewMemoryStore())

	_, err := repo.Export("nope", "gpt-4")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	_, err = repo.CreateIfAbsent(ctx, "empty", "x")
	require.NoError(t, err)
	_, err = repo.Export("empty", "gpt-4")
	var verr *models.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestImportDefaultsTitle(t *testing.T) {
	repo := conversation.NewRepository(db.NewMemoryStore())

	conv, err := repo.Import(context.Background(), []byte(`{"messages":[{"role":"user","content":"hey"}]}`))
	require.NoError(t, err)
	assert.Equal(t, models.ImportedTitle, conv.Title)
	assert.Equal(t, "hey", conv.Preview)
}

func TestImportMalformedLeavesRepositoryUnchanged(t *testing.T) {
	ctx := context.Background()
	repo := conversation.NewRepository(db.NewMemoryStore())
	_, err := repo.CreateIfAbsent(ctx, "c1", "Hello")
	require.NoError(t, err)
	before := repo.List()

	cases := map[string]string{
		"not json":        `{"messages": [`,
		"array":           `[{"role":"user","content":"x"}]`,
		"null":            `null`,
		"no messages":     `{"metadata":{"title":"x"}}`,
		"unknown role":    `{"messages":[{"role":"robot","content":"x"}]}`,
		"missing role":    `{"messages":[{"content":"x"}]}`,
		"numeric content": `{"messages":[{"role":"user","content":42}]}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := repo.Import(ctx, []byte(payload))
			var ierr *models.ImportFormatError
			assert.True(t, errors.As(err, &ierr), "got %v", err)
			assert.Equal(t, before, repo.List())
		})
	}
}
