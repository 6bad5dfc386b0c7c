package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProxy struct {
	mu         sync.Mutex
	chatBodies []map[string]any
	failChat   bool
}

func (f *fakeProxy) bodies() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.chatBodies...)
}

func (f *fakeProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/health":
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	case "/api/chat":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.chatBodies = append(f.chatBodies, body)
		fail := f.failChat
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if fail {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit_error"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Hi there!"}}]}`))
	case "/api/tts":
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func setupCLI(t *testing.T) *fakeProxy {
	t.Helper()
	proxy := &fakeProxy{}
	srv := httptest.NewServer(proxy)
	t.Cleanup(srv.Close)

	t.Setenv("STORE_BACKEND", "bolt")
	t.Setenv("CHAT_BOLT_PATH", filepath.Join(t.TempDir(), "chat.db"))
	t.Setenv("CHAT_GATEWAY_URL", srv.URL)
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LOG_OUTPUT", "stderr")
	return proxy
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func conversationFrom(t *testing.T, stderr string) string {
	t.Helper()
	for _, line := range strings.Split(stderr, "\n") {
		if id, ok := strings.CutPrefix(line, "conversation: "); ok {
			return strings.TrimSpace(id)
		}
	}
	t.Fatalf("no conversation id in %q", stderr)
	return ""
}

func TestSendListShowAcrossRuns(t *testing.T) {
	proxy := setupCLI(t)

	stdout, stderr, err := runCLI(t, "send", "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi there!\n", stdout)
	id := conversationFrom(t, stderr)
	assert.True(t, strings.HasPrefix(id, "chat_"))

	stdout, _, err = runCLI(t, "send", "-c", id, "Tell", "me", "more")
	require.NoError(t, err)
	assert.Equal(t, "Hi there!\n", stdout)

	bodies := proxy.bodies()
	require.Len(t, bodies, 2)
	messages, _ := bodies[1]["messages"].([]any)
	assert.Len(t, messages, 3)

	stdout, _, err = runCLI(t, "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, id)
	assert.Contains(t, stdout, "Hello")

	stdout, _, err = runCLI(t, "show", id)
	require.NoError(t, err)
	assert.Contains(t, stdout, "# Hello")
	assert.Contains(t, stdout, "[user] Tell me more")
	assert.Contains(t, stdout, "[assistant] Hi there!")
}

func TestSendFailureKeepsUserTurn(t *testing.T) {
	proxy := setupCLI(t)
	proxy.failChat = true

	_, _, err := runCLI(t, "send", "-c", "c1", "Hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")

	stdout, _, err := runCLI(t, "show", "c1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "[user] Hello")
	assert.NotContains(t, stdout, "[assistant]")
}

func TestSettingsApplyToRequests(t *testing.T) {
	proxy := setupCLI(t)

	stdout, _, err := runCLI(t, "settings", "set", "--model", "gpt-4", "--instructions", "Be brief.")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"model": "gpt-4"`)

	_, _, err = runCLI(t, "settings", "set", "--temperature", "5")
	assert.Error(t, err)

	_, _, err = runCLI(t, "send", "Hello")
	require.NoError(t, err)

	bodies := proxy.bodies()
	require.Len(t, bodies, 1)
	body := bodies[0]
	assert.Equal(t, "gpt-4", body["model"])
	messages := body["messages"].([]any)
	assert.Equal(t, map[string]any{"role": "system", "content": "Be brief."}, messages[0])
}

func TestExportImport(t *testing.T) {
	setupCLI(t)

	_, stderr, err := runCLI(t, "send", "Hello")
	require.NoError(t, err)
	id := conversationFrom(t, stderr)

	file := filepath.Join(t.TempDir(), "export.json")
	_, _, err = runCLI(t, "export", id, "-o", file)
	require.NoError(t, err)

	stdout, _, err := runCLI(t, "import", file)
	require.NoError(t, err)
	assert.Contains(t, stdout, "imported imported_")
	assert.Contains(t, stdout, "(Hello, 2 messages)")

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{oops"), 0o644))
	_, _, err = runCLI(t, "import", bad)
	assert.ErrorContains(t, err, "import:")
}

func TestSpeakAndStatus(t *testing.T) {
	setupCLI(t)

	_, stderr, err := runCLI(t, "send", "Hello")
	require.NoError(t, err)
	id := conversationFrom(t, stderr)

	file := filepath.Join(t.TempDir(), "reply.mp3")
	_, _, err = runCLI(t, "speak", id, "-o", file)
	require.NoError(t, err)
	audio, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "ID3", string(audio))

	stdout, _, err := runCLI(t, "status")
	require.NoError(t, err)
	assert.Contains(t, stdout, "is online")
}

func TestRepl(t *testing.T) {
	setupCLI(t)

	cmd := newRootCmd()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader("Hello\n/list\n/exit\n"))
	cmd.SetArgs([]string{"repl"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, stdout.String(), "Hi there!")
	assert.Contains(t, stdout.String(), "chat_")
}
