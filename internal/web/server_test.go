package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tainanafeng/math-coach/internal/memory"
	"github.com/tainanafeng/math-coach/internal/retrieval"
	"github.com/tainanafeng/math-coach/internal/security"
	"github.com/tainanafeng/math-coach/internal/tutor"
)

type fakeTutor struct {
	err      error
	username string
	input    string
}

func (f *fakeTutor) Ask(ctx context.Context, username, input string) (*tutor.Answer, error) {
	f.username = username
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return &tutor.Answer{
		Text:        "Try factoring $x^2-1$ first.",
		ContextType: retrieval.ContextStuckMidway,
		ContextName: retrieval.ContextStuckMidway.String(),
	}, nil
}

type fixture struct {
	srv   *Server
	store *memory.SQLiteStore
	tutor *fakeTutor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := memory.NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"), memory.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ft := &fakeTutor{}
	srv := NewServer(Options{
		Accounts:    security.NewAccounts(map[string]string{"alice": "wonderland"}),
		Sessions:    security.NewSessionManager("test-secret-0123456789", time.Hour),
		Tutor:       ft,
		Store:       store,
		MaxUploadMB: 1,
	})
	return &fixture{srv: srv, store: store, tutor: ft}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T) *http.Cookie {
	t.Helper()
	body := strings.NewReader(`{"username":"alice","password":"wonderland"}`)
	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/login", body))
	require.Equal(t, http.StatusOK, rec.Code)
	for _, c := range rec.Result().Cookies() {
		if c.Name == security.SessionCookie {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func chatRequest(t *testing.T, message, fileName string, fileData []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("message", message))
	if fileName != "" {
		part, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = part.Write(fileData)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/chat", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestIndexShowsLoginWithoutSession(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `id="login"`)
}

func TestIndexShowsChatWithSession(t *testing.T) {
	f := newFixture(t)
	cookie := f.login(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	rec := f.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Math Coach · alice")
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	f := newFixture(t)
	body := strings.NewReader(`{"username":"alice","password":"nope"}`)
	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/login", body))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}

func TestLoginCookieIsHTTPOnly(t *testing.T) {
	f := newFixture(t)
	c := f.login(t)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 3600, c.MaxAge)
}

func TestLogoutClearsCookie(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/logout", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Less(t, cookies[0].MaxAge, 0)
}

func TestAPIRequiresSession(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/api/me", "/api/messages", "/api/summary"} {
		rec := f.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: security.SessionCookie, Value: "forged"})
	assert.Equal(t, http.StatusUnauthorized, f.do(req).Code)
}

func TestChatReturnsAnswer(t *testing.T) {
	f := newFixture(t)
	cookie := f.login(t)

	req := chatRequest(t, "  how do I factor x^2-1?  ", "", nil)
	req.AddCookie(cookie)
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, "Try factoring $x^2-1$ first.", out["answer"])
	assert.Equal(t, "stuck_midway", out["context_name"])
	assert.Equal(t, "alice", f.tutor.username)
	assert.Equal(t, "how do I factor x^2-1?", f.tutor.input)
}

func TestChatMergesUploadedText(t *testing.T) {
	f := newFixture(t)
	cookie := f.login(t)

	req := chatRequest(t, "is my answer right?", "hw.txt", []byte("Solve 2x+3=7."))
	req.AddCookie(cookie)
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, strings.HasPrefix(f.tutor.input, "[Uploaded problem / reference material]\nSolve 2x+3=7."))
	assert.True(t, strings.HasSuffix(f.tutor.input, "[Student question / notes]\nis my answer right?"))
}

func TestChatRejectsUnsupportedFile(t *testing.T) {
	f := newFixture(t)
	cookie := f.login(t)

	req := chatRequest(t, "help", "setup.exe", []byte{0x4d, 0x5a})
	req.AddCookie(cookie)
	rec := f.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.tutor.username)
}

func TestChatStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"in progress", tutor.ErrTurnInProgress, http.StatusConflict},
		{"empty", tutor.ErrEmptyInput, http.StatusBadRequest},
		{"model failure", errors.New("upstream 503"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			cookie := f.login(t)
			f.tutor.err = tc.err

			req := chatRequest(t, "hello", "", nil)
			req.AddCookie(cookie)
			rec := f.do(req)

			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, tutor.FormatErrorMessage(tc.err), decode(t, rec)["error"])
		})
	}
}

func TestMessagesAndSummary(t *testing.T) {
	f := newFixture(t)
	cookie := f.login(t)
	ctx := context.Background()

	_, err := f.store.Append(ctx, "alice", memory.RoleUser, "what is 2+2?")
	require.NoError(t, err)
	id, err := f.store.Append(ctx, "alice", memory.RoleAssistant, "What do you think?")
	require.NoError(t, err)
	_, err = f.store.Append(ctx, "bob", memory.RoleUser, "not alice's")
	require.NoError(t, err)
	require.NoError(t, f.store.CommitSummary(ctx, "alice", "Student asked about addition.", id))

	req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
	req.AddCookie(cookie)
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decode(t, rec)["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "what is 2+2?", msgs[0].(map[string]any)["content"])

	req = httptest.NewRequest(http.MethodGet, "/api/summary", nil)
	req.AddCookie(cookie)
	rec = f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "Student asked about addition.", out["summary"])
	assert.EqualValues(t, id, out["cursor"])
}

func TestMessagesEmptyHistory(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
	req.AddCookie(f.login(t))
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"messages":[]}`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	f.store.Close()
	rec = f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
