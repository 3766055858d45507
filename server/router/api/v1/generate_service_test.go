package v1

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadcast/threadcast/plugin/generation"
	"github.com/threadcast/threadcast/server/auth"
	"github.com/threadcast/threadcast/server/profile"
	"github.com/threadcast/threadcast/store"
	"github.com/threadcast/threadcast/store/db/dbtest"
	"github.com/threadcast/threadcast/store/db/sqlite"
)

const testSecret = "test-secret"

// fakeBackend replays fragments and then fails with err, if set.
type fakeBackend struct {
	fragments []string
	err       error
	openErr   error

	mu       sync.Mutex
	requests []generation.Request
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Stream(_ context.Context, req generation.Request) (generation.Stream, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()
	if b.openErr != nil {
		return nil, b.openErr
	}
	return &fakeStream{fragments: b.fragments, err: b.err}, nil
}

func (b *fakeBackend) lastRequest(t *testing.T) generation.Request {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.requests)
	return b.requests[len(b.requests)-1]
}

type fakeStream struct {
	fragments []string
	err       error
}

func (s *fakeStream) Recv() (string, error) {
	if len(s.fragments) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	f := s.fragments[0]
	s.fragments = s.fragments[1:]
	return f, nil
}

func (*fakeStream) Close() error { return nil }

// faultyDriver fails selected operations of an otherwise working driver.
type faultyDriver struct {
	store.Driver
	failCreate bool
	failList   bool
	failUpdate bool
}

func (d *faultyDriver) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	if d.failCreate {
		return nil, errors.New("disk full")
	}
	return d.Driver.CreateMessage(ctx, create)
}

func (d *faultyDriver) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	if d.failList {
		return nil, errors.New("replica lagging")
	}
	return d.Driver.ListMessages(ctx, find)
}

func (d *faultyDriver) UpdateMessage(ctx context.Context, update *store.UpdateMessage) (*store.Message, error) {
	if d.failUpdate {
		return nil, errors.New("connection reset")
	}
	return d.Driver.UpdateMessage(ctx, update)
}

type testEnv struct {
	e       *echo.Echo
	svc     *APIV1Service
	store   *store.Store
	driver  *faultyDriver
	backend *fakeBackend
}

func newTestEnv(t *testing.T, backend *fakeBackend, configure ...func(*profile.Profile)) *testEnv {
	t.Helper()
	p := &profile.Profile{Mode: "dev", AuthSecret: testSecret, Data: t.TempDir()}
	for _, fn := range configure {
		fn(p)
	}
	p.DSN = filepath.Join(p.Data, "threadcast_test.db")
	require.NoError(t, p.Validate())

	base, err := sqlite.NewDB(p.DSN)
	require.NoError(t, err)
	driver := &faultyDriver{Driver: base}
	s := dbtest.NewStore(t, driver)

	svc := NewAPIV1Service(p, s, auth.NewTokenService(testSecret), backend)
	e := echo.New()
	svc.RegisterRoutes(e)
	return &testEnv{e: e, svc: svc, store: s, driver: driver, backend: backend}
}

func (env *testEnv) token(t *testing.T, principal string) string {
	t.Helper()
	token, err := env.svc.Tokens.Issue(principal)
	require.NoError(t, err)
	return token
}

func (env *testEnv) generate(ctx context.Context, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate", strings.NewReader(body)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) messages(t *testing.T, chatID string) []*store.Message {
	t.Helper()
	list, err := env.store.ListMessages(context.Background(), &store.FindMessage{ChatID: chatID})
	require.NoError(t, err)
	return list
}

func decodeFrames(t *testing.T, body string) []Frame {
	t.Helper()
	var frames []Frame
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		var f Frame
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &f), "line %q", scanner.Text())
		frames = append(frames, f)
	}
	require.NoError(t, scanner.Err())
	return frames
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestGenerate_StreamsParagraphs(t *testing.T) {
	backend := &fakeBackend{fragments: []string{"Hello there.\n", "\nSecond para", "graph.\n\n", "Third."}}
	env := newTestEnv(t, backend)

	rec := env.generate(context.Background(), env.token(t, "alice"), `{"chat_id":"c1","prompt":"Hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	frames := decodeFrames(t, rec.Body.String())
	require.Len(t, frames, 5)
	id := frames[0].MessageID
	require.NotEmpty(t, id)
	assert.Equal(t, id, rec.Header().Get("X-Message-Id"))
	assert.Equal(t, Frame{MessageID: id}, frames[0])
	assert.Equal(t, Frame{MessageID: id, Text: "Hello there."}, frames[1])
	assert.Equal(t, Frame{MessageID: id, Text: "Second paragraph."}, frames[2])
	assert.Equal(t, Frame{MessageID: id, Text: "Third."}, frames[3])
	assert.Equal(t, Frame{MessageID: id, IsComplete: true}, frames[4])

	list := env.messages(t, "c1")
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.True(t, list[0].IsAI)
	assert.Equal(t, "alice", list[0].CreatorID)
	assert.Equal(t, "Hello there.\n\nSecond paragraph.\n\nThird.", list[0].Text)

	req := backend.lastRequest(t)
	assert.Equal(t, profile.DefaultMaxOutputTokens, req.MaxTokens)
	assert.Equal(t, []generation.Message{{Role: generation.RoleUser, Content: "Hi"}}, req.Messages)
}

func TestGenerate_SendsHistoryAndSystemPrompt(t *testing.T) {
	backend := &fakeBackend{fragments: []string{"Sure."}}
	env := newTestEnv(t, backend, func(p *profile.Profile) { p.SystemPrompt = "Be brief." })

	ctx := context.Background()
	for _, m := range []*store.Message{
		{ChatID: "c1", Text: "What is Go?", CreatorID: "alice"},
		{ChatID: "c1", Text: "A language.", IsAI: true, CreatorID: "alice"},
		{ChatID: "c1", Text: "", IsAI: true, CreatorID: "bob"},
		{ChatID: "other", Text: "unrelated", CreatorID: "bob"},
	} {
		_, err := env.store.CreateMessage(ctx, m)
		require.NoError(t, err)
	}

	rec := env.generate(ctx, env.token(t, "alice"), `{"chat_id":"c1","prompt":"Tell me more"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []generation.Message{
		{Role: generation.RoleSystem, Content: "Be brief."},
		{Role: generation.RoleUser, Content: "What is Go?"},
		{Role: generation.RoleAssistant, Content: "A language."},
		{Role: generation.RoleUser, Content: "Tell me more"},
	}, backend.lastRequest(t).Messages)
}

func TestGenerate_Unauthenticated(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  string
	}{
		{name: "missing", token: "", want: "Authentication required"},
		{name: "malformed", token: "not-a-jwt", want: "Invalid authentication token"},
		{name: "foreign secret", token: mustIssue(t, "other-secret", "alice"), want: "Invalid authentication token"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			backend := &fakeBackend{fragments: []string{"never"}}
			env := newTestEnv(t, backend)

			// Auth is checked before the body is looked at.
			rec := env.generate(context.Background(), tc.token, `{}`)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, tc.want, decodeError(t, rec))
			assert.Empty(t, backend.requests)
			assert.Empty(t, env.messages(t, "c1"))
		})
	}
}

func mustIssue(t *testing.T, secret, principal string) string {
	t.Helper()
	token, err := auth.NewTokenService(secret).Issue(principal)
	require.NoError(t, err)
	return token
}

func TestGenerate_TokenFromCookie(t *testing.T) {
	env := newTestEnv(t, &fakeBackend{fragments: []string{"ok"}})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate", strings.NewReader(`{"chat_id":"c1","prompt":"Hi"}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: env.token(t, "carol")})
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	list := env.messages(t, "c1")
	require.Len(t, list, 1)
	assert.Equal(t, "carol", list[0].CreatorID)
}

func TestGenerate_MissingFields(t *testing.T) {
	for _, body := range []string{
		`{"chat_id":"c1"}`,
		`{"prompt":"Hi"}`,
		`{"chat_id":"c1","prompt":"   "}`,
		`not json`,
	} {
		t.Run(body, func(t *testing.T) {
			backend := &fakeBackend{fragments: []string{"never"}}
			env := newTestEnv(t, backend)

			rec := env.generate(context.Background(), env.token(t, "alice"), body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "Missing required fields: chat_id and prompt", decodeError(t, rec))
			assert.Empty(t, backend.requests)
			assert.Empty(t, env.messages(t, "c1"))
		})
	}
}

func TestGenerate_CreateFailure(t *testing.T) {
	backend := &fakeBackend{fragments: []string{"never"}}
	env := newTestEnv(t, backend)
	env.driver.failCreate = true

	rec := env.generate(context.Background(), env.token(t, "alice"), `{"chat_id":"c1","prompt":"Hi"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to save message to database", decodeError(t, rec))
	assert.Empty(t, backend.requests)
}

func TestGenerate_BackendFailsBeforeAnyParagraph(t *testing.T) {
	backend := &fakeBackend{err: errors.New("upstream 503")}
	env := newTestEnv(t, backend)

	rec := env.generate(context.Background(), env.token(t, "alice"), `{"chat_id":"c1","prompt":"Hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	frames := decodeFrames(t, rec.Body.String())
	require.Len(t, frames, 2)
	id := frames[0].MessageID
	assert.Equal(t, Frame{MessageID: id, Error: "Failed to generate AI response"}, frames[1])
	for _, f := range frames {
		assert.False(t, f.IsComplete)
	}

	list := env.messages(t, "c1")
	require.Len(t, list, 1)
	assert.Empty(t, list[0].Text)
}

func TestGenerate_BackendFailsMidStream(t *testing.T) {
	backend := &fakeBackend{fragments: []string{"Kept.\n\nLost tail"}, err: errors.New("stream reset")}
	env := newTestEnv(t, backend)

	rec := env.generate(context.Background(), env.token(t, "alice"), `{"chat_id":"c1","prompt":"Hi"}`)
	frames := decodeFrames(t, rec.Body.String())
	require.Len(t, frames, 3)
	assert.Equal(t, "Kept.", frames[1].Text)
	assert.NotEmpty(t, frames[2].Error)
	assert.False(t, frames[2].IsComplete)

	list := env.messages(t, "c1")
	require.Len(t, list, 1)
	assert.Equal(t, "Kept.", list[0].Text)
}

func TestGenerate_BackendUnavailable(t *testing.T) {
	backend := &fakeBackend{openErr: errors.New("dial tcp: no route to host")}
	env := newTestEnv(t, backend)

	rec := env.generate(context.Background(), env.token(t, "alice"), `{"chat_id":"c1","prompt":"Hi"}`)
	frames := decodeFrames(t, rec.Body.String())
	require.Len(t, frames, 2)
	assert.Equal(t, "Failed to generate AI response", frames[1].Error)
}

func TestGenerate_NoResponse(t *testing.T) {
	env := newTestEnv(t, &fakeBackend{fragments: []string{"  \n\n", "\r\n"}})

	rec := env.generate(context.Background(), env.token(t, "alice"), `{"chat_id":"c1","prompt":"Hi"}`)
	frames := decodeFrames(t, rec.Body.String())
	require.Len(t, frames, 2)
	assert.Equal(t, "No response generated", frames[1].Error)
	assert.False(t, frames[1].IsComplete)
}

func TestGenerate_UpdateFailure(t *testing.T) {
	backend := &fakeBackend{fragments: []string{"One.\n\nTwo."}}
	env := newTestEnv(t, backend)
	env.driver.failUpdate = true

	rec := env.generate(context.Background(), env.token(t, "alice"), `{"chat_id":"c1","prompt":"Hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	frames := decodeFrames(t, rec.Body.String())
	require.Len(t, frames, 2)
	// A paragraph is never emitted unless it was persisted.
	assert.Empty(t, frames[1].Text)
	assert.Equal(t, "Failed to update message in database", frames[1].Error)
}

func TestGenerate_ContextFailureFallsBackToPrompt(t *testing.T) {
	backend := &fakeBackend{fragments: []string{"Fine."}}
	env := newTestEnv(t, backend)
	_, err := env.store.CreateMessage(context.Background(), &store.Message{ChatID: "c1", Text: "earlier", CreatorID: "alice"})
	require.NoError(t, err)
	env.driver.failList = true

	rec := env.generate(context.Background(), env.token(t, "alice"), `{"chat_id":"c1","prompt":"Hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	frames := decodeFrames(t, rec.Body.String())
	assert.True(t, frames[len(frames)-1].IsComplete)
	assert.Equal(t, []generation.Message{{Role: generation.RoleUser, Content: "Hi"}}, backend.lastRequest(t).Messages)
}

func TestGenerate_ClientGoneStillPersists(t *testing.T) {
	env := newTestEnv(t, &fakeBackend{fragments: []string{"One.\n\n", "Two."}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := env.generate(ctx, env.token(t, "alice"), `{"chat_id":"c1","prompt":"Hi"}`)

	assert.Empty(t, decodeFrames(t, rec.Body.String()))
	list := env.messages(t, "c1")
	require.Len(t, list, 1)
	assert.Equal(t, "One.\n\nTwo.", list[0].Text)
}

func TestGenerate_RateLimited(t *testing.T) {
	env := newTestEnv(t, &fakeBackend{fragments: []string{"ok"}}, func(p *profile.Profile) { p.GenerateRatePerMinute = 1 })
	token := env.token(t, "alice")

	rec := env.generate(context.Background(), token, `{"chat_id":"c1","prompt":"Hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.generate(context.Background(), token, `{"chat_id":"c1","prompt":"Again"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Len(t, env.messages(t, "c1"), 1)

	// Another principal has its own allowance.
	rec = env.generate(context.Background(), env.token(t, "bob"), `{"chat_id":"c1","prompt":"Hi"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGenerate_InvalidRequestKeepsAllowance(t *testing.T) {
	env := newTestEnv(t, &fakeBackend{fragments: []string{"ok"}}, func(p *profile.Profile) { p.GenerateRatePerMinute = 1 })
	token := env.token(t, "alice")

	rec := env.generate(context.Background(), token, `{"chat_id":"c1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.generate(context.Background(), token, `{"chat_id":"c1","prompt":"Hi"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}
