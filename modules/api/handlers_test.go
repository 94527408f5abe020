package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bestorange88/IM/config"
	domain "github.com/bestorange88/IM/domain/chat"
	"github.com/bestorange88/IM/modules/auth"
	"github.com/bestorange88/IM/modules/broadcast"
	"github.com/bestorange88/IM/modules/chat"
	"github.com/bestorange88/IM/modules/presence"
	"github.com/bestorange88/IM/modules/ratelimit"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/fiber/v2"
)

type mockLogger struct{}

func (m *mockLogger) Debug(_ string, _ ...any)         {}
func (m *mockLogger) Info(_ string, _ ...any)          {}
func (m *mockLogger) Warn(_ string, _ ...any)          {}
func (m *mockLogger) Error(_ string, _ ...any)         {}
func (m *mockLogger) With(_ ...any) types.Logger       { return m }
func (m *mockLogger) WithModule(_ string) types.Logger { return m }
func (m *mockLogger) WithError(_ error) types.Logger   { return m }

// mockAuthPort accepts "token-<id>" as the identity <id>.
type mockAuthPort struct {
	issueFunc func(ctx context.Context, userID, username, nickname string) (*auth.IssueTokenResponse, error)
}

func (m *mockAuthPort) Verify(ctx context.Context, token string) (string, error) {
	id, err := m.Authenticate(ctx, token)
	if err != nil {
		return "", err
	}
	return id.UserID, nil
}

func (m *mockAuthPort) Authenticate(_ context.Context, token string) (*auth.Identity, error) {
	if !strings.HasPrefix(token, "token-") {
		return nil, errors.New("invalid token")
	}
	id := strings.TrimPrefix(token, "token-")
	return &auth.Identity{UserID: id, Username: id}, nil
}

func (m *mockAuthPort) Issue(ctx context.Context, userID, username, nickname string) (*auth.IssueTokenResponse, error) {
	if m.issueFunc != nil {
		return m.issueFunc(ctx, userID, username, nickname)
	}
	return &auth.IssueTokenResponse{Token: "token-" + userID, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type mockChatPort struct {
	history    []domain.Message
	denied     map[string]bool
	rooms      map[string]bool
	canJoinErr error
	added      []string
}

func (m *mockChatPort) Persist(_ context.Context, _ domain.Message) error { return nil }

func (m *mockChatPort) History(_ context.Context, _ string, limit int) ([]domain.Message, error) {
	if limit < len(m.history) {
		return m.history[len(m.history)-limit:], nil
	}
	return m.history, nil
}

func (m *mockChatPort) CanJoin(_ context.Context, _ string, roomID string) (bool, error) {
	if m.canJoinErr != nil {
		return false, m.canJoinErr
	}
	return !m.denied[roomID], nil
}

func (m *mockChatPort) CreateRoom(_ context.Context, room domain.Room, _ string) (*domain.Room, error) {
	if m.rooms[room.ID] {
		return nil, chat.ErrRoomExists
	}
	return &room, nil
}

func (m *mockChatPort) AddMember(_ context.Context, roomID, userID string) error {
	if !m.rooms[roomID] {
		return chat.ErrRoomNotFound
	}
	m.added = append(m.added, userID)
	return nil
}

type mockBroadcastPort struct {
	err     error
	members []string
}

func (m *mockBroadcastPort) PostMessage(_ context.Context, senderID, roomID, content string) (*domain.Message, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &domain.Message{ID: "m1", SenderID: senderID, RoomID: roomID, Content: content, CreatedAt: time.Now()}, nil
}

func (m *mockBroadcastPort) RoomMembers(_ context.Context, _ string) ([]string, error) {
	return m.members, nil
}

type mockPresencePort struct{}

func (m *mockPresencePort) Get(_ context.Context, userID string) (presence.Presence, error) {
	return presence.Presence{UserID: userID, Online: userID == "alice"}, nil
}

func testConfig() config.Config {
	cfg := config.Load()
	cfg.DevTokens = true
	cfg.HistoryLimit = 2
	return cfg
}

func newTestApp(cfg config.Config, chatPort *mockChatPort, bc *mockBroadcastPort) *fiber.App {
	return NewApp(cfg, Deps{
		Auth:      &mockAuthPort{},
		Chat:      chatPort,
		Broadcast: bc,
		Presence:  &mockPresencePort{},
	}, &mockLogger{})
}

func doRequest(t *testing.T, app *fiber.App, method, path, token, body string) (int, string) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("io.ReadAll() error = %v", err)
	}
	return resp.StatusCode, string(data)
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		authHeader     string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "missing authorization header",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `"Authorization header is required"`,
		},
		{
			name:           "invalid authorization format - no bearer",
			authHeader:     "Basic token-alice",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `Invalid authorization header format`,
		},
		{
			name:           "invalid token",
			authHeader:     "Bearer nope",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `"Invalid or expired token"`,
		},
		{
			name:           "valid token",
			authHeader:     "Bearer token-alice",
			expectedStatus: http.StatusOK,
			expectedBody:   `"alice"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Use(AuthMiddleware(&mockAuthPort{}))
			app.Get("/test", func(c *fiber.Ctx) error {
				user, ok := currentUser(c)
				if !ok {
					return fiber.ErrUnauthorized
				}
				return c.JSON(fiber.Map{"user": user.UserID})
			})

			req := httptest.NewRequest("GET", "/test", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			resp, err := app.Test(req, -1)
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.expectedStatus {
				t.Errorf("status = %v, want %v", resp.StatusCode, tt.expectedStatus)
			}
			body, _ := io.ReadAll(resp.Body)
			if !strings.Contains(string(body), tt.expectedBody) {
				t.Errorf("body = %v, want to contain %v", string(body), tt.expectedBody)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header      string
		wantToken   string
		wantProblem bool
	}{
		{header: "", wantProblem: true},
		{header: "Basic abc", wantProblem: true},
		{header: "Bearer ", wantProblem: true},
		{header: "Bearer   ", wantProblem: true},
		{header: "Bearer abc.def", wantToken: "abc.def"},
	}

	for _, tt := range tests {
		token, problem := bearerToken(tt.header)
		if (problem != "") != tt.wantProblem || token != tt.wantToken {
			t.Errorf("bearerToken(%q) = %q, %q", tt.header, token, problem)
		}
	}
}

func TestIssueToken(t *testing.T) {
	cfg := testConfig()
	app := newTestApp(cfg, &mockChatPort{}, &mockBroadcastPort{})

	status, body := doRequest(t, app, "POST", "/api/v1/auth/token", "", `{"userId":"alice"}`)
	if status != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", status, body)
	}
	if !strings.Contains(body, `"token-alice"`) || !strings.Contains(body, `"Bearer"`) {
		t.Errorf("unexpected body: %s", body)
	}

	status, _ = doRequest(t, app, "POST", "/api/v1/auth/token", "", `{}`)
	if status != http.StatusBadRequest {
		t.Errorf("missing userId: status = %d", status)
	}

	cfg.DevTokens = false
	app = newTestApp(cfg, &mockChatPort{}, &mockBroadcastPort{})
	status, _ = doRequest(t, app, "POST", "/api/v1/auth/token", "", `{"userId":"alice"}`)
	if status != http.StatusNotFound {
		t.Errorf("dev tokens disabled: status = %d, want 404", status)
	}
}

func TestHistory(t *testing.T) {
	chatPort := &mockChatPort{
		history: []domain.Message{
			{ID: "1", RoomID: "r", Content: "one"},
			{ID: "2", RoomID: "r", Content: "two"},
			{ID: "3", RoomID: "r", Content: "three"},
		},
		denied: map[string]bool{"secret": true},
	}
	app := newTestApp(testConfig(), chatPort, &mockBroadcastPort{})

	status, body := doRequest(t, app, "GET", "/api/v1/rooms/r/history", "token-alice", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, body = %s", status, body)
	}
	if strings.Contains(body, `"one"`) || !strings.Contains(body, `"three"`) {
		t.Errorf("default limit not applied: %s", body)
	}

	status, body = doRequest(t, app, "GET", "/api/v1/rooms/r/history?limit=3", "token-alice", "")
	if status != http.StatusOK || !strings.Contains(body, `"one"`) {
		t.Errorf("explicit limit: status = %d, body = %s", status, body)
	}

	status, body = doRequest(t, app, "GET", "/api/v1/rooms/secret/history", "token-alice", "")
	if status != http.StatusForbidden || !strings.Contains(body, `"forbidden"`) {
		t.Errorf("private room: status = %d, body = %s", status, body)
	}

	status, _ = doRequest(t, app, "GET", "/api/v1/rooms/r/history", "", "")
	if status != http.StatusUnauthorized {
		t.Errorf("no token: status = %d", status)
	}
}

func TestPostMessage(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		canJoinErr     error
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "persisted and broadcast",
			expectedStatus: http.StatusCreated,
			expectedBody:   `"senderId":"alice"`,
		},
		{
			name:           "content rejected",
			err:            fmt.Errorf("%w: empty", broadcast.ErrContentRejected),
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"bad_request"`,
		},
		{
			name:           "store down",
			err:            fmt.Errorf("%w: disk full", broadcast.ErrPersistenceFailure),
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody:   `"unavailable"`,
		},
		{
			name:           "membership check fails",
			canJoinErr:     errors.New("db down"),
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name:           "unexpected failure",
			err:            errors.New("boom"),
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `"server_error"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(testConfig(), &mockChatPort{canJoinErr: tt.canJoinErr}, &mockBroadcastPort{err: tt.err})
			status, body := doRequest(t, app, "POST", "/api/v1/rooms/lobby/messages", "token-alice", `{"content":"hi"}`)
			if status != tt.expectedStatus {
				t.Errorf("status = %d, want %d (body %s)", status, tt.expectedStatus, body)
			}
			if !strings.Contains(body, tt.expectedBody) {
				t.Errorf("body = %s, want to contain %s", body, tt.expectedBody)
			}
		})
	}
}

func TestRooms(t *testing.T) {
	chatPort := &mockChatPort{rooms: map[string]bool{"taken": true}}
	app := newTestApp(testConfig(), chatPort, &mockBroadcastPort{members: []string{"alice", "bob"}})

	status, body := doRequest(t, app, "POST", "/api/v1/rooms", "token-alice", `{"id":"new","name":"New","private":true}`)
	if status != http.StatusCreated || !strings.Contains(body, `"new"`) {
		t.Errorf("create: status = %d, body = %s", status, body)
	}

	status, _ = doRequest(t, app, "POST", "/api/v1/rooms", "token-alice", `{"id":"taken"}`)
	if status != http.StatusConflict {
		t.Errorf("duplicate: status = %d, want 409", status)
	}

	status, _ = doRequest(t, app, "POST", "/api/v1/rooms/taken/members", "token-alice", `{"userId":"bob"}`)
	if status != http.StatusOK {
		t.Errorf("add member: status = %d", status)
	}
	if len(chatPort.added) != 1 || chatPort.added[0] != "bob" {
		t.Errorf("added = %v", chatPort.added)
	}

	status, _ = doRequest(t, app, "POST", "/api/v1/rooms/missing/members", "token-alice", `{"userId":"bob"}`)
	if status != http.StatusNotFound {
		t.Errorf("missing room: status = %d, want 404", status)
	}

	status, _ = doRequest(t, app, "POST", "/api/v1/rooms/taken/members", "token-alice", `{}`)
	if status != http.StatusBadRequest {
		t.Errorf("missing userId: status = %d, want 400", status)
	}

	status, body = doRequest(t, app, "GET", "/api/v1/rooms/taken/members", "token-alice", "")
	if status != http.StatusOK || !strings.Contains(body, `["alice","bob"]`) {
		t.Errorf("members: status = %d, body = %s", status, body)
	}
}

func TestPresenceAndHealth(t *testing.T) {
	app := newTestApp(testConfig(), &mockChatPort{}, &mockBroadcastPort{})

	status, body := doRequest(t, app, "GET", "/api/v1/presence/alice", "token-bob", "")
	if status != http.StatusOK || !strings.Contains(body, `"online":true`) {
		t.Errorf("presence: status = %d, body = %s", status, body)
	}

	status, body = doRequest(t, app, "GET", "/health", "", "")
	if status != http.StatusOK || !strings.Contains(body, `"healthy"`) {
		t.Errorf("health: status = %d, body = %s", status, body)
	}
}

func TestProtectedRoutes_RateLimitedPerUser(t *testing.T) {
	cfg := testConfig()
	cfg.APILimit = config.RateConfig{Requests: 2, Window: time.Minute}
	app := NewApp(cfg, Deps{
		Auth:      &mockAuthPort{},
		Chat:      &mockChatPort{},
		Broadcast: &mockBroadcastPort{},
		Presence:  &mockPresencePort{},
		Limiter:   ratelimit.NewLocalLimiter(ratelimit.Config{RequestsPerWindow: 2, WindowSize: time.Minute}),
	}, &mockLogger{})

	for i := 0; i < 2; i++ {
		if status, body := doRequest(t, app, "GET", "/api/v1/presence/bob", "token-alice", ""); status != http.StatusOK {
			t.Fatalf("request %d: status = %d, body = %s", i, status, body)
		}
	}

	status, body := doRequest(t, app, "GET", "/api/v1/presence/bob", "token-alice", "")
	if status != http.StatusTooManyRequests || !strings.Contains(body, `"rate_limited"`) {
		t.Errorf("third request: status = %d, body = %s", status, body)
	}

	// Budgets are per user, and public routes are not limited.
	if status, _ := doRequest(t, app, "GET", "/api/v1/presence/bob", "token-carol", ""); status != http.StatusOK {
		t.Errorf("other user status = %d, want 200", status)
	}
	if status, _ := doRequest(t, app, "GET", "/health", "", ""); status != http.StatusOK {
		t.Errorf("health status = %d, want 200", status)
	}
}
