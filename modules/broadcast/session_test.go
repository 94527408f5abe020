package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/bestorange88/IM/domain/chat"
	"github.com/bestorange88/IM/modules/ratelimit"
	"github.com/bestorange88/IM/modules/registry/registrytest"
	"github.com/go-monolith/mono/pkg/types"
)

// mockLogger implements types.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(_ string, _ ...any) {}
func (m *mockLogger) Info(_ string, _ ...any)  {}
func (m *mockLogger) Warn(_ string, _ ...any)  {}
func (m *mockLogger) Error(_ string, _ ...any) {}
func (m *mockLogger) With(_ ...any) types.Logger {
	return m
}
func (m *mockLogger) WithModule(_ string) types.Logger {
	return m
}
func (m *mockLogger) WithError(_ error) types.Logger {
	return m
}

// fakeVerifier maps "token-<id>" to <id>.
type fakeVerifier struct{}

func (fakeVerifier) Verify(_ context.Context, token string) (string, error) {
	id, ok := strings.CutPrefix(token, "token-")
	if !ok || id == "" {
		return "", errors.New("bad token")
	}
	return id, nil
}

type fakeStore struct {
	mu        sync.Mutex
	msgs      []domain.Message
	err       error
	onPersist func(domain.Message)
}

func (s *fakeStore) Persist(_ context.Context, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onPersist != nil {
		s.onPersist(msg)
	}
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *fakeStore) History(_ context.Context, roomID string, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.msgs {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

type denyRooms map[string]bool

func (d denyRooms) CanJoin(_ context.Context, _ string, roomID string) (bool, error) {
	return !d[roomID], nil
}

type recordingListener struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingListener) UserJoined(_ context.Context, userID, roomID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "joined:"+userID+":"+roomID)
}

func (l *recordingListener) UserLeft(_ context.Context, userID, roomID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "left:"+userID+":"+roomID)
}

func (l *recordingListener) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func newTestBroadcaster(t *testing.T, store *fakeStore, mutate ...func(*Options)) *Broadcaster {
	t.Helper()
	opts := Options{
		Verifier: fakeVerifier{},
		Store:    store,
		Logger:   &mockLogger{},
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	return NewBroadcaster(NewHub(), opts)
}

func authFrame(user, room string) []byte {
	return []byte(fmt.Sprintf(`{"type":"auth","token":"token-%s","roomId":%q}`, user, room))
}

func chatFrame(content string) []byte {
	return []byte(fmt.Sprintf(`{"type":"chat","content":%q}`, content))
}

// joinRoom opens a session for user in room and consumes the joined frame.
func joinRoom(t *testing.T, b *Broadcaster, user, room string) (*Session, *registrytest.Transport) {
	t.Helper()
	conn, tr := registrytest.NewConn(t)
	s := b.NewSession(conn)
	if err := s.HandleFrame(context.Background(), authFrame(user, room)); err != nil {
		t.Fatalf("auth as %s: HandleFrame() error = %v", user, err)
	}
	frames := tr.WaitFrames(t, 1, time.Second)
	joined := registrytest.Decode(t, frames[0])
	if joined["type"] != TypeJoined || joined["userId"] != user || joined["roomId"] != room {
		t.Fatalf("auth as %s: got %v, want joined frame", user, joined)
	}
	return s, tr
}

func TestSession_ChatReachesRoomPeers(t *testing.T) {
	store := &fakeStore{}
	b := newTestBroadcaster(t, store)
	ctx := context.Background()

	a, aTr := joinRoom(t, b, "A", "hall")
	_, bTr := joinRoom(t, b, "B", "hall")

	if err := a.HandleFrame(ctx, chatFrame("hello")); err != nil {
		t.Fatalf("HandleFrame(chat) error = %v", err)
	}

	got := registrytest.Decode(t, bTr.WaitFrames(t, 2, time.Second)[1])
	if got["type"] != TypeChat || got["senderId"] != "A" || got["roomId"] != "hall" || got["content"] != "hello" {
		t.Errorf("B received %v, want chat hello from A in hall", got)
	}
	if _, err := time.Parse(time.RFC3339Nano, got["createdAt"].(string)); err != nil {
		t.Errorf("createdAt %v is not a timestamp: %v", got["createdAt"], err)
	}

	ack := registrytest.Decode(t, aTr.WaitFrames(t, 2, time.Second)[1])
	if ack["type"] != TypeAck || ack["id"] != got["id"] {
		t.Errorf("A received %v, want ack for %v", ack, got["id"])
	}
	if store.count() != 1 {
		t.Errorf("store has %d messages, want 1", store.count())
	}
}

func TestSession_UnauthenticatedChatRejected(t *testing.T) {
	store := &fakeStore{}
	b := newTestBroadcaster(t, store)
	ctx := context.Background()

	_, bTr := joinRoom(t, b, "B", "hall")

	conn, cTr := registrytest.NewConn(t)
	c := b.NewSession(conn)
	if err := c.HandleFrame(ctx, chatFrame("sneaky")); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("HandleFrame(chat) error = %v, want %v", err, ErrNotJoined)
	}

	errFrame := registrytest.Decode(t, cTr.WaitFrames(t, 1, time.Second)[0])
	if errFrame["type"] != TypeError || errFrame["code"] != CodeNotJoined {
		t.Errorf("C received %v, want not_joined error", errFrame)
	}

	time.Sleep(50 * time.Millisecond)
	if n := len(bTr.Frames()); n != 1 {
		t.Errorf("B received %d frames, want only the joined frame", n)
	}
	if store.count() != 0 {
		t.Errorf("store has %d messages, want 0", store.count())
	}
}

func TestSession_RoomIsolation(t *testing.T) {
	b := newTestBroadcaster(t, &fakeStore{})
	ctx := context.Background()

	a, _ := joinRoom(t, b, "A", "hall")
	_, hallTr := joinRoom(t, b, "B", "hall")
	_, lobbyTr := joinRoom(t, b, "C", "lobby")

	if err := a.HandleFrame(ctx, chatFrame("only hall")); err != nil {
		t.Fatalf("HandleFrame(chat) error = %v", err)
	}

	hallTr.WaitFrames(t, 2, time.Second)
	time.Sleep(50 * time.Millisecond)
	if n := len(lobbyTr.Frames()); n != 1 {
		t.Errorf("lobby member received %d frames, want only the joined frame", n)
	}
}

func TestSession_PersistBeforeBroadcast(t *testing.T) {
	store := &fakeStore{}
	b := newTestBroadcaster(t, store)
	ctx := context.Background()

	a, aTr := joinRoom(t, b, "A", "hall")
	_, bTr := joinRoom(t, b, "B", "hall")

	var seenAtPersist int
	store.onPersist = func(domain.Message) {
		seenAtPersist = len(bTr.Frames())
	}
	if err := a.HandleFrame(ctx, chatFrame("first")); err != nil {
		t.Fatalf("HandleFrame(chat) error = %v", err)
	}
	bTr.WaitFrames(t, 2, time.Second)
	if seenAtPersist != 1 {
		t.Errorf("recipient had %d frames during persist, want 1 (joined only)", seenAtPersist)
	}

	store.onPersist = nil
	store.err = errors.New("disk full")
	if err := a.HandleFrame(ctx, chatFrame("lost")); err != nil {
		t.Fatalf("HandleFrame(chat) error = %v, want nil for persistence failure", err)
	}

	nack := registrytest.Decode(t, aTr.WaitFrames(t, 3, time.Second)[2])
	if nack["type"] != TypeError || nack["code"] != CodePersistenceFailed {
		t.Errorf("sender received %v, want persistence_failed error", nack)
	}
	time.Sleep(50 * time.Millisecond)
	if n := len(bTr.Frames()); n != 2 {
		t.Errorf("recipient received %d frames, want 2 (failed message must not be broadcast)", n)
	}
}

func TestSession_PartialFailureIsolation(t *testing.T) {
	b := newTestBroadcaster(t, &fakeStore{})
	ctx := context.Background()

	a, _ := joinRoom(t, b, "A", "hall")
	_, bTr := joinRoom(t, b, "B", "hall")
	dead, deadTr := joinRoom(t, b, "C", "hall")

	deadTr.Break()
	dead.Conn().Close()

	for i := 0; i < 3; i++ {
		if err := a.HandleFrame(ctx, chatFrame(fmt.Sprintf("m%d", i))); err != nil {
			t.Fatalf("HandleFrame(chat) error = %v", err)
		}
	}

	frames := bTr.WaitFrames(t, 4, time.Second)
	for i, f := range frames[1:] {
		if got := registrytest.Decode(t, f)["content"]; got != fmt.Sprintf("m%d", i) {
			t.Errorf("frame %d content = %v, want m%d", i, got, i)
		}
	}
}

func TestSession_AuthFailures(t *testing.T) {
	tests := []struct {
		name     string
		frame    string
		wantErr  error
		wantCode string
	}{
		{name: "bad token", frame: `{"type":"auth","token":"nope","roomId":"hall"}`, wantErr: ErrAuthenticationFailure, wantCode: CodeAuthFailed},
		{name: "missing token", frame: `{"type":"auth","roomId":"hall"}`, wantErr: ErrAuthenticationFailure, wantCode: CodeAuthFailed},
		{name: "missing room", frame: `{"type":"auth","token":"token-A"}`, wantErr: ErrMalformedMessage, wantCode: CodeMalformed},
		{name: "denied room", frame: `{"type":"auth","token":"token-A","roomId":"vault"}`, wantErr: ErrJoinDenied, wantCode: CodeJoinDenied},
		{name: "not json", frame: `{type:auth`, wantErr: ErrMalformedMessage, wantCode: CodeMalformed},
		{name: "no type", frame: `{"token":"token-A"}`, wantErr: ErrMalformedMessage, wantCode: CodeMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBroadcaster(t, &fakeStore{}, func(o *Options) {
				o.Authorizer = denyRooms{"vault": true}
			})
			conn, tr := registrytest.NewConn(t)
			s := b.NewSession(conn)

			err := s.HandleFrame(context.Background(), []byte(tt.frame))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("HandleFrame() error = %v, want %v", err, tt.wantErr)
			}
			got := registrytest.Decode(t, tr.WaitFrames(t, 1, time.Second)[0])
			if got["code"] != tt.wantCode {
				t.Errorf("error frame code = %v, want %v", got["code"], tt.wantCode)
			}
			if b.Hub().ClientCount() != 0 {
				t.Errorf("ClientCount() = %d, want 0 after failed auth", b.Hub().ClientCount())
			}
		})
	}
}

func TestSession_ReauthMovesRoom(t *testing.T) {
	listener := &recordingListener{}
	b := newTestBroadcaster(t, &fakeStore{}, func(o *Options) { o.Listener = listener })
	ctx := context.Background()

	a, aTr := joinRoom(t, b, "A", "hall")
	if err := a.HandleFrame(ctx, authFrame("A", "lobby")); err != nil {
		t.Fatalf("re-auth HandleFrame() error = %v", err)
	}
	aTr.WaitFrames(t, 2, time.Second)

	if a.RoomID() != "lobby" {
		t.Errorf("RoomID() = %q, want lobby", a.RoomID())
	}
	if got := b.Hub().Members("hall"); len(got) != 0 {
		t.Errorf("Members(hall) = %v, want empty", got)
	}
	if got := b.Hub().Members("lobby"); len(got) != 1 || got[0] != "A" {
		t.Errorf("Members(lobby) = %v, want [A]", got)
	}

	want := []string{"joined:A:hall", "left:A:hall", "joined:A:lobby"}
	if got := listener.all(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("listener events = %v, want %v", got, want)
	}
}

func TestSession_LeaveAndClose(t *testing.T) {
	listener := &recordingListener{}
	b := newTestBroadcaster(t, &fakeStore{}, func(o *Options) { o.Listener = listener })
	ctx := context.Background()

	a, _ := joinRoom(t, b, "A", "hall")
	if err := a.HandleFrame(ctx, []byte(`{"type":"leave"}`)); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("HandleFrame(leave) error = %v, want %v", err, ErrSessionClosed)
	}
	if a.Joined() {
		t.Error("Joined() = true after leave")
	}
	a.Close(ctx)

	if b.Hub().ClientCount() != 0 || b.Hub().RoomCount() != 0 {
		t.Errorf("clients=%d rooms=%d after leave, want 0", b.Hub().ClientCount(), b.Hub().RoomCount())
	}
	if got := listener.all(); len(got) != 2 || got[1] != "left:A:hall" {
		t.Errorf("listener events = %v, want a single left event", got)
	}
	if err := a.HandleFrame(ctx, chatFrame("late")); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("HandleFrame() after close error = %v, want %v", err, ErrSessionClosed)
	}
}

func TestSession_SupersededCloseKeepsReplacement(t *testing.T) {
	listener := &recordingListener{}
	b := newTestBroadcaster(t, &fakeStore{}, func(o *Options) { o.Listener = listener })
	ctx := context.Background()

	old, _ := joinRoom(t, b, "A", "hall")
	_, _ = joinRoom(t, b, "A", "hall")

	if !old.Conn().Closed() {
		t.Error("superseded connection should be closed")
	}
	old.Close(ctx)

	if got := b.Hub().Members("hall"); len(got) != 1 || got[0] != "A" {
		t.Errorf("Members(hall) = %v, want [A]", got)
	}
	for _, ev := range listener.all() {
		if strings.HasPrefix(ev, "left:") {
			t.Errorf("unexpected %s for a superseded connection", ev)
		}
	}
}

func TestSession_SupersededSessionCannotChat(t *testing.T) {
	store := &fakeStore{}
	b := newTestBroadcaster(t, store)

	old, _ := joinRoom(t, b, "A", "hall")
	_, _ = joinRoom(t, b, "A", "hall")

	if err := old.HandleFrame(context.Background(), chatFrame("stale")); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("HandleFrame() error = %v, want %v", err, ErrSessionClosed)
	}
	if n := store.count(); n != 0 {
		t.Errorf("persisted %d messages, want 0", n)
	}
}

func TestSession_ContentAndTypeErrorsKeepConnection(t *testing.T) {
	b := newTestBroadcaster(t, &fakeStore{}, func(o *Options) { o.MaxMessageLength = 10 })
	ctx := context.Background()

	a, aTr := joinRoom(t, b, "A", "hall")

	tests := []struct {
		frame    []byte
		wantCode string
	}{
		{frame: chatFrame(""), wantCode: CodeInvalidContent},
		{frame: chatFrame(strings.Repeat("x", 11)), wantCode: CodeInvalidContent},
		{frame: []byte(`{"type":"typing"}`), wantCode: CodeUnknownType},
	}

	for i, tt := range tests {
		if err := a.HandleFrame(ctx, tt.frame); err != nil {
			t.Fatalf("HandleFrame(%s) error = %v, want nil", tt.frame, err)
		}
		got := registrytest.Decode(t, aTr.WaitFrames(t, i+2, time.Second)[i+1])
		if got["code"] != tt.wantCode {
			t.Errorf("HandleFrame(%s) code = %v, want %v", tt.frame, got["code"], tt.wantCode)
		}
	}
	if a.Conn().Closed() {
		t.Error("recoverable errors should not close the connection")
	}
}

func TestSession_RateLimited(t *testing.T) {
	store := &fakeStore{}
	b := newTestBroadcaster(t, store, func(o *Options) {
		o.Limiter = ratelimit.NewLocalLimiter(ratelimit.Config{RequestsPerWindow: 2, WindowSize: time.Minute})
	})
	ctx := context.Background()

	a, aTr := joinRoom(t, b, "A", "hall")
	for i := 0; i < 3; i++ {
		if err := a.HandleFrame(ctx, chatFrame("spam")); err != nil {
			t.Fatalf("HandleFrame(chat) error = %v", err)
		}
	}

	frames := aTr.WaitFrames(t, 4, time.Second)
	last := registrytest.Decode(t, frames[3])
	if last["code"] != CodeRateLimited {
		t.Errorf("third message frame = %v, want rate_limited error", last)
	}
	if store.count() != 2 {
		t.Errorf("store has %d messages, want 2", store.count())
	}
}

func TestBroadcaster_PostAndHistory(t *testing.T) {
	store := &fakeStore{}
	b := newTestBroadcaster(t, store)
	ctx := context.Background()

	_, aTr := joinRoom(t, b, "A", "hall")

	msg, err := b.Post(ctx, "rest-user", "hall", "from rest", "")
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	got := registrytest.Decode(t, aTr.WaitFrames(t, 2, time.Second)[1])
	if got["id"] != msg.ID || got["senderId"] != "rest-user" {
		t.Errorf("member received %v, want message %s from rest-user", got, msg.ID)
	}

	if _, err := b.Post(ctx, "rest-user", "", "x", ""); !errors.Is(err, ErrRoomRequired) {
		t.Errorf("Post() without room error = %v, want %v", err, ErrRoomRequired)
	}

	history, err := b.History(ctx, "hall", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 || history[0].ID != msg.ID {
		t.Errorf("History() = %v, want [%s]", history, msg.ID)
	}
}
