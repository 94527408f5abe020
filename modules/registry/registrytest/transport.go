// Package registrytest provides an in-memory Transport for tests.
package registrytest

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bestorange88/IM/modules/registry"
)

// ErrBroken is returned by a Transport after Break.
var ErrBroken = errors.New("transport broken")

// Transport records text frames written to it.
type Transport struct {
	mu        sync.Mutex
	frames    [][]byte
	closed    bool
	broken    bool
	notify    chan struct{}
	writeGate chan struct{}
}

// NewTransport returns a healthy Transport.
func NewTransport() *Transport {
	return &Transport{notify: make(chan struct{}, 1024)}
}

// WriteMessage implements registry.Transport.
func (t *Transport) WriteMessage(messageType int, data []byte) error {
	t.mu.Lock()
	gate := t.writeGate
	t.mu.Unlock()
	if gate != nil {
		<-gate
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.broken || t.closed {
		return ErrBroken
	}
	if messageType != registry.TextMessage {
		return nil
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	t.frames = append(t.frames, frame)
	select {
	case t.notify <- struct{}{}:
	default:
	}
	return nil
}

// SetWriteDeadline implements registry.Transport.
func (t *Transport) SetWriteDeadline(time.Time) error {
	return nil
}

// Close implements registry.Transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Break makes every later write fail, like a peer that vanished.
func (t *Transport) Break() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.broken = true
}

// Block makes writes wait until the returned function is called.
func (t *Transport) Block() (release func()) {
	gate := make(chan struct{})
	t.mu.Lock()
	t.writeGate = gate
	t.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			t.writeGate = nil
			t.mu.Unlock()
			close(gate)
		})
	}
}

// Closed reports whether Close was called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Frames returns a copy of the text frames written so far.
func (t *Transport) Frames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.frames))
	copy(out, t.frames)
	return out
}

// WaitFrames blocks until at least n frames were written or the timeout
// expires, and returns the frames seen.
func (t *Transport) WaitFrames(tb testing.TB, n int, timeout time.Duration) [][]byte {
	tb.Helper()
	deadline := time.After(timeout)
	for {
		if frames := t.Frames(); len(frames) >= n {
			return frames
		}
		select {
		case <-t.notify:
		case <-deadline:
			frames := t.Frames()
			tb.Fatalf("got %d frames, want at least %d", len(frames), n)
			return frames
		}
	}
}

// Decode unmarshals frame i into a generic map.
func Decode(tb testing.TB, frame []byte) map[string]any {
	tb.Helper()
	var m map[string]any
	if err := json.Unmarshal(frame, &m); err != nil {
		tb.Fatalf("invalid frame %q: %v", frame, err)
	}
	return m
}

// NewConn returns a Conn over a fresh Transport with its writer running. The
// connection is closed when the test ends.
func NewConn(tb testing.TB) (*registry.Conn, *Transport) {
	tb.Helper()
	return NewConnWithOptions(tb, registry.ConnOptions{SendQueueSize: 64})
}

// NewConnWithOptions is NewConn with explicit options.
func NewConnWithOptions(tb testing.TB, opts registry.ConnOptions) (*registry.Conn, *Transport) {
	tb.Helper()
	tr := NewTransport()
	conn := registry.NewConn(tr, opts)
	go conn.WritePump()
	tb.Cleanup(func() {
		conn.Close()
		select {
		case <-conn.Done():
		case <-time.After(time.Second):
		}
	})
	return conn, tr
}
