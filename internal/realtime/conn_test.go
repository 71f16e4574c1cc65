// internal/realtime/conn_test.go

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testServer is a minimal push server: it authenticates any token except
// "bad-token" and hands each accepted link to the test.
type testServer struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}

	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		var auth Frame
		if err := ws.ReadJSON(&auth); err != nil {
			ws.Close()
			return
		}
		var p AuthPayload
		json.Unmarshal(auth.Data, &p)

		if p.Token == "bad-token" {
			reason, _ := json.Marshal(AuthErrorPayload{Reason: "token expired"})
			ws.WriteJSON(Frame{Type: FrameAuthError, Data: reason})
			ws.Close()
			return
		}

		ws.WriteJSON(Frame{Type: FrameAuthOK})
		ts.conns <- ws
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

// accept returns the next authenticated server-side link.
func (ts *testServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-ts.conns:
		return ws
	case <-time.After(5 * time.Second):
		t.Fatal("server accepted no connection")
		return nil
	}
}

func newTestConn(url, token string) (*Conn, chan ConnectionState) {
	c := NewConn(Options{
		URL:              url,
		Credential:       token,
		HandshakeTimeout: 2 * time.Second,
		ReconnectWait:    20 * time.Millisecond,
		ReconnectMaxWait: 100 * time.Millisecond,
		ReconnectFactor:  2.0,
	})
	states := make(chan ConnectionState, 16)
	c.OnStateChange(func(s ConnectionState) { states <- s })
	return c, states
}

func waitState(t *testing.T, states chan ConnectionState, want ConnectionState) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("never reached state %s", want)
		}
	}
}

func TestConnHandshakeAndPublish(t *testing.T) {
	ts := newTestServer(t)
	c, states := newTestConn(ts.url(), "good-token")
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	waitState(t, states, StateConnected)

	// Idempotent: a second call while connected is a no-op.
	require.NoError(t, c.Connect(context.Background()))

	server := ts.accept(t)
	defer server.Close()

	require.NoError(t, c.Publish(ConversationTopic("42"), map[string]string{"content": "oi"}))

	server.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f Frame
	require.NoError(t, server.ReadJSON(&f))
	assert.Equal(t, FramePublish, f.Type)
	assert.Equal(t, ConversationTopic("42"), f.Topic)
	assert.NotEmpty(t, f.ID)
}

func TestConnAuthRejectionIsFatal(t *testing.T) {
	ts := newTestServer(t)
	c, _ := newTestConn(ts.url(), "bad-token")
	defer c.Close()

	var fatalErr error
	c.OnFatal(func(err error) { fatalErr = err })

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthRejected)
	assert.Contains(t, err.Error(), "token expired")

	assert.ErrorIs(t, fatalErr, ErrAuthRejected, "forced logout hook must fire")
	assert.Equal(t, StateDisconnected, c.State(), "auth failure must not retry")
}

func TestConnPublishWhileDisconnected(t *testing.T) {
	c := NewConn(Options{URL: "ws://localhost:1", Credential: "x"})
	err := c.Publish(ConversationTopic("1"), map[string]string{})
	assert.ErrorIs(t, err, ErrNotConnected)

	err = c.Subscribe(ConversationTopic("1"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConnReconnectsAfterDrop(t *testing.T) {
	ts := newTestServer(t)
	c, states := newTestConn(ts.url(), "good-token")
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	waitState(t, states, StateConnected)

	// Kill the link server-side; the client must recover on its own.
	first := ts.accept(t)
	first.Close()

	waitState(t, states, StateReconnecting)
	waitState(t, states, StateConnected)

	second := ts.accept(t)
	defer second.Close()

	// The recovered session carries traffic.
	require.NoError(t, c.Publish(ConversationTopic("42"), map[string]string{"content": "de volta"}))
	second.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f Frame
	require.NoError(t, second.ReadJSON(&f))
	assert.Equal(t, FramePublish, f.Type)
}

func TestConnMalformedFrameDoesNotKillDispatch(t *testing.T) {
	ts := newTestServer(t)
	c, states := newTestConn(ts.url(), "good-token")
	defer c.Close()

	frames := make(chan Frame, 4)
	c.OnFrame(func(f Frame) { frames <- f })

	require.NoError(t, c.Connect(context.Background()))
	waitState(t, states, StateConnected)

	server := ts.accept(t)
	defer server.Close()

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte("not json at all")))
	require.NoError(t, server.WriteJSON(Frame{Type: FrameEvent, Topic: ConversationTopic("42"), Data: json.RawMessage(`{"id":"7"}`)}))

	select {
	case f := <-frames:
		assert.Equal(t, FrameEvent, f.Type, "valid frame after garbage must still arrive")
	case <-time.After(5 * time.Second):
		t.Fatal("frame never dispatched")
	}
}

func TestConnCloseIsIdempotent(t *testing.T) {
	ts := newTestServer(t)
	c, states := newTestConn(ts.url(), "good-token")

	require.NoError(t, c.Connect(context.Background()))
	waitState(t, states, StateConnected)
	defer ts.accept(t).Close()

	c.Close()
	c.Close()
	assert.Equal(t, StateDisconnected, c.State())

	assert.ErrorIs(t, c.Connect(context.Background()), ErrClosed)
}

func TestConnCloseWhileWritePumpBusy(t *testing.T) {
	ts := newTestServer(t)
	c, states := newTestConn(ts.url(), "good-token")

	require.NoError(t, c.Connect(context.Background()))
	waitState(t, states, StateConnected)

	server := ts.accept(t)
	defer server.Close()

	// The server never reads, so large frames wedge the write pump
	// mid-frame once the socket buffers fill.
	payload := map[string]string{"content": strings.Repeat("x", 128*1024)}
	for i := 0; i < 64; i++ {
		if err := c.Publish(ConversationTopic("42"), payload); err != nil {
			break
		}
	}

	assert.NotPanics(t, func() { c.Close() })
	assert.Equal(t, StateDisconnected, c.State())
}

func TestNextWait(t *testing.T) {
	tests := []struct {
		name   string
		wait   time.Duration
		factor float64
		max    time.Duration
		want   time.Duration
	}{
		{"fixed delay", 2 * time.Second, 1.0, 30 * time.Second, 2 * time.Second},
		{"doubles", 2 * time.Second, 2.0, 30 * time.Second, 4 * time.Second},
		{"caps at max", 20 * time.Second, 2.0, 30 * time.Second, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextWait(tt.wait, tt.factor, tt.max))
		})
	}
}

func TestSplitTopic(t *testing.T) {
	family, key, err := SplitTopic(ConversationTopic("42"))
	require.NoError(t, err)
	assert.Equal(t, "conversation", family)
	assert.Equal(t, "42", key)

	_, _, err = SplitTopic("nokey")
	assert.Error(t, err)

	_, _, err = SplitTopic("trailing:")
	assert.Error(t, err)
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
}

func TestConnErrorsAreDistinct(t *testing.T) {
	assert.False(t, errors.Is(ErrNotConnected, ErrAuthRejected))
	assert.False(t, errors.Is(ErrClosed, ErrNotConnected))
}
