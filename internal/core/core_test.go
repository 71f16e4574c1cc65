// internal/core/core_test.go

package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vireo-social/realtime/internal/cache"
	"github.com/vireo-social/realtime/internal/config"
	"github.com/vireo-social/realtime/internal/messaging"
	"github.com/vireo-social/realtime/internal/notification"
	"github.com/vireo-social/realtime/internal/presence"
	"github.com/vireo-social/realtime/internal/realtime"
	"github.com/vireo-social/realtime/internal/session"
)

// pushServer authenticates any token except "bad-token", records every frame
// the client sends and lets tests push events down the link.
type pushServer struct {
	srv *httptest.Server

	mu     sync.Mutex
	frames []realtime.Frame
	ws     *websocket.Conn
	ready  chan struct{}
}

func newPushServer(t *testing.T) *pushServer {
	t.Helper()
	ps := &pushServer{ready: make(chan struct{}, 4)}
	upgrader := websocket.Upgrader{}

	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		var auth realtime.Frame
		if err := ws.ReadJSON(&auth); err != nil {
			ws.Close()
			return
		}
		var p realtime.AuthPayload
		json.Unmarshal(auth.Data, &p)
		if p.Token == "bad-token" {
			reason, _ := json.Marshal(realtime.AuthErrorPayload{Reason: "token expired"})
			ws.WriteJSON(realtime.Frame{Type: realtime.FrameAuthError, Data: reason})
			ws.Close()
			return
		}
		ws.WriteJSON(realtime.Frame{Type: realtime.FrameAuthOK})

		ps.mu.Lock()
		ps.ws = ws
		ps.mu.Unlock()
		ps.ready <- struct{}{}

		for {
			var f realtime.Frame
			if err := ws.ReadJSON(&f); err != nil {
				return
			}
			ps.mu.Lock()
			ps.frames = append(ps.frames, f)
			ps.mu.Unlock()
		}
	}))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *pushServer) url() string {
	return "ws" + strings.TrimPrefix(ps.srv.URL, "http")
}

// waitFrame blocks until the client has sent a frame with the given type and
// topic, and returns it.
func (ps *pushServer) waitFrame(t *testing.T, frameType, topic string) realtime.Frame {
	t.Helper()
	var found realtime.Frame
	require.Eventually(t, func() bool {
		ps.mu.Lock()
		defer ps.mu.Unlock()
		for _, f := range ps.frames {
			if f.Type == frameType && f.Topic == topic {
				found = f
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond, "no %s frame on %s", frameType, topic)
	return found
}

// push writes an event frame on topic down to the client.
func (ps *pushServer) push(t *testing.T, topic string, payload interface{}) {
	t.Helper()
	select {
	case <-ps.ready:
	case <-time.After(5 * time.Second):
		t.Fatal("server accepted no connection")
	}
	ps.ready <- struct{}{} // keep it available for further pushes

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	ps.mu.Lock()
	ws := ps.ws
	ps.mu.Unlock()
	require.NoError(t, ws.WriteJSON(realtime.Frame{
		Type:      realtime.FrameEvent,
		Topic:     topic,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}))
}

func testConfig(url string) *config.Config {
	return &config.Config{
		ServerURL:           url,
		HandshakeTimeout:    2 * time.Second,
		PongWait:            60 * time.Second,
		WriteWait:           2 * time.Second,
		ReconnectWait:       20 * time.Millisecond,
		ReconnectMaxWait:    100 * time.Millisecond,
		ReconnectFactor:     2.0,
		PresenceSettleDelay: 10 * time.Millisecond,
		GroupingWindow:      15 * time.Minute,
	}
}

func newTestCore(t *testing.T, ps *pushServer, token string) *Core {
	t.Helper()
	c := New(
		testConfig(ps.url()),
		session.StaticStore{Token: token, UserID: "u1"},
		cache.NewMemoryStore(),
		nil,
	)
	t.Cleanup(c.Logout)
	return c
}

func TestCoreSubscribesOwnNotificationsOnConnect(t *testing.T) {
	ps := newPushServer(t)
	c := newTestCore(t, ps, "good-token")

	require.NoError(t, c.Connect(context.Background()))
	ps.waitFrame(t, realtime.FrameSubscribe, realtime.NotificationsTopic("u1"))

	ps.push(t, realtime.NotificationsTopic("u1"), notification.Event{
		ID:              "n1",
		Type:            notification.TypeLike,
		ActorID:         "a1",
		RelatedEntityID: "p1",
		CreatedAt:       time.Now().UTC(),
	})

	require.Eventually(t, func() bool {
		events, err := c.Notifications(context.Background())
		return err == nil && len(events) == 1
	}, 5*time.Second, 10*time.Millisecond)

	groups, err := c.GroupedNotifications(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "n1", groups[0].ID)
}

func TestCoreAnnouncesOnlineAfterSettle(t *testing.T) {
	ps := newPushServer(t)
	c := newTestCore(t, ps, "good-token")

	require.NoError(t, c.Connect(context.Background()))

	f := ps.waitFrame(t, realtime.FramePublish, realtime.UserStatusTopic("u1"))
	var ev presence.StatusEvent
	require.NoError(t, json.Unmarshal(f.Data, &ev))
	assert.Equal(t, presence.StatusOnline, ev.Status)
}

func TestCoreConversationRoundTrip(t *testing.T) {
	ps := newPushServer(t)
	c := newTestCore(t, ps, "good-token")
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx))

	dispose := c.SubscribeConversation("42")
	defer dispose()
	ps.waitFrame(t, realtime.FrameSubscribe, realtime.ConversationTopic("42"))

	require.NoError(t, c.SendMessage(ctx, &messaging.SendMessageRequest{
		ConversationID: "42",
		Content:        "hello",
	}))
	ps.waitFrame(t, realtime.FramePublish, realtime.ConversationTopic("42"))

	// The server echoes the stored message back on the topic.
	ps.push(t, realtime.ConversationTopic("42"), messaging.MessageRecord{
		ID:             "m1",
		ConversationID: "42",
		SenderID:       "u1",
		Content:        "hello",
		CreatedAt:      time.Now().UTC(),
	})

	require.Eventually(t, func() bool {
		msgs, err := c.Messages(ctx, "42")
		return err == nil && len(msgs) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCoreForcedLogoutOnAuthRejection(t *testing.T) {
	ps := newPushServer(t)
	c := newTestCore(t, ps, "bad-token")

	var forced error
	c.OnForcedLogout(func(err error) { forced = err })

	err := c.Connect(context.Background())
	require.ErrorIs(t, err, realtime.ErrAuthRejected)
	assert.ErrorIs(t, forced, realtime.ErrAuthRejected)
	assert.Equal(t, realtime.StateDisconnected, c.State())

	// A fatal rejection must never trigger the reconnect loop.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, realtime.StateDisconnected, c.State())
}
