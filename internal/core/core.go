// internal/core/core.go
// Lifecycle-scoped realtime core: one instance per authenticated session,
// constructed on login and torn down on logout. Nothing here is a process
// global; a new login builds a fresh core.

package core

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vireo-social/realtime/internal/cache"
	"github.com/vireo-social/realtime/internal/config"
	"github.com/vireo-social/realtime/internal/messaging"
	"github.com/vireo-social/realtime/internal/notification"
	"github.com/vireo-social/realtime/internal/presence"
	"github.com/vireo-social/realtime/internal/realtime"
	"github.com/vireo-social/realtime/internal/session"
)

// Core wires the connection, the subscription registry, the reconcilers and
// the presence tracker for one session.
type Core struct {
	cfg   *config.Config
	sess  session.Store
	store cache.Store
	log   *logrus.Entry

	conn     *realtime.Conn
	registry *realtime.Registry
	messages *messaging.Reconciler
	sender   messaging.Service
	notifs   *notification.Reconciler
	tracker  *presence.Tracker

	mu          sync.Mutex
	settleTimer *time.Timer

	onForcedLogout func(error)
	logoutOnce     sync.Once
}

func New(cfg *config.Config, sess session.Store, store cache.Store, log *logrus.Entry) *Core {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	userID := sess.CurrentUserID()
	log = log.WithField("user_id", userID)

	conn := realtime.NewConn(realtime.Options{
		URL:              cfg.ServerURL,
		Credential:       sess.Credential(),
		HandshakeTimeout: cfg.HandshakeTimeout,
		PongWait:         cfg.PongWait,
		WriteWait:        cfg.WriteWait,
		ReconnectWait:    cfg.ReconnectWait,
		ReconnectMaxWait: cfg.ReconnectMaxWait,
		ReconnectFactor:  cfg.ReconnectFactor,
		Logger:           log,
	})

	c := &Core{
		cfg:      cfg,
		sess:     sess,
		store:    store,
		log:      log,
		conn:     conn,
		registry: realtime.NewRegistry(conn, log),
	}
	c.messages = messaging.NewReconciler(store, userID, log)
	c.sender = messaging.NewService(conn, userID, log)
	c.notifs = notification.NewReconciler(store, userID, log)
	c.tracker = presence.NewTracker(c.registry, conn, userID, log)

	conn.OnFrame(c.registry.Route)
	conn.OnStateChange(c.handleStateChange)
	conn.OnFatal(c.handleFatal)

	// The authenticated user always watches their own notification stream.
	c.registry.Subscribe(realtime.NotificationsTopic(userID), c.notifs.HandleEvent)

	return c
}

func (c *Core) handleStateChange(st realtime.ConnectionState) {
	switch st {
	case realtime.StateConnected:
		// Re-subscribe before anything else; the session is not caught up
		// until every referenced topic is back on the wire.
		c.registry.ResubscribeAll()

		// Let the transport settle before announcing ONLINE.
		c.mu.Lock()
		if c.settleTimer != nil {
			c.settleTimer.Stop()
		}
		c.settleTimer = time.AfterFunc(c.cfg.PresenceSettleDelay, func() {
			c.tracker.AnnounceSelf(presence.StatusOnline)
		})
		c.mu.Unlock()

	case realtime.StateReconnecting:
		c.registry.Suspend()
		// Presence is ephemeral: stale statuses are worse than none.
		c.tracker.Reset()
	}
}

func (c *Core) handleFatal(err error) {
	c.log.WithError(err).Error("session is no longer valid, forcing logout")
	c.Logout()
	if c.onForcedLogout != nil {
		c.onForcedLogout(err)
	}
}

// OnForcedLogout registers the hook invoked when a fatal session error
// (expired or rejected credential) forces teardown.
func (c *Core) OnForcedLogout(fn func(error)) {
	c.onForcedLogout = fn
}

// OnSummaryStale wires the scoped conversation-summary refetch.
func (c *Core) OnSummaryStale(fn messaging.SummaryRefreshFunc) {
	c.messages.OnSummaryStale(fn)
}

// Connect establishes the transport session. Idempotent.
func (c *Core) Connect(ctx context.Context) error {
	return c.conn.Connect(ctx)
}

// State reports the connected signal UI features observe.
func (c *Core) State() realtime.ConnectionState {
	return c.conn.State()
}

// Logout announces OFFLINE best-effort, tears down the transport and resets
// every session-scoped singleton. Safe from unload-style hooks; a stale
// handler never receives frames from a later session.
func (c *Core) Logout() {
	c.logoutOnce.Do(func() {
		c.mu.Lock()
		if c.settleTimer != nil {
			c.settleTimer.Stop()
		}
		c.mu.Unlock()

		c.tracker.AnnounceSelf(presence.StatusOffline)
		c.conn.Close()
		c.registry.Reset()
		c.tracker.Reset()
	})
}

// Subscribe registers a raw topic interest.
func (c *Core) Subscribe(topic string, handler realtime.Handler) func() {
	return c.registry.Subscribe(topic, handler)
}

// SubscribeConversation routes a conversation's events into the message
// reconciler. Open chat views call this; several views may share one topic.
func (c *Core) SubscribeConversation(conversationID string) func() {
	return c.registry.Subscribe(realtime.ConversationTopic(conversationID), c.messages.HandleEvent)
}

// SendMessage publishes a chat message. Fails with realtime.ErrNotConnected
// while the session is down.
func (c *Core) SendMessage(ctx context.Context, req *messaging.SendMessageRequest) error {
	return c.sender.SendMessage(ctx, req)
}

// SubscribeToUserStatus watches another user's presence.
func (c *Core) SubscribeToUserStatus(userID string, onChange func(presence.Status)) func() {
	return c.tracker.SubscribeToUserStatus(userID, onChange)
}

// AnnounceStatus publishes the current user's presence, fire-and-forget.
func (c *Core) AnnounceStatus(status presence.Status) {
	c.tracker.AnnounceSelf(status)
}

// LastKnownStatus returns the most recent presence seen for userID.
func (c *Core) LastKnownStatus(userID string) (presence.Status, bool) {
	return c.tracker.LastKnown(userID)
}

// Messages reads a conversation's cached message list.
func (c *Core) Messages(ctx context.Context, conversationID string) ([]messaging.MessageRecord, error) {
	return c.messages.Messages(ctx, conversationID)
}

// MarkMessagesRead optimistically flips read state on cached messages.
func (c *Core) MarkMessagesRead(ctx context.Context, conversationID string, ids ...string) error {
	return c.messages.MarkRead(ctx, conversationID, ids...)
}

// Notifications reads the cached raw notification list, newest first.
func (c *Core) Notifications(ctx context.Context) ([]notification.Event, error) {
	return c.notifs.Events(ctx)
}

// GroupedNotifications groups the cached notifications for display.
func (c *Core) GroupedNotifications(ctx context.Context) ([]notification.Group, error) {
	events, err := c.notifs.Events(ctx)
	if err != nil {
		return nil, err
	}
	return notification.GroupEvents(events, c.cfg.GroupingWindow), nil
}

// MarkNotificationsRead flips read state for all given ids, typically every
// member of a clicked group.
func (c *Core) MarkNotificationsRead(ctx context.Context, ids ...string) error {
	return c.notifs.MarkRead(ctx, ids...)
}
