// internal/presence/tracker.go

package presence

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/vireo-social/realtime/internal/realtime"
)

// Status is a user's transient online/offline state. Never persisted.
type Status string

const (
	StatusOnline  Status = "ONLINE"
	StatusOffline Status = "OFFLINE"
)

// StatusEvent is the wire payload on user-status topics.
type StatusEvent struct {
	UserID string `json:"user_id"`
	Status Status `json:"status"`
}

// Subscriber is the slice of the registry the tracker needs.
type Subscriber interface {
	Subscribe(topic string, handler realtime.Handler) func()
}

// Publisher is the slice of the connection the tracker needs.
type Publisher interface {
	Publish(topic string, data interface{}) error
}

// Tracker derives per-user presence from inbound status events and announces
// the current user's own status. Everything here is best-effort: a missed
// announce leaves peers stale until the next event, never an error.
type Tracker struct {
	subs   Subscriber
	pub    Publisher
	selfID string
	log    *logrus.Entry

	mu        sync.RWMutex
	lastKnown map[string]Status
}

func NewTracker(subs Subscriber, pub Publisher, selfID string, log *logrus.Entry) *Tracker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Tracker{
		subs:      subs,
		pub:       pub,
		selfID:    selfID,
		log:       log.WithField("component", "presence"),
		lastKnown: make(map[string]Status),
	}
}

// SubscribeToUserStatus watches one user's presence. onChange fires per
// inbound event; only the most recent status is retained. The returned
// disposer follows registry semantics: idempotent, safe after a drop.
func (t *Tracker) SubscribeToUserStatus(userID string, onChange func(Status)) func() {
	return t.subs.Subscribe(realtime.UserStatusTopic(userID), func(topic string, data json.RawMessage) {
		var ev StatusEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			t.log.WithError(err).WithField("topic", topic).Warn("dropping undecodable status event")
			return
		}
		if ev.UserID == "" {
			ev.UserID = userID
		}

		t.mu.Lock()
		t.lastKnown[ev.UserID] = ev.Status
		t.mu.Unlock()

		if onChange != nil {
			onChange(ev.Status)
		}
	})
}

// AnnounceSelf publishes the current user's status. Fire-and-forget: called
// with ONLINE after the transport settles post-connect, and with OFFLINE
// best-effort on disconnect, where it must never block teardown.
func (t *Tracker) AnnounceSelf(status Status) {
	err := t.pub.Publish(realtime.UserStatusTopic(t.selfID), StatusEvent{
		UserID: t.selfID,
		Status: status,
	})
	if err != nil {
		t.log.WithError(err).WithField("status", status).Debug("self announce skipped")
	}
}

// LastKnown returns the most recent status seen for userID.
func (t *Tracker) LastKnown(userID string) (Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.lastKnown[userID]
	return s, ok
}

// Reset clears all tracked statuses. Presence is weak state: on reconnect
// the map starts empty until fresh events arrive, and logout discards it.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.lastKnown = make(map[string]Status)
	t.mu.Unlock()
}
