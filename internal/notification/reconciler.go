// internal/notification/reconciler.go

package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/vireo-social/realtime/internal/cache"
)

var notificationsMergedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "notification_events_merged_total",
		Help: "Total number of notification events merged into the local cache",
	},
)

// Reconciler keeps the current user's notification list consistent with
// server pushes. The list is newest-first; merges prepend, never reorder.
type Reconciler struct {
	store  cache.Store
	userID string
	log    *logrus.Entry

	// mu serializes the read-modify-write cycles on the cached list: merges
	// arrive on the read pump while MarkRead runs on a caller goroutine.
	mu sync.Mutex
}

func NewReconciler(store cache.Store, userID string, log *logrus.Entry) *Reconciler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Reconciler{
		store:  store,
		userID: userID,
		log:    log.WithField("component", "notification"),
	}
}

// HandleEvent adapts the reconciler to the subscription registry.
func (r *Reconciler) HandleEvent(topic string, data json.RawMessage) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		r.log.WithError(err).WithField("topic", topic).Warn("dropping undecodable notification event")
		return
	}
	if err := r.MergeNotification(context.Background(), ev); err != nil {
		r.log.WithError(err).WithField("notification_id", ev.ID).Error("merge failed")
	}
}

// MergeNotification prepends ev to the user's list if its id is new, then
// marks the unread-count aggregate stale.
func (r *Reconciler) MergeNotification(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		return fmt.Errorf("notification: event missing id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := cache.NotificationsKey(r.userID)

	var events []Event
	if _, err := r.store.Get(ctx, key, &events); err != nil {
		return fmt.Errorf("notification: load %s: %w", key, err)
	}

	for _, e := range events {
		if e.ID == ev.ID {
			return nil
		}
	}

	events = append([]Event{ev}, events...)
	if err := r.store.Set(ctx, key, events); err != nil {
		return fmt.Errorf("notification: store %s: %w", key, err)
	}
	notificationsMergedTotal.Inc()

	if err := r.store.Invalidate(ctx, cache.UnreadCountKey(r.userID)); err != nil {
		r.log.WithError(err).Warn("unread-count invalidation failed")
	}
	return nil
}

// MarkRead optimistically flips IsRead on every matching event. Used for
// group clicks: all member ids are flipped in one write. Re-marking read is
// idempotent; no rollback on a failed server confirmation.
func (r *Reconciler) MarkRead(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := cache.NotificationsKey(r.userID)

	var events []Event
	ok, err := r.store.Get(ctx, key, &events)
	if err != nil {
		return fmt.Errorf("notification: load %s: %w", key, err)
	}
	if !ok {
		return nil
	}

	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	changed := false
	for i := range events {
		if _, hit := wanted[events[i].ID]; hit && !events[i].IsRead {
			events[i].IsRead = true
			changed = true
		}
	}
	if !changed {
		return nil
	}

	if err := r.store.Set(ctx, key, events); err != nil {
		return err
	}
	return r.store.Invalidate(ctx, cache.UnreadCountKey(r.userID))
}

// Events returns the cached notification list, newest first.
func (r *Reconciler) Events(ctx context.Context) ([]Event, error) {
	var events []Event
	if _, err := r.store.Get(ctx, cache.NotificationsKey(r.userID), &events); err != nil {
		return nil, err
	}
	return events, nil
}
