// internal/messaging/reconciler.go

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/vireo-social/realtime/internal/cache"
	"github.com/vireo-social/realtime/internal/realtime"
)

var (
	messagesMergedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_messages_merged_total",
			Help: "Total number of messages merged into the local cache",
		},
	)

	duplicatesSuppressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_duplicates_suppressed_total",
			Help: "Total number of duplicate message events dropped by id",
		},
	)
)

// SummaryRefreshFunc performs the scoped refetch of the current user's
// conversation summaries after one went stale. It must never refetch the
// message list itself.
type SummaryRefreshFunc func(ctx context.Context, conversationID string)

// Reconciler keeps the per-conversation message caches consistent with
// server-pushed truth. Merges are idempotent by message id: a sender's own
// publish and the broadcast fan-out may both be delivered.
type Reconciler struct {
	store  cache.Store
	userID string
	log    *logrus.Entry

	// mu serializes the read-modify-write cycles on cached lists: merges
	// arrive on the read pump while MarkRead runs on a caller goroutine,
	// and an interleaved write would erase the other side's update.
	mu sync.Mutex

	refreshSummaries SummaryRefreshFunc
}

func NewReconciler(store cache.Store, userID string, log *logrus.Entry) *Reconciler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Reconciler{
		store:  store,
		userID: userID,
		log:    log.WithField("component", "messaging"),
	}
}

// OnSummaryStale wires the scoped summary refetch hook.
func (r *Reconciler) OnSummaryStale(fn SummaryRefreshFunc) {
	r.refreshSummaries = fn
}

// HandleEvent adapts the reconciler to the subscription registry. Payloads
// that do not decode are logged and dropped without disturbing the stream.
func (r *Reconciler) HandleEvent(topic string, data json.RawMessage) {
	var rec MessageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		r.log.WithError(err).WithField("topic", topic).Warn("dropping undecodable message event")
		return
	}
	if err := r.MergeMessage(context.Background(), rec); err != nil {
		r.log.WithError(err).WithField("message_id", rec.ID).Error("merge failed")
	}
}

// MergeMessage applies one inbound message to the conversation's cache list.
// Duplicate ids are suppressed; new records are appended in arrival order.
// The conversation's summary is then marked stale: summaries are refetched
// (scoped to this user), the message list itself never is.
func (r *Reconciler) MergeMessage(ctx context.Context, rec MessageRecord) error {
	if rec.ID == "" || rec.ConversationID == "" {
		return fmt.Errorf("messaging: message event missing id or conversation id")
	}

	key := cache.MessagesKey(rec.ConversationID)

	r.mu.Lock()

	var msgs []MessageRecord
	if _, err := r.store.Get(ctx, key, &msgs); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("messaging: load %s: %w", key, err)
	}

	for _, m := range msgs {
		if m.ID == rec.ID {
			r.mu.Unlock()
			duplicatesSuppressedTotal.Inc()
			return nil
		}
	}

	msgs = append(msgs, rec)
	if err := r.store.Set(ctx, key, msgs); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("messaging: store %s: %w", key, err)
	}
	messagesMergedTotal.Inc()

	if err := r.store.Invalidate(ctx, cache.ConversationsKey(r.userID)); err != nil {
		r.log.WithError(err).Warn("summary invalidation failed")
	}
	r.mu.Unlock()

	// The hook runs unlocked so a refetch can store summaries or read lists
	// without re-entering the reconciler's critical section.
	if r.refreshSummaries != nil {
		r.refreshSummaries(ctx, rec.ConversationID)
	}
	return nil
}

// MarkRead optimistically flips IsRead on the matching records. The server
// confirms asynchronously; a failed confirmation is not rolled back, since
// re-marking read is idempotent and harmless.
func (r *Reconciler) MarkRead(ctx context.Context, conversationID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := cache.MessagesKey(conversationID)

	var msgs []MessageRecord
	ok, err := r.store.Get(ctx, key, &msgs)
	if err != nil {
		return fmt.Errorf("messaging: load %s: %w", key, err)
	}
	if !ok {
		return nil
	}

	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	changed := false
	for i := range msgs {
		if _, hit := wanted[msgs[i].ID]; hit && !msgs[i].IsRead {
			msgs[i].IsRead = true
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return r.store.Set(ctx, key, msgs)
}

// Messages returns the cached message list for a conversation, in merge
// (chronological) order.
func (r *Reconciler) Messages(ctx context.Context, conversationID string) ([]MessageRecord, error) {
	var msgs []MessageRecord
	if _, err := r.store.Get(ctx, cache.MessagesKey(conversationID), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Summaries returns the cached conversation summaries for the current user,
// if present. A missing entry means the list is stale and must be refetched
// by the caller.
func (r *Reconciler) Summaries(ctx context.Context) ([]ConversationSummary, bool, error) {
	var sums []ConversationSummary
	ok, err := r.store.Get(ctx, cache.ConversationsKey(r.userID), &sums)
	if err != nil {
		return nil, false, err
	}
	return sums, ok, nil
}

// StoreSummaries caches a freshly fetched summary list.
func (r *Reconciler) StoreSummaries(ctx context.Context, sums []ConversationSummary) error {
	return r.store.Set(ctx, cache.ConversationsKey(r.userID), sums)
}

// Topic returns the wire topic carrying a conversation's events.
func Topic(conversationID string) string {
	return realtime.ConversationTopic(conversationID)
}
