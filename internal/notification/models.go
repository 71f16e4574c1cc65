// internal/notification/models.go

package notification

import (
	"time"
)

// Type enumerates the notification families the client understands.
type Type string

const (
	TypeLike        Type = "like"
	TypeComment     Type = "comment"
	TypeReply       Type = "reply"
	TypeNewFollower Type = "new-follower"
	TypeNewMessage  Type = "new-message"
)

// Event is one raw notification as pushed by the server.
type Event struct {
	ID              string    `json:"id"`
	Type            Type      `json:"type"`
	ActorID         string    `json:"actor_id"`
	ActorName       string    `json:"actor_name"`
	ActorProfileImg string    `json:"actor_profile_img"`
	RelatedEntityID string    `json:"related_entity_id"`
	Message         string    `json:"message"`
	CreatedAt       time.Time `json:"created_at"`
	IsRead          bool      `json:"is_read"`
}

// Actor is one distinct user inside a grouped notification.
type Actor struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ProfileImg string `json:"profile_img"`
}

// Group is a display-ready aggregation of raw events sharing type, target
// entity and temporal proximity. Derived on the read path, never persisted.
//
// Phrasing is a caller concern: the group exposes actor counts, not composed
// strings, so the UI can localize ("A e B", "A, B e outras N pessoas").
type Group struct {
	// ID is the id of the newest member event.
	ID   string `json:"id"`
	Type Type   `json:"type"`

	// Actors is deduplicated by actor id, most recent first.
	Actors     []Actor `json:"actors"`
	ActorCount int     `json:"actor_count"`

	// DisplayActors holds at most three actors for rendering; when
	// ActorCount >= 3, OverflowCount = ActorCount - 2 is the "N" in
	// "and N other people".
	DisplayActors []Actor `json:"display_actors"`
	OverflowCount int     `json:"overflow_count"`

	RelatedEntityID string    `json:"related_entity_id"`
	CreatedAt       time.Time `json:"created_at"` // newest member
	IsRead          bool      `json:"is_read"`    // true only if every member is read

	// NotificationIDs lists every member event; clicking a group marks all
	// of them read.
	NotificationIDs []string `json:"notification_ids"`

	// Navigation metadata per type, kept on the group so the UI embeds no
	// per-type logic.
	Target string `json:"target"`
	Icon   string `json:"icon"`
}

type typeMeta struct {
	target string
	icon   string
}

var typeMetadata = map[Type]typeMeta{
	TypeLike:        {target: "post", icon: "heart"},
	TypeComment:     {target: "post", icon: "comment"},
	TypeReply:       {target: "comment", icon: "reply"},
	TypeNewFollower: {target: "profile", icon: "user-plus"},
	TypeNewMessage:  {target: "conversation", icon: "envelope"},
}

// Metadata returns the navigation target and icon for a notification type.
// Unknown types fall back to a generic target.
func Metadata(t Type) (target, icon string) {
	if m, ok := typeMetadata[t]; ok {
		return m.target, m.icon
	}
	return "feed", "bell"
}
