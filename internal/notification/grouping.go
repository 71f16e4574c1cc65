// internal/notification/grouping.go
// Pure transform from a flat chronological event list to display-ready
// grouped units. Fully recomputable from its input on every read.

package notification

import (
	"sort"
	"time"
)

// DefaultGroupingWindow bounds how far apart two events may be and still
// collapse into one group.
const DefaultGroupingWindow = 15 * time.Minute

// GroupEvents scans events newest-first and merges runs sharing
// (type, relatedEntityId). Grouping is contiguous in the sorted stream: an
// event joins only the immediately preceding group, so an unrelated event in
// between always closes the run. Within a run, an event must fall inside
// window of the group's newest member.
//
// A window <= 0 selects DefaultGroupingWindow.
func GroupEvents(events []Event, window time.Duration) []Group {
	if window <= 0 {
		window = DefaultGroupingWindow
	}
	if len(events) == 0 {
		return nil
	}

	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	var builders []*groupBuilder
	var current *groupBuilder

	for _, ev := range sorted {
		if current != nil && current.accepts(ev, window) {
			current.add(ev)
			continue
		}
		current = newGroupBuilder(ev)
		builders = append(builders, current)
	}

	groups := make([]Group, len(builders))
	for i, b := range builders {
		groups[i] = b.build()
	}
	return groups
}

type groupBuilder struct {
	typ    Type
	entity string
	newest Event

	ids        []string
	actorOrder []Actor
	actorSeen  map[string]struct{}
	allRead    bool
}

func newGroupBuilder(ev Event) *groupBuilder {
	b := &groupBuilder{
		typ:       ev.Type,
		entity:    ev.RelatedEntityID,
		newest:    ev,
		actorSeen: make(map[string]struct{}),
		allRead:   true,
	}
	b.add(ev)
	return b
}

// accepts reports whether ev continues this group: same key, and within the
// recency window of the group's newest member.
func (b *groupBuilder) accepts(ev Event, window time.Duration) bool {
	if ev.Type != b.typ || ev.RelatedEntityID != b.entity {
		return false
	}
	return b.newest.CreatedAt.Sub(ev.CreatedAt) <= window
}

func (b *groupBuilder) add(ev Event) {
	b.ids = append(b.ids, ev.ID)
	b.allRead = b.allRead && ev.IsRead

	// Events arrive newest-first, so first sight of an actor is already the
	// most recent one.
	if _, seen := b.actorSeen[ev.ActorID]; !seen {
		b.actorSeen[ev.ActorID] = struct{}{}
		b.actorOrder = append(b.actorOrder, Actor{
			ID:         ev.ActorID,
			Name:       ev.ActorName,
			ProfileImg: ev.ActorProfileImg,
		})
	}
}

func (b *groupBuilder) build() Group {
	target, icon := Metadata(b.typ)

	display := b.actorOrder
	if len(display) > 3 {
		display = display[:3]
	}
	overflow := 0
	if len(b.actorOrder) >= 3 {
		overflow = len(b.actorOrder) - 2
	}

	return Group{
		ID:              b.newest.ID,
		Type:            b.typ,
		Actors:          b.actorOrder,
		ActorCount:      len(b.actorOrder),
		DisplayActors:   display,
		OverflowCount:   overflow,
		RelatedEntityID: b.entity,
		CreatedAt:       b.newest.CreatedAt,
		IsRead:          b.allRead,
		NotificationIDs: b.ids,
		Target:          target,
		Icon:            icon,
	}
}
