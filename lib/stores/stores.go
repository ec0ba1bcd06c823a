package stores

import (
	"errors"

	"github.com/nbd-wtf/go-nostr"
)

var (
	// ErrNotReplaceable is returned when UpsertEvent is handed an event
	// whose class has no identity key. It signals broken dispatch wiring,
	// never a client mistake.
	ErrNotReplaceable = errors.New("event class is not replaceable")

	// ErrNotDeletion is returned when DeleteEvents is handed anything but
	// a kind-5 event. Same contract as ErrNotReplaceable.
	ErrNotDeletion = errors.New("event is not a kind-5 deletion")
)

// Store is the relay's persistence boundary. The concrete relational store
// lives behind this interface; callers must never assume its candidate
// queries are exact (see QueryEvents).
type Store interface {
	// CreateEvent inserts an event keyed by id. It reports false without
	// error when the id is already stored.
	CreateEvent(event *nostr.Event) (bool, error)

	// UpsertEvent stores a replaceable or parameterized-replaceable event,
	// keeping only the newest created_at per identity key. It reports
	// false without error when the incoming event is stale. The
	// read-compare-replace runs in one transaction.
	UpsertEvent(event *nostr.Event) (bool, error)

	// DeleteEvents processes a kind-5 deletion: referenced events are
	// removed only when owned by the deletion's author. The deletion
	// event itself is not stored; callers follow up with CreateEvent.
	DeleteEvents(deletion *nostr.Event) error

	// QueryEvents returns a candidate superset for the filters, unioned
	// across them, ascending by created_at, capped per filter by its
	// limit. Callers re-apply the exact filter match before delivery.
	QueryEvents(filters []nostr.Filter) ([]*nostr.Event, error)
}
