package filters

import (
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// Match reports whether an event satisfies a single subscription filter.
// All present fields are ANDed; an empty filter matches every event.
//
// This predicate is the single source of truth for delivery decisions.
// The store's candidate queries only narrow the search space and every
// candidate is re-checked here before it reaches a subscriber.
func Match(filter nostr.Filter, event *nostr.Event) bool {
	if len(filter.IDs) > 0 && !matchesPrefix(filter.IDs, event.ID) {
		return false
	}

	if len(filter.Kinds) > 0 && !containsKind(filter.Kinds, event.Kind) {
		return false
	}

	if len(filter.Authors) > 0 && !matchesPrefix(filter.Authors, event.PubKey) {
		return false
	}

	// Both bounds are inclusive
	if filter.Since != nil && event.CreatedAt < *filter.Since {
		return false
	}
	if filter.Until != nil && event.CreatedAt > *filter.Until {
		return false
	}

	for name, values := range filter.Tags {
		if !matchesTag(event.Tags, strings.TrimPrefix(name, "#"), values) {
			return false
		}
	}

	return true
}

// MatchAny reports whether an event satisfies at least one of the filters.
func MatchAny(filters []nostr.Filter, event *nostr.Event) bool {
	for _, filter := range filters {
		if Match(filter, event) {
			return true
		}
	}
	return false
}

// matchesPrefix reports whether value starts with at least one listed prefix.
// Clients may send shortened ids/authors, so this is prefix matching rather
// than equality.
func matchesPrefix(prefixes []string, value string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}

func containsKind(kinds []int, kind int) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// matchesTag reports whether the event carries at least one tag named name
// whose value is one of the accepted values. An event with no such tag at
// all fails the constraint.
func matchesTag(tags nostr.Tags, name string, values []string) bool {
	for _, tag := range tags {
		if len(tag) < 2 || tag[0] != name {
			continue
		}
		for _, value := range values {
			if tag[1] == value {
				return true
			}
		}
	}
	return false
}
