package filters

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
)

func makeEvent() *nostr.Event {
	return &nostr.Event{
		ID:        "abc123def456abc123def456abc123def456abc123def456abc123def456abcd",
		PubKey:    "f00dbabe00000000000000000000000000000000000000000000000000000000",
		Kind:      1,
		CreatedAt: nostr.Timestamp(1000),
		Tags: nostr.Tags{
			{"e", "referenced-event-id"},
			{"p", "recipient-pubkey"},
		},
		Content: "hello",
	}
}

func ts(v int64) *nostr.Timestamp {
	t := nostr.Timestamp(v)
	return &t
}

func TestEmptyFilterMatchesEverything(t *testing.T) {
	assert.True(t, Match(nostr.Filter{}, makeEvent()))
}

func TestIDPrefixMatching(t *testing.T) {
	event := makeEvent()

	assert.True(t, Match(nostr.Filter{IDs: []string{"abc1"}}, event))
	assert.True(t, Match(nostr.Filter{IDs: []string{"xyz", "abc123"}}, event))
	assert.False(t, Match(nostr.Filter{IDs: []string{"xyz"}}, event))
}

func TestAuthorPrefixMatching(t *testing.T) {
	event := makeEvent()

	assert.True(t, Match(nostr.Filter{Authors: []string{"f00d"}}, event))
	assert.False(t, Match(nostr.Filter{Authors: []string{"dead"}}, event))
}

func TestKindsAreExact(t *testing.T) {
	event := makeEvent()

	assert.True(t, Match(nostr.Filter{Kinds: []int{1, 4}}, event))
	assert.False(t, Match(nostr.Filter{Kinds: []int{4}}, event))
	assert.False(t, Match(nostr.Filter{Kinds: []int{10}}, event))
}

func TestTimeBoundsAreInclusive(t *testing.T) {
	event := makeEvent() // created_at = 1000

	assert.True(t, Match(nostr.Filter{Since: ts(1000)}, event))
	assert.False(t, Match(nostr.Filter{Since: ts(1001)}, event))
	assert.True(t, Match(nostr.Filter{Until: ts(1000)}, event))
	assert.False(t, Match(nostr.Filter{Until: ts(999)}, event))
	assert.True(t, Match(nostr.Filter{Since: ts(999), Until: ts(1001)}, event))
}

func TestTagConstraints(t *testing.T) {
	event := makeEvent()

	assert.True(t, Match(nostr.Filter{Tags: nostr.TagMap{"e": {"referenced-event-id"}}}, event))
	assert.True(t, Match(nostr.Filter{Tags: nostr.TagMap{"e": {"other", "referenced-event-id"}}}, event))
	assert.False(t, Match(nostr.Filter{Tags: nostr.TagMap{"e": {"other"}}}, event))

	// An event with no tag of the requested name fails the whole filter
	assert.False(t, Match(nostr.Filter{Tags: nostr.TagMap{"t": {"anything"}}}, event))

	// An empty accepted-value list can never be satisfied
	assert.False(t, Match(nostr.Filter{Tags: nostr.TagMap{"e": {}}}, event))
}

func TestAllFieldsAreANDed(t *testing.T) {
	event := makeEvent()

	matching := nostr.Filter{
		IDs:     []string{"abc"},
		Authors: []string{"f00d"},
		Kinds:   []int{1},
		Since:   ts(500),
		Until:   ts(1500),
		Tags:    nostr.TagMap{"p": {"recipient-pubkey"}},
	}
	assert.True(t, Match(matching, event))

	failing := matching
	failing.Kinds = []int{4}
	assert.False(t, Match(failing, event))
}

func TestMatchAnyIsORAcrossFilters(t *testing.T) {
	event := makeEvent()

	assert.True(t, MatchAny([]nostr.Filter{
		{Kinds: []int{4}},
		{Kinds: []int{1}},
	}, event))
	assert.False(t, MatchAny([]nostr.Filter{
		{Kinds: []int{4}},
		{Authors: []string{"dead"}},
	}, event))
	assert.False(t, MatchAny(nil, event))
}
