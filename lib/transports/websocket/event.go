package websocket

import (
	"github.com/nbd-wtf/go-nostr"

	"github.com/nostrmail/relay/lib/bridge"
	"github.com/nostrmail/relay/lib/kinds"
	"github.com/nostrmail/relay/lib/logging"
)

// handleEventMessage processes a published event: validate, authorize,
// store per the event's class, acknowledge, then broadcast and forward.
// The OK is always written before the bridge forward so a slow bridge can
// never delay an acknowledgment.
func (s *Server) handleEventMessage(conn *Connection, env *nostr.EventEnvelope) {
	event := &env.Event

	if ok, reason := validateEvent(event); !ok {
		conn.sendOK(event.ID, false, reason)
		return
	}

	if !conn.IsAuthenticated() && !s.policy.CanBypassAuth(event.Kind, event.PubKey) {
		conn.sendOK(event.ID, false, "auth-required: publishing events requires authentication")
		return
	}

	isNew, err := s.storeEvent(event)
	if err != nil {
		logging.Errorf("Failed to process event %s from %s: %v", event.ID, conn.ClientID(), err)
		conn.sendOK(event.ID, false, "error: unable to process event")
		return
	}

	reason := ""
	if !isNew {
		reason = "duplicate"
	}
	conn.sendOK(event.ID, true, reason)

	if isNew {
		s.Broadcast(*event)
	}

	s.forwardDirectMessage(event)
}

// storeEvent applies the class-driven storage policy. It reports whether
// the event is new to the relay (and so worth broadcasting).
func (s *Server) storeEvent(event *nostr.Event) (bool, error) {
	if event.Kind == kinds.KindDeletion {
		// The deletion runs before its own tombstone is stored, so a
		// deletion event can never delete itself
		if err := s.store.DeleteEvents(event); err != nil {
			return false, err
		}
		return s.store.CreateEvent(event)
	}

	switch kinds.Classify(event.Kind) {
	case kinds.Replaceable, kinds.ParameterizedReplaceable:
		return s.store.UpsertEvent(event)
	case kinds.Ephemeral:
		// Broadcast-only, never persisted
		return true, nil
	default:
		return s.store.CreateEvent(event)
	}
}

// validateEvent checks the content-addressed id and the Schnorr signature.
func validateEvent(event *nostr.Event) (bool, string) {
	if event.GetID() != event.ID {
		return false, "invalid: event id does not match content"
	}
	if ok, err := event.CheckSignature(); err != nil || !ok {
		return false, "invalid: signature verification failed"
	}
	return true, ""
}

// forwardDirectMessage hands a direct message addressed to one of the
// application's bridge bots to the mail bridge. Fire and forget: delivery
// happens on the dispatcher's goroutine and failures stay there.
func (s *Server) forwardDirectMessage(event *nostr.Event) {
	if event.Kind != kinds.KindDirectMessage || s.bridge == nil {
		return
	}

	recipient := firstTagValue(event.Tags, "p")
	if recipient == "" || !s.policy.IsBridgeBot(recipient) {
		return
	}

	s.bridge.Enqueue(bridge.Delivery{Recipient: recipient, Event: *event})
}

func firstTagValue(tags nostr.Tags, name string) string {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}
