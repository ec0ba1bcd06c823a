package websocket

import (
	"github.com/nbd-wtf/go-nostr"

	"github.com/nostrmail/relay/lib/filters"
	"github.com/nostrmail/relay/lib/logging"
)

// handleReqMessage registers a subscription and replays matching stored
// events, ending with EOSE. A REQ reusing an id replaces the previous
// subscription.
func (s *Server) handleReqMessage(conn *Connection, env *nostr.ReqEnvelope) {
	if !conn.IsAuthenticated() {
		conn.sendClosed(env.SubscriptionID, "auth-required: subscribing requires authentication")
		return
	}

	conn.setSubscription(env.SubscriptionID, env.Filters)

	events, err := s.store.QueryEvents(env.Filters)
	if err != nil {
		// A failed historical fetch is an operational fault, not
		// something to mask with an empty replay
		logging.Errorf("Historical query failed for subscription %s on %s: %v", env.SubscriptionID, conn.ClientID(), err)
		conn.removeSubscription(env.SubscriptionID)
		conn.sendClosed(env.SubscriptionID, "error: could not query stored events")
		return
	}

	for _, event := range events {
		// The store hands back a candidate superset; only exact matches
		// are delivered
		if !filters.MatchAny(env.Filters, event) {
			continue
		}
		if err := conn.sendEvent(env.SubscriptionID, *event); err != nil {
			if !isConnectionClosedError(err) {
				logging.Infof("Error replaying event to %s: %v", conn.ClientID(), err)
			}
			return
		}
	}

	conn.sendEOSE(env.SubscriptionID)
}
