package websocket

import (
	"github.com/nbd-wtf/go-nostr"
)

// handleCloseMessage drops the subscription. Closing an id that was never
// opened is a no-op; the confirmation is sent either way.
func (s *Server) handleCloseMessage(conn *Connection, env *nostr.CloseEnvelope) {
	subscriptionID := string(*env)

	if !conn.IsAuthenticated() {
		conn.sendClosed(subscriptionID, "auth-required: closing subscriptions requires authentication")
		return
	}

	conn.removeSubscription(subscriptionID)
	conn.sendClosed(subscriptionID, "subscription closed")
}
