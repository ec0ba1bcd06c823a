package websocket

import (
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/nostrmail/relay/lib/auth"
	"github.com/nostrmail/relay/lib/logging"
)

// handleAuthMessage validates a client's signed response to the challenge
// issued on connect. Failure leaves the connection open and
// unauthenticated; the client may try again.
func (s *Server) handleAuthMessage(conn *Connection, env *nostr.AuthEnvelope) {
	event := &env.Event

	ok, reason := auth.Validate(event, auth.Params{
		Challenge: conn.Challenge(),
		RelayURL:  s.relayURL,
		Now:       time.Now(),
		IsAllowed: s.policy.IsAllowed,
	})
	if !ok {
		logging.Infof("Auth failed for %s on %s: %s", event.PubKey, conn.ClientID(), reason)
		conn.sendOK(event.ID, false, reason)
		return
	}

	conn.setAuthenticated(event.PubKey)
	logging.Infof("Authenticated %s on %s", event.PubKey, conn.ClientID())
	conn.sendOK(event.ID, true, reason)
}
