package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/nostrmail/relay/lib/kinds"
)

// Window is how far an auth event's created_at may drift from the relay
// clock in either direction.
const Window = 10 * time.Minute

// Params carries the per-connection and per-relay context an auth event is
// validated against.
type Params struct {
	// Challenge is the nonce this connection was issued on accept.
	Challenge string
	// RelayURL is the relay's configured public URL; the auth event's
	// relay tag must reference its host.
	RelayURL string
	// Now is the relay clock; injected so the window check is testable.
	Now time.Time
	// IsAllowed reports access-policy membership for the signing pubkey.
	IsAllowed func(pubkey string) bool
}

// Validate runs the NIP-42 checks over a client auth event, short-circuiting
// on the first failure. It has no side effects; the caller records the
// resulting authentication state on the connection.
func Validate(event *nostr.Event, params Params) (bool, string) {
	if event.GetID() != event.ID {
		return false, "invalid: event id does not match content"
	}
	if ok, err := event.CheckSignature(); err != nil || !ok {
		return false, "invalid: signature verification failed"
	}

	if event.Kind != kinds.KindClientAuth {
		return false, fmt.Sprintf("invalid: auth event kind must be %d", kinds.KindClientAuth)
	}

	if len(event.Tags) < 2 {
		return false, "invalid: auth event missing required tags"
	}

	if !relayTagMatches(event.Tags, params.RelayURL) {
		return false, "invalid: relay tag does not reference this relay"
	}

	if !challengeTagMatches(event.Tags, params.Challenge) {
		return false, "invalid: challenge tag does not match"
	}

	drift := params.Now.Sub(event.CreatedAt.Time())
	if drift > Window || drift < -Window {
		return false, "invalid: auth event created_at is too far off from the current time"
	}

	if params.IsAllowed == nil || !params.IsAllowed(event.PubKey) {
		return false, "restricted: unknown pubkey"
	}

	return true, "Auth ok."
}

// relayTagMatches checks that some relay tag references the configured
// relay. Comparison is case-insensitive and ignores scheme prefixes on both
// sides, so "wss://relay.example.com/" satisfies a relay configured as
// "relay.example.com".
func relayTagMatches(tags nostr.Tags, relayURL string) bool {
	host := stripScheme(strings.ToLower(relayURL))
	if host == "" {
		return false
	}
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == "relay" {
			if strings.Contains(stripScheme(strings.ToLower(tag[1])), host) {
				return true
			}
		}
	}
	return false
}

// challengeTagMatches requires an exact echo of the issued nonce.
func challengeTagMatches(tags nostr.Tags, challenge string) bool {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == "challenge" && tag[1] == challenge {
			return true
		}
	}
	return false
}

func stripScheme(value string) string {
	for _, scheme := range []string{"wss://", "ws://", "https://", "http://"} {
		if strings.HasPrefix(value, scheme) {
			return strings.TrimPrefix(value, scheme)
		}
	}
	return value
}
