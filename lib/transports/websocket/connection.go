package websocket

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/nostrmail/relay/lib/filters"
	"github.com/nostrmail/relay/lib/logging"
)

const challengeLength = 32

// wireConn is the write side of a client socket. *websocket.Conn satisfies
// it; tests substitute a capture.
type wireConn interface {
	WriteJSON(v interface{}) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Connection is the per-socket state machine: issued challenge,
// authentication state, active subscriptions and heartbeat liveness. It is
// created on transport accept and discarded on transport close, never
// persisted.
type Connection struct {
	ws        wireConn
	clientID  string
	challenge string

	// Serializes socket writes between the connection's own goroutine
	// and the server's broadcaster
	writeMu sync.Mutex

	stateMu       sync.RWMutex
	authenticated bool
	authPubkey    string

	subscriptions *xsync.MapOf[string, []nostr.Filter]
	alive         atomic.Bool
}

func newConnection(ws wireConn, clientID, challenge string) *Connection {
	conn := &Connection{
		ws:            ws,
		clientID:      clientID,
		challenge:     challenge,
		subscriptions: xsync.NewMapOf[string, []nostr.Filter](),
	}
	conn.alive.Store(true)

	return conn
}

// newChallenge generates the nonce a connection is issued on accept.
func newChallenge() (string, error) {
	buf := make([]byte, challengeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func (c *Connection) ClientID() string {
	return c.clientID
}

func (c *Connection) Challenge() string {
	return c.challenge
}

func (c *Connection) IsAuthenticated() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.authenticated
}

// AuthenticatedPubkey returns the pubkey a successful AUTH recorded, or ""
// while unauthenticated.
func (c *Connection) AuthenticatedPubkey() string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.authPubkey
}

func (c *Connection) setAuthenticated(pubkey string) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.authenticated = true
	c.authPubkey = pubkey
}

// setSubscription registers filters under an id, replacing any previous
// subscription with the same id.
func (c *Connection) setSubscription(id string, fs []nostr.Filter) {
	c.subscriptions.Store(id, fs)
}

// removeSubscription is idempotent: removing an unknown id is a no-op.
func (c *Connection) removeSubscription(id string) {
	c.subscriptions.Delete(id)
}

func (c *Connection) subscriptionCount() int {
	return c.subscriptions.Size()
}

func (c *Connection) markAlive() {
	c.alive.Store(true)
}

// send writes one protocol frame, serialized against concurrent writers.
func (c *Connection) send(msg interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(msg)
}

func (c *Connection) sendAuthChallenge() error {
	challenge := c.challenge
	return c.send(nostr.AuthEnvelope{Challenge: &challenge})
}

func (c *Connection) sendNotice(message string) {
	if err := c.send(nostr.NoticeEnvelope(message)); err != nil && !isConnectionClosedError(err) {
		logging.Infof("Error sending NOTICE to %s: %v", c.clientID, err)
	}
}

func (c *Connection) sendOK(eventID string, ok bool, reason string) {
	envelope := nostr.OKEnvelope{EventID: eventID, OK: ok, Reason: reason}
	if err := c.send(envelope); err != nil && !isConnectionClosedError(err) {
		logging.Infof("Error sending OK to %s: %v", c.clientID, err)
	}
}

func (c *Connection) sendClosed(subscriptionID, reason string) {
	envelope := nostr.ClosedEnvelope{SubscriptionID: subscriptionID, Reason: reason}
	if err := c.send(envelope); err != nil && !isConnectionClosedError(err) {
		logging.Infof("Error sending CLOSED to %s: %v", c.clientID, err)
	}
}

func (c *Connection) sendEOSE(subscriptionID string) {
	if err := c.send(nostr.EOSEEnvelope(subscriptionID)); err != nil && !isConnectionClosedError(err) {
		logging.Infof("Error sending EOSE to %s: %v", c.clientID, err)
	}
}

func (c *Connection) sendEvent(subscriptionID string, event nostr.Event) error {
	return c.send(nostr.EventEnvelope{SubscriptionID: &subscriptionID, Event: event})
}

// deliver tests a broadcast event against this connection's subscriptions
// and writes it out once per matching subscription.
func (c *Connection) deliver(event *nostr.Event) {
	c.subscriptions.Range(func(id string, fs []nostr.Filter) bool {
		if !filters.MatchAny(fs, event) {
			return true
		}
		if err := c.sendEvent(id, *event); err != nil && !isConnectionClosedError(err) {
			logging.Infof("Error delivering event to %s: %v", c.clientID, err)
		}
		return true
	})
}

func (c *Connection) ping(deadline time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, deadline)
}

func (c *Connection) pong(data string, deadline time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PongMessage, []byte(data), deadline)
}

func (c *Connection) close() {
	if err := c.ws.Close(); err != nil && !isConnectionClosedError(err) {
		logging.Debugf("Error closing connection %s: %v", c.clientID, err)
	}
}

func isConnectionClosedError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "close sent") ||
		strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}
