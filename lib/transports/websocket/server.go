package websocket

import (
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/spf13/viper"

	"github.com/nostrmail/relay/lib/access"
	"github.com/nostrmail/relay/lib/bridge"
	"github.com/nostrmail/relay/lib/logging"
	"github.com/nostrmail/relay/lib/stores"
)

// broadcastBuffer sizes the queue between publish handlers and the fan-out
// goroutine. Broadcasts beyond it are dropped rather than blocking a
// handler.
const broadcastBuffer = 1000

// Stats is a snapshot of the connection registry for operational reporting.
type Stats struct {
	Connections   int `json:"connections"`
	Authenticated int `json:"authenticated"`
}

// Server accepts websocket connections, owns the connection registry and
// fans broadcast events out to every connection with a matching
// subscription. All collaborators are injected at construction; there is
// one Server per process but nothing enforces it globally.
type Server struct {
	store  stores.Store
	policy *access.Policy
	bridge *bridge.Dispatcher

	relayURL  string
	heartbeat time.Duration

	conns      *xsync.MapOf[*Connection, struct{}]
	broadcasts chan nostr.Event
	shutdown   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewServer(store stores.Store, policy *access.Policy, dispatcher *bridge.Dispatcher) *Server {
	heartbeat := time.Duration(viper.GetInt("relay.heartbeat_interval")) * time.Second
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}

	return &Server{
		store:      store,
		policy:     policy,
		bridge:     dispatcher,
		relayURL:   viper.GetString("relay.url"),
		heartbeat:  heartbeat,
		conns:      xsync.NewMapOf[*Connection, struct{}](),
		broadcasts: make(chan nostr.Event, broadcastBuffer),
		shutdown:   make(chan struct{}),
	}
}

// BuildApp wires the websocket upgrade route. The upgrade middleware stashes
// the client id header before fiber hands the socket over.
func (s *Server) BuildApp() *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Use("/", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("clientId", c.Get("Sec-WebSocket-Key"))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/", websocket.New(s.handleSocket))

	return app
}

// Start launches the broadcaster and heartbeat goroutines and the bridge
// dispatcher. Safe to call more than once.
func (s *Server) Start() {
	s.startOnce.Do(func() {
		if s.bridge != nil {
			s.bridge.Start()
		}
		go s.runBroadcaster()
		go s.runHeartbeat()
		logging.Info("Relay server started")
	})
}

// Stop shuts down the background goroutines and the bridge dispatcher.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.shutdown)
		if s.bridge != nil {
			s.bridge.Stop()
		}
	})
}

// Listen blocks serving the relay on the configured address.
func (s *Server) Listen(app *fiber.App) error {
	addr := fmt.Sprintf("%s:%d", viper.GetString("relay.host"), viper.GetInt("relay.port"))
	logging.Infof("Relay listening on %s", addr)
	return app.Listen(addr)
}

// Broadcast queues an event for fan-out to every matching subscription.
// Exported so host application components that mint events out-of-band can
// reach subscribers through the same path as published events.
func (s *Server) Broadcast(event nostr.Event) {
	select {
	case s.broadcasts <- event:
	default:
		logging.Warnf("Broadcast queue full, dropping event %s", event.ID)
	}
}

// Stats counts live and authenticated connections.
func (s *Server) Stats() Stats {
	stats := Stats{}
	s.conns.Range(func(conn *Connection, _ struct{}) bool {
		stats.Connections++
		if conn.IsAuthenticated() {
			stats.Authenticated++
		}
		return true
	})
	return stats
}

func (s *Server) register(conn *Connection) {
	s.conns.Store(conn, struct{}{})
}

func (s *Server) unregister(conn *Connection) {
	s.conns.Delete(conn)
}

// handleSocket runs one connection's read loop: issue the challenge, then
// process client frames in arrival order until the transport closes.
func (s *Server) handleSocket(ws *websocket.Conn) {
	challenge, err := newChallenge()
	if err != nil {
		logging.Errorf("Refusing connection: %v", err)
		return
	}

	clientID, _ := ws.Locals("clientId").(string)
	conn := newConnection(ws, clientID, challenge)

	s.register(conn)
	defer s.unregister(conn)

	ws.SetPongHandler(func(string) error {
		conn.markAlive()
		return nil
	})
	ws.SetPingHandler(func(data string) error {
		return s.handlePing(conn, data)
	})

	if err := conn.sendAuthChallenge(); err != nil {
		logging.Infof("Failed to send challenge to %s: %v", clientID, err)
		return
	}

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if !isConnectionClosedError(err) {
				logging.Debugf("Read error on %s: %v", clientID, err)
			}
			return
		}
		conn.markAlive()
		s.dispatch(conn, message)
	}
}

// dispatch routes one client frame by its envelope type. Anything
// unparseable gets a NOTICE and no other effect.
func (s *Server) dispatch(conn *Connection, message []byte) {
	switch env := nostr.ParseMessage(message).(type) {
	case *nostr.EventEnvelope:
		s.handleEventMessage(conn, env)
	case *nostr.ReqEnvelope:
		s.handleReqMessage(conn, env)
	case *nostr.CloseEnvelope:
		s.handleCloseMessage(conn, env)
	case *nostr.AuthEnvelope:
		s.handleAuthMessage(conn, env)
	default:
		conn.sendNotice("could not parse message")
	}
}

// runBroadcaster fans queued events out to the registry. Fan-out never runs
// on a handler goroutine, so a slow subscriber cannot hold up publishes.
func (s *Server) runBroadcaster() {
	for {
		select {
		case event := <-s.broadcasts:
			s.fanOut(&event)
		case <-s.shutdown:
			for {
				select {
				case event := <-s.broadcasts:
					s.fanOut(&event)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) fanOut(event *nostr.Event) {
	s.conns.Range(func(conn *Connection, _ struct{}) bool {
		conn.deliver(event)
		return true
	})
}

// handlePing answers a client-initiated ping. It counts as liveness the
// same way an answered pong does.
func (s *Server) handlePing(conn *Connection, data string) error {
	conn.markAlive()
	if err := conn.pong(data, time.Now().Add(10*time.Second)); err != nil && !isConnectionClosedError(err) {
		return err
	}
	return nil
}

// runHeartbeat pings every connection on a fixed interval and reaps the
// ones that did not answer (or send anything else) within the previous
// interval.
func (s *Server) runHeartbeat() {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.conns.Range(func(conn *Connection, _ struct{}) bool {
				if !conn.alive.Swap(false) {
					logging.Infof("Reaping unresponsive connection %s", conn.ClientID())
					conn.close()
					s.unregister(conn)
					return true
				}
				if err := conn.ping(time.Now().Add(10 * time.Second)); err != nil && !isConnectionClosedError(err) {
					logging.Debugf("Ping failed for %s: %v", conn.ClientID(), err)
				}
				return true
			})
		case <-s.shutdown:
			return
		}
	}
}
