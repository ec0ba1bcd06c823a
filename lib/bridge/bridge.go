package bridge

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nbd-wtf/go-nostr"

	"github.com/nostrmail/relay/lib/logging"
)

// DefaultQueueSize is the delivery buffer between the relay's publish path
// and the application's mail bridge.
const DefaultQueueSize = 1000

// Delivery is one direct-message event bound for the mail bridge, addressed
// to the bridge bot named in the event's p tag.
type Delivery struct {
	Recipient string
	Event     nostr.Event
}

// Deliverer is implemented by the surrounding application: it takes a
// kind-4 event and turns it into outbound or mirrored email. Errors are the
// bridge's problem; the relay never ties them to an acknowledgment.
type Deliverer interface {
	DeliverDirectMessage(ctx context.Context, delivery Delivery) error
}

// DelivererFunc adapts a function to the Deliverer interface.
type DelivererFunc func(ctx context.Context, delivery Delivery) error

func (f DelivererFunc) DeliverDirectMessage(ctx context.Context, delivery Delivery) error {
	return f(ctx, delivery)
}

// Dispatcher decouples the publish handler from bridge delivery: Enqueue
// never blocks and delivery runs on a dedicated goroutine, so a slow or
// failing bridge cannot delay an OK already written to the client.
type Dispatcher struct {
	deliverer Deliverer
	queue     chan Delivery
	shutdown  chan struct{}
	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

func NewDispatcher(deliverer Deliverer) *Dispatcher {
	return &Dispatcher{
		deliverer: deliverer,
		queue:     make(chan Delivery, DefaultQueueSize),
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the delivery goroutine. Safe to call more than once.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.started.Store(true)
		go d.run()
	})
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case delivery := <-d.queue:
			d.deliver(delivery)
		case <-d.shutdown:
			// Drain whatever is still queued before exiting
			for {
				select {
				case delivery := <-d.queue:
					d.deliver(delivery)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(delivery Delivery) {
	if d.deliverer == nil {
		logging.Debugf("No bridge deliverer configured, dropping direct message %s", delivery.Event.ID)
		return
	}
	if err := d.deliverer.DeliverDirectMessage(context.Background(), delivery); err != nil {
		logging.Errorf("Bridge delivery failed for event %s: %v", delivery.Event.ID, err)
	}
}

// Enqueue hands a direct message to the bridge without waiting on it. When
// the queue is full the delivery is dropped and logged rather than blocking
// the publish path.
func (d *Dispatcher) Enqueue(delivery Delivery) {
	select {
	case d.queue <- delivery:
	default:
		logging.Warnf("Bridge queue full, dropping direct message %s", delivery.Event.ID)
	}
}

// Stop drains the queue and stops the delivery goroutine.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.shutdown)
	})
	if d.started.Load() {
		<-d.done
	}
}
