package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDeliverer struct {
	mu         sync.Mutex
	deliveries []Delivery
	err        error
}

func (r *recordingDeliverer) DeliverDirectMessage(_ context.Context, delivery Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, delivery)
	return r.err
}

func (r *recordingDeliverer) recorded() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.deliveries...)
}

func TestDispatcherDelivers(t *testing.T) {
	deliverer := &recordingDeliverer{}
	dispatcher := NewDispatcher(deliverer)
	dispatcher.Start()

	dispatcher.Enqueue(Delivery{
		Recipient: "mirror-bot",
		Event:     nostr.Event{ID: "dm1", Kind: 4},
	})
	dispatcher.Stop()

	deliveries := deliverer.recorded()
	require.Len(t, deliveries, 1)
	assert.Equal(t, "mirror-bot", deliveries[0].Recipient)
	assert.Equal(t, "dm1", deliveries[0].Event.ID)
}

func TestDispatcherStopDrainsQueue(t *testing.T) {
	deliverer := &recordingDeliverer{}
	dispatcher := NewDispatcher(deliverer)

	for i := 0; i < 10; i++ {
		dispatcher.Enqueue(Delivery{Event: nostr.Event{ID: "dm", Kind: 4}})
	}
	dispatcher.Start()
	dispatcher.Stop()

	assert.Len(t, deliverer.recorded(), 10)
}

func TestDispatcherSurvivesDeliveryErrors(t *testing.T) {
	deliverer := &recordingDeliverer{err: errors.New("smtp is down")}
	dispatcher := NewDispatcher(deliverer)
	dispatcher.Start()

	dispatcher.Enqueue(Delivery{Event: nostr.Event{ID: "dm1", Kind: 4}})
	dispatcher.Enqueue(Delivery{Event: nostr.Event{ID: "dm2", Kind: 4}})
	dispatcher.Stop()

	// Both attempted despite the first failing
	assert.Len(t, deliverer.recorded(), 2)
}

func TestEnqueueNeverBlocks(t *testing.T) {
	// No consumer running and a full queue: Enqueue must still return
	dispatcher := NewDispatcher(&recordingDeliverer{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < DefaultQueueSize+10; i++ {
			dispatcher.Enqueue(Delivery{Event: nostr.Event{ID: "dm", Kind: 4}})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}

	dispatcher.Stop()
}

func TestStopWithoutStart(t *testing.T) {
	dispatcher := NewDispatcher(nil)
	dispatcher.Stop() // must not hang
}
