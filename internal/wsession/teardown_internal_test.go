package wsession

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestEnqueue_AfterTeardown_DoesNotPanic covers the race behind §4.3's
// teardown-safety invariant: a directed chat delivery from another live
// session (handleTextMessage's target.enqueue) can land on this session's
// queue in the same instant its own heartbeat or read loop tears it down.
// enqueue must drop the frame instead of sending on a closed channel.
func TestEnqueue_AfterTeardown_DoesNotPanic(t *testing.T) {
	s := &Session{
		outbound: make(chan []byte, outboundCapacity),
		done:     make(chan struct{}),
	}
	close(s.done)

	assert.NotPanics(t, func() { s.enqueue("payload") })
}

// TestEnqueue_ConcurrentWithTeardown_DoesNotPanic hammers enqueue from many
// goroutines while the done channel closes underneath them, the shape of
// S3 (directed chat) racing S4 (heartbeat timeout) on the receiver's queue.
func TestEnqueue_ConcurrentWithTeardown_DoesNotPanic(t *testing.T) {
	s := &Session{
		outbound: make(chan []byte, outboundCapacity),
		done:     make(chan struct{}),
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for range 20 {
				s.enqueue("payload")
			}
		}()
	}

	close(start)
	close(s.done)
	wg.Wait()
}
