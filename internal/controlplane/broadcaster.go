package controlplane

import (
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/scopecast/service/internal/logging"
	"github.com/scopecast/service/internal/protocol"
)

var broadcastLog = logging.L("broadcaster")

// subscriber is a weak reference: the broadcaster holds only an identity
// and a writer handle, never the connection itself, so dropping a
// subscriber here never races with the owning connection handler closing
// the socket.
type subscriber struct {
	id     string
	connID string
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *subscriber) drop() {
	s.once.Do(func() { close(s.done) })
}

// Broadcaster fans events out to every subscribed connection. Delivery is
// best-effort: a subscriber whose send buffer is full is dropped without
// affecting anyone else. The subscriber list is guarded by a short-held
// lock; publishing copies out the list, releases the lock, then writes.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[string]*subscriber
}

func newBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[string]*subscriber)}
}

// subscriberSendBuffer bounds how many unconsumed events a slow subscriber
// may queue before it is dropped. A small bounded channel with a
// non-blocking send is the simplest policy that never blocks other
// subscribers on one stalled writer.
const subscriberSendBuffer = 32

// FrameWriter is the minimal surface the broadcaster needs from a
// subscribed sink: write one already-encoded event payload as a frame.
// Control connections supply the real net.Conn wrapped with
// framing.WriteFrame; the development preview bridge supplies a WebSocket
// writer.
type FrameWriter interface {
	WriteFrame(payload []byte) error
}

// Register adds a write-only event sink to the broadcast set and starts a
// goroutine that serializes frame writes to it. Returns a handle the owner
// uses to unregister itself on disconnect.
func (b *Broadcaster) Register(connID string, writer FrameWriter) *subscriber {
	sub := &subscriber{
		id:     uuid.NewString(),
		connID: connID,
		send:   make(chan []byte, subscriberSendBuffer),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	go sub.pump(writer, b)
	return sub
}

// Unregister removes a subscriber without closing its connection; the
// connection handler owns the socket lifecycle.
func (b *Broadcaster) Unregister(sub *subscriber) {
	b.mu.Lock()
	delete(b.subscribers, sub.id)
	b.mu.Unlock()
	sub.drop()
}

// Publish encodes event once and offers it to every current subscriber.
// Subscribers whose queue is full are dropped; this never blocks on a slow
// writer.
func (b *Broadcaster) Publish(event protocol.Event) {
	data, err := protocol.MarshalEventResponse(event)
	if err != nil {
		broadcastLog.Error("encode event", "error", err)
		return
	}

	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.send <- data:
		default:
			broadcastLog.Warn("dropping slow subscriber", "connId", s.connID)
			b.Unregister(s)
		}
	}
}

// Shutdown publishes the terminal shutdown event, then drops every
// subscriber once it has had a chance to be written: the shutdown event is
// the last frame a subscriber ever receives.
func (b *Broadcaster) Shutdown() {
	b.Publish(protocol.ShutdownEvent{})

	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.subscribers = make(map[string]*subscriber)
	b.mu.Unlock()

	for _, s := range subs {
		close(s.send)
	}
}

func (s *subscriber) pump(w FrameWriter, b *Broadcaster) {
	// Closing the sink when the pump exits is what turns "dropped" and
	// "service shut down" into end-of-stream on the subscriber's side; a
	// write-only connection has no other way to learn it is done.
	defer func() {
		if c, ok := w.(io.Closer); ok {
			c.Close()
		}
	}()

	for {
		select {
		case data, ok := <-s.send:
			if !ok {
				return
			}
			if err := w.WriteFrame(data); err != nil {
				broadcastLog.Warn("subscriber write failed, dropping", "connId", s.connID, "error", err)
				b.Unregister(s)
				return
			}
		case <-s.done:
			return
		}
	}
}
