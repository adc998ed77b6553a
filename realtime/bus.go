package realtime

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrSlowConsumer marks a subscription that was closed because its queue
// overflowed. The owning client must re-fetch the room snapshot and
// subscribe again; dropping individual events would silently break the
// per-room ordering contract.
var ErrSlowConsumer = errors.New("subscription closed: consumer too slow")

// queueSize bounds the per-subscription event backlog.
const queueSize = 64

// Handler consumes events delivered to one subscription. Handlers for a
// given subscription are invoked sequentially in publish order.
type Handler func(Event)

// Subscription is one session's membership in one room's event stream.
type Subscription struct {
	sessionID string
	room      string
	queue     chan Event
	done      chan struct{}
	once      sync.Once
	mu        sync.Mutex
	err       error
}

// Done is closed when the subscription stops delivering events, either
// through Close or because the consumer lagged.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why the subscription ended, nil for a clean Close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Room returns the room this subscription belongs to.
func (s *Subscription) Room() string { return s.room }

func (s *Subscription) close(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

// Bus fans events out to every session subscribed to a room. Events
// published to the same room reach all subscribers in publish order;
// nothing is guaranteed across rooms.
type Bus struct {
	registry *Registry
	log      *zap.SugaredLogger

	mu    sync.RWMutex
	rooms map[string]*busRoom
}

type busRoom struct {
	// pub serializes publishes so every subscriber queue observes the
	// same relative order for this room.
	pub  sync.Mutex
	subs map[string]*Subscription
}

// NewBus creates a bus delivering through the given registry.
func NewBus(registry *Registry, log *zap.SugaredLogger) *Bus {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Bus{
		registry: registry,
		log:      log,
		rooms:    make(map[string]*busRoom),
	}
}

// Subscribe registers the session in the room and starts delivering
// events to handler until the subscription is closed. The handler runs on
// a dedicated goroutine owned by the subscription.
func (b *Bus) Subscribe(sessionID, room string, handler Handler) *Subscription {
	sub := &Subscription{
		sessionID: sessionID,
		room:      room,
		queue:     make(chan Event, queueSize),
		done:      make(chan struct{}),
	}

	b.mu.Lock()
	br, ok := b.rooms[room]
	if !ok {
		br = &busRoom{subs: make(map[string]*Subscription)}
		b.rooms[room] = br
	}
	if prev, ok := br.subs[sessionID]; ok {
		// Re-subscribing replaces the previous stream for this session.
		prev.close(nil)
	}
	br.subs[sessionID] = sub
	b.mu.Unlock()

	b.registry.Subscribe(sessionID, room)

	go func() {
		defer b.remove(sub)
		for {
			select {
			case evt := <-sub.queue:
				handler(evt)
			case <-sub.done:
				return
			}
		}
	}()

	return sub
}

// Unsubscribe cleanly ends the session's subscription to the room.
func (b *Bus) Unsubscribe(sessionID, room string) {
	b.mu.RLock()
	br, ok := b.rooms[room]
	var sub *Subscription
	if ok {
		sub = br.subs[sessionID]
	}
	b.mu.RUnlock()
	if sub != nil {
		sub.close(nil)
	}
}

// Publish delivers the event to every current subscriber of the room.
// Delivery into each subscriber's queue happens under the room's publish
// lock, so all subscribers observe the same order. The call never blocks
// on a slow consumer: an overflowing subscription is closed instead,
// forcing that client through a snapshot resync.
func (b *Bus) Publish(room string, evt Event) {
	b.mu.RLock()
	br, ok := b.rooms[room]
	b.mu.RUnlock()
	if !ok {
		return
	}

	br.pub.Lock()
	defer br.pub.Unlock()
	for _, sub := range br.subs {
		select {
		case <-sub.done:
		case sub.queue <- evt:
		default:
			b.log.Warnw("event queue overflow, closing subscription",
				"room", room, "session_id", sub.sessionID)
			sub.close(ErrSlowConsumer)
		}
	}
}

func (b *Bus) remove(sub *Subscription) {
	removed := false
	b.mu.Lock()
	if br, ok := b.rooms[sub.room]; ok {
		// Only remove if the slot still holds this subscription; a
		// re-subscribe may already have replaced it.
		if br.subs[sub.sessionID] == sub {
			delete(br.subs, sub.sessionID)
			removed = true
			if len(br.subs) == 0 {
				delete(b.rooms, sub.room)
			}
		}
	}
	b.mu.Unlock()
	if removed {
		b.registry.Unsubscribe(sub.sessionID, sub.room)
	}
}
