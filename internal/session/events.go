package session

import (
	"sync"

	"strangercall/native/internal/domain"
	"strangercall/native/internal/media"
	"strangercall/native/internal/webrtc"
)

// EventKind tags the variant carried by an Event.
type EventKind string

const (
	EventStateChanged       EventKind = "state-changed"
	EventLocalMedia         EventKind = "local-media"
	EventRemoteMedia        EventKind = "remote-media"
	EventRemoteMediaCleared EventKind = "remote-media-cleared"
	EventUserJoined         EventKind = "user-joined"
	EventUserLeft           EventKind = "user-left"
	EventError              EventKind = "error"
	EventChat               EventKind = "chat"
)

// Event is one entry of the session event stream. Only the fields that
// belong to Kind are set.
type Event struct {
	Kind   EventKind
	State  domain.State
	RoomID string
	Peer   string
	Local  *media.Handle
	Remote *webrtc.RemoteMedia
	Chat   webrtc.ChatMessage
	Err    error
}

// eventQueue delivers events in order without ever blocking the producer.
type eventQueue struct {
	mu   sync.Mutex
	buf  []Event
	wake chan struct{}
	out  chan Event

	done      chan struct{}
	closeOnce sync.Once
}

func newEventQueue() *eventQueue {
	q := &eventQueue{
		wake: make(chan struct{}, 1),
		out:  make(chan Event),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *eventQueue) push(e Event) {
	q.mu.Lock()
	q.buf = append(q.buf, e)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// close stops delivery and closes out. Undelivered events are discarded.
func (q *eventQueue) close() {
	q.closeOnce.Do(func() { close(q.done) })
}

func (q *eventQueue) run() {
	defer close(q.out)
	for {
		q.mu.Lock()
		if len(q.buf) == 0 {
			q.mu.Unlock()
			select {
			case <-q.wake:
				continue
			case <-q.done:
				return
			}
		}
		e := q.buf[0]
		q.buf[0] = Event{}
		q.buf = q.buf[1:]
		q.mu.Unlock()

		select {
		case q.out <- e:
		case <-q.done:
			return
		}
	}
}
