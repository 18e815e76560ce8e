package relay

import (
	"context"
	"time"

	"strangercall/native/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	defaultMaxParticipants = 2
	defaultRoomTimeout     = 30 * time.Minute
	sweepInterval          = time.Minute
)

type room struct {
	id              string
	maxParticipants int
	allocations     int
	timeout         time.Duration
	expires         time.Time
	members         map[*Client]struct{}
}

func (r *room) full() bool { return len(r.members) >= r.maxParticipants }

type inbound struct {
	client *Client
	msg    domain.SignalingMessage
}

// Hub pairs callers into rooms and relays room-scoped signaling. A single
// goroutine running Run owns every room and client.
type Hub struct {
	rooms map[string]*room
	// waiting lists allocated rooms with one caller in them, oldest first.
	waiting []string

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	requests   chan func()
	done       chan struct{}
}

// NewHub creates a Hub. Call Run before serving connections.
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]*room),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound),
		requests:   make(chan func()),
		done:       make(chan struct{}),
	}
}

// Run processes hub events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			log.Debug().Str("module", "relay").Str("remote", c.conn.RemoteAddr().String()).Msg("client connected")
		case c := <-h.unregister:
			h.leave(c)
			close(c.send)
		case in := <-h.inbound:
			h.handle(in.client, in.msg)
		case fn := <-h.requests:
			fn()
		case now := <-sweep.C:
			h.sweep(now)
		}
	}
}

// do runs fn on the hub goroutine.
func (h *Hub) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case h.requests <- func() { fn(); close(finished) }:
	case <-h.done:
		return domain.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// AllocateRoom hands out the oldest room waiting for a second caller, or a
// new room that joins the queue. exclude is never handed out.
func (h *Hub) AllocateRoom(ctx context.Context, maxParticipants int, timeout time.Duration, exclude string) (domain.Room, error) {
	if maxParticipants < 2 {
		maxParticipants = defaultMaxParticipants
	}
	if timeout <= 0 {
		timeout = defaultRoomTimeout
	}

	var out domain.Room
	err := h.do(ctx, func() {
		now := time.Now()
		if r := h.nextWaiting(now, exclude); r != nil {
			r.allocations++
			out = domain.Room{ID: r.id}
			log.Info().Str("module", "relay").Str("room", r.id).Msg("paired caller into waiting room")
			return
		}

		r := &room{
			id:              uuid.NewString(),
			maxParticipants: maxParticipants,
			allocations:     1,
			timeout:         timeout,
			expires:         now.Add(timeout),
			members:         make(map[*Client]struct{}),
		}
		h.rooms[r.id] = r
		h.enqueue(r.id)
		out = domain.Room{ID: r.id}
		log.Info().Str("module", "relay").Str("room", r.id).Msg("room allocated")
	})
	return out, err
}

// nextWaiting pops the oldest room that can still take a caller, skipping
// exclude. Stale entries are dropped; exclude keeps its place.
func (h *Hub) nextWaiting(now time.Time, exclude string) *room {
	kept := h.waiting[:0]
	var found *room
	for _, id := range h.waiting {
		r, ok := h.rooms[id]
		if !ok || r.allocations != 1 || r.full() || !now.Before(r.expires) {
			continue
		}
		if found != nil || id == exclude {
			kept = append(kept, id)
			continue
		}
		found = r
	}
	h.waiting = kept
	return found
}

func (h *Hub) enqueue(roomID string) {
	for _, id := range h.waiting {
		if id == roomID {
			return
		}
	}
	h.waiting = append(h.waiting, roomID)
}

func (h *Hub) dequeue(roomID string) {
	for i, id := range h.waiting {
		if id == roomID {
			h.waiting = append(h.waiting[:i], h.waiting[i+1:]...)
			return
		}
	}
}

// reopen offers an allocated room with a single occupant to the next caller.
func (h *Hub) reopen(r *room) {
	if r.allocations < 1 || len(r.members) != 1 {
		return
	}
	r.allocations = 1
	r.expires = time.Now().Add(r.timeout)
	h.enqueue(r.id)
	log.Debug().Str("module", "relay").Str("room", r.id).Msg("room reopened for pairing")
}

// DeleteRoom releases the caller's hold on roomID. An empty room is
// forgotten; one that still has an occupant stays open for pairing. It
// reports whether the room existed.
func (h *Hub) DeleteRoom(ctx context.Context, roomID string) (bool, error) {
	var found bool
	err := h.do(ctx, func() {
		r, ok := h.rooms[roomID]
		if !ok {
			return
		}
		found = true
		if len(r.members) == 0 {
			delete(h.rooms, roomID)
			h.dequeue(roomID)
			log.Info().Str("module", "relay").Str("room", roomID).Msg("room deleted")
			return
		}
		h.reopen(r)
		log.Info().Str("module", "relay").Str("room", roomID).Int("members", len(r.members)).Msg("room released")
	})
	return found, err
}

func (h *Hub) handle(c *Client, msg domain.SignalingMessage) {
	switch msg.Type {
	case domain.MessageJoinRoom:
		h.join(c, msg.RoomID, msg.UserID)
	case domain.MessageLeaveRoom:
		h.leave(c)
	case domain.MessageOffer, domain.MessageAnswer, domain.MessageICECandidate:
		if c.roomID == "" {
			log.Debug().Str("module", "relay").Str("type", string(msg.Type)).Msg("dropping message outside a room")
			return
		}
		msg.RoomID, msg.UserID = c.roomID, c.participantID
		h.broadcast(c, msg)
	default:
		log.Debug().Str("module", "relay").Str("type", string(msg.Type)).Msg("ignoring message")
	}
}

// join admits c into roomID. Unknown ids are created on the fly so
// locally synthesized rooms still pair.
func (h *Hub) join(c *Client, roomID, participantID string) {
	if roomID == "" || participantID == "" {
		log.Warn().Str("module", "relay").Msg("join without room or participant")
		return
	}
	if c.roomID != "" {
		h.leave(c)
	}

	r, ok := h.rooms[roomID]
	if !ok {
		r = &room{
			id:              roomID,
			maxParticipants: defaultMaxParticipants,
			timeout:         defaultRoomTimeout,
			expires:         time.Now().Add(defaultRoomTimeout),
			members:         make(map[*Client]struct{}),
		}
		h.rooms[roomID] = r
	}
	if r.full() {
		log.Warn().Str("module", "relay").Str("room", roomID).Str("participant", participantID).Msg("room full")
		return
	}

	c.roomID, c.participantID = roomID, participantID
	r.members[c] = struct{}{}
	log.Info().Str("module", "relay").Str("room", roomID).Str("participant", participantID).Int("members", len(r.members)).Msg("joined")

	joined, _ := domain.NewMessage(domain.MessageUserJoined, roomID, participantID, nil)
	h.broadcast(c, joined)
}

func (h *Hub) leave(c *Client) {
	if c.roomID == "" {
		return
	}
	roomID, participantID := c.roomID, c.participantID
	c.roomID, c.participantID = "", ""

	r, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(r.members, c)
	log.Info().Str("module", "relay").Str("room", roomID).Str("participant", participantID).Msg("left")

	left, _ := domain.NewMessage(domain.MessageUserLeft, roomID, participantID, nil)
	for other := range r.members {
		h.deliver(other, left)
	}

	switch len(r.members) {
	case 0:
		delete(h.rooms, roomID)
		h.dequeue(roomID)
	case 1:
		h.reopen(r)
	}
}

// broadcast sends msg to every occupant of the sender's room except it.
func (h *Hub) broadcast(from *Client, msg domain.SignalingMessage) {
	r, ok := h.rooms[from.roomID]
	if !ok {
		return
	}
	for c := range r.members {
		if c != from {
			h.deliver(c, msg)
		}
	}
}

func (h *Hub) deliver(c *Client, msg domain.SignalingMessage) {
	select {
	case c.send <- msg:
	default:
		log.Warn().Str("module", "relay").Str("participant", c.participantID).Msg("send buffer full, dropping client")
		c.conn.Close()
	}
}

func (h *Hub) sweep(now time.Time) {
	for id, r := range h.rooms {
		if len(r.members) == 0 && now.After(r.expires) {
			delete(h.rooms, id)
			h.dequeue(id)
			log.Debug().Str("module", "relay").Str("room", id).Msg("expired room removed")
		}
	}
}
