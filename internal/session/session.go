package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"strangercall/native/internal/api"
	"strangercall/native/internal/domain"
	"strangercall/native/internal/media"
	"strangercall/native/internal/webrtc"

	"github.com/rs/zerolog/log"
)

const (
	defaultNegotiationTimeout = 30 * time.Second
	defaultRetryBackoff       = 500 * time.Millisecond
	deleteRoomTimeout         = 5 * time.Second
)

// Peer is the part of *webrtc.Peer the session drives.
type Peer interface {
	AttachLocalMedia(h *media.Handle) (bool, error)
	CreateOffer() (domain.SDPPayload, error)
	ReceiveOffer(desc domain.SDPPayload) (domain.SDPPayload, error)
	ReceiveAnswer(desc domain.SDPPayload) error
	AddRemoteICECandidate(c domain.ICECandidatePayload) error
	HasLocalOffer() bool
	SendChat(text string) (webrtc.ChatMessage, error)
	Close() error
}

// PeerFactory creates one peer connection wired to h.
type PeerFactory func(h webrtc.Handlers) (Peer, error)

// EnginePeers adapts e to a PeerFactory.
func EnginePeers(e *webrtc.Engine) PeerFactory {
	return func(h webrtc.Handlers) (Peer, error) {
		p, err := e.NewPeer(h)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// MediaSource acquires local media. *media.Acquirer implements it.
type MediaSource interface {
	Acquire(ctx context.Context, c media.Constraints) (*media.Handle, error)
}

// Deps are the collaborators of a Session.
type Deps struct {
	Rooms domain.RoomAllocator
	// Signaling returns a fresh, unconnected signaler per attempt.
	Signaling func() domain.Signaler
	Peers     PeerFactory
	Media     MediaSource
}

// Options tune a Session.
type Options struct {
	ParticipantID      string
	NegotiationTimeout time.Duration
	SignalingRetries   int
	RetryBackoff       time.Duration
	AllowLocalRooms    bool
	Constraints        media.Constraints
	// VideoSink, when set, receives each remote peer's H264 video as an
	// Annex-B stream.
	VideoSink io.Writer
}

// Snapshot is a point-in-time view of a Session.
type Snapshot struct {
	State      domain.State
	RoomID     string
	LocalRoom  bool
	RemotePeer string
	Local      *media.Handle
	Remote     *webrtc.RemoteMedia
	Chat       []webrtc.ChatMessage
}

// Session owns one call at a time: its room, signaling subscription,
// peer connection and local media.
type Session struct {
	deps   Deps
	opts   Options
	events *eventQueue

	// opMu serializes Start, SwitchToNext, RetryMedia and the tail of Stop.
	opMu sync.Mutex
	// negMu serializes signaling message handling and renegotiation.
	negMu sync.Mutex

	mu         sync.Mutex
	state      domain.State
	gen        uint64
	peerEpoch  uint64
	cancel     context.CancelFunc
	room       *domain.Room
	lastRoom   string
	signaler   domain.Signaler
	peer       Peer
	local      *media.Handle
	remote     *webrtc.RemoteMedia
	remotePeer string
	timer      *time.Timer
	chat       []webrtc.ChatMessage
	closing    bool
}

// New creates an idle Session.
func New(deps Deps, opts Options) *Session {
	if opts.NegotiationTimeout <= 0 {
		opts.NegotiationTimeout = defaultNegotiationTimeout
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	if opts.SignalingRetries < 0 {
		opts.SignalingRetries = 0
	}
	if opts.Constraints == (media.Constraints{}) {
		opts.Constraints = media.PreferredConstraints()
	}
	return &Session{
		deps:   deps,
		opts:   opts,
		events: newEventQueue(),
		state:  domain.StateIdle,
	}
}

// Events returns the single ordered event stream of the session.
func (s *Session) Events() <-chan Event { return s.events.out }

// ParticipantID is the id this session joins rooms with.
func (s *Session) ParticipantID() string { return s.opts.ParticipantID }

// State returns the current lifecycle state.
func (s *Session) State() domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the current state, room and media handles.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:      s.state,
		RoomID:     s.lastRoom,
		RemotePeer: s.remotePeer,
		Local:      s.local,
		Remote:     s.remote,
		Chat:       append([]webrtc.ChatMessage(nil), s.chat...),
	}
	if s.room != nil {
		snap.RoomID = s.room.ID
		snap.LocalRoom = s.room.Local
	}
	return snap
}

// Start allocates a room, acquires local media if none is held, joins
// signaling and waits for a peer. Valid from idle, closed and failed.
func (s *Session) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.start(ctx, "")
}

// SwitchToNext tears the current call down completely, then starts a new
// one in a different room. Valid from active and negotiating.
func (s *Session) SwitchToNext(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state != domain.StateActive && s.state != domain.StateNegotiating {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("switch to next from %s: %w", state, domain.ErrInvalidState)
	}
	previous := s.room.ID
	gen := s.invalidateLocked()
	res := s.detachLocked()
	s.setStateLocked(domain.StateEnding)
	s.mu.Unlock()

	log.Info().Str("module", "session").Str("room", previous).Msg("switching to next")
	s.teardown(res)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return context.Canceled
	}
	s.setStateLocked(domain.StateClosed)
	s.mu.Unlock()

	return s.start(ctx, previous)
}

// Stop ends the session from any state: it leaves signaling, closes the
// peer, deletes the room and releases local media. Calling it again
// has no effect.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state == domain.StateClosed && s.local == nil {
		s.mu.Unlock()
		return nil
	}
	s.invalidateLocked()
	res := s.detachLocked()
	local := s.local
	s.local = nil
	s.setStateLocked(domain.StateEnding)
	s.mu.Unlock()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.teardown(res)
	if local != nil {
		local.Release()
	}

	s.mu.Lock()
	s.setStateLocked(domain.StateClosed)
	s.mu.Unlock()
	return nil
}

// Close stops the session and ends its event stream. The session cannot
// be started again.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	err := s.Stop()
	s.events.close()
	return err
}

// ToggleTrack enables or disables the local track of kind. It never
// blocks on negotiation.
func (s *Session) ToggleTrack(kind domain.TrackKind, enabled bool) {
	s.mu.Lock()
	h := s.local
	s.mu.Unlock()

	if h == nil {
		log.Debug().Str("module", "session").Str("kind", string(kind)).Msg("toggle without local media")
		return
	}
	h.SetTrackEnabled(kind, enabled)
}

// SendChat sends text to the remote participant and records it in the
// chat history.
func (s *Session) SendChat(text string) error {
	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()

	if peer == nil {
		return webrtc.ErrChatUnavailable
	}
	msg, err := peer.SendChat(text)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.chat = append(s.chat, msg)
	s.mu.Unlock()
	s.events.push(Event{Kind: EventChat, Chat: msg})
	return nil
}

// RetryMedia reacquires local media, for instance after the user granted
// camera access, and attaches it to the current call. The previous handle
// is released once replaced.
func (s *Session) RetryMedia(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	gen := s.gen
	old := s.local
	s.mu.Unlock()

	h, err := s.deps.Media.Acquire(ctx, s.opts.Constraints)
	if err != nil {
		s.events.push(Event{Kind: EventError, Err: err})
	}
	if h == nil || (err != nil && old != nil) {
		if h != nil {
			h.Release()
		}
		return err
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		h.Release()
		return context.Canceled
	}
	s.local = h
	peer := s.peer
	s.mu.Unlock()

	s.events.push(Event{Kind: EventLocalMedia, Local: h})
	if peer != nil {
		s.negMu.Lock()
		s.attach(gen, peer, h)
		s.negMu.Unlock()
	}
	if old != nil {
		old.Release()
	}
	return err
}

func (s *Session) start(ctx context.Context, previous string) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return domain.ErrClosed
	}
	if !s.state.Terminal() && s.state != domain.StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("start from %s: %w", state, domain.ErrInvalidState)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	gen := s.invalidateLocked()
	s.cancel = cancel
	s.setStateLocked(domain.StateCreatingRoom)
	s.mu.Unlock()

	room, err := s.allocateRoom(ctx, previous)
	if err != nil {
		return s.abort(gen, err)
	}
	if !s.commit(gen, func() { s.room = room; s.lastRoom = room.ID }) {
		s.teardown(callResources{room: room})
		return context.Canceled
	}
	log.Info().Str("module", "session").Str("room", room.ID).Bool("local", room.Local).Msg("room allocated")

	if err := s.ensureMedia(ctx, gen); err != nil {
		return s.abort(gen, err)
	}

	sig, err := s.connect(ctx, gen)
	if err != nil {
		return s.abort(gen, err)
	}
	if !s.commit(gen, func() { s.signaler = sig }) {
		sig.LeaveRoom()
		return context.Canceled
	}

	if err := s.replacePeer(gen); err != nil {
		return s.abort(gen, err)
	}

	if !s.commit(gen, func() { s.setStateLocked(domain.StateAwaitingPeer) }) {
		return context.Canceled
	}
	if err := sig.JoinRoom(room.ID, s.opts.ParticipantID); err != nil {
		return s.abort(gen, domain.NewError(domain.KindSignalingUnreachable, "join room", err))
	}
	return nil
}

// allocateRoom never returns previous. When the service is unavailable a
// local room is synthesized if allowed.
func (s *Session) allocateRoom(ctx context.Context, previous string) (*domain.Room, error) {
	if s.deps.Rooms != nil {
		for attempt := 0; attempt < 2; attempt++ {
			room, err := s.deps.Rooms.CreateRoom(ctx, previous)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				if domain.KindOf(err) == domain.KindUnknown {
					err = domain.NewError(domain.KindRoomAllocationFailed, "create room", err)
				}
				if !s.opts.AllowLocalRooms {
					return nil, err
				}
				log.Warn().Str("module", "session").Err(err).Msg("room service unavailable, using a local room")
				s.events.push(Event{Kind: EventError, Err: err})
				break
			}
			if room.ID != previous {
				return room, nil
			}
			log.Warn().Str("module", "session").Str("room", room.ID).Msg("room service returned the previous room")
		}
	}

	if !s.opts.AllowLocalRooms {
		return nil, domain.NewError(domain.KindRoomAllocationFailed, "create room", errors.New("no fresh room available"))
	}
	room := api.LocalRoom()
	for room.ID == previous {
		room = api.LocalRoom()
	}
	return room, nil
}

// ensureMedia acquires local media unless a handle is already held.
// Acquisition failures are surfaced as events and never abort the call.
func (s *Session) ensureMedia(ctx context.Context, gen uint64) error {
	s.mu.Lock()
	held := s.local != nil
	s.mu.Unlock()
	if held {
		return nil
	}

	h, err := s.deps.Media.Acquire(ctx, s.opts.Constraints)
	if ctx.Err() != nil {
		if h != nil {
			h.Release()
		}
		return ctx.Err()
	}
	if err != nil {
		log.Warn().Str("module", "session").Str("kind", string(domain.KindOf(err))).Err(err).Msg("continuing without camera")
		s.events.push(Event{Kind: EventError, Err: err})
	}
	if h == nil {
		return nil
	}
	if !s.commit(gen, func() { s.local = h }) {
		h.Release()
		return context.Canceled
	}
	s.events.push(Event{Kind: EventLocalMedia, Local: h})
	return nil
}

// connect dials signaling, retrying SignalingRetries times.
func (s *Session) connect(ctx context.Context, gen uint64) (domain.Signaler, error) {
	var lastErr error
	for attempt := 0; attempt <= s.opts.SignalingRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.opts.RetryBackoff * time.Duration(attempt)):
			}
		}

		sig := s.deps.Signaling()
		sig.OnMessage(func(msg domain.SignalingMessage) { s.handleMessage(gen, msg) })
		sig.OnDisconnect(func(err error) { s.fail(gen, err) })

		err := sig.Connect(ctx)
		if err == nil {
			return sig, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		log.Warn().Str("module", "session").Int("attempt", attempt+1).Err(err).Msg("signaling connect failed")
	}

	if domain.KindOf(lastErr) == domain.KindUnknown {
		lastErr = domain.NewError(domain.KindSignalingUnreachable, "connect", lastErr)
	}
	return nil, lastErr
}

// abort ends a failed Start. Stale attempts only report their error.
func (s *Session) abort(gen uint64, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.mu.Lock()
		current := s.gen == gen
		s.mu.Unlock()
		if !current {
			return err
		}
	}
	s.failSync(gen, err)
	return err
}

// commit applies fn under the lock when gen is still current.
func (s *Session) commit(gen uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	fn()
	return true
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

// invalidateLocked makes every in-flight result stale.
func (s *Session) invalidateLocked() uint64 {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return s.gen
}

func (s *Session) setStateLocked(state domain.State) {
	if s.state == state {
		return
	}
	log.Info().Str("module", "session").Str("from", string(s.state)).Str("to", string(state)).Msg("state")
	s.state = state
	roomID := s.lastRoom
	s.events.push(Event{Kind: EventStateChanged, State: state, RoomID: roomID})
}

// fail moves the session to failed and tears the call down in the
// background.
func (s *Session) fail(gen uint64, err error) {
	if res, ok := s.failLocked(gen, err); ok {
		go s.teardown(res)
	}
}

func (s *Session) failSync(gen uint64, err error) {
	if res, ok := s.failLocked(gen, err); ok {
		s.teardown(res)
	}
}

func (s *Session) failLocked(gen uint64, err error) (callResources, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.state.Terminal() {
		return callResources{}, false
	}

	log.Error().Str("module", "session").Str("kind", string(domain.KindOf(err))).Err(err).Msg("session failed")
	s.invalidateLocked()
	res := s.detachLocked()
	s.events.push(Event{Kind: EventError, Err: err})
	s.setStateLocked(domain.StateFailed)
	return res, true
}
