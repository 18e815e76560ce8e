package session

import (
	"context"
	"errors"
	"time"

	"strangercall/native/internal/domain"
	"strangercall/native/internal/media"
	"strangercall/native/internal/webrtc"

	"github.com/rs/zerolog/log"
)

// callResources are the per-room collaborators released on teardown.
type callResources struct {
	room     *domain.Room
	signaler domain.Signaler
	peer     Peer
}

// detachLocked hands the current call's resources to the caller and
// resets all per-call state.
func (s *Session) detachLocked() callResources {
	res := callResources{room: s.room, signaler: s.signaler, peer: s.peer}
	s.room, s.signaler, s.peer = nil, nil, nil
	s.stopTimerLocked()
	if s.remote != nil {
		s.remote = nil
		s.events.push(Event{Kind: EventRemoteMediaCleared})
	}
	s.remotePeer = ""
	s.chat = nil
	return res
}

// teardown leaves signaling and closes the peer even if one of them
// fails, then deletes the room. Errors are logged, never returned to the
// user as a failed stop.
func (s *Session) teardown(res callResources) error {
	var errs []error
	if res.signaler != nil {
		if err := res.signaler.LeaveRoom(); err != nil {
			errs = append(errs, err)
		}
	}
	if res.peer != nil {
		if err := res.peer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if res.room != nil && !res.room.Local && s.deps.Rooms != nil {
		ctx, cancel := context.WithTimeout(context.Background(), deleteRoomTimeout)
		if err := s.deps.Rooms.DeleteRoom(ctx, res.room.ID); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}

	err := errors.Join(errs...)
	ev := log.Info().Str("module", "session")
	if res.room != nil {
		ev = ev.Str("room", res.room.ID)
	}
	if err != nil {
		ev.Err(err).Msg("teardown complete with errors")
	} else {
		ev.Msg("teardown complete")
	}
	return err
}

// replacePeer closes the current peer, if any, and installs a fresh one
// with local media attached.
func (s *Session) replacePeer(gen uint64) error {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return context.Canceled
	}
	s.peerEpoch++
	epoch := s.peerEpoch
	old := s.peer
	s.peer = nil
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			log.Warn().Str("module", "session").Err(err).Msg("close replaced peer")
		}
	}

	p, err := s.deps.Peers(s.peerHandlers(gen, epoch))
	if err != nil {
		return domain.NewError(domain.KindPeerConnectionFailed, "create peer", err)
	}

	s.mu.Lock()
	if s.gen != gen || s.peerEpoch != epoch {
		s.mu.Unlock()
		p.Close()
		return context.Canceled
	}
	s.peer = p
	local := s.local
	s.mu.Unlock()

	if local != nil {
		if _, err := p.AttachLocalMedia(local); err != nil {
			log.Warn().Str("module", "session").Err(err).Msg("attach local media")
		}
	}
	return nil
}

// attach adds h to peer and offers again when the connection was already
// negotiated and no offer is outstanding.
func (s *Session) attach(gen uint64, peer Peer, h *media.Handle) {
	renegotiate, err := peer.AttachLocalMedia(h)
	if err != nil {
		log.Warn().Str("module", "session").Err(err).Msg("attach local media")
		return
	}
	if !renegotiate || peer.HasLocalOffer() {
		return
	}
	offer, err := peer.CreateOffer()
	if err != nil {
		log.Warn().Str("module", "session").Err(err).Msg("renegotiation offer")
		return
	}
	s.send(gen, domain.MessageOffer, offer)
}

func (s *Session) peerHandlers(gen, epoch uint64) webrtc.Handlers {
	owned := func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.gen == gen && s.peerEpoch == epoch
	}

	return webrtc.Handlers{
		OnStateChange: func(state domain.ConnectionState) {
			if owned() {
				s.onPeerState(gen, epoch, state)
			}
		},
		OnLocalCandidate: func(c domain.ICECandidatePayload) {
			if owned() {
				s.send(gen, domain.MessageICECandidate, c)
			}
		},
		OnRemoteMedia: func(r *webrtc.RemoteMedia) {
			s.mu.Lock()
			if s.gen != gen || s.peerEpoch != epoch {
				s.mu.Unlock()
				return
			}
			s.remote = r
			s.mu.Unlock()
			if s.opts.VideoSink != nil {
				r.SetVideoSink(s.opts.VideoSink)
			}
			s.events.push(Event{Kind: EventRemoteMedia, Remote: r})
		},
		OnChat: func(m webrtc.ChatMessage) {
			s.mu.Lock()
			if s.gen != gen || s.peerEpoch != epoch {
				s.mu.Unlock()
				return
			}
			s.chat = append(s.chat, m)
			s.mu.Unlock()
			s.events.push(Event{Kind: EventChat, Chat: m})
		},
	}
}

func (s *Session) onPeerState(gen, epoch uint64, state domain.ConnectionState) {
	switch state {
	case domain.ConnectionConnected:
		s.mu.Lock()
		if s.gen == gen && s.state == domain.StateNegotiating {
			s.stopTimerLocked()
			s.setStateLocked(domain.StateActive)
		}
		s.mu.Unlock()
	case domain.ConnectionDisconnected:
		log.Warn().Str("module", "session").Msg("peer connection interrupted")
	case domain.ConnectionFailed:
		s.fail(gen, domain.NewError(domain.KindPeerConnectionFailed, "peer connection", errors.New("connection failed")))
	case domain.ConnectionClosed:
		// Peers this session closes itself are no longer owned, so a close
		// seen here came from the remote side.
		s.mu.Lock()
		present := s.remotePeer != ""
		s.mu.Unlock()
		if !present {
			s.fail(gen, domain.NewError(domain.KindPeerConnectionFailed, "peer connection", errors.New("closed unexpectedly")))
			return
		}
		// Off the pion callback: onUserLeft closes this peer.
		go s.onRemoteHangUp(gen, epoch)
	}
}

// onRemoteHangUp handles a remote close that may arrive before or after
// the matching user-left message. Whichever comes first clears the peer.
func (s *Session) onRemoteHangUp(gen, epoch uint64) {
	s.negMu.Lock()
	defer s.negMu.Unlock()

	s.mu.Lock()
	user := s.remotePeer
	owned := s.gen == gen && s.peerEpoch == epoch
	s.mu.Unlock()
	if !owned || user == "" {
		return
	}
	log.Info().Str("module", "session").Str("user", user).Msg("peer connection closed by remote")
	s.onUserLeft(gen, user)
}

// send publishes a negotiation message. Failures are logged; a lost
// offer or answer ends in the negotiation timeout.
func (s *Session) send(gen uint64, t domain.MessageType, data any) {
	s.mu.Lock()
	sig := s.signaler
	var roomID string
	if s.room != nil {
		roomID = s.room.ID
	}
	current := s.gen == gen
	s.mu.Unlock()

	if !current || sig == nil {
		return
	}
	msg, err := domain.NewMessage(t, roomID, s.opts.ParticipantID, data)
	if err != nil {
		log.Error().Str("module", "session").Str("type", string(t)).Err(err).Msg("encode signaling message")
		return
	}
	if err := sig.Send(msg); err != nil {
		log.Warn().Str("module", "session").Str("type", string(t)).Err(err).Msg("signaling send failed")
	}
}

func (s *Session) handleMessage(gen uint64, msg domain.SignalingMessage) {
	s.negMu.Lock()
	defer s.negMu.Unlock()

	if !s.current(gen) {
		log.Debug().Str("module", "session").Str("type", string(msg.Type)).Msg("dropping stale message")
		return
	}

	switch msg.Type {
	case domain.MessageUserJoined:
		s.onUserJoined(gen, msg.UserID)
	case domain.MessageOffer:
		s.onOffer(gen, msg)
	case domain.MessageAnswer:
		s.onAnswer(gen, msg)
	case domain.MessageICECandidate:
		s.onCandidate(gen, msg)
	case domain.MessageUserLeft:
		s.onUserLeft(gen, msg.UserID)
	default:
		log.Debug().Str("module", "session").Str("type", string(msg.Type)).Msg("ignoring message")
	}
}

// onUserJoined makes this side the offerer.
func (s *Session) onUserJoined(gen uint64, user string) {
	s.mu.Lock()
	if s.state != domain.StateAwaitingPeer || s.peer == nil {
		s.mu.Unlock()
		log.Debug().Str("module", "session").Str("user", user).Msg("ignoring join outside awaiting-peer")
		return
	}
	s.beginNegotiationLocked(gen, user)
	peer := s.peer
	s.mu.Unlock()

	s.events.push(Event{Kind: EventUserJoined, Peer: user})
	log.Info().Str("module", "session").Str("user", user).Msg("peer joined, offering")

	offer, err := peer.CreateOffer()
	if err != nil {
		s.fail(gen, domain.NewError(domain.KindPeerConnectionFailed, "create offer", err))
		return
	}
	s.send(gen, domain.MessageOffer, offer)
}

// onOffer answers the remote offer. When both sides offered at once the
// lower participant id keeps its offer and the other side starts over
// with a fresh peer connection as the answerer.
func (s *Session) onOffer(gen uint64, msg domain.SignalingMessage) {
	desc, err := msg.SDP()
	if err != nil {
		log.Warn().Str("module", "session").Err(err).Msg("malformed offer")
		return
	}

	s.mu.Lock()
	state := s.state
	peer := s.peer
	if peer == nil {
		s.mu.Unlock()
		return
	}
	joined := false
	switch state {
	case domain.StateAwaitingPeer:
		s.beginNegotiationLocked(gen, msg.UserID)
		joined = true
	case domain.StateNegotiating, domain.StateActive:
	default:
		s.mu.Unlock()
		log.Debug().Str("module", "session").Str("state", string(state)).Msg("ignoring offer")
		return
	}
	s.mu.Unlock()

	if joined {
		s.events.push(Event{Kind: EventUserJoined, Peer: msg.UserID})
	}

	if state == domain.StateNegotiating && peer.HasLocalOffer() {
		if s.opts.ParticipantID < msg.UserID {
			log.Info().Str("module", "session").Str("user", msg.UserID).Msg("offer collision, keeping local offer")
			return
		}
		log.Info().Str("module", "session").Str("user", msg.UserID).Msg("offer collision, answering instead")
		if err := s.replacePeer(gen); err != nil {
			if !errors.Is(err, context.Canceled) {
				s.fail(gen, err)
			}
			return
		}
		s.mu.Lock()
		peer = s.peer
		s.mu.Unlock()
	}

	answer, err := peer.ReceiveOffer(desc)
	if err != nil {
		s.fail(gen, domain.NewError(domain.KindPeerConnectionFailed, "answer offer", err))
		return
	}
	s.send(gen, domain.MessageAnswer, answer)
}

func (s *Session) onAnswer(gen uint64, msg domain.SignalingMessage) {
	desc, err := msg.SDP()
	if err != nil {
		log.Warn().Str("module", "session").Err(err).Msg("malformed answer")
		return
	}

	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()
	if peer == nil || !peer.HasLocalOffer() {
		log.Debug().Str("module", "session").Msg("ignoring answer without a pending offer")
		return
	}
	if err := peer.ReceiveAnswer(desc); err != nil {
		s.fail(gen, domain.NewError(domain.KindPeerConnectionFailed, "apply answer", err))
	}
}

func (s *Session) onCandidate(gen uint64, msg domain.SignalingMessage) {
	c, err := msg.Candidate()
	if err != nil {
		log.Warn().Str("module", "session").Err(err).Msg("malformed candidate")
		return
	}

	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()
	if peer == nil {
		return
	}
	if err := peer.AddRemoteICECandidate(c); err != nil {
		log.Warn().Str("module", "session").Err(err).Msg("add remote candidate")
	}
}

// onUserLeft clears the remote side once and waits for the next peer in
// the same room.
func (s *Session) onUserLeft(gen uint64, user string) {
	s.mu.Lock()
	if s.remotePeer == "" || (user != "" && user != s.remotePeer) {
		s.mu.Unlock()
		return
	}
	s.remotePeer = ""
	s.stopTimerLocked()
	cleared := s.remote != nil
	s.remote = nil
	s.chat = nil
	s.setStateLocked(domain.StateAwaitingPeer)
	s.mu.Unlock()

	log.Info().Str("module", "session").Str("user", user).Msg("peer left")
	s.events.push(Event{Kind: EventUserLeft, Peer: user})
	if cleared {
		s.events.push(Event{Kind: EventRemoteMediaCleared})
	}

	if err := s.replacePeer(gen); err != nil && !errors.Is(err, context.Canceled) {
		s.fail(gen, err)
	}
}

func (s *Session) beginNegotiationLocked(gen uint64, user string) {
	s.remotePeer = user
	s.setStateLocked(domain.StateNegotiating)
	s.stopTimerLocked()
	s.timer = time.AfterFunc(s.opts.NegotiationTimeout, func() { s.onNegotiationTimeout(gen) })
}

func (s *Session) onNegotiationTimeout(gen uint64) {
	s.mu.Lock()
	stuck := s.gen == gen && s.state == domain.StateNegotiating
	s.mu.Unlock()
	if !stuck {
		return
	}
	s.fail(gen, domain.NewError(domain.KindNegotiationTimeout, "negotiate",
		errors.New("no connection within "+s.opts.NegotiationTimeout.String())))
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
