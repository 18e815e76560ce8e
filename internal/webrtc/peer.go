package webrtc

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"strangercall/native/internal/domain"
	"strangercall/native/internal/media"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const pliInterval = 3 * time.Second

// Config is the process-wide peer connection configuration.
type Config struct {
	ICEServers      []domain.ICEServer
	ForceRelay      bool
	IncludeLoopback bool
	// ParticipantID stamps outgoing chat messages.
	ParticipantID string
}

// Engine builds peer connections sharing one codec and interceptor setup.
type Engine struct {
	api *pion.API
	cfg Config
}

// NewEngine registers the default codecs and the NACK, RTCP report and
// periodic PLI interceptors.
func NewEngine(cfg Config) (*Engine, error) {
	m := &pion.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	i := &interceptor.Registry{}

	m.RegisterFeedback(pion.RTCPFeedback{Type: "nack"}, pion.RTPCodecTypeVideo)
	m.RegisterFeedback(pion.RTCPFeedback{Type: "nack", Parameter: "pli"}, pion.RTPCodecTypeVideo)

	responderFactory, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	i.Add(responderFactory)

	generatorFactory, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack generator: %w", err)
	}
	i.Add(generatorFactory)

	if err := pion.ConfigureRTCPReports(i); err != nil {
		return nil, fmt.Errorf("configure rtcp reports: %w", err)
	}

	pliFactory, err := intervalpli.NewReceiverInterceptor(intervalpli.GeneratorInterval(pliInterval))
	if err != nil {
		return nil, fmt.Errorf("create interval pli: %w", err)
	}
	i.Add(pliFactory)

	s := pion.SettingEngine{}
	s.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)

	return &Engine{
		api: pion.NewAPI(
			pion.WithMediaEngine(m),
			pion.WithInterceptorRegistry(i),
			pion.WithSettingEngine(s),
		),
		cfg: cfg,
	}, nil
}

func (e *Engine) configuration() pion.Configuration {
	var servers []pion.ICEServer
	for _, s := range e.cfg.ICEServers {
		server := pion.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}

	c := pion.Configuration{
		ICEServers:   servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	}
	if e.cfg.ForceRelay {
		c.ICETransportPolicy = pion.ICETransportPolicyRelay
	}
	return c
}

// Handlers receives peer connection events. Handlers run on pion
// goroutines and must not block.
type Handlers struct {
	OnStateChange    func(domain.ConnectionState)
	OnLocalCandidate func(domain.ICECandidatePayload)
	OnRemoteMedia    func(*RemoteMedia)
	OnChat           func(ChatMessage)
}

// Peer owns one peer-to-peer connection to a single remote participant.
type Peer struct {
	pc             *pion.PeerConnection
	handlers       Handlers
	participantID  string
	filterLoopback bool

	applied atomic.Int64

	mu         sync.Mutex
	pending    []pion.ICECandidateInit
	remoteSet  bool
	negotiated bool
	offerer    bool
	closed     bool
	state      domain.ConnectionState
	local      *media.Handle
	senders    []*pion.RTPSender
	remote     *RemoteMedia
	chat       *pion.DataChannel
}

// NewPeer creates a PeerConnection wired to h.
func (e *Engine) NewPeer(h Handlers) (*Peer, error) {
	pc, err := e.api.NewPeerConnection(e.configuration())
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &Peer{
		pc:             pc,
		handlers:       h,
		participantID:  e.cfg.ParticipantID,
		filterLoopback: !e.cfg.IncludeLoopback,
		state:          domain.ConnectionNew,
	}

	pc.OnICECandidate(p.onICECandidate)
	pc.OnConnectionStateChange(p.onConnectionStateChange)
	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		log.Debug().Str("module", "webrtc").Str("state", state.String()).Msg("ICE connection state")
	})
	pc.OnTrack(p.onTrack)
	pc.OnDataChannel(func(dc *pion.DataChannel) {
		if dc.Label() == chatLabel {
			p.bindChat(dc)
		}
	})

	return p, nil
}

// AttachLocalMedia adds every track of h to the connection, replacing a
// previously attached handle. It reports whether a new offer is needed
// because the initial negotiation already completed.
func (p *Peer) AttachLocalMedia(h *media.Handle) (bool, error) {
	if h == nil {
		return false, nil
	}

	p.mu.Lock()
	if p.local == h {
		p.mu.Unlock()
		return false, nil
	}
	old := p.senders
	p.senders = nil
	p.local = h
	p.mu.Unlock()

	for _, s := range old {
		if err := p.pc.RemoveTrack(s); err != nil {
			log.Warn().Str("module", "webrtc").Err(err).Msg("remove replaced track")
		}
	}

	var senders []*pion.RTPSender
	for _, t := range h.Tracks() {
		sender, err := p.pc.AddTrack(t.Local())
		if err != nil {
			return false, fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
		senders = append(senders, sender)
		go drainRTCP(sender)
	}

	p.mu.Lock()
	p.senders = senders
	renegotiate := p.negotiated
	p.mu.Unlock()

	log.Debug().Str("module", "webrtc").Int("tracks", len(senders)).Bool("renegotiate", renegotiate).Msg("local media attached")
	return renegotiate, nil
}

// CreateOffer creates an SDP offer and sets it as the local description.
func (p *Peer) CreateOffer() (domain.SDPPayload, error) {
	if err := p.ensureReceivers(); err != nil {
		return domain.SDPPayload{}, err
	}
	if err := p.ensureChat(); err != nil {
		return domain.SDPPayload{}, err
	}

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return domain.SDPPayload{}, fmt.Errorf("set local description: %w", err)
	}

	p.mu.Lock()
	p.offerer = true
	p.mu.Unlock()

	log.Debug().Str("module", "webrtc").Msg("local SDP offer set")
	return domain.SDPPayload{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

// ReceiveOffer applies a remote offer and returns the applied local answer.
func (p *Peer) ReceiveOffer(desc domain.SDPPayload) (domain.SDPPayload, error) {
	offer := pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: desc.SDP}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return domain.SDPPayload{}, fmt.Errorf("set remote offer: %w", err)
	}
	p.flushCandidates()

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return domain.SDPPayload{}, fmt.Errorf("set local description: %w", err)
	}

	p.mu.Lock()
	p.negotiated = true
	p.mu.Unlock()

	log.Debug().Str("module", "webrtc").Msg("remote offer applied, answer set")
	return domain.SDPPayload{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

// ReceiveAnswer applies the answer to an offer this side sent.
func (p *Peer) ReceiveAnswer(desc domain.SDPPayload) error {
	answer := pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: desc.SDP}
	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	p.flushCandidates()

	p.mu.Lock()
	p.negotiated = true
	p.mu.Unlock()

	log.Debug().Str("module", "webrtc").Msg("remote SDP answer set")
	return nil
}

// AddRemoteICECandidate applies c, or queues it until a remote description
// is set. Queued candidates are applied in arrival order by the next
// ReceiveOffer or ReceiveAnswer.
func (p *Peer) AddRemoteICECandidate(c domain.ICECandidatePayload) error {
	init := pion.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}

	p.mu.Lock()
	if !p.remoteSet {
		p.pending = append(p.pending, init)
		n := len(p.pending)
		p.mu.Unlock()
		log.Debug().Str("module", "webrtc").Int("queued", n).Msg("remote ICE candidate queued")
		return nil
	}
	p.mu.Unlock()

	return p.applyCandidate(init)
}

func (p *Peer) applyCandidate(init pion.ICECandidateInit) error {
	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	p.applied.Add(1)
	return nil
}

func (p *Peer) flushCandidates() {
	p.mu.Lock()
	p.remoteSet = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, c := range pending {
		if err := p.applyCandidate(c); err != nil {
			log.Warn().Str("module", "webrtc").Err(err).Msg("queued ICE candidate rejected")
		}
	}
	if len(pending) > 0 {
		log.Debug().Str("module", "webrtc").Int("count", len(pending)).Msg("queued ICE candidates applied")
	}
}

// CandidateStats returns the number of queued and applied remote candidates.
func (p *Peer) CandidateStats() (pending, applied int) {
	p.mu.Lock()
	pending = len(p.pending)
	p.mu.Unlock()
	return pending, int(p.applied.Load())
}

// HasLocalOffer reports whether an offer from this side awaits an answer.
func (p *Peer) HasLocalOffer() bool {
	return p.pc.SignalingState() == pion.SignalingStateHaveLocalOffer
}

// Close shuts down the PeerConnection. No handler fires afterwards.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	remote := p.remote
	p.mu.Unlock()

	if remote != nil {
		remote.live.Store(false)
	}
	if err := p.pc.Close(); err != nil {
		return fmt.Errorf("close peer connection: %w", err)
	}
	return nil
}

func (p *Peer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Peer) ensureReceivers() error {
	have := make(map[pion.RTPCodecType]bool)
	for _, t := range p.pc.GetTransceivers() {
		have[t.Kind()] = true
	}
	for _, kind := range []pion.RTPCodecType{pion.RTPCodecTypeAudio, pion.RTPCodecTypeVideo} {
		if have[kind] {
			continue
		}
		_, err := p.pc.AddTransceiverFromKind(kind, pion.RTPTransceiverInit{
			Direction: pion.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	return nil
}

func (p *Peer) ensureChat() error {
	p.mu.Lock()
	skip := p.chat != nil || p.negotiated
	p.mu.Unlock()
	if skip {
		return nil
	}

	dc, err := p.pc.CreateDataChannel(chatLabel, nil)
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	p.bindChat(dc)
	return nil
}

func (p *Peer) onICECandidate(c *pion.ICECandidate) {
	if c == nil {
		log.Debug().Str("module", "webrtc").Msg("ICE gathering complete")
		return
	}

	init := c.ToJSON()
	if p.filterLoopback && isLoopback(init.Candidate) {
		log.Debug().Str("module", "webrtc").Msg("filtering loopback ICE candidate")
		return
	}
	if p.isClosed() || p.handlers.OnLocalCandidate == nil {
		return
	}

	p.handlers.OnLocalCandidate(domain.ICECandidatePayload{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	})
}

func (p *Peer) onConnectionStateChange(s pion.PeerConnectionState) {
	state := connectionState(s)

	p.mu.Lock()
	p.state = state
	remote := p.remote
	closed := p.closed
	p.mu.Unlock()

	if remote != nil {
		remote.live.Store(!closed && state == domain.ConnectionConnected)
	}

	log.Info().Str("module", "webrtc").Str("state", string(state)).Msg("peer connection state")
	if closed || p.handlers.OnStateChange == nil {
		return
	}
	p.handlers.OnStateChange(state)
}

func (p *Peer) onTrack(track *pion.TrackRemote, _ *pion.RTPReceiver) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if p.remote == nil {
		p.remote = newRemoteMedia(track.StreamID())
	}
	remote := p.remote
	connected := p.state == domain.ConnectionConnected
	p.mu.Unlock()

	remote.live.Store(connected)
	rt := remote.addTrack(track)
	log.Info().Str("module", "webrtc").Str("kind", string(rt.Kind)).Str("codec", rt.MimeType).Msg("remote track")

	go remote.readTrack(rt, func() (*rtp.Packet, error) {
		pkt, _, err := track.ReadRTP()
		return pkt, err
	})

	if p.handlers.OnRemoteMedia != nil {
		p.handlers.OnRemoteMedia(remote)
	}
}

func connectionState(s pion.PeerConnectionState) domain.ConnectionState {
	switch s {
	case pion.PeerConnectionStateConnecting:
		return domain.ConnectionConnecting
	case pion.PeerConnectionStateConnected:
		return domain.ConnectionConnected
	case pion.PeerConnectionStateDisconnected:
		return domain.ConnectionDisconnected
	case pion.PeerConnectionStateFailed:
		return domain.ConnectionFailed
	case pion.PeerConnectionStateClosed:
		return domain.ConnectionClosed
	}
	return domain.ConnectionNew
}

func drainRTCP(sender *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// isLoopback reports whether an ICE candidate line carries a loopback address.
func isLoopback(candidate string) bool {
	fields := strings.Fields(candidate)
	if len(fields) < 5 {
		return false
	}
	ip := net.ParseIP(fields[4])
	return ip != nil && ip.IsLoopback()
}
