package webrtc

import (
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"strangercall/native/internal/domain"

	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// RemoteTrack describes one track received from the remote participant.
type RemoteTrack struct {
	ID       string
	Kind     domain.TrackKind
	MimeType string

	packets atomic.Uint64
}

// Packets returns the number of RTP packets received so far.
func (t *RemoteTrack) Packets() uint64 { return t.packets.Load() }

// RemoteMedia aggregates every track of the remote participant into one
// handle. It is owned by the peer connection and invalid once it closes.
type RemoteMedia struct {
	streamID string
	live     atomic.Bool

	mu        sync.Mutex
	tracks    []*RemoteTrack
	videoSink io.Writer
}

func newRemoteMedia(streamID string) *RemoteMedia {
	return &RemoteMedia{streamID: streamID}
}

// StreamID is the remote media stream id of the first track.
func (r *RemoteMedia) StreamID() string { return r.streamID }

// Live reports whether the peer connection is connected. Callers treat a
// handle that is not live as "not yet available".
func (r *RemoteMedia) Live() bool { return r.live.Load() }

// Tracks returns a snapshot of the received tracks.
func (r *RemoteMedia) Tracks() []*RemoteTrack {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*RemoteTrack(nil), r.tracks...)
}

// HasKind reports whether a track of kind was received.
func (r *RemoteMedia) HasKind(kind domain.TrackKind) bool {
	for _, t := range r.Tracks() {
		if t.Kind == kind {
			return true
		}
	}
	return false
}

// SetVideoSink directs remote H264 video to w as an Annex-B byte stream.
// Other codecs are drained. A nil writer disables the sink.
func (r *RemoteMedia) SetVideoSink(w io.Writer) {
	r.mu.Lock()
	r.videoSink = w
	r.mu.Unlock()
}

// VideoSink returns the writer set by SetVideoSink, if any.
func (r *RemoteMedia) VideoSink() io.Writer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.videoSink
}

func (r *RemoteMedia) addTrack(track *pion.TrackRemote) *RemoteTrack {
	rt := &RemoteTrack{
		ID:       track.ID(),
		Kind:     kindOf(track.Kind()),
		MimeType: track.Codec().MimeType,
	}
	r.mu.Lock()
	r.tracks = append(r.tracks, rt)
	r.mu.Unlock()
	return rt
}

func (r *RemoteMedia) readTrack(rt *RemoteTrack, read func() (*rtp.Packet, error)) {
	var depack *H264Depacketizer
	if rt.Kind == domain.TrackVideo && strings.EqualFold(rt.MimeType, pion.MimeTypeH264) {
		depack = NewH264Depacketizer()
	}

	for {
		pkt, err := read()
		if err != nil {
			log.Debug().Str("module", "webrtc").Str("track", rt.ID).Err(err).Msg("remote track ended")
			return
		}
		rt.packets.Add(1)

		if depack == nil {
			continue
		}
		nalus := depack.Depacketize(pkt.SequenceNumber, pkt.Payload)
		w := r.VideoSink()
		if w == nil {
			continue
		}
		for _, nalu := range nalus {
			if len(nalu) == 0 {
				continue
			}
			// One write per unit so a reader never sees a start code
			// without its payload.
			frame := make([]byte, 0, len(annexBStartCode)+len(nalu))
			frame = append(append(frame, annexBStartCode...), nalu...)
			if _, err := w.Write(frame); err != nil {
				log.Warn().Str("module", "webrtc").Err(err).Msg("video sink write")
				r.SetVideoSink(nil)
				break
			}
		}
	}
}

func kindOf(t pion.RTPCodecType) domain.TrackKind {
	if t == pion.RTPCodecTypeAudio {
		return domain.TrackAudio
	}
	return domain.TrackVideo
}
