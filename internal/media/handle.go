package media

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"strangercall/native/internal/domain"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

// opusSilence is a single 20ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Track is one local track fed from a device stream.
type Track struct {
	kind    domain.TrackKind
	local   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	stopped atomic.Bool
}

// Kind returns the media kind.
func (t *Track) Kind() domain.TrackKind { return t.kind }

// Local returns the track to add to a peer connection.
func (t *Track) Local() webrtc.TrackLocal { return t.local }

// Codec returns the codec the track is encoded with.
func (t *Track) Codec() webrtc.RTPCodecCapability { return t.local.Codec() }

// Enabled reports whether samples are forwarded. A stopped track is never enabled.
func (t *Track) Enabled() bool { return t.enabled.Load() && !t.stopped.Load() }

// Stopped reports whether the track was released.
func (t *Track) Stopped() bool { return t.stopped.Load() }

// Handle owns the local tracks of one acquisition.
type Handle struct {
	streamID    string
	tracks      []*Track
	placeholder bool
	capture     Capture

	stop        chan struct{}
	wg          sync.WaitGroup
	releaseOnce sync.Once
}

func newHandle(capture Capture, placeholder bool) (*Handle, error) {
	h := &Handle{
		streamID:    "local-" + uuid.NewString()[:8],
		placeholder: placeholder,
		capture:     capture,
		stop:        make(chan struct{}),
	}

	streams := capture.Streams()
	for _, s := range streams {
		local, err := webrtc.NewTrackLocalStaticSample(s.Codec(), string(s.Kind()), h.streamID)
		if err != nil {
			capture.Close()
			return nil, fmt.Errorf("create %s track: %w", s.Kind(), err)
		}
		t := &Track{kind: s.Kind(), local: local}
		t.enabled.Store(true)
		h.tracks = append(h.tracks, t)
	}

	for i, s := range streams {
		h.wg.Add(1)
		go h.pump(h.tracks[i], s)
	}
	return h, nil
}

// StreamID identifies the handle's tracks on the wire.
func (h *Handle) StreamID() string { return h.streamID }

// Tracks returns all tracks of the handle.
func (h *Handle) Tracks() []*Track { return h.tracks }

// Track returns the first track of kind, or nil.
func (h *Handle) Track(kind domain.TrackKind) *Track {
	for _, t := range h.tracks {
		if t.kind == kind {
			return t
		}
	}
	return nil
}

// Placeholder reports whether the handle carries synthetic media.
func (h *Handle) Placeholder() bool { return h.placeholder }

// SetTrackEnabled toggles every track of kind without renegotiating.
// Disabled audio sends silence; disabled video sends nothing.
func (h *Handle) SetTrackEnabled(kind domain.TrackKind, enabled bool) {
	for _, t := range h.tracks {
		if t.kind == kind && !t.stopped.Load() {
			t.enabled.Store(enabled)
		}
	}
}

// Release stops all tracks and closes the device. Safe to call repeatedly.
func (h *Handle) Release() {
	h.releaseOnce.Do(func() {
		for _, t := range h.tracks {
			t.stopped.Store(true)
			t.enabled.Store(false)
		}
		close(h.stop)
		if err := h.capture.Close(); err != nil {
			log.Warn().Str("module", "media").Err(err).Msg("close capture")
		}
		h.wg.Wait()
		log.Debug().Str("module", "media").Str("stream", h.streamID).Msg("local media released")
	})
}

func (h *Handle) pump(t *Track, s Stream) {
	defer h.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		select {
		case <-h.stop:
			return
		default:
		}

		sample, err := s.NextSample()
		if err != nil {
			select {
			case <-h.stop:
			default:
				if !errors.Is(err, io.EOF) {
					log.Warn().Str("module", "media").Str("kind", string(t.kind)).Err(err).Msg("read sample")
				}
			}
			return
		}

		switch {
		case t.Enabled():
			err = t.local.WriteSample(sample)
		case t.kind == domain.TrackAudio && t.local.Codec().MimeType == webrtc.MimeTypeOpus:
			err = t.local.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: sample.Duration})
		}
		if err != nil && !errors.Is(err, io.ErrClosedPipe) {
			log.Debug().Str("module", "media").Str("kind", string(t.kind)).Err(err).Msg("write sample")
		}

		if sample.Duration <= 0 {
			continue
		}
		timer.Reset(sample.Duration)
		select {
		case <-h.stop:
			return
		case <-timer.C:
		}
	}
}
