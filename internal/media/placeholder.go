package media

import (
	"context"
	"io"
	"sync"
	"time"

	"strangercall/native/internal/domain"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// placeholderCapture stands in for a camera and microphone: silent Opus
// audio and a video track that never carries frames, which receivers
// render as black.
type placeholderCapture struct {
	done      chan struct{}
	closeOnce sync.Once
}

func newPlaceholderCapture() *placeholderCapture {
	return &placeholderCapture{done: make(chan struct{})}
}

func (p *placeholderCapture) Streams() []Stream {
	return []Stream{silentAudio{p.done}, blankVideo{p.done}}
}

func (p *placeholderCapture) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

type silentAudio struct{ done chan struct{} }

func (silentAudio) Kind() domain.TrackKind { return domain.TrackAudio }

func (silentAudio) Codec() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
}

func (s silentAudio) NextSample() (pionmedia.Sample, error) {
	select {
	case <-s.done:
		return pionmedia.Sample{}, io.EOF
	default:
	}
	return pionmedia.Sample{Data: opusSilence, Duration: 20 * time.Millisecond}, nil
}

type blankVideo struct{ done chan struct{} }

func (blankVideo) Kind() domain.TrackKind { return domain.TrackVideo }

func (blankVideo) Codec() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
}

func (b blankVideo) NextSample() (pionmedia.Sample, error) {
	<-b.done
	return pionmedia.Sample{}, io.EOF
}

// PlaceholderDevice always opens synthetic media.
type PlaceholderDevice struct{}

func (PlaceholderDevice) Open(context.Context, Constraints) (Capture, error) {
	return newPlaceholderCapture(), nil
}
