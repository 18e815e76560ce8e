package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"strangercall/native/internal/domain"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

// FileDevice plays an IVF video file and an Ogg/Opus audio file in a loop,
// standing in for a camera and microphone. Either path may be empty.
type FileDevice struct {
	VideoPath string
	AudioPath string
}

// Open opens the configured files. Frame sizes above c.MaxWidth or
// c.MaxHeight fail with ErrOverconstrained.
func (d FileDevice) Open(_ context.Context, c Constraints) (Capture, error) {
	if d.VideoPath == "" && d.AudioPath == "" {
		return nil, ErrDeviceNotFound
	}

	capture := &fileCapture{}
	if c.Video && d.VideoPath != "" {
		s, err := openIVF(d.VideoPath, c)
		if err != nil {
			return nil, err
		}
		capture.streams = append(capture.streams, s)
	}
	if c.Audio && d.AudioPath != "" {
		s, err := openOgg(d.AudioPath)
		if err != nil {
			capture.Close()
			return nil, err
		}
		capture.streams = append(capture.streams, s)
	}
	if len(capture.streams) == 0 {
		return nil, fmt.Errorf("no file matches the requested kinds: %w", ErrDeviceNotFound)
	}
	return capture, nil
}

type fileStream interface {
	Stream
	io.Closer
}

type fileCapture struct {
	streams []fileStream
}

func (c *fileCapture) Streams() []Stream {
	out := make([]Stream, len(c.streams))
	for i, s := range c.streams {
		out[i] = s
	}
	return out
}

func (c *fileCapture) Close() error {
	var errs []error
	for _, s := range c.streams {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

type ivfStream struct {
	mu       sync.Mutex
	f        *os.File
	r        *ivfreader.IVFReader
	mimeType string
	interval time.Duration
}

func openIVF(path string, c Constraints) (*ivfStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}
	r, header, err := ivfreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read ivf header: %w", err)
	}

	if (c.MaxWidth > 0 && int(header.Width) > c.MaxWidth) || (c.MaxHeight > 0 && int(header.Height) > c.MaxHeight) {
		f.Close()
		return nil, fmt.Errorf("%dx%d exceeds %dx%d: %w", header.Width, header.Height, c.MaxWidth, c.MaxHeight, ErrOverconstrained)
	}

	var mimeType string
	switch header.FourCC {
	case "VP80":
		mimeType = webrtc.MimeTypeVP8
	case "VP90":
		mimeType = webrtc.MimeTypeVP9
	case "AV01":
		mimeType = webrtc.MimeTypeAV1
	default:
		f.Close()
		return nil, fmt.Errorf("unsupported fourcc %q: %w", header.FourCC, ErrOverconstrained)
	}

	interval := 33 * time.Millisecond
	if header.TimebaseDenominator > 0 && header.TimebaseNumerator > 0 {
		interval = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
	}

	return &ivfStream{f: f, r: r, mimeType: mimeType, interval: interval}, nil
}

func (s *ivfStream) Kind() domain.TrackKind { return domain.TrackVideo }

func (s *ivfStream) Codec() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{MimeType: s.mimeType, ClockRate: 90000}
}

func (s *ivfStream) NextSample() (pionmedia.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame, _, err := s.r.ParseNextFrame()
	if errors.Is(err, io.EOF) {
		if err = s.rewind(); err == nil {
			frame, _, err = s.r.ParseNextFrame()
		}
	}
	if err != nil {
		return pionmedia.Sample{}, err
	}
	return pionmedia.Sample{Data: frame, Duration: s.interval}, nil
}

func (s *ivfStream) rewind() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r, _, err := ivfreader.NewWith(s.f)
	if err != nil {
		return err
	}
	s.r = r
	return nil
}

func (s *ivfStream) Close() error { return s.f.Close() }

type oggStream struct {
	mu      sync.Mutex
	f       *os.File
	r       *oggreader.OggReader
	granule uint64
}

func openOgg(path string) (*oggStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	r, _, err := oggreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read ogg header: %w", err)
	}
	return &oggStream{f: f, r: r}, nil
}

func (s *oggStream) Kind() domain.TrackKind { return domain.TrackAudio }

func (s *oggStream) Codec() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
}

// NextSample returns the next page carrying audio; the Opus comment page
// and other zero-length pages are skipped.
func (s *oggStream) NextSample() (pionmedia.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for rewound := false; ; {
		page, header, err := s.r.ParseNextPage()
		if errors.Is(err, io.EOF) && !rewound {
			if err = s.rewind(); err != nil {
				return pionmedia.Sample{}, err
			}
			rewound = true
			continue
		}
		if err != nil {
			return pionmedia.Sample{}, err
		}

		if header.GranulePosition <= s.granule {
			continue
		}
		samples := header.GranulePosition - s.granule
		s.granule = header.GranulePosition
		return pionmedia.Sample{
			Data:     page,
			Duration: time.Duration(samples) * time.Second / 48000,
		}, nil
	}
}

func (s *oggStream) rewind() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r, _, err := oggreader.NewWith(s.f)
	if err != nil {
		return err
	}
	s.r = r
	s.granule = 0
	return nil
}

func (s *oggStream) Close() error { return s.f.Close() }
