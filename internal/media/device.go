package media

import (
	"context"
	"errors"
	"os"
	"syscall"

	"strangercall/native/internal/domain"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// Device is the permission-gated source of local media.
type Device interface {
	Open(ctx context.Context, c Constraints) (Capture, error)
}

// Capture is an opened device session.
type Capture interface {
	Streams() []Stream
	Close() error
}

// Stream yields encoded samples for one track. NextSample may block until
// a sample is ready or the capture is closed.
type Stream interface {
	Kind() domain.TrackKind
	Codec() webrtc.RTPCodecCapability
	NextSample() (pionmedia.Sample, error)
}

// NamedError is implemented by device errors that carry a browser-style
// exception name such as "NotAllowedError".
type NamedError interface {
	error
	Name() string
}

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrDeviceNotFound   = errors.New("device not found")
	ErrDeviceBusy       = errors.New("device busy")
	ErrOverconstrained  = errors.New("constraints cannot be satisfied")
	ErrInsecureContext  = errors.New("insecure context")
)

var namedKinds = map[string]domain.ErrorKind{
	"NotAllowedError":             domain.KindPermissionDenied,
	"PermissionDeniedError":       domain.KindPermissionDenied,
	"NotFoundError":               domain.KindDeviceNotFound,
	"DevicesNotFoundError":        domain.KindDeviceNotFound,
	"NotReadableError":            domain.KindDeviceBusy,
	"TrackStartError":             domain.KindDeviceBusy,
	"OverconstrainedError":        domain.KindUnsupportedConstraints,
	"ConstraintNotSatisfiedError": domain.KindUnsupportedConstraints,
	"SecurityError":               domain.KindInsecureContext,
}

// Classify maps a device failure to its error kind.
func Classify(err error) domain.ErrorKind {
	if err == nil {
		return domain.KindUnknown
	}
	if k := domain.KindOf(err); k != domain.KindUnknown {
		return k
	}

	var named NamedError
	if errors.As(err, &named) {
		if k, ok := namedKinds[named.Name()]; ok {
			return k
		}
	}

	switch {
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, os.ErrPermission):
		return domain.KindPermissionDenied
	case errors.Is(err, ErrDeviceNotFound), errors.Is(err, os.ErrNotExist):
		return domain.KindDeviceNotFound
	case errors.Is(err, ErrDeviceBusy), errors.Is(err, syscall.EBUSY):
		return domain.KindDeviceBusy
	case errors.Is(err, ErrOverconstrained):
		return domain.KindUnsupportedConstraints
	case errors.Is(err, ErrInsecureContext):
		return domain.KindInsecureContext
	}
	return domain.KindUnknown
}
