package media

import (
	"context"
	"fmt"

	"strangercall/native/internal/domain"

	"github.com/rs/zerolog/log"
)

// AcquirerConfig controls acquisition policy.
type AcquirerConfig struct {
	// Secure reports whether the client runs in a secure context. Devices
	// are never opened from an insecure one.
	Secure bool
	// Placeholder enables the synthetic fallback handle on total failure.
	Placeholder bool
}

// Acquirer obtains local media from a Device.
type Acquirer struct {
	device Device
	cfg    AcquirerConfig
}

// NewAcquirer creates an Acquirer for device.
func NewAcquirer(device Device, cfg AcquirerConfig) *Acquirer {
	return &Acquirer{device: device, cfg: cfg}
}

// Acquire opens the device with c, retrying once with BasicConstraints.
//
// On total failure the returned error is a *domain.Error naming the cause.
// If placeholder fallback is enabled the handle is non-nil anyway and
// carries synthetic media, so callers must check both return values.
func (a *Acquirer) Acquire(ctx context.Context, c Constraints) (*Handle, error) {
	if !a.cfg.Secure {
		return a.fallback(domain.NewError(domain.KindInsecureContext, "acquire local media", ErrInsecureContext))
	}
	if a.device == nil {
		return a.fallback(domain.NewError(domain.KindDeviceNotFound, "acquire local media", ErrDeviceNotFound))
	}

	capture, err := a.device.Open(ctx, c)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn().Str("module", "media").Err(err).Msg("preferred constraints failed, retrying with basic constraints")
		capture, err = a.device.Open(ctx, BasicConstraints())
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		kind := Classify(err)
		log.Error().Str("module", "media").Str("kind", string(kind)).Err(err).Msg("local media unavailable")
		return a.fallback(domain.NewError(kind, "acquire local media", err))
	}

	h, err := newHandle(capture, false)
	if err != nil {
		return a.fallback(domain.NewError(domain.KindUnknown, "acquire local media", err))
	}

	log.Info().Str("module", "media").Str("stream", h.StreamID()).Int("tracks", len(h.Tracks())).Msg("local media acquired")
	return h, nil
}

func (a *Acquirer) fallback(cause *domain.Error) (*Handle, error) {
	if !a.cfg.Placeholder {
		return nil, cause
	}
	h, err := newHandle(newPlaceholderCapture(), true)
	if err != nil {
		return nil, fmt.Errorf("%w (placeholder: %v)", cause, err)
	}
	log.Info().Str("module", "media").Str("cause", string(cause.Kind)).Msg("continuing with placeholder media")
	return h, cause
}
