package media

// Constraints describes what a device should deliver. Zero values mean
// "no requirement".
type Constraints struct {
	Audio bool
	Video bool

	IdealWidth  int
	IdealHeight int
	MaxWidth    int
	MaxHeight   int
	FacingMode  string

	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// PreferredConstraints is tried first.
func PreferredConstraints() Constraints {
	return Constraints{
		Audio:            true,
		Video:            true,
		IdealWidth:       640,
		IdealHeight:      480,
		MaxWidth:         1280,
		MaxHeight:        720,
		FacingMode:       "user",
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// BasicConstraints is the single fallback after PreferredConstraints fail.
func BasicConstraints() Constraints {
	return Constraints{Audio: true, Video: true}
}
