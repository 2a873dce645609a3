package optimizer

import "github.com/rotisserie/eris"

var (
	// ErrNoSamples is returned when a run is started without samples.
	ErrNoSamples = eris.New("optimizer: no samples")
	// ErrInvalidConfig is returned when Config fails validation.
	ErrInvalidConfig = eris.New("optimizer: invalid config")
)
