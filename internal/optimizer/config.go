package optimizer

import (
	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
)

var validate = validator.New()

// Config controls a single optimization run.
type Config struct {
	// MaxRounds is the number of evaluation rounds to run at most.
	MaxRounds int `validate:"min=1"`
	// WindowSize is how many of the latest rounds the mutator sees.
	WindowSize int `validate:"min=1"`
	// Concurrency bounds parallel Invoker calls within a round.
	Concurrency int `validate:"min=1"`
	// MaxFailures caps failed predictions kept per round. 0 keeps all.
	MaxFailures int `validate:"min=0"`
	// CaseSensitive disables lowercasing during field comparison.
	CaseSensitive bool
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxRounds:   3,
		WindowSize:  2,
		Concurrency: 1,
	}
}

// Validate checks the configuration. Failures wrap ErrInvalidConfig.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return eris.Wrapf(ErrInvalidConfig, "optimizer: %v", err)
	}
	return nil
}
