package validation

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownProcedure is returned when no validator is registered for a name.
	ErrUnknownProcedure = errors.New("unknown procedure")

	// ErrInvalidValidator is returned for malformed validator definitions.
	ErrInvalidValidator = errors.New("invalid validator definition")

	// ErrPostContextRequired is returned when post rules are run without an
	// execution outcome.
	ErrPostContextRequired = errors.New("post validation requires expected outputs and an execution record")
)

// ConfigError is a configuration problem detected before any run begins.
type ConfigError struct {
	Procedure string
	Err       error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for procedure %q: %v", e.Procedure, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configErrorf(procedure string, sentinel error, format string, args ...any) error {
	return &ConfigError{
		Procedure: procedure,
		Err:       fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...)),
	}
}
