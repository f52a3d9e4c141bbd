package bootstrap

import (
	"errors"
	"fmt"

	"github.com/foxseedlab/emasr/internal/config"
	"github.com/foxseedlab/emasr/internal/transport"
)

const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitConfiguration = 2
	ExitListenBind    = 3
	ExitModelInit     = 4
)

type ModelInitError struct {
	Err error
}

func (e *ModelInitError) Error() string {
	return fmt.Sprintf("model init failed: %v", e.Err)
}

func (e *ModelInitError) Unwrap() error {
	return e.Err
}

// PoolError reports a worker pool that could not be built or started.
type PoolError struct {
	Pool string
	Err  error
}

func (e *PoolError) Error() string {
	return fmt.Sprintf("%s pool: %v", e.Pool, e.Err)
}

func (e *PoolError) Unwrap() error {
	return e.Err
}

// ExitCode maps a startup or run error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var cfgErr *config.ConfigurationError
	var bindErr *transport.ListenBindError
	var modelErr *ModelInitError
	switch {
	case errors.As(err, &cfgErr):
		return ExitConfiguration
	case errors.As(err, &bindErr):
		return ExitListenBind
	case errors.As(err, &modelErr):
		return ExitModelInit
	default:
		return ExitFailure
	}
}
