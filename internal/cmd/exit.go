package cmd

import (
	"errors"

	"github.com/parley-dev/parley/internal/bencode"
	"github.com/parley-dev/parley/internal/nrepl"
)

// Process exit codes. Scripted callers tell connection trouble, protocol
// violations, evaluation errors, and cancelled evaluations apart by code.
const (
	ExitOK        = 0
	ExitEvalError = 1
	ExitConnect   = 2
	ExitProtocol  = 3
	ExitTimeout   = 4
)

// ExitError pins the process exit code for a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by Execute to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	var connErr *nrepl.ConnectError
	if errors.As(err, &connErr) {
		return ExitConnect
	}
	var protoErr *bencode.ProtocolError
	if errors.As(err, &protoErr) {
		return ExitProtocol
	}
	// Anything else (usage, config, IO) shares the generic failure code.
	return 1
}
