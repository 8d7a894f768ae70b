package nrepl

import (
	"errors"
	"fmt"
)

// ErrOpTimeout reports a bookkeeping op (clone, ls-sessions, describe) that
// received no terminal response within its fixed timeout.
var ErrOpTimeout = errors.New("operation timed out")

var errNoNewSession = errors.New("clone response carried no new-session")

// ConnectError reports a failed or lost connection: refusal or timeout when
// dialing, and resets or closes while sending or awaiting a reply. It is
// fatal for the current invocation and never retried automatically.
type ConnectError struct {
	Addr string
	Op   string // "dial", "read", "write", or the protocol op that was in flight
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("nrepl: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }
