package session

import (
	"time"

	"github.com/parley-dev/parley/internal/nrepl"
)

// Record is the persisted session state for one target: the server-assigned
// session id plus the runtime flavor detected when it was created.
type Record struct {
	Host      string        `json:"host" yaml:"host"`
	Port      int           `json:"port" yaml:"port"`
	SessionID string        `json:"session_id" yaml:"session_id"`
	EnvType   nrepl.EnvType `json:"env_type" yaml:"env_type"`
	CreatedAt time.Time     `json:"created_at" yaml:"created_at"`
}

// Target returns the target the record belongs to.
func (r *Record) Target() nrepl.Target {
	return nrepl.Target{Host: r.Host, Port: r.Port}
}

// Backend is the storage a Store persists records through, keyed by target.
// Implementations provide no cross-process locking: concurrent invocations
// against the same target race on the stored record and the last write
// wins. That is a documented property of the tool, not a bug.
type Backend interface {
	// Load returns the record for t, or (nil, nil) when absent.
	Load(t nrepl.Target) (*Record, error)
	// Save persists the record for t, replacing any previous one.
	Save(t nrepl.Target, rec *Record) error
	// Delete removes the record for t. Deleting an absent record is not an
	// error.
	Delete(t nrepl.Target) error
	// List returns every stored record.
	List() ([]*Record, error)
	// Close releases backend resources. Safe to call on a zero-cost backend.
	Close() error
}
