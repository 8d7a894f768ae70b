// Package session persists the server-assigned evaluation session for each
// target so defined names and loaded state survive across CLI invocations.
// Sessions are cheap to create but expensive to lose silently, so the store
// always re-validates a persisted session against the live server instead
// of trusting or discarding it blindly.
package session

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/parley-dev/parley/internal/nrepl"
)

// Store resolves the session to evaluate under for a given target.
type Store struct {
	backend Backend
	log     *slog.Logger
}

// NewStore wraps a storage backend.
func NewStore(backend Backend) *Store {
	return &Store{
		backend: backend,
		log:     slog.With("component", "session"),
	}
}

// Load returns the persisted record for the target, or nil when absent or
// unreadable. Storage trouble is never fatal here: a fresh clone recovers.
func (s *Store) Load(target nrepl.Target) *Record {
	rec, err := s.backend.Load(target)
	if err != nil {
		s.log.Debug("load failed, treating as absent", "target", target.String(), "error", err)
		return nil
	}
	return rec
}

// Validate checks that the server behind conn still reports sessionID among
// its active sessions. It must run on the same connection that will be used
// for the subsequent eval, so no other invocation can invalidate the session
// between the check and its use on this connection's stream.
func (s *Store) Validate(conn *nrepl.Conn, sessionID string) (bool, error) {
	sessions, err := conn.LsSessions()
	if err != nil {
		return false, fmt.Errorf("failed to list server sessions: %w", err)
	}
	for _, id := range sessions {
		if id == sessionID {
			return true, nil
		}
	}
	return false, nil
}

// Acquire returns a valid session for the target, reusing the persisted one
// when the server still honors it and cloning a fresh one otherwise. The
// new record is persisted before it is returned.
func (s *Store) Acquire(conn *nrepl.Conn, target nrepl.Target) (*Record, error) {
	if rec := s.Load(target); rec != nil {
		ok, err := s.Validate(conn, rec.SessionID)
		if err != nil {
			return nil, err
		}
		if ok {
			s.log.Debug("reusing session", "target", target.String(), "session", rec.SessionID)
			return rec, nil
		}
		// Drop the stale entry now rather than leaving an orphan if the
		// clone below fails.
		if err := s.backend.Delete(target); err != nil {
			s.log.Debug("failed to delete stale session", "target", target.String(), "error", err)
		}
		s.log.Debug("persisted session no longer active", "target", target.String(), "session", rec.SessionID)
	}

	id, err := conn.Clone()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	// Detect the runtime flavor once per session; evaluation works either
	// way, so a failed probe degrades to unknown instead of failing.
	env, err := nrepl.DetectEnv(conn)
	if err != nil {
		s.log.Debug("env detection failed", "target", target.String(), "error", err)
		env = nrepl.EnvUnknown
	}

	rec := &Record{
		Host:      target.Host,
		Port:      target.Port,
		SessionID: id,
		EnvType:   env,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.backend.Save(target, rec); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}
	s.log.Debug("created session", "target", target.String(), "session", id, "env", string(env))
	return rec, nil
}

// Reset deletes the persisted session for the target without contacting the
// server; the next Acquire starts fresh.
func (s *Store) Reset(target nrepl.Target) error {
	return s.backend.Delete(target)
}

// List returns every persisted record.
func (s *Store) List() ([]*Record, error) {
	return s.backend.List()
}
