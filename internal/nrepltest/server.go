// Package nrepltest provides a scriptable in-process nREPL server speaking
// real bencode over TCP, for exercising the client packages in tests
// without an external runtime.
package nrepltest

import (
	"bufio"
	"bytes"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/parley-dev/parley/internal/bencode"
	"github.com/parley-dev/parley/internal/nrepl"
)

// EvalFunc scripts the server's behavior for one eval request. emit sends a
// response message; the request id and session are filled in automatically
// unless the handler sets them. Returning without emitting a "done" status
// simulates an evaluation that never finishes.
type EvalFunc func(req nrepl.Message, emit func(nrepl.Message))

// Server is a fake nREPL server. The zero configuration answers clone,
// ls-sessions, describe, eval and interrupt the way a plain Clojure server
// would; fields customize the responses per test. Fields must be set via a
// Start option, before the server accepts connections.
type Server struct {
	t  testing.TB
	ln net.Listener

	// Versions is the describe "versions" map. Defaults to a plain
	// Clojure-shaped map.
	Versions map[string]any
	// DefaultNS is the namespace reported on eval responses (default "user";
	// set to "shadow.user" to impersonate shadow-cljs).
	DefaultNS string
	// ProjectDir, when set, is returned (quoted, the way a REPL prints a
	// string) for the working-directory introspection expressions.
	ProjectDir string
	// OnEval overrides the default eval behavior.
	OnEval EvalFunc
	// IgnoreInterrupts makes interrupt requests vanish without any reply.
	IgnoreInterrupts bool
	// StallAfter, when positive, splits every response at that byte offset
	// and pauses StallFor between the halves, simulating a peer whose
	// messages arrive fragmented and slow.
	StallAfter int
	StallFor   time.Duration

	mu       sync.Mutex
	sessions map[string]bool
	conns    []net.Conn
	clones   int
	evals    []string
}

// Start launches the server on a loopback port and registers cleanup. Options
// run before the first connection is accepted.
func Start(t testing.TB, opts ...func(*Server)) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("nrepltest: listen: %v", err)
	}

	s := &Server{
		t:         t,
		ln:        ln,
		DefaultNS: "user",
		Versions: map[string]any{
			"clojure": map[string]any{"major": int64(1), "minor": int64(12)},
			"java":    map[string]any{},
			"nrepl":   map[string]any{"major": int64(1)},
		},
		sessions: map[string]bool{},
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

// Host returns the loopback address the server listens on.
func (s *Server) Host() string { return "127.0.0.1" }

// Port returns the listening port.
func (s *Server) Port() int { return s.ln.Addr().(*net.TCPAddr).Port }

// Close stops the listener. Safe to call more than once.
func (s *Server) Close() { _ = s.ln.Close() }

// Hangup drops every live connection, simulating a server dying mid-stream.
// The listener stays up, so reconnects still succeed.
func (s *Server) Hangup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
}

// ActiveSessions returns the ids the server would report via ls-sessions.
func (s *Server) ActiveSessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}
	return out
}

// DropSession forgets a session id, simulating a server restart that
// invalidated it.
func (s *Server) DropSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// CloneCount returns how many clone ops the server has answered.
func (s *Server) CloneCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clones
}

// EvaledCode returns the code strings received by eval requests, in order.
func (s *Server) EvaledCode() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.evals...)
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	r := bufio.NewReader(conn)
	for {
		v, err := bencode.Decode(r)
		if err != nil {
			return
		}
		m, ok := v.(map[string]any)
		if !ok {
			return
		}
		req := nrepl.Message(m)

		send := func(msg nrepl.Message) {
			if msg.GetString("id") == "" && req.GetString("id") != "" {
				msg["id"] = req.GetString("id")
			}
			if msg.GetString("session") == "" && req.GetString("session") != "" {
				msg["session"] = req.GetString("session")
			}
			var buf bytes.Buffer
			if err := bencode.Encode(&buf, map[string]any(msg)); err != nil {
				return
			}
			raw := buf.Bytes()
			if s.StallAfter > 0 && s.StallAfter < len(raw) {
				if _, err := conn.Write(raw[:s.StallAfter]); err != nil {
					return
				}
				time.Sleep(s.StallFor)
				raw = raw[s.StallAfter:]
			}
			_, _ = conn.Write(raw)
		}

		s.dispatch(req, send)
	}
}

func (s *Server) dispatch(req nrepl.Message, send func(nrepl.Message)) {
	switch req.GetString("op") {
	case "clone":
		id := uuid.NewString()
		s.mu.Lock()
		s.sessions[id] = true
		s.clones++
		s.mu.Unlock()
		send(nrepl.Message{"new-session": id, "status": []any{"done"}})

	case "ls-sessions":
		ids := s.ActiveSessions()
		list := make([]any, len(ids))
		for i, id := range ids {
			list[i] = id
		}
		send(nrepl.Message{"sessions": list, "status": []any{"done"}})

	case "describe":
		send(nrepl.Message{
			"versions": s.Versions,
			"ops":      map[string]any{"clone": map[string]any{}, "eval": map[string]any{}},
			"status":   []any{"done"},
		})

	case "eval":
		code := req.GetString("code")
		s.mu.Lock()
		s.evals = append(s.evals, code)
		s.mu.Unlock()
		if s.OnEval != nil {
			s.OnEval(req, send)
			return
		}
		s.defaultEval(code, send)

	case "interrupt":
		if s.IgnoreInterrupts {
			return
		}
		// The aborted evaluation reports interrupted under its own id; the
		// interrupt op itself is acknowledged without one.
		send(nrepl.Message{
			"id":     req.GetString("interrupt-id"),
			"status": []any{"done", "interrupted"},
		})
		send(nrepl.Message{"status": []any{"done"}})

	default:
		send(nrepl.Message{"status": []any{"error", "unknown-op", "done"}})
	}
}

// cwdExprs mirrors the working-directory expressions the client evaluates
// during project correlation.
var cwdExprs = map[string]bool{
	`(System/getProperty "user.dir")`: true,
	`(do (import os) (os/getcwd))`:    true,
}

func (s *Server) defaultEval(code string, send func(nrepl.Message)) {
	value := "nil"
	if cwdExprs[code] && s.ProjectDir != "" {
		value = `"` + s.ProjectDir + `"`
	}
	send(nrepl.Message{"value": value, "ns": s.DefaultNS})
	send(nrepl.Message{"status": []any{"done"}})
}
