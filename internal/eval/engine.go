// Package eval drives one expression through an evaluation server: session
// acquisition, the eval request itself, streamed response handling, and the
// interrupt protocol when the evaluation outlives its deadline.
package eval

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/parley-dev/parley/internal/nrepl"
	"github.com/parley-dev/parley/internal/session"
)

// State is the lifecycle position of one evaluation.
type State int

const (
	StateSending State = iota
	StateStreaming
	StateDone
	StateInterrupting
	StateInterrupted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	case StateInterrupting:
		return "interrupting"
	case StateInterrupted:
		return "interrupted"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// MarshalJSON renders the state name rather than its ordinal.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Value is one returned value paired with the namespace active when the
// server produced it.
type Value struct {
	Value string `json:"value"`
	NS    string `json:"ns"`
}

// Result is the terminal outcome of one evaluation. Output and values
// received before a timeout or failure are kept, never discarded.
type Result struct {
	State       State           `json:"state"`
	Values      []Value         `json:"values"`
	Out         string          `json:"out"`
	Err         string          `json:"err"`
	TimedOut    bool            `json:"timed_out"`
	Unconfirmed bool            `json:"unconfirmed,omitempty"`
	EvalError   bool            `json:"eval_error,omitempty"`
	Exception   string          `json:"exception,omitempty"`
	Session     *session.Record `json:"session,omitempty"`
}

const (
	// DefaultPollInterval bounds each single read while waiting for
	// responses, so the overall deadline is re-checked between reads.
	DefaultPollInterval = 250 * time.Millisecond
	// DefaultInterruptRetries is how many polls to spend waiting for the
	// server to confirm an interrupt before reporting it unconfirmed.
	DefaultInterruptRetries = 20
)

// Engine runs expressions to completion over one connection.
type Engine struct {
	conn   *nrepl.Conn
	store  *session.Store
	repair Repairer
	out    io.Writer
	errOut io.Writer
	log    *slog.Logger

	// PollInterval bounds each read while streaming responses.
	PollInterval time.Duration
	// InterruptRetries bounds the confirmation polls after an interrupt.
	InterruptRetries int
}

// New returns an engine evaluating over conn. Output and error fragments
// are written to out and errOut as they arrive, so long evaluations surface
// progress before they finish.
func New(conn *nrepl.Conn, store *session.Store, repair Repairer, out, errOut io.Writer) *Engine {
	return &Engine{
		conn:             conn,
		store:            store,
		repair:           repair,
		out:              out,
		errOut:           errOut,
		log:              slog.With("component", "eval"),
		PollInterval:     DefaultPollInterval,
		InterruptRetries: DefaultInterruptRetries,
	}
}

// evaluation is the mutable state of one Run call.
type evaluation struct {
	id      string
	session string
	res     *Result
	out     bytes.Buffer
	errOut  bytes.Buffer
}

// matches reports whether msg belongs to this evaluation: responses are
// correlated by request id and session together.
func (ev *evaluation) matches(msg nrepl.Message) bool {
	return msg.ForRequest(ev.id) && msg.GetString("session") == ev.session
}

// Run evaluates code against the target and blocks until the server reports
// completion, the deadline passes, or the connection fails. The returned
// result carries everything received up to that point on every path.
func (e *Engine) Run(target nrepl.Target, code string, timeout time.Duration) (*Result, error) {
	ev := &evaluation{res: &Result{State: StateSending}}
	defer func() {
		ev.res.Out = ev.out.String()
		ev.res.Err = ev.errOut.String()
	}()

	rec, err := e.store.Acquire(e.conn, target)
	if err != nil {
		ev.res.State = StateFailed
		return ev.res, err
	}
	ev.res.Session = rec
	ev.session = rec.SessionID
	ev.id = nrepl.NewRequestID()

	if err := e.conn.Send(nrepl.Message{
		"op":      "eval",
		"code":    e.repaired(code),
		"id":      ev.id,
		"session": ev.session,
	}); err != nil {
		ev.res.State = StateFailed
		return ev.res, err
	}
	e.log.Debug("eval sent", "target", target.String(), "id", ev.id, "timeout", timeout)

	ev.res.State = StateStreaming
	deadline := time.Now().Add(timeout)

	for {
		if time.Now().After(deadline) {
			return e.interrupt(ev)
		}
		msg, err := e.conn.Receive(e.PollInterval)
		if err != nil {
			ev.res.State = StateFailed
			return ev.res, err
		}
		if msg == nil || !ev.matches(msg) {
			continue
		}
		e.collect(ev, msg)
		if msg.StatusContains("done") {
			ev.res.State = StateDone
			e.log.Debug("eval done", "id", ev.id, "values", len(ev.res.Values))
			return ev.res, nil
		}
	}
}

// collect folds one matching response into the evaluation: output fragments
// in arrival order, values paired with their namespace, and error status.
func (e *Engine) collect(ev *evaluation, msg nrepl.Message) {
	if s := msg.GetString("out"); s != "" {
		ev.out.WriteString(s)
		_, _ = io.WriteString(e.out, s)
	}
	if s := msg.GetString("err"); s != "" {
		ev.errOut.WriteString(s)
		_, _ = io.WriteString(e.errOut, s)
	}
	if v, ok := msg["value"].(string); ok {
		ev.res.Values = append(ev.res.Values, Value{Value: v, NS: msg.GetString("ns")})
	}
	if msg.StatusContains("eval-error") {
		ev.res.EvalError = true
		if ex := msg.GetString("ex"); ex != "" {
			ev.res.Exception = ex
		} else if ex := msg.GetString("root-ex"); ex != "" {
			ev.res.Exception = ex
		}
	}
}

// interrupt is entered when the deadline passes while the evaluation is
// still streaming. A graceful protocol-level interrupt is always attempted
// first; an abrupt close could leave the server evaluating orphaned work.
// The server may confirm promptly, late, or never; the result is terminal
// either way, with Unconfirmed marking the last case.
func (e *Engine) interrupt(ev *evaluation) (*Result, error) {
	ev.res.State = StateInterrupting
	ev.res.TimedOut = true
	e.log.Debug("deadline passed, interrupting", "id", ev.id)

	if err := e.conn.Send(nrepl.Message{
		"op":           "interrupt",
		"session":      ev.session,
		"interrupt-id": ev.id,
	}); err != nil {
		ev.res.State = StateFailed
		return ev.res, err
	}

	for attempt := 0; attempt < e.InterruptRetries; attempt++ {
		msg, err := e.conn.Receive(e.PollInterval)
		if err != nil {
			ev.res.State = StateFailed
			return ev.res, err
		}
		if msg == nil || !ev.matches(msg) {
			continue
		}
		e.collect(ev, msg)
		if msg.StatusContains("interrupted") || msg.StatusContains("done") {
			ev.res.State = StateInterrupted
			e.log.Debug("interrupt confirmed", "id", ev.id)
			return ev.res, nil
		}
	}

	// No confirmation: the server may still be running the evaluation.
	ev.res.State = StateInterrupted
	ev.res.Unconfirmed = true
	e.log.Debug("interrupt unconfirmed", "id", ev.id, "attempts", e.InterruptRetries)
	return ev.res, nil
}

// repaired runs the code through the delimiter repairer, falling back to
// the original text whenever repair is unavailable or declines.
func (e *Engine) repaired(code string) string {
	if e.repair == nil {
		return code
	}
	fixed, err := e.repair.Repair(code)
	if err != nil {
		e.log.Debug("repair declined, sending original", "error", err)
		return code
	}
	return fixed
}
