package nrepl

import (
	"time"
)

// Bookkeeping ops (clone, ls-sessions, describe) use short fixed timeouts;
// only eval runs under a caller-configured deadline.
const (
	OpTimeout    = 3 * time.Second
	writeTimeout = 3 * time.Second
	// messageReadTimeout bounds the remaining bytes of a message once its
	// first byte has arrived. Poll timeouts apply only between messages;
	// a peer silent for this long mid-value is treated as broken.
	messageReadTimeout = time.Minute
)

// roundTrip sends one request and merges every response carrying its id
// until a terminal "done" status arrives or the op timeout elapses.
// Responses for other ids on the same connection are ignored, not consumed
// destructively: bookkeeping ops never interleave with an in-flight eval.
func (c *Conn) roundTrip(op string, req Message) (Message, error) {
	return c.roundTripWithin(op, req, OpTimeout)
}

func (c *Conn) roundTripWithin(op string, req Message, timeout time.Duration) (Message, error) {
	id := NewRequestID()
	req["op"] = op
	req["id"] = id
	if err := c.Send(req); err != nil {
		return nil, err
	}

	merged := Message{}
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &ConnectError{Addr: c.addr, Op: op, Err: ErrOpTimeout}
		}
		resp, err := c.Receive(remaining)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return nil, &ConnectError{Addr: c.addr, Op: op, Err: ErrOpTimeout}
		}
		if !resp.ForRequest(id) {
			continue
		}
		for k, v := range resp {
			merged[k] = v
		}
		if resp.StatusContains("done") {
			return merged, nil
		}
	}
}

// Clone asks the server for a fresh session and returns its server-assigned
// id. Session ids are never client-generated.
func (c *Conn) Clone() (string, error) {
	resp, err := c.roundTrip("clone", Message{})
	if err != nil {
		return "", err
	}
	id := resp.GetString("new-session")
	if id == "" {
		return "", &ConnectError{Addr: c.addr, Op: "clone", Err: errNoNewSession}
	}
	return id, nil
}

// LsSessions returns the server's active session ids. An empty list is a
// successful answer.
func (c *Conn) LsSessions() ([]string, error) {
	resp, err := c.roundTrip("ls-sessions", Message{})
	if err != nil {
		return nil, err
	}
	return resp.GetStringList("sessions"), nil
}

// Describe returns the merged describe response, including the "versions"
// and "ops" maps used for runtime classification.
func (c *Conn) Describe() (Message, error) {
	return c.roundTrip("describe", Message{})
}

// EvalValue runs one introspection expression without a session and returns
// its printed value. Real evaluation goes through the engine with its own
// session and deadline handling; this is for short bookkeeping lookups only.
func (c *Conn) EvalValue(code string) (string, error) {
	resp, err := c.roundTrip("eval", Message{"code": code})
	if err != nil {
		return "", err
	}
	return resp.GetString("value"), nil
}
