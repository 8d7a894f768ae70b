// Package bencode implements the length-prefixed, self-delimiting binary
// encoding spoken by nREPL servers: byte strings as "<len>:<raw>", integers
// as "i<decimal>e", lists as "l...e" and dictionaries as "d...e".
//
// Decoded byte strings are returned as UTF-8 text. Decoding reads exactly
// one complete value per call and leaves the reader positioned at the next
// value boundary; a truncated or malformed value fails with *ProtocolError
// and never silently returns partial data.
package bencode

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// maxStringLen bounds a single byte-string payload. Anything larger than
// this on a REPL connection is a corrupted length prefix, not real data.
const maxStringLen = 64 << 20

// ProtocolError reports malformed or truncated wire data. Raw holds the
// bytes that triggered the failure, when they are available.
type ProtocolError struct {
	Reason string
	Raw    []byte
}

func (e *ProtocolError) Error() string {
	if len(e.Raw) > 0 {
		return fmt.Sprintf("bencode: %s (input %q)", e.Reason, e.Raw)
	}
	return fmt.Sprintf("bencode: %s", e.Reason)
}

// Encode writes one bencoded value to w. Supported values are string, int,
// int64, []string, []any and map[string]any, nested arbitrarily. Dictionary
// keys are emitted in sorted order so output is deterministic; the protocol
// itself accepts any key order.
func Encode(w io.Writer, v any) error {
	switch val := v.(type) {
	case string:
		if _, err := fmt.Fprintf(w, "%d:%s", len(val), val); err != nil {
			return err
		}
	case int:
		if _, err := fmt.Fprintf(w, "i%de", val); err != nil {
			return err
		}
	case int64:
		if _, err := fmt.Fprintf(w, "i%de", val); err != nil {
			return err
		}
	case []string:
		vs := make([]any, len(val))
		for i, s := range val {
			vs[i] = s
		}
		return Encode(w, vs)
	case []any:
		if _, err := io.WriteString(w, "l"); err != nil {
			return err
		}
		for _, item := range val {
			if err := Encode(w, item); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "e"); err != nil {
			return err
		}
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if _, err := io.WriteString(w, "d"); err != nil {
			return err
		}
		for _, k := range keys {
			if err := Encode(w, k); err != nil {
				return err
			}
			if err := Encode(w, val[k]); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "e"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("bencode: cannot encode value of type %T", v)
	}
	return nil
}

// Decode reads exactly one bencoded value from r. It returns string, int64,
// []any or map[string]any. io.EOF is returned untouched when the stream ends
// cleanly before the first byte; any failure after that is *ProtocolError,
// except read errors on an untouched stream (timeouts), which pass through
// for the caller to classify.
func Decode(r *bufio.Reader) (any, error) {
	d := &decoder{r: r}
	v, err := d.value()
	if err != nil {
		return nil, d.classify(err)
	}
	return v, nil
}

type decoder struct {
	r        *bufio.Reader
	consumed int
}

// classify maps low-level read errors onto the decoding contract: once any
// byte of a value has been consumed, every failure poisons the stream and
// becomes a *ProtocolError.
func (d *decoder) classify(err error) error {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return err
	}
	if d.consumed == 0 {
		return err
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &ProtocolError{Reason: "truncated value"}
	}
	return &ProtocolError{Reason: fmt.Sprintf("read failed mid-value: %v", err)}
}

func (d *decoder) readByte() (byte, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return 0, err
	}
	d.consumed++
	return b, nil
}

func (d *decoder) value() (any, error) {
	b, err := d.readByte()
	if err != nil {
		return nil, err
	}
	switch {
	case b >= '0' && b <= '9':
		return d.str(b)
	case b == 'i':
		return d.integer()
	case b == 'l':
		return d.list()
	case b == 'd':
		return d.dict()
	default:
		return nil, &ProtocolError{Reason: "invalid type prefix", Raw: []byte{b}}
	}
}

// str decodes "<len>:<raw>" after its first digit has been consumed.
func (d *decoder) str(first byte) (string, error) {
	digits := []byte{first}
	for {
		b, err := d.readByte()
		if err != nil {
			return "", err
		}
		if b == ':' {
			break
		}
		if b < '0' || b > '9' {
			return "", &ProtocolError{Reason: "invalid string length", Raw: append(digits, b)}
		}
		digits = append(digits, b)
		if len(digits) > 10 {
			return "", &ProtocolError{Reason: "string length out of range", Raw: digits}
		}
	}
	n, err := strconv.Atoi(string(digits))
	if err != nil || n > maxStringLen {
		return "", &ProtocolError{Reason: "string length out of range", Raw: digits}
	}
	buf := make([]byte, n)
	read, err := io.ReadFull(d.r, buf)
	d.consumed += read
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// integer decodes "i<decimal>e" after the leading 'i' has been consumed.
func (d *decoder) integer() (int64, error) {
	var digits []byte
	for {
		b, err := d.readByte()
		if err != nil {
			return 0, err
		}
		if b == 'e' {
			break
		}
		if b != '-' && (b < '0' || b > '9') {
			return 0, &ProtocolError{Reason: "invalid integer", Raw: append(digits, b)}
		}
		digits = append(digits, b)
		if len(digits) > 20 {
			return 0, &ProtocolError{Reason: "integer out of range", Raw: digits}
		}
	}
	n, err := strconv.ParseInt(string(digits), 10, 64)
	if err != nil {
		return 0, &ProtocolError{Reason: "invalid integer", Raw: digits}
	}
	return n, nil
}

func (d *decoder) list() ([]any, error) {
	items := []any{}
	for {
		b, err := d.r.Peek(1)
		if err != nil {
			return nil, d.wrapPeek(err)
		}
		if b[0] == 'e' {
			_, _ = d.readByte()
			return items, nil
		}
		item, err := d.value()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
}

func (d *decoder) dict() (map[string]any, error) {
	m := map[string]any{}
	for {
		b, err := d.r.Peek(1)
		if err != nil {
			return nil, d.wrapPeek(err)
		}
		if b[0] == 'e' {
			_, _ = d.readByte()
			return m, nil
		}
		keyVal, err := d.value()
		if err != nil {
			return nil, err
		}
		key, ok := keyVal.(string)
		if !ok {
			return nil, &ProtocolError{Reason: fmt.Sprintf("dictionary key is %T, want string", keyVal)}
		}
		val, err := d.value()
		if err != nil {
			return nil, err
		}
		m[key] = val
	}
}

// wrapPeek turns an EOF seen while looking for a container terminator into
// a truncation error: by this point part of the value is always consumed.
func (d *decoder) wrapPeek(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &ProtocolError{Reason: "truncated value"}
	}
	return err
}
