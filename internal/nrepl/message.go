package nrepl

// Message is one protocol message in either direction: a mapping of string
// keys to byte strings, integers, lists or nested mappings. Protocol fields
// ("op", "id", "session", "status", ...) are plain UTF-8 strings once
// decoded; unknown fields pass through untouched.
type Message map[string]any

// GetString returns the string value for key, or "" when the field is
// absent or not a string.
func (m Message) GetString(key string) string {
	s, _ := m[key].(string)
	return s
}

// GetStringList returns the list value for key with every string element,
// or nil when the field is absent or not a list.
func (m Message) GetStringList(key string) []string {
	items, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// GetMap returns the nested mapping for key, or nil when the field is
// absent or not a mapping.
func (m Message) GetMap(key string) map[string]any {
	mm, _ := m[key].(map[string]any)
	return mm
}

// StatusContains reports whether the message's status set includes s.
func (m Message) StatusContains(s string) bool {
	for _, st := range m.GetStringList("status") {
		if st == s {
			return true
		}
	}
	return false
}

// ForRequest reports whether the message is a response to the request with
// the given id.
func (m Message) ForRequest(id string) bool {
	return m.GetString("id") == id
}
