package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-dev/parley/internal/nrepl"
)

func TestRecordSerialization(t *testing.T) {
	created := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	t.Run("serializes all fields", func(t *testing.T) {
		r := Record{
			Host:      "127.0.0.1",
			Port:      7888,
			SessionID: "31ae13c1-91c4-4a35-8a9f-5d8f63b0f8a2",
			EnvType:   nrepl.EnvBabashka,
			CreatedAt: created,
		}

		data, err := json.Marshal(r)
		require.NoError(t, err)

		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))

		assert.Equal(t, "127.0.0.1", m["host"])
		assert.Equal(t, float64(7888), m["port"])
		assert.Equal(t, "31ae13c1-91c4-4a35-8a9f-5d8f63b0f8a2", m["session_id"])
		assert.Equal(t, "bb", m["env_type"])
		assert.NotEmpty(t, m["created_at"])
	})

	t.Run("deserializes from JSON", func(t *testing.T) {
		input := `{
			"host": "localhost",
			"port": 1667,
			"session_id": "abc-123",
			"env_type": "shadow",
			"created_at": "2026-03-02T09:30:00Z"
		}`

		var r Record
		require.NoError(t, json.Unmarshal([]byte(input), &r))

		assert.Equal(t, "localhost", r.Host)
		assert.Equal(t, 1667, r.Port)
		assert.Equal(t, "abc-123", r.SessionID)
		assert.Equal(t, nrepl.EnvShadow, r.EnvType)
		assert.Equal(t, created, r.CreatedAt)
	})

	t.Run("target is derived from host and port", func(t *testing.T) {
		r := Record{Host: "10.0.0.5", Port: 4001}
		assert.Equal(t, nrepl.Target{Host: "10.0.0.5", Port: 4001}, r.Target())
		assert.Equal(t, "10.0.0.5:4001", r.Target().String())
	})
}
