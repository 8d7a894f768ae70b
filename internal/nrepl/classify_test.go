package nrepl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyVersions(t *testing.T) {
	tests := []struct {
		name     string
		versions map[string]any
		want     EnvType
	}{
		{
			// babashka reports a clojure version too; the specific key wins.
			"babashka beats clojure",
			map[string]any{"babashka": "1.3.191", "clojure": map[string]any{}},
			EnvBabashka,
		},
		{
			"plain clojure",
			map[string]any{"clojure": map[string]any{}, "java": map[string]any{}, "nrepl": map[string]any{}},
			EnvClj,
		},
		{
			"basilisp beats clojure",
			map[string]any{"basilisp": "0.4.0", "clojure": map[string]any{}},
			EnvBasilisp,
		},
		{"scittle", map[string]any{"scittle": "0.6.22"}, EnvScittle},
		{"shadow-cljs version key", map[string]any{"shadow-cljs": "2.28.0", "clojure": map[string]any{}}, EnvShadow},
		{"no known keys", map[string]any{"mystery": "1"}, EnvUnknown},
		{"nil versions", nil, EnvUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyVersions(tt.versions))
		})
	}
}

// A server whose describe response says plain Clojure but whose sessionless
// default namespace is shadow.user is shadow-cljs in disguise; the probe
// verdict wins.
func TestDetectEnvShadowProbeOverridesDescribe(t *testing.T) {
	port := startScript(t, func(req Message, send func(Message)) bool {
		switch req.GetString("op") {
		case "describe":
			send(Message{
				"id": req.GetString("id"),
				"versions": map[string]any{
					"clojure": map[string]any{"major": int64(1)},
					"java":    map[string]any{},
				},
				"status": []any{"done"},
			})
		case "eval":
			require.Empty(t, req.GetString("session"), "probe must be sessionless")
			send(Message{"id": req.GetString("id"), "value": "nil", "ns": "shadow.user"})
			send(Message{"id": req.GetString("id"), "status": []any{"done"}})
		}
		return true
	})

	c := dialTest(t, port)
	env, err := DetectEnv(c)
	require.NoError(t, err)
	assert.Equal(t, EnvShadow, env)
}

func TestDetectEnvKeepsDescribeWhenProbeIsOrdinary(t *testing.T) {
	port := startScript(t, func(req Message, send func(Message)) bool {
		switch req.GetString("op") {
		case "describe":
			send(Message{
				"id":       req.GetString("id"),
				"versions": map[string]any{"babashka": "1.3.191", "clojure": map[string]any{}},
				"status":   []any{"done"},
			})
		case "eval":
			send(Message{"id": req.GetString("id"), "value": "nil", "ns": "user"})
			send(Message{"id": req.GetString("id"), "status": []any{"done"}})
		}
		return true
	})

	c := dialTest(t, port)
	env, err := DetectEnv(c)
	require.NoError(t, err)
	assert.Equal(t, EnvBabashka, env)
}

func TestDetectEnvDescribeFailure(t *testing.T) {
	port := startScript(t, func(req Message, send func(Message)) bool {
		return false // connection drops on first request
	})

	c := dialTest(t, port)
	_, err := DetectEnv(c)
	require.Error(t, err)
}
