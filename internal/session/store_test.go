package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-dev/parley/internal/nrepl"
	"github.com/parley-dev/parley/internal/nrepltest"
)

func testBackends(t *testing.T) map[string]Backend {
	t.Helper()

	file, err := NewFileBackend(filepath.Join(t.TempDir(), "sessions", "default"))
	require.NoError(t, err)

	sqlite, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "sessions.db"), "default")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Backend{"file": file, "sqlite": sqlite}
}

func TestBackendCRUD(t *testing.T) {
	target := nrepl.Target{Host: "127.0.0.1", Port: 7888}
	rec := &Record{
		Host:      target.Host,
		Port:      target.Port,
		SessionID: "sess-1",
		EnvType:   nrepl.EnvClj,
		CreatedAt: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
	}

	for name, backend := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("load absent returns nil without error", func(t *testing.T) {
				got, err := backend.Load(target)
				require.NoError(t, err)
				assert.Nil(t, got)
			})

			t.Run("save then load round-trips", func(t *testing.T) {
				require.NoError(t, backend.Save(target, rec))

				got, err := backend.Load(target)
				require.NoError(t, err)
				require.NotNil(t, got)
				assert.Equal(t, rec.SessionID, got.SessionID)
				assert.Equal(t, rec.EnvType, got.EnvType)
				assert.Equal(t, rec.Host, got.Host)
				assert.Equal(t, rec.Port, got.Port)
			})

			t.Run("save overwrites the previous record", func(t *testing.T) {
				updated := *rec
				updated.SessionID = "sess-2"
				require.NoError(t, backend.Save(target, &updated))

				got, err := backend.Load(target)
				require.NoError(t, err)
				require.NotNil(t, got)
				assert.Equal(t, "sess-2", got.SessionID)
			})

			t.Run("list returns every record", func(t *testing.T) {
				other := nrepl.Target{Host: "127.0.0.1", Port: 1667}
				require.NoError(t, backend.Save(other, &Record{
					Host: other.Host, Port: other.Port,
					SessionID: "sess-bb", EnvType: nrepl.EnvBabashka,
					CreatedAt: time.Now().UTC(),
				}))

				records, err := backend.List()
				require.NoError(t, err)
				assert.Len(t, records, 2)
			})

			t.Run("delete removes a record", func(t *testing.T) {
				require.NoError(t, backend.Delete(target))

				got, err := backend.Load(target)
				require.NoError(t, err)
				assert.Nil(t, got)
			})

			t.Run("delete absent is not an error", func(t *testing.T) {
				require.NoError(t, backend.Delete(nrepl.Target{Host: "nowhere", Port: 1}))
			})
		})
	}
}

func TestFileBackendCorruptRecord(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sessions")
	backend, err := NewFileBackend(dir)
	require.NoError(t, err)

	target := nrepl.Target{Host: "127.0.0.1", Port: 7888}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "127.0.0.1_7888.json"), []byte("not json{"), 0644))

	t.Run("load treats corrupt file as absent", func(t *testing.T) {
		got, err := backend.Load(target)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("list skips corrupt entries", func(t *testing.T) {
		require.NoError(t, backend.Save(nrepl.Target{Host: "127.0.0.1", Port: 9000}, &Record{
			Host: "127.0.0.1", Port: 9000, SessionID: "ok", CreatedAt: time.Now().UTC(),
		}))

		records, err := backend.List()
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "ok", records[0].SessionID)
	})
}

func TestSQLiteBackendScopesAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")

	work, err := NewSQLiteBackend(path, "work")
	require.NoError(t, err)
	defer work.Close()

	play, err := NewSQLiteBackend(path, "play")
	require.NoError(t, err)
	defer play.Close()

	target := nrepl.Target{Host: "127.0.0.1", Port: 7888}
	require.NoError(t, work.Save(target, &Record{
		Host: target.Host, Port: target.Port,
		SessionID: "work-sess", CreatedAt: time.Now().UTC(),
	}))

	got, err := play.Load(target)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = work.Load(target)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "work-sess", got.SessionID)
}

func dialTest(t *testing.T, srv *nrepltest.Server) *nrepl.Conn {
	t.Helper()
	conn, err := nrepl.Dial(srv.Host(), srv.Port(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func newFileStore(t *testing.T) *Store {
	t.Helper()
	backend, err := NewFileBackend(filepath.Join(t.TempDir(), "sessions", "default"))
	require.NoError(t, err)
	return NewStore(backend)
}

func TestStoreAcquire(t *testing.T) {
	t.Run("reuses a still-active session across invocations", func(t *testing.T) {
		srv := nrepltest.Start(t)
		store := newFileStore(t)
		target := nrepl.Target{Host: srv.Host(), Port: srv.Port()}

		first, err := store.Acquire(dialTest(t, srv), target)
		require.NoError(t, err)
		require.NotEmpty(t, first.SessionID)

		second, err := store.Acquire(dialTest(t, srv), target)
		require.NoError(t, err)

		assert.Equal(t, first.SessionID, second.SessionID)
		assert.Equal(t, 1, srv.CloneCount())
	})

	t.Run("recovers when the server invalidated the session", func(t *testing.T) {
		srv := nrepltest.Start(t)
		store := newFileStore(t)
		target := nrepl.Target{Host: srv.Host(), Port: srv.Port()}

		first, err := store.Acquire(dialTest(t, srv), target)
		require.NoError(t, err)

		srv.DropSession(first.SessionID)

		conn := dialTest(t, srv)
		second, err := store.Acquire(conn, target)
		require.NoError(t, err)

		assert.NotEqual(t, first.SessionID, second.SessionID)
		assert.Equal(t, 2, srv.CloneCount())

		ok, err := store.Validate(conn, second.SessionID)
		require.NoError(t, err)
		assert.True(t, ok)

		persisted := store.Load(target)
		require.NotNil(t, persisted)
		assert.Equal(t, second.SessionID, persisted.SessionID)
	})

	t.Run("records the detected env type", func(t *testing.T) {
		srv := nrepltest.Start(t, func(s *nrepltest.Server) {
			s.Versions = map[string]any{
				"babashka": "1.12.196",
				"clojure":  map[string]any{"major": int64(1)},
			}
		})
		store := newFileStore(t)
		target := nrepl.Target{Host: srv.Host(), Port: srv.Port()}

		rec, err := store.Acquire(dialTest(t, srv), target)
		require.NoError(t, err)
		assert.Equal(t, nrepl.EnvBabashka, rec.EnvType)
	})
}

func TestStoreValidate(t *testing.T) {
	srv := nrepltest.Start(t)
	store := newFileStore(t)
	conn := dialTest(t, srv)

	id, err := conn.Clone()
	require.NoError(t, err)

	ok, err := store.Validate(conn, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Validate(conn, "no-such-session")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreReset(t *testing.T) {
	srv := nrepltest.Start(t)
	store := newFileStore(t)
	target := nrepl.Target{Host: srv.Host(), Port: srv.Port()}

	first, err := store.Acquire(dialTest(t, srv), target)
	require.NoError(t, err)

	require.NoError(t, store.Reset(target))
	assert.Nil(t, store.Load(target))

	second, err := store.Acquire(dialTest(t, srv), target)
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)
}

func TestStoreList(t *testing.T) {
	store := newFileStore(t)

	records, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NoError(t, store.backend.Save(nrepl.Target{Host: "a", Port: 1}, &Record{
		Host: "a", Port: 1, SessionID: "s1", CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.backend.Save(nrepl.Target{Host: "b", Port: 2}, &Record{
		Host: "b", Port: 2, SessionID: "s2", CreatedAt: time.Now().UTC(),
	}))

	records, err = store.List()
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
