package server

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUsers(t *testing.T) *UsersConfig {
	t.Helper()
	hash, err := HashPassword("admin123")
	require.NoError(t, err)
	return &UsersConfig{Users: []User{{Username: "admin", Password: hash}}}
}

func TestAuthenticator(t *testing.T) {
	t.Run("NoUsers", func(t *testing.T) {
		a := newAuthenticator(nil, time.Minute)
		assert.False(t, a.required())
		token, err := a.login("", "")
		require.NoError(t, err)
		assert.Empty(t, token)
		assert.NoError(t, a.check(""))
	})

	t.Run("Login", func(t *testing.T) {
		a := newAuthenticator(testUsers(t), time.Minute)
		require.True(t, a.required())

		_, err := a.login("admin", "wrong")
		assert.Equal(t, store.ResultInvalidCredential, store.CodeOf(err))
		assert.ErrorIs(t, err, store.ErrAuthentication)

		_, err = a.login("nobody", "admin123")
		assert.Equal(t, store.ResultInvalidCredential, store.CodeOf(err))

		_, err = a.login("", "")
		assert.Equal(t, store.ResultInvalidCredential, store.CodeOf(err))

		token, err := a.login("admin", "admin123")
		require.NoError(t, err)
		assert.NotEmpty(t, token)
		assert.NoError(t, a.check(token))
	})

	t.Run("Check", func(t *testing.T) {
		a := newAuthenticator(testUsers(t), time.Minute)
		assert.Equal(t, store.ResultNotAuthenticated, store.CodeOf(a.check("")))
		assert.Equal(t, store.ResultNotAuthenticated, store.CodeOf(a.check("unknown-token")))
	})

	t.Run("IdleSessionsExpire", func(t *testing.T) {
		now := time.Unix(1_700_000_000, 0)
		a := newAuthenticator(testUsers(t), time.Minute)
		a.now = func() time.Time { return now }

		token, err := a.login("admin", "admin123")
		require.NoError(t, err)

		// every successful check refreshes the session
		now = now.Add(50 * time.Second)
		require.NoError(t, a.check(token))
		now = now.Add(50 * time.Second)
		require.NoError(t, a.check(token))

		now = now.Add(2 * time.Minute)
		assert.Equal(t, store.ResultNotAuthenticated, store.CodeOf(a.check(token)))
		// the expired session was removed
		_, ok := a.sessions.Load(token)
		assert.False(t, ok)
	})

	t.Run("Expire", func(t *testing.T) {
		now := time.Unix(1_700_000_000, 0)
		a := newAuthenticator(testUsers(t), time.Minute)
		a.now = func() time.Time { return now }

		old, err := a.login("admin", "admin123")
		require.NoError(t, err)
		now = now.Add(45 * time.Second)
		fresh, err := a.login("admin", "admin123")
		require.NoError(t, err)

		now = now.Add(30 * time.Second)
		a.expire()
		_, ok := a.sessions.Load(old)
		assert.False(t, ok)
		_, ok = a.sessions.Load(fresh)
		assert.True(t, ok)
	})
}

func TestUsersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")

	t.Run("RoundTrip", func(t *testing.T) {
		cfg := testUsers(t)
		require.NoError(t, WriteUsers(path, cfg))
		loaded, err := LoadUsers(path)
		require.NoError(t, err)
		assert.Equal(t, cfg, loaded)
	})

	t.Run("PlainPasswordRejected", func(t *testing.T) {
		require.NoError(t, WriteUsers(path, &UsersConfig{Users: []User{{Username: "admin", Password: "admin123"}}}))
		_, err := LoadUsers(path)
		assert.Error(t, err)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := LoadUsers(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}
