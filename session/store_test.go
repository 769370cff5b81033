package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndLoad(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Save(Session{Token: "tok-1", TopicKey: "merchant-1"}))

	sess, err := store.Load("merchant-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", sess.Token)
	assert.Equal(t, "merchant-1", sess.TopicKey)
	assert.False(t, sess.SavedAt.IsZero())
	assert.Nil(t, sess.LastSyncAt)
}

func TestSave_ReplacesToken(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Save(Session{Token: "old", TopicKey: "merchant-1"}))
	require.NoError(t, store.Save(Session{Token: "new", TopicKey: "merchant-1"}))

	sess, err := store.Load("merchant-1")
	require.NoError(t, err)
	assert.Equal(t, "new", sess.Token)
}

func TestSave_Validation(t *testing.T) {
	store := openTestStore(t)

	assert.Error(t, store.Save(Session{Token: "tok"}))
	assert.Error(t, store.Save(Session{TopicKey: "merchant-1"}))
}

func TestLoad_NoSession(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Load("missing")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestTouchSync(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Save(Session{Token: "tok", TopicKey: "merchant-1"}))

	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	require.NoError(t, store.TouchSync("merchant-1", at))

	sess, err := store.Load("merchant-1")
	require.NoError(t, err)
	require.NotNil(t, sess.LastSyncAt)
	assert.True(t, sess.LastSyncAt.Equal(at))
}

func TestClear(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Save(Session{Token: "tok", TopicKey: "merchant-1"}))
	require.NoError(t, store.Clear("merchant-1"))

	_, err := store.Load("merchant-1")
	assert.ErrorIs(t, err, ErrNoSession)

	// Clearing again is fine
	require.NoError(t, store.Clear("merchant-1"))
}
