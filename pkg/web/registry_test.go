package web

import (
	"testing"
	"time"

	"github.com/shouni/gemini-image-editor/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, ttl time.Duration) *Registry {
	t.Helper()
	ed := &stubEditor{result: "data:image/png;base64,ZWRpdGVk"}
	return NewRegistry(func() (*session.Session, error) { return session.New(ed) }, ttl)
}

func TestRegistry_CreateGetRemove(t *testing.T) {
	r := newTestRegistry(t, 0)

	id, sess, err := r.Create()
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, 1, r.Len())

	got, ok := r.Get(id)
	require.True(t, ok)
	assert.Same(t, sess, got)

	t.Run("UUID でない ID は見つからない", func(t *testing.T) {
		_, ok := r.Get("not-a-uuid")
		assert.False(t, ok)
	})

	assert.True(t, r.Remove(id))
	assert.False(t, r.Remove(id))
	assert.Equal(t, 0, r.Len())
	assert.ErrorIs(t, sess.SetInstruction("x"), session.ErrClosed, "削除したセッションは閉じられる")
}

func TestRegistry_Sweep(t *testing.T) {
	r := newTestRegistry(t, time.Minute)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	oldID, oldSess, err := r.Create()
	require.NoError(t, err)

	now = now.Add(50 * time.Second)
	freshID, _, err := r.Create()
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	assert.Equal(t, 1, r.Sweep())

	_, ok := r.Get(oldID)
	assert.False(t, ok)
	_, ok = r.Get(freshID)
	assert.True(t, ok)
	assert.ErrorIs(t, oldSess.EditAgain(), session.ErrClosed)
}

func TestRegistry_SweepDisabled(t *testing.T) {
	r := newTestRegistry(t, 0)
	_, _, err := r.Create()
	require.NoError(t, err)

	r.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	assert.Equal(t, 0, r.Sweep())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_CloseAll(t *testing.T) {
	r := newTestRegistry(t, 0)
	_, s1, _ := r.Create()
	_, s2, _ := r.Create()

	r.CloseAll()
	assert.Equal(t, 0, r.Len())
	assert.ErrorIs(t, s1.EditAgain(), session.ErrClosed)
	assert.ErrorIs(t, s2.EditAgain(), session.ErrClosed)
}
