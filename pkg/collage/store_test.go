package collage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePutGet(t *testing.T) {
	store := NewStore()

	_, ok := store.Get(42)
	assert.False(t, ok)

	sess := &Session{ID: "s1", UserID: 42, Direction: DirectionVertical}
	store.Put(sess)

	got, ok := store.Get(42)
	require.True(t, ok)
	assert.Equal(t, sess, got)
	assert.Equal(t, 1, store.Len())
}

func TestStoreReplace(t *testing.T) {
	store := NewStore()

	store.Put(&Session{ID: "s1", UserID: 42, Images: []string{"a.png"}})
	store.Put(&Session{ID: "s2", UserID: 42})

	got, ok := store.Get(42)
	require.True(t, ok)
	assert.Equal(t, "s2", got.ID)
	assert.Empty(t, got.Images)
	assert.Equal(t, 1, store.Len())
}

func TestStoreDelete(t *testing.T) {
	store := NewStore()
	store.Put(&Session{ID: "s1", UserID: 42})

	store.Delete(42)

	_, ok := store.Get(42)
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len())

	// Deleting a missing session is a no-op
	store.Delete(42)
}

func TestStoreAll(t *testing.T) {
	store := NewStore()
	store.Put(&Session{ID: "s1", UserID: 1})
	store.Put(&Session{ID: "s2", UserID: 2})

	all := store.All()
	assert.Len(t, all, 2)
	assert.Equal(t, 2, store.Len())
}

func TestStoreDrain(t *testing.T) {
	store := NewStore()
	store.Put(&Session{ID: "s1", UserID: 1})
	store.Put(&Session{ID: "s2", UserID: 2})

	drained := store.Drain()
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, store.Len())

	assert.Empty(t, store.Drain())
}
