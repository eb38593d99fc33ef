package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(Config{
		DBPath: filepath.Join(t.TempDir(), "ledger.db"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewStore(t *testing.T) {
	t.Run("missing path", func(t *testing.T) {
		_, err := NewStore(Config{Logger: zerolog.Nop()})
		assert.Error(t, err)
	})

	t.Run("creates parent directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "dir", "ledger.db")
		s, err := NewStore(Config{DBPath: path, Logger: zerolog.Nop()})
		require.NoError(t, err)
		s.Close()
	})
}

func TestRecordAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	entries := []Entry{
		{SessionID: "s1", UserID: 1, Direction: "horizontal", ImageCount: 3, Status: "ok", DurationMS: 1200, CreatedAt: base},
		{SessionID: "s2", UserID: 2, Direction: "vertical", ImageCount: 2, Status: "failed", Error: "browser crashed", DurationMS: 400, CreatedAt: base.Add(time.Minute)},
		{SessionID: "s3", UserID: 1, Direction: "vertical", ImageCount: 1, Status: "rejected", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		require.NoError(t, s.Record(ctx, e))
	}

	t.Run("newest first", func(t *testing.T) {
		recent, err := s.Recent(ctx, 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "s3", recent[0].SessionID)
		assert.Equal(t, "s2", recent[1].SessionID)
		assert.Equal(t, "browser crashed", recent[1].Error)
	})

	t.Run("default limit", func(t *testing.T) {
		recent, err := s.Recent(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, recent, 3)
	})

	t.Run("fields round trip", func(t *testing.T) {
		recent, err := s.Recent(ctx, 10)
		require.NoError(t, err)

		first := recent[len(recent)-1]
		assert.Equal(t, "s1", first.SessionID)
		assert.Equal(t, int64(1), first.UserID)
		assert.Equal(t, "horizontal", first.Direction)
		assert.Equal(t, 3, first.ImageCount)
		assert.Equal(t, "ok", first.Status)
		assert.Equal(t, int64(1200), first.DurationMS)
		assert.WithinDuration(t, base, first.CreatedAt, time.Second)
	})
}

func TestCountByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, Entry{SessionID: "a", UserID: 1, Status: "ok"}))
	require.NoError(t, s.Record(ctx, Entry{SessionID: "b", UserID: 1, Status: "ok"}))
	require.NoError(t, s.Record(ctx, Entry{SessionID: "c", UserID: 2, Status: "failed"}))

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts["ok"])
	assert.Equal(t, 1, counts["failed"])
	assert.Equal(t, 0, counts["rejected"])
}

func TestPruneBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-40 * 24 * time.Hour)
	require.NoError(t, s.Record(ctx, Entry{SessionID: "old1", UserID: 1, Status: "ok", CreatedAt: old}))
	require.NoError(t, s.Record(ctx, Entry{SessionID: "old2", UserID: 1, Status: "ok", CreatedAt: old.Add(time.Hour)}))
	require.NoError(t, s.Record(ctx, Entry{SessionID: "fresh", UserID: 1, Status: "ok"}))

	pruned, err := s.PruneBefore(ctx, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)

	recent, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "fresh", recent[0].SessionID)

	// Nothing left to prune
	pruned, err = s.PruneBefore(ctx, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), pruned)
}

func TestReopenExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	s1, err := NewStore(Config{DBPath: path, Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, s1.Record(ctx, Entry{SessionID: "keep", UserID: 7, Status: "ok"}))
	require.NoError(t, s1.Close())

	s2, err := NewStore(Config{DBPath: path, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer s2.Close()

	recent, err := s2.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "keep", recent[0].SessionID)
}
