package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadSlot(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, ok, err := s.LoadSlot(ctx, ConversationSlot)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveSlot(ctx, ConversationSlot, `{"nodes":[]}`))

	got, ok, err := s.LoadSlot(ctx, ConversationSlot)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"nodes":[]}`, got)
}

func TestSaveSlotOverwrites(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSlot(ctx, "k", "v1"))
	require.NoError(t, s.SaveSlot(ctx, "k", "v2"))

	got, ok, err := s.LoadSlot(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", got)
}

func TestDeleteSlot(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSlot(ctx, "k", "v"))
	require.NoError(t, s.DeleteSlot(ctx, "k"))

	_, ok, err := s.LoadSlot(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	revs, err := s.SlotHistory(ctx, "k", 0)
	require.NoError(t, err)
	assert.Empty(t, revs)

	// Deleting an absent slot is not an error.
	require.NoError(t, s.DeleteSlot(ctx, "ghost"))
}

func TestSlotHistoryNewestFirst(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.SaveSlot(ctx, "k", fmt.Sprintf("v%d", i)))
	}

	revs, err := s.SlotHistory(ctx, "k", 0)
	require.NoError(t, err)
	require.Len(t, revs, 3)
	assert.Equal(t, "v3", revs[0].Value)
	assert.Equal(t, "v1", revs[2].Value)
	for _, r := range revs {
		assert.Equal(t, "k", r.Key)
		assert.NotEmpty(t, r.ID)
		assert.False(t, r.WrittenAt.IsZero())
	}
}

func TestSlotHistoryPruned(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for i := 0; i < historyKeep+10; i++ {
		require.NoError(t, s.SaveSlot(ctx, "k", fmt.Sprintf("v%d", i)))
	}

	revs, err := s.SlotHistory(ctx, "k", historyKeep)
	require.NoError(t, err)
	assert.Len(t, revs, historyKeep)
}

func TestSlotsAreIndependent(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSlot(ctx, "a", "va"))
	require.NoError(t, s.SaveSlot(ctx, "b", "vb"))
	require.NoError(t, s.DeleteSlot(ctx, "a"))

	got, ok, err := s.LoadSlot(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "vb", got)
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	ctx := context.Background()

	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveSlot(ctx, ConversationSlot, "persisted"))
	require.NoError(t, s.Close())

	// Reopen runs migrations again without error and sees the old data.
	s2, err := New(path)
	require.NoError(t, err)
	defer s2.Close()

	got, ok, err := s2.LoadSlot(ctx, ConversationSlot)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "persisted", got)
}
