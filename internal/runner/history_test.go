package runner

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHistoryStore(t *testing.T) *HistoryStore {
	t.Helper()
	return NewHistoryStore(t.TempDir(), log.New(io.Discard, "", 0))
}

func TestHistoryStore_EmptyHistory(t *testing.T) {
	store := newTestHistoryStore(t)

	summaries, err := store.AllSummaries()
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestHistoryStore_SaveAndLoadRoundTrip(t *testing.T) {
	store := newTestHistoryStore(t)

	pace := 0.36
	started := time.Date(2026, 3, 14, 7, 30, 0, 0, time.UTC)
	summary := SessionSummary{
		ID:             "abc-123",
		Name:           "Starter 1:1 x8",
		StartedAt:      started,
		EndedAt:        started.Add(26 * time.Minute),
		TotalDuration:  26 * time.Minute,
		DistanceMeters: 3620.5,
		AveragePace:    &pace,
	}
	require.NoError(t, store.SaveSummary(summary))

	summaries, err := store.AllSummaries()
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	got := summaries[0]
	assert.Equal(t, "abc-123", got.ID)
	assert.Equal(t, "Starter 1:1 x8", got.Name)
	assert.True(t, got.StartedAt.Equal(started))
	assert.Equal(t, 26*time.Minute, got.TotalDuration)
	assert.InDelta(t, 3620.5, got.DistanceMeters, 1e-9)
	require.NotNil(t, got.AveragePace)
	assert.InDelta(t, 0.36, *got.AveragePace, 1e-9)
}

func TestHistoryStore_AppendsInOrder(t *testing.T) {
	store := newTestHistoryStore(t)

	require.NoError(t, store.SaveSummary(SessionSummary{ID: "first"}))
	require.NoError(t, store.SaveSummary(SessionSummary{ID: "second"}))
	require.NoError(t, store.SaveSummary(SessionSummary{ID: "third"}))

	summaries, err := store.AllSummaries()
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	assert.Equal(t, "first", summaries[0].ID)
	assert.Equal(t, "third", summaries[2].ID)
}

func TestHistoryStore_NilPaceStaysNil(t *testing.T) {
	store := newTestHistoryStore(t)
	require.NoError(t, store.SaveSummary(SessionSummary{ID: "no-distance"}))

	summaries, err := store.AllSummaries()
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Nil(t, summaries[0].AveragePace)
}

func TestHistoryStore_CorruptFileStartsFresh(t *testing.T) {
	dir := t.TempDir()
	store := NewHistoryStore(dir, log.New(io.Discard, "", 0))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sessions.json"), []byte("not json"), 0644))

	// Save still succeeds; the corrupt history is replaced.
	require.NoError(t, store.SaveSummary(SessionSummary{ID: "fresh"}))

	summaries, err := store.AllSummaries()
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "fresh", summaries[0].ID)
}

func TestHistoryStore_CreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	store := NewHistoryStore(dir, log.New(io.Discard, "", 0))

	require.NoError(t, store.SaveSummary(SessionSummary{ID: "x"}))

	_, err := os.Stat(filepath.Join(dir, "sessions.json"))
	assert.NoError(t, err)
}
