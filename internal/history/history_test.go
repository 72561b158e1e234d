package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newEntry(folder string) Entry {
	return Entry{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		FolderName: folder,
		Status:     "COMPLETED",
		Stats:      Stats{Processed: 2, Errors: 1},
		OutputFile: "books-run.json",
	}
}

func TestAppendAndList(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, l.Append(newEntry("first")))
	require.NoError(t, l.Append(newEntry("second")))

	entries := l.List()
	require.Len(t, entries, 2)
	// Newest first.
	require.Equal(t, "second", entries[0].FolderName)
	require.Equal(t, "first", entries[1].FolderName)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, l.Append(newEntry("persisted")))

	reopened, err := Open(dir)
	require.NoError(t, err)
	entries := reopened.List()
	require.Len(t, entries, 1)
	require.Equal(t, "persisted", entries[0].FolderName)
	require.Equal(t, 2, entries[0].Stats.Processed)
}

func TestCapAtMaxEntries(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)

	for i := 0; i < maxEntries+5; i++ {
		require.NoError(t, l.Append(newEntry("run")))
	}
	require.Len(t, l.List(), maxEntries)
}

func TestOpenToleratesMissingAndEmptyFile(t *testing.T) {
	dir := t.TempDir()

	l, err := Open(dir)
	require.NoError(t, err)
	require.Empty(t, l.List())

	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), nil, 0o644))
	l, err = Open(dir)
	require.NoError(t, err)
	require.Empty(t, l.List())
}

func TestOpenToleratesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), []byte("{not json"), 0o644))

	l, err := Open(dir)
	require.NoError(t, err)
	require.Empty(t, l.List())
}
