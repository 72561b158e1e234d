package catalog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func testEntry(id, name string) Entry {
	return Entry{
		FileID:       id,
		Name:         name,
		AcademicYear: "2026",
		Term:         "1",
		Subject:      "Math",
		BookType:     "Textbook",
		ReleaseYear:  "2025",
		PageCount:    120,
		FileSizeMB:   4,
		ImageURL:     "https://img.example/" + id + ".jpg",
		IngestedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func openStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func TestMergeIsIdempotent(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	e := testEntry("f1", "Algebra")
	require.NoError(t, s.Merge(ctx, e))

	e.Name = "Algebra II"
	e.PageCount = 300
	require.NoError(t, s.Merge(ctx, e))

	entries, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "Algebra II", entries[0].Name)
	require.Equal(t, 300, entries[0].PageCount)
}

func TestContainsAndProcessedIDs(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Merge(ctx, testEntry("f1", "A")))
	require.NoError(t, s.Merge(ctx, testEntry("f2", "B")))

	ok, err := s.Contains(ctx, "f1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Contains(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	ids, err := s.ProcessedIDs(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	_, has := ids["f2"]
	require.True(t, has)
}

func TestSnapshotKeepsInsertionOrder(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Merge(ctx, testEntry("f1", "first")))
	require.NoError(t, s.Merge(ctx, testEntry("f2", "second")))
	// Re-merging f1 must not move it to the end.
	require.NoError(t, s.Merge(ctx, testEntry("f1", "first-updated")))

	entries, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "f1", entries[0].FileID)
	require.Equal(t, "first-updated", entries[0].Name)
	require.Equal(t, "f2", entries[1].FileID)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	require.NoError(t, err)
	want := testEntry("f1", "survivor")
	require.NoError(t, s.Merge(ctx, want))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()

	entries, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	if diff := cmp.Diff(want, entries[0]); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}
}

func TestExportArtifact(t *testing.T) {
	s, dir := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Merge(ctx, testEntry("f1", "Algebra")))

	name, err := s.ExportArtifact(ctx, dir, "run-1")
	require.NoError(t, err)
	require.Equal(t, "books-run-1.json", name)

	for _, f := range []string{name, LatestArtifactName} {
		data, err := os.ReadFile(filepath.Join(dir, f))
		require.NoError(t, err)

		var entries []Entry
		require.NoError(t, json.Unmarshal(data, &entries))
		require.Len(t, entries, 1)
		require.Equal(t, "f1", entries[0].FileID)
	}
}

func TestExportArtifactEmptyStoreWritesEmptyArray(t *testing.T) {
	s, dir := openStore(t)

	name, err := s.ExportArtifact(context.Background(), dir, "run-2")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	require.JSONEq(t, "[]", string(data))
}

func TestValidArtifactName(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"books.json", true},
		{"books-abc123.json", true},
		{"../books.json", false},
		{"scan_history.json", false},
		{"books-", false},
		{"catalog.sqlite", false},
	}
	for _, tt := range tests {
		if got := ValidArtifactName(tt.name); got != tt.ok {
			t.Errorf("ValidArtifactName(%q) = %v, want %v", tt.name, got, tt.ok)
		}
	}
}
