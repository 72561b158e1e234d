package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

// LatestArtifactName is the stable alias of the most recent run's artifact.
const LatestArtifactName = "books.json"

// ArtifactName returns the artifact file name for a run ID.
func ArtifactName(runID string) string {
	return "books-" + runID + ".json"
}

// ValidArtifactName guards the download endpoint against path traversal:
// only plain book artifact file names are served from the data directory.
func ValidArtifactName(name string) bool {
	if name != filepath.Base(name) {
		return false
	}
	return name == LatestArtifactName ||
		(strings.HasPrefix(name, "books-") && strings.HasSuffix(name, ".json"))
}

// ExportArtifact writes the current snapshot as the run's JSON artifact and
// refreshes the latest alias. Both writes are atomic; readers never observe
// a partial file.
func (s *Store) ExportArtifact(ctx context.Context, dir, runID string) (string, error) {
	entries, err := s.Snapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode artifact: %w", err)
	}

	name := ArtifactName(runID)
	if err := renameio.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(dir, LatestArtifactName), data, 0o644); err != nil {
		return "", fmt.Errorf("write latest artifact: %w", err)
	}
	return name, nil
}
