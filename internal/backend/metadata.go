package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kilupskalvis/repodeploy/internal/models"
)

// MetadataFile is the sidecar that identifies an API-mode working directory.
// Existing installations depend on this name and its JSON shape.
const MetadataFile = ".JUZT_DEPLOY_BASIC_metadata"

// ErrNoMetadata is returned when a directory has no sidecar.
var ErrNoMetadata = errors.New("No repository metadata found")

// ReadMetadata loads the sidecar of dir.
func ReadMetadata(dir string) (*models.RepoMetadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoMetadata
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var meta models.RepoMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	if meta.Owner == "" || meta.Repo == "" {
		return nil, ErrNoMetadata
	}
	return &meta, nil
}

// WriteMetadata replaces the sidecar of dir.
func WriteMetadata(dir string, meta *models.RepoMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tmp := filepath.Join(dir, MetadataFile+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, MetadataFile)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}
