package campaign

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"conductor/internal/logging"
)

// VersionConflictError is returned by SaveState when the caller's expected
// version does not match the on-disk document. The caller must reload and
// recompute before retrying; the save performed no write.
type VersionConflictError struct {
	Expected int64
	Actual   int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict: expected %d, got %d", e.Expected, e.Actual)
}

// CampaignInit seeds a new campaign document.
type CampaignInit struct {
	Goal string
	Meta Meta
}

// NewCampaign creates a fresh campaign at version 1 in idle status.
func NewCampaign(init CampaignInit) *Campaign {
	now := NowMillis()
	meta := init.Meta
	if meta.MaxWorkers <= 0 {
		meta.MaxWorkers = 1
	}
	if meta.CheckpointEvery <= 0 {
		meta.CheckpointEvery = 5
	}
	if meta.FreshStartEvery <= 0 {
		meta.FreshStartEvery = 50
	}
	if meta.Autonomy == "" {
		meta.Autonomy = AutonomyCheckpoint
	}
	return &Campaign{
		ID:        fmt.Sprintf("camp_%d_%s", now, uuid.NewString()[:8]),
		Goal:      init.Goal,
		Status:    CampaignIdle,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		Tasks:     make(map[string]*Task),
		Meta:      meta,
	}
}

// LoadState reads a campaign document from disk.
func LoadState(path string) (*Campaign, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign state: %w", err)
	}
	var c Campaign
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse campaign state: %w", err)
	}
	if c.Tasks == nil {
		c.Tasks = make(map[string]*Task)
	}
	return &c, nil
}

// SaveState persists the campaign document with optimistic concurrency
// control. When expectedVersion > 0 and an on-disk document exists, the
// on-disk version must equal expectedVersion or the save fails with a
// VersionConflictError and no write occurs. On success the in-memory
// Version is incremented by one and UpdatedAt is stamped, so a sole writer
// always tracks the on-disk value exactly.
func SaveState(path string, c *Campaign, expectedVersion int64) error {
	if expectedVersion > 0 {
		if onDisk, err := LoadState(path); err == nil {
			if onDisk.Version != expectedVersion {
				return &VersionConflictError{Expected: expectedVersion, Actual: onDisk.Version}
			}
		}
	}

	c.Version++
	c.UpdatedAt = NowMillis()

	if err := writeFileAtomic(path, c); err != nil {
		// Roll back the bump so a retry observes the pre-save version.
		c.Version--
		return err
	}

	logging.CampaignDebug("saved campaign %s at version %d", c.ID, c.Version)
	return nil
}

// writeFileAtomic marshals v and renames a temp file over path so readers
// never observe a partial document.
func writeFileAtomic(path string, v interface{}) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
