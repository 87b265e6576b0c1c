package campaign

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"conductor/internal/logging"
)

// IntegrityError signals that a checkpoint's stored hash does not match a
// recomputation over its contents: corruption or tampering.
type IntegrityError struct {
	CheckpointID string
	Stored       string
	Computed     string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("checkpoint %s integrity hash mismatch: stored %s, computed %s",
		e.CheckpointID, e.Stored, e.Computed)
}

// Checkpointer creates, persists, validates, and resumes from checkpoints.
type Checkpointer struct {
	dir       string
	max       int
	collector *Collector
	git       Git
	cwd       string
}

// NewCheckpointer creates a checkpointer writing under dir and keeping at
// most max checkpoint files (older ones are pruned on save).
func NewCheckpointer(dir string, max int) *Checkpointer {
	if max <= 0 {
		max = 10
	}
	return &Checkpointer{dir: dir, max: max}
}

// Dir returns the checkpoint directory.
func (cp *Checkpointer) Dir() string { return cp.dir }

// WithCollector attaches a metrics collector so checkpoints record drift
// counters alongside task totals.
func (cp *Checkpointer) WithCollector(col *Collector) *Checkpointer {
	cp.collector = col
	return cp
}

// WithGit attaches a git collaborator so checkpoints record the recent
// commit refs of the working directory.
func (cp *Checkpointer) WithGit(git Git, cwd string) *Checkpointer {
	cp.git = git
	cp.cwd = cwd
	return cp
}

// Create builds a checkpoint from the campaign's current task statuses.
// When summary is empty, one of the form "N/M tasks complete (P%)" is
// generated. The integrity hash is computed over the checkpoint JSON with
// IntegrityHash and SizeBytes zeroed, so it covers the recorded git refs.
func (cp *Checkpointer) Create(ctx context.Context, c *Campaign, summary string) (*Checkpoint, error) {
	byDomain := make(map[string][]*Task)
	completed := make([]string, 0)
	var retries int
	var completedCount int
	for _, t := range c.Tasks {
		byDomain[t.Domain()] = append(byDomain[t.Domain()], t)
		retries += t.Attempts
		if t.Status == TaskCompleted {
			completed = append(completed, t.ID)
			completedCount++
		}
	}
	sort.Strings(completed)

	domainStates := make(map[string]DomainState, len(byDomain))
	for domain, tasks := range byDomain {
		counts := CountTasks(tasks)
		progress := 0
		if counts.Total() > 0 {
			progress = int(math.Round(float64(counts.Completed) / float64(counts.Total()) * 100))
		}
		domainStates[domain] = DomainState{
			Status:          string(domainStatus(counts)),
			ProgressPercent: progress,
			TaskCounts:      counts,
		}
	}

	total := len(c.Tasks)
	if summary == "" {
		pct := 0
		if total > 0 {
			pct = int(math.Round(float64(completedCount) / float64(total) * 100))
		}
		summary = fmt.Sprintf("%d/%d tasks complete (%d%%)", completedCount, total, pct)
	}

	var failed int
	var durationMS int64
	for _, t := range c.Tasks {
		if t.Status == TaskFailed {
			failed++
		}
		if t.UpdatedAt > t.CreatedAt {
			durationMS += t.UpdatedAt - t.CreatedAt
		}
	}

	checkpoint := &Checkpoint{
		ID:               NewCheckpointID(),
		CreatedAt:        NowMillis(),
		Summary:          summary,
		CompletedTaskIDs: completed,
		DomainStates:     domainStates,
		Metrics: CheckpointMetrics{
			TasksTotal:      total,
			TasksCompleted:  completedCount,
			TasksFailed:     failed,
			RetriesTotal:    retries,
			TotalDurationMS: durationMS,
		},
	}
	if cp.collector != nil {
		checks, corrections := cp.collector.DriftCounters()
		checkpoint.Metrics.DriftChecks = checks
		checkpoint.Metrics.DriftCorrections = corrections
	}
	if cp.git != nil && cp.git.IsRepo(ctx, cp.cwd) {
		if refs, err := cp.git.RecentCommits(ctx, cp.cwd, 5); err == nil {
			checkpoint.GitRefs = refs
		}
	}

	hash, size, err := integrityHash(checkpoint)
	if err != nil {
		return nil, err
	}
	checkpoint.IntegrityHash = hash
	checkpoint.SizeBytes = size

	logging.Checkpoint("created checkpoint %s: %s", checkpoint.ID, checkpoint.Summary)
	return checkpoint, nil
}

// integrityHash serializes the checkpoint with hash/size zeroed, returning
// the SHA-256 digest truncated to 16 hex characters and the byte length of
// the serialized form.
func integrityHash(checkpoint *Checkpoint) (string, int, error) {
	clone := *checkpoint
	clone.IntegrityHash = ""
	clone.SizeBytes = 0

	data, err := json.Marshal(&clone)
	if err != nil {
		return "", 0, fmt.Errorf("failed to serialize checkpoint: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16], len(data), nil
}

// Save writes the checkpoint to <dir>/<id>.json and prunes old files.
func (cp *Checkpointer) Save(checkpoint *Checkpoint) error {
	if err := os.MkdirAll(cp.dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	path := filepath.Join(cp.dir, checkpoint.ID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return cp.prune()
}

// prune keeps the newest max checkpoint files by CreatedAt and deletes the
// rest. Idempotent: re-running on an already-pruned directory is a no-op.
func (cp *Checkpointer) prune() error {
	checkpoints, err := cp.List()
	if err != nil {
		return err
	}
	for _, old := range checkpoints[min(len(checkpoints), cp.max):] {
		path := filepath.Join(cp.dir, old.ID+".json")
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logging.Get(logging.CategoryCheckpoint).Warnf("failed to prune %s: %v", path, err)
		}
	}
	return nil
}

// Load reads one checkpoint file. A missing or unreadable file returns
// (nil, nil) rather than an error so callers can fall through to "no
// checkpoint found" handling.
func (cp *Checkpointer) Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil
	}
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, nil
	}
	return &checkpoint, nil
}

// List returns all checkpoints in the directory sorted by CreatedAt
// descending (newest first).
func (cp *Checkpointer) List() ([]*Checkpoint, error) {
	entries, err := os.ReadDir(cp.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	checkpoints := make([]*Checkpoint, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		checkpoint, _ := cp.Load(filepath.Join(cp.dir, entry.Name()))
		if checkpoint != nil {
			checkpoints = append(checkpoints, checkpoint)
		}
	}
	sort.Slice(checkpoints, func(i, j int) bool {
		return checkpoints[i].CreatedAt > checkpoints[j].CreatedAt
	})
	return checkpoints, nil
}

// LoadLatest returns the newest checkpoint, or nil when none exist.
func (cp *Checkpointer) LoadLatest() (*Checkpoint, error) {
	checkpoints, err := cp.List()
	if err != nil {
		return nil, err
	}
	if len(checkpoints) == 0 {
		return nil, nil
	}
	return checkpoints[0], nil
}

// ValidationResult carries the outcome of checkpoint validation. Warnings
// do not make the checkpoint invalid.
type ValidationResult struct {
	Valid    bool
	Err      error
	Warnings []string
}

// Validate checks a checkpoint's structure and integrity hash. When state
// is non-nil, completed task ids no longer present in the live state are
// reported as warnings, not errors.
func (cp *Checkpointer) Validate(checkpoint *Checkpoint, state *Campaign) ValidationResult {
	if checkpoint.ID == "" {
		return ValidationResult{Err: fmt.Errorf("checkpoint has no id")}
	}

	computed, _, err := integrityHash(checkpoint)
	if err != nil {
		return ValidationResult{Err: err}
	}
	if computed != checkpoint.IntegrityHash {
		return ValidationResult{Err: &IntegrityError{
			CheckpointID: checkpoint.ID,
			Stored:       checkpoint.IntegrityHash,
			Computed:     computed,
		}}
	}

	var warnings []string
	if state != nil {
		for _, id := range checkpoint.CompletedTaskIDs {
			if _, ok := state.Tasks[id]; !ok {
				warnings = append(warnings, fmt.Sprintf("completed task %s not found in state", id))
			}
		}
	}
	return ValidationResult{Valid: true, Warnings: warnings}
}

// ResumeOptions selects which checkpoint to resume from and whether tasks
// stuck in_progress should be reset to pending.
type ResumeOptions struct {
	CheckpointID    string
	ResetInProgress bool
}

// ResumeResult reports the checkpoint used and any tasks that were reset.
type ResumeResult struct {
	Checkpoint    *Checkpoint
	RestoredTasks []string
}

// Resume applies a checkpoint to the live campaign state: every task listed
// in CompletedTaskIDs that still exists is set to completed; unlisted tasks
// are untouched. With ResetInProgress, tasks still in_progress are reset to
// pending and reported in RestoredTasks.
func (cp *Checkpointer) Resume(c *Campaign, opts ResumeOptions) (*ResumeResult, error) {
	var checkpoint *Checkpoint
	var err error
	if opts.CheckpointID != "" {
		checkpoint, err = cp.Load(filepath.Join(cp.dir, opts.CheckpointID+".json"))
	} else {
		checkpoint, err = cp.LoadLatest()
	}
	if err != nil {
		return nil, err
	}
	if checkpoint == nil {
		return nil, fmt.Errorf("no checkpoint found")
	}

	if res := cp.Validate(checkpoint, c); res.Err != nil {
		return nil, res.Err
	}

	for _, id := range checkpoint.CompletedTaskIDs {
		if t, ok := c.Tasks[id]; ok {
			t.Status = TaskCompleted
			t.UpdatedAt = NowMillis()
		}
	}

	result := &ResumeResult{Checkpoint: checkpoint}
	if opts.ResetInProgress {
		for _, t := range c.Tasks {
			if t.Status == TaskInProgress {
				t.Status = TaskPending
				t.UpdatedAt = NowMillis()
				result.RestoredTasks = append(result.RestoredTasks, t.ID)
			}
		}
		sort.Strings(result.RestoredTasks)
	}

	logging.Checkpoint("resumed campaign %s from checkpoint %s (%d completed, %d restored)",
		c.ID, checkpoint.ID, len(checkpoint.CompletedTaskIDs), len(result.RestoredTasks))
	return result, nil
}
