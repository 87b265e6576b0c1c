// Package campaign implements the campaign orchestration engine: the task
// data model, the versioned state store, the checkpoint/resume subsystem,
// the domain-partitioned task queue, worker dispatch, and the control loop
// that ties them together.
//
// A campaign is one long-running orchestration run toward a single goal.
// The planner decomposes the goal into a dependency-aware task graph, the
// dispatcher hands tasks to pluggable agent workers, and progress is
// persisted durably so a campaign survives process restarts.
package campaign

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CampaignStatus represents the lifecycle status of a campaign.
type CampaignStatus string

const (
	CampaignIdle      CampaignStatus = "idle"
	CampaignRunning   CampaignStatus = "running"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

// TaskStatus represents the status of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskBlocked    TaskStatus = "blocked"
)

// AgentHint routes a task to a worker or to the sub-planner.
type AgentHint string

const (
	HintWorker     AgentHint = "worker"
	HintSubplanner AgentHint = "subplanner"
)

// ExecutionMode selects how a worker task is executed.
type ExecutionMode string

const (
	ModeSingle     ExecutionMode = "single"
	ModeCompare    ExecutionMode = "compare"
	ModePipeline   ExecutionMode = "pipeline"
	ModeCorrection ExecutionMode = "correction"
	ModeDebate     ExecutionMode = "debate"
	ModeConsensus  ExecutionMode = "consensus"
	ModePickBuild  ExecutionMode = "pickbuild"
)

// Autonomy controls how much the loop pauses for checkpoint review.
type Autonomy string

const (
	AutonomyCheckpoint Autonomy = "checkpoint"
	AutonomyAuto       Autonomy = "auto"
)

// maxTaskAttempts bounds retry eligibility for failed/blocked tasks.
const maxTaskAttempts = 3

// DefaultDomain groups tasks that declare no area of their own.
const DefaultDomain = "general"

// Campaign is the whole orchestration document, persisted as one JSON file.
// Version is the source of truth for optimistic concurrency checks: it
// strictly increases on every successful save.
type Campaign struct {
	ID        string         `json:"campaignId"`
	Goal      string         `json:"goal"`
	Status    CampaignStatus `json:"status"`
	Version   int64          `json:"version"`
	CreatedAt int64          `json:"createdAt"` // epoch millis
	UpdatedAt int64          `json:"updatedAt"` // epoch millis

	Tasks       map[string]*Task `json:"tasks"`
	Checkpoints []Checkpoint     `json:"checkpoints"` // append-only
	Decisions   []Decision       `json:"decisions"`   // append-only, fresh-start pruned
	Artifacts   []string         `json:"artifacts"`

	Meta Meta `json:"meta"`
}

// Meta carries per-campaign orchestration settings.
type Meta struct {
	PlannerAgent    string   `json:"plannerAgent"`
	SubplannerAgent string   `json:"subplannerAgent"`
	WorkerAgents    []string `json:"workerAgents"`
	MaxWorkers      int      `json:"maxWorkers"`
	CheckpointEvery int      `json:"checkpointEvery"`
	FreshStartEvery int      `json:"freshStartEvery"`
	Autonomy        Autonomy `json:"autonomy"`
	GitMode         string   `json:"gitMode"`
	MergeStrategy   string   `json:"mergeStrategy"`
	UseDroid        bool     `json:"useDroid"`
}

// Task is an atomic unit of work. The optional Enhancement payload is a
// tagged variant: queue and worker logic pattern-match on Enhancement being
// present, never on individual field presence.
type Task struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	Status             TaskStatus `json:"status"`
	Dependencies       []string   `json:"dependencies,omitempty"`
	AcceptanceCriteria []string   `json:"acceptanceCriteria,omitempty"`
	AssignedFiles      []string   `json:"assignedFiles,omitempty"`
	Attempts           int        `json:"attempts"`
	LastError          string     `json:"lastError,omitempty"`
	ResultSummary      string     `json:"resultSummary,omitempty"`
	Area               string     `json:"area,omitempty"`
	AgentHint          AgentHint  `json:"agentHint,omitempty"`
	CreatedAt          int64      `json:"createdAt"`
	UpdatedAt          int64      `json:"updatedAt"`

	Enhancement *Enhancement `json:"enhancement,omitempty"`
}

// Enhancement carries the extended task shape: scheduling priority,
// entry/exit criteria, and an explicit execution mode.
type Enhancement struct {
	Priority      *int          `json:"priority,omitempty"` // lower runs first; nil sorts last
	EntryCriteria []Criterion   `json:"entry_criteria,omitempty"`
	ExitCriteria  []Criterion   `json:"exit_criteria,omitempty"`
	ExecutionMode ExecutionMode `json:"execution_mode,omitempty"`
}

// Criterion is a checkable pre/post condition for a task.
type Criterion struct {
	Description  string `json:"description"`
	CheckCommand string `json:"check_command,omitempty"`
}

// TaskCounts is a per-status breakdown of a set of tasks.
type TaskCounts struct {
	Completed  int `json:"completed"`
	InProgress int `json:"in_progress"`
	Pending    int `json:"pending"`
	Failed     int `json:"failed"`
	Blocked    int `json:"blocked"`
}

// Total returns the number of tasks counted.
func (tc TaskCounts) Total() int {
	return tc.Completed + tc.InProgress + tc.Pending + tc.Failed + tc.Blocked
}

// DomainState is the per-domain slice of a checkpoint.
type DomainState struct {
	Status          string     `json:"status"`
	ProgressPercent int        `json:"progress_percent"`
	TaskCounts      TaskCounts `json:"task_counts"`
}

// CheckpointMetrics aggregates campaign totals at checkpoint time.
type CheckpointMetrics struct {
	TasksTotal       int   `json:"tasks_total"`
	TasksCompleted   int   `json:"tasks_completed"`
	TasksFailed      int   `json:"tasks_failed"`
	RetriesTotal     int   `json:"retries_total"`
	TotalDurationMS  int64 `json:"total_duration_ms"`
	DriftChecks      int   `json:"drift_checks"`
	DriftCorrections int   `json:"drift_corrections"`
}

// Checkpoint is an immutable, integrity-hashed snapshot of completed-task
// state. CompletedTaskIDs is a snapshot, not a live reference. The
// integrity hash covers the checkpoint JSON with IntegrityHash and
// SizeBytes both zeroed; any later mismatch signals corruption.
type Checkpoint struct {
	ID               string                 `json:"id"`
	CreatedAt        int64                  `json:"created_at"` // epoch millis
	Summary          string                 `json:"summary"`
	CompletedTaskIDs []string               `json:"completed_task_ids"`
	DomainStates     map[string]DomainState `json:"domain_states"`
	GitRefs          []string               `json:"git_refs,omitempty"`
	Metrics          CheckpointMetrics      `json:"metrics"`
	IntegrityHash    string                 `json:"integrity_hash"` // 16 hex chars
	SizeBytes        int                    `json:"size_bytes"`
}

// Decision is an immutable audit record of a conflict-resolution or
// recovery-planning outcome.
type Decision struct {
	ID        string          `json:"id"`
	CreatedAt int64           `json:"created_at"`
	Summary   string          `json:"summary"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// NowMillis returns the current wall clock in epoch milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// NewTaskID mints a task id.
func NewTaskID() string {
	return fmt.Sprintf("task_%d_%s", NowMillis(), uuid.NewString()[:8])
}

// NewCheckpointID mints a checkpoint id of the form cp_<timestamp>_<rand>.
func NewCheckpointID() string {
	return fmt.Sprintf("cp_%d_%s", NowMillis(), uuid.NewString()[:8])
}

// NewDecisionID mints a decision id.
func NewDecisionID() string {
	return fmt.Sprintf("dec_%d_%s", NowMillis(), uuid.NewString()[:8])
}

// Mode returns the task's execution mode, defaulting to single when the
// task carries no enhancement or no explicit mode.
func (t *Task) Mode() ExecutionMode {
	if t.Enhancement == nil || t.Enhancement.ExecutionMode == "" {
		return ModeSingle
	}
	return t.Enhancement.ExecutionMode
}

// Domain returns the task's grouping key, or DefaultDomain when unassigned.
func (t *Task) Domain() string {
	if t.Area == "" {
		return DefaultDomain
	}
	return t.Area
}

// RetryEligible reports whether a failed or blocked task may re-enter the
// queue.
func (t *Task) RetryEligible() bool {
	if t.Status != TaskFailed && t.Status != TaskBlocked {
		return false
	}
	return t.Attempts < maxTaskAttempts
}

// DepsSatisfied reports whether every dependency of t is completed in the
// given task set. Unknown dependency ids count as unsatisfied.
func (t *Task) DepsSatisfied(tasks map[string]*Task) bool {
	for _, depID := range t.Dependencies {
		dep, ok := tasks[depID]
		if !ok || dep.Status != TaskCompleted {
			return false
		}
	}
	return true
}

// MarkInProgress transitions the task to in_progress. It is the caller's
// responsibility to have checked DepsSatisfied first; the guard here is a
// hard invariant and returns an error rather than transitioning.
func (t *Task) MarkInProgress(tasks map[string]*Task) error {
	if !t.DepsSatisfied(tasks) {
		return fmt.Errorf("task %s has unmet dependencies", t.ID)
	}
	t.Status = TaskInProgress
	t.UpdatedAt = NowMillis()
	return nil
}

// MarkCompleted transitions the task to completed with a result summary.
func (t *Task) MarkCompleted(summary string) {
	t.Status = TaskCompleted
	t.ResultSummary = summary
	t.UpdatedAt = NowMillis()
}

// MarkFailed transitions the task to failed, recording the error and
// incrementing the attempt counter.
func (t *Task) MarkFailed(errMsg string) {
	t.Status = TaskFailed
	t.LastError = errMsg
	t.Attempts++
	t.UpdatedAt = NowMillis()
}

// CountTasks computes the per-status breakdown for a task slice.
func CountTasks(tasks []*Task) TaskCounts {
	var tc TaskCounts
	for _, t := range tasks {
		switch t.Status {
		case TaskCompleted:
			tc.Completed++
		case TaskInProgress:
			tc.InProgress++
		case TaskPending:
			tc.Pending++
		case TaskFailed:
			tc.Failed++
		case TaskBlocked:
			tc.Blocked++
		}
	}
	return tc
}
