package campaign

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"conductor/internal/agent"
	"conductor/internal/logging"
	"conductor/internal/plan"
)

// Git is the source-control collaborator the dispatcher commits through.
type Git interface {
	IsRepo(ctx context.Context, cwd string) bool
	Status(ctx context.Context, cwd string) (string, error)
	Diff(ctx context.Context, cwd string) (string, error)
	Stage(ctx context.Context, cwd, path string) error
	Commit(ctx context.Context, cwd, message string) (string, error)
	RecentCommits(ctx context.Context, cwd string, n int) ([]string, error)
}

// WorkerResult is the dispatcher's report for one task execution.
type WorkerResult struct {
	Success   bool
	Summary   string
	Artifacts []string
	Commit    string
	Error     string
	GitDiff   string // working-tree diff captured at failure time
}

// WorkerOptions tune a single dispatch.
type WorkerOptions struct {
	ForceMode ExecutionMode // overrides the task's execution mode
	Model     string
}

// Dispatcher resolves a task's execution mode, runs it through the agent
// or plan-runner collaborator, extracts reported artifacts, and commits
// any resulting working-tree changes.
type Dispatcher struct {
	registry *agent.Registry
	runner   plan.Runner
	git      Git
}

// NewDispatcher creates a worker dispatcher.
func NewDispatcher(registry *agent.Registry, runner plan.Runner, git Git) *Dispatcher {
	return &Dispatcher{registry: registry, runner: runner, git: git}
}

// RunTask executes one task. Failures of any mode are caught and reported
// in the result, never propagated; the caller decides whether to retry.
func (d *Dispatcher) RunTask(ctx context.Context, t *Task, workers []string, cwd string, useDroid bool, opts WorkerOptions) WorkerResult {
	mode := t.Mode()
	if opts.ForceMode != "" {
		mode = opts.ForceMode
	}
	if len(workers) == 0 {
		return WorkerResult{Error: "no workers configured"}
	}

	logging.Worker("dispatching task %s in %s mode", t.ID, mode)

	var output string
	var err error
	if mode == ModeSingle {
		output, err = d.runSingle(ctx, t, workers[0], cwd, useDroid, opts)
	} else {
		output, err = d.runPlanned(ctx, t, workers, cwd, mode, opts)
	}
	if err != nil {
		return d.failure(ctx, cwd, err)
	}

	artifacts := ExtractArtifacts(output)
	commit, commitErr := d.commitChanges(ctx, t, cwd, artifacts)
	if commitErr != nil {
		logging.Get(logging.CategoryWorker).Warnf("commit for task %s failed: %v", t.ID, commitErr)
	}

	return WorkerResult{
		Success:   true,
		Summary:   summarize(output),
		Artifacts: artifacts,
		Commit:    commit,
	}
}

// runSingle runs the plain task prompt against the first configured
// worker, optionally through the agentic droid tool loop.
func (d *Dispatcher) runSingle(ctx context.Context, t *Task, worker, cwd string, useDroid bool, opts WorkerOptions) (string, error) {
	adapter, err := d.registry.Lookup(worker)
	if err != nil {
		return "", err
	}
	if useDroid {
		adapter = agent.NewDroidAdapter(adapter, cwd)
	}

	res, err := adapter.Invoke(ctx, worker, BuildWorkerPrompt(t, cwd), agent.InvokeOptions{Model: opts.Model})
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

// runPlanned delegates to the plan-runner collaborator for every
// multi-agent mode.
func (d *Dispatcher) runPlanned(ctx context.Context, t *Task, workers []string, cwd string, mode ExecutionMode, opts WorkerOptions) (string, error) {
	planMode := plan.Mode(mode)
	planOpts := plan.Options{Model: opts.Model}
	if mode == ModeCorrection {
		planOpts.AutoFix = true
	}

	p := d.runner.BuildPlan(planMode, BuildWorkerPrompt(t, cwd), workers, planOpts)
	outcome, err := d.runner.Execute(ctx, p)
	if err != nil {
		return "", err
	}
	if outcome.Status != plan.StatusCompleted {
		return "", fmt.Errorf("plan execution ended with status %s", outcome.Status)
	}
	return outcome.FinalOutput, nil
}

func (d *Dispatcher) failure(ctx context.Context, cwd string, err error) WorkerResult {
	var diff string
	if d.git != nil && d.git.IsRepo(ctx, cwd) {
		diff, _ = d.git.Diff(ctx, cwd)
	}
	return WorkerResult{Error: err.Error(), GitDiff: diff}
}

var artifactRe = regexp.MustCompile(`(?im)^\s*(?:Modified|Created|File):\s*(\S+)\s*$`)

// ExtractArtifacts pulls file-path-like artifacts from worker output lines
// of the form "Modified: <path>", "Created: <path>" or "File: <path>".
func ExtractArtifacts(output string) []string {
	matches := artifactRe.FindAllStringSubmatch(output, -1)
	seen := make(map[string]bool)
	artifacts := make([]string, 0, len(matches))
	for _, m := range matches {
		path := strings.TrimSpace(m[1])
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		artifacts = append(artifacts, path)
	}
	return artifacts
}

// commitChanges stages dirty working-tree state (or the reported artifacts
// when the tree looks clean) and commits. The commit is skipped entirely
// when nothing is staged after staging.
func (d *Dispatcher) commitChanges(ctx context.Context, t *Task, cwd string, artifacts []string) (string, error) {
	if d.git == nil || !d.git.IsRepo(ctx, cwd) {
		return "", nil
	}

	status, err := d.git.Status(ctx, cwd)
	if err != nil {
		return "", err
	}

	staged := false
	if strings.TrimSpace(status) != "" {
		for _, line := range strings.Split(status, "\n") {
			// Porcelain: XY <path>. Leading whitespace is significant, so
			// the raw line is sliced, not trimmed.
			if len(line) < 4 {
				continue
			}
			path := strings.TrimSpace(line[3:])
			// Rename lines read "old -> new"; only the new path exists.
			if i := strings.Index(path, " -> "); i != -1 {
				path = path[i+4:]
			}
			if path == "" {
				continue
			}
			if err := d.git.Stage(ctx, cwd, path); err != nil {
				logging.Get(logging.CategoryWorker).Warnf("failed to stage %s: %v", path, err)
				continue
			}
			staged = true
		}
	} else {
		for _, path := range artifacts {
			if err := d.git.Stage(ctx, cwd, path); err != nil {
				continue
			}
			staged = true
		}
	}

	if !staged {
		return "", nil
	}
	return d.git.Commit(ctx, cwd, fmt.Sprintf("%s (%s)", t.Title, t.ID))
}

// summarize returns the first meaningful line of worker output, capped.
func summarize(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			if len(line) > 200 {
				return line[:200] + "..."
			}
			return line
		}
	}
	return "completed"
}
