package campaign

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/plan"
)

func TestRunTaskSingleMode(t *testing.T) {
	adapter := &scriptedAdapter{responses: []string{
		"Implemented the endpoint.\nModified: api/login.go\nCreated: api/login_test.go",
	}}
	git := &mockGit{}
	d := NewDispatcher(newTestRegistry("w1", adapter), &mockRunner{}, git)

	task := newTestTask("t1", TaskInProgress)
	res := d.RunTask(context.Background(), task, []string{"w1"}, "/repo", false, WorkerOptions{})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Implemented the endpoint.", res.Summary)
	assert.Equal(t, []string{"api/login.go", "api/login_test.go"}, res.Artifacts)
	assert.Empty(t, git.commits, "no commit outside a repo")
}

func TestRunTaskNoWorkers(t *testing.T) {
	d := NewDispatcher(newTestRegistry("w1", &scriptedAdapter{}), &mockRunner{}, &mockGit{})
	res := d.RunTask(context.Background(), newTestTask("t1", TaskInProgress), nil, "/repo", false, WorkerOptions{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no workers")
}

func TestRunTaskMultiAgentModesUseRunner(t *testing.T) {
	for _, mode := range []ExecutionMode{ModeCompare, ModePipeline, ModeCorrection, ModeDebate, ModeConsensus, ModePickBuild} {
		t.Run(string(mode), func(t *testing.T) {
			runner := &mockRunner{output: "done\nModified: out.go"}
			d := NewDispatcher(newTestRegistry("w1", &scriptedAdapter{}), runner, &mockGit{})

			task := newTestTask("t1", TaskInProgress)
			task.Enhancement = &Enhancement{ExecutionMode: mode}
			res := d.RunTask(context.Background(), task, []string{"w1", "w2"}, "/repo", false, WorkerOptions{})

			require.True(t, res.Success, res.Error)
			require.NotNil(t, runner.lastPlan)
			assert.Equal(t, plan.Mode(mode), runner.lastPlan.Mode)
			assert.Equal(t, []string{"w1", "w2"}, runner.lastPlan.Agents)
			assert.Equal(t, mode == ModeCorrection, runner.lastPlan.Options.AutoFix,
				"correction mode enables auto-fix")
			assert.Equal(t, []string{"out.go"}, res.Artifacts)
		})
	}
}

func TestRunTaskForceModeOverridesTask(t *testing.T) {
	runner := &mockRunner{output: "ok"}
	d := NewDispatcher(newTestRegistry("w1", &scriptedAdapter{}), runner, &mockGit{})

	task := newTestTask("t1", TaskInProgress) // defaults to single
	res := d.RunTask(context.Background(), task, []string{"w1", "w2"}, "/repo", false,
		WorkerOptions{ForceMode: ModeDebate})

	require.True(t, res.Success, res.Error)
	require.NotNil(t, runner.lastPlan)
	assert.Equal(t, plan.ModeDebate, runner.lastPlan.Mode)
}

func TestRunTaskFailureCapturesDiff(t *testing.T) {
	runner := &mockRunner{err: errors.New("all agents disagreed")}
	git := &mockGit{repo: true, diff: "+ half-finished change"}
	d := NewDispatcher(newTestRegistry("w1", &scriptedAdapter{}), runner, git)

	task := newTestTask("t1", TaskInProgress)
	task.Enhancement = &Enhancement{ExecutionMode: ModeConsensus}
	res := d.RunTask(context.Background(), task, []string{"w1"}, "/repo", false, WorkerOptions{})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "all agents disagreed")
	assert.Equal(t, "+ half-finished change", res.GitDiff)
}

func TestRunTaskCommitsDirtyTree(t *testing.T) {
	adapter := &scriptedAdapter{responses: []string{"done"}}
	git := &mockGit{repo: true, status: " M api/login.go\n?? api/new.go"}
	d := NewDispatcher(newTestRegistry("w1", adapter), &mockRunner{}, git)

	task := newTestTask("t1", TaskInProgress)
	task.Title = "Add login"
	res := d.RunTask(context.Background(), task, []string{"w1"}, "/repo", false, WorkerOptions{})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"api/login.go", "api/new.go"}, git.staged)
	require.Len(t, git.commits, 1)
	assert.Contains(t, git.commits[0], "Add login")
	assert.Contains(t, git.commits[0], "t1")
	assert.Equal(t, "hash1", res.Commit)
}

func TestRunTaskStagesRenameTarget(t *testing.T) {
	adapter := &scriptedAdapter{responses: []string{"done"}}
	git := &mockGit{repo: true, status: "R  api/old.go -> api/new.go\n M api/login.go"}
	d := NewDispatcher(newTestRegistry("w1", adapter), &mockRunner{}, git)

	res := d.RunTask(context.Background(), newTestTask("t1", TaskInProgress), []string{"w1"}, "/repo", false, WorkerOptions{})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"api/new.go", "api/login.go"}, git.staged, "rename lines stage the new path only")
}

func TestRunTaskStagesArtifactsWhenTreeClean(t *testing.T) {
	adapter := &scriptedAdapter{responses: []string{"Modified: api/login.go"}}
	git := &mockGit{repo: true, status: ""}
	d := NewDispatcher(newTestRegistry("w1", adapter), &mockRunner{}, git)

	res := d.RunTask(context.Background(), newTestTask("t1", TaskInProgress), []string{"w1"}, "/repo", false, WorkerOptions{})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"api/login.go"}, git.staged)
	assert.Len(t, git.commits, 1)
}

func TestRunTaskSkipsCommitWhenNothingStaged(t *testing.T) {
	adapter := &scriptedAdapter{responses: []string{"analysis only, no file changes"}}
	git := &mockGit{repo: true, status: ""}
	d := NewDispatcher(newTestRegistry("w1", adapter), &mockRunner{}, git)

	res := d.RunTask(context.Background(), newTestTask("t1", TaskInProgress), []string{"w1"}, "/repo", false, WorkerOptions{})
	require.True(t, res.Success, res.Error)
	assert.Empty(t, git.commits)
	assert.Empty(t, res.Commit)
}

func TestExtractArtifacts(t *testing.T) {
	output := `I finished the task.
Modified: src/a.go
  Created: src/b.go
File: docs/readme.md
Modified: src/a.go
modified: src/c.go
Not a report line: Modified: src/d.go`

	artifacts := ExtractArtifacts(output)
	assert.Equal(t, []string{"src/a.go", "src/b.go", "docs/readme.md", "src/c.go"}, artifacts)
}

func TestExtractArtifactsEmpty(t *testing.T) {
	assert.Empty(t, ExtractArtifacts("no artifacts reported"))
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "first line", summarize("\n\n  first line  \nsecond"))
	assert.Equal(t, "completed", summarize("   \n  "))

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	s := summarize(string(long))
	assert.Len(t, s, 203)
	assert.True(t, len(s) < 300)
}
