package campaign

import (
	"fmt"
	"strings"
)

// RoleContext is the structured context a role prompt is built from. Each
// role consumes a subset; unused fields are simply omitted from the prompt.
type RoleContext struct {
	Goal               string
	CheckpointSummary  string
	OpenTasks          []*Task
	CompletedTasks     []*Task
	Constraints        []string
	RepoMap            string
	GitContext         string
	FailedTask         *Task // conflict/recovery roles
	RecentDecisions    []Decision
	DomainProgressLine string
}

func writeTaskList(sb *strings.Builder, heading string, tasks []*Task, limit int) {
	if len(tasks) == 0 {
		return
	}
	sb.WriteString(heading)
	sb.WriteString("\n")
	for i, t := range tasks {
		if i >= limit {
			fmt.Fprintf(sb, "- ... and %d more\n", len(tasks)-limit)
			break
		}
		fmt.Fprintf(sb, "- [%s] %s: %s\n", t.Status, t.ID, t.Title)
	}
	sb.WriteString("\n")
}

func writeCommonContext(sb *strings.Builder, rc RoleContext) {
	fmt.Fprintf(sb, "Goal:\n%s\n\n", rc.Goal)
	if rc.CheckpointSummary != "" {
		fmt.Fprintf(sb, "Progress so far: %s\n\n", rc.CheckpointSummary)
	}
	if rc.DomainProgressLine != "" {
		fmt.Fprintf(sb, "Domain progress: %s\n\n", rc.DomainProgressLine)
	}
	writeTaskList(sb, "Open tasks:", rc.OpenTasks, 25)
	writeTaskList(sb, "Completed tasks:", rc.CompletedTasks, 15)
	if len(rc.Constraints) > 0 {
		sb.WriteString("Constraints:\n")
		for _, c := range rc.Constraints {
			fmt.Fprintf(sb, "- %s\n", c)
		}
		sb.WriteString("\n")
	}
	if rc.RepoMap != "" {
		fmt.Fprintf(sb, "Repository map:\n%s\n\n", rc.RepoMap)
	}
	if rc.GitContext != "" {
		fmt.Fprintf(sb, "Recent git history:\n%s\n\n", rc.GitContext)
	}
}

// BuildPlannerPrompt produces the top-level planner prompt.
func BuildPlannerPrompt(rc RoleContext) string {
	var sb strings.Builder
	sb.WriteString("You are the campaign planner. Decompose the goal into concrete tasks ")
	sb.WriteString("and sub-plans, or declare the campaign done.\n\n")
	writeCommonContext(&sb, rc)
	sb.WriteString(`Respond with JSON only:
{
  "summary": "one-line plan summary",
  "tasks": [
    {"title": "...", "description": "...", "acceptanceCriteria": ["..."], "area": "optional domain", "agentHint": "worker|subplanner"}
  ],
  "subPlans": [
    {"area": "...", "goal": "...", "notes": "optional"}
  ],
  "done": false
}
Set "done": true with empty tasks when the goal is fully achieved.`)
	return sb.String()
}

// BuildSubplannerPrompt produces the per-area sub-planner prompt.
func BuildSubplannerPrompt(rc RoleContext, parent *Task) string {
	var sb strings.Builder
	sb.WriteString("You are a sub-planner. Break the following planning task into ")
	sb.WriteString("small, independently executable worker tasks.\n\n")
	fmt.Fprintf(&sb, "Planning task: %s\n%s\n\n", parent.Title, parent.Description)
	writeCommonContext(&sb, rc)
	sb.WriteString(`Respond with JSON only:
{
  "summary": "one-line summary",
  "tasks": [
    {"title": "...", "description": "...", "acceptanceCriteria": ["..."], "area": "optional domain"}
  ]
}`)
	return sb.String()
}

// BuildRecoveryPrompt produces the recovery-planning prompt used when
// resuming a campaign after a crash or widespread failure.
func BuildRecoveryPrompt(rc RoleContext) string {
	var sb strings.Builder
	sb.WriteString("You are the recovery planner. The campaign was interrupted; ")
	sb.WriteString("propose a safe plan to resume.\n\n")
	writeCommonContext(&sb, rc)
	sb.WriteString(`Respond with JSON only:
{
  "summary": "one-line recovery summary",
  "resumePlan": [
    {"step": 1, "action": "...", "owner": "planner|subplanner|worker"}
  ],
  "risks": [
    {"risk": "...", "mitigation": "..."}
  ]
}`)
	return sb.String()
}

// BuildConflictPrompt produces the conflict-resolution prompt used when a
// task keeps failing.
func BuildConflictPrompt(rc RoleContext) string {
	var sb strings.Builder
	sb.WriteString("You are the conflict resolver. A task has failed repeatedly; ")
	sb.WriteString("decide how to proceed.\n\n")
	if rc.FailedTask != nil {
		fmt.Fprintf(&sb, "Failed task: %s: %s\nAttempts: %d\nLast error: %s\n\n",
			rc.FailedTask.ID, rc.FailedTask.Title, rc.FailedTask.Attempts, rc.FailedTask.LastError)
	}
	writeCommonContext(&sb, rc)
	sb.WriteString(`Respond with JSON only:
{
  "decision": "one-line decision",
  "resolutionSteps": ["..."],
  "riskNotes": ["..."]
}`)
	return sb.String()
}

// BuildWorkerPrompt produces the plain single-mode task prompt.
func BuildWorkerPrompt(t *Task, cwd string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n\n%s\n\n", t.Title, t.Description)
	if len(t.AcceptanceCriteria) > 0 {
		sb.WriteString("Acceptance criteria:\n")
		for _, c := range t.AcceptanceCriteria {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
		sb.WriteString("\n")
	}
	if len(t.AssignedFiles) > 0 {
		sb.WriteString("Files assigned to this task:\n")
		for _, f := range t.AssignedFiles {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Working directory: %s\n\n", cwd)
	sb.WriteString("When finished, report every file you changed as lines of the form ")
	sb.WriteString("'Modified: <path>' or 'Created: <path>'.")
	return sb.String()
}
