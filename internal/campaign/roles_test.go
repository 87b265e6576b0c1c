package campaign

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlannerRoleParsesTasks(t *testing.T) {
	adapter := &scriptedAdapter{responses: []string{
		"```json\n" + `{
			"summary": "initial plan",
			"tasks": [
				{"title": "Add login endpoint", "description": "POST /login", "area": "api", "agentHint": "worker"}
			],
			"subPlans": [{"area": "ui", "goal": "build the login form"}],
			"done": false
		}` + "\n```",
	}}
	roles := NewRoles(newTestRegistry("planner", adapter))

	result := roles.Plan(context.Background(), "planner", RoleContext{Goal: "add auth"})
	require.Empty(t, result.Err)
	require.NotNil(t, result.Output)
	assert.Equal(t, "initial plan", result.Output.Summary)
	require.Len(t, result.Output.Tasks, 1)
	assert.Equal(t, "Add login endpoint", result.Output.Tasks[0].Title)
	require.Len(t, result.Output.SubPlans, 1)
	assert.Equal(t, "ui", result.Output.SubPlans[0].Area)
	assert.False(t, result.Output.Done)
}

func TestPlannerRoleDoneWithoutTasks(t *testing.T) {
	adapter := &scriptedAdapter{responses: []string{
		`{"summary": "all objectives met", "tasks": [], "subPlans": [], "done": true}`,
	}}
	roles := NewRoles(newTestRegistry("planner", adapter))

	result := roles.Plan(context.Background(), "planner", RoleContext{Goal: "g"})
	require.Empty(t, result.Err)
	assert.True(t, result.Output.Done)
}

func TestPlannerRoleRejectsEmptyOutput(t *testing.T) {
	adapter := &scriptedAdapter{responses: []string{
		`{"summary": "thinking", "tasks": [], "subPlans": [], "done": false}`,
	}}
	roles := NewRoles(newTestRegistry("planner", adapter))

	result := roles.Plan(context.Background(), "planner", RoleContext{Goal: "g"})
	assert.Nil(t, result.Output)
	assert.Contains(t, result.Err, "validation error")
}

func TestPlannerRoleRejectsBadAgentHint(t *testing.T) {
	adapter := &scriptedAdapter{responses: []string{
		`{"summary": "s", "tasks": [{"title": "x", "agentHint": "wizard"}], "done": false}`,
	}}
	roles := NewRoles(newTestRegistry("planner", adapter))

	result := roles.Plan(context.Background(), "planner", RoleContext{Goal: "g"})
	assert.Nil(t, result.Output)
	assert.Contains(t, result.Err, "agentHint")
}

func TestPlannerRoleAdapterError(t *testing.T) {
	adapter := &scriptedAdapter{err: errors.New("connection refused")}
	roles := NewRoles(newTestRegistry("planner", adapter))

	result := roles.Plan(context.Background(), "planner", RoleContext{Goal: "g"})
	assert.Nil(t, result.Output)
	assert.Contains(t, result.Err, "adapter error")
}

func TestPlannerRoleMalformedJSON(t *testing.T) {
	adapter := &scriptedAdapter{responses: []string{"I could not come up with a plan."}}
	roles := NewRoles(newTestRegistry("planner", adapter))

	result := roles.Plan(context.Background(), "planner", RoleContext{Goal: "g"})
	assert.Nil(t, result.Output)
	assert.Contains(t, result.Err, "extract error")
}

func TestSubplannerForcesWorkerHint(t *testing.T) {
	adapter := &scriptedAdapter{responses: []string{
		`{"summary": "expanded", "tasks": [
			{"title": "Render form", "agentHint": "subplanner"},
			{"title": "Wire submit"}
		]}`,
	}}
	roles := NewRoles(newTestRegistry("sub", adapter))

	parent := newTestTask("p1", TaskInProgress)
	result := roles.SubPlan(context.Background(), "sub", RoleContext{Goal: "g"}, parent)
	require.Empty(t, result.Err)
	require.Len(t, result.Output.Tasks, 2)
	for _, task := range result.Output.Tasks {
		assert.Equal(t, string(HintWorker), task.AgentHint)
	}
}

func TestSubplannerRequiresTasks(t *testing.T) {
	adapter := &scriptedAdapter{responses: []string{`{"summary": "nothing to do", "tasks": []}`}}
	roles := NewRoles(newTestRegistry("sub", adapter))

	result := roles.SubPlan(context.Background(), "sub", RoleContext{Goal: "g"}, newTestTask("p1", TaskInProgress))
	assert.Nil(t, result.Output)
	assert.Contains(t, result.Err, "no tasks")
}

func TestRecoveryRoleValidatesOwners(t *testing.T) {
	adapter := &scriptedAdapter{responses: []string{
		`{"summary": "resume", "resumePlan": [
			{"step": 1, "action": "re-run failing tests", "owner": "worker"},
			{"step": 2, "action": "replan the api area", "owner": "planner"}
		], "risks": [{"risk": "stale state", "mitigation": "validate checkpoint first"}]}`,
	}}
	roles := NewRoles(newTestRegistry("recovery", adapter))

	result := roles.Recover(context.Background(), "recovery", RoleContext{Goal: "g"})
	require.Empty(t, result.Err)
	require.Len(t, result.Output.ResumePlan, 2)
	assert.Equal(t, "worker", result.Output.ResumePlan[0].Owner)
	require.Len(t, result.Output.Risks, 1)
}

func TestRecoveryRoleRejectsUnknownOwner(t *testing.T) {
	adapter := &scriptedAdapter{responses: []string{
		`{"summary": "resume", "resumePlan": [{"step": 1, "action": "x", "owner": "manager"}]}`,
	}}
	roles := NewRoles(newTestRegistry("recovery", adapter))

	result := roles.Recover(context.Background(), "recovery", RoleContext{Goal: "g"})
	assert.Nil(t, result.Output)
	assert.Contains(t, result.Err, "owner")
}

func TestConflictRoleRequiresDecision(t *testing.T) {
	failed := newTestTask("t1", TaskFailed)

	adapter := &scriptedAdapter{responses: []string{
		`{"decision": "split the task", "resolutionSteps": ["extract the migration", "retry"], "riskNotes": []}`,
	}}
	roles := NewRoles(newTestRegistry("conflict", adapter))

	result := roles.ResolveConflict(context.Background(), "conflict", RoleContext{Goal: "g", FailedTask: failed})
	require.Empty(t, result.Err)
	assert.Equal(t, "split the task", result.Output.Decision)

	adapter = &scriptedAdapter{responses: []string{`{"decision": "  ", "resolutionSteps": []}`}}
	roles = NewRoles(newTestRegistry("conflict", adapter))
	result = roles.ResolveConflict(context.Background(), "conflict", RoleContext{Goal: "g", FailedTask: failed})
	assert.Nil(t, result.Output)
	assert.Contains(t, result.Err, "decision")
}

func TestRolePromptsCarryContext(t *testing.T) {
	adapter := &scriptedAdapter{responses: []string{
		`{"summary": "ok", "tasks": [{"title": "t"}], "done": false}`,
	}}
	roles := NewRoles(newTestRegistry("planner", adapter))

	open := newTestTask("t9", TaskPending)
	roles.Plan(context.Background(), "planner", RoleContext{
		Goal:              "ship the feature",
		CheckpointSummary: "3/5 tasks complete (60%)",
		OpenTasks:         []*Task{open},
		Constraints:       []string{"no schema changes"},
	})

	require.Len(t, adapter.calls, 1)
	prompt := adapter.calls[0]
	assert.Contains(t, prompt, "ship the feature")
	assert.Contains(t, prompt, "3/5 tasks complete (60%)")
	assert.Contains(t, prompt, "no schema changes")
	assert.Contains(t, prompt, open.Title)
}
