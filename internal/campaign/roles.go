package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"conductor/internal/agent"
	"conductor/internal/logging"
)

// RoleResult carries a role's validated output or the reason it produced
// none. Adapter failure and validation failure look identical to the
// caller: Output nil, Err set, never a panic — the control loop treats a
// failed role call as a no-op iteration, not a fatal abort.
type RoleResult[T any] struct {
	Output *T
	Err    string
}

// PlannedTask is a task emitted by the planner or sub-planner.
type PlannedTask struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
	Area               string   `json:"area,omitempty"`
	AgentHint          string   `json:"agentHint,omitempty"`
}

// SubPlan names an area the planner wants expanded by the sub-planner.
type SubPlan struct {
	Area  string `json:"area"`
	Goal  string `json:"goal"`
	Notes string `json:"notes,omitempty"`
}

// PlannerOutput is the planner's structured response.
type PlannerOutput struct {
	Summary  string        `json:"summary"`
	Tasks    []PlannedTask `json:"tasks"`
	SubPlans []SubPlan     `json:"subPlans"`
	Done     bool          `json:"done"`
}

// SubplannerOutput is the sub-planner's structured response. The task
// shape matches the planner's, but agent hints are forced to worker.
type SubplannerOutput struct {
	Summary string        `json:"summary"`
	Tasks   []PlannedTask `json:"tasks"`
}

// ResumeStep is one step of a recovery plan.
type ResumeStep struct {
	Step   int    `json:"step"`
	Action string `json:"action"`
	Owner  string `json:"owner"` // planner|subplanner|worker
}

// Risk pairs a recovery risk with its mitigation.
type Risk struct {
	Risk       string `json:"risk"`
	Mitigation string `json:"mitigation"`
}

// RecoveryOutput is the recovery planner's structured response.
type RecoveryOutput struct {
	Summary    string       `json:"summary"`
	ResumePlan []ResumeStep `json:"resumePlan"`
	Risks      []Risk       `json:"risks"`
}

// ConflictOutput is the conflict resolver's structured response.
type ConflictOutput struct {
	Decision        string   `json:"decision"`
	ResolutionSteps []string `json:"resolutionSteps"`
	RiskNotes       []string `json:"riskNotes"`
}

// Roles bundles the four prompt-building request/response functions over
// one agent registry.
type Roles struct {
	registry *agent.Registry
}

// NewRoles creates the role functions over a registry.
func NewRoles(registry *agent.Registry) *Roles {
	return &Roles{registry: registry}
}

// invokeRole runs one adapter call, extracts JSON and unmarshals into T.
// The validate callback enforces the role's structural schema.
func invokeRole[T any](ctx context.Context, r *Roles, agentName, prompt string, validate func(*T) error) RoleResult[T] {
	res, err := r.registry.Invoke(ctx, agentName, prompt, agent.InvokeOptions{})
	if err != nil {
		return RoleResult[T]{Err: fmt.Sprintf("adapter error: %v", err)}
	}

	raw, err := ExtractJSON(res.Content)
	if err != nil {
		return RoleResult[T]{Err: fmt.Sprintf("extract error: %v", err)}
	}

	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return RoleResult[T]{Err: fmt.Sprintf("parse error: %v", err)}
	}
	if err := validate(&out); err != nil {
		return RoleResult[T]{Err: fmt.Sprintf("validation error: %v", err)}
	}
	return RoleResult[T]{Output: &out}
}

// Plan asks the planner for the next plan delta.
func (r *Roles) Plan(ctx context.Context, agentName string, rc RoleContext) RoleResult[PlannerOutput] {
	result := invokeRole(ctx, r, agentName, BuildPlannerPrompt(rc), validatePlannerOutput)
	if result.Err != "" {
		logging.CampaignWarn("planner role failed: %s", result.Err)
	}
	return result
}

// SubPlan asks the sub-planner to expand a planning task into worker tasks.
func (r *Roles) SubPlan(ctx context.Context, agentName string, rc RoleContext, parent *Task) RoleResult[SubplannerOutput] {
	result := invokeRole(ctx, r, agentName, BuildSubplannerPrompt(rc, parent), validateSubplannerOutput)
	if result.Err != "" {
		logging.CampaignWarn("subplanner role failed: %s", result.Err)
	}
	return result
}

// Recover asks the recovery planner for a resume plan.
func (r *Roles) Recover(ctx context.Context, agentName string, rc RoleContext) RoleResult[RecoveryOutput] {
	result := invokeRole(ctx, r, agentName, BuildRecoveryPrompt(rc), validateRecoveryOutput)
	if result.Err != "" {
		logging.CampaignWarn("recovery role failed: %s", result.Err)
	}
	return result
}

// ResolveConflict asks the conflict resolver how to proceed after repeated
// task failure. The outcome is recorded as an audit decision; it does not
// feed back into scheduling.
func (r *Roles) ResolveConflict(ctx context.Context, agentName string, rc RoleContext) RoleResult[ConflictOutput] {
	result := invokeRole(ctx, r, agentName, BuildConflictPrompt(rc), validateConflictOutput)
	if result.Err != "" {
		logging.CampaignWarn("conflict role failed: %s", result.Err)
	}
	return result
}

func validatePlannedTasks(tasks []PlannedTask) error {
	for i, t := range tasks {
		if strings.TrimSpace(t.Title) == "" {
			return fmt.Errorf("task %d has no title", i)
		}
		if t.AgentHint != "" && t.AgentHint != string(HintWorker) && t.AgentHint != string(HintSubplanner) {
			return fmt.Errorf("task %d has invalid agentHint %q", i, t.AgentHint)
		}
	}
	return nil
}

func validatePlannerOutput(out *PlannerOutput) error {
	if out.Summary == "" {
		return fmt.Errorf("missing summary")
	}
	if !out.Done && len(out.Tasks) == 0 && len(out.SubPlans) == 0 {
		return fmt.Errorf("planner emitted neither tasks nor subPlans nor done")
	}
	if err := validatePlannedTasks(out.Tasks); err != nil {
		return err
	}
	for i, sp := range out.SubPlans {
		if sp.Area == "" || sp.Goal == "" {
			return fmt.Errorf("subPlan %d missing area or goal", i)
		}
	}
	return nil
}

func validateSubplannerOutput(out *SubplannerOutput) error {
	if len(out.Tasks) == 0 {
		return fmt.Errorf("subplanner emitted no tasks")
	}
	if err := validatePlannedTasks(out.Tasks); err != nil {
		return err
	}
	// Sub-planner output always routes to workers.
	for i := range out.Tasks {
		out.Tasks[i].AgentHint = string(HintWorker)
	}
	return nil
}

func validateRecoveryOutput(out *RecoveryOutput) error {
	if out.Summary == "" {
		return fmt.Errorf("missing summary")
	}
	for i, step := range out.ResumePlan {
		switch step.Owner {
		case "planner", "subplanner", "worker":
		default:
			return fmt.Errorf("resumePlan step %d has invalid owner %q", i, step.Owner)
		}
	}
	return nil
}

func validateConflictOutput(out *ConflictOutput) error {
	if strings.TrimSpace(out.Decision) == "" {
		return fmt.Errorf("missing decision")
	}
	return nil
}
