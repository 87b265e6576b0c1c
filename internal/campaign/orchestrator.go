package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"conductor/internal/agent"
	"conductor/internal/logging"
	"conductor/internal/plan"
)

// maxIterations is a runaway guard independent of task count. Hitting it
// leaves the campaign in running status for external inspection.
const maxIterations = 1000

// keepDecisions is how many recent decisions survive a fresh-start prune.
const keepDecisions = 20

// Sink mirrors campaign rows for external reporting. Failures never block
// orchestration.
type Sink interface {
	UpsertCampaign(c *Campaign) error
	UpsertTask(campaignID string, t *Task) error
}

// Deps are the orchestrator's collaborators, passed explicitly so tests
// can substitute deterministic doubles.
type Deps struct {
	Registry     *agent.Registry
	Runner       plan.Runner
	Git          Git
	Sink         Sink // optional
	Checker      CriteriaChecker
	Checkpointer *Checkpointer
	Collector    *Collector
	Cwd          string
	StatePath    string
}

// RunReport is the structured result of a campaign run. The loop always
// returns one, even on partial failure; it never panics past its own
// boundary.
type RunReport struct {
	Status      CampaignStatus `json:"status"`
	Iterations  int            `json:"iterations"`
	Completed   int            `json:"completed"`
	Failed      int            `json:"failed"`
	Checkpoints int            `json:"checkpoints"`
	Decisions   int            `json:"decisions"`
	Summary     string         `json:"summary"`
}

// Orchestrator drives a campaign from idle to completion, persisting after
// every mutation and checkpointing on the configured cadence. The loop is
// single-threaded; all writes go through the OCC-guarded save path.
type Orchestrator struct {
	deps       Deps
	roles      *Roles
	dispatcher *Dispatcher
	campaign   *Campaign
}

// NewOrchestrator wires an orchestrator from its dependencies.
func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.Checker == nil {
		deps.Checker = NewExecChecker(deps.Cwd)
	}
	if deps.Collector == nil {
		deps.Collector = NewCollector()
	}
	if deps.Checkpointer != nil {
		deps.Checkpointer.WithCollector(deps.Collector)
		deps.Checkpointer.WithGit(deps.Git, deps.Cwd)
	}
	return &Orchestrator{
		deps:       deps,
		roles:      NewRoles(deps.Registry),
		dispatcher: NewDispatcher(deps.Registry, deps.Runner, deps.Git),
	}
}

// Campaign returns the campaign being orchestrated.
func (o *Orchestrator) Campaign() *Campaign { return o.campaign }

// Start begins a fresh campaign for the goal.
func (o *Orchestrator) Start(c *Campaign) {
	o.campaign = c
}

// Load restores a campaign from its state file.
func (o *Orchestrator) Load() error {
	c, err := LoadState(o.deps.StatePath)
	if err != nil {
		return err
	}
	o.campaign = c
	return nil
}

// ResumeFromCheckpoint applies a checkpoint to the loaded campaign before
// running.
func (o *Orchestrator) ResumeFromCheckpoint(opts ResumeOptions) (*ResumeResult, error) {
	if o.campaign == nil {
		return nil, fmt.Errorf("no campaign loaded")
	}
	result, err := o.deps.Checkpointer.Resume(o.campaign, opts)
	if err != nil {
		return nil, err
	}
	return result, o.persist()
}

// PlanRecovery consults the recovery planner after a checkpoint restore and
// records its resume plan in the decision log. The plan is advisory; the
// control loop schedules from live task state either way.
func (o *Orchestrator) PlanRecovery(ctx context.Context) (*RecoveryOutput, error) {
	if o.campaign == nil {
		return nil, fmt.Errorf("no campaign loaded")
	}
	result := o.roles.Recover(ctx, o.campaign.Meta.PlannerAgent, o.roleContext(ctx))
	if result.Output == nil {
		return nil, fmt.Errorf("recovery planner produced no output: %s", result.Err)
	}

	raw, _ := json.Marshal(result.Output)
	o.campaign.Decisions = append(o.campaign.Decisions, Decision{
		ID:        NewDecisionID(),
		CreatedAt: NowMillis(),
		Summary:   result.Output.Summary,
		Raw:       raw,
	})
	o.deps.Collector.Record(Event{Kind: EventDecision, Detail: result.Output.Summary})
	return result.Output, o.persist()
}

// persist saves the campaign with OCC. On a version conflict the on-disk
// state is reloaded, external changes are folded into the in-memory
// campaign, and the save is retried once. A second conflict is surfaced.
func (o *Orchestrator) persist() error {
	err := SaveState(o.deps.StatePath, o.campaign, o.campaign.Version)
	var conflict *VersionConflictError
	if errors.As(err, &conflict) {
		logging.CampaignWarn("save conflict for %s: %v; merging external changes", o.campaign.ID, conflict)
		onDisk, loadErr := LoadState(o.deps.StatePath)
		if loadErr != nil {
			return err
		}
		o.mergeExternal(onDisk)
		err = SaveState(o.deps.StatePath, o.campaign, o.campaign.Version)
	}
	if err != nil {
		return err
	}
	o.mirror()
	return nil
}

// mergeExternal folds state written by another process into the in-memory
// campaign. Unknown tasks are adopted wholesale; for tasks both sides know,
// the more recently updated copy wins. Decisions merge by ID and artifacts
// by value, so neither writer's additions are lost.
func (o *Orchestrator) mergeExternal(onDisk *Campaign) {
	c := o.campaign
	for id, theirs := range onDisk.Tasks {
		ours, known := c.Tasks[id]
		if !known || theirs.UpdatedAt > ours.UpdatedAt {
			c.Tasks[id] = theirs
		}
	}
	seen := make(map[string]bool, len(c.Decisions))
	for _, d := range c.Decisions {
		seen[d.ID] = true
	}
	for _, d := range onDisk.Decisions {
		if !seen[d.ID] {
			c.Decisions = append(c.Decisions, d)
		}
	}
	c.Artifacts = mergeArtifacts(c.Artifacts, onDisk.Artifacts)
	c.Version = onDisk.Version
}

// mirror pushes current rows to the relational sink, best-effort.
func (o *Orchestrator) mirror() {
	if o.deps.Sink == nil {
		return
	}
	if err := o.deps.Sink.UpsertCampaign(o.campaign); err != nil {
		logging.StoreDebug("sink campaign upsert failed: %v", err)
	}
	for _, t := range o.campaign.Tasks {
		if err := o.deps.Sink.UpsertTask(o.campaign.ID, t); err != nil {
			logging.StoreDebug("sink task upsert failed: %v", err)
			return
		}
	}
}

// Run executes the campaign control loop until the planner declares the
// goal done, the iteration ceiling is reached, or ctx is cancelled.
// Cancellation is cooperative: the current adapter call is honored.
func (o *Orchestrator) Run(ctx context.Context) RunReport {
	if o.campaign == nil {
		return RunReport{Status: CampaignFailed, Summary: "no campaign loaded"}
	}

	c := o.campaign
	c.Status = CampaignRunning
	if err := o.persist(); err != nil {
		return o.report(0, fmt.Sprintf("initial save failed: %v", err))
	}

	var iterations int
	for iterations = 1; iterations <= maxIterations; iterations++ {
		select {
		case <-ctx.Done():
			logging.Campaign("campaign %s cancelled after %d iterations", c.ID, iterations-1)
			_ = o.persist()
			return o.report(iterations-1, "cancelled")
		default:
		}

		if c.Meta.FreshStartEvery > 0 && iterations%c.Meta.FreshStartEvery == 0 {
			o.freshStart()
			_ = o.persist()
		}

		next := o.nextRunnableTask()
		if next == nil {
			done, progressed := o.consultPlanner(ctx)
			if done {
				c.Status = o.finalStatus()
				_ = o.persist()
				logging.Campaign("campaign %s finished with status %s", c.ID, c.Status)
				return o.report(iterations, "planner declared campaign done")
			}
			if !progressed {
				// Planner failed or emitted nothing new: no-op iteration.
				continue
			}
			_ = o.persist()
			continue
		}

		if next.AgentHint == HintSubplanner {
			o.expandSubplan(ctx, next)
			_ = o.persist()
			continue
		}

		o.executeTask(ctx, next)

		if o.shouldCheckpoint() {
			o.takeCheckpoint(ctx)
		}
	}

	// Runaway guard: leave the campaign running for external inspection.
	logging.CampaignWarn("campaign %s hit iteration ceiling (%d)", c.ID, maxIterations)
	_ = o.persist()
	return o.report(maxIterations, "iteration ceiling reached")
}

// nextRunnableTask scans domains in order and returns the first runnable
// task, or nil when no work remains in any queue.
func (o *Orchestrator) nextRunnableTask() *Task {
	for _, domain := range Domains(o.campaign.Tasks) {
		q := NewDomainQueue(domain, o.campaign.Tasks)
		if t := q.NextTask(o.deps.Checker); t != nil {
			return t
		}
	}
	return nil
}

// consultPlanner asks the planner whether the campaign is done, folding in
// any newly emitted tasks. Returns (done, madeProgress).
func (o *Orchestrator) consultPlanner(ctx context.Context) (bool, bool) {
	result := o.roles.Plan(ctx, o.campaign.Meta.PlannerAgent, o.roleContext(ctx))
	if result.Output == nil {
		return false, false
	}

	out := result.Output
	if out.Done && len(out.Tasks) == 0 && len(out.SubPlans) == 0 {
		return true, false
	}

	added := 0
	for _, pt := range out.Tasks {
		o.addPlannedTask(pt)
		added++
	}
	for _, sp := range out.SubPlans {
		// A sub-plan becomes a planning task routed to the sub-planner.
		o.addPlannedTask(PlannedTask{
			Title:       "Plan: " + sp.Area,
			Description: sp.Goal + "\n" + sp.Notes,
			Area:        sp.Area,
			AgentHint:   string(HintSubplanner),
		})
		added++
	}
	logging.Campaign("planner added %d task(s): %s", added, out.Summary)
	return false, added > 0
}

func (o *Orchestrator) addPlannedTask(pt PlannedTask) *Task {
	now := NowMillis()
	hint := AgentHint(pt.AgentHint)
	if hint == "" {
		hint = HintWorker
	}
	t := &Task{
		ID:                 NewTaskID(),
		Title:              pt.Title,
		Description:        pt.Description,
		Status:             TaskPending,
		AcceptanceCriteria: pt.AcceptanceCriteria,
		Area:               pt.Area,
		AgentHint:          hint,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	o.campaign.Tasks[t.ID] = t
	return t
}

// expandSubplan invokes the sub-planner for a planning task and splices
// its emitted sub-tasks into the graph. The parent task is simply marked
// completed once sub-tasks are queued; sub-tasks do not depend on it.
func (o *Orchestrator) expandSubplan(ctx context.Context, parent *Task) {
	result := o.roles.SubPlan(ctx, o.campaign.Meta.SubplannerAgent, o.roleContext(ctx), parent)
	if result.Output == nil {
		parent.MarkFailed("subplanner produced no output: " + result.Err)
		return
	}

	for _, pt := range result.Output.Tasks {
		if pt.Area == "" {
			pt.Area = parent.Area
		}
		o.addPlannedTask(pt)
	}
	parent.MarkCompleted(result.Output.Summary)
	logging.Campaign("subplanner expanded %s into %d task(s)", parent.ID, len(result.Output.Tasks))
}

// executeTask runs one worker task end to end: mark in_progress, persist,
// dispatch, record the outcome, persist again.
func (o *Orchestrator) executeTask(ctx context.Context, t *Task) {
	c := o.campaign
	if err := t.MarkInProgress(c.Tasks); err != nil {
		t.Status = TaskBlocked
		t.UpdatedAt = NowMillis()
		return
	}
	_ = o.persist()
	o.deps.Collector.Record(Event{Kind: EventTaskStarted, TaskID: t.ID})

	started := time.Now()
	result := o.dispatcher.RunTask(ctx, t, c.Meta.WorkerAgents, o.deps.Cwd, c.Meta.UseDroid, WorkerOptions{})

	if result.Success {
		t.MarkCompleted(result.Summary)
		c.Artifacts = mergeArtifacts(c.Artifacts, result.Artifacts)
		o.deps.Collector.RecordTaskDone(t.ID, time.Since(started))
		q := NewDomainQueue(t.Domain(), c.Tasks)
		if q.Status() == DomainCompleted {
			o.deps.Collector.MarkDomainGreen(t.Domain())
		}
	} else {
		t.MarkFailed(result.Error)
		o.deps.Collector.Record(Event{Kind: EventTaskFailed, TaskID: t.ID, Detail: result.Error})
		o.deps.Collector.CheckDrift(c, t)
		if t.Attempts >= maxTaskAttempts {
			o.resolveConflict(ctx, t)
		}
	}
	_ = o.persist()
}

// resolveConflict escalates a repeatedly failing task to the conflict
// resolver and appends the outcome to the decision log. The decision is an
// audit record; it does not alter scheduling.
func (o *Orchestrator) resolveConflict(ctx context.Context, t *Task) {
	rc := o.roleContext(ctx)
	rc.FailedTask = t
	result := o.roles.ResolveConflict(ctx, o.campaign.Meta.PlannerAgent, rc)
	if result.Output == nil {
		return
	}

	o.campaign.Decisions = append(o.campaign.Decisions, Decision{
		ID:        NewDecisionID(),
		CreatedAt: NowMillis(),
		Summary:   result.Output.Decision,
	})
	o.deps.Collector.Record(Event{Kind: EventDecision, TaskID: t.ID, Detail: result.Output.Decision})
}

func (o *Orchestrator) shouldCheckpoint() bool {
	every := o.campaign.Meta.CheckpointEvery
	if every <= 0 || o.deps.Checkpointer == nil {
		return false
	}
	completed := 0
	for _, t := range o.campaign.Tasks {
		if t.Status == TaskCompleted {
			completed++
		}
	}
	return completed > 0 && completed%every == 0 && completed != o.lastCheckpointedCount()
}

func (o *Orchestrator) lastCheckpointedCount() int {
	if len(o.campaign.Checkpoints) == 0 {
		return -1
	}
	return o.campaign.Checkpoints[len(o.campaign.Checkpoints)-1].Metrics.TasksCompleted
}

func (o *Orchestrator) takeCheckpoint(ctx context.Context) {
	checkpoint, err := o.deps.Checkpointer.Create(ctx, o.campaign, "")
	if err != nil {
		logging.CampaignWarn("checkpoint create failed: %v", err)
		return
	}
	if err := o.deps.Checkpointer.Save(checkpoint); err != nil {
		logging.CampaignWarn("checkpoint save failed: %v", err)
		return
	}
	o.campaign.Checkpoints = append(o.campaign.Checkpoints, *checkpoint)
	o.deps.Collector.Record(Event{Kind: EventCheckpoint, Detail: checkpoint.Summary})
	_ = o.persist()
}

// freshStart prunes the decision log to the most recent entries so prompt
// context for future planner calls stays bounded. Idempotent.
func (o *Orchestrator) freshStart() {
	if len(o.campaign.Decisions) <= keepDecisions {
		return
	}
	o.campaign.Decisions = o.campaign.Decisions[len(o.campaign.Decisions)-keepDecisions:]
	logging.CampaignDebug("fresh start: decision log pruned to %d entries", keepDecisions)
}

// finalStatus maps end-of-work task state to a campaign status.
func (o *Orchestrator) finalStatus() CampaignStatus {
	tasks := make([]*Task, 0, len(o.campaign.Tasks))
	for _, t := range o.campaign.Tasks {
		tasks = append(tasks, t)
	}
	counts := CountTasks(tasks)
	if counts.Failed > 0 && counts.Completed == 0 {
		return CampaignFailed
	}
	return CampaignCompleted
}

func (o *Orchestrator) roleContext(ctx context.Context) RoleContext {
	c := o.campaign
	rc := RoleContext{Goal: c.Goal}
	for _, t := range c.Tasks {
		switch t.Status {
		case TaskCompleted:
			rc.CompletedTasks = append(rc.CompletedTasks, t)
		default:
			rc.OpenTasks = append(rc.OpenTasks, t)
		}
	}
	if len(c.Checkpoints) > 0 {
		rc.CheckpointSummary = c.Checkpoints[len(c.Checkpoints)-1].Summary
	}
	for _, d := range lastDecisions(c.Decisions, 5) {
		rc.Constraints = append(rc.Constraints, "prior decision: "+d.Summary)
	}
	if o.deps.Git != nil && o.deps.Git.IsRepo(ctx, o.deps.Cwd) {
		if commits, err := o.deps.Git.RecentCommits(ctx, o.deps.Cwd, 5); err == nil {
			rc.GitContext = joinLines(commits)
		}
	}
	return rc
}

func (o *Orchestrator) report(iterations int, summary string) RunReport {
	tasks := make([]*Task, 0, len(o.campaign.Tasks))
	for _, t := range o.campaign.Tasks {
		tasks = append(tasks, t)
	}
	counts := CountTasks(tasks)
	return RunReport{
		Status:      o.campaign.Status,
		Iterations:  iterations,
		Completed:   counts.Completed,
		Failed:      counts.Failed,
		Checkpoints: len(o.campaign.Checkpoints),
		Decisions:   len(o.campaign.Decisions),
		Summary:     summary,
	}
}

func lastDecisions(decisions []Decision, n int) []Decision {
	if len(decisions) <= n {
		return decisions
	}
	return decisions[len(decisions)-n:]
}

func mergeArtifacts(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, a := range existing {
		seen[a] = true
	}
	for _, a := range added {
		if !seen[a] {
			existing = append(existing, a)
			seen[a] = true
		}
	}
	return existing
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
