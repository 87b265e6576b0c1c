package campaign

import (
	"context"
	"fmt"
	"sync"

	"conductor/internal/agent"
	"conductor/internal/plan"
)

// --- scripted adapter ---

// scriptedAdapter returns canned responses in order, then repeats the last.
type scriptedAdapter struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     []string // prompts received
}

func (s *scriptedAdapter) Invoke(ctx context.Context, agentName, prompt string, opts agent.InvokeOptions) (agent.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, prompt)
	if s.err != nil {
		return agent.Result{}, s.err
	}
	if len(s.responses) == 0 {
		return agent.Result{Content: ""}, nil
	}
	resp := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return agent.Result{Content: resp}, nil
}

func newTestRegistry(name string, adapter agent.Adapter) *agent.Registry {
	r := agent.NewRegistry()
	r.Register(name, adapter)
	return r
}

// --- mock git ---

type mockGit struct {
	repo    bool
	status  string
	diff    string
	recent  []string
	staged  []string
	commits []string
	lastCtx context.Context
}

func (g *mockGit) IsRepo(ctx context.Context, cwd string) bool {
	g.lastCtx = ctx
	return g.repo
}

func (g *mockGit) Status(ctx context.Context, cwd string) (string, error) { return g.status, nil }

func (g *mockGit) Diff(ctx context.Context, cwd string) (string, error) { return g.diff, nil }

func (g *mockGit) Stage(ctx context.Context, cwd, path string) error {
	g.staged = append(g.staged, path)
	return nil
}

func (g *mockGit) Commit(ctx context.Context, cwd, message string) (string, error) {
	g.commits = append(g.commits, message)
	return fmt.Sprintf("hash%d", len(g.commits)), nil
}

func (g *mockGit) RecentCommits(ctx context.Context, cwd string, n int) ([]string, error) {
	g.lastCtx = ctx
	return g.recent, nil
}

// --- mock plan runner ---

type mockRunner struct {
	lastPlan *plan.Plan
	output   string
	err      error
}

func (m *mockRunner) BuildPlan(mode plan.Mode, prompt string, agents []string, opts plan.Options) *plan.Plan {
	m.lastPlan = &plan.Plan{Mode: mode, Prompt: prompt, Agents: agents, Options: opts}
	return m.lastPlan
}

func (m *mockRunner) Execute(ctx context.Context, p *plan.Plan) (plan.Outcome, error) {
	if m.err != nil {
		return plan.Outcome{Status: plan.StatusFailed}, m.err
	}
	return plan.Outcome{Status: plan.StatusCompleted, FinalOutput: m.output}, nil
}

// --- in-memory sink ---

type memorySink struct {
	mu        sync.Mutex
	campaigns int
	tasks     int
}

func (s *memorySink) UpsertCampaign(c *Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns++
	return nil
}

func (s *memorySink) UpsertTask(campaignID string, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks++
	return nil
}

// --- helpers ---

func newTestTask(id string, status TaskStatus) *Task {
	now := NowMillis()
	return &Task{
		ID:        id,
		Title:     "task " + id,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func intPtr(v int) *int { return &v }
