// Package plan provides the multi-agent execution-plan collaborator used
// for non-trivial task modes: compare, pipeline, correction, debate,
// consensus and pickbuild. The orchestration core treats this package as
// opaque: build a plan, execute it, read the final output and status.
package plan

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"conductor/internal/agent"
	"conductor/internal/logging"
)

// Mode selects the plan topology.
type Mode string

const (
	ModeCompare    Mode = "compare"    // all agents answer, a judge picks a winner
	ModePipeline   Mode = "pipeline"   // analyze -> code -> review chain
	ModeCorrection Mode = "correction" // producer -> reviewer -> optional auto-fix
	ModeDebate     Mode = "debate"     // N rounds across agents with a moderator
	ModeConsensus  Mode = "consensus"  // rounds until agreement or cap
	ModePickBuild  Mode = "pickbuild"  // picker chooses approach, builder implements
)

// Status is the terminal state of an executed plan.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Options tune plan construction.
type Options struct {
	Rounds  int    // debate/consensus round cap (default 2)
	AutoFix bool   // correction mode: run a fix pass after review
	Model   string // model hint passed through to adapters
}

// Plan is a built, not-yet-executed multi-agent plan.
type Plan struct {
	Mode    Mode
	Prompt  string
	Agents  []string
	Options Options
}

// Outcome is the result of executing a plan.
type Outcome struct {
	Status      Status
	FinalOutput string
}

// Runner executes plans. Implementations may run agents locally or hand
// the plan to a remote execution service.
type Runner interface {
	BuildPlan(mode Mode, prompt string, agents []string, opts Options) *Plan
	Execute(ctx context.Context, p *Plan) (Outcome, error)
}

// LocalRunner executes plans in-process over an agent registry.
type LocalRunner struct {
	registry *agent.Registry
}

// NewLocalRunner creates a runner over the given registry.
func NewLocalRunner(registry *agent.Registry) *LocalRunner {
	return &LocalRunner{registry: registry}
}

// BuildPlan constructs a plan value. Validation happens at Execute time so
// a stale agent list fails the execution, not the build.
func (r *LocalRunner) BuildPlan(mode Mode, prompt string, agents []string, opts Options) *Plan {
	if opts.Rounds <= 0 {
		opts.Rounds = 2
	}
	return &Plan{Mode: mode, Prompt: prompt, Agents: agents, Options: opts}
}

// Execute runs the plan. Adapter errors surface as a failed outcome with
// the error returned alongside; callers decide whether to retry.
func (r *LocalRunner) Execute(ctx context.Context, p *Plan) (Outcome, error) {
	if len(p.Agents) == 0 {
		return Outcome{Status: StatusFailed}, fmt.Errorf("plan has no agents")
	}

	var out string
	var err error
	switch p.Mode {
	case ModeCompare:
		out, err = r.runCompare(ctx, p)
	case ModePipeline:
		out, err = r.runPipeline(ctx, p)
	case ModeCorrection:
		out, err = r.runCorrection(ctx, p)
	case ModeDebate:
		out, err = r.runDebate(ctx, p)
	case ModeConsensus:
		out, err = r.runConsensus(ctx, p)
	case ModePickBuild:
		out, err = r.runPickBuild(ctx, p)
	default:
		err = fmt.Errorf("unknown plan mode %q", p.Mode)
	}
	if err != nil {
		return Outcome{Status: StatusFailed}, err
	}
	return Outcome{Status: StatusCompleted, FinalOutput: out}, nil
}

func (r *LocalRunner) invoke(ctx context.Context, agentName, prompt string, opts Options) (string, error) {
	res, err := r.registry.Invoke(ctx, agentName, prompt, agent.InvokeOptions{Model: opts.Model})
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

// runCompare fans out the prompt to every agent in parallel and asks the
// first agent to judge the candidates and produce the winning answer.
func (r *LocalRunner) runCompare(ctx context.Context, p *Plan) (string, error) {
	answers := make([]string, len(p.Agents))
	var mu sync.Mutex

	eg, egCtx := errgroup.WithContext(ctx)
	for i, name := range p.Agents {
		i, name := i, name
		eg.Go(func() error {
			out, err := r.invoke(egCtx, name, p.Prompt, p.Options)
			if err != nil {
				return fmt.Errorf("agent %s: %w", name, err)
			}
			mu.Lock()
			answers[i] = out
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return "", err
	}

	if len(p.Agents) == 1 {
		return answers[0], nil
	}

	var sb strings.Builder
	sb.WriteString("Compare the candidate solutions below and output the best one ")
	sb.WriteString("verbatim, improved only where clearly wrong.\n\nTask:\n")
	sb.WriteString(p.Prompt)
	for i, ans := range answers {
		fmt.Fprintf(&sb, "\n\n--- Candidate %d (%s) ---\n%s", i+1, p.Agents[i], ans)
	}
	return r.invoke(ctx, p.Agents[0], sb.String(), p.Options)
}

// runPipeline runs a fixed analyze -> code -> review chain, each stage fed
// the previous stage's output. Agents are assigned round-robin.
func (r *LocalRunner) runPipeline(ctx context.Context, p *Plan) (string, error) {
	stages := []string{
		"Analyze this task and produce a short implementation plan.",
		"Implement the task following the plan. Report file changes as 'Modified: <path>' lines.",
		"Review the implementation below for defects. Output the corrected final result.",
	}
	carry := p.Prompt
	for i, stage := range stages {
		agentName := p.Agents[i%len(p.Agents)]
		prompt := fmt.Sprintf("%s\n\nTask:\n%s\n\nPrevious stage output:\n%s", stage, p.Prompt, carry)
		if i == 0 {
			prompt = fmt.Sprintf("%s\n\nTask:\n%s", stage, p.Prompt)
		}
		out, err := r.invoke(ctx, agentName, prompt, p.Options)
		if err != nil {
			return "", fmt.Errorf("pipeline stage %d (%s): %w", i+1, agentName, err)
		}
		carry = out
	}
	return carry, nil
}

// runCorrection runs producer -> reviewer, with an optional auto-fix pass
// when the reviewer found problems.
func (r *LocalRunner) runCorrection(ctx context.Context, p *Plan) (string, error) {
	producer := p.Agents[0]
	reviewer := p.Agents[len(p.Agents)-1]

	draft, err := r.invoke(ctx, producer, p.Prompt, p.Options)
	if err != nil {
		return "", fmt.Errorf("producer %s: %w", producer, err)
	}

	review, err := r.invoke(ctx, reviewer, fmt.Sprintf(
		"Review this solution. Reply 'LGTM' if correct, otherwise list the problems.\n\nTask:\n%s\n\nSolution:\n%s",
		p.Prompt, draft), p.Options)
	if err != nil {
		return "", fmt.Errorf("reviewer %s: %w", reviewer, err)
	}

	if !p.Options.AutoFix || strings.Contains(strings.ToUpper(review), "LGTM") {
		return draft, nil
	}

	fixed, err := r.invoke(ctx, producer, fmt.Sprintf(
		"Fix your solution per this review.\n\nTask:\n%s\n\nSolution:\n%s\n\nReview:\n%s",
		p.Prompt, draft, review), p.Options)
	if err != nil {
		return "", fmt.Errorf("auto-fix %s: %w", producer, err)
	}
	return fixed, nil
}

// runDebate runs N rounds across all agents, then a moderator (the first
// agent) synthesizes the final position.
func (r *LocalRunner) runDebate(ctx context.Context, p *Plan) (string, error) {
	var transcript strings.Builder
	transcript.WriteString("Topic:\n" + p.Prompt)

	for round := 1; round <= p.Options.Rounds; round++ {
		for _, name := range p.Agents {
			out, err := r.invoke(ctx, name, fmt.Sprintf(
				"Debate round %d. Argue your position, addressing prior arguments.\n\n%s",
				round, transcript.String()), p.Options)
			if err != nil {
				return "", fmt.Errorf("debate round %d agent %s: %w", round, name, err)
			}
			fmt.Fprintf(&transcript, "\n\n[%s, round %d]\n%s", name, round, out)
		}
	}

	return r.invoke(ctx, p.Agents[0],
		"As moderator, synthesize the debate below into a final answer.\n\n"+transcript.String(),
		p.Options)
}

// runConsensus iterates until every agent agrees with the current best
// answer or the round cap is reached; the latest answer wins either way.
func (r *LocalRunner) runConsensus(ctx context.Context, p *Plan) (string, error) {
	current, err := r.invoke(ctx, p.Agents[0], p.Prompt, p.Options)
	if err != nil {
		return "", err
	}

	for round := 0; round < p.Options.Rounds; round++ {
		agreed := true
		for _, name := range p.Agents[1:] {
			out, err := r.invoke(ctx, name, fmt.Sprintf(
				"Reply 'AGREE' if this answer is correct and complete, otherwise output an improved answer.\n\nTask:\n%s\n\nAnswer:\n%s",
				p.Prompt, current), p.Options)
			if err != nil {
				return "", fmt.Errorf("consensus agent %s: %w", name, err)
			}
			if !strings.Contains(strings.ToUpper(out), "AGREE") {
				current = out
				agreed = false
			}
		}
		if agreed {
			logging.Get(logging.CategoryWorker).Debugf("consensus reached after %d round(s)", round+1)
			break
		}
	}
	return current, nil
}

// runPickBuild asks a picker to choose an approach, then a builder to
// implement it.
func (r *LocalRunner) runPickBuild(ctx context.Context, p *Plan) (string, error) {
	picker := p.Agents[0]
	builder := p.Agents[len(p.Agents)-1]

	approach, err := r.invoke(ctx, picker, fmt.Sprintf(
		"Propose 2-3 approaches for this task, then pick the best one and explain why.\n\nTask:\n%s",
		p.Prompt), p.Options)
	if err != nil {
		return "", fmt.Errorf("picker %s: %w", picker, err)
	}

	out, err := r.invoke(ctx, builder, fmt.Sprintf(
		"Implement the task using the chosen approach. Report file changes as 'Modified: <path>' lines.\n\nTask:\n%s\n\nChosen approach:\n%s",
		p.Prompt, approach), p.Options)
	if err != nil {
		return "", fmt.Errorf("builder %s: %w", builder, err)
	}
	return out, nil
}
