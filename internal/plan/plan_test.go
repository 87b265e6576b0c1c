package plan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/agent"
)

// fakeAdapter answers via a per-call function so each test controls the
// full conversation.
type fakeAdapter struct {
	mu     sync.Mutex
	fn     func(call int, prompt string) (string, error)
	calls  int
	seen   []string
	agents []string
}

func (f *fakeAdapter) Invoke(ctx context.Context, agentName, prompt string, opts agent.InvokeOptions) (agent.Result, error) {
	f.mu.Lock()
	call := f.calls
	f.calls++
	f.seen = append(f.seen, prompt)
	f.agents = append(f.agents, agentName)
	f.mu.Unlock()

	out, err := f.fn(call, prompt)
	if err != nil {
		return agent.Result{}, err
	}
	return agent.Result{Content: out}, nil
}

func registryWith(adapter agent.Adapter, names ...string) *agent.Registry {
	r := agent.NewRegistry()
	for _, name := range names {
		r.Register(name, adapter)
	}
	return r
}

func constant(out string) func(int, string) (string, error) {
	return func(int, string) (string, error) { return out, nil }
}

func TestBuildPlanDefaultsRounds(t *testing.T) {
	r := NewLocalRunner(agent.NewRegistry())
	p := r.BuildPlan(ModeDebate, "prompt", []string{"a"}, Options{})
	assert.Equal(t, 2, p.Options.Rounds)

	p = r.BuildPlan(ModeDebate, "prompt", []string{"a"}, Options{Rounds: 5})
	assert.Equal(t, 5, p.Options.Rounds)
}

func TestExecuteRequiresAgents(t *testing.T) {
	r := NewLocalRunner(agent.NewRegistry())
	out, err := r.Execute(context.Background(), &Plan{Mode: ModeCompare})
	require.Error(t, err)
	assert.Equal(t, StatusFailed, out.Status)
}

func TestExecuteUnknownMode(t *testing.T) {
	r := NewLocalRunner(registryWith(&fakeAdapter{fn: constant("x")}, "a"))
	out, err := r.Execute(context.Background(), &Plan{Mode: "teleport", Agents: []string{"a"}})
	require.Error(t, err)
	assert.Equal(t, StatusFailed, out.Status)
}

func TestCompareSingleAgentSkipsJudging(t *testing.T) {
	adapter := &fakeAdapter{fn: constant("only answer")}
	r := NewLocalRunner(registryWith(adapter, "a"))

	p := r.BuildPlan(ModeCompare, "task", []string{"a"}, Options{})
	out, err := r.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, "only answer", out.FinalOutput)
	assert.Equal(t, 1, adapter.calls, "no judging round for a single agent")
}

func TestCompareJudgesCandidates(t *testing.T) {
	adapter := &fakeAdapter{fn: func(call int, prompt string) (string, error) {
		if strings.Contains(prompt, "Compare the candidate solutions") {
			return "winner", nil
		}
		return fmt.Sprintf("candidate-%d", call), nil
	}}
	r := NewLocalRunner(registryWith(adapter, "a", "b", "c"))

	p := r.BuildPlan(ModeCompare, "task", []string{"a", "b", "c"}, Options{})
	out, err := r.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "winner", out.FinalOutput)
	assert.Equal(t, 4, adapter.calls, "three candidates plus one judging call")
}

func TestCompareAgentFailureFailsPlan(t *testing.T) {
	adapter := &fakeAdapter{fn: func(call int, prompt string) (string, error) {
		return "", errors.New("quota exceeded")
	}}
	r := NewLocalRunner(registryWith(adapter, "a", "b"))

	p := r.BuildPlan(ModeCompare, "task", []string{"a", "b"}, Options{})
	out, err := r.Execute(context.Background(), p)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestPipelineChainsStages(t *testing.T) {
	adapter := &fakeAdapter{fn: func(call int, prompt string) (string, error) {
		return fmt.Sprintf("stage-%d-output", call+1), nil
	}}
	r := NewLocalRunner(registryWith(adapter, "a", "b"))

	p := r.BuildPlan(ModePipeline, "task", []string{"a", "b"}, Options{})
	out, err := r.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "stage-3-output", out.FinalOutput)

	require.Len(t, adapter.seen, 3)
	assert.NotContains(t, adapter.seen[0], "Previous stage output")
	assert.Contains(t, adapter.seen[1], "stage-1-output")
	assert.Contains(t, adapter.seen[2], "stage-2-output")
	// Round-robin assignment over two agents for three stages.
	assert.Equal(t, []string{"a", "b", "a"}, adapter.agents)
}

func TestCorrectionLGTMKeepsDraft(t *testing.T) {
	adapter := &fakeAdapter{fn: func(call int, prompt string) (string, error) {
		if strings.Contains(prompt, "Review this solution") {
			return "LGTM", nil
		}
		return "draft", nil
	}}
	r := NewLocalRunner(registryWith(adapter, "prod", "rev"))

	p := r.BuildPlan(ModeCorrection, "task", []string{"prod", "rev"}, Options{AutoFix: true})
	out, err := r.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "draft", out.FinalOutput)
	assert.Equal(t, 2, adapter.calls)
}

func TestCorrectionAutoFix(t *testing.T) {
	adapter := &fakeAdapter{fn: func(call int, prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "Review this solution"):
			return "missing error handling", nil
		case strings.Contains(prompt, "Fix your solution"):
			return "fixed draft", nil
		default:
			return "draft", nil
		}
	}}
	r := NewLocalRunner(registryWith(adapter, "prod", "rev"))

	p := r.BuildPlan(ModeCorrection, "task", []string{"prod", "rev"}, Options{AutoFix: true})
	out, err := r.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "fixed draft", out.FinalOutput)
}

func TestCorrectionWithoutAutoFixKeepsDraft(t *testing.T) {
	adapter := &fakeAdapter{fn: func(call int, prompt string) (string, error) {
		if strings.Contains(prompt, "Review this solution") {
			return "problems found", nil
		}
		return "draft", nil
	}}
	r := NewLocalRunner(registryWith(adapter, "prod", "rev"))

	p := r.BuildPlan(ModeCorrection, "task", []string{"prod", "rev"}, Options{})
	out, err := r.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "draft", out.FinalOutput, "without auto-fix the review is advisory")
	assert.Equal(t, 2, adapter.calls)
}

func TestDebateRoundsAndModerator(t *testing.T) {
	adapter := &fakeAdapter{fn: func(call int, prompt string) (string, error) {
		if strings.Contains(prompt, "As moderator") {
			return "final synthesis", nil
		}
		return fmt.Sprintf("argument-%d", call), nil
	}}
	r := NewLocalRunner(registryWith(adapter, "a", "b"))

	p := r.BuildPlan(ModeDebate, "topic", []string{"a", "b"}, Options{Rounds: 2})
	out, err := r.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "final synthesis", out.FinalOutput)
	// 2 rounds x 2 agents + 1 moderator call.
	assert.Equal(t, 5, adapter.calls)

	moderatorPrompt := adapter.seen[len(adapter.seen)-1]
	assert.Contains(t, moderatorPrompt, "argument-0")
	assert.Contains(t, moderatorPrompt, "argument-3")
}

func TestConsensusStopsOnAgreement(t *testing.T) {
	adapter := &fakeAdapter{fn: func(call int, prompt string) (string, error) {
		if call == 0 {
			return "initial answer", nil
		}
		return "AGREE", nil
	}}
	r := NewLocalRunner(registryWith(adapter, "a", "b", "c"))

	p := r.BuildPlan(ModeConsensus, "task", []string{"a", "b", "c"}, Options{Rounds: 3})
	out, err := r.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "initial answer", out.FinalOutput)
	// First answer + one agreement round of two reviewers.
	assert.Equal(t, 3, adapter.calls)
}

func TestConsensusLatestAnswerWinsAtCap(t *testing.T) {
	adapter := &fakeAdapter{fn: func(call int, prompt string) (string, error) {
		return fmt.Sprintf("revision-%d", call), nil
	}}
	r := NewLocalRunner(registryWith(adapter, "a", "b"))

	p := r.BuildPlan(ModeConsensus, "task", []string{"a", "b"}, Options{Rounds: 2})
	out, err := r.Execute(context.Background(), p)
	require.NoError(t, err)
	// Initial answer, then one reviewer per round for two rounds; no one
	// ever agrees, so the last revision stands.
	assert.Equal(t, "revision-2", out.FinalOutput)
	assert.Equal(t, 3, adapter.calls)
}

func TestPickBuild(t *testing.T) {
	adapter := &fakeAdapter{fn: func(call int, prompt string) (string, error) {
		if strings.Contains(prompt, "Propose 2-3 approaches") {
			return "approach B, because it is simpler", nil
		}
		return "built it", nil
	}}
	r := NewLocalRunner(registryWith(adapter, "picker", "builder"))

	p := r.BuildPlan(ModePickBuild, "task", []string{"picker", "builder"}, Options{})
	out, err := r.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "built it", out.FinalOutput)

	builderPrompt := adapter.seen[len(adapter.seen)-1]
	assert.Contains(t, builderPrompt, "approach B")
	assert.Equal(t, []string{"picker", "builder"}, adapter.agents)
}
