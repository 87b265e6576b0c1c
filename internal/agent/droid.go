package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"conductor/internal/logging"
)

// DroidAdapter wraps another adapter with a bounded agentic tool loop: the
// model may request filesystem and shell tools via fenced ```tool blocks,
// and the loop feeds results back until the model answers without tool
// calls or the iteration cap is hit.
type DroidAdapter struct {
	inner    Adapter
	cwd      string
	maxIters int
}

const defaultDroidIters = 20

var toolBlockRe = regexp.MustCompile("```tool\\s*([\\s\\S]*?)```")

// NewDroidAdapter wraps inner with the tool loop rooted at cwd.
func NewDroidAdapter(inner Adapter, cwd string) *DroidAdapter {
	return &DroidAdapter{inner: inner, cwd: cwd, maxIters: defaultDroidIters}
}

type droidToolCall struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type droidToolResult struct {
	name    string
	content string
	isError bool
}

// Invoke runs the tool loop. The final model text (without tool calls) is
// returned; hitting the iteration cap returns the last text seen.
func (d *DroidAdapter) Invoke(ctx context.Context, agentName, prompt string, opts InvokeOptions) (Result, error) {
	transcript := []string{d.systemPrompt(), "User: " + prompt}
	var last string

	for iter := 0; iter < d.maxIters; iter++ {
		full := strings.Join(transcript, "\n\n") + "\n\nAssistant: "
		result, err := d.inner.Invoke(ctx, agentName, full, opts)
		if err != nil {
			return Result{}, err
		}
		last = result.Content

		calls := parseToolCalls(result.Content)
		if len(calls) == 0 {
			return Result{Content: result.Content}, nil
		}

		transcript = append(transcript, "Assistant: "+result.Content)
		var sb strings.Builder
		sb.WriteString("Tool Results:\n")
		for _, res := range d.runTools(ctx, calls) {
			status := "SUCCESS"
			if res.isError {
				status = "ERROR"
			}
			fmt.Fprintf(&sb, "[%s] %s:\n%s\n\n", status, res.name, res.content)
		}
		transcript = append(transcript, sb.String())
	}

	logging.Get(logging.CategoryAgent).Warnf("droid loop for %s hit iteration cap (%d)", agentName, d.maxIters)
	return Result{Content: last}, nil
}

func (d *DroidAdapter) systemPrompt() string {
	var sb strings.Builder
	sb.WriteString("You are a coding agent with access to tools.\n\n")
	sb.WriteString("Invoke tools via fenced blocks:\n")
	sb.WriteString("```tool\n{\"name\": \"view\", \"arguments\": {\"path\": \"README.md\"}}\n```\n\n")
	sb.WriteString("Available tools:\n")
	sb.WriteString("- view: read a file (path)\n")
	sb.WriteString("- write: create or overwrite a file (path, content)\n")
	sb.WriteString("- edit: replace text in a file (path, search, replace)\n")
	sb.WriteString("- bash: run a shell command (command)\n\n")
	sb.WriteString("When done, answer without tool calls and report every file you ")
	sb.WriteString("changed as lines of the form 'Modified: <path>' or 'Created: <path>'.")
	return sb.String()
}

func parseToolCalls(content string) []droidToolCall {
	matches := toolBlockRe.FindAllStringSubmatch(content, -1)
	calls := make([]droidToolCall, 0, len(matches))
	for _, match := range matches {
		var call droidToolCall
		if err := json.Unmarshal([]byte(strings.TrimSpace(match[1])), &call); err != nil {
			continue
		}
		if call.Name == "" {
			continue
		}
		calls = append(calls, call)
	}
	return calls
}

func (d *DroidAdapter) runTools(ctx context.Context, calls []droidToolCall) []droidToolResult {
	results := make([]droidToolResult, 0, len(calls))
	for _, call := range calls {
		output, err := d.runTool(ctx, call)
		if err != nil {
			results = append(results, droidToolResult{name: call.Name, content: err.Error(), isError: true})
			continue
		}
		results = append(results, droidToolResult{name: call.Name, content: output})
	}
	return results
}

const maxToolOutput = 200_000

func (d *DroidAdapter) runTool(ctx context.Context, call droidToolCall) (string, error) {
	switch call.Name {
	case "view":
		path, ok := argString(call.Arguments, "path")
		if !ok {
			return "", fmt.Errorf("view: missing path")
		}
		data, err := os.ReadFile(d.resolve(path))
		if err != nil {
			return "", err
		}
		if len(data) > maxToolOutput {
			data = data[:maxToolOutput]
		}
		return string(data), nil

	case "write":
		path, ok := argString(call.Arguments, "path")
		if !ok {
			return "", fmt.Errorf("write: missing path")
		}
		content, _ := argString(call.Arguments, "content")
		full := d.resolve(path)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return "", err
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			return "", err
		}
		return "wrote " + path, nil

	case "edit":
		path, ok := argString(call.Arguments, "path")
		if !ok {
			return "", fmt.Errorf("edit: missing path")
		}
		search, _ := argString(call.Arguments, "search")
		replace, _ := argString(call.Arguments, "replace")
		full := d.resolve(path)
		data, err := os.ReadFile(full)
		if err != nil {
			return "", err
		}
		if !strings.Contains(string(data), search) {
			return "", fmt.Errorf("edit: search text not found in %s", path)
		}
		updated := strings.Replace(string(data), search, replace, 1)
		if err := os.WriteFile(full, []byte(updated), 0644); err != nil {
			return "", err
		}
		return "edited " + path, nil

	case "bash":
		command, ok := argString(call.Arguments, "command")
		if !ok {
			return "", fmt.Errorf("bash: missing command")
		}
		cmdCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
		cmd.Dir = d.cwd
		out, err := cmd.CombinedOutput()
		if len(out) > maxToolOutput {
			out = out[:maxToolOutput]
		}
		if err != nil {
			return "", fmt.Errorf("%s\n%s", err, out)
		}
		return string(out), nil

	default:
		return "", fmt.Errorf("unknown tool: %s", call.Name)
	}
}

func (d *DroidAdapter) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(d.cwd, path)
}

func argString(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
