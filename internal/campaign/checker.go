package campaign

import (
	"context"
	"os/exec"
	"time"

	"conductor/internal/logging"
)

// ExecChecker validates criteria by running their check commands through
// the shell. Criteria without a command pass by default; a non-zero exit
// fails the criterion.
type ExecChecker struct {
	Cwd     string
	Timeout time.Duration
}

// NewExecChecker creates a checker rooted at cwd.
func NewExecChecker(cwd string) *ExecChecker {
	return &ExecChecker{Cwd: cwd, Timeout: 60 * time.Second}
}

// Check runs every criterion's command; the first failure stops the scan.
func (ec *ExecChecker) Check(criteria []Criterion) (bool, error) {
	for _, c := range criteria {
		if c.CheckCommand == "" {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), ec.Timeout)
		cmd := exec.CommandContext(ctx, "sh", "-c", c.CheckCommand)
		cmd.Dir = ec.Cwd
		err := cmd.Run()
		cancel()
		if err != nil {
			logging.Get(logging.CategoryQueue).Debugf("criterion %q failed: %v", c.Description, err)
			return false, nil
		}
	}
	return true, nil
}
