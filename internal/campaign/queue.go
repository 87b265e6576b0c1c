package campaign

import (
	"sort"

	"conductor/internal/logging"
)

// DomainQueueStatus is the derived status of one domain's task set.
type DomainQueueStatus string

const (
	DomainPending   DomainQueueStatus = "pending"
	DomainRunning   DomainQueueStatus = "running"
	DomainCompleted DomainQueueStatus = "completed"
	DomainFailed    DomainQueueStatus = "failed"
	DomainBlocked   DomainQueueStatus = "blocked"
)

// CriteriaChecker validates a task's entry/exit criteria. Implementations
// are external collaborators; the queue only consumes the verdict.
type CriteriaChecker interface {
	// Check reports whether every criterion passes. An error means the
	// check itself could not run and is treated as not-passing.
	Check(criteria []Criterion) (bool, error)
}

// PassAllChecker trivially passes every criterion. Used when no external
// validator is configured.
type PassAllChecker struct{}

func (PassAllChecker) Check([]Criterion) (bool, error) { return true, nil }

// DomainQueue partitions a campaign's tasks by domain and selects the next
// runnable task for that domain. Queue order is insertion order.
type DomainQueue struct {
	Domain string
	Tasks  []*Task

	// all is the full campaign task set, needed for dependency checks
	// across domain boundaries.
	all map[string]*Task
}

// NewDomainQueue derives a queue for one domain from the full task set.
// Tasks unassigned to any domain land in the DefaultDomain queue so they
// stay schedulable through the single-queue path.
func NewDomainQueue(domain string, all map[string]*Task) *DomainQueue {
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	// Stable queue order: creation time, then id.
	sort.Slice(ids, func(i, j int) bool {
		a, b := all[ids[i]], all[ids[j]]
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.ID < b.ID
	})

	q := &DomainQueue{Domain: domain, all: all}
	for _, id := range ids {
		if all[id].Domain() == domain {
			q.Tasks = append(q.Tasks, all[id])
		}
	}
	return q
}

// Domains lists every distinct domain in the task set, sorted.
func Domains(all map[string]*Task) []string {
	seen := make(map[string]bool)
	for _, t := range all {
		seen[t.Domain()] = true
	}
	domains := make([]string, 0, len(seen))
	for d := range seen {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}

// Status derives the queue status from task counts: completed when all
// tasks completed, failed when nothing remains runnable but some failed,
// running when any task is in flight, blocked when nothing remains runnable
// but some are blocked, else pending.
func (q *DomainQueue) Status() DomainQueueStatus {
	counts := CountTasks(q.Tasks)
	return domainStatus(counts)
}

func domainStatus(counts TaskCounts) DomainQueueStatus {
	total := counts.Total()
	switch {
	case total > 0 && counts.Completed == total:
		return DomainCompleted
	case counts.Pending == 0 && counts.InProgress == 0 && counts.Failed > 0:
		return DomainFailed
	case counts.InProgress > 0:
		return DomainRunning
	case counts.Pending == 0 && counts.InProgress == 0 && counts.Blocked > 0:
		return DomainBlocked
	default:
		return DomainPending
	}
}

// NextTask selects the next runnable task: first previously failed/blocked
// tasks still under the attempt cap, in queue order; then pending tasks
// sorted ascending by priority (missing priority sorts last). Both passes
// require satisfied dependencies and passing entry criteria. A task whose
// entry criteria fail is skipped, never marked failed.
func (q *DomainQueue) NextTask(checker CriteriaChecker) *Task {
	if checker == nil {
		checker = PassAllChecker{}
	}

	for _, t := range q.Tasks {
		if t.RetryEligible() && q.runnable(t, checker) {
			logging.Get(logging.CategoryQueue).Debugf("domain %s: retrying %s (attempt %d)",
				q.Domain, t.ID, t.Attempts+1)
			return t
		}
	}

	pending := make([]*Task, 0)
	for _, t := range q.Tasks {
		if t.Status == TaskPending {
			pending = append(pending, t)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return priorityOf(pending[i]) < priorityOf(pending[j])
	})
	for _, t := range pending {
		if q.runnable(t, checker) {
			return t
		}
	}
	return nil
}

func (q *DomainQueue) runnable(t *Task, checker CriteriaChecker) bool {
	if !t.DepsSatisfied(q.all) {
		return false
	}
	if t.Enhancement != nil && len(t.Enhancement.EntryCriteria) > 0 {
		ok, err := checker.Check(t.Enhancement.EntryCriteria)
		if err != nil {
			logging.Get(logging.CategoryQueue).Warnf("entry criteria check for %s errored: %v", t.ID, err)
			return false
		}
		if !ok {
			logging.Get(logging.CategoryQueue).Debugf("task %s skipped: entry criteria not met", t.ID)
			return false
		}
	}
	return true
}

// priorityOf returns the task's scheduling priority; tasks without one sort
// after every explicit priority.
func priorityOf(t *Task) int {
	if t.Enhancement == nil || t.Enhancement.Priority == nil {
		return int(^uint(0) >> 1) // max int
	}
	return *t.Enhancement.Priority
}

// Progress is a completed/total pair.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// MultiDomainProgress aggregates completed/total across all domains of the
// task set, keyed by domain, with an "overall" rollup.
func MultiDomainProgress(all map[string]*Task) map[string]Progress {
	progress := make(map[string]Progress)
	var overall Progress
	for _, domain := range Domains(all) {
		q := NewDomainQueue(domain, all)
		counts := CountTasks(q.Tasks)
		p := Progress{Completed: counts.Completed, Total: counts.Total()}
		progress[domain] = p
		overall.Completed += p.Completed
		overall.Total += p.Total
	}
	progress["overall"] = overall
	return progress
}
