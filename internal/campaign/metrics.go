package campaign

import (
	"sync"
	"time"
)

// EventKind classifies collector events.
type EventKind string

const (
	EventTaskStarted   EventKind = "task_started"
	EventTaskCompleted EventKind = "task_completed"
	EventTaskFailed    EventKind = "task_failed"
	EventTaskRetried   EventKind = "task_retried"
	EventCheckpoint    EventKind = "checkpoint"
	EventDecision      EventKind = "decision"
	EventDrift         EventKind = "drift"
)

// Event is one observation in the collector's log.
type Event struct {
	Kind     EventKind `json:"kind"`
	TaskID   string    `json:"task_id,omitempty"`
	Severity int       `json:"severity,omitempty"` // drift only, scaled by attempts
	At       int64     `json:"at"`
	Detail   string    `json:"detail,omitempty"`
}

// maxEvents bounds the collector's event log. Older entries are dropped so
// a long campaign (hundreds of tasks) never grows memory without bound.
const maxEvents = 256

// Collector accumulates campaign events and derives progress, failure-rate
// and drift signals from them. Safe for concurrent use.
type Collector struct {
	mu     sync.Mutex
	events []Event
	subs   []chan Event
	closed bool

	taskDurations    []time.Duration
	driftChecks      int
	driftCorrections int

	// domainGreen remembers domains that were all-green at last check; a
	// failure in such a domain is a drift signal.
	domainGreen map[string]bool
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{domainGreen: make(map[string]bool)}
}

// Record appends an event, dropping the oldest entry once the log is full.
func (col *Collector) Record(ev Event) {
	col.mu.Lock()
	defer col.mu.Unlock()
	if ev.At == 0 {
		ev.At = NowMillis()
	}
	col.events = append(col.events, ev)
	if len(col.events) > maxEvents {
		col.events = col.events[len(col.events)-maxEvents:]
	}
	for _, sub := range col.subs {
		select {
		case sub <- ev:
		default:
			// A stalled subscriber drops events rather than blocking the loop.
		}
	}
}

// Subscribe returns a channel carrying every event recorded after the call.
// The channel is buffered; a subscriber that falls behind misses events
// instead of stalling the control loop. Close closes all subscriptions.
func (col *Collector) Subscribe() <-chan Event {
	col.mu.Lock()
	defer col.mu.Unlock()
	ch := make(chan Event, 64)
	if col.closed {
		close(ch)
		return ch
	}
	col.subs = append(col.subs, ch)
	return ch
}

// Close ends all subscriptions. Record remains safe to call afterward.
func (col *Collector) Close() {
	col.mu.Lock()
	defer col.mu.Unlock()
	if col.closed {
		return
	}
	col.closed = true
	for _, sub := range col.subs {
		close(sub)
	}
	col.subs = nil
}

// RecordTaskDone records a completed task and its wall-clock duration.
func (col *Collector) RecordTaskDone(taskID string, d time.Duration) {
	col.Record(Event{Kind: EventTaskCompleted, TaskID: taskID})
	col.mu.Lock()
	col.taskDurations = append(col.taskDurations, d)
	if len(col.taskDurations) > maxEvents {
		col.taskDurations = col.taskDurations[len(col.taskDurations)-maxEvents:]
	}
	col.mu.Unlock()
}

// CheckDrift examines the campaign for divergence from plan: a task failing
// in a domain that was previously all-green is recorded as a drift event
// with severity scaled by the task's attempts.
func (col *Collector) CheckDrift(c *Campaign, failed *Task) {
	col.mu.Lock()
	col.driftChecks++
	wasGreen := col.domainGreen[failed.Domain()]
	col.mu.Unlock()

	if wasGreen {
		col.Record(Event{
			Kind:     EventDrift,
			TaskID:   failed.ID,
			Severity: failed.Attempts,
			Detail:   "failure in previously green domain " + failed.Domain(),
		})
		col.mu.Lock()
		col.driftCorrections++
		col.domainGreen[failed.Domain()] = false
		col.mu.Unlock()
		return
	}

	// Refresh green set for future checks.
	q := NewDomainQueue(failed.Domain(), c.Tasks)
	col.mu.Lock()
	col.domainGreen[failed.Domain()] = q.Status() == DomainCompleted
	col.mu.Unlock()
}

// MarkDomainGreen records that a domain has reached all-completed status.
func (col *Collector) MarkDomainGreen(domain string) {
	col.mu.Lock()
	col.domainGreen[domain] = true
	col.mu.Unlock()
}

// DriftCounters returns the running drift check/correction totals.
func (col *Collector) DriftCounters() (checks, corrections int) {
	col.mu.Lock()
	defer col.mu.Unlock()
	return col.driftChecks, col.driftCorrections
}

// Events returns a copy of the current event log.
func (col *Collector) Events() []Event {
	col.mu.Lock()
	defer col.mu.Unlock()
	out := make([]Event, len(col.events))
	copy(out, col.events)
	return out
}

// MetricsSnapshot is the derived view of campaign health.
type MetricsSnapshot struct {
	Progress        float64       `json:"progress"`     // 0.0-1.0
	FailureRate     float64       `json:"failure_rate"` // failed / attempted
	RetriesTotal    int           `json:"retries_total"`
	AvgTaskDuration time.Duration `json:"avg_task_duration"`
	ETA             time.Duration `json:"eta"` // remaining * avg duration
	DriftChecks     int           `json:"drift_checks"`
	DriftEvents     int           `json:"drift_events"`
}

// Snapshot derives current metrics from the campaign and the event log.
func (col *Collector) Snapshot(c *Campaign) MetricsSnapshot {
	tasks := make([]*Task, 0, len(c.Tasks))
	for _, t := range c.Tasks {
		tasks = append(tasks, t)
	}
	counts := CountTasks(tasks)

	var snap MetricsSnapshot
	if counts.Total() > 0 {
		snap.Progress = float64(counts.Completed) / float64(counts.Total())
	}
	attempted := counts.Completed + counts.Failed
	if attempted > 0 {
		snap.FailureRate = float64(counts.Failed) / float64(attempted)
	}
	for _, t := range tasks {
		snap.RetriesTotal += t.Attempts
	}

	col.mu.Lock()
	if len(col.taskDurations) > 0 {
		var total time.Duration
		for _, d := range col.taskDurations {
			total += d
		}
		snap.AvgTaskDuration = total / time.Duration(len(col.taskDurations))
	}
	snap.DriftChecks = col.driftChecks
	for _, ev := range col.events {
		if ev.Kind == EventDrift {
			snap.DriftEvents++
		}
	}
	col.mu.Unlock()

	remaining := counts.Total() - counts.Completed
	snap.ETA = time.Duration(remaining) * snap.AvgTaskDuration
	return snap
}
