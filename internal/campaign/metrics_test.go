package campaign

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordBoundsEventLog(t *testing.T) {
	col := NewCollector()
	for i := 0; i < maxEvents+50; i++ {
		col.Record(Event{Kind: EventTaskCompleted, TaskID: fmt.Sprintf("t%d", i)})
	}
	events := col.Events()
	require.Len(t, events, maxEvents)
	assert.Equal(t, "t50", events[0].TaskID, "oldest entries are dropped first")
}

func TestCheckDriftInGreenDomain(t *testing.T) {
	col := NewCollector()
	failed := newTestTask("t1", TaskFailed)
	failed.Attempts = 2
	c := campaignWithTasks(failed)

	// First failure: domain was never green, no drift.
	col.CheckDrift(c, failed)
	checks, corrections := col.DriftCounters()
	assert.Equal(t, 1, checks)
	assert.Equal(t, 0, corrections)

	// Domain goes green, then fails again: drift.
	col.MarkDomainGreen(failed.Domain())
	col.CheckDrift(c, failed)
	checks, corrections = col.DriftCounters()
	assert.Equal(t, 2, checks)
	assert.Equal(t, 1, corrections)

	events := col.Events()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventDrift, last.Kind)
	assert.Equal(t, "t1", last.TaskID)
	assert.Equal(t, 2, last.Severity, "severity scales with attempts")

	// The domain is no longer green, so the next failure is not drift.
	col.CheckDrift(c, failed)
	checks, corrections = col.DriftCounters()
	assert.Equal(t, 3, checks)
	assert.Equal(t, 1, corrections)
}

func TestSnapshotDerivation(t *testing.T) {
	col := NewCollector()
	t1 := newTestTask("t1", TaskCompleted)
	t2 := newTestTask("t2", TaskFailed)
	t2.Attempts = 2
	t3 := newTestTask("t3", TaskPending)
	c := campaignWithTasks(t1, t2, t3)

	col.RecordTaskDone("t1", 2*time.Second)
	col.RecordTaskDone("t2", 4*time.Second)

	snap := col.Snapshot(c)
	assert.InDelta(t, 1.0/3.0, snap.Progress, 1e-9)
	assert.InDelta(t, 0.5, snap.FailureRate, 1e-9, "failed over attempted")
	assert.Equal(t, 2, snap.RetriesTotal)
	assert.Equal(t, 3*time.Second, snap.AvgTaskDuration)
	assert.Equal(t, 6*time.Second, snap.ETA, "two remaining tasks at avg duration")
}

func TestSnapshotEmptyCampaign(t *testing.T) {
	col := NewCollector()
	snap := col.Snapshot(NewCampaign(CampaignInit{Goal: "g"}))
	assert.Zero(t, snap.Progress)
	assert.Zero(t, snap.FailureRate)
	assert.Zero(t, snap.ETA)
}

func TestSubscribeReceivesRecordedEvents(t *testing.T) {
	col := NewCollector()
	ch := col.Subscribe()

	col.Record(Event{Kind: EventTaskStarted, TaskID: "t1"})
	col.Record(Event{Kind: EventTaskFailed, TaskID: "t1", Detail: "boom"})

	first := <-ch
	assert.Equal(t, EventTaskStarted, first.Kind)
	second := <-ch
	assert.Equal(t, EventTaskFailed, second.Kind)
	assert.Equal(t, "boom", second.Detail)

	col.Close()
	_, open := <-ch
	assert.False(t, open, "Close must close subscriber channels")
}

func TestSubscribeStalledSubscriberDoesNotBlock(t *testing.T) {
	col := NewCollector()
	ch := col.Subscribe()

	// Nobody reads; Record must keep returning past the buffer size.
	for i := 0; i < 200; i++ {
		col.Record(Event{Kind: EventTaskCompleted, TaskID: fmt.Sprintf("t%d", i)})
	}
	assert.Equal(t, cap(ch), len(ch), "overflow events are dropped, not queued")
	col.Close()
}

func TestSubscribeAfterClose(t *testing.T) {
	col := NewCollector()
	col.Close()
	ch := col.Subscribe()
	_, open := <-ch
	assert.False(t, open)
	col.Record(Event{Kind: EventCheckpoint}) // still safe
}

func TestRecordBackfillsTimestamp(t *testing.T) {
	col := NewCollector()
	col.Record(Event{Kind: EventCheckpoint})
	events := col.Events()
	require.Len(t, events, 1)
	assert.NotZero(t, events[0].At)
}
