package metrics

import (
	"testing"
	"time"
)

func TestSinkSummaryAggregates(t *testing.T) {
	s := New(10)
	s.RecordQueueLength("q1", 3)
	s.RecordProcessing(Sample{QueueID: "q1", EntryID: "e1", Duration: 2 * time.Second, Succeeded: true})
	s.RecordProcessing(Sample{QueueID: "q1", EntryID: "e2", Duration: 4 * time.Second, Succeeded: false})

	sum := s.Summary()
	if sum.TotalProcessed != 2 || sum.TotalFailed != 1 {
		t.Fatalf("unexpected totals: %+v", sum)
	}
	if sum.SuccessRate != 0.5 {
		t.Fatalf("expected success rate 0.5, got %f", sum.SuccessRate)
	}
	if sum.AvgProcessingTime != 3*time.Second {
		t.Fatalf("expected avg 3s, got %s", sum.AvgProcessingTime)
	}
	if sum.CurrentQueueSizes["q1"] != 3 {
		t.Fatalf("expected queue size 3, got %d", sum.CurrentQueueSizes["q1"])
	}
}

func TestSinkDropsOldestPastMaxHistory(t *testing.T) {
	s := New(3)
	for i := 0; i < 5; i++ {
		s.RecordProcessing(Sample{EntryID: string(rune('a' + i))})
	}
	sum := s.Summary()
	if len(sum.RecentSamples) != 3 {
		t.Fatalf("expected retention cap of 3, got %d", len(sum.RecentSamples))
	}
	if sum.RecentSamples[0].EntryID != "c" {
		t.Fatalf("expected oldest two dropped, got first=%s", sum.RecentSamples[0].EntryID)
	}
}

func TestSinkForcedShutdownAccumulates(t *testing.T) {
	s := New(10)
	s.RecordForcedShutdown(2)
	s.RecordForcedShutdown(3)
	if sum := s.Summary(); sum.ForcedShutdowns != 5 {
		t.Fatalf("expected 5 forced shutdowns, got %d", sum.ForcedShutdowns)
	}
}
