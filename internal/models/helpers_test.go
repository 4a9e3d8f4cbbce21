package models

import (
	"testing"
	"time"
)

func TestFileTimestamp(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 7, 0, time.FixedZone("CET", 3600))
	if got := FileTimestamp(ts); got != "20240309_130507" {
		t.Errorf("FileTimestamp = %q", got)
	}
}

func TestRunStatusTerminal(t *testing.T) {
	for status, want := range map[RunStatus]bool{
		RunPending: false,
		RunRunning: false,
		RunSuccess: true,
		RunPartial: true,
		RunFailed:  true,
	} {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestRunRecordWarnings(t *testing.T) {
	rec := RunRecord{Stages: []StageResult{
		{Stage: "index", Warnings: []string{"a"}},
		{Stage: "insights"},
		{Stage: "publish", Warnings: []string{"b", "c"}},
	}}
	got := rec.Warnings()
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Errorf("Warnings() = %v", got)
	}
	if rec.Stage("insights") == nil || rec.Stage("extract") != nil {
		t.Error("Stage lookup mismatch")
	}
}
