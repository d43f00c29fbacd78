package progress

import (
	"testing"

	"spotline/internal/domain"
)

func intPtr(v int) *int { return &v }

func TestOverallWeightedShots(t *testing.T) {
	// shot 2 of 4 at 50%: uploading's full weight plus 37.5% of the shots
	// stage weight, 5 + 70*0.375 = 31.25 -> 31.
	p := domain.GenerationProgress{
		Stage:        domain.StageGeneratingShots,
		CurrentShot:  intPtr(2),
		TotalShots:   intPtr(4),
		ShotProgress: intPtr(50),
	}
	if got := Overall(p); got != 31 {
		t.Fatalf("Overall = %d, want 31", got)
	}
}

func TestOverallTerminalStages(t *testing.T) {
	idle := domain.GenerationProgress{Stage: domain.StageIdle, CurrentShot: intPtr(3), ShotProgress: intPtr(90)}
	if got := Overall(idle); got != 0 {
		t.Fatalf("idle overall = %d, want 0", got)
	}
	done := domain.GenerationProgress{Stage: domain.StageCompleted, CurrentShot: intPtr(1)}
	if got := Overall(done); got != 100 {
		t.Fatalf("completed overall = %d, want 100", got)
	}
}

func TestOverallHalfCreditStages(t *testing.T) {
	cases := []struct {
		stage string
		want  int
	}{
		{domain.StageUploading, 3},        // 5 * 0.5 = 2.5 -> 3
		{domain.StageGeneratingVoice, 83}, // 5+70 + 15*0.5 = 82.5 -> 83
		{domain.StageAssembling, 95},      // 5+70+15 + 10*0.5 = 95
	}
	for _, tc := range cases {
		got := Overall(domain.GenerationProgress{Stage: tc.stage})
		if got != tc.want {
			t.Fatalf("Overall(%s) = %d, want %d", tc.stage, got, tc.want)
		}
	}
}

func TestOverallShotsStageMissingCountersFallsBackToHalf(t *testing.T) {
	got := Overall(domain.GenerationProgress{Stage: domain.StageGeneratingShots})
	want := 40 // 5 + 70*0.5
	if got != want {
		t.Fatalf("Overall = %d, want %d", got, want)
	}
}

func TestOverallMonotonicAcrossARun(t *testing.T) {
	steps := []domain.GenerationProgress{
		{Stage: domain.StageIdle},
		{Stage: domain.StageUploading},
		{Stage: domain.StageGeneratingShots, CurrentShot: intPtr(1), TotalShots: intPtr(3), ShotProgress: intPtr(0)},
		{Stage: domain.StageGeneratingShots, CurrentShot: intPtr(1), TotalShots: intPtr(3), ShotProgress: intPtr(80)},
		{Stage: domain.StageGeneratingShots, CurrentShot: intPtr(2), TotalShots: intPtr(3), ShotProgress: intPtr(20)},
		{Stage: domain.StageGeneratingShots, CurrentShot: intPtr(3), TotalShots: intPtr(3), ShotProgress: intPtr(100)},
		{Stage: domain.StageGeneratingVoice},
		{Stage: domain.StageAssembling},
		{Stage: domain.StageCompleted},
	}
	prev := -1
	for i, p := range steps {
		got := Overall(p)
		if got < prev {
			t.Fatalf("step %d: overall went backwards, %d -> %d", i, prev, got)
		}
		prev = got
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		stage   string
		current string
		want    StageStatus
	}{
		{domain.StageUploading, domain.StageIdle, StagePending},
		{domain.StageAssembling, domain.StageCompleted, StageCompleted},
		{domain.StageUploading, domain.StageGeneratingVoice, StageCompleted},
		{domain.StageGeneratingVoice, domain.StageGeneratingVoice, StageActive},
		{domain.StageAssembling, domain.StageGeneratingVoice, StagePending},
		{domain.StageUploading, domain.StageFailed, StageFailed},
		{domain.StageAssembling, domain.StageFailed, StageFailed},
	}
	for _, tc := range cases {
		if got := Classify(tc.stage, tc.current); got != tc.want {
			t.Fatalf("Classify(%s, %s) = %s, want %s", tc.stage, tc.current, got, tc.want)
		}
	}
}

func TestAggregateBreakdown(t *testing.T) {
	r := Aggregate(domain.GenerationProgress{
		Stage:        domain.StageGeneratingShots,
		CurrentShot:  intPtr(2),
		TotalShots:   intPtr(4),
		ShotProgress: intPtr(50),
	})
	if r.Overall != 31 {
		t.Fatalf("overall = %d, want 31", r.Overall)
	}
	if len(r.Stages) != 4 {
		t.Fatalf("expected 4 stage rows, got %d", len(r.Stages))
	}
	if r.Stages[0].Status != StageCompleted || r.Stages[0].Percent != 100 {
		t.Fatalf("uploading row: %+v", r.Stages[0])
	}
	if r.Stages[1].Status != StageActive || r.Stages[1].Percent != 38 {
		t.Fatalf("shots row: %+v", r.Stages[1])
	}
	if r.Stages[2].Status != StagePending || r.Stages[3].Status != StagePending {
		t.Fatalf("later rows must be pending")
	}
}
