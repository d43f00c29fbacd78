package estimate

import (
	"math"
	"testing"

	"spotline/internal/domain"
)

func TestTotalDuration(t *testing.T) {
	p := domain.Project{Shots: []domain.Shot{
		{Duration: 8}, {Duration: 6}, {Duration: 4},
	}}
	if got := TotalDuration(p); got != 18 {
		t.Fatalf("TotalDuration = %d, want 18", got)
	}
	if got := TotalDuration(domain.Project{}); got != 0 {
		t.Fatalf("empty project duration = %d, want 0", got)
	}
}

func TestCost(t *testing.T) {
	script := make([]byte, 100)
	for i := range script {
		script[i] = 'a'
	}
	p := domain.Project{
		Shots:     []domain.Shot{{Duration: 8, Resolution: domain.Resolution1080}},
		Voiceover: domain.Voiceover{Script: string(script)},
	}
	// 0.15*8 + 100*0.00003 = 1.203
	if got := Cost(p); math.Abs(got-1.203) > 1e-9 {
		t.Fatalf("Cost = %v, want 1.203", got)
	}
}

func TestCostSumsPerShotRates(t *testing.T) {
	p := domain.Project{Shots: []domain.Shot{
		{Duration: 4, Resolution: domain.Resolution720},
		{Duration: 6, Resolution: domain.Resolution1080},
	}}
	want := 4*RatePerSecond720 + 6*RatePerSecond1080
	if got := Cost(p); math.Abs(got-want) > 1e-9 {
		t.Fatalf("Cost = %v, want %v", got, want)
	}
}
