// Package progress turns a pipeline status value into the per-stage and
// overall percentages shown to clients. The computation is pure: the same
// status value always yields the same report.
package progress

import (
	"math"

	"spotline/internal/domain"
)

// Stage weights sum to 100 and reflect where the wall-clock time actually
// goes during a generation run.
const (
	WeightUploading       = 5
	WeightGeneratingShots = 70
	WeightGeneratingVoice = 15
	WeightAssembling      = 10
)

// stageOrder is the fixed pipeline walk. Failed and idle are not stages.
var stageOrder = []string{
	domain.StageUploading,
	domain.StageGeneratingShots,
	domain.StageGeneratingVoice,
	domain.StageAssembling,
}

var stageWeights = map[string]int{
	domain.StageUploading:       WeightUploading,
	domain.StageGeneratingShots: WeightGeneratingShots,
	domain.StageGeneratingVoice: WeightGeneratingVoice,
	domain.StageAssembling:      WeightAssembling,
}

// StageStatus classifies one pipeline stage relative to the active stage.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageActive    StageStatus = "active"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// StageReport is one row of the stage breakdown.
type StageReport struct {
	Stage   string      `json:"stage"`
	Weight  int         `json:"weight"`
	Status  StageStatus `json:"status"`
	Percent int         `json:"percent"`
}

// Report is the aggregated view of a pipeline run.
type Report struct {
	Overall int           `json:"overall"`
	Stages  []StageReport `json:"stages"`
}

// Classify returns the status of stage given the currently reported stage.
// Stages before the active one are completed; stages after it are pending.
// When the pipeline has failed, the active stage and everything before it
// are failed (the failure point is not tracked), the rest pending. Idle
// means nothing has started.
func Classify(stage, current string) StageStatus {
	switch current {
	case domain.StageIdle, "":
		return StagePending
	case domain.StageCompleted:
		return StageCompleted
	case domain.StageFailed:
		// Without a recorded failure point every stage that could have
		// run is reported failed.
		return StageFailed
	}
	si, ci := stageIndex(stage), stageIndex(current)
	switch {
	case si < ci:
		return StageCompleted
	case si == ci:
		return StageActive
	default:
		return StagePending
	}
}

// Overall computes the weighted overall percentage for a pipeline status.
// Completed stages contribute their full weight. The active stage
// contributes proportional credit: for the shots stage that is
// (currentShot-1 + shotProgress/100) / totalShots of its weight, for every
// other stage a fixed half. The result is rounded to the nearest integer,
// so it is 0 only when idle and 100 only when completed.
func Overall(p domain.GenerationProgress) int {
	switch p.Stage {
	case domain.StageIdle, "":
		return 0
	case domain.StageCompleted:
		return 100
	case domain.StageFailed:
		return 0
	}
	ci := stageIndex(p.Stage)
	if ci < 0 {
		return 0
	}
	total := 0.0
	for i, stage := range stageOrder {
		w := float64(stageWeights[stage])
		switch {
		case i < ci:
			total += w
		case i == ci:
			total += w * activeFraction(stage, p)
		}
	}
	return int(math.Round(total))
}

// Aggregate builds the full report: overall percentage plus the per-stage
// breakdown.
func Aggregate(p domain.GenerationProgress) Report {
	r := Report{Overall: Overall(p)}
	for _, stage := range stageOrder {
		status := Classify(stage, p.Stage)
		percent := 0
		switch status {
		case StageCompleted:
			percent = 100
		case StageActive:
			percent = int(math.Round(100 * activeFraction(stage, p)))
		}
		r.Stages = append(r.Stages, StageReport{
			Stage:   stage,
			Weight:  stageWeights[stage],
			Status:  status,
			Percent: percent,
		})
	}
	return r
}

// activeFraction is the fraction of the active stage's weight already
// earned, in [0,1].
func activeFraction(stage string, p domain.GenerationProgress) float64 {
	if stage != domain.StageGeneratingShots {
		return 0.5
	}
	if p.CurrentShot == nil || p.TotalShots == nil || *p.TotalShots <= 0 {
		return 0.5
	}
	shotProgress := 0
	if p.ShotProgress != nil {
		shotProgress = *p.ShotProgress
	}
	f := (float64(*p.CurrentShot-1) + float64(shotProgress)/100) / float64(*p.TotalShots)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func stageIndex(stage string) int {
	for i, s := range stageOrder {
		if s == stage {
			return i
		}
	}
	return -1
}
