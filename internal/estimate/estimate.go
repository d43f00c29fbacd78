// Package estimate prices a project before generation starts. All functions
// are pure and take the aggregate by value; the editing layer guarantees the
// numeric fields are well-formed.
package estimate

import "spotline/internal/domain"

// Video generation is billed per second of output, narration per character
// of script. The fast tier prices both resolutions the same today; the rate
// table keeps the per-tier split so a price change stays a one-line edit.
const (
	RatePerSecond720  = 0.15
	RatePerSecond1080 = 0.15
	RatePerCharacter  = 0.00003
)

// VideoRate returns the per-second rate for a resolution. Unknown values
// price at the 1080p tier.
func VideoRate(resolution string) float64 {
	if resolution == domain.Resolution720 {
		return RatePerSecond720
	}
	return RatePerSecond1080
}

// TotalDuration is the length of the assembled spot in seconds, the sum of
// all shot durations.
func TotalDuration(p domain.Project) int {
	total := 0
	for _, sh := range p.Shots {
		total += sh.Duration
	}
	return total
}

// Cost is the estimated price of one full generation run in dollars:
// duration times the per-resolution video rate, summed over shots, plus the
// script length times the narration rate.
func Cost(p domain.Project) float64 {
	return CostRated(p, nil, RatePerCharacter)
}

// CostRated prices with a project-specific rate table (resolution tier to
// dollars per second). Missing tiers fall back to the built-in rates.
func CostRated(p domain.Project, videoRates map[string]float64, perChar float64) float64 {
	total := 0.0
	for _, sh := range p.Shots {
		rate, ok := videoRates[sh.Resolution]
		if !ok {
			rate = VideoRate(sh.Resolution)
		}
		total += float64(sh.Duration) * rate
	}
	total += float64(len(p.Voiceover.Script)) * perChar
	return total
}
