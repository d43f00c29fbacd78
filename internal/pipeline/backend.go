// Package pipeline drives a full generation run: upload, shot generation,
// voice synthesis, and assembly. The runner owns stage transitions and
// reports every delta through the engine; the backend does the actual media
// work behind a small job-oriented contract.
package pipeline

import (
	"context"

	"spotline/internal/domain"
)

// Job states reported by a backend.
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// ShotRequest asks the backend to generate one clip.
type ShotRequest struct {
	ProjectID       string   `json:"project_id"`
	ShotID          string   `json:"shot_id"`
	Prompt          string   `json:"prompt"`
	NegativePrompt  string   `json:"negative_prompt,omitempty"`
	Duration        int      `json:"duration"`
	Resolution      string   `json:"resolution"`
	AspectRatio     string   `json:"aspect_ratio"`
	ReferenceImages []string `json:"reference_images,omitempty"`
	FirstFrame      *string  `json:"first_frame,omitempty"`
	LastFrame       *string  `json:"last_frame,omitempty"`
}

// JobStatus is a poll result for an in-flight shot job.
type JobStatus struct {
	State        string  `json:"state"`
	Progress     int     `json:"progress"`
	VideoURL     *string `json:"video_url,omitempty"`
	ThumbnailURL *string `json:"thumbnail_url,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// VoiceRequest asks the backend to synthesize narration.
type VoiceRequest struct {
	ProjectID       string  `json:"project_id"`
	Script          string  `json:"script"`
	VoiceID         string  `json:"voice_id"`
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
}

// AssembleRequest asks the backend to cut the clips and narration into the
// final spot. Clips are given in timeline order.
type AssembleRequest struct {
	ProjectID string          `json:"project_id"`
	Clips     []AssembleClip  `json:"clips"`
	AudioURL  *string         `json:"audio_url,omitempty"`
	Brand     domain.BrandKit `json:"brand"`
}

type AssembleClip struct {
	ShotID   string `json:"shot_id"`
	VideoURL string `json:"video_url"`
	Duration int    `json:"duration"`
}

// Backend is the generation service contract. Shot generation is
// asynchronous (submit then poll); voice and assembly are synchronous calls
// that block until the backend has a URL.
type Backend interface {
	StartShot(ctx context.Context, req ShotRequest) (jobID string, err error)
	ShotStatus(ctx context.Context, jobID string) (JobStatus, error)
	SynthesizeVoice(ctx context.Context, req VoiceRequest) (audioURL string, err error)
	Assemble(ctx context.Context, req AssembleRequest) (videoURL string, err error)
}
