package server

import (
	"spotline/internal/domain"
	"spotline/internal/progress"
)

// Request payloads

type CreateProjectRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type RenameProjectRequest struct {
	Name string `json:"name"`
}

type UpdateBrandRequest struct {
	Name           *string `json:"name,omitempty"`
	Tagline        *string `json:"tagline,omitempty"`
	PrimaryColor   *string `json:"primary_color,omitempty"`
	SecondaryColor *string `json:"secondary_color,omitempty"`
	LogoURL        *string `json:"logo_url,omitempty"`
	ClearLogo      bool    `json:"clear_logo,omitempty"`
}

type UpdateShotRequest struct {
	Prompt         *string `json:"prompt,omitempty"`
	NegativePrompt *string `json:"negative_prompt,omitempty"`
	Duration       *int    `json:"duration,omitempty" enum:"4,6,8"`
	Resolution     *string `json:"resolution,omitempty" enum:"720p,1080p"`
	AspectRatio    *string `json:"aspect_ratio,omitempty" enum:"16:9,9:16"`
}

type ReorderShotsRequest struct {
	FromIndex int `json:"from_index" minimum:"0"`
	ToIndex   int `json:"to_index" minimum:"0"`
}

type ShotImageRequest struct {
	ImageURL string `json:"image_url"`
}

type ShotFrameRequest struct {
	Position string  `json:"position" enum:"first,last"`
	ImageURL *string `json:"image_url,omitempty"`
}

type SelectShotRequest struct {
	ShotID *string `json:"shot_id,omitempty"`
}

type UpdateVoiceoverRequest struct {
	Script          *string  `json:"script,omitempty"`
	VoiceID         *string  `json:"voice_id,omitempty"`
	VoiceName       *string  `json:"voice_name,omitempty"`
	Stability       *float64 `json:"stability,omitempty" minimum:"0" maximum:"1"`
	SimilarityBoost *float64 `json:"similarity_boost,omitempty" minimum:"0" maximum:"1"`
	Style           *float64 `json:"style,omitempty" minimum:"0" maximum:"1"`
}

// Orchestrator report payloads. External runners push generation deltas
// through these.

type ShotStatusReport struct {
	Status   string  `json:"status" enum:"draft,queued,generating,completed,failed"`
	Progress int     `json:"progress" minimum:"0" maximum:"100"`
	Error    *string `json:"error,omitempty"`
}

type ShotResultReport struct {
	VideoURL     string  `json:"video_url"`
	ThumbnailURL *string `json:"thumbnail_url,omitempty"`
}

type VoiceoverStatusReport struct {
	Status   string  `json:"status" enum:"draft,queued,generating,completed,failed"`
	Progress int     `json:"progress" minimum:"0" maximum:"100"`
	Error    *string `json:"error,omitempty"`
}

type VoiceoverResultReport struct {
	AudioURL string `json:"audio_url"`
}

type FinalVideoReport struct {
	VideoURL string `json:"video_url"`
}

type ProgressReport struct {
	Stage        *string `json:"stage,omitempty" enum:"idle,uploading,generating_shots,generating_voice,assembling,completed,failed"`
	CurrentShot  *int    `json:"current_shot,omitempty"`
	TotalShots   *int    `json:"total_shots,omitempty"`
	ShotProgress *int    `json:"shot_progress,omitempty" minimum:"0" maximum:"100"`
	Message      *string `json:"message,omitempty"`
	ETASeconds   *int    `json:"eta_seconds,omitempty"`
}

// Response payloads

type ProgressResponse struct {
	Progress domain.GenerationProgress `json:"progress"`
	Overall  int                       `json:"overall" minimum:"0" maximum:"100"`
	Stages   []progress.StageReport    `json:"stages"`
}

type VoicesResponse struct {
	Voices []domain.Voice `json:"voices"`
}

func progressResponse(p domain.GenerationProgress, r progress.Report) ProgressResponse {
	return ProgressResponse{Progress: p, Overall: r.Overall, Stages: r.Stages}
}
