package domain

// Shot statuses.
const (
	ShotDraft      = "draft"
	ShotQueued     = "queued"
	ShotGenerating = "generating"
	ShotCompleted  = "completed"
	ShotFailed     = "failed"
)

// Project statuses.
const (
	ProjectDraft      = "draft"
	ProjectGenerating = "generating"
	ProjectCompleted  = "completed"
	ProjectFailed     = "failed"
)

// Pipeline stages, in progression order. Failed is reachable from any
// non-terminal stage; completed and failed are terminal.
const (
	StageIdle            = "idle"
	StageUploading       = "uploading"
	StageGeneratingShots = "generating_shots"
	StageGeneratingVoice = "generating_voice"
	StageAssembling      = "assembling"
	StageCompleted       = "completed"
	StageFailed          = "failed"
)

// ShotDurations are the clip lengths the video backend accepts, in seconds.
var ShotDurations = []int{4, 6, 8}

// Resolution tiers. The 1080p tier only accepts the 8-second duration.
const (
	Resolution720  = "720p"
	Resolution1080 = "1080p"
)

const (
	AspectLandscape = "16:9"
	AspectPortrait  = "9:16"
)

// MaxReferenceImages caps the reference images attached to one shot.
const MaxReferenceImages = 3

const DefaultNegativePrompt = "low quality, blurry, amateur, text, watermark"

type Shot struct {
	ID              string   `json:"id"`
	Order           int      `json:"order"`
	Prompt          string   `json:"prompt,omitempty"`
	NegativePrompt  string   `json:"negative_prompt,omitempty"`
	Duration        int      `json:"duration" enum:"4,6,8"`
	Resolution      string   `json:"resolution" enum:"720p,1080p"`
	AspectRatio     string   `json:"aspect_ratio" enum:"16:9,9:16"`
	ReferenceImages []string `json:"reference_images,omitempty"`
	FirstFrame      *string  `json:"first_frame,omitempty"`
	LastFrame       *string  `json:"last_frame,omitempty"`
	VideoURL        *string  `json:"video_url,omitempty"`
	ThumbnailURL    *string  `json:"thumbnail_url,omitempty"`
	Status          string   `json:"status" enum:"draft,queued,generating,completed,failed"`
	Progress        int      `json:"progress"`
	Error           *string  `json:"error,omitempty"`
}

type Voiceover struct {
	Script          string  `json:"script,omitempty"`
	VoiceID         string  `json:"voice_id,omitempty"`
	VoiceName       string  `json:"voice_name,omitempty"`
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	Status          string  `json:"status" enum:"draft,queued,generating,completed,failed"`
	Progress        int     `json:"progress"`
	AudioURL        *string `json:"audio_url,omitempty"`
	Error           *string `json:"error,omitempty"`
}

type BrandKit struct {
	Name           string  `json:"name"`
	Tagline        string  `json:"tagline,omitempty"`
	PrimaryColor   string  `json:"primary_color,omitempty"`
	SecondaryColor string  `json:"secondary_color,omitempty"`
	LogoURL        *string `json:"logo_url,omitempty"`
}

// Project is the aggregate the store owns. Shots are kept ordered; Order
// stays a dense 0..N-1 permutation matching slice position after every
// structural change.
type Project struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Brand         BrandKit  `json:"brand"`
	Shots         []Shot    `json:"shots"`
	Voiceover     Voiceover `json:"voiceover"`
	FinalVideoURL *string   `json:"final_video_url,omitempty"`
	Status        string    `json:"status" enum:"draft,generating,completed,failed"`
	CreatedAt     string    `json:"created_at" format:"date-time"`
	UpdatedAt     string    `json:"updated_at" format:"date-time"`
}

// GenerationProgress is the pipeline-status value reported by the
// orchestrator. It is not part of the persisted Project.
type GenerationProgress struct {
	Stage        string `json:"stage" enum:"idle,uploading,generating_shots,generating_voice,assembling,completed,failed"`
	CurrentShot  *int   `json:"current_shot,omitempty"`
	TotalShots   *int   `json:"total_shots,omitempty"`
	ShotProgress *int   `json:"shot_progress,omitempty"`
	Message      string `json:"message,omitempty"`
	ETASeconds   *int   `json:"eta_seconds,omitempty"`
}

// Voice is one entry of the fixed narration-voice catalog. The core stores
// the chosen id/name on the voiceover and never validates against a live
// catalog.
type Voice struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// DefaultShot returns a shot with the backend's default settings. The 1080p
// default forces the 8-second duration.
func DefaultShot(id string, order int) Shot {
	return Shot{
		ID:             id,
		Order:          order,
		NegativePrompt: DefaultNegativePrompt,
		Duration:       8,
		Resolution:     Resolution1080,
		AspectRatio:    AspectLandscape,
		Status:         ShotDraft,
	}
}

// DefaultVoiceover returns a draft voiceover with the stock synthesis
// settings.
func DefaultVoiceover() Voiceover {
	return Voiceover{
		Stability:       0.7,
		SimilarityBoost: 0.8,
		Style:           0.5,
		Status:          ShotDraft,
	}
}

// ValidDuration reports whether d is a clip length the backend accepts.
func ValidDuration(d int) bool {
	for _, v := range ShotDurations {
		if v == d {
			return true
		}
	}
	return false
}

// ValidResolution reports whether r is a known resolution tier.
func ValidResolution(r string) bool {
	return r == Resolution720 || r == Resolution1080
}

// ValidAspectRatio reports whether a is a supported aspect ratio.
func ValidAspectRatio(a string) bool {
	return a == AspectLandscape || a == AspectPortrait
}
