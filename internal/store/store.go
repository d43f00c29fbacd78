// Package store owns the in-memory Project aggregate. Every exported method
// is a single critical section: callers observe operations as atomic, and the
// pipeline runner can report into the store while the API reads from it.
//
// Editing operations given an unknown shot id are silent no-ops; invariant
// violations (duration/resolution coupling, reference-image cap) are rejected
// with InvariantError. Generation-reporting operations are last-write-wins so
// out-of-order or duplicate delivery from the orchestrator cannot corrupt the
// aggregate.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"spotline/internal/domain"
)

// InvariantError reports which aggregate invariant a mutation would violate.
type InvariantError struct {
	Field  string
	Reason string
}

func (e InvariantError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type Store struct {
	mu             sync.Mutex
	project        domain.Project
	selectedShotID *string
	progress       domain.GenerationProgress

	Now   func() time.Time
	NewID func() string
}

// New wraps an existing aggregate, e.g. one loaded from a snapshot.
func New(p domain.Project) *Store {
	return &Store{
		project:  p,
		progress: domain.GenerationProgress{Stage: domain.StageIdle},
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
}

// NewDefault builds a fresh draft project with a single default shot.
func NewDefault(id, name string, brand domain.BrandKit) *Store {
	s := New(domain.Project{})
	s.project = s.defaultProject(id, name, brand)
	return s
}

func (s *Store) now() string {
	if s.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return s.Now().UTC().Format(time.RFC3339)
}

func (s *Store) newID() string {
	if s.NewID == nil {
		return uuid.NewString()
	}
	return s.NewID()
}

func (s *Store) defaultProject(id, name string, brand domain.BrandKit) domain.Project {
	now := s.now()
	return domain.Project{
		ID:        id,
		Name:      name,
		Brand:     brand,
		Shots:     []domain.Shot{domain.DefaultShot(s.newID(), 0)},
		Voiceover: domain.DefaultVoiceover(),
		Status:    domain.ProjectDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Store) touch() {
	s.project.UpdatedAt = s.now()
}

// Project returns a deep copy of the aggregate.
func (s *Store) Project() domain.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyProject(s.project)
}

// Progress returns the current pipeline status.
func (s *Store) Progress() domain.GenerationProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyProgress(s.progress)
}

// SelectedShot returns the selected shot, if any.
func (s *Store) SelectedShot() (domain.Shot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectedShotID == nil {
		return domain.Shot{}, false
	}
	for _, sh := range s.project.Shots {
		if sh.ID == *s.selectedShotID {
			return copyShot(sh), true
		}
	}
	return domain.Shot{}, false
}

// SelectedShotID returns the selection, nil when nothing is selected.
func (s *Store) SelectedShotID() *string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectedShotID == nil {
		return nil
	}
	id := *s.selectedShotID
	return &id
}

// SetProjectName renames the project.
func (s *Store) SetProjectName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.project.Name = name
	s.touch()
}

// BrandPatch merges into the brand kit; nil fields are left untouched.
type BrandPatch struct {
	Name           *string
	Tagline        *string
	PrimaryColor   *string
	SecondaryColor *string
	LogoURL        *string
	LogoURLSet     bool
}

// SetBrand merges patch into the project's brand kit.
func (s *Store) SetBrand(patch BrandPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := &s.project.Brand
	if patch.Name != nil {
		b.Name = *patch.Name
	}
	if patch.Tagline != nil {
		b.Tagline = *patch.Tagline
	}
	if patch.PrimaryColor != nil {
		b.PrimaryColor = *patch.PrimaryColor
	}
	if patch.SecondaryColor != nil {
		b.SecondaryColor = *patch.SecondaryColor
	}
	if patch.LogoURLSet {
		b.LogoURL = copyString(patch.LogoURL)
	}
	s.touch()
}

// AddShot appends a default shot at the end of the timeline and selects it.
// It never fails.
func (s *Store) AddShot() domain.Shot {
	s.mu.Lock()
	defer s.mu.Unlock()
	shot := domain.DefaultShot(s.newID(), len(s.project.Shots))
	s.project.Shots = append(s.project.Shots, shot)
	id := shot.ID
	s.selectedShotID = &id
	s.touch()
	return copyShot(shot)
}

// RemoveShot deletes a shot and reindexes the remainder. Removing the last
// remaining shot, or an unknown id, is a no-op. If the removed shot was
// selected, selection moves to the new first shot.
func (s *Store) RemoveShot(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.project.Shots) <= 1 {
		return false
	}
	idx := s.shotIndex(id)
	if idx < 0 {
		return false
	}
	s.project.Shots = append(s.project.Shots[:idx], s.project.Shots[idx+1:]...)
	s.reindex()
	if s.selectedShotID != nil && *s.selectedShotID == id {
		if len(s.project.Shots) > 0 {
			first := s.project.Shots[0].ID
			s.selectedShotID = &first
		} else {
			s.selectedShotID = nil
		}
	}
	s.touch()
	return true
}

// ShotPatch merges editable fields into a shot; nil fields are untouched.
// Generation-result fields are deliberately absent: those are mutated only by
// the reporting operations.
type ShotPatch struct {
	Prompt         *string
	NegativePrompt *string
	Duration       *int
	Resolution     *string
	AspectRatio    *string
}

// UpdateShot merges patch into the shot with the given id. Unknown ids are
// no-ops. The store is the source of truth for the duration/resolution
// coupling: an explicit duration that conflicts with the (resulting) 1080p
// tier is rejected, while a resolution change to 1080p alone clamps the
// duration to 8 seconds.
func (s *Store) UpdateShot(id string, patch ShotPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.shotIndex(id)
	if idx < 0 {
		return nil
	}
	sh := s.project.Shots[idx]
	if patch.Duration != nil && !domain.ValidDuration(*patch.Duration) {
		return InvariantError{Field: "duration", Reason: fmt.Sprintf("must be one of %v seconds", domain.ShotDurations)}
	}
	if patch.Resolution != nil && !domain.ValidResolution(*patch.Resolution) {
		return InvariantError{Field: "resolution", Reason: "must be 720p or 1080p"}
	}
	if patch.AspectRatio != nil && !domain.ValidAspectRatio(*patch.AspectRatio) {
		return InvariantError{Field: "aspect_ratio", Reason: "must be 16:9 or 9:16"}
	}
	if patch.Prompt != nil {
		sh.Prompt = *patch.Prompt
	}
	if patch.NegativePrompt != nil {
		sh.NegativePrompt = *patch.NegativePrompt
	}
	if patch.Duration != nil {
		sh.Duration = *patch.Duration
	}
	if patch.Resolution != nil {
		sh.Resolution = *patch.Resolution
	}
	if patch.AspectRatio != nil {
		sh.AspectRatio = *patch.AspectRatio
	}
	if sh.Resolution == domain.Resolution1080 && sh.Duration != 8 {
		if patch.Duration != nil {
			return InvariantError{Field: "duration", Reason: "1080p supports only the 8 second duration"}
		}
		sh.Duration = 8
	}
	s.project.Shots[idx] = sh
	s.touch()
	return nil
}

// ReorderShots moves the shot at fromIndex to toIndex (interpreted after
// removal, standard splice semantics) and reassigns dense order values.
// Out-of-range indexes are clamped.
func (s *Store) ReorderShots(fromIndex, toIndex int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.project.Shots)
	if n == 0 {
		return
	}
	fromIndex = clamp(fromIndex, 0, n-1)
	toIndex = clamp(toIndex, 0, n-1)
	shot := s.project.Shots[fromIndex]
	rest := append(s.project.Shots[:fromIndex:fromIndex], s.project.Shots[fromIndex+1:]...)
	shots := make([]domain.Shot, 0, n)
	shots = append(shots, rest[:toIndex]...)
	shots = append(shots, shot)
	shots = append(shots, rest[toIndex:]...)
	s.project.Shots = shots
	s.reindex()
	s.touch()
}

// DuplicateShot appends a copy of the source shot with fresh identity, the
// next order value, and generation state reset to draft. Unknown ids are
// no-ops.
func (s *Store) DuplicateShot(id string) (domain.Shot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.shotIndex(id)
	if idx < 0 {
		return domain.Shot{}, false
	}
	src := s.project.Shots[idx]
	dup := copyShot(src)
	dup.ID = s.newID()
	dup.Order = len(s.project.Shots)
	dup.Status = domain.ShotDraft
	dup.Progress = 0
	dup.VideoURL = nil
	dup.ThumbnailURL = nil
	dup.Error = nil
	s.project.Shots = append(s.project.Shots, dup)
	s.touch()
	return copyShot(dup), true
}

// SelectShot changes the selection; nil clears it. Unknown ids clear the
// selection as well.
func (s *Store) SelectShot(id *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == nil || s.shotIndex(*id) < 0 {
		s.selectedShotID = nil
		return
	}
	v := *id
	s.selectedShotID = &v
}

// AddShotImage appends a reference image; the store enforces the cap.
func (s *Store) AddShotImage(id, imageURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.shotIndex(id)
	if idx < 0 {
		return nil
	}
	sh := &s.project.Shots[idx]
	if len(sh.ReferenceImages) >= domain.MaxReferenceImages {
		return InvariantError{Field: "reference_images", Reason: fmt.Sprintf("at most %d reference images per shot", domain.MaxReferenceImages)}
	}
	sh.ReferenceImages = append(sh.ReferenceImages, imageURL)
	s.touch()
	return nil
}

// RemoveShotImage drops every occurrence of imageURL from the shot.
func (s *Store) RemoveShotImage(id, imageURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.shotIndex(id)
	if idx < 0 {
		return
	}
	sh := &s.project.Shots[idx]
	kept := sh.ReferenceImages[:0]
	for _, img := range sh.ReferenceImages {
		if img != imageURL {
			kept = append(kept, img)
		}
	}
	sh.ReferenceImages = kept
	s.touch()
}

// SetFirstFrame sets or clears (nil) the shot's first-frame image.
func (s *Store) SetFirstFrame(id string, imageURL *string) {
	s.setFrame(id, imageURL, true)
}

// SetLastFrame sets or clears (nil) the shot's last-frame image.
func (s *Store) SetLastFrame(id string, imageURL *string) {
	s.setFrame(id, imageURL, false)
}

func (s *Store) setFrame(id string, imageURL *string, first bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.shotIndex(id)
	if idx < 0 {
		return
	}
	if first {
		s.project.Shots[idx].FirstFrame = copyString(imageURL)
	} else {
		s.project.Shots[idx].LastFrame = copyString(imageURL)
	}
	s.touch()
}

// VoiceoverPatch merges into the singleton voiceover; nil fields untouched.
type VoiceoverPatch struct {
	Script          *string
	VoiceID         *string
	VoiceName       *string
	Stability       *float64
	SimilarityBoost *float64
	Style           *float64
}

// UpdateVoiceover merges patch into the voiceover. Synthesis settings must
// stay within [0,1].
func (s *Store) UpdateVoiceover(patch VoiceoverPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for field, v := range map[string]*float64{
		"stability":        patch.Stability,
		"similarity_boost": patch.SimilarityBoost,
		"style":            patch.Style,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return InvariantError{Field: field, Reason: "must be between 0 and 1"}
		}
	}
	vo := &s.project.Voiceover
	if patch.Script != nil {
		vo.Script = *patch.Script
	}
	if patch.VoiceID != nil {
		vo.VoiceID = *patch.VoiceID
	}
	if patch.VoiceName != nil {
		vo.VoiceName = *patch.VoiceName
	}
	if patch.Stability != nil {
		vo.Stability = *patch.Stability
	}
	if patch.SimilarityBoost != nil {
		vo.SimilarityBoost = *patch.SimilarityBoost
	}
	if patch.Style != nil {
		vo.Style = *patch.Style
	}
	s.touch()
	return nil
}

// ProgressPatch merges into the pipeline status; nil fields untouched.
// Setting a pointer field to a pointer-to-nil is not expressible here; the
// stage transitions that need a clean slate (reset, pipeline start) replace
// the whole value instead.
type ProgressPatch struct {
	Stage        *string
	CurrentShot  *int
	TotalShots   *int
	ShotProgress *int
	Message      *string
	ETASeconds   *int
}

// SetGenerationProgress merges patch into the pipeline status. It does not
// touch the Project aggregate.
func (s *Store) SetGenerationProgress(patch ProgressPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &s.progress
	if patch.Stage != nil {
		p.Stage = *patch.Stage
	}
	if patch.CurrentShot != nil {
		p.CurrentShot = copyInt(patch.CurrentShot)
	}
	if patch.TotalShots != nil {
		p.TotalShots = copyInt(patch.TotalShots)
	}
	if patch.ShotProgress != nil {
		p.ShotProgress = copyInt(patch.ShotProgress)
	}
	if patch.Message != nil {
		p.Message = *patch.Message
	}
	if patch.ETASeconds != nil {
		p.ETASeconds = copyInt(patch.ETASeconds)
	}
}

// ReplaceGenerationProgress swaps the whole pipeline status value.
func (s *Store) ReplaceGenerationProgress(p domain.GenerationProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = copyProgress(p)
}

// SetProjectStatus sets the aggregate-level status.
func (s *Store) SetProjectStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.project.Status = status
	s.touch()
}

// SetShotStatus sets exactly status, progress, and error on the target shot.
// Result URLs are untouched. Unknown ids are no-ops.
func (s *Store) SetShotStatus(id, status string, progress int, errMsg *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.shotIndex(id)
	if idx < 0 {
		return
	}
	sh := &s.project.Shots[idx]
	sh.Status = status
	sh.Progress = progress
	sh.Error = copyString(errMsg)
	s.touch()
}

// SetShotVideoURL records the generation result and forces the shot to
// completed/100. This is the sole path by which a shot completes; it
// overrides whatever status was set before, even if the shot never passed
// through generating.
func (s *Store) SetShotVideoURL(id, videoURL string, thumbnailURL *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.shotIndex(id)
	if idx < 0 {
		return
	}
	sh := &s.project.Shots[idx]
	sh.VideoURL = &videoURL
	sh.ThumbnailURL = copyString(thumbnailURL)
	sh.Status = domain.ShotCompleted
	sh.Progress = 100
	sh.Error = nil
	s.touch()
}

// SetVoiceoverStatus sets exactly status, progress, and error on the
// voiceover.
func (s *Store) SetVoiceoverStatus(status string, progress int, errMsg *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vo := &s.project.Voiceover
	vo.Status = status
	vo.Progress = progress
	vo.Error = copyString(errMsg)
	s.touch()
}

// SetVoiceoverAudioURL records the synthesis result and forces the voiceover
// to completed/100.
func (s *Store) SetVoiceoverAudioURL(audioURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vo := &s.project.Voiceover
	vo.AudioURL = &audioURL
	vo.Status = domain.ShotCompleted
	vo.Progress = 100
	vo.Error = nil
	s.touch()
}

// SetFinalVideoURL records the assembled spot and forces the project to
// completed.
func (s *Store) SetFinalVideoURL(videoURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.project.FinalVideoURL = &videoURL
	s.project.Status = domain.ProjectCompleted
	s.touch()
}

// ResetProject replaces the aggregate with a fresh default project (one
// draft shot), clears the selection, and resets the pipeline status to idle.
// The project identity and brand kit survive the reset.
func (s *Store) ResetProject() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.project = s.defaultProject(s.project.ID, s.project.Name, s.project.Brand)
	s.selectedShotID = nil
	s.progress = domain.GenerationProgress{Stage: domain.StageIdle}
}

// Replace swaps the whole aggregate, e.g. after loading a snapshot. The
// selection is cleared because the previous shot ids are gone.
func (s *Store) Replace(p domain.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.project = copyProject(p)
	s.selectedShotID = nil
}

// shotIndex returns the slice index for a shot id, -1 if absent. Callers
// hold s.mu.
// HasShot reports whether a shot with the given id exists.
func (s *Store) HasShot(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shotIndex(id) >= 0
}

func (s *Store) shotIndex(id string) int {
	for i, sh := range s.project.Shots {
		if sh.ID == id {
			return i
		}
	}
	return -1
}

// reindex reassigns order as the dense slice position. Callers hold s.mu.
func (s *Store) reindex() {
	for i := range s.project.Shots {
		s.project.Shots[i].Order = i
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func copyProject(p domain.Project) domain.Project {
	out := p
	out.Shots = make([]domain.Shot, len(p.Shots))
	for i, sh := range p.Shots {
		out.Shots[i] = copyShot(sh)
	}
	out.Voiceover = copyVoiceover(p.Voiceover)
	out.Brand.LogoURL = copyString(p.Brand.LogoURL)
	out.FinalVideoURL = copyString(p.FinalVideoURL)
	return out
}

func copyShot(sh domain.Shot) domain.Shot {
	out := sh
	if sh.ReferenceImages != nil {
		out.ReferenceImages = append([]string(nil), sh.ReferenceImages...)
	}
	out.FirstFrame = copyString(sh.FirstFrame)
	out.LastFrame = copyString(sh.LastFrame)
	out.VideoURL = copyString(sh.VideoURL)
	out.ThumbnailURL = copyString(sh.ThumbnailURL)
	out.Error = copyString(sh.Error)
	return out
}

func copyVoiceover(vo domain.Voiceover) domain.Voiceover {
	out := vo
	out.AudioURL = copyString(vo.AudioURL)
	out.Error = copyString(vo.Error)
	return out
}

func copyProgress(p domain.GenerationProgress) domain.GenerationProgress {
	out := p
	out.CurrentShot = copyInt(p.CurrentShot)
	out.TotalShots = copyInt(p.TotalShots)
	out.ShotProgress = copyInt(p.ShotProgress)
	out.ETASeconds = copyInt(p.ETASeconds)
	return out
}

func copyString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}
