// Package engine is the mutation funnel for project aggregates. Every
// operation applies through the in-memory store, persists a full snapshot,
// and appends to the events journal in one transaction. The engine keeps one
// store per project so a running pipeline and the API observe the same
// state.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"spotline/internal/config"
	"spotline/internal/domain"
	"spotline/internal/estimate"
	"spotline/internal/events"
	"spotline/internal/progress"
	"spotline/internal/repo"
	"spotline/internal/store"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	NewID  func() string

	mu     sync.Mutex
	stores map[string]*store.Store
}

func New(db *sql.DB, cfg *config.Config) *Engine {
	return &Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

// Store returns the live store for a project, loading the snapshot on first
// use. The same store instance is shared by every caller for the lifetime
// of the process.
func (e *Engine) Store(ctx context.Context, projectID string) (*store.Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.stores[projectID]; ok {
		return st, nil
	}
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	st := store.New(p)
	st.Now = e.now
	st.NewID = e.newID
	if e.stores == nil {
		e.stores = map[string]*store.Store{}
	}
	e.stores[projectID] = st
	return st, nil
}

// persist writes the aggregate snapshot and one journal entry in a single
// transaction.
func (e *Engine) persist(ctx context.Context, st *store.Store, evtType, entityKind, entityID, actorID string, payload events.EventPayload) (domain.Project, error) {
	p := st.Project()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.SaveProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, evtType, p.ID, entityKind, entityID, actorID, payload); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// InitProject creates a project with one default shot, the default
// voiceover, and the brand kit from config.
func (e *Engine) InitProject(ctx context.Context, projectID, name, actorID string) (domain.Project, error) {
	if projectID == "" {
		return domain.Project{}, errors.New("project id is required")
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err == nil {
		return domain.Project{}, errors.New("project already exists")
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Project{}, err
	}
	cfg := e.Config
	if cfg == nil {
		cfg = config.Default(projectID)
	}
	if name == "" {
		name = cfg.Project.Name
	}
	st := store.NewDefault(projectID, name, cfg.BrandKit())
	st.Now = e.now
	st.NewID = e.newID
	p := st.Project()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.SaveProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, err
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, projectID, cfg); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeProjectCreated, p.ID, "project", p.ID, actorID, events.EventPayload{"name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}

	e.mu.Lock()
	if e.stores == nil {
		e.stores = map[string]*store.Store{}
	}
	e.stores[projectID] = st
	e.mu.Unlock()
	return p, nil
}

// GetProject returns the live aggregate.
func (e *Engine) GetProject(ctx context.Context, projectID string) (domain.Project, error) {
	st, err := e.Store(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	return st.Project(), nil
}

// ListProjects returns project headers.
func (e *Engine) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return e.Repo.ListProjects(ctx)
}

// DeleteProject removes the project, its snapshot rows, and the live store.
func (e *Engine) DeleteProject(ctx context.Context, projectID string) error {
	if err := e.Repo.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.stores, projectID)
	e.mu.Unlock()
	return nil
}

// RenameProject sets the project name.
func (e *Engine) RenameProject(ctx context.Context, projectID, name, actorID string) (domain.Project, error) {
	st, err := e.Store(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	st.SetProjectName(name)
	return e.persist(ctx, st, events.TypeProjectUpdated, "project", projectID, actorID, events.EventPayload{"name": name})
}

// UpdateBrand merges a brand kit patch.
func (e *Engine) UpdateBrand(ctx context.Context, projectID string, patch store.BrandPatch, actorID string) (domain.Project, error) {
	st, err := e.Store(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	st.SetBrand(patch)
	return e.persist(ctx, st, events.TypeBrandUpdated, "brand", projectID, actorID, nil)
}

// AddShot appends a default shot and selects it.
func (e *Engine) AddShot(ctx context.Context, projectID, actorID string) (domain.Shot, error) {
	st, err := e.Store(ctx, projectID)
	if err != nil {
		return domain.Shot{}, err
	}
	shot := st.AddShot()
	if _, err := e.persist(ctx, st, events.TypeShotAdded, "shot", shot.ID, actorID, events.EventPayload{"order": shot.Order}); err != nil {
		return domain.Shot{}, err
	}
	return shot, nil
}

// UpdateShot merges a patch into one shot. Unknown shot ids leave the
// aggregate untouched and return the current state.
func (e *Engine) UpdateShot(ctx context.Context, projectID, shotID string, patch store.ShotPatch, actorID string) (domain.Project, error) {
	st, err := e.Store(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if !st.HasShot(shotID) {
		return st.Project(), nil
	}
	if err := st.UpdateShot(shotID, patch); err != nil {
		return domain.Project{}, err
	}
	return e.persist(ctx, st, events.TypeShotUpdated, "shot", shotID, actorID, nil)
}

// RemoveShot deletes a shot. Removing the last remaining shot is refused.
func (e *Engine) RemoveShot(ctx context.Context, projectID, shotID, actorID string) (domain.Project, error) {
	st, err := e.Store(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if !st.RemoveShot(shotID) {
		return st.Project(), nil
	}
	return e.persist(ctx, st, events.TypeShotRemoved, "shot", shotID, actorID, nil)
}

// DuplicateShot appends a draft copy of the source shot.
func (e *Engine) DuplicateShot(ctx context.Context, projectID, shotID, actorID string) (domain.Shot, error) {
	st, err := e.Store(ctx, projectID)
	if err != nil {
		return domain.Shot{}, err
	}
	dup, ok := st.DuplicateShot(shotID)
	if !ok {
		return domain.Shot{}, repo.ErrNotFound
	}
	if _, err := e.persist(ctx, st, events.TypeShotDuplicated, "shot", dup.ID, actorID, events.EventPayload{"source": shotID}); err != nil {
		return domain.Shot{}, err
	}
	return dup, nil
}

// ReorderShots moves a shot between timeline positions.
func (e *Engine) ReorderShots(ctx context.Context, projectID string, fromIndex, toIndex int, actorID string) (domain.Project, error) {
	st, err := e.Store(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	st.ReorderShots(fromIndex, toIndex)
	return e.persist(ctx, st, events.TypeShotsReordered, "project", projectID, actorID, events.EventPayload{"from": fromIndex, "to": toIndex})
}

// SelectShot changes the selection without touching the aggregate snapshot.
func (e *Engine) SelectShot(ctx context.Context, projectID string, shotID *string) error {
	st, err := e.Store(ctx, projectID)
	if err != nil {
		return err
	}
	st.SelectShot(shotID)
	return nil
}

// AddShotImage appends a reference image to a shot.
func (e *Engine) AddShotImage(ctx context.Context, projectID, shotID, imageURL, actorID string) (domain.Project, error) {
	st, err := e.Store(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if !st.HasShot(shotID) {
		return st.Project(), nil
	}
	if err := st.AddShotImage(shotID, imageURL); err != nil {
		return domain.Project{}, err
	}
	return e.persist(ctx, st, events.TypeShotUpdated, "shot", shotID, actorID, events.EventPayload{"reference_image": imageURL})
}

// RemoveShotImage drops a reference image from a shot.
func (e *Engine) RemoveShotImage(ctx context.Context, projectID, shotID, imageURL, actorID string) (domain.Project, error) {
	st, err := e.Store(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if !st.HasShot(shotID) {
		return st.Project(), nil
	}
	st.RemoveShotImage(shotID, imageURL)
	return e.persist(ctx, st, events.TypeShotUpdated, "shot", shotID, actorID, nil)
}

// SetShotFrame sets or clears a boundary frame image on a shot.
func (e *Engine) SetShotFrame(ctx context.Context, projectID, shotID string, imageURL *string, first bool, actorID string) (domain.Project, error) {
	st, err := e.Store(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if !st.HasShot(shotID) {
		return st.Project(), nil
	}
	if first {
		st.SetFirstFrame(shotID, imageURL)
	} else {
		st.SetLastFrame(shotID, imageURL)
	}
	return e.persist(ctx, st, events.TypeShotUpdated, "shot", shotID, actorID, nil)
}

// UpdateVoiceover merges a patch into the voiceover. When a catalog voice
// name is given without an id, the id is resolved from config.
func (e *Engine) UpdateVoiceover(ctx context.Context, projectID string, patch store.VoiceoverPatch, actorID string) (domain.Project, error) {
	st, err := e.Store(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if patch.VoiceName != nil && patch.VoiceID == nil && e.Config != nil {
		if v, ok := e.Config.VoiceByName(*patch.VoiceName); ok {
			patch.VoiceID = &v.ID
		}
	}
	if err := st.UpdateVoiceover(patch); err != nil {
		return domain.Project{}, err
	}
	return e.persist(ctx, st, events.TypeVoiceoverUpdated, "voiceover", projectID, actorID, nil)
}

// ResetProject replaces the aggregate with a fresh draft and returns the
// pipeline to idle.
func (e *Engine) ResetProject(ctx context.Context, projectID, actorID string) (domain.Project, error) {
	st, err := e.Store(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	st.ResetProject()
	return e.persist(ctx, st, events.TypeProjectReset, "project", projectID, actorID, nil)
}

// ReportShotStatus records an orchestrator status delta for one shot.
func (e *Engine) ReportShotStatus(ctx context.Context, projectID, shotID, status string, prog int, errMsg *string, actorID string) (domain.Project, error) {
	st, err := e.Store(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if !st.HasShot(shotID) {
		return st.Project(), nil
	}
	st.SetShotStatus(shotID, status, prog, errMsg)
	payload := events.EventPayload{"status": status, "progress": prog}
	if errMsg != nil {
		payload["error"] = *errMsg
	}
	return e.persist(ctx, st, events.TypeShotUpdated, "shot", shotID, actorID, payload)
}

// ReportShotResult records a generated clip and completes the shot.
func (e *Engine) ReportShotResult(ctx context.Context, projectID, shotID, videoURL string, thumbnailURL *string, actorID string) (domain.Project, error) {
	st, err := e.Store(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if !st.HasShot(shotID) {
		return st.Project(), nil
	}
	st.SetShotVideoURL(shotID, videoURL, thumbnailURL)
	return e.persist(ctx, st, events.TypeShotResult, "shot", shotID, actorID, events.EventPayload{"video_url": videoURL})
}

// ReportVoiceoverStatus records an orchestrator status delta for the
// voiceover.
func (e *Engine) ReportVoiceoverStatus(ctx context.Context, projectID, status string, prog int, errMsg *string, actorID string) (domain.Project, error) {
	st, err := e.Store(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	st.SetVoiceoverStatus(status, prog, errMsg)
	return e.persist(ctx, st, events.TypeVoiceoverUpdated, "voiceover", projectID, actorID, events.EventPayload{"status": status, "progress": prog})
}

// ReportVoiceoverResult records synthesized narration and completes the
// voiceover.
func (e *Engine) ReportVoiceoverResult(ctx context.Context, projectID, audioURL, actorID string) (domain.Project, error) {
	st, err := e.Store(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	st.SetVoiceoverAudioURL(audioURL)
	return e.persist(ctx, st, events.TypeVoiceoverResult, "voiceover", projectID, actorID, events.EventPayload{"audio_url": audioURL})
}

// ReportFinalVideo records the assembled spot and completes the project.
func (e *Engine) ReportFinalVideo(ctx context.Context, projectID, videoURL, actorID string) (domain.Project, error) {
	st, err := e.Store(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	st.SetFinalVideoURL(videoURL)
	return e.persist(ctx, st, events.TypeGenerationDone, "project", projectID, actorID, events.EventPayload{"video_url": videoURL})
}

// ReportProgress merges a pipeline status delta. The aggregate snapshot is
// untouched; stage transitions are journaled, per-shot percentage ticks are
// not.
func (e *Engine) ReportProgress(ctx context.Context, projectID string, patch store.ProgressPatch, actorID string) (domain.GenerationProgress, error) {
	st, err := e.Store(ctx, projectID)
	if err != nil {
		return domain.GenerationProgress{}, err
	}
	before := st.Progress().Stage
	st.SetGenerationProgress(patch)
	after := st.Progress()
	if patch.Stage != nil && *patch.Stage != before {
		evtType := events.TypeGenerationStage
		if *patch.Stage == domain.StageFailed {
			evtType = events.TypeGenerationFailed
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return domain.GenerationProgress{}, err
		}
		defer tx.Rollback()
		if err := e.Events.Append(ctx, tx, evtType, projectID, "generation", projectID, actorID, events.EventPayload{"stage": *patch.Stage, "message": after.Message}); err != nil {
			return domain.GenerationProgress{}, err
		}
		if err := tx.Commit(); err != nil {
			return domain.GenerationProgress{}, err
		}
	}
	return after, nil
}

// SetProjectStatus persists an aggregate-level status change.
func (e *Engine) SetProjectStatus(ctx context.Context, projectID, status, actorID string) (domain.Project, error) {
	st, err := e.Store(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	st.SetProjectStatus(status)
	return e.persist(ctx, st, events.TypeProjectUpdated, "project", projectID, actorID, events.EventPayload{"status": status})
}

// Progress returns the live pipeline status and its aggregated report.
func (e *Engine) Progress(ctx context.Context, projectID string) (domain.GenerationProgress, progress.Report, error) {
	st, err := e.Store(ctx, projectID)
	if err != nil {
		return domain.GenerationProgress{}, progress.Report{}, err
	}
	p := st.Progress()
	return p, progress.Aggregate(p), nil
}

// Estimate prices a generation run with the project's configured rates.
type Estimate struct {
	TotalDurationSec int     `json:"total_duration_sec"`
	EstimatedCost    float64 `json:"estimated_cost"`
	ScriptChars      int     `json:"script_chars"`
	ShotCount        int     `json:"shot_count"`
}

func (e *Engine) Estimate(ctx context.Context, projectID string) (Estimate, error) {
	st, err := e.Store(ctx, projectID)
	if err != nil {
		return Estimate{}, err
	}
	p := st.Project()
	perChar := estimate.RatePerCharacter
	var videoRates map[string]float64
	if e.Config != nil {
		if e.Config.Rates.VoicePerChar > 0 {
			perChar = e.Config.Rates.VoicePerChar
		}
		videoRates = e.Config.Rates.VideoPerSecond
	}
	return Estimate{
		TotalDurationSec: estimate.TotalDuration(p),
		EstimatedCost:    estimate.CostRated(p, videoRates, perChar),
		ScriptChars:      len(p.Voiceover.Script),
		ShotCount:        len(p.Shots),
	}, nil
}
