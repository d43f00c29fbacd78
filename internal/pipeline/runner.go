package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"spotline/internal/config"
	"spotline/internal/domain"
	"spotline/internal/engine"
	"spotline/internal/store"
)

// Runner executes one generation run for a project. Shots are generated by
// a bounded worker pool; voice synthesis and assembly run once the clips
// are in. All state flows through the engine so the API and CLI observe the
// run live.
type Runner struct {
	Engine       *engine.Engine
	Backend      Backend
	MaxWorkers   int
	ShotTimeout  time.Duration
	PollInterval time.Duration
	ActorID      string
}

func NewRunner(eng *engine.Engine, backend Backend, pcfg config.Pipeline) *Runner {
	return &Runner{
		Engine:       eng,
		Backend:      backend,
		MaxWorkers:   pcfg.MaxWorkers,
		ShotTimeout:  time.Duration(pcfg.ShotTimeoutSec) * time.Second,
		PollInterval: time.Duration(pcfg.PollIntervalMS) * time.Millisecond,
		ActorID:      "pipeline",
	}
}

func (r *Runner) workers() int {
	if r.MaxWorkers < 1 {
		return 1
	}
	return r.MaxWorkers
}

func (r *Runner) pollInterval() time.Duration {
	if r.PollInterval <= 0 {
		return 10 * time.Second
	}
	return r.PollInterval
}

func (r *Runner) shotTimeout() time.Duration {
	if r.ShotTimeout <= 0 {
		return 5 * time.Minute
	}
	return r.ShotTimeout
}

// Run walks the full stage order. On any error the pipeline lands in the
// failed stage and the project is marked failed; a partial run never leaves
// the project in generating.
func (r *Runner) Run(ctx context.Context, projectID string) error {
	p, err := r.Engine.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if _, err := r.Engine.SetProjectStatus(ctx, projectID, domain.ProjectGenerating, r.ActorID); err != nil {
		return err
	}
	total := len(p.Shots)

	r.report(ctx, projectID, store.ProgressPatch{
		Stage:      strPtr(domain.StageUploading),
		TotalShots: &total,
		Message:    strPtr("Uploading reference assets"),
	})
	r.report(ctx, projectID, store.ProgressPatch{
		Stage:        strPtr(domain.StageGeneratingShots),
		CurrentShot:  intPtr(1),
		ShotProgress: intPtr(0),
		Message:      strPtr(fmt.Sprintf("Generating %d shots", total)),
	})
	if err := r.generateShots(ctx, projectID, p.Shots); err != nil {
		return r.fail(ctx, projectID, err)
	}

	p, err = r.Engine.GetProject(ctx, projectID)
	if err != nil {
		return r.fail(ctx, projectID, err)
	}
	if p.Voiceover.Script != "" {
		r.report(ctx, projectID, store.ProgressPatch{
			Stage:   strPtr(domain.StageGeneratingVoice),
			Message: strPtr("Synthesizing narration"),
		})
		if err := r.generateVoice(ctx, projectID, p.Voiceover); err != nil {
			return r.fail(ctx, projectID, err)
		}
		p, err = r.Engine.GetProject(ctx, projectID)
		if err != nil {
			return r.fail(ctx, projectID, err)
		}
	}

	r.report(ctx, projectID, store.ProgressPatch{
		Stage:   strPtr(domain.StageAssembling),
		Message: strPtr("Assembling final spot"),
	})
	if err := r.assemble(ctx, projectID, p); err != nil {
		return r.fail(ctx, projectID, err)
	}

	r.report(ctx, projectID, store.ProgressPatch{
		Stage:   strPtr(domain.StageCompleted),
		Message: strPtr("Generation complete"),
	})
	return nil
}

func (r *Runner) generateShots(ctx context.Context, projectID string, shots []domain.Shot) error {
	total := len(shots)
	sem := make(chan struct{}, r.workers())
	var wg sync.WaitGroup
	var mu sync.Mutex
	perShot := make(map[string]int, total)
	var firstErr error

	for _, sh := range shots {
		wg.Add(1)
		go func(sh domain.Shot) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			mu.Lock()
			stop := firstErr != nil
			mu.Unlock()
			if stop || ctx.Err() != nil {
				return
			}
			err := r.generateShot(ctx, projectID, sh, func(shotProgress int) {
				// Workers poll concurrently, so the raw per-shot numbers
				// arrive interleaved. Fold them into a sum that can only
				// grow and report that, keeping the overall percentage
				// monotone.
				mu.Lock()
				if shotProgress > perShot[sh.ID] {
					perShot[sh.ID] = shotProgress
				}
				sum := 0
				for _, p := range perShot {
					sum += p
				}
				mu.Unlock()
				current := sum/100 + 1
				pct := sum % 100
				if current > total {
					current = total
					pct = 100
				}
				r.report(ctx, projectID, store.ProgressPatch{
					CurrentShot:  &current,
					ShotProgress: &pct,
				})
			})
			mu.Lock()
			if err != nil && firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
		}(sh)
	}
	wg.Wait()
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

func (r *Runner) generateShot(ctx context.Context, projectID string, sh domain.Shot, tick func(progress int)) error {
	if _, err := r.Engine.ReportShotStatus(ctx, projectID, sh.ID, domain.ShotQueued, 0, nil, r.ActorID); err != nil {
		return err
	}
	jobID, err := r.Backend.StartShot(ctx, ShotRequest{
		ProjectID:       projectID,
		ShotID:          sh.ID,
		Prompt:          sh.Prompt,
		NegativePrompt:  sh.NegativePrompt,
		Duration:        sh.Duration,
		Resolution:      sh.Resolution,
		AspectRatio:     sh.AspectRatio,
		ReferenceImages: sh.ReferenceImages,
		FirstFrame:      sh.FirstFrame,
		LastFrame:       sh.LastFrame,
	})
	if err != nil {
		return r.failShot(ctx, projectID, sh.ID, fmt.Errorf("start shot: %w", err))
	}

	deadline := time.Now().Add(r.shotTimeout())
	ticker := time.NewTicker(r.pollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if time.Now().After(deadline) {
			return r.failShot(ctx, projectID, sh.ID, fmt.Errorf("shot %s timed out after %s", sh.ID, r.shotTimeout()))
		}
		st, err := r.Backend.ShotStatus(ctx, jobID)
		if err != nil {
			log.Printf("pipeline: poll shot %s: %v", sh.ID, err)
			continue
		}
		switch st.State {
		case JobCompleted:
			if st.VideoURL == nil {
				return r.failShot(ctx, projectID, sh.ID, fmt.Errorf("shot %s completed without a video url", sh.ID))
			}
			if _, err := r.Engine.ReportShotResult(ctx, projectID, sh.ID, *st.VideoURL, st.ThumbnailURL, r.ActorID); err != nil {
				return err
			}
			tick(100)
			return nil
		case JobFailed:
			msg := st.Error
			if msg == "" {
				msg = "generation failed"
			}
			return r.failShot(ctx, projectID, sh.ID, fmt.Errorf("shot %s: %s", sh.ID, msg))
		default:
			if _, err := r.Engine.ReportShotStatus(ctx, projectID, sh.ID, domain.ShotGenerating, st.Progress, nil, r.ActorID); err != nil {
				return err
			}
			tick(st.Progress)
		}
	}
}

func (r *Runner) generateVoice(ctx context.Context, projectID string, vo domain.Voiceover) error {
	if _, err := r.Engine.ReportVoiceoverStatus(ctx, projectID, domain.ShotGenerating, 0, nil, r.ActorID); err != nil {
		return err
	}
	audioURL, err := r.Backend.SynthesizeVoice(ctx, VoiceRequest{
		ProjectID:       projectID,
		Script:          vo.Script,
		VoiceID:         vo.VoiceID,
		Stability:       vo.Stability,
		SimilarityBoost: vo.SimilarityBoost,
		Style:           vo.Style,
	})
	if err != nil {
		msg := err.Error()
		if _, rerr := r.Engine.ReportVoiceoverStatus(ctx, projectID, domain.ShotFailed, 0, &msg, r.ActorID); rerr != nil {
			log.Printf("pipeline: record voiceover failure: %v", rerr)
		}
		return fmt.Errorf("voice synthesis: %w", err)
	}
	_, err = r.Engine.ReportVoiceoverResult(ctx, projectID, audioURL, r.ActorID)
	return err
}

func (r *Runner) assemble(ctx context.Context, projectID string, p domain.Project) error {
	req := AssembleRequest{ProjectID: projectID, Brand: p.Brand, AudioURL: p.Voiceover.AudioURL}
	for _, sh := range p.Shots {
		if sh.VideoURL == nil {
			return fmt.Errorf("shot %s has no generated clip", sh.ID)
		}
		req.Clips = append(req.Clips, AssembleClip{ShotID: sh.ID, VideoURL: *sh.VideoURL, Duration: sh.Duration})
	}
	videoURL, err := r.Backend.Assemble(ctx, req)
	if err != nil {
		return fmt.Errorf("assembly: %w", err)
	}
	_, err = r.Engine.ReportFinalVideo(ctx, projectID, videoURL, r.ActorID)
	return err
}

func (r *Runner) failShot(ctx context.Context, projectID, shotID string, cause error) error {
	msg := cause.Error()
	if _, err := r.Engine.ReportShotStatus(ctx, projectID, shotID, domain.ShotFailed, 0, &msg, r.ActorID); err != nil {
		log.Printf("pipeline: record shot failure: %v", err)
	}
	return cause
}

func (r *Runner) fail(ctx context.Context, projectID string, cause error) error {
	msg := cause.Error()
	r.report(ctx, projectID, store.ProgressPatch{
		Stage:   strPtr(domain.StageFailed),
		Message: &msg,
	})
	if _, err := r.Engine.SetProjectStatus(ctx, projectID, domain.ProjectFailed, r.ActorID); err != nil {
		log.Printf("pipeline: mark project failed: %v", err)
	}
	return cause
}

func (r *Runner) report(ctx context.Context, projectID string, patch store.ProgressPatch) {
	if _, err := r.Engine.ReportProgress(ctx, projectID, patch, r.ActorID); err != nil {
		log.Printf("pipeline: report progress: %v", err)
	}
}

func strPtr(v string) *string { return &v }
func intPtr(v int) *int       { return &v }
