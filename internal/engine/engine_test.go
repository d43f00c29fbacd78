package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"spotline/internal/config"
	"spotline/internal/db"
	"spotline/internal/domain"
	"spotline/internal/engine"
	"spotline/internal/migrate"
	"spotline/internal/store"
)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("spot-1")
	eng := engine.New(conn, cfg)
	tick := 0
	eng.Now = func() time.Time {
		tick++
		return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(tick) * time.Second)
	}
	ctx := context.Background()
	if _, err := eng.InitProject(ctx, "spot-1", "Launch Spot", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func strPtr(v string) *string { return &v }
func intPtr(v int) *int       { return &v }

func TestInitProjectSeedsDefaults(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.GetProject(env.Ctx, "spot-1")
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if len(p.Shots) != 1 || p.Shots[0].Resolution != domain.Resolution1080 || p.Shots[0].Duration != 8 {
		t.Fatalf("default shot wrong: %+v", p.Shots)
	}
	if p.Brand.Name == "" {
		t.Fatalf("brand kit must come from config")
	}
	if p.Voiceover.Stability != 0.7 || p.Voiceover.SimilarityBoost != 0.8 {
		t.Fatalf("voiceover defaults wrong: %+v", p.Voiceover)
	}
	if _, err := env.Engine.InitProject(env.Ctx, "spot-1", "again", "tester"); err == nil {
		t.Fatalf("duplicate init must fail")
	}
}

func TestShotLifecyclePersists(t *testing.T) {
	env := newTestEnv(t)
	shot, err := env.Engine.AddShot(env.Ctx, "spot-1", "tester")
	if err != nil {
		t.Fatalf("add shot: %v", err)
	}
	if _, err := env.Engine.UpdateShot(env.Ctx, "spot-1", shot.ID, store.ShotPatch{
		Prompt:     strPtr("bottle rotating on black marble"),
		Resolution: strPtr(domain.Resolution720),
		Duration:   intPtr(4),
	}, "tester"); err != nil {
		t.Fatalf("update shot: %v", err)
	}

	// reload through a second engine to prove the snapshot round-trips
	eng2 := engine.New(env.Engine.DB, env.Engine.Config)
	p, err := eng2.GetProject(env.Ctx, "spot-1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(p.Shots) != 2 {
		t.Fatalf("expected 2 shots after reload, got %d", len(p.Shots))
	}
	sh := p.Shots[1]
	if sh.Prompt != "bottle rotating on black marble" || sh.Duration != 4 || sh.Resolution != domain.Resolution720 {
		t.Fatalf("shot fields lost in snapshot: %+v", sh)
	}
	for i, s := range p.Shots {
		if s.Order != i {
			t.Fatalf("orders not dense after reload")
		}
	}
}

func TestUpdateShotInvariantSurfaces(t *testing.T) {
	env := newTestEnv(t)
	p, _ := env.Engine.GetProject(env.Ctx, "spot-1")
	_, err := env.Engine.UpdateShot(env.Ctx, "spot-1", p.Shots[0].ID, store.ShotPatch{Duration: intPtr(4)}, "tester")
	var inv store.InvariantError
	if !errors.As(err, &inv) {
		t.Fatalf("expected invariant error, got %v", err)
	}
}

func TestRemoveLastShotKeepsProject(t *testing.T) {
	env := newTestEnv(t)
	p, _ := env.Engine.GetProject(env.Ctx, "spot-1")
	after, err := env.Engine.RemoveShot(env.Ctx, "spot-1", p.Shots[0].ID, "tester")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(after.Shots) != 1 {
		t.Fatalf("last shot must survive removal")
	}
}

func TestReportShotResultCompletes(t *testing.T) {
	env := newTestEnv(t)
	p, _ := env.Engine.GetProject(env.Ctx, "spot-1")
	id := p.Shots[0].ID
	if _, err := env.Engine.ReportShotStatus(env.Ctx, "spot-1", id, domain.ShotGenerating, 40, nil, "runner"); err != nil {
		t.Fatalf("report status: %v", err)
	}
	after, err := env.Engine.ReportShotResult(env.Ctx, "spot-1", id, "https://cdn/clip.mp4", strPtr("https://cdn/thumb.jpg"), "runner")
	if err != nil {
		t.Fatalf("report result: %v", err)
	}
	sh := after.Shots[0]
	if sh.Status != domain.ShotCompleted || sh.Progress != 100 || sh.VideoURL == nil {
		t.Fatalf("result must force completion: %+v", sh)
	}
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT count(*) FROM events WHERE type='shot.result'`)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	var count int
	rows.Next()
	if err := rows.Scan(&count); err != nil || count != 1 {
		t.Fatalf("expected one shot.result event, got %d (%v)", count, err)
	}
}

func TestUnknownShotLeavesNoTrace(t *testing.T) {
	env := newTestEnv(t)
	before, err := env.Engine.GetProject(env.Ctx, "spot-1")
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if _, err := env.Engine.UpdateShot(env.Ctx, "spot-1", "ghost", store.ShotPatch{Prompt: strPtr("noir alley")}, "tester"); err != nil {
		t.Fatalf("update unknown shot: %v", err)
	}
	if _, err := env.Engine.ReportShotStatus(env.Ctx, "spot-1", "ghost", domain.ShotGenerating, 50, nil, "runner"); err != nil {
		t.Fatalf("report unknown status: %v", err)
	}
	after, err := env.Engine.ReportShotResult(env.Ctx, "spot-1", "ghost", "https://cdn/late.mp4", nil, "runner")
	if err != nil {
		t.Fatalf("report unknown result: %v", err)
	}
	if after.UpdatedAt != before.UpdatedAt {
		t.Fatalf("unknown-shot operations must not bump updated_at: %s -> %s", before.UpdatedAt, after.UpdatedAt)
	}
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT count(*) FROM events WHERE type IN ('shot.updated','shot.result')`)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	var count int
	rows.Next()
	if err := rows.Scan(&count); err != nil || count != 0 {
		t.Fatalf("unknown-shot operations must not journal, got %d events (%v)", count, err)
	}
}

func TestReportProgressJournalsStageTransitions(t *testing.T) {
	env := newTestEnv(t)
	pr, err := env.Engine.ReportProgress(env.Ctx, "spot-1", store.ProgressPatch{
		Stage:      strPtr(domain.StageUploading),
		TotalShots: intPtr(1),
	}, "runner")
	if err != nil || pr.Stage != domain.StageUploading {
		t.Fatalf("report progress: %v", err)
	}
	// percentage tick within a stage must not journal
	if _, err := env.Engine.ReportProgress(env.Ctx, "spot-1", store.ProgressPatch{Stage: strPtr(domain.StageUploading)}, "runner"); err != nil {
		t.Fatalf("tick: %v", err)
	}
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT count(*) FROM events WHERE type='generation.stage'`)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	var count int
	rows.Next()
	if err := rows.Scan(&count); err != nil || count != 1 {
		t.Fatalf("expected one stage event, got %d (%v)", count, err)
	}
	p, _ := env.Engine.GetProject(env.Ctx, "spot-1")
	if p.Status != domain.ProjectDraft {
		t.Fatalf("progress must not touch the project aggregate")
	}
}

func TestVoiceoverNameResolvesCatalogID(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.UpdateVoiceover(env.Ctx, "spot-1", store.VoiceoverPatch{
		Script:    strPtr("Inevitable. Iconic. Yours."),
		VoiceName: strPtr("charlotte"),
	}, "tester")
	if err != nil {
		t.Fatalf("update voiceover: %v", err)
	}
	if p.Voiceover.VoiceID != "XB0fDUnXU5powFXDhCwa" {
		t.Fatalf("voice id not resolved from catalog: %q", p.Voiceover.VoiceID)
	}
}

func TestEstimateUsesConfiguredRates(t *testing.T) {
	env := newTestEnv(t)
	script := make([]byte, 100)
	for i := range script {
		script[i] = 'x'
	}
	if _, err := env.Engine.UpdateVoiceover(env.Ctx, "spot-1", store.VoiceoverPatch{Script: strPtr(string(script))}, "tester"); err != nil {
		t.Fatalf("set script: %v", err)
	}
	est, err := env.Engine.Estimate(env.Ctx, "spot-1")
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if est.TotalDurationSec != 8 || est.ShotCount != 1 || est.ScriptChars != 100 {
		t.Fatalf("estimate shape wrong: %+v", est)
	}
	// 0.15*8 + 100*0.00003 with the default config rates
	if diff := est.EstimatedCost - 1.203; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("estimated cost = %v, want 1.203", est.EstimatedCost)
	}
}

func TestResetProjectClearsPipeline(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.ReportProgress(env.Ctx, "spot-1", store.ProgressPatch{Stage: strPtr(domain.StageAssembling)}, "runner"); err != nil {
		t.Fatalf("progress: %v", err)
	}
	if _, err := env.Engine.ResetProject(env.Ctx, "spot-1", "tester"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	pr, _, err := env.Engine.Progress(env.Ctx, "spot-1")
	if err != nil {
		t.Fatalf("progress read: %v", err)
	}
	if pr.Stage != domain.StageIdle {
		t.Fatalf("reset must return pipeline to idle, got %s", pr.Stage)
	}
}
