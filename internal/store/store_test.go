package store

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"spotline/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewDefault("prj-1", "Test Spot", domain.BrandKit{Name: "CHANEL"})
	seq := 0
	s.NewID = func() string {
		seq++
		return fmt.Sprintf("shot-%d", seq)
	}
	tick := 0
	s.Now = func() time.Time {
		tick++
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(tick) * time.Second)
	}
	return s
}

func strPtr(v string) *string { return &v }
func intPtr(v int) *int       { return &v }

func TestDefaultShotInvariants(t *testing.T) {
	s := newTestStore(t)
	p := s.Project()
	if len(p.Shots) != 1 {
		t.Fatalf("expected 1 default shot, got %d", len(p.Shots))
	}
	sh := p.Shots[0]
	if sh.Resolution != domain.Resolution1080 || sh.Duration != 8 {
		t.Fatalf("default shot must be 1080p/8s, got %s/%d", sh.Resolution, sh.Duration)
	}
	if sh.Status != domain.ShotDraft || sh.Progress != 0 {
		t.Fatalf("default shot must be draft/0, got %s/%d", sh.Status, sh.Progress)
	}
	if sh.AspectRatio != domain.AspectLandscape {
		t.Fatalf("default aspect ratio: got %s", sh.AspectRatio)
	}
}

func TestAddShotAppendsAndSelects(t *testing.T) {
	s := newTestStore(t)
	added := s.AddShot()
	p := s.Project()
	if len(p.Shots) != 2 {
		t.Fatalf("expected 2 shots, got %d", len(p.Shots))
	}
	if p.Shots[1].ID != added.ID || p.Shots[1].Order != 1 {
		t.Fatalf("new shot must be appended with order 1, got order %d", p.Shots[1].Order)
	}
	sel, ok := s.SelectedShot()
	if !ok || sel.ID != added.ID {
		t.Fatalf("new shot must be selected")
	}
}

func TestRemoveLastShotRefused(t *testing.T) {
	s := newTestStore(t)
	p := s.Project()
	before := p.UpdatedAt
	if s.RemoveShot(p.Shots[0].ID) {
		t.Fatalf("removing the only shot must be refused")
	}
	after := s.Project()
	if len(after.Shots) != 1 {
		t.Fatalf("shot count changed on refused removal")
	}
	if after.UpdatedAt != before {
		t.Fatalf("refused removal must not bump updated_at")
	}
}

func TestRemoveShotReindexesAndMovesSelection(t *testing.T) {
	s := newTestStore(t)
	s.AddShot()
	s.AddShot()
	p := s.Project()
	// select the middle shot, then remove it
	mid := p.Shots[1].ID
	s.SelectShot(&mid)
	if !s.RemoveShot(mid) {
		t.Fatalf("remove failed")
	}
	after := s.Project()
	if len(after.Shots) != 2 {
		t.Fatalf("expected 2 shots, got %d", len(after.Shots))
	}
	for i, sh := range after.Shots {
		if sh.Order != i {
			t.Fatalf("orders must be dense 0..N-1, shot %d has order %d", i, sh.Order)
		}
	}
	sel, ok := s.SelectedShot()
	if !ok || sel.ID != after.Shots[0].ID {
		t.Fatalf("selection must move to the first shot")
	}
}

func TestRemoveUnknownShotIsNoOp(t *testing.T) {
	s := newTestStore(t)
	s.AddShot()
	before := s.Project()
	if s.RemoveShot("nope") {
		t.Fatalf("unknown id must be a no-op")
	}
	after := s.Project()
	if after.UpdatedAt != before.UpdatedAt || len(after.Shots) != len(before.Shots) {
		t.Fatalf("no-op removal must leave the aggregate untouched")
	}
}

func TestUpdateShotResolutionClampsDuration(t *testing.T) {
	s := newTestStore(t)
	id := s.Project().Shots[0].ID
	if err := s.UpdateShot(id, ShotPatch{Resolution: strPtr(domain.Resolution720), Duration: intPtr(4)}); err != nil {
		t.Fatalf("720p/4s: %v", err)
	}
	// switching back to 1080p alone must clamp the duration
	if err := s.UpdateShot(id, ShotPatch{Resolution: strPtr(domain.Resolution1080)}); err != nil {
		t.Fatalf("1080p: %v", err)
	}
	sh := s.Project().Shots[0]
	if sh.Duration != 8 {
		t.Fatalf("1080p must clamp duration to 8, got %d", sh.Duration)
	}
}

func TestUpdateShotRejectsConflictingDuration(t *testing.T) {
	s := newTestStore(t)
	id := s.Project().Shots[0].ID
	err := s.UpdateShot(id, ShotPatch{Duration: intPtr(4)})
	var inv InvariantError
	if !errors.As(err, &inv) || inv.Field != "duration" {
		t.Fatalf("expected duration invariant error, got %v", err)
	}
	err = s.UpdateShot(id, ShotPatch{Duration: intPtr(5)})
	if !errors.As(err, &inv) {
		t.Fatalf("expected invariant error for off-menu duration, got %v", err)
	}
}

func TestUpdateUnknownShotIsSilent(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpdateShot("nope", ShotPatch{Prompt: strPtr("x")}); err != nil {
		t.Fatalf("unknown id must not error: %v", err)
	}
}

func TestUpdateShotEmptyPatchBumpsOnlyUpdatedAt(t *testing.T) {
	s := newTestStore(t)
	before := s.Project()
	if err := s.UpdateShot(before.Shots[0].ID, ShotPatch{}); err != nil {
		t.Fatalf("empty patch: %v", err)
	}
	after := s.Project()
	if after.UpdatedAt == before.UpdatedAt {
		t.Fatalf("empty patch on a known shot must bump updated_at")
	}
	if after.Shots[0].Prompt != before.Shots[0].Prompt || after.Shots[0].Duration != before.Shots[0].Duration {
		t.Fatalf("empty patch must not change shot fields")
	}
}

func TestReorderShots(t *testing.T) {
	s := newTestStore(t)
	s.AddShot()
	s.AddShot()
	ids := func() []string {
		p := s.Project()
		out := make([]string, len(p.Shots))
		for i, sh := range p.Shots {
			out[i] = sh.ID
		}
		return out
	}
	before := ids()
	s.ReorderShots(0, 2)
	after := ids()
	want := []string{before[1], before[2], before[0]}
	for i := range want {
		if after[i] != want[i] {
			t.Fatalf("reorder: position %d = %s, want %s", i, after[i], want[i])
		}
	}
	for i, sh := range s.Project().Shots {
		if sh.Order != i {
			t.Fatalf("orders must be dense after reorder")
		}
	}
	// out-of-range indexes are clamped, not rejected
	s.ReorderShots(-5, 99)
	got := ids()
	want = []string{after[1], after[2], after[0]}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("clamped reorder: position %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDuplicateShotResetsGenerationState(t *testing.T) {
	s := newTestStore(t)
	id := s.Project().Shots[0].ID
	if err := s.UpdateShot(id, ShotPatch{Prompt: strPtr("perfume bottle on silk")}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.AddShotImage(id, "https://cdn/ref-1.png"); err != nil {
		t.Fatalf("add image: %v", err)
	}
	s.SetShotVideoURL(id, "https://cdn/shot.mp4", nil)

	dup, ok := s.DuplicateShot(id)
	if !ok {
		t.Fatalf("duplicate failed")
	}
	if dup.ID == id {
		t.Fatalf("duplicate must have a fresh id")
	}
	if dup.Prompt != "perfume bottle on silk" || len(dup.ReferenceImages) != 1 {
		t.Fatalf("duplicate must carry creative fields")
	}
	if dup.Status != domain.ShotDraft || dup.Progress != 0 || dup.VideoURL != nil || dup.Error != nil {
		t.Fatalf("duplicate must reset generation state, got %s/%d", dup.Status, dup.Progress)
	}
	if dup.Order != 1 {
		t.Fatalf("duplicate must take the next order value, got %d", dup.Order)
	}
}

func TestReferenceImageCap(t *testing.T) {
	s := newTestStore(t)
	id := s.Project().Shots[0].ID
	for i := 0; i < domain.MaxReferenceImages; i++ {
		if err := s.AddShotImage(id, fmt.Sprintf("https://cdn/ref-%d.png", i)); err != nil {
			t.Fatalf("image %d: %v", i, err)
		}
	}
	err := s.AddShotImage(id, "https://cdn/one-too-many.png")
	var inv InvariantError
	if !errors.As(err, &inv) || inv.Field != "reference_images" {
		t.Fatalf("expected reference image cap error, got %v", err)
	}
	s.RemoveShotImage(id, "https://cdn/ref-1.png")
	if got := len(s.Project().Shots[0].ReferenceImages); got != 2 {
		t.Fatalf("expected 2 images after removal, got %d", got)
	}
}

func TestSetShotVideoURLForcesCompletion(t *testing.T) {
	s := newTestStore(t)
	id := s.Project().Shots[0].ID
	s.SetShotStatus(id, domain.ShotFailed, 40, strPtr("timeout"))
	s.SetShotVideoURL(id, "https://cdn/final.mp4", strPtr("https://cdn/thumb.jpg"))
	sh := s.Project().Shots[0]
	if sh.Status != domain.ShotCompleted || sh.Progress != 100 {
		t.Fatalf("result url must force completed/100, got %s/%d", sh.Status, sh.Progress)
	}
	if sh.Error != nil {
		t.Fatalf("completion must clear the previous error")
	}
	if sh.VideoURL == nil || *sh.VideoURL != "https://cdn/final.mp4" {
		t.Fatalf("video url not recorded")
	}
}

func TestVoiceoverSettingsValidated(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateVoiceover(VoiceoverPatch{Stability: func() *float64 { v := 1.5; return &v }()})
	var inv InvariantError
	if !errors.As(err, &inv) {
		t.Fatalf("expected invariant error for out-of-range stability, got %v", err)
	}
	if err := s.UpdateVoiceover(VoiceoverPatch{Script: strPtr("Inevitable. Iconic.")}); err != nil {
		t.Fatalf("update voiceover: %v", err)
	}
	if got := s.Project().Voiceover.Script; got != "Inevitable. Iconic." {
		t.Fatalf("script not applied: %q", got)
	}
	s.SetVoiceoverAudioURL("https://cdn/vo.mp3")
	vo := s.Project().Voiceover
	if vo.Status != domain.ShotCompleted || vo.Progress != 100 || vo.AudioURL == nil {
		t.Fatalf("audio url must force completed/100")
	}
}

func TestGenerationProgressDoesNotTouchProject(t *testing.T) {
	s := newTestStore(t)
	before := s.Project().UpdatedAt
	s.SetGenerationProgress(ProgressPatch{
		Stage:        strPtr(domain.StageGeneratingShots),
		CurrentShot:  intPtr(1),
		TotalShots:   intPtr(2),
		ShotProgress: intPtr(30),
	})
	if s.Project().UpdatedAt != before {
		t.Fatalf("progress reporting must not bump project updated_at")
	}
	pr := s.Progress()
	if pr.Stage != domain.StageGeneratingShots || pr.CurrentShot == nil || *pr.CurrentShot != 1 {
		t.Fatalf("progress not recorded: %+v", pr)
	}
	// partial patch keeps earlier fields
	s.SetGenerationProgress(ProgressPatch{ShotProgress: intPtr(80)})
	pr = s.Progress()
	if pr.TotalShots == nil || *pr.TotalShots != 2 || *pr.ShotProgress != 80 {
		t.Fatalf("partial progress patch must merge: %+v", pr)
	}
}

func TestResetProject(t *testing.T) {
	s := newTestStore(t)
	s.AddShot()
	id := s.Project().Shots[0].ID
	s.SetShotVideoURL(id, "https://cdn/a.mp4", nil)
	s.SetFinalVideoURL("https://cdn/final.mp4")
	s.SetGenerationProgress(ProgressPatch{Stage: strPtr(domain.StageCompleted)})

	s.ResetProject()

	p := s.Project()
	if len(p.Shots) != 1 || p.Shots[0].Status != domain.ShotDraft {
		t.Fatalf("reset must leave one draft shot")
	}
	if p.Status != domain.ProjectDraft || p.FinalVideoURL != nil {
		t.Fatalf("reset must clear project results")
	}
	if p.Brand.Name != "CHANEL" {
		t.Fatalf("reset must keep the brand kit")
	}
	if _, ok := s.SelectedShot(); ok {
		t.Fatalf("reset must clear the selection")
	}
	if s.Progress().Stage != domain.StageIdle {
		t.Fatalf("reset must return the pipeline to idle")
	}
}

func TestProjectReturnsDeepCopy(t *testing.T) {
	s := newTestStore(t)
	id := s.Project().Shots[0].ID
	if err := s.AddShotImage(id, "https://cdn/ref.png"); err != nil {
		t.Fatalf("add image: %v", err)
	}
	p := s.Project()
	p.Shots[0].ReferenceImages[0] = "mutated"
	p.Shots[0].Prompt = "mutated"
	fresh := s.Project()
	if fresh.Shots[0].ReferenceImages[0] != "https://cdn/ref.png" || fresh.Shots[0].Prompt == "mutated" {
		t.Fatalf("Project() must return a deep copy")
	}
}
