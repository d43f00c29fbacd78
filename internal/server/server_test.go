package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"spotline/internal/config"
	"spotline/internal/db"
	"spotline/internal/domain"
	"spotline/internal/engine"
	"spotline/internal/migrate"
	"spotline/internal/pipeline"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

type fakeBackend struct {
	mu    sync.Mutex
	polls map[string]int
}

func (b *fakeBackend) StartShot(_ context.Context, req pipeline.ShotRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.polls == nil {
		b.polls = map[string]int{}
	}
	jobID := "job-" + req.ShotID
	b.polls[jobID] = 0
	return jobID, nil
}

func (b *fakeBackend) ShotStatus(_ context.Context, jobID string) (pipeline.JobStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.polls[jobID]++
	if b.polls[jobID] < 2 {
		return pipeline.JobStatus{State: pipeline.JobProcessing, Progress: 50}, nil
	}
	url := "https://cdn.example.com/" + jobID + ".mp4"
	return pipeline.JobStatus{State: pipeline.JobCompleted, Progress: 100, VideoURL: &url}, nil
}

func (b *fakeBackend) SynthesizeVoice(_ context.Context, req pipeline.VoiceRequest) (string, error) {
	return "https://cdn.example.com/" + req.ProjectID + "-vo.mp3", nil
}

func (b *fakeBackend) Assemble(_ context.Context, req pipeline.AssembleRequest) (string, error) {
	return "https://cdn.example.com/" + req.ProjectID + "-final.mp4", nil
}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("spot-1")
	cfg.Pipeline.PollIntervalMS = 5
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.InitProject(context.Background(), cfg.Project.ID, "Launch Spot", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		Backend:  &fakeBackend{},
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "tester")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestShotLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/projects/spot-1"

	res, data := doJSON(t, client, http.MethodPost, base+"/shots", nil, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add shot status %d: %s", res.StatusCode, string(data))
	}
	var added domain.Shot
	if err := json.Unmarshal(data, &added); err != nil {
		t.Fatalf("unmarshal shot: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPatch, base+"/shots/"+added.ID, map[string]any{
		"prompt":     "gold bottle on black silk",
		"resolution": "1080p",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update shot status %d: %s", res.StatusCode, string(data))
	}
	var project domain.Project
	if err := json.Unmarshal(data, &project); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	if len(project.Shots) != 2 {
		t.Fatalf("expected 2 shots, got %d", len(project.Shots))
	}
	if project.Shots[1].Duration != 8 {
		t.Fatalf("1080p shot duration = %d, want 8", project.Shots[1].Duration)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/shots/reorder", map[string]any{
		"from_index": 1, "to_index": 0,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reorder status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &project); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	if project.Shots[0].ID != added.ID {
		t.Fatalf("expected %s at position 0, got %s", added.ID, project.Shots[0].ID)
	}

	res, data = doJSON(t, client, http.MethodDelete, base+"/shots/"+added.ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("remove shot status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &project); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	if len(project.Shots) != 1 {
		t.Fatalf("expected 1 shot after remove, got %d", len(project.Shots))
	}

	// Last shot never goes away.
	res, data = doJSON(t, client, http.MethodDelete, base+"/shots/"+project.Shots[0].ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("remove last shot status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &project); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	if len(project.Shots) != 1 {
		t.Fatalf("last shot was removed")
	}
}

func TestConflictingDurationRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/projects/spot-1"

	res, data := doJSON(t, client, http.MethodGet, base, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get project status %d: %s", res.StatusCode, string(data))
	}
	var project domain.Project
	if err := json.Unmarshal(data, &project); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	shotID := project.Shots[0].ID

	res, data = doJSON(t, client, http.MethodPatch, base+"/shots/"+shotID, map[string]any{
		"resolution": "1080p",
		"duration":   4,
	}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("conflicting update status %d, want 422: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "validation_failed" {
		t.Fatalf("error code = %q, want validation_failed", envelope.Error.Code)
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v0/projects/spot-1", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", res.StatusCode)
	}
}

func TestProgressReportAggregation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/projects/spot-1"

	res, data := doJSON(t, client, http.MethodPost, base+"/reports/progress", map[string]any{
		"stage":         domain.StageGeneratingShots,
		"current_shot":  2,
		"total_shots":   4,
		"shot_progress": 50,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("report progress status %d: %s", res.StatusCode, string(data))
	}
	var pr ProgressResponse
	if err := json.Unmarshal(data, &pr); err != nil {
		t.Fatalf("unmarshal progress: %v", err)
	}
	if pr.Overall != 31 {
		t.Fatalf("overall = %d, want 31", pr.Overall)
	}
	if len(pr.Stages) != 4 {
		t.Fatalf("expected 4 stage rows, got %d", len(pr.Stages))
	}
}

func TestGenerateRunsPipeline(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/projects/spot-1"

	res, data := doJSON(t, client, http.MethodPost, base+"/generate", nil, nil)
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("generate status %d: %s", res.StatusCode, string(data))
	}

	deadline := time.Now().Add(10 * time.Second)
	var pr ProgressResponse
	for {
		if time.Now().After(deadline) {
			t.Fatalf("pipeline did not finish, last stage %q", pr.Progress.Stage)
		}
		res, data = doJSON(t, client, http.MethodGet, base+"/progress", nil, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("progress status %d: %s", res.StatusCode, string(data))
		}
		if err := json.Unmarshal(data, &pr); err != nil {
			t.Fatalf("unmarshal progress: %v", err)
		}
		if pr.Progress.Stage == domain.StageCompleted || pr.Progress.Stage == domain.StageFailed {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if pr.Progress.Stage != domain.StageCompleted {
		t.Fatalf("stage = %q, want completed", pr.Progress.Stage)
	}
	if pr.Overall != 100 {
		t.Fatalf("overall = %d, want 100", pr.Overall)
	}

	res, data = doJSON(t, client, http.MethodGet, base, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get project status %d: %s", res.StatusCode, string(data))
	}
	var project domain.Project
	if err := json.Unmarshal(data, &project); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	if project.FinalVideoURL == nil || !strings.HasSuffix(*project.FinalVideoURL, "-final.mp4") {
		t.Fatalf("final video url not set: %+v", project.FinalVideoURL)
	}
	for i, shot := range project.Shots {
		if shot.Status != domain.ShotCompleted || shot.Progress != 100 {
			t.Fatalf("shot %d not completed: status=%s progress=%d", i, shot.Status, shot.Progress)
		}
	}
}

func TestProgressWebsocketStream(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	base := srv.URL + "/v0/projects/spot-1"

	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/progress/ws"
	header := http.Header{}
	header.Set("X-Actor-Id", "tester")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var pr ProgressResponse
	if err := conn.ReadJSON(&pr); err != nil {
		t.Fatalf("read first frame: %v", err)
	}
	if pr.Progress.Stage != domain.StageIdle {
		t.Fatalf("first frame stage = %q, want idle", pr.Progress.Stage)
	}
	if pr.Overall != 0 {
		t.Fatalf("first frame overall = %d, want 0", pr.Overall)
	}
}

func TestEstimateEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/projects/spot-1"

	res, data := doJSON(t, client, http.MethodPatch, base+"/voiceover", map[string]any{
		"script": strings.Repeat("x", 100),
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update voiceover status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/estimate", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("estimate status %d: %s", res.StatusCode, string(data))
	}
	var est engine.Estimate
	if err := json.Unmarshal(data, &est); err != nil {
		t.Fatalf("unmarshal estimate: %v", err)
	}
	if est.ScriptChars != 100 {
		t.Fatalf("script chars = %d, want 100", est.ScriptChars)
	}
	want := float64(est.TotalDurationSec)*0.15 + 100*0.00003
	if diff := est.EstimatedCost - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("estimated cost = %v, want %v", est.EstimatedCost, want)
	}
}

func TestVoiceCatalog(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/voices", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("voices status %d: %s", res.StatusCode, string(data))
	}
	var vr VoicesResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		t.Fatalf("unmarshal voices: %v", err)
	}
	if len(vr.Voices) != 4 {
		t.Fatalf("expected 4 voices, got %d", len(vr.Voices))
	}
	found := false
	for _, v := range vr.Voices {
		if v.Name == "charlotte" && v.ID == "XB0fDUnXU5powFXDhCwa" {
			found = true
		}
	}
	if !found {
		t.Fatalf("charlotte missing from catalog: %s", fmt.Sprint(vr.Voices))
	}
}
