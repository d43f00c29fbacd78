// Package server exposes the project API over HTTP: aggregate editing,
// generation control, orchestrator report endpoints, and a websocket
// progress stream.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"spotline/internal/config"
	"spotline/internal/domain"
	"spotline/internal/engine"
	"spotline/internal/pipeline"
	"spotline/internal/repo"
	"spotline/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	Backend  pipeline.Backend
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"validation_failed"`
	Message string         `json:"message" example:"1080p supports only the 8 second duration"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type server struct {
	engine  *engine.Engine
	backend pipeline.Backend

	mu      sync.Mutex
	running map[string]bool
}

// New returns an HTTP handler exposing the Spotline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	s := &server{engine: cfg.Engine, backend: cfg.Backend, running: map[string]bool{}}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Spotline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	s.registerProjects(group)
	s.registerShots(group)
	s.registerVoiceover(group)
	s.registerGeneration(group)
	s.registerReports(group)
	s.registerEvents(group)
	s.registerStream(router, basePath)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var inv store.InvariantError
	if errors.As(err, &inv) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), map[string]any{"field": inv.Field})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "already exists"),
		strings.Contains(lowered, "already running"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func bodyBytes(ctx context.Context) []byte {
	if b, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return b
	}
	return nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join(basePath, "openapi.json")
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
  <title>Spotline API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({url: %q, dom_id: '#swagger-ui'});
  </script>
</body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type ProjectPath struct {
	ProjectID string `path:"project_id"`
}

type ShotPath struct {
	ProjectID string `path:"project_id"`
	ShotID    string `path:"shot_id"`
}

type projectBody struct {
	Body domain.Project `json:"body"`
}

func (s *server) registerProjects(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*projectBody, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := s.engine.InitProject(ctx, input.Body.ID, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		items, err := s.engine.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ProjectPath) (*projectBody, error) {
		p, err := s.engine.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rename-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Rename project",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body RenameProjectRequest `json:"body"`
	}) (*projectBody, error) {
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := s.engine.RenameProject(ctx, input.ProjectID, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-project",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}",
		Summary:     "Delete project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ProjectPath) (*struct{}, error) {
		if err := s.engine.DeleteProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/reset",
		Summary:     "Reset project to a fresh draft",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ProjectPath) (*projectBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := s.engine.ResetProject(ctx, input.ProjectID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-brand",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/brand",
		Summary:     "Update brand kit",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body UpdateBrandRequest `json:"body"`
	}) (*projectBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		patch := store.BrandPatch{
			Name:           input.Body.Name,
			Tagline:        input.Body.Tagline,
			PrimaryColor:   input.Body.PrimaryColor,
			SecondaryColor: input.Body.SecondaryColor,
		}
		if input.Body.ClearLogo {
			patch.LogoURLSet = true
		} else if input.Body.LogoURL != nil {
			patch.LogoURL = input.Body.LogoURL
			patch.LogoURLSet = true
		}
		p, err := s.engine.UpdateBrand(ctx, input.ProjectID, patch, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "estimate-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/estimate",
		Summary:     "Estimate duration and cost",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ProjectPath) (*struct {
		Body engine.Estimate `json:"body"`
	}, error) {
		est, err := s.engine.Estimate(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Estimate `json:"body"`
		}{Body: est}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-voices",
		Method:      http.MethodGet,
		Path:        "/voices",
		Summary:     "List the narration voice catalog",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body VoicesResponse `json:"body"`
	}, error) {
		var voices []domain.Voice
		if s.engine.Config != nil {
			for _, v := range s.engine.Config.Voices {
				voices = append(voices, domain.Voice{ID: v.ID, Name: v.Name, Description: v.Description})
			}
		}
		return &struct {
			Body VoicesResponse `json:"body"`
		}{Body: VoicesResponse{Voices: voices}}, nil
	})
}

func (s *server) registerShots(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-shot",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/shots",
		Summary:       "Add a shot",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ProjectPath) (*struct {
		Body domain.Shot `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		shot, err := s.engine.AddShot(ctx, input.ProjectID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Shot `json:"body"`
		}{Body: shot}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-shot",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/shots/{shot_id}",
		Summary:     "Update shot fields",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ShotPath
		Body UpdateShotRequest `json:"body"`
	}) (*projectBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := s.engine.UpdateShot(ctx, input.ProjectID, input.ShotID, store.ShotPatch{
			Prompt:         input.Body.Prompt,
			NegativePrompt: input.Body.NegativePrompt,
			Duration:       input.Body.Duration,
			Resolution:     input.Body.Resolution,
			AspectRatio:    input.Body.AspectRatio,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-shot",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/shots/{shot_id}",
		Summary:     "Remove a shot",
		Description: "Removing the last remaining shot is a no-op; the project keeps at least one shot.",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ShotPath) (*projectBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := s.engine.RemoveShot(ctx, input.ProjectID, input.ShotID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "duplicate-shot",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/shots/{shot_id}/duplicate",
		Summary:       "Duplicate a shot",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ShotPath) (*struct {
		Body domain.Shot `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		dup, err := s.engine.DuplicateShot(ctx, input.ProjectID, input.ShotID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Shot `json:"body"`
		}{Body: dup}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reorder-shots",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/shots/reorder",
		Summary:     "Move a shot between timeline positions",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body ReorderShotsRequest `json:"body"`
	}) (*projectBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := s.engine.ReorderShots(ctx, input.ProjectID, input.Body.FromIndex, input.Body.ToIndex, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "select-shot",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/selection",
		Summary:     "Select a shot for editing",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body SelectShotRequest `json:"body"`
	}) (*struct{}, error) {
		if err := s.engine.SelectShot(ctx, input.ProjectID, input.Body.ShotID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-shot-image",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/shots/{shot_id}/images",
		Summary:       "Add a reference image",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ShotPath
		Body ShotImageRequest `json:"body"`
	}) (*projectBody, error) {
		if input.Body.ImageURL == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "image_url is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := s.engine.AddShotImage(ctx, input.ProjectID, input.ShotID, input.Body.ImageURL, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-shot-image",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/shots/{shot_id}/images",
		Summary:     "Remove a reference image",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ShotPath
		Body ShotImageRequest `json:"body"`
	}) (*projectBody, error) {
		if input.Body.ImageURL == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "image_url is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := s.engine.RemoveShotImage(ctx, input.ProjectID, input.ShotID, input.Body.ImageURL, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-shot-frame",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/shots/{shot_id}/frames",
		Summary:     "Set or clear a boundary frame image",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ShotPath
		Body ShotFrameRequest `json:"body"`
	}) (*projectBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		first := input.Body.Position != "last"
		p, err := s.engine.SetShotFrame(ctx, input.ProjectID, input.ShotID, input.Body.ImageURL, first, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: p}, nil
	})
}

func (s *server) registerVoiceover(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "update-voiceover",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/voiceover",
		Summary:     "Update voiceover script and settings",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body UpdateVoiceoverRequest `json:"body"`
	}) (*projectBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := s.engine.UpdateVoiceover(ctx, input.ProjectID, store.VoiceoverPatch{
			Script:          input.Body.Script,
			VoiceID:         input.Body.VoiceID,
			VoiceName:       input.Body.VoiceName,
			Stability:       input.Body.Stability,
			SimilarityBoost: input.Body.SimilarityBoost,
			Style:           input.Body.Style,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: p}, nil
	})
}

func (s *server) registerGeneration(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-generation",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/generate",
		Summary:       "Start a generation run",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *ProjectPath) (*struct {
		Body ProgressResponse `json:"body"`
	}, error) {
		if s.backend == nil {
			return nil, newAPIError(http.StatusUnprocessableEntity, "validation_failed", "no generation backend configured", nil)
		}
		if _, err := s.engine.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		if err := s.startRun(input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		p, r, err := s.engine.Progress(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProgressResponse `json:"body"`
		}{Body: progressResponse(p, r)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-progress",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/progress",
		Summary:     "Pipeline progress",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ProjectPath) (*struct {
		Body ProgressResponse `json:"body"`
	}, error) {
		p, r, err := s.engine.Progress(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProgressResponse `json:"body"`
		}{Body: progressResponse(p, r)}, nil
	})
}

// startRun launches the pipeline runner for a project, refusing overlap.
func (s *server) startRun(projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[projectID] {
		return fmt.Errorf("generation already running for %s", projectID)
	}
	var pcfg config.Pipeline
	if s.engine.Config != nil {
		pcfg = s.engine.Config.Pipeline
	}
	if cfg, err := s.engine.Repo.GetProjectConfig(context.Background(), projectID); err == nil {
		pcfg = cfg.Pipeline
	}
	runner := pipeline.NewRunner(s.engine, s.backend, pcfg)
	s.running[projectID] = true
	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.running, projectID)
			s.mu.Unlock()
		}()
		// Detached from the request context: the run outlives the
		// HTTP call that started it.
		_ = runner.Run(context.Background(), projectID)
	}()
	return nil
}

// registerReports wires the endpoints an external orchestrator pushes
// generation deltas through.
func (s *server) registerReports(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "report-shot-status",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/reports/shots/{shot_id}/status",
		Summary:     "Report shot generation status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ShotPath
		Body ShotStatusReport `json:"body"`
	}) (*projectBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := s.engine.ReportShotStatus(ctx, input.ProjectID, input.ShotID, input.Body.Status, input.Body.Progress, input.Body.Error, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-shot-result",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/reports/shots/{shot_id}/result",
		Summary:     "Report a generated clip",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ShotPath
		Body ShotResultReport `json:"body"`
	}) (*projectBody, error) {
		if input.Body.VideoURL == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "video_url is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := s.engine.ReportShotResult(ctx, input.ProjectID, input.ShotID, input.Body.VideoURL, input.Body.ThumbnailURL, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-voiceover-status",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/reports/voiceover/status",
		Summary:     "Report voiceover synthesis status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body VoiceoverStatusReport `json:"body"`
	}) (*projectBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := s.engine.ReportVoiceoverStatus(ctx, input.ProjectID, input.Body.Status, input.Body.Progress, input.Body.Error, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-voiceover-result",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/reports/voiceover/result",
		Summary:     "Report synthesized narration",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body VoiceoverResultReport `json:"body"`
	}) (*projectBody, error) {
		if input.Body.AudioURL == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "audio_url is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := s.engine.ReportVoiceoverResult(ctx, input.ProjectID, input.Body.AudioURL, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-final-video",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/reports/final-video",
		Summary:     "Report the assembled spot",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body FinalVideoReport `json:"body"`
	}) (*projectBody, error) {
		if input.Body.VideoURL == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "video_url is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := s.engine.ReportFinalVideo(ctx, input.ProjectID, input.Body.VideoURL, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-progress",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/reports/progress",
		Summary:     "Report a pipeline status delta",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body ProgressReport `json:"body"`
	}) (*struct {
		Body ProgressResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		_, err := s.engine.ReportProgress(ctx, input.ProjectID, store.ProgressPatch{
			Stage:        input.Body.Stage,
			CurrentShot:  input.Body.CurrentShot,
			TotalShots:   input.Body.TotalShots,
			ShotProgress: input.Body.ShotProgress,
			Message:      input.Body.Message,
			ETASeconds:   input.Body.ETASeconds,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		p, r, err := s.engine.Progress(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProgressResponse `json:"body"`
		}{Body: progressResponse(p, r)}, nil
	})
}

func (s *server) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "Project event journal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
		Cursor int64  `query:"cursor" minimum:"0"`
		Type   string `query:"type"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := s.engine.Repo.LatestEventsFrom(ctx, input.Limit, input.Cursor, input.ProjectID, input.Type, "", "")
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}
