package spotlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Spotline HTTP API client. It is aimed at pipeline
// orchestrators that push generation deltas back into a project.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Shot represents the API shot model (partial).
type Shot struct {
	ID         string  `json:"id"`
	Order      int     `json:"order"`
	Prompt     string  `json:"prompt"`
	Duration   int     `json:"duration"`
	Resolution string  `json:"resolution"`
	Status     string  `json:"status"`
	Progress   int     `json:"progress"`
	VideoURL   *string `json:"video_url,omitempty"`
}

// Project represents the API project model (partial).
type Project struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Status        string  `json:"status"`
	Shots         []Shot  `json:"shots"`
	FinalVideoURL *string `json:"final_video_url,omitempty"`
	UpdatedAt     string  `json:"updated_at"`
}

// GenerationProgress is the pipeline status block.
type GenerationProgress struct {
	Stage        string `json:"stage"`
	CurrentShot  *int   `json:"current_shot,omitempty"`
	TotalShots   *int   `json:"total_shots,omitempty"`
	ShotProgress *int   `json:"shot_progress,omitempty"`
	Message      string `json:"message,omitempty"`
}

// StageReport is one weighted row of the progress breakdown.
type StageReport struct {
	Stage   string `json:"stage"`
	Weight  int    `json:"weight"`
	Status  string `json:"status"`
	Percent int    `json:"percent"`
}

// Progress is the aggregated progress response.
type Progress struct {
	Progress GenerationProgress `json:"progress"`
	Overall  int                `json:"overall"`
	Stages   []StageReport      `json:"stages"`
}

// Event represents a journal entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Project fetches the project aggregate.
func (c *Client) Project(ctx context.Context) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, c.projectPath(""), nil, &resp)
	return resp, err
}

// ReportShotStatus pushes a shot status delta.
func (c *Client) ReportShotStatus(ctx context.Context, shotID, status string, progress int, errMsg string) (Project, error) {
	body := map[string]any{
		"status":   status,
		"progress": progress,
	}
	if errMsg != "" {
		body["error"] = errMsg
	}
	var resp Project
	endpoint := c.projectPath(fmt.Sprintf("reports/shots/%s/status", url.PathEscape(shotID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ReportShotResult records a generated clip. The core marks the shot
// completed regardless of its prior status.
func (c *Client) ReportShotResult(ctx context.Context, shotID, videoURL, thumbnailURL string) (Project, error) {
	body := map[string]any{"video_url": videoURL}
	if thumbnailURL != "" {
		body["thumbnail_url"] = thumbnailURL
	}
	var resp Project
	endpoint := c.projectPath(fmt.Sprintf("reports/shots/%s/result", url.PathEscape(shotID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ReportVoiceoverStatus pushes a voiceover synthesis delta.
func (c *Client) ReportVoiceoverStatus(ctx context.Context, status string, progress int, errMsg string) (Project, error) {
	body := map[string]any{
		"status":   status,
		"progress": progress,
	}
	if errMsg != "" {
		body["error"] = errMsg
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, c.projectPath("reports/voiceover/status"), body, &resp)
	return resp, err
}

// ReportVoiceoverResult records the synthesized narration.
func (c *Client) ReportVoiceoverResult(ctx context.Context, audioURL string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, c.projectPath("reports/voiceover/result"), map[string]any{"audio_url": audioURL}, &resp)
	return resp, err
}

// ReportFinalVideo records the assembled spot.
func (c *Client) ReportFinalVideo(ctx context.Context, videoURL string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, c.projectPath("reports/final-video"), map[string]any{"video_url": videoURL}, &resp)
	return resp, err
}

// ReportProgress pushes a pipeline status delta and returns the aggregate.
func (c *Client) ReportProgress(ctx context.Context, delta GenerationProgress) (Progress, error) {
	body := map[string]any{}
	if delta.Stage != "" {
		body["stage"] = delta.Stage
	}
	if delta.CurrentShot != nil {
		body["current_shot"] = *delta.CurrentShot
	}
	if delta.TotalShots != nil {
		body["total_shots"] = *delta.TotalShots
	}
	if delta.ShotProgress != nil {
		body["shot_progress"] = *delta.ShotProgress
	}
	if delta.Message != "" {
		body["message"] = delta.Message
	}
	var resp Progress
	err := c.do(ctx, http.MethodPost, c.projectPath("reports/progress"), body, &resp)
	return resp, err
}

// Progress fetches the current aggregated progress.
func (c *Client) GetProgress(ctx context.Context) (Progress, error) {
	var resp Progress
	err := c.do(ctx, http.MethodGet, c.projectPath("progress"), nil, &resp)
	return resp, err
}

// Generate starts a generation run on the server.
func (c *Client) Generate(ctx context.Context) (Progress, error) {
	var resp Progress
	err := c.do(ctx, http.MethodPost, c.projectPath("generate"), nil, &resp)
	return resp, err
}

// Events returns recent journal entries, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.projectPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	if p == "" {
		return fmt.Sprintf("v0/projects/%s", project)
	}
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
