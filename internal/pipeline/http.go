package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPBackend talks to a generation service over its job API.
type HTTPBackend struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewHTTPBackend(baseURL, apiKey string) *HTTPBackend {
	return &HTTPBackend{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (b *HTTPBackend) StartShot(ctx context.Context, req ShotRequest) (string, error) {
	var out struct {
		JobID string `json:"job_id"`
	}
	if err := b.do(ctx, http.MethodPost, "/jobs/shots", req, &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", fmt.Errorf("backend returned no job id")
	}
	return out.JobID, nil
}

func (b *HTTPBackend) ShotStatus(ctx context.Context, jobID string) (JobStatus, error) {
	var out JobStatus
	err := b.do(ctx, http.MethodGet, "/jobs/shots/"+jobID, nil, &out)
	return out, err
}

func (b *HTTPBackend) SynthesizeVoice(ctx context.Context, req VoiceRequest) (string, error) {
	var out struct {
		AudioURL string `json:"audio_url"`
	}
	if err := b.do(ctx, http.MethodPost, "/jobs/voiceovers", req, &out); err != nil {
		return "", err
	}
	if out.AudioURL == "" {
		return "", fmt.Errorf("backend returned no audio url")
	}
	return out.AudioURL, nil
}

func (b *HTTPBackend) Assemble(ctx context.Context, req AssembleRequest) (string, error) {
	var out struct {
		VideoURL string `json:"video_url"`
	}
	if err := b.do(ctx, http.MethodPost, "/jobs/assemblies", req, &out); err != nil {
		return "", err
	}
	if out.VideoURL == "" {
		return "", fmt.Errorf("backend returned no video url")
	}
	return out.VideoURL, nil
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.APIKey)
	}
	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("backend %s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
