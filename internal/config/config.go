package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"spotline/internal/domain"
)

// Config models spotline.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"project"`
	Brand struct {
		Name           string `yaml:"name"`
		Tagline        string `yaml:"tagline"`
		PrimaryColor   string `yaml:"primary_color"`
		SecondaryColor string `yaml:"secondary_color"`
		LogoURL        string `yaml:"logo_url"`
	} `yaml:"brand"`
	Voices []Voice `yaml:"voices"`
	Rates  struct {
		VideoPerSecond map[string]float64 `yaml:"video_per_second"`
		VoicePerChar   float64            `yaml:"voice_per_char"`
	} `yaml:"rates"`
	Pipeline Pipeline `yaml:"pipeline"`
}

// Voice is one entry of the narration voice catalog.
type Voice struct {
	Name        string `yaml:"name"`
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
}

// Pipeline holds the orchestrator tunables.
type Pipeline struct {
	BackendURL     string `yaml:"backend_url"`
	APIKeyEnv      string `yaml:"api_key_env"`
	MaxWorkers     int    `yaml:"max_workers"`
	ShotTimeoutSec int    `yaml:"shot_timeout_sec"`
	PollIntervalMS int    `yaml:"poll_interval_ms"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create with sl project init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if len(c.Voices) == 0 {
		return fmt.Errorf("config.voices must list at least one voice")
	}
	seen := map[string]bool{}
	for i, v := range c.Voices {
		if v.Name == "" || v.ID == "" {
			return fmt.Errorf("voice %d is missing name or id", i)
		}
		if seen[v.Name] {
			return fmt.Errorf("duplicate voice name %s", v.Name)
		}
		seen[v.Name] = true
	}
	for res := range c.Rates.VideoPerSecond {
		if !domain.ValidResolution(res) {
			return fmt.Errorf("rates.video_per_second has unknown resolution %s", res)
		}
	}
	for _, res := range []string{domain.Resolution720, domain.Resolution1080} {
		if rate, ok := c.Rates.VideoPerSecond[res]; !ok || rate <= 0 {
			return fmt.Errorf("rates.video_per_second.%s must be set and positive", res)
		}
	}
	if c.Rates.VoicePerChar <= 0 {
		return fmt.Errorf("rates.voice_per_char must be positive")
	}
	if c.Pipeline.MaxWorkers < 1 {
		return fmt.Errorf("pipeline.max_workers must be at least 1")
	}
	if c.Pipeline.ShotTimeoutSec < 1 {
		return fmt.Errorf("pipeline.shot_timeout_sec must be at least 1")
	}
	if c.Pipeline.PollIntervalMS < 1 {
		return fmt.Errorf("pipeline.poll_interval_ms must be at least 1")
	}
	return nil
}

// VoiceByName resolves a catalog voice by its short name.
func (c *Config) VoiceByName(name string) (Voice, bool) {
	for _, v := range c.Voices {
		if v.Name == name {
			return v, true
		}
	}
	return Voice{}, false
}

// BrandKit converts the configured brand block into the domain value.
func (c *Config) BrandKit() domain.BrandKit {
	b := domain.BrandKit{
		Name:           c.Brand.Name,
		Tagline:        c.Brand.Tagline,
		PrimaryColor:   c.Brand.PrimaryColor,
		SecondaryColor: c.Brand.SecondaryColor,
	}
	if c.Brand.LogoURL != "" {
		url := c.Brand.LogoURL
		b.LogoURL = &url
	}
	return b
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "spotline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  name: Untitled Spot

brand:
  name: CHANEL
  tagline: Inevitable
  primary_color: "#000000"
  secondary_color: "#D4AF37"

voices:
  - name: rachel
    id: 21m00Tcm4TlvDq8ikWAM
    description: "Warm, professional female"
  - name: drew
    id: 29vD33N1CtxCmqQRPOHJ
    description: "Confident male"
  - name: charlotte
    id: XB0fDUnXU5powFXDhCwa
    description: "Sophisticated British female"
  - name: sarah
    id: EXAVITQu4vr4xnSDxMaL
    description: "Clear, elegant female"

rates:
  video_per_second:
    720p: 0.15
    1080p: 0.15
  voice_per_char: 0.00003

pipeline:
  backend_url: http://localhost:8791
  api_key_env: SPOTLINE_BACKEND_KEY
  max_workers: 3
  shot_timeout_sec: 300
  poll_interval_ms: 10000
`
