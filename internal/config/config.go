// Package config provides configuration management for the service.
// It supports YAML configuration files with environment variable overrides,
// plus the per-run resolved review configuration layered from repo files,
// installation defaults, and run overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/grepiku/grepiku/pkg/logger"
)

// Default configuration values
const (
	defaultHost             = "0.0.0.0"
	defaultPort             = 8080
	defaultDatabasePath     = "var/grepiku.db"
	defaultReposDir         = "var/repos"
	defaultBundlesDir       = "var/bundles"
	defaultReviewWorkers    = 3
	defaultIndexWorkers     = 2
	defaultAnalyticsWorkers = 1
	defaultStageTimeout     = 900
	defaultEmbedBatchSize   = 16
	defaultEmbeddingModel   = "gemini-embedding-001"
	defaultWorktreeMaxAge   = 6
	defaultPruneSchedule    = "17 * * * *"
	defaultMetricsEnabled   = true
	defaultEmbeddingDim     = 768
	defaultRunnerCommand    = "grepiku-stage"
	defaultDebounceSeconds  = 20
)

// Config represents the complete application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Providers []Provider      `yaml:"providers"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Stages    StagesConfig    `yaml:"stages"`
	Workers   WorkersConfig   `yaml:"workers"`
	Review    ReviewDefaults  `yaml:"review"`
	Logging   logger.Config   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Debug bool   `yaml:"debug"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// WorkspaceConfig holds on-disk state locations.
type WorkspaceConfig struct {
	// ReposDir holds bare clones, one per (owner, repo).
	ReposDir string `yaml:"repos_dir"`
	// BundlesDir holds per-run stage bundles.
	BundlesDir string `yaml:"bundles_dir"`
	// WorktreeMaxAgeHours is the age after which same-sha worktrees are pruned.
	WorktreeMaxAgeHours int `yaml:"worktree_max_age_hours"`
	// PruneSchedule is the cron expression for the worktree pruning job.
	PruneSchedule string `yaml:"prune_schedule"`
}

// Provider holds one forge connection.
type Provider struct {
	Type               string `yaml:"type"` // github, gitlab, gitea
	URL                string `yaml:"url"`  // for self-hosted instances
	Token              string `yaml:"token"`
	WebhookSecret      string `yaml:"webhook_secret"`
	BotLogin           string `yaml:"bot_login"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`

	// GitHub App credentials; used instead of Token when set.
	AppID          int64  `yaml:"app_id"`
	AppPrivateKey  string `yaml:"app_private_key"` // PEM path or inline PEM
	InstallationID int64  `yaml:"installation_id"`
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	// Backend is "genai" or "static".
	Backend   string `yaml:"backend"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
}

// StagesConfig controls the external LLM stage runner.
type StagesConfig struct {
	// Command is the stage runner executable.
	Command string `yaml:"command"`
	// TimeoutSeconds bounds one stage invocation.
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// CoverageEnabled turns the optional coverage stage on.
	CoverageEnabled bool `yaml:"coverage_enabled"`
}

// WorkersConfig sizes the job queues.
type WorkersConfig struct {
	Review    int `yaml:"review"`
	Index     int `yaml:"index"`
	Analytics int `yaml:"analytics"`
	// DebounceSeconds suppresses repeat review jobs for the same head.
	DebounceSeconds int `yaml:"debounce_seconds"`
}

// ReviewDefaults carries the service-wide review overlay applied beneath
// installation and repo layers.
type ReviewDefaults struct {
	Overlay `yaml:",inline"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads the configuration file, fills defaults, and applies environment
// variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = defaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Database.Path == "" {
		c.Database.Path = defaultDatabasePath
	}
	if c.Workspace.ReposDir == "" {
		c.Workspace.ReposDir = defaultReposDir
	}
	if c.Workspace.BundlesDir == "" {
		c.Workspace.BundlesDir = defaultBundlesDir
	}
	if c.Workspace.WorktreeMaxAgeHours <= 0 {
		c.Workspace.WorktreeMaxAgeHours = defaultWorktreeMaxAge
	}
	if c.Workspace.PruneSchedule == "" {
		c.Workspace.PruneSchedule = defaultPruneSchedule
	}
	if c.Embedding.Backend == "" {
		c.Embedding.Backend = "static"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = defaultEmbeddingModel
	}
	if c.Embedding.Dimension <= 0 {
		c.Embedding.Dimension = defaultEmbeddingDim
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = defaultEmbedBatchSize
	}
	if c.Stages.Command == "" {
		c.Stages.Command = defaultRunnerCommand
	}
	if c.Stages.TimeoutSeconds <= 0 {
		c.Stages.TimeoutSeconds = defaultStageTimeout
	}
	if c.Workers.Review <= 0 {
		c.Workers.Review = defaultReviewWorkers
	}
	if c.Workers.Index <= 0 {
		c.Workers.Index = defaultIndexWorkers
	}
	if c.Workers.Analytics <= 0 {
		c.Workers.Analytics = defaultAnalyticsWorkers
	}
	if c.Workers.DebounceSeconds <= 0 {
		c.Workers.DebounceSeconds = defaultDebounceSeconds
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
		c.Metrics.Enabled = defaultMetricsEnabled
	}
}

// applyEnvOverrides lets deployment environments inject secrets without
// writing them into the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GREPIKU_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("GREPIKU_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("GREPIKU_EMBEDDING_API_KEY"); v != "" {
		c.Embedding.APIKey = v
	}
	for i := range c.Providers {
		p := &c.Providers[i]
		prefix := "GREPIKU_" + envProviderKey(p.Type)
		if v := os.Getenv(prefix + "_TOKEN"); v != "" {
			p.Token = v
		}
		if v := os.Getenv(prefix + "_WEBHOOK_SECRET"); v != "" {
			p.WebhookSecret = v
		}
	}
}

func envProviderKey(providerType string) string {
	switch providerType {
	case "github":
		return "GITHUB"
	case "gitlab":
		return "GITLAB"
	case "gitea":
		return "GITEA"
	}
	return "PROVIDER"
}

func (c *Config) validate() error {
	for _, p := range c.Providers {
		switch p.Type {
		case "github", "gitlab", "gitea":
		default:
			return fmt.Errorf("unknown provider type %q", p.Type)
		}
	}
	switch c.Embedding.Backend {
	case "genai", "static":
	default:
		return fmt.Errorf("unknown embedding backend %q", c.Embedding.Backend)
	}
	return nil
}
