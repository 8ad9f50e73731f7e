// Package config provides configuration loading and management for docscope.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete docscope configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Provider    ProviderConfig    `yaml:"provider"`
	Evaluation  EvaluationConfig  `yaml:"evaluation"`
	Remediation RemediationConfig `yaml:"remediation"`
	Workspace   WorkspaceConfig   `yaml:"workspace"`
	NATS        NATSConfig        `yaml:"nats"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Addr is the listen address (default ":8642").
	Addr string `yaml:"addr"`
	// AllowedOrigins is the CORS allow-list ("*" = any).
	AllowedOrigins []string `yaml:"allowed_origins"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ProviderConfig configures AI provider invocation.
type ProviderConfig struct {
	// Default is the provider used when a request names none.
	Default string `yaml:"default"`
	// Timeout is the per-invocation timeout.
	Timeout time.Duration `yaml:"timeout"`
	// MaxAttempts bounds retries per invocation.
	MaxAttempts int `yaml:"max_attempts"`
	// BackoffBase is the initial retry backoff.
	BackoffBase time.Duration `yaml:"backoff_base"`
}

// EvaluationConfig configures the evaluation pipeline.
type EvaluationConfig struct {
	// QueueCapacity bounds the evaluation job queue.
	QueueCapacity int `yaml:"queue_capacity"`
	// Workers is the evaluation worker pool size.
	Workers int `yaml:"workers"`
	// Concurrency caps in-flight evaluator invocations per job.
	Concurrency int `yaml:"concurrency"`
	// Mode selects unified or independent evaluation.
	Mode string `yaml:"mode"`
	// CurationTopN is how many issues curation keeps per type; curation is
	// skipped entirely when a type has no more than this many issues.
	CurationTopN int `yaml:"curation_top_n"`
	// DedupLineTolerance is the location-overlap tolerance in lines.
	DedupLineTolerance int `yaml:"dedup_line_tolerance"`
	// DedupSimilarity is the text-similarity threshold for duplicates.
	DedupSimilarity float64 `yaml:"dedup_similarity"`
	// PromptsDir optionally overrides embedded evaluator prompts.
	PromptsDir string `yaml:"prompts_dir"`
	// JobTimeout bounds one evaluation job's wall clock (0 = off).
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// RemediationConfig configures the remediation pipeline.
type RemediationConfig struct {
	QueueCapacity int `yaml:"queue_capacity"`
	Workers       int `yaml:"workers"`
	// BatchSize bounds issues per execute-phase batch.
	BatchSize int `yaml:"batch_size"`
}

// WorkspaceConfig configures ephemeral clone management.
type WorkspaceConfig struct {
	// Root is the directory under which clones are created
	// (default os.TempDir()/docscope).
	Root string `yaml:"root"`
	// CloneTimeout bounds a single git clone.
	CloneTimeout time.Duration `yaml:"clone_timeout"`
	// CloneDepth limits history depth (0 = full clone).
	CloneDepth int `yaml:"clone_depth"`
}

// NATSConfig configures the optional event mirror.
type NATSConfig struct {
	// URL enables mirroring of job events to NATS when set.
	URL string `yaml:"url"`
	// SubjectPrefix prefixes mirrored subjects (default "docscope.jobs").
	SubjectPrefix string `yaml:"subject_prefix"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8642",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 15 * time.Second,
		},
		Provider: ProviderConfig{
			Default:     "claude",
			Timeout:     120 * time.Second,
			MaxAttempts: 3,
			BackoffBase: 2 * time.Second,
		},
		Evaluation: EvaluationConfig{
			QueueCapacity:      10,
			Workers:            2,
			Concurrency:        4,
			Mode:               "independent",
			CurationTopN:       30,
			DedupLineTolerance: 5,
			DedupSimilarity:    0.75,
			JobTimeout:         0,
		},
		Remediation: RemediationConfig{
			QueueCapacity: 10,
			Workers:       1,
			BatchSize:     50,
		},
		Workspace: WorkspaceConfig{
			Root:         filepath.Join(os.TempDir(), "docscope"),
			CloneTimeout: 5 * time.Minute,
			CloneDepth:   0,
		},
		NATS: NATSConfig{
			SubjectPrefix: "docscope.jobs",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Provider.Default == "" {
		return fmt.Errorf("provider.default is required")
	}
	if c.Provider.MaxAttempts < 1 {
		return fmt.Errorf("provider.max_attempts must be at least 1")
	}
	if c.Evaluation.Concurrency < 1 || c.Evaluation.Concurrency > 32 {
		return fmt.Errorf("evaluation.concurrency must be in [1..32]")
	}
	if c.Evaluation.QueueCapacity < 1 {
		return fmt.Errorf("evaluation.queue_capacity must be at least 1")
	}
	if c.Evaluation.Mode != "unified" && c.Evaluation.Mode != "independent" {
		return fmt.Errorf("evaluation.mode must be unified or independent")
	}
	if c.Evaluation.DedupSimilarity < 0 || c.Evaluation.DedupSimilarity > 1 {
		return fmt.Errorf("evaluation.dedup_similarity must be between 0 and 1")
	}
	if c.Remediation.BatchSize < 1 {
		return fmt.Errorf("remediation.batch_size must be at least 1")
	}
	return nil
}

// Merge overlays non-zero fields from other onto c.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if len(other.Server.AllowedOrigins) > 0 {
		c.Server.AllowedOrigins = other.Server.AllowedOrigins
	}
	if other.Server.ShutdownTimeout != 0 {
		c.Server.ShutdownTimeout = other.Server.ShutdownTimeout
	}
	if other.Provider.Default != "" {
		c.Provider.Default = other.Provider.Default
	}
	if other.Provider.Timeout != 0 {
		c.Provider.Timeout = other.Provider.Timeout
	}
	if other.Provider.MaxAttempts != 0 {
		c.Provider.MaxAttempts = other.Provider.MaxAttempts
	}
	if other.Provider.BackoffBase != 0 {
		c.Provider.BackoffBase = other.Provider.BackoffBase
	}
	if other.Evaluation.QueueCapacity != 0 {
		c.Evaluation.QueueCapacity = other.Evaluation.QueueCapacity
	}
	if other.Evaluation.Workers != 0 {
		c.Evaluation.Workers = other.Evaluation.Workers
	}
	if other.Evaluation.Concurrency != 0 {
		c.Evaluation.Concurrency = other.Evaluation.Concurrency
	}
	if other.Evaluation.Mode != "" {
		c.Evaluation.Mode = other.Evaluation.Mode
	}
	if other.Evaluation.CurationTopN != 0 {
		c.Evaluation.CurationTopN = other.Evaluation.CurationTopN
	}
	if other.Evaluation.DedupLineTolerance != 0 {
		c.Evaluation.DedupLineTolerance = other.Evaluation.DedupLineTolerance
	}
	if other.Evaluation.DedupSimilarity != 0 {
		c.Evaluation.DedupSimilarity = other.Evaluation.DedupSimilarity
	}
	if other.Evaluation.PromptsDir != "" {
		c.Evaluation.PromptsDir = other.Evaluation.PromptsDir
	}
	if other.Evaluation.JobTimeout != 0 {
		c.Evaluation.JobTimeout = other.Evaluation.JobTimeout
	}
	if other.Remediation.QueueCapacity != 0 {
		c.Remediation.QueueCapacity = other.Remediation.QueueCapacity
	}
	if other.Remediation.Workers != 0 {
		c.Remediation.Workers = other.Remediation.Workers
	}
	if other.Remediation.BatchSize != 0 {
		c.Remediation.BatchSize = other.Remediation.BatchSize
	}
	if other.Workspace.Root != "" {
		c.Workspace.Root = other.Workspace.Root
	}
	if other.Workspace.CloneTimeout != 0 {
		c.Workspace.CloneTimeout = other.Workspace.CloneTimeout
	}
	if other.Workspace.CloneDepth != 0 {
		c.Workspace.CloneDepth = other.Workspace.CloneDepth
	}
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.SubjectPrefix != "" {
		c.NATS.SubjectPrefix = other.NATS.SubjectPrefix
	}
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
