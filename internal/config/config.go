package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Pipeline modes.
const (
	ModeAlignmentOnly    = "alignment_only"
	ModeConsultationOnly = "consultation_only"
	ModeFullLoop         = "full_loop"
)

// Duration decodes TOML strings such as "30s" or "500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type TaskConfig struct {
	Name           string `toml:"name"`
	SourceEntities string `toml:"source_entities"`
	TargetEntities string `toml:"target_entities"`
	OutputDir      string `toml:"output_dir"`
}

type AlignerConfig struct {
	Kind          string   `toml:"kind"` // file | exec
	MappingsPath  string   `toml:"mappings_path"`
	FeedbackPath  string   `toml:"feedback_path"`
	RefinedPath   string   `toml:"refined_path"`
	Command       []string `toml:"command"`
	RefineCommand []string `toml:"refine_command"`
	WorkDir       string   `toml:"work_dir"`
}

type SelectorConfig struct {
	Low        float64 `toml:"low"`
	High       float64 `toml:"high"`
	MaxQueries int     `toml:"max_queries"`
}

type TemplateConfig struct {
	Body     string   `toml:"body"`
	Requires []string `toml:"requires"`
	Depth    int      `toml:"depth"`
}

type PromptConfig struct {
	Template          string                    `toml:"template"`
	Developer         string                    `toml:"developer"`
	NeighborDepth     int                       `toml:"neighbor_depth"`
	RequestConfidence bool                      `toml:"request_confidence"`
	Templates         map[string]TemplateConfig `toml:"templates"`
}

type LLMConfig struct {
	Provider        string   `toml:"provider"`
	Model           string   `toml:"model"`
	APIKey          string   `toml:"api_key"`
	BaseURL         string   `toml:"base_url"`
	Temperature     float32  `toml:"temperature"`
	TopP            float32  `toml:"top_p"`
	MaxTokens       int      `toml:"max_tokens"`
	ReasoningEffort string   `toml:"reasoning_effort"`
	Logprobs        bool     `toml:"logprobs"`
	Timeout         Duration `toml:"timeout"`
	// StructuredOutput asks the provider for a JSON answer: plain (free
	// text), answer ({"answer": bool}) or answer_reasoning.
	StructuredOutput string `toml:"structured_output"`
	// Script is only read by the static provider: mapping ID -> canned response.
	Script map[string]string `toml:"script"`
}

type RetryConfig struct {
	MaxAttempts       int      `toml:"max_attempts"`
	BackoffBase       Duration `toml:"backoff_base"`
	BackoffMultiplier float64  `toml:"backoff_multiplier"`
	MaxBackoff        Duration `toml:"max_backoff"`
}

type ConcurrencyConfig struct {
	MaxRequests       int     `toml:"max_requests"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

type PipelineConfig struct {
	Mode           string   `toml:"mode"`
	Realign        bool     `toml:"realign"`
	RunTimeout     Duration `toml:"run_timeout"`
	GracePeriod    Duration `toml:"grace_period"`
	CheckpointPath string   `toml:"checkpoint_path"`
}

type ReconcileConfig struct {
	AcceptThreshold float64 `toml:"accept_threshold"`
	ConflictPolicy  string  `toml:"conflict_policy"`
}

type S3Config struct {
	Endpoint  string `toml:"endpoint"`
	Region    string `toml:"region"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	UseSSL    bool   `toml:"use_ssl"`
}

type ArtifactsConfig struct {
	Backend string   `toml:"backend"` // file | s3
	Dir     string   `toml:"dir"`
	S3      S3Config `toml:"s3"`
}

type GraphConfig struct {
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

type CacheConfig struct {
	Size int `toml:"size"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type Config struct {
	Task        TaskConfig        `toml:"task"`
	Aligner     AlignerConfig     `toml:"aligner"`
	Selector    SelectorConfig    `toml:"selector"`
	Prompt      PromptConfig      `toml:"prompt"`
	LLM         LLMConfig         `toml:"llm"`
	Retry       RetryConfig       `toml:"retry"`
	Concurrency ConcurrencyConfig `toml:"concurrency"`
	Pipeline    PipelineConfig    `toml:"pipeline"`
	Reconcile   ReconcileConfig   `toml:"reconcile"`
	Artifacts   ArtifactsConfig   `toml:"artifacts"`
	Graph       GraphConfig       `toml:"graph"`
	Cache       CacheConfig       `toml:"cache"`
	Logging     LoggingConfig     `toml:"logging"`
	Server      ServerConfig      `toml:"server"`
}

// Default returns a configuration that runs the full loop against a local
// Ollama server with conservative oracle settings.
func Default() *Config {
	return &Config{
		Task: TaskConfig{Name: "alignment", OutputDir: "output"},
		Aligner: AlignerConfig{
			Kind: "file",
		},
		Selector: SelectorConfig{Low: 0.0, High: 1.0, MaxQueries: 100},
		Prompt: PromptConfig{
			Template:      "label_description",
			Developer:     "class_equivalence",
			NeighborDepth: 1,
		},
		LLM: LLMConfig{
			Provider:  "ollama",
			Model:     "gpt-oss:latest",
			BaseURL:   "http://localhost:11434",
			TopP:      1,
			MaxTokens: 100,
			Timeout:   Duration{60 * time.Second},
		},
		Retry: RetryConfig{
			MaxAttempts:       3,
			BackoffBase:       Duration{time.Second},
			BackoffMultiplier: 2.0,
			MaxBackoff:        Duration{30 * time.Second},
		},
		Concurrency: ConcurrencyConfig{MaxRequests: 2},
		Pipeline: PipelineConfig{
			Mode:        ModeFullLoop,
			RunTimeout:  Duration{time.Hour},
			GracePeriod: Duration{10 * time.Second},
		},
		Reconcile: ReconcileConfig{AcceptThreshold: 0.5, ConflictPolicy: "one_to_one"},
		Artifacts: ArtifactsConfig{Backend: "file", Dir: "output"},
		Cache:     CacheConfig{Size: 1024},
		Logging:   LoggingConfig{Level: "info"},
		Server:    ServerConfig{Addr: ":8080"},
	}
}

// Load reads a TOML file on top of Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides selected settings from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("ALIGNORACLE_MODE"); v != "" {
		c.Pipeline.Mode = v
	}
}
