// Package config loads the run configuration: built-in defaults, then an
// optional YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Class run modes.
const (
	// ModeQueue processes every eligible file in a pending folder.
	ModeQueue = "queue"
	// ModeFile processes a single source text file.
	ModeFile = "file"
)

// Artifact formats.
const (
	FormatText  = "text"
	FormatJSONL = "jsonl"
)

// Built-in class and provider names.
const (
	ClassSummarizer = "summarizer"
	ClassOutliner   = "outliner"
	ClassChapters   = "chapters"

	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
	ProviderGemini   = "gemini"
)

type Config struct {
	ProjectName    string                    `yaml:"project_name"`
	LogLevel       string                    `yaml:"log_level"`
	InterItemDelay time.Duration             `yaml:"inter_item_delay"`
	Extensions     []string                  `yaml:"extensions"`
	Classes        map[string]ClassConfig    `yaml:"classes"`
	Providers      map[string]ProviderConfig `yaml:"providers"`
	Extract        ExtractConfig             `yaml:"extract"`
	Ledger         LedgerConfig              `yaml:"ledger"`
	GCP            GCPConfig                 `yaml:"gcp"`

	// Credentials are only read from the environment.
	Credentials Credentials `yaml:"-"`
}

// ClassConfig describes one document class: where its inputs live, which
// provider serves it, and where its artifact is appended.
type ClassConfig struct {
	Mode         string      `yaml:"mode"`
	Provider     string      `yaml:"provider"`
	PendingDir   string      `yaml:"pending_dir"`
	CompletedDir string      `yaml:"completed_dir"`
	FailedDir    string      `yaml:"failed_dir"`
	SourceFile   string      `yaml:"source_file"`
	OutputFile   string      `yaml:"output_file"`
	OutputFormat string      `yaml:"output_format"`
	HistoryFile  string      `yaml:"history_file"`
	HeaderLabel  string      `yaml:"header_label"`
	PromptType   string      `yaml:"prompt_type"`
	Prompts      PromptFiles `yaml:"prompts"`
}

// PromptFiles optionally replaces built-in prompt templates with file contents.
type PromptFiles struct {
	Role      string `yaml:"role"`
	Single    string `yaml:"single"`
	Batch     string `yaml:"batch"`
	Synthesis string `yaml:"synthesis"`
	Citation  string `yaml:"citation"`
}

// ProviderConfig is the parameter bundle of one provider.
type ProviderConfig struct {
	Model            string        `yaml:"model"`
	MaxOutputTokens  int           `yaml:"max_output_tokens"`
	Temperature      Number        `yaml:"temperature"`
	TopP             Number        `yaml:"top_p"`
	TopK             Number        `yaml:"top_k"`
	ResponseMIMEType string        `yaml:"response_mime_type"`
	TokenBudget      int           `yaml:"token_budget"`
	BaseURL          string        `yaml:"base_url"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxAttempts      int           `yaml:"max_attempts"`
	Backoff          time.Duration `yaml:"backoff"`
	Encoding         string        `yaml:"encoding"`
}

type ExtractConfig struct {
	PdfToTextPath string        `yaml:"pdftotext_path"`
	Timeout       time.Duration `yaml:"timeout"`
}

// LedgerConfig selects the relational store. An empty driver disables it.
type LedgerConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// GCPConfig enables the optional cloud sinks. Each sink is off while its
// name is empty.
type GCPConfig struct {
	ProjectID        string `yaml:"project_id"`
	ArtifactBucket   string `yaml:"artifact_bucket"`
	ArtifactPrefix   string `yaml:"artifact_prefix"`
	StatusCollection string `yaml:"status_collection"`
	WorkflowID       string `yaml:"workflow_id"`
	WorkflowLocation string `yaml:"workflow_location"`
	IngestClass      string `yaml:"ingest_class"`
}

type Credentials struct {
	OpenAIKey             string
	DeepSeekKey           string
	GeminiKey             string
	GeminiCredentialsFile string
	GeminiProjectID       string
	GeminiRegion          string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ProjectName:    "scribeflow",
		LogLevel:       "info",
		InterItemDelay: 5 * time.Second,
		Extensions:     []string{".pdf", ".txt", ".md"},
		Classes: map[string]ClassConfig{
			ClassSummarizer: {
				Mode:         ModeQueue,
				Provider:     ProviderOpenAI,
				PendingDir:   "data/pending",
				CompletedDir: "data/completed",
				FailedDir:    "data/failed",
				OutputFile:   "data/history/big_summary.txt",
				OutputFormat: FormatText,
				HeaderLabel:  "Summary of",
				PromptType:   "summarization",
			},
			ClassOutliner: {
				Mode:         ModeFile,
				Provider:     ProviderOpenAI,
				SourceFile:   "data/history/big_summary.txt",
				OutputFile:   "data/history/outline.txt",
				OutputFormat: FormatText,
				HistoryFile:  "data/history/outline_batches.txt",
				HeaderLabel:  "Outline of",
				PromptType:   "outline",
			},
			ClassChapters: {
				Mode:         ModeFile,
				Provider:     ProviderOpenAI,
				SourceFile:   "data/paper.txt",
				OutputFile:   "data/history/chapters.txt",
				OutputFormat: FormatText,
				HistoryFile:  "data/history/chapter_batches.txt",
				HeaderLabel:  "Chapters from",
				PromptType:   "chapter",
			},
		},
		Providers: map[string]ProviderConfig{
			ProviderOpenAI: {
				Model:           "gpt-4o-mini",
				MaxOutputTokens: 4500,
				Temperature:     NumberOf(0.7),
				TokenBudget:     27000,
				Timeout:         120 * time.Second,
				MaxAttempts:     3,
				Backoff:         2 * time.Second,
			},
			ProviderDeepSeek: {
				Model:           "deepseek-chat",
				MaxOutputTokens: 4500,
				Temperature:     NumberOf(0.7),
				TokenBudget:     27000,
				BaseURL:         "https://api.deepseek.com",
				Timeout:         120 * time.Second,
				MaxAttempts:     3,
				Backoff:         2 * time.Second,
			},
			ProviderGemini: {
				Model:            "gemini-1.5-pro",
				MaxOutputTokens:  15000,
				Temperature:      NumberOf(0.8),
				TopP:             NumberOf(0.95),
				TopK:             NumberOf(40),
				ResponseMIMEType: "text/plain",
				TokenBudget:      27000,
				Timeout:          120 * time.Second,
				MaxAttempts:      3,
				Backoff:          2 * time.Second,
			},
		},
		Extract: ExtractConfig{
			PdfToTextPath: "pdftotext",
			Timeout:       2 * time.Minute,
		},
		GCP: GCPConfig{
			WorkflowLocation: "us-central1",
			IngestClass:      ClassSummarizer,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := cfg.mergeYAML(data); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mergeYAML overlays a YAML document. Class and provider sections are merged
// field by field over their defaults.
func (c *Config) mergeYAML(data []byte) error {
	var overlay struct {
		ProjectName    string               `yaml:"project_name"`
		LogLevel       string               `yaml:"log_level"`
		InterItemDelay *time.Duration       `yaml:"inter_item_delay"`
		Extensions     []string             `yaml:"extensions"`
		Classes        map[string]yaml.Node `yaml:"classes"`
		Providers      map[string]yaml.Node `yaml:"providers"`
		Extract        *yaml.Node           `yaml:"extract"`
		Ledger         *yaml.Node           `yaml:"ledger"`
		GCP            *yaml.Node           `yaml:"gcp"`
	}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return err
	}
	if overlay.ProjectName != "" {
		c.ProjectName = overlay.ProjectName
	}
	if overlay.LogLevel != "" {
		c.LogLevel = overlay.LogLevel
	}
	if overlay.InterItemDelay != nil {
		c.InterItemDelay = *overlay.InterItemDelay
	}
	if len(overlay.Extensions) > 0 {
		c.Extensions = overlay.Extensions
	}
	for name, node := range overlay.Classes {
		cc := c.Classes[name]
		if err := node.Decode(&cc); err != nil {
			return fmt.Errorf("class %s: %w", name, err)
		}
		c.Classes[name] = cc
	}
	for name, node := range overlay.Providers {
		pc := c.Providers[name]
		if err := node.Decode(&pc); err != nil {
			return fmt.Errorf("provider %s: %w", name, err)
		}
		c.Providers[name] = pc
	}
	for _, section := range []struct {
		node *yaml.Node
		dst  any
	}{
		{overlay.Extract, &c.Extract},
		{overlay.Ledger, &c.Ledger},
		{overlay.GCP, &c.GCP},
	} {
		if section.node == nil {
			continue
		}
		if err := section.node.Decode(section.dst); err != nil {
			return err
		}
	}
	return nil
}

// applyEnv overrides settings from the environment. Per-class and
// per-provider keys are prefixed with the upper-cased section name, e.g.
// SUMMARIZER_PENDING_DIR or GEMINI_TOP_P.
func (c *Config) applyEnv() error {
	c.ProjectName = GetEnv("PROJECT_NAME", c.ProjectName)
	c.LogLevel = GetEnv("LOG_LEVEL", c.LogLevel)
	c.InterItemDelay = Duration("INTER_ITEM_DELAY", c.InterItemDelay)
	c.Extensions = List("EXTENSIONS", c.Extensions)

	for name, cc := range c.Classes {
		p := strings.ToUpper(name) + "_"
		cc.Mode = GetEnv(p+"MODE", cc.Mode)
		cc.Provider = GetEnv(p+"PROVIDER", cc.Provider)
		cc.PendingDir = GetEnv(p+"PENDING_DIR", cc.PendingDir)
		cc.CompletedDir = GetEnv(p+"COMPLETED_DIR", cc.CompletedDir)
		cc.FailedDir = GetEnv(p+"FAILED_DIR", cc.FailedDir)
		cc.SourceFile = GetEnv(p+"SOURCE_FILE", cc.SourceFile)
		cc.OutputFile = GetEnv(p+"OUTPUT_FILE", cc.OutputFile)
		cc.OutputFormat = GetEnv(p+"OUTPUT_FORMAT", cc.OutputFormat)
		cc.HistoryFile = GetEnv(p+"HISTORY_FILE", cc.HistoryFile)
		c.Classes[name] = cc
	}

	for name, pc := range c.Providers {
		p := strings.ToUpper(name) + "_"
		pc.Model = GetEnv(p+"MODEL", pc.Model)
		pc.MaxOutputTokens = Int(p+"MAX_OUTPUT_TOKENS", pc.MaxOutputTokens)
		pc.TokenBudget = Int(p+"TOKEN_BUDGET", pc.TokenBudget)
		pc.BaseURL = GetEnv(p+"BASE_URL", pc.BaseURL)
		pc.Timeout = Duration(p+"TIMEOUT", pc.Timeout)
		pc.MaxAttempts = Int(p+"MAX_ATTEMPTS", pc.MaxAttempts)
		pc.Backoff = Duration(p+"BACKOFF", pc.Backoff)
		pc.Encoding = GetEnv(p+"ENCODING", pc.Encoding)
		for key, dst := range map[string]*Number{
			"TEMPERATURE": &pc.Temperature,
			"TOP_P":       &pc.TopP,
			"TOP_K":       &pc.TopK,
		} {
			if v, ok := os.LookupEnv(p + key); ok {
				if err := dst.UnmarshalText([]byte(v)); err != nil {
					return fmt.Errorf("%s%s: %w", p, key, err)
				}
			}
		}
		c.Providers[name] = pc
	}

	c.Extract.PdfToTextPath = GetEnv("PDFTOTEXT_PATH", c.Extract.PdfToTextPath)
	c.Extract.Timeout = Duration("EXTRACT_TIMEOUT", c.Extract.Timeout)

	c.Ledger.Driver = GetEnv("LEDGER_DRIVER", c.Ledger.Driver)
	c.Ledger.DSN = GetEnv("LEDGER_DSN", c.Ledger.DSN)

	c.GCP.ProjectID = GetEnv("PROJECT_ID", c.GCP.ProjectID)
	c.GCP.ArtifactBucket = GetEnv("ARTIFACT_BUCKET", c.GCP.ArtifactBucket)
	c.GCP.ArtifactPrefix = GetEnv("ARTIFACT_PREFIX", c.GCP.ArtifactPrefix)
	c.GCP.StatusCollection = GetEnv("FIRESTORE_COLLECTION", c.GCP.StatusCollection)
	c.GCP.WorkflowID = GetEnv("WORKFLOW_ID", c.GCP.WorkflowID)
	c.GCP.WorkflowLocation = GetEnv("WORKFLOW_LOCATION", c.GCP.WorkflowLocation)
	c.GCP.IngestClass = GetEnv("INGEST_CLASS", c.GCP.IngestClass)

	c.Credentials = Credentials{
		OpenAIKey:             GetEnv("OPENAI_API_KEY", ""),
		DeepSeekKey:           GetEnv("DEEPSEEK_API_KEY", ""),
		GeminiKey:             GetEnv("GEMINI_API_KEY", ""),
		GeminiCredentialsFile: GetEnv("GEMINI_CREDENTIALS_FILE", ""),
		GeminiProjectID:       GetEnv("GEMINI_PROJECT_ID", c.GCP.ProjectID),
		GeminiRegion:          GetEnv("GEMINI_REGION", "us-central1"),
	}
	return nil
}

// Validate fails fast on settings no run can succeed with.
func (c Config) Validate() error {
	var errs []error
	for _, name := range c.ClassNames() {
		cc := c.Classes[name]
		if _, ok := c.Providers[cc.Provider]; !ok {
			errs = append(errs, fmt.Errorf("class %s: unknown provider %q", name, cc.Provider))
		}
		switch cc.Mode {
		case ModeQueue:
			if cc.PendingDir == "" || cc.CompletedDir == "" || cc.FailedDir == "" {
				errs = append(errs, fmt.Errorf("class %s: pending, completed and failed folders must be set", name))
			}
		case ModeFile:
			if cc.SourceFile == "" {
				errs = append(errs, fmt.Errorf("class %s: source_file must be set", name))
			}
		default:
			errs = append(errs, fmt.Errorf("class %s: unknown mode %q", name, cc.Mode))
		}
		if cc.OutputFile == "" {
			errs = append(errs, fmt.Errorf("class %s: output_file must be set", name))
		}
		if cc.OutputFormat != FormatText && cc.OutputFormat != FormatJSONL {
			errs = append(errs, fmt.Errorf("class %s: unknown output format %q", name, cc.OutputFormat))
		}
	}
	for name, pc := range c.Providers {
		if pc.TokenBudget <= 0 {
			errs = append(errs, fmt.Errorf("provider %s: token_budget must be positive", name))
		}
		if pc.Model == "" {
			errs = append(errs, fmt.Errorf("provider %s: model must be set", name))
		}
	}
	switch c.Ledger.Driver {
	case "", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("ledger: unknown driver %q", c.Ledger.Driver))
	}
	if c.Ledger.Driver != "" && c.Ledger.DSN == "" {
		errs = append(errs, errors.New("ledger: dsn must be set when a driver is configured"))
	}
	return errors.Join(errs...)
}

// Class returns the named class section.
func (c Config) Class(name string) (ClassConfig, error) {
	cc, ok := c.Classes[name]
	if !ok {
		return ClassConfig{}, fmt.Errorf("unknown document class %q", name)
	}
	return cc, nil
}

// ClassNames lists configured classes in a stable order.
func (c Config) ClassNames() []string {
	names := make([]string, 0, len(c.Classes))
	for name := range c.Classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
