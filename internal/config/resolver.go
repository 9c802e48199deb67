// Package config resolves runtime configuration from config file, environment
// and CLI flags, tracking where each effective value came from. Precedence:
// CLI flag > TRIAGE_* environment variable > config file > built-in default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

// ResolvedValue is an effective configuration value plus its provenance.
type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

// Float parses the value as a float, falling back when unset or malformed.
func (v ResolvedValue) Float(fallback float64) float64 {
	if s := strings.TrimSpace(v.Value); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Int parses the value as an int, falling back when unset or malformed.
func (v ResolvedValue) Int(fallback int) int {
	if s := strings.TrimSpace(v.Value); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// ResolveOptions carries CLI-level overrides into resolution.
type ResolveOptions struct {
	ConfigPath  string
	CLIStore    string
	CLIDBPath   string
	CLINER      string
	CLILexicons string
}

// ResolvedConfig is the full resolved configuration.
type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	StoreBackend ResolvedValue `json:"store_backend"`
	DBPath       ResolvedValue `json:"db_path"`
	TTLSeconds   ResolvedValue `json:"ttl_seconds"`

	NEREndpoint ResolvedValue `json:"ner_endpoint"`
	NERModel    ResolvedValue `json:"ner_model"`

	LexiconsPath      ResolvedValue `json:"lexicons_path"`
	EvidenceThreshold ResolvedValue `json:"evidence_threshold"`
	SpanWindowSlack   ResolvedValue `json:"span_window_slack"`
	SpanMinRatio      ResolvedValue `json:"span_min_ratio"`
}

type fileConfig struct {
	Store struct {
		Backend    string `yaml:"backend"`
		Path       string `yaml:"path"`
		TTLSeconds string `yaml:"ttl_seconds"`
	} `yaml:"store"`
	NER struct {
		Endpoint string `yaml:"endpoint"`
		Model    string `yaml:"model"`
	} `yaml:"ner"`
	Lexicons struct {
		Path string `yaml:"path"`
	} `yaml:"lexicons"`
	Evidence struct {
		FailureThreshold string `yaml:"failure_threshold"`
	} `yaml:"evidence"`
	Span struct {
		WindowSlack string `yaml:"window_slack"`
		MinRatio    string `yaml:"min_ratio"`
	} `yaml:"span"`
}

// DefaultConfigPath is ~/.triage/config.yaml.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".triage", "config.yaml")
}

// ResolveConfig loads the config file (a missing file is not an error) and
// layers environment and CLI overrides on top.
func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{ConfigPath: path}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.StoreBackend, cfg.Store.Backend, SourceConfig, path)
		apply(&out.DBPath, cfg.Store.Path, SourceConfig, path)
		apply(&out.TTLSeconds, cfg.Store.TTLSeconds, SourceConfig, path)
		apply(&out.NEREndpoint, cfg.NER.Endpoint, SourceConfig, path)
		apply(&out.NERModel, cfg.NER.Model, SourceConfig, path)
		apply(&out.LexiconsPath, cfg.Lexicons.Path, SourceConfig, path)
		apply(&out.EvidenceThreshold, cfg.Evidence.FailureThreshold, SourceConfig, path)
		apply(&out.SpanWindowSlack, cfg.Span.WindowSlack, SourceConfig, path)
		apply(&out.SpanMinRatio, cfg.Span.MinRatio, SourceConfig, path)
	}

	applyEnv(&out.StoreBackend, "TRIAGE_STORE")
	applyEnv(&out.DBPath, "TRIAGE_DB_PATH")
	applyEnv(&out.TTLSeconds, "TRIAGE_TTL_SECONDS")
	applyEnv(&out.NEREndpoint, "TRIAGE_NER_ENDPOINT")
	applyEnv(&out.NERModel, "TRIAGE_NER_MODEL")
	applyEnv(&out.LexiconsPath, "TRIAGE_LEXICONS")
	applyEnv(&out.EvidenceThreshold, "TRIAGE_EVIDENCE_THRESHOLD")
	applyEnv(&out.SpanWindowSlack, "TRIAGE_SPAN_WINDOW_SLACK")
	applyEnv(&out.SpanMinRatio, "TRIAGE_SPAN_MIN_RATIO")

	apply(&out.StoreBackend, opts.CLIStore, SourceCLI, "--store")
	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.NEREndpoint, opts.CLINER, SourceCLI, "--ner")
	apply(&out.LexiconsPath, opts.CLILexicons, SourceCLI, "--lexicons")

	if out.DBPath.Value != "" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}
	if out.LexiconsPath.Value != "" {
		out.LexiconsPath.Value = expandUserPath(out.LexiconsPath.Value)
	}

	return out, nil
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
