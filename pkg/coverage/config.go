package coverage

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/apimap/internal/endpoint"
	apperrors "github.com/PentesterFlow/apimap/internal/errors"
	"github.com/PentesterFlow/apimap/internal/parser"
	"github.com/PentesterFlow/apimap/internal/scanner"
)

// Config holds all pipeline configuration.
type Config struct {
	// Root of the source tree to scan
	ServiceDir string `json:"service_dir" yaml:"service_dir"`

	// Canonical list (CSV or OpenAPI document)
	APIList string `json:"api_list" yaml:"api_list"`

	// Report destinations
	Output OutputConfig `json:"output" yaml:"output"`

	// Source walk and extraction
	Scan ScanConfig `json:"scan" yaml:"scan"`

	// Method inference
	Inference InferenceConfig `json:"inference" yaml:"inference"`

	// Verbose logging, including dropped call sites
	Verbose bool `json:"verbose" yaml:"verbose"`

	// Debug mode
	Debug bool `json:"debug" yaml:"debug"`

	// Print timing and throughput after the run
	Profile bool `json:"profile" yaml:"profile"`
}

// OutputConfig holds report destinations. An empty path skips that report.
type OutputConfig struct {
	Markdown string `json:"markdown" yaml:"markdown"`
	JSON     string `json:"json" yaml:"json"`
	Pretty   bool   `json:"pretty" yaml:"pretty"`
}

// ScanConfig holds scanner settings.
type ScanConfig struct {
	// Source file extensions
	Extensions []string `json:"extensions" yaml:"extensions"`

	// Directory names never traversed
	SkipDirs []string `json:"skip_dirs" yaml:"skip_dirs"`

	// Worker pool size, 0 = all cores
	Threads int `json:"threads" yaml:"threads"`

	// Template-construction syntax
	Syntax parser.Syntax `json:"syntax" yaml:"syntax"`

	// Keep only definitions whose canonical path starts with this prefix
	PathPrefix string `json:"path_prefix" yaml:"path_prefix"`

	// Extraction cache database; empty disables caching
	CacheFile string `json:"cache_file" yaml:"cache_file"`
}

// InferenceConfig holds method inference settings.
type InferenceConfig struct {
	// Lines examined before and after a call site
	Radius int `json:"radius" yaml:"radius"`

	// Function name prefix -> verb; empty uses get_, post_, put_, patch_, delete_
	NamePrefixes map[string]string `json:"name_prefixes,omitempty" yaml:"name_prefixes,omitempty"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceDir: "service",
		APIList:    "api_list.csv",
		Output: OutputConfig{
			Markdown: "api_coverage.md",
			JSON:     "api_coverage.json",
			Pretty:   true,
		},
		Scan: ScanConfig{
			Extensions: append([]string(nil), scanner.DefaultExtensions...),
			SkipDirs:   append([]string(nil), scanner.DefaultSkipDirs...),
			Threads:    0,
			Syntax:     parser.DefaultSyntax(),
		},
		Inference: InferenceConfig{
			Radius: parser.DefaultRadius,
		},
	}
}

// LoadFromFile loads configuration from a file (JSON or YAML) on top of
// the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewMapError(apperrors.Config, path, "load config", "failed to read config file", err)
	}

	config := DefaultConfig()

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		if err := json.Unmarshal(data, config); err != nil {
			return nil, apperrors.NewMapError(apperrors.Config, path, "load config", "failed to parse config file", err)
		}
	}

	return config, nil
}

// SaveToFile saves configuration to a file.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// InitConfig writes config to a new file for later use with --config. An
// existing file is left untouched.
func InitConfig(path string, config *Config) error {
	if _, err := os.Stat(path); err == nil {
		return apperrors.NewConfigError(path, "file already exists")
	}
	if err := config.SaveToFile(path); err != nil {
		return apperrors.NewIOError(path, "write config", err, true)
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ServiceDir == "" {
		return apperrors.NewConfigError("service-dir", "service directory is required")
	}

	if c.APIList == "" {
		return apperrors.NewConfigError("api-list", "canonical API list is required")
	}

	if c.Output.Markdown == "" && c.Output.JSON == "" {
		return apperrors.NewConfigError("output", "at least one of the markdown or json outputs is required")
	}

	if c.Scan.Threads < 0 {
		return apperrors.NewConfigError("threads", "threads must be 0 (all cores) or positive")
	}

	if len(c.Scan.Extensions) == 0 {
		return apperrors.NewConfigError("extensions", "at least one source extension is required")
	}

	s := c.Scan.Syntax
	if len(s.Builders) == 0 && !s.Format && !s.FStrings && !s.Replace {
		return apperrors.NewConfigError("syntax", "no template-construction syntax enabled")
	}

	if c.Inference.Radius < 0 {
		return apperrors.NewConfigError("radius", "inference radius must not be negative")
	}

	if _, err := c.namePrefixes(); err != nil {
		return err
	}

	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	data, _ := json.Marshal(c)
	clone := &Config{}
	json.Unmarshal(data, clone)
	return clone
}

// ScannerConfig converts the configuration into scanner settings.
func (c *Config) ScannerConfig() scanner.Config {
	prefixes, _ := c.namePrefixes()
	return scanner.Config{
		Extensions:   c.Scan.Extensions,
		SkipDirs:     c.Scan.SkipDirs,
		Threads:      c.Scan.Threads,
		Syntax:       c.Scan.Syntax,
		Radius:       c.Inference.Radius,
		NamePrefixes: prefixes,
		PathPrefix:   c.Scan.PathPrefix,
	}
}

func (c *Config) namePrefixes() (map[string]endpoint.Method, error) {
	if len(c.Inference.NamePrefixes) == 0 {
		return nil, nil
	}
	out := make(map[string]endpoint.Method, len(c.Inference.NamePrefixes))
	for prefix, verb := range c.Inference.NamePrefixes {
		m, ok := endpoint.ParseMethod(verb)
		if !ok {
			return nil, apperrors.NewConfigError("name_prefixes", fmt.Sprintf("prefix %q maps to unknown method %q", prefix, verb))
		}
		if prefix == "" {
			return nil, apperrors.NewConfigError("name_prefixes", "empty name prefix")
		}
		out[prefix] = m
	}
	return out, nil
}
