package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the merge engine's configurable defaults. The merge command
// applies SizeLimitMB as its input size cap; DefaultExclude, LogLevel and
// Output are loaded but no command reads them.
type Config struct {
	SizeLimitMB    int      `yaml:"size_limit_mb"`
	DefaultExclude []string `yaml:"default_exclude"` // data-type names; loaded only, not applied to the include mask
	LogLevel       string   `yaml:"log_level"`
	Output         string   `yaml:"output"`
}

// Load loads configuration from multiple sources with precedence:
// 1. Environment variables
// 2. ./.env.local (dotenv) - walks up parent directories to find it
// 3. ~/.config/shelfmerge/config.yaml (YAML)
func Load() (*Config, error) {
	cfg := &Config{
		SizeLimitMB: 200,
		LogLevel:    "info",
		Output:      "table",
	}

	// Load .env.local if it exists (walking up parent directories)
	if envPath := findEnvLocal(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	// Load ~/.config/shelfmerge/config.yaml if it exists
	if err := loadYAMLConfig(cfg); err != nil {
		// YAML config is optional, so we don't fail if it doesn't exist
	}

	// Override with environment variables
	if sizeLimit := os.Getenv("SHELFMERGE_SIZE_LIMIT_MB"); sizeLimit != "" {
		if n, err := strconv.Atoi(sizeLimit); err == nil {
			cfg.SizeLimitMB = n
		}
	}
	if exclude := os.Getenv("SHELFMERGE_EXCLUDE"); exclude != "" {
		cfg.DefaultExclude = splitCSV(exclude)
	}
	if logLevel := os.Getenv("SHELFMERGE_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if output := os.Getenv("SHELFMERGE_OUTPUT"); output != "" {
		cfg.Output = output
	}

	return cfg, nil
}

// SizeLimitBytes converts the configured MB cap to bytes, for direct use
// as merge.Options.SizeLimitBytes. Zero or negative means no cap.
func (c *Config) SizeLimitBytes() int64 {
	if c.SizeLimitMB <= 0 {
		return 0
	}
	return int64(c.SizeLimitMB) * 1024 * 1024
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// loadYAMLConfig loads configuration from ~/.config/shelfmerge/config.yaml
func loadYAMLConfig(cfg *Config) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(homeDir, ".config", "shelfmerge", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// findEnvLocal looks for a .env.local starting at the working directory
// and walking upward, stopping after the user's home directory (or at the
// filesystem root, if the home directory is unknown or the walk never
// reaches it). The nearest
// .env.local wins, so a per-project override takes priority over one
// higher up the tree.
func findEnvLocal() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	dir = filepath.Clean(dir)

	homeDir, err := os.UserHomeDir()
	stopAt := ""
	if err == nil {
		stopAt = filepath.Clean(homeDir)
	}

	for {
		if candidate := filepath.Join(dir, ".env.local"); fileExists(candidate) {
			return candidate
		}

		if dir == stopAt {
			return ""
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
