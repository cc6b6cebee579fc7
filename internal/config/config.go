// Package config loads the server configuration from a YAML file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Config is the server configuration. Command line flags override it.
type Config struct {
	// HTTP is the listen address.
	HTTP string `yaml:"http" json:"http" jsonschema:"description=Listen address,default=:8080"`
	// Root is the asset root holding one directory per folder.
	Root string `yaml:"root" json:"root" jsonschema:"description=Directory containing the markdown folders"`
	// BasePath prefixes every route, e.g. /Portfolio. Empty serves at /.
	BasePath string `yaml:"base_path" json:"base_path" jsonschema:"description=URL prefix of every route"`
	// Title is shown in the page header.
	Title    string `yaml:"title" json:"title" jsonschema:"description=Site title"`
	LogLevel string `yaml:"log_level" json:"log_level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	// RateLimitPerMin limits requests per client IP. 0 means unlimited.
	RateLimitPerMin int `yaml:"rate_limit_per_min" json:"rate_limit_per_min" jsonschema:"minimum=0"`
	// TrustProxy honors X-Forwarded-For and X-Real-IP. Enable it only behind
	// a reverse proxy that sets them.
	TrustProxy bool `yaml:"trust_proxy" json:"trust_proxy" jsonschema:"description=Take the client IP from proxy headers"`
	Metrics    bool `yaml:"metrics" json:"metrics" jsonschema:"description=Serve Prometheus metrics at /metrics"`
	// Watch rebuilds the index when files under Root change.
	Watch bool `yaml:"watch" json:"watch"`
	Auth  Auth `yaml:"auth" json:"auth"`
	Git   Git  `yaml:"git" json:"git"`
}

// Auth enables HTTP basic authentication when both fields are set.
type Auth struct {
	User string `yaml:"user" json:"user"`
	// PasswordHash is a bcrypt hash.
	PasswordHash string `yaml:"password_hash" json:"password_hash" jsonschema:"description=bcrypt hash of the password"`
}

// Enabled reports whether authentication is configured.
func (a *Auth) Enabled() bool {
	return a.User != "" && a.PasswordHash != ""
}

// Validate checks that the user and hash are set together and that the hash
// is a bcrypt hash.
func (a *Auth) Validate() error {
	if (a.User == "") != (a.PasswordHash == "") {
		return errors.New("user and password_hash must be set together")
	}
	if a.PasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(a.PasswordHash)); err != nil {
			return fmt.Errorf("password_hash: %w", err)
		}
	}
	return nil
}

// Git configures syncing the asset root from a remote repository.
type Git struct {
	// URL of the remote. Empty disables syncing.
	URL    string `yaml:"url" json:"url"`
	Branch string `yaml:"branch" json:"branch"`
	// Interval between pulls. 0 syncs only at startup.
	Interval time.Duration `yaml:"interval" json:"interval" jsonschema:"type=string,description=Duration between pulls such as 5m"`
}

// Validate checks that the interval is non-negative.
func (g *Git) Validate() error {
	if g.Interval < 0 {
		return errors.New("interval must be non-negative")
	}
	if g.URL == "" && g.Branch != "" {
		return errors.New("branch requires url")
	}
	return nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		HTTP:            ":8080",
		Root:            "content",
		Title:           "Portfolio",
		LogLevel:        "info",
		RateLimitPerMin: 6000,
		Metrics:         true,
		Watch:           true,
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the command line
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that the configuration is valid and normalizes the base
// path.
func (c *Config) Validate() error {
	if c.HTTP == "" {
		return errors.New("http is required")
	}
	if c.Root == "" {
		return errors.New("root is required")
	}
	bp, err := NormalizeBasePath(c.BasePath)
	if err != nil {
		return fmt.Errorf("base_path: %w", err)
	}
	c.BasePath = bp
	if c.LogLevel != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
	}
	if c.RateLimitPerMin < 0 {
		return errors.New("rate_limit_per_min must be non-negative")
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := c.Git.Validate(); err != nil {
		return fmt.Errorf("git: %w", err)
	}
	return nil
}

// NormalizeBasePath returns p with a leading slash and no trailing slash. "/"
// and "" both mean no prefix.
func NormalizeBasePath(p string) (string, error) {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p == "" {
		return "", nil
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for seg := range strings.SplitSeq(p[1:], "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("invalid segment in %q", p)
		}
	}
	if strings.ContainsAny(p, "?#{} ") {
		return "", fmt.Errorf("invalid character in %q", p)
	}
	return p, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Schema returns the JSON Schema of the configuration file.
func Schema() ([]byte, error) {
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true, FieldNameTag: "yaml"}
	s := r.Reflect(&Config{})
	s.Title = "mdfolio configuration"
	return json.MarshalIndent(s, "", "  ")
}
