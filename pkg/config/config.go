// Package config loads the process-wide settings of the submission service.
// Values come from an optional TOML or YAML file, then the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/odvcencio/guestbook/pkg/remote"
	"github.com/odvcencio/guestbook/pkg/submission"
)

// Config is loaded once at startup and then treated as immutable.
type Config struct {
	Repository string `toml:"repository" yaml:"repository"`
	Token      string `toml:"token" yaml:"token"`
	APIBaseURL string `toml:"api_base_url" yaml:"api_base_url"`
	UserAgent  string `toml:"user_agent" yaml:"user_agent"`

	Listen          string        `toml:"listen" yaml:"listen"`
	CallTimeout     time.Duration `toml:"call_timeout" yaml:"call_timeout"`
	PipelineTimeout time.Duration `toml:"pipeline_timeout" yaml:"pipeline_timeout"`

	// SkipContentCheck turns off verifying returned blob shas locally.
	SkipContentCheck bool `toml:"skip_content_check" yaml:"skip_content_check"`

	Intake    IntakeConfig    `toml:"intake" yaml:"intake"`
	RateLimit RateLimitConfig `toml:"rate_limit" yaml:"rate_limit"`
	Layout    LayoutConfig    `toml:"layout" yaml:"layout"`
	Commit    CommitConfig    `toml:"commit" yaml:"commit"`
}

// IntakeConfig controls which form posts reach the pipeline.
type IntakeConfig struct {
	HoneypotField   string `toml:"honeypot_field" yaml:"honeypot_field"`
	CaptchaAnswer   string `toml:"captcha_answer" yaml:"captcha_answer"`
	RequireName     bool   `toml:"require_name" yaml:"require_name"`
	RequireMessage  bool   `toml:"require_message" yaml:"require_message"`
	MaxMessageBytes int    `toml:"max_message_bytes" yaml:"max_message_bytes"`
}

// RateLimitConfig is a token bucket over accepted POSTs. PerMinute <= 0
// disables it.
type RateLimitConfig struct {
	PerMinute float64 `toml:"per_minute" yaml:"per_minute"`
	Burst     int     `toml:"burst" yaml:"burst"`
}

// LayoutConfig names where entries land in the repository.
type LayoutConfig struct {
	EntriesDir   string `toml:"entries_dir" yaml:"entries_dir"`
	BranchPrefix string `toml:"branch_prefix" yaml:"branch_prefix"`
}

// CommitConfig sets an explicit commit identity and optional SSH signing.
type CommitConfig struct {
	AuthorName  string `toml:"author_name" yaml:"author_name"`
	AuthorEmail string `toml:"author_email" yaml:"author_email"`
	SigningKey  string `toml:"signing_key" yaml:"signing_key"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		APIBaseURL:      remote.DefaultBaseURL,
		UserAgent:       remote.DefaultUserAgent,
		Listen:          ":8080",
		CallTimeout:     10 * time.Second,
		PipelineTimeout: 60 * time.Second,
		Intake: IntakeConfig{
			MaxMessageBytes: 64 << 10,
		},
		RateLimit: RateLimitConfig{
			PerMinute: 30,
			Burst:     10,
		},
		Layout: LayoutConfig{
			EntriesDir:   "entries",
			BranchPrefix: "submission/",
		},
	}
}

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

// Load reads path (if non-empty) over the defaults, applies the process
// environment and validates the result.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment.
func LoadWithEnv(path string, lookup LookupFunc) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		md, err := toml.Decode(string(data), c)
		if err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("read config %s: unknown keys %v", path, undecoded)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("read config %s: unsupported extension %q (want .toml, .yaml or .yml)", path, ext)
	}
	return nil
}

// applyEnv overrides file values. GH_REPO and GH_TOKEN keep the names the
// service has always been deployed with.
func (c *Config) applyEnv(lookup LookupFunc) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
				*dst = strings.TrimSpace(v)
				return
			}
		}
	}
	str(&c.Repository, "GUESTBOOK_REPOSITORY", "GH_REPO")
	str(&c.Token, "GUESTBOOK_TOKEN", "GH_TOKEN")
	str(&c.APIBaseURL, "GUESTBOOK_API_URL")
	str(&c.Listen, "GUESTBOOK_LISTEN")
	str(&c.Intake.CaptchaAnswer, "GUESTBOOK_CAPTCHA")
	str(&c.Intake.HoneypotField, "GUESTBOOK_HONEYPOT_FIELD")
	str(&c.Commit.SigningKey, "GUESTBOOK_SIGNING_KEY")

	if v, ok := lookup("PORT"); ok && strings.TrimSpace(v) != "" {
		if _, isSet := lookup("GUESTBOOK_LISTEN"); !isSet {
			port, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("config: PORT %q is not a number", v)
			}
			c.Listen = fmt.Sprintf(":%d", port)
		}
	}

	for key, dst := range map[string]*time.Duration{
		"GUESTBOOK_CALL_TIMEOUT":     &c.CallTimeout,
		"GUESTBOOK_PIPELINE_TIMEOUT": &c.PipelineTimeout,
	} {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("config: %s: %w", key, err)
			}
			*dst = d
		}
	}
	return nil
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Repository) == "" {
		return fmt.Errorf("config: repository is required (set repository or GH_REPO)")
	}
	if _, err := remote.ParseRepository(c.Repository); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if strings.TrimSpace(c.Token) == "" {
		return fmt.Errorf("config: token is required (set token or GH_TOKEN)")
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("config: call_timeout must be positive")
	}
	if c.PipelineTimeout < 0 {
		return fmt.Errorf("config: pipeline_timeout must not be negative")
	}
	if submission.Reserved(c.Intake.HoneypotField) {
		return fmt.Errorf("config: intake.honeypot_field %q is a real form field", c.Intake.HoneypotField)
	}
	if c.Intake.MaxMessageBytes < 0 {
		return fmt.Errorf("config: intake.max_message_bytes must not be negative")
	}
	if c.RateLimit.PerMinute > 0 && c.RateLimit.Burst < 1 {
		return fmt.Errorf("config: rate_limit.burst must be at least 1")
	}
	if c.Commit.SigningKey != "" && (c.Commit.AuthorName == "" || c.Commit.AuthorEmail == "") {
		return fmt.Errorf("config: commit.signing_key requires commit.author_name and commit.author_email")
	}
	if (c.Commit.AuthorName == "") != (c.Commit.AuthorEmail == "") {
		return fmt.Errorf("config: commit.author_name and commit.author_email must be set together")
	}
	return nil
}

// RepositoryID returns the parsed repository. Call after Validate.
func (c *Config) RepositoryID() remote.Repository {
	repo, _ := remote.ParseRepository(c.Repository)
	return repo
}
