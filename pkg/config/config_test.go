package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadEnvOnly(t *testing.T) {
	cfg, err := LoadWithEnv("", envMap(map[string]string{
		"GH_REPO":  "alice/guestbook",
		"GH_TOKEN": "secret",
	}))
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if cfg.Repository != "alice/guestbook" || cfg.Token != "secret" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Listen != ":8080" || cfg.CallTimeout != 10*time.Second {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	repo := cfg.RepositoryID()
	if repo.Owner != "alice" || repo.Name != "guestbook" {
		t.Fatalf("RepositoryID = %+v", repo)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "guestbook.toml", `
repository = "alice/guestbook"
token = "file-token"
call_timeout = "3s"
pipeline_timeout = "45s"

[intake]
honeypot_field = "website"
captcha_answer = "qot"
require_message = true

[rate_limit]
per_minute = 5.0
burst = 2

[layout]
entries_dir = "guests"

[commit]
author_name = "guestbook-bot"
author_email = "bot@example.com"
`)
	cfg, err := LoadWithEnv(path, envMap(nil))
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if cfg.Token != "file-token" {
		t.Fatalf("Token = %q", cfg.Token)
	}
	if cfg.CallTimeout != 3*time.Second || cfg.PipelineTimeout != 45*time.Second {
		t.Fatalf("timeouts = %v / %v", cfg.CallTimeout, cfg.PipelineTimeout)
	}
	if cfg.Intake.HoneypotField != "website" || cfg.Intake.CaptchaAnswer != "qot" || !cfg.Intake.RequireMessage {
		t.Fatalf("Intake = %+v", cfg.Intake)
	}
	if cfg.RateLimit.PerMinute != 5 || cfg.RateLimit.Burst != 2 {
		t.Fatalf("RateLimit = %+v", cfg.RateLimit)
	}
	if cfg.Layout.EntriesDir != "guests" || cfg.Layout.BranchPrefix != "submission/" {
		t.Fatalf("Layout = %+v", cfg.Layout)
	}
	if cfg.Commit.AuthorName != "guestbook-bot" {
		t.Fatalf("Commit = %+v", cfg.Commit)
	}
}

func TestLoadTOMLUnknownKey(t *testing.T) {
	path := writeFile(t, "guestbook.toml", "repository = \"a/b\"\ntoken = \"t\"\nrepo = \"typo\"\n")
	_, err := LoadWithEnv(path, envMap(nil))
	if err == nil || !strings.Contains(err.Error(), "unknown keys") {
		t.Fatalf("error = %v, want unknown keys", err)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "guestbook.yml", `
repository: https://github.com/alice/guestbook
token: yaml-token
listen: "127.0.0.1:9000"
call_timeout: 2s
intake:
  max_message_bytes: 1024
`)
	cfg, err := LoadWithEnv(path, envMap(nil))
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if cfg.Listen != "127.0.0.1:9000" || cfg.CallTimeout != 2*time.Second {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Intake.MaxMessageBytes != 1024 {
		t.Fatalf("MaxMessageBytes = %d", cfg.Intake.MaxMessageBytes)
	}
	if cfg.RepositoryID().Name != "guestbook" {
		t.Fatalf("RepositoryID = %+v", cfg.RepositoryID())
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "guestbook.toml", "repository = \"alice/guestbook\"\ntoken = \"file-token\"\n")
	cfg, err := LoadWithEnv(path, envMap(map[string]string{
		"GH_TOKEN":               "env-token",
		"PORT":                   "9090",
		"GUESTBOOK_CALL_TIMEOUT": "1500ms",
	}))
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if cfg.Token != "env-token" {
		t.Fatalf("Token = %q, want env-token", cfg.Token)
	}
	if cfg.Listen != ":9090" {
		t.Fatalf("Listen = %q, want :9090", cfg.Listen)
	}
	if cfg.CallTimeout != 1500*time.Millisecond {
		t.Fatalf("CallTimeout = %v", cfg.CallTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "missing repository", mutate: func(c *Config) { c.Repository = "" }, want: "repository is required"},
		{name: "bad repository", mutate: func(c *Config) { c.Repository = "nope" }, want: "owner/name"},
		{name: "missing token", mutate: func(c *Config) { c.Token = "" }, want: "token is required"},
		{name: "zero call timeout", mutate: func(c *Config) { c.CallTimeout = 0 }, want: "call_timeout"},
		{name: "zero burst", mutate: func(c *Config) { c.RateLimit.Burst = 0 }, want: "burst"},
		{name: "signing without identity", mutate: func(c *Config) { c.Commit.SigningKey = "~/.ssh/id_ed25519" }, want: "signing_key"},
		{name: "half identity", mutate: func(c *Config) { c.Commit.AuthorName = "bot" }, want: "set together"},
		{name: "honeypot on name", mutate: func(c *Config) { c.Intake.HoneypotField = "name" }, want: "honeypot_field"},
		{name: "honeypot on message", mutate: func(c *Config) { c.Intake.HoneypotField = "message" }, want: "honeypot_field"},
		{name: "honeypot on captcha", mutate: func(c *Config) { c.Intake.HoneypotField = "captcha" }, want: "honeypot_field"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Repository = "alice/guestbook"
			cfg.Token = "t"
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate error = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestUnsupportedExtension(t *testing.T) {
	path := writeFile(t, "guestbook.json", "{}")
	if _, err := LoadWithEnv(path, envMap(nil)); err == nil {
		t.Fatal("expected error for .json config")
	}
}

func TestBadPort(t *testing.T) {
	_, err := LoadWithEnv("", envMap(map[string]string{"GH_REPO": "a/b", "GH_TOKEN": "t", "PORT": "http"}))
	if err == nil {
		t.Fatal("expected error for non-numeric PORT")
	}
}
