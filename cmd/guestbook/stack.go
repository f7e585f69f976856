package main

import (
	"io"
	"log/slog"
	"strings"

	"github.com/odvcencio/guestbook/pkg/config"
	"github.com/odvcencio/guestbook/pkg/object"
	"github.com/odvcencio/guestbook/pkg/pipeline"
	"github.com/odvcencio/guestbook/pkg/remote"
	"github.com/odvcencio/guestbook/pkg/signing"
)

type globalOptions struct {
	configPath string
	verbose    bool
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newClient(cfg *config.Config) (*remote.Client, error) {
	return remote.NewClient(cfg.RepositoryID(), remote.ClientOptions{
		BaseURL:          cfg.APIBaseURL,
		Token:            cfg.Token,
		UserAgent:        cfg.UserAgent,
		CallTimeout:      cfg.CallTimeout,
		SkipContentCheck: cfg.SkipContentCheck,
	})
}

// newOrchestrator wires the gateway, commit identity and optional signer
// from cfg.
func newOrchestrator(cfg *config.Config, logger *slog.Logger) (*pipeline.Orchestrator, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}

	opts := pipeline.Options{
		EntriesDir:   cfg.Layout.EntriesDir,
		BranchPrefix: cfg.Layout.BranchPrefix,
		Timeout:      cfg.PipelineTimeout,
		Logger:       logger,
	}
	if cfg.Commit.AuthorName != "" {
		opts.Identity = &object.Identity{Name: cfg.Commit.AuthorName, Email: cfg.Commit.AuthorEmail}
	}
	if strings.TrimSpace(cfg.Commit.SigningKey) != "" {
		signer, path, err := signing.LoadSSHSigner(cfg.Commit.SigningKey)
		if err != nil {
			return nil, err
		}
		logger.Info("signing commits", "key", path, "public_key", signer.PublicKey())
		opts.Signer = signer
	}
	return pipeline.New(client, opts)
}
