// Package pipeline turns a canonical guestbook entry into a pull request by
// driving the remote repository through a fixed sequence of object writes.
//
// Every stage consumes the shas produced by the stages before it:
//
//	baseline -> branch -> blob -> tree -> commit -> ref -> proposal
//
// The remote offers no transaction, so a failing stage aborts the run and
// leaves what was already written. Unreferenced blobs, trees and commits
// are inert; the only visible leftover is a submission branch without a
// pull request.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"
	"unicode/utf8"

	"github.com/odvcencio/guestbook/pkg/object"
	"github.com/odvcencio/guestbook/pkg/remote"
	"github.com/odvcencio/guestbook/pkg/submission"
)

// Gateway is the set of remote operations the pipeline issues.
// *remote.Client implements it.
type Gateway interface {
	DefaultBranch(ctx context.Context) (string, error)
	HeadCommit(ctx context.Context, branch string) (object.Hash, error)
	CommitTree(ctx context.Context, commit object.Hash) (object.Hash, error)
	CreateBranch(ctx context.Context, name string, sha object.Hash) error
	CreateBlob(ctx context.Context, content []byte) (object.Hash, error)
	CreateTree(ctx context.Context, base object.Hash, entries []remote.TreeEntry) (object.Hash, error)
	CreateCommit(ctx context.Context, commit remote.CommitRequest) (object.Hash, error)
	UpdateRef(ctx context.Context, branch string, sha object.Hash) error
	CreatePullRequest(ctx context.Context, title, head, base, body string) (remote.PullRequest, error)
}

// Signer produces a commit signature over the canonical commit payload.
type Signer interface {
	Sign(payload []byte) (string, error)
}

// Options configures an Orchestrator. Zero values receive defaults.
type Options struct {
	EntriesDir   string        // directory entries are written to (default "entries")
	BranchPrefix string        // submission branch prefix (default "submission/")
	Timeout      time.Duration // whole-run deadline; zero means none

	// Identity, when set, is used as commit author and committer. Signing
	// requires it because the signed payload must carry exact dates.
	Identity *object.Identity
	Signer   Signer

	Logger *slog.Logger
	Now    func() time.Time
}

// Baseline is the point-in-time snapshot of the default branch every later
// stage builds on. It is not re-validated.
type Baseline struct {
	DefaultBranch string
	HeadCommit    object.Hash
	BaseTree      object.Hash
}

// Proposal is the outcome of a successful run.
type Proposal struct {
	URL       string
	Number    int
	Branch    string
	Base      string
	Title     string
	Path      string
	BlobSHA   object.Hash
	TreeSHA   object.Hash
	CommitSHA object.Hash
}

// Orchestrator runs submissions through the remote. It keeps no state
// between runs and is safe for concurrent use.
type Orchestrator struct {
	gw     Gateway
	opts   Options
	stages []stage
}

// New creates an Orchestrator issuing its calls through gw.
func New(gw Gateway, opts Options) (*Orchestrator, error) {
	if gw == nil {
		return nil, fmt.Errorf("pipeline: gateway is required")
	}
	if opts.Signer != nil && opts.Identity == nil {
		return nil, fmt.Errorf("pipeline: commit signing requires an author identity")
	}
	if opts.EntriesDir == "" {
		opts.EntriesDir = "entries"
	}
	if opts.BranchPrefix == "" {
		opts.BranchPrefix = "submission/"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	o := &Orchestrator{gw: gw, opts: opts}
	o.stages = []stage{
		{name: StageBaseline, run: o.snapshotBaseline},
		{name: StageBranch, run: o.createBranch},
		{name: StageBlob, run: o.createBlob},
		{name: StageTree, run: o.createTree},
		{name: StageCommit, run: o.createCommit},
		{name: StageRef, run: o.updateRef},
		{name: StageProposal, run: o.openProposal},
	}
	return o, nil
}

// BranchName returns the submission branch for an entry filename.
func (o *Orchestrator) BranchName(filename string) string {
	return o.opts.BranchPrefix + filename
}

// EntryPath returns the repository path an entry is written to.
func (o *Orchestrator) EntryPath(filename string) string {
	return path.Join(o.opts.EntriesDir, filename)
}

// Title returns the commit and pull request title for a submission.
func Title(sub submission.Submission) string {
	return "Guestbook submission by " + sub.DisplayName()
}

// Body returns the commit and pull request body for a submission.
func Body(sub submission.Submission) string {
	return "Submitted at: " + sub.ReceivedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// Run drives one submission through every stage and returns the opened
// pull request. The first failing stage stops the run with a *StageError;
// no later call is issued and nothing already written is undone.
// Submissions that are not valid UTF-8 are refused before any call.
func (o *Orchestrator) Run(ctx context.Context, sub submission.Submission, entry submission.Entry) (*Proposal, error) {
	if err := sub.CheckEncoding(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if !utf8.ValidString(entry.Content) {
		return nil, fmt.Errorf("pipeline: %w: entry content", submission.ErrInvalidEncoding)
	}

	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	st := &state{
		sub:    sub,
		entry:  entry,
		branch: o.BranchName(entry.Filename),
		path:   o.EntryPath(entry.Filename),
		title:  Title(sub),
		body:   Body(sub),
	}
	logger := o.opts.Logger.With("branch", st.branch)

	start := time.Now()
	for _, s := range o.stages {
		if err := ctx.Err(); err != nil {
			logger.Warn("submission aborted", "stage", s.name, "error", err)
			return nil, &StageError{Stage: s.name, Err: err}
		}
		stageStart := time.Now()
		if err := s.run(ctx, st); err != nil {
			logger.Error("submission stage failed",
				"stage", s.name,
				"duration", time.Since(stageStart),
				"error", err)
			return nil, &StageError{Stage: s.name, Err: err}
		}
		logger.Debug("submission stage done", "stage", s.name, "duration", time.Since(stageStart))
	}

	logger.Info("submission proposed",
		"url", st.proposal.URL,
		"commit", st.commit.Short(),
		"base", st.baseline.DefaultBranch,
		"duration", time.Since(start))

	return &Proposal{
		URL:       st.proposal.URL,
		Number:    st.proposal.Number,
		Branch:    st.branch,
		Base:      st.baseline.DefaultBranch,
		Title:     st.title,
		Path:      st.path,
		BlobSHA:   st.blob,
		TreeSHA:   st.tree,
		CommitSHA: st.commit,
	}, nil
}
