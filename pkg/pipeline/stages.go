package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/odvcencio/guestbook/pkg/object"
	"github.com/odvcencio/guestbook/pkg/remote"
	"github.com/odvcencio/guestbook/pkg/submission"
)

// Stage names, in execution order.
const (
	StageBaseline = "baseline"
	StageBranch   = "branch"
	StageBlob     = "blob"
	StageTree     = "tree"
	StageCommit   = "commit"
	StageRef      = "ref"
	StageProposal = "proposal"
)

// StageError reports which stage stopped a run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("submission %s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// FailedStage returns the stage that produced err, or "" when err did not
// come from a run.
func FailedStage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

type stage struct {
	name string
	run  func(ctx context.Context, st *state) error
}

// state threads the outputs of each stage into the next.
type state struct {
	sub    submission.Submission
	entry  submission.Entry
	branch string
	path   string
	title  string
	body   string

	baseline Baseline
	blob     object.Hash
	tree     object.Hash
	commit   object.Hash
	proposal remote.PullRequest
}

func (o *Orchestrator) snapshotBaseline(ctx context.Context, st *state) error {
	branch, err := o.gw.DefaultBranch(ctx)
	if err != nil {
		return err
	}
	head, err := o.gw.HeadCommit(ctx, branch)
	if err != nil {
		return err
	}
	tree, err := o.gw.CommitTree(ctx, head)
	if err != nil {
		return err
	}
	st.baseline = Baseline{DefaultBranch: branch, HeadCommit: head, BaseTree: tree}
	return nil
}

// createBranch is the only duplicate guard: two entries with the same
// filename map to the same branch and the second fails with a conflict.
func (o *Orchestrator) createBranch(ctx context.Context, st *state) error {
	return o.gw.CreateBranch(ctx, st.branch, st.baseline.HeadCommit)
}

func (o *Orchestrator) createBlob(ctx context.Context, st *state) error {
	sha, err := o.gw.CreateBlob(ctx, []byte(st.entry.Content))
	if err != nil {
		return err
	}
	st.blob = sha
	return nil
}

func (o *Orchestrator) createTree(ctx context.Context, st *state) error {
	sha, err := o.gw.CreateTree(ctx, st.baseline.BaseTree, []remote.TreeEntry{{
		Path: st.path,
		Mode: object.TreeModeFile,
		Type: object.TypeBlob,
		SHA:  st.blob,
	}})
	if err != nil {
		return err
	}
	st.tree = sha
	return nil
}

// createCommit parents the commit on the baseline head, not on whatever the
// branch points at now; the two are equal unless someone else pushed to it.
func (o *Orchestrator) createCommit(ctx context.Context, st *state) error {
	req := remote.CommitRequest{
		Message: st.title + "\n\n" + st.body,
		Tree:    st.tree,
		Parent:  st.baseline.HeadCommit,
	}
	if o.opts.Identity != nil {
		id := *o.opts.Identity
		id.When = o.opts.Now().UTC().Truncate(time.Second)
		req.Author = &id
		req.Committer = &id
	}
	if o.opts.Signer != nil {
		payload := object.MarshalCommit(&object.CommitObj{
			TreeHash:  req.Tree,
			Parents:   []object.Hash{req.Parent},
			Author:    *req.Author,
			Committer: *req.Committer,
			Message:   req.Message,
		})
		sig, err := o.opts.Signer.Sign(payload)
		if err != nil {
			return err
		}
		req.Signature = sig
	}

	sha, err := o.gw.CreateCommit(ctx, req)
	if err != nil {
		return err
	}
	st.commit = sha
	return nil
}

func (o *Orchestrator) updateRef(ctx context.Context, st *state) error {
	return o.gw.UpdateRef(ctx, st.branch, st.commit)
}

func (o *Orchestrator) openProposal(ctx context.Context, st *state) error {
	pr, err := o.gw.CreatePullRequest(ctx, st.title, st.branch, st.baseline.DefaultBranch, st.body)
	if err != nil {
		return err
	}
	st.proposal = pr
	return nil
}
