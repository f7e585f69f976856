package remote

import (
	"time"

	"github.com/odvcencio/guestbook/pkg/object"
)

// TreeEntry is one path overlaid on a base tree.
type TreeEntry struct {
	Path string            `json:"path"`
	Mode string            `json:"mode"`
	Type object.ObjectType `json:"type"`
	SHA  object.Hash       `json:"sha"`
}

// CommitRequest describes a single-parent commit. Author, Committer and
// Signature are optional; the remote fills in the authenticated user when
// the identities are nil.
type CommitRequest struct {
	Message   string
	Tree      object.Hash
	Parent    object.Hash
	Author    *object.Identity
	Committer *object.Identity
	Signature string
}

// PullRequest is an opened proposal.
type PullRequest struct {
	Number int
	URL    string
	Title  string
	Head   string
	Base   string
	Body   string
}

// RateLimit is the core API quota.
type RateLimit struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

type identityField struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Date  string `json:"date,omitempty"`
}

func newIdentityField(id *object.Identity) *identityField {
	if id == nil {
		return nil
	}
	f := &identityField{Name: id.Name, Email: id.Email}
	if !id.When.IsZero() {
		f.Date = id.When.Format(time.RFC3339)
	}
	return f
}
