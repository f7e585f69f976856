package object

import (
	"fmt"
	"time"
)

// Hash is a 40-character hex-encoded git object id.
type Hash string

// ObjectType identifies the kind of git object.
type ObjectType string

const (
	TypeBlob   ObjectType = "blob"
	TypeTree   ObjectType = "tree"
	TypeCommit ObjectType = "commit"
)

const (
	// Tree mode constants compatible with Git's canonical mode strings.
	TreeModeDir        = "040000"
	TreeModeFile       = "100644"
	TreeModeExecutable = "100755"
)

// Identity is an author or committer line of a commit.
type Identity struct {
	Name  string
	Email string
	When  time.Time
}

// Line renders the identity the way it appears in a commit header:
// "Name <email> unix-seconds +hhmm".
func (id Identity) Line() string {
	_, offset := id.When.Zone()
	sign := '+'
	if offset < 0 {
		sign = '-'
		offset = -offset
	}
	return fmt.Sprintf("%s <%s> %d %c%02d%02d",
		id.Name, id.Email, id.When.Unix(), sign, offset/3600, (offset%3600)/60)
}

// CommitObj is the subset of a git commit this module writes.
type CommitObj struct {
	TreeHash  Hash
	Parents   []Hash
	Author    Identity
	Committer Identity
	Message   string
}
