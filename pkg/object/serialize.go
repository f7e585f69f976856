package object

import (
	"bytes"
	"fmt"
)

// MarshalCommit serializes a CommitObj in git's canonical commit format:
//
//	tree H
//	parent H     (zero or more)
//	author A
//	committer C
//
//	message
//
// The output is the payload a commit signature is computed over.
func MarshalCommit(c *CommitObj) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", string(c.TreeHash))
	for _, p := range c.Parents {
		fmt.Fprintf(&buf, "parent %s\n", string(p))
	}
	fmt.Fprintf(&buf, "author %s\n", c.Author.Line())
	fmt.Fprintf(&buf, "committer %s\n", c.Committer.Line())
	buf.WriteByte('\n')
	buf.WriteString(c.Message)
	return buf.Bytes()
}
