package remote

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error kinds. Every error returned by Client unwraps to exactly one of these.
var (
	// ErrTransport indicates the request never produced a response
	// (connection, DNS, TLS failure or an expired deadline).
	ErrTransport = errors.New("remote transport failure")

	// ErrUnauthorized indicates an invalid or expired credential.
	ErrUnauthorized = errors.New("remote rejected credentials")

	// ErrConflict indicates the ref or pull request already exists.
	ErrConflict = errors.New("remote object already exists")

	// ErrNotFound indicates a missing repository, ref, commit or tree.
	ErrNotFound = errors.New("remote object not found")

	// ErrMalformedResponse indicates a success response without the fields
	// the operation depends on.
	ErrMalformedResponse = errors.New("malformed remote response")

	// ErrRateLimited indicates the API quota is exhausted.
	ErrRateLimited = errors.New("remote rate limit exceeded")

	// ErrRejected covers every other non-success status.
	ErrRejected = errors.New("remote rejected request")
)

// Error describes one failed gateway operation.
type Error struct {
	Kind    error
	Op      string
	Method  string
	Path    string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Method != "" {
		fmt.Fprintf(&b, " (%s %s", e.Method, e.Path)
		if e.Status != 0 {
			fmt.Fprintf(&b, " -> %d", e.Status)
		}
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause, so
// errors.Is works for ErrConflict as well as context.DeadlineExceeded.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// classifyStatus maps a non-success response to an error kind.
func classifyStatus(status int, header http.Header, apiErr *APIError) error {
	switch {
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusConflict:
		return ErrConflict
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusForbidden && header.Get("X-RateLimit-Remaining") == "0":
		return ErrRateLimited
	case status == http.StatusUnprocessableEntity && apiErr != nil && apiErr.alreadyExists():
		return ErrConflict
	default:
		return ErrRejected
	}
}

// IsConflict reports whether err is a duplicate branch or pull request.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsNotFound reports whether err is a missing remote object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnauthorized reports whether err is a credential failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
