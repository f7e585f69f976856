// Package submission turns a guestbook form post into the canonical entry
// file that is proposed to the repository.
package submission

import (
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// Form field names read by Parse.
const (
	FieldName    = "name"
	FieldURL     = "url"
	FieldMessage = "message"
	FieldCaptcha = "captcha"
)

var (
	// ErrTrapped reports that the honeypot field was filled in. Callers
	// answer as if the submission was accepted.
	ErrTrapped = errors.New("submission trapped by honeypot")

	// ErrCaptcha reports a missing or wrong captcha answer.
	ErrCaptcha = errors.New("captcha answer is incorrect")

	// ErrMissingField reports a required field left empty.
	ErrMissingField = errors.New("required field is empty")

	// ErrTooLarge reports a message above the configured size limit.
	ErrTooLarge = errors.New("message is too large")

	// ErrInvalidEncoding reports a field that is not valid UTF-8, typically
	// a form posted from a page in a legacy charset.
	ErrInvalidEncoding = errors.New("field is not valid UTF-8")
)

// Reserved reports whether field is read by Parse and so cannot serve as a
// honeypot.
func Reserved(field string) bool {
	switch field {
	case FieldName, FieldURL, FieldMessage, FieldCaptcha:
		return true
	}
	return false
}

// Submission is one normalized form post.
type Submission struct {
	ReceivedAt time.Time
	Name       string
	URL        string
	Message    string
}

// Options controls intake checks. The zero value accepts every post.
type Options struct {
	HoneypotField   string
	CaptchaAnswer   string
	RequireName     bool
	RequireMessage  bool
	MaxMessageBytes int
}

// Parse reads a submission out of form values received at receivedAt.
func Parse(form url.Values, receivedAt time.Time, opts Options) (Submission, error) {
	if opts.HoneypotField != "" && strings.TrimSpace(form.Get(opts.HoneypotField)) != "" {
		return Submission{}, ErrTrapped
	}
	if opts.CaptchaAnswer != "" {
		answer := strings.ToLower(strings.TrimSpace(form.Get(FieldCaptcha)))
		if answer == "" || !strings.Contains(answer, strings.ToLower(opts.CaptchaAnswer)) {
			return Submission{}, ErrCaptcha
		}
	}

	sub := Submission{
		ReceivedAt: receivedAt.UTC(),
		Name:       strings.TrimSpace(form.Get(FieldName)),
		URL:        NormalizeURL(form.Get(FieldURL)),
		Message:    form.Get(FieldMessage),
	}
	if err := sub.CheckEncoding(); err != nil {
		return Submission{}, err
	}

	if opts.RequireName && sub.Name == "" {
		return Submission{}, fmt.Errorf("%w: %s", ErrMissingField, FieldName)
	}
	if opts.RequireMessage && strings.TrimSpace(sub.Message) == "" {
		return Submission{}, fmt.Errorf("%w: %s", ErrMissingField, FieldMessage)
	}
	if opts.MaxMessageBytes > 0 && len(sub.Message) > opts.MaxMessageBytes {
		return Submission{}, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(sub.Message), opts.MaxMessageBytes)
	}
	return sub, nil
}

// CheckEncoding returns ErrInvalidEncoding naming the first field that is
// not valid UTF-8. The remote re-encodes such bytes, so the stored entry
// would no longer match its content address.
func (s Submission) CheckEncoding() error {
	for _, f := range []struct{ name, value string }{
		{FieldName, s.Name},
		{FieldURL, s.URL},
		{FieldMessage, s.Message},
	} {
		if !utf8.ValidString(f.value) {
			return fmt.Errorf("%w: %s", ErrInvalidEncoding, f.name)
		}
	}
	return nil
}

// NormalizeURL trims raw and prefixes https:// when no http(s) scheme is
// present. An empty input stays empty.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(raw), "http") {
		return "https://" + raw
	}
	return raw
}

// DisplayName is the submitter name used in titles, "anonymous" when unset.
func (s Submission) DisplayName() string {
	if s.Name == "" {
		return "anonymous"
	}
	return s.Name
}

// Entry is the file a submission becomes.
type Entry struct {
	Filename string
	Content  string
}

// Canonicalize derives the entry filename and body. Both are pure functions
// of the submission.
func Canonicalize(s Submission) Entry {
	return Entry{
		Filename: Filename(s.ReceivedAt),
		Content:  Content(s),
	}
}

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Filename returns "<epoch-milliseconds>-submission.html".
func Filename(receivedAt time.Time) string {
	return fmt.Sprintf("%d-submission.html", receivedAt.UnixMilli())
}

// Content renders the entry body:
//
//	\n<YYYY-MM-DD> - <name> (<a href="url">url</a>)\n\n<message>\n\n
//
// The link is omitted without a url and the header is trimmed, so an
// anonymous post without a url reads just "<YYYY-MM-DD> -".
//
// Name and message are text nodes: only &, < and > are escaped, quotes and
// apostrophes are stored as typed. The url sits in an attribute and is
// fully escaped.
func Content(s Submission) string {
	day := s.ReceivedAt.UTC().Format("2006-01-02")
	link := ""
	if s.URL != "" {
		u := html.EscapeString(s.URL)
		link = fmt.Sprintf(`(<a href="%s">%s</a>)`, u, u)
	}
	header := strings.TrimSpace(fmt.Sprintf("%s - %s %s", day, textEscaper.Replace(s.Name), link))
	return "\n" + header + "\n\n" + textEscaper.Replace(s.Message) + "\n\n"
}
