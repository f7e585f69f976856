package remote

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// MediaType pins the REST API version through the Accept header.
	MediaType = "application/vnd.github.v3+json"

	// APIVersion is sent as X-GitHub-Api-Version.
	APIVersion = "2022-11-28"

	// DefaultBaseURL is the public GitHub REST endpoint.
	DefaultBaseURL = "https://api.github.com"

	// DefaultUserAgent identifies this client when none is configured.
	DefaultUserAgent = "guestbook-submitter"

	headerAPIVersion = "X-GitHub-Api-Version"
)

// APIError is the JSON error body returned by the REST API.
type APIError struct {
	Message          string          `json:"message"`
	DocumentationURL string          `json:"documentation_url,omitempty"`
	Errors           []APIErrorEntry `json:"errors,omitempty"`
}

// APIErrorEntry is one validation detail of an APIError.
type APIErrorEntry struct {
	Resource string `json:"resource,omitempty"`
	Field    string `json:"field,omitempty"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
}

func (e *APIError) Error() string {
	details := make([]string, 0, len(e.Errors))
	for _, d := range e.Errors {
		switch {
		case d.Message != "":
			details = append(details, d.Message)
		case d.Code != "":
			details = append(details, fmt.Sprintf("%s %s %s", d.Resource, d.Field, d.Code))
		}
	}
	if len(details) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(details, "; "))
}

// alreadyExists reports the 422 flavours that mean a duplicate ref or an
// open pull request for the same head.
func (e *APIError) alreadyExists() bool {
	if strings.Contains(strings.ToLower(e.Message), "already exists") {
		return true
	}
	for _, d := range e.Errors {
		if d.Code == "already_exists" || strings.Contains(strings.ToLower(d.Message), "already exists") {
			return true
		}
	}
	return false
}

// tryParseAPIError attempts to parse a JSON error response body.
func tryParseAPIError(body []byte) *APIError {
	var ae APIError
	if err := json.Unmarshal(body, &ae); err != nil {
		return nil
	}
	if ae.Message == "" && len(ae.Errors) == 0 {
		return nil
	}
	return &ae
}
