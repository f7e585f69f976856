package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odvcencio/guestbook/pkg/pipeline"
	"github.com/odvcencio/guestbook/pkg/remote"
	"github.com/odvcencio/guestbook/pkg/submission"
)

const (
	pendingText = "Thanks! Your message is pending approval."

	helpForm = `<pre><form method="POST" action="/">
      name: <input name="name" />
      url: <input name="url" />
      text: <textarea name="message"></textarea>

      <button type="submit">send</button>
      </form></pre>`
)

func setCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeHelpForm(w http.ResponseWriter) {
	setCORS(w.Header())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(helpForm))
}

// ProposalHTML renders the confirmation fragment for a proposal URL.
func ProposalHTML(url string) string {
	u := html.EscapeString(url)
	return fmt.Sprintf(`%s<br />see: <a href="%s">%s</a>`, pendingText, u, u)
}

type proposalResponse struct {
	Status string `json:"status"`
	URL    string `json:"url"`
	Number int    `json:"number"`
	Branch string `json:"branch"`
}

type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func writeProposal(w http.ResponseWriter, r *http.Request, p *pipeline.Proposal) {
	setCORS(w.Header())
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, proposalResponse{Status: "pending", URL: p.URL, Number: p.Number, Branch: p.Branch})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(ProposalHTML(p.URL)))
}

// writeAccepted answers as if the post was proposed, without a link.
func writeAccepted(w http.ResponseWriter, r *http.Request) {
	setCORS(w.Header())
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(pendingText))
}

func writeFailure(w http.ResponseWriter, r *http.Request, status int, msg string) {
	setCORS(w.Header())
	if wantsJSON(r) {
		writeJSON(w, status, errorResponse{Status: "error", Error: msg})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(html.EscapeString(msg)))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeIntakeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, submission.ErrTrapped):
		logger.Info("honeypot triggered", "remote_addr", r.RemoteAddr)
		writeAccepted(w, r)
	case errors.Is(err, submission.ErrCaptcha):
		writeFailure(w, r, http.StatusBadRequest, "Please solve the CAPTCHA correctly.")
	case errors.Is(err, submission.ErrMissingField):
		writeFailure(w, r, http.StatusBadRequest, "Please fill in the required fields.")
	case errors.Is(err, submission.ErrTooLarge):
		writeFailure(w, r, http.StatusRequestEntityTooLarge, "Your message is too long.")
	case errors.Is(err, submission.ErrInvalidEncoding):
		logger.Info("submission not valid UTF-8", "error", err)
		writeFailure(w, r, http.StatusBadRequest, "Please submit the form as UTF-8 text.")
	default:
		logger.Error("intake failed", "error", err)
		writeFailure(w, r, http.StatusBadRequest, "Could not read the submitted form.")
	}
}

// writePipelineError separates what the submitter can fix (a conflict:
// resubmit) from what needs an operator.
func (s *Server) writePipelineError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	stage := pipeline.FailedStage(err)
	switch {
	case errors.Is(err, submission.ErrInvalidEncoding):
		logger.Info("submission not valid UTF-8", "error", err)
		writeFailure(w, r, http.StatusBadRequest, "Please submit the form as UTF-8 text.")
	case remote.IsConflict(err):
		logger.Warn("submission conflicted", "stage", stage, "error", err)
		writeFailure(w, r, http.StatusConflict, "A submission with the same timestamp already exists, please submit again.")
	case errors.Is(err, context.DeadlineExceeded):
		logger.Error("submission timed out", "stage", stage, "error", err)
		writeFailure(w, r, http.StatusGatewayTimeout, "The repository took too long to answer, please try again later.")
	case errors.Is(err, context.Canceled):
		logger.Info("submission canceled by client", "stage", stage)
	case errors.Is(err, remote.ErrRateLimited):
		logger.Error("repository rate limit exhausted", "stage", stage, "error", err)
		writeFailure(w, r, http.StatusServiceUnavailable, "The guestbook is busy, please try again later.")
	default:
		logger.Error("submission failed", "stage", stage, "error", err)
		writeFailure(w, r, http.StatusBadGateway, "Your message could not be recorded, please try again later.")
	}
}
