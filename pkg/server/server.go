// Package server exposes the submission pipeline over HTTP: CORS preflight,
// a help form, form intake and the confirmation response.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"
	"golang.org/x/time/rate"

	"github.com/odvcencio/guestbook/pkg/pipeline"
	"github.com/odvcencio/guestbook/pkg/submission"
)

// Runner is the pipeline entry point. *pipeline.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, sub submission.Submission, entry submission.Entry) (*pipeline.Proposal, error)
}

// Options configures a Server.
type Options struct {
	Intake submission.Options

	// RatePerMinute <= 0 disables the submission limiter.
	RatePerMinute float64
	Burst         int

	// MaxFormBytes caps the request body (default 1MB).
	MaxFormBytes int64

	Now func() time.Time
}

// Server handles guestbook submissions.
type Server struct {
	runner  Runner
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a Server submitting through runner.
func New(runner Runner, opts Options, logger *slog.Logger) *Server {
	if opts.MaxFormBytes <= 0 {
		opts.MaxFormBytes = 1 << 20
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{runner: runner, opts: opts, logger: logger}
	if opts.RatePerMinute > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RatePerMinute/60), burst)
	}
	return s
}

// Handler returns the routed, compressed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.HandleHealth)
	mux.HandleFunc("/", s.HandleRoot)
	return gzhttp.GzipHandler(mux)
}

// HandleHealth reports liveness.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleRoot dispatches on method: OPTIONS answers the CORS preflight, POST
// submits, anything else gets the help form.
func (s *Server) HandleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		setCORS(w.Header())
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodOptions:
		setCORS(w.Header())
		w.WriteHeader(http.StatusOK)
	case http.MethodPost:
		s.submit(w, r)
	default:
		writeHelpForm(w)
	}
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	receivedAt := s.opts.Now()
	logger := s.logger.With("request_id", uuid.NewString())

	if s.limiter != nil && !s.limiter.Allow() {
		logger.Warn("submission rate limited", "remote_addr", r.RemoteAddr)
		writeFailure(w, r, http.StatusTooManyRequests, "Too many submissions right now, please try again in a minute.")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxFormBytes)
	if err := r.ParseForm(); err != nil {
		logger.Info("unreadable submission", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeFailure(w, r, http.StatusRequestEntityTooLarge, "Your message is too long.")
			return
		}
		writeFailure(w, r, http.StatusBadRequest, "Could not read the submitted form.")
		return
	}

	sub, err := submission.Parse(r.PostForm, receivedAt, s.opts.Intake)
	if err != nil {
		s.writeIntakeError(w, r, logger, err)
		return
	}
	entry := submission.Canonicalize(sub)
	logger = logger.With("file", entry.Filename)

	proposal, err := s.runner.Run(r.Context(), sub, entry)
	if err != nil {
		s.writePipelineError(w, r, logger, err)
		return
	}
	logger.Info("submission accepted", "url", proposal.URL, "number", proposal.Number)
	writeProposal(w, r, proposal)
}
