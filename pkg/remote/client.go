package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/odvcencio/guestbook/pkg/object"
)

// Repository identifies the target repository as owner/name.
type Repository struct {
	Owner string
	Name  string
}

func (r Repository) String() string {
	return r.Owner + "/" + r.Name
}

// ParseRepository parses a repository identifier.
//
// Supported inputs include:
// - owner/repo
// - https://github.com/owner/repo(.git)
// - https://api.github.com/repos/owner/repo
func ParseRepository(raw string) (Repository, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Repository{}, fmt.Errorf("repository is required")
	}

	p := raw
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return Repository{}, fmt.Errorf("parse repository URL: %w", err)
		}
		if u.Host == "" {
			return Repository{}, fmt.Errorf("repository URL must include a host")
		}
		p = u.Path
	}

	segments := splitPathSegments(p)
	if len(segments) > 0 && segments[0] == "repos" {
		segments = segments[1:]
	}
	if len(segments) != 2 {
		return Repository{}, fmt.Errorf("repository %q must have the form owner/name", raw)
	}
	repo := Repository{
		Owner: segments[0],
		Name:  strings.TrimSuffix(segments[1], ".git"),
	}
	if repo.Owner == "" || repo.Name == "" {
		return Repository{}, fmt.Errorf("repository %q must include non-empty owner and name", raw)
	}
	return repo, nil
}

func splitPathSegments(p string) []string {
	p = strings.TrimSpace(path.Clean("/" + p))
	p = strings.TrimPrefix(p, "/")
	if p == "" || p == "." {
		return nil
	}
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" && part != "." {
			out = append(out, part)
		}
	}
	return out
}

// ClientOptions configures the REST client.
type ClientOptions struct {
	BaseURL     string        // API root (default https://api.github.com)
	Token       string        // bearer credential
	UserAgent   string        // default "guestbook-submitter"
	CallTimeout time.Duration // per-request deadline (default 10s)
	HTTPClient  *http.Client  // default: a client without its own timeout

	// SkipContentCheck disables comparing the blob sha returned by the
	// remote against the locally computed git blob id.
	SkipContentCheck bool
}

// responseLimit caps how much of a response body is read.
const responseLimit = 2 << 20 // 2MB

// Client issues the Git Data and pull request operations against one
// repository. It holds no per-submission state and is safe for concurrent
// use. No operation is retried.
type Client struct {
	repo         Repository
	baseURL      string
	token        string
	userAgent    string
	callTimeout  time.Duration
	httpClient   *http.Client
	checkContent bool
}

// NewClient creates a client for repo.
func NewClient(repo Repository, opts ClientOptions) (*Client, error) {
	if repo.Owner == "" || repo.Name == "" {
		return nil, fmt.Errorf("repository owner and name are required")
	}

	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse API base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("API base URL must include scheme and host")
	}

	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = DefaultUserAgent
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		repo:         repo,
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        strings.TrimSpace(opts.Token),
		userAgent:    opts.UserAgent,
		callTimeout:  opts.CallTimeout,
		httpClient:   httpClient,
		checkContent: !opts.SkipContentCheck,
	}, nil
}

// Repository returns the target repository.
func (c *Client) Repository() Repository {
	return c.repo
}

func (c *Client) repoPath(suffix string) string {
	return "/repos/" + url.PathEscape(c.repo.Owner) + "/" + url.PathEscape(c.repo.Name) + suffix
}

// DefaultBranch returns the repository's default branch name.
func (c *Client) DefaultBranch(ctx context.Context) (string, error) {
	const op = "resolve default branch"
	var resp struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := c.do(ctx, op, http.MethodGet, c.repoPath(""), nil, http.StatusOK, &resp); err != nil {
		return "", err
	}
	branch := strings.TrimSpace(resp.DefaultBranch)
	if branch == "" {
		return "", malformed(op, "default_branch is missing")
	}
	return branch, nil
}

// HeadCommit returns the commit sha branch points at.
func (c *Client) HeadCommit(ctx context.Context, branch string) (object.Hash, error) {
	const op = "resolve head commit"
	var resp refResponse
	if err := c.do(ctx, op, http.MethodGet, c.repoPath("/git/ref/heads/"+escapeRef(branch)), nil, http.StatusOK, &resp); err != nil {
		return "", err
	}
	return resp.commitSHA(op)
}

// CommitTree returns the tree sha of a commit.
func (c *Client) CommitTree(ctx context.Context, commit object.Hash) (object.Hash, error) {
	const op = "resolve tree"
	var resp struct {
		SHA  string `json:"sha"`
		Tree *struct {
			SHA string `json:"sha"`
		} `json:"tree"`
	}
	if err := c.do(ctx, op, http.MethodGet, c.repoPath("/git/commits/"+string(commit)), nil, http.StatusOK, &resp); err != nil {
		return "", err
	}
	if resp.Tree == nil {
		return "", malformed(op, "tree is missing")
	}
	return validSHA(op, "tree.sha", resp.Tree.SHA)
}

// CreateBranch creates refs/heads/name at sha. An existing branch of the
// same name fails with ErrConflict.
func (c *Client) CreateBranch(ctx context.Context, name string, sha object.Hash) error {
	const op = "create branch"
	req := struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	}{
		Ref: "refs/heads/" + name,
		SHA: string(sha),
	}
	var resp refResponse
	if err := c.do(ctx, op, http.MethodPost, c.repoPath("/git/refs"), req, http.StatusCreated, &resp); err != nil {
		return err
	}
	_, err := resp.commitSHA(op)
	return err
}

// CreateBlob stores content as a UTF-8 blob and returns its sha. Unless
// disabled, the returned sha must equal the git blob id of content.
func (c *Client) CreateBlob(ctx context.Context, content []byte) (object.Hash, error) {
	const op = "create blob"
	req := struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}{
		Content:  string(content),
		Encoding: "utf-8",
	}
	var resp shaResponse
	if err := c.do(ctx, op, http.MethodPost, c.repoPath("/git/blobs"), req, http.StatusCreated, &resp); err != nil {
		return "", err
	}
	sha, err := validSHA(op, "sha", resp.SHA)
	if err != nil {
		return "", err
	}
	if c.checkContent {
		if want := object.HashBlob(content); sha != want {
			return "", malformed(op, fmt.Sprintf("blob sha %s does not address content (expected %s)", sha, want))
		}
	}
	return sha, nil
}

// CreateTree overlays entries on base and returns the new tree sha. Paths
// not named in entries are inherited from base unchanged.
func (c *Client) CreateTree(ctx context.Context, base object.Hash, entries []TreeEntry) (object.Hash, error) {
	const op = "create tree"
	if len(entries) == 0 {
		return "", fmt.Errorf("%s: at least one entry is required", op)
	}
	req := struct {
		BaseTree string      `json:"base_tree"`
		Tree     []TreeEntry `json:"tree"`
	}{
		BaseTree: string(base),
		Tree:     make([]TreeEntry, 0, len(entries)),
	}
	for _, e := range entries {
		if e.Mode == "" {
			e.Mode = object.TreeModeFile
		}
		if e.Type == "" {
			e.Type = object.TypeBlob
		}
		req.Tree = append(req.Tree, e)
	}
	var resp shaResponse
	if err := c.do(ctx, op, http.MethodPost, c.repoPath("/git/trees"), req, http.StatusCreated, &resp); err != nil {
		return "", err
	}
	return validSHA(op, "sha", resp.SHA)
}

// CreateCommit creates a single-parent commit and returns its sha.
func (c *Client) CreateCommit(ctx context.Context, commit CommitRequest) (object.Hash, error) {
	const op = "create commit"
	req := struct {
		Message   string         `json:"message"`
		Tree      string         `json:"tree"`
		Parents   []string       `json:"parents"`
		Author    *identityField `json:"author,omitempty"`
		Committer *identityField `json:"committer,omitempty"`
		Signature string         `json:"signature,omitempty"`
	}{
		Message:   commit.Message,
		Tree:      string(commit.Tree),
		Parents:   []string{string(commit.Parent)},
		Author:    newIdentityField(commit.Author),
		Committer: newIdentityField(commit.Committer),
		Signature: commit.Signature,
	}
	var resp shaResponse
	if err := c.do(ctx, op, http.MethodPost, c.repoPath("/git/commits"), req, http.StatusCreated, &resp); err != nil {
		return "", err
	}
	return validSHA(op, "sha", resp.SHA)
}

// UpdateRef points branch at sha. The update is not compare-and-swap; the
// remote only refuses non-fast-forward moves.
func (c *Client) UpdateRef(ctx context.Context, branch string, sha object.Hash) error {
	const op = "update ref"
	req := struct {
		SHA   string `json:"sha"`
		Force bool   `json:"force"`
	}{
		SHA: string(sha),
	}
	var resp refResponse
	if err := c.do(ctx, op, http.MethodPatch, c.repoPath("/git/refs/heads/"+escapeRef(branch)), req, http.StatusOK, &resp); err != nil {
		return err
	}
	_, err := resp.commitSHA(op)
	return err
}

// CreatePullRequest opens a pull request of head against base.
func (c *Client) CreatePullRequest(ctx context.Context, title, head, base, body string) (PullRequest, error) {
	const op = "create pull request"
	req := struct {
		Title string `json:"title"`
		Head  string `json:"head"`
		Base  string `json:"base"`
		Body  string `json:"body"`
	}{
		Title: title,
		Head:  head,
		Base:  base,
		Body:  body,
	}
	var resp struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	}
	if err := c.do(ctx, op, http.MethodPost, c.repoPath("/pulls"), req, http.StatusCreated, &resp); err != nil {
		return PullRequest{}, err
	}
	if strings.TrimSpace(resp.HTMLURL) == "" {
		return PullRequest{}, malformed(op, "html_url is missing")
	}
	return PullRequest{
		Number: resp.Number,
		URL:    resp.HTMLURL,
		Title:  title,
		Head:   head,
		Base:   base,
		Body:   body,
	}, nil
}

// RateLimit reports the remaining core API quota.
func (c *Client) RateLimit(ctx context.Context) (RateLimit, error) {
	const op = "read rate limit"
	var resp struct {
		Resources struct {
			Core *struct {
				Limit     int   `json:"limit"`
				Remaining int   `json:"remaining"`
				Reset     int64 `json:"reset"`
			} `json:"core"`
		} `json:"resources"`
	}
	if err := c.do(ctx, op, http.MethodGet, "/rate_limit", nil, http.StatusOK, &resp); err != nil {
		return RateLimit{}, err
	}
	core := resp.Resources.Core
	if core == nil {
		return RateLimit{}, malformed(op, "resources.core is missing")
	}
	return RateLimit{
		Limit:     core.Limit,
		Remaining: core.Remaining,
		Reset:     time.Unix(core.Reset, 0).UTC(),
	}, nil
}

// do sends one JSON request under the per-call deadline and decodes the
// response into out.
func (c *Client) do(ctx context.Context, op, method, p string, in any, expectedStatus int, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+p, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: ErrTransport, Op: op, Method: method, Path: p, Err: unwrapURLError(err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseLimit))
	if err != nil {
		return &Error{Kind: ErrTransport, Op: op, Method: method, Path: p, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != expectedStatus {
		apiErr := tryParseAPIError(raw)
		msg := strings.TrimSpace(string(raw))
		if apiErr != nil {
			msg = apiErr.Error()
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &Error{
			Kind:    classifyStatus(resp.StatusCode, resp.Header, apiErr),
			Op:      op,
			Method:  method,
			Path:    p,
			Status:  resp.StatusCode,
			Message: msg,
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Kind: ErrMalformedResponse, Op: op, Method: method, Path: p, Status: resp.StatusCode, Err: err}
	}
	return nil
}

func (c *Client) applyHeaders(req *http.Request) {
	req.Header.Set("Accept", MediaType)
	req.Header.Set(headerAPIVersion, APIVersion)
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// unwrapURLError drops the *url.Error wrapper, whose message repeats the
// full request URL.
func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}

// escapeRef escapes each segment of a branch name for use in a URL path.
func escapeRef(name string) string {
	parts := strings.Split(name, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func malformed(op, msg string) error {
	return &Error{Kind: ErrMalformedResponse, Op: op, Message: msg}
}

func validSHA(op, field, raw string) (object.Hash, error) {
	h := object.Hash(strings.TrimSpace(raw))
	if err := object.ValidateHash(h); err != nil {
		return "", malformed(op, fmt.Sprintf("%s: %v", field, err))
	}
	return h, nil
}

type shaResponse struct {
	SHA string `json:"sha"`
}

type refResponse struct {
	Ref    string `json:"ref"`
	Object *struct {
		Type string `json:"type"`
		SHA  string `json:"sha"`
	} `json:"object"`
}

func (r refResponse) commitSHA(op string) (object.Hash, error) {
	if r.Object == nil {
		return "", malformed(op, "object is missing")
	}
	return validSHA(op, "object.sha", r.Object.SHA)
}
