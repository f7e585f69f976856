package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/odvcencio/guestbook/internal/githubtest"
	"github.com/odvcencio/guestbook/pkg/object"
)

func TestParseRepository(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		wantOwner  string
		wantName   string
		shouldFail bool
	}{
		{name: "owner slash name", in: "alice/guestbook", wantOwner: "alice", wantName: "guestbook"},
		{name: "web url", in: "https://github.com/alice/guestbook", wantOwner: "alice", wantName: "guestbook"},
		{name: "clone url", in: "https://github.com/alice/guestbook.git", wantOwner: "alice", wantName: "guestbook"},
		{name: "api url", in: "https://api.github.com/repos/alice/guestbook", wantOwner: "alice", wantName: "guestbook"},
		{name: "empty", in: "  ", shouldFail: true},
		{name: "single segment", in: "guestbook", shouldFail: true},
		{name: "too many segments", in: "a/b/c", shouldFail: true},
		{name: "url without host", in: "https:///alice/guestbook", shouldFail: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo, err := ParseRepository(tc.in)
			if tc.shouldFail {
				if err == nil {
					t.Fatalf("expected error, got %+v", repo)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRepository: %v", err)
			}
			if repo.Owner != tc.wantOwner {
				t.Fatalf("Owner = %q, want %q", repo.Owner, tc.wantOwner)
			}
			if repo.Name != tc.wantName {
				t.Fatalf("Name = %q, want %q", repo.Name, tc.wantName)
			}
		})
	}
}

func newFakeClient(t *testing.T, opts ClientOptions) (*Client, *githubtest.Server) {
	t.Helper()
	srv := githubtest.New()
	t.Cleanup(srv.Close)
	opts.BaseURL = srv.URL
	if opts.Token == "" {
		opts.Token = githubtest.Token
	}
	c, err := NewClient(Repository{Owner: githubtest.Owner, Name: githubtest.Repo}, opts)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, srv
}

func TestClientBaselineReads(t *testing.T) {
	c, srv := newFakeClient(t, ClientOptions{})
	ctx := context.Background()

	branch, err := c.DefaultBranch(ctx)
	if err != nil {
		t.Fatalf("DefaultBranch: %v", err)
	}
	if branch != "main" {
		t.Fatalf("DefaultBranch = %q, want main", branch)
	}

	head, err := c.HeadCommit(ctx, branch)
	if err != nil {
		t.Fatalf("HeadCommit: %v", err)
	}
	want, _ := srv.Ref("main")
	if head != want {
		t.Fatalf("HeadCommit = %s, want %s", head, want)
	}

	tree, err := c.CommitTree(ctx, head)
	if err != nil {
		t.Fatalf("CommitTree: %v", err)
	}
	commit, _ := srv.Commit(head)
	if tree != commit.Tree {
		t.Fatalf("CommitTree = %s, want %s", tree, commit.Tree)
	}
}

func TestClientWritesObjects(t *testing.T) {
	c, srv := newFakeClient(t, ClientOptions{})
	ctx := context.Background()

	head, _ := srv.Ref("main")
	baseCommit, _ := srv.Commit(head)

	if err := c.CreateBranch(ctx, "submission/x.html", head); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	content := []byte("\n2024-01-01 - Ada\n\nHello world\n\n")
	blob, err := c.CreateBlob(ctx, content)
	if err != nil {
		t.Fatalf("CreateBlob: %v", err)
	}
	if blob != object.HashBlob(content) {
		t.Fatalf("CreateBlob = %s, want git blob id %s", blob, object.HashBlob(content))
	}

	tree, err := c.CreateTree(ctx, baseCommit.Tree, []TreeEntry{{Path: "entries/x.html", SHA: blob}})
	if err != nil {
		t.Fatalf("CreateTree: %v", err)
	}
	files := srv.TreeFiles(tree)
	if files["entries/x.html"] != blob {
		t.Fatalf("tree entry = %s, want %s", files["entries/x.html"], blob)
	}
	if _, ok := files["README.md"]; !ok {
		t.Fatalf("base tree path README.md was not inherited: %v", files)
	}

	commit, err := c.CreateCommit(ctx, CommitRequest{Message: "m", Tree: tree, Parent: head})
	if err != nil {
		t.Fatalf("CreateCommit: %v", err)
	}
	if err := c.UpdateRef(ctx, "submission/x.html", commit); err != nil {
		t.Fatalf("UpdateRef: %v", err)
	}
	if got, _ := srv.Ref("submission/x.html"); got != commit {
		t.Fatalf("branch points at %s, want %s", got, commit)
	}

	pr, err := c.CreatePullRequest(ctx, "title", "submission/x.html", "main", "body")
	if err != nil {
		t.Fatalf("CreatePullRequest: %v", err)
	}
	if pr.Number != 1 || !strings.HasSuffix(pr.URL, "/pull/1") {
		t.Fatalf("unexpected pull request %+v", pr)
	}
	if pr.Head != "submission/x.html" || pr.Base != "main" {
		t.Fatalf("pull request head/base = %q/%q", pr.Head, pr.Base)
	}
}

func TestClientErrorTaxonomy(t *testing.T) {
	ctx := context.Background()

	t.Run("conflict on existing branch", func(t *testing.T) {
		c, srv := newFakeClient(t, ClientOptions{})
		head, _ := srv.Ref("main")
		err := c.CreateBranch(ctx, "main", head)
		if !IsConflict(err) {
			t.Fatalf("CreateBranch error = %v, want ErrConflict", err)
		}
		var re *Error
		if !errors.As(err, &re) || re.Status != http.StatusUnprocessableEntity {
			t.Fatalf("expected *Error with status 422, got %#v", err)
		}
	})

	t.Run("conflict on duplicate pull request", func(t *testing.T) {
		c, srv := newFakeClient(t, ClientOptions{})
		head, _ := srv.Ref("main")
		if err := c.CreateBranch(ctx, "feature", head); err != nil {
			t.Fatalf("CreateBranch: %v", err)
		}
		srv.Advance("feature")
		if _, err := c.CreatePullRequest(ctx, "t", "feature", "main", "b"); err != nil {
			t.Fatalf("CreatePullRequest: %v", err)
		}
		_, err := c.CreatePullRequest(ctx, "t", "feature", "main", "b")
		if !IsConflict(err) {
			t.Fatalf("second CreatePullRequest error = %v, want ErrConflict", err)
		}
	})

	t.Run("no commits between head and base", func(t *testing.T) {
		c, srv := newFakeClient(t, ClientOptions{})
		head, _ := srv.Ref("main")
		if err := c.CreateBranch(ctx, "feature", head); err != nil {
			t.Fatalf("CreateBranch: %v", err)
		}
		_, err := c.CreatePullRequest(ctx, "t", "feature", "main", "b")
		if IsConflict(err) || !errors.Is(err, ErrRejected) {
			t.Fatalf("CreatePullRequest error = %v, want ErrRejected", err)
		}
	})

	t.Run("unauthorized", func(t *testing.T) {
		c, _ := newFakeClient(t, ClientOptions{Token: "wrong"})
		_, err := c.DefaultBranch(ctx)
		if !IsUnauthorized(err) {
			t.Fatalf("DefaultBranch error = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		c, _ := newFakeClient(t, ClientOptions{})
		_, err := c.HeadCommit(ctx, "does-not-exist")
		if !IsNotFound(err) {
			t.Fatalf("HeadCommit error = %v, want ErrNotFound", err)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		c, srv := newFakeClient(t, ClientOptions{})
		srv.FailWith("POST /git/blobs", http.StatusInternalServerError)
		_, err := c.CreateBlob(ctx, []byte("x"))
		if !errors.Is(err, ErrRejected) {
			t.Fatalf("CreateBlob error = %v, want ErrRejected", err)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		c, srv := newFakeClient(t, ClientOptions{})
		srv.FailWith("GET ", http.StatusTooManyRequests)
		_, err := c.DefaultBranch(ctx)
		if !errors.Is(err, ErrRateLimited) {
			t.Fatalf("DefaultBranch error = %v, want ErrRateLimited", err)
		}
	})

	t.Run("transport", func(t *testing.T) {
		c, srv := newFakeClient(t, ClientOptions{})
		srv.Close()
		_, err := c.DefaultBranch(ctx)
		if !errors.Is(err, ErrTransport) {
			t.Fatalf("DefaultBranch error = %v, want ErrTransport", err)
		}
	})

	t.Run("content address mismatch", func(t *testing.T) {
		c, srv := newFakeClient(t, ClientOptions{})
		srv.CorruptBlobSHAs()
		_, err := c.CreateBlob(ctx, []byte("x"))
		if !errors.Is(err, ErrMalformedResponse) {
			t.Fatalf("CreateBlob error = %v, want ErrMalformedResponse", err)
		}
	})

	t.Run("content check disabled", func(t *testing.T) {
		c, srv := newFakeClient(t, ClientOptions{SkipContentCheck: true})
		srv.CorruptBlobSHAs()
		if _, err := c.CreateBlob(ctx, []byte("x")); err != nil {
			t.Fatalf("CreateBlob: %v", err)
		}
	})
}

func TestClientMalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
		call func(c *Client) error
	}{
		{
			name: "missing default branch",
			body: `{"full_name":"o/r"}`,
			call: func(c *Client) error { _, err := c.DefaultBranch(context.Background()); return err },
		},
		{
			name: "ref without object",
			body: `{"ref":"refs/heads/main"}`,
			call: func(c *Client) error { _, err := c.HeadCommit(context.Background(), "main"); return err },
		},
		{
			name: "commit without tree",
			body: `{"sha":"ce013625030ba8dba906f756967f9e9ca394464a"}`,
			call: func(c *Client) error {
				_, err := c.CommitTree(context.Background(), "ce013625030ba8dba906f756967f9e9ca394464a")
				return err
			},
		},
		{
			name: "invalid sha",
			body: `{"ref":"refs/heads/main","object":{"sha":"nope"}}`,
			call: func(c *Client) error { _, err := c.HeadCommit(context.Background(), "main"); return err },
		},
		{
			name: "not json",
			body: `<html>`,
			call: func(c *Client) error { _, err := c.DefaultBranch(context.Background()); return err },
		},
		{
			name: "missing html_url",
			body: `{"number":3}`,
			call: func(c *Client) error {
				_, err := c.CreatePullRequest(context.Background(), "t", "h", "b", "")
				return err
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodPost {
					w.WriteHeader(http.StatusCreated)
				}
				_, _ = w.Write([]byte(tc.body))
			}))
			defer ts.Close()

			c, err := NewClient(Repository{Owner: "o", Name: "r"}, ClientOptions{BaseURL: ts.URL, Token: "t"})
			if err != nil {
				t.Fatalf("NewClient: %v", err)
			}
			if err := tc.call(c); !errors.Is(err, ErrMalformedResponse) {
				t.Fatalf("error = %v, want ErrMalformedResponse", err)
			}
		})
	}
}

func TestClientRequestShape(t *testing.T) {
	var got struct {
		method, path, accept, auth, version, ua, contentType string
		body                                                 map[string]any
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.accept = r.Header.Get("Accept")
		got.auth = r.Header.Get("Authorization")
		got.version = r.Header.Get("X-GitHub-Api-Version")
		got.ua = r.Header.Get("User-Agent")
		got.contentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&got.body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sha":"ce013625030ba8dba906f756967f9e9ca394464a"}`))
	}))
	defer ts.Close()

	c, err := NewClient(Repository{Owner: "o", Name: "r"}, ClientOptions{BaseURL: ts.URL + "/", Token: "secret", UserAgent: "ua-test"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	when := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	id := &object.Identity{Name: "bot", Email: "bot@example.com", When: when}
	_, err = c.CreateCommit(context.Background(), CommitRequest{
		Message:   "msg",
		Tree:      "1111111111111111111111111111111111111111",
		Parent:    "2222222222222222222222222222222222222222",
		Author:    id,
		Committer: id,
		Signature: "sig",
	})
	if err != nil {
		t.Fatalf("CreateCommit: %v", err)
	}

	if got.method != http.MethodPost || got.path != "/repos/o/r/git/commits" {
		t.Fatalf("request = %s %s", got.method, got.path)
	}
	if got.accept != MediaType {
		t.Fatalf("Accept = %q, want %q", got.accept, MediaType)
	}
	if got.auth != "Bearer secret" {
		t.Fatalf("Authorization = %q", got.auth)
	}
	if got.version != APIVersion {
		t.Fatalf("X-GitHub-Api-Version = %q", got.version)
	}
	if got.ua != "ua-test" {
		t.Fatalf("User-Agent = %q", got.ua)
	}
	if got.contentType != "application/json" {
		t.Fatalf("Content-Type = %q", got.contentType)
	}
	parents, _ := got.body["parents"].([]any)
	if len(parents) != 1 || parents[0] != "2222222222222222222222222222222222222222" {
		t.Fatalf("parents = %v", got.body["parents"])
	}
	author, _ := got.body["author"].(map[string]any)
	if author["date"] != "2024-01-01T00:00:00Z" {
		t.Fatalf("author.date = %v", author["date"])
	}
	if got.body["signature"] != "sig" {
		t.Fatalf("signature = %v", got.body["signature"])
	}
}

func TestClientCallTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	c, err := NewClient(Repository{Owner: "o", Name: "r"}, ClientOptions{BaseURL: ts.URL, CallTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.DefaultBranch(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("error = %v, want ErrTransport", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want context.DeadlineExceeded in chain", err)
	}
}

func TestClientRateLimit(t *testing.T) {
	c, _ := newFakeClient(t, ClientOptions{})
	rl, err := c.RateLimit(context.Background())
	if err != nil {
		t.Fatalf("RateLimit: %v", err)
	}
	if rl.Limit != 5000 || rl.Remaining != 4999 {
		t.Fatalf("RateLimit = %+v", rl)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Repository{}, ClientOptions{}); err == nil {
		t.Fatal("expected error for empty repository")
	}
	if _, err := NewClient(Repository{Owner: "o", Name: "r"}, ClientOptions{BaseURL: "not a url"}); err == nil {
		t.Fatal("expected error for base URL without scheme")
	}
}
