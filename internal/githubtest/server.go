// Package githubtest provides an in-memory stand-in for the GitHub Git Data
// and pull request endpoints used by the submission pipeline.
package githubtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"

	"github.com/odvcencio/guestbook/pkg/object"
)

const (
	Owner = "octo"
	Repo  = "guestbook"
	Token = "test-token"
)

// Commit is a stored commit.
type Commit struct {
	Tree      object.Hash
	Parents   []object.Hash
	Message   string
	Signature string
}

// Pull is a stored pull request.
type Pull struct {
	Number int
	Title  string
	Head   string
	Base   string
	Body   string
	URL    string
}

// Server is a fake repository host. The zero value is not usable; call New.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	defaultBranch string
	refs          map[string]object.Hash
	blobs         map[object.Hash][]byte
	trees         map[object.Hash]map[string]object.Hash
	commits       map[object.Hash]Commit
	pulls         []Pull
	calls         []string
	failures      map[string]int
	blobSHA       func([]byte) object.Hash
}

// New starts a fake server holding one commit on "main" whose tree
// contains README.md.
func New() *Server {
	s := &Server{
		defaultBranch: "main",
		refs:          make(map[string]object.Hash),
		blobs:         make(map[object.Hash][]byte),
		trees:         make(map[object.Hash]map[string]object.Hash),
		commits:       make(map[object.Hash]Commit),
		failures:      make(map[string]int),
		blobSHA:       object.HashBlob,
	}
	readme := s.putBlob([]byte("# guestbook\n"))
	tree := s.putTree(map[string]object.Hash{"README.md": readme})
	head := s.putCommit(Commit{Tree: tree, Message: "initial"})
	s.refs["main"] = head
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// FailWith makes every request whose "METHOD /suffix" key matches route
// answer with status. Suffixes are relative to /repos/{owner}/{repo},
// e.g. "POST /git/blobs".
func (s *Server) FailWith(route string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = status
}

// CorruptBlobSHAs makes blob creation report a sha that does not address
// the stored content.
func (s *Server) CorruptBlobSHAs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobSHA = func(data []byte) object.Hash {
		return object.HashObject("corrupt", data)
	}
}

// Calls returns the "METHOD /suffix" keys of every request served so far.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Ref returns the sha a branch points at.
func (s *Server) Ref(branch string) (object.Hash, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.refs[branch]
	return h, ok
}

// Commit returns a stored commit.
func (s *Server) Commit(h object.Hash) (Commit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commits[h]
	return c, ok
}

// TreeFiles returns the flattened path->blob map of a tree.
func (s *Server) TreeFiles(h object.Hash) map[string]object.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]object.Hash, len(s.trees[h]))
	for k, v := range s.trees[h] {
		out[k] = v
	}
	return out
}

// Blob returns stored blob content.
func (s *Server) Blob(h object.Hash) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[h]
	return b, ok
}

// Pulls returns the opened pull requests.
func (s *Server) Pulls() []Pull {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Pull(nil), s.pulls...)
}

// Advance moves branch forward by one empty commit, simulating a
// concurrent push.
func (s *Server) Advance(branch string) object.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent := s.refs[branch]
	h := s.putCommit(Commit{Tree: s.commits[parent].Tree, Parents: []object.Hash{parent}, Message: "concurrent"})
	s.refs[branch] = h
	return h
}

func (s *Server) putBlob(data []byte) object.Hash {
	h := s.blobSHA(data)
	s.blobs[h] = append([]byte(nil), data...)
	return h
}

func (s *Server) putTree(files map[string]object.Hash) object.Hash {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "%s %s\n", p, files[p])
	}
	h := object.HashObject(object.TypeTree, []byte(b.String()))
	s.trees[h] = files
	return h
}

func (s *Server) putCommit(c Commit) object.Hash {
	var b strings.Builder
	fmt.Fprintf(&b, "tree %s\n", c.Tree)
	for _, p := range c.Parents {
		fmt.Fprintf(&b, "parent %s\n", p)
	}
	fmt.Fprintf(&b, "\n%s", c.Message)
	h := object.HashObject(object.TypeCommit, []byte(b.String()))
	s.commits[h] = c
	return h
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer "+Token {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
		return
	}

	if r.URL.Path == "/rate_limit" && r.Method == http.MethodGet {
		s.calls = append(s.calls, "GET /rate_limit")
		writeJSON(w, http.StatusOK, map[string]any{
			"resources": map[string]any{
				"core": map[string]any{"limit": 5000, "remaining": 4999, "reset": 1704067200},
			},
		})
		return
	}

	prefix := "/repos/" + Owner + "/" + Repo
	if !strings.HasPrefix(r.URL.Path, prefix) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	suffix := strings.TrimPrefix(r.URL.Path, prefix)
	key := r.Method + " " + suffix
	s.calls = append(s.calls, key)

	for route, status := range s.failures {
		if key == route || (strings.HasSuffix(route, "*") && strings.HasPrefix(key, strings.TrimSuffix(route, "*"))) {
			writeJSON(w, status, map[string]string{"message": "injected failure"})
			return
		}
	}

	switch {
	case r.Method == http.MethodGet && suffix == "":
		writeJSON(w, http.StatusOK, map[string]any{"full_name": Owner + "/" + Repo, "default_branch": s.defaultBranch})
	case r.Method == http.MethodGet && strings.HasPrefix(suffix, "/git/ref/heads/"):
		s.getRef(w, strings.TrimPrefix(suffix, "/git/ref/heads/"))
	case r.Method == http.MethodGet && strings.HasPrefix(suffix, "/git/commits/"):
		s.getCommit(w, object.Hash(strings.TrimPrefix(suffix, "/git/commits/")))
	case r.Method == http.MethodPost && suffix == "/git/refs":
		s.createRef(w, r)
	case r.Method == http.MethodPatch && strings.HasPrefix(suffix, "/git/refs/heads/"):
		s.updateRef(w, r, strings.TrimPrefix(suffix, "/git/refs/heads/"))
	case r.Method == http.MethodPost && suffix == "/git/blobs":
		s.createBlob(w, r)
	case r.Method == http.MethodPost && suffix == "/git/trees":
		s.createTree(w, r)
	case r.Method == http.MethodPost && suffix == "/git/commits":
		s.createCommit(w, r)
	case r.Method == http.MethodPost && suffix == "/pulls":
		s.createPull(w, r)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
	}
}

func (s *Server) getRef(w http.ResponseWriter, branch string) {
	h, ok := s.refs[branch]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	writeJSON(w, http.StatusOK, refBody(branch, h))
}

func (s *Server) getCommit(w http.ResponseWriter, h object.Hash) {
	c, ok := s.commits[h]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sha":     string(h),
		"message": c.Message,
		"tree":    map[string]string{"sha": string(c.Tree)},
	})
}

func (s *Server) createRef(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	}
	if !decode(w, r, &req) {
		return
	}
	branch, ok := strings.CutPrefix(req.Ref, "refs/heads/")
	if !ok {
		unprocessable(w, "Reference name must start with refs/heads/")
		return
	}
	if _, exists := s.refs[branch]; exists {
		unprocessable(w, "Reference already exists")
		return
	}
	if _, ok := s.commits[object.Hash(req.SHA)]; !ok {
		unprocessable(w, "Object does not exist")
		return
	}
	s.refs[branch] = object.Hash(req.SHA)
	writeJSON(w, http.StatusCreated, refBody(branch, object.Hash(req.SHA)))
}

func (s *Server) updateRef(w http.ResponseWriter, r *http.Request, branch string) {
	var req struct {
		SHA   string `json:"sha"`
		Force bool   `json:"force"`
	}
	if !decode(w, r, &req) {
		return
	}
	cur, ok := s.refs[branch]
	if !ok {
		unprocessable(w, "Reference does not exist")
		return
	}
	next, ok := s.commits[object.Hash(req.SHA)]
	if !ok {
		unprocessable(w, "Object does not exist")
		return
	}
	if !req.Force && !containsHash(next.Parents, cur) && object.Hash(req.SHA) != cur {
		unprocessable(w, "Update is not a fast forward")
		return
	}
	s.refs[branch] = object.Hash(req.SHA)
	writeJSON(w, http.StatusOK, refBody(branch, object.Hash(req.SHA)))
}

func (s *Server) createBlob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Encoding != "utf-8" {
		unprocessable(w, "encoding must be utf-8")
		return
	}
	h := s.putBlob([]byte(req.Content))
	writeJSON(w, http.StatusCreated, map[string]string{"sha": string(h), "url": s.URL + "/blobs/" + string(h)})
}

func (s *Server) createTree(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BaseTree string `json:"base_tree"`
		Tree     []struct {
			Path string `json:"path"`
			Mode string `json:"mode"`
			Type string `json:"type"`
			SHA  string `json:"sha"`
		} `json:"tree"`
	}
	if !decode(w, r, &req) {
		return
	}
	base, ok := s.trees[object.Hash(req.BaseTree)]
	if !ok {
		unprocessable(w, "base_tree is not a valid tree")
		return
	}
	files := make(map[string]object.Hash, len(base)+len(req.Tree))
	for p, h := range base {
		files[p] = h
	}
	for _, e := range req.Tree {
		if _, ok := s.blobs[object.Hash(e.SHA)]; !ok || e.Type != "blob" {
			unprocessable(w, "tree.sha "+e.SHA+" is not a valid blob")
			return
		}
		files[e.Path] = object.Hash(e.SHA)
	}
	h := s.putTree(files)
	writeJSON(w, http.StatusCreated, map[string]string{"sha": string(h)})
}

func (s *Server) createCommit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message   string   `json:"message"`
		Tree      string   `json:"tree"`
		Parents   []string `json:"parents"`
		Signature string   `json:"signature"`
	}
	if !decode(w, r, &req) {
		return
	}
	if _, ok := s.trees[object.Hash(req.Tree)]; !ok {
		unprocessable(w, "Tree SHA does not exist")
		return
	}
	c := Commit{Tree: object.Hash(req.Tree), Message: req.Message, Signature: req.Signature}
	for _, p := range req.Parents {
		if _, ok := s.commits[object.Hash(p)]; !ok {
			unprocessable(w, "Parent SHA does not exist or is not a commit object")
			return
		}
		c.Parents = append(c.Parents, object.Hash(p))
	}
	h := s.putCommit(c)
	writeJSON(w, http.StatusCreated, map[string]string{"sha": string(h)})
}

func (s *Server) createPull(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
		Head  string `json:"head"`
		Base  string `json:"base"`
		Body  string `json:"body"`
	}
	if !decode(w, r, &req) {
		return
	}
	head, ok := s.refs[req.Head]
	if !ok {
		unprocessable(w, "head invalid")
		return
	}
	base, ok := s.refs[req.Base]
	if !ok {
		unprocessable(w, "base invalid")
		return
	}
	for _, p := range s.pulls {
		if p.Head == req.Head && p.Base == req.Base {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"message": "Validation Failed",
				"errors": []map[string]string{{
					"resource": "PullRequest",
					"code":     "custom",
					"message":  "A pull request already exists for " + Owner + ":" + req.Head + ".",
				}},
			})
			return
		}
	}
	if head == base {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": "Validation Failed",
			"errors": []map[string]string{{
				"resource": "PullRequest",
				"code":     "custom",
				"message":  "No commits between " + req.Base + " and " + req.Head,
			}},
		})
		return
	}
	number := len(s.pulls) + 1
	pull := Pull{
		Number: number,
		Title:  req.Title,
		Head:   req.Head,
		Base:   req.Base,
		Body:   req.Body,
		URL:    fmt.Sprintf("https://github.com/%s/%s/pull/%d", Owner, Repo, number),
	}
	s.pulls = append(s.pulls, pull)
	writeJSON(w, http.StatusCreated, map[string]any{"number": number, "html_url": pull.URL, "state": "open"})
}

func refBody(branch string, h object.Hash) map[string]any {
	return map[string]any{
		"ref":    "refs/heads/" + branch,
		"object": map[string]string{"type": "commit", "sha": string(h)},
	}
}

func containsHash(list []object.Hash, h object.Hash) bool {
	for _, x := range list {
		if x == h {
			return true
		}
	}
	return false
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Problems parsing JSON"})
		return false
	}
	return true
}

func unprocessable(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
