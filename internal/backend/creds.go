// Package backend implements the client for the orchestrator service: result
// pushes, operation downloads, acks, and reachability pings.
package backend

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// Auth headers expected by the orchestrator.
const (
	HeaderID    = "x-mcd-id"
	HeaderToken = "x-mcd-token"
)

// Credentials identify this agent to the orchestrator.
type Credentials struct {
	ID    string
	Token string
}

// CredentialsProvider returns the current credentials. Providers must be
// safe for concurrent use.
type CredentialsProvider interface {
	Credentials() Credentials
}

// FileCredentials reads credentials from the secret file the app mounts
// into the container. The file is re-read when its mtime changes, so a
// rotated secret takes effect without a restart. Missing or malformed files
// yield placeholder values rather than an error; requests then fail with 401
// until the secret shows up.
type FileCredentials struct {
	path  string
	local bool

	mu      sync.Mutex
	cached  Credentials
	modTime time.Time
	loaded  bool
}

// NewFileCredentials creates a provider over the mounted secret file. In
// local mode fixed development credentials are returned instead.
func NewFileCredentials(path string, local bool) *FileCredentials {
	return &FileCredentials{path: path, local: local}
}

func (p *FileCredentials) Credentials() Credentials {
	if p.local {
		return Credentials{ID: "local-token-id", Token: "local-token-secret"}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	info, err := os.Stat(p.path)
	if err != nil {
		return placeholderCredentials()
	}
	if p.loaded && info.ModTime().Equal(p.modTime) {
		return p.cached
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		return placeholderCredentials()
	}
	var parsed struct {
		ID    string `json:"mcd_id"`
		Token string `json:"mcd_token"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil || parsed.ID == "" || parsed.Token == "" {
		return placeholderCredentials()
	}

	p.cached = Credentials{ID: parsed.ID, Token: parsed.Token}
	p.modTime = info.ModTime()
	p.loaded = true
	return p.cached
}

func placeholderCredentials() Credentials {
	return Credentials{ID: "no-token-id", Token: "no-token-secret"}
}

// StaticCredentials returns fixed credentials, for tests.
type StaticCredentials Credentials

func (c StaticCredentials) Credentials() Credentials { return Credentials(c) }
