// Package snapshot persists the repository registry to disk. Three on-disk
// formats are accepted on read; only v3 is ever written.
package snapshot

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/codectx-dev/codectx/internal/identity"
)

// BranchStatus is the indexing state of one branch.
type BranchStatus string

const (
	StatusIndexing BranchStatus = "indexing"
	StatusIndexed  BranchStatus = "indexed"
	StatusFailed   BranchStatus = "failed"
)

// BranchState holds per-branch index state.
type BranchState struct {
	Status             BranchStatus `json:"status"`
	IndexedFiles       int          `json:"indexedFiles"`
	TotalChunks        int          `json:"totalChunks"`
	IndexingPercentage *float64     `json:"indexingPercentage,omitempty"`
	ErrorMessage       string       `json:"errorMessage,omitempty"`
	LastCommit         string       `json:"lastCommit,omitempty"`
	LastIndexed        time.Time    `json:"lastIndexed"`
	CollectionName     string       `json:"collectionName,omitempty"`
}

// RepoRecord is the registry entry for one canonical repository.
type RepoRecord struct {
	CanonicalID string                 `json:"canonicalId"`
	DisplayName string                 `json:"displayName"`
	RemoteURL   string                 `json:"remoteUrl,omitempty"`
	Source      identity.Source        `json:"identitySource"`
	KnownPaths  []string               `json:"knownPaths"`
	Worktrees   []string               `json:"worktrees,omitempty"`
	Branches    map[string]BranchState `json:"branches"`
	// DefaultBranch is a key of Branches whenever Branches is non-empty.
	DefaultBranch string    `json:"defaultBranch,omitempty"`
	LastIndexed   time.Time `json:"lastIndexed"`
}

// DefaultBranchState returns the state of the default branch.
func (r *RepoRecord) DefaultBranchState() (BranchState, bool) {
	if r.DefaultBranch == "" {
		return BranchState{}, false
	}
	st, ok := r.Branches[r.DefaultBranch]
	return st, ok
}

// IsIndexed reports whether the repository's default branch has a live index.
func (r *RepoRecord) IsIndexed() bool {
	st, ok := r.DefaultBranchState()
	return ok && st.Status == StatusIndexed
}

// CollectionName returns the default branch's collection, if any.
func (r *RepoRecord) CollectionName() string {
	st, _ := r.DefaultBranchState()
	return st.CollectionName
}

// HasPath reports whether path is one of the record's known paths.
func (r *RepoRecord) HasPath(path string) bool {
	for _, p := range r.KnownPaths {
		if p == path {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the record.
func (r *RepoRecord) Clone() *RepoRecord {
	out := *r
	out.KnownPaths = append([]string(nil), r.KnownPaths...)
	out.Worktrees = append([]string(nil), r.Worktrees...)
	out.Branches = make(map[string]BranchState, len(r.Branches))
	for name, st := range r.Branches {
		if st.IndexingPercentage != nil {
			pct := *st.IndexingPercentage
			st.IndexingPercentage = &pct
		}
		out.Branches[name] = st
	}
	return &out
}

// CodebaseInfo is the per-path legacy view (v2 shape) derived from v3 state.
// Status discriminates which of the optional fields are meaningful.
type CodebaseInfo struct {
	Status             string   `json:"status"` // indexed | indexing | indexfailed
	IndexedFiles       int      `json:"indexedFiles,omitempty"`
	TotalChunks        int      `json:"totalChunks,omitempty"`
	IndexingPercentage float64  `json:"indexingPercentage,omitempty"`
	ErrorMessage       string   `json:"errorMessage,omitempty"`
	LastUpdated        flexTime `json:"lastUpdated,omitempty"`
}

// flexTime tolerates the timestamp shapes older snapshot writers produced:
// RFC3339 strings or millisecond epochs. Unparseable values decode to zero.
type flexTime struct {
	time.Time
}

func (t *flexTime) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" || s == `""` {
		return nil
	}
	if len(s) >= 2 && s[0] == '"' {
		parsed, err := time.Parse(time.RFC3339, s[1:len(s)-1])
		if err == nil {
			t.Time = parsed
		}
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		t.Time = time.UnixMilli(ms).UTC()
	}
	return nil
}

func (t flexTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.Time)
}
