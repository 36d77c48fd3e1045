package types

import (
	"maps"
	"sort"
)

// NetworkState is the shared mutable record visible to every agent turn and tool call of one run.
// Files is mutated only by tool handlers, Summary only by the response observer.
// A NetworkState is owned by a single run and is not safe for concurrent use;
// tool calls are dispatched sequentially by the router.
type NetworkState struct {
	Files   map[string]string `json:"files"`
	Summary string            `json:"summary,omitempty"`
}

// NewNetworkState returns an empty state.
func NewNetworkState() *NetworkState {
	return &NetworkState{Files: make(map[string]string)}
}

// MergeFiles writes every entry into Files. Last write wins.
func (s *NetworkState) MergeFiles(files map[string]string) {
	if s.Files == nil {
		s.Files = make(map[string]string, len(files))
	}
	maps.Copy(s.Files, files)
}

// HasSummary reports whether the completion summary was captured.
func (s *NetworkState) HasSummary() bool {
	return s.Summary != ""
}

// HasFiles reports whether any file has been written.
func (s *NetworkState) HasFiles() bool {
	return len(s.Files) > 0
}

// Snapshot returns a copy of Files suitable for persistence.
func (s *NetworkState) Snapshot() map[string]string {
	return maps.Clone(s.Files)
}

// Paths returns the written file paths in sorted order.
func (s *NetworkState) Paths() []string {
	paths := make([]string, 0, len(s.Files))
	for p := range s.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
