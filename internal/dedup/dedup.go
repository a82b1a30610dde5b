// Package dedup keeps the first occurrence of each key in scan order.
package dedup

import (
	"strings"

	"vollahub/pkg/types"
)

// KeyMode selects which entry field identifies duplicates.
type KeyMode int

const (
	ByURL KeyMode = iota
	ByTitle
)

func (m KeyMode) String() string {
	if m == ByTitle {
		return "title"
	}
	return "url"
}

// Key extracts the dedup key of an entry for the mode.
func (m KeyMode) Key(e types.ContentEntry) string {
	if m == ByTitle {
		return strings.TrimSpace(e.Title)
	}
	return strings.TrimSpace(e.URL)
}

// Set is an insertion-ordered seen-set owned by a single crawl run.
type Set struct {
	mode    KeyMode
	seen    map[string]struct{}
	entries []types.ContentEntry
	dropped int
}

// New creates an empty set for mode.
func New(mode KeyMode) *Set {
	return &Set{mode: mode, seen: make(map[string]struct{})}
}

// Preseed marks an entry as already seen and keeps it as the first result.
func (s *Set) Preseed(e types.ContentEntry) {
	s.Add(e)
}

// Mark records key as seen without keeping an entry for it.
func (s *Set) Mark(key string) {
	if key = strings.TrimSpace(key); key != "" {
		s.seen[key] = struct{}{}
	}
}

// Add keeps e unless its key was seen before. Empty keys are dropped.
func (s *Set) Add(e types.ContentEntry) bool {
	key := s.mode.Key(e)
	if key == "" {
		s.dropped++
		return false
	}
	if _, ok := s.seen[key]; ok {
		s.dropped++
		return false
	}
	s.seen[key] = struct{}{}
	s.entries = append(s.entries, e)
	return true
}

// Seen reports whether key was already added.
func (s *Set) Seen(key string) bool {
	_, ok := s.seen[key]
	return ok
}

// Entries returns the kept entries in first-seen order.
func (s *Set) Entries() []types.ContentEntry {
	out := make([]types.ContentEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of kept entries.
func (s *Set) Len() int { return len(s.entries) }

// Dropped returns how many entries were rejected as duplicates.
func (s *Set) Dropped() int { return s.dropped }

// Entries deduplicates in one call.
func Entries(mode KeyMode, in []types.ContentEntry) []types.ContentEntry {
	s := New(mode)
	for _, e := range in {
		s.Add(e)
	}
	return s.Entries()
}
