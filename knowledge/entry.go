// Package knowledge implements the Knowledge Store + Flow Manager (C7):
// an append-only entry store with content-hash dedupe and subscription-
// based delivery over the event bus.
package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/ymera-labs/ymera/core"
)

// Entry is one knowledge record. Updates never mutate an existing Entry;
// they append a new version with ParentEntryID set.
type Entry struct {
	EntryID       string
	Category      string
	Content       string
	Tags          []string
	SourceAgentID string
	CreatedAt     time.Time
	Confidence    float64
	Metadata      core.Value

	ContentHash   string
	Version       int
	ParentEntryID string
	UsageCount    int64
}

// fingerprint canonicalizes content (trim, lowercase) before hashing so
// trivially-equivalent submissions collapse to the same dedupe key. Dedupe
// is by content hash only — category is metadata, not part of the key.
func fingerprint(content string) string {
	sum := sha256.Sum256([]byte(canonicalize(content)))
	return hex.EncodeToString(sum[:])
}

func canonicalize(s string) string {
	out := make([]byte, 0, len(s))
	prevSpace := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			if !prevSpace && len(out) > 0 {
				out = append(out, ' ')
			}
			prevSpace = true
			continue
		}
		prevSpace = false
		if c >= 'A' && c <= 'Z' {
			c = c - 'A' + 'a'
		}
		out = append(out, c)
	}
	for len(out) > 0 && out[len(out)-1] == ' ' {
		out = out[:len(out)-1]
	}
	return string(out)
}

func hasAllTags(entryTags []string, required []string) bool {
	set := make(map[string]bool, len(entryTags))
	for _, t := range entryTags {
		set[t] = true
	}
	for _, t := range required {
		if !set[t] {
			return false
		}
	}
	return true
}

func matchesFilters(metadata core.Value, filters map[string]string) bool {
	for k, want := range filters {
		got, ok := metadata.Get(k)
		if !ok {
			return false
		}
		gotStr, ok := got.AsString()
		if !ok || gotStr != want {
			return false
		}
	}
	return true
}
