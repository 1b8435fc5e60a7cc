// Package indexer holds the content indexer's plain data types: journal
// entries, scan state, and the fingerprint/content-hash helpers the
// services layer builds its idempotent scanning on top of.
package indexer

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

const sha1PrefixLen = 12

// Fingerprint summarizes a file's on-disk identity as size:mtime, the
// cheap form used on every scan pass (spec's fingerprint format). It never
// reads file content.
func Fingerprint(size int64, modTime time.Time) string {
	return fmt.Sprintf("%d:%d", size, modTime.UnixNano())
}

// FingerprintWithContent appends a truncated SHA-1 of the file's content to
// the cheap fingerprint, for the rarer case where size:mtime alone isn't
// trusted to detect a change (e.g. a copy that preserved mtime).
func FingerprintWithContent(size int64, modTime time.Time, content []byte) string {
	sum := sha1.Sum(content)
	return fmt.Sprintf("%s:%s", Fingerprint(size, modTime), hex.EncodeToString(sum[:])[:sha1PrefixLen])
}

// ContentHash is the SHA-256 hex digest of extracted text, used to dedupe
// identical content seen under different paths.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// FileState is the journal's per-path record: the fingerprint last seen and
// whether that file's content has been successfully indexed.
type FileState struct {
	Path           string    `json:"path"`
	Fingerprint    string    `json:"fingerprint"`
	ContentHash    string    `json:"contentHash,omitempty"`
	ContentIndexed bool      `json:"contentIndexed"`
	LastSeen       time.Time `json:"lastSeen"`
}

// EventKind is the kind of filesystem change a scan pass detected.
type EventKind string

const (
	EventAdd    EventKind = "add"
	EventChange EventKind = "change"
	EventDelete EventKind = "delete"
)

// Event is one detected filesystem change, queued for extraction or removal.
type Event struct {
	Kind EventKind `json:"kind"`
	Path string    `json:"path"`
}

// ScanState is the persisted progress of a deep scan, reloaded on restart so
// a long scan can resume from the last journaled path instead of
// restarting at the root.
type ScanState struct {
	Root         string    `json:"root"`
	LastPath     string    `json:"lastPath"`
	StartedAt    time.Time `json:"startedAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	FilesScanned int       `json:"filesScanned"`
	FilesIndexed int       `json:"filesIndexed"`
	FilesSkipped int       `json:"filesSkipped"`
	Completed    bool      `json:"completed"`
}

// ExtractedDoc is the plain-text result of extracting one file's content.
type ExtractedDoc struct {
	Path        string `json:"path"`
	ContentHash string `json:"contentHash"`
	Text        string `json:"text"`
}
