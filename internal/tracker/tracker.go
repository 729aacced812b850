// Package tracker decides whether a document needs re-indexing by comparing
// a persisted (fingerprint, size, mtime) snapshot against the file on disk.
package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Status is the tri-state result of a change check.
type Status int

const (
	// StatusUnknown means the document has never been indexed.
	StatusUnknown Status = iota
	// StatusStale means the stored snapshot no longer matches the file.
	StatusStale
	// StatusCurrent means the indexed version matches the file exactly.
	StatusCurrent
)

func (s Status) String() string {
	switch s {
	case StatusCurrent:
		return "current"
	case StatusStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Snapshot is the per-document state used to short-circuit re-embedding.
type Snapshot struct {
	Fingerprint string `json:"fingerprint"`
	Size        int64  `json:"size"`
	MTimeNS     int64  `json:"mtime_ns"`
}

// Tracker owns the persisted path → snapshot mapping. A missing or corrupt
// state file degrades to "nothing is indexed" rather than failing.
type Tracker struct {
	statePath string
	mu        sync.Mutex
	entries   map[string]Snapshot
}

// New creates a tracker backed by the state file at statePath. Existing state
// is loaded when readable; otherwise the tracker starts empty.
func New(statePath string) *Tracker {
	t := &Tracker{
		statePath: statePath,
		entries:   make(map[string]Snapshot),
	}
	data, err := os.ReadFile(statePath)
	if err != nil {
		return t
	}
	var entries map[string]Snapshot
	if err := json.Unmarshal(data, &entries); err != nil || entries == nil {
		return t
	}
	t.entries = entries
	return t
}

// Check compares the file at path against the stored snapshot. Size and mtime
// are compared before paying the hashing cost; any mismatch of the triple
// means stale. An mtime-only change with identical content is still reported
// stale. The returned snapshot describes the file's current state and is what
// Commit expects after a successful sync.
func (t *Tracker) Check(path string) (Status, Snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return StatusUnknown, Snapshot{}, fmt.Errorf("stat %s: %w", path, err)
	}
	current := Snapshot{Size: info.Size(), MTimeNS: info.ModTime().UnixNano()}

	t.mu.Lock()
	stored, known := t.entries[path]
	t.mu.Unlock()

	if known && (stored.Size != current.Size || stored.MTimeNS != current.MTimeNS) {
		// Cheap metadata mismatch: stale without hashing, but the caller
		// still needs the fingerprint to index the new version.
		fp, err := Fingerprint(path)
		if err != nil {
			return StatusStale, Snapshot{}, err
		}
		current.Fingerprint = fp
		return StatusStale, current, nil
	}

	fp, err := Fingerprint(path)
	if err != nil {
		return StatusUnknown, Snapshot{}, err
	}
	current.Fingerprint = fp
	if !known {
		return StatusUnknown, current, nil
	}
	if stored.Fingerprint != fp {
		return StatusStale, current, nil
	}
	return StatusCurrent, current, nil
}

// Commit records snap for path and persists the state. Call only after a
// fully successful sync; a failed sync must leave the old entry untouched so
// the document is retried.
func (t *Tracker) Commit(path string, snap Snapshot) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[path] = snap
	return t.persistLocked()
}

// Forget drops the entry for path and persists the state. Unknown paths are a no-op.
func (t *Tracker) Forget(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[path]; !ok {
		return nil
	}
	delete(t.entries, path)
	return t.persistLocked()
}

// persistLocked writes the state atomically via a temp file and rename.
func (t *Tracker) persistLocked() error {
	data, err := json.MarshalIndent(t.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	dir := filepath.Dir(t.statePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), t.statePath); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// Fingerprint streams the file through SHA-256 in fixed-size blocks and
// returns the hex digest. Large files are never loaded whole.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	h := sha256.New()
	buf := make([]byte, 64*1024)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
