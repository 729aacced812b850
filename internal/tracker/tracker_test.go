package tracker

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeNote(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCheck_neverIndexedIsUnknown(t *testing.T) {
	dir := t.TempDir()
	tr := New(filepath.Join(dir, "state.json"))
	path := writeNote(t, dir, "a.md", "hello")

	status, snap, err := tr.Check(path)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusUnknown {
		t.Errorf("status = %v, want unknown", status)
	}
	if snap.Fingerprint == "" || snap.Size != 5 {
		t.Errorf("snapshot not populated: %+v", snap)
	}
}

func TestCheck_committedIsCurrent(t *testing.T) {
	dir := t.TempDir()
	tr := New(filepath.Join(dir, "state.json"))
	path := writeNote(t, dir, "a.md", "hello")

	_, snap, err := tr.Check(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Commit(path, snap); err != nil {
		t.Fatal(err)
	}
	status, _, err := tr.Check(path)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusCurrent {
		t.Errorf("status = %v, want current", status)
	}
}

func TestCheck_contentChangeIsStale(t *testing.T) {
	dir := t.TempDir()
	tr := New(filepath.Join(dir, "state.json"))
	path := writeNote(t, dir, "a.md", "hello")

	_, snap, _ := tr.Check(path)
	if err := tr.Commit(path, snap); err != nil {
		t.Fatal(err)
	}
	writeNote(t, dir, "a.md", "changed content")

	status, snap2, err := tr.Check(path)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusStale {
		t.Errorf("status = %v, want stale", status)
	}
	if snap2.Fingerprint == snap.Fingerprint {
		t.Error("new snapshot kept old fingerprint")
	}
}

func TestCheck_mtimeOnlyChangeIsStale(t *testing.T) {
	dir := t.TempDir()
	tr := New(filepath.Join(dir, "state.json"))
	path := writeNote(t, dir, "a.md", "same content")

	_, snap, _ := tr.Check(path)
	if err := tr.Commit(path, snap); err != nil {
		t.Fatal(err)
	}
	// Touch the file: identical bytes, different mtime.
	newTime := time.Unix(0, snap.MTimeNS).Add(2 * time.Second)
	if err := os.Chtimes(path, newTime, newTime); err != nil {
		t.Fatal(err)
	}

	status, snap2, err := tr.Check(path)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusStale {
		t.Errorf("status = %v, want stale for mtime-only change", status)
	}
	if snap2.Fingerprint != snap.Fingerprint {
		t.Error("fingerprint changed for identical content")
	}
}

func TestCheck_missingFileErrors(t *testing.T) {
	dir := t.TempDir()
	tr := New(filepath.Join(dir, "state.json"))
	if _, _, err := tr.Check(filepath.Join(dir, "gone.md")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestForget_unknownPathIsNoop(t *testing.T) {
	dir := t.TempDir()
	tr := New(filepath.Join(dir, "state.json"))
	if err := tr.Forget("/never/seen.md"); err != nil {
		t.Errorf("Forget unknown path: %v", err)
	}
}

func TestState_persistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	path := writeNote(t, dir, "a.md", "hello")

	tr := New(statePath)
	_, snap, _ := tr.Check(path)
	if err := tr.Commit(path, snap); err != nil {
		t.Fatal(err)
	}

	tr2 := New(statePath)
	status, _, err := tr2.Check(path)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusCurrent {
		t.Errorf("after restart status = %v, want current", status)
	}
}

func TestState_forgetPersists(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	path := writeNote(t, dir, "a.md", "hello")

	tr := New(statePath)
	_, snap, _ := tr.Check(path)
	if err := tr.Commit(path, snap); err != nil {
		t.Fatal(err)
	}
	if err := tr.Forget(path); err != nil {
		t.Fatal(err)
	}

	tr2 := New(statePath)
	status, _, err := tr2.Check(path)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusUnknown {
		t.Errorf("after forget status = %v, want unknown", status)
	}
}

func TestNew_corruptStateStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	if err := os.WriteFile(statePath, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	path := writeNote(t, dir, "a.md", "hello")

	tr := New(statePath)
	status, _, err := tr.Check(path)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusUnknown {
		t.Errorf("status = %v, want unknown with corrupt state", status)
	}
}

func TestFingerprint_stable(t *testing.T) {
	dir := t.TempDir()
	path := writeNote(t, dir, "a.md", "hello world")
	a, err := Fingerprint(path)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Fingerprint(path)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("fingerprints differ: %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(a))
	}
}
