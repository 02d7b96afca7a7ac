package usbsync

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeDoc(t *testing.T, path, body string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func TestResolve_NewerRemovableWins(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "local.json")
	removable := filepath.Join(dir, "removable.json")

	base := time.Now()
	writeDoc(t, local, `{}`, base)
	writeDoc(t, removable, `{}`, base.Add(time.Hour))

	winner, err := Resolve(local, removable)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if winner != removable {
		t.Errorf("winner = %s, want removable document", winner)
	}
}

func TestResolve_EqualMtimeLocalWins(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "local.json")
	removable := filepath.Join(dir, "removable.json")

	same := time.Now()
	writeDoc(t, local, `{}`, same)
	writeDoc(t, removable, `{}`, same)

	winner, err := Resolve(local, removable)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if winner != local {
		t.Errorf("winner = %s, want local document on a tie", winner)
	}
}

func TestResolve_MissingLocalDocumentRemovableWins(t *testing.T) {
	dir := t.TempDir()
	removable := filepath.Join(dir, "removable.json")
	writeDoc(t, removable, `{}`, time.Now())

	winner, err := Resolve(filepath.Join(dir, "does-not-exist.json"), removable)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if winner != removable {
		t.Errorf("winner = %s, want removable document", winner)
	}
}

func TestResolve_InvalidRemovableDocumentIsAnError(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "local.json")
	removable := filepath.Join(dir, "removable.json")
	writeDoc(t, local, `{}`, time.Now())
	writeDoc(t, removable, `{not valid json`, time.Now())

	if _, err := Resolve(local, removable); err == nil {
		t.Fatal("expected an error for a malformed removable document")
	}
}

func TestNullTerminatedString(t *testing.T) {
	if got := nullTerminatedString([]byte("/media/usb\x00")); got != "/media/usb" {
		t.Errorf("nullTerminatedString = %q", got)
	}
	if got := nullTerminatedString([]byte("/media/usb")); got != "/media/usb" {
		t.Errorf("nullTerminatedString without NUL = %q", got)
	}
}
