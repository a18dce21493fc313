package exclusion

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestRefreshParsesPermanentAndTemporary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exclusions.txt")
	writeFile(t, path, "# comment\n\nalice permanent\nbob temporary\n")

	r := New(path, IdentityResolver{}, 10*time.Second)
	if err := r.Refresh(time.Now()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if !r.IsPermanent("alice") {
		t.Fatal("alice should be permanently excluded")
	}
	if !r.IsTemporary("bob") {
		t.Fatal("bob should be temporarily excluded")
	}
	if r.IsTemporary("alice") || r.IsPermanent("bob") {
		t.Fatal("sets must not cross-contaminate")
	}
}

func TestRefreshDebouncesWithinInterval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exclusions.txt")
	writeFile(t, path, "alice permanent\n")

	r := New(path, IdentityResolver{}, time.Minute)
	t0 := time.Now()
	if err := r.Refresh(t0); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !r.IsPermanent("alice") {
		t.Fatal("alice should be excluded after first load")
	}

	// Rewrite the file to remove alice, but refresh again within the debounce
	// window: the change must not be observed yet.
	writeFile(t, path, "\n")
	if err := r.Refresh(t0.Add(time.Second)); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !r.IsPermanent("alice") {
		t.Fatal("debounce window should have suppressed the reload")
	}
}

func TestRefreshSwapsOnModTimeChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exclusions.txt")
	writeFile(t, path, "alice permanent\n")

	r := New(path, IdentityResolver{}, time.Millisecond)
	t0 := time.Now()
	if err := r.Refresh(t0); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	// Ensure a distinguishable mtime, then rewrite without alice.
	future := time.Now().Add(time.Hour)
	writeFile(t, path, "bob temporary\n")
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if err := r.Refresh(t0.Add(time.Second)); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if r.IsPermanent("alice") {
		t.Fatal("alice should no longer be excluded after reload")
	}
	if !r.IsTemporary("bob") {
		t.Fatal("bob should now be excluded")
	}
}

func TestRefreshMalformedLineRetainsPreviousSets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exclusions.txt")
	writeFile(t, path, "alice permanent\n")

	r := New(path, IdentityResolver{}, time.Millisecond)
	t0 := time.Now()
	if err := r.Refresh(t0); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	future := time.Now().Add(time.Hour)
	writeFile(t, path, "this line is not valid\n")
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if err := r.Refresh(t0.Add(time.Second)); err == nil {
		t.Fatal("expected a parse error for a malformed line")
	}
	if !r.IsPermanent("alice") {
		t.Fatal("previous sets should be retained after a malformed reload")
	}
}

type staticResolver map[string]string

func (s staticResolver) ResolveOwner(username string) (string, bool) {
	owner, ok := s[username]
	return owner, ok
}

func TestRefreshUnknownUsernameIsAnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exclusions.txt")
	writeFile(t, path, "ghost permanent\n")

	r := New(path, staticResolver{"alice": "owner-1"}, time.Millisecond)
	if err := r.Refresh(time.Now()); err == nil {
		t.Fatal("expected an error for an unresolvable username")
	}
}
