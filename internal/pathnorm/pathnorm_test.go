package pathnorm

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeCleansPath(t *testing.T) {
	got := Normalize("/a/b/../c/./d")
	want := filepath.Clean("/a/b/../c/./d")
	if got != want {
		t.Errorf("Normalize() = %q, want %q", got, want)
	}
}

func TestResolveWithoutFollowingSymlinks(t *testing.T) {
	got, err := Resolve("/a/b/c", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != filepath.Clean("/a/b/c") {
		t.Errorf("Resolve() = %q, want cleaned path unchanged", got)
	}
}

func TestResolveFollowsSymlinks(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.txt")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	link := filepath.Join(dir, "link.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	got, err := Resolve(link, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != Normalize(target) {
		t.Errorf("Resolve() = %q, want %q", got, Normalize(target))
	}
}

func TestResolveDanglingSymlinkErrors(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "dangling.txt")
	if err := os.Symlink(filepath.Join(dir, "missing.txt"), link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	if _, err := Resolve(link, true); err == nil {
		t.Error("expected error resolving dangling symlink")
	}
}
