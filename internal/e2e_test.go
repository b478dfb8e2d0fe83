//go:build e2e

package internal

import (
	"encoding/json"
	"testing"

	"github.com/ivoronin/dupedog/internal/testfs"
)

// =============================================================================
// Section 9.1: Core E2E Tests
// =============================================================================

// TestE2EScanReportsDuplicates runs the read-only scan command end to end
// inside a container and checks its session payload, then asserts the
// filesystem was left untouched (scan never mutates).
func TestE2EScanReportsDuplicates(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"a.txt"}, Chunks: []testfs.Chunk{{Pattern: 'A', Size: "1KiB"}}},
					{Path: []string{"b.txt"}, Chunks: []testfs.Chunk{{Pattern: 'A', Size: "1KiB"}}},
				},
			},
		},
	}

	h := testfs.New(t, spec)

	result := h.RunDupedog("scan", "--no-progress", "/data")
	if result.ExitCode != 0 {
		t.Fatalf("scan exited %d, stderr: %s", result.ExitCode, result.Stderr)
	}

	var payload struct {
		Duplicates []json.RawMessage `json:"duplicates"`
		Digest     string            `json:"digest"`
	}
	if err := json.Unmarshal([]byte(result.Stdout), &payload); err != nil {
		t.Fatalf("unmarshal session payload: %v\nstdout: %s", err, result.Stdout)
	}
	if len(payload.Duplicates) != 1 {
		t.Errorf("expected 1 duplicate group, got %d", len(payload.Duplicates))
	}
	if payload.Digest == "" {
		t.Error("expected a non-empty integrity digest")
	}

	// scan is read-only: the files must still be two distinct, unlinked copies.
	expected := testfs.FileTree{
		ExitCode: 0,
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"a.txt"}},
					{Path: []string{"b.txt"}},
				},
			},
		},
	}
	h.Assert(expected)
}

// TestE2EScanMinSizeFlag tests --min-size filtering through the scan command.
func TestE2EScanMinSizeFlag(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"small_a.txt"}, Chunks: []testfs.Chunk{{Pattern: 'S', Size: "100"}}},
					{Path: []string{"small_b.txt"}, Chunks: []testfs.Chunk{{Pattern: 'S', Size: "100"}}},
					{Path: []string{"large_a.txt"}, Chunks: []testfs.Chunk{{Pattern: 'L', Size: "10KiB"}}},
					{Path: []string{"large_b.txt"}, Chunks: []testfs.Chunk{{Pattern: 'L', Size: "10KiB"}}},
				},
			},
		},
	}

	h := testfs.New(t, spec)

	result := h.RunDupedog("scan", "--no-progress", "--min-size", "1KiB", "/data")
	if result.ExitCode != 0 {
		t.Fatalf("scan exited %d, stderr: %s", result.ExitCode, result.Stderr)
	}

	var payload struct {
		Duplicates []json.RawMessage `json:"duplicates"`
	}
	if err := json.Unmarshal([]byte(result.Stdout), &payload); err != nil {
		t.Fatalf("unmarshal session payload: %v\nstdout: %s", err, result.Stdout)
	}
	if len(payload.Duplicates) != 1 {
		t.Errorf("expected only the large-file group to survive --min-size, got %d groups", len(payload.Duplicates))
	}
}

// TestE2EScanExcludePattern tests --exclude pattern filtering through the scan command.
func TestE2EScanExcludePattern(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"keep_a.txt"}, Chunks: []testfs.Chunk{{Pattern: 'K', Size: "1KiB"}}},
					{Path: []string{"keep_b.txt"}, Chunks: []testfs.Chunk{{Pattern: 'K', Size: "1KiB"}}},
					{Path: []string{"skip_a.bak"}, Chunks: []testfs.Chunk{{Pattern: 'K', Size: "1KiB"}}},
					{Path: []string{"skip_b.bak"}, Chunks: []testfs.Chunk{{Pattern: 'K', Size: "1KiB"}}},
				},
			},
		},
	}

	h := testfs.New(t, spec)

	result := h.RunDupedog("scan", "--no-progress", "--exclude", "*.bak", "/data")
	if result.ExitCode != 0 {
		t.Fatalf("scan exited %d, stderr: %s", result.ExitCode, result.Stderr)
	}

	var payload struct {
		Duplicates []json.RawMessage `json:"duplicates"`
	}
	if err := json.Unmarshal([]byte(result.Stdout), &payload); err != nil {
		t.Fatalf("unmarshal session payload: %v\nstdout: %s", err, result.Stdout)
	}
	if len(payload.Duplicates) != 1 {
		t.Errorf("expected only the .txt group (.bak excluded), got %d groups", len(payload.Duplicates))
	}
}
