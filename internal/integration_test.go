//go:build unix && !e2e

package internal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ivoronin/dupedog/internal/cache"
	"github.com/ivoronin/dupedog/internal/pipeline"
	"github.com/ivoronin/dupedog/internal/runconfig"
	"github.com/ivoronin/dupedog/internal/testfs"
	"github.com/ivoronin/dupedog/internal/types"
)

// noCache is a disabled cache for tests (cache.Open("") returns no-op cache).
var noCache, _ = cache.Open("")

// =============================================================================
// Section 8.1: Full Pipeline Integration Tests
// =============================================================================

// TestFullPipelineBasicDuplicates tests basic exact-duplicate detection.
func TestFullPipelineBasicDuplicates(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"a.txt"}, Chunks: []testfs.Chunk{{Pattern: 'D', Size: "1KiB"}}},
					{Path: []string{"b.txt"}, Chunks: []testfs.Chunk{{Pattern: 'D', Size: "1KiB"}}},
				},
			},
		},
	}

	h := testfs.New(t, spec)

	result := runDetection(t, h.Root(), nil, 0)

	if len(result.Duplicates) != 1 {
		t.Fatalf("expected 1 duplicate group, got %d", len(result.Duplicates))
	}
	if unique := countFiles(result.Duplicates[0]); unique != 2 {
		t.Errorf("expected 2 files in the duplicate group, got %d", unique)
	}
}

// TestFullPipelineExistingHardlinks tests that existing hardlinks coalesce
// into a single sibling group rather than three separate copies.
func TestFullPipelineExistingHardlinks(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					// a.txt and a_link.txt are already hardlinked
					{Path: []string{"a.txt", "a_link.txt"}, Chunks: []testfs.Chunk{{Pattern: 'O', Size: "1KiB"}}},
					// b.txt is a duplicate (different inode)
					{Path: []string{"b.txt"}, Chunks: []testfs.Chunk{{Pattern: 'O', Size: "1KiB"}}},
				},
			},
		},
	}

	h := testfs.New(t, spec)

	result := runDetection(t, h.Root(), nil, 0)

	if len(result.Duplicates) != 1 {
		t.Fatalf("expected 1 duplicate group, got %d", len(result.Duplicates))
	}
	group := result.Duplicates[0]
	if group.Len() != 2 {
		t.Fatalf("expected 2 sibling groups (hardlinked pair + singleton), got %d", group.Len())
	}
	if unique := countFiles(group); unique != 3 {
		t.Errorf("expected 3 total files, got %d", unique)
	}
}

// TestFullPipelineMixedDuplicatesAndUnique tests mixed duplicates and unique files.
func TestFullPipelineMixedDuplicatesAndUnique(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					// Duplicate group 1
					{Path: []string{"dup1_a.txt"}, Chunks: []testfs.Chunk{{Pattern: '1', Size: "1KiB"}}},
					{Path: []string{"dup1_b.txt"}, Chunks: []testfs.Chunk{{Pattern: '1', Size: "1KiB"}}},
					// Duplicate group 2
					{Path: []string{"dup2_a.txt"}, Chunks: []testfs.Chunk{{Pattern: '2', Size: "2KiB"}}},
					{Path: []string{"dup2_b.txt"}, Chunks: []testfs.Chunk{{Pattern: '2', Size: "2KiB"}}},
					// Unique file (different size)
					{Path: []string{"unique.txt"}, Chunks: []testfs.Chunk{{Pattern: 'U', Size: "3KiB"}}},
				},
			},
		},
	}

	h := testfs.New(t, spec)

	result := runDetection(t, h.Root(), nil, 0)

	if len(result.Duplicates) != 2 {
		t.Fatalf("expected 2 duplicate groups, got %d", len(result.Duplicates))
	}
}

// TestFullPipelineMinSizeFilter tests --min-size filtering.
func TestFullPipelineMinSizeFilter(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					// Small duplicates (should be filtered)
					{Path: []string{"small_a.txt"}, Chunks: []testfs.Chunk{{Pattern: 'S', Size: "100"}}},
					{Path: []string{"small_b.txt"}, Chunks: []testfs.Chunk{{Pattern: 'S', Size: "100"}}},
					// Large duplicates (should be processed)
					{Path: []string{"large_a.txt"}, Chunks: []testfs.Chunk{{Pattern: 'L', Size: "1KiB"}}},
					{Path: []string{"large_b.txt"}, Chunks: []testfs.Chunk{{Pattern: 'L', Size: "1KiB"}}},
				},
			},
		},
	}

	h := testfs.New(t, spec)

	result := runDetection(t, h.Root(), nil, 500)

	if len(result.Duplicates) != 1 {
		t.Fatalf("expected only the large-file group to survive --min-size, got %d groups", len(result.Duplicates))
	}
	rep := result.Duplicates[0].First().First()
	if rep.Size < 500 {
		t.Errorf("expected the surviving group's files to be >= 500 bytes, got %d", rep.Size)
	}
}

// TestFullPipelineExcludePatterns tests --exclude patterns.
func TestFullPipelineExcludePatterns(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"keep_a.txt"}, Chunks: []testfs.Chunk{{Pattern: 'K', Size: "1KiB"}}},
					{Path: []string{"keep_b.txt"}, Chunks: []testfs.Chunk{{Pattern: 'K', Size: "1KiB"}}},
					{Path: []string{"exclude_a.bak"}, Chunks: []testfs.Chunk{{Pattern: 'K', Size: "1KiB"}}},
					{Path: []string{"exclude_b.bak"}, Chunks: []testfs.Chunk{{Pattern: 'K', Size: "1KiB"}}},
				},
			},
		},
	}

	h := testfs.New(t, spec)

	result := runDetection(t, h.Root(), []string{"*.bak"}, 0)

	if len(result.Duplicates) != 1 {
		t.Fatalf("expected only the .txt group, got %d groups", len(result.Duplicates))
	}
	if unique := countFiles(result.Duplicates[0]); unique != 2 {
		t.Errorf("expected 2 .txt files, got %d", unique)
	}
}

// =============================================================================
// Section 8.2: Empty/No-Results Scenarios (table-driven)
// =============================================================================

func TestFullPipelineEmptyScenarios(t *testing.T) {
	tests := []struct {
		name string
		spec testfs.FileTree
	}{
		{
			name: "empty directory",
			spec: testfs.FileTree{
				Volumes: []testfs.Volume{
					{MountPoint: "/data", Files: []testfs.File{}},
				},
			},
		},
		{
			name: "single file",
			spec: testfs.FileTree{
				Volumes: []testfs.Volume{
					{
						MountPoint: "/data",
						Files: []testfs.File{
							{Path: []string{"only.txt"}, Chunks: []testfs.Chunk{{Pattern: 'O', Size: "1KiB"}}},
						},
					},
				},
			},
		},
		{
			name: "all unique sizes",
			spec: testfs.FileTree{
				Volumes: []testfs.Volume{
					{
						MountPoint: "/data",
						Files: []testfs.File{
							{Path: []string{"a.txt"}, Chunks: []testfs.Chunk{{Pattern: 'A', Size: "1KiB"}}},
							{Path: []string{"b.txt"}, Chunks: []testfs.Chunk{{Pattern: 'B', Size: "2KiB"}}},
							{Path: []string{"c.txt"}, Chunks: []testfs.Chunk{{Pattern: 'C', Size: "3KiB"}}},
						},
					},
				},
			},
		},
		{
			name: "same size different content",
			spec: testfs.FileTree{
				Volumes: []testfs.Volume{
					{
						MountPoint: "/data",
						Files: []testfs.File{
							{Path: []string{"a.txt"}, Chunks: []testfs.Chunk{{Pattern: 'A', Size: "1KiB"}}},
							{Path: []string{"b.txt"}, Chunks: []testfs.Chunk{{Pattern: 'B', Size: "1KiB"}}},
						},
					},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testfs.New(t, tt.spec)

			result := runDetection(t, h.Root(), nil, 0)

			if len(result.Duplicates) != 0 {
				t.Errorf("expected no duplicate groups, got %d", len(result.Duplicates))
			}
		})
	}
}

// =============================================================================
// Section 8.5: Progressive Checksum Tests
// =============================================================================

// TestProgressiveChecksumSameHeadDifferentTail tests that files with
// same HEAD (first 1MiB) but different TAIL (last 1MiB) are correctly
// identified as non-duplicates.
//
// Verifier strategy: HEAD -> TAIL -> CHUNK[0] -> CHUNK[1]...
// This test verifies separation at the TAIL stage.
func TestProgressiveChecksumSameHeadDifferentTail(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					// File 1: HEAD='A', TAIL='A' (2MiB total, uniform content)
					{Path: []string{"uniform.txt"}, Chunks: []testfs.Chunk{
						{Pattern: 'A', Size: "2MiB"},
					}},
					// File 2: HEAD='A', TAIL='B' (same head, different tail)
					{Path: []string{"mixed.txt"}, Chunks: []testfs.Chunk{
						{Pattern: 'A', Size: "1MiB"}, // HEAD matches uniform.txt
						{Pattern: 'B', Size: "1MiB"}, // TAIL differs
					}},
				},
			},
		},
	}

	h := testfs.New(t, spec)

	result := runDetection(t, h.Root(), nil, 0)

	if len(result.Duplicates) != 0 {
		t.Errorf("files with same HEAD but different TAIL should not be reported as duplicates, got %d groups", len(result.Duplicates))
	}
}

// TestProgressiveChecksumMultiChunk tests files with multiple chunks
// demonstrating precise content control at verifier boundaries.
func TestProgressiveChecksumMultiChunk(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					// File with multiple chunks - all 'X'
					{Path: []string{"all_x.txt"}, Chunks: []testfs.Chunk{
						{Pattern: 'X', Size: "1MiB"},
						{Pattern: 'X', Size: "1MiB"},
					}},
					// File with same total size but different pattern at second chunk
					{Path: []string{"x_then_y.txt"}, Chunks: []testfs.Chunk{
						{Pattern: 'X', Size: "1MiB"},
						{Pattern: 'Y', Size: "1MiB"},
					}},
					// Duplicate of first file
					{Path: []string{"all_x_copy.txt"}, Chunks: []testfs.Chunk{
						{Pattern: 'X', Size: "1MiB"},
						{Pattern: 'X', Size: "1MiB"},
					}},
				},
			},
		},
	}

	h := testfs.New(t, spec)

	result := runDetection(t, h.Root(), nil, 0)

	if len(result.Duplicates) != 1 {
		t.Fatalf("expected 1 duplicate group (all_x.txt + all_x_copy.txt), got %d", len(result.Duplicates))
	}
	if unique := countFiles(result.Duplicates[0]); unique != 2 {
		t.Errorf("expected 2 files in the duplicate group, got %d", unique)
	}
}

// TestProgressiveChecksumLargeChunks tests progressive checksumming with GiB-sized chunks.
//
// Verifier strategy for large files:
//   - HEAD (first 1MiB)
//   - TAIL (last 1MiB)
//   - CHUNK[0] (0-1GiB)
//   - CHUNK[1] (1GiB-2GiB)
//   - CHUNK[2] (2GiB-3GiB)
//   - ...
//
// This test creates two files with:
//   - CHUNK[0]: same content (1GiB of 'A')
//   - CHUNK[1]: same content (1GiB of 'B')
//   - CHUNK[2]: DIFFERENT content ('X' vs 'Y')
//   - CHUNK[3]: same content (1GiB of 'D')
//
// Files should NOT be reported as duplicates because they differ at CHUNK[2].
func TestProgressiveChecksumLargeChunks(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large file test in short mode")
	}

	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					// File 1: 4.5GiB with pattern A-B-X-D-E
					{Path: []string{"file1.dat"}, Chunks: []testfs.Chunk{
						{Pattern: 'A', Size: "1GiB"},   // CHUNK[0] - matches
						{Pattern: 'B', Size: "1GiB"},   // CHUNK[1] - matches
						{Pattern: 'X', Size: "1GiB"},   // CHUNK[2] - DIFFERENT
						{Pattern: 'D', Size: "1GiB"},   // CHUNK[3] - matches
						{Pattern: 'E', Size: "512MiB"}, // CHUNK[4] - matches
					}},
					// File 2: 4.5GiB with pattern A-B-Y-D-E
					{Path: []string{"file2.dat"}, Chunks: []testfs.Chunk{
						{Pattern: 'A', Size: "1GiB"},   // CHUNK[0] - matches
						{Pattern: 'B', Size: "1GiB"},   // CHUNK[1] - matches
						{Pattern: 'Y', Size: "1GiB"},   // CHUNK[2] - DIFFERENT
						{Pattern: 'D', Size: "1GiB"},   // CHUNK[3] - matches
						{Pattern: 'E', Size: "512MiB"}, // CHUNK[4] - matches
					}},
				},
			},
		},
	}

	h := testfs.New(t, spec)

	result := runDetection(t, h.Root(), nil, 0)

	if len(result.Duplicates) != 0 {
		t.Errorf("files with same CHUNK[0,1,3] but different CHUNK[2] should not be reported as duplicates, got %d groups", len(result.Duplicates))
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// runDetection runs the exact-duplicate branch of the pipeline over the
// given root's "data" subdirectory and returns the result.
func runDetection(t *testing.T, root string, exclude []string, minSize int64) *pipeline.Result {
	t.Helper()

	dataDir := filepath.Join(root, "data")

	cfg := runconfig.Default()
	cfg.Roots = []string{dataDir}
	cfg.Filter.MinSize = minSize
	cfg.Filter.ExcludeGlobs = exclude
	cfg.ShowProgress = false

	filter, err := cfg.Validate()
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	p := pipeline.New(cfg, filter, noCache, nil)
	result, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("pipeline run: %v", err)
	}
	return result
}

// countFiles returns the total number of files across every sibling group
// in a duplicate group.
func countFiles(g types.DuplicateGroup) int {
	n := 0
	for _, sibs := range g.Items() {
		n += sibs.Len()
	}
	return n
}
