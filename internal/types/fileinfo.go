// Package types provides shared types used across the dupedog codebase.
package types

import (
	"cmp"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Category classifies a file for category-based filtering and for routing
// into the perceptual/document similarity branches.
type Category int

const (
	CategoryOther Category = iota
	CategoryImage
	CategoryVideo
	CategoryAudio
	CategoryDocument
	CategoryArchive
)

// String returns the lowercase category name used in filter expressions.
func (c Category) String() string {
	switch c {
	case CategoryImage:
		return "image"
	case CategoryVideo:
		return "video"
	case CategoryAudio:
		return "audio"
	case CategoryDocument:
		return "document"
	case CategoryArchive:
		return "archive"
	default:
		return "other"
	}
}

var extCategories = map[string]Category{
	".jpg": CategoryImage, ".jpeg": CategoryImage, ".png": CategoryImage,
	".gif": CategoryImage, ".bmp": CategoryImage, ".webp": CategoryImage,
	".tiff": CategoryImage, ".heic": CategoryImage,

	".mp4": CategoryVideo, ".mov": CategoryVideo, ".mkv": CategoryVideo,
	".avi": CategoryVideo, ".webm": CategoryVideo,

	".mp3": CategoryAudio, ".flac": CategoryAudio, ".wav": CategoryAudio,
	".ogg": CategoryAudio, ".m4a": CategoryAudio,

	".txt": CategoryDocument, ".md": CategoryDocument, ".csv": CategoryDocument,
	".log": CategoryDocument, ".pdf": CategoryDocument, ".docx": CategoryDocument,
	".doc": CategoryDocument, ".rtf": CategoryDocument,

	".zip": CategoryArchive, ".tar": CategoryArchive, ".gz": CategoryArchive,
	".bz2": CategoryArchive, ".xz": CategoryArchive, ".7z": CategoryArchive,
	".rar": CategoryArchive,
}

// CategoryForPath classifies a file by its extension. Unrecognized or
// missing extensions yield CategoryOther.
func CategoryForPath(path string) Category {
	ext := strings.ToLower(filepath.Ext(path))
	if c, ok := extCategories[ext]; ok {
		return c
	}
	return CategoryOther
}

// FileInfo holds metadata for a scanned file.
type FileInfo struct {
	Path      string
	Size      int64
	ModTime   time.Time
	Dev       uint64
	Ino       uint64
	Nlink     uint32
	Category  Category
	Protected bool // true if Path lies under a reference root
}

// Sorted is an ordered collection that maintains sort order by a key function.
// T is the element type, K is the comparable key type.
// Once constructed, items are guaranteed to be sorted by key.
type Sorted[T any, K cmp.Ordered] struct {
	items   []T
	keyFunc func(T) K
}

// NewSorted creates a sorted collection from items using keyFunc for ordering.
// Items are copied and sorted at construction time.
func NewSorted[T any, K cmp.Ordered](items []T, keyFunc func(T) K) Sorted[T, K] {
	sorted := make([]T, len(items))
	copy(sorted, items)
	slices.SortFunc(sorted, func(a, b T) int {
		return cmp.Compare(keyFunc(a), keyFunc(b))
	})
	return Sorted[T, K]{items: sorted, keyFunc: keyFunc}
}

// Items returns the sorted items.
func (s Sorted[T, K]) Items() []T { return s.items }

// First returns the first item (smallest key), or zero value if empty.
func (s Sorted[T, K]) First() T {
	if len(s.items) == 0 {
		var zero T
		return zero
	}
	return s.items[0]
}

// Len returns the number of items.
func (s Sorted[T, K]) Len() int { return len(s.items) }

// SiblingGroup contains files sharing the same inode (hardlinks).
// Files are sorted by shortest canonical path first, lexicographic
// ties broken by path, so First() yields the chosen representative.
type SiblingGroup = Sorted[*FileInfo, string]

// NewSiblingGroup creates a SiblingGroup ordered so its First() is the
// shortest-path representative (lexicographic tie-break).
func NewSiblingGroup(files []*FileInfo) SiblingGroup {
	return NewSorted(files, representativeKey)
}

// representativeKey orders paths by length first, then lexicographically,
// so that sorting by this key and taking the smallest yields the
// shortest canonical path among a set of hardlinked files.
func representativeKey(f *FileInfo) string {
	return fmt.Sprintf("%020d:%s", len(f.Path), f.Path)
}

// CandidateGroup contains sibling groups with same size (potential duplicates).
// Sorted by first file's path in each sibling group.
type CandidateGroup = Sorted[SiblingGroup, string]

// NewCandidateGroup creates a CandidateGroup sorted by first file's path.
func NewCandidateGroup(siblings []SiblingGroup) CandidateGroup {
	return NewSorted(siblings, func(sg SiblingGroup) string { return sg.First().Path })
}

// CandidateGroups is a sorted collection of candidate groups.
type CandidateGroups = Sorted[CandidateGroup, string]

// NewCandidateGroups creates sorted CandidateGroups.
func NewCandidateGroups(groups []CandidateGroup) CandidateGroups {
	return NewSorted(groups, func(cg CandidateGroup) string {
		return cg.First().First().Path
	})
}

// DuplicateGroup contains sibling groups with identical content.
// Sorted by first file's path in each sibling group.
type DuplicateGroup = Sorted[SiblingGroup, string]

// NewDuplicateGroup creates a DuplicateGroup sorted by first file's path.
func NewDuplicateGroup(siblings []SiblingGroup) DuplicateGroup {
	return NewSorted(siblings, func(sg SiblingGroup) string { return sg.First().Path })
}

// DuplicateGroups is a sorted collection of duplicate groups.
type DuplicateGroups = Sorted[DuplicateGroup, string]

// NewDuplicateGroups creates sorted DuplicateGroups.
func NewDuplicateGroups(groups []DuplicateGroup) DuplicateGroups {
	return NewSorted(groups, func(dg DuplicateGroup) string {
		return dg.First().First().Path
	})
}

// SimilarityKind tags which similarity mode produced a SimilarityGroup.
type SimilarityKind int

const (
	SimilarImage SimilarityKind = iota
	SimilarDocument
)

// String returns the human-readable name of the similarity kind.
func (k SimilarityKind) String() string {
	if k == SimilarDocument {
		return "similar-document"
	}
	return "similar-image"
}

// SimilarityGroup contains files clustered by perceptual or document
// fingerprint similarity rather than exact content equality.
type SimilarityGroup struct {
	Kind  SimilarityKind
	Files Sorted[*FileInfo, string]
}

// NewSimilarityGroup builds a SimilarityGroup sorted by path.
func NewSimilarityGroup(kind SimilarityKind, files []*FileInfo) SimilarityGroup {
	return SimilarityGroup{
		Kind:  kind,
		Files: NewSorted(files, func(f *FileInfo) string { return f.Path }),
	}
}

// Semaphore implements a counting semaphore using a buffered channel.
// It limits concurrent access to a resource by blocking when the limit is reached.
type Semaphore chan struct{}

// NewSemaphore creates a semaphore that allows up to n concurrent acquisitions.
func NewSemaphore(n int) Semaphore { return make(chan struct{}, n) }

// Acquire blocks until a slot is available, then claims it.
func (s Semaphore) Acquire() { s <- struct{}{} }

// Release frees a slot, unblocking one waiting Acquire call.
func (s Semaphore) Release() { <-s }
