// Package runconfig defines the invocation contract for a detection run:
// the roots to scan, the filter predicate chain, which detection modes are
// enabled, and the resource knobs (worker count, cache path). It plays the
// same role as the teacher's flat CLI-options struct, generalized into a
// package so internal/pipeline and the scan command share one validated
// configuration shape.
package runconfig

import (
	"fmt"
	"runtime"

	"github.com/ivoronin/dupedog/internal/dderrors"
	"github.com/ivoronin/dupedog/internal/filterset"
)

// Config is the fully validated set of inputs a detection run needs.
type Config struct {
	// Roots are the directories walked for candidate files.
	Roots []string
	// ReferenceRoots mark files as Protected: never reported as the
	// deletable half of a duplicate pair, only ever as the keeper.
	ReferenceRoots []string

	Filter filterset.Spec

	// ExactDuplicates enables the size/bloom/hash pipeline.
	ExactDuplicates bool
	// SimilarImages enables the perceptual-hash branch.
	SimilarImages bool
	// SimilarDocuments enables the document-SimHash branch.
	SimilarDocuments bool
	// SimilarityThreshold is the maximum Hamming distance (0-64) at which
	// two fingerprints are considered similar enough to cluster together.
	SimilarityThreshold int
	// Paranoid enables a final byte-for-byte comparison before two files
	// already matching on full digest are reported as exact duplicates.
	Paranoid bool
	// UseMmap is carried in the configuration but not read by the pipeline:
	// hasher.HashRange memory-maps every range of at least 16 MiB whatever
	// its value, and streams smaller ranges or those whose map fails.
	UseMmap bool
	// TrustDeviceBoundaries controls whether sibling grouping keys on
	// (dev, ino) or ino alone; see screener.New for the safety tradeoff.
	TrustDeviceBoundaries bool

	// CachePath, if non-empty, persists hashes and fingerprints across runs.
	CachePath string
	// Workers bounds parallelism for I/O-bound phases.
	Workers int

	// FollowSymlinks makes the scanner descend into symlinked directories
	// and emit symlinked files, identifying them by their target's (dev,ino).
	FollowSymlinks bool
	// SkipHidden excludes dotfiles and dot-directories from the scan.
	SkipHidden bool
	// Strict aborts the run on the first directory-listing error instead
	// of skipping the offending directory and continuing.
	Strict bool
	// ShowProgress enables the progress bar/spinner on each phase.
	ShowProgress bool
}

// Default returns a Config with the teacher's historical defaults: exact
// duplicate detection only, one worker per CPU, no cache, progress shown.
func Default() Config {
	return Config{
		ExactDuplicates:     true,
		SimilarityThreshold: 8,
		Workers:             runtime.NumCPU(),
		ShowProgress:        true,
	}
}

// Validate checks the configuration for internal consistency and returns a
// compiled FilterSet alongside any error. A Config that fails validation
// must not be used to start a run.
func (c Config) Validate() (*filterset.FilterSet, error) {
	if len(c.Roots) == 0 {
		return nil, dderrors.New(dderrors.CodeInvalidConfig, "at least one root is required")
	}
	if c.Workers <= 0 {
		return nil, dderrors.New(dderrors.CodeInvalidConfig, "workers must be positive").
			WithContext("workers", c.Workers)
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 64 {
		return nil, dderrors.New(dderrors.CodeInvalidConfig, "similarity threshold must be between 0 and 64").
			WithContext("threshold", c.SimilarityThreshold)
	}
	if !c.ExactDuplicates && !c.SimilarImages && !c.SimilarDocuments {
		return nil, dderrors.New(dderrors.CodeInvalidConfig, "at least one detection mode must be enabled")
	}

	fs, err := filterset.New(c.Filter)
	if err != nil {
		return nil, fmt.Errorf("build filter set: %w", err)
	}
	return fs, nil
}

// IsReferenceRoot reports whether path lies under one of the configured
// reference roots, used to mark scanned files Protected.
func (c Config) IsReferenceRoot(path string) bool {
	for _, root := range c.ReferenceRoots {
		if pathUnder(root, path) {
			return true
		}
	}
	return false
}

func pathUnder(root, path string) bool {
	if root == "" {
		return false
	}
	if path == root {
		return true
	}
	rootWithSep := root
	if rootWithSep[len(rootWithSep)-1] != '/' {
		rootWithSep += "/"
	}
	return len(path) > len(rootWithSep) && path[:len(rootWithSep)] == rootWithSep
}
