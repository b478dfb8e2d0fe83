// Package filterset implements the ordered, short-circuit predicate chain
// that decides whether a scanned file is a candidate for duplicate
// detection. Predicates run cheapest-first (size bounds, then mtime
// bounds, then category, then path patterns, then regex) so that a
// rejection never pays for a predicate more expensive than necessary.
package filterset

import (
	"regexp"
	"time"

	"github.com/ivoronin/dupedog/internal/dderrors"
	"github.com/ivoronin/dupedog/internal/types"
)

// Spec describes the filter predicates to apply, as parsed from CLI flags
// or a config file. A zero-value field means "no constraint".
type Spec struct {
	MinSize      int64
	MaxSize      int64
	NewerThan    time.Time
	OlderThan    time.Time
	Categories   []types.Category
	IncludeGlobs []string
	ExcludeGlobs []string
	IncludeRegex string
	ExcludeRegex string
}

// FilterSet evaluates a Spec's predicates against scanned files in
// cheapest-first order, short-circuiting on the first rejection.
type FilterSet struct {
	minSize      int64
	maxSize      int64
	newerThan    time.Time
	olderThan    time.Time
	categories   map[types.Category]struct{}
	includeGlob  *globMatcher
	excludeGlob  *globMatcher
	includeRegex *regexp.Regexp
	excludeRegex *regexp.Regexp
}

// New compiles a Spec into a ready-to-evaluate FilterSet.
func New(spec Spec) (*FilterSet, error) {
	fs := &FilterSet{
		minSize:   spec.MinSize,
		maxSize:   spec.MaxSize,
		newerThan: spec.NewerThan,
		olderThan: spec.OlderThan,
	}

	if len(spec.Categories) > 0 {
		fs.categories = make(map[types.Category]struct{}, len(spec.Categories))
		for _, c := range spec.Categories {
			fs.categories[c] = struct{}{}
		}
	}

	if len(spec.IncludeGlobs) > 0 {
		fs.includeGlob = newGlobMatcher(spec.IncludeGlobs)
	}
	if len(spec.ExcludeGlobs) > 0 {
		fs.excludeGlob = newGlobMatcher(spec.ExcludeGlobs)
	}

	if spec.IncludeRegex != "" {
		re, err := regexp.Compile(spec.IncludeRegex)
		if err != nil {
			return nil, dderrors.Wrap(dderrors.CodeInvalidConfig, "invalid include regex", err)
		}
		fs.includeRegex = re
	}
	if spec.ExcludeRegex != "" {
		re, err := regexp.Compile(spec.ExcludeRegex)
		if err != nil {
			return nil, dderrors.Wrap(dderrors.CodeInvalidConfig, "invalid exclude regex", err)
		}
		fs.excludeRegex = re
	}

	return fs, nil
}

// Accept evaluates every configured predicate against fi, in
// cheapest-first order, returning false on the first rejection.
func (fs *FilterSet) Accept(fi *types.FileInfo) bool {
	if fs.minSize > 0 && fi.Size < fs.minSize {
		return false
	}
	if fs.maxSize > 0 && fi.Size > fs.maxSize {
		return false
	}

	if !fs.newerThan.IsZero() && fi.ModTime.Before(fs.newerThan) {
		return false
	}
	if !fs.olderThan.IsZero() && fi.ModTime.After(fs.olderThan) {
		return false
	}

	if fs.categories != nil {
		if _, ok := fs.categories[fi.Category]; !ok {
			return false
		}
	}

	if fs.excludeGlob != nil && fs.excludeGlob.match(fi.Path, false) {
		return false
	}
	if fs.includeGlob != nil && !fs.includeGlob.match(fi.Path, false) {
		return false
	}

	if fs.excludeRegex != nil && fs.excludeRegex.MatchString(fi.Path) {
		return false
	}
	if fs.includeRegex != nil && !fs.includeRegex.MatchString(fi.Path) {
		return false
	}

	return true
}

// AcceptDir reports whether a directory should be descended into, applying
// only the predicates that make sense for directories (exclude globs
// marked directory-only, plus plain exclude globs so "node_modules"
// prunes the whole subtree instead of being re-evaluated per file).
func (fs *FilterSet) AcceptDir(path string) bool {
	if fs.excludeGlob != nil && fs.excludeGlob.match(path, true) {
		return false
	}
	return true
}
