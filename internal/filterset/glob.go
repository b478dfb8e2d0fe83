package filterset

import (
	"path/filepath"
	"strings"
)

// globDoubleStar is the "**" segment that matches any number of directories.
const globDoubleStar = "**"

// globMatcher matches paths against a set of gitignore-style patterns:
// exact segment matches ("node_modules"), directory-only matches
// ("build/"), glob segments ("*.tmp"), "**" wildcards, and negation
// ("!keep.me") which un-excludes a path matched by an earlier pattern.
type globMatcher struct {
	patterns []globPattern
}

type globPattern struct {
	isDirOnly  bool
	isNegation bool
	segments   []string
	hasGlob    bool
}

// newGlobMatcher compiles a list of gitignore-style pattern strings.
// Empty lines and lines starting with "#" are ignored.
func newGlobMatcher(patterns []string) *globMatcher {
	gm := &globMatcher{patterns: make([]globPattern, 0, len(patterns))}

	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}

		pat := globPattern{}
		if strings.HasPrefix(p, "!") {
			pat.isNegation = true
			p = strings.TrimPrefix(p, "!")
		}
		if strings.HasSuffix(p, "/") {
			pat.isDirOnly = true
			p = strings.TrimSuffix(p, "/")
		}

		p = filepath.ToSlash(p)
		pat.segments = strings.Split(p, "/")
		pat.hasGlob = strings.Contains(p, "*") || strings.Contains(p, "?")

		gm.patterns = append(gm.patterns, pat)
	}

	return gm
}

// match returns true if path should be excluded by the pattern set.
func (gm *globMatcher) match(path string, isDir bool) bool {
	path = filepath.ToSlash(path)
	pathSegments := strings.Split(path, "/")

	matched := false
	matchedNegation := false

	for _, pat := range gm.patterns {
		if pat.match(pathSegments, isDir) {
			if pat.isNegation {
				matchedNegation = true
			} else {
				matched = true
			}
		}
	}

	if matchedNegation {
		return false
	}
	return matched
}

func (p *globPattern) match(pathSegments []string, isDir bool) bool {
	if p.isDirOnly && !isDir {
		return false
	}

	if !p.hasGlob && len(p.segments) == 1 {
		for _, seg := range pathSegments {
			if seg == p.segments[0] {
				return true
			}
		}
		return false
	}

	return p.matchSegments(pathSegments)
}

func (p *globPattern) matchSegments(pathSegments []string) bool {
	patSegs := p.segments

	if len(patSegs) > 0 && patSegs[0] == globDoubleStar {
		if len(patSegs) == 1 {
			return true
		}
		remainingPat := patSegs[1:]
		for i := 0; i <= len(pathSegments); i++ {
			if matchSegmentsAt(pathSegments[i:], remainingPat) {
				return true
			}
		}
		return false
	}

	if len(patSegs) > 0 && patSegs[len(patSegs)-1] == globDoubleStar {
		return matchSegmentsAt(pathSegments, patSegs[:len(patSegs)-1])
	}

	return matchSegmentsAt(pathSegments, patSegs)
}

func matchSegmentsAt(pathSegs, patSegs []string) bool {
	if len(patSegs) == 0 {
		return true
	}
	if len(pathSegs) == 0 {
		return false
	}

	for i := 0; i <= len(pathSegs)-len(patSegs); i++ {
		matched := true
		for j := 0; j < len(patSegs); j++ {
			if !matchSegment(pathSegs[i+j], patSegs[j]) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}

	return false
}

func matchSegment(pathSeg, patSeg string) bool {
	if patSeg == pathSeg {
		return true
	}
	if strings.Contains(patSeg, "*") || strings.Contains(patSeg, "?") {
		return matchGlob(pathSeg, patSeg)
	}
	return false
}

// matchGlob matches s against a pattern using '*' (any run) and '?' (any
// single rune) wildcards.
func matchGlob(s, pattern string) bool {
	patternIdx := 0
	strIdx := 0

	for patternIdx < len(pattern) && strIdx < len(s) {
		switch {
		case pattern[patternIdx] == '*':
			if patternIdx == len(pattern)-1 {
				return true
			}
			for i := strIdx; i <= len(s); i++ {
				if matchGlob(s[i:], pattern[patternIdx+1:]) {
					return true
				}
			}
			return false
		case pattern[patternIdx] == '?':
			patternIdx++
			strIdx++
		case pattern[patternIdx] == s[strIdx]:
			patternIdx++
			strIdx++
		default:
			return false
		}
	}

	for patternIdx < len(pattern) && pattern[patternIdx] == '*' {
		patternIdx++
	}

	return patternIdx == len(pattern) && strIdx == len(s)
}
