// Package session defines the serialized output of a detection run: a
// versioned, content-addressed payload that downstream tooling (a review
// UI, a second confirmation pass, an audit trail) can consume without
// re-running detection. It plays the role the teacher's cache schema
// versioning plays for on-disk state, applied to a run's results instead
// of its hash cache.
package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ivoronin/dupedog/internal/filterset"
	"github.com/ivoronin/dupedog/internal/hasher"
	"github.com/ivoronin/dupedog/internal/types"
)

// SchemaVersion is bumped whenever the Session shape changes in a way that
// could break a consumer relying on field presence or meaning.
const SchemaVersion = 2

// Session is the top-level payload produced by a detection run.
type Session struct {
	ToolVersion   string    `json:"tool_version"`
	SchemaVersion int       `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`

	Roots          []string        `json:"roots"`
	ReferenceRoots []string        `json:"reference_roots,omitempty"`
	Filter         filterset.Spec  `json:"filter"`
	Duplicates     []DuplicateView `json:"duplicates"`
	Similarities   []SimilarView   `json:"similarities,omitempty"`

	// Digest is a content-addressed integrity digest computed over the
	// canonical JSON encoding of every field above it; it lets a
	// consumer detect a truncated or hand-edited session file.
	Digest string `json:"digest"`
}

// DuplicateView is the serializable form of a types.DuplicateGroup.
type DuplicateView struct {
	Files            []string `json:"files"`
	SizeBytes        int64    `json:"size_bytes"`
	RecoverableBytes int64    `json:"recoverable_bytes"`
}

// SimilarView is the serializable form of a types.SimilarityGroup.
type SimilarView struct {
	Kind  string   `json:"kind"`
	Files []string `json:"files"`
}

// Build assembles a Session from final assembler output and stamps it with
// an integrity digest. now is passed in rather than read from time.Now so
// callers control determinism in tests.
func Build(toolVersion string, now time.Time, roots, referenceRoots []string, filter filterset.Spec,
	duplicates []types.DuplicateGroup, similarities []types.SimilarityGroup) (Session, error) {
	s := Session{
		ToolVersion:    toolVersion,
		SchemaVersion:  SchemaVersion,
		GeneratedAt:    now.UTC(),
		Roots:          roots,
		ReferenceRoots: referenceRoots,
		Filter:         filter,
		Duplicates:     make([]DuplicateView, 0, len(duplicates)),
		Similarities:   make([]SimilarView, 0, len(similarities)),
	}

	for _, g := range duplicates {
		s.Duplicates = append(s.Duplicates, duplicateView(g))
	}
	for _, g := range similarities {
		s.Similarities = append(s.Similarities, similarView(g))
	}

	digest, err := s.computeDigest()
	if err != nil {
		return Session{}, fmt.Errorf("compute session digest: %w", err)
	}
	s.Digest = digest

	return s, nil
}

func duplicateView(g types.DuplicateGroup) DuplicateView {
	var files []string
	var size int64
	for _, sibs := range g.Items() {
		for _, f := range sibs.Items() {
			files = append(files, f.Path)
			size = f.Size
		}
	}
	recoverable := int64(0)
	if g.Len() > 1 {
		recoverable = size * int64(g.Len()-1)
	}
	return DuplicateView{Files: files, SizeBytes: size, RecoverableBytes: recoverable}
}

func similarView(g types.SimilarityGroup) SimilarView {
	var files []string
	for _, f := range g.Files.Items() {
		files = append(files, f.Path)
	}
	return SimilarView{Kind: g.Kind.String(), Files: files}
}

// computeDigest hashes the canonical JSON encoding of every field except
// Digest itself.
func (s Session) computeDigest() (string, error) {
	s.Digest = ""
	data, err := canonicalJSON(s)
	if err != nil {
		return "", err
	}
	d := hasher.SumBytes(data)
	return fmt.Sprintf("%x", d), nil
}

// Verify recomputes the integrity digest and reports whether it matches
// the Digest field already present on s.
func (s Session) Verify() (bool, error) {
	want := s.Digest
	got, err := s.computeDigest()
	if err != nil {
		return false, err
	}
	return got == want, nil
}

// canonicalJSON encodes v deterministically: struct field order is fixed
// by the type definition, so json.Marshal is already canonical for it
// provided no map-typed field is involved (Session has none).
func canonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
