package session

import (
	"testing"
	"time"

	"github.com/ivoronin/dupedog/internal/filterset"
	"github.com/ivoronin/dupedog/internal/types"
)

func fi(path string, size int64) *types.FileInfo {
	return &types.FileInfo{Path: path, Size: size}
}

func sampleDuplicates() []types.DuplicateGroup {
	return []types.DuplicateGroup{
		types.NewDuplicateGroup([]types.SiblingGroup{
			types.NewSiblingGroup([]*types.FileInfo{fi("/a/one", 100)}),
			types.NewSiblingGroup([]*types.FileInfo{fi("/a/two", 100)}),
		}),
	}
}

func sampleSimilarities() []types.SimilarityGroup {
	return []types.SimilarityGroup{
		types.NewSimilarityGroup(types.SimilarImage, []*types.FileInfo{fi("/a/one.jpg", 10), fi("/a/two.jpg", 10)}),
	}
}

func TestBuildProducesVerifiableDigest(t *testing.T) {
	s, err := Build("test-1.0", time.Unix(0, 0), []string{"/a"}, nil, filterset.Spec{}, sampleDuplicates(), sampleSimilarities())
	if err != nil {
		t.Fatal(err)
	}
	if s.Digest == "" {
		t.Fatal("expected non-empty digest")
	}

	ok, err := s.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected freshly built session to verify")
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	s, err := Build("test-1.0", time.Unix(0, 0), []string{"/a"}, nil, filterset.Spec{}, sampleDuplicates(), sampleSimilarities())
	if err != nil {
		t.Fatal(err)
	}

	s.Duplicates[0].RecoverableBytes = 999999

	ok, err := s.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected tampered session to fail verification")
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	now := time.Unix(12345, 0)
	s1, err := Build("test-1.0", now, []string{"/a"}, nil, filterset.Spec{}, sampleDuplicates(), sampleSimilarities())
	if err != nil {
		t.Fatal(err)
	}
	s2, err := Build("test-1.0", now, []string{"/a"}, nil, filterset.Spec{}, sampleDuplicates(), sampleSimilarities())
	if err != nil {
		t.Fatal(err)
	}
	if s1.Digest != s2.Digest {
		t.Errorf("expected identical inputs to produce identical digests: %s != %s", s1.Digest, s2.Digest)
	}
}

func TestDuplicateViewComputesRecoverableBytes(t *testing.T) {
	s, err := Build("test-1.0", time.Unix(0, 0), []string{"/a"}, nil, filterset.Spec{}, sampleDuplicates(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Duplicates) != 1 {
		t.Fatalf("expected 1 duplicate view, got %d", len(s.Duplicates))
	}
	if s.Duplicates[0].RecoverableBytes != 100 {
		t.Errorf("RecoverableBytes = %d, want 100", s.Duplicates[0].RecoverableBytes)
	}
}

func TestSimilarViewIncludesKind(t *testing.T) {
	s, err := Build("test-1.0", time.Unix(0, 0), []string{"/a"}, nil, filterset.Spec{}, nil, sampleSimilarities())
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Similarities) != 1 {
		t.Fatalf("expected 1 similarity view, got %d", len(s.Similarities))
	}
	if s.Similarities[0].Kind != "similar-image" {
		t.Errorf("Kind = %q, want similar-image", s.Similarities[0].Kind)
	}
}
