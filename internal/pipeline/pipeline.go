// Package pipeline orchestrates a full detection run: scan, screen,
// bloom-prefilter, verify, optional paranoid compare, and the perceptual/
// document similarity branches, finally handing everything to the
// assembler for presentation. It generalizes the fan-out/fan-in,
// semaphore-bounded concurrency idioms already used by
// internal/scanner and internal/verifier into a single orchestrator. One
// context.Context is passed to the scanner and the fingerprint workers and
// checked between phases; the screener and verifier do not take it, so a
// cancelled run stops at the next check rather than mid-verification.
package pipeline

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/ivoronin/dupedog/internal/assembler"
	"github.com/ivoronin/dupedog/internal/bktree"
	"github.com/ivoronin/dupedog/internal/bloomfilter"
	"github.com/ivoronin/dupedog/internal/cache"
	"github.com/ivoronin/dupedog/internal/dderrors"
	"github.com/ivoronin/dupedog/internal/dlog"
	"github.com/ivoronin/dupedog/internal/filterset"
	"github.com/ivoronin/dupedog/internal/fingerprint"
	"github.com/ivoronin/dupedog/internal/hasher"
	"github.com/ivoronin/dupedog/internal/metrics"
	"github.com/ivoronin/dupedog/internal/perceptual"
	"github.com/ivoronin/dupedog/internal/runconfig"
	"github.com/ivoronin/dupedog/internal/scanner"
	"github.com/ivoronin/dupedog/internal/screener"
	"github.com/ivoronin/dupedog/internal/types"
	"github.com/ivoronin/dupedog/internal/verifier"
)

// Metrics collects the per-phase counters a caller can render as progress
// or report in a session summary. A phase that was never run (its
// detection mode disabled, or no candidate files) is left nil.
type Metrics struct {
	Scan       *metrics.Phase
	Screen     *metrics.Phase
	Hash       *metrics.Phase
	Perceptual *metrics.Phase
	Document   *metrics.Phase
}

// Result is everything a detection run produces.
type Result struct {
	Files        []*types.FileInfo
	Duplicates   []types.DuplicateGroup
	Similarities []types.SimilarityGroup
	Metrics      Metrics
}

// Pipeline runs one detection invocation. It is designed for single use:
// build with New, call Run once.
type Pipeline struct {
	cfg    runconfig.Config
	filter *filterset.FilterSet
	cache  *cache.Cache
	errCh  chan error
}

// New creates a Pipeline from a validated Config, its compiled FilterSet
// (from Config.Validate), an optional cache (cache.Open("") for disabled),
// and a shared error channel for non-fatal per-file errors.
func New(cfg runconfig.Config, filter *filterset.FilterSet, hashCache *cache.Cache, errCh chan error) *Pipeline {
	return &Pipeline{cfg: cfg, filter: filter, cache: hashCache, errCh: errCh}
}

// Run executes the full pipeline. A nil ctx is treated as
// context.Background(). The run stops promptly (returning
// dderrors.CodeCancelled) if ctx is cancelled between phases.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	result := &Result{Metrics: Metrics{}}

	result.Metrics.Scan = metrics.NewPhase(time.Now())
	sc := scanner.New(ctx, mergeRoots(p.cfg.Roots, p.cfg.ReferenceRoots), p.filter, p.cfg.Workers, p.cfg.ShowProgress, p.errCh).
		WithFollowSymlinks(p.cfg.FollowSymlinks).
		WithSkipHidden(p.cfg.SkipHidden).
		WithStrict(p.cfg.Strict)
	files := sc.Run()
	result.Metrics.Scan.FilesIn.Store(int64(len(files)))

	if sc.Aborted() {
		return nil, dderrors.New(dderrors.CodeStrictModeAbort, "scan aborted in strict mode")
	}
	if err := ctx.Err(); err != nil {
		return nil, dderrors.Wrap(dderrors.CodeCancelled, "run cancelled during scan", err)
	}

	for _, f := range files {
		f.Protected = p.cfg.IsReferenceRoot(f.Path)
	}
	result.Files = files

	if len(files) == 0 {
		return result, nil
	}

	if p.cfg.ExactDuplicates {
		duplicates, err := p.runExactBranch(ctx, files, result)
		if err != nil {
			return nil, err
		}
		result.Duplicates = duplicates
	}

	if err := ctx.Err(); err != nil {
		return nil, dderrors.Wrap(dderrors.CodeCancelled, "run cancelled before similarity branches", err)
	}

	var similarities []types.SimilarityGroup
	if p.cfg.SimilarImages {
		sims, err := p.runPerceptualBranch(ctx, files, result)
		if err != nil {
			return nil, err
		}
		similarities = append(similarities, sims...)
	}
	if p.cfg.SimilarDocuments {
		sims, err := p.runDocumentBranch(ctx, files, result)
		if err != nil {
			return nil, err
		}
		similarities = append(similarities, sims...)
	}
	result.Similarities = similarities

	return result, nil
}

// runExactBranch runs the size-bloom-prefilter → screen → prefix-bloom-
// prefilter → verify → optional paranoid-compare chain and hands the
// confirmed duplicate groups to the assembler.
func (p *Pipeline) runExactBranch(ctx context.Context, files []*types.FileInfo, result *Result) ([]types.DuplicateGroup, error) {
	result.Metrics.Screen = metrics.NewPhase(time.Now())

	sizeFiltered := sizePrefilter(files)
	result.Metrics.Screen.FilesIn.Store(int64(len(files)))
	result.Metrics.Screen.FilesRejected.Store(int64(len(files) - len(sizeFiltered)))

	candidates := screener.New(sizeFiltered, p.cfg.ShowProgress, p.cfg.TrustDeviceBoundaries).Run()
	if candidates.Len() == 0 {
		return nil, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, dderrors.Wrap(dderrors.CodeCancelled, "run cancelled during screening", err)
	}

	filtered, rejectedByPrefix := p.prefixPrefilter(candidates)
	result.Metrics.Screen.BloomRejects.Store(int64(rejectedByPrefix))
	if filtered.Len() == 0 {
		return nil, nil
	}

	result.Metrics.Hash = metrics.NewPhase(time.Now())
	dupGroups := verifier.New(filtered, p.cfg.Workers, p.cfg.ShowProgress, p.errCh, p.cache).Run()

	groups := dupGroups.Items()
	if p.cfg.Paranoid {
		groups = p.paranoidFilter(groups)
	}

	var hashedBytes int64
	for _, g := range groups {
		hashedBytes += g.First().First().Size * int64(g.Len())
	}
	result.Metrics.Hash.FilesIn.Store(int64(filtered.Len()))
	result.Metrics.Hash.FilesHashed.Store(int64(len(groups)))
	result.Metrics.Hash.BytesHashed.Store(hashedBytes)

	return assembler.Exact(types.NewDuplicateGroups(groups)), nil
}

// sizePrefilter drops files whose size was observed only once during a
// single pre-pass, using the bloom prefilter's size stage instead of
// building the screener's exact size map over the full (possibly huge)
// candidate population up front.
func sizePrefilter(files []*types.FileInfo) []*types.FileInfo {
	pf := bloomfilter.NewPrefilter(uint(len(files)))
	for _, f := range files {
		pf.ObserveSize(f.Size)
	}

	kept := make([]*types.FileInfo, 0, len(files))
	for _, f := range files {
		if pf.SizeMayDuplicate(f.Size) {
			kept = append(kept, f)
		}
	}
	return kept
}

// prefixPrefilter computes a cheap 4KiB prefix digest for the
// representative file of each sibling group within a candidate group, and
// drops any sibling group whose prefix does not recur among its same-size
// peers: a unique prefix rules out a full-content match without reading
// the rest of the file. It returns the surviving candidate groups and a
// count of sibling groups rejected this way.
func (p *Pipeline) prefixPrefilter(candidates types.CandidateGroups) (types.CandidateGroups, int) {
	var kept []types.CandidateGroup
	rejected := 0

	for _, cg := range candidates.Items() {
		items := cg.Items()
		digests := make([]hasher.Digest, len(items))
		failed := make([]bool, len(items))

		pf := bloomfilter.NewPrefilter(uint(len(items)))
		for i, sg := range items {
			rep := sg.First()
			digest, _, err := hasher.PrefixDigest(rep.Path)
			if err != nil {
				p.sendError(fmt.Errorf("prefix digest %s: %w", rep.Path, err))
				failed[i] = true
				continue
			}
			digests[i] = digest
			pf.ObservePrefix(digest[:])
		}

		var keptSiblings []types.SiblingGroup
		for i, sg := range items {
			switch {
			case failed[i]:
				// Fail open: a prefix we couldn't compute must not cause a
				// real duplicate to be silently dropped from verification.
				keptSiblings = append(keptSiblings, sg)
			case pf.PrefixMayDuplicate(digests[i][:]):
				keptSiblings = append(keptSiblings, sg)
			default:
				rejected++
			}
		}

		if len(keptSiblings) >= 2 {
			kept = append(kept, types.NewCandidateGroup(keptSiblings))
		} else {
			rejected += len(keptSiblings)
		}
	}

	return types.NewCandidateGroups(kept), rejected
}

// paranoidFilter re-verifies each confirmed duplicate group with a
// lockstep byte comparison against the group's first sibling group,
// dropping any sibling group that fails despite a matching digest (a
// blake3 collision, or a file that changed mid-scan).
func (p *Pipeline) paranoidFilter(groups []types.DuplicateGroup) []types.DuplicateGroup {
	result := make([]types.DuplicateGroup, 0, len(groups))
	for _, g := range groups {
		items := g.Items()
		if len(items) == 0 {
			continue
		}
		rep := items[0].First()

		verified := []types.SiblingGroup{items[0]}
		for _, sg := range items[1:] {
			other := sg.First()
			ok, err := hasher.ByteCompare(rep.Path, other.Path, 0, rep.Size)
			if err != nil {
				p.sendError(fmt.Errorf("paranoid compare %s vs %s: %w", rep.Path, other.Path, err))
				continue
			}
			if ok {
				verified = append(verified, sg)
			} else {
				dlog.Warn("paranoid compare mismatch despite matching digest", "a", rep.Path, "b", other.Path)
			}
		}

		if len(verified) >= 2 {
			result = append(result, types.NewDuplicateGroup(verified))
		}
	}
	return result
}

// runPerceptualBranch clusters image files by perceptual hash similarity.
func (p *Pipeline) runPerceptualBranch(ctx context.Context, files []*types.FileInfo, result *Result) ([]types.SimilarityGroup, error) {
	result.Metrics.Perceptual = metrics.NewPhase(time.Now())

	images := filterByCategory(files, types.CategoryImage)
	result.Metrics.Perceptual.FilesIn.Store(int64(len(images)))
	if len(images) == 0 {
		return nil, nil
	}

	items := p.fingerprintFiles(ctx, images, result.Metrics.Perceptual, p.perceptualHash)
	clusters := bktree.Cluster(items, p.cfg.SimilarityThreshold)
	return assembler.Similarity(types.SimilarImage, clusters), nil
}

// runDocumentBranch clusters text-like documents by SimHash similarity.
func (p *Pipeline) runDocumentBranch(ctx context.Context, files []*types.FileInfo, result *Result) ([]types.SimilarityGroup, error) {
	result.Metrics.Document = metrics.NewPhase(time.Now())

	docs := filterByCategory(files, types.CategoryDocument)
	result.Metrics.Document.FilesIn.Store(int64(len(docs)))
	if len(docs) == 0 {
		return nil, nil
	}

	items := p.fingerprintFiles(ctx, docs, result.Metrics.Document, p.documentHash)
	clusters := bktree.Cluster(items, p.cfg.SimilarityThreshold)
	return assembler.Similarity(types.SimilarDocument, clusters), nil
}

func filterByCategory(files []*types.FileInfo, category types.Category) []*types.FileInfo {
	var out []*types.FileInfo
	for _, f := range files {
		if f.Category == category {
			out = append(out, f)
		}
	}
	return out
}

// fingerprintFiles computes a 64-bit fingerprint for each file with a
// worker pool bounded by cfg.Workers, in the same semaphore-limited
// fan-out shape the verifier uses for file reads. Files whose fingerprint
// cannot be computed (decode failure) are rejected from the similarity
// branch without affecting anything else.
func (p *Pipeline) fingerprintFiles(
	ctx context.Context,
	files []*types.FileInfo,
	phase *metrics.Phase,
	hashFn func(*types.FileInfo) (uint64, bool),
) []bktree.Item {
	sem := types.NewSemaphore(p.cfg.Workers)
	var wg sync.WaitGroup
	itemsCh := make(chan bktree.Item, len(files))

	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(fi *types.FileInfo) {
			defer wg.Done()
			sem.Acquire()
			defer sem.Release()

			if ctx.Err() != nil {
				return
			}

			hash, ok := hashFn(fi)
			if !ok {
				phase.FilesRejected.Add(1)
				return
			}
			phase.FilesHashed.Add(1)
			itemsCh <- bktree.Item{Hash: hash, Ref: fi}
		}(f)
	}

	go func() {
		wg.Wait()
		close(itemsCh)
	}()

	items := make([]bktree.Item, 0, len(files))
	for it := range itemsCh {
		items = append(items, it)
	}
	return items
}

// perceptualFingerprintSize is the encoded byte length of a cached
// perceptual.Fingerprint: three 64-bit hashes.
const perceptualFingerprintSize = 24

// perceptualHash returns the clustering key (the perceptual hash, the
// most similarity-robust of the three computed hashes) for an image
// file, consulting the cache first.
func (p *Pipeline) perceptualHash(fi *types.FileInfo) (uint64, bool) {
	if cached, ok := p.lookupPerceptual(fi); ok {
		return cached, true
	}

	fp, err := perceptual.Compute(fi.Path)
	if err != nil {
		p.sendError(dderrors.Wrap(dderrors.CodeDecodeFailed, "perceptual hash failed", err).WithPath(fi.Path))
		return 0, false
	}

	p.storePerceptual(fi, fp)
	return fp.Perceptual, true
}

func (p *Pipeline) lookupPerceptual(fi *types.FileInfo) (uint64, bool) {
	if p.cache == nil {
		return 0, false
	}
	cached, err := p.cache.LookupPerceptual(fi)
	if err != nil {
		p.sendError(fmt.Errorf("perceptual cache lookup %s: %w", fi.Path, err))
		return 0, false
	}
	if len(cached) != perceptualFingerprintSize {
		return 0, false
	}
	return binary.BigEndian.Uint64(cached[16:24]), true
}

func (p *Pipeline) storePerceptual(fi *types.FileInfo, fp perceptual.Fingerprint) {
	if p.cache == nil {
		return
	}
	buf := make([]byte, perceptualFingerprintSize)
	binary.BigEndian.PutUint64(buf[0:8], fp.Average)
	binary.BigEndian.PutUint64(buf[8:16], fp.Difference)
	binary.BigEndian.PutUint64(buf[16:24], fp.Perceptual)
	if err := p.cache.StorePerceptual(fi, buf); err != nil {
		p.sendError(fmt.Errorf("perceptual cache store %s: %w", fi.Path, err))
	}
}

// documentHash returns the clustering key (a SimHash fingerprint) for a
// document file, consulting the cache first.
func (p *Pipeline) documentHash(fi *types.FileInfo) (uint64, bool) {
	if cached, ok := p.lookupSimHash(fi); ok {
		return cached, true
	}

	text, err := fingerprint.ExtractText(fi.Path)
	if err != nil {
		p.sendError(dderrors.Wrap(dderrors.CodeDecodeFailed, "text extraction failed", err).WithPath(fi.Path))
		return 0, false
	}

	hash := fingerprint.SimHash(text)
	p.storeSimHash(fi, hash)
	return hash, true
}

func (p *Pipeline) lookupSimHash(fi *types.FileInfo) (uint64, bool) {
	if p.cache == nil {
		return 0, false
	}
	cached, err := p.cache.LookupSimHash(fi)
	if err != nil {
		p.sendError(fmt.Errorf("simhash cache lookup %s: %w", fi.Path, err))
		return 0, false
	}
	if len(cached) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(cached), true
}

func (p *Pipeline) storeSimHash(fi *types.FileInfo, hash uint64) {
	if p.cache == nil {
		return
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, hash)
	if err := p.cache.StoreSimHash(fi, buf); err != nil {
		p.sendError(fmt.Errorf("simhash cache store %s: %w", fi.Path, err))
	}
}

func (p *Pipeline) sendError(err error) {
	if p.errCh != nil {
		p.errCh <- err
	}
}

// mergeRoots returns the deduplicated union of roots and referenceRoots,
// preserving roots' order first: reference roots are scanned too (their
// files participate in detection, just Protected from being reported as
// the deletable half of a pair).
func mergeRoots(roots, referenceRoots []string) []string {
	seen := make(map[string]struct{}, len(roots)+len(referenceRoots))
	merged := make([]string, 0, len(roots)+len(referenceRoots))
	for _, r := range roots {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		merged = append(merged, r)
	}
	for _, r := range referenceRoots {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		merged = append(merged, r)
	}
	return merged
}
