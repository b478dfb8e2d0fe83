// Package assembler turns confirmed duplicate and similarity candidates
// into the final, orderable result sets: it drops singleton groups and
// groups whose every sibling group is protected, then stably sorts by descending
// recoverable bytes (ties broken lexicographically by the first path), in
// the spirit of the verifier's processJob grouping-by-hash logic but as a
// standalone stage that runs after all candidates have been confirmed.
package assembler

import (
	"sort"

	"github.com/ivoronin/dupedog/internal/bktree"
	"github.com/ivoronin/dupedog/internal/types"
)

// Exact filters and orders confirmed exact-duplicate groups for
// presentation. A group with fewer than two sibling groups, or one whose
// every copy lives under a reference root, carries nothing to reclaim and
// is dropped. A group with at least one non-protected copy is kept; its
// protected members stay marked by FileInfo.Protected.
func Exact(groups types.DuplicateGroups) []types.DuplicateGroup {
	kept := make([]types.DuplicateGroup, 0, groups.Len())
	for _, g := range groups.Items() {
		if g.Len() < 2 || unprotectedSiblingCount(g) == 0 {
			continue
		}
		kept = append(kept, g)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		bi, bj := recoverableBytes(kept[i]), recoverableBytes(kept[j])
		if bi != bj {
			return bi > bj
		}
		return kept[i].First().First().Path < kept[j].First().First().Path
	})

	return kept
}

func unprotectedSiblingCount(g types.DuplicateGroup) int {
	count := 0
	for _, sibs := range g.Items() {
		if !allProtected(sibs) {
			count++
		}
	}
	return count
}

func allProtected(sibs types.SiblingGroup) bool {
	for _, f := range sibs.Items() {
		if !f.Protected {
			return false
		}
	}
	return true
}

// recoverableBytes estimates bytes reclaimable by coalescing a group to a
// single copy: file size times (sibling-group count - 1), since one
// sibling group's files are kept as the source.
func recoverableBytes(g types.DuplicateGroup) int64 {
	if g.Len() == 0 {
		return 0
	}
	size := g.First().First().Size
	return size * int64(g.Len()-1)
}

// Similarity converts BK-tree clusters of perceptual or document
// fingerprints into SimilarityGroups, dropping any cluster that, once
// hardlink-coalesced (a sibling group already detected as exact
// duplicates contributes only once), has fewer than two members.
func Similarity(kind types.SimilarityKind, clusters [][]bktree.Item) []types.SimilarityGroup {
	groups := make([]types.SimilarityGroup, 0, len(clusters))

	for _, cluster := range clusters {
		seen := make(map[string]struct{}, len(cluster))
		files := make([]*types.FileInfo, 0, len(cluster))
		for _, item := range cluster {
			fi, ok := item.Ref.(*types.FileInfo)
			if !ok {
				continue
			}
			key := identityKey(fi)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			files = append(files, fi)
		}

		if len(files) < 2 {
			continue
		}
		groups = append(groups, types.NewSimilarityGroup(kind, files))
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Files.First().Path < groups[j].Files.First().Path
	})

	return groups
}

func identityKey(fi *types.FileInfo) string {
	// Hardlinked siblings share (Dev, Ino); coalescing on that pair
	// collapses them to a single representative per similarity group,
	// matching the "no hardlink duplication across groups" invariant
	// used for exact-duplicate groups.
	return fiKey(fi.Dev, fi.Ino)
}

func fiKey(dev, ino uint64) string {
	buf := make([]byte, 16)
	for i := 0; i < 8; i++ {
		buf[i] = byte(dev >> (8 * (7 - i)))
		buf[8+i] = byte(ino >> (8 * (7 - i)))
	}
	return string(buf)
}
