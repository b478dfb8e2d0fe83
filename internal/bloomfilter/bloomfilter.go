// Package bloomfilter implements the two-stage probabilistic admission
// filter that lets the pipeline skip hashing work for files that cannot
// possibly have a duplicate. Stage 1 filters on file size (a unique size
// can have no duplicate); stage 2 filters on a cheap 4KiB prefix digest
// (a unique prefix can have no duplicate with identical full content).
// Both stages are built once during a pre-pass over the candidate set and
// are read-only for the remainder of the run, so concurrent Test calls
// need no locking beyond what the underlying bit set already provides.
package bloomfilter

import (
	"encoding/binary"

	"github.com/bits-and-blooms/bloom/v3"
)

// falsePositiveRate bounds both stages to at most 1% false-positive
// admissions, trading a small amount of wasted hashing for a filter that
// stays compact even over large candidate sets.
const falsePositiveRate = 0.01

// Prefilter tracks which sizes and which 4KiB prefix digests have been
// seen more than once, so the hashing phase can skip any file whose size
// or prefix digest is provably unique.
type Prefilter struct {
	sizesSeen    *bloom.BloomFilter
	sizesDup     *bloom.BloomFilter
	prefixSeen   *bloom.BloomFilter
	prefixDup    *bloom.BloomFilter
}

// NewPrefilter sizes both stages' bloom filters for an expected
// population of n candidate files.
func NewPrefilter(n uint) *Prefilter {
	if n == 0 {
		n = 1
	}
	return &Prefilter{
		sizesSeen:  bloom.NewWithEstimates(n, falsePositiveRate),
		sizesDup:   bloom.NewWithEstimates(n, falsePositiveRate),
		prefixSeen: bloom.NewWithEstimates(n, falsePositiveRate),
		prefixDup:  bloom.NewWithEstimates(n, falsePositiveRate),
	}
}

// ObserveSize records one occurrence of a file size during the pre-pass.
// After all files have been observed, SizeMayDuplicate reports whether a
// given size was observed more than once.
func (p *Prefilter) ObserveSize(size int64) {
	key := sizeKey(size)
	if p.sizesSeen.Test(key) {
		p.sizesDup.Add(key)
	} else {
		p.sizesSeen.Add(key)
	}
}

// SizeMayDuplicate reports whether size was seen more than once during
// the pre-pass. A false return is authoritative (the filter never
// under-reports real duplicates); a true return may be a false positive.
func (p *Prefilter) SizeMayDuplicate(size int64) bool {
	return p.sizesDup.Test(sizeKey(size))
}

// ObservePrefix records one occurrence of a 4KiB prefix digest.
func (p *Prefilter) ObservePrefix(digest []byte) {
	if p.prefixSeen.Test(digest) {
		p.prefixDup.Add(digest)
	} else {
		p.prefixSeen.Add(digest)
	}
}

// PrefixMayDuplicate reports whether digest was seen more than once
// during the pre-pass.
func (p *Prefilter) PrefixMayDuplicate(digest []byte) bool {
	return p.prefixDup.Test(digest)
}

func sizeKey(size int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(size))
	return buf
}
