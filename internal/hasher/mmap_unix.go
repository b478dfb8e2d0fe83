//go:build unix

package hasher

import (
	"os"

	"github.com/zeebo/blake3"
	"golang.org/x/sys/unix"
)

// hashRangeMmap hashes [start, start+size) of f via mmap. The bool return
// is false if the map could not be established, signaling the caller to
// fall back to streamed reads.
func hashRangeMmap(f *os.File, start, size int64) (Digest, int64, bool) {
	pageSize := int64(os.Getpagesize())
	aligned := start - start%pageSize
	offset := start - aligned
	mapLen := size + offset

	data, err := unix.Mmap(int(f.Fd()), aligned, int(mapLen), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return Digest{}, 0, false
	}
	defer func() { _ = unix.Munmap(data) }()

	region := data[offset : offset+size]

	h := blake3.New()
	n, err := h.Write(region)
	if err != nil {
		return Digest{}, 0, false
	}

	var d Digest
	copy(d[:], h.Sum(nil))
	return d, int64(n), true
}
