// Package hasher computes content digests for the duplicate-detection
// pipeline. It keeps the verifier's progressive range-hashing shape (seek,
// bounded read, hash) but hashes with blake3 instead of sha256, and scales
// its read buffer to the range size so a 4KiB prefix probe and a 1GiB
// chunk don't pay the same per-call overhead.
package hasher

import (
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte content digest.
type Digest [32]byte

// PrefixSize is the size of the cheap prefix digest used to seed the
// bloom prefilter's second stage.
const PrefixSize = 4096

// minBufferSize and maxBufferSize bound the adaptive read buffer: small
// enough that a prefix probe doesn't allocate megabytes, large enough that
// a multi-gigabyte chunk isn't read one syscall at a time.
const (
	minBufferSize = 64 * 1024
	maxBufferSize = 16 * 1024 * 1024
)

// mmapThreshold is the range size above which HashRange prefers a memory
// map over streamed reads, avoiding a double copy through a read buffer
// for large ranges.
const mmapThreshold = 16 * 1024 * 1024

// bufferSizeFor picks a read-buffer size proportional to the range being
// hashed, clamped to [minBufferSize, maxBufferSize].
func bufferSizeFor(size int64) int {
	if size <= 0 {
		return minBufferSize
	}
	buf := size / 64
	if buf < minBufferSize {
		return minBufferSize
	}
	if buf > maxBufferSize {
		return maxBufferSize
	}
	return int(buf)
}

// SumBytes hashes an in-memory byte slice, used for content-addressing
// serialized payloads (e.g. a session's canonical JSON form) rather than
// files on disk.
func SumBytes(data []byte) Digest {
	var d Digest
	sum := blake3.Sum256(data)
	copy(d[:], sum[:])
	return d
}

// PrefixDigest hashes the first PrefixSize bytes of path (or the whole
// file if it is smaller).
func PrefixDigest(path string) (Digest, int64, error) {
	return HashRange(path, 0, PrefixSize)
}

// FullDigest hashes the entire contents of path.
func FullDigest(path string) (Digest, int64, error) {
	return HashRange(path, 0, -1)
}

// HashRange hashes size bytes of path starting at start. A negative size
// means "to end of file". It prefers a memory map for ranges at or above
// mmapThreshold, falling back to streamed reads if the map fails (e.g. the
// range doesn't fit the platform's mmap constraints) or size is unknown.
func HashRange(path string, start, size int64) (Digest, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, 0, err
	}
	defer func() { _ = f.Close() }()

	if size < 0 {
		info, err := f.Stat()
		if err != nil {
			return Digest{}, 0, err
		}
		size = info.Size() - start
		if size < 0 {
			size = 0
		}
	}

	if size >= mmapThreshold {
		if digest, n, ok := hashRangeMmap(f, start, size); ok {
			return digest, n, nil
		}
	}

	return hashRangeStream(f, start, size)
}

func hashRangeStream(f *os.File, start, size int64) (Digest, int64, error) {
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return Digest{}, 0, err
	}

	h := blake3.New()
	buf := make([]byte, bufferSizeFor(size))
	n, err := io.CopyBuffer(h, io.LimitReader(f, size), buf)
	if err != nil {
		return Digest{}, n, err
	}

	var d Digest
	copy(d[:], h.Sum(nil))
	return d, n, nil
}

// ByteCompare performs a paranoid lockstep byte comparison of two files
// over the given range, used when digest collisions must be ruled out
// beyond statistical confidence. It returns true if the ranges are
// byte-identical.
func ByteCompare(pathA, pathB string, start, size int64) (bool, error) {
	fa, err := os.Open(pathA)
	if err != nil {
		return false, err
	}
	defer func() { _ = fa.Close() }()

	fb, err := os.Open(pathB)
	if err != nil {
		return false, err
	}
	defer func() { _ = fb.Close() }()

	if _, err := fa.Seek(start, io.SeekStart); err != nil {
		return false, err
	}
	if _, err := fb.Seek(start, io.SeekStart); err != nil {
		return false, err
	}

	bufSize := bufferSizeFor(size)
	bufA := make([]byte, bufSize)
	bufB := make([]byte, bufSize)

	remaining := size
	ra := io.LimitReader(fa, size)
	rb := io.LimitReader(fb, size)

	for remaining > 0 {
		want := int64(len(bufA))
		if remaining < want {
			want = remaining
		}

		na, errA := io.ReadFull(ra, bufA[:want])
		nb, errB := io.ReadFull(rb, bufB[:want])
		if errA != nil && errA != io.EOF && errA != io.ErrUnexpectedEOF {
			return false, errA
		}
		if errB != nil && errB != io.EOF && errB != io.ErrUnexpectedEOF {
			return false, errB
		}
		if na != nb {
			return false, nil
		}
		for i := 0; i < na; i++ {
			if bufA[i] != bufB[i] {
				return false, nil
			}
		}

		remaining -= int64(na)
		if na == 0 {
			break
		}
	}

	return true, nil
}
