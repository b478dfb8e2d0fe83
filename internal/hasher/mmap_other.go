//go:build !unix

package hasher

import "os"

// hashRangeMmap is unavailable on non-unix platforms; HashRange always
// falls back to streamed reads there.
func hashRangeMmap(f *os.File, start, size int64) (Digest, int64, bool) {
	return Digest{}, 0, false
}
