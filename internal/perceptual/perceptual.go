// Package perceptual computes 64-bit perceptual fingerprints for image
// files (average hash, difference hash, perceptual hash) so visually
// similar images can be clustered even when their byte content differs
// (different encoder, different quality, a resave). Decode failures are
// reported to the caller and only drop the file from the similarity
// branch; the exact-duplicate branch is unaffected.
package perceptual

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"os"

	"github.com/corona10/goimagehash"
)

// Fingerprint holds the three 64-bit perceptual hashes computed for one
// image. The pipeline clusters images by Hamming distance on Perceptual
// alone, in one BK-tree; Average and Difference are computed but not
// used for clustering.
type Fingerprint struct {
	Average    uint64
	Difference uint64
	Perceptual uint64
}

// magicTable supplements net/http's content sniffing for image formats it
// doesn't special-case, so formats like BMP or WebP aren't silently
// treated as "unknown" before we even try to decode them.
var magicTable = []struct {
	magic []byte
	mime  string
}{
	{[]byte("BM"), "image/bmp"},
	{[]byte("RIFF"), "image/webp"},
}

// SniffFormat reports a best-effort MIME type for the given header bytes,
// falling back to the magic table when http.DetectContentType doesn't
// recognize the format.
func SniffFormat(header []byte) string {
	mime := http.DetectContentType(header)
	if mime != "application/octet-stream" {
		return mime
	}
	for _, m := range magicTable {
		if bytes.HasPrefix(header, m.magic) {
			return m.mime
		}
	}
	return mime
}

// Compute decodes the image at path and computes its average, difference,
// and perceptual hashes. It returns an error if the file cannot be
// decoded as an image the standard library (plus the registered
// decoders) understands.
func Compute(path string) (Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fingerprint{}, err
	}
	defer func() { _ = f.Close() }()

	img, _, err := image.Decode(f)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("decode %s: %w", path, err)
	}

	aHash, err := goimagehash.AverageHash(img)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("average hash %s: %w", path, err)
	}
	dHash, err := goimagehash.DifferenceHash(img)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("difference hash %s: %w", path, err)
	}
	pHash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("perceptual hash %s: %w", path, err)
	}

	return Fingerprint{
		Average:    aHash.GetHash(),
		Difference: dHash.GetHash(),
		Perceptual: pHash.GetHash(),
	}, nil
}

// HammingDistance counts the differing bits between two 64-bit hashes.
func HammingDistance(a, b uint64) int {
	x := a ^ b
	count := 0
	for x != 0 {
		count++
		x &= x - 1
	}
	return count
}
