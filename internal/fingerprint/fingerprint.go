// Package fingerprint computes 64-bit SimHash fingerprints for text-like
// documents (plain text, PDF, DOCX), so near-duplicate documents (a
// reformatted copy, a version with a changed header) can be clustered the
// same way perceptual image hashes cluster near-duplicate photos.
package fingerprint

import (
	"archive/zip"
	"bufio"
	"bytes"
	"encoding/xml"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
)

// ngramSize is the width of the word n-grams fed into SimHash. 3-grams
// balance sensitivity (catching paraphrased runs) against stability
// (not flagging every document with shared common words as similar).
const ngramSize = 3

// ExtractText reads the textual content of a document, dispatching on
// file extension. Unsupported extensions return an error so the caller
// can skip the file from the similarity branch without affecting exact
// duplicate detection.
func ExtractText(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".csv", ".log":
		return extractPlainText(path)
	case ".pdf":
		return extractPDFText(path)
	case ".docx":
		return extractDOCXText(path)
	default:
		return "", fmt.Errorf("fingerprint: unsupported document type %q", path)
	}
}

func extractPlainText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func extractPDFText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text %s: %w", path, err)
	}
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", fmt.Errorf("read pdf text %s: %w", path, err)
	}

	return buf.String(), nil
}

// docxDocumentXML is the archive member containing a DOCX's body text.
const docxDocumentXML = "word/document.xml"

// docxRun mirrors the subset of OOXML's <w:t> run-text elements needed to
// recover a document's plain text; everything else in the XML tree
// (styling, revision marks, layout) is discarded.
type docxRun struct {
	XMLName xml.Name `xml:"t"`
	Text    string   `xml:",chardata"`
}

func extractDOCXText(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open docx %s: %w", path, err)
	}
	defer func() { _ = zr.Close() }()

	for _, file := range zr.File {
		if file.Name != docxDocumentXML {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("open %s in %s: %w", docxDocumentXML, path, err)
		}
		defer func() { _ = rc.Close() }()

		var sb strings.Builder
		decoder := xml.NewDecoder(rc)
		for {
			tok, err := decoder.Token()
			if err == io.EOF {
				break
			}
			if err != nil {
				return "", fmt.Errorf("decode %s: %w", docxDocumentXML, err)
			}
			if start, ok := tok.(xml.StartElement); ok && start.Name.Local == "t" {
				var run docxRun
				if err := decoder.DecodeElement(&run, &start); err != nil {
					return "", fmt.Errorf("decode run in %s: %w", docxDocumentXML, err)
				}
				sb.WriteString(run.Text)
				sb.WriteByte(' ')
			}
		}
		return sb.String(), nil
	}

	return "", fmt.Errorf("%s: missing %s", path, docxDocumentXML)
}

// tokenize splits text into lowercase word tokens, dropping punctuation.
func tokenize(text string) []string {
	var tokens []string
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() {
		word := strings.TrimFunc(scanner.Text(), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if word != "" {
			tokens = append(tokens, strings.ToLower(word))
		}
	}
	return tokens
}

// ngrams builds overlapping word n-grams of size ngramSize from tokens.
// Documents shorter than ngramSize produce a single n-gram of whatever
// tokens are available, so short documents still get a fingerprint.
func ngrams(tokens []string) []string {
	if len(tokens) == 0 {
		return nil
	}
	if len(tokens) < ngramSize {
		return []string{strings.Join(tokens, " ")}
	}

	grams := make([]string, 0, len(tokens)-ngramSize+1)
	for i := 0; i <= len(tokens)-ngramSize; i++ {
		grams = append(grams, strings.Join(tokens[i:i+ngramSize], " "))
	}
	return grams
}

// SimHash computes a 64-bit SimHash fingerprint for text: each n-gram is
// hashed to 64 bits, and each bit position's signed contributions
// (+1 if the gram's hash has that bit set, -1 otherwise) are summed
// across all n-grams; the result's sign per bit position forms the
// final fingerprint (zero or positive sets the bit).
func SimHash(text string) uint64 {
	grams := ngrams(tokenize(text))
	if len(grams) == 0 {
		return 0
	}

	var weights [64]int
	for _, gram := range grams {
		h := fnv.New64a()
		_, _ = h.Write([]byte(gram))
		sum := h.Sum64()
		for bit := 0; bit < 64; bit++ {
			if sum&(1<<uint(bit)) != 0 {
				weights[bit]++
			} else {
				weights[bit]--
			}
		}
	}

	var result uint64
	for bit := 0; bit < 64; bit++ {
		if weights[bit] >= 0 {
			result |= 1 << uint(bit)
		}
	}
	return result
}

// HammingDistance counts the differing bits between two SimHash values.
func HammingDistance(a, b uint64) int {
	x := a ^ b
	count := 0
	for x != 0 {
		count++
		x &= x - 1
	}
	return count
}
