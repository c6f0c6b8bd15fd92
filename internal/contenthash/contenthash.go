// ABOUTME: Content fingerprints that decide whether two vouches are duplicates
// ABOUTME: Descriptions are normalized before hashing so cosmetic edits do not dodge the rule

// Package contenthash computes the image and description hashes stored on
// every vouch. All callers must hash through this package so that the
// duplicate rule compares like with like.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

var lower = cases.Lower(language.Und)

// NormalizeDescription folds a description to the form used for hashing:
// NFKC, trimmed, lower-cased, with each whitespace run reduced to one space.
func NormalizeDescription(text string) string {
	if text == "" {
		return ""
	}
	t := norm.NFKC.String(text)
	t = strings.TrimSpace(t)
	t = lower.String(t)
	return whitespaceRun.ReplaceAllString(t, " ")
}

// DescriptionHash returns the hex SHA-256 of the normalized description.
func DescriptionHash(text string) string {
	return hashHex([]byte(NormalizeDescription(text)))
}

// ImageHash returns the hex SHA-256 of the image bytes. A vouch without an
// image hashes the empty input.
func ImageHash(data []byte) string {
	return hashHex(data)
}

// ImageHashReader hashes an image as it streams, for files too large to buffer.
func ImageHashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hashing image: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
