// Package fingerprint computes content digests used as cache key components.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/Sidhtang/medpassport/pkg/models"
)

// ErrEmptyContent is returned when there is nothing to fingerprint.
var ErrEmptyContent = errors.New("fingerprint: empty content")

// Compute returns the hex SHA-256 digest of content.
func Compute(content []byte) (string, error) {
	if len(content) == 0 {
		return "", ErrEmptyContent
	}
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:]), nil
}

// ComputeText fingerprints extracted text. Whitespace-only text counts as empty.
func ComputeText(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyContent
	}
	return Compute([]byte(text))
}

// Key fingerprints content and builds the composite cache key.
func Key(content []byte, category, role string) (models.CacheKey, error) {
	fp, err := Compute(content)
	if err != nil {
		return models.CacheKey{}, err
	}
	return models.CacheKey{Fingerprint: fp, Category: category, Role: role}, nil
}
