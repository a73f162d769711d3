package prepare

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Report shortening defaults.
const (
	DefaultReportCharLimit = 5000
	DefaultReportKeepChars = 1000
)

var (
	// ErrUnsupportedKind is returned for artifacts that cannot be prepared.
	ErrUnsupportedKind = errors.New("prepare: unsupported artifact kind")
	// ErrInvalidText is returned for text uploads that are not valid UTF-8.
	ErrInvalidText = errors.New("prepare: report is not valid UTF-8 text")

	whitespaceRe = regexp.MustCompile(`\s+`)
	unitRe       = regexp.MustCompile(`(\d+)\s+([a-zA-Z]+/[a-zA-Z]+)`)
)

// CleanText collapses runs of whitespace into a single space and rejoins
// numbers split from their units ("120 mg/dL" becomes "120mg/dL").
func CleanText(s string) string {
	s = whitespaceRe.ReplaceAllString(s, " ")
	return unitRe.ReplaceAllString(s, "$1$2")
}

// TruncateReport shortens reports longer than limit characters to the
// first and last keep characters joined by "...". It counts runes, not
// bytes.
func TruncateReport(s string, limit, keep int) string {
	if limit <= 0 {
		limit = DefaultReportCharLimit
	}
	if keep <= 0 {
		keep = DefaultReportKeepChars
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:keep]) + "..." + string(r[len(r)-keep:])
}

// TextExtractor pulls plain text out of a document such as a PDF.
type TextExtractor interface {
	ExtractText(ctx context.Context, data []byte) (string, error)
}

// NoExtractor rejects every document. It is the default because document
// text extraction is not built in.
type NoExtractor struct{}

// ExtractText implements TextExtractor.
func (NoExtractor) ExtractText(context.Context, []byte) (string, error) {
	return "", ErrUnsupportedKind
}

// Text decodes a plain-text upload and cleans it.
func Text(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", ErrInvalidText
	}
	return strings.TrimSpace(CleanText(string(data))), nil
}
