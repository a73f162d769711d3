package prepare

import (
	"context"
	"fmt"
	"strings"

	"github.com/Sidhtang/medpassport/pkg/fingerprint"
	"github.com/Sidhtang/medpassport/pkg/models"
)

// Options controls artifact preparation.
type Options struct {
	ImageMaxDimension int
	JPEGQuality       int
	MaxImagePixels    int
	ReportCharLimit   int
	ReportKeepChars   int
	Extractor         TextExtractor
}

// Prepared is an artifact in canonical form.
type Prepared struct {
	Kind models.ArtifactKind
	// Canonical is the content the fingerprint is computed over.
	Canonical []byte
	// Text is report text (already shortened) or a rendering of audio
	// features. Empty for images and video.
	Text  string
	Media *models.Media
}

// Preparer turns raw uploads into Prepared artifacts.
type Preparer struct {
	opts Options
}

// New creates a Preparer. Zero options select the defaults.
func New(opts Options) *Preparer {
	if opts.Extractor == nil {
		opts.Extractor = NoExtractor{}
	}
	return &Preparer{opts: opts}
}

// Prepare canonicalizes a. Images are recompressed, text is cleaned and
// fingerprinted before it is shortened, and media is fingerprinted over its
// raw bytes.
func (p *Preparer) Prepare(ctx context.Context, a models.Artifact) (*Prepared, error) {
	kind := a.Kind
	if kind == "" {
		if a.Text != "" && len(a.Data) == 0 {
			kind = models.KindText
		} else {
			kind = DetectKind(a.FileName, a.Data)
		}
	}

	switch kind {
	case models.KindImage:
		jpg, err := Image(a.Data, p.opts.ImageMaxDimension, p.opts.JPEGQuality, p.opts.MaxImagePixels)
		if err != nil {
			return nil, err
		}
		return &Prepared{
			Kind:      kind,
			Canonical: jpg,
			Media:     &models.Media{MIMEType: "image/jpeg", Data: jpg},
		}, nil

	case models.KindText, models.KindPDF:
		text, err := p.reportText(ctx, kind, a)
		if err != nil {
			return nil, err
		}
		return &Prepared{
			Kind:      kind,
			Canonical: []byte(text),
			Text:      TruncateReport(text, p.opts.ReportCharLimit, p.opts.ReportKeepChars),
		}, nil

	case models.KindAudio:
		return &Prepared{
			Kind:      kind,
			Canonical: a.Data,
			Text:      ExtractAudioFeatures(a.Data).String(),
		}, nil

	case models.KindVideo:
		return &Prepared{
			Kind:      kind,
			Canonical: a.Data,
			Media:     &models.Media{MIMEType: MIMEType(a.FileName, a.Data), Data: a.Data},
		}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
}

// reportText yields the cleaned, trimmed report text. Typed and uploaded
// text normalize identically so both produce the same fingerprint.
func (p *Preparer) reportText(ctx context.Context, kind models.ArtifactKind, a models.Artifact) (string, error) {
	var text string
	switch {
	case len(a.Data) == 0:
		text = strings.TrimSpace(CleanText(a.Text))
	case kind == models.KindPDF:
		raw, err := p.opts.Extractor.ExtractText(ctx, a.Data)
		if err != nil {
			return "", fmt.Errorf("extract pdf text: %w", err)
		}
		text = strings.TrimSpace(CleanText(raw))
	default:
		var err error
		if text, err = Text(a.Data); err != nil {
			return "", err
		}
	}
	if text == "" {
		return "", fingerprint.ErrEmptyContent
	}
	return text, nil
}
