package analysis

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Sidhtang/medpassport/pkg/models"
	"github.com/Sidhtang/medpassport/pkg/prompt"
)

// Category names with special meaning.
const (
	CategoryAutoDetect    = "Mixed (Auto-detect)"
	DefaultImageCategory  = "X-Ray"
	DefaultReportCategory = "Medical Report"
	DefaultMediaCategory  = "Heart Sounds Analysis"
)

// CategoryFor resolves the category an artifact is analyzed and cached
// under. The auto-detect category maps each kind to a fixed category; an
// empty category takes the default for the kind.
func CategoryFor(requested string, kind models.ArtifactKind) string {
	switch requested {
	case CategoryAutoDetect:
		switch kind {
		case models.KindImage:
			return "X-Ray"
		case models.KindPDF:
			return "Medical PDF"
		case models.KindText:
			return "Text Report"
		default:
			return "Medical Document"
		}
	case "":
		switch kind {
		case models.KindImage:
			return DefaultImageCategory
		case models.KindAudio, models.KindVideo:
			return DefaultMediaCategory
		default:
			return DefaultReportCategory
		}
	}
	return requested
}

// AnalyzeArtifact prepares a, builds its prompt and runs it through the
// cache. Completed analyses are recorded in the history when one is
// configured; recording failures are logged only.
func (s *Service) AnalyzeArtifact(ctx context.Context, a models.Artifact) (*Result, error) {
	res, kind, _, err := s.analyzeArtifact(ctx, a)
	s.observe(kind, res, err)
	return res, err
}

func (s *Service) analyzeArtifact(ctx context.Context, a models.Artifact) (*Result, models.ArtifactKind, string, error) {
	prepared, err := s.preparer.Prepare(ctx, a)
	if err != nil {
		return nil, a.Kind, CategoryFor(a.Category, a.Kind), err
	}

	role := a.Role
	if role == "" {
		role = models.RolePatient
	}
	category := CategoryFor(a.Category, prepared.Kind)

	text, err := prompt.Build(prompt.Input{
		Kind:           prepared.Kind,
		Category:       category,
		Role:           role,
		AdditionalInfo: a.AdditionalInfo,
		Text:           prepared.Text,
	})
	if err != nil {
		return nil, prepared.Kind, category, err
	}

	res, err := s.Run(ctx, Request{
		Content:  prepared.Canonical,
		Category: category,
		Role:     role,
		Call: models.AnalyzerRequest{
			Kind:   prepared.Kind,
			Prompt: text,
			Media:  prepared.Media,
		},
	})
	if err != nil {
		return nil, prepared.Kind, category, err
	}

	s.record(ctx, prepared.Kind, res)
	return res, prepared.Kind, category, nil
}

func (s *Service) record(ctx context.Context, kind models.ArtifactKind, res *Result) {
	if s.recorder == nil {
		return
	}
	rec := models.AnalysisRecord{
		Kind:        kind,
		Category:    res.Key.Category,
		Role:        res.Key.Role,
		Fingerprint: res.Key.Fingerprint,
		Result:      res.Text,
		Cached:      res.CacheHit,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		s.log.Warn("recording analysis history failed", zap.String("fingerprint", rec.Fingerprint), zap.Error(err))
	}
}

func (s *Service) observe(kind models.ArtifactKind, res *Result, err error) {
	outcome := "fresh"
	switch {
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		outcome = "cancelled"
	case err != nil:
		outcome = "error"
	case res.CacheHit:
		outcome = "cached"
	}
	s.metrics.AnalysisCompleted(string(kind), outcome)
}
