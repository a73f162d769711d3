package analysis

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Sidhtang/medpassport/pkg/models"
	"github.com/Sidhtang/medpassport/pkg/prepare"
)

// Batch analyzes every artifact, each through the same cache path as a
// single request. A failing item is reported with status Error and does
// not affect the others. Results keep the input order.
func (s *Service) Batch(ctx context.Context, artifacts []models.Artifact) []models.BatchResult {
	results := make([]models.BatchResult, len(artifacts))

	var g errgroup.Group
	g.SetLimit(max(s.batchLimit, 1))
	for i, a := range artifacts {
		if a.Kind == "" && len(a.Data) > 0 {
			a.Kind = prepare.DetectKind(a.FileName, a.Data)
		}
		g.Go(func() error {
			res, kind, category, err := s.analyzeArtifact(ctx, a)
			s.observe(kind, res, err)

			out := models.BatchResult{FileName: a.FileName, FileType: category}
			if err != nil {
				s.log.Warn("batch item failed", zap.String("file", a.FileName), zap.Error(err))
				out.Status = models.BatchError
				out.Result = err.Error()
			} else {
				out.Status = models.BatchCompleted
				out.Result = res.Text
				out.Cached = res.CacheHit
			}
			results[i] = out
			return nil
		})
	}
	_ = g.Wait()
	return results
}
