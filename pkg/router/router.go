package router

import (
	"fmt"

	"github.com/Sidhtang/medpassport/pkg/config"
	"github.com/Sidhtang/medpassport/pkg/models"
)

// Router resolves an artifact kind to an ordered chain of models to try.
type Router struct {
	defaultModel string
	routes       map[models.ArtifactKind][]string
}

// New creates a Router from the analyzer and router configuration.
func New(cfg *config.Config) *Router {
	r := &Router{
		defaultModel: cfg.Analyzer.DefaultModel,
		routes:       make(map[models.ArtifactKind][]string, len(cfg.Router.Routes)),
	}
	for _, route := range cfg.Router.Routes {
		kind := models.ArtifactKind(route.Kind)
		for _, m := range route.Models {
			if m != "" {
				r.routes[kind] = append(r.routes[kind], m)
			}
		}
	}
	return r
}

// Resolve returns the ordered models for kind. Kinds without a configured
// route use the default model alone.
func (r *Router) Resolve(kind models.ArtifactKind) ([]string, error) {
	if chain, ok := r.routes[kind]; ok && len(chain) > 0 {
		out := make([]string, len(chain))
		copy(out, chain)
		return out, nil
	}
	if r.defaultModel == "" {
		return nil, fmt.Errorf("no model configured for %s artifacts", kind)
	}
	return []string{r.defaultModel}, nil
}
