package app

import (
	"context"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"pkgkeeper/internal/types"
)

// Search returns the versions a source offers for one package, newest
// first.
func (s Service) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return SearchResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("a package name is required to search")
	}
	log.Ctx(ctx).Debug().Str("source", string(req.Source)).Str("query", query).Msg("searching for package")
	if isAlternativeSource(req.Source) {
		found, err := s.sourceRegistry().Search(ctx, req.Source, req.Config, query)
		if err != nil {
			return SearchResult{}, err
		}
		return SearchResult{Packages: found}, nil
	}
	available, found, err := s.Repository.FindAvailable(ctx, query, strings.TrimSpace(req.Config.Version), req.Config.Prerelease)
	if err != nil {
		return SearchResult{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("unable to search the configured sources for " + query).
			WithCause(err)
	}
	if !found {
		return SearchResult{}, nil
	}
	return SearchResult{Packages: []types.PackageIdentity{available}}, nil
}
