package adapters

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"pkgkeeper/internal/ports"
	"pkgkeeper/internal/shared"
	"pkgkeeper/internal/types"
)

// FeedIndexName is the index document every HTTP feed publishes at its
// root.
const FeedIndexName = "index.yaml"

type feedIndex struct {
	Packages []ports.FeedPackage `yaml:"packages"`
}

type HTTPFeedOptions struct {
	User           string
	APIKey         string
	TimeoutSeconds int
	Retries        int
	RetryDelayMs   int
}

// HTTPFeedAdapter reads <endpoint>/index.yaml and downloads payload files
// from <endpoint>/<id>/<version>/<file>. The index is fetched once per
// adapter.
type HTTPFeedAdapter struct {
	Endpoint string
	options  HTTPFeedOptions
	http     httpRetryConfig

	mu     sync.Mutex
	index  feedIndex
	loaded bool
}

func NewHTTPFeedAdapter(endpoint string, options HTTPFeedOptions) *HTTPFeedAdapter {
	return &HTTPFeedAdapter{
		Endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		options:  options,
		http:     normalizeHTTPConfig(options.TimeoutSeconds, options.Retries, options.RetryDelayMs),
	}
}

func (a *HTTPFeedAdapter) Name() string {
	return a.Endpoint
}

func (a *HTTPFeedAdapter) Versions(ctx context.Context, id string) ([]ports.FeedPackage, error) {
	index, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	var packages []ports.FeedPackage
	for _, pkg := range index.Packages {
		if strings.EqualFold(pkg.ID, strings.TrimSpace(id)) {
			packages = append(packages, pkg)
		}
	}
	return packages, nil
}

func (a *HTTPFeedAdapter) Fetch(ctx context.Context, identity types.PackageIdentity, destDir string) error {
	index, err := a.load(ctx)
	if err != nil {
		return err
	}
	var (
		pkg   ports.FeedPackage
		found bool
	)
	for _, candidate := range index.Packages {
		if strings.EqualFold(candidate.ID, identity.ID) && candidate.Version == identity.Version {
			pkg, found = candidate, true
			break
		}
	}
	if !found {
		return errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("%s is not published in %s", identity, a.Endpoint))
	}
	for _, file := range pkg.Files {
		if err := a.download(ctx, pkg, file, destDir); err != nil {
			return err
		}
	}
	return nil
}

func (a *HTTPFeedAdapter) download(ctx context.Context, pkg ports.FeedPackage, file string, destDir string) error {
	clean := path.Clean("/" + strings.ReplaceAll(file, "\\", "/"))
	target := filepath.Join(destDir, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
	fileURL := a.Endpoint + "/" + url.PathEscape(pkg.ID) + "/" + url.PathEscape(pkg.Version) + clean
	log.Ctx(ctx).Debug().Str("url", fileURL).Msg("downloading package file")
	resp, err := doRequest(ctx, fileURL, a.options.User, a.options.APIKey, a.http)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to download %s", file)).
			WithCause(shared.HTTPStatusError(resp.StatusCode, fileURL))
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create payload directory").
			WithCause(err)
	}
	out, err := os.Create(target)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to create %s", target)).
			WithCause(err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to write %s", target)).
			WithCause(err)
	}
	return out.Close()
}

func (a *HTTPFeedAdapter) load(ctx context.Context) (feedIndex, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loaded {
		return a.index, nil
	}
	indexURL := a.Endpoint + "/" + FeedIndexName
	resp, err := doRequest(ctx, indexURL, a.options.User, a.options.APIKey, a.http)
	if err != nil {
		return feedIndex{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return feedIndex{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("feed %s has no %s", a.Endpoint, FeedIndexName))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return feedIndex{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read feed index").
			WithCause(shared.HTTPStatusError(resp.StatusCode, indexURL))
	}
	var index feedIndex
	if err := yaml.NewDecoder(resp.Body).Decode(&index); err != nil {
		return feedIndex{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid feed index at %s", indexURL)).
			WithCause(err)
	}
	a.index = index
	a.loaded = true
	return index, nil
}

var _ ports.FeedPort = (*HTTPFeedAdapter)(nil)
