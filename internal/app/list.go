package app

import (
	"bufio"
	"bytes"
	"context"
	"strconv"
	"strings"

	"pkgkeeper/internal/core"
	"pkgkeeper/internal/types"
)

// List returns installed packages. Native packages come from the metadata
// records, checked against the install root; other sources ask their
// runner.
func (s Service) List(ctx context.Context, req ListRequest) (ListResult, error) {
	filter := strings.ToLower(strings.TrimSpace(req.Filter))
	if isAlternativeSource(req.Source) {
		identities, err := s.sourceRegistry().List(ctx, req.Source, req.Config)
		if err != nil {
			return ListResult{}, err
		}
		var packages []ListedPackage
		for _, identity := range identities {
			if matchesFilter(identity, filter) {
				packages = append(packages, ListedPackage{Identity: identity})
			}
		}
		return ListResult{Packages: packages}, nil
	}
	records, err := s.Metadata.List()
	if err != nil {
		return ListResult{}, err
	}
	installed := map[string]map[string]struct{}{}
	var packages []ListedPackage
	for _, record := range records {
		if !matchesFilter(record.Identity, filter) {
			continue
		}
		key := record.Identity.Key()
		if _, ok := installed[key]; !ok {
			installed[key] = map[string]struct{}{}
			all, err := s.Repository.FindInstalledAllVersions(ctx, record.Identity.ID)
			if err != nil {
				return ListResult{}, err
			}
			for _, identity := range all {
				installed[key][identity.VersionKey()] = struct{}{}
			}
		}
		if _, ok := installed[key][record.Identity.VersionKey()]; !ok {
			continue
		}
		packages = append(packages, ListedPackage{
			Identity:   record.Identity,
			Pinned:     record.IsPinned,
			SideBySide: record.IsSideBySide,
		})
	}
	return ListResult{Packages: packages}, nil
}

// Outdated runs a dry-run upgrade of every installed package and reports
// those with a newer version available.
func (s Service) Outdated(ctx context.Context, req OutdatedRequest) (OutdatedResult, error) {
	names, err := s.installedNames()
	if err != nil {
		return OutdatedResult{}, err
	}
	if len(names) == 0 {
		return OutdatedResult{}, nil
	}
	cfg := req.Config
	cfg.PackageNames = strings.Join(names, ";")
	cfg.Version = ""
	cfg.Noop = true
	cfg.Output = types.OutputModeMachine
	var lines bytes.Buffer
	pipeline := core.NewUpgradePipeline(s.Repository, s.Metadata, &lines)
	if _, err := pipeline.Run(ctx, cfg, nil); err != nil {
		return OutdatedResult{}, err
	}
	return OutdatedResult{Packages: parseOutdated(lines.String())}, nil
}

// parseOutdated reads id|installed|available|pinned lines and keeps the
// packages whose available version is newer.
func parseOutdated(text string) []OutdatedPackage {
	var packages []OutdatedPackage
	seen := map[string]struct{}{}
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		fields := strings.Split(strings.TrimSpace(scanner.Text()), "|")
		if len(fields) != 4 {
			continue
		}
		pkg := OutdatedPackage{ID: fields[0], Installed: fields[1], Available: fields[2]}
		pkg.Pinned, _ = strconv.ParseBool(fields[3])
		if core.CompareVersions(pkg.Available, pkg.Installed) <= 0 {
			continue
		}
		key := strings.ToLower(pkg.ID)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		packages = append(packages, pkg)
	}
	return packages
}

func matchesFilter(identity types.PackageIdentity, filter string) bool {
	return filter == "" || strings.Contains(identity.Key(), filter)
}
