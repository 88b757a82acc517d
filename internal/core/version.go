package core

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// versionCache memoizes parsed versions so repeated comparisons during a
// run do not reparse the same strings.
type versionCache struct {
	mu     sync.Mutex
	parsed map[string]*semver.Version
}

var versions = &versionCache{parsed: map[string]*semver.Version{}}

// semverVersion returns a parsed semantic version, caching the result.
// Versions are normalized first so four-part versions order correctly.
func (c *versionCache) semverVersion(value string) (*semver.Version, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if parsed, ok := c.parsed[value]; ok {
		return parsed, parsed != nil
	}
	parsed, err := semver.NewVersion(normalizeVersion(value))
	if err != nil {
		c.parsed[value] = nil
		return nil, false
	}
	c.parsed[value] = parsed
	return parsed, true
}

// CompareVersions returns -1, 0 or 1. Versions that are not semver
// compare case-insensitively as strings.
func CompareVersions(a string, b string) int {
	v1, ok1 := versions.semverVersion(a)
	v2, ok2 := versions.semverVersion(b)
	if ok1 && ok2 {
		return v1.Compare(v2)
	}
	return strings.Compare(strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b)))
}

// VersionsEqual reports semantic equality ("1.0" equals "1.0.0").
func VersionsEqual(a string, b string) bool {
	return CompareVersions(a, b) == 0
}

// IsPrerelease reports whether value carries a prerelease tag.
func IsPrerelease(value string) bool {
	parsed, ok := versions.semverVersion(value)
	if !ok {
		return strings.Contains(value, "-")
	}
	return parsed.Prerelease() != ""
}

// normalizeVersion pads numeric versions to four segments and folds the
// fourth into the patch number, so 1.2.3.4 sorts between 1.2.3 and 1.2.4.
// Anything that is not purely numeric is returned unchanged.
func normalizeVersion(value string) string {
	value = strings.TrimSpace(value)
	numeric, suffix := value, ""
	if idx := strings.IndexAny(value, "-+"); idx >= 0 {
		numeric, suffix = value[:idx], value[idx:]
	}
	parts := strings.Split(numeric, ".")
	if len(parts) == 0 || len(parts) > 4 {
		return value
	}
	segments := make([]uint64, 4)
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return value
		}
		segments[i] = n
	}
	patch := segments[2]*1000000 + segments[3]
	return fmt.Sprintf("%d.%d.%d%s", segments[0], segments[1], patch, suffix)
}
