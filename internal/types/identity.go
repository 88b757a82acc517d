package types

import (
	"fmt"
	"strings"
)

// PackageIdentity names one package version. ID comparisons are
// case-insensitive; Version may be empty until resolved.
type PackageIdentity struct {
	ID      string `yaml:"id"`
	Version string `yaml:"version"`
}

// Key is the lower-cased id used to key install and upgrade results.
func (p PackageIdentity) Key() string {
	return strings.ToLower(strings.TrimSpace(p.ID))
}

// VersionKey keys uninstall results, where several versions of the same
// id may coexist.
func (p PackageIdentity) VersionKey() string {
	return fmt.Sprintf("%s|%s", p.Key(), strings.ToLower(strings.TrimSpace(p.Version)))
}

// SameID reports whether two identities refer to the same package id.
func (p PackageIdentity) SameID(other PackageIdentity) bool {
	return strings.EqualFold(strings.TrimSpace(p.ID), strings.TrimSpace(other.ID))
}

func (p PackageIdentity) String() string {
	if strings.TrimSpace(p.Version) == "" {
		return p.ID
	}
	return fmt.Sprintf("%s v%s", p.ID, p.Version)
}

// SplitPackageNames splits the semicolon separated package list accepted
// by every pipeline, dropping blanks.
func SplitPackageNames(raw string) []string {
	var names []string
	for _, part := range strings.Split(raw, ";") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	return names
}
