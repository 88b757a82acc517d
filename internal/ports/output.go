package ports

import "pkgkeeper/internal/types"

// ReporterPort renders the results of a pipeline run.
type ReporterPort interface {
	Report(command types.CommandType, results []*types.PackageResult) error
	Line(text string)
}
