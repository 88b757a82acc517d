package core

import (
	"sort"
	"sync"

	"pkgkeeper/internal/ports"
	"pkgkeeper/internal/types"
)

// ResultAggregate maps a package key to its result for the duration of
// one run. Get-or-insert is atomic, so the same key always yields the same
// instance even with concurrent producers.
type ResultAggregate struct {
	mu      sync.Mutex
	results map[string]*types.PackageResult
}

func NewResultAggregate() *ResultAggregate {
	return &ResultAggregate{results: map[string]*types.PackageResult{}}
}

func (a *ResultAggregate) GetOrAdd(key string, factory func() *types.PackageResult) *types.PackageResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	if existing, ok := a.results[key]; ok {
		return existing
	}
	result := factory()
	a.results[key] = result
	return result
}

func (a *ResultAggregate) Get(key string) (*types.PackageResult, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	result, ok := a.results[key]
	return result, ok
}

func (a *ResultAggregate) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.results)
}

// Keys returns the keys in sorted order.
func (a *ResultAggregate) Keys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	keys := make([]string, 0, len(a.results))
	for key := range a.results {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Results returns the results ordered by key.
func (a *ResultAggregate) Results() []*types.PackageResult {
	keys := a.Keys()
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*types.PackageResult, 0, len(keys))
	for _, key := range keys {
		out = append(out, a.results[key])
	}
	return out
}

// Merge folds other into a. Keys already present keep a's instance.
func (a *ResultAggregate) Merge(other *ResultAggregate) {
	if other == nil || other == a {
		return
	}
	for _, key := range other.Keys() {
		result, _ := other.Get(key)
		a.GetOrAdd(key, func() *types.PackageResult { return result })
	}
}

func (a *ResultAggregate) SuccessCount() int {
	count := 0
	for _, result := range a.Results() {
		if result.Success() {
			count++
		}
	}
	return count
}

func (a *ResultAggregate) FailureCount() int {
	return a.Len() - a.SuccessCount()
}

// ExitCode is non-zero when any result failed. A recorded process exit
// code wins over the generic 1.
func (a *ResultAggregate) ExitCode() int {
	code := 0
	for _, result := range a.Results() {
		if result.Success() {
			continue
		}
		if recorded := result.ExitCode(); recorded != 0 {
			return recorded
		}
		code = 1
	}
	return code
}

var _ ports.ResultSink = (*ResultAggregate)(nil)
