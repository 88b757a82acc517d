package types

import (
	"strings"
	"sync"
)

type Severity string

const (
	SeverityDebug        Severity = "debug"
	SeverityNote         Severity = "note"
	SeverityWarn         Severity = "warn"
	SeverityError        Severity = "error"
	SeverityInconclusive Severity = "inconclusive"
)

type ResultMessage struct {
	Severity Severity
	Text     string
}

// PackageResult accumulates the outcome of one package during a pipeline
// run. It is safe for concurrent use; continuations may report into it
// from other goroutines.
type PackageResult struct {
	mu              sync.Mutex
	identity        PackageIdentity
	installLocation string
	exitCode        int
	messages        []ResultMessage
}

func NewPackageResult(identity PackageIdentity) *PackageResult {
	return &PackageResult{identity: identity}
}

func (r *PackageResult) Identity() PackageIdentity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.identity
}

// SetVersion records the version once it has been resolved.
func (r *PackageResult) SetVersion(version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identity.Version = version
}

func (r *PackageResult) InstallLocation() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.installLocation
}

func (r *PackageResult) SetInstallLocation(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.installLocation = path
}

func (r *PackageResult) ExitCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exitCode
}

func (r *PackageResult) SetExitCode(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exitCode = code
}

// Append adds a message. It never fails and never reorders.
func (r *PackageResult) Append(severity Severity, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, ResultMessage{Severity: severity, Text: text})
}

// Messages returns a copy of the messages in append order.
func (r *PackageResult) Messages() []ResultMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ResultMessage(nil), r.messages...)
}

// Success is true unless an error message is attached.
func (r *PackageResult) Success() bool {
	return !r.has(SeverityError)
}

// Inconclusive is set when the pipeline decided not to act without
// failing (already installed, pinned, declined).
func (r *PackageResult) Inconclusive() bool {
	return r.has(SeverityInconclusive)
}

// HasMessage reports whether a message of the given severity contains
// the fragment, ignoring case.
func (r *PackageResult) HasMessage(severity Severity, fragment string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	needle := strings.ToLower(fragment)
	for _, message := range r.messages {
		if message.Severity == severity && strings.Contains(strings.ToLower(message.Text), needle) {
			return true
		}
	}
	return false
}

func (r *PackageResult) has(severity Severity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, message := range r.messages {
		if message.Severity == severity {
			return true
		}
	}
	return false
}
