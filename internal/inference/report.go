package inference

import (
	"fmt"
	"strings"
)

// CPUProvider is the name reported when no hardware provider was adopted.
const CPUProvider = "CPU"

type AttemptFailure struct {
	Provider string
	Err      error
}

func (f AttemptFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.Provider, f.Err)
}

// ProviderReport records which execution provider was adopted, every
// attempt that failed before it and the planned providers that were skipped
// because they cannot be attached.
type ProviderReport struct {
	Adopted  string
	Failures []AttemptFailure
	Skipped  []AttemptFailure
}

// Degraded reports whether a hardware provider was requested but the session
// fell back to the CPU provider.
func (r ProviderReport) Degraded() bool {
	return r.Adopted == CPUProvider && len(r.Failures) > 0
}

func (r ProviderReport) String() string {
	s := r.Adopted
	if len(r.Failures) > 0 {
		s += fmt.Sprintf(" (failed: %s)", joinFailures(r.Failures))
	}
	if len(r.Skipped) > 0 {
		s += fmt.Sprintf(" (skipped: %s)", joinFailures(r.Skipped))
	}
	return s
}

func joinFailures(fs []AttemptFailure) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = f.Error()
	}
	return strings.Join(parts, "; ")
}

// AttachProviders tries each attempt in order and adopts the first that
// succeeds. Failures never abort; they are collected in the report.
func AttachProviders(target ProviderTarget, attempts []ProviderAttempt) ProviderReport {
	report := ProviderReport{Adopted: CPUProvider}
	for _, a := range attempts {
		if a.Unsupported != nil {
			report.Skipped = append(report.Skipped, AttemptFailure{Provider: a.Name, Err: a.Unsupported})
			continue
		}
		if err := safeAttach(target, a); err != nil {
			report.Failures = append(report.Failures, AttemptFailure{Provider: a.Name, Err: err})
			continue
		}
		report.Adopted = a.Name
		break
	}
	return report
}

// safeAttach converts a panic from a provider binding into an error.
func safeAttach(target ProviderTarget, a ProviderAttempt) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panicked: %v", r)
		}
	}()
	return a.Attach(target)
}
