// Package registries defines the adapter contract every registry
// integration implements (§4.5) and the shared error taxonomy adapters
// raise.
package registries

import "fmt"

// ErrRegistryUnavailable is raised when the rate-limited HTTP client
// exhausts its retry budget against a registry (§4.1, §7).
type ErrRegistryUnavailable struct {
	Registry   string
	LastStatus int
}

func (e *ErrRegistryUnavailable) Error() string {
	return fmt.Sprintf("registry %q unavailable: last_status=%d", e.Registry, e.LastStatus)
}

// ErrManualImportRequired is returned by bulk-file adapters (EU CTR,
// WHO ICTRP) when the operator has not yet dropped a file to process.
// It is operator-recoverable, not a failure: the scraper engine appends
// the message to the scraping job's error log and completes the job.
// No alert is raised for it.
type ErrManualImportRequired struct {
	Registry string
	Path     string
}

func (e *ErrManualImportRequired) Error() string {
	return fmt.Sprintf("registry %q requires a manually-dropped bulk file at %q", e.Registry, e.Path)
}

// ErrNormalizationFailed is returned by Normalize when a raw record's
// shape no longer matches what the adapter expects (an upstream
// schema change). Treated like a malformed record: the scraper engine
// counts it as a failed record and, when a batch's failures exceed 5%,
// appends a note to the scraping job's error log. No alert is raised.
type ErrNormalizationFailed struct {
	Registry string
	Field    string
	Raw      string
}

func (e *ErrNormalizationFailed) Error() string {
	return fmt.Sprintf("registry %q normalization failed at field %q", e.Registry, e.Field)
}
