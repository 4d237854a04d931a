package errkind

import (
	"errors"
	"fmt"
)

// ValidationError indicates missing or malformed configuration. Fatal to a run.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// CredentialsMissing indicates identity credentials are absent. Fatal to a run.
type CredentialsMissing struct {
	Missing []string
}

func (e *CredentialsMissing) Error() string {
	return fmt.Sprintf("credentials missing: %v", e.Missing)
}

// IssuerRejected indicates the identity service rejected a token request.
// Fatal to a run.
type IssuerRejected struct {
	StatusCode int
	Body       string
}

func (e *IssuerRejected) Error() string {
	return fmt.Sprintf("identity service rejected token request (status %d): %s", e.StatusCode, e.Body)
}

// BatchError indicates one admin batch failed after retries. Recovered
// locally: the batch's records are marked failed and the run continues.
type BatchError struct {
	Operation string
	Err       error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch operation %s failed: %v", e.Operation, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// GlobalError indicates admin job status polling failed or an invariant was
// violated. Fatal to a run.
type GlobalError struct {
	Operation string
	Err       error
}

func (e *GlobalError) Error() string {
	return fmt.Sprintf("global operation %s failed: %v", e.Operation, e.Err)
}

func (e *GlobalError) Unwrap() error { return e.Err }

// JobFailed wraps a fatal orchestrator-level failure.
type JobFailed struct {
	Step string
	Err  error
}

func (e *JobFailed) Error() string {
	return fmt.Sprintf("job failed at %s: %v", e.Step, e.Err)
}

func (e *JobFailed) Unwrap() error { return e.Err }

// NotFound indicates the catalog has no product for a SKU or URL key.
// Per-SKU ignorable: counted as failed for that SKU, run continues.
type NotFound struct {
	SKU    string
	URLKey string
}

func (e *NotFound) Error() string {
	if e.SKU != "" {
		return fmt.Sprintf("product not found: sku %s", e.SKU)
	}
	return fmt.Sprintf("product not found: urlKey %s", e.URLKey)
}

// RateLimited indicates a blocking acquire timed out. The caller typically
// routes the event to the durable queue instead.
type RateLimited struct {
	RetryAfterMS int64
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("rate limited, retry after %dms", e.RetryAfterMS)
}

// DuplicateRejected indicates an enqueue was refused because an identical
// (sku, kind) entry exists within the dedup window.
type DuplicateRejected struct {
	SKU  string
	Kind string
}

func (e *DuplicateRejected) Error() string {
	return fmt.Sprintf("duplicate event rejected: %s/%s", e.SKU, e.Kind)
}

// IsBatch reports whether err is classified as a batch-scoped failure.
func IsBatch(err error) bool {
	var be *BatchError
	return errors.As(err, &be)
}

// IsGlobal reports whether err is classified as a run-fatal failure.
func IsGlobal(err error) bool {
	var ge *GlobalError
	return errors.As(err, &ge)
}

// IsNotFound reports whether err is a catalog miss.
func IsNotFound(err error) bool {
	var nf *NotFound
	return errors.As(err, &nf)
}

// IsRateLimited reports whether err is a limiter timeout.
func IsRateLimited(err error) bool {
	var rl *RateLimited
	return errors.As(err, &rl)
}

// IsDuplicate reports whether err is a dedup rejection.
func IsDuplicate(err error) bool {
	var dr *DuplicateRejected
	return errors.As(err, &dr)
}
