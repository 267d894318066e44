package jobs

import "errors"

var (
	// ErrSourceUnavailable is returned when a source cannot be reached or its
	// response cannot be parsed. The aggregation skips the source and continues.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrRateLimited is returned when a rate limit budget is exhausted within the
	// allowed wait time. Callers back off or fall back; it is never run-fatal.
	ErrRateLimited = errors.New("rate limited")
	// ErrEmbeddingInvalid marks a remote embedding that failed validation.
	ErrEmbeddingInvalid = errors.New("embedding invalid")
	// ErrNoCorpus is returned by a matching run over an empty job corpus.
	ErrNoCorpus = errors.New("no job corpus")
	// ErrNoQuery is returned by a matching run without query text or vector.
	ErrNoQuery = errors.New("no query supplied")
	// ErrApplyIneligible is returned when an eligibility gate blocks an apply.
	ErrApplyIneligible = errors.New("apply ineligible")
	// ErrApplyFailed is returned when a single apply attempt failed.
	ErrApplyFailed = errors.New("apply failed")
	// ErrNotFound is returned by stores for missing records.
	ErrNotFound = errors.New("not found")
)
