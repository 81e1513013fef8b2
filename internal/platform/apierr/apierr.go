package apierr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for job records, progress events, and HTTP mapping.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindForbidden       Kind = "forbidden"
	KindConflict        Kind = "conflict"
	KindUpgradeRequired Kind = "upgrade_required"
	KindParsing         Kind = "parsing_error"
	KindChunking        Kind = "chunking_error"
	KindEmbedding       Kind = "embedding_error"
	KindStorage         Kind = "storage_error"
	KindLLM             Kind = "llm_error"
	KindSummarizing     Kind = "summarizing_error"
	KindExtracting      Kind = "extracting_error"
	KindStream          Kind = "stream_error"
	KindTimeout         Kind = "timeout"
	KindInternal        Kind = "internal_error"
)

// Error carries the classification the job ledger and the progress bus need.
type Error struct {
	Kind      Kind
	Stage     string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	if e.Stage != "" {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, stage string, retryable bool, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Retryable: retryable, Err: err}
}

func Newf(kind Kind, stage string, retryable bool, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Stage: stage, Retryable: retryable, Err: fmt.Errorf(format, args...)}
}

// Classify returns the embedded *Error, or wraps err as a non-retryable
// internal error attributed to stage.
func Classify(stage string, err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		if ae.Stage == "" {
			ae.Stage = stage
		}
		return ae
	}
	return &Error{Kind: KindInternal, Stage: stage, Retryable: false, Err: err}
}

func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

func IsRetryable(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// Sentinels for repo-level lookups.
var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidArgument = errors.New("invalid argument")
)
