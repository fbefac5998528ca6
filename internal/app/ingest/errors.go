package ingest

import (
	"errors"
	"fmt"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

// ErrQueueFull is returned by Enqueue when the workspace's shard stays full
// for the whole enqueue timeout.
var ErrQueueFull = errors.New("ingest queue full")

// ErrStopped is returned by Enqueue after Stop.
var ErrStopped = errors.New("ingest service stopped")

// ParseErrorKind classifies parser failures.
type ParseErrorKind string

const (
	// ParseErrUnrecognizedFormat means no plugin accepted the payload.
	ParseErrUnrecognizedFormat ParseErrorKind = "unrecognized_format"
	// ParseErrMalformedEntry means a single entry was dropped.
	ParseErrMalformedEntry ParseErrorKind = "malformed_entry"
)

// ParseError reports a parser failure.
type ParseError struct {
	Kind   ParseErrorKind
	Plugin string
	Entry  string
	Err    error
}

func (e *ParseError) Error() string {
	msg := string(e.Kind)
	if e.Plugin != "" {
		msg = e.Plugin + ": " + msg
	}
	if e.Entry != "" {
		msg += " " + e.Entry
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the validation sentinel and the cause.
func (e *ParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{shared.ErrValidation}
	}
	return []error{shared.ErrValidation, e.Err}
}

// MergeErrorKind classifies merge failures.
type MergeErrorKind string

const (
	// MergeErrInvalidParent means a fact referenced both or neither of host and service.
	MergeErrInvalidParent MergeErrorKind = "invalid_parent"
	// MergeErrInvalidFact means a fact failed entity validation.
	MergeErrInvalidFact MergeErrorKind = "invalid_fact"
	// MergeErrTransactionFailed means the store failed and the batch rolled back.
	MergeErrTransactionFailed MergeErrorKind = "transaction_failed"
)

// MergeError reports a merge failure. InvalidParent and InvalidFact errors
// fail one fact; TransactionFailed fails the batch.
type MergeError struct {
	Kind  MergeErrorKind
	Fact  string
	Index int
	Err   error
}

func (e *MergeError) Error() string {
	if e.Fact != "" {
		return fmt.Sprintf("%s %s[%d]: %v", e.Kind, e.Fact, e.Index, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *MergeError) Unwrap() error { return e.Err }

func invalidParent(fact string, index int) *MergeError {
	return &MergeError{
		Kind:  MergeErrInvalidParent,
		Fact:  fact,
		Index: index,
		Err:   fmt.Errorf("%w: exactly one of host or service is required", shared.ErrInvalidParent),
	}
}

// IsParseError reports whether err is a ParseError of the given kind.
func IsParseError(err error, kind ParseErrorKind) bool {
	var pe *ParseError
	return errors.As(err, &pe) && pe.Kind == kind
}

// IsMergeError reports whether err is a MergeError of the given kind.
func IsMergeError(err error, kind MergeErrorKind) bool {
	var me *MergeError
	return errors.As(err, &me) && me.Kind == kind
}
