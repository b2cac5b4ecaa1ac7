package garment

import (
	"errors"
	"fmt"
)

// Kind categorizes studio failures.
type Kind int

const (
	// KindUnknown is an unclassified failure.
	KindUnknown Kind = iota
	// KindNotConfigured means no credential has been established; no request was sent.
	KindNotConfigured
	// KindAnalysis is a failed full or targeted analysis call.
	KindAnalysis
	// KindBackgroundRemoval is a failed background normalization call.
	KindBackgroundRemoval
	// KindSuggestion is a failed suggestion fetch.
	KindSuggestion
	// KindGeneration is a failed image generation, single or per batch item.
	KindGeneration
	// KindSelectionLimit means the compare set is already full.
	KindSelectionLimit
	// KindValidation is a local precondition violation.
	KindValidation
	// KindStale means an async result arrived for a superseded epoch and was dropped.
	KindStale
	// KindNotFound means a referenced session or gallery item does not exist.
	KindNotFound
)

var kindNames = map[Kind]string{
	KindUnknown:           "Unknown",
	KindNotConfigured:     "NotConfigured",
	KindAnalysis:          "AnalysisError",
	KindBackgroundRemoval: "BackgroundRemovalError",
	KindSuggestion:        "SuggestionError",
	KindGeneration:        "GenerationError",
	KindSelectionLimit:    "SelectionLimitExceeded",
	KindValidation:        "ValidationError",
	KindStale:             "StaleResult",
	KindNotFound:          "NotFound",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the studio's typed error.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an Error without a cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error around cause. If cause is already an *Error its kind
// wins, so a NotConfigured precondition is never relabelled by a caller.
func Wrap(kind Kind, op, message string, cause error) *Error {
	var existing *Error
	if errors.As(cause, &existing) && existing.Kind != KindUnknown {
		kind = existing.Kind
	}
	return &Error{Kind: kind, Op: op, Message: message, Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err's chain carries an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
