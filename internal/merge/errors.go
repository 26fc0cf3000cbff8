package merge

import "fmt"

// ErrorKind classifies what stage of the pipeline failed, per spec §7.
type ErrorKind int

const (
	// KindInputInvalid means fewer than two sources, or an unexpected
	// source extension.
	KindInputInvalid ErrorKind = iota
	// KindBadContainer means a source's manifest or database entry is
	// missing, or its compressed stream is malformed.
	KindBadContainer
	// KindBadManifest means a source's manifest.json is not valid JSON
	// or omits a required field.
	KindBadManifest
	// KindBadDatabase means a source's database blob fails to open, or
	// is missing a table the merge requires.
	KindBadDatabase
	// KindInputTooLarge means the combined input exceeded the configured cap.
	KindInputTooLarge
	// KindMergeConflict means a verified-failure during Location phase 2,
	// or an exhausted primary-key allocation search.
	KindMergeConflict
	// KindCancelled means the caller's cancel signal fired mid-run.
	KindCancelled
	// KindInternal is any other unexpected condition.
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindInputInvalid:
		return "InputInvalid"
	case KindBadContainer:
		return "BadContainer"
	case KindBadManifest:
		return "BadManifest"
	case KindBadDatabase:
		return "BadDatabase"
	case KindInputTooLarge:
		return "InputTooLarge"
	case KindMergeConflict:
		return "MergeConflict"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Internal"
	}
}

// Error is the merge engine's tagged error, wrapping an underlying cause
// so callers can unwrap to it with errors.Is/errors.As while still
// branching on Kind for the taxonomy in spec §7.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// wrap builds an *Error of kind, wrapping err with a short message.
func wrap(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf("%s: %w", msg, err)}
}
