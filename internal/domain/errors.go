package domain

import "errors"

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrStore           = errors.New("store error")
)

// FailKind classifies dispatch and job failures. Upstream adapters map
// status codes and messages to a kind; nothing downstream inspects error
// strings.
type FailKind string

const (
	KindNone                 FailKind = ""
	KindNoCandidates         FailKind = "no_candidates"
	KindAllCandidatesFailed  FailKind = "all_candidates_failed"
	KindQuota                FailKind = "quota"
	KindAuth                 FailKind = "auth"
	KindTransient            FailKind = "transient"
	KindEmpty                FailKind = "empty"
	KindInputInvalid         FailKind = "input_invalid"
	KindNoExtractableContent FailKind = "no_extractable_content"
	KindCallbackFailed       FailKind = "callback_failed"
	KindOther                FailKind = "other"
)

// Retryable reports whether a job that failed with this kind may be
// re-enqueued. InputInvalid and NoExtractableContent go straight to dead.
func (k FailKind) Retryable() bool {
	switch k {
	case KindNoCandidates, KindAllCandidatesFailed, KindCallbackFailed, KindTransient:
		return true
	default:
		return false
	}
}

// KindError attaches a FailKind to an error message.
type KindError struct {
	Kind    FailKind
	Message string
}

func (e *KindError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

// NewKindError builds a KindError.
func NewKindError(kind FailKind, msg string) *KindError {
	return &KindError{Kind: kind, Message: msg}
}

// KindOf extracts the FailKind from err, or KindOther for unclassified
// non-nil errors.
func KindOf(err error) FailKind {
	if err == nil {
		return KindNone
	}
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindOther
}
