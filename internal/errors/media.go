package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// Kind classifies failures raised while fetching and processing media
type Kind string

const (
	KindResolve    Kind = "resolve"    // metadata lookup failed, terminal for the item
	KindTransient  Kind = "transient"  // network/provider failure, retried with backoff
	KindCaption    Kind = "caption"    // subtitle failure, never fatal
	KindProcessing Kind = "processing" // merge or transcode failed, terminal for the item
	KindUnexpected Kind = "unexpected"
)

var (
	// ErrBackoffExhausted is wrapped when the retry loop gives up
	ErrBackoffExhausted = stderrors.New("backoff exhausted")

	// ErrUnrecognizedURL is returned for URLs that are neither a playlist nor an item
	ErrUnrecognizedURL = stderrors.New("unrecognized url")
)

// MediaError is a failure tied to one operation on one media item
type MediaError struct {
	Kind Kind
	Op   string // e.g. "resolve", "fetch_video", "merge"
	Item string // item title or id, may be empty
	Err  error
}

func (e *MediaError) Error() string {
	if e.Item != "" {
		return fmt.Sprintf("%s %s [%s]: %v", e.Kind, e.Op, e.Item, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *MediaError) Unwrap() error {
	return e.Err
}

// NewMediaError wraps err with kind, op and item context
func NewMediaError(kind Kind, op, item string, err error) *MediaError {
	return &MediaError{Kind: kind, Op: op, Item: item, Err: err}
}

// KindOf returns the kind of the outermost MediaError in err's chain.
// Context errors map to Transient, anything else unknown to Unexpected.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var me *MediaError
	if stderrors.As(err, &me) {
		return me.Kind
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindUnexpected
}

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient && !stderrors.Is(err, ErrBackoffExhausted)
}
