package video_fetcher

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrToolchainMissing means the media-processing toolchain (ffmpeg) could not be found.
	ErrToolchainMissing = errors.New("ffmpeg not found, it is required for audio/video processing")
	// ErrNotFound means the referenced media does not exist or is private.
	ErrNotFound = errors.New("does not exist or is private")
	// ErrAccess means the referenced media could not be accessed, but might be on a later attempt.
	ErrAccess = errors.New("failed to access")
	// ErrEmptyCollection means a collection reference resolved to no fetchable items.
	ErrEmptyCollection = errors.New("collection is empty")
)

// ValidationError reports a bad format, quality, codec or selection, before any work is started.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("unsupported %s: %q", e.Field, e.Value)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// ResolveError wraps a resolution failure with the reference it was for; Err is ErrNotFound or ErrAccess where the
// cause could be classified.
type ResolveError struct {
	Reference string
	Err       error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Reference, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// NewResolveError classifies cause as kind (ErrNotFound or ErrAccess); both remain reachable through errors.Is.
func NewResolveError(reference string, kind error, cause error) *ResolveError {
	if cause == nil {
		return &ResolveError{Reference: reference, Err: kind}
	}
	return &ResolveError{Reference: reference, Err: fmt.Errorf("%w: %w", kind, cause)}
}

// ClassifyMessage decides from an error message whether the media is gone (ErrNotFound) or just couldn't be reached
// (ErrAccess).
func ClassifyMessage(message string) error {
	lower := strings.ToLower(message)
	for _, marker := range []string{"does not exist", "private", "unavailable", "http error 404", "not found"} {
		if strings.Contains(lower, marker) {
			return ErrNotFound
		}
	}
	return ErrAccess
}
