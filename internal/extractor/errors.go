package extractor

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

type ErrorKind int

const (
	// KindInvalidSource indicates the URL does not point at anything the
	// extraction tool knows how to handle.
	KindInvalidSource ErrorKind = iota

	// KindExtractionFailed indicates metadata or media retrieval failed
	// (network failure, removed/geo-blocked video, malformed playlist).
	KindExtractionFailed

	// KindExecutionFailed indicates the download/transcode run itself
	// failed after extraction began.
	KindExecutionFailed

	// KindToolUnavailable indicates a required external binary could not
	// be located on the host.
	KindToolUnavailable
)

func (kind ErrorKind) String() string {
	switch kind {
	case KindInvalidSource:
		return "invalid source"
	case KindExtractionFailed:
		return "extraction failed"
	case KindExecutionFailed:
		return "execution failed"
	case KindToolUnavailable:
		return "tool unavailable"
	}

	return fmt.Sprintf("unknown[%d]", kind)
}

// Error wraps a failure from one of the external tools in this package's
// vocabulary. The underlying tool error is preserved as the cause so its
// message can be surfaced verbatim on the job.
type Error struct {
	Kind  ErrorKind
	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, cause: cause}
}

// KindOf extracts the ErrorKind from an error returned by this package.
// Errors which did not originate here report KindExecutionFailed.
func KindOf(err error) ErrorKind {
	var extractorErr *Error
	if errors.As(err, &extractorErr) {
		return extractorErr.Kind
	}

	return KindExecutionFailed
}

// classifyToolError inspects the stderr-derived message from the
// extraction tool and maps it onto this package's taxonomy. The tool
// reports everything over one exit code, so the message shape is all
// there is to go on.
func classifyToolError(err error, fallback ErrorKind) *Error {
	var execErr *exec.Error
	if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
		return newError(KindToolUnavailable, err)
	}

	message := strings.ToLower(err.Error())
	switch {
	case strings.Contains(message, "unsupported url"),
		strings.Contains(message, "is not a valid url"):
		return newError(KindInvalidSource, err)
	case strings.Contains(message, "executable not found"),
		strings.Contains(message, "no such file or directory: 'ffmpeg'"):
		return newError(KindToolUnavailable, err)
	case strings.Contains(message, "unable to download webpage"),
		strings.Contains(message, "video unavailable"),
		strings.Contains(message, "not available in your country"),
		strings.Contains(message, "unable to extract"):
		return newError(KindExtractionFailed, err)
	}

	return newError(fallback, err)
}
