// Package taxonomy classifies opaque Fetcher errors into typed kinds that
// drive the Item Driver's retry policy.
package taxonomy

import (
	"errors"
	"strings"
)

// Kind is one of the classified error categories.
type Kind int

const (
	Unknown Kind = iota
	Cancelled
	SkipCurrent
	FormatNotAvailable
	VideoNotFound
	Authentication
	Network
	Filesystem
	TranscoderMissing
	Conversion
	RateLimit
	Playlist
	MetadataExtraction
)

func (k Kind) String() string {
	switch k {
	case Cancelled:
		return "Cancelled"
	case SkipCurrent:
		return "SkipCurrent"
	case FormatNotAvailable:
		return "FormatNotAvailable"
	case VideoNotFound:
		return "VideoNotFound"
	case Authentication:
		return "Authentication"
	case Network:
		return "Network"
	case Filesystem:
		return "Filesystem"
	case TranscoderMissing:
		return "TranscoderMissing"
	case Conversion:
		return "Conversion"
	case RateLimit:
		return "RateLimit"
	case Playlist:
		return "Playlist"
	case MetadataExtraction:
		return "MetadataExtraction"
	default:
		return "Unknown"
	}
}

// ClassifiedError pairs a Kind with the underlying message from the
// Fetcher. Classify returns its Kind as-is without matching the message
// again, so an error that was already classified is never re-classified.
type ClassifiedError struct {
	Kind Kind
	Err  error
}

func (c *ClassifiedError) Error() string { return c.Err.Error() }
func (c *ClassifiedError) Unwrap() error { return c.Err }

// CancelledError is the sentinel raised from inside a progress callback when the
// batch-wide cancel latch is observed. It is the only sanctioned way to
// interrupt a running Fetcher invocation (spec §9).
type CancelledError struct{}

func (CancelledError) Error() string { return "cancelled by user" }

// SkipCurrentError is the sentinel raised from inside a progress callback
// to abandon only the current item.
type SkipCurrentError struct{}

func (SkipCurrentError) Error() string { return "skipped by user" }

// Classify maps an opaque error to its Kind by case-insensitive substring
// match, in the documented priority order. This order is load-bearing: a
// message matching more than one pattern resolves to the earliest kind
// listed here.
func Classify(err error) Kind {
	if err == nil {
		return Unknown
	}
	var cancelled CancelledError
	var skip SkipCurrentError
	switch {
	case errors.As(err, &cancelled):
		return Cancelled
	case errors.As(err, &skip):
		return SkipCurrent
	}
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Kind
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "cancelled", "canceled", "user cancelled"):
		return Cancelled
	case containsAny(msg, "format", "no video formats", "requested format"):
		return FormatNotAvailable
	case containsAny(msg, "not found", "404", "unavailable", "no longer available"):
		return VideoNotFound
	case containsAny(msg, "login", "authentication", "sign in", "401", "403", "private video"):
		return Authentication
	case containsAny(msg, "network", "connection", "timeout", "timed out", "deadline exceeded", "no such host", "unreachable"):
		return Network
	case containsAny(msg, "permission", "disk", "space", "no such file", "read-only"):
		return Filesystem
	case containsAny(msg, "ffmpeg", "ffprobe"):
		return TranscoderMissing
	case containsAny(msg, "conversion", "postprocessing", "postprocess"):
		return Conversion
	case containsAny(msg, "rate limit", "429", "too many requests"):
		return RateLimit
	case containsAny(msg, "playlist"):
		return Playlist
	case containsAny(msg, "metadata", "extract"):
		return MetadataExtraction
	default:
		return Unknown
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
