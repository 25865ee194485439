package capture

import (
	"errors"
	"fmt"
)

// Category classifies failures so front ends can report an outcome without
// surfacing raw error detail.
type Category string

const (
	CategoryUnknown         Category = "unknown"
	CategoryInvalidURL      Category = "invalid_url"
	CategoryConfig          Category = "config"
	CategoryAuth            Category = "auth"
	CategoryContentLoad     Category = "content_load"
	CategoryDiscovery       Category = "discovery_timeout"
	CategoryTitleExtraction Category = "title_extraction"
	CategoryPlaybackTimeout Category = "playback_timeout"
	CategoryRemux           Category = "remux"
	CategoryRemuxMissing    Category = "remux_missing"
	CategoryEmptyCapture    Category = "empty_capture"
)

// ErrPlayTimeout is returned by a playback strategy that could not find its
// control within the bound.
var ErrPlayTimeout = errors.New("play control not found")

// CategorizedError attaches a Category to an underlying error.
type CategorizedError struct {
	Category Category
	Err      error
}

func (e CategorizedError) Error() string {
	if e.Err == nil {
		return string(e.Category)
	}
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e CategorizedError) Unwrap() error {
	return e.Err
}

// Wrap tags err with category. A nil err stays nil.
func Wrap(category Category, err error) error {
	if err == nil {
		return nil
	}
	return CategorizedError{Category: category, Err: err}
}

// CategoryOf returns the outermost category found in err's chain.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	var ce CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return CategoryUnknown
}

// IsAbort reports whether err belongs to a class that aborts a capture run.
func IsAbort(err error) bool {
	switch CategoryOf(err) {
	case CategoryAuth, CategoryContentLoad, CategoryDiscovery:
		return true
	}
	return false
}

// ExitCode maps an error to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch CategoryOf(err) {
	case CategoryInvalidURL, CategoryConfig:
		return 2
	case CategoryAuth:
		return 3
	case CategoryContentLoad, CategoryDiscovery:
		return 4
	case CategoryRemux, CategoryRemuxMissing, CategoryEmptyCapture:
		return 5
	default:
		return 1
	}
}
