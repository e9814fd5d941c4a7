package synthesis

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// MaxTextLength is the longest accepted text, counted in Unicode code points.
const MaxTextLength = 500

var (
	// ErrEmptyText is matched by a ValidationError with reason ReasonEmpty.
	ErrEmptyText = errors.New("text is required")

	// ErrTextTooLong is matched by a ValidationError with reason ReasonTooLong.
	ErrTextTooLong = errors.New("text exceeds maximum length")
)

type ValidationReason int

const (
	ReasonEmpty ValidationReason = iota + 1
	ReasonTooLong
)

// ValidationError rejects a request before any provider call is made.
type ValidationError struct {
	Reason ValidationReason
	Length int
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonEmpty:
		return ErrEmptyText.Error()
	case ReasonTooLong:
		return ErrTextTooLong.Error()
	default:
		return "invalid text"
	}
}

// Is lets callers match on the sentinel errors.
func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrEmptyText:
		return e.Reason == ReasonEmpty
	case ErrTextTooLong:
		return e.Reason == ReasonTooLong
	}
	return false
}

// ValidatedText can only be obtained from Validate.
type ValidatedText struct {
	text string
}

func (t ValidatedText) String() string { return t.text }

// Len returns the length in code points.
func (t ValidatedText) Len() int { return utf8.RuneCountInString(t.text) }

// Validate trims surrounding whitespace and enforces the length bounds.
// The text is otherwise passed through untouched.
func Validate(raw string) (ValidatedText, error) {
	text := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return ValidatedText{}, &ValidationError{Reason: ReasonEmpty}
	}
	if n > MaxTextLength {
		return ValidatedText{}, &ValidationError{Reason: ReasonTooLong, Length: n}
	}
	return ValidatedText{text: text}, nil
}
