package pending

import (
	"errors"
	"strings"
)

var (
	ErrNotFound          = errors.New("pending item not found")
	ErrExists            = errors.New("pending item already exists for path")
	ErrInvalidTransition = errors.New("invalid status transition")

	ErrGenreEmpty       = errors.New("genre must not be empty")
	ErrGenrePlaceholder = errors.New("genre must be chosen, not the placeholder")
	ErrGenreTooLong     = errors.New("genre is too long")
	ErrMissingFields    = errors.New("required fields missing")
)

// ValidationError reports a rejected edit or confirm.
// Fields names the offending fields; Err is one of the sentinels above.
type ValidationError struct {
	Fields []string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation failed")
	if len(e.Fields) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Fields, ", "))
		b.WriteString(")")
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// MissingFieldsError builds the ValidationError for empty required fields.
func MissingFieldsError(fields []string) *ValidationError {
	return &ValidationError{
		Fields: fields,
		Reason: "missing " + strings.Join(fields, ", "),
		Err:    ErrMissingFields,
	}
}
