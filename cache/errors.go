package cache

import (
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNotInitialized is returned by every operation on a nil or zero Client.
	ErrNotInitialized = errors.New("cache: client needs to be initialized before use, see cache.New")
	// ErrPrefixTooLong is returned by New when the global namespace prefix leaves no room for derived keys.
	ErrPrefixTooLong = errors.New("cache: global namespace prefix is too long")
	// ErrInvalidConfig is returned by New for unusable connection parameters.
	ErrInvalidConfig = errors.New("cache: invalid configuration")

	// ErrInvalidNamespace is returned when a namespace does not match [a-zA-Z0-9_-]+.
	ErrInvalidNamespace = errors.New("cache: invalid namespace, must match regex /[a-zA-Z0-9_-]+$/")
	// ErrUnsupportedType is returned when a value cannot be encoded.
	ErrUnsupportedType = errors.New("cache: unsupported value type")

	// ErrNotInteger marks store replies for counter operations on non-integer values.
	ErrNotInteger = errors.New("cache: value is not an integer or out of range")
	// ErrOverflow marks store replies for counter operations that would overflow int64.
	ErrOverflow = errors.New("cache: increment or decrement would overflow")
)

// IsConfigurationError reports whether err is caused by a missing or invalid setup.
func IsConfigurationError(err error) bool {
	return errors.IsAny(err, ErrNotInitialized, ErrPrefixTooLong, ErrInvalidConfig)
}

// IsValidationError reports whether err is caused by malformed caller input.
func IsValidationError(err error) bool {
	return errors.IsAny(err, ErrInvalidNamespace, ErrUnsupportedType)
}

// markedError is a store reply tagged with the sentinel it stands for. The
// message is the reply's; both the reply and the sentinel match errors.Is.
type markedError struct {
	err  error
	mark error
}

func (e *markedError) Error() string        { return e.err.Error() }
func (e *markedError) Unwrap() error        { return e.err }
func (e *markedError) Is(target error) bool { return target == e.mark }

func mark(err, sentinel error) error {
	return &markedError{err: err, mark: sentinel}
}

// Classify tags a store reply error with ErrOverflow or ErrNotInteger so
// callers can test it with errors.Is, standard library or not. Store
// implementations pass every reply error through it. Redis only reports
// these conditions as text, so this is the one place that inspects it.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var marked *markedError
	if errors.As(err, &marked) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "would overflow"):
		return mark(err, ErrOverflow)
	case strings.Contains(msg, "not an integer"):
		return mark(err, ErrNotInteger)
	}
	return err
}
