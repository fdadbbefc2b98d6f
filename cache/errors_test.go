package cache

import (
	stderrors "errors"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify(nil))

	overflow := errors.New("ERR increment or decrement would overflow")
	err := Classify(overflow)
	assert.ErrorIs(t, err, ErrOverflow)
	assert.ErrorIs(t, err, overflow)
	assert.Equal(t, overflow.Error(), err.Error())

	notInt := errors.New("ERR hash value is not an integer")
	err = Classify(notInt)
	assert.ErrorIs(t, err, ErrNotInteger)
	assert.False(t, errors.Is(err, ErrOverflow))

	other := errors.New("ERR wrong number of arguments")
	assert.Same(t, other, Classify(other))
}

func TestClassifyStandardLibrary(t *testing.T) {
	reply := stderrors.New("ERR increment or decrement would overflow")
	err := Classify(reply)
	assert.True(t, stderrors.Is(err, ErrOverflow))
	assert.True(t, stderrors.Is(err, reply))
	assert.False(t, stderrors.Is(err, ErrNotInteger))

	wrapped := errors.Wrap(err, "metrics: increment")
	assert.True(t, stderrors.Is(wrapped, ErrOverflow))
	assert.True(t, errors.Is(wrapped, ErrOverflow))
	assert.Same(t, wrapped, Classify(wrapped), "already classified")

	_, err = Encode(make(chan int))
	assert.True(t, stderrors.Is(err, ErrUnsupportedType))
}

func TestErrorCategories(t *testing.T) {
	assert.True(t, IsConfigurationError(errors.Wrap(ErrPrefixTooLong, "new")))
	assert.False(t, IsConfigurationError(ErrInvalidNamespace))
	assert.True(t, IsValidationError(errors.Wrap(ErrInvalidNamespace, "set")))
	assert.False(t, IsValidationError(ErrNotInteger))
}
