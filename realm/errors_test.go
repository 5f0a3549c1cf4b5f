package realm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIs(t *testing.T) {
	err := Errorf(KindInvalidArgument, "equalTo", "field %q not found", "nope")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.NotErrorIs(t, err, ErrIllegalState)

	wrapped := fmt.Errorf("query failed: %w", err)
	assert.ErrorIs(t, wrapped, ErrInvalidArgument)
	assert.Equal(t, KindInvalidArgument, KindOf(wrapped))
}

func TestWrongThreadIsIllegalState(t *testing.T) {
	err := Errorf(KindWrongThread, "count", "foreign goroutine")
	assert.ErrorIs(t, err, ErrWrongThread)
	assert.ErrorIs(t, err, ErrIllegalState)
	assert.NotErrorIs(t, ErrIllegalState, ErrWrongThread)
}

func TestCodedErrors(t *testing.T) {
	err := ErrLinkListNull.WithCode(CodeLinkListNull)
	assert.ErrorIs(t, err, ErrLinkListNull)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	plain := Errorf(KindInvalidArgument, "isNull", "other")
	assert.NotErrorIs(t, plain, ErrLinkListNull)

	closed := Errorf(KindIllegalState, "size", "closed").WithCode(CodeClosed)
	assert.ErrorIs(t, closed, ErrClosed)
	assert.ErrorIs(t, closed, ErrIllegalState)
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindIO, "commit", cause, "persist version %d", 3)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrIO)
	assert.Contains(t, err.Error(), "disk full")
}
