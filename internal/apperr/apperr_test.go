package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindSentinelMatching(t *testing.T) {
	err := Forbidden("participant %s is mandatory", "X")
	assert.True(t, errors.Is(err, ErrForbidden))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, KindForbidden, KindOf(err))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindNotFound, cause, "thread lookup")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "thread lookup: boom", err.Error())
}

func TestKindSurvivesFmtWrapping(t *testing.T) {
	err := fmt.Errorf("outer context: %w", Conflict("duplicate thread"))
	assert.True(t, errors.Is(err, ErrConflict))
	assert.Equal(t, KindConflict, KindOf(err))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
}
