package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := RateLimitExceeded("user %s reached %d clones", "u1", 5)
	wrapped := fmt.Errorf("clone voice: %w", base)

	assert.True(t, IsKind(wrapped, KindRateLimitExceeded))
	assert.False(t, IsKind(wrapped, KindValidation))
	assert.Equal(t, KindRateLimitExceeded, KindOf(wrapped))
	assert.Equal(t, http.StatusTooManyRequests, GetCode(wrapped))
}

func TestWrapKindPreservesCause(t *testing.T) {
	err := CacheStorage(io.ErrUnexpectedEOF, "put %s", "tts/a.mp3")

	assert.True(t, stderrors.Is(err, io.ErrUnexpectedEOF))
	assert.Equal(t, io.ErrUnexpectedEOF, Cause(err))
	assert.Contains(t, err.Error(), "put tts/a.mp3")
	assert.Nil(t, WrapKind(nil, KindCacheStorage, "nothing"))
}

func TestKindOfFindsInnerKind(t *testing.T) {
	inner := SynthesisProvider(io.EOF, "stream")
	outer := Wrap(inner, "turn aborted")

	assert.Equal(t, KindSynthesisProvider, KindOf(outer))
	assert.Equal(t, KindUnknown, KindOf(io.EOF))
}

func TestWithContextCopies(t *testing.T) {
	e := Validation("bad duration")
	e2 := e.WithContext("seconds", "9")

	assert.Empty(t, e.Context)
	assert.Len(t, e2.Context, 1)
	assert.Equal(t, KindValidation, e2.Kind)
}
