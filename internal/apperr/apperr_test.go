package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapPreservesSentinel(t *testing.T) {
	err := Wrap(ErrMediaIO, "reading %s", "post.jpg")
	assert.True(t, errors.Is(err, ErrMediaIO))
	assert.False(t, errors.Is(err, ErrDecode))
	assert.Contains(t, err.Error(), "reading post.jpg")
	assert.Contains(t, err.Error(), "media io error")
}

func TestWrapDistinctSentinels(t *testing.T) {
	sentinels := []error{ErrUpstreamAuth, ErrUpstreamTransient, ErrUpstreamNotFound, ErrMediaIO, ErrDecode, ErrRepository, ErrInvalidImage}
	for i, a := range sentinels {
		wrapped := Wrap(a, "context")
		for j, b := range sentinels {
			if i == j {
				assert.True(t, errors.Is(wrapped, b))
			} else {
				assert.False(t, errors.Is(wrapped, b))
			}
		}
	}
}
