package upstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThreePowBackOffSequence(t *testing.T) {
	b := exponentialThreePowN().(*threePowBackOff)
	assert.Equal(t, 3*time.Second, b.NextBackOff())
	assert.Equal(t, 9*time.Second, b.NextBackOff())
	assert.Equal(t, 27*time.Second, b.NextBackOff())
}

func TestToPost(t *testing.T) {
	it := apiItem{
		ID:       42,
		Created:  1700000000,
		Image:    "2023/11/14/abc123.jpg",
		Thumb:    "thumb.jpg",
		Fullsize: "full.jpg",
		Width:    800,
		Height:   600,
		Audio:    true,
		Flags:    1,
		User:     "someuser",
	}
	p := toPost(it)
	assert.Equal(t, uint64(42), p.ID)
	assert.Equal(t, uint32(800), p.Width)
	assert.True(t, p.Audio)
	assert.Equal(t, "someuser", p.User)
	assert.NotNil(t, p.Thumb)
	assert.Equal(t, "thumb.jpg", *p.Thumb)
	assert.NotNil(t, p.Fullsize)
}

func TestToPostOmitsEmptyOptionalFields(t *testing.T) {
	p := toPost(apiItem{ID: 1, Image: "x.png"})
	assert.Nil(t, p.Thumb)
	assert.Nil(t, p.Fullsize)
}
