package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlagsToMask(t *testing.T) {
	tests := []struct {
		name  string
		flags []Flag
		want  uint32
	}{
		{"empty", nil, 0},
		{"single", []Flag{FlagSFW}, uint32(FlagSFW)},
		{"combined", []Flag{FlagSFW, FlagNSFW}, uint32(FlagSFW | FlagNSFW)},
		{"all", []Flag{FlagSFW, FlagNSFW, FlagNSFL, FlagNSFP, FlagPOL}, uint32(FlagSFW | FlagNSFW | FlagNSFL | FlagNSFP | FlagPOL)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FlagsToMask(tt.flags))
		})
	}
}

func TestPostHasFlag(t *testing.T) {
	p := Post{Flags: uint32(FlagSFW | FlagPOL)}
	assert.True(t, p.HasFlag(uint32(FlagSFW)))
	assert.True(t, p.HasFlag(uint32(FlagPOL)))
	assert.False(t, p.HasFlag(uint32(FlagNSFW)))
	assert.True(t, p.HasFlag(uint32(FlagSFW|FlagNSFW)), "any bit in mask should match")
}

func TestPostTypeFromMediaPath(t *testing.T) {
	tests := []struct {
		path string
		want PostType
	}{
		{"2020/01/01/abc123.jpg", PostTypeImage},
		{"2020/01/01/abc123.jpeg", PostTypeImage},
		{"2020/01/01/abc123.png", PostTypeImage},
		{"2020/01/01/abc123.JPG", PostTypeImage},
		{"2020/01/01/abc123.gif", PostTypeAnimated},
		{"2020/01/01/abc123.mp4", PostTypeVideo},
		{"2020/01/01/abc123.webm", PostTypeVideo},
		{"2020/01/01/abc123.bmp", PostTypeUnknown},
		{"no-extension", PostTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, PostTypeFromMediaPath(tt.path))
		})
	}
}
