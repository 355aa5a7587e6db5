package feature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rep0st/internal/decode"
	"rep0st/internal/model"
)

func solidFrame(w, h int, b, g, r byte) decode.Frame {
	buf := make([]byte, w*h*3)
	for i := 0; i < w*h; i++ {
		buf[i*3+0] = b
		buf[i*3+1] = g
		buf[i*3+2] = r
	}
	return decode.Frame{Width: w, Height: h, BGR: buf}
}

func TestExtractDimension(t *testing.T) {
	f := solidFrame(12, 12, 10, 20, 30)
	vec := Extract(f)
	assert.Len(t, vec, model.FeatureVectorDim)
}

func TestExtractSolidBlack(t *testing.T) {
	f := solidFrame(6, 6, 0, 0, 0)
	vec := Extract(f)
	require.Len(t, vec, model.FeatureVectorDim)
	for i := 0; i < gridSize*gridSize; i++ {
		assert.InDelta(t, 0, vec[i], 1e-6, "hue of black should be 0")
		assert.InDelta(t, 0, vec[gridSize*gridSize+i], 1e-6, "saturation of black should be 0")
		assert.InDelta(t, 0, vec[2*gridSize*gridSize+i], 1e-6, "value of black should be 0")
	}
}

func TestExtractSolidWhite(t *testing.T) {
	f := solidFrame(6, 6, 255, 255, 255)
	vec := Extract(f)
	for i := 0; i < gridSize*gridSize; i++ {
		assert.InDelta(t, 0, vec[gridSize*gridSize+i], 1e-6, "saturation of white should be 0")
		assert.InDelta(t, 1, vec[2*gridSize*gridSize+i], 1e-6, "value of white should be 1")
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	f := solidFrame(8, 8, 12, 200, 64)
	a := Extract(f)
	b := Extract(f)
	assert.Equal(t, a, b)
}

func TestBGRToHSV360Primaries(t *testing.T) {
	h, s, v := bgrToHSV360(255, 0, 0) // pure red (r,g,b)
	assert.InDelta(t, 0, h, 1e-6)
	assert.InDelta(t, 1, s, 1e-6)
	assert.InDelta(t, 1, v, 1e-6)

	h, _, _ = bgrToHSV360(0, 255, 0) // pure green
	assert.InDelta(t, 120, h, 1e-6)

	h, _, _ = bgrToHSV360(0, 0, 255) // pure blue
	assert.InDelta(t, 240, h, 1e-6)
}
