// Package feature implements the deterministic 108-dim HSV feature
// extractor (C4). The algorithm must reproduce the legacy quantization
// bit-for-bit for index compatibility; see SPEC_FULL.md §9/§13 and
// original_source/rep0st/analyze/feature_vector_analyzer.py, which this
// package ports exactly rather than approximates.
package feature

import (
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"rep0st/internal/decode"
	"rep0st/internal/model"
)

const gridSize = 6

// Extract is a pure function: the same frame always yields the same 108
// float32 values, each in [0,1].
//
// Steps (must match the legacy pipeline exactly):
//  1. Area-interpolated downscale to 6x6 BGR.
//  2. Convert each downscaled pixel to HSV, H in [0,360), S,V in [0,1].
//  3. Quantize hue the way the legacy extractor did: OpenCV's 8-bit
//     BGR2HSV already halves H into a [0,180) byte; the legacy code then
//     divides that byte by 2 again before the final uniform /255
//     normalization shared by all three channels — so hue ends up
//     normalized by (2*2*255) overall, not just 255. This compound,
//     slightly-redundant halving is the "legacy artifact" callers must
//     reproduce bit-equivalently; saturation and value take the plain
//     /255 normalization.
//  4. Flatten hue, saturation, value (row-major) and concatenate into a
//     108-long vector: [H0..H35, S0..S35, V0..V35].
func Extract(f decode.Frame) []float32 {
	scaled := downscaleAreaBGR(f, gridSize, gridSize)

	hue := make([]float32, gridSize*gridSize)
	sat := make([]float32, gridSize*gridSize)
	val := make([]float32, gridSize*gridSize)

	for i := 0; i < gridSize*gridSize; i++ {
		b := float64(scaled[i*3+0])
		g := float64(scaled[i*3+1])
		r := float64(scaled[i*3+2])

		h, s, v := bgrToHSV360(r, g, b)

		hByte := math.Floor(h / 2)
		hueByte := math.Floor(hByte / 2)
		hue[i] = float32(hueByte / 255)
		sat[i] = float32(s)
		val[i] = float32(v)
	}

	out := make([]float32, 0, model.FeatureVectorDim)
	out = append(out, hue...)
	out = append(out, sat...)
	out = append(out, val...)
	return out
}

// bgrToHSV360 converts an 8-bit RGB pixel (r,g,b in [0,255]) to HSV with H
// in [0,360), S,V in [0,1].
func bgrToHSV360(r, g, b float64) (h, s, v float64) {
	r /= 255
	g /= 255
	b /= 255

	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	delta := max - min

	v = max
	if max == 0 {
		s = 0
	} else {
		s = delta / max
	}

	switch {
	case delta == 0:
		h = 0
	case max == r:
		h = 60 * math.Mod((g-b)/delta, 6)
	case max == g:
		h = 60 * ((b-r)/delta + 2)
	default:
		h = 60 * ((r-g)/delta + 4)
	}
	if h < 0 {
		h += 360
	}
	return h, s, v
}

// downscaleAreaBGR resizes a packed BGR frame to w x h using box/area
// averaging (disintegration/imaging's Box filter is the area-interpolation
// analog available in this stack), returning a packed w*h*3 BGR buffer.
func downscaleAreaBGR(f decode.Frame, w, h int) []byte {
	img := imaging.New(f.Width, f.Height, color.Black)
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			i := (y*f.Width + x) * 3
			img.Set(x, y, bgrColor{b: f.BGR[i], g: f.BGR[i+1], r: f.BGR[i+2]})
		}
	}
	resized := imaging.Resize(img, w, h, imaging.Box)

	out := make([]byte, w*h*3)
	i := 0
	bounds := resized.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			out[i] = byte(b >> 8)
			out[i+1] = byte(g >> 8)
			out[i+2] = byte(r >> 8)
			i += 3
		}
	}
	return out
}

// bgrColor adapts a packed BGR triple to image/color.Color.
type bgrColor struct{ r, g, b uint8 }

func (c bgrColor) RGBA() (r, g, b, a uint32) {
	r = uint32(c.r) * 0x101
	g = uint32(c.g) * 0x101
	b = uint32(c.b) * 0x101
	a = 0xffff
	return
}
