// Package decode turns raw media bytes into a sequence of raw BGR frames
// (C3 Decoder): a single frame for still images, one frame per extracted
// keyframe for video.
package decode

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os/exec"
	"strconv"
	"time"

	"rep0st/internal/apperr"
	"rep0st/internal/model"
)

// Frame is a tightly packed BGR matrix, H x W x 3, uint8.
type Frame struct {
	Width, Height int
	BGR           []byte
}

// DecodeStill decodes the first (and only) frame of an IMAGE or ANIMATED
// post from r. Decode failures are classified MEDIA_BROKEN downstream; IO
// failures are classified NO_MEDIA_FOUND (the caller distinguishes by
// inspecting the returned error against apperr.ErrDecode vs a generic IO
// wrap).
func DecodeStill(r io.Reader) (Frame, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Frame{}, apperr.Wrap(apperr.ErrMediaIO, "read still image: %v", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Frame{}, apperr.Wrap(apperr.ErrDecode, "decode still image: %v", err)
	}
	return frameFromImage(img), nil
}

func frameFromImage(img image.Image) Frame {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	bgr := make([]byte, w*h*3)
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			bgr[i] = byte(b >> 8)
			bgr[i+1] = byte(g >> 8)
			bgr[i+2] = byte(r >> 8)
			i += 3
		}
	}
	return Frame{Width: w, Height: h, BGR: bgr}
}

// KeyframeExtractor spawns an external process (ffmpeg by default) that
// extracts key frames from a video and emits a raw PPM (P6) stream. The
// run is bounded by a 120-second timeout on its context; when the context
// ends, exec.CommandContext kills the process. Stdout is closed once the
// stream has been read, before waiting for the process to exit.
type KeyframeExtractor struct {
	// BinaryPath is the executable used to extract key frames, typically
	// "ffmpeg". Overridable for tests.
	BinaryPath string
}

func NewKeyframeExtractor() *KeyframeExtractor {
	return &KeyframeExtractor{BinaryPath: "ffmpeg"}
}

// DecodeVideoKeyframes runs the external process against videoPath and
// returns every decoded keyframe. The sequence is finite; callers see the
// whole result, matching the Decoder's "never retries" contract — any
// process or parse error is classified apperr.ErrDecode.
func (k *KeyframeExtractor) DecodeVideoKeyframes(ctx context.Context, videoPath string) ([]Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, 120*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, k.BinaryPath,
		"-i", videoPath,
		"-vf", "select='eq(pict_type,I)'",
		"-vsync", "vfr",
		"-f", "image2pipe",
		"-vcodec", "ppm",
		"-",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrDecode, "open ffmpeg stdout: %v", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, apperr.Wrap(apperr.ErrDecode, "start ffmpeg: %v", err)
	}

	frames, readErr := readPPMStream(stdout)

	stdout.Close()
	waitErr := cmd.Wait()

	if readErr != nil {
		return nil, apperr.Wrap(apperr.ErrDecode, "parse ffmpeg output: %v", readErr)
	}
	if waitErr != nil && len(frames) == 0 {
		return nil, apperr.Wrap(apperr.ErrDecode, "ffmpeg: %v", waitErr)
	}
	return frames, nil
}

// readPPMStream parses a concatenated sequence of binary PPM (P6) images:
// "P6\n{width} {height}\n{maxval}\n" followed by width*height*3 bytes of
// RGB, which is converted to BGR before being yielded.
func readPPMStream(r io.Reader) ([]Frame, error) {
	br := bufio.NewReader(r)
	var frames []Frame
	for {
		magic, err := readToken(br)
		if err == io.EOF {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
		if magic != "P6" {
			return frames, fmt.Errorf("unexpected PPM magic %q", magic)
		}
		width, err := readIntToken(br)
		if err != nil {
			return frames, fmt.Errorf("reading width: %w", err)
		}
		height, err := readIntToken(br)
		if err != nil {
			return frames, fmt.Errorf("reading height: %w", err)
		}
		maxval, err := readIntToken(br)
		if err != nil {
			return frames, fmt.Errorf("reading maxval: %w", err)
		}
		if maxval != 255 {
			return frames, fmt.Errorf("unsupported PPM maxval %d", maxval)
		}

		rgb := make([]byte, width*height*3)
		if _, err := io.ReadFull(br, rgb); err != nil {
			return frames, fmt.Errorf("reading pixel data: %w", err)
		}

		bgr := make([]byte, len(rgb))
		for i := 0; i+2 < len(rgb); i += 3 {
			bgr[i] = rgb[i+2]
			bgr[i+1] = rgb[i+1]
			bgr[i+2] = rgb[i]
		}
		frames = append(frames, Frame{Width: width, Height: height, BGR: bgr})
	}
}

func readToken(br *bufio.Reader) (string, error) {
	skipWhitespace(br)
	var buf bytes.Buffer
	for {
		b, err := br.ReadByte()
		if err != nil {
			if buf.Len() > 0 {
				return buf.String(), nil
			}
			return "", err
		}
		if isSpace(b) {
			if buf.Len() == 0 {
				continue
			}
			return buf.String(), nil
		}
		buf.WriteByte(b)
	}
}

func readIntToken(br *bufio.Reader) (int, error) {
	tok, err := readToken(br)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(tok)
}

func skipWhitespace(br *bufio.Reader) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return
		}
		if !isSpace(b) {
			br.UnreadByte()
			return
		}
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\r' || b == '\t'
}

// FramesForPost decodes every frame relevant to a post's type: one still
// frame for IMAGE/ANIMATED, one per video keyframe for VIDEO. This is the
// Feature Worker's entry point; the Search Service decodes its query image
// with DecodeStill directly.
func FramesForPost(ctx context.Context, postType model.PostType, mediaPath string, kf *KeyframeExtractor, open func() (io.ReadCloser, error)) ([]Frame, error) {
	switch postType {
	case model.PostTypeVideo:
		return kf.DecodeVideoKeyframes(ctx, mediaPath)
	default:
		rc, err := open()
		if err != nil {
			return nil, apperr.Wrap(apperr.ErrMediaIO, "open media: %v", err)
		}
		defer rc.Close()
		frame, err := DecodeStill(rc)
		if err != nil {
			return nil, err
		}
		return []Frame{frame}, nil
	}
}
