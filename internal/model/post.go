// Package model defines the core persistent entities of the indexing and
// search pipeline: Post, FeatureVector and Tag.
package model

import "time"

// Flag is a single bit in Post.Flags.
type Flag uint32

const (
	FlagSFW  Flag = 1 << 0
	FlagNSFW Flag = 1 << 1
	FlagNSFL Flag = 1 << 2
	FlagNSFP Flag = 1 << 3
	FlagPOL  Flag = 1 << 4
)

// FlagsToMask ORs a set of flags into a single bitmask.
func FlagsToMask(flags []Flag) uint32 {
	var mask uint32
	for _, f := range flags {
		mask |= uint32(f)
	}
	return mask
}

// PostType is derived from the media file extension.
type PostType string

const (
	PostTypeImage    PostType = "IMAGE"
	PostTypeAnimated PostType = "ANIMATED"
	PostTypeVideo    PostType = "VIDEO"
	PostTypeUnknown  PostType = "UNKNOWN"
)

// PostTypeFromMediaPath derives a PostType from a media path's extension,
// matching the upstream API's own classification.
func PostTypeFromMediaPath(path string) PostType {
	ext := extOf(path)
	switch ext {
	case "jpg", "jpeg", "png":
		return PostTypeImage
	case "gif":
		return PostTypeAnimated
	case "mp4", "webm":
		return PostTypeVideo
	default:
		return PostTypeUnknown
	}
}

func extOf(path string) string {
	dot := -1
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			dot = i
			break
		}
		if path[i] == '/' {
			break
		}
	}
	if dot < 0 || dot == len(path)-1 {
		return ""
	}
	ext := path[dot+1:]
	lower := make([]byte, len(ext))
	for i := 0; i < len(ext); i++ {
		c := ext[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		lower[i] = c
	}
	return string(lower)
}

// ErrorStatus records why a post's media could not be resolved or decoded.
type ErrorStatus string

const (
	ErrorStatusNone           ErrorStatus = ""
	ErrorStatusNoMediaFound   ErrorStatus = "NO_MEDIA_FOUND"
	ErrorStatusMediaBroken    ErrorStatus = "MEDIA_BROKEN"
)

// Post is the primary entity: one record per upstream item.
type Post struct {
	ID              uint64      `db:"id"`
	Created         time.Time   `db:"created"`
	Image           string      `db:"image"`
	Thumb           *string     `db:"thumb"`
	Fullsize        *string     `db:"fullsize"`
	Width           uint32      `db:"width"`
	Height          uint32      `db:"height"`
	Audio           bool        `db:"audio"`
	Flags           uint32      `db:"flags"`
	User            string      `db:"user"`
	Type            PostType    `db:"type"`
	ErrorStatus     ErrorStatus `db:"error_status"`
	Deleted         bool        `db:"deleted"`
	FeaturesIndexed bool        `db:"features_indexed"`
}

// HasFlag reports whether any bit of mask is set on the post.
func (p *Post) HasFlag(mask uint32) bool {
	return p.Flags&mask > 0
}

// FeatureVectorDim is the fixed dimensionality of every feature vector:
// 36 hue + 36 saturation + 36 value buckets from a 6x6 HSV downscale.
const FeatureVectorDim = 108

// FeatureVector is zero or more per post: one per extracted video keyframe,
// exactly one for a still image.
type FeatureVector struct {
	PostID   uint64    `db:"post_id"`
	ID       int       `db:"id"`
	PostType PostType  `db:"post_type"`
	Vec      []float32 `db:"vec"`
}

// Tag is read-only after insert; used only for optional filtering/display.
type Tag struct {
	ID         uint64  `db:"id"`
	PostID     uint64  `db:"post_id"`
	Tag        string  `db:"tag"`
	Up         int32   `db:"up"`
	Down       int32   `db:"down"`
	Confidence float64 `db:"confidence"`
}

// SearchResult pairs a similarity score in [0,1] with the matched Post.
type SearchResult struct {
	Score float64 `json:"similarity"`
	Post  Post    `json:"post"`
}
