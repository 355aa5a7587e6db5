// Package media implements the content-addressed filesystem cache of raw
// post media (C2 Media Store).
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"rep0st/internal/apperr"
	"rep0st/internal/model"
	"rep0st/internal/upstream"
)

// EnsureResult describes the outcome of Ensure.
type EnsureResult int

const (
	Hit EnsureResult = iota
	Fetched
	Missing
)

// Store maps Post.Image (and Post.Fullsize) to files under root. All
// operations are idempotent; Ensure never leaves a partial file visible.
type Store struct {
	root   string
	client *upstream.Client
}

func New(root string, client *upstream.Client) *Store {
	return &Store{root: root, client: client}
}

func (s *Store) pathFor(image string) string {
	return filepath.Join(s.root, filepath.FromSlash(image))
}

// PathFor returns the on-disk path for post's media, for callers (such as
// the video keyframe extractor) that need a real filesystem path rather
// than a stream.
func (s *Store) PathFor(post *model.Post) string {
	return s.pathFor(post.Image)
}

func (s *Store) fullsizePathFor(fullsize string) string {
	return filepath.Join(s.root, "full", filepath.FromSlash(fullsize))
}

// Ensure guarantees post.Image exists on disk. If the file already exists
// and the post isn't flagged MEDIA_BROKEN, it returns Hit without any
// network IO. Otherwise it downloads via the upstream client, writes to a
// temp file in the same directory, and renames into place atomically.
func (s *Store) Ensure(ctx context.Context, post *model.Post) (EnsureResult, error) {
	dst := s.pathFor(post.Image)

	if post.ErrorStatus != model.ErrorStatusMediaBroken {
		if _, err := os.Stat(dst); err == nil {
			return Hit, nil
		} else if !os.IsNotExist(err) {
			return Missing, apperr.Wrap(apperr.ErrMediaIO, "stat %s: %v", dst, err)
		}
	}

	kind := mediaKindFor(post.Type)
	data, err := s.client.Download(ctx, kind, post.Image)
	if err != nil {
		if errors.Is(err, apperr.ErrUpstreamNotFound) {
			return Missing, err
		}
		return Missing, apperr.Wrap(apperr.ErrMediaIO, "download %s: %v", post.Image, err)
	}

	if err := writeAtomic(dst, data); err != nil {
		return Missing, apperr.Wrap(apperr.ErrMediaIO, "write %s: %v", dst, err)
	}

	if post.Fullsize != nil && *post.Fullsize != "" {
		fsData, err := s.client.Download(ctx, upstream.MediaFullsize, *post.Fullsize)
		if err == nil {
			_ = writeAtomic(s.fullsizePathFor(*post.Fullsize), fsData)
		}
	}

	return Fetched, nil
}

// Rename atomically moves the media for oldPost to the path for newPost
// when the upstream image path changed for the same post id. On failure,
// the filesystem is left untouched.
func (s *Store) Rename(oldPost, newPost *model.Post) error {
	if oldPost.ID != newPost.ID {
		return fmt.Errorf("rename: post id mismatch %d != %d", oldPost.ID, newPost.ID)
	}
	if oldPost.Image == newPost.Image {
		return nil
	}
	oldPath := s.pathFor(oldPost.Image)
	newPath := s.pathFor(newPost.Image)
	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return apperr.Wrap(apperr.ErrMediaIO, "mkdir for rename: %v", err)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return apperr.Wrap(apperr.ErrMediaIO, "rename %s -> %s: %v", oldPath, newPath, err)
	}

	if oldPost.Fullsize != nil && newPost.Fullsize != nil && *oldPost.Fullsize != *newPost.Fullsize {
		oldFS := s.fullsizePathFor(*oldPost.Fullsize)
		newFS := s.fullsizePathFor(*newPost.Fullsize)
		if err := os.MkdirAll(filepath.Dir(newFS), 0o755); err == nil {
			_ = os.Rename(oldFS, newFS)
		}
	}
	return nil
}

// Read opens post.Image for reading. The caller closes the stream.
func (s *Store) Read(post *model.Post) (io.ReadCloser, error) {
	f, err := os.Open(s.pathFor(post.Image))
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrMediaIO, "open %s: %v", post.Image, err)
	}
	return f, nil
}

func mediaKindFor(t model.PostType) upstream.MediaKind {
	if t == model.PostTypeVideo {
		return upstream.MediaVideo
	}
	return upstream.MediaImage
}

// writeAtomic writes data to a temp file beside dst, fsyncs it, then
// renames it into place — the atomicity primitive that guarantees
// concurrent Ensure() calls never observe a partial file (§4.2 invariant).
func writeAtomic(dst string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, dst)
}
