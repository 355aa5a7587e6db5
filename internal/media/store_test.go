package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rep0st/internal/apperr"
	"rep0st/internal/model"
	"rep0st/internal/upstream"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *upstream.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := upstream.New(upstream.Config{
		BaseURLAPI:  srv.URL,
		BaseURLImg:  srv.URL,
		BaseURLVid:  srv.URL,
		BaseURLFull: srv.URL,
		User:        "u",
		Password:    "p",
	})
	require.NoError(t, err)
	return client
}

func TestStorePathFor(t *testing.T) {
	s := New("/data/media", nil)
	p := &model.Post{Image: "2023/01/02/abc.jpg"}
	assert.Equal(t, filepath.Join("/data/media", "2023", "01", "02", "abc.jpg"), s.PathFor(p))
}

func TestEnsureFetchesAndWritesFile(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("image-bytes"))
	})
	root := t.TempDir()
	s := New(root, client)
	post := &model.Post{ID: 1, Image: "a/b/c.jpg", Type: model.PostTypeImage}

	result, err := s.Ensure(context.Background(), post)
	require.NoError(t, err)
	assert.Equal(t, Fetched, result)

	data, err := os.ReadFile(s.PathFor(post))
	require.NoError(t, err)
	assert.Equal(t, "image-bytes", string(data))
}

func TestEnsureHitsExistingFileWithoutDownload(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("should-not-be-fetched"))
	})
	root := t.TempDir()
	s := New(root, client)
	post := &model.Post{ID: 1, Image: "a/b/c.jpg", Type: model.PostTypeImage}

	dst := s.PathFor(post)
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))
	require.NoError(t, os.WriteFile(dst, []byte("already-here"), 0o644))

	result, err := s.Ensure(context.Background(), post)
	require.NoError(t, err)
	assert.Equal(t, Hit, result)
	assert.Equal(t, 0, calls)
}

func TestEnsureRefetchesMediaBrokenPosts(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("fresh-bytes"))
	})
	root := t.TempDir()
	s := New(root, client)
	post := &model.Post{ID: 1, Image: "a/b/c.jpg", Type: model.PostTypeImage, ErrorStatus: model.ErrorStatusMediaBroken}

	dst := s.PathFor(post)
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))
	require.NoError(t, os.WriteFile(dst, []byte("stale"), 0o644))

	result, err := s.Ensure(context.Background(), post)
	require.NoError(t, err)
	assert.Equal(t, Fetched, result)
	assert.Equal(t, 1, calls)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "fresh-bytes", string(data))
}

func TestEnsureReturnsMissingOn404(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	root := t.TempDir()
	s := New(root, client)
	post := &model.Post{ID: 1, Image: "a/b/c.jpg", Type: model.PostTypeImage}

	result, err := s.Ensure(context.Background(), post)
	require.Error(t, err)
	assert.Equal(t, Missing, result)
	assert.True(t, errors.Is(err, apperr.ErrUpstreamNotFound))
}

func TestReadReturnsStoredBytes(t *testing.T) {
	root := t.TempDir()
	s := New(root, nil)
	post := &model.Post{Image: "x/y.jpg"}
	dst := s.PathFor(post)
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))
	require.NoError(t, os.WriteFile(dst, []byte("hello"), 0o644))

	rc, err := s.Read(post)
	require.NoError(t, err)
	defer rc.Close()
	buf := make([]byte, 5)
	_, err = rc.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}

func TestReadMissingFileWrapsMediaIO(t *testing.T) {
	s := New(t.TempDir(), nil)
	_, err := s.Read(&model.Post{Image: "missing.jpg"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrMediaIO))
}

func TestRenameMovesFileToNewPath(t *testing.T) {
	root := t.TempDir()
	s := New(root, nil)
	oldPost := &model.Post{ID: 7, Image: "old/path.jpg"}
	newPost := &model.Post{ID: 7, Image: "new/path.jpg"}

	oldDst := s.PathFor(oldPost)
	require.NoError(t, os.MkdirAll(filepath.Dir(oldDst), 0o755))
	require.NoError(t, os.WriteFile(oldDst, []byte("content"), 0o644))

	require.NoError(t, s.Rename(oldPost, newPost))

	_, err := os.Stat(oldDst)
	assert.True(t, os.IsNotExist(err))
	data, err := os.ReadFile(s.PathFor(newPost))
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))
}

func TestRenameNoopWhenImageUnchanged(t *testing.T) {
	s := New(t.TempDir(), nil)
	post := &model.Post{ID: 1, Image: "same.jpg"}
	assert.NoError(t, s.Rename(post, post))
}

func TestRenameMismatchedIDsErrors(t *testing.T) {
	s := New(t.TempDir(), nil)
	err := s.Rename(&model.Post{ID: 1, Image: "a.jpg"}, &model.Post{ID: 2, Image: "b.jpg"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "post id mismatch")
}
