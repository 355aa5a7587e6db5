package search

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	body io.ReadCloser
	err  error
}

func (f fakeFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	return f.body, f.err
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newUploadRequest(t *testing.T, fieldName string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if fieldName != "" {
		fw, err := mw.CreateFormFile(fieldName, "query.png")
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/search", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestSearchUploadMissingFieldReturns400(t *testing.T) {
	h := NewHandler(nil, fakeFetcher{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = newUploadRequest(t, "", nil)

	h.SearchUpload(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchUploadInvalidImageReturns400(t *testing.T) {
	h := NewHandler(nil, fakeFetcher{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = newUploadRequest(t, "image", []byte("not an image"))

	h.SearchUpload(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "could not decode query image")
}

func TestSearchURLMissingParamReturns400(t *testing.T) {
	h := NewHandler(nil, fakeFetcher{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/search", nil)

	h.SearchURL(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchURLFetchErrorReturns502(t *testing.T) {
	h := NewHandler(nil, fakeFetcher{err: errors.New("connection refused")})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/search?url=http://example.com/a.jpg", nil)

	h.SearchURL(c)

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestSearchURLInvalidImageReturns400(t *testing.T) {
	h := NewHandler(nil, fakeFetcher{body: io.NopCloser(bytes.NewReader([]byte("garbage")))})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/search?url=http://example.com/a.jpg", nil)

	h.SearchURL(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterWiresBothRoutes(t *testing.T) {
	h := NewHandler(nil, fakeFetcher{})
	r := gin.New()
	h.Register(r.Group(""))

	found := map[string]bool{}
	for _, rt := range r.Routes() {
		found[rt.Method+" "+rt.Path] = true
	}
	assert.True(t, found["POST /search"])
	assert.True(t, found["GET /search"])
}
