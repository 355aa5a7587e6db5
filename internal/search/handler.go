// Package search implements the Search Service (C9): an HTTP endpoint that
// accepts a query image (upload or URL), extracts its feature vector, and
// returns the nearest posts by L2 distance. Grounded on
// original_source/rep0st/service/post_search_service.py's search_file and
// the teacher's gin handler/response conventions (internal/utils).
package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"rep0st/internal/decode"
	"rep0st/internal/feature"
	"rep0st/internal/metrics"
	"rep0st/internal/model"
	"rep0st/internal/repositories"
	"rep0st/internal/utils"
)

// parseFlags reads the "flags" query parameter as the raw Post.flags
// bitmask (spec.md §4.1 data model; same convention as the upstream API's
// own `flags=` parameter), e.g. `?flags=3` restricts results to posts with
// at least one of SFW|NSFW set.
func parseFlags(c *gin.Context) []model.Flag {
	raw := c.Query("flags")
	if raw == "" {
		return nil
	}
	mask, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || mask == 0 {
		return nil
	}
	return []model.Flag{model.Flag(mask)}
}

// HTTPFetcher fetches a remote URL's body, used for the `?url=` variant.
// Kept as a narrow interface so handlers can be tested with a fake.
type HTTPFetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

type defaultFetcher struct{ client *http.Client }

func NewDefaultFetcher() HTTPFetcher {
	return defaultFetcher{client: http.DefaultClient}
}

func (f defaultFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	return resp.Body, nil
}

// Handler serves the reverse image search endpoint.
type Handler struct {
	posts   *repositories.PostRepository
	fetcher HTTPFetcher
}

func NewHandler(posts *repositories.PostRepository, fetcher HTTPFetcher) *Handler {
	return &Handler{posts: posts, fetcher: fetcher}
}

// Register wires the search routes onto an existing gin router group.
func (h *Handler) Register(rg gin.IRouter) {
	rg.POST("/search", h.SearchUpload)
	rg.GET("/search", h.SearchURL)
}

// SearchUpload handles POST /api/search with a multipart "image" field.
func (h *Handler) SearchUpload(c *gin.Context) {
	file, _, err := c.Request.FormFile("image")
	if err != nil {
		utils.SendValidationError(c, fmt.Errorf("missing image field: %w", err))
		return
	}
	defer file.Close()
	h.search(c, file)
}

// SearchURL handles GET /api/search?url=... fetching the query image remotely.
func (h *Handler) SearchURL(c *gin.Context) {
	u := c.Query("url")
	if u == "" {
		utils.SendValidationError(c, fmt.Errorf("missing url query parameter"))
		return
	}
	body, err := h.fetcher.Fetch(c.Request.Context(), u)
	if err != nil {
		metrics.SearchQueries.WithLabelValues("fetch_error").Inc()
		utils.SendError(c, http.StatusBadGateway, "failed to fetch query image", err)
		return
	}
	defer body.Close()
	h.search(c, body)
}

// search is the shared pipeline: decode -> extract -> vector search ->
// respond. Only post_type=IMAGE is ever queried — video/animated frames are
// indexed for search parity, but a query image is always a single still
// frame and is compared only against the IMAGE partial index (SPEC_FULL.md
// §13: cross-frame query merge is explicitly out of scope).
func (h *Handler) search(c *gin.Context, r io.Reader) {
	frame, err := decode.DecodeStill(r)
	if err != nil {
		metrics.SearchQueries.WithLabelValues("decode_error").Inc()
		utils.SendValidationError(c, fmt.Errorf("could not decode query image: %w", err))
		return
	}

	vec := feature.Extract(frame)

	opts := repositories.SearchOptions{Limit: 50}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 {
		opts.Limit = limit
	}
	if c.Query("exact") == "true" {
		opts.Exact = true
	}
	if ef, err := strconv.Atoi(c.Query("ef_search")); err == nil && ef > 0 {
		opts.EFSearch = ef
	}
	opts.Flags = parseFlags(c)

	results, err := h.posts.SearchPosts(c.Request.Context(), model.PostTypeImage, vec, opts)
	if err != nil {
		metrics.SearchQueries.WithLabelValues("db_error").Inc()
		utils.SendInternalError(c, err)
		return
	}

	metrics.SearchQueries.WithLabelValues("ok").Inc()
	utils.SendSuccess(c, "search complete", results)
}
