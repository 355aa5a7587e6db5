// Package upstream implements the authenticated, paginated HTTP client for
// the pr0gramm post/tag/media API (C1 Upstream Client).
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"rep0st/internal/apperr"
	"rep0st/internal/metrics"
	"rep0st/internal/model"
)

// Config points the client at the four upstream hosts and the service
// account credentials used for login.
type Config struct {
	BaseURLAPI, BaseURLImg, BaseURLVid, BaseURLFull string
	User, Password                                  string
}

// MediaKind selects which host a download is fetched from.
type MediaKind int

const (
	MediaImage MediaKind = iota
	MediaFullsize
	MediaVideo
)

// Client is safe for serial use by a single caller; concurrency across
// multiple callers is the caller's responsibility (spec.md §4.1/§5: a
// single upstream-client session is reused across threads, serialized
// only around login).
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New constructs a Client with its own cookie jar for session-cookie auth.
func New(cfg Config) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("building cookie jar: %w", err)
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   60 * time.Second,
			Jar:       jar,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// apiItem mirrors the upstream JSON shape of a single post.
type apiItem struct {
	ID       uint64 `json:"id"`
	Created  int64  `json:"created"`
	Image    string `json:"image"`
	Thumb    string `json:"thumb"`
	Fullsize string `json:"fullsize"`
	Width    uint32 `json:"width"`
	Height   uint32 `json:"height"`
	Audio    bool   `json:"audio"`
	Flags    uint32 `json:"flags"`
	User     string `json:"user"`
}

type itemsResponse struct {
	AtStart bool      `json:"atStart"`
	Items   []apiItem `json:"items"`
}

type apiTag struct {
	ID         uint64  `json:"id"`
	ItemID     uint64  `json:"itemId"`
	Up         int32   `json:"up"`
	Down       int32   `json:"down"`
	Confidence float64 `json:"confidence"`
	Tag        string  `json:"tag"`
}

type tagsResponse struct {
	Tags []apiTag `json:"tags"`
}

type loginResponse struct {
	Success bool `json:"success"`
	Ban     bool `json:"ban"`
}

func toPost(it apiItem) model.Post {
	p := model.Post{
		ID:      it.ID,
		Created: time.Unix(it.Created, 0).UTC(),
		Image:   it.Image,
		Width:   it.Width,
		Height:  it.Height,
		Audio:   it.Audio,
		Flags:   it.Flags,
		User:    it.User,
		Type:    model.PostTypeFromMediaPath(it.Image),
	}
	if it.Thumb != "" {
		p.Thumb = &it.Thumb
	}
	if it.Fullsize != "" {
		p.Fullsize = &it.Fullsize
	}
	return p
}

// PostPage is one page of iterate_posts.
type PostPage struct {
	Posts   []model.Post
	AtStart bool
}

// IteratePosts walks newer-than-start pages until the feed reports
// end-of-stream or end (if non-zero) is reached. The paging cursor is the
// max id observed on the previous page, matching the original's
// `newer={id}` cursoring.
func (c *Client) IteratePosts(ctx context.Context, start uint64, end *uint64, limitIDTo *uint64) ([]model.Post, error) {
	var all []model.Post
	cursor := start
	for {
		page, err := c.fetchPostPage(ctx, cursor)
		if err != nil {
			return all, err
		}
		for _, p := range page.Posts {
			if end != nil && p.ID > *end {
				page.AtStart = true
				continue
			}
			if limitIDTo != nil && p.ID > *limitIDTo {
				page.AtStart = true
				continue
			}
			all = append(all, p)
			if p.ID > cursor {
				cursor = p.ID
			}
		}
		if page.AtStart || len(page.Posts) == 0 {
			return all, nil
		}
		if end != nil && cursor >= *end {
			return all, nil
		}
	}
}

func (c *Client) fetchPostPage(ctx context.Context, newerThan uint64) (PostPage, error) {
	u := fmt.Sprintf("%s/items/get?flags=31&promoted=0&newer=%d", c.cfg.BaseURLAPI, newerThan)
	body, err := c.doWithRetryAndLogin(ctx, http.MethodGet, u, nil)
	if err != nil {
		return PostPage{}, err
	}
	var resp itemsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return PostPage{}, apperr.Wrap(apperr.ErrUpstreamTransient, "decode items response: %v", err)
	}
	posts := make([]model.Post, len(resp.Items))
	for i, it := range resp.Items {
		posts[i] = toPost(it)
	}
	return PostPage{Posts: posts, AtStart: resp.AtStart}, nil
}

// IterateTags returns all tags with id greater than start.
func (c *Client) IterateTags(ctx context.Context, start uint64) ([]model.Tag, error) {
	u := fmt.Sprintf("%s/tags/latest?id=%d", c.cfg.BaseURLAPI, start)
	body, err := c.doWithRetryAndLogin(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var resp tagsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperr.Wrap(apperr.ErrUpstreamTransient, "decode tags response: %v", err)
	}
	tags := make([]model.Tag, len(resp.Tags))
	for i, t := range resp.Tags {
		tags[i] = model.Tag{ID: t.ID, PostID: t.ItemID, Tag: t.Tag, Up: t.Up, Down: t.Down, Confidence: t.Confidence}
	}
	return tags, nil
}

// Download fetches raw media bytes for the given kind and relative path.
func (c *Client) Download(ctx context.Context, kind MediaKind, path string) ([]byte, error) {
	var base string
	switch kind {
	case MediaImage:
		base = c.cfg.BaseURLImg
	case MediaFullsize:
		base = c.cfg.BaseURLFull
	case MediaVideo:
		base = c.cfg.BaseURLVid
	}
	u := strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
	return c.doWithRetryAndLogin(ctx, http.MethodGet, u, nil)
}

// doWithRetryAndLogin implements the §4.1 contract: 403 triggers a
// synchronous relogin and one retry; 404 fails immediately as
// UpstreamNotFound; other transient errors retry with backoff (3^n
// seconds, n in {1,2,3}) before failing as UpstreamTransient.
func (c *Client) doWithRetryAndLogin(ctx context.Context, method, u string, body io.Reader) ([]byte, error) {
	relogged := false
	operation := func() ([]byte, error) {
		data, status, err := c.do(ctx, method, u, body)
		if err != nil {
			return nil, err
		}
		switch {
		case status == http.StatusNotFound:
			return nil, backoff.Permanent(apperr.Wrap(apperr.ErrUpstreamNotFound, "GET %s: 404", u))
		case status == http.StatusForbidden:
			if relogged {
				return nil, fmt.Errorf("still forbidden after relogin: %s", u)
			}
			if err := c.login(ctx); err != nil {
				return nil, backoff.Permanent(err)
			}
			relogged = true
			return nil, fmt.Errorf("retrying after relogin: %s", u)
		case status >= 200 && status < 300:
			return data, nil
		default:
			return nil, fmt.Errorf("unexpected status %d for %s", status, u)
		}
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(exponentialThreePowN()),
		backoff.WithMaxTries(4),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if asPermanent(err, &permanent) {
			return nil, permanent.Err
		}
		// backoff.Retry hands back a permanent error already unwrapped, so
		// taxonomy errors raised by the operation are passed through as-is.
		if errors.Is(err, apperr.ErrUpstreamNotFound) || errors.Is(err, apperr.ErrUpstreamAuth) || errors.Is(err, apperr.ErrUpstreamTransient) {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.ErrUpstreamTransient, "%v", err)
	}
	return result, nil
}

func asPermanent(err error, target **backoff.PermanentError) bool {
	pe, ok := err.(*backoff.PermanentError)
	if ok {
		*target = pe
	}
	return ok
}

// exponentialThreePowN retries after 3, 9, 27 seconds, matching the
// original's `time.sleep(3**error_count)` for error_count in {1,2,3}.
func exponentialThreePowN() backoff.BackOff {
	return &threePowBackOff{n: 0}
}

type threePowBackOff struct{ n int }

func (b *threePowBackOff) NextBackOff() time.Duration {
	b.n++
	d := 1
	for i := 0; i < b.n; i++ {
		d *= 3
	}
	return time.Duration(d) * time.Second
}

func (c *Client) do(ctx context.Context, method, u string, body io.Reader) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}

// login performs the service-account login and is retried up to 3 times
// on transient failure; a {success:false} or {ban:true} response is a
// fatal, never-retried UpstreamAuth error (§4.1, supplemented from the
// original's perform_login semantics — see SPEC_FULL.md §12).
func (c *Client) login(ctx context.Context) error {
	form := url.Values{"name": {c.cfg.User}, "password": {c.cfg.Password}}
	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.cfg.BaseURLAPI+"/user/login", strings.NewReader(form.Encode()))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("login http status %d", resp.StatusCode)
		}
		return data, nil
	}

	data, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(exponentialThreePowN()),
		backoff.WithMaxTries(4),
	)
	if err != nil {
		metrics.LoginFailures.Inc()
		return apperr.Wrap(apperr.ErrUpstreamTransient, "login: %v", err)
	}

	var lr loginResponse
	if err := json.Unmarshal(data, &lr); err != nil {
		metrics.LoginFailures.Inc()
		return apperr.Wrap(apperr.ErrUpstreamAuth, "decode login response: %v", err)
	}
	if !lr.Success || lr.Ban {
		metrics.LoginFailures.Inc()
		return apperr.Wrap(apperr.ErrUpstreamAuth, "login rejected (success=%v ban=%v)", lr.Success, lr.Ban)
	}
	slog.Info("upstream login succeeded")
	return nil
}
