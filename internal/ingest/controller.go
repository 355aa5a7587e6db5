// Package ingest implements the Ingest Controller (C6): forward ingest and
// full reconcile against the upstream post feed, grounded on
// original_source/rep0st/service/post_service.py's _process_batch and
// update_all_posts/update_posts.
package ingest

import (
	"context"
	"errors"
	"log/slog"

	"rep0st/internal/apperr"
	"rep0st/internal/database"
	"rep0st/internal/media"
	"rep0st/internal/metrics"
	"rep0st/internal/model"
	"rep0st/internal/repositories"
	"rep0st/internal/upstream"
)

const (
	forwardBatchSize  = 100
	reconcileRangeLen = 1000
)

// Controller reconciles upstream posts with local state and triggers
// downloads via the Media Store.
type Controller struct {
	db        *database.DB
	client    *upstream.Client
	store     *media.Store
	posts     *repositories.PostRepository
	tags      *repositories.TagRepository
	limitIDTo *uint64
}

func New(db *database.DB, client *upstream.Client, store *media.Store, posts *repositories.PostRepository, limitIDTo *uint64) *Controller {
	return &Controller{db: db, client: client, store: store, posts: posts, tags: repositories.NewTagRepository(db), limitIDTo: limitIDTo}
}

// UpdateTags is the thin tag-ingestion data path named in SPEC_FULL.md §12:
// it fetches tags newer than the latest stored tag id and stores them.
// cmd/server runs it as the update_tags job on
// rep0st_update_tags_job_schedule.
func (c *Controller) UpdateTags(ctx context.Context) error {
	latest, err := c.tags.LatestID(ctx)
	if err != nil {
		return err
	}
	newTags, err := c.client.IterateTags(ctx, latest)
	if err != nil {
		return err
	}
	if len(newTags) == 0 {
		return nil
	}
	return c.tags.AddAll(ctx, newTags)
}

// UpdatePosts is forward ingest: starting from latest_post_id()+1, pull
// batches of 100 from the upstream client, ensure media, and persist each
// batch atomically. If endID is non-zero it bounds the walk.
func (c *Controller) UpdatePosts(ctx context.Context, endID uint64) error {
	latest, err := c.posts.LatestPostID(ctx)
	if err != nil {
		return err
	}
	var end *uint64
	if endID != 0 {
		end = &endID
	}

	// The upstream cursor is exclusive (newer-than), so passing latest makes
	// latest+1 the first id fetched.
	fetched, err := c.client.IteratePosts(ctx, latest, end, c.limitIDTo)
	if err != nil {
		return err
	}

	for start := 0; start < len(fetched); start += forwardBatchSize {
		stop := start + forwardBatchSize
		if stop > len(fetched) {
			stop = len(fetched)
		}
		batch := fetched[start:stop]
		if err := c.persistForwardBatch(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) persistForwardBatch(ctx context.Context, batch []model.Post) error {
	return repositories.WithTransaction(ctx, c.db, func(ctx context.Context) error {
		for i := range batch {
			p := &batch[i]
			_, err := c.store.Ensure(ctx, p)
			p.ErrorStatus = errorStatusForEnsureErr(err)
		}
		if err := c.posts.UpsertAll(ctx, batch); err != nil {
			return err
		}
		metrics.PostsIngested.Add(float64(len(batch)))
		return nil
	})
}

// UpdateAllPosts is the full reconcile pass (§4.6): it walks id ranges of
// reconcileRangeLen, diffing the upstream feed against local state and
// applying the 4-case resolution per id. Ranges commit in ascending id
// order, so readers observe a monotone prefix of reconciled state.
func (c *Controller) UpdateAllPosts(ctx context.Context, startID uint64, endID uint64) error {
	if startID == 0 {
		startID = 1
	}
	if endID == 0 {
		apiLatest, err := c.fetchLatestUpstreamID(ctx)
		if err != nil {
			return err
		}
		dbLatest, err := c.posts.LatestPostID(ctx)
		if err != nil {
			return err
		}
		endID = apiLatest
		if dbLatest > endID {
			endID = dbLatest
		}
	}

	for rangeStart := startID; rangeStart <= endID; rangeStart += reconcileRangeLen {
		rangeEnd := rangeStart + reconcileRangeLen - 1
		if rangeEnd > endID {
			rangeEnd = endID
		}
		if err := c.reconcileRange(ctx, rangeStart, rangeEnd); err != nil {
			return err
		}
	}
	return nil
}

// errorStatusForEnsureErr maps a Media Store Ensure error to the error
// taxonomy member (§7) it corresponds to: a 404 on the upstream media
// means the post has no media to find; any other failure (stat, download,
// write) is a local IO problem, surfaced the same as a decode failure so
// the Feature Worker skips the post without re-attempting media fetch on
// every run.
func errorStatusForEnsureErr(err error) model.ErrorStatus {
	if err == nil {
		return model.ErrorStatusNone
	}
	if errors.Is(err, apperr.ErrUpstreamNotFound) {
		return model.ErrorStatusNoMediaFound
	}
	return model.ErrorStatusMediaBroken
}

func (c *Controller) fetchLatestUpstreamID(ctx context.Context) (uint64, error) {
	posts, err := c.client.IteratePosts(ctx, 0, nil, nil)
	if err != nil {
		return 0, err
	}
	var max uint64
	for _, p := range posts {
		if p.ID > max {
			max = p.ID
		}
	}
	return max, nil
}

// reconcileRange applies the exact 4-case diff for every id in
// [rangeStart, rangeEnd], matching post_service.py's _process_batch.
func (c *Controller) reconcileRange(ctx context.Context, rangeStart, rangeEnd uint64) error {
	apiPosts, err := c.client.IteratePosts(ctx, rangeStart-1, &rangeEnd, c.limitIDTo)
	if err != nil {
		return err
	}
	apiByID := make(map[uint64]model.Post, len(apiPosts))
	for _, p := range apiPosts {
		apiByID[p.ID] = p
	}

	dbPosts, err := c.posts.PostsInRange(ctx, rangeStart, rangeEnd)
	if err != nil {
		return err
	}
	dbByID := make(map[uint64]model.Post, len(dbPosts))
	for _, p := range dbPosts {
		dbByID[p.ID] = p
	}

	return repositories.WithTransaction(ctx, c.db, func(ctx context.Context) error {
		var toSave []model.Post

		for id := rangeStart; id <= rangeEnd; id++ {
			apiPost, inAPI := apiByID[id]
			dbPost, inDB := dbByID[id]

			switch {
			case inAPI && !inDB:
				// API-only: new post, download media, insert.
				p := apiPost
				_, err := c.store.Ensure(ctx, &p)
				p.ErrorStatus = errorStatusForEnsureErr(err)
				toSave = append(toSave, p)
				metrics.PostsReconciled.WithLabelValues("inserted").Inc()

			case !inAPI && inDB:
				// DB-only: post vanished upstream, mark deleted and clear
				// features.
				if !dbPost.Deleted {
					dbPost.Deleted = true
					dbPost.FeaturesIndexed = false
					toSave = append(toSave, dbPost)
					if err := c.clearFeatures(ctx, dbPost.ID); err != nil {
						return err
					}
					metrics.PostsReconciled.WithLabelValues("deleted").Inc()
				}

			case inAPI && inDB:
				// In both: sync deleted/flags, re-ensure media, clear
				// features if error_status changed.
				changed := dbPost
				if changed.Deleted {
					changed.Deleted = false
				}
				if changed.Flags != apiPost.Flags {
					changed.Flags = apiPost.Flags
				}
				oldErrorStatus := changed.ErrorStatus
				_, err := c.store.Ensure(ctx, &changed)
				changed.ErrorStatus = errorStatusForEnsureErr(err)
				if oldErrorStatus != changed.ErrorStatus {
					changed.FeaturesIndexed = false
					if err := c.clearFeatures(ctx, changed.ID); err != nil {
						return err
					}
				}
				toSave = append(toSave, changed)
				metrics.PostsReconciled.WithLabelValues("synced").Inc()

			default:
				// Neither: never seen this id, nothing to do.
			}
		}

		if len(toSave) == 0 {
			return nil
		}
		return c.posts.UpsertAll(ctx, toSave)
	})
}

func (c *Controller) clearFeatures(ctx context.Context, postID uint64) error {
	fvRepo := repositories.NewFeatureVectorRepository(c.db)
	if err := fvRepo.DeleteByPostID(ctx, postID); err != nil {
		return err
	}
	slog.Debug("cleared feature vectors on reconcile", "post_id", postID)
	return nil
}
