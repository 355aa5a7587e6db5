// Package featureworker implements the Feature Worker (C7): it drives
// unindexed posts through decoding and feature extraction and persists the
// resulting vectors, grounded on the errgroup+semaphore worker pool in
// internal/imaging/service.go's derivative upload fan-out.
package featureworker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"rep0st/internal/apperr"
	"rep0st/internal/database"
	"rep0st/internal/decode"
	"rep0st/internal/feature"
	"rep0st/internal/media"
	"rep0st/internal/metrics"
	"rep0st/internal/model"
	"rep0st/internal/repositories"
)

const (
	defaultBatchSize  = 1000
	defaultConcurrency = 16
	perBatchTimeout   = 120 * time.Second
)

// Worker extracts and persists feature vectors for posts that don't have
// them yet.
type Worker struct {
	db          *database.DB
	posts       *repositories.PostRepository
	vectors     *repositories.FeatureVectorRepository
	store       *media.Store
	keyframes   *decode.KeyframeExtractor
	concurrency int
}

func New(db *database.DB, posts *repositories.PostRepository, vectors *repositories.FeatureVectorRepository, store *media.Store) *Worker {
	return &Worker{
		db:          db,
		posts:       posts,
		vectors:     vectors,
		store:       store,
		keyframes:   decode.NewKeyframeExtractor(),
		concurrency: defaultConcurrency,
	}
}

// UpdateFeatures is the scheduled job: it processes up to defaultBatchSize
// posts of postType missing features per run, batched into sub-batches of
// 250 that each commit atomically. BackfillFeatures (the supplemented
// on-demand variant from SPEC_FULL.md §12) reuses processBatch directly.
func (w *Worker) UpdateFeatures(ctx context.Context, postType model.PostType) error {
	posts, err := w.posts.PostsMissingFeatures(ctx, postType, defaultBatchSize)
	if err != nil {
		return fmt.Errorf("listing posts missing features: %w", err)
	}
	if len(posts) == 0 {
		return nil
	}

	const subBatch = 250
	for start := 0; start < len(posts); start += subBatch {
		stop := start + subBatch
		if stop > len(posts) {
			stop = len(posts)
		}
		if err := w.processBatch(ctx, posts[start:stop]); err != nil {
			return err
		}
	}
	return nil
}

// BackfillFeatures forces re-extraction for an explicit set of posts,
// regardless of their current features_indexed state.
func (w *Worker) BackfillFeatures(ctx context.Context, posts []model.Post) error {
	const subBatch = 250
	for start := 0; start < len(posts); start += subBatch {
		stop := start + subBatch
		if stop > len(posts) {
			stop = len(posts)
		}
		if err := w.processBatch(ctx, posts[start:stop]); err != nil {
			return err
		}
	}
	return nil
}

type extracted struct {
	postID    uint64
	postType  model.PostType
	vectors   [][]float32
	errStatus model.ErrorStatus
}

// processBatch extracts features for a sub-batch concurrently (bounded by
// w.concurrency), then persists all results for the sub-batch inside a
// single transaction — matching the per-batch atomicity the Ingest
// Controller uses for post upserts.
//
// A per-batch deadline stops posts from starting extraction once it fires,
// but it does not discard extractions that already finished: results are
// collected through a mutex-guarded slice regardless of how errgroup.Wait
// resolves. Posts that never acquired a worker slot before the deadline are
// left out of this commit and retried on the next run. g.Wait still waits
// for extractions already in progress and their results are persisted; a
// video whose keyframe extraction is killed by the deadline fails to decode
// and is recorded MEDIA_BROKEN. The transaction itself runs against the
// caller's un-timed-out context, since the batch deadline context is
// already expired by the time a timeout triggers this path.
func (w *Worker) processBatch(ctx context.Context, posts []model.Post) error {
	batchCtx, cancel := context.WithTimeout(ctx, perBatchTimeout)
	defer cancel()

	results := make([]*extracted, len(posts))
	g, gCtx := errgroup.WithContext(batchCtx)
	sem := make(chan struct{}, w.concurrency)
	var mu sync.Mutex

	for i := range posts {
		i := i
		p := posts[i]
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gCtx.Done():
				return gCtx.Err()
			}
			defer func() { <-sem }()

			r := w.extractOne(gCtx, p)
			mu.Lock()
			results[i] = &r
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.Warn("feature extraction batch did not fully complete; persisting completed results", "error", err)
	}

	return repositories.WithTransaction(ctx, w.db, func(ctx context.Context) error {
		var updated []model.Post
		for i, r := range results {
			if r == nil {
				// Never acquired a worker slot before the batch deadline
				// fired; left unindexed for a retry.
				continue
			}
			if r.errStatus != model.ErrorStatusNone {
				metrics.FeatureWorkerErrors.WithLabelValues(string(r.errStatus)).Inc()
			} else {
				var fvs []model.FeatureVector
				for idx, vec := range r.vectors {
					fvs = append(fvs, model.FeatureVector{PostID: r.postID, ID: idx, PostType: r.postType, Vec: vec})
				}
				if len(fvs) > 0 {
					if err := w.vectors.AddAll(ctx, fvs); err != nil {
						return err
					}
				}
				metrics.FeaturesAdded.Add(float64(len(fvs)))
			}

			p := posts[i]
			p.FeaturesIndexed = r.errStatus == model.ErrorStatusNone
			p.ErrorStatus = r.errStatus
			updated = append(updated, p)
		}
		if len(updated) == 0 {
			return nil
		}
		return w.posts.UpsertAll(ctx, updated)
	})
}

func (w *Worker) extractOne(ctx context.Context, post model.Post) extracted {
	frames, err := decode.FramesForPost(ctx, post.Type, w.store.PathFor(&post), w.keyframes, func() (io.ReadCloser, error) {
		return w.store.Read(&post)
	})
	if err != nil {
		slog.Warn("feature extraction: decode failed", "post_id", post.ID, "error", err)
		status := model.ErrorStatusMediaBroken
		if errors.Is(err, apperr.ErrMediaIO) {
			status = model.ErrorStatusNoMediaFound
		}
		return extracted{postID: post.ID, postType: post.Type, errStatus: status}
	}

	vecs := make([][]float32, 0, len(frames))
	for _, f := range frames {
		vecs = append(vecs, feature.Extract(f))
	}
	return extracted{postID: post.ID, postType: post.Type, vectors: vecs, errStatus: model.ErrorStatusNone}
}
