package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	"rep0st/internal/database"
	"rep0st/internal/model"
)

// PostRepository provides transactional access to the post table,
// including the vector-similarity search path (C8 Vector Index) that
// joins post to feature_vector.
type PostRepository struct {
	db *database.DB
}

func NewPostRepository(db *database.DB) *PostRepository {
	return &PostRepository{db: db}
}

// LatestPostID returns the highest post id known locally, or 0 if the
// table is empty.
func (r *PostRepository) LatestPostID(ctx context.Context) (uint64, error) {
	var id sql.NullInt64
	err := Q(ctx, r.db).GetContext(ctx, &id, `SELECT max(id) FROM post`)
	if err != nil {
		return 0, unwrap("latest_post_id", err)
	}
	if !id.Valid {
		return 0, nil
	}
	return uint64(id.Int64), nil
}

// PostsMissingFeatures returns posts with error_status=null, deleted=false
// and features_indexed=false, ordered by id ascending, limited to limit
// rows — the candidate set the Feature Worker drives through extraction.
func (r *PostRepository) PostsMissingFeatures(ctx context.Context, postType model.PostType, limit int) ([]model.Post, error) {
	var posts []model.Post
	err := Q(ctx, r.db).SelectContext(ctx, &posts, `
		SELECT id, created, image, thumb, fullsize, width, height, audio,
		       flags, "user", type, error_status, deleted, features_indexed
		FROM post
		WHERE error_status = ''
		  AND deleted = false
		  AND features_indexed = false
		  AND type = $1
		ORDER BY id ASC
		LIMIT $2`, postType, limit)
	if err != nil {
		return nil, unwrap("posts_missing_features", err)
	}
	return posts, nil
}

// PostsInRange returns all locally-known posts with id in [start, end],
// used by the Ingest Controller's full reconcile pass.
func (r *PostRepository) PostsInRange(ctx context.Context, start, end uint64) ([]model.Post, error) {
	var posts []model.Post
	err := Q(ctx, r.db).SelectContext(ctx, &posts, `
		SELECT id, created, image, thumb, fullsize, width, height, audio,
		       flags, "user", type, error_status, deleted, features_indexed
		FROM post
		WHERE id BETWEEN $1 AND $2
		ORDER BY id ASC`, start, end)
	if err != nil {
		return nil, unwrap("posts_in_range", err)
	}
	return posts, nil
}

// GetByID returns a single post, or nil if it does not exist.
func (r *PostRepository) GetByID(ctx context.Context, id uint64) (*model.Post, error) {
	var p model.Post
	err := Q(ctx, r.db).GetContext(ctx, &p, `
		SELECT id, created, image, thumb, fullsize, width, height, audio,
		       flags, "user", type, error_status, deleted, features_indexed
		FROM post WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, unwrap("get_by_id", err)
	}
	return &p, nil
}

// GetByIDs returns every locally-known post whose id is in ids, in no
// particular order; ids not present locally are simply absent from the
// result. Returns an empty slice for an empty ids argument.
func (r *PostRepository) GetByIDs(ctx context.Context, ids []uint64) ([]model.Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := Q(ctx, r.db)
	query, args, err := sqlx.In(`
		SELECT id, created, image, thumb, fullsize, width, height, audio,
		       flags, "user", type, error_status, deleted, features_indexed
		FROM post WHERE id IN (?)`, ids)
	if err != nil {
		return nil, unwrap("get_by_ids build query", err)
	}
	query = q.Rebind(query)

	var posts []model.Post
	if err := q.SelectContext(ctx, &posts, query, args...); err != nil {
		return nil, unwrap("get_by_ids", err)
	}
	return posts, nil
}

// Count returns the total number of posts.
func (r *PostRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := Q(ctx, r.db).GetContext(ctx, &n, `SELECT count(*) FROM post`); err != nil {
		return 0, unwrap("count", err)
	}
	return n, nil
}

// CountWithFeatures returns the number of posts with features_indexed=true.
func (r *PostRepository) CountWithFeatures(ctx context.Context) (int64, error) {
	var n int64
	err := Q(ctx, r.db).GetContext(ctx, &n, `SELECT count(*) FROM post WHERE features_indexed = true`)
	if err != nil {
		return 0, unwrap("count_with_features", err)
	}
	return n, nil
}

// LatestPostIDWithFeatures returns the highest post id with
// features_indexed=true, or 0 if none exist — the high-water mark for how
// far the Feature Worker has progressed, independent of raw ingest progress.
func (r *PostRepository) LatestPostIDWithFeatures(ctx context.Context) (uint64, error) {
	var id sql.NullInt64
	err := Q(ctx, r.db).GetContext(ctx, &id, `SELECT max(id) FROM post WHERE features_indexed = true`)
	if err != nil {
		return 0, unwrap("latest_post_id_with_features", err)
	}
	if !id.Valid {
		return 0, nil
	}
	return uint64(id.Int64), nil
}

// UpsertAll inserts new posts or updates existing ones by id, within the
// caller's transaction scope. Used by both ingest modes to persist a batch
// atomically.
func (r *PostRepository) UpsertAll(ctx context.Context, posts []model.Post) error {
	q := Q(ctx, r.db)
	for _, p := range posts {
		_, err := q.ExecContext(ctx, `
			INSERT INTO post (id, created, image, thumb, fullsize, width, height,
			                   audio, flags, "user", type, error_status, deleted, features_indexed)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			ON CONFLICT (id) DO UPDATE SET
				image = EXCLUDED.image,
				thumb = EXCLUDED.thumb,
				fullsize = EXCLUDED.fullsize,
				width = EXCLUDED.width,
				height = EXCLUDED.height,
				audio = EXCLUDED.audio,
				flags = EXCLUDED.flags,
				"user" = EXCLUDED."user",
				type = EXCLUDED.type,
				error_status = EXCLUDED.error_status,
				deleted = EXCLUDED.deleted,
				features_indexed = EXCLUDED.features_indexed`,
			p.ID, p.Created, p.Image, p.Thumb, p.Fullsize, p.Width, p.Height,
			p.Audio, p.Flags, p.User, p.Type, p.ErrorStatus, p.Deleted, p.FeaturesIndexed)
		if err != nil {
			return unwrap(fmt.Sprintf("upsert post %d", p.ID), err)
		}
	}
	return nil
}

// SearchOptions configures an ANN query (C8).
type SearchOptions struct {
	// Flags, if non-empty, restricts results to posts with at least one
	// matching flag bit set.
	Flags []model.Flag
	// Exact disables index use for this transaction, forcing a linear
	// scan — used for recall evaluation and small corpora.
	Exact bool
	// EFSearch tunes HNSW recall vs latency for this transaction. Zero
	// means leave the database default in place.
	EFSearch int
	// Limit caps the number of rows returned.
	Limit int
}

// SearchPosts runs an L2 nearest-neighbor query over FeatureVector.vec for
// the given post type, joins back to Post, applies an optional flag
// bitmask filter, and returns (score, Post) pairs ordered by ascending L2
// distance (descending score). score = 1 - (L2 / sqrt(108)).
//
// exact and ef_search are transaction-scoped SET LOCAL statements that only
// affect the query that follows them when run in the same transaction, so this
// always runs inside its own repositories.WithTransaction scope (joining an
// already-open transaction if the caller has one).
func (r *PostRepository) SearchPosts(ctx context.Context, postType model.PostType, queryVec []float32, opts SearchOptions) ([]model.SearchResult, error) {
	var results []model.SearchResult
	err := WithTransaction(ctx, r.db, func(ctx context.Context) error {
		var err error
		results, err = r.searchPosts(ctx, postType, queryVec, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (r *PostRepository) searchPosts(ctx context.Context, postType model.PostType, queryVec []float32, opts SearchOptions) ([]model.SearchResult, error) {
	q := Q(ctx, r.db)

	if opts.Exact {
		if _, err := q.ExecContext(ctx, `SET LOCAL enable_indexscan = off`); err != nil {
			return nil, unwrap("set enable_indexscan", err)
		}
	}
	if opts.EFSearch > 0 {
		if _, err := q.ExecContext(ctx, fmt.Sprintf(`SET LOCAL hnsw.ef_search = %d`, opts.EFSearch)); err != nil {
			return nil, unwrap("set hnsw.ef_search", err)
		}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	args := []any{pgvector.NewVector(queryVec), postType, limit}
	flagFilter := ""
	if len(opts.Flags) > 0 {
		flagFilter = "AND (p.flags & $4) > 0"
		args = append(args, model.FlagsToMask(opts.Flags))
	}

	rows, err := q.QueryxContext(ctx, fmt.Sprintf(`
		SELECT
			1 - (fv.vec <-> $1) / sqrt(%d) AS score,
			p.id, p.created, p.image, p.thumb, p.fullsize, p.width, p.height,
			p.audio, p.flags, p."user", p.type, p.error_status, p.deleted, p.features_indexed
		FROM feature_vector fv
		JOIN post p ON p.id = fv.post_id
		WHERE fv.post_type = $2
		%s
		ORDER BY fv.vec <-> $1
		LIMIT $3`, model.FeatureVectorDim, flagFilter), args...)
	if err != nil {
		return nil, unwrap("search_posts", err)
	}
	defer rows.Close()

	var results []model.SearchResult
	for rows.Next() {
		var res model.SearchResult
		if err := rows.Scan(
			&res.Score,
			&res.Post.ID, &res.Post.Created, &res.Post.Image, &res.Post.Thumb, &res.Post.Fullsize,
			&res.Post.Width, &res.Post.Height, &res.Post.Audio, &res.Post.Flags, &res.Post.User,
			&res.Post.Type, &res.Post.ErrorStatus, &res.Post.Deleted, &res.Post.FeaturesIndexed,
		); err != nil {
			return nil, unwrap("scan search result", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, unwrap("search_posts rows", err)
	}
	return results, nil
}
