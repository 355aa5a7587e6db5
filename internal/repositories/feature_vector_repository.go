package repositories

import (
	"context"

	"github.com/pgvector/pgvector-go"

	"rep0st/internal/database"
	"rep0st/internal/model"
)

// FeatureVectorRepository persists FeatureVector rows. The backing table
// carries an HNSW index on vec (L2 ops, m=16, ef_construction=64) with
// predicate post_type = 'IMAGE', created by the goose migrations.
type FeatureVectorRepository struct {
	db *database.DB
}

func NewFeatureVectorRepository(db *database.DB) *FeatureVectorRepository {
	return &FeatureVectorRepository{db: db}
}

// AddAll bulk-persists feature vectors for one or more posts, inside the
// caller's transaction scope.
func (r *FeatureVectorRepository) AddAll(ctx context.Context, vectors []model.FeatureVector) error {
	q := Q(ctx, r.db)
	for _, fv := range vectors {
		_, err := q.ExecContext(ctx, `
			INSERT INTO feature_vector (post_id, id, post_type, vec)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (post_id, id) DO UPDATE SET vec = EXCLUDED.vec, post_type = EXCLUDED.post_type`,
			fv.PostID, fv.ID, fv.PostType, pgvector.NewVector(fv.Vec))
		if err != nil {
			return unwrap("add feature vector", err)
		}
	}
	return nil
}

// DeleteByPostID removes all feature vectors owned by a post — used on
// deletion, redownload and error-status transitions, always paired with
// clearing Post.FeaturesIndexed in the same transaction.
func (r *FeatureVectorRepository) DeleteByPostID(ctx context.Context, postID uint64) error {
	_, err := Q(ctx, r.db).ExecContext(ctx, `DELETE FROM feature_vector WHERE post_id = $1`, postID)
	if err != nil {
		return unwrap("delete feature vectors", err)
	}
	return nil
}

// GetByPostID returns all feature vectors for a post ordered by frame id.
func (r *FeatureVectorRepository) GetByPostID(ctx context.Context, postID uint64) ([]model.FeatureVector, error) {
	var rows []struct {
		PostID   uint64          `db:"post_id"`
		ID       int             `db:"id"`
		PostType model.PostType  `db:"post_type"`
		Vec      pgvector.Vector `db:"vec"`
	}
	err := Q(ctx, r.db).SelectContext(ctx, &rows, `
		SELECT post_id, id, post_type, vec FROM feature_vector
		WHERE post_id = $1 ORDER BY id ASC`, postID)
	if err != nil {
		return nil, unwrap("get feature vectors by post", err)
	}
	out := make([]model.FeatureVector, len(rows))
	for i, r := range rows {
		out[i] = model.FeatureVector{PostID: r.PostID, ID: r.ID, PostType: r.PostType, Vec: r.Vec.Slice()}
	}
	return out, nil
}
