package repositories

import (
	"context"
	"database/sql"

	"rep0st/internal/database"
	"rep0st/internal/model"
)

// TagRepository persists Tag rows. Tags are read-only after insert and are
// independently lifecycled from their owning Post (no cascade delete).
type TagRepository struct {
	db *database.DB
}

func NewTagRepository(db *database.DB) *TagRepository {
	return &TagRepository{db: db}
}

// AddAll inserts tags, ignoring ones already present by id.
func (r *TagRepository) AddAll(ctx context.Context, tags []model.Tag) error {
	q := Q(ctx, r.db)
	for _, t := range tags {
		_, err := q.ExecContext(ctx, `
			INSERT INTO tag (id, post_id, tag, up, down, confidence)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			t.ID, t.PostID, t.Tag, t.Up, t.Down, t.Confidence)
		if err != nil {
			return unwrap("add tag", err)
		}
	}
	return nil
}

// GetByPostID returns all tags for a post.
func (r *TagRepository) GetByPostID(ctx context.Context, postID uint64) ([]model.Tag, error) {
	var tags []model.Tag
	err := Q(ctx, r.db).SelectContext(ctx, &tags, `
		SELECT id, post_id, tag, up, down, confidence FROM tag WHERE post_id = $1`, postID)
	if err != nil {
		return nil, unwrap("get tags by post", err)
	}
	return tags, nil
}

// LatestID returns the highest tag id stored locally, or 0 if the tag
// table is empty, used to resume iterate_tags paging.
func (r *TagRepository) LatestID(ctx context.Context) (uint64, error) {
	var id sql.NullInt64
	if err := Q(ctx, r.db).GetContext(ctx, &id, `SELECT max(id) FROM tag`); err != nil {
		return 0, unwrap("latest tag id", err)
	}
	if !id.Valid {
		return 0, nil
	}
	return uint64(id.Int64), nil
}
