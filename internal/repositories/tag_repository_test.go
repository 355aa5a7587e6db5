package repositories

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rep0st/internal/model"
)

func TestTagLatestIDReturnsMax(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT max(id) FROM tag`)).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(99)))

	repo := NewTagRepository(db)
	id, err := repo.LatestID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(99), id)
}

func TestTagLatestIDEmptyTableReturnsZero(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT max(id) FROM tag`)).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	repo := NewTagRepository(db)
	id, err := repo.LatestID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id)
}

func TestTagAddAllInsertsEachTag(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`INSERT INTO tag`).
		WithArgs(uint64(1), uint64(10), "funny", int32(5), int32(0), 0.9).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewTagRepository(db)
	err := repo.AddAll(context.Background(), []model.Tag{
		{ID: 1, PostID: 10, Tag: "funny", Up: 5, Down: 0, Confidence: 0.9},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTagGetByPostID(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT id, post_id, tag, up, down, confidence FROM tag WHERE post_id = \$1`).
		WithArgs(uint64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "post_id", "tag", "up", "down", "confidence"}).
			AddRow(1, 10, "funny", 5, 0, 0.9))

	repo := NewTagRepository(db)
	tags, err := repo.GetByPostID(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "funny", tags[0].Tag)
}
