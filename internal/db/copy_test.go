package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifier(t *testing.T) {
	assert.Equal(t, pgx.Identifier{"crop_recommendations"}, Identifier("crop_recommendations"))
	assert.Equal(t, pgx.Identifier{"analytics", "crop_recommendations"}, Identifier("analytics.crop_recommendations"))
}

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "crop_recommendations", []string{"a", "b"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"crop_recommendations"}, []string{"rank", "crop_id"}).WillReturnResult(3)

	rows := [][]any{{1, 10}, {2, 11}, {3, 12}}
	n, err := CopyFrom(context.Background(), mock, "crop_recommendations", []string{"rank", "crop_id"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_SchemaQualified(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"analytics", "crop_recommendations"}, []string{"rank"}).WillReturnResult(1)

	n, err := CopyFrom(context.Background(), mock, "analytics.crop_recommendations", []string{"rank"}, [][]any{{1}})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_RowWidthMismatch(t *testing.T) {
	_, err := CopyFrom(context.Background(), nil, "crop_recommendations", []string{"a", "b"}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 0 has 1 values for 2 columns")
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"crop_recommendations"}, []string{"a"}).WillReturnError(fmt.Errorf("permission denied"))

	_, err = CopyFrom(context.Background(), mock, "crop_recommendations", []string{"a"}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO crop_recommendations")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnect_EmptyURL(t *testing.T) {
	_, err := Connect(context.Background(), "", PoolConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database url is empty")
}

func TestConnect_BadURL(t *testing.T) {
	_, err := Connect(context.Background(), "postgres://%zz", PoolConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse database url")
}

var _ Pool = (pgxmock.PgxPoolIface)(nil)
