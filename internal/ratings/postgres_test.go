package ratings

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/himanalot/swimmer-elo/internal/crawler"
)

func TestPostgresUpsertBatches(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	u, err := NewPostgresWithPool(mock, "", 2)
	require.NoError(t, err)

	rows := []Row{
		{ID: "1", Name: "A", Team: "X", Rating: 1500},
		{ID: "2", Name: "B", Team: "X", Rating: 1500},
		{ID: "3", Name: "C", Team: "Y", Rating: 1500, RatingCount: 4},
	}
	mock.ExpectExec(`INSERT INTO swimmer_ratings \(id, name, team, elo, ratings_count\) VALUES \(\$1,\$2,\$3,\$4,\$5\), \(\$6`).
		WithArgs("1", "A", "X", 1500.0, 0, "2", "B", "X", 1500.0, 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec(`ON CONFLICT \(id\) DO UPDATE SET name = EXCLUDED\.name, team = EXCLUDED\.team, elo = EXCLUDED\.elo, ratings_count = EXCLUDED\.ratings_count$`).
		WithArgs("3", "C", "Y", 1500.0, 4).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, u.Upsert(context.Background(), rows))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertWrapsErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	u, err := NewPostgresWithPool(mock, "ratings", 0)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO ratings").
		WithArgs("7", "G", "Z", 1500.0, 0).
		WillReturnError(errors.New("boom"))

	err = u.Upsert(context.Background(), []Row{{ID: "7", Name: "G", Team: "Z", Rating: 1500}})
	require.ErrorContains(t, err, "upsert 1 rating rows: boom")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRejectsBadInput(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPostgresWithPool(mock, "bad;table", 0)
	require.ErrorContains(t, err, "invalid table name")

	_, err = NewPostgresWithPool(nil, "", 0)
	require.ErrorContains(t, err, "pool is required")

	u, err := NewPostgresWithPool(mock, "", 0)
	require.NoError(t, err)
	err = u.Upsert(context.Background(), []Row{{ID: "x"}})
	require.ErrorIs(t, err, crawler.ErrInvalidID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewPostgres(context.Background(), PostgresConfig{})
	require.ErrorContains(t, err, "postgres_dsn")
}
