package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanalot/swimmer-elo/internal/crawler"
	"github.com/himanalot/swimmer-elo/internal/ratings"
	"github.com/himanalot/swimmer-elo/internal/roster"
	"github.com/himanalot/swimmer-elo/internal/swimtime"
)

type captureBlobs struct {
	path        string
	contentType string
	data        []byte
	err         error
}

func (c *captureBlobs) PutObject(_ context.Context, path, contentType string, r io.Reader) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	c.path, c.contentType, c.data = path, contentType, data
	return "mem://" + path, nil
}

type captureUpserter struct {
	rows []ratings.Row
}

func (c *captureUpserter) Upsert(_ context.Context, rows []ratings.Row) error {
	c.rows = append(c.rows, rows...)
	return nil
}

func (c *captureUpserter) Close() {}

func strPtr(s string) *string { return &s }

func TestInitials(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"jane doe":         "JD",
		"Mary Ann Smith":   "MA",
		"Cher":             "C",
		"":                 "",
		"  léa   martin  ": "LM",
	}
	for in, want := range tests {
		assert.Equal(t, want, Initials(in), in)
	}
}

func TestNewRecord(t *testing.T) {
	t.Parallel()

	row := crawler.ParsedEntity{
		ID:   "12",
		Name: "Jane Doe",
		BestTimes: map[string]swimtime.BestTime{
			"100 Y FREE": {Time: "45.10"},
			"200 Y IM":   {Time: "1:50.22"},
			"50 Y BACK":  {Time: "NT"},
		},
		Media: crawler.Media{Twitter: "https://twitter.com/jd"},
	}
	rec := NewRecord(row, 1500)
	assert.Equal(t, UnknownTeam, rec.Team)
	assert.Equal(t, strPtr("JD"), rec.Initials)
	assert.Nil(t, rec.ProfileImage)
	assert.Equal(t, strPtr("https://twitter.com/jd"), rec.Twitter)
	assert.Nil(t, rec.Instagram)
	require.Len(t, rec.BestTimes, 2)
	assert.Equal(t, "1:50.22", rec.BestTimes["200 Y IM"].Time)
	assert.InDelta(t, 110.22, rec.BestTimes["200 Y IM"].Seconds, 1e-9)
	assert.InDelta(t, 45.1, rec.BestTimes["100 Y FREE"].Seconds, 1e-9)

	row.ProfileImage = "https://img/x.png"
	rec = NewRecord(row, 1500)
	assert.Nil(t, rec.Initials)
	assert.Equal(t, strPtr("https://img/x.png"), rec.ProfileImage)
}

func TestRunWritesCatalogueAndUpserts(t *testing.T) {
	t.Parallel()

	book, err := roster.Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer book.Close() //nolint:errcheck // test cleanup

	ctx := context.Background()
	require.NoError(t, book.Record(ctx, "1", []crawler.ParsedEntity{
		{ID: "10", Name: "Ann Lee", Affiliation: "Cal", BestTimes: map[string]swimtime.BestTime{"50 Y FREE": {Time: "22.50", Seconds: 22.5}}},
		{ID: "11", Name: "Bo Park", Affiliation: "Cal"},
	}))
	require.NoError(t, book.Record(ctx, "2", []crawler.ParsedEntity{
		{ID: "20", Name: "Cy Dunn", Affiliation: "Stanford"},
	}))

	blobs := &captureBlobs{}
	up := &captureUpserter{}
	res, err := New(book, blobs, nil).Run(ctx, Options{Object: "swimmers.json", Upserter: up})
	require.NoError(t, err)
	sum := sha256.Sum256(blobs.data)
	assert.Equal(t, Result{Teams: 2, Swimmers: 3, URI: "mem://swimmers.json", SHA256: hex.EncodeToString(sum[:]), Bytes: int64(len(blobs.data)), Upserted: 3}, res)
	assert.Equal(t, "application/json", blobs.contentType)

	var got map[string]Record
	require.NoError(t, json.Unmarshal(blobs.data, &got))
	require.Len(t, got, 3)
	assert.Equal(t, "Cal", got["10"].Team)
	assert.Equal(t, float64(ratings.DefaultRating), got["10"].Rating)
	assert.Equal(t, 22.5, got["10"].BestTimes["50 Y FREE"].Seconds)
	assert.Equal(t, strPtr("CD"), got["20"].Initials)

	assert.Len(t, up.rows, 3)
	for _, row := range up.rows {
		assert.Equal(t, float64(ratings.DefaultRating), row.Rating)
		assert.Zero(t, row.RatingCount)
	}
}

func TestRunErrors(t *testing.T) {
	t.Parallel()

	book, err := roster.Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer book.Close() //nolint:errcheck // test cleanup

	_, err = New(book, &captureBlobs{}, nil).Run(context.Background(), Options{})
	require.ErrorContains(t, err, "output is required")

	_, err = New(book, &captureBlobs{err: errors.New("denied")}, nil).Run(context.Background(), Options{Object: "s.json"})
	require.ErrorContains(t, err, "write swimmers: denied")
}
