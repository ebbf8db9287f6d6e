package sink

import (
	"context"

	"github.com/himanalot/swimmer-elo/internal/crawler"
	"github.com/himanalot/swimmer-elo/internal/ratings"
)

// Ratings upserts an initial rating row for every recorded swimmer.
type Ratings struct {
	upserter ratings.Upserter
	rating   float64
}

// NewRatings wraps upserter. A non-positive rating uses ratings.DefaultRating.
func NewRatings(upserter ratings.Upserter, rating float64) *Ratings {
	if rating <= 0 {
		rating = ratings.DefaultRating
	}
	return &Ratings{upserter: upserter, rating: rating}
}

// Record upserts one row per entity.
func (r *Ratings) Record(ctx context.Context, _ string, entities []crawler.ParsedEntity) error {
	rows := make([]ratings.Row, 0, len(entities))
	for _, e := range entities {
		rows = append(rows, ratings.NewRow(e, r.rating))
	}
	return r.upserter.Upsert(ctx, rows)
}
