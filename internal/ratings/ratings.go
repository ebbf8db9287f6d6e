// Package ratings upserts swimmer rating rows into a hosted database.
package ratings

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/himanalot/swimmer-elo/internal/crawler"
)

const (
	// DefaultTable is the rating table name.
	DefaultTable = "swimmer_ratings"
	// DefaultBatchSize is the number of rows sent per upsert request.
	DefaultBatchSize = 100
	// DefaultRating is assigned to swimmers with no rating history.
	DefaultRating = 1500
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Row is one swimmer rating keyed by ID.
type Row struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Team        string  `json:"team"`
	Rating      float64 `json:"elo"`
	RatingCount int     `json:"ratings_count"`
}

// Upserter inserts or replaces rating rows by ID.
type Upserter interface {
	Upsert(ctx context.Context, rows []Row) error
	Close()
}

// NewRow returns the initial rating row for a freshly recorded swimmer.
func NewRow(e crawler.ParsedEntity, rating float64) Row {
	return Row{ID: e.ID, Name: e.Name, Team: e.Affiliation, Rating: rating}
}

// Batches splits rows into chunks of at most size, dropping repeated IDs
// (the last occurrence wins).
func Batches(rows []Row, size int) [][]Row {
	if size <= 0 {
		size = DefaultBatchSize
	}
	pos := make(map[string]int, len(rows))
	unique := make([]Row, 0, len(rows))
	for _, r := range rows {
		if i, ok := pos[r.ID]; ok {
			unique[i] = r
			continue
		}
		pos[r.ID] = len(unique)
		unique = append(unique, r)
	}
	var out [][]Row
	for start := 0; start < len(unique); start += size {
		end := min(start+size, len(unique))
		out = append(out, unique[start:end])
	}
	return out
}

func checkTable(table string) (string, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

func validate(rows []Row) error {
	for _, r := range rows {
		if !crawler.ValidID(r.ID) {
			return fmt.Errorf("%w: rating row %q", crawler.ErrInvalidID, r.ID)
		}
	}
	return nil
}
