package ratings

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/himanalot/swimmer-elo/internal/crawler"
)

func TestBatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rows []Row
		size int
		want []int
	}{
		{name: "empty", rows: nil, size: 2, want: nil},
		{name: "exact", rows: []Row{{ID: "1"}, {ID: "2"}}, size: 2, want: []int{2}},
		{name: "remainder", rows: []Row{{ID: "1"}, {ID: "2"}, {ID: "3"}}, size: 2, want: []int{2, 1}},
		{name: "dedupe", rows: []Row{{ID: "1"}, {ID: "1"}, {ID: "2"}}, size: 100, want: []int{2}},
		{name: "default size", rows: make([]Row, 0), size: 0, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got []int
			for _, b := range Batches(tt.rows, tt.size) {
				got = append(got, len(b))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBatchesLastDuplicateWins(t *testing.T) {
	t.Parallel()

	got := Batches([]Row{{ID: "1", Name: "old"}, {ID: "2"}, {ID: "1", Name: "new"}}, 10)
	assert.Equal(t, [][]Row{{{ID: "1", Name: "new"}, {ID: "2"}}}, got)
}

func TestNewRow(t *testing.T) {
	t.Parallel()

	row := NewRow(crawler.ParsedEntity{ID: "5", Name: "Jo", Affiliation: "Cal"}, DefaultRating)
	assert.Equal(t, Row{ID: "5", Name: "Jo", Team: "Cal", Rating: 1500}, row)
}
