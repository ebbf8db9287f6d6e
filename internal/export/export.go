// Package export converts the roster book into the rating app's swimmer
// catalogue and optionally seeds the remote rating table.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/himanalot/swimmer-elo/internal/crawler"
	"github.com/himanalot/swimmer-elo/internal/hash/sha256"
	"github.com/himanalot/swimmer-elo/internal/ratings"
	"github.com/himanalot/swimmer-elo/internal/storage"
	"github.com/himanalot/swimmer-elo/internal/swimtime"
)

// UnknownTeam is reported for swimmers without a current team.
const UnknownTeam = "Unknown"

// RosterReader lists the recorded teams and their rows.
type RosterReader interface {
	Teams() ([]string, error)
	Rows(team string) ([]crawler.ParsedEntity, error)
}

// Record is one entry of swimmers.json.
type Record struct {
	ID           string                       `json:"id"`
	Name         string                       `json:"name"`
	Team         string                       `json:"team"`
	BestTimes    map[string]swimtime.BestTime `json:"best_times"`
	Rating       float64                      `json:"elo"`
	RatingCount  int                          `json:"ratings_count"`
	ProfileImage *string                      `json:"profile_image"`
	Initials     *string                      `json:"initials"`
	Twitter      *string                      `json:"twitter"`
	Instagram    *string                      `json:"instagram"`
}

// Options controls one export.
type Options struct {
	// Object is the path or object name handed to the blob store.
	Object string
	// Rating seeds every record. Non-positive means ratings.DefaultRating.
	Rating float64
	// Upserter, when set, receives one rating row per record.
	Upserter ratings.Upserter
}

// Result describes a finished export.
type Result struct {
	Teams    int
	Swimmers int
	URI      string
	// SHA256 is the hex digest of the written document.
	SHA256   string
	Bytes    int64
	Upserted int
}

// Exporter builds swimmers.json from a roster book.
type Exporter struct {
	roster RosterReader
	blobs  storage.BlobStore
	logger *zap.Logger
}

// New returns an Exporter writing through blobs.
func New(roster RosterReader, blobs storage.BlobStore, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{roster: roster, blobs: blobs, logger: logger}
}

// Run reads every roster, writes the catalogue and upserts rating rows.
func (e *Exporter) Run(ctx context.Context, opts Options) (Result, error) {
	if strings.TrimSpace(opts.Object) == "" {
		return Result{}, fmt.Errorf("export output is required")
	}
	rating := opts.Rating
	if rating <= 0 {
		rating = ratings.DefaultRating
	}
	records, teams, err := e.Collect(rating)
	if err != nil {
		return Result{}, err
	}
	res := Result{Teams: teams, Swimmers: len(records)}

	var buf bytes.Buffer
	digest := sha256.NewWriter(&buf)
	if err := json.NewEncoder(digest).Encode(records); err != nil {
		return res, fmt.Errorf("encode swimmers: %w", err)
	}
	res.SHA256, res.Bytes = digest.Hex(), digest.Len()
	uri, err := e.blobs.PutObject(ctx, opts.Object, "application/json", &buf)
	if err != nil {
		return res, fmt.Errorf("write swimmers: %w", err)
	}
	res.URI = uri
	e.logger.Info("swimmer catalogue written",
		zap.String("uri", uri),
		zap.String("sha256", res.SHA256),
		zap.Int("swimmers", res.Swimmers),
		zap.Int("teams", res.Teams),
	)

	if opts.Upserter == nil {
		return res, nil
	}
	rows := make([]ratings.Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, ratings.Row{ID: r.ID, Name: r.Name, Team: r.Team, Rating: r.Rating, RatingCount: r.RatingCount})
	}
	if err := opts.Upserter.Upsert(ctx, rows); err != nil {
		return res, fmt.Errorf("upsert ratings: %w", err)
	}
	res.Upserted = len(rows)
	e.logger.Info("rating rows upserted", zap.Int("rows", res.Upserted))
	return res, nil
}

// Collect reads all rosters into records keyed by swimmer ID. A swimmer
// listed by several teams keeps the entry from the last team read.
func (e *Exporter) Collect(rating float64) (map[string]Record, int, error) {
	teams, err := e.roster.Teams()
	if err != nil {
		return nil, 0, err
	}
	records := make(map[string]Record)
	for _, team := range teams {
		rows, err := e.roster.Rows(team)
		if err != nil {
			return nil, 0, fmt.Errorf("read roster %s: %w", team, err)
		}
		for _, row := range rows {
			records[row.ID] = NewRecord(row, rating)
		}
	}
	return records, len(teams), nil
}

// NewRecord converts a roster row. Initials are only set when there is no
// profile image. Unparseable times are dropped.
func NewRecord(e crawler.ParsedEntity, rating float64) Record {
	rec := Record{
		ID:           e.ID,
		Name:         e.Name,
		Team:         e.Affiliation,
		BestTimes:    make(map[string]swimtime.BestTime, len(e.BestTimes)),
		Rating:       rating,
		ProfileImage: optional(e.ProfileImage),
		Twitter:      optional(e.Twitter),
		Instagram:    optional(e.Instagram),
	}
	if strings.TrimSpace(rec.Team) == "" {
		rec.Team = UnknownTeam
	}
	for event, bt := range e.BestTimes {
		secs, ok := swimtime.Seconds(bt.Time)
		if !ok || secs == 0 {
			continue
		}
		rec.BestTimes[event] = swimtime.BestTime{Time: bt.Time, Seconds: secs}
	}
	if rec.ProfileImage == nil {
		rec.Initials = optional(Initials(e.Name))
	}
	return rec
}

// Initials returns the upper-cased first letters of the first two name parts.
func Initials(name string) string {
	var b strings.Builder
	for i, part := range strings.Fields(name) {
		if i == 2 {
			break
		}
		r, _ := utf8.DecodeRuneInString(part)
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
