package roster

import (
	"fmt"
	"sort"
	"strings"

	"github.com/himanalot/swimmer-elo/internal/crawler"
	"github.com/himanalot/swimmer-elo/internal/swimtime"
)

// Header is the column layout of every roster file.
var Header = []string{
	"Swimmer ID",
	"Name",
	"Current Team",
	"Teams",
	"Best Times",
	"Profile Image",
	"Twitter",
	"Instagram",
}

const (
	teamsSep = ", "
	timesSep = "; "
	pairSep  = ": "
)

func encodeRow(e crawler.ParsedEntity) []string {
	return []string{
		e.ID,
		e.Name,
		e.Affiliation,
		strings.Join(e.Teams, teamsSep),
		EncodeBestTimes(e.BestTimes),
		e.ProfileImage,
		e.Twitter,
		e.Instagram,
	}
}

func decodeRow(rec []string) (crawler.ParsedEntity, error) {
	if len(rec) < 5 {
		return crawler.ParsedEntity{}, fmt.Errorf("roster row has %d columns, want at least 5", len(rec))
	}
	// Files written before enrichment have only the first five columns.
	for len(rec) < len(Header) {
		rec = append(rec, "")
	}
	e := crawler.ParsedEntity{
		ID:          strings.TrimSpace(rec[0]),
		Name:        rec[1],
		Affiliation: rec[2],
		BestTimes:   DecodeBestTimes(rec[4]),
		Media: crawler.Media{
			ProfileImage: rec[5],
			Twitter:      rec[6],
			Instagram:    rec[7],
		},
	}
	if rec[3] != "" {
		e.Teams = strings.Split(rec[3], teamsSep)
	}
	return e, nil
}

// EncodeBestTimes renders times as "event: time; event: time" sorted by event.
func EncodeBestTimes(times map[string]swimtime.BestTime) string {
	events := make([]string, 0, len(times))
	for event := range times {
		events = append(events, event)
	}
	sort.Strings(events)
	parts := make([]string, 0, len(events))
	for _, event := range events {
		parts = append(parts, event+pairSep+times[event].Time)
	}
	return strings.Join(parts, timesSep)
}

// DecodeBestTimes parses the "event: time; ..." column. Event labels never
// contain ": " while times only use a bare ':'.
func DecodeBestTimes(s string) map[string]swimtime.BestTime {
	out := map[string]swimtime.BestTime{}
	for _, part := range strings.Split(s, timesSep) {
		event, t, ok := strings.Cut(strings.TrimSpace(part), pairSep)
		if !ok {
			continue
		}
		swimtime.Record(out, event, t)
	}
	return out
}
