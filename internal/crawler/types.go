package crawler

import (
	"regexp"
	"sort"

	"github.com/himanalot/swimmer-elo/internal/swimtime"
)

// Channel names a class of requests that share one rate limit.
type Channel string

// Rate limited request channels.
const (
	// ChannelBrowser is used for full page renders (listing and roster pages).
	ChannelBrowser Channel = "browser"
	// ChannelHTTP is used for lightweight swimmer profile requests.
	ChannelHTTP Channel = "http"
)

// Outcome tags the result of a single fetch.
type Outcome string

// Fetch outcomes.
const (
	OutcomeSuccess     Outcome = "success"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeBlocked     Outcome = "blocked"
	OutcomeFailed      Outcome = "failed"
)

// FetchResult is the tagged outcome of one fetch, after local retries.
type FetchResult struct {
	URL        string
	Channel    Channel
	Outcome    Outcome
	StatusCode int
	Body       []byte
	Attempts   int
	Err        error
}

// Media holds optional profile links.
type Media struct {
	ProfileImage string `json:"profile_image,omitempty"`
	Twitter      string `json:"twitter,omitempty"`
	Instagram    string `json:"instagram,omitempty"`
}

// ParsedEntity is a normalized swimmer record.
type ParsedEntity struct {
	ID          string                       `json:"id"`
	Name        string                       `json:"name"`
	Affiliation string                       `json:"team"`
	Teams       []string                     `json:"teams,omitempty"`
	BestTimes   map[string]swimtime.BestTime `json:"best_times"`
	Media
}

// Index maps a team ID to its ordered swimmer IDs.
type Index map[string][]string

// Parents returns the team IDs in ascending order.
func (ix Index) Parents() []string {
	out := make([]string, 0, len(ix))
	for parent := range ix {
		out = append(out, parent)
	}
	sort.Strings(out)
	return out
}

// Total returns the number of children across all parents.
func (ix Index) Total() int {
	n := 0
	for _, children := range ix {
		n += len(children)
	}
	return n
}

var entityIDPattern = regexp.MustCompile(`^[0-9]+$`)

// ValidID reports whether id is a usable team or swimmer ID.
func ValidID(id string) bool {
	return entityIDPattern.MatchString(id)
}

// Dedupe returns ids with invalid and repeated entries removed, preserving
// first-seen order.
func Dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !ValidID(id) {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
