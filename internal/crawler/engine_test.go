package crawler_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanalot/swimmer-elo/internal/checkpoint"
	"github.com/himanalot/swimmer-elo/internal/crawler"
	"github.com/himanalot/swimmer-elo/internal/roster"
	"github.com/himanalot/swimmer-elo/internal/swimtime"
)

const listingURL = "https://example.test/teams"

// fakeFetcher serves canned bodies. Entries in blocks return Blocked for the
// given number of calls before succeeding.
type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	blocks map[string]int
	status map[string]int
	calls  map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		bodies: map[string]string{},
		blocks: map[string]int{},
		status: map[string]int{},
		calls:  map[string]int{},
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, ch crawler.Channel) crawler.FetchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	res := crawler.FetchResult{URL: url, Channel: ch, Attempts: 1}
	if f.blocks[url] > 0 {
		f.blocks[url]--
		res.Outcome = crawler.OutcomeBlocked
		res.StatusCode = 403
		return res
	}
	if code, ok := f.status[url]; ok {
		res.StatusCode = code
		if code == 429 {
			res.Outcome = crawler.OutcomeRateLimited
		} else {
			res.Outcome = crawler.OutcomeFailed
		}
		return res
	}
	body, ok := f.bodies[url]
	if !ok {
		res.Outcome = crawler.OutcomeFailed
		res.StatusCode = 404
		return res
	}
	res.Outcome = crawler.OutcomeSuccess
	res.StatusCode = 200
	res.Body = []byte(body)
	return res
}

func (f *fakeFetcher) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// fakeParser reads comma separated ID lists. Swimmer bodies are the swimmer
// name, or "malformed".
type fakeParser struct{}

func (fakeParser) TeamIDs(body []byte) ([]string, error) {
	return crawler.Dedupe(strings.Split(string(body), ",")), nil
}

func (fakeParser) RosterIDs(body []byte) ([]string, error) {
	if len(body) == 0 {
		return []string{}, nil
	}
	return crawler.Dedupe(strings.Split(string(body), ",")), nil
}

func (fakeParser) Swimmer(id string, body []byte) (crawler.ParsedEntity, error) {
	if string(body) == "malformed" {
		return crawler.ParsedEntity{}, crawler.ErrMalformed
	}
	return crawler.ParsedEntity{
		ID:          id,
		Name:        string(body),
		Affiliation: "Test U",
		BestTimes:   map[string]swimtime.BestTime{"50 Y FREE": {Time: "20.10", Seconds: 20.1}},
	}, nil
}

type recordingPauser struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *recordingPauser) Pause(_ context.Context, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delays = append(p.delays, d)
}

func (p *recordingPauser) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.delays)
}

// countingSink wraps a roster book and counts entity writes.
type countingSink struct {
	*roster.Book
	mu     sync.Mutex
	writes int
}

func (s *countingSink) Record(ctx context.Context, parent string, entities []crawler.ParsedEntity) error {
	s.mu.Lock()
	s.writes += len(entities)
	s.mu.Unlock()
	return s.Book.Record(ctx, parent, entities)
}

func (s *countingSink) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

type harness struct {
	dir     string
	fetcher *fakeFetcher
	pauser  *recordingPauser
	store   *checkpoint.FileStore
	sink    *countingSink
	engine  *crawler.Engine
}

func rosterURL(team string) string { return fmt.Sprintf(crawler.DefaultRosterURLTemplate, team) }
func swimmerURL(id string) string  { return fmt.Sprintf(crawler.DefaultSwimmerURLTemplate, id) }

// newHarness builds an engine over a site with two teams: 1 (swimmers 10,
// 11, 12) and 2 (swimmers 20, 21).
func newHarness(t *testing.T, dir string, fetcher *fakeFetcher, mutate func(*crawler.Config)) *harness {
	t.Helper()
	if fetcher == nil {
		fetcher = newFakeFetcher()
		fetcher.bodies[listingURL] = "1,2,1"
		fetcher.bodies[rosterURL("1")] = "10,11,12"
		fetcher.bodies[rosterURL("2")] = "20,21"
		for _, id := range []string{"10", "11", "12", "20", "21"} {
			fetcher.bodies[swimmerURL(id)] = "Swimmer " + id
		}
	}
	store, err := checkpoint.NewFileStore(checkpoint.FileConfig{Dir: dir + "/checkpoint"})
	require.NoError(t, err)
	book, err := roster.Open(dir+"/rosters", nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
		_ = book.Close()
	})

	cfg := crawler.Config{
		ListingURLs:      []string{listingURL},
		DiscoveryWorkers: 2,
		FetchWorkers:     2,
		Cooldown:         time.Minute,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	pauser := &recordingPauser{}
	sink := &countingSink{Book: book}
	engine, err := crawler.NewEngine(cfg, crawler.Deps{
		Fetcher: fetcher,
		Parser:  fakeParser{},
		Store:   store,
		Sink:    sink,
		Pauser:  pauser,
	})
	require.NoError(t, err)
	return &harness{dir: dir, fetcher: fetcher, pauser: pauser, store: store, sink: sink, engine: engine}
}

func TestNewEngineValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := crawler.NewEngine(crawler.Config{FetchWorkers: -1}, crawler.Deps{})
	require.ErrorContains(t, err, "fetch_workers")

	_, err = crawler.NewEngine(crawler.Config{RosterURLTemplate: "https://x/%s/%s"}, crawler.Deps{})
	require.ErrorContains(t, err, "roster_url_template")

	_, err = crawler.NewEngine(crawler.Config{}, crawler.Deps{})
	require.ErrorContains(t, err, "required")
}

func TestDiscoverSavesIndex(t *testing.T) {
	t.Parallel()

	h := newHarness(t, t.TempDir(), nil, nil)
	index, err := h.engine.Discover(context.Background())
	require.NoError(t, err)

	want := crawler.Index{"1": {"10", "11", "12"}, "2": {"20", "21"}}
	assert.Equal(t, want, index)

	loaded, err := h.store.LoadIndex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, loaded)
	assert.Equal(t, crawler.StateIdle, h.engine.State())
}

func TestDiscoverFailedRosterBecomesEmpty(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.bodies[listingURL] = "1,2"
	fetcher.bodies[rosterURL("1")] = "10"
	fetcher.status[rosterURL("2")] = 500

	h := newHarness(t, t.TempDir(), fetcher, nil)
	index, err := h.engine.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.Index{"1": {"10"}, "2": {}}, index)
}

func TestDiscoverCoolsDownOnBlockedRoster(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.bodies[listingURL] = "1,2"
	fetcher.bodies[rosterURL("1")] = "10"
	fetcher.bodies[rosterURL("2")] = "20"
	fetcher.blocks[rosterURL("2")] = 1

	h := newHarness(t, t.TempDir(), fetcher, func(c *crawler.Config) { c.DiscoveryWorkers = 1 })
	index, err := h.engine.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.Index{"1": {"10"}, "2": {"20"}}, index)
	assert.Equal(t, 1, h.pauser.Count())
	assert.Equal(t, 1, fetcher.Calls(rosterURL("1")), "completed roster must not be refetched")
	assert.Equal(t, 2, fetcher.Calls(rosterURL("2")))
}

func TestDiscoverStopsWhenCooldownBudgetSpent(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.bodies[listingURL] = "1"
	fetcher.blocks[rosterURL("1")] = 100

	h := newHarness(t, t.TempDir(), fetcher, func(c *crawler.Config) { c.MaxCooldowns = 2 })
	_, err := h.engine.Discover(context.Background())
	require.ErrorIs(t, err, crawler.ErrCooldownBudgetExhausted)
	assert.Equal(t, 2, h.pauser.Count())

	_, err = h.store.LoadIndex(context.Background())
	require.ErrorIs(t, err, crawler.ErrIndexNotFound)
}

func TestDiscoverNoTeams(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.bodies[listingURL] = ""
	h := newHarness(t, t.TempDir(), fetcher, nil)
	_, err := h.engine.Discover(context.Background())
	require.ErrorContains(t, err, "no teams")
}

func TestFetchAllWithoutIndexMakesNoRequests(t *testing.T) {
	t.Parallel()

	h := newHarness(t, t.TempDir(), nil, nil)
	_, err := h.engine.FetchAll(context.Background())
	require.ErrorIs(t, err, crawler.ErrIndexNotFound)
	assert.Zero(t, h.fetcher.TotalCalls())
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	h := newHarness(t, dir, nil, nil)
	summary, err := h.engine.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.AllComplete())
	assert.Equal(t, 5, summary.Totals().Succeeded)
	assert.Equal(t, 5, h.sink.Writes())
	assert.Equal(t, crawler.StateDone, h.engine.State())

	second, err := h.engine.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, h.sink.Writes(), "second run must not write again")
	assert.Zero(t, second.Totals().Succeeded)
	assert.Equal(t, 5, second.Totals().AlreadyComplete)
	assert.Equal(t, 1, h.fetcher.Calls(swimmerURL("10")))
}

func TestFetchAllResumesFromCheckpoint(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first := newHarness(t, dir, nil, nil)
	_, err := first.engine.Discover(context.Background())
	require.NoError(t, err)
	require.NoError(t, first.store.MarkComplete(context.Background(), "1", "10"))
	require.NoError(t, first.sink.Book.Record(context.Background(), "1", []crawler.ParsedEntity{{ID: "11", Name: "Pre"}}))
	require.NoError(t, first.store.Close())
	require.NoError(t, first.sink.Book.Close())

	// A fresh engine over the same directories picks up where the last left
	// off, including the swimmer that reached the sink without a checkpoint.
	second := newHarness(t, dir, nil, nil)
	summary, err := second.engine.FetchAll(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.AllComplete())
	assert.Zero(t, second.fetcher.Calls(swimmerURL("10")))
	assert.Zero(t, second.fetcher.Calls(swimmerURL("11")))
	assert.Equal(t, 3, second.sink.Writes())

	ok, err := second.store.IsComplete(context.Background(), "1", "11")
	require.NoError(t, err)
	assert.True(t, ok, "sink-only record is healed into the checkpoint")
}

func TestFetchAllCooldownSkipsCompletedEntities(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.bodies[listingURL] = "1"
	fetcher.bodies[rosterURL("1")] = "10,11,12"
	for _, id := range []string{"10", "11", "12"} {
		fetcher.bodies[swimmerURL(id)] = "Swimmer " + id
	}
	fetcher.blocks[swimmerURL("12")] = 1

	h := newHarness(t, t.TempDir(), fetcher, func(c *crawler.Config) { c.FetchWorkers = 1 })
	_, err := h.engine.Discover(context.Background())
	require.NoError(t, err)

	summary, err := h.engine.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Parents, 1)
	report := summary.Parents[0]
	assert.True(t, report.Complete)
	assert.Equal(t, 1, report.Cooldowns)
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, []time.Duration{time.Minute}, h.pauser.delays)
	assert.Equal(t, 1, fetcher.Calls(swimmerURL("10")))
	assert.Equal(t, 1, fetcher.Calls(swimmerURL("11")))
	assert.Equal(t, 2, fetcher.Calls(swimmerURL("12")))
}

func TestFetchAllSkipsBadEntities(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.bodies[listingURL] = "1"
	fetcher.bodies[rosterURL("1")] = "10,11,12,13"
	fetcher.bodies[swimmerURL("10")] = "Swimmer 10"
	fetcher.bodies[swimmerURL("11")] = "malformed"
	fetcher.status[swimmerURL("12")] = 429
	fetcher.status[swimmerURL("13")] = 500

	h := newHarness(t, t.TempDir(), fetcher, nil)
	summary, err := h.engine.Run(context.Background())
	require.NoError(t, err)
	report := summary.Parents[0]
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Malformed)
	assert.Equal(t, 1, report.RateLimited)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 3, report.Remaining)
	assert.False(t, report.Complete)
	assert.Zero(t, report.Cooldowns)
	assert.Equal(t, crawler.StateIdle, h.engine.State())
}

func TestFetchAllCooldownBudgetAbandonsTeam(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.bodies[listingURL] = "1,2"
	fetcher.bodies[rosterURL("1")] = "10"
	fetcher.bodies[rosterURL("2")] = "20"
	fetcher.blocks[swimmerURL("10")] = 100
	fetcher.bodies[swimmerURL("20")] = "Swimmer 20"

	h := newHarness(t, t.TempDir(), fetcher, func(c *crawler.Config) { c.MaxCooldowns = 1 })
	summary, err := h.engine.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Parents, 2)
	assert.True(t, summary.Parents[0].CooldownBudgetExhausted)
	assert.False(t, summary.Parents[0].Complete)
	assert.True(t, summary.Parents[1].Complete)
	assert.Equal(t, []string{"2"}, summary.CompleteParents())
}

func TestFetchAllCanceled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, t.TempDir(), nil, nil)
	_, err := h.engine.Discover(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := h.engine.FetchAll(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, summary.Interrupted)
	assert.Zero(t, h.sink.Writes())
}

func TestRedoRefetchesTeam(t *testing.T) {
	t.Parallel()

	h := newHarness(t, t.TempDir(), nil, nil)
	_, err := h.engine.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, h.sink.Writes())

	report, err := h.engine.Redo(context.Background(), "2")
	require.NoError(t, err)
	assert.True(t, report.Complete)
	assert.Equal(t, 2, report.Succeeded)
	assert.Zero(t, report.AlreadyComplete)
	assert.Equal(t, 7, h.sink.Writes())
	assert.Equal(t, 2, h.fetcher.Calls(swimmerURL("20")))
	assert.Equal(t, 1, h.fetcher.Calls(swimmerURL("10")), "other teams are untouched")

	rows, err := h.sink.Book.Rows("2")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRedoErrors(t *testing.T) {
	t.Parallel()

	h := newHarness(t, t.TempDir(), nil, nil)
	_, err := h.engine.Redo(context.Background(), "abc")
	require.ErrorIs(t, err, crawler.ErrInvalidID)

	_, err = h.engine.Redo(context.Background(), "1")
	require.ErrorIs(t, err, crawler.ErrIndexNotFound)

	_, err = h.engine.Discover(context.Background())
	require.NoError(t, err)
	_, err = h.engine.Redo(context.Background(), "99")
	require.ErrorIs(t, err, crawler.ErrUnknownParent)
}

func TestFetchOne(t *testing.T) {
	t.Parallel()

	h := newHarness(t, t.TempDir(), nil, nil)
	entity, err := h.engine.FetchOne(context.Background(), "10")
	require.NoError(t, err)
	assert.Equal(t, "10", entity.ID)
	assert.Equal(t, "Swimmer 10", entity.Name)
	assert.Zero(t, h.sink.Writes())

	_, err = h.engine.FetchOne(context.Background(), "x1")
	require.ErrorIs(t, err, crawler.ErrInvalidID)

	_, err = h.engine.FetchOne(context.Background(), "404")
	var fetchErr *crawler.FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, crawler.OutcomeFailed, fetchErr.Outcome)
}

func TestStatus(t *testing.T) {
	t.Parallel()

	h := newHarness(t, t.TempDir(), nil, nil)
	_, err := h.engine.Discover(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.store.MarkComplete(context.Background(), "1", "10"))

	status, err := h.engine.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []crawler.ParentStatus{
		{Parent: "1", Total: 3, Completed: 1},
		{Parent: "2", Total: 2, Completed: 0},
	}, status)
	assert.False(t, status[0].Complete())
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type staticIDs struct {
	id  string
	err error
}

func (g staticIDs) NewID() (string, error) { return g.id, g.err }

func TestFetchAllStampsSummary(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	h := newHarness(t, dir, nil, nil)
	_, err := h.engine.Discover(context.Background())
	require.NoError(t, err)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	engine, err := crawler.NewEngine(crawler.Config{ListingURLs: []string{listingURL}}, crawler.Deps{
		Fetcher: h.fetcher,
		Parser:  fakeParser{},
		Store:   h.store,
		Sink:    h.sink,
		Clock:   fixedClock{now: now},
		IDs:     staticIDs{id: "run-7"},
	})
	require.NoError(t, err)
	summary, err := engine.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-7", summary.RunID)
	assert.Equal(t, now, summary.Started)
	assert.Equal(t, now, summary.Finished)

	failing, err := crawler.NewEngine(crawler.Config{ListingURLs: []string{listingURL}}, crawler.Deps{
		Fetcher: h.fetcher,
		Parser:  fakeParser{},
		Store:   h.store,
		Sink:    h.sink,
		IDs:     staticIDs{err: errors.New("entropy")},
	})
	require.NoError(t, err)
	_, err = failing.FetchAll(context.Background())
	require.ErrorContains(t, err, "run id")
}

func TestFetchAllDefaultRunIDIsUUID(t *testing.T) {
	t.Parallel()

	h := newHarness(t, t.TempDir(), nil, nil)
	summary, err := h.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, summary.RunID, 36)
	assert.False(t, summary.Finished.Before(summary.Started))
	assert.Equal(t, time.UTC, summary.Started.Location())
}
