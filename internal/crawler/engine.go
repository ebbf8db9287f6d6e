package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/himanalot/swimmer-elo/internal/id/uuid"
	"github.com/himanalot/swimmer-elo/internal/metrics"
)

// ErrCooldownBudgetExhausted is returned when discovery keeps getting blocked
// beyond Config.MaxCooldowns.
var ErrCooldownBudgetExhausted = errors.New("cooldown budget exhausted")

// Deps bundles the collaborators an Engine drives.
type Deps struct {
	Fetcher  Fetcher
	Parser   Parser
	Store    CheckpointStore
	Sink     Sink
	Observer Observer
	// Pauser waits out cooldowns. Defaults to TimerPauseController.
	Pauser PauseController
	// Clock and IDs default to UTC wall time and UUID v7 run IDs.
	Clock  Clock
	IDs    IDGenerator
	Logger *zap.Logger
}

// Engine runs the discovery and fetch phases.
type Engine struct {
	cfg      Config
	fetcher  Fetcher
	parser   Parser
	store    CheckpointStore
	sink     Sink
	observer Observer
	pauser   PauseController
	clock    Clock
	ids      IDGenerator
	logger   *zap.Logger

	mu    sync.RWMutex
	state State
}

// NewEngine validates cfg and wires the collaborators.
func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Fetcher == nil || deps.Parser == nil || deps.Store == nil || deps.Sink == nil {
		return nil, fmt.Errorf("crawler: fetcher, parser, store and sink are required")
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Pauser == nil {
		deps.Pauser = TimerPauseController{}
	}
	if deps.Clock == nil {
		deps.Clock = utcClock{}
	}
	if deps.IDs == nil {
		deps.IDs = uuid.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg,
		fetcher:  deps.Fetcher,
		parser:   deps.Parser,
		store:    deps.Store,
		sink:     deps.Sink,
		observer: deps.Observer,
		pauser:   deps.Pauser,
		clock:    deps.Clock,
		ids:      deps.IDs,
		logger:   deps.Logger,
		state:    StateIdle,
	}, nil
}

// State returns the current phase.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	prev := e.state
	e.state = s
	e.mu.Unlock()
	if prev == s {
		return
	}
	e.logger.Debug("crawl state changed", zap.String("from", string(prev)), zap.String("to", string(s)))
	metrics.SetState(string(s))
	e.observer.StateChanged(s)
}

// Run performs discovery followed by the fetch phase.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	if _, err := e.Discover(ctx); err != nil {
		return Summary{}, err
	}
	return e.FetchAll(ctx)
}

// Discover fetches the listing pages and every team roster, then saves the
// resulting index.
func (e *Engine) Discover(ctx context.Context) (Index, error) {
	defer func() {
		if e.State() != StateDone {
			e.setState(StateIdle)
		}
	}()

	e.setState(StateDiscoveringParents)
	cooldowns := 0
	var teams []string
	for _, listing := range e.cfg.ListingURLs {
		body, err := e.fetchBlocking(ctx, listing, ChannelBrowser, &cooldowns)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrCooldownBudgetExhausted) {
				return nil, err
			}
			e.logger.Warn("listing page skipped", zap.String("url", listing), zap.Error(err))
			continue
		}
		ids, err := e.parser.TeamIDs(body)
		if err != nil {
			e.logger.Warn("listing page unparseable", zap.String("url", listing), zap.Error(err))
			continue
		}
		teams = append(teams, ids...)
	}
	teams = Dedupe(teams)
	if len(teams) == 0 {
		return nil, fmt.Errorf("discovery found no teams on %d listing page(s)", len(e.cfg.ListingURLs))
	}
	e.logger.Info("teams discovered", zap.Int("teams", len(teams)))

	e.setState(StateDiscoveringChildren)
	index := make(Index, len(teams))
	var mu sync.Mutex
	pending := teams
	for {
		blocked, err := runBatch(ctx, pending, e.cfg.DiscoveryWorkers, func(ctx context.Context, team string) bool {
			children, blocked := e.discoverRoster(ctx, team)
			if blocked {
				return true
			}
			mu.Lock()
			index[team] = children
			mu.Unlock()
			return false
		})
		if err != nil {
			return nil, err
		}
		if !blocked {
			break
		}
		pending = pending[:0:0]
		for _, team := range teams {
			if _, ok := index[team]; !ok {
				pending = append(pending, team)
			}
		}
		if len(pending) == 0 {
			break
		}
		if !e.cooldown(ctx, &cooldowns, "") {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("roster discovery: %w", ErrCooldownBudgetExhausted)
		}
		e.setState(StateDiscoveringChildren)
	}

	if err := e.store.SaveIndex(ctx, index); err != nil {
		return nil, fmt.Errorf("save index: %w", err)
	}
	e.logger.Info("discovery complete",
		zap.Int("teams", len(index)),
		zap.Int("swimmers", index.Total()),
	)
	return index, nil
}

// discoverRoster fetches one roster page. Failures other than a block yield
// an empty roster so the team is still recorded.
func (e *Engine) discoverRoster(ctx context.Context, team string) ([]string, bool) {
	url := fmt.Sprintf(e.cfg.RosterURLTemplate, team)
	res := e.fetcher.Fetch(ctx, url, ChannelBrowser)
	switch res.Outcome {
	case OutcomeBlocked:
		e.logger.Warn("roster fetch blocked", zap.String("team_id", team))
		return nil, true
	case OutcomeSuccess:
		ids, err := e.parser.RosterIDs(res.Body)
		if err != nil {
			e.logger.Warn("roster page unparseable", zap.String("team_id", team), zap.Error(err))
			return []string{}, false
		}
		e.logger.Debug("roster discovered", zap.String("team_id", team), zap.Int("swimmers", len(ids)))
		return ids, false
	default:
		if ctx.Err() == nil {
			e.logger.Warn("roster fetch failed",
				zap.String("team_id", team),
				zap.String("outcome", string(res.Outcome)),
				zap.Int("status", res.StatusCode),
				zap.Error(res.Err),
			)
		}
		return []string{}, false
	}
}

// fetchBlocking fetches url, cooling down and retrying while it is blocked.
func (e *Engine) fetchBlocking(ctx context.Context, url string, ch Channel, cooldowns *int) ([]byte, error) {
	for {
		res := e.fetcher.Fetch(ctx, url, ch)
		switch res.Outcome {
		case OutcomeSuccess:
			return res.Body, nil
		case OutcomeBlocked:
			state := e.State()
			if !e.cooldown(ctx, cooldowns, "") {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				return nil, fmt.Errorf("%s: %w", url, ErrCooldownBudgetExhausted)
			}
			e.setState(state)
		default:
			return nil, AsFetchError(res)
		}
	}
}

// FetchAll fetches every swimmer not yet checkpointed. It fails before any
// network activity when discovery has not run.
func (e *Engine) FetchAll(ctx context.Context) (Summary, error) {
	index, err := e.store.LoadIndex(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load index: %w", err)
	}

	runID, err := e.ids.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("run id: %w", err)
	}
	summary := Summary{RunID: runID, Started: e.clock.Now()}
	logger := e.logger.With(zap.String("run_id", summary.RunID))
	logger.Info("fetch phase starting", zap.Int("teams", len(index)), zap.Int("swimmers", index.Total()))

	var runErr error
	for _, parent := range index.Parents() {
		if ctx.Err() != nil {
			break
		}
		report, err := e.fetchParent(ctx, parent, index[parent])
		summary.Parents = append(summary.Parents, report)
		e.observer.ParentFinished(report)
		if err != nil {
			runErr = err
			break
		}
	}
	summary.Finished = e.clock.Now()

	if err := ctx.Err(); err != nil {
		summary.Interrupted = true
		runErr = err
	}
	if runErr == nil && summary.AllComplete() {
		e.setState(StateDone)
	} else {
		e.setState(StateIdle)
	}
	totals := summary.Totals()
	logger.Info("fetch phase finished",
		zap.Int("succeeded", totals.Succeeded),
		zap.Int("skipped", totals.Skipped()),
		zap.Int("cooldowns", totals.Cooldowns),
		zap.Int("remaining", totals.Remaining),
		zap.Int("complete_teams", len(summary.CompleteParents())),
		zap.Bool("interrupted", summary.Interrupted),
	)
	return summary, runErr
}

// Redo discards the completion record and sink artifact for parent and
// fetches all of its children again.
func (e *Engine) Redo(ctx context.Context, parent string) (ParentReport, error) {
	if !ValidID(parent) {
		return ParentReport{}, fmt.Errorf("%w: %q", ErrInvalidID, parent)
	}
	index, err := e.store.LoadIndex(ctx)
	if err != nil {
		return ParentReport{}, fmt.Errorf("load index: %w", err)
	}
	children, ok := index[parent]
	if !ok {
		return ParentReport{}, fmt.Errorf("%w: %s", ErrUnknownParent, parent)
	}
	if err := e.store.ClearParent(ctx, parent); err != nil {
		return ParentReport{}, fmt.Errorf("clear checkpoint for %s: %w", parent, err)
	}
	if resetter, ok := e.sink.(ParentResetter); ok {
		if err := resetter.ResetParent(ctx, parent); err != nil {
			return ParentReport{}, fmt.Errorf("reset sink for %s: %w", parent, err)
		}
	}
	e.logger.Info("redoing team", zap.String("team_id", parent), zap.Int("swimmers", len(children)))

	report, err := e.fetchParent(ctx, parent, children)
	e.observer.ParentFinished(report)
	if report.Complete {
		e.setState(StateDone)
	} else {
		e.setState(StateIdle)
	}
	return report, err
}

// FetchOne fetches and parses a single swimmer without touching the
// checkpoint or sink.
func (e *Engine) FetchOne(ctx context.Context, id string) (ParsedEntity, error) {
	if !ValidID(id) {
		return ParsedEntity{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	res := e.fetcher.Fetch(ctx, fmt.Sprintf(e.cfg.SwimmerURLTemplate, id), ChannelHTTP)
	if res.Outcome != OutcomeSuccess {
		return ParsedEntity{}, AsFetchError(res)
	}
	entity, err := e.parser.Swimmer(id, res.Body)
	if err != nil {
		return ParsedEntity{}, err
	}
	entity.ID = id
	return entity, nil
}

// Status reports checkpointed progress for every team in the index.
func (e *Engine) Status(ctx context.Context) ([]ParentStatus, error) {
	index, err := e.store.LoadIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	out := make([]ParentStatus, 0, len(index))
	for _, parent := range index.Parents() {
		children := index[parent]
		done, err := e.completed(ctx, parent, children, false)
		if err != nil {
			return nil, err
		}
		completed := 0
		for _, child := range children {
			if _, ok := done[child]; ok {
				completed++
			}
		}
		out = append(out, ParentStatus{Parent: parent, Total: len(children), Completed: completed})
	}
	return out, nil
}

// fetchParent drives the fetch/cooldown loop for one team until its remaining
// set is empty, a batch ends without a block, or the cooldown budget is spent.
func (e *Engine) fetchParent(ctx context.Context, parent string, children []string) (ParentReport, error) {
	report := ParentReport{Parent: parent, Total: len(children)}
	logger := e.logger.With(zap.String("team_id", parent))
	first := true
	for {
		remaining, err := e.remaining(ctx, parent, children)
		if err != nil {
			return report, err
		}
		if first {
			report.AlreadyComplete = len(children) - len(remaining)
			first = false
		}
		report.Remaining = len(remaining)
		if len(remaining) == 0 {
			report.Complete = true
			logger.Debug("team complete")
			return report, nil
		}

		e.setState(StateFetchingEntities)
		e.observer.ParentStarted(parent, len(remaining))
		logger.Info("fetching team", zap.Int("remaining", len(remaining)), zap.Int("total", len(children)))

		var t tally
		blocked, err := runBatch(ctx, remaining, min(e.cfg.FetchWorkers, len(remaining)), func(ctx context.Context, child string) bool {
			return e.fetchEntity(ctx, parent, child, &t)
		})
		t.addTo(&report)
		report.Remaining = len(remaining) - int(t.succeeded.Load())
		report.Complete = report.Remaining == 0
		if err != nil {
			return report, err
		}
		if !blocked {
			return report, nil
		}
		if !e.cooldown(ctx, &report.Cooldowns, parent) {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.CooldownBudgetExhausted = true
			logger.Warn("team abandoned after repeated blocks", zap.Int("cooldowns", report.Cooldowns))
			return report, nil
		}
	}
}

// fetchEntity runs one swimmer task and reports whether it was blocked.
func (e *Engine) fetchEntity(ctx context.Context, parent, child string, t *tally) bool {
	logger := e.logger.With(zap.String("team_id", parent), zap.String("swimmer_id", child))
	res := e.fetcher.Fetch(ctx, fmt.Sprintf(e.cfg.SwimmerURLTemplate, child), ChannelHTTP)
	switch res.Outcome {
	case OutcomeSuccess:
	case OutcomeBlocked:
		logger.Warn("swimmer fetch blocked")
		e.observer.EntityDone(parent, child, EntityBlocked)
		return true
	case OutcomeRateLimited:
		t.rateLimited.Add(1)
		e.skip(logger, parent, child, EntityRateLimited, res.Err, zap.Int("attempts", res.Attempts))
		return false
	default:
		if ctx.Err() != nil {
			return false
		}
		t.failed.Add(1)
		e.skip(logger, parent, child, EntityFailed, res.Err, zap.Int("status", res.StatusCode))
		return false
	}

	entity, err := e.parser.Swimmer(child, res.Body)
	if err != nil {
		t.malformed.Add(1)
		e.skip(logger, parent, child, EntityMalformed, err)
		return false
	}
	entity.ID = child
	if err := e.sink.Record(ctx, parent, []ParsedEntity{entity}); err != nil {
		t.sinkErrors.Add(1)
		e.skip(logger, parent, child, EntitySinkError, err)
		return false
	}
	if err := e.store.MarkComplete(ctx, parent, child); err != nil {
		// The sink already holds the record; the next run heals the checkpoint
		// from it.
		t.sinkErrors.Add(1)
		e.skip(logger, parent, child, EntitySinkError, fmt.Errorf("mark complete: %w", err))
		return false
	}
	t.succeeded.Add(1)
	metrics.IncRecorded()
	e.observer.EntityDone(parent, child, EntityRecorded)
	logger.Debug("swimmer recorded", zap.String("name", entity.Name), zap.Int("events", len(entity.BestTimes)))
	return false
}

func (e *Engine) skip(logger *zap.Logger, parent, child string, status EntityStatus, err error, fields ...zap.Field) {
	metrics.IncSkipped(string(status))
	e.observer.EntityDone(parent, child, status)
	fields = append(fields, zap.String("reason", string(status)), zap.Error(err))
	logger.Warn("swimmer skipped", fields...)
}

// remaining returns children that are neither checkpointed nor already in
// the sink, preserving index order.
func (e *Engine) remaining(ctx context.Context, parent string, children []string) ([]string, error) {
	done, err := e.completed(ctx, parent, children, true)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(children))
	for _, child := range children {
		if _, ok := done[child]; !ok {
			out = append(out, child)
		}
	}
	return out, nil
}

// completed merges the checkpoint with the sink's own record. When heal is
// set, children found only in the sink are marked complete.
func (e *Engine) completed(ctx context.Context, parent string, children []string, heal bool) (map[string]struct{}, error) {
	done, err := e.store.Completed(ctx, parent)
	if err != nil {
		return nil, fmt.Errorf("load completions for %s: %w", parent, err)
	}
	source, ok := e.sink.(CompletionSource)
	if !ok {
		return done, nil
	}
	recorded, err := source.Recorded(ctx, parent)
	if err != nil {
		return nil, fmt.Errorf("load sink record for %s: %w", parent, err)
	}
	wanted := make(map[string]struct{}, len(children))
	for _, child := range children {
		wanted[child] = struct{}{}
	}
	for id := range recorded {
		if _, isChild := wanted[id]; !isChild {
			continue
		}
		if _, ok := done[id]; ok {
			continue
		}
		if heal {
			if err := e.store.MarkComplete(ctx, parent, id); err != nil {
				return nil, fmt.Errorf("heal completion %s/%s: %w", parent, id, err)
			}
		}
		done[id] = struct{}{}
	}
	return done, nil
}

// cooldown pauses after a block. It returns false when the budget is spent or
// ctx ends during the pause.
func (e *Engine) cooldown(ctx context.Context, count *int, parent string) bool {
	if e.cfg.MaxCooldowns > 0 && *count >= e.cfg.MaxCooldowns {
		return false
	}
	*count++
	e.setState(StateCooldown)
	metrics.IncCooldown()
	e.logger.Warn("blocked; cooling down",
		zap.String("team_id", parent),
		zap.Duration("cooldown", e.cfg.Cooldown),
		zap.Int("cooldown_number", *count),
	)
	e.pauser.Pause(ctx, e.cfg.Cooldown)
	return ctx.Err() == nil
}

// runBatch runs task for every item on a pool of at most limit goroutines.
// Once any task reports a block, no further items are started; tasks already
// running finish. Task failures are values, so siblings are never canceled.
func runBatch(ctx context.Context, items []string, limit int, task func(ctx context.Context, item string) bool) (bool, error) {
	if limit <= 0 {
		limit = 1
	}
	var (
		blocked atomic.Bool
		g       errgroup.Group
	)
	g.SetLimit(limit)
	for _, item := range items {
		if blocked.Load() || ctx.Err() != nil {
			break
		}
		item := item
		g.Go(func() error {
			if blocked.Load() || ctx.Err() != nil {
				return nil
			}
			if task(ctx, item) {
				blocked.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()
	return blocked.Load(), ctx.Err()
}
