package crawler

import (
	"context"
	"time"
)

// Fetcher retrieves a URL over a rate limited channel.
type Fetcher interface {
	Fetch(ctx context.Context, url string, ch Channel) FetchResult
}

// Parser extracts IDs and swimmer records from fetched documents.
type Parser interface {
	TeamIDs(body []byte) ([]string, error)
	RosterIDs(body []byte) ([]string, error)
	Swimmer(id string, body []byte) (ParsedEntity, error)
}

// CheckpointStore durably records discovered IDs and completed fetches.
type CheckpointStore interface {
	LoadIndex(ctx context.Context) (Index, error)
	SaveIndex(ctx context.Context, index Index) error
	IsComplete(ctx context.Context, parent, child string) (bool, error)
	Completed(ctx context.Context, parent string) (map[string]struct{}, error)
	MarkComplete(ctx context.Context, parent, child string) error
	ClearParent(ctx context.Context, parent string) error
}

// Sink persists finished records. Record must be idempotent per entity ID.
type Sink interface {
	Record(ctx context.Context, parent string, entities []ParsedEntity) error
}

// CompletionSource is implemented by sinks whose own artifacts record which
// children were written. Those children are treated as complete.
type CompletionSource interface {
	Recorded(ctx context.Context, parent string) (map[string]struct{}, error)
}

// ParentResetter is implemented by sinks that keep per-parent artifacts which
// must be discarded on redo.
type ParentResetter interface {
	ResetParent(ctx context.Context, parent string) error
}

// Observer receives engine progress. Implementations must be safe for
// concurrent use.
type Observer interface {
	StateChanged(state State)
	ParentStarted(parent string, remaining int)
	EntityDone(parent, child string, status EntityStatus)
	ParentFinished(report ParentReport)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State)                      {}
func (nopObserver) ParentStarted(string, int)               {}
func (nopObserver) EntityDone(string, string, EntityStatus) {}
func (nopObserver) ParentFinished(ParentReport)             {}

// Clock stamps run summaries.
type Clock interface {
	Now() time.Time
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator names fetch runs.
type IDGenerator interface {
	NewID() (string, error)
}
