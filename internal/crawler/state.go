package crawler

// State is a phase of the crawl state machine.
type State string

// Engine states.
const (
	StateIdle                State = "idle"
	StateDiscoveringParents  State = "discovering_parents"
	StateDiscoveringChildren State = "discovering_children"
	StateFetchingEntities    State = "fetching_entities"
	StateCooldown            State = "cooldown"
	StateDone                State = "done"
)

// EntityStatus is the per-swimmer result reported to observers.
type EntityStatus string

// Entity statuses.
const (
	EntityRecorded    EntityStatus = "recorded"
	EntityRateLimited EntityStatus = "rate_limited"
	EntityFailed      EntityStatus = "failed"
	EntityMalformed   EntityStatus = "malformed"
	EntitySinkError   EntityStatus = "sink_error"
	EntityBlocked     EntityStatus = "blocked"
)
