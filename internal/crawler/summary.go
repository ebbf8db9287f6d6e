package crawler

import (
	"sync/atomic"
	"time"
)

// ParentReport summarizes the fetch phase for one team.
type ParentReport struct {
	Parent          string `json:"team_id"`
	Total           int    `json:"total"`
	AlreadyComplete int    `json:"already_complete"`
	Succeeded       int    `json:"succeeded"`
	RateLimited     int    `json:"rate_limited"`
	Failed          int    `json:"failed"`
	Malformed       int    `json:"malformed"`
	SinkErrors      int    `json:"sink_errors"`
	Cooldowns       int    `json:"cooldowns"`
	Remaining       int    `json:"remaining"`
	Complete        bool   `json:"complete"`
	// CooldownBudgetExhausted is set when the team was abandoned after
	// exceeding the configured number of cooldowns.
	CooldownBudgetExhausted bool `json:"cooldown_budget_exhausted,omitempty"`
}

// Skipped counts entities that were skipped rather than recorded.
func (r ParentReport) Skipped() int {
	return r.RateLimited + r.Failed + r.Malformed + r.SinkErrors
}

// Summary is the user-visible result of a fetch run.
type Summary struct {
	RunID       string         `json:"run_id"`
	Started     time.Time      `json:"started_at"`
	Finished    time.Time      `json:"finished_at"`
	Parents     []ParentReport `json:"teams"`
	Interrupted bool           `json:"interrupted,omitempty"`
}

// Totals aggregates every parent report.
func (s Summary) Totals() ParentReport {
	var t ParentReport
	t.Parent = "total"
	t.Complete = true
	for _, r := range s.Parents {
		t.Total += r.Total
		t.AlreadyComplete += r.AlreadyComplete
		t.Succeeded += r.Succeeded
		t.RateLimited += r.RateLimited
		t.Failed += r.Failed
		t.Malformed += r.Malformed
		t.SinkErrors += r.SinkErrors
		t.Cooldowns += r.Cooldowns
		t.Remaining += r.Remaining
		t.Complete = t.Complete && r.Complete
	}
	return t
}

// CompleteParents lists the teams whose remaining set is empty.
func (s Summary) CompleteParents() []string {
	var out []string
	for _, r := range s.Parents {
		if r.Complete {
			out = append(out, r.Parent)
		}
	}
	return out
}

// AllComplete reports whether every team finished.
func (s Summary) AllComplete() bool {
	return !s.Interrupted && s.Totals().Complete
}

// ParentStatus is the checkpointed progress of one team.
type ParentStatus struct {
	Parent    string `json:"team_id"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
}

// Complete reports whether every child of the team is recorded.
func (p ParentStatus) Complete() bool {
	return p.Completed >= p.Total
}

// tally accumulates per-batch counters from concurrent tasks.
type tally struct {
	succeeded   atomic.Int64
	rateLimited atomic.Int64
	failed      atomic.Int64
	malformed   atomic.Int64
	sinkErrors  atomic.Int64
}

func (t *tally) addTo(r *ParentReport) {
	r.Succeeded += int(t.succeeded.Load())
	r.RateLimited += int(t.rateLimited.Load())
	r.Failed += int(t.failed.Load())
	r.Malformed += int(t.malformed.Load())
	r.SinkErrors += int(t.sinkErrors.Load())
}
