// Package report renders crawl results for the operator: summary and status
// tables via go-pretty, and live per-team progress bars.
package report

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/schollz/progressbar/v3"

	"github.com/himanalot/swimmer-elo/internal/crawler"
)

// Summary writes one row per team plus a totals footer.
func Summary(w io.Writer, s crawler.Summary) {
	t := newTable(w)
	t.SetTitle(fmt.Sprintf("Run %s (%s)", s.RunID, s.Finished.Sub(s.Started).Round(time.Second)))
	t.AppendHeader(table.Row{"Team", "Total", "Done before", "Recorded", "Rate limited", "Failed", "Malformed", "Sink errors", "Cooldowns", "Remaining", "Complete"})
	for _, r := range s.Parents {
		t.AppendRow(reportRow(r))
	}
	t.AppendFooter(reportRow(s.Totals()))
	if s.Interrupted {
		t.SetCaption("interrupted: rerun fetch to resume")
	}
	t.Render()
}

func reportRow(r crawler.ParentReport) table.Row {
	complete := yesNo(r.Complete)
	if r.CooldownBudgetExhausted {
		complete = "abandoned"
	}
	return table.Row{r.Parent, r.Total, r.AlreadyComplete, r.Succeeded, r.RateLimited, r.Failed, r.Malformed, r.SinkErrors, r.Cooldowns, r.Remaining, complete}
}

// Status writes per-team checkpoint progress.
func Status(w io.Writer, statuses []crawler.ParentStatus) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Team", "Completed", "Total", "Complete"})
	var done, total, complete int
	for _, s := range statuses {
		t.AppendRow(table.Row{s.Parent, s.Completed, s.Total, yesNo(s.Complete())})
		done += s.Completed
		total += s.Total
		if s.Complete() {
			complete++
		}
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d/%d teams", complete, len(statuses)), done, total, ""})
	t.Render()
}

// KeyValues writes a two column table, used for single-result commands.
func KeyValues(w io.Writer, title string, rows [][2]any) {
	t := newTable(w)
	t.SetTitle(title)
	for _, r := range rows {
		t.AppendRow(table.Row{r[0], r[1]})
	}
	t.Render()
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.Style().Title.Align = text.AlignCenter
	t.Style().Format.Footer = text.FormatDefault
	return t
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

var _ crawler.Observer = (*Progress)(nil)

// Progress is a crawler.Observer drawing one progress bar per team.
type Progress struct {
	w   io.Writer
	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

// NewProgress returns a Progress writing to w.
func NewProgress(w io.Writer) *Progress {
	return &Progress{w: w}
}

// StateChanged annotates the current bar while cooling down.
func (p *Progress) StateChanged(state crawler.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil && state == crawler.StateCooldown {
		p.bar.Describe("cooling down")
	}
}

// ParentStarted opens a bar sized to the team's remaining swimmers.
func (p *Progress) ParentStarted(parent string, remaining int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
	}
	p.bar = progressbar.NewOptions(remaining,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSetDescription("team "+parent),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() { _, _ = fmt.Fprintln(p.w) }),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// EntityDone advances the bar for recorded swimmers only; skipped swimmers
// stay remaining.
func (p *Progress) EntityDone(_, _ string, status crawler.EntityStatus) {
	if status != crawler.EntityRecorded {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Add(1)
	}
}

// ParentFinished closes the current bar.
func (p *Progress) ParentFinished(crawler.ParentReport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
}
