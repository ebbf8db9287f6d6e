package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const menuHelp = `Commands:
  1 | discover        discover teams and rosters
  2 | fetch           fetch remaining swimmers
  3 | redo <teamID>   clear and refetch one team
  4 | status          show per-team progress
  5 | convert         write swimmers.json
  6 | enrich [teams]  backfill profile media
  7 | cleanup         kill stray browser processes
  stop              stop the running job
  help | quit`

func newMenuCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "menu",
		Short: "Interactive prompt over the crawl operations",
		Long: `Starts an interactive prompt. discover, fetch, redo and enrich run in the
background so "stop" can interrupt them; completed work stays recorded.`,
		Args: cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, appInstance App) error {
			out := &lockedWriter{w: cmd.OutOrStdout()}
			cmd.SetOut(out)
			m := &menu{cmd: cmd, app: appInstance, out: out}
			return m.loop(cmd.Context(), cmd.InOrStdin())
		}),
	}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// menu runs at most one background job at a time.
type menu struct {
	cmd *cobra.Command
	app App
	out io.Writer

	mu     sync.Mutex
	job    string
	cancel context.CancelFunc
	done   chan struct{}
}

func (m *menu) loop(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	m.printf("%s\n", menuHelp)
	for {
		m.printf("> ")
		select {
		case <-ctx.Done():
			m.stop()
			m.wait()
			return nil
		case line, ok := <-lines:
			if !ok {
				m.wait()
				return nil
			}
			if quit := m.dispatch(ctx, strings.Fields(line)); quit {
				m.stop()
				m.wait()
				return nil
			}
		}
	}
}

func (m *menu) dispatch(ctx context.Context, fields []string) bool {
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "1", "discover":
		m.start(ctx, "discover", func(ctx context.Context) error { return runDiscover(ctx, m.cmd, m.app) })
	case "2", "fetch":
		m.start(ctx, "fetch", func(ctx context.Context) error {
			summary, err := m.app.Engine().FetchAll(ctx)
			return finishFetch(m.cmd, m.app.Logger(), summary, err)
		})
	case "3", "redo":
		if len(fields) != 2 {
			m.printf("usage: redo <teamID>\n")
			return false
		}
		m.start(ctx, "redo "+fields[1], func(ctx context.Context) error { return runRedo(ctx, m.cmd, m.app, fields[1]) })
	case "4", "status":
		m.report(runStatus(ctx, m.cmd, m.app))
	case "5", "convert":
		if m.busy() {
			return false
		}
		m.report(runConvert(ctx, m.cmd, m.app, convertOptions{}))
	case "6", "enrich":
		teams := fields[1:]
		m.start(ctx, "enrich", func(ctx context.Context) error { return runEnrich(ctx, m.cmd, m.app, teams...) })
	case "7", "cleanup":
		if m.busy() {
			return false
		}
		m.report(runCleanup(m.cmd, m.app.Logger().Named("procs")))
	case "stop":
		if !m.stop() {
			m.printf("nothing is running\n")
		}
	case "help", "?":
		m.printf("%s\n", menuHelp)
	case "quit", "exit", "q":
		return true
	default:
		m.printf("unknown command %q; type help\n", fields[0])
	}
	return false
}

// start runs fn in the background unless another job is running.
func (m *menu) start(ctx context.Context, name string, fn func(ctx context.Context) error) {
	if m.busy() {
		return
	}
	jobCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.mu.Lock()
	m.job, m.cancel, m.done = name, cancel, done
	m.mu.Unlock()

	m.printf("%s started\n", name)
	go func() {
		defer close(done)
		defer cancel()
		err := fn(jobCtx)
		m.mu.Lock()
		m.job, m.cancel = "", nil
		m.mu.Unlock()
		switch {
		case errors.Is(err, context.Canceled):
			m.printf("%s stopped\n", name)
		case err != nil:
			m.report(err)
		default:
			m.printf("%s finished\n", name)
		}
	}()
}

func (m *menu) busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.job != "" {
		m.printf("%s is running; type stop first\n", m.job)
		return true
	}
	return false
}

func (m *menu) stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		return false
	}
	m.app.Logger().Info("stopping menu job", zap.String("job", m.job))
	m.cancel()
	return true
}

func (m *menu) wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (m *menu) report(err error) {
	if err != nil {
		m.printf("error: %v\n", err)
	}
}

func (m *menu) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(m.out, format, args...)
}
