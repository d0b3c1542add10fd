// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tejzpr/palmem/internal/engine"
	"github.com/tejzpr/palmem/internal/gate"
	"github.com/tejzpr/palmem/pkg/scheduler"
)

const (
	maxEventLineBytes = 1 << 20
	shutdownTimeout   = 30 * time.Second
)

// inboundEvent is one line of the run input. Streamer is optional and
// falls back to the configured default.
type inboundEvent struct {
	Streamer string `json:"streamer,omitempty"`
	gate.Event
}

// outboundLine is one line of the run output
type outboundLine struct {
	Type    string          `json:"type"` // "reply" or "outcome"
	Reply   *engine.Output  `json:"reply,omitempty"`
	Outcome *engine.Outcome `json:"outcome,omitempty"`
}

// jsonWriter serializes JSON lines from concurrent writers
type jsonWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newJSONWriter(w io.Writer) *jsonWriter {
	return &jsonWriter{enc: json.NewEncoder(w)}
}

func (w *jsonWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(v)
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	var printOutcomes bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest JSON-lines events from stdin and print replies as JSON lines",
		Long: `Reads one event per line, e.g.

  {"kind":"chat","username":"anna","content":"Hallo Pal!"}
  {"kind":"gift","username":"ben","metrics":{"diamond_value":50,"gift_name":"Rose"}}

Every event is remembered; replies let through by the decision gate are
printed to stdout. Maintenance runs on the retention schedule while the
command is running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := newJSONWriter(cmd.OutOrStdout())
			opts := flags.appOptions(cmd)
			opts.Presenter = engine.PresenterFunc(func(_ context.Context, o engine.Output) error {
				return out.Write(outboundLine{Type: "reply", Reply: &o})
			})

			a, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			return runEvents(ctx, a, cmd.InOrStdin(), out, printOutcomes)
		},
	}
	cmd.Flags().BoolVar(&printOutcomes, "outcomes", false, "Also print the outcome of every event")
	return cmd
}

// runEvents feeds every line of in to the engines until in is exhausted or
// ctx is cancelled, then shuts all engines down
func runEvents(ctx context.Context, a *app, in io.Reader, out *jsonWriter, printOutcomes bool) error {
	leases := newLeaseKeeper(a.db, a.logger)
	// another process may write to a lost streamer; its cached engine is stale
	leases.onLost = func(streamer string) { a.registry.Evict(streamer) }
	defer func() {
		if err := leases.ReleaseAll(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("failed to release leases", "error", err)
		}
	}()

	r := &runner{app: a, leases: leases, out: out, printOutcomes: printOutcomes}
	if _, err := r.engine(ctx, ""); err != nil {
		return err
	}

	sched, err := scheduler.NewScheduler(a.cfg.Retention.Schedule, a.registry.MaintainAll, scheduler.WithLogger(a.logger))
	if err != nil {
		return err
	}
	renew, err := scheduler.NewScheduler(leaseRenewSchedule, leases.Renew, scheduler.WithLogger(a.logger))
	if err != nil {
		return err
	}
	sched.Start(ctx)
	renew.Start(ctx)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxEventLineBytes)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			a.logger.Warn("failed to read events", "error", err)
		}
	}()

	count := 0
loop:
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("interrupted, shutting down")
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if r.handleLine(ctx, line) {
				count++
			}
		}
	}

	sched.Stop()
	renew.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := a.registry.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("shutdown incomplete", "error", err)
	}
	a.logger.Info("run finished", "events", count)
	return nil
}

// runner routes input lines to the engines of the streamers this run owns
type runner struct {
	app           *app
	leases        *leaseKeeper
	out           *jsonWriter
	printOutcomes bool
}

func (r *runner) engine(ctx context.Context, streamer string) (*engine.Engine, error) {
	streamer = strings.TrimSpace(streamer)
	if streamer == "" {
		streamer = r.app.cfg.Streamer
	}
	if err := r.leases.Claim(ctx, streamer); err != nil {
		return nil, err
	}
	return r.app.Engine(ctx, streamer)
}

// handleLine ingests one input line and reports whether it was accepted.
// Malformed lines and rejected events are logged and skipped.
func (r *runner) handleLine(ctx context.Context, line string) bool {
	logger := r.app.logger

	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	var ev inboundEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		logger.Warn("skipping malformed event", "error", err)
		return false
	}

	e, err := r.engine(ctx, ev.Streamer)
	if err != nil {
		logger.Warn("no engine for event", "streamer", ev.Streamer, "error", err)
		return false
	}

	outcome, err := e.Ingest(ctx, ev.Event)
	if err != nil {
		logger.Warn("event rejected", "kind", ev.Kind, "error", err)
		return false
	}

	if r.printOutcomes {
		if err := r.out.Write(outboundLine{Type: "outcome", Outcome: outcome}); err != nil {
			logger.Warn("failed to write outcome", "error", err)
		}
	}
	return true
}
