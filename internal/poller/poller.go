// Package poller drives fetch cycles: listing, dedup filter, detail and
// comment fan-out, record emission, and seen-set persistence.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/quinnstephens/multifeed/internal/auth"
	"github.com/quinnstephens/multifeed/internal/clock"
	"github.com/quinnstephens/multifeed/internal/core"
	"github.com/quinnstephens/multifeed/internal/feed"
	"github.com/quinnstephens/multifeed/internal/output"
	"github.com/quinnstephens/multifeed/internal/seenset"
)

// FeedClient is the listing surface the orchestrator drives. Implemented by
// feed.Client.
type FeedClient interface {
	Listing(ctx context.Context, sort string, limit int) ([]feed.Item, error)
	Info(ctx context.Context, fullnames []string) (map[string]feed.Item, error)
	Comments(ctx context.Context, postID string, opts feed.CommentsOptions) (json.RawMessage, error)
}

type Config struct {
	Sort         string
	Limit        int
	PollInterval time.Duration
	// Cron, when non-empty, schedules cycles instead of the fixed interval.
	Cron string

	FetchPostDetail bool
	FetchComments   bool
	// MarkSeenOnCommentFailure keeps an item out of the next cycle even when
	// its comment fetch failed. When false the item is neither emitted nor
	// marked, so it is retried next cycle.
	MarkSeenOnCommentFailure bool
	Comments                 feed.CommentsOptions
}

type Orchestrator struct {
	client FeedClient
	seen   *seenset.Store
	out    output.Writer
	purger *output.Purger
	clk    clock.Clock
	cfg    Config
}

func New(client FeedClient, seen *seenset.Store, out output.Writer, purger *output.Purger, clk clock.Clock, cfg Config) *Orchestrator {
	if clk == nil {
		clk = clock.System()
	}
	return &Orchestrator{
		client: client,
		seen:   seen,
		out:    out,
		purger: purger,
		clk:    clk,
		cfg:    cfg,
	}
}

// RunCycle executes one fetch cycle and returns the number of records
// emitted. The seen set is persisted before returning, on success and on
// error alike, so a processed-but-unrecorded item can never be silently
// lost across a shutdown.
func (o *Orchestrator) RunCycle(ctx context.Context) (emitted int, err error) {
	runID := core.NewRunID()
	logger := core.LoggerFromContext(ctx).With("run_id", runID)
	ctx = core.WithLogger(core.WithRunID(ctx, runID), logger)

	tracer := otel.Tracer("multifeed/poller")
	ctx, span := tracer.Start(ctx, "poll.cycle")
	defer func() {
		span.SetAttributes(attribute.Int("records_emitted", emitted))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	defer func() {
		if saveErr := o.persist(); saveErr != nil {
			logger.Error("failed to persist seen set", "error", saveErr)
			if err == nil {
				err = saveErr
			}
		}
	}()

	logger.Info("starting fetch cycle")

	items, err := o.client.Listing(ctx, o.cfg.Sort, o.cfg.Limit)
	if err != nil {
		return 0, err
	}

	newItems := o.filterNew(items)
	logger.Info("filtered listing", "total", len(items), "new", len(newItems))
	if len(newItems) == 0 {
		return 0, nil
	}

	details := map[string]feed.Item{}
	if o.cfg.FetchPostDetail {
		fullnames := make([]string, 0, len(newItems))
		for _, item := range newItems {
			fullnames = append(fullnames, item.Fullname)
		}
		details, err = o.client.Info(ctx, fullnames)
		if err != nil {
			// Nothing marked seen yet, so the whole batch is retried next
			// cycle.
			return 0, err
		}
	}

	for _, item := range newItems {
		if cerr := ctx.Err(); cerr != nil {
			return emitted, cerr
		}

		var detail *feed.Item
		if d, ok := details[item.Fullname]; ok {
			detail = &d
		}
		record, buildErr := feed.BuildRecord(item, detail, o.clk.Now())
		if buildErr != nil {
			return emitted, fmt.Errorf("assemble record %s: %w", item.Fullname, buildErr)
		}

		if o.cfg.FetchComments && item.ID != "" {
			comments, cerr := o.client.Comments(ctx, item.ID, o.cfg.Comments)
			switch {
			case cerr == nil:
				record.Comments = comments
			case auth.IsAuthError(cerr) || ctx.Err() != nil:
				return emitted, cerr
			case !o.cfg.MarkSeenOnCommentFailure:
				logger.Warn("comment fetch failed, leaving item for next cycle",
					"fullname", item.Fullname, "error", cerr)
				continue
			default:
				logger.Warn("comment fetch failed, emitting partial record",
					"fullname", item.Fullname, "error", cerr)
				record.CommentsError = cerr.Error()
			}
		}

		// Emit, then mark seen, then (deferred) persist. A crash between
		// emit and persist causes at worst a duplicate emission next run,
		// never a lost item.
		if werr := o.out.Write(ctx, record); werr != nil {
			return emitted, fmt.Errorf("emit record %s: %w", item.Fullname, werr)
		}
		o.seen.MarkSeen(item.Fullname)
		emitted++

		logger.Info("processed item", "fullname", item.Fullname, "title", truncate(record.Title, 50))
	}

	return emitted, nil
}

// filterNew returns the listing items not yet in the seen set, in the
// listing's own order.
func (o *Orchestrator) filterNew(items []feed.Item) []feed.Item {
	var fresh []feed.Item
	for _, item := range items {
		if item.Fullname == "" {
			continue
		}
		if o.seen.Contains(item.Fullname) {
			continue
		}
		fresh = append(fresh, item)
	}
	return fresh
}

func (o *Orchestrator) persist() error {
	o.seen.SetLastRun(o.clk.Now())
	return o.seen.Save()
}

// Run polls continuously until the context is cancelled. Cycle failures
// other than auth errors are logged and the loop keeps going; an auth error
// means the grant is dead and the run aborts.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.cfg.Cron != "" {
		return o.runCron(ctx)
	}

	logger := core.LoggerFromContext(ctx)
	logger.Info("starting continuous polling", "interval", o.cfg.PollInterval)

	for {
		if err := o.cycleAndSweep(ctx); err != nil {
			return err
		}
		if err := o.clk.Sleep(ctx, o.cfg.PollInterval); err != nil {
			return nil
		}
	}
}

func (o *Orchestrator) runCron(ctx context.Context) error {
	logger := core.LoggerFromContext(ctx)
	logger.Info("starting cron-scheduled polling", "schedule", o.cfg.Cron)

	events := make(chan struct{}, 1)
	c := cron.New()
	if _, err := c.AddFunc(o.cfg.Cron, func() {
		select {
		case events <- struct{}{}:
		default:
		}
	}); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", o.cfg.Cron, err)
	}
	c.Start()
	defer func() {
		stopCtx := c.Stop()
		<-stopCtx.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-events:
			if err := o.cycleAndSweep(ctx); err != nil {
				return err
			}
		}
	}
}

func (o *Orchestrator) cycleAndSweep(ctx context.Context) error {
	logger := core.LoggerFromContext(ctx)

	emitted, err := o.RunCycle(ctx)
	switch {
	case err == nil:
		logger.Info("cycle complete", "records", emitted)
	case auth.IsAuthError(err):
		return err
	case ctx.Err() != nil:
		return nil
	default:
		logger.Error("cycle failed", "error", err)
	}

	if o.purger != nil {
		if _, perr := o.purger.MaybePurge(ctx); perr != nil && ctx.Err() == nil {
			logger.Error("compliance purge failed", "error", perr)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
