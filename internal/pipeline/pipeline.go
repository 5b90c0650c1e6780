// Package pipeline drives a binning run: events are weighted by their Q2,
// projected onto a geometry's reco branches and accumulated.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/quicksim/internal/binning"
	"github.com/nvandessel/quicksim/internal/events"
	"github.com/nvandessel/quicksim/internal/kinematics"
	"github.com/nvandessel/quicksim/internal/logging"
	"github.com/nvandessel/quicksim/internal/metrics"
	"github.com/nvandessel/quicksim/internal/quickerr"
	"github.com/nvandessel/quicksim/internal/tracing"
	"github.com/nvandessel/quicksim/internal/weights"
)

// Options configures Run. Weights, Geometry and Source are required.
type Options struct {
	Weights  *weights.Table
	Geometry *binning.Geometry
	Source   events.Source

	// Kind is the analysis type of the event records.
	Kind kinematics.Kind

	// Workers > 1 spreads events round-robin over that many accumulators.
	Workers int

	// SkipBadEvents drops events that cannot be decoded or binned instead
	// of aborting the run.
	SkipBadEvents bool

	Logger      *slog.Logger
	Diagnostics weights.Diagnostics
	Metrics     *metrics.Recorder
}

// Result is the outcome of a run.
type Result struct {
	Accumulator *binning.Accumulator

	EventsRead     int64
	EventsSkipped  int64
	EntriesAdded   int64
	EntriesDropped int64
	WeightSum      float64
	Duration       time.Duration
}

type counters struct {
	eventsRead     int64
	eventsSkipped  int64
	entriesAdded   int64
	entriesDropped int64
	weightSum      float64
}

func (c *counters) add(o counters) {
	c.eventsRead += o.eventsRead
	c.eventsSkipped += o.eventsSkipped
	c.entriesAdded += o.entriesAdded
	c.entriesDropped += o.entriesDropped
	c.weightSum += o.weightSum
}

// worker owns one accumulator. It is only touched by its own goroutine.
type worker struct {
	acc     *binning.Accumulator
	extract *kinematics.Extractor
	weights *weights.Table
	opts    *Options
	logger  *slog.Logger
	counts  counters
}

// Run streams every event from opts.Source into a fresh accumulator.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Weights == nil || opts.Geometry == nil || opts.Source == nil {
		return nil, fmt.Errorf("pipeline needs weights, geometry and an event source: %w", quickerr.ErrConfig)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	n := opts.Workers
	if n < 1 {
		n = 1
	}

	ctx, span := tracing.Tracer().Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("scheme", opts.Geometry.Name),
		attribute.String("analysis", string(opts.Kind)),
		attribute.Int("workers", n),
	))
	defer span.End()

	extract, err := kinematics.NewExtractor(opts.Kind, opts.Geometry.RecoBranches())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("binding reco branches: %w", err)
	}

	start := time.Now()
	workers := make([]*worker, n)
	for i := range workers {
		workers[i] = &worker{
			acc:     binning.NewAccumulator(opts.Geometry),
			extract: extract,
			weights: opts.Weights,
			opts:    &opts,
			logger:  logger.With("worker", i),
		}
	}

	if n == 1 {
		err = workers[0].drain(ctx, opts.Source)
	} else {
		err = fanOut(ctx, opts.Source, workers)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	res := &Result{Accumulator: workers[0].acc}
	var total counters
	total.add(workers[0].counts)
	for _, w := range workers[1:] {
		if err := res.Accumulator.Merge(w.acc); err != nil {
			return nil, fmt.Errorf("merging worker accumulators: %w", err)
		}
		total.add(w.counts)
	}
	res.EventsRead = total.eventsRead
	res.EventsSkipped = total.eventsSkipped
	res.EntriesAdded = total.entriesAdded
	res.EntriesDropped = total.entriesDropped
	res.WeightSum = total.weightSum
	res.Duration = time.Since(start)
	opts.Metrics.ObserveRun(res.Duration.Seconds())

	span.SetAttributes(
		attribute.Int64("events_read", res.EventsRead),
		attribute.Int64("entries_added", res.EntriesAdded),
		attribute.Int64("entries_dropped", res.EntriesDropped),
	)
	logger.Info("binning complete",
		"scheme", opts.Geometry.Name,
		"events", res.EventsRead,
		"skipped", res.EventsSkipped,
		"added", res.EntriesAdded,
		"dropped", res.EntriesDropped,
		"duration", res.Duration)
	if opts.Diagnostics != nil {
		opts.Diagnostics.Log(map[string]any{
			"type":            "binning_complete",
			"scheme":          opts.Geometry.Name,
			"events_read":     res.EventsRead,
			"events_skipped":  res.EventsSkipped,
			"entries_added":   res.EntriesAdded,
			"entries_dropped": res.EntriesDropped,
			"weight_sum":      res.WeightSum,
		})
	}
	return res, nil
}

// drain reads src sequentially into w until io.EOF.
func (w *worker) drain(ctx context.Context, src events.Source) error {
	for {
		ev, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if w.skippable(err) {
				w.skip(ev, err)
				continue
			}
			return fmt.Errorf("reading events: %w", err)
		}
		if err := w.process(ev); err != nil {
			return err
		}
	}
}

// fanOut reads src on the calling goroutine and hands events round-robin
// to one goroutine per worker.
func fanOut(ctx context.Context, src events.Source, workers []*worker) error {
	g, gctx := errgroup.WithContext(ctx)
	var readSkipped int64
	chans := make([]chan events.Event, len(workers))
	for i, w := range workers {
		ch := make(chan events.Event, 64)
		chans[i] = ch
		g.Go(func() error {
			for ev := range ch {
				if err := w.process(ev); err != nil {
					return err
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, ch := range chans {
				close(ch)
			}
		}()
		for next := 0; ; {
			ev, err := src.Next(gctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				if workers[0].skippable(err) {
					workers[0].logger.Warn("skipping unreadable event", "error", err)
					workers[0].opts.Metrics.EventSkipped()
					readSkipped++
					continue
				}
				return fmt.Errorf("reading events: %w", err)
			}
			select {
			case chans[next] <- ev:
			case <-gctx.Done():
				return gctx.Err()
			}
			next = (next + 1) % len(chans)
		}
	})
	err := g.Wait()
	// Every worker goroutine has returned.
	workers[0].counts.eventsSkipped += readSkipped
	return err
}

func (w *worker) skippable(err error) bool {
	if !w.opts.SkipBadEvents {
		return false
	}
	return errors.Is(err, quickerr.ErrConfig) || errors.Is(err, quickerr.ErrDimensionMismatch)
}

func (w *worker) skip(ev events.Event, err error) {
	w.logger.Warn("skipping event", "id", ev.ID, "error", err)
	w.opts.Metrics.EventSkipped()
	w.counts.eventsSkipped++
}

// process bins every entry of ev with the event's weight. Every entry is
// extracted and located before any is added, so a bad event leaves no
// partial counts.
func (w *worker) process(ev events.Event) error {
	geom := w.acc.Geometry()
	values := make([][]float64, len(ev.Entries))
	for i, rec := range ev.Entries {
		v, err := w.extract.Extract(rec)
		if err == nil {
			_, err = geom.FindBins(v)
		}
		if err != nil {
			if w.skippable(err) {
				w.skip(ev, err)
				return nil
			}
			return fmt.Errorf("event %s entry %d: %w", ev.ID, i, err)
		}
		values[i] = v
	}

	weight := w.weights.Weight(ev.Q2)
	w.counts.eventsRead++
	w.counts.weightSum += weight
	w.opts.Metrics.EventRead(weight)

	for i, v := range values {
		added, err := w.acc.AddEvent(v, weight)
		if err != nil {
			return fmt.Errorf("event %s entry %d: %w", ev.ID, i, err)
		}
		w.opts.Metrics.Entry(geom.Name, added)
		if added {
			w.counts.entriesAdded++
			continue
		}
		w.counts.entriesDropped++
		w.logger.Log(context.Background(), logging.LevelTrace, "entry outside binning",
			"id", ev.ID, "q2", ev.Q2, "values", v)
	}
	return nil
}
