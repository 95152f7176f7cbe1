package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/parcc/internal/compile"
	"github.com/mattjoyce/parcc/internal/log"
	"github.com/mattjoyce/parcc/internal/topology"
)

// errNotStarted marks units skipped after fail-fast or cancellation.
var errNotStarted = errors.New("not started: build aborted before this unit ran")

// Dispatcher runs compile units on a per-call worker pool.
type Dispatcher struct {
	compiler compile.Compiler
	opts     Options
	logger   *slog.Logger
	newID    func() string
	now      func() time.Time
}

// New creates a Dispatcher around a single-unit compiler.
func New(c compile.Compiler, opts Options) *Dispatcher {
	return &Dispatcher{
		compiler: c,
		opts:     opts,
		logger:   log.WithComponent("dispatch"),
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// Dispatch compiles every stale unit of set and blocks until all tasks have
// finished. On unit failures it returns the Result together with a
// *compile.BuildError naming each failed unit. A *compile.ResolutionError is
// returned, with a nil Result, when the mapping is invalid; no compiler is run.
func (d *Dispatcher) Dispatch(ctx context.Context, set *compile.JobSet) (*Result, error) {
	if d.compiler == nil {
		return nil, fmt.Errorf("dispatch: nil compiler")
	}
	if set == nil {
		set = &compile.JobSet{}
	}
	if err := set.Validate(); err != nil {
		d.logger.Error("rejecting job set", "error", err)
		return nil, err
	}

	staleness := set.Staleness
	if staleness == nil {
		staleness = compile.AlwaysStale
	}

	res := &Result{
		BuildID:   d.newID(),
		PoolSize:  topology.PoolSize(d.opts.Jobs, d.opts.Detect, d.logger),
		Objects:   []string{},
		Outcomes:  make([]Outcome, len(set.Requests)),
		StartedAt: d.now(),
	}
	buildLogger := log.WithBuild(d.logger, res.BuildID)
	buildLogger.Info("dispatch started", "units", len(set.Requests), "pool_size", res.PoolSize)

	var aborted atomic.Bool
	pool := newWorkerPool(res.PoolSize)
	for i, r := range set.Requests {
		pool.submit(func() {
			o := d.runUnit(ctx, set, staleness, r, &aborted, buildLogger)
			if o.Status == StatusFailed && d.opts.FailFast {
				aborted.Store(true)
			}
			res.Outcomes[i] = o
		})
	}
	pool.wait()
	res.Duration = time.Since(res.StartedAt)

	buildErr := d.aggregate(res)
	buildLogger.Info("dispatch finished",
		"compiled", res.Compiled,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"duration", res.Duration,
	)

	if d.opts.Recorder != nil {
		// The build outcome stands even when it cannot be persisted.
		if err := d.opts.Recorder.Record(context.WithoutCancel(ctx), res, buildErr); err != nil {
			buildLogger.Error("failed to record build", "error", err)
		}
	}

	if buildErr != nil {
		return res, buildErr
	}
	return res, nil
}

// runUnit executes one task: staleness check, then at most one compiler call.
func (d *Dispatcher) runUnit(
	ctx context.Context,
	set *compile.JobSet,
	staleness compile.Staleness,
	r compile.Request,
	aborted *atomic.Bool,
	logger *slog.Logger,
) (o Outcome) {
	o = Outcome{Source: r.Source, Object: r.Object}
	unitLogger := log.WithUnit(logger, r.Source, r.Object)

	if aborted.Load() || ctx.Err() != nil {
		o.Status = StatusNotStarted
		o.Err = errNotStarted
		unitLogger.Debug("unit not started")
		return o
	}

	start := d.now()
	defer func() { o.Duration = time.Since(start) }()

	stale, err := staleness.Stale(ctx, r)
	if err != nil {
		o.Status = StatusFailed
		o.Err = fmt.Errorf("staleness check: %w", err)
		unitLogger.Error("staleness check failed", "error", err)
		return o
	}
	if !stale {
		o.Status = StatusCurrent
		unitLogger.Debug("unit up to date")
		return o
	}

	// In-flight compiles only end on their own or on the unit timeout.
	uctx := context.WithoutCancel(ctx)
	if d.opts.UnitTimeout > 0 {
		var cancel context.CancelFunc
		uctx, cancel = context.WithTimeout(uctx, d.opts.UnitTimeout)
		defer cancel()
	}

	unitLogger.Debug("compiling unit")
	if err := d.compiler.CompileOne(uctx, set.Unit(r)); err != nil {
		o.Status = StatusFailed
		o.Err = err
		unitLogger.Warn("unit failed", "error", err)
		return o
	}
	o.Status = StatusCompiled
	unitLogger.Info("unit compiled")
	return o
}

// aggregate fills the counters and object list and builds the BuildError.
func (d *Dispatcher) aggregate(res *Result) error {
	var failures []compile.UnitFailure
	for _, o := range res.Outcomes {
		if !o.Succeeded() {
			res.Failed++
			failures = append(failures, compile.UnitFailure{Source: o.Source, Object: o.Object, Err: o.Err})
			continue
		}
		if o.Status == StatusCompiled {
			res.Compiled++
		} else {
			res.Skipped++
		}
		res.Objects = append(res.Objects, o.Object)
	}
	slices.Sort(res.Objects)

	if len(failures) == 0 {
		return nil
	}
	sort.SliceStable(failures, func(i, j int) bool {
		if failures[i].Source != failures[j].Source {
			return failures[i].Source < failures[j].Source
		}
		return failures[i].Object < failures[j].Object
	})
	return &compile.BuildError{Total: len(res.Outcomes), Failures: failures}
}

// workerPool bounds concurrent tasks to a fixed size. Tasks never return
// errors; failures travel in their Outcome.
type workerPool struct {
	g errgroup.Group
}

func newWorkerPool(size int) *workerPool {
	p := &workerPool{}
	p.g.SetLimit(max(1, size))
	return p
}

// submit blocks until a worker slot is free.
func (p *workerPool) submit(task func()) {
	p.g.Go(func() error {
		task()
		return nil
	})
}

func (p *workerPool) wait() {
	_ = p.g.Wait()
}
