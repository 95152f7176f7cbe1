package dispatch

import (
	"context"
	"errors"
	"time"
)

// Status is the final state of one unit after a dispatch.
type Status string

const (
	StatusCompiled   Status = "compiled"
	StatusCurrent    Status = "current"
	StatusFailed     Status = "failed"
	StatusNotStarted Status = "not_started"
)

// Outcome is what happened to one unit.
type Outcome struct {
	Source   string
	Object   string
	Status   Status
	Err      error
	Duration time.Duration
}

// Succeeded reports whether the unit's object is present and up to date.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusCompiled || o.Status == StatusCurrent
}

// Result summarises one dispatch. Outcomes keep request order; Objects is
// sorted and holds only objects produced or confirmed current.
type Result struct {
	BuildID   string
	PoolSize  int
	Objects   []string
	Compiled  int
	Skipped   int
	Failed    int
	Outcomes  []Outcome
	StartedAt time.Time
	Duration  time.Duration
}

// Recorder persists the result of a finished dispatch. buildErr is the
// aggregate failure, or nil.
type Recorder interface {
	Record(ctx context.Context, res *Result, buildErr error) error
}

// Options tunes a Dispatcher.
type Options struct {
	// Jobs overrides the detected pool size when positive.
	Jobs int
	// FailFast stops starting new units after the first failure.
	FailFast bool
	// UnitTimeout bounds each compiler call; zero means no limit.
	UnitTimeout time.Duration
	// Detect reports physical cores; nil uses topology.PhysicalCores.
	Detect func() (int, error)
	// Recorder, if set, receives the result after the barrier.
	Recorder Recorder
}

// Recorders fans a result out to several recorders. Every recorder runs;
// their errors are joined.
type Recorders []Recorder

// Record implements Recorder.
func (rs Recorders) Record(ctx context.Context, res *Result, buildErr error) error {
	var errs []error
	for _, r := range rs {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, res, buildErr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
