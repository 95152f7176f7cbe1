package resolve

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/parcc/internal/compile"
	"github.com/mattjoyce/parcc/internal/dispatch"
	"github.com/mattjoyce/parcc/internal/log"
)

// FingerprintStore persists the fingerprint of each successfully compiled
// object. The ledger implements it.
type FingerprintStore interface {
	Fingerprint(ctx context.Context, object string) (string, bool, error)
	PutFingerprint(ctx context.Context, object, source, fp string) error
	ForgetFingerprint(ctx context.Context, object string) error
}

// ArgvFunc renders the full compiler command line for a unit.
type ArgvFunc func(u compile.Unit) []string

// Tracker is the staleness predicate for one build. It is safe for
// concurrent use by dispatch workers. After the build, Record stores the
// fingerprints of the units that compiled.
type Tracker struct {
	set      *compile.JobSet
	compiler string
	argv     ArgvFunc
	store    FingerprintStore
	force    bool
	scan     bool
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]string
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithStore compares and records fingerprints in store. Without a store only
// timestamps are compared.
func WithStore(store FingerprintStore) TrackerOption {
	return func(t *Tracker) { t.store = store }
}

// WithForce marks every unit stale.
func WithForce(force bool) TrackerOption {
	return func(t *Tracker) { t.force = force }
}

// WithIncludeScan toggles following quoted #include directives.
func WithIncludeScan(scan bool) TrackerOption {
	return func(t *Tracker) { t.scan = scan }
}

// NewTracker creates the staleness predicate for set. compiler and argv
// together identify the command line that goes into each fingerprint.
func NewTracker(set *compile.JobSet, compiler string, argv ArgvFunc, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		set:      set,
		compiler: compiler,
		argv:     argv,
		scan:     true,
		logger:   log.WithComponent("resolve"),
		pending:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var (
	_ compile.Staleness = (*Tracker)(nil)
	_ dispatch.Recorder = (*Tracker)(nil)
)

// Stale implements compile.Staleness.
func (t *Tracker) Stale(ctx context.Context, r compile.Request) (bool, error) {
	logger := log.WithUnit(t.logger, r.Source, r.Object)

	fp, err := t.Fingerprint(r)
	if err != nil {
		return false, err
	}
	t.mu.Lock()
	t.pending[r.Object] = fp
	t.mu.Unlock()

	if t.force {
		logger.Debug("stale", "reason", "forced")
		return true, nil
	}

	objInfo, err := os.Stat(r.Object)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Debug("stale", "reason", "object missing")
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat object %s: %w", r.Object, err)
	}
	objTime := objInfo.ModTime()

	newer, err := newerThan(r.Source, objTime)
	if err != nil {
		return false, err
	}
	if newer {
		logger.Debug("stale", "reason", "source newer than object")
		return true, nil
	}

	for _, dep := range r.Depends {
		newer, err := newerThan(dep, objTime)
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("stale", "reason", "dependency missing", "dependency", dep)
			return true, nil
		}
		if err != nil {
			return false, err
		}
		if newer {
			logger.Debug("stale", "reason", "dependency newer than object", "dependency", dep)
			return true, nil
		}
	}

	if t.scan {
		headers, err := ScanIncludes(r.Source, r.IncludeDirs)
		if err != nil {
			return false, err
		}
		for _, h := range headers {
			newer, err := newerThan(h, objTime)
			if err != nil {
				return false, err
			}
			if newer {
				logger.Debug("stale", "reason", "header newer than object", "dependency", h)
				return true, nil
			}
		}
	}

	if t.store == nil {
		return false, nil
	}
	stored, ok, err := t.store.Fingerprint(ctx, r.Object)
	if err != nil {
		return false, err
	}
	if !ok || stored != fp {
		logger.Debug("stale", "reason", "fingerprint changed")
		return true, nil
	}
	return false, nil
}

// Fingerprint hashes the unit's compiler, command line and source bytes.
func (t *Tracker) Fingerprint(r compile.Request) (string, error) {
	h := blake3.New()
	writeField(h, t.compiler)
	if t.argv != nil {
		for _, a := range t.argv(t.set.Unit(r)) {
			writeField(h, a)
		}
	}

	f, err := os.Open(r.Source)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", r.Source, err)
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", r.Source, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Record stores fingerprints for compiled units and forgets those of failed
// ones. It implements dispatch.Recorder.
func (t *Tracker) Record(ctx context.Context, res *dispatch.Result, _ error) error {
	if t.store == nil || res == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	for _, o := range res.Outcomes {
		switch o.Status {
		case dispatch.StatusCompiled:
			fp, ok := t.pending[o.Object]
			if !ok {
				continue
			}
			if err := t.store.PutFingerprint(ctx, o.Object, o.Source, fp); err != nil {
				errs = append(errs, err)
			}
		case dispatch.StatusFailed:
			if err := t.store.ForgetFingerprint(ctx, o.Object); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func writeField(w io.Writer, s string) {
	_, _ = io.WriteString(w, s)
	_, _ = w.Write([]byte{0})
}

func newerThan(path string, t time.Time) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.ModTime().After(t), nil
}
