package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattjoyce/parcc/internal/cc"
	"github.com/mattjoyce/parcc/internal/compile"
	"github.com/mattjoyce/parcc/internal/config"
	"github.com/mattjoyce/parcc/internal/dispatch"
	"github.com/mattjoyce/parcc/internal/ledger"
	"github.com/mattjoyce/parcc/internal/lock"
	"github.com/mattjoyce/parcc/internal/log"
	"github.com/mattjoyce/parcc/internal/report"
	"github.com/mattjoyce/parcc/internal/resolve"
	"github.com/mattjoyce/parcc/internal/storage"
)

// session is everything a build or plan needs once the manifest is loaded.
type session struct {
	cfg      *config.Config
	set      *compile.JobSet
	compiler *cc.Compiler
	tracker  *resolve.Tracker
	db       *sql.DB
	ledger   *ledger.Ledger
}

func openSession(ctx context.Context, cfg *config.Config, force bool) (*session, error) {
	set, err := resolve.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, set: set, compiler: newCompiler(cfg)}

	var trackerOpts []resolve.TrackerOption
	trackerOpts = append(trackerOpts,
		resolve.WithForce(force),
		resolve.WithIncludeScan(cfg.Build.IncludeScan),
	)
	if !cfg.State.Disabled {
		db, err := storage.OpenSQLite(ctx, cfg.Resolve(cfg.State.Path))
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		s.db = db
		s.ledger = ledger.New(db, cfg.State.BuildRetention)
		trackerOpts = append(trackerOpts, resolve.WithStore(s.ledger))
	}

	s.tracker = resolve.NewTracker(set, s.compiler.Path(), s.compiler.Args, trackerOpts...)
	set.Staleness = s.tracker
	return s, nil
}

func (s *session) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

// newCompiler resolves a compiler given as a path against the manifest
// directory; bare names are looked up in $PATH.
func newCompiler(cfg *config.Config) *cc.Compiler {
	path := cfg.Build.Compiler
	if strings.ContainsRune(path, os.PathSeparator) {
		path = cfg.Resolve(path)
	}
	return cc.New(path,
		cc.WithGracePeriod(cfg.Build.GracePeriod),
		cc.WithEnv(cfg.Build.Env...),
	)
}

func runBuild(args []string) int {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to parcc.yaml or its directory")
	force := fs.Bool("force", false, "Recompile every unit")
	jobs := fs.Int("jobs", 0, "Worker pool size (0 uses build.jobs, then physical cores)")
	failFast := fs.Bool("fail-fast", false, "Stop starting units after the first failure")
	verify := fs.Bool("verify", false, "Verify the manifest against its locked checksums first")
	jsonOut := fs.Bool("json", false, "Print the build report as JSON")
	verbose := fs.Bool("v", false, "List current units too")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "Unexpected argument: %s\n", fs.Arg(0))
		return exitUsage
	}
	if *jobs < 0 {
		fmt.Fprintln(os.Stderr, "--jobs must be >= 0")
		return exitUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitUsage
	}
	logger := log.WithComponent("main")

	if *verify {
		if err := config.Verify(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Manifest verification failed: %v\n", err)
			return exitUsage
		}
	}

	outDir := cfg.Resolve(cfg.Build.OutputDir)
	outLock, err := lock.Acquire(outDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock output directory: %v\n", err)
		return exitUsage
	}
	defer outLock.Release()
	logger.Debug("acquired output lock", "path", outLock.Path())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, cfg, *force)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to prepare build: %v\n", err)
		return exitUsage
	}
	defer s.Close()

	opts := dispatch.Options{
		Jobs:        cfg.Build.Jobs,
		FailFast:    cfg.Build.FailFast || *failFast,
		UnitTimeout: cfg.Build.UnitTimeout,
	}
	if *jobs > 0 {
		opts.Jobs = *jobs
	}
	recorders := dispatch.Recorders{s.tracker}
	if s.ledger != nil {
		recorders = append(recorders, s.ledger)
	}
	opts.Recorder = recorders

	res, err := dispatch.New(s.compiler, opts).Dispatch(ctx, s.set)
	if res == nil {
		fmt.Fprintf(os.Stderr, "Build rejected: %v\n", err)
		return exitUsage
	}

	r := report.FromResult(res, err)
	if *jsonOut {
		out, jerr := report.JSON(r)
		if jerr != nil {
			fmt.Fprintf(os.Stderr, "%v\n", jerr)
			return exitUsage
		}
		fmt.Println(out)
	} else {
		fmt.Print(report.Render(report.NewDefaultTheme(), r, *verbose))
	}

	if err != nil {
		var buildErr *compile.BuildError
		if errors.As(err, &buildErr) {
			logger.Warn("build failed", "build_id", res.BuildID, "failed_sources", buildErr.FailedSources())
			return exitBuildFailed
		}
		fmt.Fprintf(os.Stderr, "Build error: %v\n", err)
		return exitUsage
	}
	return exitOK
}

func runPlan(args []string) int {
	fs := flag.NewFlagSet("plan", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to parcc.yaml or its directory")
	force := fs.Bool("force", false, "Treat every unit as stale")
	jsonOut := fs.Bool("json", false, "Print the plan as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitUsage
	}

	ctx := context.Background()
	s, err := openSession(ctx, cfg, *force)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to prepare plan: %v\n", err)
		return exitUsage
	}
	defer s.Close()

	if err := s.set.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Build rejected: %v\n", err)
		return exitUsage
	}

	entries := make([]report.PlanEntry, 0, s.set.Len())
	for _, r := range s.set.Requests {
		e := report.PlanEntry{Source: r.Source, Object: r.Object}
		stale, err := s.tracker.Stale(ctx, r)
		if err != nil {
			e.Error = err.Error()
		}
		e.Stale = stale
		entries = append(entries, e)
	}

	if *jsonOut {
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render plan JSON: %v\n", err)
			return exitUsage
		}
		fmt.Println(string(data))
		return exitOK
	}
	fmt.Print(report.RenderPlan(report.NewDefaultTheme(), entries))
	return exitOK
}

func runInspect(args []string) int {
	if hasHelpFlag(args) {
		printInspectHelp()
		return exitOK
	}

	var buildID string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		buildID, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to parcc.yaml or its directory")
	jsonOut := fs.Bool("json", false, "Print the report as JSON")
	verbose := fs.Bool("v", false, "List current units too")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitUsage
	}
	if buildID == "" && fs.NArg() > 0 {
		buildID = fs.Arg(0)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitUsage
	}
	if cfg.State.Disabled {
		fmt.Fprintln(os.Stderr, "The build ledger is disabled (state.disabled: true)")
		return exitUsage
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.Resolve(cfg.State.Path))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open ledger: %v\n", err)
		return exitUsage
	}
	defer db.Close()

	r, err := report.Load(ctx, ledger.New(db, 0), buildID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load build: %v\n", err)
		return exitUsage
	}

	if *jsonOut {
		out, err := report.JSON(r)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return exitUsage
		}
		fmt.Println(out)
		return exitOK
	}
	fmt.Print(report.Render(report.NewDefaultTheme(), r, *verbose))
	return exitOK
}
