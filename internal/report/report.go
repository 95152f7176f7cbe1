package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/parcc/internal/compile"
	"github.com/mattjoyce/parcc/internal/dispatch"
	"github.com/mattjoyce/parcc/internal/ledger"
)

// Report is the structured form of one build.
type Report struct {
	BuildID    string    `json:"build_id"`
	Status     string    `json:"status"`
	PoolSize   int       `json:"pool_size"`
	Compiled   int       `json:"compiled"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	Units      []Unit    `json:"units"`
}

// Unit is one translation unit of a Report.
type Unit struct {
	Source     string `json:"source"`
	Object     string `json:"object"`
	Status     string `json:"status"`
	ExitCode   *int   `json:"exit_code,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

// FromResult builds a Report from a finished dispatch.
func FromResult(res *dispatch.Result, buildErr error) *Report {
	r := &Report{
		BuildID:    res.BuildID,
		Status:     ledger.BuildSucceeded,
		PoolSize:   res.PoolSize,
		Compiled:   res.Compiled,
		Skipped:    res.Skipped,
		Failed:     res.Failed,
		StartedAt:  res.StartedAt,
		DurationMS: res.Duration.Milliseconds(),
		Units:      make([]Unit, 0, len(res.Outcomes)),
	}
	if buildErr != nil {
		r.Status = ledger.BuildFailed
		r.Error = headline(buildErr)
	}
	for _, o := range res.Outcomes {
		u := Unit{
			Source:     o.Source,
			Object:     o.Object,
			Status:     string(o.Status),
			DurationMS: o.Duration.Milliseconds(),
		}
		if o.Err != nil {
			u.Error = o.Err.Error()
			var cie *compile.CompilerInvocationError
			if errors.As(o.Err, &cie) {
				code := cie.ExitCode
				u.ExitCode = &code
				u.Diagnostic = cie.Diagnostic
			}
		}
		r.Units = append(r.Units, u)
	}
	return r
}

// Load reads a stored build. An empty id selects the latest build.
func Load(ctx context.Context, l *ledger.Ledger, id string) (*Report, error) {
	var (
		b   *ledger.Build
		err error
	)
	if strings.TrimSpace(id) == "" {
		b, err = l.Latest(ctx)
	} else {
		b, err = l.Get(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	units, err := l.Units(ctx, b.ID)
	if err != nil {
		return nil, err
	}

	r := &Report{
		BuildID:    b.ID,
		Status:     b.Status,
		PoolSize:   b.PoolSize,
		Compiled:   b.Compiled,
		Skipped:    b.Skipped,
		Failed:     b.Failed,
		StartedAt:  b.StartedAt,
		DurationMS: b.Duration.Milliseconds(),
		Units:      make([]Unit, 0, len(units)),
	}
	if b.LastError != nil {
		r.Error = firstLine(*b.LastError)
	}
	for _, u := range units {
		ru := Unit{
			Source:     u.Source,
			Object:     u.Object,
			Status:     string(u.Status),
			ExitCode:   u.ExitCode,
			DurationMS: u.Duration.Milliseconds(),
		}
		if u.Error != nil {
			ru.Error = *u.Error
		}
		if u.Diagnostic != nil {
			ru.Diagnostic = *u.Diagnostic
		}
		r.Units = append(r.Units, ru)
	}
	return r, nil
}

// Render formats r for the terminal. Current units are listed only when
// verbose is set; failed units always carry their diagnostic.
func Render(th Theme, r *Report, verbose bool) string {
	var out strings.Builder
	fmt.Fprintf(&out, "%s\n", th.Title.Render("Build "+r.BuildID))
	fmt.Fprintf(&out, "Status     : %s\n", th.status(r.Status).Render(r.Status))
	fmt.Fprintf(&out, "Pool size  : %d\n", r.PoolSize)
	fmt.Fprintf(&out, "Units      : %d compiled, %d current, %d failed\n", r.Compiled, r.Skipped, r.Failed)
	if !r.StartedAt.IsZero() {
		fmt.Fprintf(&out, "Started    : %s\n", r.StartedAt.Local().Format(time.RFC3339))
	}
	fmt.Fprintf(&out, "Duration   : %s\n", (time.Duration(r.DurationMS) * time.Millisecond).String())
	if r.Error != "" {
		fmt.Fprintf(&out, "Error      : %s\n", th.StatusFailed.Render(r.Error))
	}

	listed := false
	for _, u := range r.Units {
		if u.Status == string(dispatch.StatusCurrent) && !verbose {
			continue
		}
		if !listed {
			fmt.Fprintf(&out, "\n%s\n", th.Header.Render("Units"))
			listed = true
		}
		status := padRender(th.status(u.Status), u.Status, 11)
		fmt.Fprintf(&out, "  %s %s %s\n", status, u.Source, th.Dim.Render("-> "+u.Object))
		if u.Status == string(dispatch.StatusFailed) {
			if u.ExitCode != nil {
				fmt.Fprintf(&out, "      exit code  : %d\n", *u.ExitCode)
			}
			switch {
			case u.Diagnostic != "":
				for _, line := range strings.Split(strings.TrimRight(u.Diagnostic, "\n"), "\n") {
					fmt.Fprintf(&out, "      %s\n", th.Highlight.Render(line))
				}
			case u.Error != "":
				fmt.Fprintf(&out, "      %s\n", th.Highlight.Render(u.Error))
			}
		}
	}
	return out.String()
}

// JSON returns the indented JSON form of r.
func JSON(r *Report) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

// PlanEntry is one unit of a dry run.
type PlanEntry struct {
	Source string `json:"source"`
	Object string `json:"object"`
	Stale  bool   `json:"stale"`
	Error  string `json:"error,omitempty"`
}

// RenderPlan lists which units a build would compile.
func RenderPlan(th Theme, entries []PlanEntry) string {
	var out strings.Builder
	stale := 0
	for _, e := range entries {
		label, style := "current", th.StatusCurrent
		switch {
		case e.Error != "":
			label, style = "error", th.StatusFailed
		case e.Stale:
			label, style = "compile", th.StatusCompiled
			stale++
		}
		fmt.Fprintf(&out, "  %s %s %s\n", padRender(style, label, 8), e.Source, th.Dim.Render("-> "+e.Object))
		if e.Error != "" {
			fmt.Fprintf(&out, "      %s\n", th.Highlight.Render(e.Error))
		}
	}
	fmt.Fprintf(&out, "%s\n", th.Header.Render(fmt.Sprintf("%d of %d units would compile", stale, len(entries))))
	return out.String()
}

// padRender styles s and pads it to width outside the styled span.
func padRender(style lipgloss.Style, s string, width int) string {
	if pad := width - len(s); pad > 0 {
		return style.Render(s) + strings.Repeat(" ", pad)
	}
	return style.Render(s)
}

func headline(err error) string {
	var be *compile.BuildError
	if errors.As(err, &be) {
		return fmt.Sprintf("%d of %d units failed", len(be.Failures), be.Total)
	}
	return firstLine(err.Error())
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
