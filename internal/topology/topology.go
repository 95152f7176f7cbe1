// Package topology sizes the compile worker pool from the host's physical core count.
package topology

import (
	"errors"
	"log/slog"

	"github.com/klauspost/cpuid/v2"

	"github.com/mattjoyce/parcc/internal/compile"
)

// Detector reports the number of physical cores on the host.
type Detector func() (int, error)

// PhysicalCores detects physical cores, excluding SMT siblings. cpuid is
// authoritative on x86; elsewhere the OS-specific fallback is consulted.
func PhysicalCores() (int, error) {
	return physicalCores(cpuidCores, osPhysicalCores)
}

func cpuidCores() int {
	return cpuid.CPU.PhysicalCores
}

func physicalCores(fromCPUID func() int, fromOS func() (int, error)) (int, error) {
	if n := fromCPUID(); n > 0 {
		return n, nil
	}
	n, err := fromOS()
	if err != nil {
		return 0, &compile.TopologyError{Err: err}
	}
	if n <= 0 {
		return 0, &compile.TopologyError{Err: errors.New("no physical cores reported")}
	}
	return n, nil
}

// PoolSize returns the number of workers for one dispatch. A positive override
// wins; otherwise the detected core count is used. The result is never below 1:
// detection failures are logged and degrade to sequential execution.
func PoolSize(override int, detect Detector, logger *slog.Logger) int {
	if override > 0 {
		return override
	}
	if detect == nil {
		detect = PhysicalCores
	}

	n, err := detect()
	if err != nil {
		var te *compile.TopologyError
		if !errors.As(err, &te) {
			err = &compile.TopologyError{Err: err}
		}
		if logger != nil {
			logger.Warn("physical core detection failed, compiling sequentially", "error", err)
		}
		return 1
	}
	return max(1, n)
}
