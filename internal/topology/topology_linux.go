//go:build linux

package topology

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const sysCPUGlob = "/sys/devices/system/cpu/cpu[0-9]*/topology"

// osPhysicalCores counts distinct (package, core) pairs exposed by sysfs.
func osPhysicalCores() (int, error) {
	return countSysfsCores(sysCPUGlob)
}

func countSysfsCores(pattern string) (int, error) {
	dirs, err := filepath.Glob(pattern)
	if err != nil {
		return 0, fmt.Errorf("glob %q: %w", pattern, err)
	}
	if len(dirs) == 0 {
		return 0, fmt.Errorf("no cpu topology entries under %q", pattern)
	}

	cores := make(map[string]struct{}, len(dirs))
	for _, dir := range dirs {
		pkg, err := readTrimmed(filepath.Join(dir, "physical_package_id"))
		if err != nil {
			return 0, err
		}
		core, err := readTrimmed(filepath.Join(dir, "core_id"))
		if err != nil {
			return 0, err
		}
		cores[pkg+":"+core] = struct{}{}
	}
	return len(cores), nil
}

func readTrimmed(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return strings.TrimSpace(string(b)), nil
}
