//go:build !linux

package topology

import (
	"fmt"
	"runtime"
)

func osPhysicalCores() (int, error) {
	return 0, fmt.Errorf("physical core detection unsupported on %s", runtime.GOOS)
}
