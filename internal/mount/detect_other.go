//go:build !darwin && !linux

package mount

import (
	"errors"
	"fmt"
	"runtime"
)

// Detect is not implemented on this platform; callers treat the result as
// an unknown, local filesystem.
func Detect(string) (string, error) {
	return "", fmt.Errorf("%w on %s", errors.ErrUnsupported, runtime.GOOS)
}
