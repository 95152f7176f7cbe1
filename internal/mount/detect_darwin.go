//go:build darwin

package mount

import (
	"fmt"
	"strings"
	"syscall"
)

// Detect returns the filesystem type name reported by statfs, e.g. "apfs".
func Detect(path string) (string, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs %s: %w", path, err)
	}
	var b strings.Builder
	for _, c := range st.Fstypename {
		if c == 0 {
			break
		}
		b.WriteByte(byte(c))
	}
	return b.String(), nil
}
