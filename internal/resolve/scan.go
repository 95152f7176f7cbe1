package resolve

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var quotedInclude = regexp.MustCompile(`^\s*#\s*include\s*"([^"]+)"`)

// maxScanLine bounds a single source line read by the scanner.
const maxScanLine = 1024 * 1024

// ScanIncludes follows quoted #include directives from source and returns
// every header it can find, in discovery order. Each include is looked up
// next to the including file first, then in includeDirs. Angle-bracket
// includes and headers that cannot be found are ignored.
func ScanIncludes(source string, includeDirs []string) ([]string, error) {
	seen := map[string]bool{filepath.Clean(source): true}
	var out []string

	queue := []string{source}
	for len(queue) > 0 {
		file := queue[0]
		queue = queue[1:]

		names, err := quotedIncludes(file)
		if err != nil {
			if file == source {
				return nil, err
			}
			continue
		}
		for _, name := range names {
			path, ok := findHeader(name, filepath.Dir(file), includeDirs)
			if !ok || seen[path] {
				continue
			}
			seen[path] = true
			out = append(out, path)
			queue = append(queue, path)
		}
	}
	return out, nil
}

func quotedIncludes(file string) ([]string, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("scan includes: %w", err)
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxScanLine)
	for sc.Scan() {
		if m := quotedInclude.FindSubmatch(sc.Bytes()); m != nil {
			names = append(names, string(m[1]))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan includes in %s: %w", file, err)
	}
	return names, nil
}

func findHeader(name, dir string, includeDirs []string) (string, bool) {
	if filepath.IsAbs(name) {
		return filepath.Clean(name), isFile(name)
	}
	candidates := append([]string{dir}, includeDirs...)
	for _, d := range candidates {
		p := filepath.Clean(filepath.Join(d, name))
		if isFile(p) {
			return p, true
		}
	}
	return "", false
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
