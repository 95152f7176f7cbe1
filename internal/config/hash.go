package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumsFilename is written next to the root manifest by Lock.
const ChecksumsFilename = ".parcc.checksums"

// ChecksumManifest maps manifest file names (relative to the root manifest
// directory) to their BLAKE3 hashes.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// ManifestFiles returns the root manifest and every included file, relative
// to the root manifest's directory and sorted.
func ManifestFiles(cfg *Config) ([]string, error) {
	visited := map[string]bool{cfg.Path: true}
	if err := collectIncludes(cfg.Include, cfg.Dir, visited); err != nil {
		return nil, err
	}

	files := make([]string, 0, len(visited))
	for abs := range visited {
		rel, err := filepath.Rel(cfg.Dir, abs)
		if err != nil {
			return nil, fmt.Errorf("relativize %s: %w", abs, err)
		}
		files = append(files, rel)
	}
	sort.Strings(files)
	return files, nil
}

func collectIncludes(includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		includePath = interpolateEnv(includePath)
		if !filepath.IsAbs(includePath) {
			includePath = filepath.Join(baseDir, includePath)
		}
		absPath, err := filepath.Abs(includePath)
		if err != nil {
			return fmt.Errorf("include[%d]: %w", i, err)
		}
		if visited[absPath] {
			continue
		}
		visited[absPath] = true

		var partial Config
		if err := decodeFile(absPath, &partial); err != nil {
			return err
		}
		if err := collectIncludes(partial.Include, filepath.Dir(absPath), visited); err != nil {
			return err
		}
	}
	return nil
}

// Lock hashes every manifest file and writes the checksums file.
func Lock(cfg *Config) (*ChecksumManifest, error) {
	files, err := ManifestFiles(cfg)
	if err != nil {
		return nil, err
	}

	manifest := &ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      make(map[string]string, len(files)),
	}
	for _, rel := range files {
		hash, err := ComputeBlake3Hash(filepath.Join(cfg.Dir, rel))
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", rel, err)
		}
		manifest.Hashes[rel] = hash
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checksums: %w", err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Dir, ChecksumsFilename), data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write checksums: %w", err)
	}
	return manifest, nil
}

// LoadChecksums reads the checksums file from dir.
func LoadChecksums(dir string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ChecksumsFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("checksums file not found (run 'parcc config lock')")
		}
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}
	return &manifest, nil
}

// Verify checks every manifest file against the locked checksums. A file
// that is new, missing, or modified since the lock is an error.
func Verify(cfg *Config) error {
	manifest, err := LoadChecksums(cfg.Dir)
	if err != nil {
		return err
	}
	files, err := ManifestFiles(cfg)
	if err != nil {
		return err
	}

	current := make(map[string]bool, len(files))
	for _, rel := range files {
		current[rel] = true
		expected, ok := manifest.Hashes[rel]
		if !ok {
			return fmt.Errorf("manifest file %s has no locked hash (run 'parcc config lock')", rel)
		}
		actual, err := ComputeBlake3Hash(filepath.Join(cfg.Dir, rel))
		if err != nil {
			return fmt.Errorf("failed to hash %s: %w", rel, err)
		}
		if actual != expected {
			return fmt.Errorf("hash mismatch for %s: expected %s, got %s\n"+
				"If you edited this file intentionally, run: parcc config lock", rel, expected, actual)
		}
	}
	for rel := range manifest.Hashes {
		if !current[rel] {
			return fmt.Errorf("locked file %s is no longer part of the manifest", rel)
		}
	}
	return nil
}
