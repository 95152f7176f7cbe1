// Package mount tells local filesystems apart from network mounts. The build
// ledger (SQLite in WAL mode) and the output lock (flock) both rely on
// locking that NFS and SMB do not provide reliably.
package mount

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/parcc/internal/log"
)

// ErrNetwork is returned when a path that needs local locking is on a
// network mount.
var ErrNetwork = errors.New("path is on a network filesystem")

var networkTypes = map[string]bool{
	"afpfs":  true,
	"cifs":   true,
	"nfs":    true,
	"nfs4":   true,
	"smbfs":  true,
	"smb2":   true,
	"webdav": true,
}

// Info describes the filesystem that holds a path.
type Info struct {
	// Inspected is the path that was statted: the path itself or its
	// nearest existing ancestor.
	Inspected string
	FSType    string
	Network   bool
}

// Detector returns the filesystem type name for an existing path.
type Detector func(path string) (string, error)

// Inspect reports the filesystem holding path. The path does not have to
// exist yet; its nearest existing ancestor is inspected instead.
func (d Detector) Inspect(path string) (Info, error) {
	if path == "" {
		return Info{}, fmt.Errorf("path is empty")
	}
	existing, err := existingAncestor(path)
	if err != nil {
		return Info{}, err
	}
	fsType, err := d(existing)
	if err != nil {
		return Info{Inspected: existing}, fmt.Errorf("detect filesystem for %s: %w", existing, err)
	}
	return Info{
		Inspected: existing,
		FSType:    fsType,
		Network:   networkTypes[strings.ToLower(strings.TrimSpace(fsType))],
	}, nil
}

// RequireLocal fails with ErrNetwork when path is on a network mount. setting
// names the manifest key the user should change. A filesystem that cannot be
// identified is accepted.
func (d Detector) RequireLocal(path, setting string) error {
	info, err := d.Inspect(path)
	if err != nil {
		if info.Inspected == "" {
			return err
		}
		log.WithComponent("mount").Debug("filesystem type unknown, assuming local", "path", path, "error", err)
		return nil
	}
	if info.Network {
		return fmt.Errorf("%w: %s is on %s; point %s at a local directory", ErrNetwork, path, info.FSType, setting)
	}
	return nil
}

// RequireLocal checks path with the host's filesystem detector.
func RequireLocal(path, setting string) error {
	return Detector(Detect).RequireLocal(path, setting)
}

func existingAncestor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path of %s: %w", path, err)
	}
	for p := abs; ; p = filepath.Dir(p) {
		_, err := os.Stat(p)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", p, err)
		}
		if filepath.Dir(p) == p {
			return "", fmt.Errorf("no existing ancestor of %s", abs)
		}
	}
}
