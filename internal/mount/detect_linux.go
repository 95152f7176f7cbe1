//go:build linux

package mount

import (
	"fmt"
	"syscall"
)

// statfs f_type magic numbers, from linux/magic.h.
var linuxFSTypes = map[uint32]string{
	0x6969:     "nfs",
	0xFF534D42: "cifs",
	0x517B:     "smbfs",
	0xFE534D42: "smb2",
	0xEF53:     "ext4",
	0x58465342: "xfs",
	0x9123683E: "btrfs",
	0x01021994: "tmpfs",
	0x794C7630: "overlay",
	0x2FC12FC1: "zfs",
}

// Detect returns the filesystem type of an existing path. Unknown magic
// numbers are returned in hex.
func Detect(path string) (string, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs %s: %w", path, err)
	}
	magic := uint32(st.Type)
	if name, ok := linuxFSTypes[magic]; ok {
		return name, nil
	}
	return fmt.Sprintf("0x%x", magic), nil
}
