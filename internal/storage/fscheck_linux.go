//go:build linux

package storage

import (
	"fmt"
	"syscall"
)

// statfs f_type values, see statfs(2).
var linuxFilesystemMagic = map[uint64]string{
	0x6969:     "nfs",
	0xFF534D42: "cifs",
	0x517B:     "smbfs",
	0xFE534D42: "smb2",
	0x01021997: "9p",
	0x00C36400: "ceph",
	0x5346414F: "afs",
	0xEF53:     "ext4",
	0x58465342: "xfs",
	0x9123683E: "btrfs",
	0x01021994: "tmpfs",
	0x794C7630: "overlay",
}

func detectFilesystemType(path string) (string, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}
	return linuxFilesystemName(uint64(st.Type)), nil
}

// linuxFilesystemName maps a magic number to a name; unknown ones come back
// as hex so logs still show them.
func linuxFilesystemName(magic uint64) string {
	if name, ok := linuxFilesystemMagic[magic]; ok {
		return name
	}
	return fmt.Sprintf("0x%x", magic)
}
