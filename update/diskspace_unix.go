//go:build !windows

package update

import "golang.org/x/sys/unix"

// availableDiskSpaceMB returns the free space in MB on the filesystem
// containing path.
func availableDiskSpaceMB(path string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize) / (1024 * 1024), nil
}
