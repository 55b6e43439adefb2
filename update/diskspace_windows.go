//go:build windows

package update

import "golang.org/x/sys/windows"

// availableDiskSpaceMB returns the free space in MB on the volume
// containing path, using the typed x/sys/windows wrapper around
// GetDiskFreeSpaceExW rather than a raw syscall.NewLazyDLL lookup.
func availableDiskSpaceMB(path string) (int64, error) {
	var freeBytesAvailable, totalBytes, totalFreeBytes uint64
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}
	if err := windows.GetDiskFreeSpaceEx(pathPtr, &freeBytesAvailable, &totalBytes, &totalFreeBytes); err != nil {
		return 0, err
	}
	return int64(freeBytesAvailable / (1024 * 1024)), nil
}
