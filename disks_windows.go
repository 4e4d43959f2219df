//go:build windows

package main

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
)

func getDiskListDataPlatform() []DiskInfo {
	var disks []DiskInfo
	opener := windowsOpener{}

	// Disk numbers can have gaps after hot removal, so try the whole range.
	for i := 0; i < maxPhysicalDrives; i++ {
		path := physicalDrivePath(i)
		dev, err := opener.OpenDevice(path, FILE_ANY_ACCESS)
		if err != nil {
			if errors.Is(err, windows.ERROR_FILE_NOT_FOUND) || errors.Is(err, windows.ERROR_PATH_NOT_FOUND) {
				continue
			}
			// Exists but could not be opened; let the query report why.
			disks = append(disks, DiskInfo{Path: path, DiskType: "physical"})
			continue
		}
		if err := dev.Close(); err != nil {
			warning("error closing %s: %v", path, err)
		}

		disks = append(disks, DiskInfo{Path: path, DiskType: "physical"})
	}

	return disks
}

// getVolumeListData returns the mounted drive letters
func getVolumeListData() []DiskInfo {
	var volumes []DiskInfo
	driveBits, err := windows.GetLogicalDrives()
	if err != nil {
		return volumes
	}

	for i := 0; i < 26; i++ {
		if driveBits&(1<<uint(i)) != 0 {
			driveLetter := string(rune('A' + i))
			volumes = append(volumes, DiskInfo{
				Path:     fmt.Sprintf(`\\.\%s:`, driveLetter),
				DiskType: "volume",
			})
		}
	}

	return volumes
}
