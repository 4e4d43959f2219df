package main

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// maxPhysicalDrives bounds the \\.\PhysicalDriveN scan.
const maxPhysicalDrives = 64

// DiskInfo represents a device that can be queried for partition info
type DiskInfo struct {
	Path     string // Device path, e.g. \\.\PhysicalDrive0 or \\.\C:
	DiskType string // Type: "physical", "volume"
}

// getDiskListData returns the queryable devices of this machine
// Platform-specific implementations in disks_windows.go and device_other.go
func getDiskListData() []DiskInfo {
	return getDiskListDataPlatform()
}

func physicalDrivePath(diskNumber int) string {
	return fmt.Sprintf(`\\.\PhysicalDrive%d`, diskNumber)
}

// normalizeDevicePath turns drive letters (C, C:, C:\) into \\.\C: and strips
// the trailing separator from volume GUID paths.
func normalizeDevicePath(path string) string {
	trimmed := strings.TrimRight(path, `\/`)

	letter := strings.TrimSuffix(strings.ToUpper(trimmed), ":")
	if len(letter) == 1 && letter[0] >= 'A' && letter[0] <= 'Z' {
		return fmt.Sprintf(`\\.\%s:`, letter)
	}

	if strings.HasPrefix(trimmed, `\\?\`) || strings.HasPrefix(trimmed, `\\.\`) {
		return trimmed
	}

	return path
}

// diskFromDeviceNumber decodes a STORAGE_DEVICE_NUMBER reply for devicePath.
// Only disks are redirected to \\.\PhysicalDriveN; other device types such
// as CD-ROMs share the number space with no disk and keep devicePath.
func diskFromDeviceNumber(buf []byte, devicePath string) (int, string, error) {
	if err := checkBounds(buf, 0, storageDeviceNumberSize, "STORAGE_DEVICE_NUMBER"); err != nil {
		return -1, "", err
	}

	deviceType := binary.LittleEndian.Uint32(buf[0:4])
	deviceNumber := int(binary.LittleEndian.Uint32(buf[4:8]))

	if deviceType != FILE_DEVICE_DISK {
		return deviceNumber, devicePath, nil
	}
	return deviceNumber, physicalDrivePath(deviceNumber), nil
}
