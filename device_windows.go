//go:build windows

package main

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
)

// windowsDevice is an open disk or volume handle.
type windowsDevice struct {
	handle windows.Handle
}

func (d *windowsDevice) DeviceIoControl(controlCode uint32, out []byte) (uint32, error) {
	var (
		bytesReturned uint32
		outPtr        *byte
	)
	if len(out) > 0 {
		outPtr = &out[0]
	}

	err := windows.DeviceIoControl(
		d.handle,
		controlCode,
		nil,
		0,
		outPtr,
		uint32(len(out)),
		&bytesReturned,
		nil)

	return bytesReturned, err
}

func (d *windowsDevice) Close() error {
	return windows.CloseHandle(d.handle)
}

type windowsOpener struct{}

func newDeviceOpener() deviceOpener {
	return windowsOpener{}
}

func (windowsOpener) OpenDevice(path string, access uint32) (deviceHandle, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, err
	}

	h, err := windows.CreateFile(
		p,
		access,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil,
		windows.OPEN_EXISTING,
		0,
		0)
	if err != nil {
		if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
			return nil, fmt.Errorf("access denied, run as administrator: %w", err)
		}
		return nil, err
	}

	return &windowsDevice{handle: h}, nil
}

// ResolveDeviceNumber asks the storage stack which disk backs path. Volumes on
// dynamic disks do not answer IOCTL_STORAGE_GET_DEVICE_NUMBER; for those the
// first volume extent names the disk.
func (o windowsOpener) ResolveDeviceNumber(path string) (int, string, error) {
	devicePath := normalizeDevicePath(path)

	dev, err := o.OpenDevice(devicePath, FILE_ANY_ACCESS)
	if err != nil {
		return -1, "", err
	}
	defer dev.Close()

	buf, err := queryDevice(dev, IOCTL_STORAGE_GET_DEVICE_NUMBER, storageDeviceNumberSize)
	if err == nil {
		return diskFromDeviceNumber(buf, devicePath)
	}

	// Extents do not fit when the volume spans several disks; the first one is
	// filled in regardless.
	extents := make([]byte, 256)
	_, extErr := dev.DeviceIoControl(IOCTL_VOLUME_GET_VOLUME_DISK_EXTENTS, extents)
	if extErr != nil && !errors.Is(extErr, windows.ERROR_MORE_DATA) {
		if err == nil {
			err = extErr
		}
		return -1, "", fmt.Errorf("error getting device number: %w", err)
	}

	if binary.LittleEndian.Uint32(extents[0:4]) == 0 {
		return -1, "", fmt.Errorf("no disk extents found for volume %s", devicePath)
	}

	// VOLUME_DISK_EXTENTS: count, padding, then DISK_EXTENT{DiskNumber, ...}.
	diskNumber := int(binary.LittleEndian.Uint32(extents[8:12]))
	return diskNumber, physicalDrivePath(diskNumber), nil
}

// isElevated reports whether the process token is elevated.
func isElevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}
