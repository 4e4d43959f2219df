//go:build !windows

package main

import "os"

// unsupportedOpener is used where the disk control interface does not exist.
// Snapshots can still be decoded through replayOpener.
type unsupportedOpener struct{}

func newDeviceOpener() deviceOpener {
	return unsupportedOpener{}
}

func (unsupportedOpener) OpenDevice(string, uint32) (deviceHandle, error) {
	return nil, ErrUnsupportedPlatform
}

func (unsupportedOpener) ResolveDeviceNumber(string) (int, string, error) {
	return -1, "", ErrUnsupportedPlatform
}

func isElevated() bool {
	return os.Geteuid() == 0
}

func getDiskListDataPlatform() []DiskInfo {
	return nil
}

func getVolumeListData() []DiskInfo {
	return nil
}
