package main

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// deviceOpener supplies the handles and identities the partition reader
// works on.
type deviceOpener interface {
	// OpenDevice opens path with the given access rights.
	OpenDevice(path string, access uint32) (deviceHandle, error)
	// ResolveDeviceNumber returns the disk number behind path and the path
	// that should be opened to query the disk.
	ResolveDeviceNumber(path string) (int, string, error)
}

// partitionInfoReader reads partition layout and geometry from devices.
type partitionInfoReader struct {
	cfg    NegotiationConfig
	logger *zap.Logger
}

func newPartitionInfoReader(cfg NegotiationConfig, logger *zap.Logger) *partitionInfoReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &partitionInfoReader{cfg: cfg, logger: logger}
}

// query negotiates a reply for controlCode starting from initial bytes.
func (r *partitionInfoReader) query(dev deviceQuerier, controlCode uint32, initial int) ([]byte, error) {
	logger := r.logger.With(zap.String("ioctl", fmt.Sprintf("0x%08x", controlCode)))

	return r.cfg.negotiate(logger, initial, func(size int) ([]byte, error) {
		return queryDevice(dev, controlCode, size)
	})
}

// diskGeometryEx returns the extended geometry of the disk. Devices that
// cannot answer yield a zero geometry.
func (r *partitionInfoReader) diskGeometryEx(dev deviceQuerier, devicePath string) (ExtendedDiskGeometry, error) {
	buf, err := r.query(dev, IOCTL_DISK_GET_DRIVE_GEOMETRY_EX, r.cfg.GeometryBufferSize)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			r.logger.Debug("disk geometry unavailable", zap.String("device", devicePath), zap.Error(err))
			return ExtendedDiskGeometry{}, nil
		}
		return ExtendedDiskGeometry{}, fmt.Errorf("error getting disk geometry of %s: %w", devicePath, err)
	}

	geometry, err := decodeDiskGeometryEx(buf)
	if err != nil {
		return ExtendedDiskGeometry{}, fmt.Errorf("error decoding disk geometry of %s: %w", devicePath, err)
	}

	return geometry, nil
}

// driveLayout returns the partition table of the disk, or nil when the
// device has none to give.
func (r *partitionInfoReader) driveLayout(dev deviceQuerier, devicePath string) (*DriveLayoutTable, error) {
	buf, err := r.query(dev, IOCTL_DISK_GET_DRIVE_LAYOUT_EX, r.cfg.LayoutBufferSize)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			r.logger.Debug("drive layout unavailable", zap.String("device", devicePath), zap.Error(err))
			return nil, nil
		}
		return nil, fmt.Errorf("error getting drive layout of %s: %w", devicePath, err)
	}

	layout, err := decodeDriveLayout(buf)
	if err != nil {
		if errors.Is(err, ErrMalformedReply) {
			r.logger.Warn("ignoring drive layout", zap.String("device", devicePath), zap.Error(err))
			return nil, nil
		}
		return nil, err
	}

	return layout, nil
}

// storagePartitionInfo assembles the partition info of an open device. The
// layout is queried before the geometry. A nil result with a nil error means
// the device has no partition information.
func (r *partitionInfoReader) storagePartitionInfo(dev deviceQuerier, deviceNumber int, devicePath string) (*StoragePartitionInfo, error) {
	layout, err := r.driveLayout(dev, devicePath)
	if err != nil || layout == nil {
		return nil, err
	}

	geometry, err := r.diskGeometryEx(dev, devicePath)
	if err != nil {
		return nil, err
	}

	return &StoragePartitionInfo{
		DeviceNumber: deviceNumber,
		Geometry:     geometry,
		Layout:       layout.Header,
		Partitions:   layout.Partitions,
	}, nil
}

// readStoragePartitionInfo resolves path to a disk, opens it and reads its
// partition info. The device handle is closed before returning.
func (r *partitionInfoReader) readStoragePartitionInfo(opener deviceOpener, elevated bool, path string) (info *StoragePartitionInfo, err error) {
	deviceNumber, devicePath, err := opener.ResolveDeviceNumber(path)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			r.logger.Debug("device number unavailable", zap.String("device", path), zap.Error(err))
			return nil, nil
		}
		return nil, fmt.Errorf("error resolving device number of %s: %w", path, err)
	}

	var access uint32 = FILE_ANY_ACCESS
	if elevated {
		access = GENERIC_READ
	}

	dev, err := opener.OpenDevice(devicePath, access)
	if err != nil {
		return nil, fmt.Errorf("error opening %s: %w", devicePath, err)
	}
	defer func() {
		if closeErr := dev.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("error closing %s: %w", devicePath, closeErr)
			info = nil
		}
	}()

	r.logger.Debug("reading partition info",
		zap.String("device", devicePath),
		zap.Int("device_number", deviceNumber),
		zap.Bool("elevated", elevated),
	)

	return r.storagePartitionInfo(dev, deviceNumber, devicePath)
}
