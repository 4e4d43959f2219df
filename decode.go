package main

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/google/uuid"
)

// checkBounds reports ErrMalformedReply when size bytes at offset do not fit
// in buf.
func checkBounds(buf []byte, offset, size int, what string) error {
	if offset < 0 || size < 0 || offset+size > len(buf) {
		return fmt.Errorf("%w: %s needs %d bytes at offset %d, reply has %d", ErrMalformedReply, what, size, offset, len(buf))
	}
	return nil
}

// guidFromBytes converts a Windows GUID (Data1-3 little-endian) to a UUID.
func guidFromBytes(b []byte) uuid.UUID {
	var u uuid.UUID
	if len(b) < 16 {
		return u
	}
	binary.BigEndian.PutUint32(u[0:4], binary.LittleEndian.Uint32(b[0:4]))
	binary.BigEndian.PutUint16(u[4:6], binary.LittleEndian.Uint16(b[4:6]))
	binary.BigEndian.PutUint16(u[6:8], binary.LittleEndian.Uint16(b[6:8]))
	copy(u[8:], b[8:16])
	return u
}

// decodeUTF16LE decodes a NUL-terminated UTF-16LE partition name.
func decodeUTF16LE(b []byte) string {
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	u16 := make([]uint16, 0, len(b)/2)
	for i := 0; i < len(b); i += 2 {
		v := binary.LittleEndian.Uint16(b[i : i+2])
		if v == 0 {
			break
		}
		u16 = append(u16, v)
	}
	return string(utf16.Decode(u16))
}

// decodeDriveLayoutHeader decodes DRIVE_LAYOUT_INFORMATION_EX up to the
// first partition entry.
func decodeDriveLayoutHeader(buf []byte, offset int) (DriveLayoutHeader, int, error) {
	if err := checkBounds(buf, offset, driveLayoutHeaderSize, "drive layout header"); err != nil {
		return DriveLayoutHeader{}, 0, err
	}
	b := buf[offset : offset+driveLayoutHeaderSize]

	h := DriveLayoutHeader{
		PartitionStyle: PartitionStyle(binary.LittleEndian.Uint32(b[0:4])),
		PartitionCount: binary.LittleEndian.Uint32(b[4:8]),
	}

	switch h.PartitionStyle {
	case PartitionStyleMBR:
		h.MBR = &DriveLayoutMBR{
			Signature: binary.LittleEndian.Uint32(b[8:12]),
			CheckSum:  binary.LittleEndian.Uint32(b[12:16]),
		}
	case PartitionStyleGPT:
		h.GPT = &DriveLayoutGPT{
			DiskID:               guidFromBytes(b[8:24]),
			StartingUsableOffset: int64(binary.LittleEndian.Uint64(b[24:32])),
			UsableLength:         int64(binary.LittleEndian.Uint64(b[32:40])),
			MaxPartitionCount:    binary.LittleEndian.Uint32(b[40:44]),
		}
	}

	return h, driveLayoutHeaderSize, nil
}

// decodePartitionRecord decodes one PARTITION_INFORMATION_EX entry.
func decodePartitionRecord(buf []byte, offset int) (PartitionRecord, int, error) {
	if err := checkBounds(buf, offset, partitionRecordSize, "partition record"); err != nil {
		return PartitionRecord{}, 0, err
	}
	b := buf[offset : offset+partitionRecordSize]

	p := PartitionRecord{
		PartitionStyle:     PartitionStyle(binary.LittleEndian.Uint32(b[0:4])),
		StartingOffset:     int64(binary.LittleEndian.Uint64(b[8:16])),
		PartitionLength:    int64(binary.LittleEndian.Uint64(b[16:24])),
		PartitionNumber:    binary.LittleEndian.Uint32(b[24:28]),
		RewritePartition:   b[28] != 0,
		IsServicePartition: b[29] != 0,
	}

	switch p.PartitionStyle {
	case PartitionStyleMBR:
		p.MBR = &PartitionMBR{
			PartitionType:       b[32],
			BootIndicator:       b[33] != 0,
			RecognizedPartition: b[34] != 0,
			HiddenSectors:       binary.LittleEndian.Uint32(b[36:40]),
			PartitionID:         guidFromBytes(b[40:56]),
		}
	case PartitionStyleGPT:
		p.GPT = &PartitionGPT{
			PartitionType: guidFromBytes(b[32:48]),
			PartitionID:   guidFromBytes(b[48:64]),
			Attributes:    binary.LittleEndian.Uint64(b[64:72]),
			Name:          decodeUTF16LE(b[72 : 72+2*gptPartitionNameLength]),
		}
	}

	return p, partitionRecordSize, nil
}

// decodeDriveLayout decodes an IOCTL_DISK_GET_DRIVE_LAYOUT_EX reply. A
// partition count above the sanity ceiling yields a nil table and
// ErrMalformedReply; nothing past the header is read in that case. Records
// are returned in the order the driver reported them.
func decodeDriveLayout(buf []byte) (*DriveLayoutTable, error) {
	header, offset, err := decodeDriveLayoutHeader(buf, 0)
	if err != nil {
		return nil, err
	}

	if header.PartitionCount > maxPartitionCount {
		return nil, fmt.Errorf("%w: partition count %d exceeds %d", ErrMalformedReply, header.PartitionCount, maxPartitionCount)
	}

	table := &DriveLayoutTable{
		Header:     header,
		Partitions: make([]PartitionRecord, header.PartitionCount),
	}

	for i := range table.Partitions {
		p, n, err := decodePartitionRecord(buf, offset)
		if err != nil {
			return nil, fmt.Errorf("partition %d: %w", i, err)
		}
		table.Partitions[i] = p
		offset += n
	}

	return table, nil
}

// decodeDiskGeometry decodes DISK_GEOMETRY.
func decodeDiskGeometry(buf []byte, offset int) (DiskGeometry, int, error) {
	if err := checkBounds(buf, offset, diskGeometrySize, "disk geometry"); err != nil {
		return DiskGeometry{}, 0, err
	}
	b := buf[offset : offset+diskGeometrySize]

	return DiskGeometry{
		Cylinders:         int64(binary.LittleEndian.Uint64(b[0:8])),
		MediaType:         MediaType(binary.LittleEndian.Uint32(b[8:12])),
		TracksPerCylinder: binary.LittleEndian.Uint32(b[12:16]),
		SectorsPerTrack:   binary.LittleEndian.Uint32(b[16:20]),
		BytesPerSector:    binary.LittleEndian.Uint32(b[20:24]),
	}, diskGeometrySize, nil
}

// decodeDiskPartitionInfo decodes DISK_PARTITION_INFO.
func decodeDiskPartitionInfo(buf []byte, offset int) (DiskPartitionInfo, int, error) {
	if err := checkBounds(buf, offset, diskPartitionInfoSize, "disk partition info"); err != nil {
		return DiskPartitionInfo{}, 0, err
	}
	b := buf[offset : offset+diskPartitionInfoSize]

	info := DiskPartitionInfo{
		SizeOfPartitionInfo: binary.LittleEndian.Uint32(b[0:4]),
		PartitionStyle:      PartitionStyle(binary.LittleEndian.Uint32(b[4:8])),
	}

	switch info.PartitionStyle {
	case PartitionStyleMBR:
		info.MBRSignature = binary.LittleEndian.Uint32(b[8:12])
		info.MBRCheckSum = binary.LittleEndian.Uint32(b[12:16])
	case PartitionStyleGPT:
		info.GPTDiskID = guidFromBytes(b[8:24])
	}

	return info, diskPartitionInfoSize, nil
}

// decodeDiskGeometryEx decodes an IOCTL_DISK_GET_DRIVE_GEOMETRY_EX reply.
//
// The DISK_DETECTION_INFO that follows the partition descriptor is never
// read. Reading it faulted intermittently against mounted .iso images and
// the reply gives no reliable lower bound for it.
func decodeDiskGeometryEx(buf []byte) (ExtendedDiskGeometry, error) {
	var ex ExtendedDiskGeometry

	geometry, _, err := decodeDiskGeometry(buf, 0)
	if err != nil {
		return ex, err
	}
	ex.Geometry = geometry

	if err := checkBounds(buf, diskSizeOffset, 8, "disk size"); err != nil {
		return ex, err
	}
	ex.DiskSize = int64(binary.LittleEndian.Uint64(buf[diskSizeOffset:]))

	// Replies that stop after DiskSize carry no partition descriptor; the
	// descriptor stays zero as it would in a zero-filled buffer.
	if len(buf) < diskPartitionInfoOffset+diskPartitionInfoSize {
		return ex, nil
	}

	ex.PartitionInfo, _, err = decodeDiskPartitionInfo(buf, diskPartitionInfoOffset)
	if err != nil {
		return ex, err
	}

	return ex, nil
}
