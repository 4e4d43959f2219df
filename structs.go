package main

import "github.com/google/uuid"

var appversion = "0.5.0"

// Device control codes understood by the disk and storage class drivers.
const (
	IOCTL_DISK_GET_DRIVE_LAYOUT_EX       = 0x00070050
	IOCTL_DISK_GET_DRIVE_GEOMETRY_EX     = 0x000700a0
	IOCTL_STORAGE_GET_DEVICE_NUMBER      = 0x002d1080
	IOCTL_VOLUME_GET_VOLUME_DISK_EXTENTS = 0x00560000
)

// Access rights passed when opening a device.
const (
	FILE_ANY_ACCESS = 0x0
	GENERIC_READ    = 0x80000000
)

// DeviceType values of STORAGE_DEVICE_NUMBER.
const (
	FILE_DEVICE_CD_ROM = 0x02
	FILE_DEVICE_DISK   = 0x07
)

// Wire sizes of the fixed records. These are properties of the OS reply
// format and must not follow Go struct layout.
const (
	driveLayoutHeaderSize = 48
	partitionRecordSize   = 144
	diskGeometrySize      = 24
	diskPartitionInfoSize = 24

	storageDeviceNumberSize = 12

	// diskSizeOffset and diskPartitionInfoOffset locate the DISK_GEOMETRY_EX
	// members that follow the fixed geometry.
	diskSizeOffset          = diskGeometrySize
	diskPartitionInfoOffset = diskGeometrySize + 8

	// maxPartitionCount is the sanity ceiling for PartitionCount.
	maxPartitionCount = 256

	gptPartitionNameLength = 36
)

// PartitionStyle identifies the partition table format of a disk or record.
type PartitionStyle uint32

const (
	PartitionStyleMBR PartitionStyle = iota
	PartitionStyleGPT
	PartitionStyleRAW
)

func (s PartitionStyle) String() string {
	switch s {
	case PartitionStyleMBR:
		return "MBR"
	case PartitionStyleGPT:
		return "GPT"
	case PartitionStyleRAW:
		return "RAW"
	default:
		return "unknown"
	}
}

// MarshalText renders the style by name in json and yaml output.
func (s PartitionStyle) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// MediaType is the MEDIA_TYPE reported in DISK_GEOMETRY.
type MediaType uint32

const (
	MediaTypeUnknown   MediaType = 0x00
	MediaTypeRemovable MediaType = 0x0b
	MediaTypeFixed     MediaType = 0x0c
)

func (m MediaType) String() string {
	switch m {
	case MediaTypeUnknown:
		return "unknown"
	case MediaTypeRemovable:
		return "removable"
	case MediaTypeFixed:
		return "fixed"
	default:
		if m < MediaTypeRemovable {
			return "floppy"
		}
		return "other"
	}
}

// DriveLayoutMBR holds the MBR variant of the drive layout union.
type DriveLayoutMBR struct {
	Signature uint32 `json:"signature" yaml:"signature"`
	CheckSum  uint32 `json:"checksum" yaml:"checksum"`
}

// DriveLayoutGPT holds the GPT variant of the drive layout union.
type DriveLayoutGPT struct {
	DiskID               uuid.UUID `json:"disk_id" yaml:"disk_id"`
	StartingUsableOffset int64     `json:"starting_usable_offset" yaml:"starting_usable_offset"`
	UsableLength         int64     `json:"usable_length" yaml:"usable_length"`
	MaxPartitionCount    uint32    `json:"max_partition_count" yaml:"max_partition_count"`
}

// DriveLayoutHeader is the fixed part of DRIVE_LAYOUT_INFORMATION_EX.
type DriveLayoutHeader struct {
	PartitionStyle PartitionStyle  `json:"partition_style" yaml:"partition_style"`
	PartitionCount uint32          `json:"partition_count" yaml:"partition_count"`
	MBR            *DriveLayoutMBR `json:"mbr,omitempty" yaml:"mbr,omitempty"`
	GPT            *DriveLayoutGPT `json:"gpt,omitempty" yaml:"gpt,omitempty"`
}

// PartitionMBR holds the MBR variant of PARTITION_INFORMATION_EX.
type PartitionMBR struct {
	PartitionType       byte      `json:"partition_type" yaml:"partition_type"`
	BootIndicator       bool      `json:"boot_indicator" yaml:"boot_indicator"`
	RecognizedPartition bool      `json:"recognized_partition" yaml:"recognized_partition"`
	HiddenSectors       uint32    `json:"hidden_sectors" yaml:"hidden_sectors"`
	PartitionID         uuid.UUID `json:"partition_id" yaml:"partition_id"`
}

// PartitionGPT holds the GPT variant of PARTITION_INFORMATION_EX.
type PartitionGPT struct {
	PartitionType uuid.UUID `json:"partition_type" yaml:"partition_type"`
	PartitionID   uuid.UUID `json:"partition_id" yaml:"partition_id"`
	Attributes    uint64    `json:"attributes" yaml:"attributes"`
	Name          string    `json:"name" yaml:"name"`
}

// PartitionRecord is one PARTITION_INFORMATION_EX entry.
type PartitionRecord struct {
	PartitionStyle     PartitionStyle `json:"partition_style" yaml:"partition_style"`
	StartingOffset     int64          `json:"starting_offset" yaml:"starting_offset"`
	PartitionLength    int64          `json:"partition_length" yaml:"partition_length"`
	PartitionNumber    uint32         `json:"partition_number" yaml:"partition_number"`
	RewritePartition   bool           `json:"rewrite_partition" yaml:"rewrite_partition"`
	IsServicePartition bool           `json:"is_service_partition" yaml:"is_service_partition"`
	MBR                *PartitionMBR  `json:"mbr,omitempty" yaml:"mbr,omitempty"`
	GPT                *PartitionGPT  `json:"gpt,omitempty" yaml:"gpt,omitempty"`
}

// DriveLayoutTable is a decoded layout reply.
type DriveLayoutTable struct {
	Header     DriveLayoutHeader
	Partitions []PartitionRecord
}

// DiskGeometry mirrors DISK_GEOMETRY.
type DiskGeometry struct {
	Cylinders         int64     `json:"cylinders" yaml:"cylinders"`
	MediaType         MediaType `json:"media_type" yaml:"media_type"`
	TracksPerCylinder uint32    `json:"tracks_per_cylinder" yaml:"tracks_per_cylinder"`
	SectorsPerTrack   uint32    `json:"sectors_per_track" yaml:"sectors_per_track"`
	BytesPerSector    uint32    `json:"bytes_per_sector" yaml:"bytes_per_sector"`
}

// DiskPartitionInfo mirrors DISK_PARTITION_INFO.
type DiskPartitionInfo struct {
	SizeOfPartitionInfo uint32         `json:"size_of_partition_info" yaml:"size_of_partition_info"`
	PartitionStyle      PartitionStyle `json:"partition_style" yaml:"partition_style"`
	MBRSignature        uint32         `json:"mbr_signature,omitempty" yaml:"mbr_signature,omitempty"`
	MBRCheckSum         uint32         `json:"mbr_checksum,omitempty" yaml:"mbr_checksum,omitempty"`
	GPTDiskID           uuid.UUID      `json:"gpt_disk_id" yaml:"gpt_disk_id"`
}

// ExtendedDiskGeometry is the decoded prefix of DISK_GEOMETRY_EX. The
// DISK_DETECTION_INFO region that follows the partition descriptor is not
// part of it.
type ExtendedDiskGeometry struct {
	Geometry      DiskGeometry      `json:"geometry" yaml:"geometry"`
	DiskSize      int64             `json:"disk_size" yaml:"disk_size"`
	PartitionInfo DiskPartitionInfo `json:"partition_info" yaml:"partition_info"`
}

// StoragePartitionInfo combines the identity, geometry and partition table of
// one disk.
type StoragePartitionInfo struct {
	DeviceNumber int                  `json:"device_number" yaml:"device_number"`
	Geometry     ExtendedDiskGeometry `json:"geometry" yaml:"geometry"`
	Layout       DriveLayoutHeader    `json:"layout" yaml:"layout"`
	Partitions   []PartitionRecord    `json:"partitions" yaml:"partitions"`
}

// PartitionStyle returns the style of the partition table.
func (i *StoragePartitionInfo) PartitionStyle() PartitionStyle {
	return i.Layout.PartitionStyle
}

// TotalSectors derives the sector count from disk size and sector size.
func (i *StoragePartitionInfo) TotalSectors() uint64 {
	if i.Geometry.Geometry.BytesPerSector == 0 || i.Geometry.DiskSize <= 0 {
		return 0
	}
	return uint64(i.Geometry.DiskSize) / uint64(i.Geometry.Geometry.BytesPerSector)
}

// UsedPartitions returns the records that describe actual partitions. MBR
// layouts always report four primary slots; unused slots have type 0.
func (i *StoragePartitionInfo) UsedPartitions() []PartitionRecord {
	used := make([]PartitionRecord, 0, len(i.Partitions))
	for _, p := range i.Partitions {
		if p.PartitionLength == 0 {
			continue
		}
		if p.MBR != nil && p.MBR.PartitionType == 0 {
			continue
		}
		used = append(used, p)
	}
	return used
}
