package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Common GPT partition type GUIDs
var gptTypeNames = map[uuid.UUID]string{
	uuid.MustParse("0FC63DAF-8483-4772-8E79-3D69D8477DE4"): "Linux Filesystem",
	uuid.MustParse("0657FD6D-A4AB-43C4-84E5-0933C84B4F4F"): "Linux Swap",
	uuid.MustParse("E6D6D379-F507-44C2-A23C-238F2A3DF928"): "Linux LVM",
	uuid.MustParse("C12A7328-F81F-11D2-BA4B-00A0C93EC93B"): "EFI System",
	uuid.MustParse("21686148-6449-6E6F-744E-656564454649"): "BIOS Boot",
	uuid.MustParse("EBD0A0A2-B9E5-4433-87C0-68B6B72699C7"): "Windows Basic Data",
	uuid.MustParse("E3C9E316-0B5C-4DB8-817D-F92DF00215AE"): "Microsoft Reserved",
	uuid.MustParse("DE94BBA4-06D1-4D40-A16A-BFD50179D6AC"): "Windows Recovery",
	uuid.MustParse("5808C8AA-7E8F-42E0-85D2-E1E90434CFB3"): "LDM Metadata",
	uuid.MustParse("AF9B60A0-1431-4F62-BC68-3311714A69AD"): "LDM Data",
	uuid.MustParse("E75CAF8F-F680-4CEE-AFA3-B001E56EFC2D"): "Storage Spaces",
	uuid.MustParse("48465300-0000-11AA-AA11-00306543ECAC"): "Apple HFS+",
	uuid.MustParse("7C3457EF-0000-11AA-AA11-00306543ECAC"): "Apple APFS",
}

// Common MBR partition types
var mbrTypeNames = map[byte]string{
	0x01: "FAT12",
	0x04: "FAT16 <32M",
	0x05: "Extended",
	0x06: "FAT16",
	0x07: "NTFS/exFAT",
	0x0B: "FAT32",
	0x0C: "FAT32 LBA",
	0x0E: "FAT16 LBA",
	0x0F: "Extended LBA",
	0x27: "Windows RE",
	0x42: "Windows Dynamic",
	0x82: "Linux Swap",
	0x83: "Linux",
	0x85: "Linux Extended",
	0x8E: "Linux LVM",
	0xEE: "GPT Protective",
	0xEF: "EFI System",
}

// GPT attribute bits
const (
	gptAttributePlatformRequired = 1 << 0
	gptAttributeNoBlockIO        = 1 << 1
	gptAttributeLegacyBIOSBoot   = 1 << 2
	gptAttributeReadOnly         = 1 << 60
	gptAttributeShadowCopy       = 1 << 61
	gptAttributeHidden           = 1 << 62
	gptAttributeNoDriveLetter    = 1 << 63
)

// isExtendedType checks if a partition type is an extended partition type
func isExtendedType(t byte) bool {
	switch t {
	case 0x05, 0x0F, 0x85:
		return true
	default:
		return false
	}
}

// partitionTypeName returns a readable type for a record
func partitionTypeName(p PartitionRecord) string {
	switch {
	case p.GPT != nil:
		if name, ok := gptTypeNames[p.GPT.PartitionType]; ok {
			return name
		}
		return p.GPT.PartitionType.String()
	case p.MBR != nil:
		if name, ok := mbrTypeNames[p.MBR.PartitionType]; ok {
			return name
		}
		return fmt.Sprintf("0x%02X", p.MBR.PartitionType)
	default:
		return "-"
	}
}

// gptAttributeNames lists the set attribute flags
func gptAttributeNames(attrs uint64) string {
	flags := []struct {
		bit  uint64
		name string
	}{
		{gptAttributePlatformRequired, "required"},
		{gptAttributeNoBlockIO, "no-block-io"},
		{gptAttributeLegacyBIOSBoot, "legacy-boot"},
		{gptAttributeReadOnly, "read-only"},
		{gptAttributeShadowCopy, "shadow-copy"},
		{gptAttributeHidden, "hidden"},
		{gptAttributeNoDriveLetter, "no-drive-letter"},
	}

	var names []string
	for _, f := range flags {
		if attrs&f.bit != 0 {
			names = append(names, f.name)
		}
	}
	return strings.Join(names, ",")
}

// partitionFlags summarises boot, extended and attribute state for display
func partitionFlags(p PartitionRecord) string {
	var flags []string
	if p.MBR != nil {
		if p.MBR.BootIndicator {
			flags = append(flags, "active")
		}
		if isExtendedType(p.MBR.PartitionType) {
			flags = append(flags, "extended")
		}
	}
	if p.GPT != nil {
		if attrs := gptAttributeNames(p.GPT.Attributes); attrs != "" {
			flags = append(flags, attrs)
		}
	}
	if p.IsServicePartition {
		flags = append(flags, "service")
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}
