package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	humanize "github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// output formats accepted by -o
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func validateOutputFormat(format string) error {
	switch format {
	case outputTable, outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// printResults writes device results in the requested format
func printResults(w io.Writer, format string, results []deviceResult) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(results)
	}

	for i, r := range results {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if err := printPartitionInfoTable(w, r.Path, r.Info); err != nil {
			return err
		}
	}
	return nil
}

// printPartitionInfoTable prints geometry followed by a partition table
func printPartitionInfoTable(w io.Writer, path string, info *StoragePartitionInfo) error {
	if info == nil {
		fmt.Fprintf(w, "%s: no partition information available\n", path)
		return nil
	}

	g := info.Geometry
	fmt.Fprintf(w, "Disk %s (disk %d): %s, %s, %d partitions\n",
		path, info.DeviceNumber, humanize.IBytes(uint64(max(g.DiskSize, 0))),
		info.PartitionStyle(), info.Layout.PartitionCount)
	fmt.Fprintf(w, "Geometry: %d cylinders, %d tracks/cylinder, %d sectors/track, %d bytes/sector, %s media\n",
		g.Geometry.Cylinders, g.Geometry.TracksPerCylinder, g.Geometry.SectorsPerTrack,
		g.Geometry.BytesPerSector, g.Geometry.MediaType)

	switch {
	case info.Layout.GPT != nil:
		fmt.Fprintf(w, "Disk ID: %s, usable %s from offset %d\n",
			info.Layout.GPT.DiskID, humanize.IBytes(uint64(max(info.Layout.GPT.UsableLength, 0))),
			info.Layout.GPT.StartingUsableOffset)
	case info.Layout.MBR != nil:
		fmt.Fprintf(w, "Signature: 0x%08X\n", info.Layout.MBR.Signature)
	}

	parts := info.UsedPartitions()
	if len(parts) == 0 {
		fmt.Fprintln(w, "No partitions")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, strings.Join([]string{"#", "START", "SIZE", "TYPE", "NAME", "FLAGS"}, "\t"))

	for _, p := range parts {
		name := "-"
		if p.GPT != nil && p.GPT.Name != "" {
			name = p.GPT.Name
		}

		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\n",
			p.PartitionNumber,
			p.StartingOffset,
			humanize.IBytes(uint64(max(p.PartitionLength, 0))),
			partitionTypeName(p),
			name,
			partitionFlags(p),
		)
	}

	return tw.Flush()
}

// printHexDump prints buf in the classic offset / hex / ascii layout
func printHexDump(w io.Writer, buf []byte, startIndex int64) {
	for i := 0; i < len(buf); i += 16 {
		var hexStr, charStr strings.Builder
		for j := 0; j < 16 && i+j < len(buf); j++ {
			b := buf[i+j]
			fmt.Fprintf(&hexStr, "%02X ", b)
			if j == 7 {
				hexStr.WriteByte(' ') // Extra space after 8 bytes
			}
			if isPrintable(b) {
				charStr.WriteByte(b)
			} else {
				charStr.WriteByte('.')
			}
		}
		fmt.Fprintf(w, "%08X  %-49s  |%s|\n", startIndex+int64(i), hexStr.String(), charStr.String())
	}
}
