package main

import (
	"fmt"
	"strings"

	humanize "github.com/dustin/go-humanize"
	tcell "github.com/gdamore/tcell/v2"
)

// tuiState holds the TUI state
type tuiState struct {
	disks             []DiskInfo
	selectedIndex     int
	showingPartitions bool
	currentDisk       string
	info              *StoragePartitionInfo
	loadErr           error
	partitions        []PartitionRecord
	selectedPartIdx   int

	load func(path string) (*StoragePartitionInfo, error)
}

// runTUI is the main entry point for the TUI command
func runTUI() error {
	disks := append(getDiskListData(), getVolumeListData()...)
	if len(disks) == 0 {
		return fmt.Errorf("no disks found")
	}

	opener := newDeviceOpener()
	s := &tuiState{
		disks: disks,
		load: func(path string) (*StoragePartitionInfo, error) {
			return state.reader.readStoragePartitionInfo(opener, state.elevated, path)
		},
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("failed to create screen: %w", err)
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("failed to initialize screen: %w", err)
	}
	defer screen.Fini()

	s.run(screen)
	return nil
}

func (s *tuiState) run(screen tcell.Screen) {
	screen.SetStyle(tcell.StyleDefault.
		Foreground(tcell.ColorWhite).
		Background(tcell.ColorBlack))
	screen.Clear()

	for {
		s.render(screen)
		screen.Show()

		switch ev := screen.PollEvent().(type) {
		case *tcell.EventKey:
			if s.handleKeyEvent(ev) {
				return
			}
		case *tcell.EventResize:
			screen.Sync()
		case nil:
			// screen finalized
			return
		}
	}
}

func (s *tuiState) render(screen tcell.Screen) {
	screen.Clear()
	if s.showingPartitions {
		s.renderPartitions(screen)
	} else {
		s.renderDiskList(screen)
	}
}

// drawText writes text from x,y and clips at the screen edge
func drawText(screen tcell.Screen, x, y int, text string, style tcell.Style) int {
	width, _ := screen.Size()
	for _, ch := range text {
		if x >= width {
			break
		}
		screen.SetContent(x, y, ch, nil, style)
		x++
	}
	return x
}

func drawCentered(screen tcell.Screen, y int, text string, style tcell.Style) {
	width, _ := screen.Size()
	drawText(screen, max((width-len(text))/2, 0), y, text, style)
}

// drawStatusLine fills the reverse video status line with left and right
// aligned text.
func drawStatusLine(screen tcell.Screen, y int, leftText, rightText string) {
	width, _ := screen.Size()
	style := tcell.StyleDefault.Reverse(true)

	for x := 0; x < width; x++ {
		screen.SetContent(x, y, ' ', nil, style)
	}

	x := drawText(screen, 0, y, leftText, style)

	if rightText == "" {
		return
	}
	rightX := max(width-len(rightText), x+1)
	drawText(screen, rightX, y, rightText, style)
}

func (s *tuiState) renderDiskList(screen tcell.Screen) {
	_, height := screen.Size()

	drawCentered(screen, 0, "=== Available Disks ===", tcell.StyleDefault.Bold(true))

	s.selectedIndex = clampIndex(s.selectedIndex, len(s.disks))

	y := 2
	for i, disk := range s.disks {
		if y >= height-3 {
			break
		}

		style := tcell.StyleDefault
		prefix := "  "
		if i == s.selectedIndex {
			style = tcell.StyleDefault.
				Foreground(tcell.ColorBlack).
				Background(tcell.ColorWhite)
			prefix = "> "
		}

		line := prefix + disk.Path
		if disk.DiskType != "" {
			line += " [" + disk.DiskType + "]"
		}
		drawText(screen, 0, y, line, style)
		y++
	}

	leftText := ""
	if len(s.disks) > 0 {
		leftText = s.disks[s.selectedIndex].Path
	}
	drawStatusLine(screen, height-2, leftText, fmt.Sprintf("%d devices", len(s.disks)))

	drawCentered(screen, height-1, "↑↓: Navigate | →/Enter: Select | Q/Ctrl+C: Quit", tcell.StyleDefault.Dim(true))
}

// chs converts an LBA to cylinder/head/sector using the disk's own geometry
func chs(lba int64, g DiskGeometry) (cyl, head, sec int64) {
	if g.SectorsPerTrack == 0 || g.TracksPerCylinder == 0 {
		return 0, 0, 0
	}
	spt := int64(g.SectorsPerTrack)
	heads := int64(g.TracksPerCylinder)
	return lba / (spt * heads), (lba / spt) % heads, lba%spt + 1
}

// partitionLine formats a record in fdisk style:
// *1: 0C    0  32  33 -  940 254  63 [      2048 -   15124480] FAT32 LBA
func partitionLine(p PartitionRecord, g DiskGeometry) string {
	activeMark := " "
	typeID := "  "
	if p.MBR != nil {
		if p.MBR.BootIndicator {
			activeMark = "*"
		}
		typeID = fmt.Sprintf("%02X", p.MBR.PartitionType)
	}

	var firstLBA, sectors int64
	if g.BytesPerSector > 0 {
		firstLBA = p.StartingOffset / int64(g.BytesPerSector)
		sectors = p.PartitionLength / int64(g.BytesPerSector)
	}
	lastLBA := firstLBA + max(sectors-1, 0)

	startCyl, startHd, startSec := chs(firstLBA, g)
	endCyl, endHd, endSec := chs(lastLBA, g)

	name := partitionTypeName(p)
	if p.GPT != nil && p.GPT.Name != "" {
		name = p.GPT.Name
	}

	return fmt.Sprintf("%s%d: %2s %4d %3d %3d - %4d %3d %3d [%10d - %10d] %s",
		activeMark, p.PartitionNumber, typeID,
		startCyl, startHd, startSec,
		endCyl, endHd, endSec,
		firstLBA, sectors, name)
}

func (s *tuiState) renderPartitions(screen tcell.Screen) {
	width, height := screen.Size()

	drawCentered(screen, 0, fmt.Sprintf("=== Partitions for %s ===", s.currentDisk), tcell.StyleDefault.Bold(true))

	bold := tcell.StyleDefault.Bold(true)
	drawText(screen, 0, 2, "         Starting       Ending", bold)
	drawText(screen, 0, 3, " #: id  cyl  hd sec -  cyl  hd sec [     start -       size]", bold)
	drawText(screen, 0, 4, strings.Repeat("-", width), tcell.StyleDefault)

	s.selectedPartIdx = clampIndex(s.selectedPartIdx, len(s.partitions))

	y := 5
	switch {
	case s.loadErr != nil:
		drawCentered(screen, y, "Error: "+s.loadErr.Error(), tcell.StyleDefault.Foreground(tcell.ColorRed))
	case s.info == nil:
		drawCentered(screen, y, "No partition information available for this device", tcell.StyleDefault.Dim(true))
	case len(s.partitions) == 0:
		drawCentered(screen, y, "No partitions", tcell.StyleDefault.Dim(true))
	default:
		for i, p := range s.partitions {
			if y >= height-4 {
				break
			}
			style := tcell.StyleDefault
			if i == s.selectedPartIdx {
				style = tcell.StyleDefault.
					Foreground(tcell.ColorBlack).
					Background(tcell.ColorWhite)
			}
			drawText(screen, 0, y, partitionLine(p, s.info.Geometry.Geometry), style)
			y++
		}
	}

	leftText, rightText := s.partitionStatus()
	drawStatusLine(screen, height-2, leftText, rightText)

	drawCentered(screen, height-1, "↑↓: Navigate | ←/B: Back | Q/Ctrl+C: Quit", tcell.StyleDefault.Dim(true))
}

// partitionStatus describes the disk on the left and the selected partition
// on the right of the status line.
func (s *tuiState) partitionStatus() (string, string) {
	if s.info == nil {
		return "", ""
	}

	g := s.info.Geometry
	leftText := fmt.Sprintf("%s %s, %d bytes/sector", s.info.PartitionStyle(),
		humanize.IBytes(uint64(max(g.DiskSize, 0))), g.Geometry.BytesPerSector)

	if len(s.partitions) == 0 {
		return leftText, ""
	}

	p := s.partitions[s.selectedPartIdx]
	details := []string{"Size: " + humanize.IBytes(uint64(max(p.PartitionLength, 0)))}
	if p.GPT != nil {
		details = append(details, "TypeGUID: "+p.GPT.PartitionType.String(), "UniqueGUID: "+p.GPT.PartitionID.String())
	}
	if flags := partitionFlags(p); flags != "-" {
		details = append(details, "Flags: "+flags)
	}

	return leftText, strings.Join(details, " | ")
}

func clampIndex(i, n int) int {
	if i >= n {
		i = n - 1
	}
	return max(i, 0)
}

func (s *tuiState) openSelectedDisk() {
	if len(s.disks) == 0 {
		return
	}

	s.currentDisk = s.disks[s.selectedIndex].Path
	s.info, s.loadErr = s.load(s.currentDisk)
	s.partitions = nil
	if s.info != nil {
		s.partitions = s.info.UsedPartitions()
	}
	s.selectedPartIdx = 0
	s.showingPartitions = true
}

func (s *tuiState) closeDisk() {
	s.showingPartitions = false
	s.currentDisk = ""
	s.info = nil
	s.loadErr = nil
	s.partitions = nil
	s.selectedPartIdx = 0
}

// handleKeyEvent applies a key press and reports whether to quit
func (s *tuiState) handleKeyEvent(ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return true
	}
	switch ev.Rune() {
	case 'q', 'Q':
		return true
	}

	if s.showingPartitions {
		switch ev.Key() {
		case tcell.KeyLeft:
			s.closeDisk()
		case tcell.KeyUp:
			if s.selectedPartIdx > 0 {
				s.selectedPartIdx--
			}
		case tcell.KeyDown:
			if s.selectedPartIdx < len(s.partitions)-1 {
				s.selectedPartIdx++
			}
		}
		if ev.Rune() == 'b' || ev.Rune() == 'B' {
			s.closeDisk()
		}
		return false
	}

	switch ev.Key() {
	case tcell.KeyUp:
		if s.selectedIndex > 0 {
			s.selectedIndex--
		}
	case tcell.KeyDown:
		if s.selectedIndex < len(s.disks)-1 {
			s.selectedIndex++
		}
	case tcell.KeyRight, tcell.KeyEnter:
		s.openSelectedDisk()
	}

	return false
}
