package main

import (
	"context"
	"encoding/binary"
	"sync"
	"syscall"
	"testing"
	"unicode/utf16"

	"github.com/google/uuid"
)

// testContext returns a context canceled when the test finishes,
// matching testing.T.Context on older toolchains.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

type fakeReply struct {
	data  []byte
	errno syscall.Errno
}

type fakeCall struct {
	controlCode uint32
	size        int
}

// fakeDevice answers control codes like a driver: short buffers get
// ERROR_INSUFFICIENT_BUFFER, unknown codes ERROR_INVALID_FUNCTION.
type fakeDevice struct {
	mu       sync.Mutex
	replies  map[uint32]fakeReply
	calls    []fakeCall
	closed   int
	closeErr error
}

func newFakeDevice(layout, geometry []byte) *fakeDevice {
	d := &fakeDevice{replies: map[uint32]fakeReply{}}
	if layout != nil {
		d.replies[IOCTL_DISK_GET_DRIVE_LAYOUT_EX] = fakeReply{data: layout}
	}
	if geometry != nil {
		d.replies[IOCTL_DISK_GET_DRIVE_GEOMETRY_EX] = fakeReply{data: geometry}
	}
	return d
}

func (d *fakeDevice) fail(controlCode uint32, errno syscall.Errno) *fakeDevice {
	d.replies[controlCode] = fakeReply{errno: errno}
	return d
}

func (d *fakeDevice) DeviceIoControl(controlCode uint32, out []byte) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls = append(d.calls, fakeCall{controlCode: controlCode, size: len(out)})

	r, ok := d.replies[controlCode]
	switch {
	case !ok:
		return 0, ERROR_INVALID_FUNCTION
	case r.errno != 0:
		return 0, r.errno
	case len(out) < len(r.data):
		return 0, ERROR_INSUFFICIENT_BUFFER
	}

	return uint32(copy(out, r.data)), nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed++
	return d.closeErr
}

func (d *fakeDevice) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.closed
}

func (d *fakeDevice) controlCodes() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	codes := make([]uint32, 0, len(d.calls))
	for _, c := range d.calls {
		codes = append(codes, c.controlCode)
	}
	return codes
}

func (d *fakeDevice) sizes(controlCode uint32) []int {
	d.mu.Lock()
	defer d.mu.Unlock()

	var sizes []int
	for _, c := range d.calls {
		if c.controlCode == controlCode {
			sizes = append(sizes, c.size)
		}
	}
	return sizes
}

// fakeOpener serves fakeDevices by path. Paths resolve to themselves.
type fakeOpener struct {
	mu         sync.Mutex
	devices    map[string]*fakeDevice
	numbers    map[string]int
	openErr    map[string]error
	resolveErr error
	accesses   []uint32
	opened     []string
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		devices: map[string]*fakeDevice{},
		numbers: map[string]int{},
		openErr: map[string]error{},
	}
}

func (o *fakeOpener) add(path string, number int, dev *fakeDevice) *fakeOpener {
	o.devices[path] = dev
	o.numbers[path] = number
	return o
}

func (o *fakeOpener) OpenDevice(path string, access uint32) (deviceHandle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.accesses = append(o.accesses, access)

	if err := o.openErr[path]; err != nil {
		return nil, err
	}

	dev, ok := o.devices[path]
	if !ok {
		return nil, ERROR_FILE_NOT_FOUND
	}

	o.opened = append(o.opened, path)
	return dev, nil
}

func (o *fakeOpener) ResolveDeviceNumber(path string) (int, string, error) {
	if o.resolveErr != nil {
		return -1, "", o.resolveErr
	}
	return o.numbers[path], path, nil
}

func (o *fakeOpener) openedPaths() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]string(nil), o.opened...)
}

// guidToBytes is the inverse of guidFromBytes.
func guidToBytes(u uuid.UUID) []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint32(b[0:4], binary.BigEndian.Uint32(u[0:4]))
	binary.LittleEndian.PutUint16(b[4:6], binary.BigEndian.Uint16(u[4:6]))
	binary.LittleEndian.PutUint16(b[6:8], binary.BigEndian.Uint16(u[6:8]))
	copy(b[8:], u[8:])
	return b
}

// encodeDriveLayout builds an IOCTL_DISK_GET_DRIVE_LAYOUT_EX reply. The
// header count is taken from h, not from len(parts).
func encodeDriveLayout(h DriveLayoutHeader, parts []PartitionRecord) []byte {
	buf := make([]byte, driveLayoutHeaderSize+len(parts)*partitionRecordSize)

	binary.LittleEndian.PutUint32(buf[0:], uint32(h.PartitionStyle))
	binary.LittleEndian.PutUint32(buf[4:], h.PartitionCount)
	if h.MBR != nil {
		binary.LittleEndian.PutUint32(buf[8:], h.MBR.Signature)
		binary.LittleEndian.PutUint32(buf[12:], h.MBR.CheckSum)
	}
	if h.GPT != nil {
		copy(buf[8:24], guidToBytes(h.GPT.DiskID))
		binary.LittleEndian.PutUint64(buf[24:], uint64(h.GPT.StartingUsableOffset))
		binary.LittleEndian.PutUint64(buf[32:], uint64(h.GPT.UsableLength))
		binary.LittleEndian.PutUint32(buf[40:], h.GPT.MaxPartitionCount)
	}

	for i, p := range parts {
		b := buf[driveLayoutHeaderSize+i*partitionRecordSize:]

		binary.LittleEndian.PutUint32(b[0:], uint32(p.PartitionStyle))
		binary.LittleEndian.PutUint64(b[8:], uint64(p.StartingOffset))
		binary.LittleEndian.PutUint64(b[16:], uint64(p.PartitionLength))
		binary.LittleEndian.PutUint32(b[24:], p.PartitionNumber)
		if p.RewritePartition {
			b[28] = 1
		}
		if p.IsServicePartition {
			b[29] = 1
		}

		if p.MBR != nil {
			b[32] = p.MBR.PartitionType
			if p.MBR.BootIndicator {
				b[33] = 1
			}
			if p.MBR.RecognizedPartition {
				b[34] = 1
			}
			binary.LittleEndian.PutUint32(b[36:], p.MBR.HiddenSectors)
			copy(b[40:56], guidToBytes(p.MBR.PartitionID))
		}

		if p.GPT != nil {
			copy(b[32:48], guidToBytes(p.GPT.PartitionType))
			copy(b[48:64], guidToBytes(p.GPT.PartitionID))
			binary.LittleEndian.PutUint64(b[64:], p.GPT.Attributes)
			for j, c := range utf16.Encode([]rune(p.GPT.Name)) {
				if j == gptPartitionNameLength {
					break
				}
				binary.LittleEndian.PutUint16(b[72+2*j:], c)
			}
		}
	}

	return buf
}

// encodeDiskGeometryEx builds an IOCTL_DISK_GET_DRIVE_GEOMETRY_EX reply
// followed by detection bytes the decoder must ignore.
func encodeDiskGeometryEx(g ExtendedDiskGeometry, detection int) []byte {
	buf := make([]byte, diskPartitionInfoOffset+diskPartitionInfoSize+detection)

	binary.LittleEndian.PutUint64(buf[0:], uint64(g.Geometry.Cylinders))
	binary.LittleEndian.PutUint32(buf[8:], uint32(g.Geometry.MediaType))
	binary.LittleEndian.PutUint32(buf[12:], g.Geometry.TracksPerCylinder)
	binary.LittleEndian.PutUint32(buf[16:], g.Geometry.SectorsPerTrack)
	binary.LittleEndian.PutUint32(buf[20:], g.Geometry.BytesPerSector)
	binary.LittleEndian.PutUint64(buf[diskSizeOffset:], uint64(g.DiskSize))

	pi := buf[diskPartitionInfoOffset:]
	binary.LittleEndian.PutUint32(pi[0:], g.PartitionInfo.SizeOfPartitionInfo)
	binary.LittleEndian.PutUint32(pi[4:], uint32(g.PartitionInfo.PartitionStyle))
	switch g.PartitionInfo.PartitionStyle {
	case PartitionStyleMBR:
		binary.LittleEndian.PutUint32(pi[8:], g.PartitionInfo.MBRSignature)
		binary.LittleEndian.PutUint32(pi[12:], g.PartitionInfo.MBRCheckSum)
	case PartitionStyleGPT:
		copy(pi[8:24], guidToBytes(g.PartitionInfo.GPTDiskID))
	}

	for i := diskPartitionInfoOffset + diskPartitionInfoSize; i < len(buf); i++ {
		buf[i] = 0xff
	}

	return buf
}

var (
	efiSystemType   = uuid.MustParse("C12A7328-F81F-11D2-BA4B-00A0C93EC93B")
	basicDataType   = uuid.MustParse("EBD0A0A2-B9E5-4433-87C0-68B6B72699C7")
	testGPTDiskID   = uuid.MustParse("6E3B4A5C-1D2F-4E8A-9B7C-0D1E2F3A4B5C")
	testPartitionID = uuid.MustParse("0A1B2C3D-4E5F-6071-8293-A4B5C6D7E8F9")
)

// testGeometry is a 1 TB fixed disk.
func testGeometry(style PartitionStyle) ExtendedDiskGeometry {
	g := ExtendedDiskGeometry{
		Geometry: DiskGeometry{
			Cylinders:         121601,
			MediaType:         MediaTypeFixed,
			TracksPerCylinder: 255,
			SectorsPerTrack:   63,
			BytesPerSector:    512,
		},
		DiskSize: 1_000_000_000_000,
		PartitionInfo: DiskPartitionInfo{
			SizeOfPartitionInfo: diskPartitionInfoSize,
			PartitionStyle:      style,
		},
	}
	switch style {
	case PartitionStyleMBR:
		g.PartitionInfo.MBRSignature = 0xdeadbeef
	case PartitionStyleGPT:
		g.PartitionInfo.GPTDiskID = testGPTDiskID
	}
	return g
}

// testMBRLayout has two used primary partitions and two empty slots.
func testMBRLayout() (DriveLayoutHeader, []PartitionRecord) {
	h := DriveLayoutHeader{
		PartitionStyle: PartitionStyleMBR,
		PartitionCount: 4,
		MBR:            &DriveLayoutMBR{Signature: 0xdeadbeef},
	}
	parts := []PartitionRecord{
		{
			PartitionStyle:  PartitionStyleMBR,
			StartingOffset:  1 << 20,
			PartitionLength: 100 << 20,
			PartitionNumber: 1,
			MBR: &PartitionMBR{
				PartitionType:       0x07,
				BootIndicator:       true,
				RecognizedPartition: true,
				HiddenSectors:       2048,
			},
		},
		{
			PartitionStyle:  PartitionStyleMBR,
			StartingOffset:  101 << 20,
			PartitionLength: 900 << 20,
			PartitionNumber: 2,
			MBR: &PartitionMBR{
				PartitionType:       0x83,
				RecognizedPartition: true,
				HiddenSectors:       206848,
			},
		},
		{PartitionStyle: PartitionStyleMBR, MBR: &PartitionMBR{}},
		{PartitionStyle: PartitionStyleMBR, MBR: &PartitionMBR{}},
	}
	return h, parts
}

func testGPTLayout() (DriveLayoutHeader, []PartitionRecord) {
	h := DriveLayoutHeader{
		PartitionStyle: PartitionStyleGPT,
		PartitionCount: 2,
		GPT: &DriveLayoutGPT{
			DiskID:               testGPTDiskID,
			StartingUsableOffset: 17408,
			UsableLength:         999_999_965_184,
			MaxPartitionCount:    128,
		},
	}
	parts := []PartitionRecord{
		{
			PartitionStyle:  PartitionStyleGPT,
			StartingOffset:  1 << 20,
			PartitionLength: 100 << 20,
			PartitionNumber: 1,
			GPT: &PartitionGPT{
				PartitionType: efiSystemType,
				PartitionID:   testPartitionID,
				Attributes:    gptAttributePlatformRequired,
				Name:          "EFI system partition",
			},
		},
		{
			PartitionStyle:  PartitionStyleGPT,
			StartingOffset:  101 << 20,
			PartitionLength: 500 << 30,
			PartitionNumber: 2,
			GPT: &PartitionGPT{
				PartitionType: basicDataType,
				PartitionID:   uuid.MustParse("11111111-2222-3333-4444-555555555555"),
				Attributes:    gptAttributeNoDriveLetter,
				Name:          "Basic data partition",
			},
		},
	}
	return h, parts
}

func testMBRDevice() *fakeDevice {
	h, parts := testMBRLayout()
	return newFakeDevice(encodeDriveLayout(h, parts), encodeDiskGeometryEx(testGeometry(PartitionStyleMBR), 40))
}

func testGPTDevice() *fakeDevice {
	h, parts := testGPTLayout()
	return newFakeDevice(encodeDriveLayout(h, parts), encodeDiskGeometryEx(testGeometry(PartitionStyleGPT), 40))
}
