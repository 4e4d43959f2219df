package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"
)

const snapshotVersion = 1

// capturedReply is the last answer a device gave to one control code: either
// the reply bytes or the OS status.
type capturedReply struct {
	ControlCode uint32 `yaml:"control_code"`
	Data        string `yaml:"data,omitempty"`
	Errno       uint32 `yaml:"errno,omitempty"`
}

// deviceSnapshot is the on-disk record of a device's control code replies.
type deviceSnapshot struct {
	Version      int             `yaml:"version"`
	Path         string          `yaml:"path"`
	DeviceNumber int             `yaml:"device_number"`
	CapturedAt   time.Time       `yaml:"captured_at"`
	Replies      []capturedReply `yaml:"replies"`
}

func (s *deviceSnapshot) reply(controlCode uint32) (capturedReply, bool) {
	for _, r := range s.Replies {
		if r.ControlCode == controlCode {
			return r, true
		}
	}
	return capturedReply{}, false
}

// recordingQuerier passes calls through to a device and keeps the final
// outcome per control code.
type recordingQuerier struct {
	dev deviceQuerier

	mu      sync.Mutex
	replies map[uint32]capturedReply
}

func newRecordingQuerier(dev deviceQuerier) *recordingQuerier {
	return &recordingQuerier{dev: dev, replies: map[uint32]capturedReply{}}
}

func (r *recordingQuerier) DeviceIoControl(controlCode uint32, out []byte) (uint32, error) {
	n, err := r.dev.DeviceIoControl(controlCode, out)

	reply := capturedReply{ControlCode: controlCode}
	var errno syscall.Errno
	switch {
	case err == nil && int(n) <= len(out):
		reply.Data = base64.StdEncoding.EncodeToString(out[:n])
	case errors.As(err, &errno):
		reply.Errno = uint32(errno)
	}

	r.mu.Lock()
	r.replies[controlCode] = reply
	r.mu.Unlock()

	return n, err
}

// snapshot returns the recorded replies ordered by control code.
func (r *recordingQuerier) snapshot(path string, deviceNumber int) *deviceSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &deviceSnapshot{
		Version:      snapshotVersion,
		Path:         path,
		DeviceNumber: deviceNumber,
		CapturedAt:   time.Now().UTC(),
	}
	for _, reply := range r.replies {
		s.Replies = append(s.Replies, reply)
	}
	sort.Slice(s.Replies, func(i, j int) bool {
		return s.Replies[i].ControlCode < s.Replies[j].ControlCode
	})

	return s
}

// replayDevice answers control codes from a snapshot the way the driver
// did. Buffers smaller than the recorded reply get ERROR_INSUFFICIENT_BUFFER,
// so the full negotiation runs again on replay.
type replayDevice struct {
	snapshot *deviceSnapshot

	mu     sync.Mutex
	closed int
}

func (d *replayDevice) DeviceIoControl(controlCode uint32, out []byte) (uint32, error) {
	reply, ok := d.snapshot.reply(controlCode)
	if !ok {
		return 0, ERROR_INVALID_FUNCTION
	}

	if reply.Errno != 0 {
		return 0, syscall.Errno(reply.Errno)
	}

	data, err := base64.StdEncoding.DecodeString(reply.Data)
	if err != nil {
		return 0, fmt.Errorf("corrupt snapshot reply for ioctl 0x%08x: %w", controlCode, err)
	}

	if len(out) < len(data) {
		return 0, ERROR_INSUFFICIENT_BUFFER
	}

	return uint32(copy(out, data)), nil
}

func (d *replayDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed++
	return nil
}

// replayOpener opens snapshots as devices. Every path resolves to the
// snapshot's own device.
type replayOpener struct {
	snapshot *deviceSnapshot
}

func (o replayOpener) OpenDevice(string, uint32) (deviceHandle, error) {
	return &replayDevice{snapshot: o.snapshot}, nil
}

func (o replayOpener) ResolveDeviceNumber(string) (int, string, error) {
	return o.snapshot.DeviceNumber, o.snapshot.Path, nil
}

// captureSnapshot reads the partition info of path while recording every
// reply. A failed read still returns the snapshot, failing reply included,
// whenever the device was opened.
func captureSnapshot(reader *partitionInfoReader, opener deviceOpener, elevated bool, path string) (*deviceSnapshot, *StoragePartitionInfo, error) {
	rec := &recordingOpener{deviceOpener: opener}

	info, err := reader.readStoragePartitionInfo(rec, elevated, path)
	if rec.recorder == nil {
		if err == nil {
			err = fmt.Errorf("no device was opened for %s", path)
		}
		return nil, nil, err
	}

	return rec.recorder.snapshot(rec.path, rec.deviceNumber), info, err
}

// recordingOpener wraps the handle it opens in a recordingQuerier.
type recordingOpener struct {
	deviceOpener

	path         string
	deviceNumber int
	recorder     *recordingQuerier
}

func (o *recordingOpener) ResolveDeviceNumber(path string) (int, string, error) {
	n, p, err := o.deviceOpener.ResolveDeviceNumber(path)
	o.deviceNumber, o.path = n, p
	return n, p, err
}

func (o *recordingOpener) OpenDevice(path string, access uint32) (deviceHandle, error) {
	dev, err := o.deviceOpener.OpenDevice(path, access)
	if err != nil {
		return nil, err
	}

	o.recorder = newRecordingQuerier(dev)
	return recordingHandle{recordingQuerier: o.recorder, closer: dev}, nil
}

type recordingHandle struct {
	*recordingQuerier
	closer deviceHandle
}

func (h recordingHandle) Close() error {
	return h.closer.Close()
}

// writeSnapshot stores s at path, compressed according to the extension.
// It returns the number of bytes written.
func writeSnapshot(path string, s *deviceSnapshot) (written int64, err error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close snapshot file: %w", closeErr)
		}
	}()

	cw := &countingWriter{w: out}
	if err := encodeSnapshot(cw, compressionFromPath(path), s); err != nil {
		return cw.count, err
	}

	return cw.count, nil
}

// encodeSnapshot writes s to output through the named compression. The
// compression writer is closed on every path.
func encodeSnapshot(output io.Writer, algorithm string, s *deviceSnapshot) (err error) {
	w, err := createCompressionWriter(algorithm, output)
	if err != nil {
		return fmt.Errorf("failed to create compression writer: %w", err)
	}
	defer func() {
		if closeErr := w.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to flush snapshot: %w", closeErr)
		}
	}()

	enc := yaml.NewEncoder(w)
	if err := enc.Encode(s); err != nil {
		_ = enc.Close()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	return nil
}

// readSnapshot loads a snapshot written by writeSnapshot.
func readSnapshot(path string) (*deviceSnapshot, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	r, err := createDecompressionReader(compressionFromPath(path), in)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer r.Close()

	var s deviceSnapshot
	if err := yaml.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", path, err)
	}

	if s.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d in %s", s.Version, path)
	}

	return &s, nil
}

// rawReplies returns the decoded reply bytes per control code, for dumping.
func (s *deviceSnapshot) rawReplies() (map[uint32][]byte, error) {
	raw := make(map[uint32][]byte, len(s.Replies))
	for _, r := range s.Replies {
		if r.Errno != 0 {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(r.Data)
		if err != nil {
			return nil, fmt.Errorf("corrupt reply for ioctl 0x%08x: %w", r.ControlCode, err)
		}
		raw[r.ControlCode] = data
	}
	return raw, nil
}
