package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureAndReplay(t *testing.T) {
	for _, test := range []struct {
		name   string
		device func() *fakeDevice
	}{
		{"mbr", testMBRDevice},
		{"gpt", testGPTDevice},
		{"geometry unavailable", func() *fakeDevice {
			return testGPTDevice().fail(IOCTL_DISK_GET_DRIVE_GEOMETRY_EX, ERROR_NOT_SUPPORTED)
		}},
	} {
		t.Run(test.name, func(t *testing.T) {
			reader := newTestReader(t)
			dev := test.device()
			opener := newFakeOpener().add(testDiskPath, 1, dev)

			snapshot, captured, err := captureSnapshot(reader, opener, true, testDiskPath)
			require.NoError(t, err)
			require.NotNil(t, snapshot)
			require.NotNil(t, captured)
			assert.Equal(t, 1, dev.closeCount())

			assert.Equal(t, testDiskPath, snapshot.Path)
			assert.Equal(t, 1, snapshot.DeviceNumber)
			require.Len(t, snapshot.Replies, 2)
			assert.EqualValues(t, IOCTL_DISK_GET_DRIVE_LAYOUT_EX, snapshot.Replies[0].ControlCode)
			assert.EqualValues(t, IOCTL_DISK_GET_DRIVE_GEOMETRY_EX, snapshot.Replies[1].ControlCode)

			replayed, err := reader.readStoragePartitionInfo(replayOpener{snapshot: snapshot}, false, "anything")
			require.NoError(t, err)

			if diff := cmp.Diff(captured, replayed); diff != "" {
				t.Errorf("replay mismatch (-captured +replayed):\n%s", diff)
			}
		})
	}
}

func TestCaptureFailedDevice(t *testing.T) {
	reader := newTestReader(t)

	t.Run("query failure keeps snapshot", func(t *testing.T) {
		dev := testMBRDevice().fail(IOCTL_DISK_GET_DRIVE_GEOMETRY_EX, ERROR_ACCESS_DENIED)
		opener := newFakeOpener().add(testDiskPath, 1, dev)

		snapshot, info, err := captureSnapshot(reader, opener, false, testDiskPath)
		require.ErrorIs(t, err, ERROR_ACCESS_DENIED)
		assert.Nil(t, info)
		require.NotNil(t, snapshot)

		reply, ok := snapshot.reply(IOCTL_DISK_GET_DRIVE_GEOMETRY_EX)
		require.True(t, ok)
		assert.EqualValues(t, ERROR_ACCESS_DENIED, reply.Errno)
		assert.Empty(t, reply.Data)

		// replay fails the same way
		_, err = reader.readStoragePartitionInfo(replayOpener{snapshot: snapshot}, false, testDiskPath)
		require.ErrorIs(t, err, ERROR_ACCESS_DENIED)
	})

	t.Run("open failure has no snapshot", func(t *testing.T) {
		opener := newFakeOpener()

		snapshot, info, err := captureSnapshot(reader, opener, false, testDiskPath)
		require.Error(t, err)
		assert.Nil(t, snapshot)
		assert.Nil(t, info)
	})
}

func TestReplayDevice(t *testing.T) {
	snapshot := &deviceSnapshot{
		Version: snapshotVersion,
		Replies: []capturedReply{
			{ControlCode: IOCTL_DISK_GET_DRIVE_LAYOUT_EX, Data: "AQIDBA=="},
			{ControlCode: IOCTL_DISK_GET_DRIVE_GEOMETRY_EX, Errno: uint32(ERROR_NOT_READY)},
			{ControlCode: IOCTL_STORAGE_GET_DEVICE_NUMBER, Data: "!!"},
		},
	}
	dev := &replayDevice{snapshot: snapshot}

	out := make([]byte, 8)
	n, err := dev.DeviceIoControl(IOCTL_DISK_GET_DRIVE_LAYOUT_EX, out)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, out[:n])

	_, err = dev.DeviceIoControl(IOCTL_DISK_GET_DRIVE_LAYOUT_EX, out[:3])
	assert.ErrorIs(t, err, ERROR_INSUFFICIENT_BUFFER)

	_, err = dev.DeviceIoControl(IOCTL_DISK_GET_DRIVE_GEOMETRY_EX, out)
	assert.ErrorIs(t, err, ERROR_NOT_READY)

	_, err = dev.DeviceIoControl(IOCTL_VOLUME_GET_VOLUME_DISK_EXTENTS, out)
	assert.ErrorIs(t, err, ERROR_INVALID_FUNCTION)

	_, err = dev.DeviceIoControl(IOCTL_STORAGE_GET_DEVICE_NUMBER, out)
	assert.Error(t, err)

	require.NoError(t, dev.Close())
	assert.Equal(t, 1, dev.closed)
}

func TestWriteReadSnapshot(t *testing.T) {
	reader := newTestReader(t)
	opener := newFakeOpener().add(testDiskPath, 3, testGPTDevice())

	snapshot, captured, err := captureSnapshot(reader, opener, false, testDiskPath)
	require.NoError(t, err)

	dir := t.TempDir()

	for _, a := range compressionAlgorithms {
		t.Run(a.name, func(t *testing.T) {
			path := filepath.Join(dir, "disk.yaml"+a.extension)

			written, err := writeSnapshot(path, snapshot)
			require.NoError(t, err)

			st, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, st.Size(), written)

			loaded, err := readSnapshot(path)
			require.NoError(t, err)

			assert.Equal(t, snapshot.Path, loaded.Path)
			assert.Equal(t, snapshot.DeviceNumber, loaded.DeviceNumber)
			assert.True(t, snapshot.CapturedAt.Equal(loaded.CapturedAt))
			assert.Equal(t, snapshot.Replies, loaded.Replies)

			replayed, err := reader.readStoragePartitionInfo(replayOpener{snapshot: loaded}, false, loaded.Path)
			require.NoError(t, err)
			if diff := cmp.Diff(captured, replayed); diff != "" {
				t.Errorf("replay mismatch (-captured +replayed):\n%s", diff)
			}

			raw, err := loaded.rawReplies()
			require.NoError(t, err)
			assert.Len(t, raw, 2)
		})
	}
}

func TestReadSnapshotErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := readSnapshot(filepath.Join(dir, "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)

	versioned := filepath.Join(dir, "future.yaml")
	require.NoError(t, os.WriteFile(versioned, []byte("version: 99\npath: x\n"), 0o644))
	_, err = readSnapshot(versioned)
	require.ErrorContains(t, err, "unsupported snapshot version 99")

	garbage := filepath.Join(dir, "garbage.yaml.zst")
	require.NoError(t, os.WriteFile(garbage, []byte("not zstd"), 0o644))
	_, err = readSnapshot(garbage)
	require.Error(t, err)
}

type brokenWriter struct{ err error }

func (w brokenWriter) Write([]byte) (int, error) { return 0, w.err }

func TestEncodeSnapshotWriteFailure(t *testing.T) {
	reader := newTestReader(t)
	opener := newFakeOpener().add(testDiskPath, 1, testMBRDevice())

	snapshot, _, err := captureSnapshot(reader, opener, false, testDiskPath)
	require.NoError(t, err)

	diskFull := errors.New("disk full")

	for _, a := range compressionAlgorithms {
		t.Run(a.name, func(t *testing.T) {
			err := encodeSnapshot(brokenWriter{err: diskFull}, a.name, snapshot)
			require.Error(t, err)
		})
	}
}

func TestWriteSnapshotCreateFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "disk.yaml")

	written, err := writeSnapshot(path, &deviceSnapshot{Version: snapshotVersion})
	require.ErrorIs(t, err, os.ErrNotExist)
	assert.Zero(t, written)
}
