package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupAppFlagsOverrideConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dskinfo.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
workers = 3

[negotiation]
layout_buffer_size = 4096
geometry_buffer_size = 256
`), 0o644))

	require.NoError(t, rootCmd.ParseFlags([]string{
		"--config", path,
		"--geometry-buffer", "512",
		"--elevated", "false",
		"-o", "json",
	}))
	require.NoError(t, setupApp(rootCmd))

	assert.Equal(t, 4096, state.cfg.Negotiation.LayoutBufferSize)
	assert.Equal(t, 512, state.cfg.Negotiation.GeometryBufferSize)
	assert.Equal(t, 3, state.cfg.Workers)
	assert.False(t, state.elevated)
	assert.Equal(t, outputJSON, state.output)
	require.NotNil(t, state.reader)
	assert.Equal(t, state.cfg.Negotiation, state.reader.cfg)
}

func TestLoggerSetup(t *testing.T) {
	for _, format := range []string{"console", "json"} {
		logger, err := newLogger("debug", format)
		require.NoError(t, err)
		require.NotNil(t, logger)
	}

	_, err := newLogger("loud", "console")
	assert.Error(t, err)

	_, err = newLogger("info", "xml")
	assert.Error(t, err)
}

func TestReportFailures(t *testing.T) {
	assert.NoError(t, reportFailures(nil, nil))

	results := []deviceResult{
		{Path: "a"},
		{Path: "b", Err: ERROR_ACCESS_DENIED},
	}
	assert.EqualError(t, reportFailures(results, ERROR_ACCESS_DENIED), "1 of 2 devices failed")
}

func TestDecodeSnapshotsContinuesAfterFailure(t *testing.T) {
	reader := newTestReader(t)
	dir := t.TempDir()

	good := func(name string, number int, dev *fakeDevice) string {
		snapshot, _, err := captureSnapshot(reader, newFakeOpener().add(testDiskPath, number, dev), false, testDiskPath)
		require.NoError(t, err)
		path := filepath.Join(dir, name)
		_, err = writeSnapshot(path, snapshot)
		require.NoError(t, err)
		return path
	}

	mbr := good("mbr.yaml", 1, testMBRDevice())
	gpt := good("gpt.yaml.zst", 2, testGPTDevice())
	missing := filepath.Join(dir, "missing.yaml")
	garbage := filepath.Join(dir, "garbage.yaml.gz")
	require.NoError(t, os.WriteFile(garbage, []byte("not gzip"), 0o644))

	results, failed := decodeSnapshots(reader, false, false, []string{mbr, missing, gpt, garbage})

	assert.Equal(t, []string{missing, garbage}, failed)
	require.Len(t, results, 4)

	require.NoError(t, results[0].Err)
	require.NotNil(t, results[0].Info)
	assert.Equal(t, PartitionStyleMBR, results[0].Info.Layout.PartitionStyle)

	assert.Equal(t, missing, results[1].Path)
	require.ErrorIs(t, results[1].Err, os.ErrNotExist)
	assert.Equal(t, results[1].Err.Error(), results[1].Error)
	assert.Nil(t, results[1].Info)

	require.NoError(t, results[2].Err)
	require.NotNil(t, results[2].Info)
	assert.Equal(t, 2, results[2].Info.DeviceNumber)

	assert.Equal(t, garbage, results[3].Path)
	assert.Error(t, results[3].Err)
	assert.NotEmpty(t, results[3].Error)

	err := reportFailures(results, errors.New("failed snapshots"))
	assert.EqualError(t, err, "2 of 4 devices failed")
}
