package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	humanize "github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app is the state shared by all commands, set up before any command runs.
type app struct {
	cfg      Config
	logger   *zap.Logger
	elevated bool
	output   string
	reader   *partitionInfoReader
}

var (
	state app

	rootFlags struct {
		configPath     string
		layoutBuffer   int
		geometryBuffer int
		maxBuffer      int
		workers        int
		logLevel       string
		logFormat      string
		elevated       string
		output         string
	}
)

var rootCmd = &cobra.Command{
	Use:           "dskinfo",
	Short:         "Disk partition layout and geometry tool",
	Version:       appversion,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupApp(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if state.logger != nil {
			_ = state.logger.Sync()
		}
	},
}

// setupApp merges defaults, config file and explicitly set flags.
func setupApp(cmd *cobra.Command) error {
	cfg, err := loadConfig(rootFlags.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("layout-buffer") {
		cfg.Negotiation.LayoutBufferSize = rootFlags.layoutBuffer
	}
	if flags.Changed("geometry-buffer") {
		cfg.Negotiation.GeometryBufferSize = rootFlags.geometryBuffer
	}
	if flags.Changed("max-buffer") {
		cfg.Negotiation.MaxBufferSize = rootFlags.maxBuffer
	}
	if flags.Changed("workers") {
		cfg.Workers = rootFlags.workers
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = rootFlags.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = rootFlags.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := validateOutputFormat(rootFlags.output); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	elevated, err := resolveElevation(rootFlags.elevated)
	if err != nil {
		return fmt.Errorf("invalid --elevated value %q: %w", rootFlags.elevated, err)
	}

	state = app{
		cfg:      cfg,
		logger:   logger,
		elevated: elevated,
		output:   rootFlags.output,
		reader:   newPartitionInfoReader(cfg.Negotiation, logger),
	}

	return nil
}

func (a *app) enumerator(progress bool) *enumerator {
	e := &enumerator{
		reader:   a.reader,
		opener:   newDeviceOpener(),
		elevated: a.elevated,
		workers:  a.cfg.Workers,
		logger:   a.logger,
	}
	if progress && a.output == outputTable {
		e.progress = os.Stderr
	}
	return e
}

// reportFailures prints one warning per failed device and returns an error
// if any device failed.
func reportFailures(results []deviceResult, err error) error {
	if err == nil {
		return nil
	}
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			warning("%s: %v", r.Path, r.Err)
			failed++
		}
	}
	if failed == 0 {
		return err
	}
	return fmt.Errorf("%d of %d devices failed", failed, len(results))
}

var partinfoCmd = &cobra.Command{
	Use:     "partinfo DEVICE...",
	Aliases: []string{"p", "part", "partitions"},
	Short:   "Show partition layout and geometry of devices",
	Long: `Show partition layout and geometry of devices.

DEVICE is a disk path such as \\.\PhysicalDrive0, a drive letter such as C: or
a volume GUID path. Devices that cannot report partition information (not
ready, dynamic disk volumes, mounted images) are listed without it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		results, err := state.enumerator(false).run(cmd.Context(), args)
		if perr := printResults(os.Stdout, state.output, results); perr != nil {
			return perr
		}
		return reportFailures(results, err)
	},
}

var disksCmdFlags struct {
	volumes    bool
	noProgress bool
}

var disksCmd = &cobra.Command{
	Use:     "disks",
	Aliases: []string{"d", "disk"},
	Short:   "Show partition information for every disk",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		devices := getDiskListData()
		if disksCmdFlags.volumes {
			devices = append(devices, getVolumeListData()...)
		}
		if len(devices) == 0 {
			return fmt.Errorf("no disks found")
		}

		paths := make([]string, 0, len(devices))
		for _, d := range devices {
			paths = append(paths, d.Path)
		}

		results, err := state.enumerator(!disksCmdFlags.noProgress).run(cmd.Context(), paths)
		if perr := printResults(os.Stdout, state.output, results); perr != nil {
			return perr
		}
		return reportFailures(results, err)
	},
}

var captureCmdFlags struct {
	compress string
}

var captureCmd = &cobra.Command{
	Use:   "capture DEVICE OUTPUTFILE",
	Short: "Record the raw layout and geometry replies of a device into a snapshot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		extension, err := getCompressionExtension(captureCmdFlags.compress)
		if err != nil {
			return err
		}

		outputfile := args[1]
		if compressionFromPath(outputfile) == "none" {
			outputfile += extension
		}

		snapshot, info, captureErr := captureSnapshot(state.reader, newDeviceOpener(), state.elevated, args[0])
		if snapshot == nil {
			return captureErr
		}

		written, err := writeSnapshot(outputfile, snapshot)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "Written: %s (%s)\n", outputfile, humanize.IBytes(uint64(written)))

		if captureErr != nil {
			return captureErr
		}

		return printResults(os.Stdout, state.output, []deviceResult{{Path: snapshot.Path, Info: info}})
	},
}

var decodeCmdFlags struct {
	hex bool
}

var decodeCmd = &cobra.Command{
	Use:   "decode SNAPSHOT...",
	Short: "Decode snapshots recorded with capture",
	Long: `Decode snapshots recorded with capture.

The recorded replies are served back through the same buffer negotiation and
decoders used for live devices, so this works on any operating system.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		results, failed := decodeSnapshots(state.reader, state.elevated, decodeCmdFlags.hex, args)

		if err := printResults(os.Stdout, state.output, results); err != nil {
			return err
		}

		if len(failed) > 0 {
			return reportFailures(results, fmt.Errorf("failed snapshots: %s", strings.Join(failed, ", ")))
		}
		return nil
	},
}

// decodeSnapshots replays every snapshot file in paths. A snapshot that
// cannot be read or decoded gets a failed result and the rest are still
// processed. The paths of failed snapshots are returned in order.
func decodeSnapshots(reader *partitionInfoReader, elevated, hex bool, paths []string) ([]deviceResult, []string) {
	results := make([]deviceResult, 0, len(paths))
	var failed []string

	for _, path := range paths {
		r := decodeSnapshot(reader, elevated, hex, path)
		if r.Err != nil {
			r.Error = r.Err.Error()
			failed = append(failed, path)
		}
		results = append(results, r)
	}

	return results, failed
}

func decodeSnapshot(reader *partitionInfoReader, elevated, hex bool, path string) deviceResult {
	snapshot, err := readSnapshot(path)
	if err != nil {
		return deviceResult{Path: path, Err: err}
	}

	if hex {
		if err := dumpSnapshot(snapshot); err != nil {
			return deviceResult{Path: snapshot.Path, Err: fmt.Errorf("error dumping %s: %w", path, err)}
		}
	}

	info, err := reader.readStoragePartitionInfo(replayOpener{snapshot: snapshot}, elevated, snapshot.Path)
	return deviceResult{Path: snapshot.Path, Info: info, Err: err}
}

// dumpSnapshot hex dumps every successful reply of a snapshot to stderr
func dumpSnapshot(s *deviceSnapshot) error {
	raw, err := s.rawReplies()
	if err != nil {
		return err
	}
	for _, reply := range s.Replies {
		data, ok := raw[reply.ControlCode]
		if !ok {
			fmt.Fprintf(os.Stderr, "ioctl 0x%08x: error %d\n", reply.ControlCode, reply.Errno)
			continue
		}
		fmt.Fprintf(os.Stderr, "ioctl 0x%08x: %d bytes\n", reply.ControlCode, len(data))
		printHexDump(os.Stderr, data, 0)
	}
	return nil
}

var benchCmdFlags struct {
	iterations int
}

var benchCmd = &cobra.Command{
	Use:   "bench DEVICE...",
	Short: "Time repeated partition info queries",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if benchCmdFlags.iterations <= 0 {
			return fmt.Errorf("iterations must be positive")
		}

		opener := newDeviceOpener()
		for _, path := range args {
			if _, err := benchPartitionInfo(cmd.Context(), state.reader, opener, state.elevated, path, benchCmdFlags.iterations, os.Stdout); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
		}
		return nil
	},
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Interactive disk and partition viewer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTUI()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.configPath, "config", "", "TOML configuration file")
	pf.IntVar(&rootFlags.layoutBuffer, "layout-buffer", defaultLayoutBufferSize, "initial reply buffer for drive layout queries, in bytes")
	pf.IntVar(&rootFlags.geometryBuffer, "geometry-buffer", defaultGeometryBufferSize, "initial reply buffer for geometry queries, in bytes")
	pf.IntVar(&rootFlags.maxBuffer, "max-buffer", defaultMaxBufferSize, "largest reply buffer to try, in bytes")
	pf.IntVar(&rootFlags.workers, "workers", 0, "devices queried concurrently (default: number of CPUs)")
	pf.StringVar(&rootFlags.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.StringVar(&rootFlags.logFormat, "log-format", "console", "log format (console, json)")
	pf.StringVar(&rootFlags.elevated, "elevated", "auto", "query as an elevated process (auto, true, false)")
	pf.StringVarP(&rootFlags.output, "output", "o", outputTable, "output format (table, json, yaml)")

	disksCmd.Flags().BoolVar(&disksCmdFlags.volumes, "volumes", false, "also query mounted drive letters")
	disksCmd.Flags().BoolVar(&disksCmdFlags.noProgress, "no-progress", false, "do not show progress while querying")

	captureCmd.Flags().StringVar(&captureCmdFlags.compress, "compress", "zstd", "snapshot compression (none, gzip, zlib, bzip2, snappy, s2, zstd)")

	decodeCmd.Flags().BoolVar(&decodeCmdFlags.hex, "hex", false, "also hex dump the recorded replies")

	benchCmd.Flags().IntVarP(&benchCmdFlags.iterations, "iterations", "i", 10, "number of queries per device")

	rootCmd.AddCommand(partinfoCmd, disksCmd, captureCmd, decodeCmd, benchCmd, tuiCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
