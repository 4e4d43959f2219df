package main

import (
	"context"
	"fmt"
	"io"
	"time"
)

type benchResult struct {
	Path       string        `json:"path" yaml:"path"`
	Iterations int           `json:"iterations" yaml:"iterations"`
	Total      time.Duration `json:"total" yaml:"total"`
	Fastest    time.Duration `json:"fastest" yaml:"fastest"`
	Slowest    time.Duration `json:"slowest" yaml:"slowest"`
}

func (r benchResult) Average() time.Duration {
	if r.Iterations == 0 {
		return 0
	}
	return r.Total / time.Duration(r.Iterations)
}

// benchPartitionInfo reads the partition info of path iterations times and
// reports the latency of each full open/query/close cycle.
func benchPartitionInfo(ctx context.Context, reader *partitionInfoReader, opener deviceOpener, elevated bool, path string, iterations int, w io.Writer) (benchResult, error) {
	result := benchResult{Path: path}

	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		start := time.Now()
		if _, err := reader.readStoragePartitionInfo(opener, elevated, path); err != nil {
			return result, err
		}
		d := time.Since(start)

		result.Iterations++
		result.Total += d
		if result.Fastest == 0 || d < result.Fastest {
			result.Fastest = d
		}
		if d > result.Slowest {
			result.Slowest = d
		}

		if w != nil {
			fmt.Fprintf(w, "[%s] Test %d: %s\n", path, i+1, d)
		}
	}

	if w != nil {
		fmt.Fprintf(w, "[%s] Average: %s (fastest %s, slowest %s)\n\n", path, result.Average(), result.Fastest, result.Slowest)
	}

	return result, nil
}
