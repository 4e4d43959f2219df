package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/gosuri/uilive"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// deviceResult is the outcome for one device of an enumeration. Info is nil
// when the device has no partition information or failed.
type deviceResult struct {
	Path  string                `json:"path" yaml:"path"`
	Info  *StoragePartitionInfo `json:"info" yaml:"info"`
	Error string                `json:"error,omitempty" yaml:"error,omitempty"`
	Err   error                 `json:"-" yaml:"-"`
}

// enumerator reads partition info from many devices. Each device gets its
// own handle, so devices are read concurrently.
type enumerator struct {
	reader   *partitionInfoReader
	opener   deviceOpener
	elevated bool
	workers  int
	progress io.Writer
	logger   *zap.Logger
}

// run reads every path and returns one result per path, in input order.
// Failures of individual devices do not stop the others; they are recorded in
// the results and returned together as a multierror. Cancelling ctx stops
// devices that have not started yet.
func (e *enumerator) run(ctx context.Context, paths []string) ([]deviceResult, error) {
	results := make([]deviceResult, len(paths))

	var (
		mu     sync.Mutex
		merr   *multierror.Error
		done   int
		status *uilive.Writer
	)

	if e.progress != nil {
		status = uilive.New()
		status.Out = e.progress
		status.Start()
		defer status.Stop()
	}

	workers := e.workers
	if workers <= 0 {
		workers = 1
	}

	logger := e.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, path := range paths {
		i, path := i, path
		results[i].Path = path

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			info, err := e.reader.readStoragePartitionInfo(e.opener, e.elevated, path)

			mu.Lock()
			defer mu.Unlock()

			results[i].Info = info
			results[i].Err = err
			if err != nil {
				results[i].Error = err.Error()
				logger.Debug("device failed", zap.String("device", path), zap.Error(err))
				merr = multierror.Append(merr, fmt.Errorf("%s: %w", path, err))
			}

			done++
			if status != nil {
				fmt.Fprintf(status, "Querying devices: %d/%d (%s)\n", done, len(paths), path)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}

	return results, merr.ErrorOrNil()
}
