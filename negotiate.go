package main

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

const (
	// DefaultFileBufferSize is the library-wide default buffer size. Layout
	// queries start at a quarter of it, which holds six partition records.
	DefaultFileBufferSize = 4096

	defaultLayoutBufferSize   = DefaultFileBufferSize / 4
	defaultGeometryBufferSize = 128
	defaultMaxBufferSize      = 32 << 20
)

// NegotiationConfig bounds the grow-and-retry protocol used for replies of
// unknown size.
type NegotiationConfig struct {
	LayoutBufferSize   int `toml:"layout_buffer_size"`
	GeometryBufferSize int `toml:"geometry_buffer_size"`
	MaxBufferSize      int `toml:"max_buffer_size"`
}

func defaultNegotiationConfig() NegotiationConfig {
	return NegotiationConfig{
		LayoutBufferSize:   defaultLayoutBufferSize,
		GeometryBufferSize: defaultGeometryBufferSize,
		MaxBufferSize:      defaultMaxBufferSize,
	}
}

// bufferCapacity returns the buffer size used for the given zero-based
// attempt: the initial size doubled once per previous attempt.
func bufferCapacity(initial, attempt int) int {
	return initial << attempt
}

// negotiate calls query with growing buffer sizes until it stops reporting
// ErrBufferTooSmall. Any other failure ends the negotiation and is returned
// as is. A capacity above MaxBufferSize fails with ErrBufferLimit.
func (c NegotiationConfig) negotiate(logger *zap.Logger, initial int, query func(size int) ([]byte, error)) ([]byte, error) {
	var last *QueryError

	for attempt := 0; ; attempt++ {
		size := bufferCapacity(initial, attempt)
		if size > c.MaxBufferSize || size <= 0 {
			qe := &QueryError{Kind: FailureFatal, Err: fmt.Errorf("%w: %d bytes", ErrBufferLimit, c.MaxBufferSize)}
			if last != nil {
				qe.ControlCode = last.ControlCode
				qe.Errno = last.Errno
			}
			return nil, qe
		}

		buf, err := query(size)
		if err == nil {
			return buf, nil
		}

		if !errors.Is(err, ErrBufferTooSmall) {
			return nil, err
		}

		errors.As(err, &last)

		logger.Debug("reply buffer too small, growing",
			zap.Int("attempt", attempt),
			zap.Int("capacity", size),
			zap.Int("next", bufferCapacity(initial, attempt+1)),
		)
	}
}
