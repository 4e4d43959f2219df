package main

import (
	"errors"
	"fmt"
	"syscall"
)

// Win32 status codes the query client distinguishes.
const (
	ERROR_INVALID_FUNCTION    = syscall.Errno(1)
	ERROR_FILE_NOT_FOUND      = syscall.Errno(2)
	ERROR_ACCESS_DENIED       = syscall.Errno(5)
	ERROR_NOT_READY           = syscall.Errno(21)
	ERROR_NOT_SUPPORTED       = syscall.Errno(50)
	ERROR_INSUFFICIENT_BUFFER = syscall.Errno(122)
	ERROR_MORE_DATA           = syscall.Errno(234)
)

var (
	// ErrBufferTooSmall matches query failures that a larger buffer fixes.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrUnavailable matches query failures that mean the device has no
	// answer for this control code (not ready, dynamic disk volume path,
	// virtual or image device).
	ErrUnavailable = errors.New("device data unavailable")

	// ErrBufferLimit is returned when negotiation would exceed the maximum
	// buffer size.
	ErrBufferLimit = errors.New("reply buffer limit exceeded")

	// ErrMalformedReply is returned by the decoders for replies that cannot
	// be interpreted.
	ErrMalformedReply = errors.New("malformed device reply")

	// ErrUnsupportedPlatform is returned by device openers on systems without
	// the disk control interface.
	ErrUnsupportedPlatform = errors.New("device queries are only supported on windows")
)

// FailureKind classifies a failed device control call.
type FailureKind int

const (
	FailureFatal FailureKind = iota
	FailureBufferTooSmall
	FailureUnavailable
)

func (k FailureKind) String() string {
	switch k {
	case FailureBufferTooSmall:
		return "buffer too small"
	case FailureUnavailable:
		return "unavailable"
	default:
		return "fatal"
	}
}

// QueryError is a classified device control failure. Errno holds the
// original OS status, zero when the failure did not come from the OS.
type QueryError struct {
	Kind        FailureKind
	ControlCode uint32
	Errno       syscall.Errno
	Err         error
}

func (e *QueryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ioctl 0x%08x: %s: %v", e.ControlCode, e.Kind, e.Err)
	}
	return fmt.Sprintf("ioctl 0x%08x: %s", e.ControlCode, e.Kind)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the failure kind sentinels.
func (e *QueryError) Is(target error) bool {
	switch target {
	case ErrBufferTooSmall:
		return e.Kind == FailureBufferTooSmall
	case ErrUnavailable:
		return e.Kind == FailureUnavailable
	}
	return false
}

// deviceQuerier issues device control calls against one open device.
// DeviceIoControl fills out and returns the number of bytes written.
type deviceQuerier interface {
	DeviceIoControl(controlCode uint32, out []byte) (uint32, error)
}

// deviceHandle is an open device. Close releases the OS handle.
type deviceHandle interface {
	deviceQuerier
	Close() error
}

// classifyQueryError maps an OS status to a QueryError. It is the only place
// where status codes are interpreted.
func classifyQueryError(controlCode uint32, err error) *QueryError {
	qe := &QueryError{Kind: FailureFatal, ControlCode: controlCode, Err: err}

	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return qe
	}
	qe.Errno = errno

	switch errno {
	case ERROR_INSUFFICIENT_BUFFER, ERROR_MORE_DATA:
		qe.Kind = FailureBufferTooSmall
	case ERROR_NOT_READY,
		// A logical drive path like \\.\D: fails on a dynamic disk.
		ERROR_INVALID_FUNCTION,
		// Image devices (mounted .iso/.vhd) do not implement disk ioctls.
		ERROR_NOT_SUPPORTED:
		qe.Kind = FailureUnavailable
	}

	return qe
}

// queryDevice performs one device control call with a fresh zeroed buffer of
// size bytes and returns the filled part of it.
func queryDevice(dev deviceQuerier, controlCode uint32, size int) ([]byte, error) {
	buf := make([]byte, size)

	n, err := dev.DeviceIoControl(controlCode, buf)
	if err != nil {
		return nil, classifyQueryError(controlCode, err)
	}

	if int(n) > len(buf) {
		return nil, &QueryError{
			Kind:        FailureFatal,
			ControlCode: controlCode,
			Err:         fmt.Errorf("driver returned %d bytes into a %d byte buffer", n, len(buf)),
		}
	}

	return buf[:n], nil
}
