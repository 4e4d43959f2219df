package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// compressionAlgorithms lists the supported algorithms with their file
// extension. "none" writes plain yaml.
var compressionAlgorithms = []struct {
	name      string
	extension string
}{
	{"none", ""},
	{"gzip", ".gz"},
	{"zlib", ".zlib"},
	{"bzip2", ".bz2"},
	{"snappy", ".snappy"},
	{"s2", ".s2"},
	{"zstd", ".zst"},
}

type countingWriter struct {
	w     io.Writer
	count int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.count += int64(n)
	return n, err
}

// getCompressionExtension returns the file extension for a given compression algorithm
func getCompressionExtension(compressionAlgorithm string) (string, error) {
	for _, a := range compressionAlgorithms {
		if a.name == compressionAlgorithm {
			return a.extension, nil
		}
	}
	return "", fmt.Errorf("unsupported compression algorithm: %s", compressionAlgorithm)
}

// compressionFromPath picks the algorithm from the file extension
func compressionFromPath(path string) string {
	for _, a := range compressionAlgorithms {
		if a.extension != "" && strings.HasSuffix(path, a.extension) {
			return a.name
		}
	}
	return "none"
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// createCompressionWriter creates a compression writer based on the algorithm.
// Closing it flushes the compressed stream but leaves output open.
func createCompressionWriter(algorithm string, output io.Writer) (io.WriteCloser, error) {
	switch algorithm {
	case "none":
		return nopWriteCloser{output}, nil
	case "gzip":
		return gzip.NewWriter(output), nil
	case "zlib":
		return zlib.NewWriter(output), nil
	case "bzip2":
		return bzip2.NewWriter(output, &bzip2.WriterConfig{})
	case "snappy":
		return snappy.NewBufferedWriter(output), nil
	case "s2":
		return s2.NewWriter(output), nil
	case "zstd":
		return zstd.NewWriter(output)
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}
}

// createDecompressionReader is the reading counterpart of createCompressionWriter
func createDecompressionReader(algorithm string, input io.Reader) (io.ReadCloser, error) {
	switch algorithm {
	case "none":
		return io.NopCloser(input), nil
	case "gzip":
		return gzip.NewReader(input)
	case "zlib":
		return zlib.NewReader(input)
	case "bzip2":
		return bzip2.NewReader(input, &bzip2.ReaderConfig{})
	case "snappy":
		return io.NopCloser(snappy.NewReader(input)), nil
	case "s2":
		return io.NopCloser(s2.NewReader(input)), nil
	case "zstd":
		dec, err := zstd.NewReader(input)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}
}
