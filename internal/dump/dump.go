// Package dump implements the streaming dump reader: it wraps a MediaWiki
// XML dump file in the decompressor its extension calls for, then drives a
// pull-based XML parser that emits pages in source order. It never buffers
// a whole dump file in memory.
package dump

import (
	"compress/bzip2"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression names the outer framing a dump file is wrapped in. Raw .xml
// dumps use CompressionNone.
type Compression int

const (
	// CompressionAuto selects a compression from the file's extension.
	CompressionAuto Compression = iota
	CompressionBzip2
	CompressionLZ4
	CompressionZstd
	CompressionNone
)

// DetectCompression maps a dump file's extension (.bz2, .lz4, .zst, or raw
// .xml) to the compression it's framed in.
func DetectCompression(path string) Compression {
	switch {
	case strings.HasSuffix(path, ".bz2"):
		return CompressionBzip2
	case strings.HasSuffix(path, ".lz4"):
		return CompressionLZ4
	case strings.HasSuffix(path, ".zst"):
		return CompressionZstd
	default:
		return CompressionNone
	}
}

// decompressor is the minimal interface a wrapped dump stream needs:
// io.Reader plus an optional Close to release background resources (zstd's
// decoder runs worker goroutines that must be stopped).
type decompressor interface {
	io.Reader
	Close() error
}

type nopCloseReader struct{ io.Reader }

func (nopCloseReader) Close() error { return nil }

type lz4CloseReader struct{ *lz4.Reader }

func (lz4CloseReader) Close() error { return nil }

// wrap opens the decompressor appropriate for hint over f. If hint is
// CompressionAuto, it is resolved from path's extension first.
func wrap(f *os.File, path string, hint Compression) (decompressor, error) {
	if hint == CompressionAuto {
		hint = DetectCompression(path)
	}

	switch hint {
	case CompressionBzip2:
		return nopCloseReader{bzip2.NewReader(f)}, nil
	case CompressionLZ4:
		return lz4CloseReader{lz4.NewReader(f)}, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		return zstdCloseReader{zr}, nil
	default:
		return nopCloseReader{f}, nil
	}
}

type zstdCloseReader struct{ *zstd.Decoder }

func (z zstdCloseReader) Close() error {
	z.Decoder.Close()
	return nil
}
