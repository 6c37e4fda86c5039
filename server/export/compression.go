package export

import (
	"strings"

	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/gear6io/gharp/pkg/errors"
)

// CompressionType names a Parquet codec
type CompressionType string

const (
	CompressionNone   CompressionType = "none"
	CompressionSnappy CompressionType = "snappy"
	CompressionGzip   CompressionType = "gzip"
	CompressionBrotli CompressionType = "brotli"
	CompressionLZ4    CompressionType = "lz4"
	CompressionZSTD   CompressionType = "zstd"
)

// GetCompressionCodec converts a configured codec name to a Parquet codec
func GetCompressionCodec(compression string) (compress.Compression, error) {
	switch CompressionType(strings.ToLower(compression)) {
	case CompressionNone, "uncompressed", "":
		return compress.Codecs.Uncompressed, nil
	case CompressionSnappy:
		return compress.Codecs.Snappy, nil
	case CompressionGzip, "gz":
		return compress.Codecs.Gzip, nil
	case CompressionBrotli:
		return compress.Codecs.Brotli, nil
	case CompressionLZ4:
		return compress.Codecs.Lz4Raw, nil
	case CompressionZSTD:
		return compress.Codecs.Zstd, nil
	default:
		return compress.Codecs.Uncompressed, errors.New(ErrUnsupportedCompression, "unsupported compression type", nil).AddContext("compression", compression)
	}
}
