// Package codecs implements the payload compression codecs of the wire protocol.
package codecs

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// Codec identifies the compression applied to a message payload. Its value
// is encoded into each frame, immediately preceding the payload.
type Codec byte

const (
	// Codec_NONE applies no compression.
	Codec_NONE Codec = 0
	// Codec_GZIP compresses with gzip.
	Codec_GZIP Codec = 1
	// Codec_SNAPPY compresses with the snappy framing format.
	Codec_SNAPPY Codec = 2
	// Codec_ZSTANDARD compresses with zstandard, if enabled at compile time.
	Codec_ZSTANDARD Codec = 3
)

// MaxDecompressedSize bounds the size of a decompressed payload.
const MaxDecompressedSize = 1 << 26

var codecNames = map[Codec]string{
	Codec_NONE:      "none",
	Codec_GZIP:      "gzip",
	Codec_SNAPPY:    "snappy",
	Codec_ZSTANDARD: "zstandard",
}

func (c Codec) String() string {
	if n, ok := codecNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Codec(%d)", byte(c))
}

// Validate returns an error if the Codec is not known.
func (c Codec) Validate() error {
	if _, ok := codecNames[c]; !ok {
		return fmt.Errorf("unknown codec %s", c)
	}
	return nil
}

// ParseCodec returns the Codec having the given name.
func ParseCodec(name string) (Codec, error) {
	for c, n := range codecNames {
		if n == name {
			return c, nil
		}
	}
	return Codec_NONE, fmt.Errorf("unknown codec name %q", name)
}

// Decompressor is a ReadCloser where Close closes and releases Decompressor
// state, but does not Close or affect the underlying Reader.
type Decompressor io.ReadCloser

// Compressor is a WriteCloser where Close closes and releases Compressor
// state, potentially flushing final content to the underlying Writer,
// but does not Close or otherwise affect the underlying Writer.
type Compressor io.WriteCloser

// NewCodecReader returns a Decompressor of the Reader encoded with Codec.
func NewCodecReader(r io.Reader, codec Codec) (Decompressor, error) {
	switch codec {
	case Codec_NONE:
		return ioutil.NopCloser(r), nil
	case Codec_GZIP:
		return gzip.NewReader(r)
	case Codec_SNAPPY:
		return ioutil.NopCloser(snappy.NewReader(r)), nil
	case Codec_ZSTANDARD:
		return zstdNewReader(r)
	default:
		return nil, fmt.Errorf("unsupported codec %s", codec)
	}
}

// NewCodecWriter returns a Compressor wrapping the Writer encoding with Codec.
func NewCodecWriter(w io.Writer, codec Codec) (Compressor, error) {
	switch codec {
	case Codec_NONE:
		return nopWriteCloser{w}, nil
	case Codec_GZIP:
		return gzip.NewWriter(w), nil
	case Codec_SNAPPY:
		return snappy.NewBufferedWriter(w), nil
	case Codec_ZSTANDARD:
		return zstdNewWriter(w)
	default:
		return nil, fmt.Errorf("unsupported codec %s", codec)
	}
}

// Compress returns |b| encoded with Codec. Codec_NONE returns |b| itself.
func Compress(codec Codec, b []byte) ([]byte, error) {
	if codec == Codec_NONE {
		return b, nil
	}
	var buf bytes.Buffer
	var w, err = NewCodecWriter(&buf, codec)
	if err != nil {
		return nil, err
	} else if _, err = w.Write(b); err != nil {
		return nil, errors.Wrapf(err, "compressing with %s", codec)
	} else if err = w.Close(); err != nil {
		return nil, errors.Wrapf(err, "closing %s compressor", codec)
	}
	return buf.Bytes(), nil
}

// Decompress returns |b| decoded with Codec. Codec_NONE returns |b| itself.
// Decompressed content larger than MaxDecompressedSize is an error.
func Decompress(codec Codec, b []byte) ([]byte, error) {
	if codec == Codec_NONE {
		return b, nil
	}
	var r, err = NewCodecReader(bytes.NewReader(b), codec)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out, err := ioutil.ReadAll(io.LimitReader(r, MaxDecompressedSize+1))
	if err != nil {
		return nil, errors.Wrapf(err, "decompressing with %s", codec)
	} else if len(out) > MaxDecompressedSize {
		return nil, errors.Errorf("decompressed %s payload exceeds %d bytes", codec, MaxDecompressedSize)
	}
	return out, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

var (
	zstdNewReader = func(io.Reader) (io.ReadCloser, error) {
		return nil, fmt.Errorf("ZSTANDARD was not enabled at compile time")
	}
	zstdNewWriter = func(io.Writer) (io.WriteCloser, error) {
		return nil, fmt.Errorf("ZSTANDARD was not enabled at compile time")
	}
)
