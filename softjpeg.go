// Package softjpeg reads JPEG headers and EXIF orientation, and decodes JPEG
// images into a padded RGBA buffer whose rows and row count are aligned to 16.
package softjpeg

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
)

// Standard error types returned by ReadHeader and Decode.
var (
	ErrFileOpenFailed = errors.New("file open failed")
	ErrDecodingFailed = errors.New("decoding failed")
	ErrOutOfMemory    = errors.New("out of memory")
	// ErrCorruptData is returned together with a fully populated image when the
	// engine recovered from damaged data.
	ErrCorruptData = errors.New("corrupt data")
	// ErrMalformedMetadata marks an EXIF read outside the marker segment.
	// It never leaves this package.
	ErrMalformedMetadata = errors.New("malformed metadata")
)

// Errors reported by the default engine.
var (
	ErrNoJPEG      = errors.New("not a JPEG file")
	ErrSyntax      = errors.New("syntax error")
	ErrUnsupported = errors.New("unsupported format")
	ErrInternal    = errors.New("internal error")
)

// Mode is the JPEG scan ordering.
type Mode int

const (
	NonProgressive Mode = iota
	Progressive
)

func (m Mode) String() string {
	if m == Progressive {
		return "progressive"
	}

	return "non-progressive"
}

// ColorSpace identifies the pixel layout of a buffer.
type ColorSpace int

const (
	// ColorSpaceRGB is three bytes per pixel, the engine output.
	ColorSpaceRGB ColorSpace = iota + 1
	// ColorSpaceRGBA is four bytes per pixel with opaque alpha.
	ColorSpaceRGBA
)

func (c ColorSpace) String() string {
	switch c {
	case ColorSpaceRGB:
		return "RGB"
	case ColorSpaceRGBA:
		return "RGBA"
	default:
		return "unknown"
	}
}

// ImageInfo is the format summary returned by ReadHeader.
type ImageInfo struct {
	Mode        Mode
	Components  int
	Orientation Orientation
	// Width and Height are as stored in the frame header, ignoring Orientation.
	Width, Height int
}

// DecodedImage is an RGBA image padded for aligned access.
//
// Stride is Width rounded up to a multiple of 16, times 4. Pix holds
// Stride * (Height rounded up to a multiple of 16) bytes. Bytes outside the
// Width x Height area are padding and carry no image content.
type DecodedImage struct {
	Width, Height int
	ColorSpace    ColorSpace
	Stride        int
	Pix           []byte
}

// RGBA returns an [image.RGBA] view of the valid area. It shares Pix.
func (m *DecodedImage) RGBA() *image.RGBA {
	n := 0
	if m.Height > 0 {
		n = (m.Height-1)*m.Stride + m.Width*4
	}

	return &image.RGBA{
		Pix:    m.Pix[:n:n],
		Stride: m.Stride,
		Rect:   image.Rect(0, 0, m.Width, m.Height),
	}
}

// Options specifies decoding parameters.
type Options struct {
	// Engine decodes the entropy-coded data. If nil, the default engine is used.
	Engine Engine
	// MaxBufferSize limits the destination buffer in bytes. Zero means no limit.
	// Larger images fail with ErrOutOfMemory. The default engine checks the
	// frame header against it before decoding any pixels; a custom Engine
	// only sees the limit applied to the destination buffer.
	MaxBufferSize int
	// Logger receives debug and warning records. If nil, nothing is logged.
	Logger *slog.Logger
}

var defaultEngine = NewEngine()

// config resolves the optional Options argument.
type config struct {
	engine  Engine
	maxSize int
	log     *slog.Logger
}

func newConfig(opts []*Options) config {
	c := config{engine: defaultEngine, log: discardLogger}
	if len(opts) > 0 && opts[0] != nil {
		o := opts[0]
		if o.MaxBufferSize > 0 {
			c.maxSize = o.MaxBufferSize
			c.engine = engine{maxBufferSize: o.MaxBufferSize}
		}

		if o.Engine != nil {
			c.engine = o.Engine
		}

		if o.Logger != nil {
			c.log = o.Logger
		}
	}

	return c
}

var discardLogger = slog.New(slog.DiscardHandler)

// openStream makes sure r can be read before any engine sees it. Typed nils
// such as the *os.File of a failed os.Open fail here with ErrFileOpenFailed.
// An empty stream is left for the engine to reject.
func openStream(r io.Reader) (br *bufio.Reader, err error) {
	if r == nil {
		return nil, ErrFileOpenFailed
	}

	defer func() {
		if p := recover(); p != nil {
			br, err = nil, fmt.Errorf("%w: %v", ErrFileOpenFailed, p)
		}
	}()

	br = bufio.NewReader(r)
	if _, perr := br.Peek(1); perr != nil && !errors.Is(perr, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrFileOpenFailed, perr)
	}

	return br, nil
}

// align16 rounds n up to the next multiple of 16.
func align16(n int) int {
	return (n + 15) &^ 15
}
