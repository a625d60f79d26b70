package softjpeg

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"sync"
)

// Marker is an application marker segment retained during header parsing.
type Marker struct {
	Code byte   // Marker code, e.g. 0xE1 for APP1.
	Data []byte // Payload following the 2-byte length field.
}

// Header is the result of a header-only parse.
type Header struct {
	Progressive   bool
	Components    int
	Width, Height int
	Markers       []Marker
}

// Engine is the JPEG decoding collaborator driven by ReadHeader and Decode.
type Engine interface {
	// ParseHeaders reads the stream up to the first scan. When retainMarkers is
	// set, APP1 segments are returned in Header.Markers in file order.
	ParseHeaders(r io.Reader, retainMarkers bool) (*Header, error)
	// BeginDecode starts decompression with the output forced to cs.
	BeginDecode(r io.Reader, cs ColorSpace) (DecodeContext, error)
}

// DecodeContext is one in-progress decompression.
type DecodeContext interface {
	// Width and Height are the output dimensions.
	Width() int
	Height() int
	// ReadScanline returns the next row, Width()*3 bytes for RGB output. The
	// slice is only valid until the next call. It returns io.EOF after the last row.
	ReadScanline() ([]byte, error)
	// Finish completes decompression and returns the recoverable problems met
	// on the way. A non-nil error means the decode failed.
	Finish() ([]error, error)
	// Destroy releases the context. It is safe to call more than once.
	Destroy()
}

// engine is the default Engine. It walks the marker segments itself and hands
// the entropy-coded data to image/jpeg.
type engine struct {
	// maxBufferSize rejects frames whose RGBA buffer would exceed it, before
	// image/jpeg allocates anything. Zero means no limit.
	maxBufferSize int
}

// NewEngine returns the default decoding engine.
func NewEngine() Engine {
	return engine{}
}

func (engine) ParseHeaders(r io.Reader, retainMarkers bool) (*Header, error) {
	w := newHeaderWalker(bufio.NewReader(r), retainMarkers)
	if err := w.walk(); err != nil {
		return nil, err
	}

	return &w.header, nil
}

func (e engine) BeginDecode(r io.Reader, cs ColorSpace) (DecodeContext, error) {
	if cs != ColorSpaceRGB {
		return nil, fmt.Errorf("output color space %s: %w", cs, ErrUnsupported)
	}

	data, err := readAllData(r)
	if err != nil {
		return nil, err
	}

	w := newHeaderWalker(bufio.NewReader(bytes.NewReader(data)), false)
	if err := w.walk(); err != nil {
		return nil, err
	}

	if e.maxBufferSize > 0 {
		_, size, err := layout(w.header.Width, w.header.Height)
		if err != nil {
			return nil, err
		}

		if size > e.maxBufferSize {
			return nil, fmt.Errorf("%w: %dx%d frame needs %d bytes, limit is %d",
				ErrOutOfMemory, w.header.Width, w.header.Height, size, e.maxBufferSize)
		}
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSyntax, err)
	}

	b := img.Bounds()
	if b.Dx() != w.header.Width || b.Dy() != w.header.Height {
		w.warn(fmt.Errorf("frame header is %dx%d, decoded image is %dx%d",
			w.header.Width, w.header.Height, b.Dx(), b.Dy()))
	}

	ctx := &decodeContext{
		img:      img,
		width:    b.Dx(),
		height:   b.Dy(),
		warnings: w.warnings,
	}
	ctx.row = getRowBuffer(ctx.width * 3)

	return ctx, nil
}

// decodeContext serves rows of a decoded image one at a time.
type decodeContext struct {
	img           image.Image
	width, height int
	y             int
	row           *[]byte
	warnings      []error
}

func (c *decodeContext) Width() int  { return c.width }
func (c *decodeContext) Height() int { return c.height }

func (c *decodeContext) ReadScanline() ([]byte, error) {
	if c.row == nil {
		return nil, fmt.Errorf("read after destroy: %w", ErrInternal)
	}

	if c.y >= c.height {
		return nil, io.EOF
	}

	row := (*c.row)[:c.width*3]
	convertRow(row, c.img, c.y)
	c.y++

	return row, nil
}

func (c *decodeContext) Finish() ([]error, error) {
	if c.y < c.height {
		c.warnings = append(c.warnings, fmt.Errorf("finished after %d of %d scanlines", c.y, c.height))
	}

	return c.warnings, nil
}

func (c *decodeContext) Destroy() {
	if c.row != nil {
		putRowBuffer(c.row)
		c.row = nil
	}

	c.img = nil
}

// A pool for scanline buffers to reduce allocations across decodes.
var rowBufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, 4096)

		return &b
	},
}

func getRowBuffer(n int) *[]byte {
	b := rowBufferPool.Get().(*[]byte)
	if cap(*b) < n {
		*b = make([]byte, n)
	}

	*b = (*b)[:n]

	return b
}

func putRowBuffer(b *[]byte) {
	rowBufferPool.Put(b)
}

// Interface to check if a reader knows its remaining length.
type readerWithLen interface {
	Len() int
}

// readAllData reads data from r, pre-allocating if the size is known.
func readAllData(r io.Reader) ([]byte, error) {
	if rl, ok := r.(readerWithLen); ok {
		size := rl.Len()
		if size > 0 {
			data := make([]byte, size)
			if _, err := io.ReadFull(r, data); err != nil {
				return nil, fmt.Errorf("failed to read image data: %w", err)
			}

			return data, nil
		}
	}

	return io.ReadAll(r)
}
