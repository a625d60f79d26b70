package softjpeg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"testing"
	"testing/iotest"
)

// encodeJPEG returns a baseline JPEG of a w x h gradient.
func encodeJPEG(tb testing.TB, w, h int, gray bool) []byte {
	tb.Helper()

	var img image.Image
	if gray {
		g := image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				g.SetGray(x, y, color.Gray{Y: uint8((x*7 + y*3) % 256)})
			}
		}
		img = g
	} else {
		m := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				m.SetRGBA(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 96, A: 255})
			}
		}
		img = m
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		tb.Fatalf("jpeg.Encode failed: %v", err)
	}

	return buf.Bytes()
}

// withSegment inserts a marker segment right after SOI.
func withSegment(tb testing.TB, jpg []byte, code byte, payload []byte) []byte {
	tb.Helper()

	if len(jpg) < 2 || jpg[0] != 0xFF || jpg[1] != markerSOI {
		tb.Fatalf("fixture does not start with SOI")
	}

	seg := []byte{0xFF, code, 0, 0}
	binary.BigEndian.PutUint16(seg[2:], uint16(len(payload)+2))

	out := make([]byte, 0, len(jpg)+len(seg)+len(payload))
	out = append(out, jpg[:2]...)
	out = append(out, seg...)
	out = append(out, payload...)

	return append(out, jpg[2:]...)
}

// withSOF rewrites the frame header marker code, e.g. to 0xC2 for progressive.
func withSOF(tb testing.TB, jpg []byte, code byte) []byte {
	tb.Helper()

	out := append([]byte(nil), jpg...)
	pos := 2
	for pos+4 <= len(out) {
		if out[pos] != 0xFF {
			tb.Fatalf("no marker at offset %d", pos)
		}

		if isSOF(out[pos+1]) {
			out[pos+1] = code

			return out
		}

		pos += 2 + int(binary.BigEndian.Uint16(out[pos+2:]))
	}

	tb.Fatalf("no frame header found")

	return nil
}

// withFrameSize rewrites the dimensions in the frame header without touching
// the scan data.
func withFrameSize(tb testing.TB, jpg []byte, w, h uint16) []byte {
	tb.Helper()

	out := append([]byte(nil), jpg...)
	pos := 2
	for pos+9 <= len(out) {
		if isSOF(out[pos+1]) {
			binary.BigEndian.PutUint16(out[pos+5:], h)
			binary.BigEndian.PutUint16(out[pos+7:], w)

			return out
		}

		pos += 2 + int(binary.BigEndian.Uint16(out[pos+2:]))
	}

	tb.Fatalf("no frame header found")

	return nil
}

// unreadableReaders returns readers that exist as values but cannot be read:
// the nil *os.File of a failed open, a closed file, a nil *bytes.Reader and
// a reader that always fails.
func unreadableReaders(t *testing.T) map[string]io.Reader {
	t.Helper()

	missing, err := os.Open(filepath.Join(t.TempDir(), "missing.jpg"))
	if err == nil {
		t.Fatal("opened a file that does not exist")
	}

	closed, err := os.CreateTemp(t.TempDir(), "closed-*.jpg")
	if err != nil {
		t.Fatalf("CreateTemp failed: %v", err)
	}

	if _, err := closed.Write(encodeJPEG(t, 8, 8, false)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	closed.Close()

	var nilBytes *bytes.Reader

	return map[string]io.Reader{
		"failed open":  missing,
		"closed file":  closed,
		"nil buffer":   nilBytes,
		"read failure": iotest.ErrReader(errors.New("device not ready")),
	}
}

// ifdEntry is one 12-byte TIFF directory entry.
type ifdEntry struct {
	tag, typ uint16
	count    uint32
	value    [4]byte
}

func shortEntry(order binary.ByteOrder, tag, v uint16) ifdEntry {
	e := ifdEntry{tag: tag, typ: 3, count: 1}
	order.PutUint16(e.value[:], v)

	return e
}

// exifPayload builds an APP1 payload with IFD0 at ifdOffset from the TIFF header.
func exifPayload(order binary.ByteOrder, ifdOffset uint32, entries ...ifdEntry) []byte {
	var b bytes.Buffer
	b.Write(exifSignature)

	if order == binary.ByteOrder(binary.LittleEndian) {
		b.WriteString("II")
	} else {
		b.WriteString("MM")
	}

	_ = binary.Write(&b, order, uint16(tiffMagic))
	_ = binary.Write(&b, order, ifdOffset)

	for uint32(b.Len()-tiffStart) < ifdOffset {
		b.WriteByte(0)
	}

	_ = binary.Write(&b, order, uint16(len(entries)))
	for _, e := range entries {
		_ = binary.Write(&b, order, e.tag)
		_ = binary.Write(&b, order, e.typ)
		_ = binary.Write(&b, order, e.count)
		b.Write(e.value[:])
	}

	_ = binary.Write(&b, order, uint32(0)) // No next IFD.

	return b.Bytes()
}

// orientationPayload is a well-formed EXIF block holding orientation v after
// a couple of unrelated tags.
func orientationPayload(order binary.ByteOrder, v uint16) []byte {
	return exifPayload(order, 8,
		shortEntry(order, 0x0100, 640),
		shortEntry(order, 0x0101, 480),
		shortEntry(order, tagOrientation, v),
	)
}

// fakeEngine is a resource-tracking Engine for driving the pipeline.
type fakeEngine struct {
	header    *Header
	parseErr  error
	beginErr  error
	width     int
	height    int
	rowErrAt  int // -1: never
	rowErr    error
	shortRow  bool
	warnings  []error
	finishErr error
	noContext bool // BeginDecode returns (nil, nil)

	parseCalls  int
	beginCalls  int
	finishCalls int
	destroys    int
	rowsRead    int
}

func newFakeEngine(w, h int) *fakeEngine {
	return &fakeEngine{
		header:   &Header{Components: 3, Width: w, Height: h},
		width:    w,
		height:   h,
		rowErrAt: -1,
	}
}

func (e *fakeEngine) ParseHeaders(r io.Reader, retainMarkers bool) (*Header, error) {
	e.parseCalls++
	if e.parseErr != nil {
		return nil, e.parseErr
	}

	return e.header, nil
}

func (e *fakeEngine) BeginDecode(r io.Reader, cs ColorSpace) (DecodeContext, error) {
	e.beginCalls++
	if cs != ColorSpaceRGB {
		return nil, errors.New("fake engine only produces RGB")
	}

	if e.beginErr != nil {
		return nil, e.beginErr
	}

	if e.noContext {
		return nil, nil
	}

	return &fakeContext{e: e, row: make([]byte, max(e.width, 0)*3)}, nil
}

type fakeContext struct {
	e         *fakeEngine
	y         int
	row       []byte
	destroyed bool
}

func (c *fakeContext) Width() int  { return c.e.width }
func (c *fakeContext) Height() int { return c.e.height }

// fakePixel is the RGB value the fake engine produces at (x, y).
func fakePixel(x, y int) (r, g, b byte) {
	return byte(x), byte(y), byte(x + 2*y)
}

func (c *fakeContext) ReadScanline() ([]byte, error) {
	if c.destroyed {
		return nil, errors.New("read after destroy")
	}

	if c.y == c.e.rowErrAt {
		return nil, c.e.rowErr
	}

	if c.y >= c.e.height {
		return nil, io.EOF
	}

	for x := 0; x < c.e.width; x++ {
		c.row[3*x], c.row[3*x+1], c.row[3*x+2] = fakePixel(x, c.y)
	}

	c.y++
	c.e.rowsRead++

	if c.e.shortRow {
		return c.row[:len(c.row)/2], nil
	}

	return c.row, nil
}

func (c *fakeContext) Finish() ([]error, error) {
	c.e.finishCalls++

	return c.e.warnings, c.e.finishErr
}

// Destroy counts every call so tests can check it runs exactly once.
func (c *fakeContext) Destroy() {
	c.e.destroys++
	c.destroyed = true
}
