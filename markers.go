package softjpeg

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// JPEG marker codes (the byte following 0xFF).
const (
	markerSOF0  = 0xC0
	markerSOF15 = 0xCF
	markerDHT   = 0xC4
	markerJPG   = 0xC8
	markerDAC   = 0xCC
	markerRST0  = 0xD0
	markerRST7  = 0xD7
	markerSOI   = 0xD8
	markerEOI   = 0xD9
	markerSOS   = 0xDA
	markerTEM   = 0x01
	markerAPP1  = 0xE1
	markerAPP14 = 0xEE
)

var adobeSignature = []byte("Adobe")

// headerWalker reads marker segments from the start of the stream up to the
// first SOS. Recoverable oddities are collected as warnings.
type headerWalker struct {
	r        *bufio.Reader
	retain   bool
	header   Header
	sof      bool
	warnings []error
}

func newHeaderWalker(r *bufio.Reader, retainMarkers bool) *headerWalker {
	return &headerWalker{r: r, retain: retainMarkers}
}

func (w *headerWalker) warn(err error) {
	w.warnings = append(w.warnings, err)
}

// truncated converts a premature end of stream into a syntax error.
func truncated(err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}

	return fmt.Errorf("%w: %w", ErrSyntax, err)
}

// walk checks for SOI and decodes segments until the first scan.
func (w *headerWalker) walk() error {
	var soi [2]byte
	if _, err := io.ReadFull(w.r, soi[:]); err != nil || soi[0] != 0xFF || soi[1] != markerSOI {
		return ErrNoJPEG
	}

	for {
		marker, err := w.nextMarker()
		if err != nil {
			return err
		}

		switch {
		case marker == markerSOS:
			if !w.sof {
				return fmt.Errorf("%w: scan before frame header", ErrSyntax)
			}

			return nil
		case marker == markerEOI:
			return fmt.Errorf("%w: end of image before first scan", ErrSyntax)
		case marker == markerSOI:
			return fmt.Errorf("%w: unexpected SOI marker", ErrSyntax)
		case isSOF(marker):
			if err := w.decodeSOF(marker); err != nil {
				return err
			}
		case marker >= markerRST0 && marker <= markerRST7, marker == markerTEM:
			// Standalone markers carry no length.
			w.warn(fmt.Errorf("unexpected standalone marker 0x%02x in header", marker))
		case marker == markerAPP1 && w.retain:
			data, err := w.readSegment()
			if err != nil {
				return err
			}

			w.header.Markers = append(w.header.Markers, Marker{Code: marker, Data: data})
		case marker == markerAPP14:
			if err := w.decodeAPP14(); err != nil {
				return err
			}
		default:
			if err := w.skipSegment(); err != nil {
				return err
			}
		}
	}
}

// nextMarker returns the next marker code, discarding any bytes before the
// 0xFF prefix and any 0xFF fill bytes.
func (w *headerWalker) nextMarker() (byte, error) {
	discarded := 0

	for {
		b, err := w.r.ReadByte()
		if err != nil {
			return 0, truncated(err)
		}

		if b != 0xFF {
			discarded++

			continue
		}

		for b == 0xFF {
			if b, err = w.r.ReadByte(); err != nil {
				return 0, truncated(err)
			}
		}

		if b == 0 {
			// Stuffed 0xFF00 is not a marker.
			discarded += 2

			continue
		}

		if discarded > 0 {
			w.warn(fmt.Errorf("%d extraneous bytes before marker 0x%02x", discarded, b))
		}

		return b, nil
	}
}

// segmentLength reads the length field and returns the payload size.
func (w *headerWalker) segmentLength() (int, error) {
	var buf [2]byte
	if _, err := io.ReadFull(w.r, buf[:]); err != nil {
		return 0, truncated(err)
	}

	n := int(binary.BigEndian.Uint16(buf[:]))
	if n < 2 {
		return 0, fmt.Errorf("%w: segment length %d", ErrSyntax, n) // Length must include its own 2 bytes.
	}

	return n - 2, nil
}

func (w *headerWalker) readSegment() ([]byte, error) {
	n, err := w.segmentLength()
	if err != nil {
		return nil, err
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(w.r, data); err != nil {
		return nil, truncated(err)
	}

	return data, nil
}

func (w *headerWalker) skipSegment() error {
	n, err := w.segmentLength()
	if err != nil {
		return err
	}

	if _, err := w.r.Discard(n); err != nil {
		return truncated(err)
	}

	return nil
}

func isSOF(marker byte) bool {
	return marker >= markerSOF0 && marker <= markerSOF15 &&
		marker != markerDHT && marker != markerJPG && marker != markerDAC
}

func isProgressiveSOF(marker byte) bool {
	switch marker {
	case 0xC2, 0xC6, 0xCA, 0xCE:
		return true
	}

	return false
}

// decodeSOF decodes the Start of Frame segment: dimensions, component count
// and whether the scans are progressive.
func (w *headerWalker) decodeSOF(marker byte) error {
	if w.sof {
		return fmt.Errorf("%w: duplicate frame header", ErrSyntax)
	}

	data, err := w.readSegment()
	if err != nil {
		return err
	}

	if len(data) < 6 {
		return fmt.Errorf("%w: frame header too short", ErrSyntax)
	}

	height := int(binary.BigEndian.Uint16(data[1:]))
	width := int(binary.BigEndian.Uint16(data[3:]))
	ncomp := int(data[5])

	if width == 0 || height == 0 || ncomp == 0 {
		return fmt.Errorf("%w: empty image %dx%d with %d components", ErrSyntax, width, height, ncomp)
	}

	if len(data) < 6+ncomp*3 {
		return fmt.Errorf("%w: frame header too short for %d components", ErrSyntax, ncomp)
	}

	w.sof = true
	w.header.Progressive = isProgressiveSOF(marker)
	w.header.Components = ncomp
	w.header.Width = width
	w.header.Height = height

	return nil
}

// decodeAPP14 checks the "Adobe" segment for a known color transform.
func (w *headerWalker) decodeAPP14() error {
	data, err := w.readSegment()
	if err != nil {
		return err
	}

	if len(data) >= 12 && bytes.HasPrefix(data, adobeSignature) {
		// 0: RGB or CMYK, 1: YCbCr, 2: YCCK.
		if transform := data[11]; transform > 2 {
			w.warn(fmt.Errorf("unknown Adobe color transform %d", transform))
		}
	}

	return nil
}
