package softjpeg

import (
	"bytes"
	"errors"
	"fmt"
)

const (
	// minExifSegment is the smallest APP1 payload worth parsing: signature,
	// TIFF header and a tag count.
	minExifSegment = 20

	// tiffStart is the offset of the TIFF header inside the APP1 payload.
	tiffStart = 6

	tiffMagic      = 0x002A
	tagOrientation = 0x0112
	ifdEntrySize   = 12
)

var exifSignature = []byte("Exif\x00\x00")

// Reasons an orientation could not be recovered. They are advisory only.
var (
	errNoExif          = errors.New("no EXIF signature")
	errByteOrder       = errors.New("invalid TIFF byte order")
	errTIFFMagic       = errors.New("invalid TIFF magic number")
	errIFDOffset       = errors.New("IFD0 offset out of range")
	errNoOrientation   = errors.New("orientation tag not found")
	errOrientationType = errors.New("orientation value does not fit a byte")
	errOrientation     = errors.New("orientation value out of range")
)

// ExtractOrientation returns the orientation stored in IFD0 of an APP1 EXIF
// payload (the segment data following the marker length). Missing, malformed
// or out-of-range metadata yields OrientationNormal.
func ExtractOrientation(segment []byte) Orientation {
	o, err := parseOrientation(segment)
	if err != nil {
		return OrientationNormal
	}

	return o
}

// parseOrientation walks IFD0 looking for the orientation tag and reports why
// it gave up. Every offset is validated against len(segment) before use.
func parseOrientation(segment []byte) (Orientation, error) {
	if len(segment) < minExifSegment || !bytes.HasPrefix(segment, exifSignature) {
		return OrientationUnspecified, errNoExif
	}

	r := &tagReader{data: segment}
	switch {
	case segment[6] == 'I' && segment[7] == 'I':
		r.motorola = false
	case segment[6] == 'M' && segment[7] == 'M':
		r.motorola = true
	default:
		return OrientationUnspecified, errByteOrder
	}

	magic, err := r.uint16(tiffStart + 2)
	if err != nil {
		return OrientationUnspecified, err
	}

	if magic != tiffMagic {
		return OrientationUnspecified, errTIFFMagic
	}

	ifd, err := r.uint32(tiffStart + 4)
	if err != nil {
		return OrientationUnspecified, err
	}

	// Directories further than 64KB from the TIFF header cannot be inside an APP1 segment.
	if ifd>>16 != 0 {
		return OrientationUnspecified, fmt.Errorf("%w: %#x", errIFDOffset, ifd)
	}

	offset := int(ifd) + tiffStart
	if offset > len(segment)-(2+ifdEntrySize) {
		return OrientationUnspecified, fmt.Errorf("%w: %d", errIFDOffset, offset)
	}

	count, err := r.uint16(offset)
	if err != nil {
		return OrientationUnspecified, err
	}

	offset += 2

	for {
		if count == 0 || offset > len(segment)-ifdEntrySize {
			return OrientationUnspecified, errNoOrientation
		}

		count--

		tag, err := r.uint16(offset)
		if err != nil {
			return OrientationUnspecified, err
		}

		if tag == tagOrientation {
			break
		}

		offset += ifdEntrySize
	}

	// The SHORT value sits in the first two bytes of the value field; its
	// high byte must be zero.
	value, err := r.uint16(offset + 8)
	if err != nil {
		return OrientationUnspecified, err
	}

	if value > 0xFF {
		return OrientationUnspecified, fmt.Errorf("%w: %#x", errOrientationType, value)
	}

	o := Orientation(value)
	if !o.Valid() {
		return OrientationUnspecified, fmt.Errorf("%w: %d", errOrientation, value)
	}

	return o, nil
}
