package softjpeg

import (
	"encoding/binary"
	"fmt"
)

// tagReader reads TIFF fields from a retained marker segment.
// All offsets are indexes into data; nothing is read before a bounds check.
type tagReader struct {
	data     []byte
	motorola bool // big-endian ("MM")
}

func (r *tagReader) order() binary.ByteOrder {
	if r.motorola {
		return binary.BigEndian
	}

	return binary.LittleEndian
}

// span checks that n bytes starting at offset lie inside the segment.
func (r *tagReader) span(offset, n int) error {
	if offset < 0 || n < 0 || offset > len(r.data)-n {
		return fmt.Errorf("%w: read of %d bytes at offset %d exceeds segment length %d",
			ErrMalformedMetadata, n, offset, len(r.data))
	}

	return nil
}

func (r *tagReader) uint16(offset int) (uint16, error) {
	if err := r.span(offset, 2); err != nil {
		return 0, err
	}

	return r.order().Uint16(r.data[offset:]), nil
}

func (r *tagReader) uint32(offset int) (uint32, error) {
	if err := r.span(offset, 4); err != nil {
		return 0, err
	}

	return r.order().Uint32(r.data[offset:]), nil
}
