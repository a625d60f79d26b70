package softjpeg

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/bits"

	"github.com/hashicorp/go-multierror"
)

// Decode reads a JPEG image from r and returns it as padded RGBA.
//
// Every pixel inside Width x Height has alpha 255. When the engine recovered
// from damaged data, the populated image is returned together with an error
// matching ErrCorruptData; the image is usable but suspect. Other failures
// return a nil image with ErrFileOpenFailed, ErrDecodingFailed or
// ErrOutOfMemory. A nil or unreadable reader never reaches the engine.
func Decode(r io.Reader, opts ...*Options) (*DecodedImage, error) {
	br, err := openStream(r)
	if err != nil {
		return nil, err
	}

	cfg := newConfig(opts)

	ctx, err := cfg.engine.BeginDecode(br, ColorSpaceRGB)
	if err != nil {
		if errors.Is(err, ErrOutOfMemory) {
			return nil, err
		}

		return nil, fmt.Errorf("%w: %w", ErrDecodingFailed, err)
	}

	if ctx == nil {
		return nil, fmt.Errorf("%w: engine returned no decode context", ErrDecodingFailed)
	}

	// The context is released exactly once, whichever way we leave.
	defer ctx.Destroy()

	width, height := ctx.Width(), ctx.Height()
	if width < 0 || height < 0 {
		return nil, fmt.Errorf("%w: negative dimensions %dx%d", ErrDecodingFailed, width, height)
	}

	img, err := newDecodedImage(width, height, cfg.maxSize)
	if err != nil {
		// Allocation failures leave decompression unfinished; finish it before destroying.
		_, _ = ctx.Finish()

		return nil, err
	}

	for y := 0; y < height; y++ {
		row, err := ctx.ReadScanline()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = fmt.Errorf("scanline %d of %d: %w", y, height, io.ErrUnexpectedEOF)
			}

			return nil, fmt.Errorf("%w: %w", ErrDecodingFailed, err)
		}

		if len(row) < width*3 {
			return nil, fmt.Errorf("%w: scanline %d has %d bytes, want %d", ErrDecodingFailed, y, len(row), width*3)
		}

		expandRow(img.Pix[y*img.Stride:], row, width)
	}

	warnings, err := ctx.Finish()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodingFailed, err)
	}

	if len(warnings) > 0 {
		for _, w := range warnings {
			cfg.log.Warn("corrupt JPEG data", "error", w)
		}

		return img, multierror.Append(ErrCorruptData, warnings...)
	}

	return img, nil
}

// layout returns the aligned stride and buffer size for a width x height image.
func layout(width, height int) (stride, size int, err error) {
	if width > (math.MaxInt-15)/4 || height > math.MaxInt-15 {
		return 0, 0, fmt.Errorf("%w: %dx%d image exceeds the address space", ErrOutOfMemory, width, height)
	}

	s := uint64(align16(width)) * 4
	hi, n := bits.Mul64(s, uint64(align16(height)))
	if hi != 0 || n > math.MaxInt {
		return 0, 0, fmt.Errorf("%w: %dx%d image exceeds the address space", ErrOutOfMemory, width, height)
	}

	return int(s), int(n), nil
}

// newDecodedImage allocates an RGBA image in the padded layout. maxSize caps
// the buffer when positive.
func newDecodedImage(width, height, maxSize int) (*DecodedImage, error) {
	stride, size, err := layout(width, height)
	if err != nil {
		return nil, err
	}

	if maxSize > 0 && size > maxSize {
		return nil, fmt.Errorf("%w: %d byte buffer exceeds limit of %d", ErrOutOfMemory, size, maxSize)
	}

	pix, err := allocate(size)
	if err != nil {
		return nil, err
	}

	return &DecodedImage{
		Width:      width,
		Height:     height,
		ColorSpace: ColorSpaceRGBA,
		Stride:     stride,
		Pix:        pix,
	}, nil
}

// allocate turns the runtime panic of an impossible allocation into ErrOutOfMemory.
func allocate(n int) (buf []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf, err = nil, fmt.Errorf("%w: %v", ErrOutOfMemory, r)
		}
	}()

	return make([]byte, n), nil
}

// expandRow copies width RGB pixels from src into dst as RGBA with opaque alpha.
func expandRow(dst, src []byte, width int) {
	dst = dst[:width*4]
	src = src[:width*3]

	for d, s := 0, 0; d+3 < len(dst) && s+2 < len(src); d, s = d+4, s+3 {
		dst[d] = src[s]
		dst[d+1] = src[s+1]
		dst[d+2] = src[s+2]
		dst[d+3] = 0xFF
	}
}
