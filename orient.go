package softjpeg

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Orientation is the EXIF orientation flag (tag 0x0112). It tells which
// transformation should be applied to the stored image to display it upright.
type Orientation int

const (
	OrientationUnspecified Orientation = 0
	OrientationNormal      Orientation = 1
	OrientationFlipH       Orientation = 2
	OrientationRotate180   Orientation = 3
	OrientationFlipV       Orientation = 4
	OrientationTranspose   Orientation = 5
	OrientationRotate270   Orientation = 6
	OrientationTransverse  Orientation = 7
	OrientationRotate90    Orientation = 8
)

var orientationNames = [...]string{
	"unspecified", "normal", "flip-h", "rotate-180", "flip-v",
	"transpose", "rotate-270", "transverse", "rotate-90",
}

func (o Orientation) String() string {
	if o >= 0 && int(o) < len(orientationNames) {
		return orientationNames[o]
	}

	return fmt.Sprintf("orientation(%d)", int(o))
}

// Valid reports whether o is one of the eight EXIF orientations.
func (o Orientation) Valid() bool {
	return o >= OrientationNormal && o <= OrientationRotate90
}

// SwapsDimensions reports whether displaying with o exchanges width and height.
func (o Orientation) SwapsDimensions() bool {
	return o >= OrientationTranspose && o <= OrientationRotate90
}

// Orient returns a new image with the transformation for o applied, in the
// same padded RGBA layout. Normal and invalid orientations return a copy.
func (m *DecodedImage) Orient(o Orientation) (*DecodedImage, error) {
	if m.ColorSpace != ColorSpaceRGBA {
		return nil, fmt.Errorf("orient: unsupported color space %s", m.ColorSpace)
	}

	var dst image.Image = m.RGBA()

	// Names follow the EXIF semantic: Rotate270 (6) needs a clockwise turn.
	switch o {
	case OrientationFlipH:
		dst = imaging.FlipH(dst)
	case OrientationRotate180:
		dst = imaging.Rotate180(dst)
	case OrientationFlipV:
		dst = imaging.FlipV(dst)
	case OrientationTranspose:
		dst = imaging.Transpose(dst)
	case OrientationRotate270:
		dst = imaging.Rotate270(dst)
	case OrientationTransverse:
		dst = imaging.Transverse(dst)
	case OrientationRotate90:
		dst = imaging.Rotate90(dst)
	}

	b := dst.Bounds()
	out, err := newDecodedImage(b.Dx(), b.Dy(), 0)
	if err != nil {
		return nil, err
	}

	// Alpha is opaque everywhere, so NRGBA and RGBA rows are byte-identical.
	switch src := dst.(type) {
	case *image.NRGBA:
		copyRows(out, src.Pix, src.Stride)
	case *image.RGBA:
		copyRows(out, src.Pix, src.Stride)
	}

	return out, nil
}

// copyRows copies Width*4 bytes of every row from src into m.
func copyRows(m *DecodedImage, src []byte, srcStride int) {
	n := m.Width * 4
	for y := 0; y < m.Height; y++ {
		copy(m.Pix[y*m.Stride:y*m.Stride+n], src[y*srcStride:y*srcStride+n])
	}
}
