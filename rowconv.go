package softjpeg

import (
	"image"
	"image/color"
)

// clip clamps an int32 value to the valid 8-bit pixel range [0, 255].
func clip(x int32) byte {
	if x < 0 {
		return 0
	}

	if x > 255 {
		return 255
	}

	return byte(x)
}

// convertRow writes row y of img into dst as packed RGB, len(dst)/3 pixels.
func convertRow(dst []byte, img image.Image, y int) {
	b := img.Bounds()
	y += b.Min.Y

	switch m := img.(type) {
	case *image.YCbCr:
		yCbCrRowToRGB(dst, m, y)
	case *image.Gray:
		grayRowToRGB(dst, m, y)
	case *image.CMYK:
		cmykRowToRGB(dst, m, y)
	case *image.RGBA:
		off := m.PixOffset(b.Min.X, y)
		rgbaRowToRGB(dst, m.Pix[off:off+len(dst)/3*4])
	default:
		for i, x := 0, b.Min.X; i+2 < len(dst); i, x = i+3, x+1 {
			c := color.RGBAModel.Convert(m.At(x, y)).(color.RGBA)
			dst[i], dst[i+1], dst[i+2] = c.R, c.G, c.B
		}
	}
}

// yCbCrRowToRGB converts one row using the JFIF fixed-point equations.
// Chroma is sampled through COffset, so every subsampling ratio is handled.
func yCbCrRowToRGB(dst []byte, m *image.YCbCr, y int) {
	x0 := m.Rect.Min.X
	for i, x := 0, x0; i+2 < len(dst); i, x = i+3, x+1 {
		yy := int32(m.Y[m.YOffset(x, y)]) << 8
		ci := m.COffset(x, y)
		cb := int32(m.Cb[ci]) - 128
		cr := int32(m.Cr[ci]) - 128

		dst[i] = clip((yy + 359*cr + 128) >> 8)
		dst[i+1] = clip((yy - 88*cb - 183*cr + 128) >> 8)
		dst[i+2] = clip((yy + 454*cb + 128) >> 8)
	}
}

func grayRowToRGB(dst []byte, m *image.Gray, y int) {
	off := m.PixOffset(m.Rect.Min.X, y)
	src := m.Pix[off : off+len(dst)/3]
	for i, lum := range src {
		dst[3*i] = lum
		dst[3*i+1] = lum
		dst[3*i+2] = lum
	}
}

func cmykRowToRGB(dst []byte, m *image.CMYK, y int) {
	off := m.PixOffset(m.Rect.Min.X, y)
	src := m.Pix[off : off+len(dst)/3*4]
	for i, s := 0, 0; s+3 < len(src); i, s = i+3, s+4 {
		dst[i], dst[i+1], dst[i+2] = color.CMYKToRGB(src[s], src[s+1], src[s+2], src[s+3])
	}
}

func rgbaRowToRGB(dst, src []byte) {
	for i, s := 0, 0; s+3 < len(src); i, s = i+3, s+4 {
		dst[i] = src[s]
		dst[i+1] = src[s+1]
		dst[i+2] = src[s+2]
	}
}
