package softjpeg

import (
	"fmt"
	"io"
)

// ReadHeader parses the JPEG headers from r and returns the scan mode,
// component count, frame dimensions and EXIF orientation. The pixel data is
// not decoded.
//
// A nil or unreadable reader fails with ErrFileOpenFailed before the engine
// is invoked, and any engine failure is reported as ErrDecodingFailed. Malformed EXIF data is
// never an error: the orientation is then OrientationNormal.
func ReadHeader(r io.Reader, opts ...*Options) (ImageInfo, error) {
	br, err := openStream(r)
	if err != nil {
		return ImageInfo{}, err
	}

	cfg := newConfig(opts)

	h, err := cfg.engine.ParseHeaders(br, true)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("%w: %w", ErrDecodingFailed, err)
	}

	if h == nil {
		return ImageInfo{}, fmt.Errorf("%w: engine returned no header", ErrDecodingFailed)
	}

	info := ImageInfo{
		Mode:        NonProgressive,
		Components:  h.Components,
		Orientation: OrientationNormal,
		Width:       h.Width,
		Height:      h.Height,
	}

	if h.Progressive {
		info.Mode = Progressive
	}

	if len(h.Markers) > 0 {
		if m := h.Markers[0]; m.Code == markerAPP1 && len(m.Data) >= minExifSegment {
			o, err := parseOrientation(m.Data)
			if err != nil {
				cfg.log.Debug("exif orientation ignored", "error", err)
			} else {
				info.Orientation = o
			}
		}
	}

	return info, nil
}
