// internal/screen/capture.go
package screen

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/kbinani/screenshot"
)

// Capturer grabs one frame of the primary display.
type Capturer interface {
	Capture() (image.Image, error)
}

// DisplayCapturer captures the primary physical display.
type DisplayCapturer struct{}

func (DisplayCapturer) Capture() (image.Image, error) {
	if screenshot.NumActiveDisplays() == 0 {
		return nil, fmt.Errorf("no active display")
	}
	img, err := screenshot.CaptureRect(screenshot.GetDisplayBounds(0))
	if err != nil {
		return nil, fmt.Errorf("capture display: %w", err)
	}
	return img, nil
}

// Encode scales the frame and JPEG-encodes it to base64 text, the form
// every binary payload takes on the wire. quality is the JPEG quality
// (1-100); scale shrinks both dimensions (0 < scale <= 1).
func Encode(img image.Image, quality int, scale float64) (string, error) {
	if quality <= 0 || quality > 100 {
		quality = 75
	}
	if scale > 0 && scale < 1 {
		img = downscale(img, scale)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("encode frame: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// downscale resizes by nearest-neighbor sampling. Quality is secondary
// to speed here: frames are produced up to tens of times per second.
func downscale(img image.Image, scale float64) image.Image {
	src := img.Bounds()
	w := int(float64(src.Dx()) * scale)
	h := int(float64(src.Dy()) * scale)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		sy := src.Min.Y + y*src.Dy()/h
		for x := 0; x < w; x++ {
			sx := src.Min.X + x*src.Dx()/w
			dst.Set(x, y, img.At(sx, sy))
		}
	}
	return dst
}
