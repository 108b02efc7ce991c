package imageprocessor

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "github.com/spakin/netpbm"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	// ErrInvalidImage is returned when bytes do not decode to an image.
	ErrInvalidImage = errors.New("invalid image format")
	// ErrInvalidEncoding is returned for payloads that are not valid base64.
	ErrInvalidEncoding = errors.New("invalid base64 image string")
)

// Decoder turns encoded image bytes into BGR (or gray) pixel buffers, matching
// the layout OpenCV's imdecode produces.
type Decoder struct{}

// NewDecoder returns a Decoder. It carries no state and is safe for concurrent use.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode decodes JPEG, PNG, GIF, BMP, TIFF, WebP and Netpbm data.
func (d *Decoder) Decode(data []byte) (*PixelImage, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	bounds := src.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("%w: %s image has no pixels", ErrInvalidImage, format)
	}
	return FromImage(src), nil
}

// DecodeBase64 strips an optional data URI prefix ("data:image/png;base64,")
// before decoding the base64 payload.
func (d *Decoder) DecodeBase64(payload string) (*PixelImage, error) {
	raw, err := DecodePayload(payload)
	if err != nil {
		return nil, err
	}
	return d.Decode(raw)
}

// DecodePayload returns the raw bytes of a base64 payload with an optional
// data URI prefix.
func DecodePayload(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "data:") {
		_, rest, found := strings.Cut(payload, ",")
		if !found {
			return nil, fmt.Errorf("%w: data URI without payload", ErrInvalidEncoding)
		}
		payload = rest
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	return raw, nil
}

// FromImage converts an image.Image into a PixelImage. Gray sources become
// rank-2 buffers, everything else BGR.
func FromImage(src image.Image) *PixelImage {
	bounds := src.Bounds()
	h, w := bounds.Dy(), bounds.Dx()

	switch src.ColorModel() {
	case color.GrayModel, color.Gray16Model:
		gray := image.NewGray(image.Rect(0, 0, w, h))
		draw.Draw(gray, gray.Bounds(), src, bounds.Min, draw.Src)
		out := NewGray(h, w)
		for y := 0; y < h; y++ {
			copy(out.Pix[y*w:(y+1)*w], gray.Pix[y*gray.Stride:y*gray.Stride+w])
		}
		return out
	}

	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(rgba, rgba.Bounds(), src, bounds.Min, draw.Src)
	out := NewColor(h, w, OrderBGR)
	for y := 0; y < h; y++ {
		row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+w*4]
		dst := out.Pix[y*w*3 : (y+1)*w*3]
		for x := 0; x < w; x++ {
			dst[x*3] = row[x*4+2]
			dst[x*3+1] = row[x*4+1]
			dst[x*3+2] = row[x*4]
		}
	}
	return out
}
