// Package imageprocessor holds the decoded pixel buffer type together with the
// validation and preprocessing steps every face operation runs first.
package imageprocessor

// ChannelOrder names the interleaving of a 3-channel buffer.
type ChannelOrder int

const (
	// OrderGray is used for rank-2 buffers.
	OrderGray ChannelOrder = iota
	// OrderBGR is the order produced by the decoder.
	OrderBGR
	// OrderRGB is the order the face models consume.
	OrderRGB
)

func (o ChannelOrder) String() string {
	switch o {
	case OrderBGR:
		return "bgr"
	case OrderRGB:
		return "rgb"
	default:
		return "gray"
	}
}

// PixelImage is a row-major 8-bit pixel buffer of shape (height, width) or
// (height, width, channels).
type PixelImage struct {
	Shape []int
	Order ChannelOrder
	Pix   []uint8
}

// NewGray allocates a zeroed rank-2 image.
func NewGray(height, width int) *PixelImage {
	return &PixelImage{Shape: []int{height, width}, Order: OrderGray, Pix: make([]uint8, height*width)}
}

// NewColor allocates a zeroed rank-3 image with the given channel order.
func NewColor(height, width int, order ChannelOrder) *PixelImage {
	return &PixelImage{Shape: []int{height, width, 3}, Order: order, Pix: make([]uint8, height*width*3)}
}

// Height is the number of rows.
func (p *PixelImage) Height() int { return p.Shape[0] }

// Width is the number of columns.
func (p *PixelImage) Width() int { return p.Shape[1] }

// Channels is 1 for rank-2 buffers.
func (p *PixelImage) Channels() int {
	if len(p.Shape) == 3 {
		return p.Shape[2]
	}
	return 1
}

// Clone returns a deep copy.
func (p *PixelImage) Clone() *PixelImage {
	shape := append([]int(nil), p.Shape...)
	pix := append([]uint8(nil), p.Pix...)
	return &PixelImage{Shape: shape, Order: p.Order, Pix: pix}
}

// Validate reports whether img is a well-formed, non-empty rank 2 or 3 buffer
// whose pixel slice matches its shape.
func Validate(img *PixelImage) bool {
	if img == nil || img.Pix == nil {
		return false
	}
	if len(img.Shape) != 2 && len(img.Shape) != 3 {
		return false
	}
	size := 1
	for _, dim := range img.Shape {
		// dim > len/size also keeps size*dim from overflowing.
		if dim <= 0 || dim > len(img.Pix)/size {
			return false
		}
		size *= dim
	}
	return size == len(img.Pix)
}
