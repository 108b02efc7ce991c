package imageprocessor

import "math"

// Resize downscales img so that its longer side equals maxSize, keeping the
// aspect ratio. Images already within bounds are returned unchanged. Pixels are
// averaged over the source area each destination pixel covers.
func Resize(img *PixelImage, maxSize int) *PixelImage {
	h, w := img.Height(), img.Width()
	longer := max(h, w)
	if maxSize <= 0 || longer <= maxSize {
		return img
	}

	newH, newW := maxSize, maxSize
	if h > w {
		newW = scaledSide(w, maxSize, h)
	} else {
		newH = scaledSide(h, maxSize, w)
	}

	channels := img.Channels()
	colWeights := areaWeights(w, newW)
	rowWeights := areaWeights(h, newH)

	// Horizontal pass into an h x newW float buffer, then vertical.
	tmp := make([]float64, h*newW*channels)
	for y := 0; y < h; y++ {
		srcRow := img.Pix[y*w*channels : (y+1)*w*channels]
		dstRow := tmp[y*newW*channels : (y+1)*newW*channels]
		for x, taps := range colWeights {
			for _, tap := range taps {
				for c := 0; c < channels; c++ {
					dstRow[x*channels+c] += tap.weight * float64(srcRow[tap.index*channels+c])
				}
			}
		}
	}

	shape := append([]int(nil), img.Shape...)
	shape[0], shape[1] = newH, newW
	out := &PixelImage{Shape: shape, Order: img.Order, Pix: make([]uint8, newH*newW*channels)}
	acc := make([]float64, newW*channels)
	for y, taps := range rowWeights {
		clear(acc)
		for _, tap := range taps {
			srcRow := tmp[tap.index*newW*channels : (tap.index+1)*newW*channels]
			for i, v := range srcRow {
				acc[i] += tap.weight * v
			}
		}
		dstRow := out.Pix[y*newW*channels : (y+1)*newW*channels]
		for i, v := range acc {
			dstRow[i] = clampByte(v)
		}
	}
	return out
}

// ToRGB reorders a BGR buffer to RGB. Anything else is returned unchanged.
func ToRGB(img *PixelImage) *PixelImage {
	if img.Channels() != 3 || img.Order != OrderBGR {
		return img
	}
	out := img.Clone()
	for i := 0; i+2 < len(out.Pix); i += 3 {
		out.Pix[i], out.Pix[i+2] = out.Pix[i+2], out.Pix[i]
	}
	out.Order = OrderRGB
	return out
}

// Prepare validates img, bounds its size and converts it to RGB. It returns
// false when img is not a valid buffer.
func Prepare(img *PixelImage, maxSize int) (*PixelImage, bool) {
	if !Validate(img) {
		return nil, false
	}
	return ToRGB(Resize(img, maxSize)), true
}

type tap struct {
	index  int
	weight float64
}

// areaWeights returns, for every destination index, the source indices it
// covers and their normalised coverage.
func areaWeights(src, dst int) [][]tap {
	scale := float64(src) / float64(dst)
	weights := make([][]tap, dst)
	for i := range weights {
		start := float64(i) * scale
		end := start + scale
		first := int(math.Floor(start))
		last := min(int(math.Ceil(end)), src)
		for s := first; s < last; s++ {
			cover := math.Min(end, float64(s+1)) - math.Max(start, float64(s))
			if cover <= 1e-12 {
				continue
			}
			weights[i] = append(weights[i], tap{index: s, weight: cover / scale})
		}
	}
	return weights
}

func scaledSide(shorter, maxSize, longer int) int {
	return max(1, int(math.Round(float64(shorter)*float64(maxSize)/float64(longer))))
}

func clampByte(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
