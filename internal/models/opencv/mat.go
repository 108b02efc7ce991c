//go:build !noopencv

package opencv

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/example/faceverify/internal/imageprocessor"
)

// toBGRMat copies an RGB or grayscale PixelImage into a BGR Mat as expected by
// the OpenCV DNN models. The caller owns the returned Mat.
func toBGRMat(img *imageprocessor.PixelImage) (gocv.Mat, error) {
	if !imageprocessor.Validate(img) {
		return gocv.NewMat(), fmt.Errorf("invalid pixel buffer")
	}

	matType := gocv.MatTypeCV8UC3
	conversion := gocv.ColorRGBToBGR
	switch {
	case img.Channels() == 1:
		matType = gocv.MatTypeCV8UC1
		conversion = gocv.ColorGrayToBGR
	case img.Channels() != 3:
		return gocv.NewMat(), fmt.Errorf("unsupported channel count %d", img.Channels())
	case img.Order == imageprocessor.OrderBGR:
		conversion = -1
	}

	src, err := gocv.NewMatFromBytes(img.Height(), img.Width(), matType, img.Pix)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("create mat: %w", err)
	}
	if conversion < 0 {
		return src, nil
	}
	defer src.Close()

	dst := gocv.NewMat()
	gocv.CvtColor(src, &dst, conversion)
	return dst, nil
}
