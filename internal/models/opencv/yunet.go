//go:build !noopencv

package opencv

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/example/faceverify/internal/face"
	"github.com/example/faceverify/internal/imageprocessor"
)

const (
	yunetNMSThreshold = 0.3
	yunetTopK         = 5000
	yunetColumns      = 15
)

// YuNetDetector is a face.Detector backed by the OpenCV YuNet model.
type YuNetDetector struct {
	mu       sync.Mutex
	detector gocv.FaceDetectorYN
	path     string
	logger   *zap.Logger
}

// NewYuNetDetector loads the YuNet ONNX model at path. Detections scoring
// below minConfidence are discarded by the model itself.
func NewYuNetDetector(path string, minConfidence float64, logger *zap.Logger) (*YuNetDetector, error) {
	if path == "" {
		return nil, fmt.Errorf("yunet: model path not configured")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("yunet: model file not found: %w", err)
	}

	detector := gocv.NewFaceDetectorYN(path, "", image.Pt(320, 320))
	detector.SetScoreThreshold(float32(minConfidence))
	detector.SetNMSThreshold(yunetNMSThreshold)
	detector.SetTopK(yunetTopK)

	logger.Info("yunet model loaded",
		zap.String("path", path),
		zap.Float64("min_confidence", minConfidence),
	)
	return &YuNetDetector{detector: detector, path: path, logger: logger.Named("yunet")}, nil
}

func (d *YuNetDetector) Name() string { return "YuNet" }

// Detect returns every face in rgb with boxes relative to the image size.
func (d *YuNetDetector) Detect(ctx context.Context, rgb *imageprocessor.PixelImage) ([]face.RawDetection, error) {
	rects, scores, err := d.locate(ctx, rgb)
	if err != nil {
		return nil, err
	}

	w, h := float64(rgb.Width()), float64(rgb.Height())
	detections := make([]face.RawDetection, 0, len(rects))
	for i, r := range rects {
		detections = append(detections, face.RawDetection{
			Score: scores[i],
			Box: face.RelativeBox{
				XMin:   float64(r.Min.X) / w,
				YMin:   float64(r.Min.Y) / h,
				Width:  float64(r.Dx()) / w,
				Height: float64(r.Dy()) / h,
			},
		})
	}
	return detections, nil
}

// locate runs the model and returns pixel rectangles clamped to the image.
func (d *YuNetDetector) locate(ctx context.Context, rgb *imageprocessor.PixelImage) ([]image.Rectangle, []float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	mat, err := toBGRMat(rgb)
	if err != nil {
		return nil, nil, fmt.Errorf("yunet: %w", err)
	}
	defer mat.Close()

	faces := gocv.NewMat()
	defer faces.Close()

	d.mu.Lock()
	d.detector.SetInputSize(image.Pt(mat.Cols(), mat.Rows()))
	d.detector.Detect(mat, &faces)
	d.mu.Unlock()

	if faces.Empty() || faces.Cols() < yunetColumns {
		return nil, nil, nil
	}

	bounds := image.Rect(0, 0, mat.Cols(), mat.Rows())
	var (
		rects  []image.Rectangle
		scores []float64
	)
	for i := 0; i < faces.Rows(); i++ {
		x := int(faces.GetFloatAt(i, 0))
		y := int(faces.GetFloatAt(i, 1))
		w := int(faces.GetFloatAt(i, 2))
		h := int(faces.GetFloatAt(i, 3))
		r := image.Rect(x, y, x+w, y+h).Intersect(bounds)
		if r.Empty() {
			continue
		}
		rects = append(rects, r)
		scores = append(scores, float64(faces.GetFloatAt(i, yunetColumns-1)))
	}
	return rects, scores, nil
}

// Close releases the native model.
func (d *YuNetDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detector.Close()
	return nil
}
