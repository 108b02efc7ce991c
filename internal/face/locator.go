package face

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/faceverify/internal/imageprocessor"
)

// FaceLocator answers "is there a face, and where" using a Detector.
type FaceLocator struct {
	detector      ModelState[Detector]
	maxImageSize  int
	minConfidence float64
	logger        *zap.Logger
}

// NewFaceLocator builds a locator. minConfidence is only reported; the
// detector applies it.
func NewFaceLocator(detector ModelState[Detector], maxImageSize int, minConfidence float64, logger *zap.Logger) *FaceLocator {
	return &FaceLocator{
		detector:      detector,
		maxImageSize:  maxImageSize,
		minConfidence: minConfidence,
		logger:        logger.Named("face_locator"),
	}
}

// Detect returns the highest scoring detection with its box scaled to the
// preprocessed image. Ties keep the first detection.
func (l *FaceLocator) Detect(ctx context.Context, img *imageprocessor.PixelImage) (res DetectionResult) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("face detection panicked", zap.Any("panic", r))
			res = DetectionResult{Message: fmt.Sprintf("Face detection failed: %v", r), Kind: KindInternal}
		}
	}()

	processed, ok := imageprocessor.Prepare(img, l.maxImageSize)
	if !ok {
		return DetectionResult{Message: "Invalid image provided", Kind: KindInvalidInput}
	}

	detector, ready := l.detector.Get()
	if !ready {
		return DetectionResult{Message: "Face detector not available", Kind: KindModelUnavailable}
	}

	detections, err := detector.Detect(ctx, processed)
	if err != nil {
		l.logger.Error("face detection error", zap.Error(err))
		return DetectionResult{Message: fmt.Sprintf("Face detection failed: %v", err), Kind: KindInternal}
	}
	if len(detections) == 0 {
		return DetectionResult{Message: "No faces detected", Kind: KindNoFaceFound}
	}

	best := detections[0]
	for _, detection := range detections[1:] {
		if detection.Score > best.Score {
			best = detection
		}
	}

	h, w := processed.Height(), processed.Width()
	box := &BoundingBox{
		X:      int(best.Box.XMin * float64(w)),
		Y:      int(best.Box.YMin * float64(h)),
		Width:  int(best.Box.Width * float64(w)),
		Height: int(best.Box.Height * float64(h)),
	}

	l.logger.Info("face detected",
		zap.Float64("confidence", best.Score),
		zap.Int("faces", len(detections)),
		zap.Any("bounding_box", box),
	)

	return DetectionResult{
		Success:       true,
		Confidence:    floatPtr(best.Score),
		BoundingBox:   box,
		FacesDetected: len(detections),
		Message:       "Face detected successfully",
	}
}

// CountFaces returns the number of raw detections, or 0 when the image is
// invalid, the detector is unavailable or detection fails.
func (l *FaceLocator) CountFaces(ctx context.Context, img *imageprocessor.PixelImage) (count int) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("face counting panicked", zap.Any("panic", r))
			count = 0
		}
	}()

	processed, ok := imageprocessor.Prepare(img, l.maxImageSize)
	if !ok {
		return 0
	}
	detector, ready := l.detector.Get()
	if !ready {
		return 0
	}
	detections, err := detector.Detect(ctx, processed)
	if err != nil {
		l.logger.Error("face counting error", zap.Error(err))
		return 0
	}
	l.logger.Debug("faces counted", zap.Int("faces", len(detections)))
	return len(detections)
}

// DetectorInfo describes the detection model for system info.
type DetectorInfo struct {
	Model         string  `json:"model"`
	Available     bool    `json:"available"`
	MinConfidence float64 `json:"min_confidence"`
}

// Info reports the detector state.
func (l *FaceLocator) Info() DetectorInfo {
	info := DetectorInfo{Model: "unavailable", MinConfidence: l.minConfidence}
	if detector, ok := l.detector.Get(); ok {
		info.Model = detector.Name()
		info.Available = true
	}
	return info
}
