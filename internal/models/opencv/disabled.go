//go:build noopencv

package opencv

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/faceverify/internal/face"
	"github.com/example/faceverify/internal/imageprocessor"
)

type YuNetDetector struct{}

func NewYuNetDetector(path string, minConfidence float64, logger *zap.Logger) (*YuNetDetector, error) {
	return nil, ErrDisabled
}

func (d *YuNetDetector) Name() string { return "YuNet" }

func (d *YuNetDetector) Detect(ctx context.Context, rgb *imageprocessor.PixelImage) ([]face.RawDetection, error) {
	return nil, ErrDisabled
}

func (d *YuNetDetector) Close() error { return nil }

type ArcFaceEmbedder struct{}

func NewArcFaceEmbedder(path string, detector *YuNetDetector, logger *zap.Logger) (*ArcFaceEmbedder, error) {
	return nil, ErrDisabled
}

func (e *ArcFaceEmbedder) Name() string { return "ArcFace" }

func (e *ArcFaceEmbedder) Analyze(ctx context.Context, rgb *imageprocessor.PixelImage) ([]face.RawFace, error) {
	return nil, ErrDisabled
}

func (e *ArcFaceEmbedder) Close() error { return nil }
