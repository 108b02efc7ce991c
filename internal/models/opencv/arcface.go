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

var arcFaceInput = image.Pt(112, 112)

// ArcFaceEmbedder is a face.Embedder that localises faces with YuNet and
// describes each crop with an ArcFace network.
type ArcFaceEmbedder struct {
	mu       sync.Mutex
	net      gocv.Net
	detector *YuNetDetector
	logger   *zap.Logger
}

// NewArcFaceEmbedder loads the ArcFace ONNX network at path. The detector is
// owned by the embedder from then on.
func NewArcFaceEmbedder(path string, detector *YuNetDetector, logger *zap.Logger) (*ArcFaceEmbedder, error) {
	if detector == nil {
		return nil, fmt.Errorf("arcface: a face detector is required")
	}
	if path == "" {
		return nil, fmt.Errorf("arcface: model path not configured")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("arcface: model file not found: %w", err)
	}

	net := gocv.ReadNet(path, "")
	if net.Empty() {
		return nil, fmt.Errorf("arcface: failed to load network from %s", path)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		_ = net.Close()
		return nil, fmt.Errorf("arcface: set backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		_ = net.Close()
		return nil, fmt.Errorf("arcface: set target: %w", err)
	}

	logger.Info("arcface model loaded", zap.String("path", path))
	return &ArcFaceEmbedder{net: net, detector: detector, logger: logger.Named("arcface")}, nil
}

func (e *ArcFaceEmbedder) Name() string { return "ArcFace" }

// Analyze returns one raw descriptor per detected face.
func (e *ArcFaceEmbedder) Analyze(ctx context.Context, rgb *imageprocessor.PixelImage) ([]face.RawFace, error) {
	rects, scores, err := e.detector.locate(ctx, rgb)
	if err != nil {
		return nil, err
	}
	if len(rects) == 0 {
		return nil, nil
	}

	mat, err := toBGRMat(rgb)
	if err != nil {
		return nil, fmt.Errorf("arcface: %w", err)
	}
	defer mat.Close()

	faces := make([]face.RawFace, 0, len(rects))
	for i, r := range rects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		descriptor, err := e.describe(mat, r)
		if err != nil {
			return nil, err
		}
		faces = append(faces, face.RawFace{
			BBox:       [4]float64{float64(r.Min.X), float64(r.Min.Y), float64(r.Max.X), float64(r.Max.Y)},
			Descriptor: descriptor,
			DetScore:   scores[i],
		})
	}
	return faces, nil
}

func (e *ArcFaceEmbedder) describe(bgr gocv.Mat, r image.Rectangle) ([]float32, error) {
	crop := bgr.Region(r)
	defer crop.Close()

	blob := gocv.BlobFromImage(crop, 1.0/127.5, arcFaceInput, gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	e.mu.Lock()
	e.net.SetInput(blob, "")
	output := e.net.Forward("")
	e.mu.Unlock()
	defer output.Close()

	if output.Empty() || output.Total() < face.EmbeddingSize {
		return nil, fmt.Errorf("arcface: unexpected output size %d", output.Total())
	}
	descriptor := make([]float32, face.EmbeddingSize)
	for i := range descriptor {
		descriptor[i] = output.GetFloatAt(0, i)
	}
	return descriptor, nil
}

// Close releases the network and the owned detector.
func (e *ArcFaceEmbedder) Close() error {
	e.mu.Lock()
	netErr := e.net.Close()
	e.mu.Unlock()
	if err := e.detector.Close(); err != nil {
		return err
	}
	return netErr
}
