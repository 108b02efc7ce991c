package face

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"github.com/example/faceverify/internal/imageprocessor"
)

type stubDetector struct {
	mu         sync.Mutex
	detections []RawDetection
	err        error
	panicWith  any
	seen       []*imageprocessor.PixelImage
}

func (s *stubDetector) Name() string { return "stub-detector" }

func (s *stubDetector) Detect(ctx context.Context, rgb *imageprocessor.PixelImage) ([]RawDetection, error) {
	s.mu.Lock()
	s.seen = append(s.seen, rgb)
	s.mu.Unlock()
	if s.panicWith != nil {
		panic(s.panicWith)
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.detections, nil
}

type stubEmbedder struct {
	faces     []RawFace
	err       error
	panicWith any
}

func (s *stubEmbedder) Name() string { return "stub-embedder" }

func (s *stubEmbedder) Analyze(ctx context.Context, rgb *imageprocessor.PixelImage) ([]RawFace, error) {
	if s.panicWith != nil {
		panic(s.panicWith)
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.faces, nil
}

func detectorState(d Detector) ModelState[Detector] { return Ready(d) }

func embedderState(e Embedder) ModelState[Embedder] { return Ready(e) }

// halfVector is 1 on one half of the dimensions and 0 on the other, so the two
// halves are orthogonal.
func halfVector(upper bool, scale float32) []float32 {
	v := make([]float32, EmbeddingSize)
	for i := range v {
		if (i >= EmbeddingSize/2) == upper {
			v[i] = scale
		}
	}
	return v
}

func referenceJSON(t *testing.T, v []float32) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal reference: %v", err)
	}
	return data
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}
