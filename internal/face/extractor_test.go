package face

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/example/faceverify/internal/imageprocessor"
)

func norm(v Embedding) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestExtractMockModeWhenModelUnavailable(t *testing.T) {
	extractor := NewEmbeddingExtractor(Unavailable[Embedder](errors.New("no model")), 1024, zap.NewNop())
	img := imageprocessor.NewColor(20, 20, imageprocessor.OrderBGR)

	first := extractor.Extract(context.Background(), img)
	if !first.Success || !first.Mock {
		t.Fatalf("expected mock success, got %+v", first)
	}
	if len(first.Embedding) != EmbeddingSize {
		t.Fatalf("expected %d values, got %d", EmbeddingSize, len(first.Embedding))
	}
	if first.Confidence == nil || *first.Confidence != 0.85 {
		t.Fatalf("expected confidence 0.85, got %v", first.Confidence)
	}
	if !strings.Contains(first.Message, "Mock embedding") {
		t.Fatalf("mock results must be flagged in the message: %s", first.Message)
	}
	for _, v := range first.Embedding {
		if v < 0 || v >= 1 {
			t.Fatalf("mock values must be uniform in [0,1), got %v", v)
		}
	}

	second := extractor.Extract(context.Background(), img)
	same := true
	for i := range first.Embedding {
		if first.Embedding[i] != second.Embedding[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("mock embeddings must differ between calls")
	}
}

func TestExtractSelectsLargestFaceAndNormalises(t *testing.T) {
	small := halfVector(false, 3)
	large := halfVector(true, 5)
	embedder := &stubEmbedder{faces: []RawFace{
		{BBox: [4]float64{0, 0, 10, 10}, Descriptor: small, DetScore: 0.99},
		{BBox: [4]float64{10, 10, 60, 70}, Descriptor: large, DetScore: 0.8},
		{BBox: [4]float64{0, 0, 20, 20}, Descriptor: small, DetScore: 0.95},
	}}
	extractor := NewEmbeddingExtractor(embedderState(embedder), 1024, zap.NewNop())

	res := extractor.Extract(context.Background(), imageprocessor.NewColor(100, 100, imageprocessor.OrderBGR))
	if !res.Success || res.Mock {
		t.Fatalf("expected real success, got %+v", res)
	}
	if *res.Confidence != 0.8 {
		t.Fatalf("expected the larger face's score, got %v", *res.Confidence)
	}
	if math.Abs(norm(res.Embedding)-1) > 1e-5 {
		t.Fatalf("expected unit norm, got %v", norm(res.Embedding))
	}

	expected, _ := normalize(large)
	for i := range expected {
		if math.Abs(float64(expected[i]-res.Embedding[i])) > 1e-6 {
			t.Fatalf("descriptor %d = %v, want %v", i, res.Embedding[i], expected[i])
		}
	}
}

func TestExtractTieKeepsFirstFace(t *testing.T) {
	first := halfVector(false, 1)
	embedder := &stubEmbedder{faces: []RawFace{
		{BBox: [4]float64{0, 0, 10, 10}, Descriptor: first, DetScore: 0.5},
		{BBox: [4]float64{50, 50, 60, 60}, Descriptor: halfVector(true, 1), DetScore: 0.6},
	}}
	extractor := NewEmbeddingExtractor(embedderState(embedder), 1024, zap.NewNop())

	res := extractor.Extract(context.Background(), imageprocessor.NewColor(100, 100, imageprocessor.OrderBGR))
	if *res.Confidence != 0.5 {
		t.Fatalf("expected first face on equal areas, got %v", *res.Confidence)
	}
}

func TestExtractFailures(t *testing.T) {
	img := imageprocessor.NewColor(10, 10, imageprocessor.OrderBGR)
	cases := []struct {
		name     string
		embedder *stubEmbedder
		img      *imageprocessor.PixelImage
		kind     FailureKind
		message  string
	}{
		{"invalid image", &stubEmbedder{}, &imageprocessor.PixelImage{}, KindInvalidInput, "Invalid image provided"},
		{"no faces", &stubEmbedder{}, img, KindNoFaceFound, "No faces detected in image"},
		{"empty descriptor", &stubEmbedder{faces: []RawFace{{BBox: [4]float64{0, 0, 1, 1}}}}, img, KindInternal, "Failed to extract face embedding"},
		{"zero descriptor", &stubEmbedder{faces: []RawFace{{BBox: [4]float64{0, 0, 1, 1}, Descriptor: make([]float32, EmbeddingSize)}}}, img, KindInternal, "Failed to extract face embedding"},
		{"model error", &stubEmbedder{err: errors.New("onnx failure")}, img, KindInternal, "Embedding generation failed: onnx failure"},
		{"model panic", &stubEmbedder{panicWith: "segfault"}, img, KindInternal, "Embedding generation failed: segfault"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			extractor := NewEmbeddingExtractor(embedderState(tc.embedder), 1024, zap.NewNop())
			res := extractor.Extract(context.Background(), tc.img)
			if res.Success || res.Embedding != nil {
				t.Fatalf("expected failure, got %+v", res)
			}
			if res.Kind != tc.kind || res.Message != tc.message {
				t.Fatalf("got kind=%s message=%q", res.Kind, res.Message)
			}
		})
	}
}

func TestExtractIsSafeForConcurrentUse(t *testing.T) {
	embedder := &stubEmbedder{faces: []RawFace{{BBox: [4]float64{0, 0, 5, 5}, Descriptor: halfVector(true, 2), DetScore: 0.9}}}
	extractor := NewEmbeddingExtractor(embedderState(embedder), 16, zap.NewNop())

	done := make(chan EmbeddingResult, 16)
	for i := 0; i < cap(done); i++ {
		go func() {
			done <- extractor.Extract(context.Background(), imageprocessor.NewColor(64, 32, imageprocessor.OrderBGR))
		}()
	}
	for i := 0; i < cap(done); i++ {
		res := <-done
		if !res.Success || math.Abs(norm(res.Embedding)-1) > 1e-5 {
			t.Fatalf("unexpected concurrent result: %+v", res)
		}
	}
}
