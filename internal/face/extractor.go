package face

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/example/faceverify/internal/imageprocessor"
)

const (
	mockConfidence = 0.85
	mockMessage    = "Mock embedding generated (face recognition model not available)"
)

// EmbeddingExtractor produces a normalised descriptor for the largest face in
// an image. When the embedder is unavailable it returns flagged mock vectors.
type EmbeddingExtractor struct {
	embedder     ModelState[Embedder]
	maxImageSize int
	logger       *zap.Logger
}

// NewEmbeddingExtractor builds an extractor around embedder.
func NewEmbeddingExtractor(embedder ModelState[Embedder], maxImageSize int, logger *zap.Logger) *EmbeddingExtractor {
	logger = logger.Named("embedding_extractor")
	if !embedder.Available() {
		logger.Warn("face recognition model unavailable, falling back to mock embeddings", zap.Error(embedder.Err()))
	}
	return &EmbeddingExtractor{
		embedder:     embedder,
		maxImageSize: maxImageSize,
		logger:       logger,
	}
}

// Extract runs the embedder and returns the L2-normalised descriptor of the
// face with the largest bounding box.
func (e *EmbeddingExtractor) Extract(ctx context.Context, img *imageprocessor.PixelImage) (res EmbeddingResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("embedding generation panicked", zap.Any("panic", r))
			res = EmbeddingResult{Message: fmt.Sprintf("Embedding generation failed: %v", r), Kind: KindInternal}
		}
	}()

	processed, ok := imageprocessor.Prepare(img, e.maxImageSize)
	if !ok {
		return EmbeddingResult{Message: "Invalid image provided", Kind: KindInvalidInput}
	}

	embedder, ready := e.embedder.Get()
	if !ready {
		e.logger.Warn("using mock embedding, face recognition model not available")
		return EmbeddingResult{
			Success:    true,
			Embedding:  mockEmbedding(),
			Confidence: floatPtr(mockConfidence),
			Mock:       true,
			Message:    mockMessage,
		}
	}

	faces, err := embedder.Analyze(ctx, processed)
	if err != nil {
		e.logger.Error("embedding generation error", zap.Error(err))
		return EmbeddingResult{Message: fmt.Sprintf("Embedding generation failed: %v", err), Kind: KindInternal}
	}
	if len(faces) == 0 {
		return EmbeddingResult{Message: "No faces detected in image", Kind: KindNoFaceFound}
	}
	if len(faces) > 1 {
		e.logger.Warn("multiple faces detected, using the largest one", zap.Int("faces", len(faces)))
	}

	best := faces[0]
	for _, candidate := range faces[1:] {
		if candidate.Area() > best.Area() {
			best = candidate
		}
	}

	if len(best.Descriptor) == 0 {
		return EmbeddingResult{Message: "Failed to extract face embedding", Kind: KindInternal}
	}
	embedding, norm := normalize(best.Descriptor)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return EmbeddingResult{Message: "Failed to extract face embedding", Kind: KindInternal}
	}

	e.logger.Info("face embedding generated",
		zap.Int("size", len(embedding)),
		zap.Float64("confidence", best.DetScore),
	)

	return EmbeddingResult{
		Success:    true,
		Embedding:  embedding,
		Confidence: floatPtr(best.DetScore),
		Message:    "Face embedding generated successfully",
	}
}

// Info reports the recognition model state.
func (e *EmbeddingExtractor) Info() (model string, available bool) {
	if embedder, ok := e.embedder.Get(); ok {
		return embedder.Name(), true
	}
	return "Mock", false
}

// mockEmbedding draws uniform values in [0,1). It is deliberately not
// normalised and differs on every call.
func mockEmbedding() Embedding {
	out := make(Embedding, EmbeddingSize)
	for i := range out {
		out[i] = rand.Float32()
	}
	return out
}

// normalize divides v by its L2 norm. The norm is returned so callers can
// reject degenerate vectors; a zero norm yields a copy of v.
func normalize[T ~float32 | ~float64](v []T) (Embedding, float64) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	out := make(Embedding, len(v))
	for i, x := range v {
		if norm == 0 {
			out[i] = float32(x)
			continue
		}
		out[i] = float32(float64(x) / norm)
	}
	return out, norm
}
