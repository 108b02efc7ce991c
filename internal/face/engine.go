package face

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/faceverify/internal/imageprocessor"
)

// Options are the process-wide settings of the engine.
type Options struct {
	MatchThreshold         float64
	MinDetectionConfidence float64
	MaxImageSize           int
}

// Engine is the entry point used by the transport and CLI layers. It holds no
// per-request state and is safe for concurrent use.
type Engine struct {
	opts      Options
	decoder   ImageDecoder
	locator   *FaceLocator
	extractor *EmbeddingExtractor
	matcher   *MatchEngine
	policy    *VerificationPolicy
}

// NewEngine assembles the engine from already initialised model states.
func NewEngine(opts Options, detector ModelState[Detector], embedder ModelState[Embedder], decoder ImageDecoder, logger *zap.Logger) *Engine {
	logger = logger.Named("face")
	locator := NewFaceLocator(detector, opts.MaxImageSize, opts.MinDetectionConfidence, logger)
	extractor := NewEmbeddingExtractor(embedder, opts.MaxImageSize, logger)
	matcher := NewMatchEngine(opts.MatchThreshold, logger)
	return &Engine{
		opts:      opts,
		decoder:   decoder,
		locator:   locator,
		extractor: extractor,
		matcher:   matcher,
		policy:    NewVerificationPolicy(decoder, extractor, matcher, logger),
	}
}

// DecodeImage decodes an uploaded image.
func (e *Engine) DecodeImage(data []byte) (*imageprocessor.PixelImage, error) {
	return e.decoder.Decode(data)
}

func (e *Engine) DetectFace(ctx context.Context, img *imageprocessor.PixelImage) DetectionResult {
	return e.locator.Detect(ctx, img)
}

func (e *Engine) CountFaces(ctx context.Context, img *imageprocessor.PixelImage) int {
	return e.locator.CountFaces(ctx, img)
}

func (e *Engine) GenerateEmbedding(ctx context.Context, img *imageprocessor.PixelImage) EmbeddingResult {
	return e.extractor.Extract(ctx, img)
}

func (e *Engine) CompareEmbeddings(a, b Embedding) MatchResult {
	return e.matcher.Compare(a, b)
}

func (e *Engine) VerifyFace(ctx context.Context, imageData, reference []byte) VerificationResult {
	return e.policy.Verify(ctx, imageData, reference)
}

func (e *Engine) VerifyFacePayload(ctx context.Context, payload string, reference []byte) VerificationResult {
	return e.policy.VerifyPayload(ctx, payload, reference)
}

// SystemInfo summarises model availability and settings.
type SystemInfo struct {
	Status      string          `json:"status"`
	Detection   DetectorInfo    `json:"detection"`
	Recognition RecognizerInfo  `json:"recognition"`
	Settings    SettingsSummary `json:"settings"`
}

// RecognizerInfo describes the embedding model.
type RecognizerInfo struct {
	Model         string  `json:"model"`
	EmbeddingSize int     `json:"embedding_size"`
	Available     bool    `json:"available"`
	Threshold     float64 `json:"threshold"`
}

// SettingsSummary echoes the relevant settings.
type SettingsSummary struct {
	FaceConfidenceThreshold float64 `json:"face_confidence_threshold"`
	MaxImageSize            int     `json:"max_image_size"`
}

func (e *Engine) Info() SystemInfo {
	model, available := e.extractor.Info()
	status := "operational"
	if !available {
		status = "degraded"
	}
	return SystemInfo{
		Status:    status,
		Detection: e.locator.Info(),
		Recognition: RecognizerInfo{
			Model:         model,
			EmbeddingSize: EmbeddingSize,
			Available:     available,
			Threshold:     e.matcher.Threshold(),
		},
		Settings: SettingsSummary{
			FaceConfidenceThreshold: e.opts.MatchThreshold,
			MaxImageSize:            e.opts.MaxImageSize,
		},
	}
}
