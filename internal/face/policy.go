package face

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/faceverify/internal/imageprocessor"
)

// Stage names the steps of a verification. The stage reported on a result is
// the one the verification terminated in.
type Stage string

const (
	StageInputValidation     Stage = "input_validation"
	StageReferenceValidation Stage = "reference_validation"
	StageExtraction          Stage = "extraction"
	StageComparison          Stage = "comparison"
	StageResult              Stage = "result"
	StageFailClosed          Stage = "fail_closed"
)

const securityMessage = "Security Error: No valid registered face found for this user."

// ImageDecoder turns request payloads into pixel buffers.
type ImageDecoder interface {
	Decode(data []byte) (*imageprocessor.PixelImage, error)
	DecodeBase64(payload string) (*imageprocessor.PixelImage, error)
}

// VerificationResult is the outcome of a 1:1 verification.
type VerificationResult struct {
	MatchResult
	Stage Stage `json:"stage"`
}

// VerificationPolicy checks a live image against a caller supplied reference.
// It never reports success unless the reference is a valid descriptor.
type VerificationPolicy struct {
	decoder   ImageDecoder
	extractor *EmbeddingExtractor
	matcher   *MatchEngine
	logger    *zap.Logger
}

// NewVerificationPolicy wires the policy to its collaborators.
func NewVerificationPolicy(decoder ImageDecoder, extractor *EmbeddingExtractor, matcher *MatchEngine, logger *zap.Logger) *VerificationPolicy {
	return &VerificationPolicy{
		decoder:   decoder,
		extractor: extractor,
		matcher:   matcher,
		logger:    logger.Named("verification_policy"),
	}
}

// Verify decodes imageData and verifies it against the serialised reference.
func (p *VerificationPolicy) Verify(ctx context.Context, imageData, reference []byte) VerificationResult {
	img, err := p.decoder.Decode(imageData)
	return p.verify(ctx, img, err, reference)
}

// VerifyPayload is Verify for a base64 image with an optional data URI prefix.
func (p *VerificationPolicy) VerifyPayload(ctx context.Context, payload string, reference []byte) VerificationResult {
	img, err := p.decoder.DecodeBase64(payload)
	return p.verify(ctx, img, err, reference)
}

func (p *VerificationPolicy) verify(ctx context.Context, img *imageprocessor.PixelImage, decodeErr error, reference []byte) (res VerificationResult) {
	stage := StageInputValidation
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("face verification panicked", zap.Any("panic", r), zap.String("stage", string(stage)))
			res = failed(stage, KindInternal, fmt.Sprintf("Face verification failed: %v", r))
		}
	}()

	if decodeErr != nil || !imageprocessor.Validate(img) {
		message := "Invalid image format"
		if errors.Is(decodeErr, imageprocessor.ErrInvalidEncoding) {
			message = "Invalid base64 image string"
		}
		return failed(stage, KindInvalidInput, message)
	}

	stage = StageReferenceValidation
	target, err := ParseReference(reference)
	if err != nil {
		p.logger.Error("security block: no valid stored face for comparison", zap.Error(err))
		return failed(StageFailClosed, KindSecurityRejection, securityMessage)
	}

	stage = StageExtraction
	extracted := p.extractor.Extract(ctx, img)
	if !extracted.Success || extracted.Embedding == nil {
		return failed(stage, extracted.Kind, extracted.Message)
	}
	if extracted.Mock {
		p.logger.Error("refusing to verify against a mock embedding")
		return failed(stage, KindModelUnavailable, "Face recognition model not available; mock embeddings cannot be verified")
	}

	stage = StageComparison
	compared := p.matcher.Compare(extracted.Embedding, target)
	if !compared.Success {
		return failed(stage, compared.Kind, compared.Message)
	}

	return VerificationResult{MatchResult: compared, Stage: StageResult}
}

func failed(stage Stage, kind FailureKind, message string) VerificationResult {
	if kind == KindNone {
		kind = KindInternal
	}
	return VerificationResult{
		MatchResult: MatchResult{Message: message, Kind: kind},
		Stage:       stage,
	}
}
