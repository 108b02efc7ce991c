package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/faceverify/internal/face"
	"github.com/example/faceverify/internal/imageprocessor"
	"github.com/example/faceverify/internal/logging"
	"github.com/example/faceverify/internal/repository"
	"github.com/example/faceverify/internal/retry"
)

// Operation names recorded in the audit log.
const (
	OperationDetect  = "detect"
	OperationEmbed   = "generate_embedding"
	OperationCompare = "compare"
	OperationVerify  = "verify"
)

var (
	// ErrInvalidImage is returned when an upload cannot be decoded.
	ErrInvalidImage = errors.New("invalid image format")
	// ErrResultPending is returned while a request is still being processed.
	ErrResultPending = errors.New("verification result pending")
)

// FaceEngine is the part of face.Engine used by the use case.
type FaceEngine interface {
	DecodeImage(data []byte) (*imageprocessor.PixelImage, error)
	DetectFace(ctx context.Context, img *imageprocessor.PixelImage) face.DetectionResult
	GenerateEmbedding(ctx context.Context, img *imageprocessor.PixelImage) face.EmbeddingResult
	CompareEmbeddings(a, b face.Embedding) face.MatchResult
	VerifyFace(ctx context.Context, imageData, reference []byte) face.VerificationResult
	VerifyFacePayload(ctx context.Context, payload string, reference []byte) face.VerificationResult
	Info() face.SystemInfo
}

// VerificationUseCase encapsulates business logic around the face engine:
// request IDs, the audit trail and the result cache.
type VerificationUseCase struct {
	repo    VerificationRepository
	cache   Cache
	engine  FaceEngine
	logger  *zap.Logger
	policy  retry.Policy
	encoder cbor.EncMode
	now     func() time.Time
}

// DetectionOutcome is the result of DetectFace.
type DetectionOutcome struct {
	RequestID string
	face.DetectionResult
	Embedding face.Embedding
}

// EmbeddingOutcome is the result of GenerateEmbedding.
type EmbeddingOutcome struct {
	RequestID string
	face.EmbeddingResult
}

// ComparisonOutcome is the result of CompareEmbeddings.
type ComparisonOutcome struct {
	RequestID string
	face.MatchResult
}

// VerificationOutcome is the result of VerifyFace and VerifyFaceJSON.
type VerificationOutcome struct {
	RequestID string
	face.VerificationResult
}

type cachedVerification struct {
	RequestID  string    `cbor:"request_id"`
	CallerID   string    `cbor:"caller_id"`
	SubjectID  string    `cbor:"subject_id"`
	Operation  string    `cbor:"operation"`
	Success    bool      `cbor:"success"`
	IsMatch    bool      `cbor:"is_match"`
	Similarity *float64  `cbor:"similarity"`
	Confidence *float64  `cbor:"confidence"`
	Kind       string    `cbor:"kind"`
	Message    string    `cbor:"message"`
	Hash       string    `cbor:"sha1_hash"`
	LatencyMs  float64   `cbor:"latency_ms"`
	CreatedAt  time.Time `cbor:"created_at"`
}

// NewVerificationUseCase constructs a new use case instance.
func NewVerificationUseCase(repo VerificationRepository, cache Cache, engine FaceEngine, logger *zap.Logger) *VerificationUseCase {
	encoder, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return &VerificationUseCase{
		repo:    repo,
		cache:   cache,
		engine:  engine,
		logger:  logger.Named("verification_usecase"),
		policy:  retry.DefaultPolicy,
		encoder: encoder,
		now:     time.Now,
	}
}

// SystemInfo reports model availability and settings.
func (uc *VerificationUseCase) SystemInfo() face.SystemInfo {
	return uc.engine.Info()
}

// DetectFace locates the most confident face and, when one was found, also
// returns its embedding. A failed or mock extraction leaves the embedding out.
func (uc *VerificationUseCase) DetectFace(ctx context.Context, callerID string, imageData []byte) (*DetectionOutcome, error) {
	img, err := uc.decode(OperationDetect, imageData)
	if err != nil {
		return nil, err
	}
	return run(uc, ctx, OperationDetect, callerID, "", imageData, func(requestID string) (*DetectionOutcome, *repository.VerificationLog) {
		detection := uc.engine.DetectFace(ctx, img)
		outcome := &DetectionOutcome{RequestID: requestID, DetectionResult: detection}
		if detection.Success {
			if extracted := uc.engine.GenerateEmbedding(ctx, img); extracted.Success && !extracted.Mock {
				outcome.Embedding = extracted.Embedding
			}
		}
		return outcome, &repository.VerificationLog{
			Success:    detection.Success,
			Confidence: detection.Confidence,
			Kind:       string(detection.Kind),
			Message:    detection.Message,
		}
	})
}

// GenerateEmbedding extracts the descriptor of the largest face.
func (uc *VerificationUseCase) GenerateEmbedding(ctx context.Context, callerID string, imageData []byte) (*EmbeddingOutcome, error) {
	img, err := uc.decode(OperationEmbed, imageData)
	if err != nil {
		return nil, err
	}
	return run(uc, ctx, OperationEmbed, callerID, "", imageData, func(requestID string) (*EmbeddingOutcome, *repository.VerificationLog) {
		extracted := uc.engine.GenerateEmbedding(ctx, img)
		return &EmbeddingOutcome{RequestID: requestID, EmbeddingResult: extracted}, &repository.VerificationLog{
			Success:    extracted.Success,
			Confidence: extracted.Confidence,
			Kind:       string(extracted.Kind),
			Message:    extracted.Message,
		}
	})
}

// decode rejects undecodable uploads before a request ID is issued.
func (uc *VerificationUseCase) decode(operation string, imageData []byte) (*imageprocessor.PixelImage, error) {
	img, err := uc.engine.DecodeImage(imageData)
	if err != nil {
		uc.logger.Warn("request rejected", zap.String("operation", operation), zap.Error(err))
		return nil, ErrInvalidImage
	}
	return img, nil
}

// CompareEmbeddings compares two descriptors directly.
func (uc *VerificationUseCase) CompareEmbeddings(ctx context.Context, callerID string, a, b face.Embedding) (*ComparisonOutcome, error) {
	return run(uc, ctx, OperationCompare, callerID, "", nil, func(requestID string) (*ComparisonOutcome, *repository.VerificationLog) {
		compared := uc.engine.CompareEmbeddings(a, b)
		return &ComparisonOutcome{RequestID: requestID, MatchResult: compared}, matchLog(compared)
	})
}

// VerifyFace verifies an uploaded image against the subject's stored reference.
func (uc *VerificationUseCase) VerifyFace(ctx context.Context, callerID, subjectID string, imageData, reference []byte) (*VerificationOutcome, error) {
	return run(uc, ctx, OperationVerify, callerID, subjectID, imageData, func(requestID string) (*VerificationOutcome, *repository.VerificationLog) {
		verified := uc.engine.VerifyFace(ctx, imageData, reference)
		return &VerificationOutcome{RequestID: requestID, VerificationResult: verified}, matchLog(verified.MatchResult)
	})
}

// VerifyFaceJSON is VerifyFace for a base64 encoded image. The audit hash is
// taken over the decoded bytes so both verify routes fingerprint an image alike.
func (uc *VerificationUseCase) VerifyFaceJSON(ctx context.Context, callerID, subjectID, payload string, reference []byte) (*VerificationOutcome, error) {
	imageData, _ := imageprocessor.DecodePayload(payload)
	return run(uc, ctx, OperationVerify, callerID, subjectID, imageData, func(requestID string) (*VerificationOutcome, *repository.VerificationLog) {
		verified := uc.engine.VerifyFacePayload(ctx, payload, reference)
		return &VerificationOutcome{RequestID: requestID, VerificationResult: verified}, matchLog(verified.MatchResult)
	})
}

func matchLog(res face.MatchResult) *repository.VerificationLog {
	log := &repository.VerificationLog{
		Success: res.Success,
		IsMatch: res.IsMatch,
		Kind:    string(res.Kind),
		Message: res.Message,
	}
	if res.Success {
		similarity := res.Similarity
		log.Similarity = &similarity
		log.Confidence = &similarity
	}
	return log
}

// run wraps one engine call with a request ID, the processing marker, the
// audit log and the cached summary.
func run[T any](uc *VerificationUseCase, ctx context.Context, operation, callerID, subjectID string, payload []byte, fn func(requestID string) (T, *repository.VerificationLog)) (T, error) {
	var zero T
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase."+operation, requestID)
	started := uc.now()

	cacheKey := resultKey(requestID)
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, cacheKey, processingMarker, processingTTL)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return zero, err
	}

	outcome, log := fn(requestID)

	log.RequestID = requestID
	log.CallerID = callerID
	log.SubjectID = subjectID
	log.Operation = operation
	finished := uc.now()
	log.CreatedAt = finished.UTC()
	log.LatencyMs = float64(finished.Sub(started).Microseconds()) / 1000
	if len(payload) > 0 {
		hash := sha1.Sum(payload)
		log.ImageSHA1 = hex.EncodeToString(hash[:])
	}

	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", requestID, err)
		opLogger.Error("failed to persist verification log", zap.Error(wrapped))
		return zero, wrapped
	}

	serialized, err := uc.encoder.Marshal(cachedVerification{
		RequestID:  log.RequestID,
		CallerID:   log.CallerID,
		SubjectID:  log.SubjectID,
		Operation:  log.Operation,
		Success:    log.Success,
		IsMatch:    log.IsMatch,
		Similarity: log.Similarity,
		Confidence: log.Confidence,
		Kind:       log.Kind,
		Message:    log.Message,
		Hash:       log.ImageSHA1,
		LatencyMs:  log.LatencyMs,
		CreatedAt:  log.CreatedAt,
	})
	if err != nil {
		opLogger.Error("failed to serialize verification result", zap.Error(err))
		return zero, err
	}

	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, cacheKey, serialized, resultTTL)
	}); err != nil {
		opLogger.Error("failed to cache verification result", zap.Error(err))
		return zero, err
	}

	opLogger.Info("request completed",
		zap.Bool("success", log.Success),
		zap.String("kind", log.Kind),
		zap.Float64("latency_ms", log.LatencyMs),
	)
	return outcome, nil
}

// GetResult retrieves a cached outcome or loads it from persistence. A non-empty
// callerID only sees its own requests.
func (uc *VerificationUseCase) GetResult(ctx context.Context, callerID, requestID string) (*repository.VerificationLog, error) {
	cacheKey := resultKey(requestID)
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", requestID)
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", cacheKey); err == nil {
		if cached == processingMarker {
			return nil, ErrResultPending
		}
		var payload cachedVerification
		if err := cbor.Unmarshal([]byte(cached), &payload); err != nil {
			opLogger.Warn("failed to decode cached result", zap.Error(err))
		} else {
			if callerID != "" && payload.CallerID != callerID {
				return nil, logging.NewOperationError("usecase.get_result", requestID, repository.ErrNotFound)
			}
			return &repository.VerificationLog{
				RequestID:  requestID,
				CallerID:   payload.CallerID,
				SubjectID:  payload.SubjectID,
				Operation:  payload.Operation,
				Success:    payload.Success,
				IsMatch:    payload.IsMatch,
				Similarity: payload.Similarity,
				Confidence: payload.Confidence,
				Kind:       payload.Kind,
				Message:    payload.Message,
				ImageSHA1:  payload.Hash,
				LatencyMs:  payload.LatencyMs,
				CreatedAt:  payload.CreatedAt,
			}, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	log, err := uc.repo.FindByRequestID(ctx, requestID, callerID)
	if err != nil {
		return nil, err
	}
	return log, nil
}

func (uc *VerificationUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	return retry.Do(ctx, uc.policy, uc.logger, operation, requestID, fn)
}

func (uc *VerificationUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var (
		result string
		miss   bool
	)
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if errors.Is(err, redis.Nil) {
			miss = true
			return nil
		}
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	if miss {
		return "", redis.Nil
	}
	return result, nil
}
