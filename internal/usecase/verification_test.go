package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/example/faceverify/internal/face"
	"github.com/example/faceverify/internal/imageprocessor"
	"github.com/example/faceverify/internal/logging"
	"github.com/example/faceverify/internal/repository"
	"github.com/example/faceverify/internal/retry"
)

type stubRepository struct {
	savedLogs   []*repository.VerificationLog
	saveErr     error
	findLog     *repository.VerificationLog
	findErr     error
	findCalls   int
	aggregation *repository.MetricsAggregation
}

func (s *stubRepository) SaveLog(ctx context.Context, log *repository.VerificationLog) error {
	s.savedLogs = append(s.savedLogs, log)
	return s.saveErr
}

func (s *stubRepository) FindByRequestID(ctx context.Context, requestID, callerID string) (*repository.VerificationLog, error) {
	s.findCalls++
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.findLog != nil {
		return s.findLog, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubRepository) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	if s.aggregation == nil {
		return nil, errors.New("no aggregation")
	}
	return s.aggregation, nil
}

type stubCache struct {
	setErrs []error
	getErrs []error
	setKeys []string
	getKeys []string
	values  map[string]interface{}
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	if len(s.setErrs) > 0 {
		err := s.setErrs[0]
		s.setErrs = s.setErrs[1:]
		if err != nil {
			return err
		}
	}
	if s.values == nil {
		s.values = map[string]interface{}{}
	}
	s.values[key] = value
	return nil
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.getKeys = append(s.getKeys, key)
	if len(s.getErrs) > 0 {
		err := s.getErrs[0]
		s.getErrs = s.getErrs[1:]
		if err != nil {
			return "", err
		}
	}
	switch v := s.values[key].(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", redis.Nil
	}
}

type stubEngine struct {
	decodeErr    error
	detection    face.DetectionResult
	embedding    face.EmbeddingResult
	match        face.MatchResult
	verification face.VerificationResult
	embedCalls   int
}

func (s *stubEngine) DecodeImage(data []byte) (*imageprocessor.PixelImage, error) {
	if s.decodeErr != nil {
		return nil, s.decodeErr
	}
	return imageprocessor.NewColor(2, 2, imageprocessor.OrderBGR), nil
}

func (s *stubEngine) DetectFace(ctx context.Context, img *imageprocessor.PixelImage) face.DetectionResult {
	return s.detection
}

func (s *stubEngine) GenerateEmbedding(ctx context.Context, img *imageprocessor.PixelImage) face.EmbeddingResult {
	s.embedCalls++
	return s.embedding
}

func (s *stubEngine) CompareEmbeddings(a, b face.Embedding) face.MatchResult {
	return s.match
}

func (s *stubEngine) VerifyFace(ctx context.Context, imageData, reference []byte) face.VerificationResult {
	return s.verification
}

func (s *stubEngine) VerifyFacePayload(ctx context.Context, payload string, reference []byte) face.VerificationResult {
	return s.verification
}

func (s *stubEngine) Info() face.SystemInfo {
	return face.SystemInfo{Status: "operational"}
}

type transientRedisError struct{}

func (transientRedisError) Error() string   { return "redis transient" }
func (transientRedisError) Timeout() bool   { return true }
func (transientRedisError) Temporary() bool { return true }

func newTestUseCase(repo VerificationRepository, cache Cache, engine FaceEngine) *VerificationUseCase {
	uc := NewVerificationUseCase(repo, cache, engine, zap.NewNop())
	uc.policy = retry.Policy{Attempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
	return uc
}

func matchingEngine() *stubEngine {
	return &stubEngine{verification: face.VerificationResult{
		MatchResult: face.MatchResult{Success: true, Similarity: 0.82, IsMatch: true, Message: "Similarity: 0.820, Match: Yes"},
		Stage:       face.StageResult,
	}}
}

func TestVerifyFaceRetriesRedisSet(t *testing.T) {
	cache := &stubCache{setErrs: []error{transientRedisError{}}}
	repo := &stubRepository{}
	uc := newTestUseCase(repo, cache, matchingEngine())

	resp, err := uc.VerifyFace(context.Background(), "svc", "student-1", []byte("image"), []byte("[]"))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !resp.Success || !resp.IsMatch {
		t.Fatalf("expected matching response, got %+v", resp)
	}
	if len(cache.setKeys) < 3 {
		t.Fatalf("expected at least 3 cache set calls (retry + result), got %d", len(cache.setKeys))
	}
	if cache.setKeys[0] != cache.setKeys[1] {
		t.Fatalf("expected retry to target same key, got %s and %s", cache.setKeys[0], cache.setKeys[1])
	}
	if len(repo.savedLogs) != 1 {
		t.Fatalf("expected log to be saved, got %d entries", len(repo.savedLogs))
	}
}

func TestVerifyFaceReturnsOperationErrorOnCacheFailure(t *testing.T) {
	cache := &stubCache{setErrs: []error{errors.New("boom")}}
	repo := &stubRepository{}
	uc := newTestUseCase(repo, cache, matchingEngine())

	_, err := uc.VerifyFace(context.Background(), "svc", "student-1", []byte("image"), nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "cache.set.processing" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
	if len(repo.savedLogs) != 0 {
		t.Fatal("nothing should be persisted when the processing marker cannot be set")
	}
}

func TestVerifyFaceWritesAuditLog(t *testing.T) {
	repo := &stubRepository{}
	uc := newTestUseCase(repo, &stubCache{}, matchingEngine())

	resp, err := uc.VerifyFace(context.Background(), "svc", "student-1", []byte("image"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	log := repo.savedLogs[0]
	hash := sha1.Sum([]byte("image"))
	if log.RequestID != resp.RequestID || log.CallerID != "svc" || log.SubjectID != "student-1" || log.Operation != OperationVerify {
		t.Fatalf("unexpected identifiers: %+v", log)
	}
	if log.ImageSHA1 != hex.EncodeToString(hash[:]) {
		t.Fatalf("unexpected hash %s", log.ImageSHA1)
	}
	if !log.IsMatch || log.Similarity == nil || *log.Similarity != 0.82 {
		t.Fatalf("unexpected outcome fields: %+v", log)
	}
	if log.LatencyMs < 0 {
		t.Fatalf("negative latency %v", log.LatencyMs)
	}
}

func TestVerifyFaceFailClosedIsAuditedWithoutSimilarity(t *testing.T) {
	repo := &stubRepository{}
	engine := &stubEngine{verification: face.VerificationResult{
		MatchResult: face.MatchResult{Message: "Security Error: No valid registered face found for this user.", Kind: face.KindSecurityRejection},
		Stage:       face.StageFailClosed,
	}}
	uc := newTestUseCase(repo, &stubCache{}, engine)

	resp, err := uc.VerifyFaceJSON(context.Background(), "", "student-2", "aGVsbG8=", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Success || resp.Stage != face.StageFailClosed {
		t.Fatalf("unexpected response: %+v", resp)
	}
	log := repo.savedLogs[0]
	if log.Success || log.Similarity != nil || log.Kind != string(face.KindSecurityRejection) {
		t.Fatalf("unexpected log: %+v", log)
	}
}

func TestVerifyFaceReturnsOperationErrorOnSaveFailure(t *testing.T) {
	repo := &stubRepository{saveErr: errors.New("db down")}
	uc := newTestUseCase(repo, &stubCache{}, matchingEngine())

	_, err := uc.VerifyFace(context.Background(), "svc", "", []byte("image"), nil)
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != "usecase.save_log" {
		t.Fatalf("expected save_log OperationError, got %v", err)
	}
}

func TestDetectFaceIncludesEmbeddingOnlyForRealExtraction(t *testing.T) {
	confidence := 0.93
	engine := &stubEngine{
		detection: face.DetectionResult{Success: true, Confidence: &confidence, FacesDetected: 1, Message: "Face detected successfully"},
		embedding: face.EmbeddingResult{Success: true, Embedding: face.Embedding{1, 0}},
	}
	uc := newTestUseCase(&stubRepository{}, &stubCache{}, engine)

	resp, err := uc.DetectFace(context.Background(), "svc", []byte("image"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Embedding) != 2 || resp.FacesDetected != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	engine.embedding = face.EmbeddingResult{Success: true, Embedding: face.Embedding{0.3, 0.4}, Mock: true}
	resp, err = uc.DetectFace(context.Background(), "svc", []byte("image"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Embedding != nil {
		t.Fatal("mock embeddings must not be returned from detection")
	}

	engine.embedding = face.EmbeddingResult{Message: "No faces detected in image", Kind: face.KindNoFaceFound}
	resp, _ = uc.DetectFace(context.Background(), "svc", []byte("image"))
	if resp.Embedding != nil || !resp.Success {
		t.Fatalf("failed extraction should leave detection intact without embedding: %+v", resp)
	}
}

func TestDetectFaceSkipsExtractionWhenNoFace(t *testing.T) {
	engine := &stubEngine{detection: face.DetectionResult{Message: "No faces detected", Kind: face.KindNoFaceFound}}
	uc := newTestUseCase(&stubRepository{}, &stubCache{}, engine)

	resp, err := uc.DetectFace(context.Background(), "svc", []byte("image"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Success || engine.embedCalls != 0 {
		t.Fatalf("unexpected response %+v (embed calls %d)", resp, engine.embedCalls)
	}
}

func TestInvalidImageIsRejectedBeforeAudit(t *testing.T) {
	repo := &stubRepository{}
	cache := &stubCache{}
	engine := &stubEngine{decodeErr: imageprocessor.ErrInvalidImage}
	uc := newTestUseCase(repo, cache, engine)

	if _, err := uc.DetectFace(context.Background(), "svc", []byte("nope")); !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
	if _, err := uc.GenerateEmbedding(context.Background(), "svc", []byte("nope")); !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
	if len(repo.savedLogs) != 0 {
		t.Fatalf("expected no audit entries, got %d", len(repo.savedLogs))
	}
	if len(cache.setKeys) != 0 {
		t.Fatalf("rejected uploads must not leave processing markers, got %v", cache.setKeys)
	}
}

func TestCompareEmbeddingsAuditsSimilarity(t *testing.T) {
	repo := &stubRepository{}
	engine := &stubEngine{match: face.MatchResult{Success: true, Similarity: 0.4, Message: "Similarity: 0.400, Match: No"}}
	uc := newTestUseCase(repo, &stubCache{}, engine)

	resp, err := uc.CompareEmbeddings(context.Background(), "svc", face.Embedding{1}, face.Embedding{1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.IsMatch || resp.Similarity != 0.4 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	log := repo.savedLogs[0]
	if log.Operation != OperationCompare || log.ImageSHA1 != "" || *log.Similarity != 0.4 {
		t.Fatalf("unexpected log: %+v", log)
	}
}

func TestGetResultReadsCachedOutcome(t *testing.T) {
	cache := &stubCache{}
	repo := &stubRepository{}
	uc := newTestUseCase(repo, cache, matchingEngine())

	resp, err := uc.VerifyFace(context.Background(), "svc", "student-1", []byte("image"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	log, err := uc.GetResult(context.Background(), "svc", resp.RequestID)
	if err != nil {
		t.Fatalf("expected cached result, got %v", err)
	}
	if log.RequestID != resp.RequestID || log.SubjectID != "student-1" || !log.IsMatch || *log.Similarity != 0.82 {
		t.Fatalf("unexpected cached log: %+v", log)
	}
	if !log.CreatedAt.Equal(repo.savedLogs[0].CreatedAt) {
		t.Fatalf("created_at lost precision: %v vs %v", log.CreatedAt, repo.savedLogs[0].CreatedAt)
	}
	if repo.findCalls != 0 {
		t.Fatal("repository must not be queried on a cache hit")
	}

	if _, err := uc.GetResult(context.Background(), "other", resp.RequestID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another caller, got %v", err)
	}
}

func TestGetResultReportsPending(t *testing.T) {
	cache := &stubCache{values: map[string]interface{}{"verification:req": processingMarker}}
	uc := newTestUseCase(&stubRepository{}, cache, matchingEngine())

	if _, err := uc.GetResult(context.Background(), "", "req"); !errors.Is(err, ErrResultPending) {
		t.Fatalf("expected ErrResultPending, got %v", err)
	}
}

func TestGetResultFallsBackToRepositoryWhenCacheMiss(t *testing.T) {
	cache := &stubCache{getErrs: []error{redis.Nil}}
	expected := &repository.VerificationLog{RequestID: "req", CallerID: "svc", Message: "from-db"}
	repo := &stubRepository{findLog: expected}
	uc := newTestUseCase(repo, cache, matchingEngine())

	log, err := uc.GetResult(context.Background(), "svc", "req")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if log != expected {
		t.Fatalf("expected %+v, got %+v", expected, log)
	}
	if repo.findCalls != 1 {
		t.Fatalf("expected repository to be queried once, got %d", repo.findCalls)
	}
	if len(cache.getKeys) != 1 || cache.getKeys[0] != "verification:req" {
		t.Fatalf("unexpected cache lookups: %v", cache.getKeys)
	}
}

func TestGetResultFallsBackOnUndecodableCacheEntry(t *testing.T) {
	cache := &stubCache{values: map[string]interface{}{"verification:req": "\xff\xfe"}}
	expected := &repository.VerificationLog{RequestID: "req"}
	repo := &stubRepository{findLog: expected}
	uc := newTestUseCase(repo, cache, matchingEngine())

	log, err := uc.GetResult(context.Background(), "", "req")
	if err != nil || log != expected {
		t.Fatalf("expected repository fallback, got %+v, %v", log, err)
	}
}

func TestGetMetricsSummary(t *testing.T) {
	repo := &stubRepository{aggregation: &repository.MetricsAggregation{
		TotalCount:        10,
		SuccessCount:      8,
		MatchCount:        3,
		ComparisonCount:   4,
		AverageSimilarity: 0.6,
		AverageLatencyMs:  12.5,
		ByOperation:       map[string]int64{OperationVerify: 4, OperationDetect: 6},
	}}
	uc := newTestUseCase(repo, &stubCache{}, matchingEngine())

	summary, err := uc.GetMetricsSummary(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.SuccessRate != 0.8 || summary.MatchRate != 0.75 {
		t.Fatalf("unexpected rates: %+v", summary)
	}
	if summary.RequestsByOperation[OperationDetect] != 6 || summary.AverageProcessingLatencyMs != 12.5 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	empty := newTestUseCase(NopRepository{}, NopCache{}, matchingEngine())
	summary, err = empty.GetMetricsSummary(context.Background())
	if err != nil || summary.TotalRequests != 0 || summary.SuccessRate != 0 {
		t.Fatalf("unexpected empty summary: %+v, %v", summary, err)
	}
}

func TestNopBackendsStillServeRequests(t *testing.T) {
	uc := newTestUseCase(NopRepository{}, NopCache{}, matchingEngine())

	resp, err := uc.VerifyFace(context.Background(), "", "", []byte("image"), nil)
	if err != nil || !resp.IsMatch {
		t.Fatalf("unexpected result %+v, %v", resp, err)
	}
	if _, err := uc.GetResult(context.Background(), "", resp.RequestID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound without persistence, got %v", err)
	}
	if info := uc.SystemInfo(); info.Status != "operational" {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestVerifyRoutesHashTheSameImageAlike(t *testing.T) {
	repo := &stubRepository{}
	uc := newTestUseCase(repo, &stubCache{}, matchingEngine())
	image := []byte("\x89PNG fake image bytes")

	if _, err := uc.VerifyFace(context.Background(), "svc", "student-1", image, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	payload := "data:image/png;base64," + base64.StdEncoding.EncodeToString(image)
	if _, err := uc.VerifyFaceJSON(context.Background(), "svc", "student-1", payload, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sum := sha1.Sum(image)
	want := hex.EncodeToString(sum[:])
	if len(repo.savedLogs) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(repo.savedLogs))
	}
	for i, log := range repo.savedLogs {
		if log.ImageSHA1 != want {
			t.Fatalf("entry %d: expected hash %s, got %s", i, want, log.ImageSHA1)
		}
	}
}

func TestGetResultCacheMissIsNotAnError(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	expected := &repository.VerificationLog{RequestID: "req"}
	repo := &stubRepository{findLog: expected}
	uc := newTestUseCase(repo, NopCache{}, matchingEngine())
	uc.logger = zap.New(core)

	log, err := uc.GetResult(context.Background(), "", "req")
	if err != nil || log != expected {
		t.Fatalf("expected repository result, got %+v, %v", log, err)
	}
	if logs.Len() != 0 {
		t.Fatalf("a cache miss should not be logged as a failure, got %v", logs.All())
	}
}
