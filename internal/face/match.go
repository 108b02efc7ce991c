package face

import (
	"fmt"
	"math"

	"go.uber.org/zap"
)

// DefaultMatchThreshold is the similarity at or above which two faces match.
const DefaultMatchThreshold = 0.5

// MatchEngine scores two embeddings with cosine similarity and applies a fixed
// threshold.
type MatchEngine struct {
	threshold float64
	logger    *zap.Logger
}

// NewMatchEngine builds a MatchEngine.
func NewMatchEngine(threshold float64, logger *zap.Logger) *MatchEngine {
	return &MatchEngine{threshold: threshold, logger: logger.Named("match_engine")}
}

// Threshold returns the configured match threshold.
func (m *MatchEngine) Threshold() float64 {
	return m.threshold
}

// Compare re-normalises both inputs, scores them and decides the match with
// similarity >= threshold.
func (m *MatchEngine) Compare(a, b Embedding) (res MatchResult) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("embedding comparison panicked", zap.Any("panic", r))
			res = MatchResult{Message: fmt.Sprintf("Comparison failed: %v", r), Kind: KindInternal}
		}
	}()

	if len(a) == 0 || len(b) == 0 {
		return MatchResult{Message: "One or both embeddings are missing", Kind: KindInvalidInput}
	}
	if len(a) != len(b) {
		return MatchResult{
			Message: fmt.Sprintf("Embedding dimensions mismatch: %d vs %d", len(a), len(b)),
			Kind:    KindDimensionMismatch,
		}
	}

	na, okA := unit(a)
	nb, okB := unit(b)
	if !okA || !okB {
		return MatchResult{Message: "Embeddings must be finite and non-zero", Kind: KindInvalidInput}
	}

	similarity := CosineSimilarity(na, nb)
	isMatch := similarity >= m.threshold

	m.logger.Info("face comparison",
		zap.Float64("similarity", similarity),
		zap.Float64("threshold", m.threshold),
		zap.Bool("match", isMatch),
	)

	answer := "No"
	if isMatch {
		answer = "Yes"
	}
	return MatchResult{
		Success:    true,
		Similarity: similarity,
		IsMatch:    isMatch,
		Message:    fmt.Sprintf("Similarity: %.3f, Match: %s", similarity, answer),
	}
}

// CosineSimilarity is the dot product divided by the product of the norms,
// clamped to [-1, 1]. Mismatched lengths or zero vectors score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Max(-1, math.Min(1, similarity))
}

// unit returns v scaled to unit length in float64.
func unit(v Embedding) ([]float64, bool) {
	var sum float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false
		}
		sum += f * f
	}
	norm := math.Sqrt(sum)
	if norm == 0 || math.IsInf(norm, 0) {
		return nil, false
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x) / norm
	}
	return out, true
}
