package usecase

import "context"

// MetricsSummary represents aggregated verification insights.
type MetricsSummary struct {
	TotalRequests              int64            `json:"total_requests"`
	SuccessfulRequests         int64            `json:"successful_requests"`
	SuccessRate                float64          `json:"success_rate"`
	Comparisons                int64            `json:"comparisons"`
	Matches                    int64            `json:"matches"`
	MatchRate                  float64          `json:"match_rate"`
	AverageSimilarity          float64          `json:"average_similarity"`
	AverageProcessingLatencyMs float64          `json:"average_processing_latency_ms"`
	RequestsByOperation        map[string]int64 `json:"requests_by_operation"`
}

// GetMetricsSummary aggregates verification metrics from persisted logs.
func (uc *VerificationUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:              aggregation.TotalCount,
		SuccessfulRequests:         aggregation.SuccessCount,
		Comparisons:                aggregation.ComparisonCount,
		Matches:                    aggregation.MatchCount,
		AverageSimilarity:          aggregation.AverageSimilarity,
		AverageProcessingLatencyMs: aggregation.AverageLatencyMs,
		RequestsByOperation:        aggregation.ByOperation,
	}

	if aggregation.TotalCount > 0 {
		summary.SuccessRate = float64(aggregation.SuccessCount) / float64(aggregation.TotalCount)
	}
	if aggregation.ComparisonCount > 0 {
		summary.MatchRate = float64(aggregation.MatchCount) / float64(aggregation.ComparisonCount)
	}

	return summary, nil
}
