package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/faceverify/internal/retry"
)

// ErrNotFound is returned when no log matches a lookup.
var ErrNotFound = errors.New("verification log not found")

// VerificationLog is the audit record of one engine operation.
type VerificationLog struct {
	ID         uint      `gorm:"primaryKey"`
	RequestID  string    `gorm:"column:request_id;uniqueIndex;size:64"`
	CallerID   string    `gorm:"column:caller_id;index;size:128"`
	SubjectID  string    `gorm:"column:subject_id;index;size:128"`
	Operation  string    `gorm:"column:operation;size:32"`
	Success    bool      `gorm:"column:success"`
	IsMatch    bool      `gorm:"column:is_match"`
	Similarity *float64  `gorm:"column:similarity"`
	Confidence *float64  `gorm:"column:confidence"`
	Kind       string    `gorm:"column:kind;size:32"`
	Message    string    `gorm:"column:message;type:text"`
	ImageSHA1  string    `gorm:"column:image_sha1;index;size:40"`
	LatencyMs  float64   `gorm:"column:latency_ms"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (VerificationLog) TableName() string {
	return "verification_logs"
}

// MetricsAggregation is the raw aggregate over all persisted logs.
type MetricsAggregation struct {
	TotalCount        int64
	SuccessCount      int64
	MatchCount        int64
	ComparisonCount   int64
	AverageSimilarity float64
	AverageLatencyMs  float64
	ByOperation       map[string]int64
}

// VerificationRepository provides persistence APIs for verification logs.
type VerificationRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	policy retry.Policy
}

// NewVerificationRepository creates a new repository instance.
func NewVerificationRepository(db *gorm.DB, logger *zap.Logger) *VerificationRepository {
	return &VerificationRepository{
		db:     db,
		logger: logger.Named("verification_repository"),
		policy: retry.DefaultPolicy,
	}
}

// AutoMigrate ensures the schema is available.
func (r *VerificationRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&VerificationLog{})
	})
}

// SaveLog persists a verification log entry.
func (r *VerificationRepository) SaveLog(ctx context.Context, log *VerificationLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestID retrieves the log of a request. A non-empty callerID
// restricts the lookup to logs written for that caller.
func (r *VerificationRepository) FindByRequestID(ctx context.Context, requestID, callerID string) (*VerificationLog, error) {
	var log VerificationLog
	err := r.executeWithRetry(ctx, "repository.find_by_request_id", requestID, func() error {
		query := r.db.WithContext(ctx).Where("request_id = ?", requestID)
		if callerID != "" {
			query = query.Where("caller_id = ?", callerID)
		}
		err := query.First(&log).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// AggregateMetrics summarises all persisted logs.
func (r *VerificationRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var row struct {
		Total         int64
		Successful    int64
		Matches       int64
		Comparisons   int64
		AvgSimilarity float64
		AvgLatencyMs  float64
	}
	var perOperation []struct {
		Operation string
		Count     int64
	}

	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		err := r.db.WithContext(ctx).Model(&VerificationLog{}).Select(
			"COUNT(*) AS total, " +
				"COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS successful, " +
				"COALESCE(SUM(CASE WHEN is_match THEN 1 ELSE 0 END), 0) AS matches, " +
				"COUNT(similarity) AS comparisons, " +
				"COALESCE(AVG(similarity), 0) AS avg_similarity, " +
				"COALESCE(AVG(latency_ms), 0) AS avg_latency_ms",
		).Scan(&row).Error
		if err != nil {
			return err
		}
		return r.db.WithContext(ctx).Model(&VerificationLog{}).
			Select("operation, COUNT(*) AS count").
			Group("operation").
			Scan(&perOperation).Error
	})
	if err != nil {
		return nil, err
	}

	aggregation := &MetricsAggregation{
		TotalCount:        row.Total,
		SuccessCount:      row.Successful,
		MatchCount:        row.Matches,
		ComparisonCount:   row.Comparisons,
		AverageSimilarity: row.AvgSimilarity,
		AverageLatencyMs:  row.AvgLatencyMs,
		ByOperation:       make(map[string]int64, len(perOperation)),
	}
	for _, op := range perOperation {
		aggregation.ByOperation[op.Operation] = op.Count
	}
	return aggregation, nil
}

func (r *VerificationRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	return retry.Do(ctx, r.policy, r.logger, operation, requestID, fn)
}
