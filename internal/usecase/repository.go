package usecase

import (
	"context"

	"github.com/example/faceverify/internal/repository"
)

// VerificationRepository defines the persistence operations needed by the use case.
type VerificationRepository interface {
	SaveLog(ctx context.Context, log *repository.VerificationLog) error
	FindByRequestID(ctx context.Context, requestID, callerID string) (*repository.VerificationLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// NopRepository is used when no audit database is configured.
type NopRepository struct{}

func (NopRepository) SaveLog(ctx context.Context, log *repository.VerificationLog) error {
	return nil
}

func (NopRepository) FindByRequestID(ctx context.Context, requestID, callerID string) (*repository.VerificationLog, error) {
	return nil, repository.ErrNotFound
}

func (NopRepository) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	return &repository.MetricsAggregation{ByOperation: map[string]int64{}}, nil
}
