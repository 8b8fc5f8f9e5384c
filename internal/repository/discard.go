package repository

import "context"

// Discard satisfies the repository contract without a database. Logs are dropped
// and every lookup misses.
type Discard struct{}

// SaveLog drops log.
func (Discard) SaveLog(context.Context, *VerificationLog) error { return nil }

// FindByRequestIDAndSubject always returns ErrNotFound.
func (Discard) FindByRequestIDAndSubject(context.Context, string, string) (*VerificationLog, error) {
	return nil, ErrNotFound
}

// FindDuplicatesByHash returns no logs.
func (Discard) FindDuplicatesByHash(context.Context, string, string, string) ([]*VerificationLog, error) {
	return nil, nil
}

// AggregateMetrics returns empty aggregates.
func (Discard) AggregateMetrics(context.Context) (*MetricsAggregation, error) {
	return &MetricsAggregation{}, nil
}
