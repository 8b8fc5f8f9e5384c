package usecase

import "context"

// MetricsSummary represents aggregated verification insights.
type MetricsSummary struct {
	TotalRequests    int64   `json:"total_requests"`
	AdultCount       int64   `json:"adult_count"`
	MinorCount       int64   `json:"minor_count"`
	UnparseableCount int64   `json:"unparseable_count"`
	FailedCount      int64   `json:"failed_count"`
	AdultRate        float64 `json:"adult_rate"`
	UnparseableRate  float64 `json:"unparseable_rate"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
}

// GetMetricsSummary aggregates verification metrics from persisted logs.
func (uc *VerificationUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:    aggregation.TotalCount,
		AverageLatencyMs: aggregation.AverageLatencyMs,
	}
	for _, c := range aggregation.StatusCounts {
		switch Status(c.Status) {
		case StatusAdult:
			summary.AdultCount = c.Count
		case StatusMinor:
			summary.MinorCount = c.Count
		case StatusUnparseable:
			summary.UnparseableCount = c.Count
		case StatusFailed:
			summary.FailedCount = c.Count
		}
	}

	if aggregation.TotalCount > 0 {
		summary.AdultRate = float64(summary.AdultCount) / float64(aggregation.TotalCount)
		summary.UnparseableRate = float64(summary.UnparseableCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
