package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/age-gate/internal/logging"
)

// ErrNotFound is returned when no verification log matches a lookup.
var ErrNotFound = errors.New("verification log not found")

// VerificationLog represents one persisted age verification outcome.
type VerificationLog struct {
	ID          uint      `gorm:"primaryKey"`
	RequestID   string    `gorm:"column:request_id;uniqueIndex;size:64"`
	SubjectID   string    `gorm:"column:subject_id;size:64;index"`
	Status      string    `gorm:"column:status;size:16;index"`
	Digits      string    `gorm:"column:digits;type:text"`
	Age         string    `gorm:"column:age;type:text"`
	RawResponse string    `gorm:"column:raw_response;type:text"`
	CapturePath string    `gorm:"column:capture_path;size:512"`
	SHA1Hash    string    `gorm:"column:sha1_hash;size:40;index"`
	LatencyMs   int64     `gorm:"column:latency_ms"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (VerificationLog) TableName() string {
	return "age_verification_logs"
}

// StatusCount is the number of logs recorded with one status.
type StatusCount struct {
	Status string
	Count  int64
}

// MetricsAggregation holds raw aggregates over all persisted logs.
type MetricsAggregation struct {
	TotalCount       int64
	StatusCounts     []StatusCount
	AverageLatencyMs float64
}

// VerificationRepository provides persistence APIs for verification logs.
type VerificationRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewVerificationRepository creates a new repository instance.
func NewVerificationRepository(db *gorm.DB, logger *zap.Logger) *VerificationRepository {
	return &VerificationRepository{
		db:             db,
		logger:         logger.Named("verification_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *VerificationRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&VerificationLog{})
}

// SaveLog persists a verification log entry.
func (r *VerificationRepository) SaveLog(ctx context.Context, log *VerificationLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestIDAndSubject retrieves a verification log matching the request and owner.
func (r *VerificationRepository) FindByRequestIDAndSubject(ctx context.Context, requestID, subjectID string) (*VerificationLog, error) {
	var log VerificationLog
	err := r.executeWithRetry(ctx, "repository.find_by_request", requestID, func() error {
		err := r.db.WithContext(ctx).First(&log, "request_id = ? AND subject_id = ?", requestID, subjectID).Error
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

// FindDuplicatesByHash lists earlier logs of the same subject with an identical image.
func (r *VerificationRepository) FindDuplicatesByHash(ctx context.Context, subjectID, hash, excludeRequestID string) ([]*VerificationLog, error) {
	var logs []*VerificationLog
	err := r.executeWithRetry(ctx, "repository.find_duplicates", excludeRequestID, func() error {
		return r.db.WithContext(ctx).
			Where("subject_id = ? AND sha1_hash = ? AND request_id <> ?", subjectID, hash, excludeRequestID).
			Order("created_at DESC").
			Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics computes counts per status and the average latency.
func (r *VerificationRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	agg := &MetricsAggregation{}
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		var counts []StatusCount
		if err := r.db.WithContext(ctx).Model(&VerificationLog{}).
			Select("status, COUNT(*) AS count").
			Group("status").
			Scan(&counts).Error; err != nil {
			return err
		}

		var avg struct{ AverageLatencyMs float64 }
		if err := r.db.WithContext(ctx).Model(&VerificationLog{}).
			Select("COALESCE(AVG(latency_ms), 0) AS average_latency_ms").
			Scan(&avg).Error; err != nil {
			return err
		}

		agg.StatusCounts = counts
		agg.TotalCount = 0
		for _, c := range counts {
			agg.TotalCount += c.Count
		}
		agg.AverageLatencyMs = avg.AverageLatencyMs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return agg, nil
}

func (r *VerificationRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	backoff := r.initialBackoff
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, ErrNotFound) {
			return err
		}
		if !isTransientError(err) {
			break
		}
		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}

	opLogger.Error("database operation failed", zap.Error(err))
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	return errors.As(err, &temporary) && temporary.Temporary()
}
