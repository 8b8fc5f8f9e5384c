package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/age-gate/internal/agedecision"
	"github.com/example/age-gate/internal/capture"
	"github.com/example/age-gate/internal/estimator"
	"github.com/example/age-gate/internal/events"
	"github.com/example/age-gate/internal/logging"
	"github.com/example/age-gate/internal/repository"
)

// AnonymousSubject is recorded for captures made without an authenticated user.
const AnonymousSubject = "anonymous"

// FailedMessage is shown when the estimator call fails.
const FailedMessage = "Failed to analyze the image."

// Status is the final state of one verification request.
type Status string

const (
	StatusAdult       Status = Status(agedecision.VerdictAdult)
	StatusMinor       Status = Status(agedecision.VerdictMinor)
	StatusUnparseable Status = Status(agedecision.VerdictUnparseable)
	StatusFailed      Status = "failed"
)

// ErrInvalidImage is returned when the uploaded payload is not a usable photo.
var ErrInvalidImage = errors.New("invalid image")

// VerificationRepository defines the persistence operations needed by the use case.
type VerificationRepository interface {
	SaveLog(ctx context.Context, log *repository.VerificationLog) error
	FindByRequestIDAndSubject(ctx context.Context, requestID, subjectID string) (*repository.VerificationLog, error)
	FindDuplicatesByHash(ctx context.Context, subjectID, hash, excludeRequestID string) ([]*repository.VerificationLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Outcome is what the UI renders for one capture.
type Outcome struct {
	RequestID   string               `json:"request_id"`
	SubjectID   string               `json:"subject_id"`
	Status      Status               `json:"status"`
	Message     string               `json:"message"`
	Severity    agedecision.Severity `json:"severity"`
	Digits      string               `json:"digits,omitempty"`
	Age         string               `json:"age,omitempty"`
	RawResponse string               `json:"raw_response,omitempty"`
	CapturePath string               `json:"capture_path,omitempty"`
	SHA1Hash    string               `json:"sha1_hash,omitempty"`
	LatencyMs   int64                `json:"latency_ms"`
	CreatedAt   time.Time            `json:"created_at"`
}

// HasVerdict reports whether an age verdict was reached.
func (o *Outcome) HasVerdict() bool {
	return o.Status == StatusAdult || o.Status == StatusMinor
}

// DuplicateReport represents earlier verifications of the same image by the same subject.
type DuplicateReport struct {
	Request    *Outcome   `json:"request"`
	Duplicates []*Outcome `json:"duplicates"`
}

// VerificationUseCase encapsulates business logic for the verification flow.
type VerificationUseCase struct {
	repo           VerificationRepository
	cache          Cache
	estimator      estimator.Estimator
	store          capture.Store
	publisher      events.Publisher
	logger         *zap.Logger
	now            func() time.Time
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewVerificationUseCase constructs a new use case instance.
func NewVerificationUseCase(
	repo VerificationRepository,
	cache Cache,
	est estimator.Estimator,
	store capture.Store,
	publisher events.Publisher,
	logger *zap.Logger,
) *VerificationUseCase {
	return &VerificationUseCase{
		repo:           repo,
		cache:          cache,
		estimator:      est,
		store:          store,
		publisher:      publisher,
		logger:         logger.Named("verification_usecase"),
		now:            time.Now,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// VerifyAge runs one capture through the estimator and the age decision.
// Estimator failures do not return an error: they produce a StatusFailed outcome.
func (uc *VerificationUseCase) VerifyAge(ctx context.Context, subjectID string, raw []byte) (*Outcome, error) {
	if subjectID == "" {
		subjectID = AnonymousSubject
	}
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.verify_age", requestID)
	started := uc.now()

	img, err := capture.Normalize(raw, started)
	if err != nil {
		opLogger.Info("rejected capture", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}

	cacheKey := resultKey(requestID)
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, cacheKey, "processing", time.Minute)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return nil, err
	}

	location, err := uc.store.Save(ctx, img)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.save_capture", requestID, err)
		opLogger.Error("failed to store capture", zap.Error(wrapped))
		return nil, wrapped
	}

	hash := sha1.Sum(img.Data)
	outcome := &Outcome{
		RequestID:   requestID,
		SubjectID:   subjectID,
		CapturePath: location,
		SHA1Hash:    hex.EncodeToString(hash[:]),
	}

	reply, err := uc.estimator.Estimate(ctx, img.Data, img.MIMEType)
	if err != nil {
		failedOp, _ := logging.OperationOf(err)
		opLogger.Warn("age estimation failed", zap.Error(err), zap.String("failed_operation", failedOp))
		outcome.Status = StatusFailed
		outcome.Message = FailedMessage
		outcome.Severity = agedecision.SeverityError
	} else {
		decision := agedecision.Decide(reply)
		outcome.Status = Status(decision.Verdict)
		outcome.Message = decision.Verdict.Message()
		outcome.Severity = decision.Verdict.Severity()
		outcome.Digits = decision.Digits
		outcome.Age = decision.AgeString()
		outcome.RawResponse = reply
	}

	outcome.CreatedAt = uc.now().UTC()
	outcome.LatencyMs = outcome.CreatedAt.Sub(started).Milliseconds()
	opLogger.Info("age verification finished",
		zap.String("status", string(outcome.Status)),
		zap.String("digits", outcome.Digits),
		zap.Int64("latency_ms", outcome.LatencyMs),
	)

	uc.record(ctx, opLogger, outcome)
	return outcome, nil
}

// record persists, caches and publishes a finished outcome. Failures here are logged
// and never change the outcome already computed for the user.
func (uc *VerificationUseCase) record(ctx context.Context, opLogger *zap.Logger, outcome *Outcome) {
	if err := uc.repo.SaveLog(ctx, outcomeToLog(outcome)); err != nil {
		opLogger.Error("failed to persist verification log", zap.Error(err))
	}

	serialized, err := json.Marshal(outcome)
	if err != nil {
		opLogger.Error("failed to serialize verification result", zap.Error(err))
	} else if err := uc.withRedisRetry(ctx, outcome.RequestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, resultKey(outcome.RequestID), string(serialized), 5*time.Minute)
	}); err != nil {
		opLogger.Error("failed to cache verification result", zap.Error(err))
	}

	if err := uc.publisher.Publish(ctx, events.VerdictEvent{
		RequestID:  outcome.RequestID,
		SubjectID:  outcome.SubjectID,
		Status:     string(outcome.Status),
		Age:        outcome.Age,
		LatencyMs:  outcome.LatencyMs,
		OccurredAt: outcome.CreatedAt,
	}); err != nil {
		opLogger.Warn("failed to publish verdict event", zap.Error(err))
	}
}

// GetResult retrieves a cached verification outcome or loads it from persistence.
func (uc *VerificationUseCase) GetResult(ctx context.Context, subjectID, requestID string) (*Outcome, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", requestID)
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", resultKey(requestID)); err == nil {
		var payload Outcome
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			opLogger.Debug("cached value is not a finished outcome", zap.Error(err))
		} else if payload.SubjectID == subjectID {
			return &payload, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	log, err := uc.repo.FindByRequestIDAndSubject(ctx, requestID, subjectID)
	if err != nil {
		return nil, err
	}
	return logToOutcome(log), nil
}

// GetDuplicateReport lists earlier verifications of the same image by the same subject.
func (uc *VerificationUseCase) GetDuplicateReport(ctx context.Context, subjectID, requestID string) (*DuplicateReport, error) {
	log, err := uc.repo.FindByRequestIDAndSubject(ctx, requestID, subjectID)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, subjectID, log.SHA1Hash, log.RequestID)
	if err != nil {
		return nil, err
	}

	report := &DuplicateReport{Request: logToOutcome(log), Duplicates: make([]*Outcome, 0, len(duplicates))}
	for _, d := range duplicates {
		report.Duplicates = append(report.Duplicates, logToOutcome(d))
	}
	return report, nil
}

func resultKey(requestID string) string {
	return fmt.Sprintf("verification:%s", requestID)
}

func outcomeToLog(o *Outcome) *repository.VerificationLog {
	return &repository.VerificationLog{
		RequestID:   o.RequestID,
		SubjectID:   o.SubjectID,
		Status:      string(o.Status),
		Digits:      o.Digits,
		Age:         o.Age,
		RawResponse: o.RawResponse,
		CapturePath: o.CapturePath,
		SHA1Hash:    o.SHA1Hash,
		LatencyMs:   o.LatencyMs,
		CreatedAt:   o.CreatedAt,
	}
}

func logToOutcome(log *repository.VerificationLog) *Outcome {
	status := Status(log.Status)
	o := &Outcome{
		RequestID:   log.RequestID,
		SubjectID:   log.SubjectID,
		Status:      status,
		Digits:      log.Digits,
		Age:         log.Age,
		RawResponse: log.RawResponse,
		CapturePath: log.CapturePath,
		SHA1Hash:    log.SHA1Hash,
		LatencyMs:   log.LatencyMs,
		CreatedAt:   log.CreatedAt,
	}
	if status == StatusFailed {
		o.Message = FailedMessage
		o.Severity = agedecision.SeverityError
	} else {
		verdict := agedecision.Verdict(status)
		o.Message = verdict.Message()
		o.Severity = verdict.Severity()
	}
	return o
}

func (uc *VerificationUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, requestID, err)
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if errors.Is(err, redis.Nil) {
			return err
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *VerificationUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
