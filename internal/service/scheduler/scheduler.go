// Package scheduler processes due retry attempts in bounded batches. It is
// invoked by an external trigger (the retryworker binary or the immediate
// send path on attempt creation), never as a persistent loop.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/model"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/repository"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/service/delivery"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/service/instancerouter"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/pkg/logger"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/pkg/metrics"
)

// AttemptStore is the slice of the attempt repository the scheduler needs.
type AttemptStore interface {
	ListDue(ctx context.Context, sourceApp *model.SourceApp, now time.Time, limit int) ([]*model.MessageAttempt, error)
	ClaimForSending(ctx context.Context, id uuid.UUID, now time.Time) (*model.MessageAttempt, error)
	Update(ctx context.Context, attempt *model.MessageAttempt, expectedStatus model.AttemptStatus) error
}

// DeliveryClient is the outbound provider call.
type DeliveryClient interface {
	Send(ctx context.Context, region model.Region, phone, message string, kind model.MessageKind) delivery.Result
}

// RegionRouter resolves the provider instance for one send cycle.
type RegionRouter interface {
	Route(req instancerouter.Request) (model.Region, error)
}

type Config struct {
	BatchSize         int
	WorkerCount       int
	MaxReportedErrors int
}

type Scheduler struct {
	attempts AttemptStore
	router   RegionRouter
	client   DeliveryClient
	config   Config
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewScheduler(
	attempts AttemptStore,
	router RegionRouter,
	client DeliveryClient,
	config Config,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Scheduler {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if config.MaxReportedErrors <= 0 {
		config.MaxReportedErrors = 20
	}
	return &Scheduler{
		attempts: attempts,
		router:   router,
		client:   client,
		config:   config,
		logger:   logger,
		metrics:  metrics,
	}
}

// RunOptions narrows one batch run.
type RunOptions struct {
	SourceApp *model.SourceApp
	BatchSize int
	DryRun    bool
}

// ItemError is one per-attempt failure summary, bounded in count.
type ItemError struct {
	AttemptID uuid.UUID `json:"attempt_id"`
	Error     string    `json:"error"`
}

// RunResult aggregates one batch run.
type RunResult struct {
	Processed int         `json:"processed"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Skipped   int         `json:"skipped"`
	DryRun    bool        `json:"dry_run"`
	Errors    []ItemError `json:"errors,omitempty"`
}

// Run selects due attempts and sends them through a small worker pool.
// Per-item failures are reported in the result, never as an error; an error
// return means the batch could not run at all.
func (s *Scheduler) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	timer := prometheus.NewTimer(s.metrics.BatchLatency)
	defer timer.ObserveDuration()
	defer s.metrics.BatchProcessed.Inc()

	batchSize := opts.BatchSize
	if batchSize <= 0 || batchSize > s.config.BatchSize {
		batchSize = s.config.BatchSize
	}

	due, err := s.attempts.ListDue(ctx, opts.SourceApp, time.Now(), batchSize)
	if err != nil {
		s.metrics.DatabaseOperations.WithLabelValues("list_due", "error").Inc()
		return nil, fmt.Errorf("failed to select due attempts: %w", err)
	}
	s.metrics.DatabaseOperations.WithLabelValues("list_due", "success").Inc()

	result := &RunResult{DryRun: opts.DryRun}

	if opts.DryRun {
		result.Processed = len(due)
		return result, nil
	}

	jobs := make(chan uuid.UUID)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := 0; i < s.config.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				ok, skipped, errSummary := s.processOne(ctx, id)
				mu.Lock()
				switch {
				case skipped:
					result.Skipped++
				case ok:
					result.Processed++
					result.Succeeded++
				default:
					result.Processed++
					result.Failed++
					if len(result.Errors) < s.config.MaxReportedErrors {
						result.Errors = append(result.Errors, ItemError{AttemptID: id, Error: errSummary})
					}
				}
				mu.Unlock()
			}
		}()
	}

	for _, attempt := range due {
		jobs <- attempt.ID
	}
	close(jobs)
	wg.Wait()

	s.logger.Info("retry batch finished",
		"processed", result.Processed,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"skipped", result.Skipped,
	)
	return result, nil
}

// ProcessAttempt claims and sends a single attempt. It is the immediate
// synchronous path used right after creation.
func (s *Scheduler) ProcessAttempt(ctx context.Context, id uuid.UUID) error {
	ok, skipped, errSummary := s.processOne(ctx, id)
	if skipped {
		return repository.ErrStaleAttempt
	}
	if !ok {
		return fmt.Errorf("send failed: %s", errSummary)
	}
	return nil
}

// processOne runs one claim→route→send→apply cycle. Returns skipped=true
// when the claim was lost to a concurrent worker or the attempt is no longer
// retryable; that is not a failure.
func (s *Scheduler) processOne(ctx context.Context, id uuid.UUID) (ok, skipped bool, errSummary string) {
	defer func() {
		if p := recover(); p != nil {
			ok, skipped = false, false
			errSummary = fmt.Sprintf("panic while processing attempt: %v", p)
			s.logger.Error(nil, "recovered from panic in send cycle", "attempt_id", id.String())
		}
	}()

	attempt, err := s.attempts.ClaimForSending(ctx, id, time.Now())
	if err != nil {
		if err == repository.ErrStaleAttempt {
			return false, true, ""
		}
		return false, false, err.Error()
	}

	region, err := s.router.Route(instancerouter.Request{
		SenderRole:     strVal(attempt.SenderRole),
		Phone:          attempt.Phone,
		Kind:           attempt.Kind,
		RegionOverride: strVal(attempt.RegionOverride),
	})
	if err != nil {
		// No delivery client call is consumed for an unroutable attempt.
		s.metrics.RoutingFailures.Inc()
		return false, false, s.applyFailure(ctx, attempt, err.Error(), "no_available_region")
	}

	res := s.client.Send(ctx, region, attempt.Phone, attempt.Body, attempt.Kind)
	if !res.Success() {
		return false, false, s.applyFailure(ctx, attempt, res.ErrorMessage, res.ErrorCode())
	}

	now := time.Now()
	if err := attempt.MarkSent(res.ProviderMessageID, res.RawResponse, now); err != nil {
		return false, false, err.Error()
	}
	if err := s.attempts.Update(ctx, attempt, model.AttemptStatusSending); err != nil {
		if err == repository.ErrStaleAttempt {
			// Cancelled (or otherwise moved) while we were sending; the
			// stale result must not resurrect the row.
			s.logger.Warn("dropping stale send result", "attempt_id", attempt.ID.String())
			return false, true, ""
		}
		return false, false, err.Error()
	}

	s.metrics.AttemptsSent.Inc()
	return true, false, ""
}

func (s *Scheduler) applyFailure(ctx context.Context, attempt *model.MessageAttempt, message, code string) string {
	now := time.Now()
	if err := attempt.MarkFailed(message, code, false, now); err != nil {
		return err.Error()
	}
	if err := s.attempts.Update(ctx, attempt, model.AttemptStatusSending); err != nil {
		if err == repository.ErrStaleAttempt {
			s.logger.Warn("dropping stale failure result", "attempt_id", attempt.ID.String())
			return fmt.Sprintf("%s (result dropped: status moved)", message)
		}
		return err.Error()
	}

	s.metrics.AttemptsFailed.Inc()
	if attempt.Status == model.AttemptStatusFailedFinal {
		s.metrics.AttemptsExhausted.Inc()
		s.logger.Warn("attempt exhausted",
			"attempt_id", attempt.ID.String(),
			"attempt_count", attempt.AttemptCount,
			"error_code", code,
		)
	}
	return message
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
