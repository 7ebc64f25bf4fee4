package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/intake/internal/backoff"
	"github.com/you/intake/internal/domain"
	"github.com/you/intake/internal/extract"
)

type JobStore interface {
	GetJob(ctx context.Context, id string) (*domain.IngestionJob, error)
	UpdateStatus(ctx context.Context, id string, to domain.Status, message, errDetail *string) error
	StartAttempt(ctx context.Context, id string) error
	MarkRetry(ctx context.Context, id string, message *string) (bool, error)
	SetCertificate(ctx context.Context, id, certificateID string) error
}

type Queue interface {
	Enqueue(ctx context.Context, tenant, member string, runAt time.Time) error
	Dequeue(ctx context.Context, tenants []string, block time.Duration) (tenant, member string, err error)
}

type TenantSource interface {
	TenantIDs(ctx context.Context) ([]string, error)
}

// RecordCreator is the domain-record collaborator: extracted fields in,
// durable entity identifier out.
type RecordCreator interface {
	CreateCertificate(ctx context.Context, tenantID, propertyRef, documentType string, fields []byte) (string, error)
}

type BlobChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

type Notifier interface {
	Notify(ctx context.Context, job *domain.IngestionJob) error
}

type Config interface {
	MaxAttempts(ctx context.Context) int
	BackoffBase(ctx context.Context) time.Duration
	BackoffCap(ctx context.Context) time.Duration
	ExtractTimeout(ctx context.Context) time.Duration
}

// Runner drives queued jobs through the state machine. Every transition is
// a conditional update, so a cancellation racing the worker wins and the
// worker observes it at the next boundary.
type Runner struct {
	store     JobStore
	q         Queue
	tenants   TenantSource
	extractor extract.Extractor
	records   RecordCreator
	blobs     BlobChecker
	notifier  Notifier
	cfg       Config
	log       *zap.Logger
}

func NewRunner(store JobStore, q Queue, tenants TenantSource, extractor extract.Extractor,
	records RecordCreator, blobs BlobChecker, notifier Notifier, cfg Config, log *zap.Logger) *Runner {
	return &Runner{
		store: store, q: q, tenants: tenants, extractor: extractor,
		records: records, blobs: blobs, notifier: notifier, cfg: cfg, log: log,
	}
}

func (w *Runner) Run(ctx context.Context) error {
	var tenants []string
	var refreshed time.Time
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(refreshed) > 30*time.Second {
			if t, err := w.tenants.TenantIDs(ctx); err == nil {
				tenants = t
				refreshed = time.Now()
			}
		}
		if len(tenants) == 0 {
			time.Sleep(time.Second)
			continue
		}

		tenant, jobID, err := w.q.Dequeue(ctx, tenants, 5*time.Second)
		if errors.Is(err, r.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Warn("job dequeue failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		rotateTenants(tenants, tenant)

		if err := w.Process(ctx, tenant, jobID); err != nil {
			w.log.Error("job processing errored", zap.String("job_id", jobID), zap.Error(err))
		}
	}
}

// errHalted signals that the job's status changed underneath the worker
// (cancelled, or claimed by another worker); the current pass stops without
// treating it as a failure.
var errHalted = errors.New("job halted")

// Process resumes a job from its current status and runs it forward until
// it parks (retry scheduled) or reaches a terminal state.
func (w *Runner) Process(ctx context.Context, tenant, jobID string) error {
	job, err := w.store.GetJob(ctx, jobID)
	if errors.Is(err, domain.ErrNotFound) {
		w.log.Warn("queued job no longer exists", zap.String("job_id", jobID))
		return nil
	}
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}
	if err := w.store.StartAttempt(ctx, job.ID); err != nil {
		return err
	}

	log := w.log.With(zap.String("job_id", job.ID), zap.String("tenant", tenant),
		zap.Int("attempt", job.Attempt))

	var fields map[string]any
	for !job.Status.Terminal() {
		var stepErr error
		switch job.Status {
		case domain.StatusQueued:
			stepErr = w.advance(ctx, job, domain.StatusUploading, nil)

		case domain.StatusUploading:
			ok, err := w.blobs.Exists(ctx, job.StoragePath)
			if err != nil {
				stepErr = w.retryLater(ctx, tenant, job, "blob store unavailable")
			} else if !ok {
				stepErr = w.retryLater(ctx, tenant, job, "staged file not yet available")
			} else {
				stepErr = w.advance(ctx, job, domain.StatusExtracting, nil)
			}

		case domain.StatusExtracting:
			res, err := w.runExtraction(ctx, job)
			if err != nil {
				stepErr = w.classifyFailure(ctx, tenant, job, err)
			} else {
				fields = res.Fields
				stepErr = w.advance(ctx, job, domain.StatusProcessing, nil)
			}

		case domain.StatusProcessing:
			// A job resumed here after a crash lost the in-memory result;
			// extraction is idempotent, run it again.
			if fields == nil {
				res, err := w.runExtraction(ctx, job)
				if err != nil {
					stepErr = w.classifyFailure(ctx, tenant, job, err)
					break
				}
				fields = res.Fields
			}
			raw, err := json.Marshal(fields)
			if err != nil {
				stepErr = w.failTerminal(ctx, job, "extracted data could not be encoded")
				break
			}
			certID, err := w.records.CreateCertificate(ctx, job.TenantID, job.PropertyRef, job.DocumentType, raw)
			if err != nil {
				stepErr = w.retryLater(ctx, tenant, job, "record creation failed")
				break
			}
			if err := w.store.SetCertificate(ctx, job.ID, certID); err != nil {
				stepErr = err
				break
			}
			job.CertificateID = &certID
			msg := "certificate created"
			stepErr = w.advance(ctx, job, domain.StatusComplete, &msg)

		default:
			return errors.Errorf("job %s in unexpected status %s", job.ID, job.Status)
		}

		if errors.Is(stepErr, errHalted) {
			log.Info("job halted mid-flight", zap.String("status", string(job.Status)))
			return nil
		}
		if stepErr != nil {
			return stepErr
		}
		if job.Status == domain.StatusQueued {
			// Parked for retry; a later dequeue picks it back up.
			return nil
		}
	}

	if job.Status == domain.StatusComplete {
		log.Info("job complete")
		return w.notifier.Notify(ctx, job)
	}
	return nil
}

func (w *Runner) runExtraction(ctx context.Context, job *domain.IngestionJob) (*extract.Result, error) {
	ectx, cancel := context.WithTimeout(ctx, w.cfg.ExtractTimeout(ctx))
	defer cancel()
	return w.extractor.Extract(ectx, job)
}

// advance moves the job forward one state. A zero-row update means another
// actor moved it first; that ends this pass.
func (w *Runner) advance(ctx context.Context, job *domain.IngestionJob, to domain.Status, message *string) error {
	err := w.store.UpdateStatus(ctx, job.ID, to, message, nil)
	var invalid *domain.InvalidTransitionError
	if errors.As(err, &invalid) {
		return errHalted
	}
	if err != nil {
		return err
	}
	job.Status = to
	job.StatusMessage = message
	return nil
}

func (w *Runner) classifyFailure(ctx context.Context, tenant string, job *domain.IngestionJob, err error) error {
	if f, ok := extract.AsFailure(err); ok {
		if f.Retryable {
			return w.retryLater(ctx, tenant, job, f.Message)
		}
		return w.failTerminal(ctx, job, f.Message)
	}
	return w.retryLater(ctx, tenant, job, "extraction failed")
}

// retryLater requeues a transient failure with backoff, converting to
// FAILED once the attempt ceiling is reached.
func (w *Runner) retryLater(ctx context.Context, tenant string, job *domain.IngestionJob, message string) error {
	if job.Attempt+1 >= w.cfg.MaxAttempts(ctx) {
		return w.failTerminal(ctx, job, message)
	}
	requeued, err := w.store.MarkRetry(ctx, job.ID, &message)
	if err != nil {
		return err
	}
	if !requeued {
		return errHalted
	}
	job.Status = domain.StatusQueued
	job.Attempt++
	delay := backoff.Delay(job.Attempt, w.cfg.BackoffBase(ctx), w.cfg.BackoffCap(ctx))
	return w.q.Enqueue(ctx, tenant, job.ID, time.Now().Add(delay))
}

func (w *Runner) failTerminal(ctx context.Context, job *domain.IngestionJob, detail string) error {
	err := w.store.UpdateStatus(ctx, job.ID, domain.StatusFailed, nil, &detail)
	var invalid *domain.InvalidTransitionError
	if errors.As(err, &invalid) {
		return errHalted
	}
	if err != nil {
		return err
	}
	job.Status = domain.StatusFailed
	job.ErrorDetail = &detail
	w.log.Warn("job failed", zap.String("job_id", job.ID), zap.String("detail", detail))
	return w.notifier.Notify(ctx, job)
}

func rotateTenants(tenants []string, served string) {
	for i, t := range tenants {
		if t == served {
			copy(tenants[i:], tenants[i+1:])
			tenants[len(tenants)-1] = served
			return
		}
	}
}
