package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/intake/internal/backoff"
	"github.com/you/intake/internal/domain"
)

type DeliveryLog interface {
	InsertDelivery(ctx context.Context, d *domain.WebhookDelivery) error
}

type ClientSource interface {
	GetClient(ctx context.Context, id string) (*domain.APIClient, error)
}

type Config interface {
	WebhookAttempts(ctx context.Context) int
	WebhookTimeout(ctx context.Context) time.Duration
	BackoffBase(ctx context.Context) time.Duration
	BackoffCap(ctx context.Context) time.Duration
}

// Deliverer posts terminal-outcome events to caller callback URLs. Every
// attempt lands in the delivery log whatever its outcome; failures are
// retried on the delivery queue up to the configured ceiling and never
// touch the job's own status.
type Deliverer struct {
	deliveries DeliveryLog
	clients    ClientSource
	q          Queue
	cfg        Config
	httpc      *http.Client
	log        *zap.Logger
}

func NewDeliverer(deliveries DeliveryLog, clients ClientSource, q Queue, cfg Config, log *zap.Logger) *Deliverer {
	return &Deliverer{
		deliveries: deliveries,
		clients:    clients,
		q:          q,
		cfg:        cfg,
		httpc:      &http.Client{},
		log:        log,
	}
}

// BuildEvent shapes the caller-visible payload. ErrorDetail is already
// caller-safe; nothing internal crosses this boundary.
func BuildEvent(job *domain.IngestionJob) domain.WebhookEvent {
	return domain.WebhookEvent{
		Event:        "ingestion." + string(job.Status),
		SubmissionID: job.ID,
		Status:       job.Status,
		EntityID:     job.CertificateID,
		Error:        job.ErrorDetail,
	}
}

// Deliver runs one attempt for a job and schedules the next one on failure.
func (d *Deliverer) Deliver(ctx context.Context, job *domain.IngestionJob, attempt int) error {
	if job.CallbackURL == nil || *job.CallbackURL == "" {
		return nil
	}
	client, err := d.clients.GetClient(ctx, job.ClientID)
	if err != nil {
		return errors.Wrap(err, "load client for delivery")
	}

	payload, err := json.Marshal(BuildEvent(job))
	if err != nil {
		return errors.Wrap(err, "marshal webhook payload")
	}

	statusCode, detail, posted := d.post(ctx, client, *job.CallbackURL, payload)

	entry := &domain.WebhookDelivery{
		JobID:      job.ID,
		TenantID:   job.TenantID,
		URL:        *job.CallbackURL,
		AuthScheme: client.WebhookAuth,
		Payload:    payload,
		Attempt:    attempt,
		StatusCode: statusCode,
		LatencyMS:  posted.Milliseconds(),
		Outcome:    domain.DeliveryFailure,
		Detail:     detail,
	}
	success := statusCode != nil && *statusCode >= 200 && *statusCode < 300
	if success {
		entry.Outcome = domain.DeliverySuccess
	}
	if err := d.deliveries.InsertDelivery(ctx, entry); err != nil {
		return err
	}

	if success {
		d.log.Info("webhook delivered",
			zap.String("job_id", job.ID), zap.Int("attempt", attempt))
		return nil
	}

	ceiling := d.cfg.WebhookAttempts(ctx)
	if attempt >= ceiling {
		d.log.Warn("webhook retries exhausted",
			zap.String("job_id", job.ID), zap.Int("attempts", attempt))
		return nil
	}
	delay := backoff.Delay(attempt, d.cfg.BackoffBase(ctx), d.cfg.BackoffCap(ctx))
	return d.q.Enqueue(ctx, job.TenantID, Member(job.ID, attempt+1), time.Now().Add(delay))
}

// post performs the HTTP call and reports status, failure detail and
// latency. A nil status code means the destination was unreachable.
func (d *Deliverer) post(ctx context.Context, client *domain.APIClient, url string, payload []byte) (*int, *string, time.Duration) {
	cctx, cancel := context.WithTimeout(ctx, d.cfg.WebhookTimeout(ctx))
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		msg := "invalid callback URL"
		return nil, &msg, 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Intake-Signature", "sha256="+sign(client.SigningSecret, payload))
	switch client.WebhookAuth {
	case domain.AuthAPIKey:
		if client.WebhookToken != nil {
			req.Header.Set("X-API-Key", *client.WebhookToken)
		}
	case domain.AuthBearer:
		if client.WebhookToken != nil {
			req.Header.Set("Authorization", "Bearer "+*client.WebhookToken)
		}
	}

	start := time.Now()
	resp, err := d.httpc.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		msg := "destination unreachable"
		if cctx.Err() != nil {
			msg = "delivery timeout"
		}
		return nil, &msg, elapsed
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return &code, nil, elapsed
	}
	msg := "destination returned " + resp.Status
	return &code, &msg, elapsed
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
