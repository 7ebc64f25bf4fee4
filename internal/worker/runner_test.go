package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/you/intake/internal/domain"
	"github.com/you/intake/internal/extract"
)

type fakeStore struct {
	jobs     map[string]*domain.IngestionJob
	onUpdate func(id string, to domain.Status)
}

func newFakeStore(jobs ...*domain.IngestionJob) *fakeStore {
	m := map[string]*domain.IngestionJob{}
	for _, j := range jobs {
		m[j.ID] = j
	}
	return &fakeStore{jobs: m}
}

func (f *fakeStore) GetJob(_ context.Context, id string) (*domain.IngestionJob, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *j
	return &copied, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, id string, to domain.Status, message, errDetail *string) error {
	j := f.jobs[id]
	if !domain.CanTransition(j.Status, to) {
		return &domain.InvalidTransitionError{JobID: id, From: j.Status, To: to}
	}
	j.Status = to
	j.StatusMessage = message
	j.ErrorDetail = errDetail
	if f.onUpdate != nil {
		f.onUpdate(id, to)
	}
	return nil
}

func (f *fakeStore) StartAttempt(_ context.Context, id string) error {
	now := time.Now()
	f.jobs[id].LastAttemptAt = &now
	return nil
}

func (f *fakeStore) MarkRetry(_ context.Context, id string, message *string) (bool, error) {
	j := f.jobs[id]
	if j.Status.Terminal() {
		return false, nil
	}
	j.Status = domain.StatusQueued
	j.Attempt++
	j.StatusMessage = message
	return true, nil
}

func (f *fakeStore) SetCertificate(_ context.Context, id, certificateID string) error {
	f.jobs[id].CertificateID = &certificateID
	return nil
}

type enqueued struct {
	tenant, member string
	runAt          time.Time
}

type fakeQueue struct{ items []enqueued }

func (f *fakeQueue) Enqueue(_ context.Context, tenant, member string, runAt time.Time) error {
	f.items = append(f.items, enqueued{tenant, member, runAt})
	return nil
}

func (f *fakeQueue) Dequeue(context.Context, []string, time.Duration) (string, string, error) {
	panic("not used")
}

type fakeExtractor struct {
	calls   int
	results []func() (*extract.Result, error)
}

func (f *fakeExtractor) Extract(context.Context, *domain.IngestionJob) (*extract.Result, error) {
	i := f.calls
	f.calls++
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return f.results[i]()
}

func extractOK(fields map[string]any) func() (*extract.Result, error) {
	return func() (*extract.Result, error) { return &extract.Result{Fields: fields}, nil }
}

func extractFail(retryable bool, msg string) func() (*extract.Result, error) {
	return func() (*extract.Result, error) {
		return nil, &extract.Failure{Retryable: retryable, Message: msg}
	}
}

type fakeRecords struct{ created int }

func (f *fakeRecords) CreateCertificate(context.Context, string, string, string, []byte) (string, error) {
	f.created++
	return "cert-1", nil
}

type fakeBlobs struct{ present bool }

func (f *fakeBlobs) Exists(context.Context, string) (bool, error) { return f.present, nil }

type fakeNotifier struct{ notified []*domain.IngestionJob }

func (f *fakeNotifier) Notify(_ context.Context, job *domain.IngestionJob) error {
	copied := *job
	f.notified = append(f.notified, &copied)
	return nil
}

type runnerConfig struct{ maxAttempts int }

func (c runnerConfig) MaxAttempts(context.Context) int             { return c.maxAttempts }
func (c runnerConfig) BackoffBase(context.Context) time.Duration   { return time.Millisecond }
func (c runnerConfig) BackoffCap(context.Context) time.Duration    { return 10 * time.Millisecond }
func (c runnerConfig) ExtractTimeout(context.Context) time.Duration { return time.Second }
func (c runnerConfig) StaleAfter(context.Context) time.Duration     { return 10 * time.Minute }
func (c runnerConfig) WebhookAttempts(context.Context) int          { return 5 }

type harness struct {
	store     *fakeStore
	q         *fakeQueue
	extractor *fakeExtractor
	records   *fakeRecords
	blobs     *fakeBlobs
	notifier  *fakeNotifier
	runner    *Runner
}

func newHarness(t *testing.T, job *domain.IngestionJob, extractor *fakeExtractor, maxAttempts int) *harness {
	t.Helper()
	h := &harness{
		store:     newFakeStore(job),
		q:         &fakeQueue{},
		extractor: extractor,
		records:   &fakeRecords{},
		blobs:     &fakeBlobs{present: true},
		notifier:  &fakeNotifier{},
	}
	h.runner = NewRunner(h.store, h.q, nil, h.extractor, h.records, h.blobs,
		h.notifier, runnerConfig{maxAttempts: maxAttempts}, zap.NewNop())
	return h
}

func queuedJob() *domain.IngestionJob {
	cb := "https://example.com/hook"
	return &domain.IngestionJob{
		ID:           "j1",
		TenantID:     "t1",
		ClientID:     "c1",
		PropertyRef:  "prop-9",
		DocumentType: "gas_safety",
		FileName:     "cert.pdf",
		StoragePath:  "t1/x/cert.pdf",
		CallbackURL:  &cb,
		Status:       domain.StatusQueued,
	}
}

func TestProcessHappyPath(t *testing.T) {
	h := newHarness(t, queuedJob(), &fakeExtractor{results: []func() (*extract.Result, error){
		extractOK(map[string]any{"expiry": "2027-01-31"}),
	}}, 3)

	require.NoError(t, h.runner.Process(context.Background(), "t1", "j1"))

	job := h.store.jobs["j1"]
	assert.Equal(t, domain.StatusComplete, job.Status)
	require.NotNil(t, job.CertificateID)
	assert.Equal(t, "cert-1", *job.CertificateID)
	assert.Equal(t, 1, h.records.created)
	assert.Empty(t, h.q.items, "nothing requeued")

	require.Len(t, h.notifier.notified, 1)
	assert.Equal(t, domain.StatusComplete, h.notifier.notified[0].Status)
}

func TestProcessRetryableFailureRequeuesWithBackoff(t *testing.T) {
	h := newHarness(t, queuedJob(), &fakeExtractor{results: []func() (*extract.Result, error){
		extractFail(true, "extraction service unreachable"),
	}}, 3)

	require.NoError(t, h.runner.Process(context.Background(), "t1", "j1"))

	job := h.store.jobs["j1"]
	assert.Equal(t, domain.StatusQueued, job.Status)
	assert.Equal(t, 1, job.Attempt)
	require.Len(t, h.q.items, 1)
	assert.Equal(t, "j1", h.q.items[0].member)
	assert.True(t, h.q.items[0].runAt.After(time.Now().Add(-time.Second)))
	assert.Empty(t, h.notifier.notified, "transient failures do not notify")
}

func TestProcessTimeoutExhaustsCeiling(t *testing.T) {
	h := newHarness(t, queuedJob(), &fakeExtractor{results: []func() (*extract.Result, error){
		extractFail(true, "extraction timeout"),
	}}, 3)

	// three passes, ceiling three: two requeues then FAILED, no fourth call
	for i := 0; i < 3; i++ {
		require.NoError(t, h.runner.Process(context.Background(), "t1", "j1"))
	}

	job := h.store.jobs["j1"]
	assert.Equal(t, domain.StatusFailed, job.Status)
	require.NotNil(t, job.ErrorDetail)
	assert.Contains(t, *job.ErrorDetail, "timeout")
	assert.Equal(t, 3, h.extractor.calls)
	assert.Len(t, h.q.items, 2, "only the two pre-ceiling retries requeued")

	require.Len(t, h.notifier.notified, 1)
	assert.Equal(t, domain.StatusFailed, h.notifier.notified[0].Status)

	// a stray extra pass must not resurrect the failed job
	require.NoError(t, h.runner.Process(context.Background(), "t1", "j1"))
	assert.Equal(t, 3, h.extractor.calls)
}

func TestProcessPermanentFailureFailsImmediately(t *testing.T) {
	h := newHarness(t, queuedJob(), &fakeExtractor{results: []func() (*extract.Result, error){
		extractFail(false, "document is not a gas safety certificate"),
	}}, 3)

	require.NoError(t, h.runner.Process(context.Background(), "t1", "j1"))

	job := h.store.jobs["j1"]
	assert.Equal(t, domain.StatusFailed, job.Status)
	require.NotNil(t, job.ErrorDetail)
	assert.Equal(t, "document is not a gas safety certificate", *job.ErrorDetail)
	assert.Equal(t, 0, job.Attempt, "permanent failures are not retried")
	assert.Empty(t, h.q.items)
}

func TestProcessObservesCancellationAtBoundary(t *testing.T) {
	h := newHarness(t, queuedJob(), &fakeExtractor{results: []func() (*extract.Result, error){
		extractOK(nil),
	}}, 3)

	// cancel lands while the worker is mid-step; the next transition loses
	h.store.onUpdate = func(id string, to domain.Status) {
		if to == domain.StatusUploading {
			h.store.jobs[id].Status = domain.StatusCancelled
		}
	}

	require.NoError(t, h.runner.Process(context.Background(), "t1", "j1"))

	assert.Equal(t, domain.StatusCancelled, h.store.jobs["j1"].Status,
		"a later step never overwrites CANCELLED")
	assert.Empty(t, h.notifier.notified, "the worker does not notify for a cancel it lost to")
}

func TestProcessResumesFromIntermediateStatus(t *testing.T) {
	job := queuedJob()
	job.Status = domain.StatusExtracting
	h := newHarness(t, job, &fakeExtractor{results: []func() (*extract.Result, error){
		extractOK(map[string]any{"score": 1}),
	}}, 3)

	require.NoError(t, h.runner.Process(context.Background(), "t1", "j1"))

	assert.Equal(t, domain.StatusComplete, h.store.jobs["j1"].Status)
	assert.Equal(t, 1, h.extractor.calls)
}

func TestProcessSkipsTerminalJob(t *testing.T) {
	job := queuedJob()
	job.Status = domain.StatusComplete
	h := newHarness(t, job, &fakeExtractor{results: []func() (*extract.Result, error){
		extractOK(nil),
	}}, 3)

	require.NoError(t, h.runner.Process(context.Background(), "t1", "j1"))
	assert.Equal(t, 0, h.extractor.calls)
	assert.Empty(t, h.notifier.notified)
}

func TestProcessMissingBlobRequeues(t *testing.T) {
	h := newHarness(t, queuedJob(), &fakeExtractor{results: []func() (*extract.Result, error){
		extractOK(nil),
	}}, 3)
	h.blobs.present = false

	require.NoError(t, h.runner.Process(context.Background(), "t1", "j1"))

	job := h.store.jobs["j1"]
	assert.Equal(t, domain.StatusQueued, job.Status)
	assert.Equal(t, 1, job.Attempt)
	assert.Equal(t, 0, h.extractor.calls)
}
