package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/you/intake/internal/domain"
)

type fakeDeliveryLog struct{ entries []*domain.WebhookDelivery }

func (f *fakeDeliveryLog) InsertDelivery(_ context.Context, d *domain.WebhookDelivery) error {
	copied := *d
	f.entries = append(f.entries, &copied)
	return nil
}

type fakeClientSource struct{ client *domain.APIClient }

func (f *fakeClientSource) GetClient(context.Context, string) (*domain.APIClient, error) {
	return f.client, nil
}

type enqueued struct {
	tenant, member string
	runAt          time.Time
}

type fakeDeliveryQueue struct{ items []enqueued }

func (f *fakeDeliveryQueue) Enqueue(_ context.Context, tenant, member string, runAt time.Time) error {
	f.items = append(f.items, enqueued{tenant, member, runAt})
	return nil
}

type delivererConfig struct{ attempts int }

func (c delivererConfig) WebhookAttempts(context.Context) int          { return c.attempts }
func (c delivererConfig) WebhookTimeout(context.Context) time.Duration { return 2 * time.Second }
func (c delivererConfig) BackoffBase(context.Context) time.Duration    { return time.Millisecond }
func (c delivererConfig) BackoffCap(context.Context) time.Duration     { return 10 * time.Millisecond }

func bearerClient() *domain.APIClient {
	token := "tok-1"
	return &domain.APIClient{
		ID:            "c1",
		TenantID:      "t1",
		SigningSecret: "hush",
		WebhookAuth:   domain.AuthBearer,
		WebhookToken:  &token,
	}
}

func completeJob(url string) *domain.IngestionJob {
	cert := "cert-1"
	return &domain.IngestionJob{
		ID:            "j1",
		TenantID:      "t1",
		ClientID:      "c1",
		Status:        domain.StatusComplete,
		CallbackURL:   &url,
		CertificateID: &cert,
	}
}

func newDeliverer(attempts int) (*fakeDeliveryLog, *fakeDeliveryQueue, *Deliverer) {
	log := &fakeDeliveryLog{}
	q := &fakeDeliveryQueue{}
	d := NewDeliverer(log, &fakeClientSource{client: bearerClient()}, q,
		delivererConfig{attempts: attempts}, zap.NewNop())
	return log, q, d
}

func TestDeliverRetriesThenSucceeds(t *testing.T) {
	var hits int
	var gotBody []byte
	var gotSig, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Intake-Signature")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	log, q, d := newDeliverer(5)
	job := completeJob(srv.URL)

	require.NoError(t, d.Deliver(context.Background(), job, 1))
	require.Len(t, q.items, 1, "failed attempt schedules a retry")
	jobID, attempt, ok := ParseMember(q.items[0].member)
	require.True(t, ok)
	assert.Equal(t, "j1", jobID)
	assert.Equal(t, 2, attempt)

	require.NoError(t, d.Deliver(context.Background(), job, attempt))
	assert.Len(t, q.items, 1, "success schedules nothing further")

	require.Len(t, log.entries, 2, "every attempt is logged")
	first, second := log.entries[0], log.entries[1]
	assert.Equal(t, domain.DeliveryFailure, first.Outcome)
	require.NotNil(t, first.StatusCode)
	assert.Equal(t, http.StatusInternalServerError, *first.StatusCode)
	assert.Equal(t, 1, first.Attempt)
	assert.Equal(t, domain.DeliverySuccess, second.Outcome)
	assert.Equal(t, 2, second.Attempt)

	assert.Equal(t, "Bearer tok-1", gotAuth)
	mac := hmac.New(sha256.New, []byte("hush"))
	mac.Write(gotBody)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), gotSig)

	var event domain.WebhookEvent
	require.NoError(t, json.Unmarshal(gotBody, &event))
	assert.Equal(t, "ingestion.complete", event.Event)
	assert.Equal(t, "j1", event.SubmissionID)
	require.NotNil(t, event.EntityID)
	assert.Equal(t, "cert-1", *event.EntityID)
}

func TestDeliverStopsAtCeiling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	log, q, d := newDeliverer(2)
	job := completeJob(srv.URL)

	require.NoError(t, d.Deliver(context.Background(), job, 2))
	assert.Empty(t, q.items, "at the ceiling the failure is final")
	require.Len(t, log.entries, 1)
	assert.Equal(t, domain.DeliveryFailure, log.entries[0].Outcome)
}

func TestDeliverUnreachableDestinationLogsAndRetries(t *testing.T) {
	log, q, d := newDeliverer(5)
	job := completeJob("http://127.0.0.1:1/hook")

	require.NoError(t, d.Deliver(context.Background(), job, 1))
	require.Len(t, log.entries, 1)
	assert.Nil(t, log.entries[0].StatusCode)
	require.NotNil(t, log.entries[0].Detail)
	assert.Len(t, q.items, 1)
}

func TestDeliverSkipsJobsWithoutCallback(t *testing.T) {
	log, q, d := newDeliverer(5)
	job := completeJob("")
	job.CallbackURL = nil

	require.NoError(t, d.Deliver(context.Background(), job, 1))
	assert.Empty(t, log.entries)
	assert.Empty(t, q.items)
}

func TestMemberRoundTrip(t *testing.T) {
	id, attempt, ok := ParseMember(Member("job-9", 4))
	require.True(t, ok)
	assert.Equal(t, "job-9", id)
	assert.Equal(t, 4, attempt)

	for _, bad := range []string{"", "job-9", "@3", "job@zero", "job@0", "job@-1"} {
		_, _, ok := ParseMember(bad)
		assert.False(t, ok, bad)
	}
}
