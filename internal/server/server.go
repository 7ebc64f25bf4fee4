package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/you/intake/internal/domain"
	"github.com/you/intake/internal/ratelimit"
	"github.com/you/intake/internal/storage"
	"github.com/you/intake/internal/upload"
)

type JobStore interface {
	CreateJob(ctx context.Context, p storage.CreateJobParams) (*domain.IngestionJob, bool, error)
	GetJob(ctx context.Context, id string) (*domain.IngestionJob, error)
	GetJobByKey(ctx context.Context, tenantID, key string) (*domain.IngestionJob, error)
	ListJobs(ctx context.Context, p storage.ListJobsParams) ([]*domain.IngestionJob, error)
	UpdateStatus(ctx context.Context, id string, to domain.Status, message, errDetail *string) error
}

type Queue interface {
	Enqueue(ctx context.Context, tenant, member string, runAt time.Time) error
}

type Authenticator interface {
	Resolve(ctx context.Context, credential string) (*domain.APIClient, error)
}

type Limiter interface {
	Admit(ctx context.Context, clientID string) (ratelimit.Decision, error)
}

type Guard interface {
	Acquire(ctx context.Context, client *domain.APIClient, lockKey string) (release func(), err error)
}

type SessionIssuer interface {
	Create(ctx context.Context, client *domain.APIClient, spec upload.FileSpec) (*domain.UploadSession, bool, error)
	Get(ctx context.Context, client *domain.APIClient, sessionID string) (*domain.UploadSession, error)
	Consume(ctx context.Context, client *domain.APIClient, sessionID string) (*domain.UploadSession, error)
}

type BlobStore interface {
	Save(ctx context.Context, path string, r io.Reader, max int64) (int64, error)
}

type Notifier interface {
	Notify(ctx context.Context, job *domain.IngestionJob) error
}

type Config interface {
	AdmitTimeout(ctx context.Context) time.Duration
}

// Server is the caller-facing ingestion API.
type Server struct {
	jobs     JobStore
	q        Queue
	auth     Authenticator
	limiter  Limiter
	guard    Guard
	issuer   SessionIssuer
	blobs    BlobStore
	notifier Notifier
	cfg      Config
	log      *zap.Logger
}

func New(jobs JobStore, q Queue, auth Authenticator, limiter Limiter, guard Guard,
	issuer SessionIssuer, blobs BlobStore, notifier Notifier, cfg Config, log *zap.Logger) *Server {
	return &Server{
		jobs: jobs, q: q, auth: auth, limiter: limiter, guard: guard,
		issuer: issuer, blobs: blobs, notifier: notifier, cfg: cfg, log: log,
	}
}

func (s *Server) Router() http.Handler {
	rtr := chi.NewRouter()
	rtr.Use(middleware.Recoverer)
	rtr.Use(s.requestLogger)

	rtr.Route("/v1", func(v1 chi.Router) {
		v1.Use(s.authenticate)
		v1.Use(s.throttle)

		v1.Post("/ingestions", s.createIngestion)
		v1.Get("/ingestions", s.listIngestions)
		v1.Get("/ingestions/{jobID}", s.getIngestion)
		v1.Post("/ingestions/{jobID}/cancel", s.cancelIngestion)

		v1.Post("/uploads", s.createUpload)
		v1.Put("/uploads/{sessionID}", s.putUpload)
	})
	return rtr
}
