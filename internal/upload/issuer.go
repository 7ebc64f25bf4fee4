package upload

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/you/intake/internal/domain"
	"github.com/you/intake/internal/storage"
)

type SessionStore interface {
	CreateSession(ctx context.Context, p storage.CreateSessionParams) (*domain.UploadSession, bool, error)
	GetSession(ctx context.Context, id string) (*domain.UploadSession, error)
	ConsumeSession(ctx context.Context, id string) (*domain.UploadSession, error)
}

type Config interface {
	SessionTTL(ctx context.Context) time.Duration
	MaxFileBytes(ctx context.Context) int64
}

// FileSpec is the caller's declaration of what it intends to stage.
type FileSpec struct {
	FileName       string
	ContentType    string
	SizeBytes      int64
	IdempotencyKey *string
}

// Issuer hands out short-lived, single-use staging handles. Resubmitting an
// idempotency key while its session is still pending returns that session
// instead of allocating a second storage target.
type Issuer struct {
	sessions SessionStore
	cfg      Config
}

func NewIssuer(sessions SessionStore, cfg Config) *Issuer {
	return &Issuer{sessions: sessions, cfg: cfg}
}

func (i *Issuer) Create(ctx context.Context, client *domain.APIClient, spec FileSpec) (*domain.UploadSession, bool, error) {
	maxBytes := i.cfg.MaxFileBytes(ctx)
	if spec.SizeBytes <= 0 || spec.SizeBytes > maxBytes {
		return nil, false, &domain.AdmissionError{
			Code:    domain.CodeFileTooLarge,
			Message: fmt.Sprintf("declared size must be between 1 and %d bytes", maxBytes),
		}
	}
	if spec.FileName == "" {
		return nil, false, &domain.AdmissionError{
			Code:    domain.CodeInvalidDocumentType,
			Message: "file name is required",
		}
	}
	return i.sessions.CreateSession(ctx, storage.CreateSessionParams{
		TenantID:       client.TenantID,
		ClientID:       client.ID,
		FileName:       spec.FileName,
		ContentType:    spec.ContentType,
		SizeBytes:      spec.SizeBytes,
		StoragePath:    StoragePath(client.TenantID, spec.FileName),
		IdempotencyKey: spec.IdempotencyKey,
		TTL:            i.cfg.SessionTTL(ctx),
	})
}

// Get returns a caller's own session.
func (i *Issuer) Get(ctx context.Context, client *domain.APIClient, sessionID string) (*domain.UploadSession, error) {
	sess, err := i.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.TenantID != client.TenantID || sess.ClientID != client.ID {
		return nil, domain.ErrForbidden
	}
	return sess, nil
}

// Consume marks a session used and returns it; expired or already consumed
// sessions surface their sentinel instead of a storage target.
func (i *Issuer) Consume(ctx context.Context, client *domain.APIClient, sessionID string) (*domain.UploadSession, error) {
	sess, err := i.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.TenantID != client.TenantID || sess.ClientID != client.ID {
		return nil, domain.ErrForbidden
	}
	return i.sessions.ConsumeSession(ctx, sessionID)
}

// StoragePath allocates an opaque blob location. The UUID segment keeps
// concurrent uploads of the same filename apart.
func StoragePath(tenantID, fileName string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, path.Base(fileName))
	return path.Join(tenantID, uuid.NewString(), safe)
}
