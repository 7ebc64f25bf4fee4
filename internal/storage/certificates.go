package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// CreateCertificate persists the domain record a successful extraction
// produces and returns its identifier for the job's result linkage. The
// wider certificate schema belongs to the CRUD surface; the pipeline only
// needs the seam.
func (s *Store) CreateCertificate(ctx context.Context, tenantID, propertyRef, documentType string, fields []byte) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(ctx, `insert into certificates(
id, tenant_id, property_ref, document_type, fields
) values ($1,$2,$3,$4,$5)`,
		id, tenantID, propertyRef, documentType, fields)
	if err != nil {
		return "", errors.Wrap(err, "insert certificate")
	}
	return id, nil
}
