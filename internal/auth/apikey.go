package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/you/intake/internal/domain"
)

const keyPrefix = "ik"

// MintKey generates a fresh credential. The composite form
// ik_<keyID>_<secret> is shown to the operator once; only the bcrypt hash
// of the secret is stored.
func MintKey() (keyID, secret, composite, secretHash string, err error) {
	buf := make([]byte, 30)
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", "", errors.Wrap(err, "mint key")
	}
	keyID = hex.EncodeToString(buf[:6])
	secret = hex.EncodeToString(buf[6:])
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", "", errors.Wrap(err, "hash secret")
	}
	return keyID, secret, strings.Join([]string{keyPrefix, keyID, secret}, "_"), string(hash), nil
}

// ParseKey splits a composite credential. Malformed input is
// ErrBadCredential; the caller cannot distinguish a bad format from an
// unknown key.
func ParseKey(composite string) (keyID, secret string, err error) {
	parts := strings.SplitN(composite, "_", 3)
	if len(parts) != 3 || parts[0] != keyPrefix || parts[1] == "" || parts[2] == "" {
		return "", "", domain.ErrBadCredential
	}
	return parts[1], parts[2], nil
}

// ClientSource looks up a client row by its public key ID.
type ClientSource interface {
	GetClientByKeyID(ctx context.Context, keyID string) (*domain.APIClient, error)
}

type Resolver struct{ clients ClientSource }

func NewResolver(clients ClientSource) *Resolver { return &Resolver{clients} }

// Resolve authenticates a presented credential. Every failure mode maps to
// ErrBadCredential so responses never leak whether a key ID exists.
func (r *Resolver) Resolve(ctx context.Context, composite string) (*domain.APIClient, error) {
	keyID, secret, err := ParseKey(composite)
	if err != nil {
		return nil, err
	}
	client, err := r.clients.GetClientByKeyID(ctx, keyID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrBadCredential
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(secret)) != nil {
		return nil, domain.ErrBadCredential
	}
	return client, nil
}
