package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/you/intake/internal/domain"
)

func TestMintAndParseRoundTrip(t *testing.T) {
	keyID, secret, composite, secretHash, err := MintKey()
	require.NoError(t, err)

	gotID, gotSecret, err := ParseKey(composite)
	require.NoError(t, err)
	assert.Equal(t, keyID, gotID)
	assert.Equal(t, secret, gotSecret)

	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(secretHash), []byte(secret)))
}

func TestParseKeyRejectsMalformed(t *testing.T) {
	for _, composite := range []string{
		"",
		"ik_",
		"ik_onlyone",
		"ik__secret",
		"ik_keyid_",
		"zz_keyid_secret",
		"not a key at all",
	} {
		_, _, err := ParseKey(composite)
		assert.ErrorIs(t, err, domain.ErrBadCredential, "%q", composite)
	}
}

type fakeClients struct {
	byKeyID map[string]*domain.APIClient
}

func (f *fakeClients) GetClientByKeyID(_ context.Context, keyID string) (*domain.APIClient, error) {
	if c, ok := f.byKeyID[keyID]; ok {
		return c, nil
	}
	return nil, domain.ErrNotFound
}

func TestResolver(t *testing.T) {
	keyID, _, composite, secretHash, err := MintKey()
	require.NoError(t, err)

	client := &domain.APIClient{ID: "c1", TenantID: "t1", KeyID: keyID, SecretHash: secretHash}
	resolver := NewResolver(&fakeClients{byKeyID: map[string]*domain.APIClient{keyID: client}})

	got, err := resolver.Resolve(context.Background(), composite)
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ID)

	// unknown key ID and wrong secret both collapse into ErrBadCredential
	_, err = resolver.Resolve(context.Background(), "ik_ffffffffffff_deadbeef")
	assert.ErrorIs(t, err, domain.ErrBadCredential)

	_, err = resolver.Resolve(context.Background(), "ik_"+keyID+"_wrongsecret")
	assert.ErrorIs(t, err, domain.ErrBadCredential)
}
