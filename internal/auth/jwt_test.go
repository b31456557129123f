package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamgrid/realtime-hub/internal/core/domain"
	apperrors "github.com/teamgrid/realtime-hub/internal/core/errors"
)

func TestTokenManager_RoundTrip(t *testing.T) {
	tm := NewTokenManager("test-secret", time.Hour)

	userID := uuid.New()
	orgID := uuid.New()

	token, err := tm.GenerateToken(userID, orgID, domain.RoleMember)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	identity, err := tm.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, userID, identity.UserID)
	assert.Equal(t, orgID, identity.OrgID)
	assert.Equal(t, domain.RoleMember, identity.Role)
}

func TestTokenManager_MissingCredential(t *testing.T) {
	tm := NewTokenManager("test-secret", time.Hour)

	_, err := tm.Authenticate("")
	assert.ErrorIs(t, err, apperrors.ErrMissingCredential)
}

func TestTokenManager_ExpiredCredential(t *testing.T) {
	tm := NewTokenManager("test-secret", -time.Minute)

	token, err := tm.GenerateToken(uuid.New(), uuid.New(), domain.RoleMember)
	require.NoError(t, err)

	_, err = tm.Authenticate(token)
	assert.ErrorIs(t, err, apperrors.ErrExpiredCredential)
}

func TestTokenManager_WrongKey(t *testing.T) {
	tm := NewTokenManager("test-secret", time.Hour)
	other := NewTokenManager("other-secret", time.Hour)

	token, err := other.GenerateToken(uuid.New(), uuid.New(), domain.RoleAdmin)
	require.NoError(t, err)

	_, err = tm.Authenticate(token)
	assert.ErrorIs(t, err, apperrors.ErrInvalidCredential)
}

func TestTokenManager_GarbageToken(t *testing.T) {
	tm := NewTokenManager("test-secret", time.Hour)

	_, err := tm.Authenticate("not-a-jwt")
	assert.ErrorIs(t, err, apperrors.ErrInvalidCredential)
}
