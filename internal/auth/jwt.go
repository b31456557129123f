package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/teamgrid/realtime-hub/internal/core/domain"
	apperrors "github.com/teamgrid/realtime-hub/internal/core/errors"
)

// Claims defines the structured data we expect in a connection credential.
type Claims struct {
	UserID uuid.UUID   `json:"user_id"`
	OrgID  uuid.UUID   `json:"org_id"`
	Role   domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager verifies externally-issued bearer credentials. Token issuance
// lives in the account service; the hub only holds the shared verification
// key. GenerateToken exists for tests and local tooling.
type TokenManager struct {
	secretKey []byte
	ttl       time.Duration
}

func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	return &TokenManager{secretKey: []byte(secret), ttl: ttl}
}

// GenerateToken creates a new JWT access token.
func (tm *TokenManager) GenerateToken(userID, orgID uuid.UUID, role domain.Role) (string, error) {
	claims := &Claims{
		UserID: userID,
		OrgID:  orgID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tm.ttl)),
			Subject:   userID.String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secretKey)
}

// Authenticate parses and verifies the credential and derives the identity
// bound to the connection. Pure verification, no I/O.
func (tm *TokenManager) Authenticate(tokenString string) (domain.Identity, error) {
	if tokenString == "" {
		return domain.Identity{}, apperrors.ErrMissingCredential
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secretKey, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Identity{}, apperrors.ErrExpiredCredential
		}
		return domain.Identity{}, apperrors.ErrInvalidCredential
	}

	if !token.Valid || claims.UserID == uuid.Nil || claims.OrgID == uuid.Nil {
		return domain.Identity{}, apperrors.ErrInvalidCredential
	}

	return domain.Identity{
		UserID: claims.UserID,
		OrgID:  claims.OrgID,
		Role:   claims.Role,
	}, nil
}
