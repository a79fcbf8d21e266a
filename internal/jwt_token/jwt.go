package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "vanscontrol/pkg/domain"
	dErrors "vanscontrol/pkg/domain-errors"
)

// Claims represents the identity token supplied on connection setup. The
// family group key is present only for guardian tokens.
type Claims struct {
	UserID         string `json:"user_id"`
	Role           string `json:"tipo"`
	FamilyGroupKey string `json:"registro_familiar,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the resolved, validated form of Claims.
type Identity struct {
	UserID         id.UserID
	Role           id.Role
	FamilyGroupKey id.FamilyGroupKey
}

// JWTService handles JWT creation and validation
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
}

func NewJWTService(signingKey string, issuer string, audience string) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
	}
}

// GenerateToken mints a connection token for the given identity. Used by the
// enrollment collaborator and by tests.
func (s *JWTService) GenerateToken(identity Identity, expiresIn time.Duration) (string, error) {
	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:         identity.UserID.String(),
		Role:           identity.Role.String(),
		FamilyGroupKey: identity.FamilyGroupKey.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})

	signedToken, err := newToken.SignedString(s.signingKey)
	if err != nil {
		return "", err
	}
	return signedToken, nil
}

// ValidateToken parses and verifies a token string.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}

	return claims, nil
}

// ResolveIdentity validates the token and enforces the registration
// invariant: a connection without a resolvable user id and role is invalid.
func (s *JWTService) ResolveIdentity(tokenString string) (Identity, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return Identity{}, err
	}

	userID, err := id.ParseUserID(claims.UserID)
	if err != nil {
		return Identity{}, dErrors.New(dErrors.CodeUnauthorized, "token has no resolvable user id")
	}

	role := id.Role(claims.Role)
	if !role.Valid() {
		return Identity{}, dErrors.New(dErrors.CodeUnauthorized, "token has no resolvable role")
	}

	return Identity{
		UserID:         userID,
		Role:           role,
		FamilyGroupKey: id.FamilyGroupKey(claims.FamilyGroupKey),
	}, nil
}
