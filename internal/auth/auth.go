package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrSecretRequired = errors.New("auth: jwt secret required")
	ErrUnauthorized   = errors.New("auth: unauthorized")
	ErrMissingHeader  = errors.New("auth: authorization header missing")
	ErrInvalidToken   = errors.New("auth: invalid token")
	ErrUnknownUser    = errors.New("auth: user not found")
)

// UserLookup resolves a token subject against the store.
type UserLookup interface {
	UserExists(ctx context.Context, userID string) (bool, error)
}

// Identity is the resolved caller. Authorization is the raw header so it can be
// forwarded to downstream collaborators unchanged.
type Identity struct {
	UserID        string
	Authorization string
}

type Service struct {
	secret []byte
	users  UserLookup
}

func NewService(secret string, users UserLookup) (*Service, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrSecretRequired
	}

	return &Service{secret: []byte(secret), users: users}, nil
}

// Authenticate validates the forwarded Authorization header and resolves the
// acting user. Every failure wraps ErrUnauthorized.
func (s *Service) Authenticate(ctx context.Context, header string) (Identity, error) {
	token := ParseBearer(header)
	if token == "" {
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthorized, ErrMissingHeader)
	}

	claims, err := s.VerifyToken(token)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	userID := strings.TrimSpace(claims.Subject)
	if userID == "" {
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthorized, ErrInvalidToken)
	}

	if s.users != nil {
		exists, err := s.users.UserExists(ctx, userID)
		if err != nil {
			return Identity{}, fmt.Errorf("%w: lookup user: %w", ErrUnauthorized, err)
		}
		if !exists {
			return Identity{}, fmt.Errorf("%w: %w", ErrUnauthorized, ErrUnknownUser)
		}
	}

	return Identity{UserID: userID, Authorization: strings.TrimSpace(header)}, nil
}

func (s *Service) VerifyToken(token string) (*jwt.RegisteredClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// ParseBearer extracts the token from a "Bearer <token>" header value.
func ParseBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}

	return strings.TrimSpace(header[7:])
}
