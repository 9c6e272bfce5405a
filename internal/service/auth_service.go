package service

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/brokerbot/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Roles carried in the "role" claim.
const (
	RoleTrader    = "trader"
	RoleAuthority = "authority"
)

// ──────────────────────────────────────────────────────────────────────────────
// Request / Response types
// ──────────────────────────────────────────────────────────────────────────────

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

// LoginResponse is returned on successful login.
type LoginResponse struct {
	Address     common.Address `json:"address"`
	Role        string         `json:"role"`
	AccessToken string         `json:"access_token"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// ──────────────────────────────────────────────────────────────────────────────
// JWT claims
// ──────────────────────────────────────────────────────────────────────────────

// AppClaims extends jwt.RegisteredClaims with application-specific fields.
// The subject is the hex address of the principal.
type AppClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Address parses the subject as a ledger address.
func (c *AppClaims) Address() (common.Address, error) {
	if !common.IsHexAddress(c.Subject) {
		return common.Address{}, domain.ErrTokenInvalid
	}
	return common.HexToAddress(c.Subject), nil
}

// ──────────────────────────────────────────────────────────────────────────────
// AuthService
// ──────────────────────────────────────────────────────────────────────────────

// AuthService logs the authority in and signs and verifies access tokens.
// Trader tokens are issued by an external identity service sharing the
// same HMAC secret.
type AuthService struct {
	secret       []byte
	ttl          time.Duration
	authority    common.Address
	passwordHash []byte
	now          func() time.Time
}

// NewAuthService creates an AuthService. An empty passwordHash disables Login.
func NewAuthService(secret string, ttl time.Duration, authority common.Address, passwordHash string) *AuthService {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &AuthService{
		secret:       []byte(secret),
		ttl:          ttl,
		authority:    authority,
		passwordHash: []byte(passwordHash),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Login
// ──────────────────────────────────────────────────────────────────────────────

// Login checks the authority password and returns a fresh access token.
func (s *AuthService) Login(password string) (*LoginResponse, error) {
	if len(s.passwordHash) == 0 {
		return nil, domain.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)); err != nil {
		return nil, domain.ErrInvalidCredentials
	}

	token, expiresAt, err := s.IssueToken(s.authority, RoleAuthority)
	if err != nil {
		return nil, fmt.Errorf("auth_service.Login: %w", err)
	}
	return &LoginResponse{
		Address:     s.authority,
		Role:        RoleAuthority,
		AccessToken: token,
		ExpiresAt:   expiresAt,
	}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Token helpers
// ──────────────────────────────────────────────────────────────────────────────

// IssueToken signs an access token for the given principal.
func (s *AuthService) IssueToken(addr common.Address, role string) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   addr.Hex(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role: role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseAccessToken validates the token signature, algorithm, expiry and
// subject. It is exported for use by the JWT middleware.
func (s *AuthService) ParseAccessToken(tokenString string) (*AppClaims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !tok.Valid {
		return nil, domain.ErrTokenInvalid
	}
	claims, ok := tok.Claims.(*AppClaims)
	if !ok {
		return nil, domain.ErrTokenInvalid
	}
	if _, err := claims.Address(); err != nil {
		return nil, err
	}
	return claims, nil
}
