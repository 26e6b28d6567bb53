// Package auth guards the admin routes of the API.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const adminRole = "admin"

var (
	ErrInvalidCreds = eris.New("auth: invalid credentials")
	ErrNoSigningKey = eris.New("auth: no jwt secret configured")
)

// Credentials configures how an admin proves itself. Any combination may be
// set; a request passes if it satisfies one of them.
type Credentials struct {
	// Secret is compared with the X-Admin-Secret header.
	Secret string
	// SecretHash is a bcrypt hash of the admin secret.
	SecretHash string
	// JWTSecret signs and verifies HS256 bearer tokens.
	JWTSecret string
}

type Admin struct {
	secret     []byte
	secretHash []byte
	jwtSecret  []byte
	now        func() time.Time
}

// NewAdmin builds the guard. With no credentials at all it falls back to a
// random in-memory secret so that admin routes are never open.
func NewAdmin(creds Credentials) (*Admin, error) {
	a := &Admin{
		secret:     []byte(strings.TrimSpace(creds.Secret)),
		secretHash: []byte(strings.TrimSpace(creds.SecretHash)),
		jwtSecret:  []byte(strings.TrimSpace(creds.JWTSecret)),
		now:        time.Now,
	}

	if len(a.secretHash) > 0 {
		if _, err := bcrypt.Cost(a.secretHash); err != nil {
			return nil, eris.Wrap(err, "auth: admin secret_hash is not a bcrypt hash")
		}
	}

	if len(a.secret) == 0 && len(a.secretHash) == 0 && len(a.jwtSecret) == 0 {
		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			return nil, eris.Wrap(err, "auth: generate fallback admin secret")
		}
		a.secret = []byte(base64.RawURLEncoding.EncodeToString(buf))
		zap.L().Warn("auth: no admin credentials configured; using ephemeral in-memory secret")
	}
	return a, nil
}

// CheckSecret reports whether s matches the plain or hashed admin secret.
func (a *Admin) CheckSecret(s string) bool {
	if s == "" {
		return false
	}
	if len(a.secret) > 0 && subtle.ConstantTimeCompare([]byte(s), a.secret) == 1 {
		return true
	}
	if len(a.secretHash) > 0 && bcrypt.CompareHashAndPassword(a.secretHash, []byte(s)) == nil {
		return true
	}
	return false
}

// MintToken signs an admin bearer token for subject valid for ttl.
func (a *Admin) MintToken(subject string, ttl time.Duration) (string, error) {
	if len(a.jwtSecret) == 0 {
		return "", ErrNoSigningKey
	}
	if ttl <= 0 {
		return "", eris.Errorf("auth: token ttl must be positive, got %s", ttl)
	}

	now := a.now()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": adminRole,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.jwtSecret)
	if err != nil {
		return "", eris.Wrap(err, "auth: sign token")
	}
	return signed, nil
}

// VerifyToken checks an HS256 admin token and returns its subject.
func (a *Admin) VerifyToken(tokenString string) (string, error) {
	if len(a.jwtSecret) == 0 {
		return "", ErrNoSigningKey
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, eris.Errorf("auth: unexpected signing method %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	}, jwt.WithTimeFunc(a.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", ErrInvalidCreds
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidCreds
	}
	if role, _ := claims["role"].(string); role != adminRole {
		return "", ErrInvalidCreds
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return "", ErrInvalidCreds
	}
	return sub, nil
}

// HashSecret returns a bcrypt hash suitable for admin.secret_hash.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", eris.Wrap(err, "auth: hash secret")
	}
	return string(hash), nil
}
