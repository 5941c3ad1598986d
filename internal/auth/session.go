// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// OperatorSubject is the token subject allowed to use the admin endpoints.
const OperatorSubject = "operator"

var ErrNotOperator = errors.New("token does not belong to an operator")

// privateKey and publicKey are used for signing and verifying operator tokens.
var (
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// tokenTTL is the lifetime of issued tokens (0 => never expires).
	tokenTTL time.Duration
)

// Init generates a fresh ed25519 key pair at runtime.
func Init(ttl time.Duration) error {
	var err error
	publicKey, privateKey, err = ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	tokenTTL = ttl
	return nil
}

// InitFromPath reads raw ed25519 private/public keys from file.
func InitFromPath(privatePath, publicPath string, ttl time.Duration) error {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(privateKeyData) != ed25519.PrivateKeySize {
		return fmt.Errorf("private key: want %d bytes, got %d", ed25519.PrivateKeySize, len(privateKeyData))
	}
	if len(publicKeyData) != ed25519.PublicKeySize {
		return fmt.Errorf("public key: want %d bytes, got %d", ed25519.PublicKeySize, len(publicKeyData))
	}

	privateKey = ed25519.PrivateKey(privateKeyData)
	publicKey = ed25519.PublicKey(publicKeyData)
	tokenTTL = ttl
	return nil
}

// CreateJWT creates a signed token with "sub" = subject.
func CreateJWT(subject string) (string, error) {
	if privateKey == nil {
		return "", errors.New("auth not initialized")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if tokenTTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(tokenTTL))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(privateKey)
}

// AuthenticateJWT verifies a token string and returns its subject.
func AuthenticateJWT(tokenString string) (string, error) {
	if publicKey == nil {
		return "", errors.New("auth not initialized")
	}
	var claims jwt.RegisteredClaims
	t, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return publicKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("jwt parse error: %w", err)
	}
	if !t.Valid {
		return "", fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("missing sub in jwt")
	}
	return claims.Subject, nil
}

// AuthenticateOperator verifies tokenString and requires the operator subject.
func AuthenticateOperator(tokenString string) error {
	sub, err := AuthenticateJWT(tokenString)
	if err != nil {
		return err
	}
	if sub != OperatorSubject {
		return ErrNotOperator
	}
	return nil
}
