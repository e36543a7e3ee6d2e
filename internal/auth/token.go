package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

type Config struct {
	Issuer string
	TTL    time.Duration
	// KeyFile is an optional PEM encoded RSA private key. When empty a key is
	// generated at startup, so tokens don't survive a restart.
	KeyFile string
}

// ConfigFromEnv reads TOKEN_ISSUER, TOKEN_TTL and TOKEN_KEY_FILE.
func ConfigFromEnv() Config {
	iss := os.Getenv("TOKEN_ISSUER")
	if iss == "" {
		iss = "service-staff"
	}
	ttl, err := time.ParseDuration(os.Getenv("TOKEN_TTL"))
	if err != nil || ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return Config{Issuer: iss, TTL: ttl, KeyFile: os.Getenv("TOKEN_KEY_FILE")}
}

// Issuer signs and verifies RS256 bearer tokens whose subject is the
// account's corporate email.
type Issuer struct {
	key    *rsa.PrivateKey
	kid    string
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(cfg Config) (*Issuer, error) {
	var k *rsa.PrivateKey
	if cfg.KeyFile != "" {
		pemBytes, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read signing key: %w", err)
		}
		k, err = jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
		if err != nil {
			return nil, fmt.Errorf("parse signing key: %w", err)
		}
	} else {
		var err error
		k, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, err
		}
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	// kid: base64 of the first bytes of SHA256 over the modulus
	h := sha256.Sum256(k.PublicKey.N.Bytes())
	kid := base64.RawURLEncoding.EncodeToString(h[:8])
	return &Issuer{key: k, kid: kid, issuer: cfg.Issuer, ttl: cfg.TTL, now: time.Now}, nil
}

// Issue returns a signed access token for the corporate email.
func (s *Issuer) Issue(email string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   email,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.kid
	return tok.SignedString(s.key)
}

// Parse verifies the token and returns its subject.
func (s *Issuer) Parse(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return &s.key.PublicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// TTL is the lifetime of issued tokens.
func (s *Issuer) TTL() time.Duration { return s.ttl }

// JWKS returns the public signing key as a JSON Web Key Set so other
// services can verify tokens.
func (s *Issuer) JWKS() map[string]any {
	pub := s.key.PublicKey
	jwk := map[string]any{
		"kty": "RSA",
		"use": "sig",
		"alg": "RS256",
		"kid": s.kid,
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		// minimal big-endian exponent
		"e": base64.RawURLEncoding.EncodeToString(new(big.Int).SetInt64(int64(pub.E)).Bytes()),
	}
	return map[string]any{"keys": []any{jwk}}
}

// JWKSHandler serves JWKS as JSON.
func (s *Issuer) JWKSHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.JWKS())
}
