package account

import (
	"os"
	"strconv"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(pw, hash string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

// BcryptCostFromEnv reads BCRYPT_COST, falling back to 12.
func BcryptCostFromEnv() int {
	if v, err := strconv.Atoi(os.Getenv("BCRYPT_COST")); err == nil && v >= bcrypt.MinCost && v <= bcrypt.MaxCost {
		return v
	}
	return 12
}

func (b BcryptHasher) Hash(pw string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Verify compares in constant time relative to bcrypt's own guarantees.
// A malformed stored hash is treated as a mismatch.
func (b BcryptHasher) Verify(pw, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// CredentialStore gates hash creation on the password policy.
type CredentialStore struct {
	policy *PasswordPolicy
	hasher PasswordHasher
}

func NewCredentialStore(policy *PasswordPolicy, hasher PasswordHasher) *CredentialStore {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	return &CredentialStore{policy: policy, hasher: hasher}
}

// Create checks the policy for the holder's full name and returns the hash.
func (c *CredentialStore) Create(password, fullName string) (string, error) {
	if !c.policy.IsAcceptable(password, fullName) {
		return "", ErrWeakPassword
	}
	return c.hasher.Hash(password)
}

func (c *CredentialStore) Verify(password, storedHash string) bool {
	return c.hasher.Verify(password, storedHash)
}
