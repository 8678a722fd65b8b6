package auth

import (
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher hashes and verifies credentials (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(hash, pw string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct {
	Cost int

	dummyOnce sync.Once
	dummy     []byte
}

// NewBcryptHasher returns a hasher with the given cost; zero means bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	return &BcryptHasher{Cost: cost}
}

func (b *BcryptHasher) cost() int {
	if b.Cost < bcrypt.MinCost || b.Cost > bcrypt.MaxCost {
		return bcrypt.DefaultCost
	}
	return b.Cost
}

func (b *BcryptHasher) Hash(pw string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), b.cost())
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (b *BcryptHasher) Verify(hash, pw string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// Burn runs one comparison against a throwaway hash of the configured cost,
// so an unknown email costs as much time as a wrong password.
func (b *BcryptHasher) Burn(pw string) {
	b.dummyOnce.Do(func() {
		b.dummy, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), b.cost())
	})
	if b.dummy != nil {
		_ = bcrypt.CompareHashAndPassword(b.dummy, []byte(pw))
	}
}

// burner is implemented by hashers that can equalize the unknown-user path.
type burner interface {
	Burn(pw string)
}
