// Package auth: password hashing.
//
// Passwords are stored as bcrypt hashes. The hash string embeds its own
// salt and cost:
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (2^12 rounds)
//	 version
//
// so the users table needs a single password_hash column and raising the
// cost later only affects newly hashed passwords.
package auth

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrPasswordMismatch is returned by Verify when the password is wrong.
// Callers match it with errors.Is to tell a bad password from a corrupt hash.
var ErrPasswordMismatch = errors.New("auth: invalid password")

// MaxPasswordBytes is bcrypt's input limit. Longer passwords are rejected
// rather than silently truncated.
const MaxPasswordBytes = 72

// defaultCost puts one hash at roughly 250ms on current server hardware.
const defaultCost = 12

// PasswordService hashes and checks account passwords.
//
// It's a struct (not free functions) so that the cost can be injected
// in tests. Cost 4 keeps a test suite that registers dozens of users fast.
type PasswordService struct {
	cost int

	// dummyHash is compared against when there is no real hash to check,
	// so a login for an unknown link code costs as much as a wrong password.
	dummyOnce sync.Once
	dummyHash []byte
}

// NewPasswordService creates a PasswordService with the default cost.
func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

// NewPasswordServiceForTest creates a PasswordService with the given bcrypt
// cost, raised to bcrypt.MinCost when lower. Never use it in production.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return &PasswordService{cost: max(cost, bcrypt.MinCost)}
}

// Hash hashes plaintext with bcrypt. It fails for passwords longer than
// MaxPasswordBytes.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordBytes {
		return "", fmt.Errorf("auth: password must be %d bytes or fewer", MaxPasswordBytes)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify returns nil when plaintext matches hash and ErrPasswordMismatch when
// it does not. Any other error means the stored hash is unusable.
//
// TIMING SAFETY:
// bcrypt.CompareHashAndPassword compares in constant time, so response
// time does not reveal how much of the password was right.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}

// VerifyNothing burns the same time as a failed Verify. Login calls it
// when the link code is unknown or the account has no password, so link
// codes cannot be discovered by timing the login endpoint.
func (p *PasswordService) VerifyNothing(plaintext string) {
	p.dummyOnce.Do(func() {
		p.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("linkin-dummy-password"), p.cost)
	})
	_ = bcrypt.CompareHashAndPassword(p.dummyHash, []byte(plaintext))
}
