package auth

import (
	"crypto/sha256"

	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/skillswap/internal/apperrors"
)

// Bcrypt password hasher
// Will be used as default one if user not provide it's own
type BcryptHasher struct{}

func (h BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", apperrors.ErrEmptyPassword
	}

	// bcrypt ignores bytes after 72th, hash the password first to use all of it
	sum := sha256.Sum256([]byte(password))
	hash, err := bcrypt.GenerateFromPassword(sum[:], bcrypt.DefaultCost)
	return string(hash), err
}

func (h BcryptHasher) Compare(hashedPassword string, password string) error {
	sum := sha256.Sum256([]byte(password))
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), sum[:])
}
