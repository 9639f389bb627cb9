package api

import (
	"crypto/sha1"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

func newFileID(path string) string {
	sum := sha1.Sum([]byte(path))
	return hex.EncodeToString(sum[:8])
}

// hashPassword bcrypt-hashes a user password for storage in
// User.PasswordHash. Unlike a plain digest, the salt is embedded in the
// returned hash, so two users with the same password get different hashes.
func hashPassword(s string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(s), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// verifyPassword reports whether plain matches the bcrypt hash produced by
// hashPassword. bcrypt.CompareHashAndPassword runs in constant time.
func verifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
