// ABOUTME: bcrypt password hashing helpers
// ABOUTME: Includes a dummy hash so unknown accounts cost the same as wrong passwords

package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when the account doesn't exist, keeping login timing uniform.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

func hashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// burnPasswordCheck performs a throwaway comparison for timing parity.
func burnPasswordCheck(password string) {
	_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
}
