package provider

import (
	"crypto/rand"
	"math/big"
)

const (
	// PasswordLength is the size of generated passwords.
	PasswordLength = 12
	passwordChars  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*()"
)

// GeneratePassword returns a random password for accounts and guests.
func GeneratePassword() (string, error) {
	out := make([]byte, PasswordLength)
	max := big.NewInt(int64(len(passwordChars)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = passwordChars[n.Int64()]
	}
	return string(out), nil
}
