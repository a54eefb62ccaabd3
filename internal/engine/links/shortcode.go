package links

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
)

const (
	shortCodeChars  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	shortCodeLength = 7
	maxRetries      = 5
)

// Codes that collide with top-level routes.
var reservedCodes = []string{"api", "admin", "dashboard", "login", "signup", "health", "metrics"}

type CodeAvailabilityChecker interface {
	ExistsByShortCode(ctx context.Context, code string) (bool, error)
}

// GenerateShortCode returns customCode if it is valid and free, otherwise a
// random code, retrying collisions and finally growing by one character.
func GenerateShortCode(ctx context.Context, customCode string, checker CodeAvailabilityChecker) (string, error) {
	if customCode != "" {
		if !isValidShortCode(customCode) {
			return "", ErrInvalidShortCode
		}

		exists, err := checker.ExistsByShortCode(ctx, customCode)
		if err != nil {
			return "", err
		}
		if exists {
			return "", ErrShortCodeTaken
		}
		return customCode, nil
	}

	for i := 0; i < maxRetries; i++ {
		code := generateRandomCode(shortCodeLength)

		exists, err := checker.ExistsByShortCode(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}

	code := generateRandomCode(shortCodeLength + 1)
	exists, err := checker.ExistsByShortCode(ctx, code)
	if err != nil {
		return "", err
	}
	if exists {
		return "", errors.New("failed to generate unique short code")
	}
	return code, nil
}

func generateRandomCode(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = shortCodeChars[rand.IntN(len(shortCodeChars))]
	}
	return string(b)
}

func isValidShortCode(code string) bool {
	if len(code) < 3 || len(code) > 12 {
		return false
	}

	for _, c := range code {
		if !strings.ContainsRune(shortCodeChars, c) {
			return false
		}
	}

	for _, r := range reservedCodes {
		if strings.EqualFold(code, r) {
			return false
		}
	}
	return true
}
