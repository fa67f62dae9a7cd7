package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/MsAiBoWithStar/linkin-chat/internal/model"
	"github.com/MsAiBoWithStar/linkin-chat/internal/repository"
)

// maxLinkCodeAttempts bounds the collision retries. With 90 million codes
// a retry is rare until the table is very large.
const maxLinkCodeAttempts = 10

var (
	linkCodeFloor = big.NewInt(10_000_000) // smallest 8-digit number
	linkCodeSpan  = big.NewInt(90_000_000)
)

// ValidLinkCode reports whether code is exactly eight ASCII digits.
func ValidLinkCode(code string) bool {
	if len(code) != model.LinkCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// randomLinkCode returns an 8-digit code whose first digit is never 0.
func randomLinkCode() (string, error) {
	n, err := rand.Int(rand.Reader, linkCodeSpan)
	if err != nil {
		return "", fmt.Errorf("service/linkcode: reading random: %w", err)
	}
	return n.Add(n, linkCodeFloor).String(), nil
}

// generateLinkCode draws codes until one is unused. The unique index on
// users.link_code still guards the insert that follows.
func generateLinkCode(ctx context.Context, users repository.UserRepository) (string, error) {
	for range maxLinkCodeAttempts {
		code, err := randomLinkCode()
		if err != nil {
			return "", err
		}
		taken, err := users.LinkCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("service/linkcode: checking %s: %w", code, err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("service/linkcode: no free code after %d attempts", maxLinkCodeAttempts)
}
