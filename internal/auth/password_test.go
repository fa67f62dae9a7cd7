package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestPasswordService() *PasswordService {
	return NewPasswordServiceForTest(bcrypt.MinCost)
}

func TestHash_LooksLikeBcrypt(t *testing.T) {
	ps := newTestPasswordService()

	hash, err := ps.Hash("correct horse")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$2"), "hash %q", hash)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)
}

func TestHash_SaltsEveryHash(t *testing.T) {
	ps := newTestPasswordService()

	h1, err := ps.Hash("same-password")
	require.NoError(t, err)
	h2, err := ps.Hash("same-password")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestHash_Length(t *testing.T) {
	ps := newTestPasswordService()

	_, err := ps.Hash(strings.Repeat("a", MaxPasswordBytes))
	assert.NoError(t, err)

	_, err = ps.Hash(strings.Repeat("a", MaxPasswordBytes+1))
	assert.Error(t, err)

	// 25 three-byte runes are 75 bytes even though they are 25 characters.
	_, err = ps.Hash(strings.Repeat("密", 25))
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	ps := newTestPasswordService()
	hash, err := ps.Hash("hunter22")
	require.NoError(t, err)

	tests := []struct {
		name      string
		hash      string
		password  string
		wantErr   error
		wantOther bool
	}{
		{name: "correct", hash: hash, password: "hunter22"},
		{name: "wrong", hash: hash, password: "hunter23", wantErr: ErrPasswordMismatch},
		{name: "empty", hash: hash, password: "", wantErr: ErrPasswordMismatch},
		{name: "case matters", hash: hash, password: "HUNTER22", wantErr: ErrPasswordMismatch},
		{name: "garbage hash", hash: "not-a-bcrypt-hash", password: "hunter22", wantOther: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ps.Verify(tt.hash, tt.password)
			switch {
			case tt.wantOther:
				require.Error(t, err)
				assert.NotErrorIs(t, err, ErrPasswordMismatch)
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewPasswordServiceForTest_ClampsCost(t *testing.T) {
	ps := NewPasswordServiceForTest(1)

	hash, err := ps.Hash("pw")
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)
}

func TestVerifyNothing_CostsAComparison(t *testing.T) {
	// At cost 10 one comparison takes milliseconds. A no-op would not.
	ps := NewPasswordServiceForTest(10)
	ps.VerifyNothing("warm up the dummy hash")

	start := time.Now()
	ps.VerifyNothing("anything")
	assert.Greater(t, time.Since(start), 500*time.Microsecond)
}
