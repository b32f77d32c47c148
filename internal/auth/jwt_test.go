package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/filedepot/filedepot/internal/depot"
)

func TestIssueAndVerifyToken(t *testing.T) {
	secret := []byte("test-secret")
	p := Principal{UserID: 42, Username: "alice"}

	signed, err := IssueToken(p, secret, time.Hour)
	require.NoError(t, err)

	got, err := VerifyToken(signed, secret)
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestVerifyTokenWrongSecret(t *testing.T) {
	signed, err := IssueToken(Principal{UserID: 1, Username: "bob"}, []byte("a"), time.Hour)
	require.NoError(t, err)

	_, err = VerifyToken(signed, []byte("b"))
	require.True(t, errors.Is(err, depot.ErrInvalidToken))
}

func TestVerifyTokenExpired(t *testing.T) {
	secret := []byte("test-secret")
	signed, err := IssueToken(Principal{UserID: 1, Username: "bob"}, secret, -time.Minute)
	require.NoError(t, err)

	_, err = VerifyToken(signed, secret)
	require.True(t, errors.Is(err, depot.ErrInvalidToken))
}
