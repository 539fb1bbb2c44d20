package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	m := NewManager("test_secret", time.Hour)

	token, err := m.Generate("emp1")
	require.NoError(t, err)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	require.Equal(t, "emp1", claims.Identity)
}

func TestValidateRejectsWrongKey(t *testing.T) {
	token, err := NewManager("secret_a", time.Hour).Generate("emp1")
	require.NoError(t, err)

	_, err = NewManager("secret_b", time.Hour).Validate(token)
	require.Error(t, err)
}

func TestValidateRejectsExpired(t *testing.T) {
	m := NewManager("test_secret", -time.Minute)
	token, err := m.Generate("emp1")
	require.NoError(t, err)

	_, err = m.Validate(token)
	require.Error(t, err)
}

func TestValidateRejectsGarbage(t *testing.T) {
	_, err := NewManager("test_secret", time.Hour).Validate("not.a.token")
	require.Error(t, err)
}
