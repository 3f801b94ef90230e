package admin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGateLogin(t *testing.T) {
	gate := NewGate("s3cret", "checkin", "signing-key", time.Hour)

	_, _, err := gate.Login("wrong")
	require.ErrorIs(t, err, ErrBadPassword)

	token, expiresAt, err := gate.Login("s3cret")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.True(t, expiresAt.After(time.Now()))

	claims, err := gate.Parse(token)
	require.NoError(t, err)
	require.NotEmpty(t, claims.SessionID)
	require.Equal(t, "checkin", claims.Issuer)
}

func TestGateUnsetPasswordDisablesAccess(t *testing.T) {
	gate := NewGate("", "checkin", "signing-key", time.Hour)
	_, _, err := gate.Login("")
	require.ErrorIs(t, err, ErrBadPassword)
}

func TestGateEachLoginIsANewSession(t *testing.T) {
	gate := NewGate("s3cret", "checkin", "signing-key", time.Hour)

	t1, _, err := gate.Login("s3cret")
	require.NoError(t, err)
	t2, _, err := gate.Login("s3cret")
	require.NoError(t, err)

	c1, err := gate.Parse(t1)
	require.NoError(t, err)
	c2, err := gate.Parse(t2)
	require.NoError(t, err)
	require.NotEqual(t, c1.SessionID, c2.SessionID)
}

func TestGateRejectsForeignToken(t *testing.T) {
	gate := NewGate("s3cret", "checkin", "signing-key", time.Hour)
	other := NewGate("s3cret", "checkin", "other-key", time.Hour)

	token, _, err := other.Login("s3cret")
	require.NoError(t, err)

	_, err = gate.Parse(token)
	require.Error(t, err)
}
