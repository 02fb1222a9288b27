package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControlAuthAcceptsValidToken(t *testing.T) {
	secret := "top-secret"
	token, err := IssueControlToken(secret, time.Minute)
	require.NoError(t, err)

	auth := newControlAuth(secret)
	assert.NoError(t, auth.Validate(token))
}

func TestControlAuthRejectsWrongSecret(t *testing.T) {
	token, err := IssueControlToken("right-secret", time.Minute)
	require.NoError(t, err)

	auth := newControlAuth("wrong-secret")
	assert.Error(t, auth.Validate(token))
}

func TestControlAuthRejectsExpiredToken(t *testing.T) {
	secret := "top-secret"
	token, err := IssueControlToken(secret, -time.Minute)
	require.NoError(t, err)

	auth := newControlAuth(secret)
	assert.Error(t, auth.Validate(token))
}

func TestControlAuthRejectsEmptyToken(t *testing.T) {
	auth := newControlAuth("top-secret")
	assert.Error(t, auth.Validate(""))
}
