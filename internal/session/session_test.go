package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	verrors "github.com/atinyakov/gophvault/internal/errors"
)

func TestNew_Derivation(t *testing.T) {
	s, err := New("  Alice@Example.com ")
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", s.Identity)
	assert.Equal(t, "aliceexample.comMP", s.MasterKey)
	assert.Equal(t, "alice@example.com", s.Namespace)
	assert.Equal(t, "alice@example.com:credentials", s.Key("credentials"))
	assert.True(t, s.Active())

	again, err := New("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, s.MasterKey, again.MasterKey, "derivation must be deterministic")
}

func TestNew_InvalidIdentity(t *testing.T) {
	for _, id := range []string{"", "alice", "@example.com", "alice@", "a@b@c", "al:ice@example.com"} {
		_, err := New(id)
		assert.Truef(t, errors.Is(err, verrors.ErrInvalidIdentity), "identity %q: err = %v", id, err)
	}
}

func TestNamespacesIsolateIdentities(t *testing.T) {
	a, err := New("ab@c.io")
	require.NoError(t, err)
	b, err := New("a@bc.io")
	require.NoError(t, err)
	assert.NotEqual(t, a.Key("credentials"), b.Key("credentials"))
}

func TestManager_SignOutClosesSession(t *testing.T) {
	m := NewManager()
	assert.False(t, m.Current().Active(), "initial session is unscoped")

	s, err := m.SignIn("bob@example.com")
	require.NoError(t, err)
	assert.Same(t, s, m.Current())

	m.SignOut()
	assert.False(t, s.Active())
	assert.ErrorIs(t, s.Err(), verrors.ErrSessionClosed)
	assert.Error(t, s.Context().Err())
	assert.Equal(t, UnscopedNamespace, m.Current().Namespace)

	_, err = m.Current().MasterKeyBytes()
	assert.ErrorIs(t, err, verrors.ErrNoSession)
}

func TestManager_SignInReplacesSession(t *testing.T) {
	m := NewManager()
	first, err := m.SignIn("one@example.com")
	require.NoError(t, err)
	second, err := m.SignIn("two@example.com")
	require.NoError(t, err)

	assert.False(t, first.Active())
	assert.True(t, second.Active())
}
