package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/duet/internal/domain"
)

func TestManager_IssueAndVerify(t *testing.T) {
	m := NewManager("test-secret")

	token, err := m.Issue("user-123", "Ann", "a")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	p, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantID("user-123"), p.ID)
	assert.Equal(t, "Ann", p.Name)
	assert.Equal(t, "a", p.Class)
	assert.False(t, p.Guest)
}

func TestManager_GuestToken(t *testing.T) {
	m := NewManager("test-secret")

	token, id, err := m.IssueGuest("")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	p, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)
	assert.True(t, p.Guest)
	assert.Equal(t, "guest", p.Name)
}

func TestManager_RejectsForeignSignature(t *testing.T) {
	token, err := NewManager("secret-a").Issue("user-123", "", "")
	require.NoError(t, err)

	_, err = NewManager("secret-b").Verify(token)
	require.Error(t, err)
	assert.Equal(t, domain.ErrAuthentication, domain.KindOf(err))
}

func TestManager_RejectsGarbage(t *testing.T) {
	m := NewManager("test-secret")
	_, err := m.Verify("not.a.token")
	require.Error(t, err)
	assert.Equal(t, domain.ErrAuthentication, domain.KindOf(err))
}
