package bridge

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type staticKeyStore map[string][2]string // key -> [agentID, channelID]

func (s staticKeyStore) LookupKey(key string) (string, string, bool) {
	v, ok := s[key]
	if !ok {
		return "", "", false
	}
	return v[0], v[1], true
}

type staticTokenStore map[string][2]string // token -> [userID, channelID]

func (s staticTokenStore) LookupToken(token string) (string, string, bool) {
	v, ok := s[token]
	if !ok {
		return "", "", false
	}
	return v[0], v[1], true
}

func newTestAuthenticator() *HandshakeAuthenticator {
	return &HandshakeAuthenticator{
		Keys:   staticKeyStore{"agent-key-1": {"agent-1", "chan-1"}},
		Tokens: staticTokenStore{"user-token-1": {"user-1", "chan-1"}},
	}
}

func TestHandshakeAuthenticator_MissingCredentials(t *testing.T) {
	a := newTestAuthenticator()
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)

	_, reason := a.Authenticate(r)
	assert.Equal(t, RejectMissingCreds, reason)
}

func TestHandshakeAuthenticator_ValidAgentKey(t *testing.T) {
	a := newTestAuthenticator()
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set(KeyCredentialHeader, "agent-key-1")

	p, reason := a.Authenticate(r)
	assert.Equal(t, RejectNone, reason)
	assert.Equal(t, "agent-1", p.AgentID)
	assert.Equal(t, "chan-1", p.ChannelID)
	assert.True(t, p.IsAgent())
}

func TestHandshakeAuthenticator_InvalidAgentKey(t *testing.T) {
	a := newTestAuthenticator()
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set(KeyCredentialHeader, "wrong-key")

	_, reason := a.Authenticate(r)
	assert.Equal(t, RejectInvalidKey, reason)
}

func TestHandshakeAuthenticator_ValidBearerToken(t *testing.T) {
	a := newTestAuthenticator()
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer user-token-1")

	p, reason := a.Authenticate(r)
	assert.Equal(t, RejectNone, reason)
	assert.Equal(t, "user-1", p.UserID)
	assert.False(t, p.IsAgent())
}

func TestHandshakeAuthenticator_MalformedBearerHeader(t *testing.T) {
	a := newTestAuthenticator()
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")

	_, reason := a.Authenticate(r)
	assert.Equal(t, RejectInvalidToken, reason)
}

func TestHandshakeAuthenticator_InvalidBearerToken(t *testing.T) {
	a := newTestAuthenticator()
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer does-not-exist")

	_, reason := a.Authenticate(r)
	assert.Equal(t, RejectInvalidToken, reason)
}
