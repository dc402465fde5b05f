package backend

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/marina/core/client"
)

func TestUserList(t *testing.T) {
	s := newTestService(t)
	c := client.NewWithRouter(s.router)

	var subjects []string
	status, err := c.RawGet("/users", &subjects)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, subjects)

	s.registeredClient(t, "alice")
	s.registeredClient(t, "bob")

	subjects = nil
	_, err = c.RawGet("/users", &subjects)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, subjects)
}

func TestUserProfile(t *testing.T) {
	s := newTestService(t)

	// unauthenticated visitors are sent to the login flow
	rec := s.request(client.NewWithRouter(s.router), http.MethodGet, "/user", "", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/auth/login", rec.Header().Get("Location"))

	var user User
	status, err := s.client("alice").RawGet("/user", &user)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alice", user.ID)
	assert.Equal(t, "http://localhost:3000/user", user.Self)
}

func TestRegisterSubject(t *testing.T) {
	s := newTestService(t)
	r := httptest.NewRequest(http.MethodGet, "/auth/callback", nil)

	require.NoError(t, s.backend.RegisterSubject(r, "alice"))
	// registering twice is fine and keeps a single user
	require.NoError(t, s.backend.RegisterSubject(r, "alice"))

	var subjects []string
	_, err := client.NewWithRouter(s.router).RawGet("/users", &subjects)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, subjects)

	// registration satisfies the boats access check
	status, err := s.client("alice").RawGet("/boats", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
}
