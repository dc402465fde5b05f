package backend

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/marina/core/client"
)

func TestBoatCreate(t *testing.T) {
	s := newTestService(t)
	c := s.registeredClient(t, "alice")

	var boat Boat
	status, err := c.RawPost("/boats", map[string]interface{}{
		"name": "Orca", "type": "sail", "length": 12,
	}, &boat)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.NotEmpty(t, boat.ID)
	assert.Equal(t, "Orca", boat.Name)
	assert.Equal(t, "sail", boat.Type)
	assert.Equal(t, 12.0, boat.Length)
	assert.Equal(t, "alice", boat.Owner)
	require.NotNil(t, boat.Loads)
	assert.Empty(t, *boat.Loads)
	assert.Equal(t, "http://localhost:3000/boats/"+boat.ID, boat.Self)

	assert.Contains(t, s.notifier.all(), "boat.create")
}

func TestBoatCreateValidation(t *testing.T) {
	s := newTestService(t)
	c := s.registeredClient(t, "alice")

	for name, body := range map[string]string{
		"missing name":   `{"type":"sail","length":12}`,
		"missing type":   `{"name":"Orca","length":12}`,
		"missing length": `{"name":"Orca","type":"sail"}`,
		"bad length":     `{"name":"Orca","type":"sail","length":"long"}`,
	} {
		rec := s.request(c, http.MethodPost, "/boats", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestBoatRequiresAuthentication(t *testing.T) {
	s := newTestService(t)
	anonymous := client.NewWithRouter(s.router)

	rec := s.request(anonymous, http.MethodGet, "/boats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBoatRequiresRegistration(t *testing.T) {
	s := newTestService(t)
	c := s.client("stranger")

	rec := s.request(c, http.MethodPost, "/boats", `{"name":"Orca","type":"sail","length":12}`, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"Error":"The user is not registered"}`, rec.Body.String())
}

func TestBoatGet(t *testing.T) {
	s := newTestService(t)
	alice := s.registeredClient(t, "alice")
	bob := s.registeredClient(t, "bob")

	var boat Boat
	_, err := alice.RawPost("/boats", map[string]interface{}{
		"name": "Orca", "type": "sail", "length": 12,
	}, &boat)
	require.NoError(t, err)

	var read Boat
	status, err := alice.RawGet("/boats/"+boat.ID, &read)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, boat.ID, read.ID)

	// not the owner
	rec := s.request(bob, http.MethodGet, "/boats/"+boat.ID, "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"Error":"The boat is owned by someone else"}`, rec.Body.String())

	// admins can read any boat
	admin := client.NewWithRouter(s.router).WithAdminAuthorization("admin")
	status, err = admin.RawGet("/boats/"+boat.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	// absent and malformed ids
	rec = s.request(alice, http.MethodGet, "/boats/98765", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.request(alice, http.MethodGet, "/boats/orca", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBoatListPagination(t *testing.T) {
	s := newTestService(t)
	c := s.registeredClient(t, "alice")

	ids := map[string]bool{}
	for i := 0; i < 5; i++ {
		var boat Boat
		_, err := c.RawPost("/boats", map[string]interface{}{
			"name": "Orca", "type": "sail", "length": 12,
		}, &boat)
		require.NoError(t, err)
		ids[boat.ID] = false
	}

	var list BoatList
	status, err := c.RawGet("/boats?limit=2", &list)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, list.Items, 2)
	require.NotEmpty(t, list.Next)
	// list views do not expand the loads
	assert.Nil(t, list.Items[0].Loads)

	total := 0
	for {
		for _, boat := range list.Items {
			seen, ok := ids[boat.ID]
			require.True(t, ok)
			require.False(t, seen, "boat %s returned twice", boat.ID)
			ids[boat.ID] = true
			total++
		}
		if list.Next == "" {
			break
		}
		next := strings.TrimPrefix(list.Next, "http://localhost:3000")
		list = BoatList{}
		_, err = c.RawGet(next, &list)
		require.NoError(t, err)
	}
	assert.Equal(t, 5, total)
}

func TestBoatUpdate(t *testing.T) {
	s := newTestService(t)
	alice := s.registeredClient(t, "alice")
	bob := s.registeredClient(t, "bob")

	var boat Boat
	_, err := alice.RawPost("/boats", map[string]interface{}{
		"name": "Orca", "type": "sail", "length": 12,
	}, &boat)
	require.NoError(t, err)

	var updated Boat
	status, err := alice.RawPut("/boats/"+boat.ID, map[string]interface{}{
		"name": "Orca II", "type": "motor", "length": 14,
	}, &updated)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Orca II", updated.Name)
	assert.Equal(t, "motor", updated.Type)
	assert.Equal(t, 14.0, updated.Length)
	// the owner survives a full replace
	assert.Equal(t, "alice", updated.Owner)

	rec := s.request(bob, http.MethodPut, "/boats/"+boat.ID, `{"name":"Mine","type":"sail","length":9}`, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBoatPatch(t *testing.T) {
	s := newTestService(t)
	alice := s.registeredClient(t, "alice")

	var boat Boat
	_, err := alice.RawPost("/boats", map[string]interface{}{
		"name": "Orca", "type": "sail", "length": 12,
	}, &boat)
	require.NoError(t, err)

	var patched Boat
	status, err := alice.RawPatch("/boats/"+boat.ID, map[string]interface{}{
		"length": 13,
	}, &patched)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 13.0, patched.Length)
	// untouched fields keep their stored values
	assert.Equal(t, "Orca", patched.Name)
	assert.Equal(t, "sail", patched.Type)
	assert.Equal(t, "alice", patched.Owner)

	rec := s.request(alice, http.MethodPatch, "/boats/"+boat.ID, `{"length":"long"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBoatDelete(t *testing.T) {
	s := newTestService(t)
	alice := s.registeredClient(t, "alice")
	bob := s.registeredClient(t, "bob")

	var boat Boat
	_, err := alice.RawPost("/boats", map[string]interface{}{
		"name": "Orca", "type": "sail", "length": 12,
	}, &boat)
	require.NoError(t, err)

	rec := s.request(bob, http.MethodDelete, "/boats/"+boat.ID, "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	status, err := alice.RawDelete("/boats/" + boat.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)

	rec = s.request(alice, http.MethodGet, "/boats/"+boat.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
