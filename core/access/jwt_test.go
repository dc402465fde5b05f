package access_test

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/marina/core/access"
)

const testIssuer = "https://issuer.example.com/"

func newSigningKey(t *testing.T) (*rsa.PrivateKey, *access.KeySet) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keys, err := access.NewKeySetFromCertificates(nil)
	require.NoError(t, err)
	keys.AddPublicKey("test", &key.PublicKey)
	return key, keys
}

func signToken(t *testing.T, key *rsa.PrivateKey, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Issuer:    testIssuer,
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test"
	tokenString, err := token.SignedString(key)
	require.NoError(t, err)
	return tokenString
}

func newTestRouter(key *rsa.PrivateKey, keys *access.KeySet, adminSubjects ...string) *mux.Router {
	router := mux.NewRouter()
	router.Use(access.NewJwtMiddleware(&access.JwtMiddlewareBuilder{
		Keys:          keys,
		Issuer:        testIssuer,
		AdminSubjects: adminSubjects,
	}))
	router.HandleFunc("/whoami", func(w http.ResponseWriter, r *http.Request) {
		identity := access.IdentityFromContext(r.Context())
		if identity == "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Write([]byte(identity))
	}).Methods(http.MethodGet)
	return router
}

func TestJwtMiddlewareBearer(t *testing.T) {
	key, keys := newSigningKey(t)
	router := newTestRouter(key, keys)

	r := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, key, "auth0|billie"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "auth0|billie", w.Body.String())
}

func TestJwtMiddlewareSessionCookie(t *testing.T) {
	key, keys := newSigningKey(t)
	router := newTestRouter(key, keys)

	r := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	r.AddCookie(&http.Cookie{Name: access.SessionCookie, Value: signToken(t, key, "auth0|ren")})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "auth0|ren", w.Body.String())
}

func TestJwtMiddlewareNoToken(t *testing.T) {
	key, keys := newSigningKey(t)
	router := newTestRouter(key, keys)

	// no token is not an error, the request passes through unauthenticated
	r := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestJwtMiddlewareInvalidToken(t *testing.T) {
	key, keys := newSigningKey(t)
	router := newTestRouter(key, keys)

	r := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	r.Header.Set("Authorization", "Bearer not.a.token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"Error":"invalid token"}`, w.Body.String())
}

func TestJwtMiddlewareWrongIssuer(t *testing.T) {
	key, keys := newSigningKey(t)
	router := newTestRouter(key, keys)

	claims := jwt.RegisteredClaims{
		Issuer:    "https://somebody.else.example.com/",
		Subject:   "auth0|mallory",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test"
	tokenString, err := token.SignedString(key)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	r.Header.Set("Authorization", "Bearer "+tokenString)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJwtMiddlewareAdminRole(t *testing.T) {
	key, keys := newSigningKey(t)
	router := mux.NewRouter()
	router.Use(access.NewJwtMiddleware(&access.JwtMiddlewareBuilder{
		Keys:          keys,
		Issuer:        testIssuer,
		AdminSubjects: []string{"auth0|admin"},
	}))
	access.HandleAuthorizationRoute(router)

	r := httptest.NewRequest(http.MethodGet, "/authorization", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, key, "auth0|admin"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"admin"`)
}
