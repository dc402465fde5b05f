package access

import (
	"crypto/rsa"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/marina/core/logger"
)

// SessionCookie is the name of the session cookie carrying the JWT for
// browser clients. The jwt middleware accepts it as an alternative to the
// Authorization header.
const SessionCookie = "Marina-JWT"

const keyRefreshInterval = 6 * time.Hour

// KeySet holds the identity provider's public keys, indexed by key id.
//
// A key set is either constructed from a static map of PEM certificates, or
// from the provider's certificate download URL. In the latter case the set
// refreshes itself when a lookup misses and the last download is older than
// six hours.
type KeySet struct {
	mutex        sync.RWMutex
	keys         map[string]*rsa.PublicKey
	downloadURL  string
	downloadedAt time.Time
}

// NewKeySetFromCertificates creates a key set from a static map of key id
// to PEM encoded x509 certificate.
func NewKeySetFromCertificates(certificates map[string]string) (*KeySet, error) {
	k := &KeySet{keys: map[string]*rsa.PublicKey{}}
	if err := k.addCertificates(certificates); err != nil {
		return nil, err
	}
	return k, nil
}

// NewKeySetFromURL creates a key set from a certificate download URL. In case
// of google, this would be
//
//	"https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"
func NewKeySetFromURL(downloadURL string) (*KeySet, error) {
	k := &KeySet{keys: map[string]*rsa.PublicKey{}, downloadURL: downloadURL}
	if err := k.download(); err != nil {
		return nil, err
	}
	return k, nil
}

// AddPublicKey adds a single public key to the set.
func (k *KeySet) AddPublicKey(kid string, key *rsa.PublicKey) {
	k.mutex.Lock()
	k.keys[kid] = key
	k.mutex.Unlock()
}

func (k *KeySet) addCertificates(certificates map[string]string) error {
	k.mutex.Lock()
	defer k.mutex.Unlock()
	for kid, cert := range certificates {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cert))
		if err != nil {
			return err
		}
		k.keys[kid] = key
	}
	return nil
}

func (k *KeySet) download() error {
	res, err := http.Get(k.downloadURL)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	var certificates map[string]string
	if err := json.NewDecoder(res.Body).Decode(&certificates); err != nil {
		return err
	}
	if err := k.addCertificates(certificates); err != nil {
		return err
	}
	k.mutex.Lock()
	k.downloadedAt = time.Now()
	k.mutex.Unlock()
	return nil
}

// Keyfunc looks up the key for the token's kid header. It satisfies jwt.Keyfunc.
func (k *KeySet) Keyfunc(token *jwt.Token) (interface{}, error) {
	kid, _ := token.Header["kid"].(string)
	k.mutex.RLock()
	key, ok := k.keys[kid]
	stale := k.downloadURL != "" && time.Since(k.downloadedAt) > keyRefreshInterval
	k.mutex.RUnlock()
	if ok {
		return key, nil
	}
	if stale {
		if err := k.download(); err != nil {
			logger.Default().WithError(err).Warningln("cannot refresh provider keys")
			return nil, errors.New("cannot verify token")
		}
		k.mutex.RLock()
		key, ok = k.keys[kid]
		k.mutex.RUnlock()
		if ok {
			return key, nil
		}
	}
	return nil, errors.New("cannot verify token")
}

// JwtMiddlewareBuilder is a helper builder for the jwt middleware
type JwtMiddlewareBuilder struct {
	// Keys is the identity provider's key set. This is mandatory.
	Keys *KeySet
	// Issuer is the accepted issuer for the token. This is mandatory.
	Issuer string
	// AdminSubjects is an optional list of subject identifiers which are
	// granted the "admin" role.
	AdminSubjects []string
}

// NewJwtMiddleware returns a middleware handler to validate JWT bearer token.
//
// JWT are accepted as "Authorization: Bearer" header or as session cookie.
//
// The middleware authenticates the requester and stores the token's subject
// identifier as identity in the request context, together with an
// authorization object. Requests without any token pass through
// unauthenticated; it is up to the route handlers to reject those. A request
// with a token that cannot be verified is answered with
// http.StatusUnauthorized.
func NewJwtMiddleware(jmb *JwtMiddlewareBuilder) mux.MiddlewareFunc {
	if jmb.Keys == nil {
		panic("key set is missing")
	}
	authCache := NewAuthorizationCache()

	isAdmin := func(subject string) bool {
		for _, s := range jmb.AdminSubjects {
			if s == subject {
				return true
			}
		}
		return false
	}

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := AuthorizationFromContext(r.Context())
			identity := IdentityFromContext(r.Context())

			if auth != nil || len(identity) > 0 { // already authorized or at least authenticated?
				h.ServeHTTP(w, r)
				return
			}

			tokenString := ""
			bearer := r.Header.Get("Authorization")
			if len(bearer) > 0 && bearer != "null" {
				if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
					tokenString = bearer[7:]
				} else {
					tokenString = bearer
				}
			} else if cookie, _ := r.Cookie(SessionCookie); cookie != nil {
				tokenString = cookie.Value
			}
			if len(tokenString) == 0 {
				h.ServeHTTP(w, r) // no token no auth, moving on
				return
			}

			auth = authCache.Read(tokenString)
			if auth == nil {
				claims := jwt.RegisteredClaims{}
				token, err := jwt.ParseWithClaims(tokenString, &claims, jmb.Keys.Keyfunc)
				if err != nil || !token.Valid || claims.Issuer != jmb.Issuer || claims.Subject == "" {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusUnauthorized)
					json.NewEncoder(w).Encode(map[string]string{"Error": "invalid token"})
					return
				}
				auth = &Authorization{Subject: claims.Subject}
				if isAdmin(claims.Subject) {
					auth.Roles = []string{"admin"}
				}
				authCache.Write(tokenString, auth)
			}

			// now that we have authenticated the requester, we store their identity in the context
			ctx := ContextWithIdentity(r.Context(), auth.Subject)
			ctx, _ = logger.ContextWithLoggerIdentity(ctx, auth.Subject)
			ctx = auth.ContextWithAuthorization(ctx)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
