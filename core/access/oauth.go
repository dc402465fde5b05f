package access

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/marina/core/logger"
)

// stateCookie carries the anti-forgery state between login and callback.
const stateCookie = "Marina-Auth-State"

// OAuthAPIBuilder is a helper builder for the OAuthAPI
type OAuthAPIBuilder struct {
	// ClientID is the OAuth client id registered with the identity provider. Mandatory.
	ClientID string
	// ClientSecret is the OAuth client secret. Mandatory.
	ClientSecret string
	// AuthorizeURL is the provider's authorization endpoint. Mandatory.
	AuthorizeURL string
	// TokenURL is the provider's token endpoint. Mandatory.
	TokenURL string
	// LogoutURL is the provider's logout endpoint. Optional; logout redirects
	// to "/" when empty.
	LogoutURL string
	// RedirectURL is the public URL of the /auth/callback route. Mandatory.
	RedirectURL string
	// Issuer is the accepted issuer for the provider's id tokens. Mandatory.
	Issuer string
	// Keys is the provider's key set, shared with the jwt middleware. Mandatory.
	Keys *KeySet
	// Router is a mux router. Mandatory.
	Router *mux.Router
	// RegisterSubject is called with the authenticated subject identifier
	// after a successful login. Optional.
	RegisterSubject func(r *http.Request, subject string) error
	// Client is the http client for the token exchange. Optional.
	Client *http.Client
}

// OAuthAPI implements the OAuth login flow against the identity provider:
// /auth/login redirects to the provider, /auth/callback exchanges the
// authorization code for tokens and establishes the session cookie,
// /auth/logout clears it again.
type OAuthAPI struct {
	b      *OAuthAPIBuilder
	client *http.Client
}

// MustNewOAuthAPI realizes the OAuth login flow. It panics on invalid configuration.
func MustNewOAuthAPI(b *OAuthAPIBuilder) *OAuthAPI {
	if b.ClientID == "" || b.ClientSecret == "" {
		panic("OAuth client credentials are missing")
	}
	if b.AuthorizeURL == "" || b.TokenURL == "" || b.RedirectURL == "" {
		panic("OAuth provider endpoints are missing")
	}
	if b.Keys == nil {
		panic("key set is missing")
	}
	if b.Router == nil {
		panic("router is missing")
	}

	a := &OAuthAPI{b: b, client: b.Client}
	if a.client == nil {
		a.client = &http.Client{Timeout: 20 * time.Second}
	}

	b.Router.HandleFunc("/auth/login", a.login).Methods(http.MethodGet)
	b.Router.HandleFunc("/auth/callback", a.callback).Methods(http.MethodGet)
	b.Router.HandleFunc("/auth/logout", a.logout).Methods(http.MethodGet)
	return a
}

func (a *OAuthAPI) login(w http.ResponseWriter, r *http.Request) {
	state := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
	})

	query := url.Values{}
	query.Set("response_type", "code")
	query.Set("client_id", a.b.ClientID)
	query.Set("redirect_uri", a.b.RedirectURL)
	query.Set("scope", "openid profile")
	query.Set("state", state)
	http.Redirect(w, r, a.b.AuthorizeURL+"?"+query.Encode(), http.StatusSeeOther)
}

func (a *OAuthAPI) callback(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())

	urlQuery := r.URL.Query()
	if e := urlQuery.Get("error"); e != "" {
		rlog.Errorf("Error 3811: provider returned '%s' (%s)", e, urlQuery.Get("error_description"))
		errorJSON(w, http.StatusInternalServerError, "identity provider error")
		return
	}

	cookie, _ := r.Cookie(stateCookie)
	if cookie == nil || cookie.Value == "" || cookie.Value != urlQuery.Get("state") {
		errorJSON(w, http.StatusBadRequest, "state mismatch")
		return
	}

	code := urlQuery.Get("code")
	if code == "" {
		errorJSON(w, http.StatusBadRequest, "authorization code missing")
		return
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", a.b.ClientID)
	form.Set("client_secret", a.b.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", a.b.RedirectURL)

	res, err := a.client.Post(a.b.TokenURL, "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()))
	if err != nil {
		rlog.WithError(err).Errorln("Error 3812: token exchange failed")
		errorJSON(w, http.StatusInternalServerError, "identity provider error")
		return
	}
	defer res.Body.Close()
	var tokens struct {
		IDToken string `json:"id_token"`
	}
	if err := json.NewDecoder(res.Body).Decode(&tokens); err != nil || res.StatusCode != http.StatusOK || tokens.IDToken == "" {
		rlog.Errorf("Error 3813: token exchange returned status %d", res.StatusCode)
		errorJSON(w, http.StatusInternalServerError, "identity provider error")
		return
	}

	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokens.IDToken, &claims, a.b.Keys.Keyfunc)
	if err != nil || !token.Valid || claims.Issuer != a.b.Issuer || claims.Subject == "" {
		rlog.WithError(err).Errorln("Error 3814: provider issued an unverifiable token")
		errorJSON(w, http.StatusInternalServerError, "identity provider error")
		return
	}

	if a.b.RegisterSubject != nil {
		if err := a.b.RegisterSubject(r, claims.Subject); err != nil {
			rlog.WithError(err).Errorln("Error 3815: cannot register subject")
			errorJSON(w, http.StatusInternalServerError, "cannot register user")
			return
		}
	}

	session := &http.Cookie{
		Name:     SessionCookie,
		Value:    tokens.IDToken,
		Path:     "/",
		HttpOnly: true,
	}
	if claims.ExpiresAt != nil {
		session.Expires = claims.ExpiresAt.Time
	}
	http.SetCookie(w, session)

	// the state cookie is single use
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/", MaxAge: -1})

	http.Redirect(w, r, "/user", http.StatusSeeOther)
}

func (a *OAuthAPI) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Path: "/", MaxAge: -1, HttpOnly: true})
	target := a.b.LogoutURL
	if target == "" {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func errorJSON(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"Error": message})
}
