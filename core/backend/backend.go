// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package backend implements the marina REST api: boats, the loads they
carry, and registered users, on top of the entity store.

Boats and loads reference each other through denormalized id fields. The
assignment routes and the cascading deletes keep both sides consistent;
every mutation that touches the relationship runs inside a single store
transaction.
*/
package backend

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/marina/core"
	"github.com/relabs-tech/marina/core/access"
	"github.com/relabs-tech/marina/core/backend/archive"
	"github.com/relabs-tech/marina/core/backend/schemas"
	"github.com/relabs-tech/marina/core/backend/store"
	"github.com/relabs-tech/marina/core/logger"
	"github.com/relabs-tech/marina/core/schema"
)

// Backend is the marina rest backend
type Backend struct {
	store         store.Store
	router        *mux.Router
	notifier      core.Notifier
	archive       archive.Driver
	jsonValidator *schema.Validator
	publicURL     string
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Store is the entity store. This is mandatory.
	Store store.Store
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Notifier receives entity mutation notifications. This is optional.
	Notifier core.Notifier
	// Archive stores entity snapshots created via the admin routes.
	// This is optional; without it the snapshot routes report the
	// archive as not configured.
	Archive archive.Driver
	// PublicURL is the base URL prepended to all self links, without a
	// trailing slash. This is optional.
	PublicURL string
}

// New realizes the actual backend. It adds all routes to the router.
func New(bb *Builder) *Backend {
	if bb.Store == nil {
		panic("Store is missing")
	}
	if bb.Router == nil {
		panic("Router is missing")
	}

	validator, err := schema.NewValidatorFromFS(schemas.FS)
	if err != nil {
		panic(fmt.Errorf("cannot load resource schemas: %w", err))
	}

	b := &Backend{
		store:         bb.Store,
		router:        bb.Router,
		notifier:      bb.Notifier,
		archive:       bb.Archive,
		jsonValidator: validator,
		publicURL:     bb.PublicURL,
	}

	access.HandleAuthorizationRoute(b.router)
	b.handleCORS()
	b.router.Use(handlers.CompressHandler)
	b.handleRoutes(b.router)
	return b
}

func (b *Backend) handleRoutes(router *mux.Router) {
	nillog := logger.FromContext(nil)
	nillog.Debugln("backend: handle routes")

	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errorJSON(w, http.StatusMethodNotAllowed, methodNotAllowed)
	})

	router.HandleFunc("/boats", b.registered(b.boatList)).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/boats", b.registered(b.boatCreate)).Methods(http.MethodOptions, http.MethodPost)
	router.HandleFunc("/boats/{boatID}", b.registered(b.boatGet)).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/boats/{boatID}", b.registered(b.boatUpdate)).Methods(http.MethodOptions, http.MethodPut)
	router.HandleFunc("/boats/{boatID}", b.registered(b.boatPatch)).Methods(http.MethodOptions, http.MethodPatch)
	router.HandleFunc("/boats/{boatID}", b.registered(b.boatDelete)).Methods(http.MethodOptions, http.MethodDelete)

	router.HandleFunc("/boats/{boatID}/loads/{loadID}", b.authenticated(b.loadAssign)).Methods(http.MethodOptions, http.MethodPut)
	router.HandleFunc("/boats/{boatID}/loads/{loadID}", b.authenticated(b.loadUnassign)).Methods(http.MethodOptions, http.MethodDelete)

	router.HandleFunc("/loads", b.acceptsJSON(b.loadList)).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/loads", b.acceptsJSON(b.loadCreate)).Methods(http.MethodOptions, http.MethodPost)
	router.HandleFunc("/loads/{loadID}", b.acceptsJSON(b.loadGet)).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/loads/{loadID}", b.acceptsJSON(b.loadUpdate)).Methods(http.MethodOptions, http.MethodPut)
	router.HandleFunc("/loads/{loadID}", b.acceptsJSON(b.loadPatch)).Methods(http.MethodOptions, http.MethodPatch)
	router.HandleFunc("/loads/{loadID}", b.acceptsJSON(b.loadDelete)).Methods(http.MethodOptions, http.MethodDelete)

	router.HandleFunc("/users", b.userList).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/user", b.userProfile).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/admin/snapshots", b.admin(b.snapshotCreate)).Methods(http.MethodOptions, http.MethodPost)
	router.HandleFunc("/admin/snapshots", b.admin(b.snapshotList)).Methods(http.MethodOptions, http.MethodGet)
}

// authenticated requires a verified bearer token or session cookie
func (b *Backend) authenticated(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := access.AuthorizationFromContext(r.Context())
		if auth == nil {
			errorJSON(w, http.StatusUnauthorized, missingToken)
			return
		}
		h(w, r)
	}
}

// registered additionally requires that the authenticated subject is a
// registered user. Admins pass regardless.
func (b *Backend) registered(h http.HandlerFunc) http.HandlerFunc {
	return b.authenticated(func(w http.ResponseWriter, r *http.Request) {
		auth := access.AuthorizationFromContext(r.Context())
		if !auth.HasRole("admin") {
			_, err := b.store.Get(r.Context(), kindUser, auth.Subject)
			if err == store.ErrNotFound {
				errorJSON(w, http.StatusForbidden, userNotRegistered)
				return
			}
			if err != nil {
				b.respondError(w, r, "4101", err)
				return
			}
		}
		h(w, r)
	})
}

// admin requires the admin role
func (b *Backend) admin(h http.HandlerFunc) http.HandlerFunc {
	return b.authenticated(func(w http.ResponseWriter, r *http.Request) {
		auth := access.AuthorizationFromContext(r.Context())
		if !auth.HasRole("admin") {
			errorJSON(w, http.StatusForbidden, adminRoleRequired)
			return
		}
		h(w, r)
	})
}

// acceptsJSON requires the client to accept application/json responses
func (b *Backend) acceptsJSON(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptableMediaType(r.Header.Get("Accept")) {
			errorJSON(w, http.StatusNotAcceptable, notAcceptable)
			return
		}
		h(w, r)
	}
}

func (b *Backend) notify(resource string, operation core.Operation, payload []byte) {
	if b.notifier == nil {
		return
	}
	b.notifier.Notify(resource, operation, payload)
}

// listQuery extracts limit and cursor from the request's query parameters.
// The limit defaults to 20 and is capped at 100.
func listQuery(r *http.Request) (store.Query, error) {
	q := store.Query{Limit: 20, Cursor: r.URL.Query().Get("cursor")}
	if value := r.URL.Query().Get("limit"); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil || limit < 1 || limit > 100 {
			return q, abort(http.StatusBadRequest, "limit must be an integer between 1 and 100")
		}
		q.Limit = limit
	}
	return q, nil
}
