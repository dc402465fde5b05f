package backend

import (
	"errors"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/marina/core/backend/store"
	"github.com/relabs-tech/marina/core/logger"
)

// canonical client error messages
const (
	missingToken        = "missing or invalid token"
	userNotRegistered   = "The user is not registered"
	adminRoleRequired   = "admin role required"
	boatNotFound        = "No boat with this id exists"
	loadNotFound        = "No load with this id exists"
	boatOrLoadNotFound  = "The specified boat and/or load does not exist"
	loadAlreadyAssigned = "The load is already assigned"
	loadOnAnotherBoat   = "The load is assigned to another boat"
	notBoatOwner        = "The boat is owned by someone else"
	notAcceptable       = "The server only serves application/json"
	methodNotAllowed    = "The method is not allowed for this route"
)

// errorJSON writes an error response with a body of {"Error": message}
func errorJSON(w http.ResponseWriter, status int, message string) {
	payload, _ := json.Marshal(map[string]string{"Error": message})
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(payload)
}

// requestError is a client error resolved locally by a handler or inside a
// store transaction
type requestError struct {
	status  int
	message string
}

func (e requestError) Error() string {
	return e.message
}

func abort(status int, message string) error {
	return requestError{status: status, message: message}
}

// respondError writes a client error as-is. Anything else is an unexpected
// server failure: it is logged with the given code, and only the opaque code
// is returned to the client.
func (b *Backend) respondError(w http.ResponseWriter, r *http.Request, code string, err error) {
	var re requestError
	if errors.As(err, &re) {
		errorJSON(w, re.status, re.message)
		return
	}
	if errors.Is(err, store.ErrInvalidCursor) {
		errorJSON(w, http.StatusBadRequest, err.Error())
		return
	}
	logger.FromContext(r.Context()).WithError(err).Errorf("Error %s: %s %s failed", code, r.Method, r.URL.Path)
	errorJSON(w, http.StatusInternalServerError, "Error "+code)
}

func acceptableMediaType(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		mediaType := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if mediaType == "application/json" || mediaType == "*/*" || mediaType == "application/*" {
			return true
		}
	}
	return false
}
