package backend

import (
	"net/http"

	"github.com/relabs-tech/marina/core"
	"github.com/relabs-tech/marina/core/access"
	"github.com/relabs-tech/marina/core/backend/store"
)

// userList handles GET /users. It returns the subject identifiers of all
// registered users.
func (b *Backend) userList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subjects := []string{}
	cursor := ""
	for {
		page, err := b.store.List(ctx, kindUser, store.Query{Limit: 100, Cursor: cursor})
		if err != nil {
			b.respondError(w, r, "4401", err)
			return
		}
		for _, doc := range page.Documents {
			subjects = append(subjects, doc.Key)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	respondJSON(w, http.StatusOK, subjects)
}

// userProfile handles GET /user. Unauthenticated visitors are redirected
// to the login flow.
func (b *Backend) userProfile(w http.ResponseWriter, r *http.Request) {
	auth := access.AuthorizationFromContext(r.Context())
	if auth == nil {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}
	respondJSON(w, http.StatusOK, User{ID: auth.Subject, Self: b.publicURL + "/user"})
}

// RegisterSubject makes the subject a registered user. It is called from
// the login callback and is idempotent: an already registered subject is
// left untouched. The read-modify-write runs in a transaction so that two
// concurrent logins of the same subject cannot create duplicate users.
func (b *Backend) RegisterSubject(r *http.Request, subject string) error {
	ctx := r.Context()
	created := false
	err := b.store.RunInTransaction(ctx, func(tx store.Store) error {
		_, err := tx.Get(ctx, kindUser, subject)
		if err == nil {
			return nil
		}
		if err != store.ErrNotFound {
			return err
		}
		if _, err := tx.Put(ctx, kindUser, subject, userEntity{}); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err == nil && created {
		b.notify(kindUser, core.OperationCreate, []byte(`{"id":"`+subject+`"}`))
	}
	return err
}
