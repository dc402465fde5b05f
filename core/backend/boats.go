package backend

import (
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/marina/core"
	"github.com/relabs-tech/marina/core/access"
	"github.com/relabs-tech/marina/core/backend/store"
)

// boatCreate handles POST /boats. The authenticated subject becomes the
// owner; ownership is immutable after creation.
func (b *Backend) boatCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auth := access.AuthorizationFromContext(ctx)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "cannot read body")
		return
	}
	if err := b.jsonValidator.ValidateString(string(body), "boat"); err != nil {
		errorJSON(w, http.StatusBadRequest, "document validation failed: "+err.Error())
		return
	}
	var request boatEntity
	if err := json.Unmarshal(body, &request); err != nil {
		errorJSON(w, http.StatusBadRequest, "cannot parse body: "+err.Error())
		return
	}

	entity := boatEntity{
		Name:   request.Name,
		Type:   request.Type,
		Length: request.Length,
		Owner:  auth.Subject,
		Loads:  []LoadRef{},
	}
	doc, err := b.store.Insert(ctx, kindBoat, entity)
	if err != nil {
		b.respondError(w, r, "4102", err)
		return
	}
	boat, err := b.newBoat(doc, true)
	if err != nil {
		b.respondError(w, r, "4103", err)
		return
	}
	b.notify(kindBoat, core.OperationCreate, doc.Properties)
	respondJSON(w, http.StatusCreated, boat)
}

// boatGet handles GET /boats/{boatID}. Only the owner and admins can see
// a boat.
func (b *Backend) boatGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auth := access.AuthorizationFromContext(ctx)
	key, ok := pathKey(r, "boatID")
	if !ok {
		errorJSON(w, http.StatusNotFound, boatNotFound)
		return
	}
	doc, err := b.store.Get(ctx, kindBoat, key)
	if err == store.ErrNotFound {
		errorJSON(w, http.StatusNotFound, boatNotFound)
		return
	}
	if err != nil {
		b.respondError(w, r, "4104", err)
		return
	}
	boat, err := b.newBoat(doc, true)
	if err != nil {
		b.respondError(w, r, "4105", err)
		return
	}
	if boat.Owner != auth.Subject && !auth.HasRole("admin") {
		errorJSON(w, http.StatusForbidden, notBoatOwner)
		return
	}
	respondJSON(w, http.StatusOK, boat)
}

// boatList handles GET /boats
func (b *Backend) boatList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q, err := listQuery(r)
	if err != nil {
		b.respondError(w, r, "4106", err)
		return
	}
	page, err := b.store.List(ctx, kindBoat, q)
	if err != nil {
		b.respondError(w, r, "4107", err)
		return
	}
	list := BoatList{Items: make([]Boat, 0, len(page.Documents))}
	for _, doc := range page.Documents {
		boat, err := b.newBoat(doc, false)
		if err != nil {
			b.respondError(w, r, "4108", err)
			return
		}
		list.Items = append(list.Items, boat)
	}
	if page.NextCursor != "" {
		list.Next = b.nextURL("/boats", q, page.NextCursor)
	}
	respondJSON(w, http.StatusOK, list)
}

// boatUpdate handles PUT /boats/{boatID}. The body fully replaces name,
// type and length; owner and loads are preserved.
func (b *Backend) boatUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "cannot read body")
		return
	}
	if err := b.jsonValidator.ValidateString(string(body), "boat"); err != nil {
		errorJSON(w, http.StatusBadRequest, "document validation failed: "+err.Error())
		return
	}
	var request boatEntity
	if err := json.Unmarshal(body, &request); err != nil {
		errorJSON(w, http.StatusBadRequest, "cannot parse body: "+err.Error())
		return
	}
	b.writeBoat(w, r, "4109", func(entity *boatEntity) error {
		entity.Name = request.Name
		entity.Type = request.Type
		entity.Length = request.Length
		return nil
	})
}

// boatPatch handles PATCH /boats/{boatID}. Only the provided fields are
// merged over the stored values; owner and loads are preserved.
func (b *Backend) boatPatch(w http.ResponseWriter, r *http.Request) {
	var patch map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		errorJSON(w, http.StatusBadRequest, "cannot parse body: "+err.Error())
		return
	}
	b.writeBoat(w, r, "4110", func(entity *boatEntity) error {
		if value, ok := patch["name"]; ok {
			name, ok := value.(string)
			if !ok || name == "" {
				return abort(http.StatusBadRequest, "name must be a non-empty string")
			}
			entity.Name = name
		}
		if value, ok := patch["type"]; ok {
			boatType, ok := value.(string)
			if !ok || boatType == "" {
				return abort(http.StatusBadRequest, "type must be a non-empty string")
			}
			entity.Type = boatType
		}
		if value, ok := patch["length"]; ok {
			length, ok := value.(float64)
			if !ok || length <= 0 {
				return abort(http.StatusBadRequest, "length must be a positive number")
			}
			entity.Length = length
		}
		return nil
	})
}

// writeBoat runs modify on the stored boat inside a transaction, enforcing
// existence and ownership, and responds with the updated representation.
func (b *Backend) writeBoat(w http.ResponseWriter, r *http.Request, code string, modify func(entity *boatEntity) error) {
	ctx := r.Context()
	auth := access.AuthorizationFromContext(ctx)
	key, ok := pathKey(r, "boatID")
	if !ok {
		errorJSON(w, http.StatusNotFound, boatNotFound)
		return
	}
	var doc store.Document
	err := b.store.RunInTransaction(ctx, func(tx store.Store) error {
		stored, err := tx.Get(ctx, kindBoat, key)
		if err == store.ErrNotFound {
			return abort(http.StatusNotFound, boatNotFound)
		}
		if err != nil {
			return err
		}
		var entity boatEntity
		if err := stored.Decode(&entity); err != nil {
			return err
		}
		if entity.Owner != auth.Subject && !auth.HasRole("admin") {
			return abort(http.StatusForbidden, notBoatOwner)
		}
		if err := modify(&entity); err != nil {
			return err
		}
		doc, err = tx.Put(ctx, kindBoat, key, entity)
		return err
	})
	if err != nil {
		b.respondError(w, r, code, err)
		return
	}
	boat, err := b.newBoat(doc, true)
	if err != nil {
		b.respondError(w, r, code, err)
		return
	}
	b.notify(kindBoat, core.OperationUpdate, doc.Properties)
	respondJSON(w, http.StatusOK, boat)
}

// boatDelete handles DELETE /boats/{boatID}. All loads carried by the
// boat become unassigned.
func (b *Backend) boatDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auth := access.AuthorizationFromContext(ctx)
	key, ok := pathKey(r, "boatID")
	if !ok {
		errorJSON(w, http.StatusNotFound, boatNotFound)
		return
	}
	err := b.store.RunInTransaction(ctx, func(tx store.Store) error {
		doc, err := tx.Get(ctx, kindBoat, key)
		if err == store.ErrNotFound {
			return abort(http.StatusNotFound, boatNotFound)
		}
		if err != nil {
			return err
		}
		var entity boatEntity
		if err := doc.Decode(&entity); err != nil {
			return err
		}
		if entity.Owner != auth.Subject && !auth.HasRole("admin") {
			return abort(http.StatusForbidden, notBoatOwner)
		}
		return b.deleteBoatCascade(tx, r, key, entity)
	})
	if err != nil {
		b.respondError(w, r, "4111", err)
		return
	}
	b.notify(kindBoat, core.OperationDelete, []byte(`{"id":"`+key+`"}`))
	w.WriteHeader(http.StatusNoContent)
}
