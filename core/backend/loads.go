package backend

import (
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/marina/core"
	"github.com/relabs-tech/marina/core/backend/store"
)

// creationDateFormat is the date format of a load's creation_date
const creationDateFormat = "01/02/2006"

// loadCreate handles POST /loads. The creation date is set by the server;
// new loads start unassigned.
func (b *Backend) loadCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "cannot read body")
		return
	}
	if err := b.jsonValidator.ValidateString(string(body), "load"); err != nil {
		errorJSON(w, http.StatusBadRequest, "document validation failed: "+err.Error())
		return
	}
	var request loadEntity
	if err := json.Unmarshal(body, &request); err != nil {
		errorJSON(w, http.StatusBadRequest, "cannot parse body: "+err.Error())
		return
	}

	entity := loadEntity{
		Volume:       request.Volume,
		Content:      request.Content,
		CreationDate: time.Now().UTC().Format(creationDateFormat),
	}
	doc, err := b.store.Insert(ctx, kindLoad, entity)
	if err != nil {
		b.respondError(w, r, "4202", err)
		return
	}
	load, err := b.newLoad(doc)
	if err != nil {
		b.respondError(w, r, "4203", err)
		return
	}
	b.notify(kindLoad, core.OperationCreate, doc.Properties)
	respondJSON(w, http.StatusCreated, load)
}

// loadGet handles GET /loads/{loadID}
func (b *Backend) loadGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, ok := pathKey(r, "loadID")
	if !ok {
		errorJSON(w, http.StatusNotFound, loadNotFound)
		return
	}
	doc, err := b.store.Get(ctx, kindLoad, key)
	if err == store.ErrNotFound {
		errorJSON(w, http.StatusNotFound, loadNotFound)
		return
	}
	if err != nil {
		b.respondError(w, r, "4204", err)
		return
	}
	load, err := b.newLoad(doc)
	if err != nil {
		b.respondError(w, r, "4205", err)
		return
	}
	respondJSON(w, http.StatusOK, load)
}

// loadList handles GET /loads
func (b *Backend) loadList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q, err := listQuery(r)
	if err != nil {
		b.respondError(w, r, "4206", err)
		return
	}
	page, err := b.store.List(ctx, kindLoad, q)
	if err != nil {
		b.respondError(w, r, "4207", err)
		return
	}
	list := LoadList{Items: make([]Load, 0, len(page.Documents))}
	for _, doc := range page.Documents {
		load, err := b.newLoad(doc)
		if err != nil {
			b.respondError(w, r, "4208", err)
			return
		}
		list.Items = append(list.Items, load)
	}
	if page.NextCursor != "" {
		list.Next = b.nextURL("/loads", q, page.NextCursor)
	}
	respondJSON(w, http.StatusOK, list)
}

// loadUpdate handles PUT /loads/{loadID}. The body fully replaces volume
// and content; creation date and carrier are preserved.
func (b *Backend) loadUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "cannot read body")
		return
	}
	if err := b.jsonValidator.ValidateString(string(body), "load"); err != nil {
		errorJSON(w, http.StatusBadRequest, "document validation failed: "+err.Error())
		return
	}
	var request loadEntity
	if err := json.Unmarshal(body, &request); err != nil {
		errorJSON(w, http.StatusBadRequest, "cannot parse body: "+err.Error())
		return
	}
	b.writeLoad(w, r, "4209", func(entity *loadEntity) error {
		entity.Volume = request.Volume
		entity.Content = request.Content
		return nil
	})
}

// loadPatch handles PATCH /loads/{loadID}. Only the provided fields are
// merged over the stored values.
func (b *Backend) loadPatch(w http.ResponseWriter, r *http.Request) {
	var patch map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		errorJSON(w, http.StatusBadRequest, "cannot parse body: "+err.Error())
		return
	}
	b.writeLoad(w, r, "4210", func(entity *loadEntity) error {
		if value, ok := patch["volume"]; ok {
			volume, ok := value.(float64)
			if !ok || volume <= 0 {
				return abort(http.StatusBadRequest, "volume must be a positive number")
			}
			entity.Volume = volume
		}
		if value, ok := patch["content"]; ok {
			content, ok := value.(string)
			if !ok || content == "" {
				return abort(http.StatusBadRequest, "content must be a non-empty string")
			}
			entity.Content = content
		}
		return nil
	})
}

// writeLoad runs modify on the stored load inside a transaction and
// responds with the updated representation.
func (b *Backend) writeLoad(w http.ResponseWriter, r *http.Request, code string, modify func(entity *loadEntity) error) {
	ctx := r.Context()
	key, ok := pathKey(r, "loadID")
	if !ok {
		errorJSON(w, http.StatusNotFound, loadNotFound)
		return
	}
	var doc store.Document
	err := b.store.RunInTransaction(ctx, func(tx store.Store) error {
		stored, err := tx.Get(ctx, kindLoad, key)
		if err == store.ErrNotFound {
			return abort(http.StatusNotFound, loadNotFound)
		}
		if err != nil {
			return err
		}
		var entity loadEntity
		if err := stored.Decode(&entity); err != nil {
			return err
		}
		if err := modify(&entity); err != nil {
			return err
		}
		doc, err = tx.Put(ctx, kindLoad, key, entity)
		return err
	})
	if err != nil {
		b.respondError(w, r, code, err)
		return
	}
	load, err := b.newLoad(doc)
	if err != nil {
		b.respondError(w, r, code, err)
		return
	}
	b.notify(kindLoad, core.OperationUpdate, doc.Properties)
	respondJSON(w, http.StatusOK, load)
}

// loadDelete handles DELETE /loads/{loadID}. An assigned load is removed
// from its carrier's loads list.
func (b *Backend) loadDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, ok := pathKey(r, "loadID")
	if !ok {
		errorJSON(w, http.StatusNotFound, loadNotFound)
		return
	}
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		carrierKey := ""
		if doc, getErr := b.store.Get(ctx, kindLoad, key); getErr == nil {
			var entity loadEntity
			if err = doc.Decode(&entity); err != nil {
				b.respondError(w, r, "4211", err)
				return
			}
			if entity.Carrier != nil {
				carrierKey = entity.Carrier.ID
			}
		}
		err = b.store.RunInTransaction(ctx, func(tx store.Store) error {
			return b.deleteLoadCascade(tx, r, key, carrierKey)
		})
		if err != errStaleCarrier {
			break
		}
	}
	if err != nil {
		b.respondError(w, r, "4211", err)
		return
	}
	b.notify(kindLoad, core.OperationDelete, []byte(`{"id":"`+key+`"}`))
	w.WriteHeader(http.StatusNoContent)
}
