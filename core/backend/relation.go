package backend

import (
	"errors"
	"net/http"

	"github.com/relabs-tech/marina/core"
	"github.com/relabs-tech/marina/core/access"
	"github.com/relabs-tech/marina/core/backend/store"
)

// This file maintains the bidirectional association between boats and
// loads: for every load whose carrier names boat B, boat B's loads list
// contains that load, and vice versa. Both sides are separate documents,
// so every mutation updates them inside one store transaction. The row
// locks taken by transactional reads also serialize concurrent
// assignments of the same load.
//
// Row locks are always taken boat before load. Deleting a load must
// still discover its carrier first, so the cascade reads the load
// without a lock, locks the pair in order, and verifies the carrier has
// not changed in between.

// loadAssign handles PUT /boats/{boatID}/loads/{loadID}
func (b *Backend) loadAssign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auth := access.AuthorizationFromContext(ctx)
	boatKey, boatOK := pathKey(r, "boatID")
	loadKey, loadOK := pathKey(r, "loadID")
	if !boatOK || !loadOK {
		errorJSON(w, http.StatusNotFound, boatOrLoadNotFound)
		return
	}

	var boatDoc, loadDoc store.Document
	err := b.store.RunInTransaction(ctx, func(tx store.Store) error {
		boat, load, err := b.boatAndLoad(tx, r, boatKey, loadKey)
		if err != nil {
			return err
		}
		if boat.Owner != auth.Subject && !auth.HasRole("admin") {
			return abort(http.StatusForbidden, notBoatOwner)
		}
		if load.Carrier != nil {
			return abort(http.StatusForbidden, loadAlreadyAssigned)
		}
		load.Carrier = &Carrier{ID: boatKey, Name: boat.Name}
		boat.Loads = append(boat.Loads, LoadRef{ID: loadKey})
		if loadDoc, err = tx.Put(ctx, kindLoad, loadKey, load); err != nil {
			return err
		}
		boatDoc, err = tx.Put(ctx, kindBoat, boatKey, boat)
		return err
	})
	if err != nil {
		b.respondError(w, r, "4301", err)
		return
	}
	b.notify(kindLoad, core.OperationUpdate, loadDoc.Properties)
	b.notify(kindBoat, core.OperationUpdate, boatDoc.Properties)
	w.WriteHeader(http.StatusNoContent)
}

// loadUnassign handles DELETE /boats/{boatID}/loads/{loadID}
func (b *Backend) loadUnassign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auth := access.AuthorizationFromContext(ctx)
	boatKey, boatOK := pathKey(r, "boatID")
	loadKey, loadOK := pathKey(r, "loadID")
	if !boatOK || !loadOK {
		errorJSON(w, http.StatusNotFound, boatOrLoadNotFound)
		return
	}

	var boatDoc, loadDoc store.Document
	err := b.store.RunInTransaction(ctx, func(tx store.Store) error {
		boat, load, err := b.boatAndLoad(tx, r, boatKey, loadKey)
		if err != nil {
			return err
		}
		if boat.Owner != auth.Subject && !auth.HasRole("admin") {
			return abort(http.StatusForbidden, notBoatOwner)
		}
		if load.Carrier == nil || load.Carrier.ID != boatKey {
			return abort(http.StatusForbidden, loadOnAnotherBoat)
		}
		load.Carrier = nil
		boat.Loads = removeLoadRef(boat.Loads, loadKey)
		if loadDoc, err = tx.Put(ctx, kindLoad, loadKey, load); err != nil {
			return err
		}
		boatDoc, err = tx.Put(ctx, kindBoat, boatKey, boat)
		return err
	})
	if err != nil {
		b.respondError(w, r, "4302", err)
		return
	}
	b.notify(kindLoad, core.OperationUpdate, loadDoc.Properties)
	b.notify(kindBoat, core.OperationUpdate, boatDoc.Properties)
	w.WriteHeader(http.StatusNoContent)
}

// boatAndLoad reads both documents of an assignment pair. Either one
// missing reports the pair as not found.
func (b *Backend) boatAndLoad(tx store.Store, r *http.Request, boatKey, loadKey string) (boatEntity, loadEntity, error) {
	ctx := r.Context()
	var boat boatEntity
	var load loadEntity
	boatDoc, err := tx.Get(ctx, kindBoat, boatKey)
	if err == store.ErrNotFound {
		return boat, load, abort(http.StatusNotFound, boatOrLoadNotFound)
	}
	if err != nil {
		return boat, load, err
	}
	loadDoc, err := tx.Get(ctx, kindLoad, loadKey)
	if err == store.ErrNotFound {
		return boat, load, abort(http.StatusNotFound, boatOrLoadNotFound)
	}
	if err != nil {
		return boat, load, err
	}
	if err := boatDoc.Decode(&boat); err != nil {
		return boat, load, err
	}
	err = loadDoc.Decode(&load)
	return boat, load, err
}

// deleteBoatCascade deletes the boat and clears the carrier of every load
// it carries, all inside the passed transaction.
func (b *Backend) deleteBoatCascade(tx store.Store, r *http.Request, boatKey string, boat boatEntity) error {
	ctx := r.Context()
	for _, ref := range boat.Loads {
		loadDoc, err := tx.Get(ctx, kindLoad, ref.ID)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return err
		}
		var load loadEntity
		if err := loadDoc.Decode(&load); err != nil {
			return err
		}
		load.Carrier = nil
		if _, err := tx.Put(ctx, kindLoad, ref.ID, load); err != nil {
			return err
		}
	}
	return tx.Delete(ctx, kindBoat, boatKey)
}

// errStaleCarrier reports that a load's carrier changed between the
// unlocked pre-read and the locked re-read. The caller retries.
var errStaleCarrier = errors.New("carrier changed")

// deleteLoadCascade deletes the load and removes it from its carrier's
// loads list, all inside the passed transaction. carrierKey is the
// carrier observed before the transaction, or empty; it determines which
// boat row is locked before the load row.
func (b *Backend) deleteLoadCascade(tx store.Store, r *http.Request, loadKey, carrierKey string) error {
	ctx := r.Context()
	var boat boatEntity
	boatFound := false
	if carrierKey != "" {
		boatDoc, err := tx.Get(ctx, kindBoat, carrierKey)
		if err != nil && err != store.ErrNotFound {
			return err
		}
		if err == nil {
			if err := boatDoc.Decode(&boat); err != nil {
				return err
			}
			boatFound = true
		}
	}
	loadDoc, err := tx.Get(ctx, kindLoad, loadKey)
	if err == store.ErrNotFound {
		return abort(http.StatusNotFound, loadNotFound)
	}
	if err != nil {
		return err
	}
	var load loadEntity
	if err := loadDoc.Decode(&load); err != nil {
		return err
	}
	current := ""
	if load.Carrier != nil {
		current = load.Carrier.ID
	}
	if current != carrierKey {
		return errStaleCarrier
	}
	if boatFound {
		boat.Loads = removeLoadRef(boat.Loads, loadKey)
		if _, err := tx.Put(ctx, kindBoat, carrierKey, boat); err != nil {
			return err
		}
	}
	return tx.Delete(ctx, kindLoad, loadKey)
}

// removeLoadRef removes the first entry with the given id
func removeLoadRef(refs []LoadRef, id string) []LoadRef {
	for i, ref := range refs {
		if ref.ID == id {
			return append(refs[:i], refs[i+1:]...)
		}
	}
	return refs
}
