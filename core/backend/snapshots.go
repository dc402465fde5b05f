package backend

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/marina/core"
	"github.com/relabs-tech/marina/core/backend/store"
)

// snapshotCreate handles POST /admin/snapshots. It exports all documents
// of every kind to the archive, one object per kind.
func (b *Backend) snapshotCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if b.archive == nil {
		errorJSON(w, http.StatusServiceUnavailable, "archive is not configured")
		return
	}

	name := time.Now().UTC().Format("20060102-150405")
	total := 0
	for _, kind := range []string{kindBoat, kindLoad, kindUser} {
		documents := []store.Document{}
		cursor := ""
		for {
			page, err := b.store.List(ctx, kind, store.Query{Limit: 100, Cursor: cursor})
			if err != nil {
				b.respondError(w, r, "4501", err)
				return
			}
			documents = append(documents, page.Documents...)
			if page.NextCursor == "" {
				break
			}
			cursor = page.NextCursor
		}
		data, err := json.Marshal(documents)
		if err != nil {
			b.respondError(w, r, "4502", err)
			return
		}
		if err := b.archive.Store(ctx, name+"/"+core.Plural(kind)+".json", data); err != nil {
			b.respondError(w, r, "4503", err)
			return
		}
		total += len(documents)
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"snapshot":  name,
		"documents": total,
	})
}

// snapshotList handles GET /admin/snapshots
func (b *Backend) snapshotList(w http.ResponseWriter, r *http.Request) {
	if b.archive == nil {
		errorJSON(w, http.StatusServiceUnavailable, "archive is not configured")
		return
	}
	keys, err := b.archive.ListAllWithPrefix(r.Context(), "")
	if err != nil {
		b.respondError(w, r, "4504", err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	respondJSON(w, http.StatusOK, keys)
}
