/*Package store provides the entity store, a key-addressed document store.

Documents are grouped by kind ("boat", "load", "user") and addressed by a
string key. Keys for inserted documents are allocated from a sequence and are
the decimal representation of the document's serial number; documents written
with Put can use arbitrary keys.

The store supports get-by-key, insert, update, delete and paginated listing
with opaque cursors. Mutations that have to stay consistent across several
documents run inside RunInTransaction.
*/
package store

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
)

// ErrNotFound is returned when the requested document does not exist
var ErrNotFound = errors.New("document not found")

// ErrInvalidCursor is returned when a listing cursor cannot be decoded.
// Cursors come from clients, so callers should treat this as a client error.
var ErrInvalidCursor = errors.New("invalid cursor")

var errLimitOutOfRange = errors.New("limit out of range")

// Document is a stored entity
type Document struct {
	Kind       string          `json:"kind"`
	Key        string          `json:"key"`
	Serial     int64           `json:"serial"`
	Timestamp  time.Time       `json:"timestamp"`
	Revision   int             `json:"revision"`
	Properties json.RawMessage `json:"properties"`
}

// Decode unmarshals the document's properties into value
func (d Document) Decode(value interface{}) error {
	return json.Unmarshal(d.Properties, value)
}

// Query describes a paginated listing request
type Query struct {
	// Limit is the maximum number of documents to return. Mandatory.
	Limit int
	// Cursor is an opaque continuation token from a previous page, or empty
	// for the first page.
	Cursor string
}

// Page is one page of a paginated listing
type Page struct {
	Documents []Document
	// NextCursor is the continuation token for the next page, or empty if
	// this was the last page.
	NextCursor string
	// TotalCount is the unfiltered number of documents of the queried kind.
	TotalCount int
}

// Store is the narrow interface to the entity store.
//
// Inside RunInTransaction, the callback receives a transaction-bound store;
// reads through it lock the documents they return until the transaction
// completes.
type Store interface {
	Get(ctx context.Context, kind, key string) (Document, error)
	Insert(ctx context.Context, kind string, value interface{}) (Document, error)
	Put(ctx context.Context, kind, key string, value interface{}) (Document, error)
	Delete(ctx context.Context, kind, key string) error
	List(ctx context.Context, kind string, q Query) (Page, error)
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error
}

func marshalValue(value interface{}) (json.RawMessage, error) {
	if raw, ok := value.(json.RawMessage); ok {
		return raw, nil
	}
	if raw, ok := value.([]byte); ok {
		return raw, nil
	}
	return json.Marshal(value)
}
