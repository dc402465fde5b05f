package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-memory entity store for tests and ephemeral environments.
//
// A single mutex serializes transactions, which gives the same isolation the
// postgres store achieves with row locks. Transactions are rolled back by
// restoring a snapshot of the state.
type Memory struct {
	mutex  sync.Mutex
	serial int64
	kinds  map[string]map[string]Document

	parent *Memory // set for transaction-bound stores
}

// NewMemory creates a new empty in-memory entity store
func NewMemory() *Memory {
	return &Memory{kinds: map[string]map[string]Document{}}
}

func (m *Memory) root() *Memory {
	if m.parent != nil {
		return m.parent
	}
	return m
}

func (m *Memory) lock() func() {
	if m.parent != nil {
		return func() {} // the transaction already holds the mutex
	}
	m.mutex.Lock()
	return m.mutex.Unlock
}

func (m *Memory) snapshot() map[string]map[string]Document {
	kinds := make(map[string]map[string]Document, len(m.kinds))
	for kind, docs := range m.kinds {
		copied := make(map[string]Document, len(docs))
		for key, doc := range docs {
			copied[key] = doc
		}
		kinds[kind] = copied
	}
	return kinds
}

// Get returns the document with the given kind and key, or ErrNotFound.
func (m *Memory) Get(ctx context.Context, kind, key string) (Document, error) {
	defer m.lock()()
	doc, ok := m.root().kinds[kind][key]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

// Insert stores value as a new document of the given kind with a freshly
// allocated numeric key.
func (m *Memory) Insert(ctx context.Context, kind string, value interface{}) (Document, error) {
	properties, err := marshalValue(value)
	if err != nil {
		return Document{}, err
	}
	defer m.lock()()
	root := m.root()
	root.serial++
	doc := Document{
		Kind:       kind,
		Key:        strconv.FormatInt(root.serial, 10),
		Serial:     root.serial,
		Timestamp:  time.Now().UTC(),
		Revision:   1,
		Properties: properties,
	}
	if root.kinds[kind] == nil {
		root.kinds[kind] = map[string]Document{}
	}
	root.kinds[kind][doc.Key] = doc
	return doc, nil
}

// Put stores value under the given kind and key, creating or replacing the
// document.
func (m *Memory) Put(ctx context.Context, kind, key string, value interface{}) (Document, error) {
	properties, err := marshalValue(value)
	if err != nil {
		return Document{}, err
	}
	defer m.lock()()
	root := m.root()
	if root.kinds[kind] == nil {
		root.kinds[kind] = map[string]Document{}
	}
	doc, ok := root.kinds[kind][key]
	if ok {
		doc.Revision++
		doc.Properties = properties
	} else {
		root.serial++
		doc = Document{
			Kind:       kind,
			Key:        key,
			Serial:     root.serial,
			Timestamp:  time.Now().UTC(),
			Revision:   1,
			Properties: properties,
		}
	}
	root.kinds[kind][key] = doc
	return doc, nil
}

// Delete removes the document with the given kind and key, or returns
// ErrNotFound.
func (m *Memory) Delete(ctx context.Context, kind, key string) error {
	defer m.lock()()
	root := m.root()
	if _, ok := root.kinds[kind][key]; !ok {
		return ErrNotFound
	}
	delete(root.kinds[kind], key)
	return nil
}

// List returns one page of documents of the given kind, in insertion order.
func (m *Memory) List(ctx context.Context, kind string, q Query) (Page, error) {
	var page Page
	if q.Limit < 1 {
		return page, errLimitOutOfRange
	}
	noCursor := q.Cursor == ""
	var cursor Cursor
	if !noCursor {
		var err error
		cursor, err = DecodeCursor(q.Cursor)
		if err != nil {
			return page, err
		}
	}

	defer m.lock()()
	docs := make([]Document, 0, len(m.root().kinds[kind]))
	for _, doc := range m.root().kinds[kind] {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].Timestamp.Equal(docs[j].Timestamp) {
			return docs[i].Timestamp.Before(docs[j].Timestamp)
		}
		return docs[i].Serial < docs[j].Serial
	})
	page.TotalCount = len(docs)

	for _, doc := range docs {
		if !noCursor {
			if doc.Timestamp.Before(cursor.Timestamp) {
				continue
			}
			if doc.Timestamp.Equal(cursor.Timestamp) && doc.Serial <= cursor.Serial {
				continue
			}
		}
		if len(page.Documents) == q.Limit {
			last := page.Documents[q.Limit-1]
			page.NextCursor = Cursor{Timestamp: last.Timestamp, Serial: last.Serial}.Encode()
			break
		}
		page.Documents = append(page.Documents, doc)
	}
	return page, nil
}

// RunInTransaction runs fn with a transaction-bound store under the store's
// mutex. When fn returns an error, the state is restored from a snapshot.
// Nested calls reuse the outer transaction.
func (m *Memory) RunInTransaction(ctx context.Context, fn func(tx Store) error) error {
	if m.parent != nil {
		return fn(m)
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	snapshot := m.snapshot()
	serial := m.serial
	if err := fn(&Memory{parent: m}); err != nil {
		m.kinds = snapshot
		m.serial = serial
		return err
	}
	return nil
}

var _ Store = (*Memory)(nil)
