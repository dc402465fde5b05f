// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/marina/core/csql"
)

// Postgres is the entity store backed by a postgres database.
//
// All documents live in a single entity table in the database's schema. The
// serial column provides the allocation sequence for numeric keys and the
// stable secondary sort criterion for pagination.
type Postgres struct {
	db *csql.DB
	tx *sql.Tx
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// MustNewPostgres creates the entity table in the database's schema if it
// does not exist yet and returns the store. It panics when the schema cannot
// be updated.
func MustNewPostgres(db *csql.DB) *Postgres {
	_, err := db.Exec(`CREATE SEQUENCE IF NOT EXISTS ` + db.Schema + `.entity_serial;
CREATE table IF NOT EXISTS ` + db.Schema + `."entity"
(kind varchar NOT NULL,
key varchar NOT NULL,
serial bigint NOT NULL DEFAULT nextval('` + db.Schema + `.entity_serial'),
timestamp timestamp NOT NULL DEFAULT now(),
revision INTEGER NOT NULL DEFAULT 1,
properties jsonb NOT NULL DEFAULT '{}'::jsonb,
PRIMARY KEY(kind, key)
);
CREATE index IF NOT EXISTS sort_index_entity_timestamp ON ` + db.Schema + `."entity"(kind, timestamp, serial);`)
	if err != nil {
		panic(err)
	}
	return &Postgres{db: db}
}

func (p *Postgres) querier() querier {
	if p.tx != nil {
		return p.tx
	}
	return p.db.DB
}

// Get returns the document with the given kind and key, or ErrNotFound.
// Inside a transaction the returned row is locked until the transaction
// completes.
func (p *Postgres) Get(ctx context.Context, kind, key string) (Document, error) {
	query := `SELECT serial, timestamp, revision, properties FROM ` + p.db.Schema + `."entity" WHERE kind=$1 AND key=$2`
	if p.tx != nil {
		query += ` FOR UPDATE`
	}
	doc := Document{Kind: kind, Key: key}
	err := p.querier().QueryRowContext(ctx, query+`;`, kind, key).
		Scan(&doc.Serial, &doc.Timestamp, &doc.Revision, (*[]byte)(&doc.Properties))
	if err == csql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("cannot read %s '%s': %w", kind, key, err)
	}
	return doc, nil
}

// Insert stores value as a new document of the given kind. The key is
// allocated from the entity sequence and returned as part of the document.
func (p *Postgres) Insert(ctx context.Context, kind string, value interface{}) (Document, error) {
	properties, err := marshalValue(value)
	if err != nil {
		return Document{}, err
	}
	doc := Document{Kind: kind, Properties: properties}
	err = p.querier().QueryRowContext(ctx,
		`INSERT INTO `+p.db.Schema+`."entity" (kind, key, serial, properties)
SELECT $1, seq.s::varchar, seq.s, $2 FROM (SELECT nextval('`+p.db.Schema+`.entity_serial') AS s) seq
RETURNING key, serial, timestamp, revision;`,
		kind, string(properties)).
		Scan(&doc.Key, &doc.Serial, &doc.Timestamp, &doc.Revision)
	if err != nil {
		return Document{}, fmt.Errorf("cannot insert %s: %w", kind, err)
	}
	return doc, nil
}

// Put stores value under the given kind and key. An existing document is
// replaced and its revision incremented; otherwise the document is created.
func (p *Postgres) Put(ctx context.Context, kind, key string, value interface{}) (Document, error) {
	properties, err := marshalValue(value)
	if err != nil {
		return Document{}, err
	}
	doc := Document{Kind: kind, Key: key, Properties: properties}
	err = p.querier().QueryRowContext(ctx,
		`INSERT INTO `+p.db.Schema+`."entity" (kind, key, serial, properties)
VALUES($1, $2, nextval('`+p.db.Schema+`.entity_serial'), $3)
ON CONFLICT (kind, key) DO UPDATE SET properties=$3, revision="entity".revision+1
RETURNING serial, timestamp, revision;`,
		kind, key, string(properties)).
		Scan(&doc.Serial, &doc.Timestamp, &doc.Revision)
	if err != nil {
		return Document{}, fmt.Errorf("cannot write %s '%s': %w", kind, key, err)
	}
	return doc, nil
}

// Delete removes the document with the given kind and key, or returns
// ErrNotFound.
func (p *Postgres) Delete(ctx context.Context, kind, key string) error {
	var serial int64
	err := p.querier().QueryRowContext(ctx,
		`DELETE FROM `+p.db.Schema+`."entity" WHERE kind=$1 AND key=$2 RETURNING serial;`,
		kind, key).Scan(&serial)
	if err == csql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("cannot delete %s '%s': %w", kind, key, err)
	}
	return nil
}

// List returns one page of documents of the given kind, in insertion order.
func (p *Postgres) List(ctx context.Context, kind string, q Query) (Page, error) {
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

	err := p.querier().QueryRowContext(ctx,
		`SELECT count(*) FROM `+p.db.Schema+`."entity" WHERE kind=$1;`, kind).
		Scan(&page.TotalCount)
	if err != nil {
		return page, fmt.Errorf("cannot count %s: %w", kind, err)
	}

	// one extra row tells us whether there is another page
	rows, err := p.querier().QueryContext(ctx,
		`SELECT key, serial, timestamp, revision, properties FROM `+p.db.Schema+`."entity"
WHERE kind=$1 AND ($2 OR (timestamp, serial) > ($3, $4))
ORDER BY timestamp ASC, serial ASC LIMIT $5;`,
		kind, noCursor, cursor.Timestamp, cursor.Serial, q.Limit+1)
	if err != nil {
		return page, fmt.Errorf("cannot query %s: %w", kind, err)
	}
	defer rows.Close()

	for rows.Next() {
		doc := Document{Kind: kind, Properties: json.RawMessage{}}
		err := rows.Scan(&doc.Key, &doc.Serial, &doc.Timestamp, &doc.Revision, (*[]byte)(&doc.Properties))
		if err != nil {
			return page, fmt.Errorf("cannot scan %s: %w", kind, err)
		}
		page.Documents = append(page.Documents, doc)
	}
	if err := rows.Err(); err != nil {
		return page, err
	}

	if len(page.Documents) > q.Limit {
		page.Documents = page.Documents[:q.Limit]
		last := page.Documents[q.Limit-1]
		page.NextCursor = Cursor{Timestamp: last.Timestamp, Serial: last.Serial}.Encode()
	}
	return page, nil
}

// RunInTransaction runs fn with a transaction-bound store. The transaction is
// committed when fn returns nil and rolled back otherwise. Nested calls reuse
// the outer transaction.
func (p *Postgres) RunInTransaction(ctx context.Context, fn func(tx Store) error) error {
	if p.tx != nil {
		return fn(p)
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&Postgres{db: p.db, tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

var _ Store = (*Postgres)(nil)
