// Package sink_sqlite is a consumer.Sink which records deliveries into a
// SQLite database.
package sink_sqlite

import (
	"context"
	"database/sql"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.dafka.dev/core/consumer"
)

// Schema of the deliveries table. Deliveries are keyed on their stream and
// sequence, and re-delivery of a sequence has no effect.
const Schema = `
CREATE TABLE IF NOT EXISTS dafka_deliveries (
	subject  TEXT    NOT NULL,
	address  TEXT    NOT NULL,
	sequence INTEGER NOT NULL,
	payload  BLOB,
	PRIMARY KEY (subject, address, sequence)
);`

// Sink is a consumer.Sink backed by a SQLite database.
type Sink struct {
	DB *sql.DB

	insert *sql.Stmt
}

// Open the SQLite database at |path|, creating its schema if required.
// A |path| of ":memory:" opens a transient in-memory database.
func Open(path string) (*Sink, error) {
	var db, err = sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	// SQLite allows only one writer. For ":memory:", each connection
	// would otherwise have its own database.
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "creating schema")
	}
	insert, err := db.Prepare(`INSERT OR IGNORE INTO dafka_deliveries
		(subject, address, sequence, payload) VALUES (?, ?, ?, ?);`)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "preparing insert")
	}

	var version, _, _ = sqlite3.Version()
	log.WithFields(log.Fields{"path": path, "sqlite": version}).Info("opened sqlite sink")

	return &Sink{DB: db, insert: insert}, nil
}

// Deliver inserts the Delivery.
func (s *Sink) Deliver(d consumer.Delivery) error {
	var _, err = s.insert.Exec(d.Subject, d.Address, d.Sequence, d.Payload)
	return errors.Wrap(err, "inserting delivery")
}

// Streams returns the greatest delivered sequence of each stream,
// ordered on subject and address.
func (s *Sink) Streams(ctx context.Context) ([]consumer.StreamState, error) {
	var rows, err = s.DB.QueryContext(ctx, `SELECT subject, address, MAX(sequence)
		FROM dafka_deliveries GROUP BY subject, address ORDER BY subject, address;`)
	if err != nil {
		return nil, errors.Wrap(err, "querying streams")
	}
	defer rows.Close()

	var out []consumer.StreamState
	for rows.Next() {
		var st consumer.StreamState
		if err = rows.Scan(&st.Subject, &st.Address, &st.LastKnown); err != nil {
			return nil, errors.Wrap(err, "scanning stream")
		}
		out = append(out, st)
	}
	return out, errors.Wrap(rows.Err(), "reading streams")
}

// Close the database.
func (s *Sink) Close() error {
	_ = s.insert.Close()
	return s.DB.Close()
}
