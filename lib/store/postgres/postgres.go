// Package postgres implements the store interface for PostgreSQL.
package postgres

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/openimpact/dtrack/lib/store"
)

// Postgres implements a connection to a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// New opens a PostgreSQL connection for the given uri and ensures the schema exists.
func New(uri string) (*Postgres, error) {
	db, err := sql.Open("postgres", uri)
	if err != nil {
		return nil, fmt.Errorf("cannot open postgres DB in %s: %w", uri, err)
	}

	p := &Postgres{db: db}
	if err = p.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return p, nil
}

// NewWithDB wraps an existing connection. Used by tests.
func NewWithDB(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// ClosePostgres will close the database connection. Must be called at termination time.
func (p *Postgres) ClosePostgres() error {
	return p.db.Close()
}

func (p *Postgres) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS watches (
			id SERIAL PRIMARY KEY,
			net TEXT NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			wallet TEXT NOT NULL,
			UNIQUE (net, wallet))`,
		`CREATE TABLE IF NOT EXISTS cursors (
			net TEXT PRIMARY KEY,
			block BIGINT NOT NULL,
			hashes TEXT NOT NULL,
			idx INT NOT NULL,
			orgs TEXT NOT NULL DEFAULT '{}')`,
	}
	for _, s := range stmts {
		if _, err := p.db.Exec(s); err != nil {
			return fmt.Errorf("cannot create postgres schema: %w", err)
		}
	}

	return nil
}

// AddWatch saves an organization watch if the wallet is not already watched and returns its identifier.
func (p *Postgres) AddWatch(w store.Watch, net string) ([]byte, error) {
	var id int64

	err := p.db.QueryRow(
		`INSERT INTO watches (net, label, wallet) VALUES ($1, $2, $3)
		 ON CONFLICT (net, wallet) DO UPDATE SET label = watches.label
		 RETURNING id`,
		net, w.Label, w.Wallet).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("could not insert watch in db: %w", err)
	}

	return []byte(fmt.Sprintf("%d", id)), nil
}

// RemoveWatch deletes an organization watch from the database.
func (p *Postgres) RemoveWatch(w store.Watch, net string) error {
	res, err := p.db.Exec(`DELETE FROM watches WHERE net = $1 AND wallet = $2`, net, w.Wallet)
	if err != nil {
		return err
	}

	if n, _ := res.RowsAffected(); n != 1 {
		return store.ErrWatchNotFound
	}

	return nil
}

// GetWatches returns the organization watches for the networks indicated in the net slice, or all networks when
// the slice is empty.
func (p *Postgres) GetWatches(net []string) ([]store.WatchedOrgs, error) {
	var (
		rows *sql.Rows
		err  error
	)

	if len(net) == 0 {
		rows, err = p.db.Query(`SELECT net, id, label, wallet FROM watches ORDER BY net, id`)
	} else {
		rows, err = p.db.Query(`SELECT net, id, label, wallet FROM watches WHERE net = ANY($1) ORDER BY net, id`, pq.Array(net))
	}

	if err != nil {
		return nil, fmt.Errorf("error getting watches from db: %w", err)
	}
	defer rows.Close()

	byNet := map[string]*store.WatchedOrgs{}
	var order []string

	for rows.Next() {
		var (
			n, label, wallet string
			id               int64
		)

		if err = rows.Scan(&n, &id, &label, &wallet); err != nil {
			return nil, err
		}

		wo, ok := byNet[n]
		if !ok {
			wo = &store.WatchedOrgs{Net: n}
			byNet[n] = wo
			order = append(order, n)
		}

		wo.Orgs = append(wo.Orgs, store.Watch{ID: []byte(fmt.Sprintf("%d", id)), Label: label, Wallet: wallet})
	}

	watches := make([]store.WatchedOrgs, 0, len(order))
	for _, n := range order {
		watches = append(watches, *byNet[n])
	}

	return watches, rows.Err()
}

// LoadCursor loads from db the scan cursor for the indicated network.
func (p *Postgres) LoadCursor(net string) (store.Cursor, error) {
	var (
		cur          store.Cursor
		hashes, orgs string
	)

	err := p.db.QueryRow(`SELECT block, hashes, idx, orgs FROM cursors WHERE net = $1`, net).
		Scan(&cur.Block, &hashes, &cur.Idx, &orgs)
	if errors.Is(err, sql.ErrNoRows) {
		return cur, store.ErrDataNotFound
	}

	if err != nil {
		return cur, err
	}

	if err = json.Unmarshal([]byte(hashes), &cur.Hashes); err != nil {
		return cur, fmt.Errorf("corrupt cursor hashes for %s: %w", net, err)
	}

	if err = json.Unmarshal([]byte(orgs), &cur.Orgs); err != nil {
		return cur, fmt.Errorf("corrupt cursor orgs for %s: %w", net, err)
	}

	return cur, nil
}

// SaveCursor saves to db the scan cursor for the indicated network.
func (p *Postgres) SaveCursor(net string, cur store.Cursor) error {
	hashes, err := json.Marshal(cur.Hashes)
	if err != nil {
		return err
	}

	orgs, err := json.Marshal(cur.Orgs)
	if err != nil {
		return err
	}

	_, err = p.db.Exec(
		`INSERT INTO cursors (net, block, hashes, idx, orgs) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (net) DO UPDATE SET block = $2, hashes = $3, idx = $4, orgs = $5`,
		net, int64(cur.Block), string(hashes), cur.Idx, string(orgs))

	return err
}

// DeleteCursor deletes from db the scan cursor for the indicated network.
func (p *Postgres) DeleteCursor(net string) error {
	_, err := p.db.Exec(`DELETE FROM cursors WHERE net = $1`, net)

	return err
}
