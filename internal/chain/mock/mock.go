// Package mock implements the contract surface against a shared sqlite
// database. Several Chain handles pointed at the same file see one
// consistent ledger, which is how the tests and the development CLI run
// without a real chain endpoint.
package mock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mizu/internal/chain"
	"mizu/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	address      TEXT PRIMARY KEY,
	identity_key BLOB NOT NULL,
	prekey       BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS box (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	address   TEXT NOT NULL REFERENCES users(address),
	content   BLOB NOT NULL,
	timestamp INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS pokes (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	address TEXT NOT NULL REFERENCES users(address),
	content BLOB NOT NULL
);
`

// Chain is one caller's handle on the mock ledger.
type Chain struct {
	db      *sql.DB
	address string

	mu sync.Mutex // serializes writes; sqlite is the shared state
}

// Open connects to (and if needed initializes) the ledger at path.
// Use ":memory:" only when a single handle is needed.
func Open(path, address string) (*Chain, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open mock chain: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init mock chain: %w", err)
	}
	return &Chain{db: db, address: address}, nil
}

// Close releases the database handle.
func (c *Chain) Close() error { return c.db.Close() }

// Address returns the caller's own address.
func (c *Chain) Address() string { return c.address }

// RetrieveUserData loads everything stored for an address, or nil if the
// address is not registered.
func (c *Chain) RetrieveUserData(ctx context.Context, address string) (*chain.UserData, error) {
	var data chain.UserData
	err := c.db.QueryRowContext(ctx,
		`SELECT identity_key, prekey FROM users WHERE address = ?`, address).
		Scan(&data.IdentityKey, &data.Prekey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("retrieve user: %w", err)
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT content, timestamp FROM box WHERE address = ? ORDER BY id ASC`, address)
	if err != nil {
		return nil, fmt.Errorf("retrieve postal box: %w", err)
	}
	defer rows.Close()
	var index uint64
	for rows.Next() {
		var e chain.Entry
		if err := rows.Scan(&e.Content, &e.Position.Timestamp); err != nil {
			return nil, err
		}
		e.Position.Index = index
		index++
		data.PostalBox = append(data.PostalBox, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	prows, err := c.db.QueryContext(ctx,
		`SELECT content FROM pokes WHERE address = ? ORDER BY id ASC`, address)
	if err != nil {
		return nil, fmt.Errorf("retrieve pokes: %w", err)
	}
	defer prows.Close()
	for prows.Next() {
		var content []byte
		if err := prows.Scan(&content); err != nil {
			return nil, err
		}
		data.Pokes = append(data.Pokes, content)
	}
	return &data, prows.Err()
}

// Register publishes the identity key on first call and rotates the
// prekey afterwards.
func (c *Chain) Register(ctx context.Context, identityKey, prekey []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var exists bool
	err := c.db.QueryRowContext(ctx,
		`SELECT 1 FROM users WHERE address = ?`, c.address).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if identityKey == nil {
			return fmt.Errorf("first registration needs an identity key: %w", domain.ErrNotRegistered)
		}
		_, err = c.db.ExecContext(ctx,
			`INSERT INTO users (address, identity_key, prekey) VALUES (?, ?, ?)`,
			c.address, identityKey, prekey)
		return err
	case err != nil:
		return err
	default:
		if identityKey != nil {
			return errors.New("identity key is immutable after registration")
		}
		_, err = c.db.ExecContext(ctx,
			`UPDATE users SET prekey = ? WHERE address = ?`, prekey, c.address)
		return err
	}
}

// Post appends entries to the caller's postal box and removes entries by
// strictly ascending indices. Timestamps are strictly increasing per
// address, mirroring the contract guarantee the protocol leans on.
func (c *Chain) Post(ctx context.Context, add [][]byte, remove []uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if ok, err := c.registered(ctx, tx); err != nil {
		return err
	} else if !ok {
		return domain.ErrNotRegistered
	}

	if len(remove) > 0 {
		ids, err := rowIDs(ctx, tx, `SELECT id FROM box WHERE address = ? ORDER BY id ASC`, c.address)
		if err != nil {
			return err
		}
		prev := int64(-1)
		for _, idx := range remove {
			if int64(idx) <= prev {
				return errors.New("removal indices must be strictly ascending")
			}
			prev = int64(idx)
			if idx >= uint64(len(ids)) {
				return fmt.Errorf("removal index %d out of range", idx)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM box WHERE id = ?`, ids[idx]); err != nil {
				return err
			}
		}
	}

	ts := time.Now().UnixMilli()
	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(timestamp) FROM box WHERE address = ?`, c.address).Scan(&last); err != nil {
		return err
	}
	for _, content := range add {
		if last.Valid && ts <= last.Int64 {
			ts = last.Int64 + 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO box (address, content, timestamp) VALUES (?, ?, ?)`,
			c.address, content, ts); err != nil {
			return err
		}
		last = sql.NullInt64{Int64: ts, Valid: true}
	}
	return tx.Commit()
}

// Poke appends data to the recipient's poke list.
func (c *Chain) Poke(ctx context.Context, recipient string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var one int
	err := c.db.QueryRowContext(ctx,
		`SELECT 1 FROM users WHERE address = ?`, recipient).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotRegistered
	}
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO pokes (address, content) VALUES (?, ?)`, recipient, data)
	return err
}

// RemovePokes removes entries from the caller's own poke list by strictly
// ascending indices.
func (c *Chain) RemovePokes(ctx context.Context, remove []uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ids, err := rowIDs(ctx, tx, `SELECT id FROM pokes WHERE address = ? ORDER BY id ASC`, c.address)
	if err != nil {
		return err
	}
	prev := int64(-1)
	for _, idx := range remove {
		if int64(idx) <= prev {
			return errors.New("removal indices must be strictly ascending")
		}
		prev = int64(idx)
		if idx >= uint64(len(ids)) {
			return fmt.Errorf("removal index %d out of range", idx)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM pokes WHERE id = ?`, ids[idx]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (c *Chain) registered(ctx context.Context, tx *sql.Tx) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE address = ?`, c.address).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func rowIDs(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Compile-time assertion that Chain implements chain.Chain.
var _ chain.Chain = (*Chain)(nil)
