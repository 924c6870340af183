// Package store persists identities, contacts, session blobs, and
// plaintext history in a local sqlite database. Key material and session
// blobs are encrypted at rest with a passphrase-derived key; everything
// else is plaintext on the user's own disk.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"mizu/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS identities (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	name              TEXT NOT NULL,
	address           TEXT NOT NULL UNIQUE,
	session_keys_blob BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS contacts (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name         TEXT NOT NULL,
	address      TEXT NOT NULL UNIQUE,
	identity_key BLOB,
	prekey       BLOB
);
CREATE TABLE IF NOT EXISTS clients (
	identity_id              INTEGER NOT NULL REFERENCES identities(id),
	contact_id               INTEGER NOT NULL REFERENCES contacts(id),
	session_blob             BLOB NOT NULL,
	latest_message_timestamp INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (identity_id, contact_id)
);
CREATE TABLE IF NOT EXISTS messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	identity_id INTEGER NOT NULL REFERENCES identities(id),
	contact_id  INTEGER NOT NULL REFERENCES contacts(id),
	content     BLOB NOT NULL,
	outbound    INTEGER NOT NULL,
	timestamp   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS pending_contacts (
	identity_id INTEGER NOT NULL REFERENCES identities(id),
	address     TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	PRIMARY KEY (identity_id, address)
);
`

// identityKeys is the encrypted part of an identity row.
type identityKeys struct {
	IdentityKey domain.X25519Pair     `json:"identity_key"`
	Prekey      domain.X25519Pair     `json:"prekey"`
	PrevPrekey  *domain.X25519Pair    `json:"prev_prekey,omitempty"`
	SigningPub  domain.Ed25519Public  `json:"signing_pub"`
	SigningPriv domain.Ed25519Private `json:"signing_priv"`
}

// Store is a handle on the local database.
type Store struct {
	db         *sql.DB
	passphrase string
}

// Open connects to (and if needed initializes) the database at path.
func Open(path, passphrase string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init store: %w", err)
	}
	return &Store{db: db, passphrase: passphrase}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// ---------- identities ----------

// CreateIdentity inserts a new identity and fills in its row ID. Key
// material is sealed under the store passphrase.
func (s *Store) CreateIdentity(ctx context.Context, id *domain.Identity) error {
	blob, err := s.sealKeys(id)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO identities (name, address, session_keys_blob) VALUES (?, ?, ?)`,
		id.Name, id.Address, blob)
	if err != nil {
		return fmt.Errorf("create identity: %w", err)
	}
	id.ID, err = res.LastInsertId()
	return err
}

// UpdateIdentityKeys rewrites the encrypted key blob (prekey rotation).
func (s *Store) UpdateIdentityKeys(ctx context.Context, id *domain.Identity) error {
	blob, err := s.sealKeys(id)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE identities SET session_keys_blob = ? WHERE id = ?`, blob, id.ID)
	return err
}

// ListIdentities returns all local identities with decrypted key material.
func (s *Store) ListIdentities(ctx context.Context) ([]domain.Identity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, address, session_keys_blob FROM identities ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Identity
	for rows.Next() {
		var id domain.Identity
		var blob []byte
		if err := rows.Scan(&id.ID, &id.Name, &id.Address, &blob); err != nil {
			return nil, err
		}
		if err := s.openKeys(blob, &id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// FindIdentity loads one identity by row ID.
func (s *Store) FindIdentity(ctx context.Context, rowID int64) (*domain.Identity, error) {
	var id domain.Identity
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, address, session_keys_blob FROM identities WHERE id = ?`, rowID).
		Scan(&id.ID, &id.Name, &id.Address, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("identity %d: not found", rowID)
	}
	if err != nil {
		return nil, err
	}
	if err := s.openKeys(blob, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

func (s *Store) sealKeys(id *domain.Identity) ([]byte, error) {
	raw, err := json.Marshal(identityKeys{
		IdentityKey: id.IdentityKey,
		Prekey:      id.Prekey,
		PrevPrekey:  id.PrevPrekey,
		SigningPub:  id.SigningPub,
		SigningPriv: id.SigningPriv,
	})
	if err != nil {
		return nil, err
	}
	return sealAtRest(s.passphrase, adIdentityKeys, raw)
}

func (s *Store) openKeys(blob []byte, id *domain.Identity) error {
	raw, err := openAtRest(s.passphrase, adIdentityKeys, blob)
	if err != nil {
		return err
	}
	var keys identityKeys
	if err := json.Unmarshal(raw, &keys); err != nil {
		return err
	}
	id.IdentityKey = keys.IdentityKey
	id.Prekey = keys.Prekey
	id.PrevPrekey = keys.PrevPrekey
	id.SigningPub = keys.SigningPub
	id.SigningPriv = keys.SigningPriv
	return nil
}

// ---------- contacts ----------

// CreateContact inserts a contact known only by name and address; keys
// are filled by the first fetch.
func (s *Store) CreateContact(ctx context.Context, name, address string) (*domain.Contact, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (name, address) VALUES (?, ?)`, name, address)
	if err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &domain.Contact{ID: id, Name: name, Address: address}, nil
}

// UpdateContactKeys pins the identity key and refreshes the prekey after
// a fetch.
func (s *Store) UpdateContactKeys(ctx context.Context, contactID int64, ik, prekey domain.X25519Public) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET identity_key = ?, prekey = ? WHERE id = ?`,
		ik.Slice(), prekey.Slice(), contactID)
	return err
}

// ListContacts returns all contacts.
func (s *Store) ListContacts(ctx context.Context) ([]domain.Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, address, identity_key, prekey FROM contacts ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// FindContact loads one contact by row ID.
func (s *Store) FindContact(ctx context.Context, rowID int64) (*domain.Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, address, identity_key, prekey FROM contacts WHERE id = ?`, rowID)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contact %d: not found", rowID)
	}
	return c, err
}

type scanner interface{ Scan(dest ...any) error }

func scanContact(r scanner) (*domain.Contact, error) {
	var c domain.Contact
	var ik, pk []byte
	if err := r.Scan(&c.ID, &c.Name, &c.Address, &ik, &pk); err != nil {
		return nil, err
	}
	if len(ik) == 32 {
		copy(c.IdentityKey[:], ik)
	}
	if len(pk) == 32 {
		copy(c.Prekey[:], pk)
	}
	return &c, nil
}

// ---------- clients (sessions) ----------

// LoadSessionBlob returns the decrypted session blob for a pair, or nil
// if none exists yet.
func (s *Store) LoadSessionBlob(ctx context.Context, identityID, contactID int64) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT session_blob FROM clients WHERE identity_id = ? AND contact_id = ?`,
		identityID, contactID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return openAtRest(s.passphrase, adSessionBlob, blob)
}

// SaveSessionBlob commits the new session blob and high-water mark in one
// transactional write; a crash before this leaves the previous blob.
func (s *Store) SaveSessionBlob(ctx context.Context, identityID, contactID int64, blob []byte, latestTimestamp int64) error {
	sealed, err := sealAtRest(s.passphrase, adSessionBlob, blob)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO clients (identity_id, contact_id, session_blob, latest_message_timestamp)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (identity_id, contact_id)
		DO UPDATE SET session_blob = excluded.session_blob,
		              latest_message_timestamp = excluded.latest_message_timestamp`,
		identityID, contactID, sealed, latestTimestamp)
	return err
}

// ---------- messages ----------

// AppendMessage records one plaintext message; records are never mutated.
func (s *Store) AppendMessage(ctx context.Context, m *domain.PlainMessage) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (identity_id, contact_id, content, outbound, timestamp)
		 VALUES (?, ?, ?, ?, ?)`,
		m.IdentityID, m.ContactID, m.Content, m.Outbound, m.Timestamp)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	m.ID, err = res.LastInsertId()
	return err
}

// ListMessages returns the conversation history for a pair, oldest first.
func (s *Store) ListMessages(ctx context.Context, identityID, contactID int64) ([]domain.PlainMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity_id, contact_id, content, outbound, timestamp
		FROM messages WHERE identity_id = ? AND contact_id = ?
		ORDER BY id ASC`, identityID, contactID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PlainMessage
	for rows.Next() {
		var m domain.PlainMessage
		if err := rows.Scan(&m.ID, &m.IdentityID, &m.ContactID, &m.Content, &m.Outbound, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ---------- pending contacts (discovery) ----------

// AddPendingContact surfaces a discovery sender for user approval.
// Re-adding the same sender is a no-op.
func (s *Store) AddPendingContact(ctx context.Context, identityID int64, address string, now int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_contacts (identity_id, address, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (identity_id, address) DO NOTHING`,
		identityID, address, now)
	return err
}

// ListPendingContacts returns discovery senders awaiting approval.
func (s *Store) ListPendingContacts(ctx context.Context, identityID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address FROM pending_contacts
		WHERE identity_id = ? ORDER BY created_at ASC`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountPendingContacts returns how many discovery senders are pending for
// an identity.
func (s *Store) CountPendingContacts(ctx context.Context, identityID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_contacts WHERE identity_id = ?`, identityID).Scan(&n)
	return n, err
}
