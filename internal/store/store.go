// Package store is the daemon's embedded SQLite persistence layer: orders,
// disputes, user reputation, and the outbound message queue. A single
// *sql.DB is opened in WAL mode with a one-connection writer pool, guarded
// by a sync.RWMutex, with a hand-written SQL schema applied via
// CREATE TABLE IF NOT EXISTS and an idempotent migration list run on every
// open.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the daemon's persistent state.
type Store struct {
	db     *sql.DB
	dbPath string
	crypt  *cipher
	mu     sync.RWMutex
}

// Config selects where the database file lives and how identity pubkeys
// stored on orders are encrypted at rest.
type Config struct {
	DataDir string
	// DBKeyHex is a 32-byte hex-encoded key used to seal master_buyer_pubkey
	// / master_seller_pubkey columns. The caller takes it from the
	// storage.db_key_hex config field, with the MOSTRO_DB_KEY environment
	// variable taking precedence; the store never logs or persists it.
	DBKeyHex string
}

// New opens (creating if necessary) the database under cfg.DataDir and
// applies the schema and migrations.
func New(cfg *Config) (*Store, error) {
	dataDir := expandPath(cfg.DataDir)
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("store: create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "mostro.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	crypt, err := newCipher(cfg.DBKeyHex)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: %w", err)
	}

	s := &Store{db: db, dbPath: dbPath, crypt: crypt}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying *sql.DB for packages that need to run their own
// queries (orders.go, disputes.go, outbox.go, users.go, secrets.go, peers.go
// all live in this package and use s.db directly instead).
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		pubkey TEXT PRIMARY KEY,
		is_admin INTEGER DEFAULT 0,
		is_solver INTEGER DEFAULT 0,
		is_banned INTEGER DEFAULT 0,
		total_reviews INTEGER DEFAULT 0,
		total_rating REAL DEFAULT 0,
		last_rating INTEGER DEFAULT 0,
		min_rating INTEGER DEFAULT 0,
		max_rating INTEGER DEFAULT 0,
		last_trade_index INTEGER DEFAULT 0,
		created_at INTEGER,
		last_seen INTEGER
	);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',

		creator_pubkey TEXT NOT NULL,
		buyer_pubkey TEXT,
		seller_pubkey TEXT,
		master_buyer_pubkey BLOB,
		master_buyer_nonce BLOB,
		master_seller_pubkey BLOB,
		master_seller_nonce BLOB,

		amount INTEGER NOT NULL DEFAULT 0,
		price_from_api INTEGER NOT NULL DEFAULT 0,
		fiat_code TEXT NOT NULL,
		fiat_amount REAL NOT NULL,
		min_amount REAL,
		max_amount REAL,
		payment_method TEXT NOT NULL,
		premium_pct REAL NOT NULL DEFAULT 0,

		buyer_invoice TEXT,
		payment_hash TEXT,
		preimage TEXT,
		payment_attempts INTEGER DEFAULT 0,
		failed_payment INTEGER DEFAULT 0,
		routing_fee INTEGER DEFAULT 0,

		trade_index_buyer INTEGER DEFAULT 0,
		trade_index_seller INTEGER DEFAULT 0,
		cancel_initiator_pubkey TEXT,
		buyer_cooperativecancel INTEGER DEFAULT 0,
		seller_cooperativecancel INTEGER DEFAULT 0,
		buyer_dispute INTEGER DEFAULT 0,
		seller_dispute INTEGER DEFAULT 0,
		buyer_sent_rate INTEGER DEFAULT 0,
		seller_sent_rate INTEGER DEFAULT 0,

		event_id TEXT,

		created_at INTEGER NOT NULL,
		taken_at INTEGER,
		invoice_held_at INTEGER,
		expires_at INTEGER,
		updated_at INTEGER,

		FOREIGN KEY (creator_pubkey) REFERENCES users(pubkey)
	);

	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
	CREATE INDEX IF NOT EXISTS idx_orders_kind_status ON orders(kind, status);
	CREATE INDEX IF NOT EXISTS idx_orders_fiat ON orders(fiat_code);
	CREATE INDEX IF NOT EXISTS idx_orders_expires ON orders(expires_at);
	CREATE INDEX IF NOT EXISTS idx_orders_hash ON orders(payment_hash);

	CREATE TABLE IF NOT EXISTS disputes (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'initiated',
		initiator_pubkey TEXT NOT NULL,
		solver_pubkey TEXT,
		buyer_token INTEGER NOT NULL,
		seller_token INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		taken_at INTEGER,
		resolved_at INTEGER,

		FOREIGN KEY (order_id) REFERENCES orders(id)
	);

	CREATE INDEX IF NOT EXISTS idx_disputes_order ON disputes(order_id);
	CREATE INDEX IF NOT EXISTS idx_disputes_status ON disputes(status);

	-- =========================================================================
	-- Outbound message queue (gift-wrap delivery, retried until acked)
	-- =========================================================================

	CREATE TABLE IF NOT EXISTS message_outbox (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT UNIQUE NOT NULL,
		trade_id TEXT NOT NULL,
		peer_id TEXT NOT NULL,
		message_type TEXT NOT NULL,
		payload BLOB NOT NULL,
		sequence_num INTEGER NOT NULL,

		expires_at INTEGER NOT NULL,

		created_at INTEGER NOT NULL,
		retry_count INTEGER DEFAULT 0,
		last_attempt_at INTEGER,
		next_retry_at INTEGER NOT NULL,

		acked_at INTEGER,
		status TEXT DEFAULT 'pending',
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_pending ON message_outbox(status, next_retry_at)
		WHERE status = 'pending' OR status = 'sent';
	CREATE INDEX IF NOT EXISTS idx_outbox_trade ON message_outbox(trade_id);
	CREATE INDEX IF NOT EXISTS idx_outbox_peer ON message_outbox(peer_id, status);
	CREATE INDEX IF NOT EXISTS idx_outbox_message ON message_outbox(message_id);

	CREATE TABLE IF NOT EXISTS message_sequences (
		trade_id TEXT PRIMARY KEY,
		local_seq INTEGER DEFAULT 0,
		remote_seq INTEGER DEFAULT 0,
		updated_at INTEGER NOT NULL
	);

	-- Inbound message dedup log: RecordInbound's UNIQUE(message_id) is what
	-- makes a replayed gift-wrap delivery a no-op instead of a double-apply.
	CREATE TABLE IF NOT EXISTS message_inbox (
		message_id TEXT PRIMARY KEY,
		trade_id TEXT NOT NULL,
		peer_id TEXT NOT NULL,
		message_type TEXT NOT NULL,
		sequence_num INTEGER NOT NULL,
		received_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_inbox_trade ON message_inbox(trade_id);

	-- HTLC/hold-invoice secrets written by SealSecret: sealed under the
	-- database key when one is configured, otherwise the raw preimage with a
	-- NULL nonce.
	CREATE TABLE IF NOT EXISTS secrets (
		payment_hash TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		ciphertext BLOB NOT NULL,
		nonce BLOB,
		created_at INTEGER NOT NULL,

		FOREIGN KEY (order_id) REFERENCES orders(id)
	);

	-- Relay-substrate peers we have directly messaged, kept for reconnect /
	-- diagnostic purposes (see internal/node's connection-notify hook).
	CREATE TABLE IF NOT EXISTS peers (
		peer_id TEXT PRIMARY KEY,
		addresses TEXT,
		first_seen INTEGER,
		last_seen INTEGER,
		connection_count INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_peers_last_seen ON peers(last_seen);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at INTEGER
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.runMigrations()
}

// runMigrations applies idempotent ALTER TABLE statements for databases
// created by an older schema version. Errors are ignored: a column that
// already exists returns an error we don't care about.
func (s *Store) runMigrations() error {
	migrations := []string{
		"ALTER TABLE disputes ADD COLUMN admin_notes TEXT",
	}
	for _, m := range migrations {
		_, _ = s.db.Exec(m)
	}
	return nil
}

func expandPath(p string) string {
	if strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}
