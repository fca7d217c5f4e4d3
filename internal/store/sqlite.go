package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// migrations is an ordered list of SQL statements applied on startup.
// Each entry is idempotent (IF NOT EXISTS) so re-running is safe. Schema
// version is tracked by the length of this slice.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS identities (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		public_key       BLOB NOT NULL,
		private_key      TEXT NOT NULL,
		intermediate_key TEXT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS identities_public_key_idx ON identities(public_key)`,
	`CREATE TABLE IF NOT EXISTS auth (
		vault_url      TEXT NOT NULL,
		access_token   TEXT NOT NULL,
		refresh_token  TEXT NOT NULL,
		expires_at     INTEGER NOT NULL,
		master_key     BLOB NOT NULL,
		symmetric_key  BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`,
}

// SQLiteStore implements Store using a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at path and runs
// migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_journal=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite handles one writer at a time.

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration: %w", err)
		}
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&count); err != nil {
		return fmt.Errorf("migration: read schema_version: %w", err)
	}
	if count == 0 {
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, len(migrations)); err != nil {
			return fmt.Errorf("migration: seed schema_version: %w", err)
		}
	} else if _, err := s.db.Exec(`UPDATE schema_version SET version = ? WHERE version < ?`,
		len(migrations), len(migrations)); err != nil {
		return fmt.Errorf("migration: advance schema_version: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// --- Identities ---

func (s *SQLiteStore) UpsertIdentity(ctx context.Context, id *Identity) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identities (id, name, public_key, private_key, intermediate_key)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			public_key = excluded.public_key,
			private_key = excluded.private_key,
			intermediate_key = excluded.intermediate_key`,
		id.ID, id.Name, id.PublicKey, id.PrivateKey, id.IntermediateKey)
	if err != nil {
		return fmt.Errorf("upsert identity: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetIdentityByPublicKey(ctx context.Context, publicKey []byte) (*Identity, error) {
	return s.scanIdentity(s.db.QueryRowContext(ctx,
		`SELECT id, name, public_key, private_key, intermediate_key FROM identities WHERE public_key = ?`,
		publicKey))
}

func (s *SQLiteStore) GetIdentity(ctx context.Context, id string) (*Identity, error) {
	return s.scanIdentity(s.db.QueryRowContext(ctx,
		`SELECT id, name, public_key, private_key, intermediate_key FROM identities WHERE id = ?`, id))
}

func (s *SQLiteStore) DeleteIdentity(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM identities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListIdentities(ctx context.Context) ([]*Identity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, public_key, private_key, intermediate_key FROM identities ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []*Identity
	for rows.Next() {
		id, err := s.scanIdentityRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) scanIdentity(row *sql.Row) (*Identity, error) {
	var id Identity
	var intermediate sql.NullString
	if err := row.Scan(&id.ID, &id.Name, &id.PublicKey, &id.PrivateKey, &intermediate); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if intermediate.Valid {
		id.IntermediateKey = &intermediate.String
	}
	return &id, nil
}

func (s *SQLiteStore) scanIdentityRows(rows *sql.Rows) (*Identity, error) {
	var id Identity
	var intermediate sql.NullString
	if err := rows.Scan(&id.ID, &id.Name, &id.PublicKey, &id.PrivateKey, &intermediate); err != nil {
		return nil, err
	}
	if intermediate.Valid {
		id.IntermediateKey = &intermediate.String
	}
	return &id, nil
}

// --- Auth ---

func (s *SQLiteStore) SaveAuth(ctx context.Context, auth *AuthBlob) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM auth`); err != nil {
		return fmt.Errorf("save auth: clear previous row: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO auth (vault_url, access_token, refresh_token, expires_at, master_key, symmetric_key)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		auth.VaultURL, auth.AccessToken, auth.RefreshToken, auth.ExpiresAt,
		auth.SealedMasterKey, auth.SealedSymmetricKey); err != nil {
		return fmt.Errorf("save auth: insert: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetAuth(ctx context.Context) (*AuthBlob, error) {
	var a AuthBlob
	err := s.db.QueryRowContext(ctx,
		`SELECT vault_url, access_token, refresh_token, expires_at, master_key, symmetric_key FROM auth LIMIT 1`).
		Scan(&a.VaultURL, &a.AccessToken, &a.RefreshToken, &a.ExpiresAt, &a.SealedMasterKey, &a.SealedSymmetricKey)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (s *SQLiteStore) UpdateAuthTokens(ctx context.Context, accessToken string, expiresAt int64, newRefreshToken string) error {
	var err error
	if newRefreshToken != "" {
		_, err = s.db.ExecContext(ctx,
			`UPDATE auth SET access_token = ?, expires_at = ?, refresh_token = ?`,
			accessToken, expiresAt, newRefreshToken)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE auth SET access_token = ?, expires_at = ?`, accessToken, expiresAt)
	}
	if err != nil {
		return fmt.Errorf("update auth tokens: %w", err)
	}
	return nil
}
