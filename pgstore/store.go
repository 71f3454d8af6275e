// Package pgstore is a PostgreSQL implementation of the authcore identity
// store, using the pgx driver through database/sql.
//
// Contact fields are protected at rest: email and phone are AES-GCM
// encrypted, and lookups go through deterministic HMAC-SHA256 digest columns
// so the database never sees a plaintext address. Counter mutations run as
// single atomic UPDATE statements; full-record updates carry a row version
// for optimistic concurrency.
package pgstore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/campusid/authcore"
)

// Schema is the table this store expects. Run it through your migration
// tooling; the store never creates it.
const Schema = `
CREATE TABLE IF NOT EXISTS identities (
    campus_id       TEXT        NOT NULL,
    id              TEXT        NOT NULL,
    email_enc       BYTEA,
    email_digest    BYTEA,
    phone_enc       BYTEA,
    phone_digest    BYTEA,
    role            TEXT        NOT NULL DEFAULT '',
    password_hash   TEXT        NOT NULL,
    status          SMALLINT    NOT NULL DEFAULT 0,
    mfa_enabled     BOOLEAN     NOT NULL DEFAULT FALSE,
    failed_attempts INTEGER     NOT NULL DEFAULT 0,
    locked_until    TIMESTAMPTZ,
    token_version   BIGINT      NOT NULL DEFAULT 0,
    row_version     BIGINT      NOT NULL DEFAULT 1,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (campus_id, id)
);
CREATE UNIQUE INDEX IF NOT EXISTS identities_email_digest
    ON identities (campus_id, email_digest) WHERE email_digest IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS identities_phone_digest
    ON identities (campus_id, phone_digest) WHERE phone_digest IS NOT NULL;
`

// ErrDuplicate is returned by Create when the identity or one of its contact
// digests already exists. It matches [authcore.ErrDuplicateIdentifier].
var ErrDuplicate = fmt.Errorf("identity already exists: %w", authcore.ErrDuplicateIdentifier)

// Keys holds the at-rest protection material. EncryptionKey must be 16, 24,
// or 32 bytes (AES-128/192/256); DigestKey feeds the lookup HMAC and can be
// any length, though 32 bytes is the norm.
type Keys struct {
	EncryptionKey []byte
	DigestKey     []byte
}

// Store implements [authcore.IdentityStore] over PostgreSQL.
type Store struct {
	db        *sql.DB
	aead      cipher.AEAD
	digestKey []byte
}

// New wraps an existing database handle.
func New(db *sql.DB, keys Keys) (*Store, error) {
	if len(keys.DigestKey) == 0 {
		return nil, errors.New("pgstore: digest key is required")
	}

	block, err := aes.NewCipher(keys.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("pgstore: encryption key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Store{db: db, aead: aead, digestKey: keys.DigestKey}, nil
}

// Open connects with the pgx stdlib driver and wraps the handle.
func Open(dsn string, keys Keys) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return New(db, keys)
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const identityColumns = `campus_id, id, email_enc, phone_enc, role, password_hash,
    status, mfa_enabled, failed_attempts, locked_until, token_version`

// Create inserts a new identity. The caller provides the ID.
func (s *Store) Create(ctx context.Context, identity *authcore.Identity) error {
	emailEnc, emailDigest, err := s.seal(identity.Email)
	if err != nil {
		return err
	}
	phoneEnc, phoneDigest, err := s.seal(identity.Phone)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO identities (campus_id, id, email_enc, email_digest, phone_enc, phone_digest,
            role, password_hash, status, mfa_enabled, failed_attempts, locked_until, token_version)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		identity.CampusID, identity.ID, emailEnc, emailDigest, phoneEnc, phoneDigest,
		identity.Role, identity.PasswordHash, int16(identity.Status), identity.MFAEnabled,
		identity.FailedAttempts, nullTime(identity.LockedUntil), identity.TokenVersion,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}

	return nil
}

func (s *Store) GetByID(ctx context.Context, campusID, id string) (*authcore.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE campus_id = $1 AND id = $2`,
		campusID, id)
	return s.scanIdentity(row)
}

func (s *Store) GetByEmail(ctx context.Context, campusID, email string) (*authcore.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE campus_id = $1 AND email_digest = $2`,
		campusID, s.digest(email))
	return s.scanIdentity(row)
}

func (s *Store) GetByPhone(ctx context.Context, campusID, phone string) (*authcore.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE campus_id = $1 AND phone_digest = $2`,
		campusID, s.digest(phone))
	return s.scanIdentity(row)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, campusID, id, newHash string) error {
	return s.exec(ctx, `
        UPDATE identities SET password_hash = $3, row_version = row_version + 1, updated_at = NOW()
        WHERE campus_id = $1 AND id = $2`,
		campusID, id, newHash)
}

func (s *Store) IncrementFailedAttempts(ctx context.Context, campusID, id string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
        UPDATE identities SET failed_attempts = failed_attempts + 1, updated_at = NOW()
        WHERE campus_id = $1 AND id = $2
        RETURNING failed_attempts`,
		campusID, id).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, authcore.ErrUserNotFound
		}
		return 0, err
	}
	return count, nil
}

func (s *Store) ResetFailureState(ctx context.Context, campusID, id string) error {
	return s.exec(ctx, `
        UPDATE identities SET failed_attempts = 0, locked_until = NULL, updated_at = NOW()
        WHERE campus_id = $1 AND id = $2`,
		campusID, id)
}

func (s *Store) SetLock(ctx context.Context, campusID, id string, until time.Time) error {
	return s.exec(ctx, `
        UPDATE identities SET locked_until = $3, updated_at = NOW()
        WHERE campus_id = $1 AND id = $2`,
		campusID, id, until)
}

func (s *Store) ClearLock(ctx context.Context, campusID, id string) error {
	return s.exec(ctx, `
        UPDATE identities SET locked_until = NULL, updated_at = NOW()
        WHERE campus_id = $1 AND id = $2`,
		campusID, id)
}

func (s *Store) BumpTokenVersion(ctx context.Context, campusID, id string) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `
        UPDATE identities SET token_version = token_version + 1, updated_at = NOW()
        WHERE campus_id = $1 AND id = $2
        RETURNING token_version`,
		campusID, id).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, authcore.ErrUserNotFound
		}
		return 0, err
	}
	return version, nil
}

func (s *Store) SetStatus(ctx context.Context, campusID, id string, status authcore.AccountStatus) error {
	return s.exec(ctx, `
        UPDATE identities SET status = $3, updated_at = NOW()
        WHERE campus_id = $1 AND id = $2`,
		campusID, id, int16(status))
}

// UpdateProfile rewrites the mutable profile fields under optimistic
// concurrency. expectedRowVersion comes from the read the caller based its
// changes on; a concurrent writer in between makes this return
// [authcore.ErrVersionConflict].
func (s *Store) UpdateProfile(ctx context.Context, identity *authcore.Identity, expectedRowVersion int64) error {
	emailEnc, emailDigest, err := s.seal(identity.Email)
	if err != nil {
		return err
	}
	phoneEnc, phoneDigest, err := s.seal(identity.Phone)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
        UPDATE identities SET email_enc = $3, email_digest = $4, phone_enc = $5, phone_digest = $6,
            role = $7, mfa_enabled = $8, row_version = row_version + 1, updated_at = NOW()
        WHERE campus_id = $1 AND id = $2 AND row_version = $9`,
		identity.CampusID, identity.ID, emailEnc, emailDigest, phoneEnc, phoneDigest,
		identity.Role, identity.MFAEnabled, expectedRowVersion)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Either the row is gone or someone else won the write.
		if _, err := s.GetByID(ctx, identity.CampusID, identity.ID); err != nil {
			return err
		}
		return authcore.ErrVersionConflict
	}

	return nil
}

// RowVersion reads the current optimistic-concurrency version for the row.
func (s *Store) RowVersion(ctx context.Context, campusID, id string) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT row_version FROM identities WHERE campus_id = $1 AND id = $2`,
		campusID, id).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, authcore.ErrUserNotFound
		}
		return 0, err
	}
	return version, nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}

func (s *Store) scanIdentity(row *sql.Row) (*authcore.Identity, error) {
	var (
		identity    authcore.Identity
		emailEnc    []byte
		phoneEnc    []byte
		status      int16
		lockedUntil sql.NullTime
	)

	err := row.Scan(
		&identity.CampusID, &identity.ID, &emailEnc, &phoneEnc,
		&identity.Role, &identity.PasswordHash, &status, &identity.MFAEnabled,
		&identity.FailedAttempts, &lockedUntil, &identity.TokenVersion,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, authcore.ErrUserNotFound
		}
		return nil, err
	}

	identity.Status = authcore.AccountStatus(status)
	if lockedUntil.Valid {
		identity.LockedUntil = lockedUntil.Time
	}
	if identity.Email, err = s.open(emailEnc); err != nil {
		return nil, err
	}
	if identity.Phone, err = s.open(phoneEnc); err != nil {
		return nil, err
	}

	return &identity, nil
}

// seal encrypts a contact value and derives its lookup digest. Empty values
// store as NULLs.
func (s *Store) seal(value string) ([]byte, []byte, error) {
	if value == "" {
		return nil, nil, nil
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, err
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(value), nil)

	return sealed, s.digest(value), nil
}

func (s *Store) open(sealed []byte) (string, error) {
	if len(sealed) == 0 {
		return "", nil
	}
	if len(sealed) < s.aead.NonceSize() {
		return "", errors.New("pgstore: ciphertext truncated")
	}

	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("pgstore: decrypt contact field: %w", err)
	}

	return string(plain), nil
}

// digest is deterministic so the encrypted column stays queryable. Values
// are case-folded first; addresses differing only in case are the same
// identity.
func (s *Store) digest(value string) []byte {
	mac := hmac.New(sha256.New, s.digestKey)
	mac.Write([]byte(strings.ToLower(strings.TrimSpace(value))))
	return mac.Sum(nil)
}

func isUniqueViolation(err error) bool {
	// SQLSTATE 23505. Matched on the message to avoid binding the stdlib
	// path to driver-specific error types.
	return err != nil && strings.Contains(err.Error(), "23505")
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
