// Package store persists licenses, activations and payments in SQLite.
// It is the only package that touches the database; callers depend on the
// Store through the service layer's repository interface.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	apperrors "salespoint/internal/errors"
	"salespoint/internal/license"
)

// Store provides CRUD operations for license records backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the license database at path. The parent directory
// is created if missing.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(1)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open license db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS licenses (
		id               TEXT PRIMARY KEY,
		license_key      TEXT NOT NULL UNIQUE,
		type             TEXT NOT NULL,
		status           TEXT NOT NULL,
		client_name      TEXT NOT NULL DEFAULT '',
		client_email     TEXT NOT NULL DEFAULT '',
		max_users        INTEGER NOT NULL DEFAULT 0,
		max_stores       INTEGER NOT NULL DEFAULT 0,
		max_activations  INTEGER NOT NULL DEFAULT 0,
		activation_count INTEGER NOT NULL DEFAULT 0,
		issued_at        INTEGER NOT NULL,
		expires_at       INTEGER,
		last_activated_at INTEGER,
		last_verified_at INTEGER,
		allowed_domains  TEXT NOT NULL DEFAULT '[]',
		binding          TEXT,
		notes            TEXT NOT NULL DEFAULT '',
		created_at       INTEGER NOT NULL,
		updated_at       INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_licenses_status ON licenses(status);

	CREATE TABLE IF NOT EXISTS activations (
		id                  TEXT PRIMARY KEY,
		activation_key      TEXT NOT NULL UNIQUE,
		license_id          TEXT NOT NULL REFERENCES licenses(id),
		domain              TEXT NOT NULL DEFAULT '',
		hardware_id         TEXT NOT NULL DEFAULT '',
		ip_address          TEXT NOT NULL DEFAULT '',
		is_active           INTEGER NOT NULL DEFAULT 1,
		activated_at        INTEGER NOT NULL,
		last_verified_at    INTEGER,
		deactivated_at      INTEGER,
		deactivation_reason TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_activations_license_id ON activations(license_id);

	CREATE TABLE IF NOT EXISTS payments (
		id         TEXT PRIMARY KEY,
		license_id TEXT NOT NULL REFERENCES licenses(id),
		amount     INTEGER NOT NULL,
		currency   TEXT NOT NULL DEFAULT '',
		paid_at    INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_payments_license_id ON payments(license_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init license schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity (used for readiness probes).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const licenseColumns = `
	id, license_key, type, status, client_name, client_email,
	max_users, max_stores, max_activations, activation_count,
	issued_at, expires_at, last_activated_at, last_verified_at,
	allowed_domains, binding, notes`

// CreateLicense inserts a new license record.
func (s *Store) CreateLicense(ctx context.Context, l *license.License) error {
	if l == nil {
		return fmt.Errorf("license is nil")
	}
	now := time.Now().UTC()

	domains, err := json.Marshal(domainsOrEmpty(l.AllowedDomains))
	if err != nil {
		return fmt.Errorf("marshal allowed domains: %w", err)
	}
	binding, err := marshalBinding(l.Binding)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO licenses (
			id, license_key, type, status, client_name, client_email,
			max_users, max_stores, max_activations, activation_count,
			issued_at, expires_at, last_activated_at, last_verified_at,
			allowed_domains, binding, notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.LicenseKey, string(l.Type), string(l.Status), l.ClientName, l.ClientEmail,
		l.MaxUsers, l.MaxStores, l.MaxActivations, l.ActivationCount,
		l.IssuedAt.Unix(), nullableTimeUnix(l.ExpiresAt), nullableTimeUnix(l.LastActivatedAt), nullableTimeUnix(l.LastVerifiedAt),
		string(domains), binding, l.Notes, now.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create license: %w", err)
	}
	return nil
}

// GetLicenseByKey retrieves a license by its key. Returns
// apperrors.ErrLicenseNotFound when no row matches.
func (s *Store) GetLicenseByKey(ctx context.Context, key string) (*license.License, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE license_key = ?`, key)
	return scanLicense(row)
}

// GetLicense retrieves a license by ID.
func (s *Store) GetLicense(ctx context.Context, id string) (*license.License, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE id = ?`, id)
	return scanLicense(row)
}

// KeyExists reports whether a license with the given key is already issued.
func (s *Store) KeyExists(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM licenses WHERE license_key = ?`, key).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check key existence: %w", err)
	}
	return n > 0, nil
}

// UpdateLicenseStatus transitions a license to the given status.
func (s *Store) UpdateLicenseStatus(ctx context.Context, id string, status license.Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE licenses SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("update license status: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return apperrors.ErrLicenseNotFound
	}
	return nil
}

// TouchLastVerified stamps the license's last verification time.
func (s *Store) TouchLastVerified(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE licenses SET last_verified_at = ?, updated_at = ? WHERE id = ?`,
		at.Unix(), time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("touch last verified: %w", err)
	}
	return nil
}

// CreateActivation records an activation and increments the license's
// activation counter in one transaction. The counter increment is
// conditional on the limit, so concurrent activations against the last
// remaining slot cannot both succeed; the loser gets
// apperrors.ErrActivationLimitReached.
func (s *Store) CreateActivation(ctx context.Context, a *license.Activation) error {
	if a == nil {
		return fmt.Errorf("activation is nil")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activation tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE licenses SET
			activation_count = activation_count + 1,
			last_activated_at = ?,
			updated_at = ?
		WHERE id = ?
		  AND (max_activations <= 0 OR activation_count < max_activations)`,
		a.ActivatedAt.Unix(), time.Now().UTC().Unix(), a.LicenseID)
	if err != nil {
		return fmt.Errorf("increment activation count: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM licenses WHERE id = ?`, a.LicenseID).Scan(&n); err != nil {
			return fmt.Errorf("check license existence: %w", err)
		}
		if n == 0 {
			return apperrors.ErrLicenseNotFound
		}
		return apperrors.ErrActivationLimitReached
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO activations (
			id, activation_key, license_id, domain, hardware_id, ip_address,
			is_active, activated_at, last_verified_at, deactivated_at, deactivation_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ActivationKey, a.LicenseID, a.Domain, a.HardwareID, a.IPAddress,
		boolToInt(a.IsActive), a.ActivatedAt.Unix(),
		nullableTimeUnix(a.LastVerifiedAt), nullableTimeUnix(a.DeactivatedAt), a.DeactivationReason,
	)
	if err != nil {
		return fmt.Errorf("create activation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit activation tx: %w", err)
	}
	return nil
}

// DeactivateActivation flips an active activation to inactive with a reason.
// The activation row and the license's cumulative counter are both kept.
func (s *Store) DeactivateActivation(ctx context.Context, activationKey, reason string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE activations SET
			is_active = 0,
			deactivated_at = ?,
			deactivation_reason = ?
		WHERE activation_key = ? AND is_active = 1`,
		at.Unix(), reason, activationKey)
	if err != nil {
		return fmt.Errorf("deactivate activation: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return apperrors.ErrActivationNotFound
	}
	return nil
}

const activationColumns = `
	id, activation_key, license_id, domain, hardware_id, ip_address,
	is_active, activated_at, last_verified_at, deactivated_at, deactivation_reason`

// GetActivationByKey retrieves an activation by its key.
func (s *Store) GetActivationByKey(ctx context.Context, activationKey string) (*license.Activation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+activationColumns+` FROM activations WHERE activation_key = ?`, activationKey)
	return scanActivation(row)
}

// ActivationsByLicense returns all activation rows for a license, newest
// first, deactivated ones included.
func (s *Store) ActivationsByLicense(ctx context.Context, licenseID string) ([]*license.Activation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+activationColumns+` FROM activations
		WHERE license_id = ? ORDER BY activated_at DESC, id DESC`, licenseID)
	if err != nil {
		return nil, fmt.Errorf("list activations: %w", err)
	}
	defer rows.Close()

	var activations []*license.Activation
	for rows.Next() {
		a, err := scanActivation(rows)
		if err != nil {
			return nil, err
		}
		activations = append(activations, a)
	}
	return activations, rows.Err()
}

// CountActiveActivations returns the number of currently active activations
// for a license. Distinct from the license's cumulative counter.
func (s *Store) CountActiveActivations(ctx context.Context, licenseID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM activations
		WHERE license_id = ? AND is_active = 1`, licenseID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active activations: %w", err)
	}
	return n, nil
}

// ListLicenses returns all licenses, newest first.
func (s *Store) ListLicenses(ctx context.Context) ([]*license.License, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses ORDER BY issued_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	defer rows.Close()

	var licenses []*license.License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		licenses = append(licenses, l)
	}
	return licenses, rows.Err()
}

// CountLicensesByStatus returns a status -> count map for the stats endpoint.
func (s *Store) CountLicensesByStatus(ctx context.Context) (map[license.Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM licenses GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count licenses by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[license.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[license.Status(status)] = count
	}
	return counts, rows.Err()
}

// RecordPayment inserts a payment row.
func (s *Store) RecordPayment(ctx context.Context, p *license.Payment) error {
	if p == nil {
		return fmt.Errorf("payment is nil")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (id, license_id, amount, currency, paid_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.LicenseID, p.Amount, p.Currency, p.PaidAt.Unix())
	if err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	return nil
}

// LatestPayment returns the most recent payment time for a license, or nil
// when no payment is on record.
func (s *Store) LatestPayment(ctx context.Context, licenseID string) (*time.Time, error) {
	var paidAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(paid_at) FROM payments WHERE license_id = ?`, licenseID).Scan(&paidAt)
	if err != nil {
		return nil, fmt.Errorf("latest payment: %w", err)
	}
	if !paidAt.Valid {
		return nil, nil
	}
	ts := time.Unix(paidAt.Int64, 0).UTC()
	return &ts, nil
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanLicense(s scanner) (*license.License, error) {
	var l license.License
	var typ, status, domains string
	var binding sql.NullString
	var issuedAt int64
	var expiresAt, lastActivatedAt, lastVerifiedAt sql.NullInt64

	err := s.Scan(
		&l.ID, &l.LicenseKey, &typ, &status, &l.ClientName, &l.ClientEmail,
		&l.MaxUsers, &l.MaxStores, &l.MaxActivations, &l.ActivationCount,
		&issuedAt, &expiresAt, &lastActivatedAt, &lastVerifiedAt,
		&domains, &binding, &l.Notes,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrLicenseNotFound
		}
		return nil, fmt.Errorf("scan license: %w", err)
	}

	l.Type = license.LicenseType(typ)
	l.Status = license.Status(status)
	l.IssuedAt = time.Unix(issuedAt, 0).UTC()
	l.ExpiresAt = nullableTime(expiresAt)
	l.LastActivatedAt = nullableTime(lastActivatedAt)
	l.LastVerifiedAt = nullableTime(lastVerifiedAt)

	if err := json.Unmarshal([]byte(domains), &l.AllowedDomains); err != nil {
		return nil, fmt.Errorf("unmarshal allowed domains: %w", err)
	}
	if binding.Valid && binding.String != "" {
		var b license.HardwareBinding
		if err := json.Unmarshal([]byte(binding.String), &b); err != nil {
			return nil, fmt.Errorf("unmarshal hardware binding: %w", err)
		}
		l.Binding = &b
	}
	return &l, nil
}

func scanActivation(s scanner) (*license.Activation, error) {
	var a license.Activation
	var isActive int
	var activatedAt int64
	var lastVerifiedAt, deactivatedAt sql.NullInt64

	err := s.Scan(
		&a.ID, &a.ActivationKey, &a.LicenseID, &a.Domain, &a.HardwareID, &a.IPAddress,
		&isActive, &activatedAt, &lastVerifiedAt, &deactivatedAt, &a.DeactivationReason,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrActivationNotFound
		}
		return nil, fmt.Errorf("scan activation: %w", err)
	}

	a.IsActive = isActive != 0
	a.ActivatedAt = time.Unix(activatedAt, 0).UTC()
	a.LastVerifiedAt = nullableTime(lastVerifiedAt)
	a.DeactivatedAt = nullableTime(deactivatedAt)
	return &a, nil
}

func marshalBinding(b *license.HardwareBinding) (any, error) {
	if b == nil {
		return nil, nil
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal hardware binding: %w", err)
	}
	return string(raw), nil
}

func domainsOrEmpty(domains []string) []string {
	if domains == nil {
		return []string{}
	}
	return domains
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTimeUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func nullableTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	ts := time.Unix(v.Int64, 0).UTC()
	return &ts
}
