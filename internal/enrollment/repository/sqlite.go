// Package repository persists enrollments in the shared sqlite store.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"push-authenticator/sdk/internal/api"
	"push-authenticator/sdk/internal/db"
	"push-authenticator/sdk/internal/enrollment/domain"
)

// Cipher encrypts sensitive text columns at rest. Decrypt failures degrade
// to a missing value on read rather than failing the row.
type Cipher interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(encoded string) ([]byte, error)
}

// SQLiteRepository implements Repository over the embedded sqlite store.
type SQLiteRepository struct {
	db     *sql.DB
	cipher Cipher
	nowFn  func() time.Time
}

// NewSQLiteRepository returns an enrollment repository over d. cipher may be
// nil, in which case usernames are stored in the clear (tests only).
func NewSQLiteRepository(d *sql.DB, cipher Cipher) *SQLiteRepository {
	return &SQLiteRepository{db: d, cipher: cipher, nowFn: time.Now}
}

const enrollmentColumns = "enrollment_id, org_id, org_url, user_id, username, device_id, server_error_code, created_at, updated_at"

// Get returns the enrollment for (orgID, enrollmentID), or nil if not found.
// It returns an error only for storage failures, not for missing rows.
func (r *SQLiteRepository) Get(ctx context.Context, orgID, enrollmentID string) (*domain.Enrollment, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+enrollmentColumns+" FROM enrollment WHERE org_id = ? AND enrollment_id = ?",
		orgID, enrollmentID)
	return r.scanOne(ctx, row)
}

// GetByUser returns the org's enrollment for userID, or nil if not found.
func (r *SQLiteRepository) GetByUser(ctx context.Context, orgID, userID string) (*domain.Enrollment, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+enrollmentColumns+" FROM enrollment WHERE org_id = ? AND user_id = ?",
		orgID, userID)
	return r.scanOne(ctx, row)
}

// GetByEnrollmentID returns the enrollment regardless of org, or nil if not
// found.
func (r *SQLiteRepository) GetByEnrollmentID(ctx context.Context, enrollmentID string) (*domain.Enrollment, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+enrollmentColumns+" FROM enrollment WHERE enrollment_id = ?",
		enrollmentID)
	return r.scanOne(ctx, row)
}

// ListAll returns every stored enrollment with its factors.
func (r *SQLiteRepository) ListAll(ctx context.Context) ([]*domain.Enrollment, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+enrollmentColumns+" FROM enrollment ORDER BY created_at")
	if err != nil {
		return nil, db.WrapErr("list enrollments", err)
	}
	defer rows.Close()

	var out []*domain.Enrollment
	for rows.Next() {
		e, err := r.scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, db.WrapErr("list enrollments", err)
	}
	for _, e := range out {
		if err := r.loadFactors(ctx, e); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) scanOne(ctx context.Context, row *sql.Row) (*domain.Enrollment, error) {
	e, err := r.scanEnrollment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := r.loadFactors(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (r *SQLiteRepository) scanEnrollment(row rowScanner) (*domain.Enrollment, error) {
	var (
		e         domain.Enrollment
		username  sql.NullString
		errCode   sql.NullString
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&e.EnrollmentID, &e.OrgID, &e.OrgURL, &e.UserID, &username, &e.DeviceID, &errCode, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, db.WrapErr("scan enrollment", err)
	}
	e.Username = r.decryptUsername(e.EnrollmentID, username)
	if errCode.Valid && errCode.String != "" {
		code := api.ParseServerErrorCode(errCode.String)
		e.LastServerError = &code
	}
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return &e, nil
}

// decryptUsername degrades to empty on any decryption failure: a corrupted
// username must never prevent loading an otherwise-valid enrollment.
func (r *SQLiteRepository) decryptUsername(enrollmentID string, username sql.NullString) string {
	if !username.Valid || username.String == "" {
		return ""
	}
	if r.cipher == nil {
		return username.String
	}
	plain, err := r.cipher.Decrypt(username.String)
	if err != nil {
		log.Printf("enrollment %s: username decryption failed, dropping field: %v", enrollmentID, err)
		return ""
	}
	return string(plain)
}

func (r *SQLiteRepository) loadFactors(ctx context.Context, e *domain.Enrollment) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, type, proof_of_possession_key_tag, user_verification_key_tag, links, transaction_types, created_at, updated_at
		 FROM enrolled_method WHERE org_id = ? AND enrollment_id = ? ORDER BY created_at`,
		e.OrgID, e.EnrollmentID)
	if err != nil {
		return db.WrapErr("load factors", err)
	}
	defer rows.Close()

	e.Factors = nil
	for rows.Next() {
		var (
			f         domain.Factor
			typ       string
			popTag    string
			uvTag     sql.NullString
			links     sql.NullString
			txTypes   int
			createdAt string
			updatedAt string
		)
		if err := rows.Scan(&f.ID, &typ, &popTag, &uvTag, &links, &txTypes, &createdAt, &updatedAt); err != nil {
			return db.WrapErr("scan factor", err)
		}
		f.Type = domain.MethodType(typ)
		f.TransactionTypes = domain.TransactionTypes(txTypes)
		f.CreatedAt = parseTime(createdAt)
		f.UpdatedAt = parseTime(updatedAt)
		if f.Type == domain.MethodTypePush {
			f.Push = &domain.PushFactor{
				ProofOfPossessionKeyTag: popTag,
				UserVerificationKeyTag:  uvTag.String,
				Links:                   links.String,
			}
		}
		e.Factors = append(e.Factors, f)
	}
	return db.WrapErr("load factors", rows.Err())
}

// Save upserts the enrollment keyed by (enrollment_id, org_id). When the org
// already holds a different enrollment for the same user (re-enrollment), the
// superseded enrollment and its factor rows are deleted first: the new upsert
// replaces rather than unions.
func (r *SQLiteRepository) Save(ctx context.Context, e *domain.Enrollment) error {
	if len(e.Factors) == 0 {
		return errors.New("enrollment with zero factors must not be persisted")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return db.WrapErr("begin save", err)
	}
	defer tx.Rollback()

	var superseded string
	err = tx.QueryRowContext(ctx,
		"SELECT enrollment_id FROM enrollment WHERE org_id = ? AND user_id = ? AND enrollment_id != ?",
		e.OrgID, e.UserID, e.EnrollmentID).Scan(&superseded)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx, "DELETE FROM enrolled_method WHERE org_id = ? AND enrollment_id = ?", e.OrgID, superseded); err != nil {
			return db.WrapErr("delete superseded factors", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM enrollment WHERE org_id = ? AND enrollment_id = ?", e.OrgID, superseded); err != nil {
			return db.WrapErr("delete superseded enrollment", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		// first enrollment for this user
	default:
		return db.WrapErr("find superseded enrollment", err)
	}

	username, err := r.encryptUsername(e.Username)
	if err != nil {
		return err
	}
	var errCode any
	if e.LastServerError != nil && !e.LastServerError.IsZero() {
		errCode = e.LastServerError.Raw()
	}
	now := r.nowFn().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	_, err = tx.ExecContext(ctx,
		`INSERT INTO enrollment (`+enrollmentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (enrollment_id, org_id) DO UPDATE SET
		   org_url = excluded.org_url, user_id = excluded.user_id,
		   username = excluded.username, device_id = excluded.device_id,
		   server_error_code = excluded.server_error_code, updated_at = excluded.updated_at`,
		e.EnrollmentID, e.OrgID, e.OrgURL, e.UserID, username, e.DeviceID, errCode,
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt))
	if err != nil {
		return db.WrapErr("upsert enrollment", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM enrolled_method WHERE org_id = ? AND enrollment_id = ?", e.OrgID, e.EnrollmentID); err != nil {
		return db.WrapErr("clear factors", err)
	}
	for i := range e.Factors {
		f := &e.Factors[i]
		if f.CreatedAt.IsZero() {
			f.CreatedAt = now
		}
		f.UpdatedAt = now
		var popTag, uvTag, links any
		if f.Push != nil {
			popTag = f.Push.ProofOfPossessionKeyTag
			if f.Push.UserVerificationKeyTag != "" {
				uvTag = f.Push.UserVerificationKeyTag
			}
			if f.Push.Links != "" {
				links = f.Push.Links
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO enrolled_method (id, enrollment_id, org_id, type, proof_of_possession_key_tag, user_verification_key_tag, links, transaction_types, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, e.EnrollmentID, e.OrgID, string(f.Type), popTag, uvTag, links,
			int(f.TransactionTypes), formatTime(f.CreatedAt), formatTime(f.UpdatedAt))
		if err != nil {
			return db.WrapErr("insert factor", err)
		}
	}

	return db.WrapErr("commit save", tx.Commit())
}

func (r *SQLiteRepository) encryptUsername(username string) (any, error) {
	if username == "" {
		return nil, nil
	}
	if r.cipher == nil {
		return username, nil
	}
	sealed, err := r.cipher.Encrypt([]byte(username))
	if err != nil {
		return nil, db.WrapErr("encrypt username", err)
	}
	return sealed, nil
}

// UpdateServerError records (nil clears) the last server error code.
func (r *SQLiteRepository) UpdateServerError(ctx context.Context, orgID, enrollmentID string, code *api.ServerErrorCode) error {
	var raw any
	if code != nil && !code.IsZero() {
		raw = code.Raw()
	}
	_, err := r.db.ExecContext(ctx,
		"UPDATE enrollment SET server_error_code = ?, updated_at = ? WHERE org_id = ? AND enrollment_id = ?",
		raw, formatTime(r.nowFn().UTC()), orgID, enrollmentID)
	return db.WrapErr("update server error", err)
}

// Delete removes the enrollment and its factor rows. When this was the org's
// last enrollment, the org's authenticator policy and device enrollment rows
// are deleted in the same transaction: org-level state has no purpose without
// at least one enrollment.
func (r *SQLiteRepository) Delete(ctx context.Context, orgID, enrollmentID string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, db.WrapErr("begin delete", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM enrolled_method WHERE org_id = ? AND enrollment_id = ?", orgID, enrollmentID); err != nil {
		return false, db.WrapErr("delete factors", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM enrollment WHERE org_id = ? AND enrollment_id = ?", orgID, enrollmentID); err != nil {
		return false, db.WrapErr("delete enrollment", err)
	}

	var remaining int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM enrollment WHERE org_id = ?", orgID).Scan(&remaining); err != nil {
		return false, db.WrapErr("count remaining", err)
	}
	lastInOrg := remaining == 0
	if lastInOrg {
		if _, err := tx.ExecContext(ctx, "DELETE FROM authenticator_policy WHERE org_id = ?", orgID); err != nil {
			return false, db.WrapErr("cascade policy", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM device_enrollment WHERE org_id = ?", orgID); err != nil {
			return false, db.WrapErr("cascade device", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, db.WrapErr("commit delete", err)
	}
	return lastInOrg, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
