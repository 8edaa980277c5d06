package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"visita/api/internal/profile"
	"visita/api/internal/workflow"
)

// ErrVersionConflict is returned when a compare-and-set write loses the race
// against a concurrent writer. Callers reload and retry.
var ErrVersionConflict = errors.New("profile version conflict")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- staff users ----

const staffColumns = `id, display_name, email, password_hash, role, parish, is_email_verified, verification_token, verification_expires_at, created_at, updated_at`

func scanStaff(row *sql.Row) (StaffUser, error) {
	var u StaffUser
	var token sql.NullString
	var tokenExp sql.NullTime
	err := row.Scan(&u.ID, &u.DisplayName, &u.Email, &u.PasswordHash, &u.Role, &u.Parish,
		&u.IsEmailVerified, &token, &tokenExp, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return StaffUser{}, err
	}
	u.VerificationToken = token.String
	if tokenExp.Valid {
		u.VerificationExpiresAt = &tokenExp.Time
	}
	return u, nil
}

func (s *PostgresStore) CreateStaffUser(ctx context.Context, user StaffUser) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO staff_users (id, display_name, email, password_hash, role, parish, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.Parish, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert staff user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetStaffByEmail(ctx context.Context, email string) (StaffUser, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+staffColumns+` FROM staff_users WHERE email=$1 AND deactivated_at IS NULL`, email)
	return scanStaff(row)
}

func (s *PostgresStore) GetStaffByID(ctx context.Context, id string) (StaffUser, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+staffColumns+` FROM staff_users WHERE id=$1 AND deactivated_at IS NULL`, id)
	return scanStaff(row)
}

// ListStaffEmailsByRole returns verified addresses for one role, used to
// fan out review notifications.
func (s *PostgresStore) ListStaffEmailsByRole(ctx context.Context, role string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT email FROM staff_users
		WHERE role=$1 AND is_email_verified AND deactivated_at IS NULL
		ORDER BY email
	`, role)
	if err != nil {
		return nil, fmt.Errorf("list staff emails: %w", err)
	}
	defer rows.Close()

	emails := make([]string, 0)
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan staff email: %w", err)
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

func (s *PostgresStore) UpdateVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE staff_users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyStaffEmail(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE staff_users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify staff email: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New("invalid or expired verification token")
	}
	return nil
}

func (s *PostgresStore) UpdateStaffPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE staff_users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update staff password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ---- refresh sessions (Postgres fallback when Redis is not configured) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, user StaffUser, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (StaffUser, error) {
	const query = `
		SELECT u.id, u.display_name, u.role, u.parish
		FROM refresh_sessions rs
		JOIN staff_users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
			AND u.deactivated_at IS NULL
	`
	var user StaffUser
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Role, &user.Parish)
	if err != nil {
		return StaffUser{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- church profiles ----

const churchColumns = `id, name, diocese, town, province, patron, description, founding_year,
	classification, is_heritage, images, latitude, longitude, data_consent, photo_consent,
	status, pending_changes, version, created_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChurch(row rowScanner) (*profile.Profile, error) {
	var p profile.Profile
	var images []byte
	var pending []byte
	var lat, lng sql.NullFloat64
	err := row.Scan(&p.ID, &p.Name, &p.Diocese, &p.Town, &p.Province, &p.Patron, &p.Description,
		&p.FoundingYear, &p.Classification, &p.Heritage, &images, &lat, &lng,
		&p.DataConsent, &p.PhotoConsent, &p.Status, &pending, &p.Version,
		&p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(images, &p.Images); err != nil {
		p.Images = []string{}
	}
	if lat.Valid {
		p.Latitude = &lat.Float64
	}
	if lng.Valid {
		p.Longitude = &lng.Float64
	}
	if len(pending) > 0 {
		var pc profile.PendingChange
		if err := json.Unmarshal(pending, &pc); err == nil && len(pc.ChangedFields) > 0 {
			p.Pending = &pc
		}
	}
	return &p, nil
}

func churchArgs(p *profile.Profile) ([]any, error) {
	images, err := json.Marshal(p.Images)
	if err != nil {
		return nil, fmt.Errorf("marshal images: %w", err)
	}
	var pending any
	if p.Pending != nil {
		raw, err := json.Marshal(p.Pending)
		if err != nil {
			return nil, fmt.Errorf("marshal pending changes: %w", err)
		}
		pending = raw
	}
	var lat, lng any
	if p.Latitude != nil {
		lat = *p.Latitude
	}
	if p.Longitude != nil {
		lng = *p.Longitude
	}
	return []any{
		p.Name, p.Diocese, p.Town, p.Province, p.Patron, p.Description, p.FoundingYear,
		string(p.Classification), p.Heritage, images, lat, lng,
		p.DataConsent, p.PhotoConsent, string(p.Status), pending, p.CreatedBy,
	}, nil
}

func (s *PostgresStore) CreateProfile(ctx context.Context, p *profile.Profile) error {
	args, err := churchArgs(p)
	if err != nil {
		return err
	}
	args = append([]any{p.ID}, args...)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO churches (id, name, diocese, town, province, patron, description, founding_year,
			classification, is_heritage, images, latitude, longitude, data_consent, photo_consent,
			status, pending_changes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, args...)
	if err != nil {
		return fmt.Errorf("insert church: %w", err)
	}
	p.Version = 1
	return nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, id string) (*profile.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+churchColumns+` FROM churches WHERE id=$1`, id)
	return scanChurch(row)
}

// UpdateProfileCAS writes the profile only if the stored version still
// matches expectedVersion, bumping the version in the same statement. A lost
// race surfaces as ErrVersionConflict; a missing row as sql.ErrNoRows.
func (s *PostgresStore) UpdateProfileCAS(ctx context.Context, p *profile.Profile, expectedVersion int64) error {
	args, err := churchArgs(p)
	if err != nil {
		return err
	}
	args = append([]any{p.ID, expectedVersion}, args...)
	res, err := s.db.ExecContext(ctx, `
		UPDATE churches SET
			name=$3, diocese=$4, town=$5, province=$6, patron=$7, description=$8, founding_year=$9,
			classification=$10, is_heritage=$11, images=$12, latitude=$13, longitude=$14,
			data_consent=$15, photo_consent=$16, status=$17, pending_changes=$18, created_by=$19,
			version=version+1, updated_at=NOW()
		WHERE id=$1 AND version=$2
	`, args...)
	if err != nil {
		return fmt.Errorf("update church: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update church rows: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM churches WHERE id=$1)`, p.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check church exists: %w", err)
		}
		if !exists {
			return sql.ErrNoRows
		}
		return ErrVersionConflict
	}
	p.Version = expectedVersion + 1
	return nil
}

func (s *PostgresStore) queryProfiles(ctx context.Context, query string, args ...any) ([]*profile.Profile, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query churches: %w", err)
	}
	defer rows.Close()

	items := make([]*profile.Profile, 0)
	for rows.Next() {
		p, err := scanChurch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan church: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate churches: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListProfiles(ctx context.Context) ([]*profile.Profile, error) {
	return s.queryProfiles(ctx, `SELECT `+churchColumns+` FROM churches ORDER BY updated_at DESC`)
}

func (s *PostgresStore) ListProfilesByParish(ctx context.Context, createdBy string) ([]*profile.Profile, error) {
	return s.queryProfiles(ctx, `SELECT `+churchColumns+` FROM churches WHERE created_by=$1 ORDER BY updated_at DESC`, createdBy)
}

// ListReviewQueue returns what the chancery sees: submitted profiles plus
// published profiles carrying an overlay that was not forwarded to the
// museum. Forwarded overlays are excluded at the query level so the chancery
// cannot double-process an item already routed away.
func (s *PostgresStore) ListReviewQueue(ctx context.Context) ([]*profile.Profile, error) {
	return s.queryProfiles(ctx, `
		SELECT `+churchColumns+` FROM churches
		WHERE status = 'pending'
			OR (status = 'approved'
				AND pending_changes IS NOT NULL
				AND COALESCE((pending_changes->>'forwardedToMuseum')::boolean, FALSE) = FALSE)
		ORDER BY updated_at ASC
	`)
}

// ListMuseumQueue returns what the museum researcher sees: profiles in
// heritage review plus published profiles whose overlay was forwarded.
func (s *PostgresStore) ListMuseumQueue(ctx context.Context) ([]*profile.Profile, error) {
	return s.queryProfiles(ctx, `
		SELECT `+churchColumns+` FROM churches
		WHERE status = 'heritage_review'
			OR (status = 'approved'
				AND pending_changes IS NOT NULL
				AND COALESCE((pending_changes->>'forwardedToMuseum')::boolean, FALSE) = TRUE)
		ORDER BY updated_at ASC
	`)
}

func (s *PostgresStore) ListPublished(ctx context.Context) ([]*profile.Profile, error) {
	return s.queryProfiles(ctx, `SELECT `+churchColumns+` FROM churches WHERE status='approved' ORDER BY name ASC`)
}

// ---- review history ----

// AppendReviewEvent writes one audit record. The table is append-only,
// enforced by a trigger; updates and deletes fail at the database.
func (s *PostgresStore) AppendReviewEvent(ctx context.Context, e workflow.ReviewEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO review_events (profile_id, entry_type, from_status, to_status, actor, actor_name, actor_role, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ProfileID, e.EntryType, string(e.FromStatus), string(e.ToStatus), e.Actor, e.ActorName, string(e.ActorRole), e.Notes, e.Timestamp)
	if err != nil {
		return fmt.Errorf("append review event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListReviewEvents(ctx context.Context, profileID string) ([]workflow.ReviewEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile_id, entry_type, from_status, to_status, actor, actor_name, actor_role, notes, created_at
		FROM review_events
		WHERE profile_id=$1
		ORDER BY id ASC
	`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list review events: %w", err)
	}
	defer rows.Close()

	items := make([]workflow.ReviewEntry, 0)
	for rows.Next() {
		var e workflow.ReviewEntry
		var id int64
		if err := rows.Scan(&id, &e.ProfileID, &e.EntryType, &e.FromStatus, &e.ToStatus, &e.Actor, &e.ActorName, &e.ActorRole, &e.Notes, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan review event: %w", err)
		}
		e.ID = fmt.Sprintf("%d", id)
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review events: %w", err)
	}
	return items, nil
}
