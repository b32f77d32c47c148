package store

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/filedepot/filedepot/internal/depot"
)

const userColumns = `id, username, email, password_hash, verified, verification_code,
	failed_logins, locked_until, disabled, created_at, updated_at`

func (s *Store) scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	var verified, disabled int
	var locked sqlNullTime
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &verified, &u.VerificationCode,
		&u.FailedLogins, &locked, &disabled, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return User{}, notFoundIfNoRows(err)
	}
	u.Verified = verified == 1
	u.Disabled = disabled == 1
	if locked.Valid {
		t := locked.Time
		u.LockedUntil = &t
	}
	return u, nil
}

func (s *Store) CreateUser(username, email, passwordHash, verificationCode string) (int64, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	email = strings.TrimSpace(strings.ToLower(email))
	res, err := s.db.Exec(`INSERT INTO users(username, email, password_hash, verification_code)
		VALUES (?, ?, ?, ?)`, username, email, passwordHash, verificationCode)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("create user %s: %w", username, depot.ErrConflict)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("user id: %w", err)
	}
	return id, nil
}

func (s *Store) GetUserByID(id int64) (User, error) {
	return s.scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (s *Store) GetUserByUsername(username string) (User, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	return s.scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

func (s *Store) GetUserByEmail(email string) (User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	return s.scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

// GetUserByRef resolves a tagged user reference. The username/email split
// happened once at the boundary; the store just dispatches on it.
func (s *Store) GetUserByRef(ref depot.UserRef) (User, error) {
	if ref.Kind == depot.ByEmail {
		return s.GetUserByEmail(ref.Value)
	}
	return s.GetUserByUsername(ref.Value)
}

func (s *Store) ListUsers() ([]User, error) {
	rows, err := s.db.Query(`SELECT ` + userColumns + ` FROM users ORDER BY username ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]User, 0)
	for rows.Next() {
		u, err := s.scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) MarkUserVerified(id int64) error {
	res, err := s.db.Exec(`UPDATE users SET verified = 1, verification_code = '', updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return depot.ErrNotFound
	}
	return nil
}

func (s *Store) SetUserPassword(id int64, passwordHash string) error {
	res, err := s.db.Exec(`UPDATE users SET password_hash = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		passwordHash, id)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return depot.ErrNotFound
	}
	return nil
}

func (s *Store) SetUserDisabled(id int64, disabled bool) error {
	res, err := s.db.Exec(`UPDATE users SET disabled = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		boolToInt(disabled), id)
	if err != nil {
		return fmt.Errorf("set disabled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return depot.ErrNotFound
	}
	return nil
}

// RegisterFailedLogin bumps the failure counter and applies an exponential
// lockout starting at the fifth consecutive failure.
func (s *Store) RegisterFailedLogin(id int64) (time.Duration, error) {
	u, err := s.GetUserByID(id)
	if err != nil {
		return 0, err
	}
	failed := u.FailedLogins + 1
	var lockDuration time.Duration
	if failed >= 5 {
		power := math.Min(float64(failed-5), 5)
		lockDuration = time.Duration(math.Pow(2, power)) * time.Minute
	}
	var lockedUntil any
	if lockDuration > 0 {
		lockedUntil = time.Now().Add(lockDuration)
	}
	_, err = s.db.Exec(`UPDATE users SET failed_logins = ?, locked_until = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, failed, lockedUntil, id)
	if err != nil {
		return 0, fmt.Errorf("register failed login: %w", err)
	}
	return lockDuration, nil
}

func (s *Store) ResetLoginFailures(id int64) error {
	_, err := s.db.Exec(`UPDATE users SET failed_logins = 0, locked_until = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("reset login failures: %w", err)
	}
	return nil
}
