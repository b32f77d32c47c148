package store

import (
	"fmt"
	"time"
)

type User struct {
	ID               int64      `json:"id"`
	Username         string     `json:"username"`
	Email            string     `json:"email"`
	PasswordHash     string     `json:"-"`
	Verified         bool       `json:"verified"`
	VerificationCode string     `json:"-"`
	FailedLogins     int        `json:"-"`
	LockedUntil      *time.Time `json:"-"`
	Disabled         bool       `json:"disabled"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type File struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	FolderName  string    `json:"folder_name"`
	Filename    string    `json:"filename"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentHash string    `json:"content_hash"`
	Encrypted   bool      `json:"encrypted"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Path is the owner-prefixed slash path of the file, e.g. "alice/docs/a.txt".
func (f File) Path() string {
	return f.FolderName + "/" + f.Filename
}

type Favorite struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	FileID    int64     `json:"file_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Group struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedBy   int64     `json:"created_by"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

type GroupMember struct {
	ID      int64     `json:"id"`
	GroupID int64     `json:"group_id"`
	UserID  int64     `json:"user_id"`
	IsAdmin bool      `json:"is_admin"`
	AddedBy int64     `json:"added_by"`
	AddedAt time.Time `json:"added_at"`
	// Username is populated by listing queries that join users.
	Username string `json:"username,omitempty"`
}

type SharedFile struct {
	ID               int64     `json:"id"`
	FileID           int64     `json:"file_id"`
	SharedWithUserID int64     `json:"shared_with_user_id"`
	SharedByUserID   int64     `json:"shared_by_user_id"`
	// CopiedFilename is the name of the materialized copy in the target's
	// shared/ folder; it differs from the source filename after a
	// collision-suffix rename.
	CopiedFilename string    `json:"copied_filename"`
	CreatedAt      time.Time `json:"created_at"`
}

type SharedFolder struct {
	ID               int64     `json:"id"`
	FolderPath       string    `json:"folder_path"`
	SharedWithUserID int64     `json:"shared_with_user_id"`
	SharedByUserID   int64     `json:"shared_by_user_id"`
	CopiedPath       string    `json:"copied_path"`
	CreatedAt        time.Time `json:"created_at"`
}

type GroupSharedFile struct {
	ID             int64     `json:"id"`
	FileID         int64     `json:"file_id"`
	GroupID        int64     `json:"group_id"`
	SharedByUserID int64     `json:"shared_by_user_id"`
	CreatedAt      time.Time `json:"created_at"`
}

type GroupSharedFolder struct {
	ID             int64     `json:"id"`
	FolderPath     string    `json:"folder_path"`
	GroupID        int64     `json:"group_id"`
	SharedByUserID int64     `json:"shared_by_user_id"`
	CreatedAt      time.Time `json:"created_at"`
}

type EphemeralToken struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Purpose   string    `json:"purpose"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

type QuickShare struct {
	Token        string     `json:"token"`
	UserID       int64      `json:"user_id"`
	FilePath     string     `json:"file_path"`
	ExpiresAt    time.Time  `json:"expires_at"`
	CreatedAt    time.Time  `json:"created_at"`
	LastAccessed *time.Time `json:"last_accessed"`
}

type FileScan struct {
	ID        int64     `json:"id"`
	FileID    int64     `json:"file_id"`
	UserID    int64     `json:"user_id"`
	Status    string    `json:"status"`
	ScannedAt time.Time `json:"scanned_at"`
}

type AuditLog struct {
	ID          int64     `json:"id"`
	ActorUserID *int64    `json:"actor_user_id"`
	Action      string    `json:"action"`
	Target      string    `json:"target"`
	Metadata    string    `json:"metadata"`
	CreatedAt   time.Time `json:"created_at"`
}

// IncomingShareView is one row of a user's "shared with me" listing.
type IncomingShareView struct {
	Kind       string    `json:"kind"`
	Filename   string    `json:"filename,omitempty"`
	FolderName string    `json:"folder_name,omitempty"`
	FolderPath string    `json:"folder_path,omitempty"`
	SharedBy   string    `json:"shared_by"`
	GroupName  string    `json:"group_name,omitempty"`
	SharedAt   time.Time `json:"shared_at"`
}

// OutgoingShareView is one row of a user's "shared by me" listing.
type OutgoingShareView struct {
	Kind       string    `json:"kind"`
	Filename   string    `json:"filename,omitempty"`
	FolderName string    `json:"folder_name,omitempty"`
	FolderPath string    `json:"folder_path,omitempty"`
	SharedWith string    `json:"shared_with"`
	SharedAt   time.Time `json:"shared_at"`
}

type sqlNullTime struct {
	Time  time.Time
	Valid bool
}

func (nt *sqlNullTime) Scan(value any) error {
	if value == nil {
		nt.Time, nt.Valid = time.Time{}, false
		return nil
	}
	switch v := value.(type) {
	case time.Time:
		nt.Time, nt.Valid = v, true
		return nil
	case string:
		if v == "" {
			nt.Time, nt.Valid = time.Time{}, false
			return nil
		}
		t, err := time.Parse("2006-01-02 15:04:05", v)
		if err != nil {
			t, err = time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return err
			}
		}
		nt.Time, nt.Valid = t, true
		return nil
	case []byte:
		return nt.Scan(string(v))
	default:
		return fmt.Errorf("unsupported Scan value for sqlNullTime: %T", value)
	}
}
